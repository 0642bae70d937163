// Package scval builds and decodes Soroban contract values. Encoding covers
// the handful of argument shapes the contracts accept; decoding lowers any
// returned ScVal into plain Go values with tolerant, defaulting access to
// record fields.
package scval

import (
	"fmt"
	"math/big"

	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"
)

// ScAddressFromString parses a G... account or C... contract address into an
// ScAddress.
func ScAddressFromString(addr string) (xdr.ScAddress, error) {
	if strkey.IsValidEd25519PublicKey(addr) {
		accID := xdr.MustAddress(addr)
		return xdr.ScAddress{
			Type:      xdr.ScAddressTypeScAddressTypeAccount,
			AccountId: &accID,
		}, nil
	}

	raw, err := strkey.Decode(strkey.VersionByteContract, addr)
	if err != nil {
		return xdr.ScAddress{}, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	var contractID xdr.Hash
	copy(contractID[:], raw)
	return xdr.ScAddress{
		Type:       xdr.ScAddressTypeScAddressTypeContract,
		ContractId: &contractID,
	}, nil
}

// Address encodes an account or contract address argument.
func Address(addr string) (xdr.ScVal, error) {
	sa, err := ScAddressFromString(addr)
	if err != nil {
		return xdr.ScVal{}, err
	}
	return xdr.ScVal{Type: xdr.ScValTypeScvAddress, Address: &sa}, nil
}

// I128 encodes a signed 128-bit integer argument.
func I128(v *big.Int) (xdr.ScVal, error) {
	if v == nil {
		v = new(big.Int)
	}
	if v.BitLen() > 127 {
		return xdr.ScVal{}, fmt.Errorf("value %s does not fit in i128", v)
	}
	lo := new(big.Int).And(v, new(big.Int).SetUint64(^uint64(0)))
	hi := new(big.Int).Rsh(v, 64)
	parts := xdr.Int128Parts{
		Hi: xdr.Int64(hi.Int64()),
		Lo: xdr.Uint64(lo.Uint64()),
	}
	return xdr.ScVal{Type: xdr.ScValTypeScvI128, I128: &parts}, nil
}

// I128FromInt64 encodes an int64 as an i128 argument.
func I128FromInt64(v int64) xdr.ScVal {
	sv, _ := I128(big.NewInt(v))
	return sv
}

// U32 encodes an unsigned 32-bit integer argument.
func U32(v uint32) xdr.ScVal {
	u := xdr.Uint32(v)
	return xdr.ScVal{Type: xdr.ScValTypeScvU32, U32: &u}
}

// Symbol encodes a symbol argument.
func Symbol(s string) xdr.ScVal {
	sym := xdr.ScSymbol(s)
	return xdr.ScVal{Type: xdr.ScValTypeScvSymbol, Sym: &sym}
}

// String encodes a string argument.
func String(s string) xdr.ScVal {
	str := xdr.ScString(s)
	return xdr.ScVal{Type: xdr.ScValTypeScvString, Str: &str}
}

// Bool encodes a boolean argument.
func Bool(b bool) xdr.ScVal {
	return xdr.ScVal{Type: xdr.ScValTypeScvBool, B: &b}
}

// Bytes encodes an opaque byte argument.
func Bytes(b []byte) xdr.ScVal {
	sb := xdr.ScBytes(b)
	return xdr.ScVal{Type: xdr.ScValTypeScvBytes, Bytes: &sb}
}

// ToNative lowers an ScVal into a plain Go value: numbers become int64,
// uint32 or *big.Int, addresses become strkey strings, maps become
// map[string]any keyed by symbol, vectors become []any.
func ToNative(v xdr.ScVal) (any, error) {
	switch v.Type {
	case xdr.ScValTypeScvVoid:
		return nil, nil
	case xdr.ScValTypeScvBool:
		if v.B == nil {
			return false, nil
		}
		return *v.B, nil
	case xdr.ScValTypeScvU32:
		return uint32(*v.U32), nil
	case xdr.ScValTypeScvI32:
		return int32(*v.I32), nil
	case xdr.ScValTypeScvU64:
		return uint64(*v.U64), nil
	case xdr.ScValTypeScvI64:
		return int64(*v.I64), nil
	case xdr.ScValTypeScvTimepoint:
		return int64(*v.Timepoint), nil
	case xdr.ScValTypeScvDuration:
		return int64(*v.Duration), nil
	case xdr.ScValTypeScvU128:
		hi := new(big.Int).SetUint64(uint64(v.U128.Hi))
		hi.Lsh(hi, 64)
		return hi.Add(hi, new(big.Int).SetUint64(uint64(v.U128.Lo))), nil
	case xdr.ScValTypeScvI128:
		hi := big.NewInt(int64(v.I128.Hi))
		hi.Lsh(hi, 64)
		return hi.Add(hi, new(big.Int).SetUint64(uint64(v.I128.Lo))), nil
	case xdr.ScValTypeScvBytes:
		if v.Bytes == nil {
			return []byte(nil), nil
		}
		return []byte(*v.Bytes), nil
	case xdr.ScValTypeScvString:
		return string(*v.Str), nil
	case xdr.ScValTypeScvSymbol:
		return string(*v.Sym), nil
	case xdr.ScValTypeScvAddress:
		return addressToString(*v.Address)
	case xdr.ScValTypeScvVec:
		if v.Vec == nil || *v.Vec == nil {
			return []any(nil), nil
		}
		out := make([]any, 0, len(**v.Vec))
		for _, item := range **v.Vec {
			native, err := ToNative(item)
			if err != nil {
				return nil, err
			}
			out = append(out, native)
		}
		return out, nil
	case xdr.ScValTypeScvMap:
		if v.Map == nil || *v.Map == nil {
			return Record(nil), nil
		}
		out := make(Record, len(**v.Map))
		for _, entry := range **v.Map {
			key, err := ToNative(entry.Key)
			if err != nil {
				return nil, err
			}
			val, err := ToNative(entry.Val)
			if err != nil {
				return nil, err
			}
			ks, ok := key.(string)
			if !ok {
				ks = fmt.Sprint(key)
			}
			out[ks] = val
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported ScVal type %v", v.Type)
	}
}

func addressToString(sa xdr.ScAddress) (string, error) {
	switch sa.Type {
	case xdr.ScAddressTypeScAddressTypeAccount:
		return sa.AccountId.Address(), nil
	case xdr.ScAddressTypeScAddressTypeContract:
		return strkey.Encode(strkey.VersionByteContract, sa.ContractId[:])
	default:
		return "", fmt.Errorf("unsupported ScAddress type %v", sa.Type)
	}
}
