package scval

import "math/big"

// Record is a decoded contract struct: a map keyed by field symbol. Contract
// return values are loosely shaped, so every accessor tolerates a missing or
// mistyped field and falls back to the zero value for that field.
type Record map[string]any

// AsRecord narrows a decoded native value to a Record.
func AsRecord(v any) (Record, bool) {
	r, ok := v.(Record)
	if !ok || r == nil {
		return nil, false
	}
	return r, true
}

// Has reports whether the field is present.
func (r Record) Has(key string) bool {
	_, ok := r[key]
	return ok
}

// BigInt returns an i128 field, defaulting to zero when absent.
func (r Record) BigInt(key string) *big.Int {
	switch v := r[key].(type) {
	case *big.Int:
		return v
	case int64:
		return big.NewInt(v)
	case uint64:
		return new(big.Int).SetUint64(v)
	default:
		return new(big.Int)
	}
}

// Int64 returns a numeric field as int64, defaulting to zero. Values that
// overflow int64 also yield zero rather than a truncated number.
func (r Record) Int64(key string) int64 {
	switch v := r[key].(type) {
	case int64:
		return v
	case uint64:
		if v > 1<<63-1 {
			return 0
		}
		return int64(v)
	case uint32:
		return int64(v)
	case int32:
		return int64(v)
	case *big.Int:
		if !v.IsInt64() {
			return 0
		}
		return v.Int64()
	default:
		return 0
	}
}

// Uint32 returns a u32 field, defaulting to zero.
func (r Record) Uint32(key string) uint32 {
	if v, ok := r[key].(uint32); ok {
		return v
	}
	return 0
}

// String returns a string or address field, defaulting to "".
func (r Record) String(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

// Bool returns a boolean field, defaulting to false.
func (r Record) Bool(key string) bool {
	if v, ok := r[key].(bool); ok {
		return v
	}
	return false
}
