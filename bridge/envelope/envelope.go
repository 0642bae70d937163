// Package envelope builds unsigned Stellar transaction envelopes for Soroban
// host function invocations and folds simulation results back into them.
// Envelopes are value-like: every builder returns a fresh envelope and
// Assemble never mutates its input.
package envelope

import (
	"fmt"

	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"

	"github.com/kalefi/forwards/bridge/stellarrpc"
	"github.com/kalefi/forwards/types/scval"
)

// Envelope validity window in seconds. Matches the ledger close cadence well
// enough that a transaction either settles or expires long before a user
// retries.
const TimeoutSeconds = 300

// Unsigned is a built, not-yet-signed transaction envelope.
type Unsigned struct {
	tx *txnbuild.Transaction
}

// Base64 returns the envelope in base64 XDR transport form.
func (u *Unsigned) Base64() (string, error) {
	return u.tx.Base64()
}

// SourceAddress returns the envelope's source account address.
func (u *Unsigned) SourceAddress() string {
	return u.tx.SourceAccount().AccountID
}

// newInvokeEnvelope wraps a single invoke-host-function operation in a
// transaction envelope.
func newInvokeEnvelope(source *stellarrpc.Account, fn xdr.HostFunction, auth []xdr.SorobanAuthorizationEntry, fee int64) (*Unsigned, error) {
	if source == nil {
		return nil, fmt.Errorf("source account cannot be nil")
	}
	if fee <= 0 {
		return nil, fmt.Errorf("fee must be positive, got %d", fee)
	}

	op := &txnbuild.InvokeHostFunction{
		HostFunction:  fn,
		Auth:          auth,
		SourceAccount: source.Address,
	}
	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &txnbuild.SimpleAccount{AccountID: source.Address, Sequence: source.Sequence},
		IncrementSequenceNum: true,
		Operations:           []txnbuild.Operation{op},
		BaseFee:              fee,
		Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(TimeoutSeconds)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}
	return &Unsigned{tx: tx}, nil
}

// BuildInvoke builds an envelope invoking a contract function with the given
// arguments.
func BuildInvoke(source *stellarrpc.Account, contractID, function string, args []xdr.ScVal, fee int64) (*Unsigned, error) {
	contractAddr, err := scval.ScAddressFromString(contractID)
	if err != nil {
		return nil, fmt.Errorf("invalid contract id %s: %w", contractID, err)
	}
	if function == "" {
		return nil, fmt.Errorf("function name cannot be empty")
	}

	fn := xdr.HostFunction{
		Type: xdr.HostFunctionTypeHostFunctionTypeInvokeContract,
		InvokeContract: &xdr.InvokeContractArgs{
			ContractAddress: contractAddr,
			FunctionName:    xdr.ScSymbol(function),
			Args:            args,
		},
	}
	return newInvokeEnvelope(source, fn, nil, fee)
}

// BuildUploadWasm builds an envelope uploading contract code to the ledger.
func BuildUploadWasm(source *stellarrpc.Account, wasm []byte, fee int64) (*Unsigned, error) {
	if len(wasm) == 0 {
		return nil, fmt.Errorf("wasm cannot be empty")
	}
	fn := xdr.HostFunction{
		Type: xdr.HostFunctionTypeHostFunctionTypeUploadContractWasm,
		Wasm: &wasm,
	}
	return newInvokeEnvelope(source, fn, nil, fee)
}

// BuildCreateContract builds an envelope instantiating a contract from
// uploaded code, with the instance address derived from the deployer account
// and salt.
func BuildCreateContract(source *stellarrpc.Account, deployer string, wasmHash xdr.Hash, salt [32]byte, fee int64) (*Unsigned, error) {
	deployerAddr, err := scval.ScAddressFromString(deployer)
	if err != nil {
		return nil, fmt.Errorf("invalid deployer address %s: %w", deployer, err)
	}

	fn := xdr.HostFunction{
		Type: xdr.HostFunctionTypeHostFunctionTypeCreateContract,
		CreateContract: &xdr.CreateContractArgs{
			ContractIdPreimage: xdr.ContractIdPreimage{
				Type: xdr.ContractIdPreimageTypeContractIdPreimageFromAddress,
				FromAddress: &xdr.ContractIdPreimageFromAddress{
					Address: deployerAddr,
					Salt:    xdr.Uint256(salt),
				},
			},
			Executable: xdr.ContractExecutable{
				Type:     xdr.ContractExecutableTypeContractExecutableWasm,
				WasmHash: &wasmHash,
			},
		},
	}
	return newInvokeEnvelope(source, fn, nil, fee)
}

// Assemble folds a successful simulation back into the envelope: the resource
// footprint, the resource fee on top of the inclusion fee, and the
// authorization entries computed by the host. When the simulation carried no
// reassembly data the original envelope is returned unchanged.
func Assemble(envelopeXDR string, sim *stellarrpc.SimulateResponse) (string, error) {
	if sim == nil || sim.IsError() {
		return "", fmt.Errorf("cannot assemble from a failed simulation")
	}
	if sim.TransactionData == "" && sim.MinResourceFee == "" {
		return envelopeXDR, nil
	}

	var env xdr.TransactionEnvelope
	if err := xdr.SafeUnmarshalBase64(envelopeXDR, &env); err != nil {
		return "", fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.Type != xdr.EnvelopeTypeEnvelopeTypeTx || env.V1 == nil {
		return "", fmt.Errorf("envelope is not a v1 transaction")
	}

	if sim.TransactionData != "" {
		var sorobanData xdr.SorobanTransactionData
		if err := xdr.SafeUnmarshalBase64(sim.TransactionData, &sorobanData); err != nil {
			return "", fmt.Errorf("failed to decode simulation transaction data: %w", err)
		}
		env.V1.Tx.Ext = xdr.TransactionExt{V: 1, SorobanData: &sorobanData}
	}

	if sim.MinResourceFee != "" {
		var minFee int64
		if _, err := fmt.Sscanf(sim.MinResourceFee, "%d", &minFee); err != nil {
			return "", fmt.Errorf("invalid minResourceFee %q: %w", sim.MinResourceFee, err)
		}
		total := int64(env.V1.Tx.Fee) + minFee
		if total > int64(^uint32(0)) {
			return "", fmt.Errorf("assembled fee %d overflows", total)
		}
		env.V1.Tx.Fee = xdr.Uint32(total)
	}

	if len(sim.Results) > 0 && len(sim.Results[0].Auth) > 0 {
		if err := installAuth(&env, sim.Results[0].Auth); err != nil {
			return "", err
		}
	}

	assembled, err := xdr.MarshalBase64(env)
	if err != nil {
		return "", fmt.Errorf("failed to encode assembled envelope: %w", err)
	}
	return assembled, nil
}

// installAuth sets simulated authorization entries on the invoke operation.
// Entries already present on the operation win; simulation only fills the
// gap for source-account auth.
func installAuth(env *xdr.TransactionEnvelope, authB64 []string) error {
	for i := range env.V1.Tx.Operations {
		body := &env.V1.Tx.Operations[i].Body
		if body.Type != xdr.OperationTypeInvokeHostFunction || body.InvokeHostFunctionOp == nil {
			continue
		}
		if len(body.InvokeHostFunctionOp.Auth) > 0 {
			return nil
		}
		auth := make([]xdr.SorobanAuthorizationEntry, 0, len(authB64))
		for _, raw := range authB64 {
			var entry xdr.SorobanAuthorizationEntry
			if err := xdr.SafeUnmarshalBase64(raw, &entry); err != nil {
				return fmt.Errorf("failed to decode authorization entry: %w", err)
			}
			auth = append(auth, entry)
		}
		body.InvokeHostFunctionOp.Auth = auth
		return nil
	}
	return nil
}
