// Package deployer orchestrates the two-phase contract deployment: upload
// the wasm, instantiate it under a random salt, then run the contract's own
// initialization. Each phase is a full transaction lifecycle; a failure
// reports which phase died and nothing is recorded in the registry.
package deployer

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/stellar/go/xdr"

	"github.com/kalefi/forwards/bridge/envelope"
	"github.com/kalefi/forwards/bridge/stellarrpc"
	"github.com/kalefi/forwards/bridge/txflow"
	"github.com/kalefi/forwards/internal/logz"
	"github.com/kalefi/forwards/registry/deployments"
	"github.com/kalefi/forwards/types/scval"
)

// Phase names the deployment step a failure happened in.
type Phase string

const (
	PhaseUpload     Phase = "upload"
	PhaseCreate     Phase = "create"
	PhaseInitialize Phase = "initialize"
	PhaseSetAdmin   Phase = "set-admin"
)

// Error is a deployment failure tagged with its phase.
type Error struct {
	Phase Phase
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("deployment phase %s failed: %v", e.Phase, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Runner drives one operation through the transaction lifecycle.
type Runner interface {
	Run(ctx context.Context, op txflow.Operation) *txflow.Result
}

// Orchestrator runs deployments from a single deployer account.
type Orchestrator struct {
	runner     Runner
	store      deployments.Store
	deployer   string
	passphrase string
	invokeFee  int64
	logger     *logz.Logger
}

// New creates an orchestrator. deployer is the account address that funds
// and signs every phase.
func New(runner Runner, store deployments.Store, deployer, networkPassphrase string, invokeFee int64, logger *logz.Logger) *Orchestrator {
	return &Orchestrator{
		runner:     runner,
		store:      store,
		deployer:   deployer,
		passphrase: networkPassphrase,
		invokeFee:  invokeFee,
		logger:     logger.WithPrefix("deployer"),
	}
}

// UploadWasm uploads contract code and returns its hash. The hash is the
// sha256 of the code, so a missing return value is recoverable locally.
func (o *Orchestrator) UploadWasm(ctx context.Context, wasm []byte) (xdr.Hash, error) {
	result := o.runner.Run(ctx, txflow.Operation{
		Source: o.deployer,
		Label:  "upload-wasm",
		Build: func(account *stellarrpc.Account) (*envelope.Unsigned, error) {
			return envelope.BuildUploadWasm(account, wasm, o.invokeFee)
		},
	})
	if !result.Success {
		return xdr.Hash{}, &Error{Phase: PhaseUpload, Err: result.Err}
	}

	hash := xdr.Hash(sha256.Sum256(wasm))
	if result.HasReturnValue && result.ReturnValue.Type == xdr.ScValTypeScvBytes && result.ReturnValue.Bytes != nil {
		if returned := *result.ReturnValue.Bytes; len(returned) == len(hash) {
			copy(hash[:], returned)
		}
	}
	o.logger.Info("wasm uploaded, hash %s", hex.EncodeToString(hash[:]))
	return hash, nil
}

// CreateContract instantiates uploaded code under a fresh random salt and
// returns the new contract address.
func (o *Orchestrator) CreateContract(ctx context.Context, wasmHash xdr.Hash) (string, error) {
	var salt [32]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return "", &Error{Phase: PhaseCreate, Err: fmt.Errorf("failed to generate salt: %w", err)}
	}

	expected, err := envelope.DeriveContractID(o.passphrase, o.deployer, salt)
	if err != nil {
		return "", &Error{Phase: PhaseCreate, Err: err}
	}

	result := o.runner.Run(ctx, txflow.Operation{
		Source: o.deployer,
		Label:  "create-contract",
		Build: func(account *stellarrpc.Account) (*envelope.Unsigned, error) {
			return envelope.BuildCreateContract(account, o.deployer, wasmHash, salt, o.invokeFee)
		},
	})
	if !result.Success {
		return "", &Error{Phase: PhaseCreate, Err: result.Err}
	}

	// Prefer the address the host reported; fall back to the derived one.
	contractID := expected
	if result.HasReturnValue {
		if native, err := scval.ToNative(result.ReturnValue); err == nil {
			if addr, ok := native.(string); ok && addr != "" {
				contractID = addr
			}
		}
	}
	o.logger.Info("contract instantiated at %s", contractID)
	return contractID, nil
}

// invoke runs one contract call from the deployer account under the given
// phase label.
func (o *Orchestrator) invoke(ctx context.Context, phase Phase, contractID, function string, args ...xdr.ScVal) error {
	result := o.runner.Run(ctx, txflow.Operation{
		Source: o.deployer,
		Label:  string(phase) + ":" + function,
		Build: func(account *stellarrpc.Account) (*envelope.Unsigned, error) {
			return envelope.BuildInvoke(account, contractID, function, args, o.invokeFee)
		},
	})
	if !result.Success {
		return &Error{Phase: phase, Err: result.Err}
	}
	return nil
}

// Deploy uploads, instantiates and initializes one contract, then records it
// in the registry. The registry is only written when every phase succeeded;
// a failed deploy leaves no trace to be mistaken for a working contract.
func (o *Orchestrator) Deploy(ctx context.Context, name string, wasm []byte, initFunction string, initArgs ...xdr.ScVal) (deployments.Entry, error) {
	o.logger.Info("deploying %s (%d byte wasm)", name, len(wasm))

	wasmHash, err := o.UploadWasm(ctx, wasm)
	if err != nil {
		return deployments.Entry{}, err
	}

	contractID, err := o.CreateContract(ctx, wasmHash)
	if err != nil {
		return deployments.Entry{}, err
	}

	if initFunction != "" {
		if err := o.invoke(ctx, PhaseInitialize, contractID, initFunction, initArgs...); err != nil {
			return deployments.Entry{}, err
		}
	}

	entry := deployments.Entry{
		Address:    contractID,
		WasmHash:   hex.EncodeToString(wasmHash[:]),
		Network:    o.passphrase,
		DeployedAt: time.Now().UTC(),
	}
	if err := o.store.Put(name, entry); err != nil {
		return deployments.Entry{}, fmt.Errorf("deployed %s at %s but failed to record it: %w", name, contractID, err)
	}
	o.logger.Info("%s deployed and recorded at %s", name, contractID)
	return entry, nil
}

// DeployFKaleToken deploys and initializes the fKALE token with the deployer
// as its initial admin.
func (o *Orchestrator) DeployFKaleToken(ctx context.Context, wasm []byte) (deployments.Entry, error) {
	admin, err := scval.Address(o.deployer)
	if err != nil {
		return deployments.Entry{}, &Error{Phase: PhaseInitialize, Err: err}
	}
	return o.Deploy(ctx, "fkale", wasm, "initialize",
		admin,
		scval.U32(7),
		scval.String("Future KALE"),
		scval.String("fKALE"),
	)
}

// DeployForwards deploys and initializes the forwards market contract.
func (o *Orchestrator) DeployForwards(ctx context.Context, wasm []byte, kaleSac, xlmSac, fkaleToken string) (deployments.Entry, error) {
	args := make([]xdr.ScVal, 0, 4)
	admin, err := scval.Address(o.deployer)
	if err != nil {
		return deployments.Entry{}, &Error{Phase: PhaseInitialize, Err: err}
	}
	args = append(args, admin)
	for _, addr := range []string{kaleSac, xlmSac, fkaleToken} {
		val, err := scval.Address(addr)
		if err != nil {
			return deployments.Entry{}, &Error{Phase: PhaseInitialize, Err: fmt.Errorf("invalid contract address %s: %w", addr, err)}
		}
		args = append(args, val)
	}
	return o.Deploy(ctx, "forwards", wasm, "initialize", args...)
}

// SetFKaleAdmin hands fKALE token admin over to the forwards contract so it
// can mint and burn during buys and redemptions.
func (o *Orchestrator) SetFKaleAdmin(ctx context.Context, fkaleToken, forwardsContract string) error {
	newAdmin, err := scval.Address(forwardsContract)
	if err != nil {
		return &Error{Phase: PhaseSetAdmin, Err: fmt.Errorf("invalid forwards contract %s: %w", forwardsContract, err)}
	}
	return o.invoke(ctx, PhaseSetAdmin, fkaleToken, "set_admin", newAdmin)
}

// Setup runs the complete provisioning sequence: deploy the fKALE token,
// deploy the forwards market wired to it, then hand token admin to the
// market.
func (o *Orchestrator) Setup(ctx context.Context, fkaleWasm, forwardsWasm []byte, kaleSac, xlmSac string) error {
	fkale, err := o.DeployFKaleToken(ctx, fkaleWasm)
	if err != nil {
		return err
	}
	forwards, err := o.DeployForwards(ctx, forwardsWasm, kaleSac, xlmSac, fkale.Address)
	if err != nil {
		return err
	}
	return o.SetFKaleAdmin(ctx, fkale.Address, forwards.Address)
}
