package forwards

import (
	"context"
	"fmt"

	"github.com/stellar/go/xdr"

	"github.com/kalefi/forwards/bridge/envelope"
	"github.com/kalefi/forwards/bridge/stellarrpc"
	"github.com/kalefi/forwards/internal/logz"
	"github.com/kalefi/forwards/types/scval"
)

// ReadAccount is the throwaway source account used on simulate-only reads.
// Reads never submit, so the account does not need to exist or be funded.
const ReadAccount = "GAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAWHF"

// Simulator is the slice of the RPC client reads go through.
type Simulator interface {
	SimulateTransaction(ctx context.Context, envelopeXDR string) (*stellarrpc.SimulateResponse, error)
}

// Reader performs read-only contract calls by simulation, without building a
// full lifecycle.
type Reader struct {
	sim    Simulator
	fee    int64
	logger *logz.Logger
}

// NewReader creates a reader using the given simulation backend and read fee.
func NewReader(sim Simulator, fee int64, logger *logz.Logger) *Reader {
	return &Reader{sim: sim, fee: fee, logger: logger.WithPrefix("reader")}
}

// Call simulates a contract function and returns its decoded native return
// value, or nil when the function returned void.
func (r *Reader) Call(ctx context.Context, contractID, function string, args ...xdr.ScVal) (any, error) {
	source := &stellarrpc.Account{Address: ReadAccount, Sequence: 0}
	unsigned, err := envelope.BuildInvoke(source, contractID, function, args, r.fee)
	if err != nil {
		return nil, fmt.Errorf("failed to build read envelope for %s: %w", function, err)
	}
	envelopeXDR, err := unsigned.Base64()
	if err != nil {
		return nil, fmt.Errorf("failed to encode read envelope for %s: %w", function, err)
	}

	resp, err := r.sim.SimulateTransaction(ctx, envelopeXDR)
	if err != nil {
		return nil, fmt.Errorf("read %s failed: %w", function, err)
	}
	if resp.IsError() {
		r.logger.Warn("read %s on %s failed: %s", function, contractID, resp.Error)
		return nil, fmt.Errorf("read %s failed: %s", function, resp.Error)
	}

	value, ok, err := resp.ReturnValue()
	if err != nil {
		return nil, fmt.Errorf("read %s returned undecodable value: %w", function, err)
	}
	if !ok {
		return nil, nil
	}
	return scval.ToNative(value)
}
