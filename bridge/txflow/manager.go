// Package txflow drives a Soroban transaction through its full lifecycle:
// load the source account, build, simulate, assemble, sign, submit and poll
// until the network reports a terminal status. One parametrized manager
// serves every contract call in the client; callers differ only in the
// operation they hand it.
package txflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"

	"github.com/kalefi/forwards/bridge/envelope"
	"github.com/kalefi/forwards/bridge/stellarrpc"
	"github.com/kalefi/forwards/internal/logz"
	"github.com/kalefi/forwards/internal/metrics"
	"github.com/kalefi/forwards/internal/signer"
)

// Ledger is the slice of the RPC client the manager drives transactions
// through.
type Ledger interface {
	SimulateTransaction(ctx context.Context, envelopeXDR string) (*stellarrpc.SimulateResponse, error)
	SendTransaction(ctx context.Context, signedXDR string) (*stellarrpc.SendResponse, error)
	GetTransaction(ctx context.Context, hash string) (*stellarrpc.GetTransactionResponse, error)
}

// AccountProvider loads the current sequence number of a source account.
type AccountProvider interface {
	GetAccount(ctx context.Context, address string) (*stellarrpc.Account, error)
}

// PollPolicy bounds the settlement poll. Polling always terminates: either a
// terminal status arrives within MaxAttempts, or the lifecycle ends in
// CodeOutcomeUnknown.
type PollPolicy struct {
	Interval    time.Duration
	MaxAttempts int
}

// DefaultPollPolicy polls once a second for a minute, several ledger closes
// past the envelope's own validity window on a healthy network.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{Interval: time.Second, MaxAttempts: 60}
}

// Code classifies where a lifecycle ended.
type Code string

const (
	CodeSuccess Code = "success"
	// CodeBuildFailed covers everything that dies before a simulation ran:
	// the source account could not be loaded or the envelope itself could
	// not be built.
	CodeBuildFailed        Code = "build_failed"
	CodeSimulationFailed   Code = "simulation_failed"
	CodeSigningFailed      Code = "signing_failed"
	CodeSubmissionRejected Code = "submission_rejected"
	CodeExecutionFailed    Code = "execution_failed"
	// CodeOutcomeUnknown means the transaction was submitted but no
	// terminal status was observed before the poll budget or context
	// expired. The transaction may still settle; callers must re-query
	// before retrying with the same sequence number.
	CodeOutcomeUnknown Code = "outcome_unknown"
)

// Result is the outcome of one lifecycle run.
type Result struct {
	Success bool
	Code    Code
	// Hash is set from the moment the network acknowledged the
	// submission, including on CodeOutcomeUnknown.
	Hash   string
	Ledger uint32
	Err    error

	ReturnValue    xdr.ScVal
	HasReturnValue bool
}

// Operation describes one contract call to run. Build receives the freshly
// loaded source account so the envelope carries the right sequence number.
type Operation struct {
	Source string
	Label  string
	Build  func(source *stellarrpc.Account) (*envelope.Unsigned, error)
}

// Manager runs transaction lifecycles. It serializes lifecycles per source
// account so concurrent calls never race on a sequence number.
type Manager struct {
	ledger     Ledger
	accounts   AccountProvider
	signer     signer.Signer
	passphrase string
	poll       PollPolicy
	logger     *logz.Logger
	metrics    *metrics.Metrics

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithPollPolicy overrides the default settlement poll policy.
func WithPollPolicy(p PollPolicy) Option {
	return func(m *Manager) { m.poll = p }
}

// WithLogger sets the logger.
func WithLogger(logger *logz.Logger) Option {
	return func(m *Manager) { m.logger = logger.WithPrefix("txflow") }
}

// WithMetrics sets the instrument set.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mx }
}

// NewManager creates a lifecycle manager. All collaborators are injected;
// the manager holds no global state.
func NewManager(ledger Ledger, accounts AccountProvider, sgn signer.Signer, networkPassphrase string, opts ...Option) *Manager {
	m := &Manager{
		ledger:     ledger,
		accounts:   accounts,
		signer:     sgn,
		passphrase: networkPassphrase,
		poll:       DefaultPollPolicy(),
		logger:     logz.Default().WithPrefix("txflow"),
		locks:      make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) accountLock(address string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[address]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[address] = lock
	}
	return lock
}

// Run drives one operation to a terminal result. It never returns nil; every
// failure mode maps to a Result code, and transient RPC trouble surfaces as
// CodeOutcomeUnknown rather than an ambiguous error.
func (m *Manager) Run(ctx context.Context, op Operation) *Result {
	result := m.run(ctx, op)
	m.metrics.RecordOutcome(string(result.Code))
	if result.Success {
		m.logger.Info("%s settled in ledger %d (hash %s)", op.Label, result.Ledger, result.Hash)
	} else {
		m.logger.Warn("%s ended with %s: %v", op.Label, result.Code, result.Err)
	}
	return result
}

func (m *Manager) run(ctx context.Context, op Operation) *Result {
	lock := m.accountLock(op.Source)
	lock.Lock()
	defer lock.Unlock()

	// Build and simulate.
	account, err := m.accounts.GetAccount(ctx, op.Source)
	if err != nil {
		return &Result{Code: CodeBuildFailed, Err: fmt.Errorf("failed to load source account: %w", err)}
	}

	unsigned, err := op.Build(account)
	if err != nil {
		return &Result{Code: CodeBuildFailed, Err: fmt.Errorf("failed to build envelope: %w", err)}
	}
	unsignedXDR, err := unsigned.Base64()
	if err != nil {
		return &Result{Code: CodeBuildFailed, Err: fmt.Errorf("failed to encode envelope: %w", err)}
	}

	sim, err := m.ledger.SimulateTransaction(ctx, unsignedXDR)
	if err != nil {
		return &Result{Code: CodeSimulationFailed, Err: fmt.Errorf("simulation request failed: %w", err)}
	}
	if sim.IsError() {
		// Nothing was submitted; the sequence number is untouched.
		return &Result{Code: CodeSimulationFailed, Err: fmt.Errorf("simulation failed: %s", sim.Error)}
	}

	assembled, err := envelope.Assemble(unsignedXDR, sim)
	if err != nil {
		return &Result{Code: CodeSimulationFailed, Err: err}
	}

	// Sign.
	signStart := time.Now()
	signedXDR, err := m.signer.SignTransaction(ctx, assembled, signer.SignOptions{
		NetworkPassphrase: m.passphrase,
		Address:           op.Source,
	})
	m.metrics.ObserveSigning(time.Since(signStart))
	if err != nil {
		return &Result{Code: CodeSigningFailed, Err: fmt.Errorf("signing failed: %w", err)}
	}
	if err := validateSigned(signedXDR); err != nil {
		return &Result{Code: CodeSigningFailed, Err: err}
	}

	// Submit.
	send, err := m.ledger.SendTransaction(ctx, signedXDR)
	if err != nil {
		return &Result{Code: CodeSubmissionRejected, Err: fmt.Errorf("submission failed: %w", err)}
	}
	switch send.Status {
	case stellarrpc.SendStatusPending:
	case stellarrpc.SendStatusSuccess:
		// The sync ack is not settlement; only getTransaction decides
		// that, so fall through to the poll.
	case stellarrpc.SendStatusDuplicate:
		// Already in flight, settle via the poll below.
		m.logger.Warn("%s already submitted (hash %s)", op.Label, send.Hash)
	default:
		return &Result{
			Code: CodeSubmissionRejected,
			Hash: send.Hash,
			Err:  fmt.Errorf("transaction rejected: %s", send.ErrorDetail()),
		}
	}

	m.logger.Debug("%s submitted (hash %s), polling for settlement", op.Label, send.Hash)
	return m.awaitSettlement(ctx, op.Label, send.Hash)
}

// awaitSettlement polls getTransaction until a terminal status, the poll
// budget, or ctx ends the wait.
func (m *Manager) awaitSettlement(ctx context.Context, label, hash string) *Result {
	var lastErr error
	for attempt := 1; attempt <= m.poll.MaxAttempts; attempt++ {
		resp, err := m.ledger.GetTransaction(ctx, hash)
		if err != nil {
			// Transient; the next attempt may still observe settlement.
			lastErr = err
			m.logger.Debug("%s poll %d/%d failed: %v", label, attempt, m.poll.MaxAttempts, err)
		} else {
			switch resp.Status {
			case stellarrpc.TxStatusSuccess:
				m.metrics.ObservePollAttempts(attempt)
				result := &Result{Success: true, Code: CodeSuccess, Hash: hash, Ledger: resp.Ledger}
				value, ok, err := resp.ReturnValue()
				if err != nil {
					m.logger.Warn("%s settled but return value did not decode: %v", label, err)
				} else if ok {
					result.ReturnValue = value
					result.HasReturnValue = true
				}
				return result
			case stellarrpc.TxStatusFailed:
				m.metrics.ObservePollAttempts(attempt)
				return &Result{
					Code:   CodeExecutionFailed,
					Hash:   hash,
					Ledger: resp.Ledger,
					Err:    fmt.Errorf("transaction failed: %s", resp.FailureDetail()),
				}
			case stellarrpc.TxStatusNotFound:
				lastErr = nil
			default:
				lastErr = fmt.Errorf("unexpected transaction status %s", resp.Status)
			}
		}

		select {
		case <-ctx.Done():
			m.metrics.ObservePollAttempts(attempt)
			return &Result{
				Code: CodeOutcomeUnknown,
				Hash: hash,
				Err:  fmt.Errorf("settlement wait cancelled, outcome unknown (hash %s): %w", hash, ctx.Err()),
			}
		case <-time.After(m.poll.Interval):
		}
	}

	m.metrics.ObservePollAttempts(m.poll.MaxAttempts)
	err := fmt.Errorf("no terminal status after %d polls, outcome unknown (hash %s)", m.poll.MaxAttempts, hash)
	if lastErr != nil {
		err = fmt.Errorf("%v (last poll error: %v)", err, lastErr)
	}
	return &Result{Code: CodeOutcomeUnknown, Hash: hash, Err: err}
}

// validateSigned checks that the signer handed back a parseable, signed
// envelope.
func validateSigned(signedXDR string) error {
	generic, err := txnbuild.TransactionFromXDR(signedXDR)
	if err != nil {
		return fmt.Errorf("%w: %v", signer.ErrMalformed, err)
	}
	tx, ok := generic.Transaction()
	if !ok {
		return fmt.Errorf("%w: not a simple transaction envelope", signer.ErrMalformed)
	}
	if len(tx.Signatures()) == 0 {
		return fmt.Errorf("%w: envelope carries no signatures", signer.ErrMalformed)
	}
	return nil
}
