package txflow

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/require"

	"github.com/kalefi/forwards/bridge/envelope"
	"github.com/kalefi/forwards/bridge/stellarrpc"
	"github.com/kalefi/forwards/internal/signer"
)

const (
	testContract = "CDP2A3JLSFR4G3SQWKAYZMRUN7XN5K3AQZ2FY5QFZ3X2T32VLUDHW4ES"
	testNetwork  = "Test SDF Network ; September 2015"
)

type fakeLedger struct {
	simulate func() (*stellarrpc.SimulateResponse, error)
	send     func() (*stellarrpc.SendResponse, error)
	get      func(attempt int) (*stellarrpc.GetTransactionResponse, error)

	simCalls  int32
	sendCalls int32
	getCalls  int32
}

func (f *fakeLedger) SimulateTransaction(ctx context.Context, envelopeXDR string) (*stellarrpc.SimulateResponse, error) {
	atomic.AddInt32(&f.simCalls, 1)
	return f.simulate()
}

func (f *fakeLedger) SendTransaction(ctx context.Context, signedXDR string) (*stellarrpc.SendResponse, error) {
	atomic.AddInt32(&f.sendCalls, 1)
	return f.send()
}

func (f *fakeLedger) GetTransaction(ctx context.Context, hash string) (*stellarrpc.GetTransactionResponse, error) {
	return f.get(int(atomic.AddInt32(&f.getCalls, 1)))
}

type fakeAccounts struct{}

func (fakeAccounts) GetAccount(ctx context.Context, address string) (*stellarrpc.Account, error) {
	return &stellarrpc.Account{Address: address, Sequence: 100}, nil
}

func testOperation(kp *keypair.Full) Operation {
	return Operation{
		Source: kp.Address(),
		Label:  "test-call",
		Build: func(source *stellarrpc.Account) (*envelope.Unsigned, error) {
			return envelope.BuildInvoke(source, testContract, "ping", nil, 100_000)
		},
	}
}

func newTestManager(t *testing.T, ledger *fakeLedger, opts ...Option) (*Manager, *keypair.Full) {
	t.Helper()
	kp, err := keypair.Random()
	require.NoError(t, err)
	opts = append([]Option{
		WithPollPolicy(PollPolicy{Interval: time.Millisecond, MaxAttempts: 5}),
	}, opts...)
	return NewManager(ledger, fakeAccounts{}, signer.NewKeypairSigner(kp), testNetwork, opts...), kp
}

func TestRunSuccess(t *testing.T) {
	ledger := &fakeLedger{
		simulate: func() (*stellarrpc.SimulateResponse, error) {
			return &stellarrpc.SimulateResponse{LatestLedger: 10}, nil
		},
		send: func() (*stellarrpc.SendResponse, error) {
			return &stellarrpc.SendResponse{Status: stellarrpc.SendStatusPending, Hash: "h1"}, nil
		},
		get: func(attempt int) (*stellarrpc.GetTransactionResponse, error) {
			if attempt == 1 {
				return &stellarrpc.GetTransactionResponse{Status: stellarrpc.TxStatusNotFound}, nil
			}
			return &stellarrpc.GetTransactionResponse{Status: stellarrpc.TxStatusSuccess, Ledger: 12}, nil
		},
	}
	m, kp := newTestManager(t, ledger)

	result := m.Run(context.Background(), testOperation(kp))
	require.True(t, result.Success)
	require.Equal(t, CodeSuccess, result.Code)
	require.Equal(t, "h1", result.Hash)
	require.Equal(t, uint32(12), result.Ledger)
	require.Equal(t, int32(2), ledger.getCalls)
}

func TestRunSimulationFailureShortCircuits(t *testing.T) {
	ledger := &fakeLedger{
		simulate: func() (*stellarrpc.SimulateResponse, error) {
			return &stellarrpc.SimulateResponse{Error: "HostError: missing value"}, nil
		},
	}
	m, kp := newTestManager(t, ledger)

	result := m.Run(context.Background(), testOperation(kp))
	require.False(t, result.Success)
	require.Equal(t, CodeSimulationFailed, result.Code)
	require.ErrorContains(t, result.Err, "HostError: missing value")
	require.Equal(t, int32(1), ledger.simCalls)
	require.Zero(t, ledger.sendCalls)
	require.Zero(t, ledger.getCalls)
}

func TestRunSubmissionRejected(t *testing.T) {
	ledger := &fakeLedger{
		simulate: func() (*stellarrpc.SimulateResponse, error) {
			return &stellarrpc.SimulateResponse{}, nil
		},
		send: func() (*stellarrpc.SendResponse, error) {
			return &stellarrpc.SendResponse{Status: stellarrpc.SendStatusError, Hash: "h2"}, nil
		},
	}
	m, kp := newTestManager(t, ledger)

	result := m.Run(context.Background(), testOperation(kp))
	require.Equal(t, CodeSubmissionRejected, result.Code)
	require.Equal(t, "h2", result.Hash)
	require.Zero(t, ledger.getCalls)
}

func TestRunImmediateSuccessAckStillPolls(t *testing.T) {
	ledger := &fakeLedger{
		simulate: func() (*stellarrpc.SimulateResponse, error) {
			return &stellarrpc.SimulateResponse{}, nil
		},
		send: func() (*stellarrpc.SendResponse, error) {
			return &stellarrpc.SendResponse{Status: stellarrpc.SendStatusSuccess, Hash: "h-ok"}, nil
		},
		get: func(attempt int) (*stellarrpc.GetTransactionResponse, error) {
			return &stellarrpc.GetTransactionResponse{Status: stellarrpc.TxStatusSuccess, Ledger: 15}, nil
		},
	}
	m, kp := newTestManager(t, ledger)

	result := m.Run(context.Background(), testOperation(kp))
	require.True(t, result.Success)
	require.Equal(t, CodeSuccess, result.Code)
	require.Equal(t, "h-ok", result.Hash)
	// The sync ack alone is not trusted; settlement was still confirmed.
	require.Equal(t, int32(1), ledger.getCalls)
}

func TestRunDuplicateProceedsToPoll(t *testing.T) {
	ledger := &fakeLedger{
		simulate: func() (*stellarrpc.SimulateResponse, error) {
			return &stellarrpc.SimulateResponse{}, nil
		},
		send: func() (*stellarrpc.SendResponse, error) {
			return &stellarrpc.SendResponse{Status: stellarrpc.SendStatusDuplicate, Hash: "h3"}, nil
		},
		get: func(attempt int) (*stellarrpc.GetTransactionResponse, error) {
			return &stellarrpc.GetTransactionResponse{Status: stellarrpc.TxStatusSuccess, Ledger: 20}, nil
		},
	}
	m, kp := newTestManager(t, ledger)

	result := m.Run(context.Background(), testOperation(kp))
	require.True(t, result.Success)
	require.Equal(t, "h3", result.Hash)
}

func TestRunExecutionFailed(t *testing.T) {
	ledger := &fakeLedger{
		simulate: func() (*stellarrpc.SimulateResponse, error) {
			return &stellarrpc.SimulateResponse{}, nil
		},
		send: func() (*stellarrpc.SendResponse, error) {
			return &stellarrpc.SendResponse{Status: stellarrpc.SendStatusPending, Hash: "h4"}, nil
		},
		get: func(attempt int) (*stellarrpc.GetTransactionResponse, error) {
			return &stellarrpc.GetTransactionResponse{Status: stellarrpc.TxStatusFailed, Ledger: 30}, nil
		},
	}
	m, kp := newTestManager(t, ledger)

	result := m.Run(context.Background(), testOperation(kp))
	require.Equal(t, CodeExecutionFailed, result.Code)
	require.ErrorContains(t, result.Err, "transaction failed")
	require.Equal(t, uint32(30), result.Ledger)
}

func TestRunPollExhaustionIsOutcomeUnknown(t *testing.T) {
	ledger := &fakeLedger{
		simulate: func() (*stellarrpc.SimulateResponse, error) {
			return &stellarrpc.SimulateResponse{}, nil
		},
		send: func() (*stellarrpc.SendResponse, error) {
			return &stellarrpc.SendResponse{Status: stellarrpc.SendStatusPending, Hash: "h5"}, nil
		},
		get: func(attempt int) (*stellarrpc.GetTransactionResponse, error) {
			return &stellarrpc.GetTransactionResponse{Status: stellarrpc.TxStatusNotFound}, nil
		},
	}
	m, kp := newTestManager(t, ledger, WithPollPolicy(PollPolicy{Interval: time.Millisecond, MaxAttempts: 3}))

	result := m.Run(context.Background(), testOperation(kp))
	require.Equal(t, CodeOutcomeUnknown, result.Code)
	require.Equal(t, "h5", result.Hash)
	require.ErrorContains(t, result.Err, "h5")
	require.Equal(t, int32(3), ledger.getCalls)
}

func TestRunCancellationDuringPoll(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ledger := &fakeLedger{
		simulate: func() (*stellarrpc.SimulateResponse, error) {
			return &stellarrpc.SimulateResponse{}, nil
		},
		send: func() (*stellarrpc.SendResponse, error) {
			return &stellarrpc.SendResponse{Status: stellarrpc.SendStatusPending, Hash: "h6"}, nil
		},
		get: func(attempt int) (*stellarrpc.GetTransactionResponse, error) {
			cancel()
			return &stellarrpc.GetTransactionResponse{Status: stellarrpc.TxStatusNotFound}, nil
		},
	}
	m, kp := newTestManager(t, ledger, WithPollPolicy(PollPolicy{Interval: time.Minute, MaxAttempts: 60}))

	result := m.Run(ctx, testOperation(kp))
	require.Equal(t, CodeOutcomeUnknown, result.Code)
	require.ErrorIs(t, result.Err, context.Canceled)
}

func TestRunSigningDeclined(t *testing.T) {
	ledger := &fakeLedger{
		simulate: func() (*stellarrpc.SimulateResponse, error) {
			return &stellarrpc.SimulateResponse{}, nil
		},
	}
	kp, err := keypair.Random()
	require.NoError(t, err)
	declining := signer.Func(func(ctx context.Context, envelopeXDR string, opts signer.SignOptions) (string, error) {
		return "", fmt.Errorf("%w: user closed the wallet", signer.ErrDeclined)
	})
	m := NewManager(ledger, fakeAccounts{}, declining, testNetwork,
		WithPollPolicy(PollPolicy{Interval: time.Millisecond, MaxAttempts: 1}))

	result := m.Run(context.Background(), testOperation(kp))
	require.Equal(t, CodeSigningFailed, result.Code)
	require.ErrorIs(t, result.Err, signer.ErrDeclined)
	require.Zero(t, ledger.sendCalls)
}

func TestRunMalformedSignerResponse(t *testing.T) {
	ledger := &fakeLedger{
		simulate: func() (*stellarrpc.SimulateResponse, error) {
			return &stellarrpc.SimulateResponse{}, nil
		},
	}
	kp, err := keypair.Random()
	require.NoError(t, err)
	garbage := signer.Func(func(ctx context.Context, envelopeXDR string, opts signer.SignOptions) (string, error) {
		return "not an envelope", nil
	})
	m := NewManager(ledger, fakeAccounts{}, garbage, testNetwork,
		WithPollPolicy(PollPolicy{Interval: time.Millisecond, MaxAttempts: 1}))

	result := m.Run(context.Background(), testOperation(kp))
	require.Equal(t, CodeSigningFailed, result.Code)
	require.ErrorIs(t, result.Err, signer.ErrMalformed)
	require.Zero(t, ledger.sendCalls)
}

func TestRunUnsignedEnvelopeIsMalformed(t *testing.T) {
	ledger := &fakeLedger{
		simulate: func() (*stellarrpc.SimulateResponse, error) {
			return &stellarrpc.SimulateResponse{}, nil
		},
	}
	kp, err := keypair.Random()
	require.NoError(t, err)
	// Echoes the unsigned envelope back without adding a signature.
	echo := signer.Func(func(ctx context.Context, envelopeXDR string, opts signer.SignOptions) (string, error) {
		return envelopeXDR, nil
	})
	m := NewManager(ledger, fakeAccounts{}, echo, testNetwork,
		WithPollPolicy(PollPolicy{Interval: time.Millisecond, MaxAttempts: 1}))

	result := m.Run(context.Background(), testOperation(kp))
	require.Equal(t, CodeSigningFailed, result.Code)
	require.ErrorIs(t, result.Err, signer.ErrMalformed)
}

func TestRunAccountLoadFailure(t *testing.T) {
	kp, err := keypair.Random()
	require.NoError(t, err)
	failing := accountError{errors.New("ledger entry service down")}
	m := NewManager(&fakeLedger{}, failing, signer.NewKeypairSigner(kp), testNetwork)

	result := m.Run(context.Background(), testOperation(kp))
	require.Equal(t, CodeBuildFailed, result.Code)
	require.ErrorContains(t, result.Err, "failed to load source account")
}

type accountError struct{ err error }

func (a accountError) GetAccount(ctx context.Context, address string) (*stellarrpc.Account, error) {
	return nil, a.err
}
