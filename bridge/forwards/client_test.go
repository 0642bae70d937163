package forwards

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/stellar/go/xdr"
	"github.com/stretchr/testify/require"

	"github.com/kalefi/forwards/bridge/stellarrpc"
	"github.com/kalefi/forwards/bridge/txflow"
	"github.com/kalefi/forwards/internal/logz"
	"github.com/kalefi/forwards/types/scval"
)

const (
	testContract = "CDP2A3JLSFR4G3SQWKAYZMRUN7XN5K3AQZ2FY5QFZ3X2T32VLUDHW4ES"
	testUser     = "GAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAWHF"
)

func testContracts() Contracts {
	return Contracts{
		Forwards:   testContract,
		FKaleToken: testContract,
		KaleSac:    testContract,
		XlmSac:     testContract,
	}
}

type fakeRunner struct {
	ops     []txflow.Operation
	results []*txflow.Result
}

func (f *fakeRunner) Run(ctx context.Context, op txflow.Operation) *txflow.Result {
	f.ops = append(f.ops, op)
	if len(f.results) > 0 {
		result := f.results[0]
		f.results = f.results[1:]
		return result
	}
	return &txflow.Result{Success: true, Code: txflow.CodeSuccess, Hash: fmt.Sprintf("hash-%d", len(f.ops))}
}

type fakeLedgerInfo struct{ sequence uint32 }

func (f fakeLedgerInfo) GetLatestLedger(ctx context.Context) (*stellarrpc.GetLatestLedgerResponse, error) {
	return &stellarrpc.GetLatestLedgerResponse{Sequence: f.sequence}, nil
}

func newTestClient(sim Simulator, runner Runner) *Client {
	reader := NewReader(sim, 100, logz.Default())
	return NewClient(runner, reader, fakeLedgerInfo{sequence: 1000}, testContracts(), 100_000, logz.Default())
}

// opFunction decodes the envelope an operation builds and returns the invoked
// function name and arguments.
func opFunction(t *testing.T, op txflow.Operation) (string, []xdr.ScVal) {
	t.Helper()
	unsigned, err := op.Build(&stellarrpc.Account{Address: op.Source, Sequence: 1})
	require.NoError(t, err)
	b64, err := unsigned.Base64()
	require.NoError(t, err)

	var env xdr.TransactionEnvelope
	require.NoError(t, xdr.SafeUnmarshalBase64(b64, &env))
	fn := env.V1.Tx.Operations[0].Body.InvokeHostFunctionOp.HostFunction.InvokeContract
	return string(fn.FunctionName), fn.Args
}

func TestBalance(t *testing.T) {
	client := newTestClient(simulatedValue(t, scval.I128FromInt64(25_000_000)), &fakeRunner{})
	amount, err := client.Balance(context.Background(), testContract, testUser)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(25_000_000), amount)
}

func TestBalancesToleratesFailures(t *testing.T) {
	failing := simulatorFunc(func(ctx context.Context, envelopeXDR string) (*stellarrpc.SimulateResponse, error) {
		return nil, errors.New("rpc down")
	})
	client := newTestClient(failing, &fakeRunner{})

	balances := client.Balances(context.Background(), testUser)
	require.Zero(t, balances.Kale.Sign())
	require.Zero(t, balances.Xlm.Sign())
	require.Zero(t, balances.FKale.Sign())
}

func positionVal(t *testing.T, fields map[string]xdr.ScVal) xdr.ScVal {
	t.Helper()
	entries := make(xdr.ScMap, 0, len(fields))
	for _, key := range []string{"user", "fkale_amount", "xlm_locked", "kale_delivered", "created_at", "maturity_date", "status"} {
		val, ok := fields[key]
		if !ok {
			continue
		}
		entries = append(entries, xdr.ScMapEntry{Key: scval.Symbol(key), Val: val})
	}
	pm := &entries
	return xdr.ScVal{Type: xdr.ScValTypeScvMap, Map: &pm}
}

func TestPositionDecodesRecord(t *testing.T) {
	userVal, err := scval.Address(testUser)
	require.NoError(t, err)
	sim := simulatedValue(t, positionVal(t, map[string]xdr.ScVal{
		"user":           userVal,
		"fkale_amount":   scval.I128FromInt64(5_000),
		"xlm_locked":     scval.I128FromInt64(50),
		"kale_delivered": scval.I128FromInt64(2_000),
		"status":         scval.U32(StatusActive),
	}))
	client := newTestClient(sim, &fakeRunner{})

	position, err := client.Position(context.Background(), testUser)
	require.NoError(t, err)
	require.NotNil(t, position)
	require.Equal(t, testUser, position.User)
	require.Equal(t, big.NewInt(5_000), position.FKaleAmount)
	require.Equal(t, big.NewInt(2_000), position.KaleDelivered)
	require.True(t, position.Active())
	require.False(t, position.Covered())

	// Fields the record does not carry fall back to zero values.
	require.Zero(t, position.MaturityDate)
}

func TestPositionAbsentIsNil(t *testing.T) {
	sim := simulatorFunc(func(ctx context.Context, envelopeXDR string) (*stellarrpc.SimulateResponse, error) {
		return &stellarrpc.SimulateResponse{}, nil
	})
	client := newTestClient(sim, &fakeRunner{})

	position, err := client.Position(context.Background(), testUser)
	require.NoError(t, err)
	require.Nil(t, position)
}

func TestContractInfoDefaults(t *testing.T) {
	sim := simulatorFunc(func(ctx context.Context, envelopeXDR string) (*stellarrpc.SimulateResponse, error) {
		return &stellarrpc.SimulateResponse{}, nil
	})
	client := newTestClient(sim, &fakeRunner{})

	info, err := client.ContractInfo(context.Background())
	require.NoError(t, err)
	require.Equal(t, big.NewInt(DefaultExchangeRate), info.ExchangeRate)
	require.Equal(t, int64(DefaultLockPeriodDays), info.LockPeriodDays)
}

func TestBuyFKale(t *testing.T) {
	runner := &fakeRunner{}
	client := newTestClient(simulatedValue(t, scval.U32(0)), runner)

	result := client.BuyFKale(context.Background(), testUser, big.NewInt(10_000_000))
	require.True(t, result.Success)
	require.Len(t, runner.ops, 1)
	require.Equal(t, testUser, runner.ops[0].Source)

	fn, args := opFunction(t, runner.ops[0])
	require.Equal(t, "buy_fkale", fn)
	require.Len(t, args, 2)
}

func TestBuyFKaleRejectsNonPositiveAmount(t *testing.T) {
	runner := &fakeRunner{}
	client := newTestClient(simulatedValue(t, scval.U32(0)), runner)

	result := client.BuyFKale(context.Background(), testUser, big.NewInt(0))
	require.False(t, result.Success)
	require.Equal(t, txflow.CodeBuildFailed, result.Code)
	require.Empty(t, runner.ops)
}

func TestDepositRunsApproveThenDeposit(t *testing.T) {
	runner := &fakeRunner{}
	client := newTestClient(simulatedValue(t, scval.U32(0)), runner)

	result := client.DepositKaleForRedemption(context.Background(), testUser, big.NewInt(2_000))
	require.True(t, result.Success)
	require.Len(t, runner.ops, 2)

	approveFn, approveArgs := opFunction(t, runner.ops[0])
	require.Equal(t, "approve", approveFn)
	require.Len(t, approveArgs, 4)
	// Allowance expiry is anchored to the latest ledger.
	require.Equal(t, xdr.Uint32(1000+approveLiveUntilOffset), *approveArgs[3].U32)

	depositFn, _ := opFunction(t, runner.ops[1])
	require.Equal(t, "deposit_kale_for_redemption", depositFn)
}

func TestDepositStopsWhenApproveFails(t *testing.T) {
	runner := &fakeRunner{results: []*txflow.Result{
		{Code: txflow.CodeExecutionFailed, Err: errors.New("transaction failed: txFAILED")},
	}}
	client := newTestClient(simulatedValue(t, scval.U32(0)), runner)

	result := client.DepositKaleForRedemption(context.Background(), testUser, big.NewInt(2_000))
	require.False(t, result.Success)
	require.Equal(t, txflow.CodeExecutionFailed, result.Code)
	require.ErrorContains(t, result.Err, "approve step failed")
	require.Len(t, runner.ops, 1)
}

func TestWithdrawAndLiquidate(t *testing.T) {
	runner := &fakeRunner{}
	client := newTestClient(simulatedValue(t, scval.U32(0)), runner)

	require.True(t, client.WithdrawXlm(context.Background(), testUser).Success)
	fn, args := opFunction(t, runner.ops[0])
	require.Equal(t, "withdraw_xlm", fn)
	require.Len(t, args, 1)

	require.True(t, client.LiquidatePosition(context.Background(), testUser, testUser).Success)
	fn, args = opFunction(t, runner.ops[1])
	require.Equal(t, "liquidate_position", fn)
	require.Len(t, args, 2)
}
