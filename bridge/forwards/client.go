// Package forwards is the domain client for the KALE forwards market: token
// balance reads, position queries and the five position-changing contract
// calls, each driven through the shared transaction lifecycle.
package forwards

import (
	"context"
	"fmt"
	"math/big"

	"github.com/stellar/go/xdr"

	"github.com/kalefi/forwards/bridge/envelope"
	"github.com/kalefi/forwards/bridge/stellarrpc"
	"github.com/kalefi/forwards/bridge/txflow"
	"github.com/kalefi/forwards/internal/logz"
	"github.com/kalefi/forwards/types/scval"
)

// Allowance headroom in ledgers for the approve step of a deposit. At ~5s
// per ledger this is roughly two weeks, far past any plausible deposit flow.
const approveLiveUntilOffset = 200_000

// Contract function names.
const (
	fnBuyFKale        = "buy_fkale"
	fnDepositKale     = "deposit_kale_for_redemption"
	fnRedeemFKale     = "redeem_fkale"
	fnWithdrawXlm     = "withdraw_xlm"
	fnLiquidate       = "liquidate_position"
	fnGetPosition     = "get_user_position"
	fnCanWithdraw     = "can_withdraw_xlm"
	fnGetContractData = "get_contract_data"
	fnGetTotalKale    = "get_total_kale_available"
	fnBalance         = "balance"
	fnApprove         = "approve"
)

// Runner drives one operation through the transaction lifecycle.
type Runner interface {
	Run(ctx context.Context, op txflow.Operation) *txflow.Result
}

// LedgerInfo exposes the latest ledger sequence, needed to anchor allowance
// expiry.
type LedgerInfo interface {
	GetLatestLedger(ctx context.Context) (*stellarrpc.GetLatestLedgerResponse, error)
}

// Contracts names the deployed contract addresses the client talks to.
type Contracts struct {
	Forwards   string
	FKaleToken string
	KaleSac    string
	XlmSac     string
}

// Client is the forwards market client.
type Client struct {
	runner    Runner
	reader    *Reader
	ledger    LedgerInfo
	contracts Contracts
	invokeFee int64
	logger    *logz.Logger
}

// NewClient wires a forwards client from its collaborators.
func NewClient(runner Runner, reader *Reader, ledger LedgerInfo, contracts Contracts, invokeFee int64, logger *logz.Logger) *Client {
	return &Client{
		runner:    runner,
		reader:    reader,
		ledger:    ledger,
		contracts: contracts,
		invokeFee: invokeFee,
		logger:    logger.WithPrefix("forwards"),
	}
}

// Balance reads one token balance. The SAC interface is uniform, so the same
// call serves KALE, XLM and fKALE.
func (c *Client) Balance(ctx context.Context, token, account string) (*big.Int, error) {
	holder, err := scval.Address(account)
	if err != nil {
		return nil, fmt.Errorf("invalid account %s: %w", account, err)
	}
	value, err := c.reader.Call(ctx, token, fnBalance, holder)
	if err != nil {
		return nil, err
	}
	amount, ok := value.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balance of %s is not an i128", token)
	}
	return amount, nil
}

// Balances reads all three balances for an account. A single failing token
// read logs and reports zero rather than failing the whole view.
func (c *Client) Balances(ctx context.Context, account string) *Balances {
	read := func(token, label string) *big.Int {
		amount, err := c.Balance(ctx, token, account)
		if err != nil {
			c.logger.Warn("failed to read %s balance for %s: %v", label, account, err)
			return new(big.Int)
		}
		return amount
	}
	return &Balances{
		Kale:  read(c.contracts.KaleSac, "KALE"),
		Xlm:   read(c.contracts.XlmSac, "XLM"),
		FKale: read(c.contracts.FKaleToken, "fKALE"),
	}
}

// Position reads a user's forward position. A nil position without error
// means the user has none.
func (c *Client) Position(ctx context.Context, account string) (*Position, error) {
	user, err := scval.Address(account)
	if err != nil {
		return nil, fmt.Errorf("invalid account %s: %w", account, err)
	}
	value, err := c.reader.Call(ctx, c.contracts.Forwards, fnGetPosition, user)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, nil
	}
	rec, ok := scval.AsRecord(value)
	if !ok {
		return nil, fmt.Errorf("position for %s is not a record", account)
	}
	return positionFromRecord(rec), nil
}

// ContractInfo reads the contract configuration, applying the contract's own
// initialization defaults for fields an older deployment may not carry.
func (c *Client) ContractInfo(ctx context.Context) (*ContractInfo, error) {
	value, err := c.reader.Call(ctx, c.contracts.Forwards, fnGetContractData)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return contractInfoFromRecord(scval.Record{}), nil
	}
	rec, ok := scval.AsRecord(value)
	if !ok {
		return nil, fmt.Errorf("contract data is not a record")
	}
	return contractInfoFromRecord(rec), nil
}

// CanWithdraw reports whether the user's position is mature and covered.
func (c *Client) CanWithdraw(ctx context.Context, account string) (bool, error) {
	user, err := scval.Address(account)
	if err != nil {
		return false, fmt.Errorf("invalid account %s: %w", account, err)
	}
	value, err := c.reader.Call(ctx, c.contracts.Forwards, fnCanWithdraw, user)
	if err != nil {
		return false, err
	}
	allowed, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("%s did not return a boolean", fnCanWithdraw)
	}
	return allowed, nil
}

// TotalKaleAvailable reads the redemption pool size.
func (c *Client) TotalKaleAvailable(ctx context.Context) (*big.Int, error) {
	value, err := c.reader.Call(ctx, c.contracts.Forwards, fnGetTotalKale)
	if err != nil {
		return nil, err
	}
	amount, ok := value.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s did not return an i128", fnGetTotalKale)
	}
	return amount, nil
}

// invokeOp builds a lifecycle operation invoking a forwards-market contract
// function from the user's account.
func (c *Client) invokeOp(source, contractID, function string, args ...xdr.ScVal) txflow.Operation {
	return txflow.Operation{
		Source: source,
		Label:  function,
		Build: func(account *stellarrpc.Account) (*envelope.Unsigned, error) {
			return envelope.BuildInvoke(account, contractID, function, args, c.invokeFee)
		},
	}
}

// BuyFKale locks XLM collateral and mints fKALE at the contract's exchange
// rate.
func (c *Client) BuyFKale(ctx context.Context, user string, xlmAmount *big.Int) *txflow.Result {
	userVal, amountVal, err := addressAndAmount(user, xlmAmount)
	if err != nil {
		return &txflow.Result{Code: txflow.CodeBuildFailed, Err: err}
	}
	return c.runner.Run(ctx, c.invokeOp(user, c.contracts.Forwards, fnBuyFKale, userVal, amountVal))
}

// DepositKaleForRedemption delivers KALE against a position. The contract
// pulls the tokens via transfer_from, so an allowance for the forwards
// contract is established first; the deposit only runs once the approve has
// settled.
func (c *Client) DepositKaleForRedemption(ctx context.Context, user string, kaleAmount *big.Int) *txflow.Result {
	userVal, amountVal, err := addressAndAmount(user, kaleAmount)
	if err != nil {
		return &txflow.Result{Code: txflow.CodeBuildFailed, Err: err}
	}
	spenderVal, err := scval.Address(c.contracts.Forwards)
	if err != nil {
		return &txflow.Result{Code: txflow.CodeBuildFailed, Err: fmt.Errorf("invalid forwards contract id: %w", err)}
	}

	latest, err := c.ledger.GetLatestLedger(ctx)
	if err != nil {
		return &txflow.Result{Code: txflow.CodeBuildFailed, Err: fmt.Errorf("failed to anchor allowance expiry: %w", err)}
	}
	liveUntil := scval.U32(latest.Sequence + approveLiveUntilOffset)

	approve := c.runner.Run(ctx, c.invokeOp(user, c.contracts.KaleSac, fnApprove,
		userVal, spenderVal, amountVal, liveUntil))
	if !approve.Success {
		approve.Err = fmt.Errorf("approve step failed: %w", approve.Err)
		return approve
	}

	return c.runner.Run(ctx, c.invokeOp(user, c.contracts.Forwards, fnDepositKale, userVal, amountVal))
}

// RedeemFKale burns fKALE and pays out delivered KALE.
func (c *Client) RedeemFKale(ctx context.Context, user string, fkaleAmount *big.Int) *txflow.Result {
	userVal, amountVal, err := addressAndAmount(user, fkaleAmount)
	if err != nil {
		return &txflow.Result{Code: txflow.CodeBuildFailed, Err: err}
	}
	return c.runner.Run(ctx, c.invokeOp(user, c.contracts.Forwards, fnRedeemFKale, userVal, amountVal))
}

// WithdrawXlm releases matured XLM collateral back to the user.
func (c *Client) WithdrawXlm(ctx context.Context, user string) *txflow.Result {
	userVal, err := scval.Address(user)
	if err != nil {
		return &txflow.Result{Code: txflow.CodeBuildFailed, Err: fmt.Errorf("invalid account %s: %w", user, err)}
	}
	return c.runner.Run(ctx, c.invokeOp(user, c.contracts.Forwards, fnWithdrawXlm, userVal))
}

// LiquidatePosition seizes the collateral of a matured, under-delivered
// position. Only the contract admin may call it.
func (c *Client) LiquidatePosition(ctx context.Context, admin, user string) *txflow.Result {
	adminVal, err := scval.Address(admin)
	if err != nil {
		return &txflow.Result{Code: txflow.CodeBuildFailed, Err: fmt.Errorf("invalid admin %s: %w", admin, err)}
	}
	userVal, err := scval.Address(user)
	if err != nil {
		return &txflow.Result{Code: txflow.CodeBuildFailed, Err: fmt.Errorf("invalid account %s: %w", user, err)}
	}
	return c.runner.Run(ctx, c.invokeOp(admin, c.contracts.Forwards, fnLiquidate, adminVal, userVal))
}

func addressAndAmount(account string, amount *big.Int) (xdr.ScVal, xdr.ScVal, error) {
	accountVal, err := scval.Address(account)
	if err != nil {
		return xdr.ScVal{}, xdr.ScVal{}, fmt.Errorf("invalid account %s: %w", account, err)
	}
	if amount == nil || amount.Sign() <= 0 {
		return xdr.ScVal{}, xdr.ScVal{}, fmt.Errorf("amount must be positive")
	}
	amountVal, err := scval.I128(amount)
	if err != nil {
		return xdr.ScVal{}, xdr.ScVal{}, fmt.Errorf("invalid amount: %w", err)
	}
	return accountVal, amountVal, nil
}
