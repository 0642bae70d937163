package forwards

import (
	"math/big"

	"github.com/kalefi/forwards/types/scval"
)

// Position status values as stored by the contract.
const (
	StatusActive     uint32 = 0
	StatusRedeemed   uint32 = 1
	StatusLiquidated uint32 = 2
)

// Defaults the contract initializes with; used when a field is absent from
// the on-chain record.
const (
	DefaultExchangeRate   = 1000
	DefaultLockPeriodDays = 30
)

// Balances holds the three token balances of an account, in stroops.
type Balances struct {
	Kale  *big.Int
	Xlm   *big.Int
	FKale *big.Int
}

// Position is a user's forward position.
type Position struct {
	User          string
	FKaleAmount   *big.Int
	XlmLocked     *big.Int
	KaleDelivered *big.Int
	CreatedAt     int64
	MaturityDate  int64
	Status        uint32
}

// Active reports whether the position is still open.
func (p *Position) Active() bool {
	return p != nil && p.Status == StatusActive
}

// Covered reports whether enough KALE has been delivered to cover the minted
// fKALE.
func (p *Position) Covered() bool {
	return p != nil && p.KaleDelivered.Cmp(p.FKaleAmount) >= 0
}

// positionFromRecord decodes a position record tolerantly: absent fields take
// zero values rather than failing the whole read.
func positionFromRecord(rec scval.Record) *Position {
	return &Position{
		User:          rec.String("user"),
		FKaleAmount:   rec.BigInt("fkale_amount"),
		XlmLocked:     rec.BigInt("xlm_locked"),
		KaleDelivered: rec.BigInt("kale_delivered"),
		CreatedAt:     rec.Int64("created_at"),
		MaturityDate:  rec.Int64("maturity_date"),
		Status:        rec.Uint32("status"),
	}
}

// ContractInfo is the contract's configuration record.
type ContractInfo struct {
	Admin          string
	KaleSac        string
	XlmSac         string
	FKaleToken     string
	ExchangeRate   *big.Int
	LockPeriodDays int64
}

// contractInfoFromRecord decodes the configuration record, falling back to
// the contract's initialization defaults for absent fields.
func contractInfoFromRecord(rec scval.Record) *ContractInfo {
	info := &ContractInfo{
		Admin:          rec.String("admin"),
		KaleSac:        rec.String("kale_sac"),
		XlmSac:         rec.String("xlm_sac"),
		FKaleToken:     rec.String("fkale_token"),
		ExchangeRate:   rec.BigInt("exchange_rate"),
		LockPeriodDays: rec.Int64("lock_period_days"),
	}
	if info.ExchangeRate.Sign() == 0 {
		info.ExchangeRate = big.NewInt(DefaultExchangeRate)
	}
	if info.LockPeriodDays == 0 {
		info.LockPeriodDays = DefaultLockPeriodDays
	}
	return info
}
