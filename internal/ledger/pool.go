package ledger

import (
	"github.com/ethereum/go-ethereum/common"

	"stakingLedger/internal/model"
	"stakingLedger/internal/reward"
)

// NewPool builds an empty pool with its derived vault and authority.
func NewPool(administrator, asset common.Address, ratePercent uint8, now int64) (model.Pool, error) {
	if ratePercent > reward.MaxRatePercent {
		return model.Pool{}, ErrInvalidRate
	}
	id := DerivePoolID(asset, administrator)
	return model.Pool{
		ID:                id,
		Administrator:     administrator,
		Asset:             asset,
		Vault:             DeriveVault(id),
		Authority:         DeriveAuthority(id),
		AnnualRatePercent: ratePercent,
		CreatedAt:         now,
	}, nil
}

// RecordStake adds amount to the pool total.
func RecordStake(pool model.Pool, amount uint64) (model.Pool, error) {
	total, err := checkedAdd(pool.TotalStaked, amount)
	if err != nil {
		return pool, err
	}
	pool.TotalStaked = total
	return pool, nil
}

// RecordUnstake subtracts amount from the pool total. Callers validate the
// position first, so an underflow here means pool and positions disagree.
func RecordUnstake(pool model.Pool, amount uint64) (model.Pool, error) {
	total, err := checkedSub(pool.TotalStaked, amount)
	if err != nil {
		return pool, err
	}
	pool.TotalStaked = total
	return pool, nil
}
