package ledger

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"stakingLedger/internal/model"
	"stakingLedger/internal/reward"
	"stakingLedger/internal/storage"
)

// StakePolicy decides what happens to reward accrued before a new stake.
type StakePolicy int

const (
	// SettleOnStake folds the accrued reward into UnclaimedReward.
	SettleOnStake StakePolicy = iota
	// ForfeitOnStake drops it.
	ForfeitOnStake
)

// Settlement is the result of an unstake.
type Settlement struct {
	Reward uint64
	Payout uint64
}

// OpenOrGetPosition returns the stored position or a fresh zero position
// stamped with now. The fresh position is not persisted.
func OpenOrGetPosition(ctx context.Context, tx storage.Tx, pool model.PoolID, user common.Address, now int64) (model.UserPosition, error) {
	pos, ok, err := tx.GetPosition(ctx, pool, user)
	if err != nil {
		return model.UserPosition{}, fmt.Errorf("load position: %w", err)
	}
	if ok {
		return pos, nil
	}
	return model.UserPosition{Pool: pool, User: user, LastUpdate: now}, nil
}

// ApplyStake adds amount to the position's principal.
func ApplyStake(pos model.UserPosition, amount uint64, now int64, ratePercent uint8, policy StakePolicy) (model.UserPosition, error) {
	if amount == 0 {
		return pos, ErrInvalidAmount
	}
	principal, err := checkedAdd(pos.Amount, amount)
	if err != nil {
		return pos, err
	}

	next := pos
	switch policy {
	case ForfeitOnStake:
		next.UnclaimedReward = 0
	default:
		accrued, err := reward.Calculate(pos.Amount, pos.LastUpdate, now, ratePercent)
		if err != nil {
			return pos, err
		}
		if next.UnclaimedReward, err = checkedAdd(pos.UnclaimedReward, accrued); err != nil {
			return pos, err
		}
	}
	next.Amount = principal
	next.LastUpdate = maxTime(pos.LastUpdate, now)
	return next, nil
}

// ApplyUnstake removes amount from the position's principal and settles
// every reward owed on the position.
func ApplyUnstake(pos model.UserPosition, amount uint64, now int64, ratePercent uint8) (model.UserPosition, Settlement, error) {
	if amount == 0 || amount > pos.Amount {
		return pos, Settlement{}, ErrInsufficientStake
	}
	accrued, err := reward.Calculate(pos.Amount, pos.LastUpdate, now, ratePercent)
	if err != nil {
		return pos, Settlement{}, err
	}
	owed, err := checkedAdd(pos.UnclaimedReward, accrued)
	if err != nil {
		return pos, Settlement{}, err
	}
	principal, err := checkedSub(pos.Amount, amount)
	if err != nil {
		return pos, Settlement{}, err
	}
	payout, err := checkedAdd(amount, owed)
	if err != nil {
		return pos, Settlement{}, err
	}

	next := pos
	next.Amount = principal
	next.LastUpdate = maxTime(pos.LastUpdate, now)
	next.UnclaimedReward = 0
	return next, Settlement{Reward: owed, Payout: payout}, nil
}

// PendingReward is what an unstake at now would pay on top of principal.
func PendingReward(pos model.UserPosition, now int64, ratePercent uint8) (uint64, error) {
	accrued, err := reward.Calculate(pos.Amount, pos.LastUpdate, now, ratePercent)
	if err != nil {
		return 0, err
	}
	return checkedAdd(pos.UnclaimedReward, accrued)
}
