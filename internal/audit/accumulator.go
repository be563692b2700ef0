package audit

import (
	"fmt"
	"math/bits"

	"github.com/ethereum/go-ethereum/common"

	"stakingLedger/internal/model"
)

// Accumulator replays the journal of one pool.
type Accumulator struct {
	Pool        model.PoolID
	Open        bool
	TotalStaked uint64
	Stakes      map[common.Address]uint64
	Funded      uint64
	RewardPaid  uint64
	Events      int
	LastSeq     uint64
}

func NewAccumulator(pool model.PoolID) *Accumulator {
	return &Accumulator{Pool: pool, Stakes: make(map[common.Address]uint64)}
}

// Apply folds one event in and reports the first inconsistency found.
func (a *Accumulator) Apply(event model.LedgerEvent) error {
	a.Events++
	a.LastSeq = event.Seq

	switch event.Kind {
	case model.EventInitialize:
		if a.Open {
			return fmt.Errorf("initialize of an open pool")
		}
		a.Open = true
		a.TotalStaked = 0
		a.Stakes = make(map[common.Address]uint64)
		return nil
	case model.EventStake:
		total, carry := bits.Add64(a.TotalStaked, event.Amount, 0)
		if carry != 0 {
			return fmt.Errorf("total staked overflows")
		}
		a.TotalStaked = total
		a.Stakes[event.User] += event.Amount
	case model.EventUnstake:
		if a.Stakes[event.User] < event.Amount || a.TotalStaked < event.Amount {
			return fmt.Errorf("unstake %d exceeds stake %d of %s", event.Amount, a.Stakes[event.User], event.User.Hex())
		}
		a.Stakes[event.User] -= event.Amount
		a.TotalStaked -= event.Amount
		if err := checkPayout(event); err != nil {
			return err
		}
		paid, carry := bits.Add64(a.RewardPaid, event.Reward, 0)
		if carry != 0 {
			return fmt.Errorf("reward paid overflows")
		}
		a.RewardPaid = paid
	case model.EventFund:
		funded, carry := bits.Add64(a.Funded, event.Amount, 0)
		if carry != 0 {
			return fmt.Errorf("funded total overflows")
		}
		a.Funded = funded
		return nil
	case model.EventClose:
		if a.TotalStaked != 0 {
			return fmt.Errorf("closed with %d staked", a.TotalStaked)
		}
		a.Open = false
		return nil
	default:
		return fmt.Errorf("unknown event kind %q", event.Kind)
	}

	if event.TotalStaked != a.TotalStaked {
		return fmt.Errorf("event total_staked %d, replayed %d", event.TotalStaked, a.TotalStaked)
	}
	return nil
}

// Sum is the replayed sum of per-user stakes. It matches TotalStaked on a
// consistent journal.
func (a *Accumulator) Sum() uint64 {
	var sum uint64
	for _, v := range a.Stakes {
		sum += v
	}
	return sum
}

// checkPayout verifies payout = amount + reward without wrapping.
func checkPayout(event model.LedgerEvent) error {
	want, carry := bits.Add64(event.Amount, event.Reward, 0)
	if carry != 0 {
		return fmt.Errorf("amount %d + reward %d overflows", event.Amount, event.Reward)
	}
	if event.Payout != want {
		return fmt.Errorf("payout %d != amount %d + reward %d", event.Payout, event.Amount, event.Reward)
	}
	return nil
}
