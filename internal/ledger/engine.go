package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"stakingLedger/internal/metrics"
	"stakingLedger/internal/model"
	"stakingLedger/internal/storage"
)

// Custody moves asset units in and out of pool vaults. Every call operates
// on the accounts of the surrounding storage transaction.
type Custody interface {
	OpenVault(ctx context.Context, accts storage.Accounts, vault, authority common.Address) error
	Deposit(ctx context.Context, accts storage.Accounts, vault, from common.Address, amount uint64) error
	Withdraw(ctx context.Context, accts storage.Accounts, vault, to common.Address, amount uint64, authority common.Address) error
	Balance(ctx context.Context, accts storage.Accounts, vault common.Address) (uint64, error)
	CloseAccount(ctx context.Context, accts storage.Accounts, vault, authority, destination common.Address) error
}

// WalletReader is implemented by custody backends that can report wallet
// balances.
type WalletReader interface {
	WalletBalance(ctx context.Context, accts storage.Accounts, address common.Address) (uint64, error)
}

// Clock supplies the current unix time in seconds.
type Clock interface {
	Now(ctx context.Context) (int64, error)
}

// Config controls variant behavior.
type Config struct {
	AllowClose  bool
	StakePolicy StakePolicy
}

// Receipt describes a committed stake, unstake, fund or close. Seq is the
// journal sequence number allocated by the commit.
type Receipt struct {
	Seq         uint64
	Pool        model.PoolID
	User        common.Address
	Amount      uint64
	Reward      uint64
	Payout      uint64
	TotalStaked uint64
	Position    model.UserPosition
	Timestamp   int64
}

// Summary is a read-only view of one user in one pool.
type Summary struct {
	Pool          model.Pool
	Position      model.UserPosition
	Available     uint64
	PendingReward uint64
	VaultBalance  uint64
	Timestamp     int64
}

// Engine applies ledger operations atomically against a store.
type Engine struct {
	cfg     Config
	store   storage.Store
	custody Custody
	clock   Clock
	journal storage.EventSink
	logger  *zap.Logger
}

func NewEngine(cfg Config, store storage.Store, custody Custody, clock Clock, journal storage.EventSink, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:     cfg,
		store:   store,
		custody: custody,
		clock:   clock,
		journal: journal,
		logger:  logger,
	}
}

func (e *Engine) check() error {
	if e.store == nil {
		return fmt.Errorf("store is nil")
	}
	if e.custody == nil {
		return fmt.Errorf("custody is nil")
	}
	if e.clock == nil {
		return fmt.Errorf("clock is nil")
	}
	return nil
}

// Initialize creates the pool for (asset, administrator) and opens its vault.
func (e *Engine) Initialize(ctx context.Context, administrator, asset common.Address, ratePercent uint8) (model.Pool, error) {
	pool, seq, err := e.initialize(ctx, administrator, asset, ratePercent)
	metrics.ObserveOperation(model.EventInitialize, err)
	if err != nil {
		return model.Pool{}, fmt.Errorf("initialize: %w", err)
	}

	e.logger.Info("pool initialized",
		zap.String("pool", pool.ID.Hex()),
		zap.String("administrator", administrator.Hex()),
		zap.String("asset", asset.Hex()),
		zap.String("vault", pool.Vault.Hex()),
		zap.Uint8("rate_percent", ratePercent),
	)
	e.emit(model.LedgerEvent{Seq: seq, Kind: model.EventInitialize, Pool: pool.ID, User: administrator, Timestamp: pool.CreatedAt})
	metrics.ObservePool(pool.ID.Hex(), 0)
	return pool, nil
}

func (e *Engine) initialize(ctx context.Context, administrator, asset common.Address, ratePercent uint8) (model.Pool, uint64, error) {
	if err := e.check(); err != nil {
		return model.Pool{}, 0, err
	}
	now, err := e.clock.Now(ctx)
	if err != nil {
		return model.Pool{}, 0, fmt.Errorf("read clock: %w", err)
	}
	pool, err := NewPool(administrator, asset, ratePercent, now)
	if err != nil {
		return model.Pool{}, 0, err
	}

	seq, err := e.commit(ctx, func(tx storage.Tx) error {
		_, exists, err := tx.GetPool(ctx, pool.ID)
		if err != nil {
			return fmt.Errorf("load pool: %w", err)
		}
		if exists {
			return ErrAlreadyExists
		}
		if err := tx.PutPool(ctx, pool); err != nil {
			return fmt.Errorf("store pool: %w", err)
		}
		return e.custody.OpenVault(ctx, tx, pool.Vault, pool.Authority)
	})
	if err != nil {
		return model.Pool{}, 0, err
	}
	return pool, seq, nil
}

// Stake deposits amount from user's wallet into the pool.
func (e *Engine) Stake(ctx context.Context, poolID model.PoolID, user common.Address, amount uint64) (Receipt, error) {
	receipt, err := e.stake(ctx, poolID, user, amount)
	metrics.ObserveOperation(model.EventStake, err)
	if err != nil {
		e.logger.Debug("stake rejected", zap.String("pool", poolID.Hex()), zap.String("user", user.Hex()), zap.Uint64("amount", amount), zap.Error(err))
		return Receipt{}, fmt.Errorf("stake: %w", err)
	}

	e.logger.Info("stake",
		zap.String("pool", poolID.Hex()),
		zap.String("user", user.Hex()),
		zap.Uint64("amount", amount),
		zap.Uint64("total_staked", receipt.TotalStaked),
	)
	e.emit(model.LedgerEvent{
		Seq:         receipt.Seq,
		Kind:        model.EventStake,
		Pool:        poolID,
		User:        user,
		Amount:      amount,
		TotalStaked: receipt.TotalStaked,
		Timestamp:   receipt.Timestamp,
	})
	metrics.ObservePool(poolID.Hex(), receipt.TotalStaked)
	return receipt, nil
}

func (e *Engine) stake(ctx context.Context, poolID model.PoolID, user common.Address, amount uint64) (Receipt, error) {
	if err := e.check(); err != nil {
		return Receipt{}, err
	}
	if amount == 0 {
		return Receipt{}, ErrInvalidAmount
	}
	now, err := e.clock.Now(ctx)
	if err != nil {
		return Receipt{}, fmt.Errorf("read clock: %w", err)
	}

	var receipt Receipt
	seq, err := e.commit(ctx, func(tx storage.Tx) error {
		pool, err := loadPool(ctx, tx, poolID)
		if err != nil {
			return err
		}
		pos, err := OpenOrGetPosition(ctx, tx, poolID, user, now)
		if err != nil {
			return err
		}
		nextPos, err := ApplyStake(pos, amount, now, pool.AnnualRatePercent, e.cfg.StakePolicy)
		if err != nil {
			return err
		}
		nextPool, err := RecordStake(pool, amount)
		if err != nil {
			return err
		}

		if err := tx.PutPosition(ctx, nextPos); err != nil {
			return fmt.Errorf("store position: %w", err)
		}
		if err := tx.PutPool(ctx, nextPool); err != nil {
			return fmt.Errorf("store pool: %w", err)
		}
		if err := e.custody.Deposit(ctx, tx, pool.Vault, user, amount); err != nil {
			return err
		}

		receipt = Receipt{
			Pool:        poolID,
			User:        user,
			Amount:      amount,
			TotalStaked: nextPool.TotalStaked,
			Position:    nextPos,
			Timestamp:   now,
		}
		return nil
	})
	receipt.Seq = seq
	return receipt, err
}

// Unstake returns amount of principal plus every owed reward to user.
func (e *Engine) Unstake(ctx context.Context, poolID model.PoolID, user common.Address, amount uint64) (Receipt, error) {
	receipt, err := e.unstake(ctx, poolID, user, amount)
	metrics.ObserveOperation(model.EventUnstake, err)
	if err != nil {
		e.logger.Debug("unstake rejected", zap.String("pool", poolID.Hex()), zap.String("user", user.Hex()), zap.Uint64("amount", amount), zap.Error(err))
		return Receipt{}, fmt.Errorf("unstake: %w", err)
	}

	e.logger.Info("unstake",
		zap.String("pool", poolID.Hex()),
		zap.String("user", user.Hex()),
		zap.Uint64("amount", amount),
		zap.Uint64("reward", receipt.Reward),
		zap.Uint64("payout", receipt.Payout),
		zap.Uint64("total_staked", receipt.TotalStaked),
	)
	e.emit(model.LedgerEvent{
		Seq:         receipt.Seq,
		Kind:        model.EventUnstake,
		Pool:        poolID,
		User:        user,
		Amount:      amount,
		Reward:      receipt.Reward,
		Payout:      receipt.Payout,
		TotalStaked: receipt.TotalStaked,
		Timestamp:   receipt.Timestamp,
	})
	metrics.ObservePool(poolID.Hex(), receipt.TotalStaked)
	metrics.ObserveReward(poolID.Hex(), receipt.Reward)
	return receipt, nil
}

func (e *Engine) unstake(ctx context.Context, poolID model.PoolID, user common.Address, amount uint64) (Receipt, error) {
	if err := e.check(); err != nil {
		return Receipt{}, err
	}
	now, err := e.clock.Now(ctx)
	if err != nil {
		return Receipt{}, fmt.Errorf("read clock: %w", err)
	}

	var receipt Receipt
	seq, err := e.commit(ctx, func(tx storage.Tx) error {
		pool, err := loadPool(ctx, tx, poolID)
		if err != nil {
			return err
		}
		pos, _, err := tx.GetPosition(ctx, poolID, user)
		if err != nil {
			return fmt.Errorf("load position: %w", err)
		}
		nextPos, settlement, err := ApplyUnstake(pos, amount, now, pool.AnnualRatePercent)
		if err != nil {
			return err
		}
		nextPool, err := RecordUnstake(pool, amount)
		if err != nil {
			return err
		}

		balance, err := e.custody.Balance(ctx, tx, pool.Vault)
		if err != nil {
			return err
		}
		if balance < settlement.Payout || balance-settlement.Payout < nextPool.TotalStaked {
			return fmt.Errorf("%w: balance %d, payout %d, remaining stake %d",
				ErrInsufficientReserve, balance, settlement.Payout, nextPool.TotalStaked)
		}

		if err := tx.PutPosition(ctx, nextPos); err != nil {
			return fmt.Errorf("store position: %w", err)
		}
		if err := tx.PutPool(ctx, nextPool); err != nil {
			return fmt.Errorf("store pool: %w", err)
		}
		if err := e.custody.Withdraw(ctx, tx, pool.Vault, user, settlement.Payout, pool.Authority); err != nil {
			return err
		}

		receipt = Receipt{
			Pool:        poolID,
			User:        user,
			Amount:      amount,
			Reward:      settlement.Reward,
			Payout:      settlement.Payout,
			TotalStaked: nextPool.TotalStaked,
			Position:    nextPos,
			Timestamp:   now,
		}
		return nil
	})
	receipt.Seq = seq
	return receipt, err
}

// FundRewards deposits amount from a wallet into the pool vault as reward
// reserve. It does not change any position.
func (e *Engine) FundRewards(ctx context.Context, poolID model.PoolID, from common.Address, amount uint64) (Receipt, error) {
	receipt, err := e.fund(ctx, poolID, from, amount)
	metrics.ObserveOperation(model.EventFund, err)
	if err != nil {
		return Receipt{}, fmt.Errorf("fund: %w", err)
	}

	e.logger.Info("reward reserve funded",
		zap.String("pool", poolID.Hex()),
		zap.String("from", from.Hex()),
		zap.Uint64("amount", amount),
	)
	e.emit(model.LedgerEvent{
		Seq:         receipt.Seq,
		Kind:        model.EventFund,
		Pool:        poolID,
		User:        from,
		Amount:      amount,
		TotalStaked: receipt.TotalStaked,
		Timestamp:   receipt.Timestamp,
	})
	return receipt, nil
}

func (e *Engine) fund(ctx context.Context, poolID model.PoolID, from common.Address, amount uint64) (Receipt, error) {
	if err := e.check(); err != nil {
		return Receipt{}, err
	}
	if amount == 0 {
		return Receipt{}, ErrInvalidAmount
	}
	now, err := e.clock.Now(ctx)
	if err != nil {
		return Receipt{}, fmt.Errorf("read clock: %w", err)
	}

	var receipt Receipt
	seq, err := e.commit(ctx, func(tx storage.Tx) error {
		pool, err := loadPool(ctx, tx, poolID)
		if err != nil {
			return err
		}
		if err := e.custody.Deposit(ctx, tx, pool.Vault, from, amount); err != nil {
			return err
		}
		receipt = Receipt{Pool: poolID, User: from, Amount: amount, TotalStaked: pool.TotalStaked, Timestamp: now}
		return nil
	})
	receipt.Seq = seq
	return receipt, err
}

// Close drains the vault to the administrator and deletes the pool.
func (e *Engine) Close(ctx context.Context, poolID model.PoolID, caller common.Address) (Receipt, error) {
	receipt, err := e.close(ctx, poolID, caller)
	metrics.ObserveOperation(model.EventClose, err)
	if err != nil {
		return Receipt{}, fmt.Errorf("close: %w", err)
	}

	e.logger.Info("pool closed",
		zap.String("pool", poolID.Hex()),
		zap.String("administrator", caller.Hex()),
		zap.Uint64("residual", receipt.Payout),
	)
	e.emit(model.LedgerEvent{
		Seq:       receipt.Seq,
		Kind:      model.EventClose,
		Pool:      poolID,
		User:      caller,
		Payout:    receipt.Payout,
		Timestamp: receipt.Timestamp,
	})
	metrics.ForgetPool(poolID.Hex())
	return receipt, nil
}

func (e *Engine) close(ctx context.Context, poolID model.PoolID, caller common.Address) (Receipt, error) {
	if err := e.check(); err != nil {
		return Receipt{}, err
	}
	now, err := e.clock.Now(ctx)
	if err != nil {
		return Receipt{}, fmt.Errorf("read clock: %w", err)
	}

	var receipt Receipt
	seq, err := e.commit(ctx, func(tx storage.Tx) error {
		pool, err := loadPool(ctx, tx, poolID)
		if err != nil {
			return err
		}
		if err := CheckClose(pool, caller, e.cfg.AllowClose); err != nil {
			return err
		}
		residual, err := e.custody.Balance(ctx, tx, pool.Vault)
		if err != nil {
			return err
		}
		if residual > 0 {
			if err := e.custody.Withdraw(ctx, tx, pool.Vault, pool.Administrator, residual, pool.Authority); err != nil {
				return err
			}
		}
		if err := e.custody.CloseAccount(ctx, tx, pool.Vault, pool.Authority, pool.Administrator); err != nil {
			return err
		}
		if err := tx.DeletePool(ctx, poolID); err != nil {
			return fmt.Errorf("delete pool: %w", err)
		}
		receipt = Receipt{Pool: poolID, User: caller, Payout: residual, Timestamp: now}
		return nil
	})
	receipt.Seq = seq
	return receipt, err
}

// Pool returns the stored pool.
func (e *Engine) Pool(ctx context.Context, poolID model.PoolID) (model.Pool, error) {
	var pool model.Pool
	err := e.store.View(ctx, func(tx storage.Tx) error {
		var err error
		pool, err = loadPool(ctx, tx, poolID)
		return err
	})
	return pool, err
}

// Position returns the stored position; ok is false when the user never
// staked in the pool.
func (e *Engine) Position(ctx context.Context, poolID model.PoolID, user common.Address) (model.UserPosition, bool, error) {
	var (
		pos model.UserPosition
		ok  bool
	)
	err := e.store.View(ctx, func(tx storage.Tx) error {
		var err error
		pos, ok, err = tx.GetPosition(ctx, poolID, user)
		return err
	})
	return pos, ok, err
}

// Summary reports principal, wallet balance, pending reward and vault
// balance for user at the current time.
func (e *Engine) Summary(ctx context.Context, poolID model.PoolID, user common.Address) (Summary, error) {
	if err := e.check(); err != nil {
		return Summary{}, err
	}
	now, err := e.clock.Now(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("read clock: %w", err)
	}

	var summary Summary
	err = e.store.View(ctx, func(tx storage.Tx) error {
		pool, err := loadPool(ctx, tx, poolID)
		if err != nil {
			return err
		}
		pos, _, err := tx.GetPosition(ctx, poolID, user)
		if err != nil {
			return fmt.Errorf("load position: %w", err)
		}
		pending, err := PendingReward(pos, now, pool.AnnualRatePercent)
		if err != nil {
			return err
		}
		vault, err := e.custody.Balance(ctx, tx, pool.Vault)
		if err != nil {
			return err
		}
		var available uint64
		if wr, ok := e.custody.(WalletReader); ok {
			if available, err = wr.WalletBalance(ctx, tx, user); err != nil {
				return err
			}
		}
		summary = Summary{
			Pool:          pool,
			Position:      pos,
			Available:     available,
			PendingReward: pending,
			VaultBalance:  vault,
			Timestamp:     now,
		}
		return nil
	})
	return summary, err
}

// CheckInvariants verifies that the pool total equals the sum of position
// principals and that the vault covers it.
func (e *Engine) CheckInvariants(ctx context.Context, poolID model.PoolID) error {
	return e.store.View(ctx, func(tx storage.Tx) error {
		pool, err := loadPool(ctx, tx, poolID)
		if err != nil {
			return err
		}
		positions, err := tx.Positions(ctx, poolID)
		if err != nil {
			return fmt.Errorf("list positions: %w", err)
		}
		var sum uint64
		for _, pos := range positions {
			if sum, err = checkedAdd(sum, pos.Amount); err != nil {
				return err
			}
		}
		if sum != pool.TotalStaked {
			return fmt.Errorf("%w: total_staked %d, positions sum %d", ErrInvariantViolation, pool.TotalStaked, sum)
		}
		balance, err := e.custody.Balance(ctx, tx, pool.Vault)
		if err != nil {
			return err
		}
		if balance < pool.TotalStaked {
			return fmt.Errorf("%w: vault balance %d below total_staked %d", ErrInvariantViolation, balance, pool.TotalStaked)
		}
		return nil
	})
}

// commit runs fn in one store transaction and allocates the journal sequence
// number as its last step, after custody has succeeded.
func (e *Engine) commit(ctx context.Context, fn func(tx storage.Tx) error) (uint64, error) {
	var seq uint64
	err := e.store.Update(ctx, func(tx storage.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		var err error
		seq, err = tx.NextSeq(ctx)
		return err
	})
	return seq, err
}

// emit appends a committed event. Concurrent commits may reach the file out
// of order; the audit replays by sequence number.
func (e *Engine) emit(event model.LedgerEvent) {
	if e.journal == nil {
		return
	}
	event.RecordedAt = time.Now().UTC().Format(time.RFC3339Nano)
	if err := e.journal.PutEventBatch([]model.LedgerEvent{event}); err != nil {
		e.logger.Warn("journal append failed", zap.Uint64("seq", event.Seq), zap.String("kind", event.Kind), zap.Error(err))
	}
}

func loadPool(ctx context.Context, tx storage.Tx, poolID model.PoolID) (model.Pool, error) {
	pool, ok, err := tx.GetPool(ctx, poolID)
	if err != nil {
		return model.Pool{}, fmt.Errorf("load pool: %w", err)
	}
	if !ok {
		return model.Pool{}, ErrPoolNotFound
	}
	return pool, nil
}
