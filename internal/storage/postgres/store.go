package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"stakingLedger/internal/model"
	"stakingLedger/internal/storage"
)

// journalSeqName is the ledger_state row holding the last allocated journal
// sequence number.
const journalSeqName = "journal_seq"

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS staking_pools (
		pool_id BYTEA PRIMARY KEY,
		administrator BYTEA NOT NULL,
		asset BYTEA NOT NULL,
		vault BYTEA NOT NULL,
		authority BYTEA NOT NULL,
		total_staked NUMERIC(20, 0) NOT NULL,
		annual_rate_percent SMALLINT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS staking_positions (
		pool_id BYTEA NOT NULL,
		user_address BYTEA NOT NULL,
		amount NUMERIC(20, 0) NOT NULL,
		last_update BIGINT NOT NULL,
		unclaimed_reward NUMERIC(20, 0) NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (pool_id, user_address)
	);

	CREATE TABLE IF NOT EXISTS custody_accounts (
		address BYTEA PRIMARY KEY,
		owner BYTEA NOT NULL,
		balance NUMERIC(20, 0) NOT NULL,
		is_vault BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS ledger_state (
		name TEXT PRIMARY KEY,
		last_processed_seq BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
`

// Store provides Postgres persistence for ledger records.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// EnsureSchema creates the ledger tables if they don't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Update runs fn in a read-write transaction. Pool rows read through the
// transaction are locked until it ends.
func (s *Store) Update(ctx context.Context, fn func(tx storage.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx, writable: true})
	})
}

func (s *Store) View(ctx context.Context, fn func(tx storage.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

// LoadState returns last_processed_seq for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var seq int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_seq FROM ledger_state WHERE name=$1`, name)
	if err := row.Scan(&seq); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(seq), true, nil
}

// SaveState upserts last_processed_seq for a name.
func (s *Store) SaveState(ctx context.Context, name string, seq uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ledger_state (name, last_processed_seq, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_seq = EXCLUDED.last_processed_seq, updated_at = now()
	`, name, int64(seq))
	return err
}

type pgTx struct {
	tx       pgx.Tx
	writable bool
}

func (t *pgTx) lockClause() string {
	if t.writable {
		return " FOR UPDATE"
	}
	return ""
}

func (t *pgTx) GetPool(ctx context.Context, id model.PoolID) (model.Pool, bool, error) {
	var (
		admin, asset, vault, authority []byte
		total                          pgtype.Numeric
		rate                           int16
		pool                           model.Pool
	)
	row := t.tx.QueryRow(ctx, `
		SELECT administrator, asset, vault, authority, total_staked, annual_rate_percent, created_at
		FROM staking_pools WHERE pool_id=$1`+t.lockClause(), id.Bytes())
	if err := row.Scan(&admin, &asset, &vault, &authority, &total, &rate, &pool.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Pool{}, false, nil
		}
		return model.Pool{}, false, err
	}
	totalStaked, err := fromNumeric(total)
	if err != nil {
		return model.Pool{}, false, fmt.Errorf("total_staked: %w", err)
	}
	pool.ID = id
	pool.Administrator = common.BytesToAddress(admin)
	pool.Asset = common.BytesToAddress(asset)
	pool.Vault = common.BytesToAddress(vault)
	pool.Authority = common.BytesToAddress(authority)
	pool.TotalStaked = totalStaked
	pool.AnnualRatePercent = uint8(rate)
	return pool, true, nil
}

func (t *pgTx) PutPool(ctx context.Context, pool model.Pool) error {
	if !t.writable {
		return storage.ErrReadOnly
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO staking_pools (
			pool_id, administrator, asset, vault, authority, total_staked, annual_rate_percent, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (pool_id)
		DO UPDATE SET
			total_staked = EXCLUDED.total_staked,
			annual_rate_percent = EXCLUDED.annual_rate_percent,
			updated_at = now()
	`,
		pool.ID.Bytes(),
		pool.Administrator.Bytes(),
		pool.Asset.Bytes(),
		pool.Vault.Bytes(),
		pool.Authority.Bytes(),
		toNumeric(pool.TotalStaked),
		int16(pool.AnnualRatePercent),
		pool.CreatedAt,
	)
	return err
}

func (t *pgTx) DeletePool(ctx context.Context, id model.PoolID) error {
	if !t.writable {
		return storage.ErrReadOnly
	}
	_, err := t.tx.Exec(ctx, `DELETE FROM staking_pools WHERE pool_id=$1`, id.Bytes())
	return err
}

func (t *pgTx) GetPosition(ctx context.Context, pool model.PoolID, user common.Address) (model.UserPosition, bool, error) {
	var amount, unclaimed pgtype.Numeric
	pos := model.UserPosition{Pool: pool, User: user}
	row := t.tx.QueryRow(ctx, `
		SELECT amount, last_update, unclaimed_reward
		FROM staking_positions WHERE pool_id=$1 AND user_address=$2`+t.lockClause(), pool.Bytes(), user.Bytes())
	if err := row.Scan(&amount, &pos.LastUpdate, &unclaimed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.UserPosition{}, false, nil
		}
		return model.UserPosition{}, false, err
	}
	var err error
	if pos.Amount, err = fromNumeric(amount); err != nil {
		return model.UserPosition{}, false, fmt.Errorf("amount: %w", err)
	}
	if pos.UnclaimedReward, err = fromNumeric(unclaimed); err != nil {
		return model.UserPosition{}, false, fmt.Errorf("unclaimed_reward: %w", err)
	}
	return pos, true, nil
}

func (t *pgTx) PutPosition(ctx context.Context, position model.UserPosition) error {
	if !t.writable {
		return storage.ErrReadOnly
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO staking_positions (
			pool_id, user_address, amount, last_update, unclaimed_reward, updated_at
		) VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (pool_id, user_address)
		DO UPDATE SET
			amount = EXCLUDED.amount,
			last_update = EXCLUDED.last_update,
			unclaimed_reward = EXCLUDED.unclaimed_reward,
			updated_at = now()
	`,
		position.Pool.Bytes(),
		position.User.Bytes(),
		toNumeric(position.Amount),
		position.LastUpdate,
		toNumeric(position.UnclaimedReward),
	)
	return err
}

func (t *pgTx) Positions(ctx context.Context, pool model.PoolID) ([]model.UserPosition, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT user_address, amount, last_update, unclaimed_reward
		FROM staking_positions WHERE pool_id=$1 ORDER BY user_address`, pool.Bytes())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.UserPosition, 0)
	for rows.Next() {
		var (
			user              []byte
			amount, unclaimed pgtype.Numeric
			pos               = model.UserPosition{Pool: pool}
		)
		if err := rows.Scan(&user, &amount, &pos.LastUpdate, &unclaimed); err != nil {
			return nil, err
		}
		pos.User = common.BytesToAddress(user)
		if pos.Amount, err = fromNumeric(amount); err != nil {
			return nil, fmt.Errorf("amount: %w", err)
		}
		if pos.UnclaimedReward, err = fromNumeric(unclaimed); err != nil {
			return nil, fmt.Errorf("unclaimed_reward: %w", err)
		}
		out = append(out, pos)
	}
	return out, rows.Err()
}

func (t *pgTx) GetAccount(ctx context.Context, address common.Address) (model.Account, bool, error) {
	var (
		owner   []byte
		balance pgtype.Numeric
		acct    = model.Account{Address: address}
	)
	row := t.tx.QueryRow(ctx, `
		SELECT owner, balance, is_vault FROM custody_accounts WHERE address=$1`+t.lockClause(), address.Bytes())
	if err := row.Scan(&owner, &balance, &acct.Vault); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Account{}, false, nil
		}
		return model.Account{}, false, err
	}
	var err error
	if acct.Balance, err = fromNumeric(balance); err != nil {
		return model.Account{}, false, fmt.Errorf("balance: %w", err)
	}
	acct.Owner = common.BytesToAddress(owner)
	return acct, true, nil
}

func (t *pgTx) PutAccount(ctx context.Context, account model.Account) error {
	if !t.writable {
		return storage.ErrReadOnly
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO custody_accounts (address, owner, balance, is_vault, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (address)
		DO UPDATE SET
			owner = EXCLUDED.owner,
			balance = EXCLUDED.balance,
			is_vault = EXCLUDED.is_vault,
			updated_at = now()
	`,
		account.Address.Bytes(),
		account.Owner.Bytes(),
		toNumeric(account.Balance),
		account.Vault,
	)
	return err
}

func (t *pgTx) DeleteAccount(ctx context.Context, address common.Address) error {
	if !t.writable {
		return storage.ErrReadOnly
	}
	_, err := t.tx.Exec(ctx, `DELETE FROM custody_accounts WHERE address=$1`, address.Bytes())
	return err
}

// NextSeq bumps the journal counter row. The row stays locked until the
// transaction ends, so concurrent writers in any process commit in sequence
// order.
func (t *pgTx) NextSeq(ctx context.Context) (uint64, error) {
	if !t.writable {
		return 0, storage.ErrReadOnly
	}
	var seq int64
	row := t.tx.QueryRow(ctx, `
		INSERT INTO ledger_state (name, last_processed_seq, updated_at)
		VALUES ($1, 1, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_seq = ledger_state.last_processed_seq + 1, updated_at = now()
		RETURNING last_processed_seq
	`, journalSeqName)
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("next seq: %w", err)
	}
	return uint64(seq), nil
}

func (t *pgTx) JournalSeq(ctx context.Context) (uint64, error) {
	var seq int64
	row := t.tx.QueryRow(ctx, `SELECT last_processed_seq FROM ledger_state WHERE name=$1`, journalSeqName)
	if err := row.Scan(&seq); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return uint64(seq), nil
}

func toNumeric(v uint64) pgtype.Numeric {
	return pgtype.Numeric{Int: new(big.Int).SetUint64(v), Valid: true}
}

func fromNumeric(n pgtype.Numeric) (uint64, error) {
	if !n.Valid || n.Int == nil {
		return 0, fmt.Errorf("null numeric")
	}
	v := new(big.Int).Set(n.Int)
	if n.Exp > 0 {
		v.Mul(v, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n.Exp)), nil))
	} else if n.Exp < 0 {
		v.Quo(v, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-n.Exp)), nil))
	}
	if v.Sign() < 0 || !v.IsUint64() {
		return 0, fmt.Errorf("numeric out of uint64 range: %s", v)
	}
	return v.Uint64(), nil
}
