package transfer

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/flashsettle/internal/domain"
)

const tokenSchema = `
CREATE TABLE IF NOT EXISTS token_balances (
	token      TEXT NOT NULL,
	holder     TEXT NOT NULL,
	balance    NUMERIC(39, 0) NOT NULL DEFAULT 0 CHECK (balance >= 0),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (token, holder)
);
CREATE TABLE IF NOT EXISTS token_transfers (
	id          BIGSERIAL PRIMARY KEY,
	token       TEXT NOT NULL,
	from_holder TEXT NOT NULL,
	to_holder   TEXT NOT NULL,
	amount      NUMERIC(39, 0) NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS token_entries (
	transfer_id BIGINT NOT NULL REFERENCES token_transfers (id),
	holder      TEXT NOT NULL,
	delta       NUMERIC(39, 0) NOT NULL
)`

// Postgres keeps double-entry token balances in Postgres.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, tokenSchema); err != nil {
		return fmt.Errorf("create token schema: %w", err)
	}
	return nil
}

// Balance returns the holder's balance, zero for unknown holders.
func (s *Postgres) Balance(ctx context.Context, token, holder domain.Address) (*big.Int, error) {
	var raw string
	err := s.db.QueryRow(ctx,
		"SELECT balance::text FROM token_balances WHERE token = $1 AND holder = $2",
		token.String(), holder.String(),
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("balance query failed: %w", err)
	}
	return parseNumeric(raw)
}

// Transfer executes the double-entry movement within a transaction with deterministic locking.
func (s *Postgres) Transfer(ctx context.Context, token, from, to domain.Address, amount *big.Int) error {
	if err := s.transfer(ctx, token, from, to, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return nil
}

func (s *Postgres) transfer(ctx context.Context, token, from, to domain.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	// 1. Receiver rows are created on first credit
	_, err = tx.Exec(ctx,
		"INSERT INTO token_balances (token, holder) VALUES ($1, $2) ON CONFLICT (token, holder) DO NOTHING",
		token.String(), to.String(),
	)
	if err != nil {
		return fmt.Errorf("receiver upsert failed: %w", err)
	}

	// 2. Deterministic Locking (Deadlock Prevention)
	first, second := from, to
	if first > second {
		first, second = second, first
	}
	balances := make(map[domain.Address]*big.Int, 2)
	for _, holder := range []domain.Address{first, second} {
		if _, seen := balances[holder]; seen {
			continue
		}
		var raw string
		err = tx.QueryRow(ctx,
			"SELECT balance::text FROM token_balances WHERE token = $1 AND holder = $2 FOR UPDATE",
			token.String(), holder.String(),
		).Scan(&raw)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrHolderNotFound
		}
		if err != nil {
			return fmt.Errorf("lock acquisition failed: %w", err)
		}
		if balances[holder], err = parseNumeric(raw); err != nil {
			return err
		}
	}

	// 3. Business Logic Check
	if balances[from].Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}

	// 4. Execution: Insert Transfer & Entries
	var transferID int64
	err = tx.QueryRow(ctx,
		"INSERT INTO token_transfers (token, from_holder, to_holder, amount) VALUES ($1, $2, $3, $4::numeric) RETURNING id",
		token.String(), from.String(), to.String(), amount.String(),
	).Scan(&transferID)
	if err != nil {
		return fmt.Errorf("transfer insert failed: %w", err)
	}

	neg := new(big.Int).Neg(amount)
	_, err = tx.Exec(ctx,
		"INSERT INTO token_entries (transfer_id, holder, delta) VALUES ($1, $2, $3::numeric), ($1, $4, $5::numeric)",
		transferID, from.String(), neg.String(), to.String(), amount.String(),
	)
	if err != nil {
		return fmt.Errorf("entry insert failed: %w", err)
	}

	// 5. Update Balances
	_, err = tx.Exec(ctx,
		"UPDATE token_balances SET balance = balance - $1::numeric WHERE token = $2 AND holder = $3",
		amount.String(), token.String(), from.String(),
	)
	if err != nil {
		return checkViolation(err)
	}
	_, err = tx.Exec(ctx,
		"UPDATE token_balances SET balance = balance + $1::numeric WHERE token = $2 AND holder = $3",
		amount.String(), token.String(), to.String(),
	)
	if err != nil {
		return checkViolation(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

func checkViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23514" {
		return ErrInsufficientFunds
	}
	return fmt.Errorf("balance update failed: %w", err)
}

func parseNumeric(raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric balance %q", raw)
	}
	return v, nil
}
