package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
)

// Postgres is the production Gateway backed by the wallets and
// wallet_transactions tables.
type Postgres struct {
	db       *sqlx.DB
	starting int64
}

// NewPostgres returns a Gateway that opens wallets lazily with startingBalance.
func NewPostgres(db *sqlx.DB, startingBalance int64) *Postgres {
	return &Postgres{db: db, starting: startingBalance}
}

func (p *Postgres) GetBalance(ctx context.Context, playerID string) (int64, error) {
	var bal int64
	err := p.db.GetContext(ctx, &bal, `SELECT balance FROM wallets WHERE player_id=$1`, playerID)
	if errors.Is(err, sql.ErrNoRows) {
		return p.starting, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return bal, nil
}

func (p *Postgres) Debit(ctx context.Context, e Entry) (int64, error) {
	return p.apply(ctx, e, -e.Amount)
}

func (p *Postgres) Credit(ctx context.Context, e Entry) (int64, error) {
	return p.apply(ctx, e, e.Amount)
}

func (p *Postgres) Annotate(ctx context.Context, e Entry) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	bal, err := p.lockWallet(ctx, tx, e.PlayerID)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO wallet_transactions (player_id, match_id, kind, amount, balance_after, description, created_at)
		VALUES ($1,$2,$3,0,$4,$5,NOW()) ON CONFLICT (match_id, player_id, kind) DO NOTHING`,
		e.PlayerID, e.MatchID, string(e.Kind), bal, e.Description); err != nil {
		return fmt.Errorf("failed to insert annotation: %w", err)
	}
	return tx.Commit()
}

// apply runs one movement in its own transaction: lock the wallet row,
// short-circuit if the (match, player, kind) row already exists, check the
// balance, update, record.
func (p *Postgres) apply(ctx context.Context, e Entry, delta int64) (int64, error) {
	if e.Amount <= 0 {
		return 0, ErrInvalidAmount
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	bal, err := p.lockWallet(ctx, tx, e.PlayerID)
	if err != nil {
		return 0, err
	}

	// Idempotency check: a retried call returns the recorded balance.
	var prior int64
	err = tx.GetContext(ctx, &prior, `SELECT balance_after FROM wallet_transactions WHERE match_id=$1 AND player_id=$2 AND kind=$3`,
		e.MatchID, e.PlayerID, string(e.Kind))
	if err == nil {
		log.Printf("[LEDGER] %s already applied for player=%s match=%s", e.Kind, e.PlayerID, e.MatchID)
		return prior, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to check existing entry: %w", err)
	}

	if bal+delta < 0 {
		return bal, ErrInsufficientFunds
	}
	bal += delta

	if _, err := tx.ExecContext(ctx, `UPDATE wallets SET balance=$1, updated_at=NOW() WHERE player_id=$2`, bal, e.PlayerID); err != nil {
		return 0, fmt.Errorf("failed to update wallet: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO wallet_transactions (player_id, match_id, kind, amount, balance_after, description, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,NOW())`,
		e.PlayerID, e.MatchID, string(e.Kind), delta, bal, e.Description); err != nil {
		return 0, fmt.Errorf("failed to insert wallet transaction: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}

	log.Printf("[LEDGER] %s player=%s match=%s delta=%d balance=%d", e.Kind, e.PlayerID, e.MatchID, delta, bal)
	return bal, nil
}

func (p *Postgres) lockWallet(ctx context.Context, tx *sqlx.Tx, playerID string) (int64, error) {
	if _, err := tx.ExecContext(ctx, `INSERT INTO wallets (player_id, balance, created_at, updated_at) VALUES ($1,$2,NOW(),NOW())
		ON CONFLICT (player_id) DO NOTHING`, playerID, p.starting); err != nil {
		return 0, fmt.Errorf("failed to open wallet: %w", err)
	}
	var bal int64
	if err := tx.GetContext(ctx, &bal, `SELECT balance FROM wallets WHERE player_id=$1 FOR UPDATE`, playerID); err != nil {
		return 0, fmt.Errorf("failed to lock wallet: %w", err)
	}
	return bal, nil
}
