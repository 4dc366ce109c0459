package models

import "time"

// Wallet is a player's spendable balance in minor units.
type Wallet struct {
	PlayerID  string    `db:"player_id" json:"player_id"`
	Balance   int64     `db:"balance" json:"balance"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// WalletTransaction is one ledger movement. Amount is signed: stakes are
// negative, wins and refunds positive, loss annotations zero.
type WalletTransaction struct {
	ID           int64     `db:"id" json:"id"`
	PlayerID     string    `db:"player_id" json:"player_id"`
	MatchID      string    `db:"match_id" json:"match_id"`
	Kind         string    `db:"kind" json:"kind"`
	Amount       int64     `db:"amount" json:"amount"`
	BalanceAfter int64     `db:"balance_after" json:"balance_after"`
	Description  string    `db:"description" json:"description,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
