// Package ledger moves stake money in and out of player wallets. Every
// movement is keyed by (match, player, kind) so a retried call never
// applies twice.
package ledger

import (
	"context"
	"errors"
)

//go:generate mockgen -destination=mocks/mock_gateway.go -package=mocks github.com/sixking/backend/internal/ledger Gateway

// Kind labels a wallet movement.
type Kind string

const (
	KindStake  Kind = "game_stake"
	KindWin    Kind = "game_win"
	KindLoss   Kind = "game_loss"
	KindLeft   Kind = "game_left"
	KindRefund Kind = "game_refund"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
)

// Entry describes one movement. Amount is always positive; direction comes
// from the method it is passed to.
type Entry struct {
	PlayerID    string
	MatchID     string
	Kind        Kind
	Amount      int64
	Description string
}

type key struct {
	matchID  string
	playerID string
	kind     Kind
}

func (e Entry) key() key {
	return key{matchID: e.MatchID, playerID: e.PlayerID, kind: e.Kind}
}

// Gateway is the wallet boundary the game engine talks to.
type Gateway interface {
	GetBalance(ctx context.Context, playerID string) (int64, error)
	// Debit removes Amount, failing with ErrInsufficientFunds when the
	// balance cannot cover it. Returns the balance after the call.
	Debit(ctx context.Context, e Entry) (int64, error)
	// Credit adds Amount and returns the balance after the call.
	Credit(ctx context.Context, e Entry) (int64, error)
	// Annotate records a zero-value entry (loss, forfeit) for history.
	Annotate(ctx context.Context, e Entry) error
}
