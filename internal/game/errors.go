package game

import (
	"errors"

	"github.com/sixking/backend/internal/ledger"
)

// GameError is a precondition or validation failure reported to the sender.
type GameError string

// Error implements the error interface
func (e GameError) Error() string {
	return string(e)
}

const (
	ErrMatchNotFound      GameError = "match not found"
	ErrMatchFull          GameError = "match already has two players"
	ErrStakeMismatch      GameError = "stake does not match the match stake"
	ErrNotActive          GameError = "match is not active"
	ErrNotYourTurn        GameError = "not your turn"
	ErrAlreadyInGame      GameError = "player is already in a match or queue"
	ErrInvalidStake       GameError = "invalid stake amount"
	ErrInvalidMessage     GameError = "invalid message"
	ErrUnknownMessageType GameError = "unknown message type"
	ErrUnauthorized       GameError = "connection is not bound to this player"
	ErrNotInMatch         GameError = "player is not part of this match"
	ErrUpdateFailed       GameError = "connection could not be rebound to this match"
	ErrNotEnoughPlayers   GameError = "match needs two players to start"
)

// Wire error codes.
const (
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeGameNotFound        = "GAME_NOT_FOUND"
	CodeGameFull            = "GAME_FULL"
	CodeStakeMismatch       = "STAKE_MISMATCH"
	CodeNotYourTurn         = "NOT_YOUR_TURN"
	CodeNotActive           = "NOT_ACTIVE"
	CodeAlreadyInGame       = "ALREADY_IN_GAME"
	CodeInvalidStake        = "INVALID_STAKE"
	CodeInvalidMessage      = "INVALID_MESSAGE"
	CodeUnknownMessageType  = "UNKNOWN_MESSAGE_TYPE"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeNotInGame           = "NOT_IN_GAME"
	CodeUpdateFailed        = "UPDATE_FAILED"
	CodeStartFailed         = "START_FAILED"
	CodeInternal            = "INTERNAL_ERROR"
)

var errorCodes = map[GameError]string{
	ErrMatchNotFound:      CodeGameNotFound,
	ErrMatchFull:          CodeGameFull,
	ErrStakeMismatch:      CodeStakeMismatch,
	ErrNotActive:          CodeNotActive,
	ErrNotYourTurn:        CodeNotYourTurn,
	ErrAlreadyInGame:      CodeAlreadyInGame,
	ErrInvalidStake:       CodeInvalidStake,
	ErrInvalidMessage:     CodeInvalidMessage,
	ErrUnknownMessageType: CodeUnknownMessageType,
	ErrUnauthorized:       CodeUnauthorized,
	ErrNotInMatch:         CodeNotInGame,
	ErrUpdateFailed:       CodeUpdateFailed,
	ErrNotEnoughPlayers:   CodeStartFailed,
}

// ErrorCode maps an error to the code sent in the error envelope.
func ErrorCode(err error) string {
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		return CodeInsufficientBalance
	}
	var ge GameError
	if errors.As(err, &ge) {
		if code, ok := errorCodes[ge]; ok {
			return code
		}
	}
	return CodeInternal
}

// escrowError identifies which player's debit failed while forming a match.
type escrowError struct {
	PlayerID string
	Err      error
}

func (e *escrowError) Error() string {
	return "escrow failed for " + e.PlayerID + ": " + e.Err.Error()
}

func (e *escrowError) Unwrap() error { return e.Err }
