package game

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"
)

// Conn is a live player connection. Send must not block.
type Conn interface {
	ID() string
	Send(data []byte) bool
}

// authenticated is implemented by connections that carry a verified player id.
type authenticated interface {
	AuthenticatedPlayer() string
}

// Inbound message types.
const (
	MsgCreateGame       = "create_game"
	MsgJoinGame         = "join_game"
	MsgJoinQueue        = "join_queue"
	MsgLeaveQueue       = "leave_queue"
	MsgRollDice         = "roll_dice"
	MsgLeaveGame        = "leave_game"
	MsgUpdateConnection = "update_connection"
	MsgStartGame        = "start_game"
	MsgPing             = "ping"
)

// Outbound message types.
const (
	EvtGameCreated       = "game_created"
	EvtGameJoined        = "game_joined"
	EvtQueued            = "queued"
	EvtQueueLeft         = "queue_left"
	EvtGameMatched       = "game_matched"
	EvtGameStarted       = "game_started"
	EvtDiceRolled        = "dice_rolled"
	EvtTurnChanged       = "turn_changed"
	EvtGameEnded         = "game_ended"
	EvtPlayerLeft        = "player_left"
	EvtConnectionUpdated = "connection_updated"
	EvtStartAcknowledged = "start_acknowledged"
	EvtConnected         = "connected"
	EvtPong              = "pong"
	EvtError             = "error"
)

// Envelope is the {type, data} frame used in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Amount is a stake in minor units. It decodes from a JSON number or a
// numeric string.
type Amount int64

func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := string(bytes.Trim(b, `"`))
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidStake, s)
	}
	*a = Amount(v)
	return nil
}

// Inbound payloads.

type CreateGameRequest struct {
	PlayerID    string `json:"playerId"`
	DisplayName string `json:"displayName"`
	PlayerName  string `json:"playerName"`
	Stake       Amount `json:"stake"`
}

type JoinGameRequest struct {
	MatchID     string `json:"matchId"`
	PlayerID    string `json:"playerId"`
	DisplayName string `json:"displayName"`
	PlayerName  string `json:"playerName"`
	Stake       Amount `json:"stake"`
}

type JoinQueueRequest struct {
	PlayerID    string `json:"playerId"`
	DisplayName string `json:"displayName"`
	PlayerName  string `json:"playerName"`
	Stake       Amount `json:"stake"`
}

type PlayerRequest struct {
	PlayerID string `json:"playerId"`
}

type MatchRequest struct {
	MatchID  string `json:"matchId"`
	PlayerID string `json:"playerId"`
}

// StartGameRequest accepts gameId as an alias for matchId.
type StartGameRequest struct {
	MatchID  string `json:"matchId"`
	GameID   string `json:"gameId"`
	PlayerID string `json:"playerId"`
}

func (r StartGameRequest) match() string {
	if r.MatchID != "" {
		return r.MatchID
	}
	return r.GameID
}

func displayName(displayName, playerName, playerID string) string {
	if displayName != "" {
		return displayName
	}
	if playerName != "" {
		return playerName
	}
	return playerID
}

// Outbound payloads.

type PlayerSummary struct {
	PlayerID    string `json:"playerId"`
	DisplayName string `json:"displayName"`
	SixCount    int    `json:"sixCount"`
	Connected   bool   `json:"connected"`
	Left        bool   `json:"left,omitempty"`
}

type GameCreated struct {
	MatchID string `json:"matchId"`
	Stake   int64  `json:"stake"`
}

type GameJoined struct {
	MatchID      string `json:"matchId"`
	Stake        int64  `json:"stake"`
	PlayersCount int    `json:"playersCount"`
	Ready        bool   `json:"ready"`
}

type Queued struct {
	Message string `json:"message"`
	Stake   int64  `json:"stake"`
}

type QueueLeft struct {
	Removed bool `json:"removed"`
}

type GameMatched struct {
	MatchID  string        `json:"matchId"`
	Opponent PlayerSummary `json:"opponent"`
	Stake    int64         `json:"stake"`
}

type GameStarted struct {
	MatchID     string          `json:"matchId"`
	FirstPlayer string          `json:"firstPlayer"`
	Players     []PlayerSummary `json:"players"`
	Stake       int64           `json:"stake"`
}

type DiceRolled struct {
	PlayerID    string `json:"playerId"`
	DiceValue   int    `json:"diceValue"`
	NewSixCount int    `json:"newSixCount"`
	RollCount   int    `json:"rollCount"`
	Timestamp   string `json:"timestamp"`
}

type TurnChanged struct {
	NextPlayer string `json:"nextPlayer"`
}

type GameEnded struct {
	MatchID     string         `json:"matchId"`
	Winner      string         `json:"winner,omitempty"`
	Outcome     Outcome        `json:"outcome"`
	FinalScores map[string]int `json:"finalScores"`
	RollCount   int            `json:"rollCount"`
	Stake       int64          `json:"stake"`
}

type PlayerLeft struct {
	LeftPlayerID string `json:"leftPlayerId"`
	Winner       string `json:"winner,omitempty"`
	Message      string `json:"message"`
}

type ConnectionUpdated struct {
	MatchID  string `json:"matchId"`
	PlayerID string `json:"playerId"`
}

type StartAcknowledged struct {
	Message string `json:"message"`
	MatchID string `json:"matchId"`
	GameID  string `json:"gameId"`
}

type Connected struct {
	Message string `json:"message"`
}

type Pong struct {
	Timestamp string `json:"timestamp"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func encode(msgType string, data interface{}) []byte {
	b, err := json.Marshal(outbound{Type: msgType, Data: data})
	if err != nil {
		log.Printf("[WS] Failed to marshal %s: %v", msgType, err)
		return nil
	}
	return b
}

// Welcome is the first frame written to every new connection.
func Welcome() []byte {
	return encode(EvtConnected, Connected{Message: "Connected to game server"})
}

// send pushes one event to c. A nil connection or a full buffer drops the event.
func send(c Conn, msgType string, data interface{}) {
	if c == nil {
		return
	}
	b := encode(msgType, data)
	if b == nil {
		return
	}
	if !c.Send(b) {
		log.Printf("[WS] Dropped %s for connection %s (buffer full or closed)", msgType, c.ID())
	}
}

func sendError(c Conn, err error) {
	send(c, EvtError, ErrorPayload{Code: ErrorCode(err), Message: err.Error()})
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
