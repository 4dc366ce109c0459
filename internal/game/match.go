package game

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sixking/backend/internal/ledger"
)

// Phase of a match. Transitions only move forward.
type Phase string

const (
	PhaseLobby   Phase = "LOBBY"
	PhaseActive  Phase = "ACTIVE"
	PhaseSettled Phase = "SETTLED"
)

// Outcome is the settlement decision recorded once per match.
type Outcome string

const (
	OutcomeThreshold Outcome = "threshold"
	OutcomeForfeit   Outcome = "forfeit"
	OutcomeVoid      Outcome = "void"
	// OutcomeAborted refunds escrow for a queue pairing that never became a
	// match. It is never broadcast.
	OutcomeAborted Outcome = "aborted"
)

// LeaveReason says why a seat was vacated.
type LeaveReason string

const (
	ReasonLeft         LeaveReason = "left"
	ReasonDisconnected LeaveReason = "disconnected"
	ReasonIdle         LeaveReason = "idle"
)

// SixesToWin ends the match the moment a player reaches it.
const SixesToWin = 3

var leaveMessages = map[LeaveReason]string{
	ReasonLeft:         "Opponent left the game",
	ReasonDisconnected: "Opponent disconnected",
	ReasonIdle:         "Opponent forfeited due to inactivity",
}

const lobbyLeaveMessage = "Player left the lobby"

// Player identifies who is taking a seat and where to reach them.
type Player struct {
	ID          string
	DisplayName string
	Conn        Conn
}

type seat struct {
	id          string
	displayName string
	conn        Conn
	sixCount    int
	left        bool
}

func (s *seat) summary() PlayerSummary {
	return PlayerSummary{
		PlayerID:    s.id,
		DisplayName: s.displayName,
		SixCount:    s.sixCount,
		Connected:   s.conn != nil,
		Left:        s.left,
	}
}

// Decision is the single settlement of a match.
type Decision struct {
	MatchID string
	// Ref keys the ledger rows. Match codes are reused after disposal, refs
	// never are.
	Ref      string
	Stake    int64
	Outcome  Outcome
	WinnerID string
	LoserID  string
	// LoserKind is game_loss for threshold wins and game_left for forfeits.
	LoserKind ledger.Kind
	// Refunds lists players whose escrow is returned (void only).
	Refunds []string
}

// Settler pays out a decision. Implementations retry and escalate on their
// own; an error means money is still owed and has been recorded as such.
type Settler interface {
	Settle(ctx context.Context, d Decision) error
}

type matchDeps struct {
	ledger  ledger.Gateway
	settler Settler
	roller  Roller
	now     func() time.Time
}

// Match is one two-player duel. All state is guarded by mu; every outbound
// event is queued while mu is held so both players see the same order.
type Match struct {
	ID string
	// Ref is unique per match for the lifetime of the ledger.
	Ref       string
	Stake     int64
	CreatedAt time.Time

	mu        sync.Mutex
	seats     []*seat
	phase     Phase
	turnOwner string
	rollCount int
	settled   bool
	decision  *Decision
	settledAt time.Time
	disposing bool

	deps matchDeps
}

// RollResult is what a single accepted roll produced.
type RollResult struct {
	Value     int
	SixCount  int
	RollCount int
	Terminal  bool
}

// newMatch escrows the host's stake and opens a lobby. No match exists if
// the debit fails.
func newMatch(ctx context.Context, id string, stake int64, host Player, deps matchDeps) (*Match, error) {
	ref := uuid.NewString()
	if err := escrow(ctx, deps.ledger, ref, id, host.ID, stake); err != nil {
		return nil, err
	}
	m := &Match{
		ID:        id,
		Ref:       ref,
		Stake:     stake,
		CreatedAt: deps.now(),
		phase:     PhaseLobby,
		deps:      deps,
	}
	m.seats = append(m.seats, &seat{id: host.ID, displayName: host.DisplayName, conn: host.Conn})
	log.Printf("[MATCH] %s created by %s stake=%d", id, host.ID, stake)
	return m, nil
}

// newQueuedMatch forms a match from the head of a stake queue and a
// newcomer. The waiting player is escrowed first. If the newcomer's debit
// fails the waiting player is refunded before returning. The returned
// *escrowError names the player whose debit failed.
func newQueuedMatch(ctx context.Context, id string, stake int64, waiting, newcomer Player, deps matchDeps) (*Match, error) {
	first, err := deps.roller.Pick(2)
	if err != nil {
		return nil, fmt.Errorf("pick first player: %w", err)
	}

	ref := uuid.NewString()
	if err := escrow(ctx, deps.ledger, ref, id, waiting.ID, stake); err != nil {
		return nil, &escrowError{PlayerID: waiting.ID, Err: err}
	}
	if err := escrow(ctx, deps.ledger, ref, id, newcomer.ID, stake); err != nil {
		refund := Decision{MatchID: id, Ref: ref, Stake: stake, Outcome: OutcomeAborted, Refunds: []string{waiting.ID}}
		if rerr := deps.settler.Settle(context.WithoutCancel(ctx), refund); rerr != nil {
			log.Printf("[QUEUE] Refund of %s for aborted match %s failed: %v", waiting.ID, id, rerr)
		}
		return nil, &escrowError{PlayerID: newcomer.ID, Err: err}
	}

	// Queue matches skip the visible lobby; announceMatched emits the start.
	m := &Match{
		ID:        id,
		Ref:       ref,
		Stake:     stake,
		CreatedAt: deps.now(),
		phase:     PhaseActive,
		deps:      deps,
	}
	m.seats = []*seat{
		{id: waiting.ID, displayName: waiting.DisplayName, conn: waiting.Conn},
		{id: newcomer.ID, displayName: newcomer.DisplayName, conn: newcomer.Conn},
	}
	m.turnOwner = m.seats[first%2].id
	log.Printf("[QUEUE] %s matched %s vs %s stake=%d", id, waiting.ID, newcomer.ID, stake)
	return m, nil
}

func escrow(ctx context.Context, l ledger.Gateway, ref, matchID, playerID string, stake int64) error {
	_, err := l.Debit(ctx, ledger.Entry{
		PlayerID:    playerID,
		MatchID:     ref,
		Kind:        ledger.KindStake,
		Amount:      stake,
		Description: "Stake for match " + matchID,
	})
	if err != nil {
		log.Printf("[MATCH] Escrow failed player=%s match=%s stake=%d: %v", playerID, matchID, stake, err)
		return err
	}
	return nil
}

func (m *Match) seatFor(playerID string) *seat {
	for _, s := range m.seats {
		if s.id == playerID {
			return s
		}
	}
	return nil
}

func (m *Match) opponentOf(playerID string) *seat {
	for _, s := range m.seats {
		if s.id != playerID {
			return s
		}
	}
	return nil
}

func (m *Match) broadcastLocked(msgType string, data interface{}) {
	b := encode(msgType, data)
	if b == nil {
		return
	}
	for _, s := range m.seats {
		if s.conn == nil {
			continue
		}
		if !s.conn.Send(b) {
			log.Printf("[WS] Dropped %s for player %s in match %s", msgType, s.id, m.ID)
		}
	}
}

func (m *Match) summariesLocked() []PlayerSummary {
	out := make([]PlayerSummary, 0, len(m.seats))
	for _, s := range m.seats {
		out = append(out, s.summary())
	}
	return out
}

func (m *Match) scoresLocked() map[string]int {
	scores := make(map[string]int, len(m.seats))
	for _, s := range m.seats {
		scores[s.id] = s.sixCount
	}
	return scores
}

// Join adds the second player. A player already seated gets the same
// game_joined ack again with no second escrow.
func (m *Match) Join(ctx context.Context, p Player, stake int64) (GameJoined, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s := m.seatFor(p.ID); s != nil && !s.left {
		if p.Conn != nil {
			s.conn = p.Conn
		}
		ack := m.joinedLocked()
		send(s.conn, EvtGameJoined, ack)
		log.Printf("[MATCH] %s duplicate join by %s ignored", m.ID, p.ID)
		return ack, nil
	}

	switch m.phase {
	case PhaseActive:
		return GameJoined{}, ErrMatchFull
	case PhaseSettled:
		return GameJoined{}, ErrNotActive
	}
	if len(m.seats) >= 2 {
		return GameJoined{}, ErrMatchFull
	}
	if stake != m.Stake {
		return GameJoined{}, ErrStakeMismatch
	}

	first, err := m.deps.roller.Pick(2)
	if err != nil {
		return GameJoined{}, fmt.Errorf("pick first player: %w", err)
	}
	if err := escrow(ctx, m.deps.ledger, m.Ref, m.ID, p.ID, m.Stake); err != nil {
		return GameJoined{}, err
	}

	m.seats = append(m.seats, &seat{id: p.ID, displayName: p.DisplayName, conn: p.Conn})
	ack := m.joinedLocked()
	send(p.Conn, EvtGameJoined, ack)
	log.Printf("[MATCH] %s joined by %s", m.ID, p.ID)

	m.startLocked(first)
	return ack, nil
}

func (m *Match) joinedLocked() GameJoined {
	return GameJoined{
		MatchID:      m.ID,
		Stake:        m.Stake,
		PlayersCount: len(m.seats),
		Ready:        len(m.seats) == 2,
	}
}

// startLocked moves a full lobby to Active. Calling it again is a no-op.
func (m *Match) startLocked(first int) bool {
	if m.phase != PhaseLobby || len(m.seats) != 2 {
		return false
	}
	m.phase = PhaseActive
	m.turnOwner = m.seats[first%2].id
	m.broadcastLocked(EvtGameStarted, GameStarted{
		MatchID:     m.ID,
		FirstPlayer: m.turnOwner,
		Players:     m.summariesLocked(),
		Stake:       m.Stake,
	})
	log.Printf("[MATCH] %s started, first turn %s", m.ID, m.turnOwner)
	return true
}

// Start moves a full lobby to Active on a player's request. It reports
// false without error when the match is already Active.
func (m *Match) Start(playerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.seatFor(playerID); s == nil || s.left {
		return false, ErrNotInMatch
	}
	switch {
	case m.phase == PhaseActive:
		return false, nil
	case m.phase == PhaseSettled:
		return false, ErrNotActive
	case len(m.seats) < 2:
		return false, ErrNotEnoughPlayers
	}
	first, err := m.deps.roller.Pick(2)
	if err != nil {
		return false, fmt.Errorf("pick first player: %w", err)
	}
	return m.startLocked(first), nil
}

// announceMatched tells each queued player who they drew, then who rolls
// first. Called once, right after newQueuedMatch.
func (m *Match) announceMatched() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.seats {
		opp := m.opponentOf(s.id)
		send(s.conn, EvtGameMatched, GameMatched{MatchID: m.ID, Opponent: opp.summary(), Stake: m.Stake})
	}
	m.broadcastLocked(EvtGameStarted, GameStarted{
		MatchID:     m.ID,
		FirstPlayer: m.turnOwner,
		Players:     m.summariesLocked(),
		Stake:       m.Stake,
	})
}

// RollDice rolls for the turn owner. The six count is checked in the same
// critical section as the increment so no roll can follow a winning one.
func (m *Match) RollDice(ctx context.Context, playerID string) (RollResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseActive {
		return RollResult{}, ErrNotActive
	}
	s := m.seatFor(playerID)
	if s == nil {
		return RollResult{}, ErrNotInMatch
	}
	if m.turnOwner != playerID {
		return RollResult{}, ErrNotYourTurn
	}

	value, err := m.deps.roller.Roll()
	if err != nil {
		return RollResult{}, fmt.Errorf("roll: %w", err)
	}
	if value < 1 || value > 6 {
		return RollResult{}, fmt.Errorf("roll: die returned %d", value)
	}

	m.rollCount++
	if value == 6 {
		s.sixCount++
	}
	m.broadcastLocked(EvtDiceRolled, DiceRolled{
		PlayerID:    playerID,
		DiceValue:   value,
		NewSixCount: s.sixCount,
		RollCount:   m.rollCount,
		Timestamp:   timestamp(m.deps.now()),
	})

	res := RollResult{Value: value, SixCount: s.sixCount, RollCount: m.rollCount}
	if s.sixCount >= SixesToWin {
		loser := m.opponentOf(playerID)
		m.settleLocked(ctx, Decision{
			MatchID:   m.ID,
			Ref:       m.Ref,
			Stake:     m.Stake,
			Outcome:   OutcomeThreshold,
			WinnerID:  playerID,
			LoserID:   loser.id,
			LoserKind: ledger.KindLoss,
		})
		res.Terminal = true
		return res, nil
	}

	m.turnOwner = m.opponentOf(playerID).id
	m.broadcastLocked(EvtTurnChanged, TurnChanged{NextPlayer: m.turnOwner})
	return res, nil
}

// Leave vacates playerID's seat. In Active the opponent wins by forfeit; in
// Lobby the match is void and the escrow refunded. Leaving twice, or
// leaving a settled match, does nothing. The bool reports whether this call
// settled the match.
func (m *Match) Leave(ctx context.Context, playerID string, reason LeaveReason) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leaveLocked(ctx, playerID, reason)
}

// ForfeitIfTurn forfeits playerID only while it is still their turn in an
// Active match.
func (m *Match) ForfeitIfTurn(ctx context.Context, playerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseActive || m.turnOwner != playerID {
		return false
	}
	settled, _ := m.leaveLocked(ctx, playerID, ReasonIdle)
	return settled
}

// ForfeitIfDetached forfeits playerID if their seat still has no live
// connection. Used when a disconnect grace period runs out.
func (m *Match) ForfeitIfDetached(ctx context.Context, playerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.seatFor(playerID)
	if s == nil || s.conn != nil || m.phase != PhaseActive {
		return false
	}
	settled, _ := m.leaveLocked(ctx, playerID, ReasonDisconnected)
	return settled
}

func (m *Match) leaveLocked(ctx context.Context, playerID string, reason LeaveReason) (bool, error) {
	s := m.seatFor(playerID)
	if s == nil {
		return false, ErrNotInMatch
	}
	if s.left || m.phase == PhaseSettled {
		return false, nil
	}
	s.left = true

	switch m.phase {
	case PhaseLobby:
		m.broadcastLocked(EvtPlayerLeft, PlayerLeft{LeftPlayerID: playerID, Message: lobbyLeaveMessage})
		log.Printf("[MATCH] %s lobby abandoned by %s (%s)", m.ID, playerID, reason)
		m.settleLocked(ctx, Decision{
			MatchID: m.ID,
			Ref:     m.Ref,
			Stake:   m.Stake,
			Outcome: OutcomeVoid,
			Refunds: []string{playerID},
		})
	case PhaseActive:
		winner := m.opponentOf(playerID)
		m.broadcastLocked(EvtPlayerLeft, PlayerLeft{
			LeftPlayerID: playerID,
			Winner:       winner.id,
			Message:      leaveMessages[reason],
		})
		log.Printf("[MATCH] %s forfeited by %s (%s), winner %s", m.ID, playerID, reason, winner.id)
		m.settleLocked(ctx, Decision{
			MatchID:   m.ID,
			Ref:       m.Ref,
			Stake:     m.Stake,
			Outcome:   OutcomeForfeit,
			WinnerID:  winner.id,
			LoserID:   playerID,
			LoserKind: ledger.KindLeft,
		})
	}
	return true, nil
}

// settleLocked records d and pays it out. The settled flag is checked and
// set in the same critical section as the ledger calls.
func (m *Match) settleLocked(ctx context.Context, d Decision) {
	if m.settled {
		log.Printf("[INTEGRITY] Match %s already settled as %s; refusing second settlement %s", m.ID, m.decision.Outcome, d.Outcome)
		return
	}
	m.settled = true
	m.phase = PhaseSettled
	m.turnOwner = ""
	m.decision = &d
	m.settledAt = m.deps.now()

	if err := m.deps.settler.Settle(context.WithoutCancel(ctx), d); err != nil {
		log.Printf("[SETTLE] Match %s settlement incomplete: %v", m.ID, err)
	}

	m.broadcastLocked(EvtGameEnded, GameEnded{
		MatchID:     m.ID,
		Winner:      d.WinnerID,
		Outcome:     d.Outcome,
		FinalScores: m.scoresLocked(),
		RollCount:   m.rollCount,
		Stake:       m.Stake,
	})
}

// Rebind points playerID's seat at c. It fails for players who are not
// seated or already left.
func (m *Match) Rebind(playerID string, c Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.seatFor(playerID)
	if s == nil || s.left {
		return false
	}
	s.conn = c
	return true
}

// Detach clears playerID's connection if it is still c. A player detached
// from a Lobby leaves it in the same critical section, so a join cannot
// start the match in between. It returns the phase observed before any
// leave and whether this call settled the match.
func (m *Match) Detach(ctx context.Context, playerID string, c Conn) (Phase, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.seatFor(playerID)
	if s == nil {
		return m.phase, false
	}
	if s.conn != nil && c != nil && s.conn.ID() == c.ID() {
		s.conn = nil
	}
	phase := m.phase
	if phase != PhaseLobby || s.conn != nil {
		return phase, false
	}
	settled, _ := m.leaveLocked(ctx, playerID, ReasonDisconnected)
	return phase, settled
}

// HasPlayer reports whether playerID holds a seat they have not left.
func (m *Match) HasPlayer(playerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.seatFor(playerID)
	return s != nil && !s.left
}

func (m *Match) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *Match) TurnOwner() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.turnOwner
}

// Decision returns the recorded settlement, if any.
func (m *Match) Decision() (Decision, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.decision == nil {
		return Decision{}, false
	}
	return *m.decision, true
}

// PlayerIDs returns every player ever seated, in seat order.
func (m *Match) PlayerIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.seats))
	for _, s := range m.seats {
		ids = append(ids, s.id)
	}
	return ids
}

// markDisposing returns true the first time it is called.
func (m *Match) markDisposing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposing {
		return false
	}
	m.disposing = true
	return true
}

// Snapshot is a read-only view of a match.
type Snapshot struct {
	MatchID   string          `json:"matchId"`
	Stake     int64           `json:"stake"`
	Phase     Phase           `json:"phase"`
	Players   []PlayerSummary `json:"players"`
	Scores    map[string]int  `json:"scores"`
	TurnOwner string          `json:"turnOwner,omitempty"`
	RollCount int             `json:"rollCount"`
	Winner    string          `json:"winner,omitempty"`
	Outcome   Outcome         `json:"outcome,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	SettledAt *time.Time      `json:"settledAt,omitempty"`
}

func (m *Match) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := Snapshot{
		MatchID:   m.ID,
		Stake:     m.Stake,
		Phase:     m.phase,
		Players:   m.summariesLocked(),
		Scores:    m.scoresLocked(),
		TurnOwner: m.turnOwner,
		RollCount: m.rollCount,
		CreatedAt: m.CreatedAt,
	}
	if m.decision != nil {
		snap.Winner = m.decision.WinnerID
		snap.Outcome = m.decision.Outcome
		at := m.settledAt
		snap.SettledAt = &at
	}
	return snap
}

// Summary is one row of the active matches listing.
type Summary struct {
	MatchID      string    `json:"matchId"`
	Stake        int64     `json:"stake"`
	Players      []string  `json:"players"`
	PlayersCount int       `json:"playersCount"`
	Phase        Phase     `json:"phase"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (m *Match) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.seats))
	for _, s := range m.seats {
		names = append(names, s.displayName)
	}
	return Summary{
		MatchID:      m.ID,
		Stake:        m.Stake,
		Players:      names,
		PlayersCount: len(m.seats),
		Phase:        m.phase,
		CreatedAt:    m.CreatedAt,
	}
}
