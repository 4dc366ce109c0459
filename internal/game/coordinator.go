package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sixking/backend/internal/ledger"
	"github.com/sixking/backend/internal/metrics"
)

// Config holds coordinator tunables.
type Config struct {
	MinStake int64
	// DisposalDelay keeps a settled match queryable before it is removed.
	DisposalDelay time.Duration
	// DisconnectGrace is how long a player dropped from an Active match has
	// to reconnect before forfeiting. Zero forfeits immediately.
	DisconnectGrace time.Duration
}

// Deps are the collaborators a Coordinator needs. Directory, Registry and
// Queue default to fresh instances when nil.
type Deps struct {
	Ledger    ledger.Gateway
	Settler   Settler
	Roller    Roller
	Idle      ActivityTracker
	Metrics   *metrics.Metrics
	Directory *Directory
	Registry  *Registry
	Queue     *Queue
	Now       func() time.Time
}

type handlerFunc func(ctx context.Context, c Conn, data json.RawMessage) error

// Coordinator receives every inbound event, drives match transitions, and
// is the only writer of the registry and directory.
type Coordinator struct {
	cfg       Config
	deps      matchDeps
	idle      ActivityTracker
	metrics   *metrics.Metrics
	directory *Directory
	registry  *Registry
	queue     *Queue
	handlers  map[string]handlerFunc

	timersMu  sync.Mutex
	grace     map[string]*time.Timer
	disposals map[string]*time.Timer
	closed    bool
}

func NewCoordinator(cfg Config, deps Deps) (*Coordinator, error) {
	if deps.Ledger == nil {
		return nil, errors.New("ledger gateway is required")
	}
	if deps.Roller == nil {
		deps.Roller = CryptoRoller{}
	}
	if deps.Settler == nil {
		deps.Settler = NewLedgerSettler(deps.Ledger, nil, deps.Metrics, SettlerConfig{})
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Directory == nil {
		deps.Directory = NewDirectory(nil)
	}
	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}
	if deps.Queue == nil {
		deps.Queue = NewQueue()
	}

	co := &Coordinator{
		cfg: cfg,
		deps: matchDeps{
			ledger:  deps.Ledger,
			settler: deps.Settler,
			roller:  deps.Roller,
			now:     deps.Now,
		},
		idle:      deps.Idle,
		metrics:   deps.Metrics,
		directory: deps.Directory,
		registry:  deps.Registry,
		queue:     deps.Queue,
		grace:     make(map[string]*time.Timer),
		disposals: make(map[string]*time.Timer),
	}
	co.handlers = map[string]handlerFunc{
		MsgCreateGame:       co.handleCreateGame,
		MsgJoinGame:         co.handleJoinGame,
		MsgJoinQueue:        co.handleJoinQueue,
		MsgLeaveQueue:       co.handleLeaveQueue,
		MsgRollDice:         co.handleRollDice,
		MsgLeaveGame:        co.handleLeaveGame,
		MsgUpdateConnection: co.handleUpdateConnection,
		MsgStartGame:        co.handleStartGame,
		MsgPing:             co.handlePing,
	}
	return co, nil
}

// Handle decodes one inbound frame and dispatches it. Failures are reported
// to c only.
func (co *Coordinator) Handle(ctx context.Context, c Conn, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		sendError(c, ErrInvalidMessage)
		return
	}
	h, ok := co.handlers[env.Type]
	if !ok {
		sendError(c, fmt.Errorf("%w: %s", ErrUnknownMessageType, env.Type))
		return
	}
	if err := h(ctx, c, env.Data); err != nil {
		log.Printf("[WS] %s from connection %s rejected: %v", env.Type, c.ID(), err)
		sendError(c, err)
	}
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", ErrInvalidMessage)
	}
	if err := json.Unmarshal(data, v); err != nil {
		if errors.Is(err, ErrInvalidStake) {
			return ErrInvalidStake
		}
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

// identify resolves which player c is acting for. An authenticated
// connection may only act for its own player, and a bound connection only
// for the player it is bound to.
func (co *Coordinator) identify(c Conn, playerID string) (string, error) {
	if a, ok := c.(authenticated); ok {
		if authed := a.AuthenticatedPlayer(); authed != "" {
			if playerID == "" {
				playerID = authed
			} else if playerID != authed {
				return "", ErrUnauthorized
			}
		}
	}
	if playerID == "" {
		return "", fmt.Errorf("%w: playerId is required", ErrInvalidMessage)
	}
	if b, ok := co.registry.Lookup(c.ID()); ok && b.PlayerID != playerID {
		return "", ErrUnauthorized
	}
	return playerID, nil
}

// requireBinding rejects game actions from connections that do not
// currently speak for playerID, including superseded ones.
func (co *Coordinator) requireBinding(c Conn, playerID string) error {
	b, ok := co.registry.Lookup(c.ID())
	if !ok || b.PlayerID != playerID {
		return ErrUnauthorized
	}
	return nil
}

func (co *Coordinator) validStake(a Amount) (int64, error) {
	stake := int64(a)
	if stake <= 0 || stake < co.cfg.MinStake {
		return 0, ErrInvalidStake
	}
	return stake, nil
}

func (co *Coordinator) lookup(matchID string) (*Match, error) {
	if matchID == "" {
		return nil, fmt.Errorf("%w: matchId is required", ErrInvalidMessage)
	}
	m, ok := co.directory.Get(strings.ToUpper(matchID))
	if !ok {
		return nil, ErrMatchNotFound
	}
	return m, nil
}

func (co *Coordinator) handleCreateGame(ctx context.Context, c Conn, data json.RawMessage) error {
	var req CreateGameRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	pid, err := co.identify(c, req.PlayerID)
	if err != nil {
		return err
	}
	stake, err := co.validStake(req.Stake)
	if err != nil {
		return err
	}
	if co.queue.Contains(pid) {
		return ErrAlreadyInGame
	}

	id, err := co.directory.Reserve()
	if err != nil {
		return err
	}
	if _, err := co.directory.ClaimPlayer(pid, id); err != nil {
		co.directory.Release(id)
		return err
	}

	host := Player{ID: pid, DisplayName: displayName(req.DisplayName, req.PlayerName, pid), Conn: c}
	m, err := newMatch(ctx, id, stake, host, co.deps)
	if err != nil {
		co.directory.ReleasePlayer(pid, id)
		co.directory.Release(id)
		return err
	}

	co.directory.Put(m)
	co.registry.Bind(c, pid, id)
	co.metrics.MatchCreated("lobby")
	co.metrics.SetActiveMatches(co.directory.Len())
	send(c, EvtGameCreated, GameCreated{MatchID: id, Stake: stake})
	return nil
}

func (co *Coordinator) handleJoinGame(ctx context.Context, c Conn, data json.RawMessage) error {
	var req JoinGameRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	pid, err := co.identify(c, req.PlayerID)
	if err != nil {
		return err
	}
	stake, err := co.validStake(req.Stake)
	if err != nil {
		return err
	}
	m, err := co.lookup(req.MatchID)
	if err != nil {
		return err
	}
	if co.queue.Contains(pid) {
		return ErrAlreadyInGame
	}

	claimed, err := co.directory.ClaimPlayer(pid, m.ID)
	if err != nil {
		return err
	}
	p := Player{ID: pid, DisplayName: displayName(req.DisplayName, req.PlayerName, pid), Conn: c}
	ack, err := m.Join(ctx, p, stake)
	if err != nil {
		if claimed {
			co.directory.ReleasePlayer(pid, m.ID)
		}
		return err
	}

	co.registry.Bind(c, pid, m.ID)
	if claimed && ack.Ready {
		co.trackTurn(ctx, m)
	}
	return nil
}

func (co *Coordinator) handleJoinQueue(ctx context.Context, c Conn, data json.RawMessage) error {
	var req JoinQueueRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	pid, err := co.identify(c, req.PlayerID)
	if err != nil {
		return err
	}
	stake, err := co.validStake(req.Stake)
	if err != nil {
		return err
	}
	if _, inMatch := co.directory.MatchFor(pid); inMatch {
		return ErrAlreadyInGame
	}

	// Early rejection only; the debit at match time is authoritative.
	bal, err := co.deps.ledger.GetBalance(ctx, pid)
	if err != nil {
		return err
	}
	if bal < stake {
		return ledger.ErrInsufficientFunds
	}

	entry := &QueueEntry{
		PlayerID:    pid,
		DisplayName: displayName(req.DisplayName, req.PlayerName, pid),
		Stake:       stake,
		EnqueuedAt:  co.deps.now(),
		Conn:        c,
	}
	co.registry.Bind(c, pid, "")
	defer co.reportQueue(stake)

	for {
		waiting, matched := co.queue.PopOrPush(entry)
		if !matched {
			log.Printf("[QUEUE] %s waiting at stake %d", pid, stake)
			send(c, EvtQueued, Queued{Message: "Waiting for an opponent", Stake: stake})
			return nil
		}

		err := co.formQueuedMatch(ctx, waiting, entry)
		if err == nil {
			return nil
		}
		if errors.Is(err, errStaleQueueEntry) {
			continue
		}
		var ee *escrowError
		if errors.As(err, &ee) && ee.PlayerID == waiting.PlayerID {
			// The waiting player could not pay; they leave the queue and
			// the newcomer tries the next opponent.
			sendError(waiting.Conn, ee.Err)
			continue
		}
		// Newcomer failed: the waiting player was refunded and keeps their place.
		co.queue.PushFront(waiting)
		if ee != nil {
			return ee.Err
		}
		return err
	}
}

var errStaleQueueEntry = errors.New("queued player is already in a match")

func (co *Coordinator) formQueuedMatch(ctx context.Context, waiting, newcomer *QueueEntry) error {
	id, err := co.directory.Reserve()
	if err != nil {
		return err
	}
	if _, err := co.directory.ClaimPlayer(waiting.PlayerID, id); err != nil {
		co.directory.Release(id)
		log.Printf("[QUEUE] Dropping stale queue entry for %s: %v", waiting.PlayerID, err)
		return errStaleQueueEntry
	}
	if _, err := co.directory.ClaimPlayer(newcomer.PlayerID, id); err != nil {
		co.directory.ReleasePlayer(waiting.PlayerID, id)
		co.directory.Release(id)
		return err
	}
	if cur, ok := co.registry.ConnFor(waiting.PlayerID); ok {
		waiting.Conn = cur
	}

	m, err := newQueuedMatch(ctx, id, newcomer.Stake, waiting.player(), newcomer.player(), co.deps)
	if err != nil {
		co.directory.ReleasePlayer(waiting.PlayerID, id)
		co.directory.ReleasePlayer(newcomer.PlayerID, id)
		co.directory.Release(id)
		return err
	}

	co.directory.Put(m)
	co.registry.Bind(newcomer.Conn, newcomer.PlayerID, id)
	// The waiting player's socket may have closed while the stakes were
	// debited. Disconnect only saw a queue binding then, so the seat is
	// detached here and the grace clock started.
	waitingLive := waiting.Conn != nil && co.registry.Attach(waiting.Conn, waiting.PlayerID, id)
	if !waitingLive {
		m.Detach(ctx, waiting.PlayerID, waiting.Conn)
		log.Printf("[QUEUE] %s disconnected while match %s was forming", waiting.PlayerID, id)
	}
	m.announceMatched()
	co.metrics.MatchCreated("queue")
	co.metrics.SetActiveMatches(co.directory.Len())
	co.trackTurn(ctx, m)
	if !waitingLive {
		co.detached(m, waiting.PlayerID)
	}
	return nil
}

func (co *Coordinator) handleLeaveQueue(_ context.Context, c Conn, data json.RawMessage) error {
	var req PlayerRequest
	if len(data) > 0 {
		if err := decode(data, &req); err != nil {
			return err
		}
	}
	pid, err := co.identify(c, req.PlayerID)
	if err != nil {
		return err
	}
	removed := co.queue.Remove(pid)
	if removed {
		log.Printf("[QUEUE] %s left the queue", pid)
	}
	co.reportAllQueues()
	send(c, EvtQueueLeft, QueueLeft{Removed: removed})
	return nil
}

func (co *Coordinator) handleRollDice(ctx context.Context, c Conn, data json.RawMessage) error {
	var req MatchRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	pid, err := co.identify(c, req.PlayerID)
	if err != nil {
		return err
	}
	if err := co.requireBinding(c, pid); err != nil {
		return err
	}
	m, err := co.lookup(req.MatchID)
	if err != nil {
		return err
	}

	res, err := m.RollDice(ctx, pid)
	if err != nil {
		if errors.Is(err, ErrNotInMatch) {
			return ErrUnauthorized
		}
		return err
	}
	if res.Terminal {
		co.afterSettle(m)
		return nil
	}
	co.trackTurn(ctx, m)
	return nil
}

func (co *Coordinator) handleLeaveGame(ctx context.Context, c Conn, data json.RawMessage) error {
	var req MatchRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	pid, err := co.identify(c, req.PlayerID)
	if err != nil {
		return err
	}
	if err := co.requireBinding(c, pid); err != nil {
		return err
	}
	m, err := co.lookup(req.MatchID)
	if err != nil {
		return err
	}

	settled, err := m.Leave(ctx, pid, ReasonLeft)
	if err != nil {
		return err
	}
	if settled {
		co.afterSettle(m)
	}
	return nil
}

func (co *Coordinator) handleUpdateConnection(_ context.Context, c Conn, data json.RawMessage) error {
	var req MatchRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	pid, err := co.identify(c, req.PlayerID)
	if err != nil {
		return err
	}
	m, err := co.lookup(req.MatchID)
	if err != nil {
		return err
	}
	if m.Phase() == PhaseSettled || !m.Rebind(pid, c) {
		return ErrUpdateFailed
	}

	co.registry.Bind(c, pid, m.ID)
	co.cancelGrace(m.ID, pid)
	log.Printf("[WS] %s rebound to connection %s in match %s", pid, c.ID(), m.ID)
	send(c, EvtConnectionUpdated, ConnectionUpdated{MatchID: m.ID, PlayerID: pid})
	return nil
}

func (co *Coordinator) handleStartGame(ctx context.Context, c Conn, data json.RawMessage) error {
	var req StartGameRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	pid, err := co.identify(c, req.PlayerID)
	if err != nil {
		return err
	}
	if err := co.requireBinding(c, pid); err != nil {
		return err
	}
	m, err := co.lookup(req.match())
	if err != nil {
		return err
	}

	started, err := m.Start(pid)
	if err != nil {
		if errors.Is(err, ErrNotInMatch) {
			return ErrUnauthorized
		}
		return err
	}
	text := "Game already started"
	if started {
		text = "Game start request processed"
		co.trackTurn(ctx, m)
	}
	send(c, EvtStartAcknowledged, StartAcknowledged{Message: text, MatchID: m.ID, GameID: m.ID})
	return nil
}

func (co *Coordinator) handlePing(_ context.Context, c Conn, _ json.RawMessage) error {
	send(c, EvtPong, Pong{Timestamp: timestamp(co.deps.now())})
	return nil
}

// Disconnect handles a closed connection. Superseded connections are
// ignored. A queued player is dequeued and a lobby is voided. An Active
// player gets the grace period to reconnect.
func (co *Coordinator) Disconnect(c Conn) {
	b, ok := co.registry.Unbind(c.ID())
	if !ok {
		return
	}
	if b.MatchID == "" {
		if co.queue.RemoveConn(b.PlayerID, c.ID()) {
			log.Printf("[QUEUE] %s dequeued on disconnect", b.PlayerID)
			co.reportAllQueues()
		}
		return
	}
	m, ok := co.directory.Get(b.MatchID)
	if !ok {
		return
	}

	phase, settled := m.Detach(context.Background(), b.PlayerID, c)
	switch {
	case settled:
		co.afterSettle(m)
	case phase == PhaseActive:
		co.detached(m, b.PlayerID)
	}
}

// detached starts the reconnect window for a player whose seat in an
// Active match lost its connection.
func (co *Coordinator) detached(m *Match, playerID string) {
	if co.cfg.DisconnectGrace <= 0 {
		if m.ForfeitIfDetached(context.Background(), playerID) {
			co.afterSettle(m)
		}
		return
	}
	co.startGrace(m.ID, playerID)
}

func graceKey(matchID, playerID string) string {
	return matchID + "/" + playerID
}

func (co *Coordinator) startGrace(matchID, playerID string) {
	co.timersMu.Lock()
	defer co.timersMu.Unlock()
	if co.closed {
		return
	}
	key := graceKey(matchID, playerID)
	if t, ok := co.grace[key]; ok {
		t.Stop()
	}
	log.Printf("[MATCH] %s disconnected from %s; forfeit in %v unless they reconnect", playerID, matchID, co.cfg.DisconnectGrace)
	co.grace[key] = time.AfterFunc(co.cfg.DisconnectGrace, func() {
		co.timersMu.Lock()
		delete(co.grace, key)
		co.timersMu.Unlock()

		m, ok := co.directory.Get(matchID)
		if !ok {
			return
		}
		if m.ForfeitIfDetached(context.Background(), playerID) {
			co.afterSettle(m)
		}
	})
}

func (co *Coordinator) cancelGrace(matchID, playerID string) {
	co.timersMu.Lock()
	defer co.timersMu.Unlock()
	key := graceKey(matchID, playerID)
	if t, ok := co.grace[key]; ok {
		t.Stop()
		delete(co.grace, key)
	}
}

// ForfeitIdle forfeits playerID if it is still their turn in matchID.
func (co *Coordinator) ForfeitIdle(ctx context.Context, matchID, playerID string) bool {
	m, ok := co.directory.Get(matchID)
	if !ok {
		return false
	}
	if !m.ForfeitIfTurn(ctx, playerID) {
		return false
	}
	co.afterSettle(m)
	return true
}

// trackTurn restarts the idle clock for whoever must roll next.
func (co *Coordinator) trackTurn(ctx context.Context, m *Match) {
	if co.idle == nil {
		return
	}
	owner := m.TurnOwner()
	if owner == "" {
		return
	}
	var others []string
	for _, pid := range m.PlayerIDs() {
		if pid != owner {
			others = append(others, pid)
		}
	}
	if len(others) > 0 {
		co.idle.Clear(ctx, m.ID, others...)
	}
	co.idle.Touch(ctx, m.ID, owner)
}

// afterSettle frees the players of a settled match and schedules its
// removal. Runs once per match.
func (co *Coordinator) afterSettle(m *Match) {
	if !m.markDisposing() {
		return
	}
	ids := m.PlayerIDs()
	for _, pid := range ids {
		co.directory.ReleasePlayer(pid, m.ID)
		co.registry.ClearMatch(pid, m.ID)
		co.cancelGrace(m.ID, pid)
	}
	if co.idle != nil {
		co.idle.Clear(context.Background(), m.ID, ids...)
	}

	co.timersMu.Lock()
	defer co.timersMu.Unlock()
	if co.closed {
		return
	}
	id := m.ID
	co.disposals[id] = time.AfterFunc(co.cfg.DisposalDelay, func() {
		co.directory.Remove(id)
		co.metrics.SetActiveMatches(co.directory.Len())
		co.timersMu.Lock()
		delete(co.disposals, id)
		co.timersMu.Unlock()
		log.Printf("[MATCH] %s disposed", id)
	})
}

func (co *Coordinator) reportQueue(stake int64) {
	co.metrics.SetQueueDepth(strconv.FormatInt(stake, 10), co.queue.Len(stake))
}

func (co *Coordinator) reportAllQueues() {
	for stake, n := range co.queue.Depth() {
		co.metrics.SetQueueDepth(strconv.FormatInt(stake, 10), n)
	}
}

// ActiveMatches lists matches that have not settled, oldest first.
func (co *Coordinator) ActiveMatches() []Summary {
	var out []Summary
	for _, m := range co.directory.List() {
		s := m.Summary()
		if s.Phase == PhaseSettled {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Snapshot returns a match by id until it is disposed.
func (co *Coordinator) Snapshot(matchID string) (Snapshot, bool) {
	m, ok := co.directory.Get(strings.ToUpper(matchID))
	if !ok {
		return Snapshot{}, false
	}
	return m.Snapshot(), true
}

// QueueDepth reports waiting players per stake.
func (co *Coordinator) QueueDepth() map[int64]int {
	return co.queue.Depth()
}

// Shutdown stops pending grace and disposal timers.
func (co *Coordinator) Shutdown() {
	co.timersMu.Lock()
	defer co.timersMu.Unlock()
	co.closed = true
	for k, t := range co.grace {
		t.Stop()
		delete(co.grace, k)
	}
	for k, t := range co.disposals {
		t.Stop()
		delete(co.disposals, k)
	}
}
