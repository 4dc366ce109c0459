package game

import "sync"

// Binding is what a connection currently speaks for.
type Binding struct {
	PlayerID string
	MatchID  string
}

// Registry maps connections to players. Each player has at most one bound
// connection; binding a new one silently forgets the old.
type Registry struct {
	mu       sync.RWMutex
	byConn   map[string]Binding
	conns    map[string]Conn
	byPlayer map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		byConn:   make(map[string]Binding),
		conns:    make(map[string]Conn),
		byPlayer: make(map[string]string),
	}
}

// Bind makes c the connection for playerID in matchID (empty when the
// player is only queued).
func (r *Registry) Bind(c Conn, playerID, matchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byPlayer[playerID]; ok && old != c.ID() {
		delete(r.byConn, old)
		delete(r.conns, old)
	}
	if prev, ok := r.byConn[c.ID()]; ok && prev.PlayerID != playerID && r.byPlayer[prev.PlayerID] == c.ID() {
		delete(r.byPlayer, prev.PlayerID)
	}

	r.byConn[c.ID()] = Binding{PlayerID: playerID, MatchID: matchID}
	r.conns[c.ID()] = c
	r.byPlayer[playerID] = c.ID()
}

// Attach moves c's existing binding for playerID onto matchID. It returns
// false when c has been unbound or now speaks for someone else.
func (r *Registry) Attach(c Conn, playerID, matchID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byConn[c.ID()]
	if !ok || b.PlayerID != playerID {
		return false
	}
	b.MatchID = matchID
	r.byConn[c.ID()] = b
	return true
}

func (r *Registry) Lookup(connID string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byConn[connID]
	return b, ok
}

// ConnFor returns the live connection bound to playerID.
func (r *Registry) ConnFor(playerID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPlayer[playerID]
	if !ok {
		return nil, false
	}
	c, ok := r.conns[id]
	return c, ok
}

// Unbind forgets connID. A connection that was already superseded returns
// false so callers treat it as a no-op.
func (r *Registry) Unbind(connID string) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byConn[connID]
	if !ok {
		return Binding{}, false
	}
	delete(r.byConn, connID)
	delete(r.conns, connID)
	if r.byPlayer[b.PlayerID] == connID {
		delete(r.byPlayer, b.PlayerID)
	}
	return b, true
}

// ClearMatch detaches playerID's binding from matchID, keeping the
// connection bound to the player.
func (r *Registry) ClearMatch(playerID, matchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byPlayer[playerID]
	if !ok {
		return
	}
	if b := r.byConn[id]; b.MatchID == matchID {
		b.MatchID = ""
		r.byConn[id] = b
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}
