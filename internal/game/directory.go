package game

import (
	"fmt"
	"sync"
)

const maxCodeAttempts = 16

// Directory owns every live match and which match each player is in. A
// player appears in at most one match at a time.
type Directory struct {
	mu       sync.RWMutex
	matches  map[string]*Match
	byPlayer map[string]string
	newCode  func() (string, error)
}

func NewDirectory(newCode func() (string, error)) *Directory {
	if newCode == nil {
		newCode = NewMatchCode
	}
	return &Directory{
		matches:  make(map[string]*Match),
		byPlayer: make(map[string]string),
		newCode:  newCode,
	}
}

// Reserve allocates an unused match id. The id stays taken until Put or
// Release.
func (d *Directory) Reserve() (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := d.newCode()
		if err != nil {
			return "", err
		}
		d.mu.Lock()
		if _, taken := d.matches[code]; !taken {
			d.matches[code] = nil
			d.mu.Unlock()
			return code, nil
		}
		d.mu.Unlock()
	}
	return "", fmt.Errorf("no free match id after %d attempts", maxCodeAttempts)
}

// Release frees a reserved id that never became a match.
func (d *Directory) Release(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if m, ok := d.matches[id]; ok && m == nil {
		delete(d.matches, id)
	}
}

func (d *Directory) Put(m *Match) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.matches[m.ID] = m
}

func (d *Directory) Get(id string) (*Match, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.matches[id]
	return m, ok && m != nil
}

// ClaimPlayer records playerID as belonging to matchID. It reports whether
// this call made the claim, and fails if the player belongs elsewhere.
func (d *Directory) ClaimPlayer(playerID, matchID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.byPlayer[playerID]; ok {
		if cur == matchID {
			return false, nil
		}
		return false, ErrAlreadyInGame
	}
	d.byPlayer[playerID] = matchID
	return true, nil
}

// ReleasePlayer clears playerID's claim if it still points at matchID.
func (d *Directory) ReleasePlayer(playerID, matchID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.byPlayer[playerID] == matchID {
		delete(d.byPlayer, playerID)
	}
}

func (d *Directory) MatchFor(playerID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byPlayer[playerID]
	return id, ok
}

// Remove disposes of a match and any claims still pointing at it.
func (d *Directory) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.matches, id)
	for pid, mid := range d.byPlayer {
		if mid == id {
			delete(d.byPlayer, pid)
		}
	}
}

// List returns all live matches.
func (d *Directory) List() []*Match {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Match, 0, len(d.matches))
	for _, m := range d.matches {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, m := range d.matches {
		if m != nil {
			n++
		}
	}
	return n
}
