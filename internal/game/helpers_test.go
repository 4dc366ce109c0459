package game

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// fakeConn records every frame sent to it.
type fakeConn struct {
	id     string
	player string

	mu     sync.Mutex
	frames [][]byte
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, b)
	return true
}

func (c *fakeConn) AuthenticatedPlayer() string { return c.player }

func (c *fakeConn) envelopes() []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Envelope, 0, len(c.frames))
	for _, f := range c.frames {
		var env Envelope
		if err := json.Unmarshal(f, &env); err == nil {
			out = append(out, env)
		}
	}
	return out
}

func (c *fakeConn) types() []string {
	var out []string
	for _, env := range c.envelopes() {
		out = append(out, env.Type)
	}
	return out
}

func (c *fakeConn) count(msgType string) int {
	n := 0
	for _, t := range c.types() {
		if t == msgType {
			n++
		}
	}
	return n
}

// last decodes the most recent frame of msgType into v.
func (c *fakeConn) last(msgType string, v interface{}) bool {
	envs := c.envelopes()
	for i := len(envs) - 1; i >= 0; i-- {
		if envs[i].Type == msgType {
			return json.Unmarshal(envs[i].Data, v) == nil
		}
	}
	return false
}

func (c *fakeConn) lastErrorCode() string {
	var p ErrorPayload
	if !c.last(EvtError, &p) {
		return ""
	}
	return p.Code
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

// scriptedRoller replays fixed dice and first-player picks. Picks default
// to 0 once the script runs out.
type scriptedRoller struct {
	mu    sync.Mutex
	rolls []int
	picks []int
}

func (r *scriptedRoller) Roll() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.rolls) == 0 {
		return 0, errors.New("script exhausted")
	}
	v := r.rolls[0]
	r.rolls = r.rolls[1:]
	return v, nil
}

func (r *scriptedRoller) Pick(int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.picks) == 0 {
		return 0, nil
	}
	v := r.picks[0]
	r.picks = r.picks[1:]
	return v, nil
}

func (r *scriptedRoller) push(rolls ...int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rolls = append(r.rolls, rolls...)
}

// sequentialCodes hands out GAME01, GAME02, ...
func sequentialCodes() func() (string, error) {
	var mu sync.Mutex
	n := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("GAME%02d", n), nil
	}
}

func msg(msgType string, data interface{}) []byte {
	b, err := json.Marshal(map[string]interface{}{"type": msgType, "data": data})
	if err != nil {
		panic(err)
	}
	return b
}
