// Package session tracks the trading-session window and gates order flow.
package session

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the session state.
type State int

const (
	Closed State = iota
	Open
)

func (s State) String() string {
	if s == Open {
		return "OPEN"
	}
	return "CLOSED"
}

// Transition describes a state change produced by Tick.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// Opened reports whether the transition opened the session.
func (t Transition) Opened() bool { return t.To == Open }

// Clock is a two-state machine driven by Tick. It only changes state when
// the time crosses a window boundary.
type Clock struct {
	mu        sync.RWMutex
	window    Window
	state     State
	listeners []func(Transition)
	log       *zap.Logger
}

func NewClock(window Window, log *zap.Logger) *Clock {
	if log == nil {
		log = zap.NewNop()
	}
	return &Clock{window: window, log: log}
}

// OnTransition registers fn to run after every state change. Listeners run
// synchronously on the ticking goroutine.
func (c *Clock) OnTransition(fn func(Transition)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Tick evaluates now against the window. It returns the transition and true
// when the state changed.
func (c *Clock) Tick(now time.Time) (Transition, bool) {
	c.mu.Lock()
	inside := c.window.Contains(now)

	var tr Transition
	switch {
	case inside && c.state == Closed:
		tr = Transition{From: Closed, To: Open, At: now}
	case !inside && c.state == Open:
		tr = Transition{From: Open, To: Closed, At: now}
	default:
		c.mu.Unlock()
		return Transition{}, false
	}
	c.state = tr.To
	window := c.window
	listeners := append([]func(Transition){}, c.listeners...)
	c.mu.Unlock()

	c.log.Info("session transition",
		zap.Stringer("from", tr.From),
		zap.Stringer("to", tr.To),
		zap.Stringer("window", window),
		zap.Time("at", now))
	for _, fn := range listeners {
		fn(tr)
	}
	return tr, true
}

func (c *Clock) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == Open
}

func (c *Clock) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SetWindow replaces the window. The state is re-evaluated on the next Tick.
func (c *Clock) SetWindow(w Window) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.window = w
}
