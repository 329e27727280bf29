package venue

import (
	"context"
	"sync"
	"time"

	"order-gateway/internal/order"
)

// Manual is a deterministic adapter: it records every order it is given and
// only answers when Respond is called.
type Manual struct {
	mu      sync.Mutex
	handler Handler
	sent    []order.Order
	sendErr error
	logons  int
	logouts int
	now     func() time.Time
}

func NewManual(handler Handler) *Manual {
	return &Manual{handler: handler, now: time.Now}
}

// SetNow overrides the timestamp stamped on responses.
func (m *Manual) SetNow(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// FailSends makes subsequent Send calls return err; nil restores success.
func (m *Manual) FailSends(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

func (m *Manual) Send(_ context.Context, o order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, o)
	return nil
}

// Sent returns the orders accepted by Send, in call order.
func (m *Manual) Sent() []order.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]order.Order, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentIDs is Sent reduced to ids.
func (m *Manual) SentIDs() []string {
	sent := m.Sent()
	ids := make([]string, len(sent))
	for i, o := range sent {
		ids[i] = o.ID
	}
	return ids
}

// Respond delivers a response for id on the calling goroutine.
func (m *Manual) Respond(id string, typ order.ResponseType) {
	m.mu.Lock()
	h, now := m.handler, m.now
	m.mu.Unlock()

	if h != nil {
		h(Response{OrderID: id, Type: typ, ReceivedAt: now()})
	}
}

func (m *Manual) Logon(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logons++
	return nil
}

func (m *Manual) Logout(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logouts++
	return nil
}

// SessionCalls returns how many logons and logouts were made.
func (m *Manual) SessionCalls() (logons, logouts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logons, m.logouts
}
