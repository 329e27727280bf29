package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-gateway/internal/events"
	"order-gateway/internal/order"
	"order-gateway/internal/venue"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func clockAt(hh, mm int) time.Time {
	return time.Date(2026, 3, 2, hh, mm, 0, 0, time.UTC)
}

type harness struct {
	engine *Engine
	venue  *venue.Manual
	clock  *fakeClock
	bus    *events.Bus
	events <-chan events.Envelope
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Location = time.UTC
	for _, m := range mutate {
		m(&cfg)
	}

	h := &harness{clock: &fakeClock{now: clockAt(9, 0)}, bus: events.NewBus()}
	h.events, _ = h.bus.SubscribeAll(1024)

	e, err := New(cfg, func(handler venue.Handler) venue.Adapter {
		h.venue = venue.NewManual(handler)
		h.venue.SetNow(h.clock.Now)
		return h.venue
	}, WithBus(h.bus), WithClock(h.clock.Now))
	require.NoError(t, err)
	h.engine = e
	return h
}

func (h *harness) open(t *testing.T) {
	t.Helper()
	h.clock.Set(clockAt(10, 0))
	_, changed := h.engine.Tick(h.clock.Now())
	require.True(t, changed)
}

func (h *harness) submitNew(id string, price string) error {
	return h.engine.SubmitOrder(context.Background(), order.RequestNew, order.Order{
		ID:       id,
		Price:    decimal.RequireFromString(price),
		Quantity: 10,
		Side:     order.SideBuy,
	})
}

// topics drains the buffered events published so far.
func (h *harness) topics() []events.Event {
	var out []events.Event
	for {
		select {
		case env := <-h.events:
			out = append(out, env.Topic)
		default:
			return out
		}
	}
}

func pendingIDs(e *Engine) []string {
	var ids []string
	for _, o := range e.PendingOrders() {
		ids = append(ids, o.ID)
	}
	return ids
}

func TestNewValidates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxOrdersPerCycle = 0
	_, err := New(cfg, func(h venue.Handler) venue.Adapter { return venue.NewManual(h) })
	assert.Error(t, err)

	_, err = New(DefaultConfig(), nil)
	assert.Error(t, err)
}

func TestRateLimitedDispatch(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		require.NoError(t, h.submitNew(id, "100"))
	}

	first := h.engine.RunCycle(context.Background())
	assert.Len(t, first.Dispatched, 3)
	assert.Equal(t, []string{"1", "2", "3"}, h.venue.SentIDs())

	second := h.engine.RunCycle(context.Background())
	assert.Len(t, second.Dispatched, 2)
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, h.venue.SentIDs())
	assert.Empty(t, h.engine.PendingOrders())
	assert.Len(t, h.engine.InFlight(), 5)
}

func TestModifyBeforeDispatchIsForwarded(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	require.NoError(t, h.submitNew("101", "200"))

	err := h.engine.SubmitOrder(context.Background(), order.RequestModify, order.Order{
		ID: "101", Price: decimal.RequireFromString("205.0"), Quantity: 10,
	})
	require.NoError(t, err)

	h.engine.RunCycle(context.Background())
	sent := h.venue.Sent()
	require.Len(t, sent, 1)
	assert.True(t, sent[0].Price.Equal(decimal.RequireFromString("205")))
}

func TestCancelBeforeDispatch(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	require.NoError(t, h.submitNew("101", "200"))
	require.NoError(t, h.engine.SubmitOrder(context.Background(), order.RequestCancel, order.Order{ID: "101"}))

	h.engine.RunCycle(context.Background())
	assert.Empty(t, h.engine.PendingOrders())
	assert.Empty(t, h.venue.Sent())

	err := h.engine.SubmitOrder(context.Background(), order.RequestCancel, order.Order{ID: "101"})
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestNewWhileClosed(t *testing.T) {
	h := newHarness(t)

	err := h.submitNew("101", "200")
	assert.ErrorIs(t, err, order.ErrMarketClosed)
	assert.Empty(t, h.engine.PendingOrders())
	assert.Equal(t, []events.Event{events.EventOrderRejected}, h.topics())
}

func TestNewWhileClosedReportsClosedBeforeValidation(t *testing.T) {
	h := newHarness(t)
	err := h.engine.SubmitOrder(context.Background(), order.RequestNew, order.Order{ID: ""})
	assert.ErrorIs(t, err, order.ErrMarketClosed)
}

func TestUnknownResponse(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	require.NoError(t, h.submitNew("101", "200"))
	h.engine.RunCycle(context.Background())
	h.topics()

	_, err := h.engine.OnVenueResponse(venue.Response{OrderID: "202", Type: order.ResponseAccept})
	assert.ErrorIs(t, err, order.ErrUnknownResponse)
	assert.Empty(t, h.engine.Responses())
	assert.Len(t, h.engine.InFlight(), 1)
	assert.Equal(t, []events.Event{events.EventVenueAnomaly}, h.topics())

	// the same path through the adapter callback must not panic
	h.venue.Respond("303", order.ResponseReject)
	assert.Empty(t, h.engine.Responses())
}

func TestResponseLatency(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	require.NoError(t, h.submitNew("101", "200"))
	h.engine.RunCycle(context.Background())

	h.clock.Advance(42 * time.Millisecond)
	h.venue.Respond("101", order.ResponseAccept)

	resps := h.engine.Responses()
	require.Len(t, resps, 1)
	assert.Equal(t, 42*time.Millisecond, resps[0].Latency)
	assert.Equal(t, order.ResponseAccept, resps[0].Type)
	assert.Empty(t, h.engine.InFlight())

	// a second response for the same id has nothing left to match
	_, err := h.engine.OnVenueResponse(venue.Response{OrderID: "101", Type: order.ResponseAccept})
	assert.ErrorIs(t, err, order.ErrUnknownResponse)
}

func TestDuplicateNew(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	require.NoError(t, h.submitNew("101", "200"))
	assert.ErrorIs(t, h.submitNew("101", "300"), order.ErrDuplicateOrderID)

	o, ok := h.engine.PendingOrder("101")
	require.True(t, ok)
	assert.True(t, o.Price.Equal(decimal.NewFromInt(200)))

	// still rejected while awaiting the venue
	h.engine.RunCycle(context.Background())
	assert.ErrorIs(t, h.submitNew("101", "300"), order.ErrDuplicateOrderID)

	// reusable once the venue answered
	h.venue.Respond("101", order.ResponseAccept)
	assert.NoError(t, h.submitNew("101", "300"))
}

func TestModifyValidation(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	require.NoError(t, h.submitNew("101", "200"))

	err := h.engine.SubmitOrder(context.Background(), order.RequestModify, order.Order{ID: "999", Price: decimal.NewFromInt(1), Quantity: 1})
	assert.ErrorIs(t, err, order.ErrOrderNotFound)

	err = h.engine.SubmitOrder(context.Background(), order.RequestModify, order.Order{ID: "101", Price: decimal.Zero, Quantity: 1})
	assert.ErrorIs(t, err, order.ErrInvalidOrder)

	err = h.engine.SubmitOrder(context.Background(), order.RequestModify, order.Order{ID: "999", Price: decimal.Zero, Quantity: 0})
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestModifyAndCancelAllowedWhileClosed(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	require.NoError(t, h.submitNew("101", "200"))
	require.NoError(t, h.submitNew("102", "200"))

	h.clock.Set(clockAt(13, 0))
	h.engine.Tick(h.clock.Now())
	require.False(t, h.engine.Status().Open)

	require.NoError(t, h.engine.SubmitOrder(context.Background(), order.RequestModify,
		order.Order{ID: "101", Price: decimal.NewFromInt(201), Quantity: 5}))
	require.NoError(t, h.engine.SubmitOrder(context.Background(), order.RequestCancel, order.Order{ID: "102"}))

	report := h.engine.RunCycle(context.Background())
	assert.False(t, report.Open)
	assert.Empty(t, h.venue.Sent())
	assert.Equal(t, []string{"101"}, pendingIDs(h.engine))
}

func TestUnknownRequestType(t *testing.T) {
	h := newHarness(t)
	err := h.engine.SubmitOrder(context.Background(), order.RequestType("Replace"), order.Order{ID: "1"})
	assert.ErrorIs(t, err, order.ErrInvalidOrder)
}

func TestSendFailureIsReportedAsReject(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	require.NoError(t, h.submitNew("101", "200"))
	h.topics()

	h.venue.FailSends(errors.New("link down"))
	report := h.engine.RunCycle(context.Background())
	assert.Len(t, report.Failed, 1)

	resps := h.engine.Responses()
	require.Len(t, resps, 1)
	assert.Equal(t, order.ResponseReject, resps[0].Type)
	assert.Empty(t, h.engine.InFlight())
	assert.Equal(t, []events.Event{events.EventOrderDispatched, events.EventOrderResponded}, h.topics())
}

func TestSessionTransitionsDriveVenueSession(t *testing.T) {
	h := newHarness(t)

	h.engine.Tick(clockAt(9, 59))
	h.engine.Tick(clockAt(10, 0))
	h.engine.Tick(clockAt(10, 1))
	h.engine.Tick(clockAt(13, 0))
	h.engine.Tick(clockAt(13, 1))

	logons, logouts := h.venue.SessionCalls()
	assert.Equal(t, 1, logons)
	assert.Equal(t, 1, logouts)
	assert.Equal(t, []events.Event{events.EventSessionOpened, events.EventSessionClosed}, h.topics())
}

func TestPendingOrdersSurviveSessionClose(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxOrdersPerCycle = 1 })
	h.open(t)
	require.NoError(t, h.submitNew("1", "100"))
	require.NoError(t, h.submitNew("2", "100"))
	h.engine.RunCycle(context.Background())

	h.engine.Tick(clockAt(13, 0))
	h.engine.RunCycle(context.Background())
	assert.Equal(t, []string{"2"}, pendingIDs(h.engine))

	h.engine.Tick(clockAt(10, 0).Add(24 * time.Hour))
	h.engine.RunCycle(context.Background())
	assert.Equal(t, []string{"1", "2"}, h.venue.SentIDs())
}

func TestExpireStale(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.ResponseTimeout = time.Second })
	h.open(t)
	require.NoError(t, h.submitNew("101", "200"))
	h.engine.RunCycle(context.Background())
	h.topics()

	assert.Empty(t, h.engine.ExpireStale(h.clock.Now().Add(500*time.Millisecond)))

	expired := h.engine.ExpireStale(h.clock.Now().Add(time.Second))
	require.Len(t, expired, 1)
	assert.Equal(t, "101", expired[0].ID)
	assert.Equal(t, []events.Event{events.EventOrderExpired}, h.topics())

	// late response is now unknown
	_, err := h.engine.OnVenueResponse(venue.Response{OrderID: "101", Type: order.ResponseAccept})
	assert.ErrorIs(t, err, order.ErrUnknownResponse)
}

func TestConfigureRetick(t *testing.T) {
	h := newHarness(t)
	h.clock.Set(clockAt(8, 0))
	h.engine.Tick(h.clock.Now())
	require.False(t, h.engine.Status().Open)

	cfg := h.engine.Config()
	cfg.SessionStart = 7 * 60
	cfg.MaxOrdersPerCycle = 2
	require.NoError(t, h.engine.Configure(cfg))

	st := h.engine.Status()
	assert.True(t, st.Open)
	assert.Equal(t, "07:00-13:00", st.Window)
	assert.Equal(t, 2, st.MaxOrdersPerCycle)

	bad := cfg
	bad.MaxOrdersPerCycle = -1
	assert.Error(t, h.engine.Configure(bad))
	assert.Equal(t, 2, h.engine.Config().MaxOrdersPerCycle)
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	require.NoError(t, h.submitNew("1", "100"))
	require.NoError(t, h.submitNew("2", "100"))
	h.engine.RunCycle(context.Background())
	h.venue.Respond("1", order.ResponseAccept)
	require.NoError(t, h.submitNew("3", "100"))

	st := h.engine.Status()
	assert.Equal(t, "OPEN", st.Session)
	assert.Equal(t, "UTC", st.Timezone)
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, 1, st.InFlight)
	assert.Equal(t, 1, st.Responses)
}

// Hammers every entry point concurrently; the race detector and the book
// invariant catch unsynchronized access.
func TestConcurrentEntryPoints(t *testing.T) {
	h := newHarness(t)
	h.open(t)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := string(rune('a'+w)) + string(rune('0'+i%10))
				_ = h.submitNew(id, "100")
				h.engine.RunCycle(context.Background())
				h.venue.Respond(id, order.ResponseAccept)
				_ = h.engine.SubmitOrder(context.Background(), order.RequestCancel, order.Order{ID: id})
				h.engine.Status()
			}
		}(w)
	}
	wg.Wait()

	st := h.engine.Status()
	assert.Equal(t, len(h.engine.PendingOrders()), st.Pending)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestBusAccessor(t *testing.T) {
	h := newHarness(t)
	assert.Same(t, h.bus, h.engine.Bus())

	now := time.Date(2026, 3, 2, 11, 0, 0, 0, time.Local)
	e, err := New(DefaultConfig(), func(handler venue.Handler) venue.Adapter {
		return venue.NewManual(handler)
	}, WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	require.NotNil(t, e.Bus())

	queued, unsubscribe := e.Bus().Subscribe(events.EventOrderQueued, 1)
	defer unsubscribe()
	e.Tick(now)
	require.NoError(t, e.SubmitOrder(context.Background(), order.RequestNew, order.Order{
		ID: "1", Price: decimal.NewFromInt(5), Quantity: 1, Side: order.SideSell,
	}))
	env := <-queued
	assert.Equal(t, events.EventOrderQueued, env.Topic)
}
