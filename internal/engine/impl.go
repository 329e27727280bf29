package engine

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"order-gateway/internal/events"
	"order-gateway/internal/order"
	"order-gateway/internal/session"
	"order-gateway/internal/venue"
)

const (
	DefaultSessionTickInterval = time.Second
	DefaultExpirySweepInterval = 5 * time.Second
)

// AdapterFactory builds the venue adapter around the engine's response handler.
type AdapterFactory func(venue.Handler) venue.Adapter

// Engine is the gateway. A single mutex serializes session ticks, dispatch
// cycles, venue responses, expiry sweeps and client requests, so none of them
// observes another half done.
type Engine struct {
	mu sync.Mutex

	cfg        Config
	clock      *session.Clock
	book       *order.Book
	tracker    *order.Tracker
	dispatcher *order.Dispatcher
	adapter    venue.Adapter
	bus        *events.Bus
	log        *zap.Logger
	now        func() time.Time

	dispatchInterval time.Duration
	tickInterval     time.Duration
	sweepInterval    time.Duration
}

var _ Service = (*Engine)(nil)

// Option customizes an Engine.
type Option func(*Engine)

func WithBus(bus *events.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithClock injects the time source used for session ticks, dispatch
// timestamps and latency measurement.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithDispatchInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.dispatchInterval = d
		}
	}
}

func WithSessionTickInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.tickInterval = d
		}
	}
}

func WithExpirySweepInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.sweepInterval = d
		}
	}
}

// New builds a gateway. The session starts Closed until the first Tick.
func New(cfg Config, factory AdapterFactory, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "engine config")
	}
	if factory == nil {
		return nil, errors.New("engine: adapter factory is required")
	}

	e := &Engine{
		cfg:              cfg,
		bus:              events.NewBus(),
		log:              zap.NewNop(),
		now:              time.Now,
		dispatchInterval: order.DefaultDispatchInterval,
		tickInterval:     DefaultSessionTickInterval,
		sweepInterval:    DefaultExpirySweepInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.Location == nil {
		e.cfg.Location = time.Local
	}

	e.book = order.NewBook()
	e.tracker = order.NewTracker(e.log.Named("tracker"))
	e.clock = session.NewClock(e.cfg.window(), e.log.Named("session"))
	e.clock.OnTransition(e.onTransition)

	e.adapter = factory(e.handleVenueResponse)
	if e.adapter == nil {
		return nil, errors.New("engine: adapter factory returned nil")
	}

	e.dispatcher = order.NewDispatcher(e.book, e.tracker, e.clock, e.adapter,
		order.WithMaxPerCycle(e.cfg.MaxOrdersPerCycle),
		order.WithInterval(e.dispatchInterval),
		order.WithClock(e.now),
		order.WithObserver(e),
		order.WithLocker(&e.mu),
		order.WithLogger(e.log.Named("dispatcher")),
	)
	return e, nil
}

// Bus exposes the event bus observers subscribe to.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Configure swaps the policy and re-evaluates the session immediately.
func (e *Engine) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configure")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.cfg = cfg
	e.dispatcher.SetMaxPerCycle(cfg.MaxOrdersPerCycle)
	e.clock.SetWindow(cfg.window())
	e.clock.Tick(e.now())

	e.log.Info("gateway configured",
		zap.Int("max_orders_per_cycle", cfg.MaxOrdersPerCycle),
		zap.Stringer("window", cfg.window()),
		zap.String("timezone", cfg.Location.String()),
		zap.Duration("response_timeout", cfg.ResponseTimeout))
	return nil
}

func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// SubmitOrder applies a client request. Every failure is also published as
// an order.rejected event.
func (e *Engine) SubmitOrder(_ context.Context, typ order.RequestType, o order.Order) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	switch typ {
	case order.RequestNew:
		err = e.submitNew(o)
	case order.RequestModify:
		err = e.amend(o)
	case order.RequestCancel:
		err = e.cancel(o.ID)
	default:
		err = errors.Wrapf(order.ErrInvalidOrder, "unknown request type %q", typ)
	}

	if err != nil {
		e.reject(o.ID, typ, err)
	}
	return err
}

func (e *Engine) submitNew(o order.Order) error {
	if !e.clock.IsOpen() {
		return errors.Wrapf(order.ErrMarketClosed, "new %s", o.ID)
	}
	if err := o.Validate(); err != nil {
		return err
	}
	if e.tracker.InFlight(o.ID) {
		return errors.Wrapf(order.ErrDuplicateOrderID, "order %s is awaiting a venue response", o.ID)
	}

	o.SubmittedAt = e.now()
	queued, err := e.book.SubmitNew(o)
	if err != nil {
		return err
	}

	e.log.Info("order queued",
		zap.String("order_id", queued.ID),
		zap.Uint64("seq", queued.Seq),
		zap.String("side", string(queued.Side)),
		zap.Stringer("price", queued.Price),
		zap.Int64("quantity", queued.Quantity))
	e.publish(events.EventOrderQueued, events.OrderChanged{Order: queued})
	return nil
}

func (e *Engine) amend(o order.Order) error {
	if !e.book.Contains(o.ID) {
		return errors.Wrapf(order.ErrOrderNotFound, "modify %s", o.ID)
	}
	if !o.Price.IsPositive() || o.Quantity <= 0 {
		return errors.Wrapf(order.ErrInvalidOrder, "modify %s: price and quantity must be positive", o.ID)
	}

	amended, err := e.book.Amend(o.ID, o.Price, o.Quantity)
	if err != nil {
		return err
	}

	e.log.Info("order amended",
		zap.String("order_id", amended.ID),
		zap.Stringer("price", amended.Price),
		zap.Int64("quantity", amended.Quantity))
	e.publish(events.EventOrderAmended, events.OrderChanged{Order: amended})
	return nil
}

func (e *Engine) cancel(id string) error {
	cancelled, err := e.book.Cancel(id)
	if err != nil {
		return err
	}

	e.log.Info("order cancelled", zap.String("order_id", id))
	e.publish(events.EventOrderCancelled, events.OrderChanged{Order: cancelled})
	return nil
}

func (e *Engine) reject(id string, typ order.RequestType, err error) {
	reason := order.ReasonOf(err)
	e.log.Info("request rejected",
		zap.String("order_id", id),
		zap.String("request", string(typ)),
		zap.String("reason", string(reason)),
		zap.Error(err))
	e.publish(events.EventOrderRejected, events.OrderRejected{
		OrderID: id,
		Request: typ,
		Reason:  reason,
		Message: err.Error(),
	})
}

// Tick evaluates the session window at now.
func (e *Engine) Tick(now time.Time) (session.Transition, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clock.Tick(now)
}

// RunCycle runs one dispatcher cycle immediately.
func (e *Engine) RunCycle(ctx context.Context) order.CycleReport {
	return e.dispatcher.RunCycle(ctx)
}

// OnVenueResponse correlates a venue response with its dispatch.
func (e *Engine) OnVenueResponse(resp venue.Response) (order.ResponseLogEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, err := e.tracker.OnResponse(resp.OrderID, resp.Type, e.now())
	if err != nil {
		e.publish(events.EventVenueAnomaly, events.VenueAnomaly{
			OrderID: resp.OrderID,
			Kind:    order.ReasonOf(err),
			Message: err.Error(),
		})
		return order.ResponseLogEntry{}, err
	}

	e.log.Info("order responded",
		zap.String("order_id", entry.ID),
		zap.String("response", string(entry.Type)),
		zap.Duration("latency", entry.Latency))
	e.publishResponse(entry)
	return entry, nil
}

func (e *Engine) handleVenueResponse(resp venue.Response) {
	// failures are already logged and published
	_, _ = e.OnVenueResponse(resp)
}

// ExpireStale retires in-flight orders older than the response timeout.
func (e *Engine) ExpireStale(now time.Time) []order.DispatchRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	expired := e.tracker.Expire(now, e.cfg.ResponseTimeout)
	for _, rec := range expired {
		age := now.Sub(rec.DispatchedAt)
		e.log.Warn("in-flight order expired",
			zap.String("order_id", rec.ID),
			zap.Duration("age", age))
		e.publish(events.EventOrderExpired, events.OrderExpired{
			OrderID:      rec.ID,
			DispatchedAt: rec.DispatchedAt,
			Age:          age,
		})
	}
	return expired
}

// OrderDispatched implements order.Observer.
func (e *Engine) OrderDispatched(o order.Order, at time.Time) {
	e.log.Info("order dispatched", zap.String("order_id", o.ID), zap.Uint64("seq", o.Seq))
	e.publish(events.EventOrderDispatched, events.OrderDispatched{Order: o, At: at})
}

// SendFailed implements order.Observer. The failed send is reported as a
// venue Reject so observers still see exactly one outcome per dispatch.
func (e *Engine) SendFailed(o order.Order, entry order.ResponseLogEntry, err error) {
	e.log.Warn("order send failed", zap.String("order_id", o.ID), zap.Error(err))
	e.publish(events.EventOrderDispatched, events.OrderDispatched{Order: o, At: entry.RespondedAt.Add(-entry.Latency)})
	e.publishResponse(entry)
}

// DispatchDropped implements order.Observer. It only fires when an id was
// still in flight at dispatch time, which admission control should prevent.
func (e *Engine) DispatchDropped(o order.Order, err error) {
	e.publish(events.EventVenueAnomaly, events.VenueAnomaly{
		OrderID: o.ID,
		Kind:    order.ReasonOf(err),
		Message: err.Error(),
	})
}

func (e *Engine) publishResponse(entry order.ResponseLogEntry) {
	e.publish(events.EventOrderResponded, events.OrderResponded{
		OrderID:   entry.ID,
		Type:      entry.Type,
		Latency:   entry.Latency,
		LatencyMs: float64(entry.Latency.Microseconds()) / 1000,
	})
}

// onTransition runs inside Clock.Tick, with e.mu held.
func (e *Engine) onTransition(tr session.Transition) {
	topic := events.EventSessionClosed
	if tr.Opened() {
		topic = events.EventSessionOpened
	}
	e.publish(topic, events.SessionChanged{
		State:  tr.To.String(),
		Window: e.cfg.window().String(),
		At:     tr.At,
	})

	aware, ok := e.adapter.(venue.SessionAware)
	if !ok {
		return
	}
	ctx := context.Background()
	var err error
	if tr.Opened() {
		err = aware.Logon(ctx)
	} else {
		err = aware.Logout(ctx)
	}
	if err != nil {
		e.log.Warn("venue session call failed", zap.Stringer("state", tr.To), zap.Error(err))
	}
}

func (e *Engine) publish(topic events.Event, payload any) {
	if e.bus != nil {
		e.bus.Publish(topic, payload)
	}
}

// Run drives the session clock, the dispatcher and the expiry sweep until
// ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		e.Tick(e.now())
		every(ctx, e.tickInterval, func() { e.Tick(e.now()) })
		return nil
	})
	g.Go(func() error {
		e.dispatcher.Run(ctx)
		return nil
	})
	g.Go(func() error {
		every(ctx, e.sweepInterval, func() { e.ExpireStale(e.now()) })
		return nil
	})

	e.log.Info("gateway running",
		zap.Duration("dispatch_interval", e.dispatchInterval),
		zap.Duration("session_tick_interval", e.tickInterval))
	return g.Wait()
}

func every(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// --- Queries ---

func (e *Engine) PendingOrders() []order.Order { return e.book.Snapshot() }

func (e *Engine) PendingOrder(id string) (order.Order, bool) { return e.book.Get(id) }

func (e *Engine) InFlight() []order.DispatchRecord { return e.tracker.Records() }

func (e *Engine) Responses() []order.ResponseLogEntry { return e.tracker.Responses() }

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Status{
		Session:           e.clock.State().String(),
		Open:              e.clock.IsOpen(),
		Window:            e.cfg.window().String(),
		Timezone:          e.cfg.Location.String(),
		MaxOrdersPerCycle: e.dispatcher.MaxPerCycle(),
		DispatchInterval:  e.dispatchInterval,
		ResponseTimeout:   e.cfg.ResponseTimeout,
		Pending:           e.book.Len(),
		InFlight:          e.tracker.InFlightCount(),
		Responses:         e.tracker.ResponseCount(),
	}
}
