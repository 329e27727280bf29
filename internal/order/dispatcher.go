package order

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultMaxPerCycle      = 3
	DefaultDispatchInterval = time.Second
)

// Gate reports whether dispatch is currently permitted.
type Gate interface {
	IsOpen() bool
}

// Sender forwards an order to the venue. It must not deliver the venue's
// response from inside Send.
type Sender interface {
	Send(ctx context.Context, o Order) error
}

// Observer is notified of dispatch outcomes while the cycle lock is held.
type Observer interface {
	OrderDispatched(o Order, at time.Time)
	SendFailed(o Order, entry ResponseLogEntry, err error)
	DispatchDropped(o Order, err error)
}

// CycleReport summarizes one dispatcher cycle.
type CycleReport struct {
	Open       bool
	Dispatched []Order
	Failed     []Order
	Dropped    []Order
}

// Dispatcher drains the book at a fixed cadence, at most MaxPerCycle orders
// per cycle, and only while the gate is open.
type Dispatcher struct {
	book     *Book
	tracker  *Tracker
	gate     Gate
	sender   Sender
	observer Observer
	lock     sync.Locker

	maxPerCycle int
	interval    time.Duration
	now         func() time.Time
	log         *zap.Logger
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

func WithMaxPerCycle(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxPerCycle = n
		}
	}
}

func WithInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.interval = interval
		}
	}
}

func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func WithObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) { d.observer = o }
}

// WithLocker makes each cycle run under l, so that the cycle is serialized
// with other writers sharing the same lock.
func WithLocker(l sync.Locker) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.lock = l
		}
	}
}

func WithLogger(log *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

func NewDispatcher(book *Book, tracker *Tracker, gate Gate, sender Sender, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		book:        book,
		tracker:     tracker,
		gate:        gate,
		sender:      sender,
		lock:        &sync.Mutex{},
		maxPerCycle: DefaultMaxPerCycle,
		interval:    DefaultDispatchInterval,
		now:         time.Now,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) MaxPerCycle() int { return d.maxPerCycle }

// SetMaxPerCycle changes the cap for subsequent cycles. Callers sharing the
// cycle lock must hold it.
func (d *Dispatcher) SetMaxPerCycle(n int) {
	if n > 0 {
		d.maxPerCycle = n
	}
}

// RunCycle performs one dispatch cycle.
func (d *Dispatcher) RunCycle(ctx context.Context) CycleReport {
	d.lock.Lock()
	defer d.lock.Unlock()

	if !d.gate.IsOpen() {
		return CycleReport{}
	}

	report := CycleReport{Open: true}
	for _, o := range d.book.Drain(d.maxPerCycle) {
		at := d.now()
		if err := d.tracker.OnDispatch(o.ID, at); err != nil {
			d.log.Error("order dropped before send", zap.String("order_id", o.ID), zap.Error(err))
			report.Dropped = append(report.Dropped, o)
			if d.observer != nil {
				d.observer.DispatchDropped(o, err)
			}
			continue
		}

		if err := d.sender.Send(ctx, o); err != nil {
			d.log.Warn("venue send failed", zap.String("order_id", o.ID), zap.Error(err))
			entry, rerr := d.tracker.OnResponse(o.ID, ResponseReject, d.now())
			if rerr != nil && !errors.Is(rerr, ErrUnknownResponse) {
				d.log.Error("retire failed send", zap.String("order_id", o.ID), zap.Error(rerr))
			}
			report.Failed = append(report.Failed, o)
			if d.observer != nil {
				d.observer.SendFailed(o, entry, err)
			}
			continue
		}

		d.log.Debug("order dispatched", zap.String("order_id", o.ID), zap.Uint64("seq", o.Seq))
		report.Dispatched = append(report.Dispatched, o)
		if d.observer != nil {
			d.observer.OrderDispatched(o, at)
		}
	}
	return report
}

// Run ticks RunCycle until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.RunCycle(ctx)
		}
	}
}
