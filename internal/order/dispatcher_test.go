package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type gate struct{ open bool }

func (g *gate) IsOpen() bool { return g.open }

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	fail map[string]error
}

func (s *recordingSender) Send(_ context.Context, o Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[o.ID]; err != nil {
		return err
	}
	s.sent = append(s.sent, o.ID)
	return nil
}

type recordingObserver struct {
	dispatched []string
	failed     []ResponseLogEntry
	dropped    []string
}

func (r *recordingObserver) OrderDispatched(o Order, _ time.Time) {
	r.dispatched = append(r.dispatched, o.ID)
}

func (r *recordingObserver) SendFailed(_ Order, entry ResponseLogEntry, _ error) {
	r.failed = append(r.failed, entry)
}

func (r *recordingObserver) DispatchDropped(o Order, _ error) {
	r.dropped = append(r.dropped, o.ID)
}

func newTestDispatcher(g Gate, s Sender, obs Observer, max int) (*Dispatcher, *Book, *Tracker) {
	book := NewBook()
	tracker := NewTracker(nil)
	now := t0
	d := NewDispatcher(book, tracker, g, s,
		WithMaxPerCycle(max),
		WithClock(func() time.Time { return now }),
		WithObserver(obs),
	)
	return d, book, tracker
}

func TestDispatcherRespectsCap(t *testing.T) {
	sender := &recordingSender{}
	d, book, tracker := newTestDispatcher(&gate{open: true}, sender, nil, 3)
	for i := 1; i <= 7; i++ {
		mustSubmit(t, book, fmt.Sprintf("O%d", i))
	}

	var cycles []int
	for book.Len() > 0 {
		report := d.RunCycle(context.Background())
		cycles = append(cycles, len(report.Dispatched))
	}

	if fmt.Sprint(cycles) != "[3 3 1]" {
		t.Fatalf("per-cycle dispatch = %v, want [3 3 1]", cycles)
	}
	if fmt.Sprint(sender.sent) != "[O1 O2 O3 O4 O5 O6 O7]" {
		t.Fatalf("send order = %v", sender.sent)
	}
	if tracker.InFlightCount() != 7 {
		t.Fatalf("in flight = %d, want 7", tracker.InFlightCount())
	}
}

func TestDispatcherIdleWhileClosed(t *testing.T) {
	g := &gate{}
	sender := &recordingSender{}
	d, book, _ := newTestDispatcher(g, sender, nil, 3)
	mustSubmit(t, book, "A")

	report := d.RunCycle(context.Background())
	if report.Open || len(report.Dispatched) != 0 || len(sender.sent) != 0 {
		t.Fatalf("closed cycle dispatched: %+v", report)
	}
	if book.Len() != 1 {
		t.Fatal("closed cycle drained the book")
	}

	g.open = true
	report = d.RunCycle(context.Background())
	if len(report.Dispatched) != 1 {
		t.Fatalf("open cycle dispatched %d, want 1", len(report.Dispatched))
	}
}

func TestDispatcherSendFailureBecomesReject(t *testing.T) {
	sender := &recordingSender{fail: map[string]error{"B": errors.New("link down")}}
	obs := &recordingObserver{}
	d, book, tracker := newTestDispatcher(&gate{open: true}, sender, obs, 3)
	for _, id := range []string{"A", "B", "C"} {
		mustSubmit(t, book, id)
	}

	report := d.RunCycle(context.Background())
	if fmt.Sprint(ids(report.Dispatched)) != "[A C]" || fmt.Sprint(ids(report.Failed)) != "[B]" {
		t.Fatalf("report = %+v", report)
	}
	if tracker.InFlight("B") {
		t.Fatal("failed send still in flight")
	}
	if len(obs.failed) != 1 || obs.failed[0].Type != ResponseReject || obs.failed[0].Latency != 0 {
		t.Fatalf("failed = %+v", obs.failed)
	}
	if fmt.Sprint(obs.dispatched) != "[A C]" {
		t.Fatalf("dispatched = %v", obs.dispatched)
	}
}

func TestDispatcherDropsDuplicateInFlight(t *testing.T) {
	sender := &recordingSender{}
	obs := &recordingObserver{}
	d, book, tracker := newTestDispatcher(&gate{open: true}, sender, obs, 3)
	_ = tracker.OnDispatch("A", t0)
	mustSubmit(t, book, "A")

	report := d.RunCycle(context.Background())
	if len(report.Dropped) != 1 || len(sender.sent) != 0 {
		t.Fatalf("report = %+v, sent = %v", report, sender.sent)
	}
	if fmt.Sprint(obs.dropped) != "[A]" {
		t.Fatalf("dropped = %v", obs.dropped)
	}
}

func TestDispatcherSetMaxPerCycle(t *testing.T) {
	d, book, _ := newTestDispatcher(&gate{open: true}, &recordingSender{}, nil, 3)
	d.SetMaxPerCycle(5)
	d.SetMaxPerCycle(0)
	if d.MaxPerCycle() != 5 {
		t.Fatalf("max = %d, want 5", d.MaxPerCycle())
	}
	for i := 0; i < 6; i++ {
		mustSubmit(t, book, fmt.Sprintf("O%d", i))
	}
	if n := len(d.RunCycle(context.Background()).Dispatched); n != 5 {
		t.Fatalf("dispatched %d, want 5", n)
	}
}

func TestDispatcherRunStopsOnCancel(t *testing.T) {
	sender := &recordingSender{}
	book := NewBook()
	d := NewDispatcher(book, NewTracker(nil), &gate{open: true}, sender, WithInterval(time.Millisecond))
	mustSubmit(t, book, "A")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for book.Len() > 0 {
		select {
		case <-deadline:
			t.Fatal("order never dispatched")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	<-done
}
