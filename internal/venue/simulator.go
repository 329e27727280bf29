package venue

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"order-gateway/internal/order"
)

var ErrClosed = errors.New("venue adapter closed")

// SimConfig controls the simulated venue.
type SimConfig struct {
	LatencyMin        time.Duration
	LatencyMax        time.Duration
	AcceptProbability float64 // 0..1
	Seed              int64   // 0 seeds from the clock
}

// Simulator is an in-process venue that answers every order after a random
// delay with Accept or Reject.
type Simulator struct {
	cfg     SimConfig
	handler Handler
	log     *zap.Logger

	mu       sync.Mutex
	rng      *rand.Rand
	timers   map[uint64]*time.Timer
	nextKey  uint64
	closed   bool
	loggedOn bool
	wg       sync.WaitGroup
}

func NewSimulator(cfg SimConfig, handler Handler, log *zap.Logger) *Simulator {
	if cfg.LatencyMin < 0 {
		cfg.LatencyMin = 0
	}
	if cfg.LatencyMax > 0 && cfg.LatencyMin > cfg.LatencyMax {
		cfg.LatencyMin, cfg.LatencyMax = cfg.LatencyMax, cfg.LatencyMin
	}
	if cfg.AcceptProbability < 0 {
		cfg.AcceptProbability = 0
	}
	if cfg.AcceptProbability > 1 {
		cfg.AcceptProbability = 1
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Simulator{
		cfg:     cfg,
		handler: handler,
		log:     log,
		rng:     rand.New(rand.NewSource(seed)),
		timers:  make(map[uint64]*time.Timer),
	}
}

// Send schedules a response for o.
func (s *Simulator) Send(_ context.Context, o order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	delay := s.cfg.LatencyMin
	if span := s.cfg.LatencyMax - s.cfg.LatencyMin; span > 0 {
		delay += time.Duration(s.rng.Int63n(int64(span) + 1))
	}
	verdict := order.ResponseReject
	if s.rng.Float64() < s.cfg.AcceptProbability {
		verdict = order.ResponseAccept
	}

	s.log.Info("sent order to venue",
		zap.String("order_id", o.ID),
		zap.Stringer("price", o.Price),
		zap.Int64("quantity", o.Quantity),
		zap.Duration("scheduled_in", delay))

	id := o.ID
	s.nextKey++
	key := s.nextKey
	s.wg.Add(1)
	s.timers[key] = time.AfterFunc(delay, func() {
		defer s.wg.Done()
		s.mu.Lock()
		if _, pending := s.timers[key]; !pending {
			s.mu.Unlock()
			return
		}
		delete(s.timers, key)
		s.mu.Unlock()

		if s.handler != nil {
			s.handler(Response{OrderID: id, Type: verdict, ReceivedAt: time.Now()})
		}
	})
	return nil
}

func (s *Simulator) Logon(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedOn = true
	s.log.Info("market logon sent")
	return nil
}

func (s *Simulator) Logout(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedOn = false
	s.log.Info("market logout sent")
	return nil
}

// LoggedOn reports whether the last session call was a logon.
func (s *Simulator) LoggedOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedOn
}

// Pending returns the number of responses not yet delivered.
func (s *Simulator) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close cancels undelivered responses and waits for running callbacks.
func (s *Simulator) Close() {
	s.mu.Lock()
	s.closed = true
	for key, t := range s.timers {
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.timers, key)
	}
	s.mu.Unlock()

	s.wg.Wait()
}
