package monitor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"order-gateway/internal/events"
	"order-gateway/internal/order"
)

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(message string) error
}

// LogSink writes alerts to a zap logger at warn level.
type LogSink struct {
	Log *zap.Logger
}

func (s LogSink) Send(message string) error {
	s.Log.Warn("alert", zap.String("message", message))
	return nil
}

// Monitor folds bus events into metrics and raises alerts for anomalies.
type Monitor struct {
	Bus     *events.Bus
	Metrics *GatewayMetrics
	Alerts  AlertSink
	Log     *zap.Logger
}

// Start consumes events until ctx is cancelled. The returned channel is
// closed once the consumer goroutine exits.
func (m *Monitor) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	if m.Bus == nil || m.Metrics == nil {
		if m.Log != nil {
			m.Log.Warn("monitor not fully configured; skipping")
		}
		close(done)
		return done
	}

	stream, unsub := m.Bus.SubscribeAll(1024)
	go func() {
		defer close(done)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-stream:
				if !ok {
					return
				}
				m.Observe(env)
			}
		}
	}()
	return done
}

// Observe applies a single event.
func (m *Monitor) Observe(env events.Envelope) {
	switch p := env.Payload.(type) {
	case events.SessionChanged:
		m.Metrics.SetSession(env.Topic == events.EventSessionOpened, p.At)
	case events.OrderChanged:
		switch env.Topic {
		case events.EventOrderQueued:
			m.Metrics.IncQueued()
		case events.EventOrderAmended:
			m.Metrics.IncAmended()
		case events.EventOrderCancelled:
			m.Metrics.IncCancelled()
		}
	case events.OrderRejected:
		m.Metrics.IncRejected(string(p.Reason))
	case events.OrderDispatched:
		m.Metrics.IncDispatched()
	case events.OrderResponded:
		m.Metrics.RecordResponse(p.Type == order.ResponseAccept, p.Latency)
	case events.OrderExpired:
		m.Metrics.IncExpired()
		m.alert(fmt.Sprintf("order %s expired after %s without a venue response", p.OrderID, p.Age))
	case events.VenueAnomaly:
		m.Metrics.IncAnomalies()
		m.alert(fmt.Sprintf("venue anomaly %s for order %s: %s", p.Kind, p.OrderID, p.Message))
	}
}

func (m *Monitor) alert(msg string) {
	if m.Alerts == nil {
		return
	}
	if err := m.Alerts.Send(msg); err != nil && m.Log != nil {
		m.Log.Warn("alert delivery failed", zap.Error(err))
	}
}
