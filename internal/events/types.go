package events

import (
	"time"

	"order-gateway/internal/order"
)

// Event enumerates the topics published by the gateway.
type Event string

const (
	EventSessionOpened   Event = "session.opened"
	EventSessionClosed   Event = "session.closed"
	EventOrderQueued     Event = "order.queued"
	EventOrderAmended    Event = "order.amended"
	EventOrderCancelled  Event = "order.cancelled"
	EventOrderRejected   Event = "order.rejected"
	EventOrderDispatched Event = "order.dispatched"
	EventOrderResponded  Event = "order.responded"
	EventOrderExpired    Event = "order.expired"
	EventVenueAnomaly    Event = "venue.anomaly"
)

type SessionChanged struct {
	State  string    `json:"state"`
	Window string    `json:"window"`
	At     time.Time `json:"at"`
}

type OrderChanged struct {
	Order order.Order `json:"order"`
}

type OrderRejected struct {
	OrderID string             `json:"order_id"`
	Request order.RequestType  `json:"request"`
	Reason  order.RejectReason `json:"reason"`
	Message string             `json:"message"`
}

type OrderDispatched struct {
	Order order.Order `json:"order"`
	At    time.Time   `json:"at"`
}

type OrderResponded struct {
	OrderID   string             `json:"order_id"`
	Type      order.ResponseType `json:"type"`
	Latency   time.Duration      `json:"latency"`
	LatencyMs float64            `json:"latency_ms"`
}

type OrderExpired struct {
	OrderID      string        `json:"order_id"`
	DispatchedAt time.Time     `json:"dispatched_at"`
	Age          time.Duration `json:"age"`
}

// VenueAnomaly reports venue traffic that could not be correlated.
type VenueAnomaly struct {
	OrderID string             `json:"order_id"`
	Kind    order.RejectReason `json:"kind"`
	Message string             `json:"message"`
}
