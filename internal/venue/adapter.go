// Package venue abstracts the trading venue that receives dispatched orders.
package venue

import (
	"context"
	"time"

	"order-gateway/internal/order"
)

// Response is the venue's verdict on a dispatched order.
type Response struct {
	OrderID    string             `json:"order_id"`
	Type       order.ResponseType `json:"type"`
	ReceivedAt time.Time          `json:"received_at"`
}

// Handler receives venue responses. Adapters call it from their own
// goroutines, never from inside Send.
type Handler func(Response)

// Adapter forwards orders to a venue. Every successful Send eventually
// yields exactly one Response through the adapter's Handler.
type Adapter interface {
	Send(ctx context.Context, o order.Order) error
}

// SessionAware adapters are told when the trading session opens and closes.
type SessionAware interface {
	Logon(ctx context.Context) error
	Logout(ctx context.Context) error
}
