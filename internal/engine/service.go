// Package engine ties the session clock, the pending book, the dispatcher
// and the response tracker into one gateway. The API layer talks to the
// gateway only through Service.
package engine

import (
	"context"

	"order-gateway/internal/order"
)

// Service defines the operations exposed to order producers and operators.
type Service interface {
	// Configure replaces the dispatch cap, session window and expiry policy.
	Configure(cfg Config) error
	Config() Config

	// SubmitOrder applies a New, Modify or Cancel request.
	SubmitOrder(ctx context.Context, typ order.RequestType, o order.Order) error

	PendingOrders() []order.Order
	PendingOrder(id string) (order.Order, bool)
	InFlight() []order.DispatchRecord
	Responses() []order.ResponseLogEntry
	Status() Status
}
