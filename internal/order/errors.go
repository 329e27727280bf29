package order

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

var (
	ErrMarketClosed      = errors.New("market closed")
	ErrDuplicateOrderID  = errors.New("duplicate order id")
	ErrOrderNotFound     = errors.New("order not found")
	ErrUnknownResponse   = errors.New("response for unknown order")
	ErrDuplicateDispatch = errors.New("order already in flight")
	ErrInvalidOrder      = errors.New("invalid order")
)

// RejectReason is the wire form of a rejection.
type RejectReason string

const (
	ReasonMarketClosed    RejectReason = "MARKET_CLOSED"
	ReasonDuplicateID     RejectReason = "DUPLICATE_ORDER_ID"
	ReasonOrderNotFound   RejectReason = "ORDER_NOT_FOUND"
	ReasonUnknownResponse RejectReason = "UNKNOWN_RESPONSE"
	ReasonInvalidOrder    RejectReason = "INVALID_ORDER"
	ReasonInternal        RejectReason = "INTERNAL"
)

// ReasonOf classifies err. Wrapped errors are unwrapped.
func ReasonOf(err error) RejectReason {
	switch {
	case err == nil:
		return ""
	case stderrors.Is(err, ErrMarketClosed):
		return ReasonMarketClosed
	case stderrors.Is(err, ErrDuplicateOrderID), stderrors.Is(err, ErrDuplicateDispatch):
		return ReasonDuplicateID
	case stderrors.Is(err, ErrOrderNotFound):
		return ReasonOrderNotFound
	case stderrors.Is(err, ErrUnknownResponse):
		return ReasonUnknownResponse
	case stderrors.Is(err, ErrInvalidOrder):
		return ReasonInvalidOrder
	}
	return ReasonInternal
}
