package order

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide accepts BUY/SELL in any case as well as the B/S shorthand.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "B":
		return SideBuy, nil
	case "SELL", "S":
		return SideSell, nil
	}
	return "", errors.Wrapf(ErrInvalidOrder, "unknown side %q", s)
}

// RequestType is the kind of client request carried by SubmitOrder.
type RequestType string

const (
	RequestNew    RequestType = "New"
	RequestModify RequestType = "Modify"
	RequestCancel RequestType = "Cancel"
)

// ParseRequestType is case-insensitive.
func ParseRequestType(s string) (RequestType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "new":
		return RequestNew, nil
	case "modify", "amend":
		return RequestModify, nil
	case "cancel":
		return RequestCancel, nil
	}
	return "", errors.Wrapf(ErrInvalidOrder, "unknown request type %q", s)
}

// ResponseType is the venue verdict for a dispatched order.
type ResponseType string

const (
	ResponseAccept ResponseType = "Accept"
	ResponseReject ResponseType = "Reject"
)

// Order is a client order. Identity is ID; Price and Quantity may change
// while the order is pending. Seq and SubmittedAt are stamped on admission.
type Order struct {
	ID          string          `json:"id"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int64           `json:"quantity"`
	Side        Side            `json:"side"`
	Seq         uint64          `json:"seq"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

// Validate checks the fields required for a New request.
func (o Order) Validate() error {
	if strings.TrimSpace(o.ID) == "" {
		return errors.Wrap(ErrInvalidOrder, "id is required")
	}
	if o.Side != SideBuy && o.Side != SideSell {
		return errors.Wrapf(ErrInvalidOrder, "order %s: invalid side %q", o.ID, o.Side)
	}
	return validateTerms(o.ID, o.Price, o.Quantity)
}

func validateTerms(id string, price decimal.Decimal, qty int64) error {
	if !price.IsPositive() {
		return errors.Wrapf(ErrInvalidOrder, "order %s: price must be positive", id)
	}
	if qty <= 0 {
		return errors.Wrapf(ErrInvalidOrder, "order %s: quantity must be positive", id)
	}
	return nil
}

// DispatchRecord marks an order sent to the venue and awaiting a response.
type DispatchRecord struct {
	ID           string    `json:"id"`
	DispatchedAt time.Time `json:"dispatched_at"`
}

// ResponseLogEntry is written once per correlated venue response.
type ResponseLogEntry struct {
	ID          string        `json:"id"`
	Type        ResponseType  `json:"type"`
	Latency     time.Duration `json:"latency"`
	RespondedAt time.Time     `json:"responded_at"`
}
