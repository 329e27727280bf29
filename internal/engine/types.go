package engine

import (
	"fmt"
	"time"

	"order-gateway/internal/order"
	"order-gateway/internal/session"
)

// Config is the runtime policy of the gateway.
type Config struct {
	MaxOrdersPerCycle int                 `json:"max_orders_per_cycle"`
	SessionStart      session.MinuteOfDay `json:"session_start"`
	SessionEnd        session.MinuteOfDay `json:"session_end"`
	Location          *time.Location      `json:"-"`
	// ResponseTimeout retires in-flight orders that never get a response.
	// Zero disables expiry.
	ResponseTimeout time.Duration `json:"response_timeout"`
}

// DefaultConfig mirrors the stock deployment: 3 orders per cycle, 10:00-13:00 local.
func DefaultConfig() Config {
	return Config{
		MaxOrdersPerCycle: order.DefaultMaxPerCycle,
		SessionStart:      10 * 60,
		SessionEnd:        13 * 60,
		Location:          time.Local,
	}
}

func (c Config) Validate() error {
	if c.MaxOrdersPerCycle <= 0 {
		return fmt.Errorf("max orders per cycle must be positive, got %d", c.MaxOrdersPerCycle)
	}
	if c.ResponseTimeout < 0 {
		return fmt.Errorf("response timeout must not be negative, got %s", c.ResponseTimeout)
	}
	return c.window().Validate()
}

func (c Config) window() session.Window {
	loc := c.Location
	if loc == nil {
		loc = time.Local
	}
	return session.Window{Start: c.SessionStart, End: c.SessionEnd, Location: loc}
}

// Status is an operator view of the gateway.
type Status struct {
	Session           string        `json:"session"`
	Open              bool          `json:"open"`
	Window            string        `json:"window"`
	Timezone          string        `json:"timezone"`
	MaxOrdersPerCycle int           `json:"max_orders_per_cycle"`
	DispatchInterval  time.Duration `json:"dispatch_interval"`
	ResponseTimeout   time.Duration `json:"response_timeout"`
	Pending           int           `json:"pending"`
	InFlight          int           `json:"in_flight"`
	Responses         int           `json:"responses"`
}
