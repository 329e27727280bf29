package config

import (
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"order-gateway/internal/engine"
	"order-gateway/internal/session"
	"order-gateway/internal/venue"
)

// Config holds environment-driven settings for the gateway.
type Config struct {
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogEncoding string `env:"LOG_ENCODING" envDefault:"json"`
	Language    string `env:"LANGUAGE" envDefault:"en"` // "en" or "zh"

	// Optional YAML file overlaying the session and dispatch settings.
	File string `env:"GATEWAY_CONFIG_FILE"`

	// Dispatch
	MaxOrdersPerCycle int           `env:"MAX_ORDERS_PER_CYCLE" envDefault:"3" yaml:"max_orders_per_cycle"`
	DispatchInterval  time.Duration `env:"DISPATCH_INTERVAL" envDefault:"1s" yaml:"dispatch_interval"`

	// Session
	SessionStart        string        `env:"SESSION_START" envDefault:"10:00" yaml:"session_start"`
	SessionEnd          string        `env:"SESSION_END" envDefault:"13:00" yaml:"session_end"`
	SessionTimezone     string        `env:"SESSION_TIMEZONE" envDefault:"Local" yaml:"session_timezone"`
	SessionTickInterval time.Duration `env:"SESSION_TICK_INTERVAL" envDefault:"1s" yaml:"session_tick_interval"`

	// In-flight expiry; zero disables it.
	ResponseTimeout     time.Duration `env:"RESPONSE_TIMEOUT" envDefault:"0s" yaml:"response_timeout"`
	ExpirySweepInterval time.Duration `env:"EXPIRY_SWEEP_INTERVAL" envDefault:"5s" yaml:"expiry_sweep_interval"`

	// Simulated venue
	VenueLatencyMin        time.Duration `env:"VENUE_LATENCY_MIN" envDefault:"0s" yaml:"venue_latency_min"`
	VenueLatencyMax        time.Duration `env:"VENUE_LATENCY_MAX" envDefault:"200ms" yaml:"venue_latency_max"`
	VenueAcceptProbability float64       `env:"VENUE_ACCEPT_PROBABILITY" envDefault:"0.8" yaml:"venue_accept_probability"`
	VenueSeed              int64         `env:"VENUE_SEED" envDefault:"0" yaml:"venue_seed"`

	// API
	JWTSecret    string  `env:"JWT_SECRET"`
	APIRateLimit float64 `env:"API_RATE_LIMIT" envDefault:"20"`
	APIRateBurst int     `env:"API_RATE_BURST" envDefault:"50"`

	// Event export; empty brokers disables it.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"order-gateway.events"`
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "parse environment")
	}
	if cfg.File != "" {
		if err := cfg.overlay(cfg.File); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overlay decodes a YAML file on top of the values already loaded. Keys
// absent from the file keep their environment values.
func (c *Config) overlay(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read config file %s", path)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return errors.Wrapf(err, "decode config file %s", path)
	}
	return nil
}

// Validate checks ranges and that the session settings parse.
func (c *Config) Validate() error {
	if c.MaxOrdersPerCycle <= 0 {
		return errors.Errorf("MAX_ORDERS_PER_CYCLE must be positive, got %d", c.MaxOrdersPerCycle)
	}
	if c.DispatchInterval <= 0 {
		return errors.Errorf("DISPATCH_INTERVAL must be positive, got %s", c.DispatchInterval)
	}
	if c.SessionTickInterval <= 0 {
		return errors.Errorf("SESSION_TICK_INTERVAL must be positive, got %s", c.SessionTickInterval)
	}
	if c.ResponseTimeout < 0 {
		return errors.Errorf("RESPONSE_TIMEOUT must not be negative, got %s", c.ResponseTimeout)
	}
	if c.ResponseTimeout > 0 && c.ExpirySweepInterval <= 0 {
		return errors.Errorf("EXPIRY_SWEEP_INTERVAL must be positive when RESPONSE_TIMEOUT is set")
	}
	if c.VenueLatencyMin < 0 || c.VenueLatencyMax < c.VenueLatencyMin {
		return errors.Errorf("venue latency range %s-%s is invalid", c.VenueLatencyMin, c.VenueLatencyMax)
	}
	if c.VenueAcceptProbability < 0 || c.VenueAcceptProbability > 1 {
		return errors.Errorf("VENUE_ACCEPT_PROBABILITY must be within [0,1], got %v", c.VenueAcceptProbability)
	}
	if c.APIRateLimit <= 0 || c.APIRateBurst <= 0 {
		return errors.New("API_RATE_LIMIT and API_RATE_BURST must be positive")
	}
	_, err := c.Engine()
	return err
}

// Location resolves SESSION_TIMEZONE.
func (c *Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.SessionTimezone)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, errors.Wrapf(err, "SESSION_TIMEZONE %q", name)
	}
	return loc, nil
}

// Engine derives the runtime policy of the gateway.
func (c *Config) Engine() (engine.Config, error) {
	start, err := session.ParseMinuteOfDay(c.SessionStart)
	if err != nil {
		return engine.Config{}, errors.Wrap(err, "SESSION_START")
	}
	end, err := session.ParseMinuteOfDay(c.SessionEnd)
	if err != nil {
		return engine.Config{}, errors.Wrap(err, "SESSION_END")
	}
	loc, err := c.Location()
	if err != nil {
		return engine.Config{}, err
	}

	ec := engine.Config{
		MaxOrdersPerCycle: c.MaxOrdersPerCycle,
		SessionStart:      start,
		SessionEnd:        end,
		Location:          loc,
		ResponseTimeout:   c.ResponseTimeout,
	}
	if err := ec.Validate(); err != nil {
		return engine.Config{}, err
	}
	return ec, nil
}

// Simulator derives the simulated venue settings.
func (c *Config) Simulator() venue.SimConfig {
	return venue.SimConfig{
		LatencyMin:        c.VenueLatencyMin,
		LatencyMax:        c.VenueLatencyMax,
		AcceptProbability: c.VenueAcceptProbability,
		Seed:              c.VenueSeed,
	}
}

// KafkaEnabled reports whether bus events are exported.
func (c *Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }
