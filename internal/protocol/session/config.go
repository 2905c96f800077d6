package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidIdleTimeout  = errors.New("session: idle timeout must be positive")
	ErrInvalidReapInterval = errors.New("session: reap interval must be positive")
	ErrInvalidBackoff      = errors.New("session: invalid backoff")
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines transport/session reliability defaults.
type Config struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	// IdleTimeout closes a server connection that has not completed a valid
	// exchange within the window.
	IdleTimeout  time.Duration
	ReapInterval time.Duration
	Backoff      BackoffConfig
}

// DefaultConfig returns the reference MiniTel-Lite timings: a 2s idle window
// scanned every 500ms, and connect retries waiting 2s, 4s, 8s...
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   5 * time.Second,
		IdleTimeout:    2 * time.Second,
		ReapInterval:   500 * time.Millisecond,
		Backoff: BackoffConfig{
			InitialDelay: 2 * time.Second,
			Multiplier:   2.0,
			MaxDelay:     30 * time.Second,
			Jitter:       false,
		},
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.ReapInterval == 0 {
		c.ReapInterval = def.ReapInterval
	}
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = def.Backoff
	}
	return c
}

func (c Config) Validate() error {
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidIdleTimeout, c.IdleTimeout)
	}
	if c.ReapInterval <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidReapInterval, c.ReapInterval)
	}
	if c.Backoff.InitialDelay < 0 || c.Backoff.MaxDelay < 0 {
		return fmt.Errorf("%w: negative delay", ErrInvalidBackoff)
	}
	if c.Backoff.Multiplier < 0 {
		return fmt.Errorf("%w: negative multiplier", ErrInvalidBackoff)
	}
	return nil
}
