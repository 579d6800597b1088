package scheduler

import (
	"time"

	"github.com/lumik/renloc/internal/extract"
)

// Config tunes a scheduler run. Zero values fall back to the backend
// adapter defaults, or to the package defaults below.
type Config struct {
	TargetLang string
	SourceLang string

	// Concurrency, RequestsPerSecond, RequestsPerMinute and BatchSize
	// override the adapter defaults when positive.
	Concurrency       int
	RequestsPerSecond int
	RequestsPerMinute int
	BatchSize         int

	// MaxAttempts bounds dispatches per batch before its units fail.
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

const (
	defaultMaxAttempts = 3
	defaultBaseBackoff = 500 * time.Millisecond
	defaultMaxBackoff  = 30 * time.Second
)

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = defaultBaseBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	return c
}

// Event is one progress notification. The scheduler never blocks on the
// consumer; events are dropped when the receiver lags.
type Event struct {
	Processed int
	Total     int
	Backend   string
	UnitID    string
	Status    extract.Status
	LastError string
}
