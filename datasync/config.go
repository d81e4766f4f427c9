package datasync

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/goliatone/go-tenant-sync/retry"
)

// Config exposes the tunables the sync layer consumes at construction time.
// Nothing here is hardcoded downstream; components read their defaults from
// the config the container was built with.
type Config struct {
	// DefaultStaleTime is the cache freshness window used when a fetch does
	// not specify its own.
	DefaultStaleTime time.Duration

	// DefaultPageSize is the page size used when a caller does not pick one.
	DefaultPageSize int

	// MaxAttempts bounds remote retries, the first attempt included.
	MaxAttempts int

	// BaseDelay is the linear backoff unit between retry attempts and
	// between change-feed reconnection attempts.
	BaseDelay time.Duration

	// AttemptTimeout bounds each individual remote call. Zero disables it.
	AttemptTimeout time.Duration
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultStaleTime: 2 * time.Minute,
		DefaultPageSize:  25,
		MaxAttempts:      3,
		BaseDelay:        200 * time.Millisecond,
		AttemptTimeout:   10 * time.Second,
	}
}

// Validate checks whether the configuration values are usable.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.DefaultStaleTime, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.DefaultPageSize, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxAttempts, validation.Required, validation.Min(1)),
		validation.Field(&c.BaseDelay, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.AttemptTimeout, validation.Min(time.Duration(0))),
	)
}

// retryPolicy derives the retry schedule shared by reads and writes.
func (c Config) retryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:    c.MaxAttempts,
		BaseDelay:      c.BaseDelay,
		AttemptTimeout: c.AttemptTimeout,
	}
}
