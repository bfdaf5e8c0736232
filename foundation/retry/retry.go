// Package retry wraps exponential backoff for connecting to backing services at startup.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Config controls how long startup connections are retried.
type Config struct {
	MaxRetries     uint64
	InitialBackoff time.Duration
	MaxElapsed     time.Duration
}

// DefaultConfig gives up after roughly a minute.
var DefaultConfig = Config{
	MaxRetries:     8,
	InitialBackoff: 500 * time.Millisecond,
	MaxElapsed:     time.Minute,
}

// Do calls op until it succeeds, the retries are exhausted or ctx is done.
func Do(ctx context.Context, log *zerolog.Logger, name string, cfg Config, op func() error) error {
	exp := backoff.NewExponentialBackOff()
	if cfg.InitialBackoff > 0 {
		exp.InitialInterval = cfg.InitialBackoff
	}
	if cfg.MaxElapsed > 0 {
		exp.MaxElapsedTime = cfg.MaxElapsed
	}
	b := backoff.WithContext(backoff.WithMaxRetries(exp, cfg.MaxRetries), ctx)

	return backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		log.Warn().Err(err).Str("service", name).Dur("wait", wait).Msg("connection attempt failed, retrying")
	})
}
