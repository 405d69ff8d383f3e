package database

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	firstBackoff = 500 * time.Millisecond
	maxBackoff   = 8 * time.Second
)

// connectWithRetry calls dial until it succeeds, attempts run out or ctx is
// done, doubling the pause between tries. Containers started together tend
// to race their dependencies, so a few retries save a crash loop.
func connectWithRetry(ctx context.Context, log zerolog.Logger, what string, attempts int, dial func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	backoff := firstBackoff
	var err error
	for i := 1; i <= attempts; i++ {
		if err = dial(ctx); err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		log.Warn().Err(err).
			Str("target", what).
			Int("attempt", i).
			Dur("retry_in", backoff).
			Msg("Connection failed, retrying")

		select {
		case <-ctx.Done():
			return fmt.Errorf("connect %s: %w", what, ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
	return fmt.Errorf("connect %s after %d attempts: %w", what, attempts, err)
}
