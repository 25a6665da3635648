package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const defaultMaxAttempts = 3

// CallerOptions tune retry behaviour.
type CallerOptions struct {
	MaxAttempts int
	Backoff     Backoff
	Counter     *RequestCounter
	Metrics     *Metrics
}

// Caller executes remote operations, retrying the ones that failed on the connection.
type Caller struct {
	maxAttempts int
	backoff     Backoff
	counter     *RequestCounter
	metrics     *Metrics
	logger      zerolog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewCaller constructs a Caller.
func NewCaller(opts CallerOptions, logger zerolog.Logger) *Caller {
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	counter := opts.Counter
	if counter == nil {
		counter = NewRequestCounter(5*time.Minute, nil)
	}
	return &Caller{
		maxAttempts: attempts,
		backoff:     opts.Backoff,
		counter:     counter,
		metrics:     opts.Metrics,
		logger:      logger.With().Str("component", "remote_caller").Logger(),
		sleep:       sleepContext,
	}
}

// Counter exposes the request counter shared by every call through c.
func (c *Caller) Counter() *RequestCounter {
	return c.counter
}

// Call runs fn until it succeeds, fails with a non-transient error, or runs out of attempts.
func Call[T any](ctx context.Context, c *Caller, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		c.counter.Mark()
		value, err := fn(ctx)
		if err == nil {
			c.metrics.observe(op, "success")
			c.trace(op, attempt)
			return value, nil
		}

		kind := KindOf(err)
		c.metrics.observe(op, kind.String())
		if kind != KindTransient || ctx.Err() != nil {
			return zero, fmt.Errorf("%s: %w: %w", op, ErrNotRetryable, err)
		}
		if attempt >= c.maxAttempts {
			return zero, fmt.Errorf("%s after %d attempts: %w: %w", op, attempt, ErrRetriesExhausted, err)
		}

		c.logger.Debug().Err(err).Str("operation", op).Int("attempt", attempt).Msg("transient failure, retrying")
		if err := c.sleep(ctx, c.backoff.Next(attempt)); err != nil {
			return zero, fmt.Errorf("%s: %w", op, err)
		}
	}
}

// Do is Call for operations without a result.
func Do(ctx context.Context, c *Caller, op string, fn func(context.Context) error) error {
	_, err := Call(ctx, c, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (c *Caller) trace(op string, attempt int) {
	c.logger.Trace().
		Str("operation", op).
		Int("attempt", attempt).
		Int("last_1m", c.counter.Count(time.Minute)).
		Int("last_5m", c.counter.Count(5*time.Minute)).
		Msg("remote call finished")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
