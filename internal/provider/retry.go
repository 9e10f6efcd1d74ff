package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"
)

// Retry defaults. Timeouts are per attempt; a timed-out attempt counts as
// transient and is retried.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 200 * time.Millisecond
	DefaultMaxDelay    = 5 * time.Second
	DefaultCallTimeout = 3 * time.Second
)

// RetryConfig configures the retry executor.
type RetryConfig struct {
	// MaxAttempts bounds the total number of attempts (first call included).
	MaxAttempts int

	// BaseDelay is the backoff before the second attempt; it doubles per
	// attempt up to MaxDelay. Each delay is jittered by +/-50%.
	BaseDelay time.Duration

	// MaxDelay caps the backoff.
	MaxDelay time.Duration

	// CallTimeout bounds each individual attempt.
	CallTimeout time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	return c
}

// Retryer executes outbound provider calls with bounded retries,
// exponential backoff with jitter, per-attempt timeouts, and an optional
// rate limit shared across callers.
//
// Permanent failures are returned immediately. Transient failures are
// retried; once attempts are exhausted the last failure is converted to a
// permanent error so callers upstream never retry it again.
type Retryer struct {
	cfg     RetryConfig
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewRetryer creates a Retryer. limiter may be nil (no throttling);
// logger may be nil (slog.Default).
func NewRetryer(cfg RetryConfig, limiter *rate.Limiter, logger *slog.Logger) *Retryer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retryer{cfg: cfg.withDefaults(), limiter: limiter, logger: logger}
}

// Do runs fn under the retry policy. op names the call for logging and
// error wrapping.
func (r *Retryer) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("%s: rate limit wait: %w", op, err)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
		err := fn(callCtx)
		cancel()

		if err == nil {
			return nil
		}

		// A per-attempt timeout counts as transient unless the parent
		// context itself is done.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = Transient("", op, err)
		}

		if IsPermanent(err) {
			return err
		}
		if !IsTransient(err) && !errors.Is(err, context.DeadlineExceeded) {
			// Unclassified failures are not retried: treating unknown
			// errors as transient risks hammering a broken provider.
			return err
		}

		lastErr = err
		if attempt == r.cfg.MaxAttempts {
			break
		}

		delay := r.backoff(attempt)
		r.logger.Debug("retrying provider call",
			"op", op, "attempt", attempt, "delay", delay, "error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
	}

	return Permanent("", op, fmt.Errorf("retries exhausted after %d attempts: %w", r.cfg.MaxAttempts, lastErr))
}

// backoff returns the jittered delay before the next attempt.
func (r *Retryer) backoff(attempt int) time.Duration {
	d := r.cfg.BaseDelay << (attempt - 1)
	if d > r.cfg.MaxDelay {
		d = r.cfg.MaxDelay
	}
	// Jitter in [0.5d, 1.5d) spreads synchronized retries.
	jittered := float64(d) * (0.5 + rand.Float64())
	return time.Duration(jittered)
}
