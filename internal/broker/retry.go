package broker

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/obs"
	"main/internal/schema"
	"main/pkg/backoff"
	"main/pkg/exception"
	"main/pkg/ratelimit"
)

// RetryConfig bounds submission retries for transient broker failures.
type RetryConfig struct {
	MaxAttempts int             `mapstructure:"maxAttempts"`
	Backoff     backoff.Backoff `mapstructure:"backoff"`
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff.Min <= 0 {
		c.Backoff = backoff.Default()
	}
	return c
}

// Limited wraps a broker with a token-bucket rate limiter and bounded
// retries. Transient failures are retried with increasing backoff; once
// attempts are exhausted the submission fails with ErrBrokerUnavailable,
// which the order manager maps to a rejected order with reason
// broker_unavailable.
type Limited struct {
	inner   Broker
	limiter *ratelimit.Limiter
	cfg     RetryConfig
	metrics *obs.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewLimited wraps a broker with rate limiting and retry behavior.
func NewLimited(inner Broker, limiter *ratelimit.Limiter, cfg RetryConfig, metrics *obs.Metrics) *Limited {
	return &Limited{
		inner:   inner,
		limiter: limiter,
		cfg:     cfg.withDefaults(),
		metrics: metrics,
		sleep:   sleepCtx,
	}
}

// Name implements Broker.
func (l *Limited) Name() string { return l.inner.Name() }

// Submit implements Broker, applying the limiter and retry policy.
func (l *Limited) Submit(ctx context.Context, child schema.ChildOrder) (OrderRef, error) {
	var lastErr error
	for attempt := 1; attempt <= l.cfg.MaxAttempts; attempt++ {
		if err := l.limiter.Wait(ctx); err != nil {
			return OrderRef{}, err
		}

		ref, err := l.inner.Submit(ctx, child)
		if err == nil {
			return ref, nil
		}
		if !exception.IsTransient(err) {
			return OrderRef{}, err
		}
		lastErr = err

		if attempt == l.cfg.MaxAttempts {
			break
		}
		l.metrics.IncBrokerRetry()
		wait := l.cfg.Backoff.Next(attempt)
		logs.Warnf("transient %s error on parent %s, attempt %d, retrying in %s",
			l.inner.Name(), child.ParentID, attempt, wait)
		if err := l.sleep(ctx, wait); err != nil {
			return OrderRef{}, err
		}
	}
	return OrderRef{}, errors.Wrap(exception.ErrBrokerUnavailable, lastErr.Error())
}

// Cancel implements Broker, applying the limiter.
func (l *Limited) Cancel(ctx context.Context, ref OrderRef) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	return l.inner.Cancel(ctx, ref)
}

// StreamFills implements Broker.
func (l *Limited) StreamFills(ctx context.Context) (<-chan schema.Fill, error) {
	return l.inner.StreamFills(ctx)
}

// OpenOrders implements Broker, applying the limiter.
func (l *Limited) OpenOrders(ctx context.Context) ([]string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.inner.OpenOrders(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
