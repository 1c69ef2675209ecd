package providers

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// RetryConfig steuert das Backoff-Verhalten des Retry-Wrappers.
type RetryConfig struct {
	MaxAttempts     uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig: 3 Versuche, Wartezeit exponentiell 2s -> 10s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialInterval: 2 * time.Second,
		MaxInterval:     10 * time.Second,
	}
}

// WithRetry umhüllt die Netzwerk-Calls eines Providers mit Retries für
// transiente Fehler. Health/ListModels laufen ohne Retry, die Readiness-
// Auswertung behandelt deren Fehler selbst. Cancellation wird nie als
// "transient" behandelt, sondern bricht sofort ab.
func WithRetry(p Provider, cfg RetryConfig, log *zap.Logger) Provider {
	return &retryingProvider{inner: p, cfg: cfg, log: log}
}

type retryingProvider struct {
	inner Provider
	cfg   RetryConfig
	log   *zap.Logger
}

func (r *retryingProvider) Name() string { return r.inner.Name() }

func (r *retryingProvider) Health(ctx context.Context, endpoint string) (HealthStatus, error) {
	return r.inner.Health(ctx, endpoint)
}

func (r *retryingProvider) ListModels(ctx context.Context, endpoint string) ([]ModelInfo, error) {
	return r.inner.ListModels(ctx, endpoint)
}

func (r *retryingProvider) ParseConfig(raw []byte) (RuntimeConfig, error) {
	return r.inner.ParseConfig(raw)
}

func (r *retryingProvider) Categorize(ctx context.Context, req CategorizeRequest) (*CategorizeResult, error) {
	var result *CategorizeResult
	err := r.retry(ctx, "categorize", func() error {
		res, err := r.inner.Categorize(ctx, req)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	return result, err
}

func (r *retryingProvider) Score(ctx context.Context, req ScoreRequest) (*ScoreResult, error) {
	var result *ScoreResult
	err := r.retry(ctx, "score", func() error {
		res, err := r.inner.Score(ctx, req)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	return result, err
}

func (r *retryingProvider) retry(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval

	policy := backoff.WithContext(backoff.WithMaxRetries(b, r.cfg.MaxAttempts-1), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			// Shutdown in flight: stop immediately, the context error
			// propagates through backoff unchanged.
			return backoff.Permanent(context.Cause(ctx))
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		r.log.Warn("provider call failed, retrying",
			zap.String("provider", r.inner.Name()),
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return err
	}, policy)
}
