package governor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quorumlabs/committee/internal/metrics"
)

// ErrResourceExhausted reports that a rate budget stayed denied for the full
// retry budget. Callers degrade to a cached or fallback path rather than
// failing the request.
var ErrResourceExhausted = errors.New("governor: resource budget exhausted")

// Config bounds the blocking-retry behavior of the governed call path.
type Config struct {
	// MaxAttempts caps how many Acquire attempts one call makes.
	MaxAttempts int `yaml:"max_attempts"`
	// MaxRetryWait caps how long a single attempt honors the retry hint.
	MaxRetryWait time.Duration `yaml:"max_retry_wait"`
}

// DefaultConfig returns the standard retry budget.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		MaxRetryWait: 2 * time.Second,
	}
}

// Governor combines the namespace cache and the rate budgets into the single
// gate all expensive or external calls route through. One instance is
// constructed at startup and injected into the orchestrator and agents.
type Governor struct {
	cache     *Cache
	limiter   *RateLimiter
	cfg       Config
	collector *metrics.Collector
	log       *logrus.Entry
	sleep     func(ctx context.Context, d time.Duration) error
}

// New wires a governor from its parts. Pass a zero Config for defaults.
func New(cache *Cache, limiter *RateLimiter, cfg Config, log *logrus.Logger, collector *metrics.Collector) *Governor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.MaxRetryWait <= 0 {
		cfg.MaxRetryWait = DefaultConfig().MaxRetryWait
	}
	if log == nil {
		log = logrus.New()
	}
	return &Governor{
		cache:     cache,
		limiter:   limiter,
		cfg:       cfg,
		collector: collector,
		log:       log.WithField("component", "governor"),
		sleep:     sleepCtx,
	}
}

// Cache exposes the namespace cache for callers that only need lookups.
func (g *Governor) Cache() *Cache { return g.cache }

// Limiter exposes the rate budgets for callers that manage their own calls.
func (g *Governor) Limiter() *RateLimiter { return g.limiter }

// PayloadKey returns the canonical cache key for an external call: the
// resource name plus a SHA-256 of the payload.
func PayloadKey(resource string, payload []byte) string {
	sum := sha256.Sum256(payload)
	return resource + ":" + hex.EncodeToString(sum[:])
}

// Do executes fn under the resource's rate budget, consulting and populating
// the external-API cache keyed by a canonical hash of the payload.
//
// Acquisition blocks with a bounded retry budget: each denial is retried
// after the limiter's hint (capped at MaxRetryWait) up to MaxAttempts times,
// then ErrResourceExhausted is returned for the caller to degrade. If the
// context is cancelled after a grant but before fn runs, the permit is
// refunded so no partial debit lingers.
func (g *Governor) Do(ctx context.Context, resource string, payload []byte, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	key := PayloadKey(resource, payload)

	if cached, ok := g.cache.Get(ctx, NamespaceExternalAPI, key); ok {
		if data, isBytes := cached.([]byte); isBytes {
			return data, nil
		}
	}

	if err := g.acquireWithRetry(ctx, resource); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		g.limiter.Release(resource, 1)
		return nil, err
	}

	start := time.Now()
	resp, err := fn(ctx)
	if g.collector != nil {
		g.collector.TrackOperation("external."+resource, time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}

	g.cache.Set(ctx, NamespaceExternalAPI, key, resp, 0)
	return resp, nil
}

func (g *Governor) acquireWithRetry(ctx context.Context, resource string) error {
	for attempt := 0; attempt < g.cfg.MaxAttempts; attempt++ {
		granted, retryAfter := g.limiter.Acquire(resource, 1)
		if granted {
			return nil
		}
		if attempt == g.cfg.MaxAttempts-1 {
			break
		}
		wait := retryAfter
		if wait > g.cfg.MaxRetryWait {
			wait = g.cfg.MaxRetryWait
		}
		g.log.WithFields(logrus.Fields{
			"resource": resource,
			"wait":     wait,
			"attempt":  attempt + 1,
		}).Debug("budget denied, backing off")
		if err := g.sleep(ctx, wait); err != nil {
			return err
		}
	}
	g.log.WithField("resource", resource).Warn("budget exhausted after retry budget")
	return ErrResourceExhausted
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
