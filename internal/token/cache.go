package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"adora-payments/internal/logger"
	"adora-payments/internal/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ErrTokenUnavailable = errors.New("access token unavailable")

// Fetcher performs a single call to a gateway's auth endpoint.
type Fetcher interface {
	FetchToken(ctx context.Context) (string, error)
}

type FetcherFunc func(ctx context.Context) (string, error)

func (f FetcherFunc) FetchToken(ctx context.Context) (string, error) { return f(ctx) }

type source struct {
	fetcher Fetcher
	expiry  time.Duration
}

// Cache hands out fresh access tokens per gateway. Refreshes for the same
// gateway are collapsed into one in-flight sequence.
type Cache struct {
	store   Store
	metrics *metrics.Metrics

	attempts int
	delay    time.Duration
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	mu      sync.RWMutex
	sources map[string]source
	group   singleflight.Group
}

type Option func(*Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Cache) { c.sleep = sleep }
}

func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *Cache) {
		if attempts > 0 {
			c.attempts = attempts
		}
		c.delay = delay
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

func NewCache(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:    store,
		attempts: 3,
		delay:    2 * time.Second,
		now:      time.Now,
		sleep:    sleepCtx,
		sources:  make(map[string]source),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register makes gateway's tokens available through the cache.
func (c *Cache) Register(gateway string, expiry time.Duration, f Fetcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources[gateway] = source{fetcher: f, expiry: expiry}
}

// Token returns a token younger than the gateway's expiry window, refreshing
// it when the stored one is missing or stale.
func (c *Cache) Token(ctx context.Context, gateway string) (string, error) {
	c.mu.RLock()
	src, ok := c.sources[gateway]
	c.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: no token source for %s", ErrTokenUnavailable, gateway)
	}

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "token"),
		zap.String("gateway", gateway),
	)

	if t, err := c.store.Latest(ctx, gateway); err != nil {
		log.Warn("failed to read cached token", zap.Error(err))
	} else if t != nil && c.fresh(t, src.expiry) {
		return t.Value, nil
	}

	// The refresh outlives any single caller; each caller only stops waiting
	// when its own context ends.
	ch := c.group.DoChan(gateway, func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx), log, gateway, src)
	})
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %s: %w", ErrTokenUnavailable, gateway, ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		if r.Shared {
			log.Debug("joined in-flight token refresh")
		}
		return r.Val.(string), nil
	}
}

func (c *Cache) fresh(t *Token, expiry time.Duration) bool {
	return c.now().Sub(t.UpdatedAt) < expiry
}

func (c *Cache) refresh(ctx context.Context, log *zap.Logger, gateway string, src source) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		value, err := src.fetcher.FetchToken(ctx)
		if err == nil && value == "" {
			err = errors.New("auth response has no token")
		}
		if err == nil {
			c.metrics.TokenRefreshed(gateway, "ok")
			t := Token{Gateway: gateway, Value: value, UpdatedAt: c.now()}
			if err := c.store.Save(ctx, t); err != nil {
				log.Error("failed to persist token", zap.Error(err))
			}
			log.Info("access token refreshed", zap.Int("attempt", attempt))
			return value, nil
		}

		c.metrics.TokenRefreshed(gateway, "error")
		lastErr = err
		log.Warn("token fetch failed", zap.Int("attempt", attempt), zap.Error(err))

		if attempt < c.attempts {
			if err := c.sleep(ctx, c.delay); err != nil {
				lastErr = err
				break
			}
		}
	}
	return "", fmt.Errorf("%w: %s: %v", ErrTokenUnavailable, gateway, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
