package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu     sync.Mutex
	tokens map[string]Token
	saves  int
}

func newMemStore() *memStore {
	return &memStore{tokens: make(map[string]Token)}
}

func (m *memStore) Latest(_ context.Context, gateway string) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[gateway]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *memStore) Save(_ context.Context, t Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[t.Gateway] = t
	m.saves++
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(store Store, clk *clock, sleeps *[]time.Duration) *Cache {
	return NewCache(store,
		WithClock(clk.Now),
		WithRetry(3, 2*time.Second),
		WithSleep(func(_ context.Context, d time.Duration) error {
			*sleeps = append(*sleeps, d)
			return nil
		}),
	)
}

func TestCache_ReturnsFreshToken(t *testing.T) {
	store := newMemStore()
	clk := &clock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	var sleeps []time.Duration
	c := newTestCache(store, clk, &sleeps)

	var calls int32
	c.Register("torobpay", 59*time.Minute, FetcherFunc(func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "fresh", nil
	}))
	store.tokens["torobpay"] = Token{Gateway: "torobpay", Value: "cached", UpdatedAt: clk.Now().Add(-58 * time.Minute)}

	tok, err := c.Token(context.Background(), "torobpay")
	require.NoError(t, err)
	assert.Equal(t, "cached", tok)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestCache_RefreshesAfterExpiry(t *testing.T) {
	store := newMemStore()
	clk := &clock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	var sleeps []time.Duration
	c := newTestCache(store, clk, &sleeps)

	var calls int32
	c.Register("torobpay", 59*time.Minute, FetcherFunc(func(context.Context) (string, error) {
		n := atomic.AddInt32(&calls, 1)
		return []string{"first", "second"}[n-1], nil
	}))

	tok, err := c.Token(context.Background(), "torobpay")
	require.NoError(t, err)
	assert.Equal(t, "first", tok)

	clk.Advance(30 * time.Minute)
	tok, err = c.Token(context.Background(), "torobpay")
	require.NoError(t, err)
	assert.Equal(t, "first", tok)

	clk.Advance(29 * time.Minute)
	tok, err = c.Token(context.Background(), "torobpay")
	require.NoError(t, err)
	assert.Equal(t, "second", tok)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, clk.Now(), store.tokens["torobpay"].UpdatedAt)
	assert.Empty(t, sleeps)
}

func TestCache_RetriesThenSucceeds(t *testing.T) {
	store := newMemStore()
	clk := &clock{now: time.Now()}
	var sleeps []time.Duration
	c := newTestCache(store, clk, &sleeps)

	var calls int32
	c.Register("snapppay", time.Hour, FetcherFunc(func(context.Context) (string, error) {
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			return "", errors.New("connection refused")
		case 2:
			return "", nil
		default:
			return "ok", nil
		}
	}))

	tok, err := c.Token(context.Background(), "snapppay")
	require.NoError(t, err)
	assert.Equal(t, "ok", tok)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, sleeps)
}

func TestCache_GivesUpAfterThreeAttempts(t *testing.T) {
	store := newMemStore()
	clk := &clock{now: time.Now()}
	var sleeps []time.Duration
	c := newTestCache(store, clk, &sleeps)

	var calls int32
	c.Register("torobpay", time.Hour, FetcherFunc(func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", errors.New("timeout")
	}))

	_, err := c.Token(context.Background(), "torobpay")
	assert.ErrorIs(t, err, ErrTokenUnavailable)
	assert.Contains(t, err.Error(), "timeout")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Len(t, sleeps, 2)
	assert.Zero(t, store.saves)
}

func TestCache_CancelledCallerDoesNotFailJoinedCallers(t *testing.T) {
	store := newMemStore()
	c := NewCache(store)

	started := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	var fetchErr atomic.Value
	c.Register("torobpay", time.Hour, FetcherFunc(func(ctx context.Context) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		<-release
		fetchErr.Store(fmt.Sprint(ctx.Err()))
		return "tok", nil
	}))

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Token(firstCtx, "torobpay")
		firstErr <- err
	}()
	<-started

	second := make(chan string, 1)
	go func() {
		tok, err := c.Token(context.Background(), "torobpay")
		assert.NoError(t, err)
		second <- tok
	}()
	time.Sleep(50 * time.Millisecond)

	// The first request goes away mid-refresh and stops waiting at once.
	cancel()
	err := <-firstErr
	assert.ErrorIs(t, err, ErrTokenUnavailable)
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	assert.Equal(t, "tok", <-second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, "<nil>", fetchErr.Load())
	assert.Equal(t, 1, store.saves)
}

func TestCache_UnknownGateway(t *testing.T) {
	c := NewCache(newMemStore())
	_, err := c.Token(context.Background(), "paypal")
	assert.ErrorIs(t, err, ErrTokenUnavailable)
}

func TestCache_ConcurrentCallersShareOneRefresh(t *testing.T) {
	store := newMemStore()
	c := NewCache(store)

	started := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	c.Register("snapppay", time.Hour, FetcherFunc(func(context.Context) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		<-release
		return "shared", nil
	}))

	var wg sync.WaitGroup
	results := make([]string, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := c.Token(context.Background(), "snapppay")
			assert.NoError(t, err)
			results[i] = tok
		}(i)
	}

	<-started
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, tok := range results {
		assert.Equal(t, "shared", tok)
	}
}
