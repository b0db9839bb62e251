// Package transport runs outbound gateway calls with a bounded retry policy.
//
// Only connection failures, timeouts and bodies that are not JSON are
// retried. Any well-formed response is handed back to the caller, whatever
// its HTTP status, so gateway business errors are never retried here.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"adora-payments/internal/logger"
	"adora-payments/internal/metrics"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var ErrMalformedResponse = errors.New("response body is not valid JSON")

// Error is returned once every attempt failed at the transport level.
type Error struct {
	Gateway  string
	Endpoint string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: transport failure after %d attempt(s): %v", e.Gateway, e.Endpoint, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Timeout reports whether the last attempt timed out.
func (e *Error) Timeout() bool {
	return isTimeout(e.Err)
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// RequestFunc builds the request for one attempt. It runs again before every
// retry, so time-bound headers such as signatures are always fresh.
type RequestFunc func(ctx context.Context) (*http.Request, error)

type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
	Timeout     time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Backoff: 2 * time.Second, Timeout: 10 * time.Second}
}

type Executor struct {
	gateway string
	client  *http.Client
	policy  Policy
	limiter *rate.Limiter
	metrics *metrics.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

type Option func(*Executor)

func WithLimiter(l *rate.Limiter) Option {
	return func(e *Executor) { e.limiter = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = sleep }
}

func NewExecutor(gateway string, client *http.Client, policy Policy, opts ...Option) *Executor {
	if client == nil {
		client = &http.Client{}
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	e := &Executor{
		gateway: gateway,
		client:  client,
		policy:  policy,
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Client() *http.Client { return e.client }

// Single returns a copy of e that makes exactly one attempt per call, for
// callers that run their own retry loop.
func (e *Executor) Single() *Executor {
	c := *e
	c.policy.MaxAttempts = 1
	return &c
}

// Do executes build up to MaxAttempts times. Errors returned by build itself
// are not retried and are returned unchanged.
func (e *Executor) Do(ctx context.Context, endpoint string, build RequestFunc) (*Response, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "transport"),
		zap.String("gateway", e.gateway),
		zap.String("endpoint", endpoint),
	)

	var lastErr error
	attempt := 0
	for attempt < e.policy.MaxAttempts {
		attempt++

		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				lastErr = err
				break
			}
		}

		resp, err := e.once(ctx, endpoint, build)
		if err == nil {
			return resp, nil
		}
		var buildErr *buildError
		if errors.As(err, &buildErr) {
			return nil, buildErr.err
		}

		lastErr = err
		log.Warn("gateway attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", e.policy.MaxAttempts),
			zap.Error(err),
		)

		if ctx.Err() != nil {
			break
		}
		if attempt < e.policy.MaxAttempts {
			if err := e.sleep(ctx, e.policy.Backoff); err != nil {
				lastErr = err
				break
			}
		}
	}

	log.Error("gateway unreachable", zap.Int("attempts", attempt), zap.Error(lastErr))
	return nil, &Error{Gateway: e.gateway, Endpoint: endpoint, Attempts: attempt, Err: lastErr}
}

type buildError struct{ err error }

func (b *buildError) Error() string { return b.err.Error() }

func (e *Executor) once(ctx context.Context, endpoint string, build RequestFunc) (*Response, error) {
	if e.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.policy.Timeout)
		defer cancel()
	}

	req, err := build(ctx)
	if err != nil {
		return nil, &buildError{err: err}
	}

	timer := metrics.StartTimer()
	resp, err := e.client.Do(req)
	if err != nil {
		e.metrics.ObserveRequest(e.gateway, endpoint, outcome(err), timer.Duration())
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		e.metrics.ObserveRequest(e.gateway, endpoint, outcome(err), timer.Duration())
		return nil, fmt.Errorf("read body: %w", err)
	}

	if !json.Valid(body) {
		e.metrics.ObserveRequest(e.gateway, endpoint, "malformed", timer.Duration())
		return nil, fmt.Errorf("%w (status %d)", ErrMalformedResponse, resp.StatusCode)
	}

	result := "ok"
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		result = "status_error"
	}
	e.metrics.ObserveRequest(e.gateway, endpoint, result, timer.Duration())

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func outcome(err error) string {
	if isTimeout(err) {
		return "timeout"
	}
	return "connection"
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
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

// JSON returns a RequestFunc posting payload as a JSON body.
func JSON(method, target string, payload any, header http.Header) (RequestFunc, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		return req, nil
	}, nil
}

// Get returns a RequestFunc for a GET with query parameters.
func Get(target string, query url.Values, header http.Header) RequestFunc {
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + query.Encode()
	}
	return func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		return req, nil
	}
}

// Form returns a RequestFunc posting values as an urlencoded form.
func Form(target string, values url.Values, header http.Header) RequestFunc {
	encoded := values.Encode()
	return func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		return req, nil
	}
}
