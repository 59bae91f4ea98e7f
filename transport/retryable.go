// Package transport executes vendor HTTP calls with bearer authorization,
// bounded retries, a private connection pool and per-attempt stats.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-larkauth/core"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	HeaderAuthorization = "Authorization"
	HeaderRequestID     = "X-Request-Id"

	tracerName = "github.com/goliatone/go-larkauth/transport"
)

type Retryable struct {
	client   core.HTTPDoer
	pool     *http.Transport
	provider core.TokenProvider
	policy   core.RetryPolicy
	cfg      core.TransportConfig
	limiter  *rate.Limiter
	tracer   trace.Tracer
	obs      core.Observer
	stats    *statsCollector
	sleep    func(context.Context, time.Duration) error
	random   func() float64
	now      func() time.Time
	headers  map[string]string
}

type Option func(*Retryable)

// WithHTTPClient replaces the private pool with client.
func WithHTTPClient(client core.HTTPDoer) Option {
	return func(r *Retryable) {
		if client != nil {
			r.client = client
		}
	}
}

func WithTokenProvider(provider core.TokenProvider) Option {
	return func(r *Retryable) {
		r.provider = provider
	}
}

func WithRetryPolicy(policy core.RetryPolicy) Option {
	return func(r *Retryable) {
		r.policy = policy.Normalized()
	}
}

func WithRateLimiter(limiter *rate.Limiter) Option {
	return func(r *Retryable) {
		r.limiter = limiter
	}
}

func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(r *Retryable) {
		if provider != nil {
			r.tracer = provider.Tracer(tracerName)
		}
	}
}

func WithObserver(observer core.Observer) Option {
	return func(r *Retryable) {
		r.obs = observer
	}
}

// WithSleeper replaces the backoff wait, mainly for tests.
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(r *Retryable) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// WithRandom replaces the jitter source; it must return values in [0, 1).
func WithRandom(random func() float64) Option {
	return func(r *Retryable) {
		if random != nil {
			r.random = random
		}
	}
}

func WithDefaultHeaders(headers map[string]string) Option {
	return func(r *Retryable) {
		for key, value := range headers {
			if strings.TrimSpace(key) != "" {
				r.headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
			}
		}
	}
}

func New(pool core.PoolConfig, cfg core.TransportConfig, opts ...Option) *Retryable {
	defaults := core.DefaultConfig().Transport
	if cfg.MaxResponseBodyBytes <= 0 {
		cfg.MaxResponseBodyBytes = defaults.MaxResponseBodyBytes
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaults.MaxConcurrent
	}
	if cfg.SlowRequestThreshold <= 0 {
		cfg.SlowRequestThreshold = defaults.SlowRequestThreshold
	}
	r := &Retryable{
		policy:  core.DefaultRetryPolicy(),
		cfg:     cfg,
		tracer:  otel.Tracer(tracerName),
		obs:     core.NewObserver("larkauth.transport", nil, nil, nil),
		stats:   &statsCollector{slowThreshold: cfg.SlowRequestThreshold},
		sleep:   waitWithContext,
		random:  rand.Float64,
		now:     func() time.Time { return time.Now().UTC() },
		headers: map[string]string{},
	}
	if cfg.RateLimitPerSecond > 0 {
		burst := cfg.RateLimitBurst
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), burst)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.client == nil {
		r.client, r.pool = newPooledClient(pool, cfg)
	}
	return r
}

// Authorized returns a transport resolving bearer tokens through provider.
// The copy shares the pool, limiter and stats with r.
func (r *Retryable) Authorized(provider core.TokenProvider) *Retryable {
	clone := *r
	clone.provider = provider
	return &clone
}

func (r *Retryable) Policy() core.RetryPolicy {
	return r.policy
}

// Execute sends req with the Authorization header for req.Auth. Requests
// with kind none, or no kind, are sent without it.
func (r *Retryable) Execute(ctx context.Context, req core.Request) (core.Response, error) {
	auth := req.Auth.Normalized()
	authorize := auth.Kind != "" && auth.Kind != core.TokenKindNone
	return r.run(ctx, req, authorize)
}

// ExecuteUnauthenticated sends req without resolving a token. Credential
// endpoints use it.
func (r *Retryable) ExecuteUnauthenticated(ctx context.Context, req core.Request) (core.Response, error) {
	return r.run(ctx, req, false)
}

// ExecuteBatch runs requests one after another.
func (r *Retryable) ExecuteBatch(ctx context.Context, reqs []core.Request) []core.Result {
	results := make([]core.Result, len(reqs))
	for i, req := range reqs {
		res, err := r.Execute(ctx, req)
		results[i] = core.Result{Response: res, Err: err}
	}
	return results
}

// ExecuteConcurrent runs at most maxConcurrency requests at a time and
// returns results in request order. maxConcurrency <= 0 uses the configured
// limit.
func (r *Retryable) ExecuteConcurrent(ctx context.Context, reqs []core.Request, maxConcurrency int) []core.Result {
	if maxConcurrency <= 0 {
		maxConcurrency = r.cfg.MaxConcurrent
	}
	results := make([]core.Result, len(reqs))
	sem := semaphore.NewWeighted(int64(maxConcurrency))
	var wg sync.WaitGroup
	for i, req := range reqs {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = core.Result{Err: err}
			continue
		}
		wg.Add(1)
		go func(i int, req core.Request) {
			defer wg.Done()
			defer sem.Release(1)
			res, err := r.Execute(ctx, req)
			results[i] = core.Result{Response: res, Err: err}
		}(i, req)
	}
	wg.Wait()
	return results
}

func (r *Retryable) Stats() Stats {
	return r.stats.snapshot()
}

func (r *Retryable) ResetStats() {
	r.stats.reset()
}

// Close releases idle pooled connections.
func (r *Retryable) Close() {
	if r.pool != nil {
		r.pool.CloseIdleConnections()
	}
}

func (r *Retryable) run(ctx context.Context, req core.Request, authorize bool) (core.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	startedAt := time.Now()
	requestID := uuid.NewString()
	method := normalizeMethod(req.Method)
	kind := req.Auth.Normalized().Kind

	ctx, span := r.tracer.Start(ctx, "larkauth.transport.execute",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.full", strings.TrimSpace(req.URL)),
			attribute.String("larkauth.request_id", requestID),
			attribute.String("larkauth.token_kind", string(kind)),
		),
	)
	defer span.End()

	res, err := r.executeWithRetry(ctx, req, authorize, requestID)

	span.SetAttributes(
		attribute.Int("http.response.status_code", res.StatusCode),
		attribute.Int("larkauth.attempts", res.Attempts),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	r.obs.Observe(ctx, startedAt, "transport.execute", err, map[string]any{
		"method":      method,
		"url":         strings.TrimSpace(req.URL),
		"status_code": res.StatusCode,
		"attempts":    res.Attempts,
		"request_id":  requestID,
		"kind":        string(kind),
	})
	return res, err
}

func (r *Retryable) executeWithRetry(ctx context.Context, req core.Request, authorize bool, requestID string) (core.Response, error) {
	policy := r.policy
	if req.Retry != nil {
		policy = req.Retry.Normalized()
	}

	headers := make(map[string]string, len(r.headers)+len(req.Headers)+2)
	for key, value := range r.headers {
		headers[key] = value
	}
	for key, value := range req.Headers {
		if strings.TrimSpace(key) != "" {
			headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}
	headers[HeaderRequestID] = requestID
	if authorize {
		if r.provider == nil {
			return core.Response{}, transportError(
				"transport: token provider is required for authorized requests",
				goerrors.CategoryInternal,
				http.StatusInternalServerError,
				map[string]any{"kind": string(req.Auth.Kind)},
			)
		}
		header, err := r.provider.AuthorizationHeader(ctx, req.Auth.Normalized())
		if err != nil {
			return core.Response{}, err
		}
		headers[HeaderAuthorization] = header
	}

	startedAt := r.now()
	var (
		lastRes core.Response
		lastErr error
	)
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return finish(lastRes, startedAt, r.now()), errors.Join(err, lastErr)
			}
		}

		attemptStarted := time.Now()
		res, err := r.attempt(ctx, req, headers, requestID)
		duration := time.Since(attemptStarted)
		success := err == nil && res.StatusCode < http.StatusBadRequest
		if slow := r.stats.recordAttempt(duration, success); slow {
			r.obs.Warn(ctx, "slow vendor request", map[string]any{
				"url":          strings.TrimSpace(req.URL),
				"duration_ms":  duration.Milliseconds(),
				"threshold_ms": r.cfg.SlowRequestThreshold.Milliseconds(),
				"request_id":   requestID,
			})
		}
		res.Attempts = attempt
		if success {
			return finish(res, startedAt, r.now()), nil
		}

		wait := time.Duration(-1)
		if err != nil {
			lastRes, lastErr = core.Response{Attempts: attempt}, err
			if ctx.Err() != nil || !core.IsRetryable(err) {
				break
			}
		} else {
			apiErr := apiErrorFromResponse(res, requestID)
			if retryWait, ok := retryAfter(res, r.now()); ok {
				apiErr.RetryAfter = retryWait
				wait = retryWait
			}
			lastRes, lastErr = res, apiErr
			if !apiErr.Retryable() {
				break
			}
		}
		if attempt == policy.MaxAttempts {
			break
		}

		delay := backoffDelay(policy, attempt-1, r.random)
		if wait >= 0 {
			delay = min(wait, policy.MaxDelay)
		}
		r.stats.recordRetry()
		r.obs.Debug(ctx, "retrying vendor request", map[string]any{
			"url":        strings.TrimSpace(req.URL),
			"attempt":    attempt,
			"delay_ms":   delay.Milliseconds(),
			"request_id": requestID,
			"error":      lastErr.Error(),
		})
		if err := r.sleep(ctx, delay); err != nil {
			return finish(lastRes, startedAt, r.now()), errors.Join(err, lastErr)
		}
	}
	return finish(lastRes, startedAt, r.now()), lastErr
}

func finish(res core.Response, startedAt time.Time, now time.Time) core.Response {
	res.Duration = now.Sub(startedAt)
	return res
}

func (r *Retryable) attempt(ctx context.Context, req core.Request, headers map[string]string, requestID string) (core.Response, error) {
	method := normalizeMethod(req.Method)
	parsedURL, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil {
		return core.Response{}, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: invalid request url",
			http.StatusBadRequest,
			map[string]any{"url": strings.TrimSpace(req.URL)},
		)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return core.Response{}, transportError(
			"transport: request url must be absolute",
			goerrors.CategoryBadInput,
			http.StatusBadRequest,
			map[string]any{"url": strings.TrimSpace(req.URL)},
		)
	}
	if len(req.Query) > 0 {
		query := parsedURL.Query()
		for key, value := range req.Query {
			if strings.TrimSpace(key) == "" {
				continue
			}
			query.Set(strings.TrimSpace(key), strings.TrimSpace(value))
		}
		parsedURL.RawQuery = query.Encode()
	}
	target := parsedURL.String()

	requestCtx := ctx
	cancel := func() {}
	if req.Timeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, req.Timeout)
	}
	defer cancel()

	// A fresh reader per attempt replays the body on retries.
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(requestCtx, method, target, body)
	if err != nil {
		return core.Response{}, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: create http request",
			http.StatusBadRequest,
			map[string]any{"method": method, "url": target},
		)
	}
	for key, value := range headers {
		httpReq.Header.Set(key, value)
	}

	httpRes, err := r.client.Do(httpReq)
	if err != nil {
		timedOut := errors.Is(requestCtx.Err(), context.DeadlineExceeded)
		return core.Response{}, classifyNetworkError(method, target, err, timedOut)
	}
	defer httpRes.Body.Close()

	maxBodyBytes := r.cfg.MaxResponseBodyBytes
	if req.MaxResponseBodyBytes > 0 {
		maxBodyBytes = req.MaxResponseBodyBytes
	}
	payload, err := io.ReadAll(io.LimitReader(httpRes.Body, maxBodyBytes+1))
	if err != nil {
		timedOut := errors.Is(requestCtx.Err(), context.DeadlineExceeded)
		return core.Response{}, classifyNetworkError(method, target, err, timedOut)
	}
	if int64(len(payload)) > maxBodyBytes {
		return core.Response{}, transportError(
			fmt.Sprintf("transport: response body exceeds limit of %d bytes", maxBodyBytes),
			goerrors.CategoryExternal,
			http.StatusBadGateway,
			map[string]any{
				"status_code":      httpRes.StatusCode,
				"response_limit_b": maxBodyBytes,
			},
		)
	}

	return core.Response{
		StatusCode: httpRes.StatusCode,
		Headers:    flattenHeaders(httpRes.Header),
		Body:       payload,
		Metadata: map[string]any{
			"request_id": requestID,
		},
	}, nil
}

func normalizeMethod(method string) string {
	method = strings.TrimSpace(strings.ToUpper(method))
	if method == "" {
		return http.MethodGet
	}
	return method
}

func flattenHeaders(headers http.Header) map[string]string {
	if len(headers) == 0 {
		return map[string]string{}
	}
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		if len(values) == 0 {
			flat[key] = ""
			continue
		}
		flat[key] = strings.Join(values, ",")
	}
	return flat
}
