package larkauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-larkauth/cache"
	"github.com/goliatone/go-larkauth/core"
	"github.com/goliatone/go-larkauth/manager"
	"github.com/goliatone/go-larkauth/refresher"
	"github.com/goliatone/go-larkauth/transport"
	"github.com/goliatone/go-larkauth/validator"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

type Option func(*clientOptions)

type clientOptions struct {
	logger         Logger
	loggerProvider LoggerProvider
	metrics        MetricsRecorder
	storage        TokenStorage
	httpClient     HTTPDoer
	tracerProvider trace.TracerProvider
	now            func() time.Time
	appTicket      string
	sweeper        bool
	headers        map[string]string
}

func WithLogger(logger Logger) Option {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(o *clientOptions) {
		o.loggerProvider = provider
	}
}

func WithMetricsRecorder(metrics MetricsRecorder) Option {
	return func(o *clientOptions) {
		o.metrics = metrics
	}
}

// WithStorage replaces the in-memory cache backend, e.g. with a
// store/sql.TokenStore. Entries already in the backend are reindexed on start.
func WithStorage(storage TokenStorage) Option {
	return func(o *clientOptions) {
		o.storage = storage
	}
}

func WithHTTPClient(client HTTPDoer) Option {
	return func(o *clientOptions) {
		o.httpClient = client
	}
}

func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(o *clientOptions) {
		o.tracerProvider = provider
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *clientOptions) {
		o.now = now
	}
}

// WithAppTicket seeds the marketplace app ticket pushed by the vendor.
func WithAppTicket(ticket string) Option {
	return func(o *clientOptions) {
		o.appTicket = ticket
	}
}

// WithoutSweeper disables the background expired-entry sweep.
func WithoutSweeper() Option {
	return func(o *clientOptions) {
		o.sweeper = false
	}
}

func WithDefaultHeaders(headers map[string]string) Option {
	return func(o *clientOptions) {
		for key, value := range headers {
			o.headers[key] = value
		}
	}
}

// Client wires the token cache, validator, refresher, manager and the
// authorized transport for one app.
type Client struct {
	cfg       Config
	cache     *cache.TokenCache
	validator *validator.Validator
	refresher *refresher.Refresher
	manager   *manager.Manager
	base      *transport.Retryable
	transport *transport.Retryable
	facade    *Facade
	obs       core.Observer

	closeOnce sync.Once
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	options := clientOptions{sweeper: true, headers: map[string]string{}}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.ValidateCredentials(); err != nil {
		return nil, err
	}

	observer := func(name string) core.Observer {
		return core.NewObserver(name, options.loggerProvider, options.logger, options.metrics)
	}

	cacheOpts := []cache.Option{cache.WithObserver(observer("larkauth.cache"))}
	if options.storage != nil {
		cacheOpts = append(cacheOpts, cache.WithStorage(options.storage))
	}
	if options.now != nil {
		cacheOpts = append(cacheOpts, cache.WithClock(options.now))
	}
	tokenCache, err := cache.New(cfg.Cache, cacheOpts...)
	if err != nil {
		return nil, err
	}
	if options.storage != nil {
		if err := tokenCache.Reindex(context.Background()); err != nil {
			return nil, fmt.Errorf("larkauth: reindex token storage: %w", err)
		}
	}

	validatorCfg := cfg.Validator
	validatorCfg.RefreshMargin = cfg.EffectiveRefreshMargin()
	validatorOpts := []validator.Option{}
	if options.now != nil {
		validatorOpts = append(validatorOpts, validator.WithClock(options.now))
	}
	tokenValidator := validator.New(validatorCfg, validatorOpts...)

	transportOpts := []transport.Option{
		transport.WithRetryPolicy(cfg.Retry),
		transport.WithObserver(observer("larkauth.transport")),
		transport.WithDefaultHeaders(options.headers),
	}
	if options.httpClient != nil {
		transportOpts = append(transportOpts, transport.WithHTTPClient(options.httpClient))
	}
	if options.tracerProvider != nil {
		transportOpts = append(transportOpts, transport.WithTracerProvider(options.tracerProvider))
	}
	base := transport.New(cfg.Pool, cfg.Transport, transportOpts...)

	// The refresher authorizes user refreshes with the app token, which the
	// manager resolves through the same refresher.
	var tokenManager *manager.Manager
	appTokens := core.AppTokenSourceFunc(func(ctx context.Context) (string, error) {
		return tokenManager.AppAccessToken(ctx)
	})
	refresherOpts := []refresher.Option{
		refresher.WithAppTokenSource(appTokens),
		refresher.WithObserver(observer("larkauth.refresher")),
	}
	if options.now != nil {
		refresherOpts = append(refresherOpts, refresher.WithClock(options.now))
	}
	tokenRefresher, err := refresher.New(cfg, base, refresherOpts...)
	if err != nil {
		base.Close()
		return nil, err
	}

	managerOpts := []manager.Option{
		manager.WithObserver(observer("larkauth.manager")),
		manager.WithAppTicket(options.appTicket),
	}
	if options.now != nil {
		managerOpts = append(managerOpts, manager.WithClock(options.now))
	}
	tokenManager, err = manager.New(cfg.AppID, manager.Dependencies{
		Cache:     tokenCache,
		Refresher: tokenRefresher,
		Validator: tokenValidator,
	}, managerOpts...)
	if err != nil {
		base.Close()
		return nil, err
	}

	facade, err := NewFacade(tokenManager)
	if err != nil {
		base.Close()
		return nil, err
	}

	client := &Client{
		cfg:       cfg,
		cache:     tokenCache,
		validator: tokenValidator,
		refresher: tokenRefresher,
		manager:   tokenManager,
		base:      base,
		transport: base.Authorized(tokenManager),
		facade:    facade,
		obs:       observer("larkauth.client"),
	}
	if options.sweeper {
		tokenCache.StartSweeper(context.Background())
	}
	return client, nil
}

func (c *Client) Config() Config {
	return c.cfg
}

func (c *Client) Manager() *manager.Manager {
	return c.manager
}

func (c *Client) Cache() *cache.TokenCache {
	return c.cache
}

func (c *Client) Validator() *validator.Validator {
	return c.validator
}

func (c *Client) Refresher() *refresher.Refresher {
	return c.refresher
}

// Transport returns the authorized transport. Requests declare their token
// kind through Request.Auth.
func (c *Client) Transport() *transport.Retryable {
	return c.transport
}

func (c *Client) Facade() *Facade {
	return c.facade
}

func (c *Client) GetAccessToken(ctx context.Context, req TokenRequest) (TokenInfo, error) {
	return c.manager.GetAccessToken(ctx, req)
}

func (c *Client) ValidateAccessToken(ctx context.Context, token string) (ValidationResult, error) {
	return c.manager.ValidateAccessToken(ctx, token)
}

func (c *Client) RevokeAccessToken(ctx context.Context, token string) error {
	return c.manager.RevokeAccessToken(ctx, token)
}

func (c *Client) BatchGetAccessTokens(ctx context.Context, reqs []TokenRequest) []TokenResult {
	return c.manager.BatchGetAccessTokens(ctx, reqs)
}

func (c *Client) WarmupTokens(ctx context.Context, tenantKeys []string) WarmupReport {
	return c.manager.WarmupTokens(ctx, tenantKeys)
}

func (c *Client) SetAppTicket(ticket string) {
	c.manager.SetAppTicket(ticket)
}

func (c *Client) TokenSource(ctx context.Context, req TokenRequest) oauth2.TokenSource {
	return c.manager.TokenSource(ctx, req)
}

func (c *Client) Execute(ctx context.Context, req Request) (Response, error) {
	return c.transport.Execute(ctx, req)
}

func (c *Client) ExecuteBatch(ctx context.Context, reqs []Request) []Result {
	return c.transport.ExecuteBatch(ctx, reqs)
}

func (c *Client) ExecuteConcurrent(ctx context.Context, reqs []Request, maxConcurrency int) []Result {
	return c.transport.ExecuteConcurrent(ctx, reqs, maxConcurrency)
}

// Call sends a JSON request to path on the configured base URL and decodes
// the response into out. A 2xx response whose envelope carries a non-zero
// code is returned as an APIError.
func (c *Client) Call(
	ctx context.Context,
	method string,
	path string,
	payload any,
	auth TokenRequest,
	out any,
) error {
	var (
		req Request
		err error
	)
	if payload == nil {
		req = Request{Method: strings.ToUpper(strings.TrimSpace(method)), URL: c.cfg.Endpoint(path), Auth: auth}
	} else {
		req, err = core.JSONRequest(method, c.cfg.Endpoint(path), payload, auth)
		if err != nil {
			return err
		}
	}
	res, err := c.transport.Execute(ctx, req)
	if err != nil {
		return err
	}
	if len(res.Body) == 0 {
		return nil
	}
	var envelope struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if json.Unmarshal(res.Body, &envelope) == nil && envelope.Code != 0 {
		apiErr := &core.APIError{StatusCode: res.StatusCode, Code: envelope.Code, Message: envelope.Msg}
		if apiErr.StatusCode == 0 {
			apiErr.StatusCode = http.StatusOK
		}
		apiErr.RequestID = res.Header("X-Tt-Logid")
		return apiErr
	}
	if out == nil {
		return nil
	}
	return res.Decode(out)
}

type Stats struct {
	Tokens    CacheStats
	Transport transport.Stats
}

func (c *Client) Stats(ctx context.Context) Stats {
	return Stats{
		Tokens:    c.manager.GetTokenStats(ctx),
		Transport: c.transport.Stats(),
	}
}

// Close stops the sweeper and releases pooled connections. It is safe to call
// more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cache.Stop()
		c.base.Close()
		c.obs.Debug(context.Background(), "client closed", map[string]any{"app_id": c.cfg.AppID})
	})
	return nil
}
