// Package manager resolves access tokens per kind and scope, refreshing them
// through a single in-flight call per cache key.
package manager

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-larkauth/cache"
	"github.com/goliatone/go-larkauth/core"
	"github.com/goliatone/go-larkauth/validator"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

type Dependencies struct {
	Cache     *cache.TokenCache
	Refresher core.TokenRefresher
	Validator *validator.Validator
}

type Manager struct {
	appID     string
	cache     *cache.TokenCache
	refresher core.TokenRefresher
	validator *validator.Validator
	flights   singleflight.Group
	now       func() time.Time
	obs       core.Observer

	mu        sync.RWMutex
	appTicket string

	// user cache key -> refresh token that replaced the one it was keyed by.
	// Kept past the access-token entry so an old refresh token still resolves
	// to the newest one in its chain.
	rotationMu        sync.Mutex
	rotations         map[string]rotation
	rotationRetention time.Duration
}

type rotation struct {
	refreshToken string
	rotatedAt    time.Time
}

// DefaultRotationRetention bounds how long a consumed refresh token keeps
// resolving to its successor.
const DefaultRotationRetention = 30 * 24 * time.Hour

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithObserver(observer core.Observer) Option {
	return func(m *Manager) {
		m.obs = observer
	}
}

// WithRotationRetention sets how long rotated refresh tokens are remembered.
func WithRotationRetention(retention time.Duration) Option {
	return func(m *Manager) {
		if retention > 0 {
			m.rotationRetention = retention
		}
	}
}

// WithAppTicket seeds the marketplace app ticket.
func WithAppTicket(ticket string) Option {
	return func(m *Manager) {
		m.appTicket = strings.TrimSpace(ticket)
	}
}

func New(appID string, deps Dependencies, opts ...Option) (*Manager, error) {
	if strings.TrimSpace(appID) == "" {
		return nil, core.NewConfigurationError("app_id", "is required")
	}
	if deps.Cache == nil {
		return nil, core.NewConfigurationError("cache", "is required")
	}
	if deps.Refresher == nil {
		return nil, core.NewConfigurationError("refresher", "is required")
	}
	if deps.Validator == nil {
		deps.Validator = validator.New(core.DefaultValidatorConfig())
	}
	m := &Manager{
		appID:     strings.TrimSpace(appID),
		cache:     deps.Cache,
		refresher: deps.Refresher,
		validator: deps.Validator,
		now:       func() time.Time { return time.Now().UTC() },
		obs:       core.NewObserver("larkauth.manager", nil, nil, nil),

		rotations:         map[string]rotation{},
		rotationRetention: DefaultRotationRetention,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// SetAppTicket stores the app ticket pushed by the platform to marketplace
// apps. Requests without their own ticket use it.
func (m *Manager) SetAppTicket(ticket string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appTicket = strings.TrimSpace(ticket)
}

func (m *Manager) AppTicket() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.appTicket
}

// GetAccessToken returns a token for req. A cached token inside its refresh
// margin is never handed out: callers wait for the single in-flight refresh
// of that key and share its outcome.
func (m *Manager) GetAccessToken(ctx context.Context, req core.TokenRequest) (core.TokenInfo, error) {
	startedAt := time.Now()
	req = req.Normalized()
	info, err := m.getAccessToken(ctx, req)
	m.obs.Observe(ctx, startedAt, "manager.get_access_token", err, map[string]any{
		"kind": string(req.Kind),
	})
	return info, err
}

func (m *Manager) getAccessToken(ctx context.Context, req core.TokenRequest) (core.TokenInfo, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	key, err := core.CacheKeyFor(m.appID, req)
	if err != nil {
		return core.TokenInfo{}, err
	}

	entry, ok, err := m.cache.Get(ctx, key)
	if err != nil {
		return core.TokenInfo{}, err
	}
	if ok && !m.validator.ShouldRefresh(entry.Record) {
		return entry.Record.Info(m.now()), nil
	}

	record, err := m.refreshShared(ctx, key, req)
	if err != nil {
		return core.TokenInfo{}, err
	}
	return record.Info(m.now()), nil
}

func (m *Manager) refreshShared(ctx context.Context, key string, req core.TokenRequest) (core.TokenRecord, error) {
	detached := context.WithoutCancel(ctx)
	ch := m.flights.DoChan(key, func() (any, error) {
		return m.refreshKey(detached, key, req)
	})
	select {
	case <-ctx.Done():
		return core.TokenRecord{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return core.TokenRecord{}, res.Err
		}
		record, ok := res.Val.(core.TokenRecord)
		if !ok {
			return core.TokenRecord{}, fmt.Errorf("manager: unexpected refresh result %T", res.Val)
		}
		if res.Shared {
			m.obs.Count(ctx, "manager.refresh.shared", 1, map[string]string{"kind": string(req.Kind)})
		}
		return record, nil
	}
}

// refreshKey runs once per key at a time. It re-reads the cache first so a
// caller arriving just after a completed refresh reuses its result; that
// re-read is not counted in the cache stats.
func (m *Manager) refreshKey(ctx context.Context, key string, req core.TokenRequest) (core.TokenRecord, error) {
	startedAt := time.Now()
	fields := map[string]any{"kind": string(req.Kind), "cache_key": key}

	entry, ok, err := m.cache.Peek(ctx, key)
	if err != nil {
		return core.TokenRecord{}, err
	}
	if ok && !m.validator.ShouldRefresh(entry.Record) {
		return entry.Record, nil
	}

	refreshToken := req.RefreshToken
	if req.Kind == core.TokenKindUser {
		if ok && entry.Record.RefreshToken != "" {
			refreshToken = entry.Record.RefreshToken
		} else if latest, found := m.latestRefreshToken(key); found {
			refreshToken = latest
		}
	}

	record, err := m.refresh(ctx, req, refreshToken)
	m.obs.Observe(ctx, startedAt, "manager.refresh", err, fields)
	if err != nil {
		return core.TokenRecord{}, err
	}

	if err := m.cache.Put(ctx, key, record, 0); err != nil {
		return core.TokenRecord{}, err
	}
	if req.Kind == core.TokenKindUser && record.RefreshToken != "" && record.RefreshToken != refreshToken {
		m.recordRotation(ctx, req, key, refreshToken, record)
	}
	return record, nil
}

// recordRotation links the requested key and the consumed refresh token to
// the new refresh token, and caches the record under the new token's key.
func (m *Manager) recordRotation(ctx context.Context, req core.TokenRequest, key string, consumed string, record core.TokenRecord) {
	link := rotation{refreshToken: record.RefreshToken, rotatedAt: m.now()}
	m.rotationMu.Lock()
	m.rotations[key] = link
	if consumed != req.RefreshToken {
		consumedReq := req
		consumedReq.RefreshToken = consumed
		if consumedKey, err := core.CacheKeyFor(m.appID, consumedReq); err == nil {
			m.rotations[consumedKey] = link
		}
	}
	m.rotationMu.Unlock()

	rotated := req
	rotated.RefreshToken = record.RefreshToken
	if rotatedKey, err := core.CacheKeyFor(m.appID, rotated); err == nil && rotatedKey != key {
		if err := m.cache.Put(ctx, rotatedKey, record, 0); err != nil {
			m.obs.Warn(ctx, "store rotated user token failed", map[string]any{"error": err.Error()})
		}
	}
}

// latestRefreshToken follows the rotation chain starting at key.
func (m *Manager) latestRefreshToken(key string) (string, bool) {
	m.rotationMu.Lock()
	defer m.rotationMu.Unlock()

	cutoff := m.now().Add(-m.rotationRetention)
	latest := ""
	seen := map[string]struct{}{}
	for {
		if _, loop := seen[key]; loop {
			break
		}
		seen[key] = struct{}{}
		link, ok := m.rotations[key]
		if !ok || link.rotatedAt.Before(cutoff) {
			break
		}
		latest = link.refreshToken
		next, err := core.CacheKeyFor(m.appID, core.TokenRequest{Kind: core.TokenKindUser, RefreshToken: latest})
		if err != nil {
			break
		}
		key = next
	}
	return latest, latest != ""
}

func (m *Manager) pruneRotations() int {
	m.rotationMu.Lock()
	defer m.rotationMu.Unlock()
	cutoff := m.now().Add(-m.rotationRetention)
	pruned := 0
	for key, link := range m.rotations {
		if link.rotatedAt.Before(cutoff) {
			delete(m.rotations, key)
			pruned++
		}
	}
	return pruned
}

func (m *Manager) refresh(ctx context.Context, req core.TokenRequest, refreshToken string) (core.TokenRecord, error) {
	ticket := req.AppTicket
	if ticket == "" {
		ticket = m.AppTicket()
	}
	switch req.Kind {
	case core.TokenKindApp:
		return m.refresher.RefreshAppToken(ctx, ticket)
	case core.TokenKindTenant:
		return m.refresher.RefreshTenantToken(ctx, req.TenantKey, ticket)
	case core.TokenKindUser:
		return m.refresher.RefreshWithRefreshToken(ctx, refreshToken)
	default:
		return core.TokenRecord{}, core.NewTokenError(req.Kind, "kind", "unsupported token kind")
	}
}

// ValidateAccessToken checks the token format and then whether the token is
// a live cached token of any kind. A format failure never touches the cache.
func (m *Manager) ValidateAccessToken(ctx context.Context, token string) (core.ValidationResult, error) {
	result := m.validator.ValidateTokenFormat(token)
	if !result.Valid {
		return result, nil
	}
	key, entry, found, err := m.cache.FindByValue(ctx, token)
	if err != nil {
		return core.ValidationResult{}, err
	}
	if !found {
		return core.InvalidResult(core.ValidationReasonNotFound), nil
	}
	result = m.validator.Validate(entry.Record)
	result.CacheKey = key
	if result.Valid && m.validator.ShouldRefresh(entry.Record) {
		result.Reason = core.ValidationReasonRefreshNeeded
	}
	return result, nil
}

// RevokeAccessToken drops every cache entry holding token. Revoking an
// unknown token succeeds; storage failures are logged and swallowed.
func (m *Manager) RevokeAccessToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	removed, err := m.cache.RemoveByValue(ctx, token)
	if err != nil {
		m.obs.Warn(ctx, "revoke access token failed", map[string]any{"error": err.Error()})
		return nil
	}
	if removed > 0 {
		m.obs.Info(ctx, "access token revoked", map[string]any{"removed": removed})
	}
	return nil
}

// BatchGetAccessTokens resolves reqs in order. Each result carries its own
// error.
func (m *Manager) BatchGetAccessTokens(ctx context.Context, reqs []core.TokenRequest) []core.TokenResult {
	results := make([]core.TokenResult, len(reqs))
	for i, req := range reqs {
		info, err := m.GetAccessToken(ctx, req)
		results[i] = core.TokenResult{Request: req, Info: info, Err: err}
	}
	return results
}

// WarmupTokens loads the app token and one tenant token per key. Failures
// are logged and reported, never returned.
func (m *Manager) WarmupTokens(ctx context.Context, tenantKeys []string) core.WarmupReport {
	report := core.WarmupReport{Failed: map[string]error{}}
	reqs := []core.TokenRequest{{Kind: core.TokenKindApp}}
	seen := map[string]struct{}{}
	for _, tenantKey := range tenantKeys {
		tenantKey = strings.TrimSpace(tenantKey)
		if tenantKey == "" {
			continue
		}
		if _, ok := seen[tenantKey]; ok {
			continue
		}
		seen[tenantKey] = struct{}{}
		reqs = append(reqs, core.TokenRequest{Kind: core.TokenKindTenant, TenantKey: tenantKey})
	}

	for _, req := range reqs {
		key, err := core.CacheKeyFor(m.appID, req)
		if err != nil {
			key = string(req.Kind) + ":" + req.TenantKey
		}
		if _, err := m.GetAccessToken(ctx, req); err != nil {
			report.Failed[key] = err
			m.obs.Warn(ctx, "token warmup failed", map[string]any{
				"cache_key": key,
				"error":     err.Error(),
			})
			continue
		}
		report.Warmed = append(report.Warmed, key)
	}
	m.obs.Info(ctx, "token warmup finished", map[string]any{
		"warmed": len(report.Warmed),
		"failed": len(report.Failed),
	})
	return report
}

func (m *Manager) GetTokenStats(ctx context.Context) core.CacheStats {
	return m.cache.Stats(ctx)
}

// ClearTokens drops every cached token and forgets refresh token rotations.
func (m *Manager) ClearTokens(ctx context.Context) error {
	m.rotationMu.Lock()
	m.rotations = map[string]rotation{}
	m.rotationMu.Unlock()
	return m.cache.Clear(ctx)
}

// CleanupExpired drops expired cache entries and returns how many went.
// Rotation links older than the retention window are pruned too.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	if pruned := m.pruneRotations(); pruned > 0 {
		m.obs.Debug(ctx, "refresh token rotations pruned", map[string]any{"pruned": pruned})
	}
	return m.cache.CleanupExpired(ctx)
}

// AuthorizationHeader implements core.TokenProvider for the transport.
func (m *Manager) AuthorizationHeader(ctx context.Context, req core.TokenRequest) (string, error) {
	info, err := m.GetAccessToken(ctx, req)
	if err != nil {
		return "", err
	}
	return "Bearer " + info.AccessToken, nil
}

// AppAccessToken implements core.AppTokenSource for user token refresh.
func (m *Manager) AppAccessToken(ctx context.Context) (string, error) {
	info, err := m.GetAccessToken(ctx, core.TokenRequest{Kind: core.TokenKindApp})
	if err != nil {
		return "", err
	}
	return info.AccessToken, nil
}

// TokenSource adapts req to an oauth2.TokenSource. Each Token call goes
// through the manager, so refresh margins and coalescing still apply.
func (m *Manager) TokenSource(ctx context.Context, req core.TokenRequest) oauth2.TokenSource {
	if ctx == nil {
		ctx = context.Background()
	}
	return &tokenSource{ctx: ctx, manager: m, req: req}
}

type tokenSource struct {
	ctx     context.Context
	manager *Manager
	req     core.TokenRequest
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	info, err := s.manager.GetAccessToken(s.ctx, s.req)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken:  info.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: info.RefreshToken,
		Expiry:       s.manager.now().Add(time.Duration(info.ExpiresInSeconds) * time.Second),
	}, nil
}

var (
	_ core.TokenProvider  = (*Manager)(nil)
	_ core.AppTokenSource = (*Manager)(nil)
)
