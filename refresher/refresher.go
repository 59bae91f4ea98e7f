// Package refresher exchanges app credentials, tenant keys and refresh tokens
// for fresh access tokens.
package refresher

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-larkauth/core"
)

const (
	PathAppAccessTokenInternal    = "/open-apis/auth/v3/app_access_token/internal"
	PathTenantAccessTokenInternal = "/open-apis/auth/v3/tenant_access_token/internal"
	PathAppAccessToken            = "/open-apis/auth/v3/app_access_token"
	PathTenantAccessToken         = "/open-apis/auth/v3/tenant_access_token"
	PathRefreshUserAccessToken    = "/open-apis/authen/v1/refresh_access_token"
)

// Executor is the transport surface the refresher needs. Credential
// endpoints are called without a bearer token of their own.
type Executor interface {
	ExecuteUnauthenticated(ctx context.Context, req core.Request) (core.Response, error)
}

type Refresher struct {
	appID     string
	appSecret string
	appType   core.AppType
	cfg       core.Config
	exec      Executor
	appTokens core.AppTokenSource
	now       func() time.Time
	obs       core.Observer
}

type Option func(*Refresher)

// WithAppTokenSource sets where user-token refreshes and marketplace tenant
// exchanges get their app access token from.
func WithAppTokenSource(source core.AppTokenSource) Option {
	return func(r *Refresher) {
		r.appTokens = source
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Refresher) {
		if now != nil {
			r.now = now
		}
	}
}

func WithObserver(observer core.Observer) Option {
	return func(r *Refresher) {
		r.obs = observer
	}
}

func New(cfg core.Config, exec Executor, opts ...Option) (*Refresher, error) {
	if err := cfg.ValidateCredentials(); err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, core.NewConfigurationError("transport", "is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = core.DefaultBaseURL
	}
	if cfg.AppType == "" {
		cfg.AppType = core.AppTypeSelfBuild
	}
	r := &Refresher{
		appID:     strings.TrimSpace(cfg.AppID),
		appSecret: strings.TrimSpace(cfg.AppSecret),
		appType:   cfg.AppType,
		cfg:       cfg,
		exec:      exec,
		now:       func() time.Time { return time.Now().UTC() },
		obs:       core.NewObserver("larkauth.refresher", nil, nil, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// RefreshAppToken issues an app access token. Marketplace apps must pass
// the app ticket pushed by the platform.
func (r *Refresher) RefreshAppToken(ctx context.Context, appTicket string) (core.TokenRecord, error) {
	startedAt := time.Now()
	appTicket = strings.TrimSpace(appTicket)
	body := map[string]string{
		"app_id":     r.appID,
		"app_secret": r.appSecret,
	}
	path := PathAppAccessTokenInternal
	if r.appType == core.AppTypeMarketplace {
		if appTicket == "" {
			err := core.NewTokenError(core.TokenKindApp, "app_ticket", "app ticket is required for marketplace apps")
			r.obs.Observe(ctx, startedAt, "refresher.refresh", err, map[string]any{"kind": string(core.TokenKindApp)})
			return core.TokenRecord{}, err
		}
		path = PathAppAccessToken
		body["app_ticket"] = appTicket
	}

	record, err := r.exchange(ctx, core.TokenKindApp, path, body, "")
	r.obs.Observe(ctx, startedAt, "refresher.refresh", err, map[string]any{"kind": string(core.TokenKindApp)})
	return record, err
}

// RefreshTenantToken issues a tenant access token for tenantKey.
func (r *Refresher) RefreshTenantToken(ctx context.Context, tenantKey string, appTicket string) (core.TokenRecord, error) {
	startedAt := time.Now()
	record, err := r.refreshTenant(ctx, strings.TrimSpace(tenantKey), strings.TrimSpace(appTicket))
	r.obs.Observe(ctx, startedAt, "refresher.refresh", err, map[string]any{"kind": string(core.TokenKindTenant)})
	return record, err
}

func (r *Refresher) refreshTenant(ctx context.Context, tenantKey string, appTicket string) (core.TokenRecord, error) {
	if tenantKey == "" {
		return core.TokenRecord{}, core.NewTokenError(core.TokenKindTenant, "tenant_key", "tenant key is required for tenant tokens")
	}
	var (
		path = PathTenantAccessTokenInternal
		body = map[string]string{
			"app_id":     r.appID,
			"app_secret": r.appSecret,
			"tenant_key": tenantKey,
		}
	)
	if r.appType == core.AppTypeMarketplace {
		appToken, err := r.appAccessToken(ctx)
		if err != nil {
			return core.TokenRecord{}, err
		}
		path = PathTenantAccessToken
		body = map[string]string{
			"app_access_token": appToken,
			"tenant_key":       tenantKey,
		}
	} else if appTicket != "" {
		body["app_ticket"] = appTicket
	}

	record, err := r.exchange(ctx, core.TokenKindTenant, path, body, "")
	if err != nil {
		return core.TokenRecord{}, err
	}
	return record.WithTenantKey(tenantKey), nil
}

// RefreshWithRefreshToken exchanges a user refresh token. The call is
// authorized with the app access token.
func (r *Refresher) RefreshWithRefreshToken(ctx context.Context, refreshToken string) (core.TokenRecord, error) {
	startedAt := time.Now()
	record, err := r.refreshUser(ctx, strings.TrimSpace(refreshToken))
	r.obs.Observe(ctx, startedAt, "refresher.refresh", err, map[string]any{"kind": string(core.TokenKindUser)})
	return record, err
}

func (r *Refresher) refreshUser(ctx context.Context, refreshToken string) (core.TokenRecord, error) {
	if refreshToken == "" {
		return core.TokenRecord{}, core.NewTokenError(core.TokenKindUser, "refresh_token", "refresh token is required for user tokens")
	}
	appToken, err := r.appAccessToken(ctx)
	if err != nil {
		return core.TokenRecord{}, err
	}
	body := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	}
	record, err := r.exchange(ctx, core.TokenKindUser, PathRefreshUserAccessToken, body, "Bearer "+appToken)
	if err != nil {
		return core.TokenRecord{}, err
	}
	if record.RefreshToken == "" {
		record = record.WithRefreshToken(refreshToken)
	}
	return record, nil
}

func (r *Refresher) appAccessToken(ctx context.Context) (string, error) {
	if r.appTokens == nil {
		return "", core.NewConfigurationError("app_token_source", "is required for user and marketplace tenant refresh")
	}
	token, err := r.appTokens.AppAccessToken(ctx)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(token) == "" {
		return "", core.NewTokenError(core.TokenKindApp, "", "app access token source returned an empty token")
	}
	return strings.TrimSpace(token), nil
}

func (r *Refresher) exchange(
	ctx context.Context,
	kind core.TokenKind,
	path string,
	body map[string]string,
	authorization string,
) (core.TokenRecord, error) {
	req, err := core.JSONRequest(http.MethodPost, r.cfg.Endpoint(path), body, core.TokenRequest{Kind: core.TokenKindNone})
	if err != nil {
		return core.TokenRecord{}, err
	}
	if authorization != "" {
		req.Headers["Authorization"] = authorization
	}
	res, err := r.exec.ExecuteUnauthenticated(ctx, req)
	if err != nil {
		return core.TokenRecord{}, err
	}
	parsed, err := parseTokenResponse(kind, res)
	if err != nil {
		return core.TokenRecord{}, err
	}
	record := core.NewTokenRecord(parsed.token, kind, r.now(), parsed.ttl)
	if parsed.refreshToken != "" {
		record = record.WithRefreshToken(parsed.refreshToken)
	}
	return record, nil
}

type tokenPayload struct {
	Code              *int          `json:"code"`
	Msg               string        `json:"msg"`
	Expire            int64         `json:"expire"`
	ExpiresIn         int64         `json:"expires_in"`
	AppAccessToken    string        `json:"app_access_token"`
	TenantAccessToken string        `json:"tenant_access_token"`
	AccessToken       string        `json:"access_token"`
	RefreshToken      string        `json:"refresh_token"`
	Data              *tokenPayload `json:"data"`
}

type parsedToken struct {
	token        string
	refreshToken string
	ttl          time.Duration
}

// parseTokenResponse accepts the flat v3 shape and the v1 shape with the
// token nested under data. Missing tokens and non-positive lifetimes are
// reported, never defaulted.
func parseTokenResponse(kind core.TokenKind, res core.Response) (parsedToken, error) {
	var payload tokenPayload
	if err := json.Unmarshal(res.Body, &payload); err != nil {
		return parsedToken{}, &core.APIError{
			StatusCode: res.StatusCode,
			Code:       -1,
			Message:    "invalid token response: " + err.Error(),
		}
	}
	if payload.Code != nil && *payload.Code != 0 {
		return parsedToken{}, &core.APIError{
			StatusCode: res.StatusCode,
			Code:       *payload.Code,
			Message:    strings.TrimSpace(payload.Msg),
		}
	}

	source := payload
	if payload.Data != nil {
		source = *payload.Data
	}
	field, token := tokenField(kind, source)
	if token == "" {
		return parsedToken{}, &core.APIError{
			StatusCode: res.StatusCode,
			Message:    "token response is missing " + field,
		}
	}
	expire := source.Expire
	if expire == 0 {
		expire = source.ExpiresIn
	}
	if expire <= 0 {
		return parsedToken{}, &core.APIError{
			StatusCode: res.StatusCode,
			Message:    "token response has no positive expire",
		}
	}
	return parsedToken{
		token:        token,
		refreshToken: strings.TrimSpace(source.RefreshToken),
		ttl:          time.Duration(expire) * time.Second,
	}, nil
}

func tokenField(kind core.TokenKind, payload tokenPayload) (string, string) {
	switch kind {
	case core.TokenKindApp:
		return "app_access_token", strings.TrimSpace(payload.AppAccessToken)
	case core.TokenKindTenant:
		return "tenant_access_token", strings.TrimSpace(payload.TenantAccessToken)
	default:
		return "access_token", strings.TrimSpace(payload.AccessToken)
	}
}

var _ core.TokenRefresher = (*Refresher)(nil)
