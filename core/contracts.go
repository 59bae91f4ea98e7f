package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// MetricsRecorder receives dotted names such as
// larkauth.manager.get_access_token.total; adapters map them to their own
// naming rules.
type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// NopMetricsRecorder is used when no recorder is configured.
type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

// TokenStorage is the capability set a cache backend must provide. The
// in-memory backend is the default; durable or read-through backends satisfy
// the same contract without touching the manager.
type TokenStorage interface {
	Store(ctx context.Context, key string, entry CacheEntry) error
	Get(ctx context.Context, key string) (CacheEntry, bool, error)
	Remove(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context) error
	Size(ctx context.Context) (int, error)
	Keys(ctx context.Context) ([]string, error)
}

// OldestKeyFinder is implemented by backends that can answer the
// oldest-created key without a full scan.
type OldestKeyFinder interface {
	OldestKey(ctx context.Context) (string, bool, error)
}

type TokenRefresher interface {
	RefreshAppToken(ctx context.Context, appTicket string) (TokenRecord, error)
	RefreshTenantToken(ctx context.Context, tenantKey string, appTicket string) (TokenRecord, error)
	RefreshWithRefreshToken(ctx context.Context, refreshToken string) (TokenRecord, error)
}

// TokenProvider resolves the Authorization header value for a request.
type TokenProvider interface {
	AuthorizationHeader(ctx context.Context, req TokenRequest) (string, error)
}

// AppTokenSource yields a valid app access token. User token refresh is
// authorized with it.
type AppTokenSource interface {
	AppAccessToken(ctx context.Context) (string, error)
}

type AppTokenSourceFunc func(ctx context.Context) (string, error)

func (f AppTokenSourceFunc) AppAccessToken(ctx context.Context) (string, error) {
	return f(ctx)
}

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request is an outbound vendor call. Auth declares which token kind
// authorizes it; TokenKindNone sends the request without Authorization.
type Request struct {
	Method               string
	URL                  string
	Headers              map[string]string
	Query                map[string]string
	Body                 []byte
	Auth                 TokenRequest
	Retry                *RetryPolicy
	Timeout              time.Duration
	MaxResponseBodyBytes int64
	Metadata             map[string]any
}

// JSONRequest builds a request with a JSON encoded body.
func JSONRequest(method string, url string, payload any, auth TokenRequest) (Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Request{}, fmt.Errorf("core: encode request body: %w", err)
	}
	return Request{
		Method:  strings.ToUpper(strings.TrimSpace(method)),
		URL:     strings.TrimSpace(url),
		Headers: map[string]string{"Content-Type": "application/json; charset=utf-8"},
		Body:    body,
		Auth:    auth,
	}, nil
}

type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Attempts   int
	Duration   time.Duration
	Metadata   map[string]any
}

func (r Response) Decode(out any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("core: empty response body")
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("core: decode response body: %w", err)
	}
	return nil
}

func (r Response) Header(key string) string {
	for existing, value := range r.Headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// Result pairs a response with its error for batch execution.
type Result struct {
	Response Response
	Err      error
}
