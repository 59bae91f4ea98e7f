package refresher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-larkauth/core"
	"github.com/goliatone/go-larkauth/transport"
)

type capturedCall struct {
	path          string
	authorization string
	body          map[string]string
}

type vendorStub struct {
	mu      sync.Mutex
	calls   []capturedCall
	respond func(path string) (int, string)
}

func (s *vendorStub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := map[string]string{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.calls = append(s.calls, capturedCall{
			path:          r.URL.Path,
			authorization: r.Header.Get("Authorization"),
			body:          body,
		})
		s.mu.Unlock()
		status, payload := s.respond(r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(payload))
	})
}

func (s *vendorStub) last() capturedCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return capturedCall{}
	}
	return s.calls[len(s.calls)-1]
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRefresher(t *testing.T, baseURL string, appType core.AppType, opts ...Option) *Refresher {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.AppID = "cli_test"
	cfg.AppSecret = "secret"
	cfg.AppType = appType
	cfg.BaseURL = baseURL
	exec := transport.New(core.PoolConfig{}, core.TransportConfig{}, transport.WithRetryPolicy(core.NoRetryPolicy()))
	t.Cleanup(exec.Close)
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	r, err := New(cfg, exec, opts...)
	if err != nil {
		t.Fatalf("new refresher: %v", err)
	}
	return r
}

func TestNew_RequiresCredentials(t *testing.T) {
	exec := transport.New(core.PoolConfig{}, core.TransportConfig{})
	defer exec.Close()

	tests := []struct {
		name  string
		id    string
		sec   string
		field string
	}{
		{name: "missing app id", sec: "secret", field: "app_id"},
		{name: "missing secret", id: "cli_test", field: "app_secret"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := core.DefaultConfig()
			cfg.AppID = tc.id
			cfg.AppSecret = tc.sec
			_, err := New(cfg, exec)
			var cfgErr *core.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected configuration error, got %v", err)
			}
			if cfgErr.Field != tc.field {
				t.Fatalf("expected field %q, got %q", tc.field, cfgErr.Field)
			}
		})
	}
}

func TestRefreshAppToken_SelfBuild(t *testing.T) {
	stub := &vendorStub{respond: func(string) (int, string) {
		return http.StatusOK, `{"code":0,"msg":"ok","app_access_token":"a-123456789","expire":7200}`
	}}
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	r := newTestRefresher(t, server.URL, core.AppTypeSelfBuild)
	record, err := r.RefreshAppToken(context.Background(), "")
	if err != nil {
		t.Fatalf("refresh app token: %v", err)
	}
	if record.Value != "a-123456789" || record.Kind != core.TokenKindApp {
		t.Fatalf("unexpected record %+v", record)
	}
	if !record.ExpiresAt.Equal(fixedNow.Add(2 * time.Hour)) {
		t.Fatalf("expected expiry 2h from now, got %v", record.ExpiresAt)
	}

	call := stub.last()
	if call.path != PathAppAccessTokenInternal {
		t.Fatalf("unexpected path %q", call.path)
	}
	if call.body["app_id"] != "cli_test" || call.body["app_secret"] != "secret" {
		t.Fatalf("unexpected body %+v", call.body)
	}
	if _, ok := call.body["app_ticket"]; ok {
		t.Fatalf("self-build request should not carry an app ticket")
	}
	if call.authorization != "" {
		t.Fatalf("credential endpoint must be unauthenticated, got %q", call.authorization)
	}
}

func TestRefreshTenantToken_SelfBuild(t *testing.T) {
	stub := &vendorStub{respond: func(string) (int, string) {
		return http.StatusOK, `{"code":0,"msg":"ok","tenant_access_token":"t-123456789","expire":3600}`
	}}
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	r := newTestRefresher(t, server.URL, core.AppTypeSelfBuild)
	record, err := r.RefreshTenantToken(context.Background(), " tenant-a ", "")
	if err != nil {
		t.Fatalf("refresh tenant token: %v", err)
	}
	if record.Value != "t-123456789" || record.TenantKey != "tenant-a" {
		t.Fatalf("unexpected record %+v", record)
	}
	call := stub.last()
	if call.path != PathTenantAccessTokenInternal || call.body["tenant_key"] != "tenant-a" {
		t.Fatalf("unexpected call %+v", call)
	}
}

func TestRefreshTenantToken_RequiresTenantKey(t *testing.T) {
	r := newTestRefresher(t, "http://127.0.0.1:1", core.AppTypeSelfBuild)
	_, err := r.RefreshTenantToken(context.Background(), "  ", "")
	if !core.IsTokenError(err) {
		t.Fatalf("expected token error, got %v", err)
	}
}

func TestRefreshWithRefreshToken_UsesAppTokenAndRotates(t *testing.T) {
	stub := &vendorStub{respond: func(string) (int, string) {
		return http.StatusOK, `{"code":0,"msg":"success","data":{"access_token":"u-123456789","refresh_token":"ur-next","expires_in":6900}}`
	}}
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	source := core.AppTokenSourceFunc(func(context.Context) (string, error) {
		return "a-app-token", nil
	})
	r := newTestRefresher(t, server.URL, core.AppTypeSelfBuild, WithAppTokenSource(source))
	record, err := r.RefreshWithRefreshToken(context.Background(), "ur-first")
	if err != nil {
		t.Fatalf("refresh user token: %v", err)
	}
	if record.Value != "u-123456789" || record.RefreshToken != "ur-next" {
		t.Fatalf("unexpected record %+v", record)
	}
	if !record.ExpiresAt.Equal(fixedNow.Add(6900 * time.Second)) {
		t.Fatalf("unexpected expiry %v", record.ExpiresAt)
	}
	call := stub.last()
	if call.path != PathRefreshUserAccessToken {
		t.Fatalf("unexpected path %q", call.path)
	}
	if call.authorization != "Bearer a-app-token" {
		t.Fatalf("expected app token authorization, got %q", call.authorization)
	}
	if call.body["grant_type"] != "refresh_token" || call.body["refresh_token"] != "ur-first" {
		t.Fatalf("unexpected body %+v", call.body)
	}
}

func TestRefreshWithRefreshToken_KeepsRefreshTokenWhenNotRotated(t *testing.T) {
	stub := &vendorStub{respond: func(string) (int, string) {
		return http.StatusOK, `{"code":0,"data":{"access_token":"u-123456789","expires_in":600}}`
	}}
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	source := core.AppTokenSourceFunc(func(context.Context) (string, error) { return "a-app-token", nil })
	r := newTestRefresher(t, server.URL, core.AppTypeSelfBuild, WithAppTokenSource(source))
	record, err := r.RefreshWithRefreshToken(context.Background(), "ur-first")
	if err != nil {
		t.Fatalf("refresh user token: %v", err)
	}
	if record.RefreshToken != "ur-first" {
		t.Fatalf("expected original refresh token kept, got %q", record.RefreshToken)
	}
}

func TestRefreshWithRefreshToken_AppTokenFailure(t *testing.T) {
	stub := &vendorStub{respond: func(string) (int, string) { return http.StatusOK, `{}` }}
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	boom := errors.New("app token unavailable")
	source := core.AppTokenSourceFunc(func(context.Context) (string, error) { return "", boom })
	r := newTestRefresher(t, server.URL, core.AppTypeSelfBuild, WithAppTokenSource(source))
	if _, err := r.RefreshWithRefreshToken(context.Background(), "ur-first"); !errors.Is(err, boom) {
		t.Fatalf("expected app token error, got %v", err)
	}
	if len(stub.calls) != 0 {
		t.Fatalf("expected no vendor call, got %d", len(stub.calls))
	}

	noSource := newTestRefresher(t, server.URL, core.AppTypeSelfBuild)
	if _, err := noSource.RefreshWithRefreshToken(context.Background(), "ur-first"); !core.IsConfigurationError(err) {
		t.Fatalf("expected configuration error without app token source, got %v", err)
	}
}

func TestRefresh_Marketplace(t *testing.T) {
	stub := &vendorStub{respond: func(path string) (int, string) {
		if path == PathAppAccessToken {
			return http.StatusOK, `{"code":0,"app_access_token":"a-market-token","expire":7200}`
		}
		return http.StatusOK, `{"code":0,"tenant_access_token":"t-market-token","expire":7200}`
	}}
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	source := core.AppTokenSourceFunc(func(context.Context) (string, error) { return "a-market-token", nil })
	r := newTestRefresher(t, server.URL, core.AppTypeMarketplace, WithAppTokenSource(source))

	if _, err := r.RefreshAppToken(context.Background(), ""); !core.IsTokenError(err) {
		t.Fatalf("expected token error without app ticket, got %v", err)
	}

	if _, err := r.RefreshAppToken(context.Background(), "ticket-1"); err != nil {
		t.Fatalf("refresh marketplace app token: %v", err)
	}
	call := stub.last()
	if call.path != PathAppAccessToken || call.body["app_ticket"] != "ticket-1" {
		t.Fatalf("unexpected app call %+v", call)
	}

	record, err := r.RefreshTenantToken(context.Background(), "tenant-a", "ticket-1")
	if err != nil {
		t.Fatalf("refresh marketplace tenant token: %v", err)
	}
	if record.Value != "t-market-token" {
		t.Fatalf("unexpected tenant record %+v", record)
	}
	call = stub.last()
	if call.path != PathTenantAccessToken {
		t.Fatalf("unexpected tenant path %q", call.path)
	}
	if call.body["app_access_token"] != "a-market-token" || call.body["tenant_key"] != "tenant-a" {
		t.Fatalf("unexpected tenant body %+v", call.body)
	}
	if _, ok := call.body["app_secret"]; ok {
		t.Fatalf("marketplace tenant exchange must not send the app secret")
	}
}

func TestRefresh_ResponseErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		payload  string
		wantCode int
	}{
		{name: "vendor code", status: http.StatusOK, payload: `{"code":10003,"msg":"invalid app_secret"}`, wantCode: 10003},
		{name: "missing token", status: http.StatusOK, payload: `{"code":0,"expire":7200}`},
		{name: "zero expire", status: http.StatusOK, payload: `{"code":0,"app_access_token":"a-123456789","expire":0}`},
		{name: "negative expire", status: http.StatusOK, payload: `{"code":0,"app_access_token":"a-123456789","expire":-5}`},
		{name: "invalid json", status: http.StatusOK, payload: `not-json`, wantCode: -1},
		{name: "http error", status: http.StatusBadRequest, payload: `{"code":10014,"msg":"bad request"}`, wantCode: 10014},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			stub := &vendorStub{respond: func(string) (int, string) { return tc.status, tc.payload }}
			server := httptest.NewServer(stub.handler())
			defer server.Close()

			r := newTestRefresher(t, server.URL, core.AppTypeSelfBuild)
			_, err := r.RefreshAppToken(context.Background(), "")
			apiErr, ok := core.AsAPIError(err)
			if !ok {
				t.Fatalf("expected api error, got %v", err)
			}
			if apiErr.Code != tc.wantCode {
				t.Fatalf("expected vendor code %d, got %d", tc.wantCode, apiErr.Code)
			}
			if core.IsRetryable(err) {
				t.Fatalf("response errors should not be retryable: %v", err)
			}
		})
	}
}

func TestRefresh_NetworkErrorPropagates(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	r := newTestRefresher(t, baseURL, core.AppTypeSelfBuild)
	_, err := r.RefreshAppToken(context.Background(), "")
	if !core.IsNetworkError(err) {
		t.Fatalf("expected network error, got %v", err)
	}
}
