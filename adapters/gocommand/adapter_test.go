package gocommand

import (
	"context"
	"testing"

	"github.com/goliatone/go-command"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	larkcommand "github.com/goliatone/go-larkauth/command"
	"github.com/goliatone/go-larkauth/core"
	larkquery "github.com/goliatone/go-larkauth/query"
)

func TestRegisterTokenHandlersDispatch(t *testing.T) {
	ctx := context.Background()
	svc := &stubTokenService{}
	adapter := NewRegistryAdapter(command.NewRegistry())
	queueRegistry := jobqueuecommand.NewRegistry()
	if err := adapter.MirrorToQueue(queueRegistry); err != nil {
		t.Fatalf("mirror to queue: %v", err)
	}

	subs, err := RegisterTokenHandlers(adapter, svc)
	if err != nil {
		t.Fatalf("register token handlers: %v", err)
	}
	defer subs.Unsubscribe()
	if len(subs) != 9 {
		t.Fatalf("expected 9 subscriptions, got %d", len(subs))
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}
	if _, ok := queueRegistry.Get(larkcommand.TypeWarmupTokens); !ok {
		t.Fatalf("expected warmup command mirrored into queue registry")
	}

	if err := Dispatch(ctx, larkcommand.RevokeTokenMessage{AccessToken: "t-token-0001"}); err != nil {
		t.Fatalf("dispatch revoke: %v", err)
	}
	if svc.revoked != "t-token-0001" {
		t.Fatalf("expected revoke to reach the service, got %q", svc.revoked)
	}

	info, err := Query[larkquery.GetAccessTokenMessage, core.TokenInfo](ctx, larkquery.GetAccessTokenMessage{
		Request: core.TokenRequest{Kind: core.TokenKindApp},
	})
	if err != nil {
		t.Fatalf("query token: %v", err)
	}
	if info.AccessToken != "a-token-0001" {
		t.Fatalf("unexpected token info %#v", info)
	}
}

func TestRegisterTokenHandlersRequiresServiceAndRegistry(t *testing.T) {
	if _, err := RegisterTokenHandlers(NewRegistryAdapter(nil), nil); err == nil {
		t.Fatalf("expected error for nil service")
	}
	if _, err := RegisterTokenHandlers(nil, &stubTokenService{}); err == nil {
		t.Fatalf("expected error for nil adapter")
	}
	if err := NewRegistryAdapter(nil).MirrorToQueue(nil); err == nil {
		t.Fatalf("expected error for nil queue registry")
	}
}

type stubTokenService struct {
	revoked string
}

func (s *stubTokenService) RevokeAccessToken(_ context.Context, token string) error {
	s.revoked = token
	return nil
}

func (s *stubTokenService) WarmupTokens(context.Context, []string) core.WarmupReport {
	return core.WarmupReport{}
}

func (s *stubTokenService) ClearTokens(context.Context) error { return nil }

func (s *stubTokenService) CleanupExpired(context.Context) (int, error) { return 0, nil }

func (s *stubTokenService) SetAppTicket(string) {}

func (s *stubTokenService) GetAccessToken(_ context.Context, req core.TokenRequest) (core.TokenInfo, error) {
	return core.TokenInfo{AccessToken: "a-token-0001", Kind: req.Kind, ExpiresInSeconds: 7200}, nil
}

func (s *stubTokenService) BatchGetAccessTokens(context.Context, []core.TokenRequest) []core.TokenResult {
	return nil
}

func (s *stubTokenService) ValidateAccessToken(context.Context, string) (core.ValidationResult, error) {
	return core.ValidResult(), nil
}

func (s *stubTokenService) GetTokenStats(context.Context) core.CacheStats {
	return core.CacheStats{}
}
