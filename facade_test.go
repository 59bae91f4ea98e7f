package larkauth

import (
	"context"
	"testing"

	larkcommand "github.com/goliatone/go-larkauth/command"
	"github.com/goliatone/go-larkauth/core"
	larkquery "github.com/goliatone/go-larkauth/query"
)

func TestNewFacade_WiresCommandsAndQueries(t *testing.T) {
	facade, err := NewFacade(&stubFacadeService{})
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	commands := facade.Commands()
	if commands.Revoke == nil || commands.Warmup == nil || commands.Clear == nil ||
		commands.CleanupExpired == nil || commands.SetAppTicket == nil {
		t.Fatalf("expected command handlers to be wired")
	}
	queries := facade.Queries()
	if queries.GetAccessToken == nil || queries.BatchGetAccessTokens == nil ||
		queries.ValidateAccessToken == nil || queries.TokenStats == nil {
		t.Fatalf("expected query handlers to be wired")
	}
}

func TestFacade_CommandAndQueryDelegation(t *testing.T) {
	svc := &stubFacadeService{}
	facade, err := NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	if err := facade.Commands().Revoke.Execute(context.Background(), larkcommand.RevokeTokenMessage{
		AccessToken: "t-token-0001",
	}); err != nil {
		t.Fatalf("execute revoke command: %v", err)
	}
	if svc.lastRevoked != "t-token-0001" {
		t.Fatalf("unexpected revoke delegation payload %q", svc.lastRevoked)
	}

	if err := facade.Commands().SetAppTicket.Execute(context.Background(), larkcommand.SetAppTicketMessage{
		AppTicket: "ticket-1",
	}); err != nil {
		t.Fatalf("execute set app ticket: %v", err)
	}
	if svc.ticket != "ticket-1" {
		t.Fatalf("expected app ticket delegation, got %q", svc.ticket)
	}

	info, err := facade.Queries().GetAccessToken.Query(context.Background(), larkquery.GetAccessTokenMessage{
		Request: TenantTokenRequest("T1"),
	})
	if err != nil {
		t.Fatalf("query access token: %v", err)
	}
	if info.AccessToken != "t-T1-0001" || info.Kind != TokenKindTenant {
		t.Fatalf("unexpected token info %#v", info)
	}
}

func TestNewFacade_RequiresService(t *testing.T) {
	facade, err := NewFacade(nil)
	if err == nil {
		t.Fatalf("expected nil service error")
	}
	if facade != nil {
		t.Fatalf("expected nil facade on error")
	}
	var nilFacade *Facade
	if nilFacade.Service() != nil || nilFacade.Commands().Revoke != nil {
		t.Fatalf("expected zero values from nil facade")
	}
}

type stubFacadeService struct {
	lastRevoked string
	ticket      string
}

func (s *stubFacadeService) RevokeAccessToken(_ context.Context, token string) error {
	s.lastRevoked = token
	return nil
}

func (s *stubFacadeService) WarmupTokens(context.Context, []string) core.WarmupReport {
	return core.WarmupReport{}
}

func (s *stubFacadeService) ClearTokens(context.Context) error { return nil }

func (s *stubFacadeService) CleanupExpired(context.Context) (int, error) { return 0, nil }

func (s *stubFacadeService) SetAppTicket(ticket string) { s.ticket = ticket }

func (s *stubFacadeService) GetAccessToken(_ context.Context, req core.TokenRequest) (core.TokenInfo, error) {
	return core.TokenInfo{AccessToken: "t-" + req.TenantKey + "-0001", Kind: req.Kind, ExpiresInSeconds: 7200}, nil
}

func (s *stubFacadeService) BatchGetAccessTokens(context.Context, []core.TokenRequest) []core.TokenResult {
	return nil
}

func (s *stubFacadeService) ValidateAccessToken(context.Context, string) (core.ValidationResult, error) {
	return core.ValidResult(), nil
}

func (s *stubFacadeService) GetTokenStats(context.Context) core.CacheStats {
	return core.CacheStats{}
}

var _ TokenService = (*stubFacadeService)(nil)
