package larkauth

import (
	"fmt"

	larkcommand "github.com/goliatone/go-larkauth/command"
	larkquery "github.com/goliatone/go-larkauth/query"
)

// TokenService is the manager surface the facade wraps.
type TokenService interface {
	larkcommand.TokenMutator
	larkquery.TokenReader
}

type Commands struct {
	Revoke         *larkcommand.RevokeTokenCommand
	Warmup         *larkcommand.WarmupTokensCommand
	Clear          *larkcommand.ClearTokensCommand
	CleanupExpired *larkcommand.CleanupExpiredCommand
	SetAppTicket   *larkcommand.SetAppTicketCommand
}

type Queries struct {
	GetAccessToken       *larkquery.GetAccessTokenQuery
	BatchGetAccessTokens *larkquery.BatchGetAccessTokensQuery
	ValidateAccessToken  *larkquery.ValidateAccessTokenQuery
	TokenStats           *larkquery.TokenStatsQuery
}

// Facade exposes the token service as go-command handlers.
type Facade struct {
	service  TokenService
	commands Commands
	queries  Queries
}

func NewFacade(service TokenService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("larkauth: token service is required")
	}
	return &Facade{
		service: service,
		commands: Commands{
			Revoke:         larkcommand.NewRevokeTokenCommand(service),
			Warmup:         larkcommand.NewWarmupTokensCommand(service),
			Clear:          larkcommand.NewClearTokensCommand(service),
			CleanupExpired: larkcommand.NewCleanupExpiredCommand(service),
			SetAppTicket:   larkcommand.NewSetAppTicketCommand(service),
		},
		queries: Queries{
			GetAccessToken:       larkquery.NewGetAccessTokenQuery(service),
			BatchGetAccessTokens: larkquery.NewBatchGetAccessTokensQuery(service),
			ValidateAccessToken:  larkquery.NewValidateAccessTokenQuery(service),
			TokenStats:           larkquery.NewTokenStatsQuery(service),
		},
	}, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() TokenService {
	if f == nil {
		return nil
	}
	return f.service
}
