package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-larkauth/core"
)

// TokenMutator is the manager surface the mutating commands drive.
type TokenMutator interface {
	RevokeAccessToken(ctx context.Context, token string) error
	WarmupTokens(ctx context.Context, tenantKeys []string) core.WarmupReport
	ClearTokens(ctx context.Context) error
	CleanupExpired(ctx context.Context) (int, error)
	SetAppTicket(ticket string)
}

type RevokeTokenCommand struct {
	service TokenMutator
}

func NewRevokeTokenCommand(service TokenMutator) *RevokeTokenCommand {
	return &RevokeTokenCommand{service: service}
}

func (c *RevokeTokenCommand) Execute(ctx context.Context, msg RevokeTokenMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: revoke token service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return commandServiceError(c.service.RevokeAccessToken(ctx, msg.AccessToken))
}

type WarmupTokensCommand struct {
	service TokenMutator
}

func NewWarmupTokensCommand(service TokenMutator) *WarmupTokensCommand {
	return &WarmupTokensCommand{service: service}
}

// Execute stores the warmup report in the result collector. Per-key failures
// live in the report; the command itself only fails on bad input.
func (c *WarmupTokensCommand) Execute(ctx context.Context, msg WarmupTokensMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: warmup service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	storeResult(ctx, c.service.WarmupTokens(ctx, msg.TenantKeys))
	return nil
}

type ClearTokensCommand struct {
	service TokenMutator
}

func NewClearTokensCommand(service TokenMutator) *ClearTokensCommand {
	return &ClearTokensCommand{service: service}
}

func (c *ClearTokensCommand) Execute(ctx context.Context, _ ClearTokensMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: clear tokens service is required")
	}
	return commandServiceError(c.service.ClearTokens(ctx))
}

type CleanupExpiredCommand struct {
	service TokenMutator
}

func NewCleanupExpiredCommand(service TokenMutator) *CleanupExpiredCommand {
	return &CleanupExpiredCommand{service: service}
}

func (c *CleanupExpiredCommand) Execute(ctx context.Context, _ CleanupExpiredMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: cleanup service is required")
	}
	removed, err := c.service.CleanupExpired(ctx)
	if err != nil {
		return commandServiceError(err)
	}
	storeResult(ctx, removed)
	return nil
}

type SetAppTicketCommand struct {
	service TokenMutator
}

func NewSetAppTicketCommand(service TokenMutator) *SetAppTicketCommand {
	return &SetAppTicketCommand{service: service}
}

func (c *SetAppTicketCommand) Execute(_ context.Context, msg SetAppTicketMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: app ticket service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	c.service.SetAppTicket(msg.AppTicket)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
