package command

import (
	"strings"
)

const (
	TypeRevokeToken    = "larkauth.command.token.revoke"
	TypeWarmupTokens   = "larkauth.command.tokens.warmup"
	TypeClearTokens    = "larkauth.command.tokens.clear"
	TypeCleanupExpired = "larkauth.command.tokens.cleanup"
	TypeSetAppTicket   = "larkauth.command.app_ticket.set"
)

type RevokeTokenMessage struct {
	AccessToken string
}

func (RevokeTokenMessage) Type() string { return TypeRevokeToken }

func (m RevokeTokenMessage) Validate() error {
	if strings.TrimSpace(m.AccessToken) == "" {
		return commandValidationError("access_token", "access token is required")
	}
	return nil
}

type WarmupTokensMessage struct {
	TenantKeys []string
}

func (WarmupTokensMessage) Type() string { return TypeWarmupTokens }

func (m WarmupTokensMessage) Validate() error {
	for _, key := range m.TenantKeys {
		if strings.TrimSpace(key) == "" {
			return commandValidationError("tenant_keys", "tenant keys must not be blank")
		}
	}
	return nil
}

type ClearTokensMessage struct{}

func (ClearTokensMessage) Type() string { return TypeClearTokens }

func (ClearTokensMessage) Validate() error { return nil }

type CleanupExpiredMessage struct{}

func (CleanupExpiredMessage) Type() string { return TypeCleanupExpired }

func (CleanupExpiredMessage) Validate() error { return nil }

type SetAppTicketMessage struct {
	AppTicket string
}

func (SetAppTicketMessage) Type() string { return TypeSetAppTicket }

func (m SetAppTicketMessage) Validate() error {
	if strings.TrimSpace(m.AppTicket) == "" {
		return commandValidationError("app_ticket", "app ticket is required")
	}
	return nil
}
