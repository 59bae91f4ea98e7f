package query

import (
	"strings"

	"github.com/goliatone/go-larkauth/core"
)

const (
	TypeGetAccessToken       = "larkauth.query.token.get"
	TypeBatchGetAccessTokens = "larkauth.query.token.batch_get"
	TypeValidateAccessToken  = "larkauth.query.token.validate"
	TypeTokenStats           = "larkauth.query.tokens.stats"
)

type GetAccessTokenMessage struct {
	Request core.TokenRequest
}

func (GetAccessTokenMessage) Type() string { return TypeGetAccessToken }

func (m GetAccessTokenMessage) Validate() error {
	return validateTokenRequest(m.Request)
}

type BatchGetAccessTokensMessage struct {
	Requests []core.TokenRequest
}

func (BatchGetAccessTokensMessage) Type() string { return TypeBatchGetAccessTokens }

func (m BatchGetAccessTokensMessage) Validate() error {
	if len(m.Requests) == 0 {
		return queryValidationError("requests", "at least one request is required")
	}
	return nil
}

type ValidateAccessTokenMessage struct {
	AccessToken string
}

func (ValidateAccessTokenMessage) Type() string { return TypeValidateAccessToken }

func (m ValidateAccessTokenMessage) Validate() error {
	if strings.TrimSpace(m.AccessToken) == "" {
		return queryValidationError("access_token", "access token is required")
	}
	return nil
}

type TokenStatsMessage struct{}

func (TokenStatsMessage) Type() string { return TypeTokenStats }

func (TokenStatsMessage) Validate() error { return nil }

func validateTokenRequest(req core.TokenRequest) error {
	req = req.Normalized()
	kind, err := core.ParseTokenKind(string(req.Kind))
	if err != nil {
		return queryWrapValidation(err, "query: invalid token kind")
	}
	switch kind {
	case core.TokenKindNone:
		return queryValidationError("kind", "token kind is required")
	case core.TokenKindTenant:
		if req.TenantKey == "" {
			return queryValidationError("tenant_key", "tenant key is required for tenant tokens")
		}
	case core.TokenKindUser:
		if req.RefreshToken == "" {
			return queryValidationError("refresh_token", "refresh token is required for user tokens")
		}
	}
	return nil
}
