package core

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const cacheKeySeparator = ":"

// CacheKeyFor resolves the cache key namespace for a token request. The app
// qualifier is the app id; tenant tokens use the tenant key; user tokens use
// a stable hash of the refresh token so the raw secret never becomes a key.
func CacheKeyFor(appID string, req TokenRequest) (string, error) {
	req = req.Normalized()
	switch req.Kind {
	case TokenKindApp:
		qualifier := strings.TrimSpace(appID)
		if qualifier == "" {
			qualifier = "default"
		}
		return string(TokenKindApp) + cacheKeySeparator + qualifier, nil
	case TokenKindTenant:
		if req.TenantKey == "" {
			return "", NewTokenError(TokenKindTenant, "tenant_key", "tenant key is required for tenant tokens")
		}
		return string(TokenKindTenant) + cacheKeySeparator + req.TenantKey, nil
	case TokenKindUser:
		if req.RefreshToken == "" {
			return "", NewTokenError(TokenKindUser, "refresh_token", "refresh token is required for user tokens")
		}
		return string(TokenKindUser) + cacheKeySeparator + HashRefreshToken(req.RefreshToken), nil
	default:
		return "", NewTokenError(req.Kind, "kind", "unsupported token kind")
	}
}

func HashRefreshToken(refreshToken string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(refreshToken)))
	return hex.EncodeToString(sum[:16])
}

// KindFromCacheKey returns the kind namespace encoded in key.
func KindFromCacheKey(key string) TokenKind {
	prefix, _, ok := strings.Cut(key, cacheKeySeparator)
	if !ok {
		return ""
	}
	kind, err := ParseTokenKind(prefix)
	if err != nil {
		return ""
	}
	return kind
}
