package core

import (
	"fmt"
	"strings"
	"time"
)

type TokenKind string

const (
	TokenKindApp    TokenKind = "app"
	TokenKindTenant TokenKind = "tenant"
	TokenKindUser   TokenKind = "user"
	TokenKindNone   TokenKind = "none"
)

func (k TokenKind) String() string {
	return string(k)
}

// Valid reports whether k selects an issuing endpoint.
func (k TokenKind) Valid() bool {
	switch k {
	case TokenKindApp, TokenKindTenant, TokenKindUser:
		return true
	default:
		return false
	}
}

func ParseTokenKind(raw string) (TokenKind, error) {
	switch TokenKind(strings.TrimSpace(strings.ToLower(raw))) {
	case TokenKindApp:
		return TokenKindApp, nil
	case TokenKindTenant:
		return TokenKindTenant, nil
	case TokenKindUser:
		return TokenKindUser, nil
	case TokenKindNone, "":
		return TokenKindNone, nil
	default:
		return "", fmt.Errorf("core: unknown token kind %q", raw)
	}
}

type AppType string

const (
	AppTypeSelfBuild   AppType = "self_build"
	AppTypeMarketplace AppType = "marketplace"
)

// TokenRecord is an issued credential. Records are immutable values: a
// refresh produces a new record, it never mutates an existing one.
type TokenRecord struct {
	Value        string
	Kind         TokenKind
	IssuedAt     time.Time
	TTL          time.Duration
	ExpiresAt    time.Time
	RefreshToken string
	TenantKey    string
}

// NewTokenRecord builds a record with ExpiresAt = IssuedAt + TTL.
func NewTokenRecord(value string, kind TokenKind, issuedAt time.Time, ttl time.Duration) TokenRecord {
	issuedAt = issuedAt.UTC()
	if ttl < 0 {
		ttl = 0
	}
	return TokenRecord{
		Value:     strings.TrimSpace(value),
		Kind:      kind,
		IssuedAt:  issuedAt,
		TTL:       ttl,
		ExpiresAt: issuedAt.Add(ttl),
	}
}

func (r TokenRecord) WithRefreshToken(refreshToken string) TokenRecord {
	r.RefreshToken = strings.TrimSpace(refreshToken)
	return r
}

func (r TokenRecord) WithTenantKey(tenantKey string) TokenRecord {
	r.TenantKey = strings.TrimSpace(tenantKey)
	return r
}

func (r TokenRecord) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

func (r TokenRecord) ExpiresIn(now time.Time) time.Duration {
	remaining := r.ExpiresAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (r TokenRecord) Info(now time.Time) TokenInfo {
	return TokenInfo{
		AccessToken:      r.Value,
		Kind:             r.Kind,
		ExpiresInSeconds: int64(r.ExpiresIn(now) / time.Second),
		RefreshToken:     r.RefreshToken,
	}
}

// CacheEntry is owned by the cache. ExpiresAt is the cache deadline, which
// never exceeds the record expiry.
type CacheEntry struct {
	Record    TokenRecord
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (e CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

type CacheStats struct {
	Hits   uint64
	Misses uint64
	// Cleanups counts entries removed by CleanupExpired, not sweep runs.
	Cleanups    uint64
	Evictions   uint64
	CurrentSize int
}

func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type TokenRequest struct {
	Kind         TokenKind
	TenantKey    string
	RefreshToken string
	AppTicket    string
}

func (r TokenRequest) Normalized() TokenRequest {
	return TokenRequest{
		Kind:         TokenKind(strings.TrimSpace(strings.ToLower(string(r.Kind)))),
		TenantKey:    strings.TrimSpace(r.TenantKey),
		RefreshToken: strings.TrimSpace(r.RefreshToken),
		AppTicket:    strings.TrimSpace(r.AppTicket),
	}
}

type TokenInfo struct {
	AccessToken      string
	Kind             TokenKind
	ExpiresInSeconds int64
	RefreshToken     string
}

type TokenResult struct {
	Request TokenRequest
	Info    TokenInfo
	Err     error
}

const (
	ValidationReasonEmpty         = "empty"
	ValidationReasonTooShort      = "too_short"
	ValidationReasonTooLong       = "too_long"
	ValidationReasonWhitespace    = "whitespace"
	ValidationReasonInvalidChars  = "invalid_characters"
	ValidationReasonMalformedJWT  = "malformed_jwt"
	ValidationReasonExpired       = "expired"
	ValidationReasonNotFound      = "not_found"
	ValidationReasonRefreshNeeded = "refresh_needed"
)

type ValidationResult struct {
	Valid     bool
	Reason    string
	Kind      TokenKind
	CacheKey  string
	ExpiresAt *time.Time
}

func ValidResult() ValidationResult {
	return ValidationResult{Valid: true}
}

func InvalidResult(reason string) ValidationResult {
	return ValidationResult{Valid: false, Reason: reason}
}

type WarmupReport struct {
	Warmed []string
	Failed map[string]error
}

func (r WarmupReport) OK() bool {
	return len(r.Failed) == 0
}
