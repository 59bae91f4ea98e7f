// Package validator holds the network-free token checks: format, staleness
// and expiry.
package validator

import (
	"strings"
	"time"
	"unicode"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-larkauth/core"
)

type Validator struct {
	cfg core.ValidatorConfig
	now func() time.Time
}

type Option func(*Validator)

func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		if now != nil {
			v.now = now
		}
	}
}

func New(cfg core.ValidatorConfig, opts ...Option) *Validator {
	defaults := core.DefaultValidatorConfig()
	if cfg.MinLength <= 0 {
		cfg.MinLength = defaults.MinLength
	}
	if cfg.MaxLength <= 0 || cfg.MaxLength < cfg.MinLength {
		cfg.MaxLength = defaults.MaxLength
	}
	if cfg.RefreshMargin < 0 {
		cfg.RefreshMargin = 0
	}
	v := &Validator{
		cfg: cfg,
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// ValidateTokenFormat checks shape only. JWT-shaped tokens are also parsed
// without signature verification so an elapsed exp claim is reported.
func (v *Validator) ValidateTokenFormat(token string) core.ValidationResult {
	if token == "" {
		return core.InvalidResult(core.ValidationReasonEmpty)
	}
	for _, r := range token {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return core.InvalidResult(core.ValidationReasonWhitespace)
		}
	}
	if len(token) < v.cfg.MinLength {
		return core.InvalidResult(core.ValidationReasonTooShort)
	}
	if len(token) > v.cfg.MaxLength {
		return core.InvalidResult(core.ValidationReasonTooLong)
	}
	for i := 0; i < len(token); i++ {
		if !allowedTokenByte(token[i]) {
			return core.InvalidResult(core.ValidationReasonInvalidChars)
		}
	}
	if v.cfg.InspectJWT && looksLikeJWT(token) {
		return v.inspectJWT(token)
	}
	return core.ValidResult()
}

func (v *Validator) inspectJWT(token string) core.ValidationResult {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil || parsed == nil {
		return core.InvalidResult(core.ValidationReasonMalformedJWT)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return core.InvalidResult(core.ValidationReasonMalformedJWT)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return core.InvalidResult(core.ValidationReasonMalformedJWT)
	}
	result := core.ValidResult()
	if exp == nil {
		return result
	}
	expiresAt := exp.Time.UTC()
	result.ExpiresAt = &expiresAt
	if !v.now().Before(expiresAt) {
		result.Valid = false
		result.Reason = core.ValidationReasonExpired
	}
	return result
}

// RefreshMargin returns the margin applied to record, at most half its TTL.
func (v *Validator) RefreshMargin(record core.TokenRecord) time.Duration {
	margin := v.cfg.RefreshMargin
	if record.TTL > 0 && margin > record.TTL/2 {
		return record.TTL / 2
	}
	return margin
}

// ShouldRefresh reports whether record is expired or within the refresh
// margin of its expiry.
func (v *Validator) ShouldRefresh(record core.TokenRecord) bool {
	now := v.now()
	if record.IsExpired(now) {
		return true
	}
	return !now.Before(record.ExpiresAt.Add(-v.RefreshMargin(record)))
}

// Validate combines format and expiry checks for a stored record.
func (v *Validator) Validate(record core.TokenRecord) core.ValidationResult {
	result := v.ValidateTokenFormat(record.Value)
	result.Kind = record.Kind
	if !result.Valid {
		return result
	}
	expiresAt := record.ExpiresAt
	if result.ExpiresAt != nil && result.ExpiresAt.Before(expiresAt) {
		expiresAt = *result.ExpiresAt
	}
	result.ExpiresAt = &expiresAt
	if !v.now().Before(expiresAt) {
		result.Valid = false
		result.Reason = core.ValidationReasonExpired
	}
	return result
}

func allowedTokenByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	}
	return strings.IndexByte("._~+/=-_", b) >= 0
}

func looksLikeJWT(token string) bool {
	parts := strings.Split(token, ".")
	return len(parts) == 3 && strings.HasPrefix(parts[0], "eyJ") && parts[1] != ""
}
