package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorNetwork       = "LARK_NETWORK_ERROR"
	ErrorAPI           = "LARK_API_ERROR"
	ErrorToken         = "LARK_TOKEN_ERROR"
	ErrorConfiguration = "LARK_CONFIGURATION_ERROR"
	ErrorTransport     = "LARK_TRANSPORT_ERROR"
	ErrorBadInput      = "LARK_BAD_INPUT"
	ErrorInternal      = "LARK_INTERNAL_ERROR"
)

const (
	TimeoutPhaseConnect = "connect"
	TimeoutPhaseRead    = "read"
	TimeoutPhaseRequest = "request"
)

// serviceError is implemented by the typed errors below so they can be
// lifted into a go-errors envelope at package boundaries.
type serviceError interface {
	error
	ToServiceError() *goerrors.Error
}

// NetworkError is a connect/read failure or timeout. Always retryable.
type NetworkError struct {
	Method  string
	URL     string
	Phase   string
	Timeout bool
	Err     error
}

func (e *NetworkError) Error() string {
	phase := strings.TrimSpace(e.Phase)
	if phase == "" {
		phase = TimeoutPhaseRequest
	}
	if e.Timeout {
		return fmt.Sprintf("network: %s %s timed out during %s: %v", e.Method, e.URL, phase, e.Err)
	}
	return fmt.Sprintf("network: %s %s failed during %s: %v", e.Method, e.URL, phase, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func (e *NetworkError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{
		"method":    e.Method,
		"url":       e.URL,
		"phase":     e.Phase,
		"timeout":   e.Timeout,
		"retryable": true,
	}
	if e.Timeout {
		metadata["timeout_phase"] = e.Phase
	}
	return goerrors.Wrap(e, goerrors.CategoryExternal, e.Error()).
		WithCode(http.StatusBadGateway).
		WithTextCode(ErrorNetwork).
		WithMetadata(metadata)
}

// APIError is a vendor-reported failure: a non-success HTTP status or a
// non-zero `code` in the JSON envelope.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
	RequestID  string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: status %d code %d: %s", e.StatusCode, e.Code, strings.TrimSpace(e.Message))
}

func (e *APIError) Retryable() bool {
	return IsRetryableStatus(e.StatusCode)
}

func (e *APIError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{
		"status_code": e.StatusCode,
		"vendor_code": e.Code,
		"retryable":   e.Retryable(),
	}
	if e.RequestID != "" {
		metadata["request_id"] = e.RequestID
	}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	code := e.StatusCode
	if code <= 0 {
		code = http.StatusBadGateway
	}
	return goerrors.Wrap(e, apiErrorCategory(e.StatusCode), e.Error()).
		WithCode(code).
		WithTextCode(ErrorAPI).
		WithMetadata(metadata)
}

func apiErrorCategory(status int) goerrors.Category {
	switch status {
	case http.StatusBadRequest:
		return goerrors.CategoryBadInput
	case http.StatusUnauthorized:
		return goerrors.CategoryAuth
	case http.StatusForbidden:
		return goerrors.CategoryAuthz
	case http.StatusNotFound:
		return goerrors.CategoryNotFound
	case http.StatusTooManyRequests:
		return goerrors.CategoryRateLimit
	default:
		return goerrors.CategoryExternal
	}
}

// TokenError requires caller correction or re-authentication; never retried.
type TokenError struct {
	Kind   TokenKind
	Field  string
	Reason string
}

func (e *TokenError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("token: %s %s: %s", e.Kind, e.Field, e.Reason)
	}
	return fmt.Sprintf("token: %s: %s", e.Kind, e.Reason)
}

func (e *TokenError) ToServiceError() *goerrors.Error {
	category := goerrors.CategoryAuth
	code := http.StatusUnauthorized
	if e.Field != "" {
		category = goerrors.CategoryBadInput
		code = http.StatusBadRequest
	}
	return goerrors.Wrap(e, category, e.Error()).
		WithCode(code).
		WithTextCode(ErrorToken).
		WithMetadata(map[string]any{
			"kind":  string(e.Kind),
			"field": e.Field,
		})
}

// ConfigurationError reports a misconfigured credential source.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s %s", e.Field, e.Reason)
}

func (e *ConfigurationError) ToServiceError() *goerrors.Error {
	return goerrors.Wrap(e, goerrors.CategoryInternal, e.Error()).
		WithCode(http.StatusInternalServerError).
		WithTextCode(ErrorConfiguration).
		WithMetadata(map[string]any{"field": e.Field})
}

func NewNetworkError(method string, url string, phase string, timeout bool, source error) error {
	return &NetworkError{Method: method, URL: url, Phase: phase, Timeout: timeout, Err: source}
}

func NewAPIError(statusCode int, code int, message string) error {
	return &APIError{StatusCode: statusCode, Code: code, Message: message}
}

func NewTokenError(kind TokenKind, field string, reason string) error {
	return &TokenError{Kind: kind, Field: field, Reason: reason}
}

func NewConfigurationError(field string, reason string) error {
	return &ConfigurationError{Field: field, Reason: reason}
}

// IsRetryable reports whether err is a network failure or an API failure
// carrying one of the retryable HTTP statuses.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		switch rich.TextCode {
		case ErrorNetwork:
			return true
		case ErrorAPI:
			return IsRetryableStatus(rich.Code)
		}
	}
	return false
}

func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr) || hasTextCode(err, ErrorNetwork)
}

func IsTokenError(err error) bool {
	var tokenErr *TokenError
	return errors.As(err, &tokenErr) || hasTextCode(err, ErrorToken)
}

func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr) || hasTextCode(err, ErrorConfiguration)
}

func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

func IsAPIError(err error) bool {
	_, ok := AsAPIError(err)
	return ok || hasTextCode(err, ErrorAPI)
}

// APIErrorCode returns the vendor code of an APIError, or 0.
func APIErrorCode(err error) int {
	if apiErr, ok := AsAPIError(err); ok {
		return apiErr.Code
	}
	return 0
}

func hasTextCode(err error, textCode string) bool {
	if err == nil {
		return false
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.TextCode == textCode
	}
	return false
}

// MapError lifts any error into a go-errors envelope with a text code and an
// HTTP status.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return ensureErrorEnvelope(rich)
	}
	var typed serviceError
	if errors.As(err, &typed) {
		return typed.ToServiceError()
	}
	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = errorHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryAuth:
		return ErrorToken
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryExternal, goerrors.CategoryRateLimit, goerrors.CategoryAuthz, goerrors.CategoryNotFound:
		return ErrorAPI
	default:
		return ErrorInternal
	}
}

func errorHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
