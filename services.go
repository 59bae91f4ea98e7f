package larkauth

import (
	"context"

	"github.com/goliatone/go-larkauth/core"
)

type Config = core.Config
type CacheConfig = core.CacheConfig
type PoolConfig = core.PoolConfig
type TransportConfig = core.TransportConfig
type ValidatorConfig = core.ValidatorConfig
type RetryPolicy = core.RetryPolicy
type AppType = core.AppType

type TokenKind = core.TokenKind
type TokenRequest = core.TokenRequest
type TokenInfo = core.TokenInfo
type TokenResult = core.TokenResult
type TokenRecord = core.TokenRecord
type ValidationResult = core.ValidationResult
type WarmupReport = core.WarmupReport
type CacheStats = core.CacheStats

type Request = core.Request
type Response = core.Response
type Result = core.Result

type Logger = core.Logger
type LoggerProvider = core.LoggerProvider
type MetricsRecorder = core.MetricsRecorder
type TokenStorage = core.TokenStorage
type HTTPDoer = core.HTTPDoer
type ConfigProvider = core.ConfigProvider
type RawConfigLoader = core.RawConfigLoader

const (
	TokenKindApp    = core.TokenKindApp
	TokenKindTenant = core.TokenKindTenant
	TokenKindUser   = core.TokenKindUser
	TokenKindNone   = core.TokenKindNone

	AppTypeSelfBuild   = core.AppTypeSelfBuild
	AppTypeMarketplace = core.AppTypeMarketplace
)

var (
	IsRetryable          = core.IsRetryable
	IsNetworkError       = core.IsNetworkError
	IsAPIError           = core.IsAPIError
	IsTokenError         = core.IsTokenError
	IsConfigurationError = core.IsConfigurationError
	APIErrorCode         = core.APIErrorCode
	MapError             = core.MapError
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// LoadConfig layers defaults, provider output and runtime overrides. A nil
// provider only applies defaults and runtime.
func LoadConfig(ctx context.Context, provider ConfigProvider, runtime Config) (Config, error) {
	return core.ResolveConfig(ctx, provider, nil, runtime)
}

// AppTokenRequest, TenantTokenRequest and UserTokenRequest build the
// request for each token kind.
func AppTokenRequest() TokenRequest {
	return TokenRequest{Kind: TokenKindApp}
}

func TenantTokenRequest(tenantKey string) TokenRequest {
	return TokenRequest{Kind: TokenKindTenant, TenantKey: tenantKey}
}

func UserTokenRequest(refreshToken string) TokenRequest {
	return TokenRequest{Kind: TokenKindUser, RefreshToken: refreshToken}
}
