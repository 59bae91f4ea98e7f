package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultBaseURL                = "https://open.feishu.cn"
	DefaultCacheMaxSize           = 1000
	DefaultCacheTTL               = 3600 * time.Second
	DefaultCacheCleanupInterval   = 300 * time.Second
	DefaultPoolMaxIdlePerHost     = 100
	DefaultPoolIdleTimeout        = 75 * time.Second
	DefaultPoolConnectTimeout     = 8 * time.Second
	DefaultPoolReadTimeout        = 30 * time.Second
	DefaultSlowRequestThreshold   = 5 * time.Second
	DefaultResponseHeaderTimeout  = 30 * time.Second
	DefaultMaxResponseBodyBytes   = 10 << 20
	DefaultMaxConcurrentRequests  = 10
	DefaultValidatorMinLength     = 8
	DefaultValidatorMaxLength     = 4096
	DefaultValidatorRefreshMargin = 5 * time.Minute
)

type CacheConfig struct {
	MaxSize         int           `koanf:"max_size" mapstructure:"max_size"`
	TTL             time.Duration `koanf:"ttl" mapstructure:"ttl"`
	CleanupInterval time.Duration `koanf:"cleanup_interval" mapstructure:"cleanup_interval"`
}

type PoolConfig struct {
	MaxIdlePerHost int           `koanf:"max_idle_per_host" mapstructure:"max_idle_per_host"`
	IdleTimeout    time.Duration `koanf:"idle_timeout" mapstructure:"idle_timeout"`
	ConnectTimeout time.Duration `koanf:"connect_timeout" mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `koanf:"read_timeout" mapstructure:"read_timeout"`
}

type TransportConfig struct {
	SlowRequestThreshold  time.Duration `koanf:"slow_request_threshold" mapstructure:"slow_request_threshold"`
	ResponseHeaderTimeout time.Duration `koanf:"response_header_timeout" mapstructure:"response_header_timeout"`
	MaxResponseBodyBytes  int64         `koanf:"max_response_body_bytes" mapstructure:"max_response_body_bytes"`
	MaxConcurrent         int           `koanf:"max_concurrent" mapstructure:"max_concurrent"`
	RateLimitPerSecond    float64       `koanf:"rate_limit_per_second" mapstructure:"rate_limit_per_second"`
	RateLimitBurst        int           `koanf:"rate_limit_burst" mapstructure:"rate_limit_burst"`
}

type ValidatorConfig struct {
	MinLength     int           `koanf:"min_length" mapstructure:"min_length"`
	MaxLength     int           `koanf:"max_length" mapstructure:"max_length"`
	RefreshMargin time.Duration `koanf:"refresh_margin" mapstructure:"refresh_margin"`
	InspectJWT    bool          `koanf:"inspect_jwt" mapstructure:"inspect_jwt"`
}

type Config struct {
	AppID     string          `koanf:"app_id" mapstructure:"app_id"`
	AppSecret string          `koanf:"app_secret" mapstructure:"app_secret"`
	AppType   AppType         `koanf:"app_type" mapstructure:"app_type"`
	BaseURL   string          `koanf:"base_url" mapstructure:"base_url"`
	Cache     CacheConfig     `koanf:"cache" mapstructure:"cache"`
	Retry     RetryPolicy     `koanf:"retry" mapstructure:"retry"`
	Pool      PoolConfig      `koanf:"pool" mapstructure:"pool"`
	Transport TransportConfig `koanf:"transport" mapstructure:"transport"`
	Validator ValidatorConfig `koanf:"validator" mapstructure:"validator"`
}

func DefaultConfig() Config {
	return Config{
		AppType: AppTypeSelfBuild,
		BaseURL: DefaultBaseURL,
		Cache: CacheConfig{
			MaxSize:         DefaultCacheMaxSize,
			TTL:             DefaultCacheTTL,
			CleanupInterval: DefaultCacheCleanupInterval,
		},
		Retry: DefaultRetryPolicy(),
		Pool: PoolConfig{
			MaxIdlePerHost: DefaultPoolMaxIdlePerHost,
			IdleTimeout:    DefaultPoolIdleTimeout,
			ConnectTimeout: DefaultPoolConnectTimeout,
			ReadTimeout:    DefaultPoolReadTimeout,
		},
		Transport: TransportConfig{
			SlowRequestThreshold:  DefaultSlowRequestThreshold,
			ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
			MaxResponseBodyBytes:  DefaultMaxResponseBodyBytes,
			MaxConcurrent:         DefaultMaxConcurrentRequests,
		},
		Validator: DefaultValidatorConfig(),
	}
}

func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MinLength:     DefaultValidatorMinLength,
		MaxLength:     DefaultValidatorMaxLength,
		RefreshMargin: DefaultValidatorRefreshMargin,
		InspectJWT:    true,
	}
}

// Validate checks structural settings. Credentials are checked separately by
// ValidateCredentials so a config can be resolved before secrets are known.
func (c Config) Validate() error {
	switch c.AppType {
	case AppTypeSelfBuild, AppTypeMarketplace:
	default:
		return NewConfigurationError("app_type", fmt.Sprintf("unsupported value %q", c.AppType))
	}
	baseURL := strings.TrimSpace(c.BaseURL)
	if baseURL == "" {
		return NewConfigurationError("base_url", "is required")
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return NewConfigurationError("base_url", "must be an http(s) url")
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	if err := c.Pool.Validate(); err != nil {
		return err
	}
	if err := c.Transport.Validate(); err != nil {
		return err
	}
	return c.Validator.Validate()
}

func (c Config) ValidateCredentials() error {
	if strings.TrimSpace(c.AppID) == "" {
		return NewConfigurationError("app_id", "is required")
	}
	if strings.TrimSpace(c.AppSecret) == "" {
		return NewConfigurationError("app_secret", "is required")
	}
	return nil
}

func (c CacheConfig) Validate() error {
	if c.MaxSize < 1 {
		return NewConfigurationError("cache.max_size", "must be at least 1")
	}
	if c.TTL <= 0 {
		return NewConfigurationError("cache.ttl", "must be positive")
	}
	if c.CleanupInterval <= 0 {
		return NewConfigurationError("cache.cleanup_interval", "must be positive")
	}
	return nil
}

func (c PoolConfig) Validate() error {
	if c.MaxIdlePerHost < 1 {
		return NewConfigurationError("pool.max_idle_per_host", "must be at least 1")
	}
	if c.IdleTimeout < 0 || c.ConnectTimeout < 0 || c.ReadTimeout < 0 {
		return NewConfigurationError("pool", "timeouts must not be negative")
	}
	return nil
}

func (c TransportConfig) Validate() error {
	if c.SlowRequestThreshold < 0 {
		return NewConfigurationError("transport.slow_request_threshold", "must not be negative")
	}
	if c.MaxResponseBodyBytes < 0 {
		return NewConfigurationError("transport.max_response_body_bytes", "must not be negative")
	}
	if c.MaxConcurrent < 0 {
		return NewConfigurationError("transport.max_concurrent", "must not be negative")
	}
	if c.RateLimitPerSecond < 0 || c.RateLimitBurst < 0 {
		return NewConfigurationError("transport.rate_limit", "must not be negative")
	}
	return nil
}

func (c ValidatorConfig) Validate() error {
	if c.MinLength < 1 {
		return NewConfigurationError("validator.min_length", "must be at least 1")
	}
	if c.MaxLength < c.MinLength {
		return NewConfigurationError("validator.max_length", "must not be lower than min_length")
	}
	if c.RefreshMargin < 0 {
		return NewConfigurationError("validator.refresh_margin", "must not be negative")
	}
	return nil
}

// EffectiveRefreshMargin clamps the margin to half the cache TTL so a fresh
// token is never considered due for refresh.
func (c Config) EffectiveRefreshMargin() time.Duration {
	margin := c.Validator.RefreshMargin
	if limit := c.Cache.TTL / 2; c.Cache.TTL > 0 && margin > limit {
		return limit
	}
	return margin
}

func (c Config) Endpoint(path string) string {
	return strings.TrimRight(strings.TrimSpace(c.BaseURL), "/") + "/" + strings.TrimLeft(path, "/")
}
