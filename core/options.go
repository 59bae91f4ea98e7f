package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	return cloneRaw(l.Values), nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	raw, err = NormalizeRawConfig(raw)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// ResolveConfig loads file/env settings through provider and layers runtime
// overrides on top. Nil provider or resolver fall back to the cfgx and
// go-options implementations.
func ResolveConfig(ctx context.Context, provider ConfigProvider, resolver OptionsResolver, runtime Config) (Config, error) {
	defaults := DefaultConfig()
	if provider == nil {
		provider = NewCfgxConfigProvider(nil)
	}
	if resolver == nil {
		resolver = GoOptionsResolver{}
	}
	loaded, err := provider.Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return resolver.Resolve(defaults, loaded, runtime)
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	putString := func(target map[string]any, key string, value string) {
		if includeZero || strings.TrimSpace(value) != "" {
			target[key] = strings.TrimSpace(value)
		}
	}
	putInt := func(target map[string]any, key string, value int64) {
		if includeZero || value != 0 {
			target[key] = value
		}
	}
	putFloat := func(target map[string]any, key string, value float64) {
		if includeZero || value != 0 {
			target[key] = value
		}
	}
	putDuration := func(target map[string]any, key string, value time.Duration) {
		if includeZero || value != 0 {
			target[key] = value
		}
	}
	putSection := func(key string, section map[string]any) {
		if len(section) > 0 {
			layer[key] = section
		}
	}

	putString(layer, "app_id", cfg.AppID)
	putString(layer, "app_secret", cfg.AppSecret)
	putString(layer, "app_type", string(cfg.AppType))
	putString(layer, "base_url", cfg.BaseURL)

	cache := map[string]any{}
	putInt(cache, "max_size", int64(cfg.Cache.MaxSize))
	putDuration(cache, "ttl", cfg.Cache.TTL)
	putDuration(cache, "cleanup_interval", cfg.Cache.CleanupInterval)
	putSection("cache", cache)

	retry := map[string]any{}
	putInt(retry, "max_attempts", int64(cfg.Retry.MaxAttempts))
	putDuration(retry, "base_delay", cfg.Retry.BaseDelay)
	putDuration(retry, "max_delay", cfg.Retry.MaxDelay)
	putFloat(retry, "backoff_multiplier", cfg.Retry.BackoffMultiplier)
	putFloat(retry, "jitter_factor", cfg.Retry.JitterFactor)
	putSection("retry", retry)

	pool := map[string]any{}
	putInt(pool, "max_idle_per_host", int64(cfg.Pool.MaxIdlePerHost))
	putDuration(pool, "idle_timeout", cfg.Pool.IdleTimeout)
	putDuration(pool, "connect_timeout", cfg.Pool.ConnectTimeout)
	putDuration(pool, "read_timeout", cfg.Pool.ReadTimeout)
	putSection("pool", pool)

	transport := map[string]any{}
	putDuration(transport, "slow_request_threshold", cfg.Transport.SlowRequestThreshold)
	putDuration(transport, "response_header_timeout", cfg.Transport.ResponseHeaderTimeout)
	putInt(transport, "max_response_body_bytes", cfg.Transport.MaxResponseBodyBytes)
	putInt(transport, "max_concurrent", int64(cfg.Transport.MaxConcurrent))
	putFloat(transport, "rate_limit_per_second", cfg.Transport.RateLimitPerSecond)
	putInt(transport, "rate_limit_burst", int64(cfg.Transport.RateLimitBurst))
	putSection("transport", transport)

	validator := map[string]any{}
	putInt(validator, "min_length", int64(cfg.Validator.MinLength))
	putInt(validator, "max_length", int64(cfg.Validator.MaxLength))
	putDuration(validator, "refresh_margin", cfg.Validator.RefreshMargin)
	if includeZero {
		validator["inspect_jwt"] = cfg.Validator.InspectJWT
	}
	putSection("validator", validator)
	return layer
}

var durationKeys = map[string]map[string]struct{}{
	"cache":     {"ttl": {}, "cleanup_interval": {}},
	"retry":     {"base_delay": {}, "max_delay": {}},
	"pool":      {"idle_timeout": {}, "connect_timeout": {}, "read_timeout": {}},
	"transport": {"slow_request_threshold": {}, "response_header_timeout": {}},
	"validator": {"refresh_margin": {}},
}

// NormalizeRawConfig converts duration strings such as "30s" found in loader
// output into time.Duration values. Bare integers are read as seconds.
func NormalizeRawConfig(raw map[string]any) (map[string]any, error) {
	out := cloneRaw(raw)
	for section, keys := range durationKeys {
		values, ok := out[section].(map[string]any)
		if !ok {
			continue
		}
		values = cloneRaw(values)
		for key := range keys {
			value, exists := values[key]
			if !exists {
				continue
			}
			duration, err := coerceDuration(value)
			if err != nil {
				return nil, NewConfigurationError(section+"."+key, err.Error())
			}
			values[key] = duration
		}
		out[section] = values
	}
	return out, nil
}

func coerceDuration(value any) (time.Duration, error) {
	switch typed := value.(type) {
	case time.Duration:
		return typed, nil
	case int:
		return time.Duration(typed) * time.Second, nil
	case int64:
		return time.Duration(typed) * time.Second, nil
	case float64:
		return time.Duration(typed * float64(time.Second)), nil
	case string:
		trimmed := strings.TrimSpace(typed)
		if trimmed == "" {
			return 0, nil
		}
		return time.ParseDuration(trimmed)
	default:
		return 0, fmt.Errorf("unsupported duration value %v", value)
	}
}

func cloneRaw(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for key, value := range values {
		if nested, ok := value.(map[string]any); ok {
			out[strings.ToLower(key)] = cloneRaw(nested)
			continue
		}
		out[strings.ToLower(key)] = value
	}
	return out
}
