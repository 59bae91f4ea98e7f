package viperconfig

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goliatone/go-larkauth/core"
	"github.com/spf13/viper"
)

const DefaultEnvPrefix = "LARKAUTH"

// Keys lists the settings bound to environment variables, e.g. cache.ttl is
// read from LARKAUTH_CACHE_TTL.
var Keys = []string{
	"app_id",
	"app_secret",
	"app_type",
	"base_url",
	"cache.max_size",
	"cache.ttl",
	"cache.cleanup_interval",
	"retry.max_attempts",
	"retry.base_delay",
	"retry.max_delay",
	"retry.backoff_multiplier",
	"retry.jitter_factor",
	"pool.max_idle_per_host",
	"pool.idle_timeout",
	"pool.connect_timeout",
	"pool.read_timeout",
	"transport.slow_request_threshold",
	"transport.response_header_timeout",
	"transport.max_response_body_bytes",
	"transport.max_concurrent",
	"transport.rate_limit_per_second",
	"transport.rate_limit_burst",
	"validator.min_length",
	"validator.max_length",
	"validator.refresh_margin",
	"validator.inspect_jwt",
}

type Option func(*Loader)

// WithConfigFile reads settings from an explicit file. A missing explicit
// file is an error.
func WithConfigFile(path string) Option {
	return func(l *Loader) {
		l.file = strings.TrimSpace(path)
	}
}

// WithConfigName searches paths for name.{yaml,json,toml}. Not finding one
// is not an error.
func WithConfigName(name string, paths ...string) Option {
	return func(l *Loader) {
		l.name = strings.TrimSpace(name)
		l.paths = append([]string(nil), paths...)
	}
}

func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) {
		l.envPrefix = strings.TrimSpace(prefix)
	}
}

// WithViper uses a preconfigured instance.
func WithViper(v *viper.Viper) Option {
	return func(l *Loader) {
		if v != nil {
			l.v = v
		}
	}
}

// Loader is a core.RawConfigLoader backed by viper: file settings first,
// environment variables on top.
type Loader struct {
	v         *viper.Viper
	file      string
	name      string
	paths     []string
	envPrefix string
}

func New(opts ...Option) *Loader {
	loader := &Loader{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(loader)
		}
	}
	if loader.v == nil {
		loader.v = viper.New()
	}
	return loader
}

func (l *Loader) LoadRaw(context.Context) (map[string]any, error) {
	v := l.v
	switch {
	case l.file != "":
		v.SetConfigFile(l.file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("viperconfig: read %s: %w", l.file, err)
		}
	case l.name != "":
		v.SetConfigName(l.name)
		for _, path := range l.paths {
			v.AddConfigPath(path)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("viperconfig: read %s: %w", l.name, err)
			}
		}
	}

	if l.envPrefix != "" {
		v.SetEnvPrefix(l.envPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
		v.AutomaticEnv()
		for _, key := range Keys {
			if err := v.BindEnv(key); err != nil {
				return nil, fmt.Errorf("viperconfig: bind %s: %w", key, err)
			}
		}
	}
	return v.AllSettings(), nil
}

// Provider returns a core.ConfigProvider that builds Config through cfgx
// from this loader.
func (l *Loader) Provider() core.ConfigProvider {
	return core.NewCfgxConfigProvider(l)
}

var _ core.RawConfigLoader = (*Loader)(nil)
