package zaplogger

import (
	"context"
	"fmt"
	"sort"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger adapts a zap logger to the glog contract used across larkauth.
type Logger struct {
	logger *zap.Logger
}

// New wraps logger. A nil logger is replaced with zap.NewNop.
func New(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger}
}

// NewProduction builds a JSON logger at the given level ("debug", "info", ...).
// Unknown levels fall back to info.
func NewProduction(level string) (*Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		zapLevel = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("zaplogger: build logger: %w", err)
	}
	return New(logger), nil
}

func (l *Logger) Zap() *zap.Logger {
	return l.logger
}

func (l *Logger) Trace(msg string, args ...any) {
	l.log(zapcore.DebugLevel, msg, args)
}

func (l *Logger) Debug(msg string, args ...any) {
	l.log(zapcore.DebugLevel, msg, args)
}

func (l *Logger) Info(msg string, args ...any) {
	l.log(zapcore.InfoLevel, msg, args)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.log(zapcore.WarnLevel, msg, args)
}

func (l *Logger) Error(msg string, args ...any) {
	l.log(zapcore.ErrorLevel, msg, args)
}

func (l *Logger) Fatal(msg string, args ...any) {
	l.logger.Fatal(msg, toFields(args)...)
}

func (l *Logger) WithContext(context.Context) glog.Logger {
	return l
}

func (l *Logger) WithFields(fields map[string]any) glog.Logger {
	if len(fields) == 0 {
		return l
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	zapFields := make([]zap.Field, 0, len(keys))
	for _, key := range keys {
		zapFields = append(zapFields, zap.Any(key, fields[key]))
	}
	return &Logger{logger: l.logger.With(zapFields...)}
}

func (l *Logger) log(level zapcore.Level, msg string, args []any) {
	if entry := l.logger.Check(level, msg); entry != nil {
		entry.Write(toFields(args)...)
	}
}

// toFields converts key/value pairs. A non-string key or a trailing orphan is
// kept under a positional key.
func toFields(args []any) []zap.Field {
	fields := make([]zap.Field, 0, len(args)/2+1)
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			fields = append(fields, zap.Any(fmt.Sprintf("arg_%d", i), args[i]))
			break
		}
		key, ok := args[i].(string)
		if !ok || strings.TrimSpace(key) == "" {
			key = fmt.Sprintf("arg_%d", i)
		}
		fields = append(fields, zap.Any(key, args[i+1]))
	}
	return fields
}

// Provider hands out named child loggers.
type Provider struct {
	root *Logger
}

func NewProvider(logger *zap.Logger) *Provider {
	return &Provider{root: New(logger)}
}

func (p *Provider) GetLogger(name string) glog.Logger {
	if p == nil || p.root == nil {
		return New(nil)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return p.root
	}
	return &Logger{logger: p.root.logger.Named(name)}
}

var (
	_ glog.Logger         = (*Logger)(nil)
	_ glog.FieldsLogger   = (*Logger)(nil)
	_ glog.LoggerProvider = (*Provider)(nil)
)
