// Package logger 提供统一的日志接口
//
// 支持通过环境变量配置日志级别：
//   - DEP2P_LOG_LEVEL: 设置日志级别，支持按子系统配置
//     格式: 子系统=级别,子系统=级别,默认级别
//     示例: yamux.session=debug,yamux.frame=warn,info
//   - DEP2P_LOG_FORMAT: 日志格式 (text 或 json)
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config 日志配置
type Config struct {
	// DefaultLevel 默认日志级别
	DefaultLevel slog.Level

	// SubsystemLevels 各子系统的日志级别
	SubsystemLevels map[string]slog.Level

	// JSON 是否使用 JSON 输出格式
	JSON bool
}

// LevelForSubsystem 获取指定子系统的日志级别
func (c *Config) LevelForSubsystem(subsystem string) slog.Level {
	if level, ok := c.SubsystemLevels[subsystem]; ok {
		return level
	}
	return c.DefaultLevel
}

var (
	configCache *Config
	configOnce  sync.Once

	loggers  sync.Map // subsystem → *slog.Logger
	handlers sync.Map // subsystem → *subsystemHandler
)

// ConfigFromEnv 从环境变量解析配置
func ConfigFromEnv() *Config {
	configOnce.Do(func() {
		cfg := &Config{
			DefaultLevel:    slog.LevelInfo,
			SubsystemLevels: make(map[string]slog.Level),
			JSON:            os.Getenv("DEP2P_LOG_FORMAT") == "json",
		}
		for _, part := range strings.Split(os.Getenv("DEP2P_LOG_LEVEL"), ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if name, level, ok := strings.Cut(part, "="); ok {
				cfg.SubsystemLevels[name] = parseLevel(level)
			} else {
				cfg.DefaultLevel = parseLevel(part)
			}
		}
		configCache = cfg
	})
	return configCache
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger 返回指定子系统的 Logger
//
// 同一子系统共享一个实例，日志自动携带 subsystem 属性。
func Logger(subsystem string) *slog.Logger {
	if l, ok := loggers.Load(subsystem); ok {
		return l.(*slog.Logger)
	}

	cfg := ConfigFromEnv()
	level := cfg.LevelForSubsystem(subsystem)

	h := newSubsystemHandler(subsystem, level, cfg.JSON)
	l := slog.New(h)

	actual, loaded := loggers.LoadOrStore(subsystem, l)
	if !loaded {
		handlers.Store(subsystem, h)
	}
	return actual.(*slog.Logger)
}

// SetLevel 动态设置子系统的日志级别
func SetLevel(subsystem string, level slog.Level) {
	if h, ok := handlers.Load(subsystem); ok {
		h.(*subsystemHandler).SetLevel(level)
	}
}

// Discard 返回一个丢弃所有日志的 Logger
//
// 主要用于测试，避免日志输出干扰测试结果。
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

// ============================================================================
//                              subsystemHandler
// ============================================================================

// subsystemHandler 为子系统附加属性并支持动态调级
type subsystemHandler struct {
	inner slog.Handler
	level *slog.LevelVar
}

func newSubsystemHandler(subsystem string, level slog.Level, json bool) *subsystemHandler {
	lv := new(slog.LevelVar)
	lv.Set(level)

	opts := &slog.HandlerOptions{Level: lv}
	var inner slog.Handler
	if json {
		inner = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		inner = slog.NewTextHandler(os.Stderr, opts)
	}
	inner = inner.WithAttrs([]slog.Attr{slog.String("subsystem", subsystem)})

	return &subsystemHandler{inner: inner, level: lv}
}

// SetLevel 调整级别
func (h *subsystemHandler) SetLevel(level slog.Level) {
	h.level.Set(level)
}

func (h *subsystemHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *subsystemHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.inner.Handle(ctx, r)
}

func (h *subsystemHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &subsystemHandler{inner: h.inner.WithAttrs(attrs), level: h.level}
}

func (h *subsystemHandler) WithGroup(name string) slog.Handler {
	return &subsystemHandler{inner: h.inner.WithGroup(name), level: h.level}
}

// discardHandler 丢弃一切
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (discardHandler) WithAttrs([]slog.Attr) slog.Handler        { return discardHandler{} }
func (discardHandler) WithGroup(string) slog.Handler             { return discardHandler{} }
