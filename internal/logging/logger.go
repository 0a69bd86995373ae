// Package logging provides categorized logging for pluginhost on top of zap.
// Every subsystem logs through its own category so noisy areas (the loader,
// the directory watcher) can be switched off independently.
// Until Initialize or Replace is called every logger is a no-op.
package logging

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot     Category = "boot"     // Startup and configuration
	CategoryLoader   Category = "loader"   // Resolution contexts, dependency probing
	CategoryRegistry Category = "registry" // Record bookkeeping
	CategoryManager  Category = "manager"  // Load/unload lifecycle
	CategoryWatch    Category = "watch"    // Directory watcher
	CategoryCLI      Category = "cli"      // Command line front end
	CategoryAudit    Category = "audit"    // Plugin lifecycle audit trail
)

// Options configures the root logger. It mirrors config.LoggingConfig so
// this package does not depend on the config package.
type Options struct {
	// DebugMode is the master switch; false disables every category.
	DebugMode bool
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// Format is "json" or "console". Empty means json.
	Format string
	// Categories toggles individual categories. Missing entries are enabled.
	Categories map[string]bool
	// OutputPaths defaults to stderr.
	OutputPaths []string
}

// Logger is a category-scoped logger with printf-style helpers.
type Logger struct {
	category Category
	zl       *zap.Logger
	sugar    *zap.SugaredLogger
}

var (
	mu         sync.RWMutex
	root       = zap.NewNop()
	options    Options
	loggers    = make(map[Category]*Logger)
	nopLoggers = make(map[Category]*Logger)
)

// Initialize builds the root zap logger from opts and resets every cached
// category logger.
func Initialize(opts Options) error {
	if !opts.DebugMode {
		install(zap.NewNop(), opts)
		return nil
	}

	level, err := zap.ParseAtomicLevel(defaultString(opts.Level, "info"))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", opts.Level, err)
	}

	var cfg zap.Config
	switch strings.ToLower(defaultString(opts.Format, "json")) {
	case "json":
		cfg = zap.NewProductionConfig()
	case "console", "text":
		cfg = zap.NewDevelopmentConfig()
	default:
		return fmt.Errorf("invalid log format %q", opts.Format)
	}
	cfg.Level = level
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if len(opts.OutputPaths) > 0 {
		cfg.OutputPaths = opts.OutputPaths
	} else {
		cfg.OutputPaths = []string{"stderr"}
	}

	zl, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	install(zl, opts)

	Get(CategoryBoot).Info("logging initialized (level=%s, format=%s)", level.String(), cfg.Encoding)
	return nil
}

// Replace installs base as the root logger with every category enabled.
// Tests use it with zaptest/observer.
func Replace(base *zap.Logger) {
	install(base, Options{DebugMode: true})
}

func install(base *zap.Logger, opts Options) {
	mu.Lock()
	defer mu.Unlock()
	_ = root.Sync()
	root = base
	options = opts
	loggers = make(map[Category]*Logger)
}

// IsDebugMode returns whether logging is enabled at all.
func IsDebugMode() bool {
	mu.RLock()
	defer mu.RUnlock()
	return options.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	return categoryEnabled(category)
}

func categoryEnabled(category Category) bool {
	if !options.DebugMode {
		return false
	}
	enabled, exists := options.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode or the category is disabled.
func Get(category Category) *Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	enabled := categoryEnabled(category)
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	if !enabled {
		if l, ok := nopLoggers[category]; ok {
			return l
		}
		l := newLogger(category, zap.NewNop())
		nopLoggers[category] = l
		return l
	}

	// Double-check after acquiring write lock
	if l, ok := loggers[category]; ok {
		return l
	}
	l := newLogger(category, root.Named(string(category)))
	loggers[category] = l
	return l
}

// FromZap wraps an existing zap logger as a category logger. It is not
// cached and ignores the category toggles.
func FromZap(category Category, zl *zap.Logger) *Logger {
	return newLogger(category, zl.Named(string(category)))
}

func newLogger(category Category, zl *zap.Logger) *Logger {
	return &Logger{category: category, zl: zl, sugar: zl.Sugar()}
}

// Zap exposes the underlying structured logger.
func (l *Logger) Zap() *zap.Logger { return l.zl }

// Category returns the category this logger writes to.
func (l *Logger) Category() Category { return l.category }

// With returns a logger that attaches fields to every entry.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return newLogger(l.category, l.zl.With(fields...))
}

func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// Sync flushes buffered entries (call at shutdown).
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

// RegistryDebug logs debug to the registry category
func RegistryDebug(format string, args ...interface{}) {
	Get(CategoryRegistry).Debug(format, args...)
}

// Watch logs to the watch category
func Watch(format string, args ...interface{}) {
	Get(CategoryWatch).Info(format, args...)
}

// WatchDebug logs debug to the watch category
func WatchDebug(format string, args ...interface{}) {
	Get(CategoryWatch).Debug(format, args...)
}

// WatchError logs an error to the watch category
func WatchError(format string, args ...interface{}) {
	Get(CategoryWatch).Error(format, args...)
}
