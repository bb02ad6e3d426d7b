// Package logging provides config-driven categorized file-based logging
// for Winterfox. Logs are written to .winterfox/logs/ with separate files
// per category, one zap core each. Logging is controlled by debug_mode in
// .winterfox/config.toml - when false, no logs are written.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system.
type Category string

const (
	// Core system categories
	CategoryBoot   Category = "boot"   // Startup/initialization
	CategoryConfig Category = "config" // Config loading, env overrides
	CategoryStore  Category = "store"  // SQLite store operations
	CategoryAPI    Category = "api"    // LLM API calls

	// Graph categories
	CategoryGraph Category = "graph" // Similarity, propagation, views
	CategoryMerge Category = "merge" // Direction merge and dedup

	// Cycle categories
	CategoryCycle   Category = "cycle"   // Cycle executor and orchestrator
	CategoryLead    Category = "lead"    // Lead select/synthesize/reassess
	CategoryWorker  Category = "worker"  // Research worker tool loops
	CategoryTools   Category = "tools"   // Tool execution (search, fetch, graph)
	CategoryContext Category = "context" // Research context builder
	CategoryReport  Category = "report"  // Report synthesizer
	CategoryEvents  Category = "events"  // Event bus
)

// loggingConfig mirrors the [logging] section of config.Config to avoid a
// circular import with internal/config.
type loggingConfig struct {
	DebugMode  bool            `toml:"debug_mode"`
	Categories map[string]bool `toml:"categories"`
	Level      string          `toml:"level"`
}

type configFile struct {
	Logging loggingConfig `toml:"logging"`
}

// Logger wraps a per-category zap sugared logger. A Logger with a nil
// backing sugar is a no-op; callers never need to nil-check.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	workspace string
	config    loggingConfig
	configMu  sync.RWMutex
	logLevel  zapcore.Level = zapcore.InfoLevel
)

// Initialize sets up the logging directory and loads config.
// Should be called once at startup with the workspace path.
func Initialize(ws string) error {
	if ws == "" {
		return fmt.Errorf("workspace path required")
	}

	workspace = ws
	logsDir = filepath.Join(workspace, ".winterfox", "logs")

	if err := loadConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not load config: %v\n", err)
		config.DebugMode = false
	}

	// Silent no-op in production mode.
	if !config.DebugMode {
		return nil
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== Winterfox logging initialized ===")
	boot.Info("Workspace: %s", workspace)
	boot.Info("Logs directory: %s", logsDir)
	boot.Info("Log level: %s", config.Level)
	return nil
}

// loadConfig reads the [logging] section from .winterfox/config.toml.
func loadConfig() error {
	configMu.Lock()
	defer configMu.Unlock()

	configPath := filepath.Join(workspace, ".winterfox", "config.toml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// No config = production mode (no logging).
			config.DebugMode = false
			return nil
		}
		return err
	}

	var cf configFile
	if err := toml.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	config = cf.Logging

	switch config.Level {
	case "debug":
		logLevel = zapcore.DebugLevel
	case "warn", "warning":
		logLevel = zapcore.WarnLevel
	case "error":
		logLevel = zapcore.ErrorLevel
	default:
		logLevel = zapcore.InfoLevel
	}
	return nil
}

// SetDebugMode forces debug logging on or off. Used by tests and by the
// CLI --verbose flag to bypass the config file.
func SetDebugMode(on bool) {
	configMu.Lock()
	defer configMu.Unlock()
	config.DebugMode = on
	if on {
		logLevel = zapcore.DebugLevel
	}
}

// IsDebugMode returns whether debug logging is enabled.
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return config.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled.
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()

	if !config.DebugMode {
		return false
	}
	if config.Categories == nil {
		return true // all enabled by default in debug mode
	}
	enabled, exists := config.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode or the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) || logsDir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	if l, ok := loggers[category]; ok {
		return l
	}

	// One log file per category, date-prefixed for easy rotation.
	date := time.Now().Format("2006-01-02")
	filename := fmt.Sprintf("%s_%s.log", date, category)
	logPath := filepath.Join(logsDir, filename)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(file),
		logLevel,
	)
	l := &Logger{
		category: category,
		sugar:    zap.New(core).Sugar().Named(string(category)),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Warnf(format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Errorf(format, args...)
}

// With returns a logger with structured key-value context attached.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	if l.sugar == nil {
		return l
	}
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// CloseAll flushes and closes all open log files (call at shutdown).
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		if l.sugar != nil {
			_ = l.sugar.Sync()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS - quick logging without getting a logger first.
// These are no-ops if the category is disabled.
// =============================================================================

// Boot logs to the boot category.
func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }

// Store logs to the store category.
func Store(format string, args ...interface{}) { Get(CategoryStore).Info(format, args...) }

// StoreDebug logs debug to the store category.
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }

// Graph logs to the graph category.
func Graph(format string, args ...interface{}) { Get(CategoryGraph).Info(format, args...) }

// GraphDebug logs debug to the graph category.
func GraphDebug(format string, args ...interface{}) { Get(CategoryGraph).Debug(format, args...) }

// Merge logs to the merge category.
func Merge(format string, args ...interface{}) { Get(CategoryMerge).Info(format, args...) }

// MergeDebug logs debug to the merge category.
func MergeDebug(format string, args ...interface{}) { Get(CategoryMerge).Debug(format, args...) }

// Cycle logs to the cycle category.
func Cycle(format string, args ...interface{}) { Get(CategoryCycle).Info(format, args...) }

// CycleDebug logs debug to the cycle category.
func CycleDebug(format string, args ...interface{}) { Get(CategoryCycle).Debug(format, args...) }

// Lead logs to the lead category.
func Lead(format string, args ...interface{}) { Get(CategoryLead).Info(format, args...) }

// LeadDebug logs debug to the lead category.
func LeadDebug(format string, args ...interface{}) { Get(CategoryLead).Debug(format, args...) }

// Worker logs to the worker category.
func Worker(format string, args ...interface{}) { Get(CategoryWorker).Info(format, args...) }

// WorkerDebug logs debug to the worker category.
func WorkerDebug(format string, args ...interface{}) { Get(CategoryWorker).Debug(format, args...) }

// Tools logs to the tools category.
func Tools(format string, args ...interface{}) { Get(CategoryTools).Info(format, args...) }

// ToolsDebug logs debug to the tools category.
func ToolsDebug(format string, args ...interface{}) { Get(CategoryTools).Debug(format, args...) }

// Context logs to the context category.
func Context(format string, args ...interface{}) { Get(CategoryContext).Info(format, args...) }

// ContextDebug logs debug to the context category.
func ContextDebug(format string, args ...interface{}) { Get(CategoryContext).Debug(format, args...) }

// Report logs to the report category.
func Report(format string, args ...interface{}) { Get(CategoryReport).Info(format, args...) }

// ReportDebug logs debug to the report category.
func ReportDebug(format string, args ...interface{}) { Get(CategoryReport).Debug(format, args...) }

// Events logs to the events category.
func Events(format string, args ...interface{}) { Get(CategoryEvents).Info(format, args...) }

// API logs to the api category.
func API(format string, args ...interface{}) { Get(CategoryAPI).Info(format, args...) }

// APIDebug logs debug to the api category.
func APIDebug(format string, args ...interface{}) { Get(CategoryAPI).Debug(format, args...) }
