// Package logging provides config-driven categorized file-based logging
// for AskDB. Logs are written to <data_dir>/logs/ with one file per
// category per day. When debug mode is off, every call is a silent no-op.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot      Category = "boot"      // startup and shutdown
	CategoryPool      Category = "pool"      // connection pool lifecycle
	CategoryChat      Category = "chat"      // turn dispatch decisions
	CategoryReasoning Category = "reasoning" // reasoning service calls
	CategoryPrompt    Category = "prompt"    // prompt assembly
	CategoryHistory   Category = "history"   // history store and extraction
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Logger wraps a standard logger with category and file output.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string

	configMu  sync.RWMutex
	debugMode bool
	logLevel  = LevelInfo
)

// Initialize sets up the logging directory. When debug is false the
// package stays a no-op and no directory is created.
func Initialize(dataDir string, debug bool, level string) error {
	configMu.Lock()
	debugMode = debug
	switch level {
	case "debug":
		logLevel = LevelDebug
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	configMu.Unlock()

	if !debug {
		return nil
	}
	if dataDir == "" {
		return fmt.Errorf("data directory required")
	}
	logsDir = filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}
	Boot("=== AskDB logging initialized (dir=%s level=%s) ===", logsDir, level)
	return nil
}

// IsDebugMode reports whether debug logging is enabled.
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return debugMode
}

// Get returns (or creates) a logger for the given category. Returns a
// no-op logger when debug mode is disabled.
func Get(category Category) *Logger {
	if !IsDebugMode() || logsDir == "" {
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

	// Date prefix keeps rotation trivial.
	filename := fmt.Sprintf("%s_%s.log", time.Now().Format("2006-01-02"), category)
	file, err := os.OpenFile(filepath.Join(logsDir, filename), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] could not open log file: %v\n", err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message (only if level <= debug).
func (l *Logger) Debug(format string, args ...any) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	l.logger.Printf("[DEBUG] %s", fmt.Sprintf(format, args...))
}

// Info logs an informational message (only if level <= info).
func (l *Logger) Info(format string, args ...any) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	l.logger.Printf("[INFO] %s", fmt.Sprintf(format, args...))
}

// Warn logs a warning message (only if level <= warn).
func (l *Logger) Warn(format string, args ...any) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	l.logger.Printf("[WARN] %s", fmt.Sprintf(format, args...))
}

// Error logs an error message (always logged if the logger exists).
func (l *Logger) Error(format string, args ...any) {
	if l.logger == nil {
		return
	}
	l.logger.Printf("[ERROR] %s", fmt.Sprintf(format, args...))
}

// CloseAll closes all open log files (call at shutdown).
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// Convenience functions: quick logging without getting a logger first.
// These are no-ops when debug mode is disabled.

func Boot(format string, args ...any)      { Get(CategoryBoot).Info(format, args...) }
func BootError(format string, args ...any) { Get(CategoryBoot).Error(format, args...) }

func Pool(format string, args ...any)      { Get(CategoryPool).Info(format, args...) }
func PoolDebug(format string, args ...any) { Get(CategoryPool).Debug(format, args...) }
func PoolWarn(format string, args ...any)  { Get(CategoryPool).Warn(format, args...) }
func PoolError(format string, args ...any) { Get(CategoryPool).Error(format, args...) }

func Chat(format string, args ...any)      { Get(CategoryChat).Info(format, args...) }
func ChatDebug(format string, args ...any) { Get(CategoryChat).Debug(format, args...) }
func ChatWarn(format string, args ...any)  { Get(CategoryChat).Warn(format, args...) }
func ChatError(format string, args ...any) { Get(CategoryChat).Error(format, args...) }

func Reasoning(format string, args ...any)      { Get(CategoryReasoning).Info(format, args...) }
func ReasoningDebug(format string, args ...any) { Get(CategoryReasoning).Debug(format, args...) }
func ReasoningError(format string, args ...any) { Get(CategoryReasoning).Error(format, args...) }

func Prompt(format string, args ...any)      { Get(CategoryPrompt).Info(format, args...) }
func PromptDebug(format string, args ...any) { Get(CategoryPrompt).Debug(format, args...) }

func History(format string, args ...any)      { Get(CategoryHistory).Info(format, args...) }
func HistoryDebug(format string, args ...any) { Get(CategoryHistory).Debug(format, args...) }

// Timer helps measure operation duration.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}
