// Package logging provides config-driven categorized file-based logging for
// the grading service. Logs are written to <data_dir>/logs/ with separate
// files per category. Logging is controlled by the logging section of the
// service config - when debug mode is off, no files are written.
package logging

import (
	"encoding/json"
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
	CategoryBoot        Category = "boot"        // Startup and shutdown
	CategoryAPI         Category = "api"         // HTTP adapter
	CategoryCoordinator Category = "coordinator" // Submission scheduling
	CategoryPipeline    Category = "pipeline"    // Step execution
	CategoryGrader      Category = "grader"      // Tree traversal and scoring
	CategoryTemplate    Category = "template"    // Test function execution
	CategorySandbox     Category = "sandbox"     // Pool and container operations
	CategoryStore       Category = "store"       // Repository operations
	CategoryFeedback    Category = "feedback"    // Feedback producers
	CategoryFocus       Category = "focus"       // Impact ranking
	CategoryExport      Category = "export"      // Result export sinks
)

// Settings controls the file logger. It mirrors config.LoggingConfig to avoid
// a circular import.
type Settings struct {
	DebugMode  bool            `json:"debug_mode"`
	Categories map[string]bool `json:"categories"`
	Level      string          `json:"level"`
	JSONFormat bool            `json:"json_format"`
}

// Entry is the structured JSON log line format.
type Entry struct {
	Timestamp int64          `json:"ts"` // Unix milliseconds
	Category  string         `json:"cat"`
	Level     string         `json:"lvl"`
	Message   string         `json:"msg"`
	Fields    map[string]any `json:"fields,omitempty"`
}

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
	settings  Settings
	setMu     sync.RWMutex
	logLevel  int
)

// Log levels
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Initialize sets up the logging directory. Call once at startup with the
// service data directory and the logging settings from config.
func Initialize(dataDir string, s Settings) error {
	if dataDir == "" {
		return fmt.Errorf("data directory required")
	}
	Configure(s)

	setMu.RLock()
	debug := settings.DebugMode
	setMu.RUnlock()
	if !debug {
		return nil // Silent no-op in production mode
	}

	logsDir = filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== autograder logging initialized ===")
	boot.Info("Logs directory: %s", logsDir)
	boot.Info("Log level: %s", s.Level)
	return nil
}

// Configure replaces the logging settings. Safe to call at runtime; the
// config watcher uses this for live reload.
func Configure(s Settings) {
	setMu.Lock()
	defer setMu.Unlock()
	settings = s
	switch s.Level {
	case "debug":
		logLevel = LevelDebug
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
}

// IsCategoryEnabled returns whether a specific category is enabled.
func IsCategoryEnabled(category Category) bool {
	setMu.RLock()
	defer setMu.RUnlock()
	if !settings.DebugMode {
		return false
	}
	if settings.Categories == nil {
		return true // All enabled by default in debug mode
	}
	enabled, exists := settings.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category. Returns a no-op
// logger if debug mode or the category is disabled.
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

	// Date prefix keeps rotation trivial.
	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, category))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
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

func (l *Logger) logJSON(level, msg string, fields map[string]any) {
	entry := Entry{
		Timestamp: time.Now().UnixMilli(),
		Category:  string(l.category),
		Level:     level,
		Message:   msg,
		Fields:    fields,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Printf("[%s] %s", level, msg)
		return
	}
	l.logger.Printf("%s", data)
}

func (l *Logger) emit(level int, tag, format string, args ...any) {
	if l.logger == nil {
		return
	}
	setMu.RLock()
	minLevel := logLevel
	jsonFmt := settings.JSONFormat
	setMu.RUnlock()
	if level < minLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if jsonFmt {
		l.logJSON(tag, msg, nil)
	} else {
		l.logger.Printf("[%s] %s", tag, msg)
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...any) { l.emit(LevelDebug, "DEBUG", format, args...) }

// Info logs an informational message.
func (l *Logger) Info(format string, args ...any) { l.emit(LevelInfo, "INFO", format, args...) }

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...any) { l.emit(LevelWarn, "WARN", format, args...) }

// Error logs an error message.
func (l *Logger) Error(format string, args ...any) { l.emit(LevelError, "ERROR", format, args...) }

// StructuredLog writes a fully structured entry with custom fields.
func (l *Logger) StructuredLog(level string, msg string, fields map[string]any) {
	if l.logger == nil {
		return
	}
	setMu.RLock()
	jsonFmt := settings.JSONFormat
	setMu.RUnlock()
	if jsonFmt {
		l.logJSON(level, msg, fields)
		return
	}
	l.logger.Printf("[%s] %s | fields=%v", level, msg, fields)
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

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// =============================================================================

// Boot logs to the boot category.
func Boot(format string, args ...any) { Get(CategoryBoot).Info(format, args...) }

// Pipeline logs to the pipeline category.
func Pipeline(format string, args ...any) { Get(CategoryPipeline).Info(format, args...) }

// PipelineDebug logs debug to the pipeline category.
func PipelineDebug(format string, args ...any) { Get(CategoryPipeline).Debug(format, args...) }

// Grader logs to the grader category.
func Grader(format string, args ...any) { Get(CategoryGrader).Info(format, args...) }

// GraderDebug logs debug to the grader category.
func GraderDebug(format string, args ...any) { Get(CategoryGrader).Debug(format, args...) }

// Sandbox logs to the sandbox category.
func Sandbox(format string, args ...any) { Get(CategorySandbox).Info(format, args...) }

// SandboxDebug logs debug to the sandbox category.
func SandboxDebug(format string, args ...any) { Get(CategorySandbox).Debug(format, args...) }

// SandboxWarn logs warning to the sandbox category.
func SandboxWarn(format string, args ...any) { Get(CategorySandbox).Warn(format, args...) }

// SandboxError logs error to the sandbox category.
func SandboxError(format string, args ...any) { Get(CategorySandbox).Error(format, args...) }

// Template logs to the template category.
func Template(format string, args ...any) { Get(CategoryTemplate).Info(format, args...) }

// TemplateDebug logs debug to the template category.
func TemplateDebug(format string, args ...any) { Get(CategoryTemplate).Debug(format, args...) }

// Store logs to the store category.
func Store(format string, args ...any) { Get(CategoryStore).Info(format, args...) }

// StoreDebug logs debug to the store category.
func StoreDebug(format string, args ...any) { Get(CategoryStore).Debug(format, args...) }

// Coordinator logs to the coordinator category.
func Coordinator(format string, args ...any) { Get(CategoryCoordinator).Info(format, args...) }

// CoordinatorDebug logs debug to the coordinator category.
func CoordinatorDebug(format string, args ...any) { Get(CategoryCoordinator).Debug(format, args...) }

// Error logs an error to the given category.
func Error(category Category, format string, args ...any) { Get(category).Error(format, args...) }

// Warn logs a warning to the given category.
func Warn(category Category, format string, args ...any) { Get(category).Warn(format, args...) }

// Feedback logs to the feedback category.
func Feedback(format string, args ...any) { Get(CategoryFeedback).Info(format, args...) }

// Focus logs an info message to the focus category.
func Focus(format string, args ...any) { Get(CategoryFocus).Info(format, args...) }

// Export logs to the export category.
func Export(format string, args ...any) { Get(CategoryExport).Info(format, args...) }

// =============================================================================
// TIMING HELPERS - For performance logging
// =============================================================================

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

// StopWithThreshold logs a warning if duration exceeds the threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
