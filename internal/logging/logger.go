// Package logging provides categorized, config-driven logging for speriment.
// Each category writes to its own rotating JSON file under the configured
// directory. When debug mode is off, or the package was never initialized,
// every category logger is a no-op.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot       Category = "boot"       // Startup, config
	CategoryDefinition Category = "definition" // Definition loading and validation
	CategoryOrdering   Category = "ordering"   // Shuffles, latin square, pseudorandomization
	CategoryTraversal  Category = "traversal"  // Container run/reset, training loops
	CategoryRecord     Category = "record"     // Trial log, grades, submission
	CategoryStore      Category = "store"      // SQLite sink, assignments
	CategorySession    Category = "session"    // Participant session lifecycle
	CategoryTUI        Category = "tui"        // Terminal renderer
)

// Options mirrors config.LoggingConfig to avoid an import cycle.
type Options struct {
	Directory  string
	Level      string
	DebugMode  bool
	Categories map[string]bool
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// Logger is a printf-style logger bound to one category.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu       sync.RWMutex
	opts     Options
	level    = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	loggers  = make(map[Category]*Logger)
	attached zapcore.Core
	sinks    []*lumberjack.Logger
)

// Initialize configures file logging. Calling it again replaces the
// previous configuration and closes open files.
func Initialize(o Options) error {
	CloseAll()

	mu.Lock()
	defer mu.Unlock()

	opts = o
	if o.Level != "" {
		var l zapcore.Level
		if err := l.UnmarshalText([]byte(o.Level)); err != nil {
			return fmt.Errorf("invalid log level %q: %w", o.Level, err)
		}
		level.SetLevel(l)
	}
	if !o.DebugMode {
		return nil
	}
	if o.Directory == "" {
		return fmt.Errorf("log directory required in debug mode")
	}
	if err := os.MkdirAll(o.Directory, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

// Attach routes every category into core regardless of debug mode. Passing
// nil detaches it.
func Attach(core zapcore.Core) {
	mu.Lock()
	defer mu.Unlock()
	attached = core
	loggers = make(map[Category]*Logger)
}

// IsCategoryEnabled reports whether a category writes to its file.
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	return categoryEnabledLocked(category)
}

func categoryEnabledLocked(category Category) bool {
	if !opts.DebugMode {
		return false
	}
	if opts.Categories == nil {
		return true
	}
	enabled, ok := opts.Categories[string(category)]
	if !ok {
		return true
	}
	return enabled
}

// Get returns (or creates) the logger for the given category.
func Get(category Category) *Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	var cores []zapcore.Core
	if attached != nil {
		cores = append(cores, attached)
	}
	if categoryEnabledLocked(category) {
		cores = append(cores, fileCoreLocked(category))
	}

	l := &Logger{category: category}
	if len(cores) > 0 {
		l.sugar = zap.New(zapcore.NewTee(cores...)).
			With(zap.String("category", string(category))).
			Sugar()
	}
	loggers[category] = l
	return l
}

func fileCoreLocked(category Category) zapcore.Core {
	encoderConfig := zapcore.EncoderConfig{
		MessageKey:  "msg",
		LevelKey:    "lvl",
		TimeKey:     "ts",
		EncodeLevel: zapcore.LowercaseLevelEncoder,
		EncodeTime:  zapcore.ISO8601TimeEncoder,
	}
	date := time.Now().Format("2006-01-02")
	sink := &lumberjack.Logger{
		Filename:   filepath.Join(opts.Directory, fmt.Sprintf("%s_%s.log", date, category)),
		MaxSize:    opts.MaxSize,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAge,
		Compress:   opts.Compress,
	}
	sinks = append(sinks, sink)
	return zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(sink), level)
}

// CloseAll flushes and closes every category file and forgets cached
// loggers.
func CloseAll() {
	mu.Lock()
	defer mu.Unlock()
	for _, l := range loggers {
		if l.sugar != nil {
			_ = l.sugar.Sync()
		}
	}
	for _, s := range sinks {
		_ = s.Close()
	}
	sinks = nil
	loggers = make(map[Category]*Logger)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Errorf(format, args...)
}

// With returns a logger carrying structured key-value context.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	if l.sugar == nil {
		return l
	}
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// Timer measures the duration of an operation.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer starts timing op under category.
func StartTimer(category Category, op string) *Timer {
	return &Timer{category: category, op: op, start: time.Now()}
}

// Stop logs the elapsed time at debug level and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s took %v", t.op, elapsed)
	return elapsed
}

// =============================================================================
// Convenience functions
// =============================================================================

func Boot(format string, args ...interface{})      { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debug(format, args...) }

func Definition(format string, args ...interface{})     { Get(CategoryDefinition).Info(format, args...) }
func DefinitionWarn(format string, args ...interface{}) { Get(CategoryDefinition).Warn(format, args...) }

func Ordering(format string, args ...interface{})      { Get(CategoryOrdering).Info(format, args...) }
func OrderingDebug(format string, args ...interface{}) { Get(CategoryOrdering).Debug(format, args...) }
func OrderingWarn(format string, args ...interface{})  { Get(CategoryOrdering).Warn(format, args...) }

func Traversal(format string, args ...interface{})      { Get(CategoryTraversal).Info(format, args...) }
func TraversalDebug(format string, args ...interface{}) { Get(CategoryTraversal).Debug(format, args...) }
func TraversalWarn(format string, args ...interface{})  { Get(CategoryTraversal).Warn(format, args...) }

func Record(format string, args ...interface{})      { Get(CategoryRecord).Info(format, args...) }
func RecordDebug(format string, args ...interface{}) { Get(CategoryRecord).Debug(format, args...) }

func Store(format string, args ...interface{})      { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }
func StoreError(format string, args ...interface{}) { Get(CategoryStore).Error(format, args...) }

func Session(format string, args ...interface{})      { Get(CategorySession).Info(format, args...) }
func SessionDebug(format string, args ...interface{}) { Get(CategorySession).Debug(format, args...) }
func SessionWarn(format string, args ...interface{})  { Get(CategorySession).Warn(format, args...) }

func TUI(format string, args ...interface{})      { Get(CategoryTUI).Info(format, args...) }
func TUIDebug(format string, args ...interface{}) { Get(CategoryTUI).Debug(format, args...) }
