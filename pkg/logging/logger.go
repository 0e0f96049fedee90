package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level is a log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// ParseLevel parses a level name such as "debug" or "WARN".
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Config controls where loggers write and what they keep.
type Config struct {
	// Level is the minimum level written
	Level Level

	// Dir, when set, sends logs to <Dir>/<instance-id>-browser-api.log instead of Output
	Dir string

	// Output receives logs when Dir is empty. Nil means stderr.
	Output io.Writer
}

// Logger writes leveled, component-tagged lines:
//
//	[2006-01-02 15:04:05.000] [component] [LEVEL] message
type Logger struct {
	component string
	level     Level
	file      *os.File
	logger    *log.Logger
	mu        sync.Mutex
	logPath   string
	closeOnce sync.Once
}

var (
	// instanceID identifies this process in log file names and the startup line
	instanceID     string
	instanceIDOnce sync.Once

	configMu sync.RWMutex
	current  = Config{Level: LevelInfo}
)

func getInstanceID() string {
	instanceIDOnce.Do(func() {
		instanceID = uuid.New().String()
	})
	return instanceID
}

// Configure sets the level and destination used by loggers created afterwards.
func Configure(cfg Config) error {
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	configMu.Lock()
	current = cfg
	configMu.Unlock()
	return nil
}

// NewLogger creates a logger for a component.
//
// If a log directory is configured but the file cannot be opened, it returns a logger
// writing to stderr along with the error so callers can report the fallback.
func NewLogger(component string) (*Logger, error) {
	configMu.RLock()
	cfg := current
	configMu.RUnlock()

	if cfg.Dir == "" {
		out := cfg.Output
		if out == nil {
			out = os.Stderr
		}
		return &Logger{
			component: component,
			level:     cfg.Level,
			logger:    log.New(out, "", 0),
		}, nil
	}

	logPath := filepath.Join(cfg.Dir, fmt.Sprintf("%s-browser-api.log", getInstanceID()))

	// Append mode: every component shares the same file
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		err = fmt.Errorf("failed to open log file: %w", err)
		return newFallbackLogger(component, cfg.Level, err), err
	}

	return &Logger{
		component: component,
		level:     cfg.Level,
		file:      file,
		logger:    log.New(file, "", 0),
		logPath:   logPath,
	}, nil
}

func newFallbackLogger(component string, level Level, err error) *Logger {
	l := &Logger{
		component: component,
		level:     level,
		logger:    log.New(os.Stderr, "", 0),
	}
	l.Warnf("failed to initialize file logging, falling back to stderr: %v", err)
	return l
}

func (l *Logger) write(level Level, format string, v ...interface{}) {
	if l == nil || level < l.level {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	message := fmt.Sprintf(format, v...)
	l.logger.Printf("[%s] [%s] [%s] %s", timestamp, l.component, level, message)
}

// Debugf logs a debug-level message
func (l *Logger) Debugf(format string, v ...interface{}) { l.write(LevelDebug, format, v...) }

// Infof logs an info-level message
func (l *Logger) Infof(format string, v ...interface{}) { l.write(LevelInfo, format, v...) }

// Warnf logs a warning-level message
func (l *Logger) Warnf(format string, v ...interface{}) { l.write(LevelWarn, format, v...) }

// Errorf logs an error-level message
func (l *Logger) Errorf(format string, v ...interface{}) { l.write(LevelError, format, v...) }

// Named returns a logger for a sub-component sharing this logger's destination.
func (l *Logger) Named(name string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{
		component: l.component + "." + name,
		level:     l.level,
		logger:    l.logger,
		logPath:   l.logPath,
	}
}

// Writer returns the destination of this logger
func (l *Logger) Writer() io.Writer {
	if l == nil {
		return io.Discard
	}
	return l.logger.Writer()
}

// LogPath returns the path to the log file, or "" when not logging to a file
func (l *Logger) LogPath() string {
	return l.logPath
}

// Close closes the log file. Safe to call multiple times.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	var err error
	l.closeOnce.Do(func() {
		if l.file != nil {
			err = l.file.Close()
		}
	})
	return err
}

// GetInstanceID returns the process-wide instance id
func GetInstanceID() string {
	return getInstanceID()
}
