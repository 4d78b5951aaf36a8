// Package logger provides the leveled session log. Core packages hold a
// prefixed child of the global logger; the CLI initializes the sink once at
// session start, and before that every logger is silent.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level orders log lines by importance.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	// LevelNone drops everything.
	LevelNone
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "NONE"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelNone {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel maps a config string to a Level. Unknown values fall back to
// LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "none":
		return LevelNone
	}
	return LevelInfo
}

// sink is the shared write end of a logger family. Children created with
// WithPrefix serialize through the same mutex so lines never interleave.
type sink struct {
	mu   sync.Mutex
	w    io.Writer
	file *os.File
}

// Logger writes timestamped, leveled lines to a file sink. The zero value
// and any logger without a sink are silent.
type Logger struct {
	level  Level
	prefix string
	sink   *sink
}

var (
	global *Logger
	once   sync.Once
)

// Init sets up the global logger. Only the first call takes effect.
func Init(level Level, logPath string) error {
	var err error
	once.Do(func() {
		global, err = New(level, logPath, "")
	})
	return err
}

// New opens a logger on logPath, creating parent directories as needed. An
// empty path or LevelNone yields a silent logger.
func New(level Level, logPath string, prefix string) (*Logger, error) {
	if level == LevelNone || logPath == "" {
		return &Logger{level: LevelNone, prefix: prefix}, nil
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return &Logger{level: level, prefix: prefix, sink: &sink{w: file, file: file}}, nil
}

// Global returns the process logger.
func Global() *Logger {
	if global == nil {
		global = &Logger{level: LevelNone}
	}
	return global
}

// WithPrefix returns a child logger whose lines carry "parent:prefix".
func (l *Logger) WithPrefix(prefix string) *Logger {
	child := &Logger{level: l.level, prefix: prefix, sink: l.sink}
	if l.prefix != "" {
		child.prefix = l.prefix + ":" + prefix
	}
	return child
}

func (l *Logger) emit(level Level, format string, args ...interface{}) {
	if l.sink == nil || level < l.level {
		return
	}
	tag := ""
	if l.prefix != "" {
		tag = "[" + l.prefix + "] "
	}
	line := fmt.Sprintf(format, args...)

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	fmt.Fprintf(l.sink.w, "%s [%s] %s%s\n",
		time.Now().Format("2006-01-02 15:04:05.000"), level, tag, line)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.emit(LevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.emit(LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.emit(LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.emit(LevelError, format, args...)
}

// Close releases the underlying file. Safe on silent loggers and safe to
// call more than once.
func (l *Logger) Close() error {
	if l.sink == nil {
		return nil
	}
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.file == nil {
		return nil
	}
	err := l.sink.file.Close()
	l.sink.file = nil
	l.sink.w = io.Discard
	return err
}
