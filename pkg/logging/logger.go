// Package logging provides the component logger used across phasectl.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures a Logger.
type Options struct {
	// Dir receives <session-id>-phasectl.log. Empty writes to Writer.
	Dir string
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string
	// Format is console or json. Defaults to console.
	Format string
	// Writer is used when Dir is empty. Defaults to stderr.
	Writer io.Writer
}

// Logger writes leveled messages tagged with a component and session id.
// Loggers derived with Named share the session and the underlying file.
type Logger struct {
	sessionID string
	component string
	zap       *zap.SugaredLogger
	logPath   string
	closer    *fileCloser
}

type fileCloser struct {
	file *os.File
	once sync.Once
	err  error
}

func (c *fileCloser) close() error {
	if c == nil {
		return nil
	}
	c.once.Do(func() {
		if c.file != nil {
			c.err = c.file.Close()
		}
	})
	return c.err
}

// NewLogger creates a logger for component.
//
// When the log directory or file cannot be opened it returns a logger that
// writes to stderr together with the error, so callers can warn and continue.
func NewLogger(component string, opts Options) (*Logger, error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return newFallbackLogger(component, opts, err), err
	}

	sessionID := uuid.New().String()
	l := &Logger{sessionID: sessionID, component: component}

	var sink zapcore.WriteSyncer
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o750); err != nil {
			err = fmt.Errorf("failed to create log directory: %w", err)
			return newFallbackLogger(component, opts, err), err
		}
		l.logPath = filepath.Join(opts.Dir, fmt.Sprintf("%s-phasectl.log", sessionID))
		file, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			err = fmt.Errorf("failed to open log file: %w", err)
			return newFallbackLogger(component, opts, err), err
		}
		l.closer = &fileCloser{file: file}
		sink = zapcore.AddSync(file)
	} else {
		sink = zapcore.AddSync(writerOrStderr(opts.Writer))
	}

	core := zapcore.NewCore(newEncoder(opts.Format), sink, level)
	l.zap = zap.New(core).Named(component).With(zap.String("session", sessionID)).Sugar()
	return l, nil
}

func newFallbackLogger(component string, opts Options, cause error) *Logger {
	core := zapcore.NewCore(newEncoder(opts.Format), zapcore.AddSync(os.Stderr), zapcore.InfoLevel)
	sessionID := uuid.New().String()
	l := &Logger{
		sessionID: sessionID,
		component: component,
		zap:       zap.New(core).Named(component).With(zap.String("session", sessionID)).Sugar(),
	}
	l.Warnf("failed to initialize file logging: %v", cause)
	l.Warnf("falling back to stderr logging")
	return l
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{
		sessionID: uuid.New().String(),
		component: "nop",
		zap:       zap.NewNop().Sugar(),
	}
}

func writerOrStderr(w io.Writer) io.Writer {
	if w == nil {
		return os.Stderr
	}
	return w
}

func parseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	level, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if format == "json" {
		return zapcore.NewJSONEncoder(encoderCfg)
	}
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(encoderCfg)
}

// Named returns a logger for another component sharing this session.
func (l *Logger) Named(component string) *Logger {
	return &Logger{
		sessionID: l.sessionID,
		component: component,
		zap:       l.zap.Desugar().Named(component).Sugar(),
		logPath:   l.logPath,
		closer:    l.closer,
	}
}

// Printf logs at info level.
func (l *Logger) Printf(format string, v ...any) {
	l.zap.Infof(format, v...)
}

// Debugf logs a debug-level message.
func (l *Logger) Debugf(format string, v ...any) {
	l.zap.Debugf(format, v...)
}

// Infof logs an info-level message.
func (l *Logger) Infof(format string, v ...any) {
	l.zap.Infof(format, v...)
}

// Warnf logs a warning-level message.
func (l *Logger) Warnf(format string, v ...any) {
	l.zap.Warnf(format, v...)
}

// Errorf logs an error-level message.
func (l *Logger) Errorf(format string, v ...any) {
	l.zap.Errorf(format, v...)
}

// SessionID returns the session id shared by derived loggers.
func (l *Logger) SessionID() string {
	return l.sessionID
}

// Component returns the component name.
func (l *Logger) Component() string {
	return l.component
}

// LogPath returns the log file path, or "" when logging to a writer.
func (l *Logger) LogPath() string {
	return l.logPath
}

// Close flushes and closes the log file. Safe to call multiple times.
func (l *Logger) Close() error {
	_ = l.zap.Sync()
	return l.closer.close()
}
