package logger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/coinfolio/backend/internal/errors"
)

// Level represents the log level
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
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

func (l Level) logrus() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// ParseLevel converts a level name to a Level. Unknown names map to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Entry is the JSON shape of a single log line
type Entry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
	Component string         `json:"component,omitempty"`
	Error     *ErrorDetails  `json:"error,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	Caller    string         `json:"caller,omitempty"`
}

// ErrorDetails contains structured error information
type ErrorDetails struct {
	Code     string `json:"code,omitempty"`
	Message  string `json:"message"`
	Category string `json:"category,omitempty"`
}

// Config configures a Logger
type Config struct {
	Output    io.Writer
	Level     Level
	Component string
	// Format is "json" (default) or "text".
	Format   string
	Redactor *Redactor
}

// Logger provides structured logging on top of logrus
type Logger struct {
	base      *logrus.Logger
	component string
	redactor  *Redactor
}

// reserved logrus data keys lifted out of Fields by the formatter
const (
	keyRequestID = "request_id"
	keyTraceID   = "trace_id"
	keyComponent = "component"
	keyError     = "error"
	keyCaller    = "caller"
)

var defaultLogger = New(&Config{Output: os.Stdout, Level: LevelInfo})

// New creates a new logger
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = &Config{}
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	redactor := cfg.Redactor
	if redactor == nil {
		redactor = DefaultRedactor()
	}

	base := logrus.New()
	base.SetOutput(out)
	base.SetLevel(cfg.Level.logrus())
	if cfg.Format == "text" {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	} else {
		base.SetFormatter(&entryFormatter{})
	}

	return &Logger{base: base, component: cfg.Component, redactor: redactor}
}

// SetDefault sets the default logger
func SetDefault(l *Logger) {
	defaultLogger = l
}

// Default returns the default logger
func Default() *Logger {
	return defaultLogger
}

// WithComponent creates a new logger with the specified component name
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{base: l.base, component: component, redactor: l.redactor}
}

// Writer returns a writer that logs each line at the given level. Used to
// route the standard library logger through logrus.
func (l *Logger) Writer(level Level) *io.PipeWriter {
	return l.base.WriterLevel(level.logrus())
}

func (l *Logger) log(ctx context.Context, level Level, msg string, fields map[string]any, err error) {
	if !l.base.IsLevelEnabled(level.logrus()) {
		return
	}

	data := logrus.Fields{}
	for k, v := range l.redactor.RedactFields(fields) {
		data[k] = v
	}
	if ctx != nil {
		if id := apperrors.GetRequestID(ctx); id != "" {
			data[keyRequestID] = id
		}
		if id := GetTraceID(ctx); id != "" {
			data[keyTraceID] = id
		}
	}
	if l.component != "" {
		data[keyComponent] = l.component
	}
	if err != nil {
		details := &ErrorDetails{Message: l.redactor.Redact(err.Error())}
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			details.Code = appErr.Code
			details.Category = string(appErr.Category)
		}
		data[keyError] = details
	}
	if level >= LevelError {
		if _, file, line, ok := runtime.Caller(2); ok {
			parts := strings.Split(file, "/")
			if len(parts) > 2 {
				file = strings.Join(parts[len(parts)-2:], "/")
			}
			data[keyCaller] = fmt.Sprintf("%s:%d", file, line)
		}
	}

	l.base.WithFields(data).Log(level.logrus(), l.redactor.Redact(msg))
}

// Debug logs a debug message
func (l *Logger) Debug(ctx context.Context, msg string, fields map[string]any) {
	l.log(ctx, LevelDebug, msg, fields, nil)
}

// Info logs an info message
func (l *Logger) Info(ctx context.Context, msg string, fields map[string]any) {
	l.log(ctx, LevelInfo, msg, fields, nil)
}

// Warn logs a warning message
func (l *Logger) Warn(ctx context.Context, msg string, fields map[string]any) {
	l.log(ctx, LevelWarn, msg, fields, nil)
}

// Error logs an error message
func (l *Logger) Error(ctx context.Context, msg string, fields map[string]any, err error) {
	l.log(ctx, LevelError, msg, fields, err)
}

// Package-level convenience functions

func Debug(ctx context.Context, msg string, fields map[string]any) {
	defaultLogger.log(ctx, LevelDebug, msg, fields, nil)
}

func Info(ctx context.Context, msg string, fields map[string]any) {
	defaultLogger.log(ctx, LevelInfo, msg, fields, nil)
}

func Warn(ctx context.Context, msg string, fields map[string]any) {
	defaultLogger.log(ctx, LevelWarn, msg, fields, nil)
}

func Error(ctx context.Context, msg string, fields map[string]any, err error) {
	defaultLogger.log(ctx, LevelError, msg, fields, err)
}

// entryFormatter renders logrus entries as Entry JSON lines
type entryFormatter struct{}

func (f *entryFormatter) Format(e *logrus.Entry) ([]byte, error) {
	out := Entry{
		Timestamp: e.Time.UTC().Format(time.RFC3339Nano),
		Level:     levelName(e.Level),
		Message:   e.Message,
	}

	for k, v := range e.Data {
		switch k {
		case keyRequestID:
			out.RequestID, _ = v.(string)
		case keyTraceID:
			out.TraceID, _ = v.(string)
		case keyComponent:
			out.Component, _ = v.(string)
		case keyCaller:
			out.Caller, _ = v.(string)
		case keyError:
			if d, ok := v.(*ErrorDetails); ok {
				out.Error = d
				continue
			}
			fallthrough
		default:
			if out.Fields == nil {
				out.Fields = make(map[string]any, len(e.Data))
			}
			if err, ok := v.(error); ok {
				v = err.Error()
			}
			out.Fields[k] = v
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal log entry: %w", err)
	}
	return append(data, '\n'), nil
}

func levelName(l logrus.Level) string {
	switch l {
	case logrus.DebugLevel, logrus.TraceLevel:
		return "debug"
	case logrus.WarnLevel:
		return "warn"
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return "error"
	default:
		return "info"
	}
}
