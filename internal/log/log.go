// Package log is the process logger: logrus with a nested formatter, written to
// stderr and optionally to a rotating file.
//
// Stdout is reserved for the JSON-RPC stream, so nothing here ever writes to it.
package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strings"
	"sync"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Fields is an alias so callers do not import logrus directly.
type Fields = logrus.Fields

type ctxKey struct{}

// RequestIDKey is the field name request ids are logged under.
const RequestIDKey = "request_id"

var (
	logger = logrus.New()
	once   sync.Once
)

// Options configure Setup.
type Options struct {
	// Level is a logrus level name. Empty means "info".
	Level string

	// File, when set, also writes logs to a rotating file at this path.
	File string

	// NoColors disables ANSI colours, for log files and CI.
	NoColors bool
}

// Setup configures the process logger. Only the first call has an effect.
func Setup(opts Options) *logrus.Logger {
	once.Do(func() {
		level, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			level = logrus.InfoLevel
		}
		logger.SetLevel(level)

		logger.SetFormatter(&formatter.Formatter{
			NoColors:        opts.NoColors,
			TimestampFormat: "02 Jan 06 - 15:04:05",
			HideKeys:        false,
			CallerFirst:     true,
			CustomCallerFormatter: func(f *runtime.Frame) string {
				s := strings.Split(f.Function, ".")
				funcName := s[len(s)-1]
				return fmt.Sprintf(" [%s:%d][%s()]", path.Base(f.File), f.Line, funcName)
			},
		})

		writers := []io.Writer{os.Stderr}
		if opts.File != "" {
			writers = append(writers, &lumberjack.Logger{
				Filename:   opts.File,
				LocalTime:  true,
				Compress:   true,
				MaxSize:    100,
				MaxAge:     7,
				MaxBackups: 3,
			})
		}

		logger.SetOutput(io.MultiWriter(writers...))
		logger.SetReportCaller(true)
	})

	return logger
}

// Logger returns the process logger.
func Logger() *logrus.Logger {
	return logger
}

func Debug(fields Fields, msg string) {
	logger.WithFields(orEmpty(fields)).Debug(msg)
}

func Info(fields Fields, msg string) {
	logger.WithFields(orEmpty(fields)).Info(msg)
}

func Warn(fields Fields, msg string) {
	logger.WithFields(orEmpty(fields)).Warn(msg)
}

func Error(fields Fields, msg string) {
	logger.WithFields(orEmpty(fields)).Error(msg)
}

func Fatal(fields Fields, msg string) {
	logger.WithFields(orEmpty(fields)).Fatal(msg)
}

// ContextWithRequestID attaches a request id to ctx.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// RequestID returns the request id attached to ctx, or "unknown".
func RequestID(ctx context.Context) string {
	if ctx != nil {
		if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
			return id
		}
	}
	return "unknown"
}

// WithRequestID returns an entry carrying the request id from ctx.
func WithRequestID(ctx context.Context) *logrus.Entry {
	return logger.WithField(RequestIDKey, RequestID(ctx))
}

func orEmpty(fields Fields) Fields {
	if fields == nil {
		return Fields{}
	}
	return fields
}
