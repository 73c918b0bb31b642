// Package logger is a thin slog wrapper that stamps records with the request,
// tenant, user and render job they belong to.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	JobIDKey     contextKey = "job_id"
	// ClientKey holds the tenant a request acts for.
	ClientKey    contextKey = "client"
	UserIDKey    contextKey = "user_id"
)

// contextKeys lists the values FromContext copies onto a record, in output order.
var contextKeys = []contextKey{RequestIDKey, UserIDKey, ClientKey, JobIDKey}

type Logger struct {
	*slog.Logger
}

type Config struct {
	Level       string // debug|info|warn|error
	Format      string // json|text
	Output      io.Writer
	AddSource   bool
	ServiceName string
}

// DefaultConfig reads LOG_LEVEL, LOG_FORMAT, LOG_SOURCE and SERVICE_NAME.
// Binaries that load internal/config build Config themselves.
func DefaultConfig() Config {
	return Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Format:      getEnv("LOG_FORMAT", "json"),
		Output:      os.Stdout,
		AddSource:   getEnv("LOG_SOURCE", "false") == "true",
		ServiceName: getEnv("SERVICE_NAME", "renderdesk"),
	}
}

func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339Nano))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}

	if cfg.ServiceName != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", cfg.ServiceName)})
	}

	return &Logger{Logger: slog.New(handler)}
}

func NewDefault() *Logger {
	return New(DefaultConfig())
}

// WithClient tags records with the tenant, for code that runs outside a request.
func (l *Logger) WithClient(client string) *Logger {
	return l.with(string(ClientKey), client)
}

// WithJobID tags records with a render job id.
func (l *Logger) WithJobID(jobID string) *Logger {
	return l.with(string(JobIDKey), jobID)
}

func (l *Logger) WithComponent(component string) *Logger {
	return l.with("component", component)
}

func (l *Logger) with(key, value string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String(key, value))}
}

// FromContext returns l tagged with every non-empty context value set by the
// ContextWith helpers.
func (l *Logger) FromContext(ctx context.Context) *Logger {
	var attrs []any
	for _, k := range contextKeys {
		if v, ok := ctx.Value(k).(string); ok && v != "" {
			attrs = append(attrs, slog.String(string(k), v))
		}
	}
	if len(attrs) == 0 {
		return l
	}
	return &Logger{Logger: l.Logger.With(attrs...)}
}

// LogFatal logs at error level and exits with status 1. Startup only.
func (l *Logger) LogFatal(msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err.Error())
	}
	l.Error(msg, args...)
	os.Exit(1)
}

func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func ContextWithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, JobIDKey, jobID)
}

func ContextWithClient(ctx context.Context, client string) context.Context {
	return context.WithValue(ctx, ClientKey, client)
}

func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
