package obslog

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// Logger provides structured logging with request/session correlation
// and redaction of sensitive values, backed by zerolog.
type Logger struct {
	logger  zerolog.Logger
	config  LogConfig
	redacts []*regexp.Regexp
}

// LogConfig configures the logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string

	// Format is "json" or "text" (console-formatted).
	Format string

	// Output is the writer for log output, defaults to os.Stdout.
	Output io.Writer

	// AddSource includes file:line in each record.
	AddSource bool

	// RedactPatterns are additional regex patterns appended to
	// DefaultRedactPatterns.
	RedactPatterns []string
}

// ContextKey is the type for context keys used in logging.
type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
	SessionIDKey ContextKey = "session_id"
)

// DefaultRedactPatterns covers common secret shapes: generic
// key/secret/token assignments, Anthropic and OpenAI API keys, and JWTs.
var DefaultRedactPatterns = []string{
	`(?i)(api[_-]?key|apikey)[\s:=]+["']?([a-zA-Z0-9_\-]{16,})["']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["']?([^\s"']{8,})["']?`,
	`sk-ant-[a-zA-Z0-9_-]{95,}`,
	`sk-[a-zA-Z0-9]{48,}`,
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
}

// NewLogger builds a Logger from config, defaulting Output to
// os.Stdout, Level to "info", and Format to "json".
func NewLogger(config LogConfig) *Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Level == "" {
		config.Level = "info"
	}
	if config.Format == "" {
		config.Format = "json"
	}

	var out io.Writer = config.Output
	if config.Format != "json" {
		out = zerolog.ConsoleWriter{Out: config.Output}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(config.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}

	ctx := zerolog.New(out).Level(level).With().Timestamp()
	if config.AddSource {
		ctx = ctx.Caller()
	}

	redacts := make([]*regexp.Regexp, 0, len(DefaultRedactPatterns)+len(config.RedactPatterns))
	for _, pattern := range append(append([]string{}, DefaultRedactPatterns...), config.RedactPatterns...) {
		if re, err := regexp.Compile(pattern); err == nil {
			redacts = append(redacts, re)
		}
	}

	return &Logger{logger: ctx.Logger(), config: config, redacts: redacts}
}

// WithContext returns a logger that tags every record with the
// request/session IDs carried on ctx, if present.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	logger := l.logger
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		logger = logger.With().Str("request_id", requestID).Logger()
	}
	if sessionID, ok := ctx.Value(SessionIDKey).(string); ok && sessionID != "" {
		logger = logger.With().Str("session_id", sessionID).Logger()
	}
	return &Logger{logger: logger, config: l.config, redacts: l.redacts}
}

// WithFields returns a logger with the given fields attached to every
// subsequent record.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	logger := l.logger.With().Fields(l.redactMap(fields)).Logger()
	return &Logger{logger: logger, config: l.config, redacts: l.redacts}
}

func (l *Logger) Debug(ctx context.Context, msg string, args ...any) { l.log(ctx, zerolog.DebugLevel, msg, args...) }
func (l *Logger) Info(ctx context.Context, msg string, args ...any)  { l.log(ctx, zerolog.InfoLevel, msg, args...) }
func (l *Logger) Warn(ctx context.Context, msg string, args ...any)  { l.log(ctx, zerolog.WarnLevel, msg, args...) }
func (l *Logger) Error(ctx context.Context, msg string, args ...any) { l.log(ctx, zerolog.ErrorLevel, msg, args...) }

// log redacts msg and every arg, then emits one event at level with
// args treated as alternating key/value pairs.
func (l *Logger) log(ctx context.Context, level zerolog.Level, msg string, args ...any) {
	event := l.logger.WithLevel(level)
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		event = event.Str("request_id", requestID)
	}
	if sessionID, ok := ctx.Value(SessionIDKey).(string); ok && sessionID != "" {
		event = event.Str("session_id", sessionID)
	}
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		event = event.Interface(key, l.redactValue(args[i+1]))
	}
	event.Msg(l.redactString(msg))
}

func (l *Logger) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return l.redactString(val)
	case error:
		return l.redactString(val.Error())
	case []byte:
		return l.redactString(string(val))
	case map[string]any:
		return l.redactMap(val)
	default:
		if b, err := json.Marshal(v); err == nil {
			return l.redactString(string(b))
		}
		return v
	}
}

func (l *Logger) redactString(s string) string {
	for _, re := range l.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

var sensitiveFieldNames = map[string]bool{
	"password": true, "passwd": true, "secret": true, "token": true,
	"api_key": true, "apikey": true, "private_key": true, "privatekey": true,
	"auth": true, "authorization": true,
}

func (l *Logger) redactMap(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		lowerKey := strings.ToLower(strings.ReplaceAll(k, "-", "_"))
		if sensitiveFieldNames[lowerKey] {
			result[k] = "[REDACTED]"
			continue
		}
		result[k] = l.redactValue(v)
	}
	return result
}
