package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures the logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error"
	Level string

	// Format specifies output format: "json" or "text"
	Format string

	// Output is the writer for log output (defaults to os.Stderr)
	Output io.Writer

	// AddSource includes file and line number in log records
	AddSource bool

	// RedactPatterns are additional regex patterns for sensitive data redaction
	RedactPatterns []string
}

// ContextKey is the type for context keys used in logging.
type ContextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey ContextKey = "request_id"

	// ConversationIDKey is the context key for the active conversation.
	ConversationIDKey ContextKey = "conversation_id"

	// DocumentIDKey is the context key for the open document.
	DocumentIDKey ContextKey = "document_id"

	traceIDAttr = "trace_id"
)

// DefaultRedactPatterns contains regex patterns for common sensitive data.
var DefaultRedactPatterns = []string{
	// Bearer and token assignments
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["\']?([^\s"']{8,})["\']?`,

	// Websocket handshake tokens
	`(?i)([?&]token=)[^&\s"]+`,

	// Session cookie values
	`(?i)(legalcheck_access_token=)[^;\s"]+`,

	// JWT tokens
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
}

var sensitiveKeys = map[string]bool{
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"token":         true,
	"cookie":        true,
	"auth":          true,
	"authorization": true,
}

// NewLogger creates a structured logger that redacts secrets and lifts the
// well-known context keys into every record.
//
// If config.Output is nil, logs are written to os.Stderr so they do not mix
// with command output. Unknown levels default to info, unknown formats to
// text.
func NewLogger(config LogConfig) *slog.Logger {
	if config.Output == nil {
		config.Output = os.Stderr
	}

	redacts := compileRedactions(config.RedactPatterns)
	opts := &slog.HandlerOptions{
		Level:     LogLevelFromString(config.Level),
		AddSource: config.AddSource,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			return redactAttr(redacts, a)
		},
	}

	var handler slog.Handler
	if strings.EqualFold(config.Format, "json") {
		handler = slog.NewJSONHandler(config.Output, opts)
	} else {
		handler = slog.NewTextHandler(config.Output, opts)
	}

	return slog.New(&contextHandler{Handler: handler, redacts: redacts})
}

func compileRedactions(extra []string) []*regexp.Regexp {
	all := append(append([]string{}, DefaultRedactPatterns...), extra...)
	redacts := make([]*regexp.Regexp, 0, len(all))
	for _, pattern := range all {
		if re, err := regexp.Compile(pattern); err == nil {
			redacts = append(redacts, re)
		}
	}
	return redacts
}

func redactAttr(redacts []*regexp.Regexp, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(strings.ReplaceAll(a.Key, "-", "_"))] {
		return slog.String(a.Key, "[REDACTED]")
	}
	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, redactString(redacts, a.Value.String()))
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			return slog.String(a.Key, redactString(redacts, err.Error()))
		}
	}
	return a
}

// redactString applies all redaction patterns to a string. Patterns with a
// leading capture group keep the group and blank the rest.
func redactString(redacts []*regexp.Regexp, s string) string {
	for _, re := range redacts {
		if re.NumSubexp() > 0 {
			s = re.ReplaceAllString(s, "${1}[REDACTED]")
			continue
		}
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// contextHandler adds request, conversation, document and trace ids from
// the context and redacts the record message.
type contextHandler struct {
	slog.Handler
	redacts []*regexp.Regexp
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, redactString(h.redacts, r.Message), r.PC)
	if ctx != nil {
		if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
			out.AddAttrs(slog.String(string(RequestIDKey), requestID))
		}
		if id, ok := ctx.Value(ConversationIDKey).(int64); ok && id != 0 {
			out.AddAttrs(slog.Int64(string(ConversationIDKey), id))
		}
		if id, ok := ctx.Value(DocumentIDKey).(int64); ok && id != 0 {
			out.AddAttrs(slog.Int64(string(DocumentIDKey), id))
		}
		if traceID := GetTraceID(ctx); traceID != "" {
			out.AddAttrs(slog.String(traceIDAttr, traceID))
		}
	}
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(a)
		return true
	})
	return h.Handler.Handle(ctx, out)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs), redacts: h.redacts}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name), redacts: h.redacts}
}

// AddRequestID adds a request ID to the context.
func AddRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// AddConversationID adds the conversation id to the context.
func AddConversationID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, ConversationIDKey, id)
}

// AddDocumentID adds the document id to the context.
func AddDocumentID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, DocumentIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// LogLevelFromString converts a string to a slog.Level.
// Returns LevelInfo if the string is not recognized.
func LogLevelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
