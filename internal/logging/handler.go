package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

type contextKey string

const (
	SystemIDKey   contextKey = "system_id"
	ConnIDKey     contextKey = "conn_id"
	CommandIDKey  contextKey = "cmd_id"
	SeqNumberKey  contextKey = "seq_num"
	RemoteAddrKey contextKey = "remote_addr"
	MessageIDKey  contextKey = "msg_id"
	WorkerKey     contextKey = "worker"
)

// ContextHandler wraps another slog.Handler and adds attributes from context.
type ContextHandler struct {
	slog.Handler
}

// NewContextHandler creates a handler that extracts values from context.
func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

// Handle adds context attributes before calling the wrapped handler.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, key := range []contextKey{SystemIDKey, ConnIDKey, CommandIDKey, RemoteAddrKey, MessageIDKey, WorkerKey} {
		if v, ok := ctx.Value(key).(string); ok {
			r.AddAttrs(slog.String(string(key), v))
		}
	}
	if seq, ok := ctx.Value(SeqNumberKey).(uint32); ok {
		r.AddAttrs(slog.Uint64(string(SeqNumberKey), uint64(seq)))
	}
	return h.Handler.Handle(ctx, r)
}

// WithAttrs and WithGroup keep the context lookup on derived handlers.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}

// ParseLevel maps LOG_LEVEL values to slog levels. Unknown values are info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// New builds the process logger: JSON (or text) output wrapped in a
// ContextHandler. Debug level adds source locations.
func New(w io.Writer, level, format string) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl <= slog.LevelDebug,
	}
	var base slog.Handler
	if strings.EqualFold(format, "text") {
		base = slog.NewTextHandler(w, opts)
	} else {
		base = slog.NewJSONHandler(w, opts)
	}
	return slog.New(NewContextHandler(base))
}

// Helper functions to add values to context
func ContextWithSystemID(ctx context.Context, systemID string) context.Context {
	return context.WithValue(ctx, SystemIDKey, systemID)
}

func ContextWithConnID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, ConnIDKey, connID)
}

func ContextWithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, RemoteAddrKey, addr)
}

func ContextWithMessageID(ctx context.Context, msgID string) context.Context {
	return context.WithValue(ctx, MessageIDKey, msgID)
}

func ContextWithWorker(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, WorkerKey, name)
}

func ContextWithPDUInfo(ctx context.Context, commandID string, seqNumber uint32) context.Context {
	ctx = context.WithValue(ctx, CommandIDKey, commandID)
	return context.WithValue(ctx, SeqNumberKey, seqNumber)
}
