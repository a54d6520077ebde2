package audit

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Entry is one audit event for a tool call.
type Entry struct {
	Action         string
	Tool           string
	Params         map[string]interface{}
	Result         string
	ConversationID string
}

// Logger appends audit events as JSON lines. Logging is fire-and-forget:
// failures are reported on the process log, never to the caller.
type Logger struct {
	mu     sync.Mutex
	out    *slog.Logger
	closer io.Closer
}

// NewLogger writes to w. Pass nil to discard events.
func NewLogger(w io.Writer) *Logger {
	if w == nil {
		w = io.Discard
	}
	return &Logger{
		out: slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})),
	}
}

// NewFileLogger appends to a JSON-lines file, creating parent directories
// as needed.
func NewFileLogger(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	l := NewLogger(f)
	l.closer = f
	return l, nil
}

func (l *Logger) Log(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Info("tool_call",
		"action", e.Action,
		"tool", e.Tool,
		"params", e.Params,
		"result", e.Result,
		"conversation_id", e.ConversationID,
	)
}

func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}
