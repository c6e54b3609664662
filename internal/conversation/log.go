// Package conversation holds the append-only conversation log and the
// duplicate detector that guards the interaction pipeline against echoes.
package conversation

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alynlabs/alyn/internal/logline"
)

// Entry tags recorded in the conversation log.
const (
	TagUserMessage  = "user_message"
	TagAgentMessage = "agent_message"
	TagReply        = "alyn_reply"
	TagWait         = "wait"
)

// ChatMessage is the user-visible projection of a log entry.
type ChatMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// Log is an append-only conversation journal persisted to disk. All file
// access serializes through a single mutex; appends are whole-line writes.
type Log struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
	hook   func()

	mu sync.Mutex
}

// LogOption configures a Log.
type LogOption func(*Log)

// WithLogger configures the log's logger.
func WithLogger(logger *slog.Logger) LogOption {
	return func(l *Log) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) LogOption {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

// WithAppendHook registers a callback invoked after every successful append.
// Hook failures are contained; they never fail the append.
func WithAppendHook(hook func()) LogOption {
	return func(l *Log) {
		l.hook = hook
	}
}

// OpenLog creates a conversation log backed by the given file path. The
// parent directory is created if missing.
func OpenLog(path string, opts ...LogOption) (*Log, error) {
	l := &Log{
		path:   path,
		logger: slog.Default().With("component", "conversation"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create conversation log directory: %w", err)
	}
	return l, nil
}

// Path returns the backing file path.
func (l *Log) Path() string {
	return l.path
}

// RecordUserMessage appends a user turn.
func (l *Log) RecordUserMessage(content string) error {
	return l.append(TagUserMessage, content)
}

// RecordAgentMessage appends a status update from an execution agent.
func (l *Log) RecordAgentMessage(content string) error {
	return l.append(TagAgentMessage, content)
}

// RecordReply appends an assistant reply.
func (l *Log) RecordReply(content string) error {
	return l.append(TagReply, content)
}

// RecordWait appends a wait marker that must never surface to the user.
func (l *Log) RecordWait(reason string) error {
	return l.append(TagWait, reason)
}

func (l *Log) append(tag, payload string) error {
	timestamp := l.now().Format(logline.TimeLayout)
	entry := logline.Format(tag, timestamp, payload)

	l.mu.Lock()
	err := func() error {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = f.WriteString(entry)
		return err
	}()
	l.mu.Unlock()

	if err != nil {
		l.logger.Error("conversation log append failed", "tag", tag, "path", l.path, "error", err)
		return fmt.Errorf("append conversation log: %w", err)
	}
	l.notifyHook()
	return nil
}

func (l *Log) notifyHook() {
	if l.hook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.logger.Warn("conversation log append hook panicked", "panic", r)
		}
	}()
	l.hook()
}

// Entries reads the journal and returns every well-formed entry in append
// order. Readers see a consistent prefix even under concurrent appends.
func (l *Log) Entries() ([]logline.Entry, error) {
	l.mu.Lock()
	data, err := os.ReadFile(l.path)
	l.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		l.logger.Error("conversation log read failed", "path", l.path, "error", err)
		return nil, fmt.Errorf("read conversation log: %w", err)
	}
	return logline.ParseAll(string(data)), nil
}

// Transcript renders the full log as an XML-like string for embedding into
// LLM prompts. Wait entries are retained here; they are orchestration
// context the model needs.
func (l *Log) Transcript() (string, error) {
	entries, err := l.Entries()
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(entries))
	for _, entry := range entries {
		safe := logline.EncodePayload(entry.Payload)
		if entry.Timestamp != "" {
			parts = append(parts, fmt.Sprintf("<%s timestamp=%q>%s</%s>", entry.Tag, entry.Timestamp, safe, entry.Tag))
		} else {
			parts = append(parts, fmt.Sprintf("<%s>%s</%s>", entry.Tag, safe, entry.Tag))
		}
	}
	return joinLines(parts), nil
}

// ChatMessages projects the log into user/assistant messages. Wait markers
// are orchestration metadata and are omitted; agent messages are internal
// and likewise never shown to the user.
func (l *Log) ChatMessages() ([]ChatMessage, error) {
	entries, err := l.Entries()
	if err != nil {
		return nil, err
	}
	var messages []ChatMessage
	for _, entry := range entries {
		switch entry.Tag {
		case TagUserMessage:
			messages = append(messages, ChatMessage{Role: "user", Content: entry.Payload, Timestamp: entry.Timestamp})
		case TagReply:
			messages = append(messages, ChatMessage{Role: "assistant", Content: entry.Payload, Timestamp: entry.Timestamp})
		}
	}
	return messages, nil
}

// Clear atomically truncates the log.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		l.logger.Warn("conversation log clear failed", "path", l.path, "error", err)
		return fmt.Errorf("clear conversation log: %w", err)
	}
	return nil
}

func joinLines(parts []string) string {
	out := ""
	for i, part := range parts {
		if i > 0 {
			out += "\n"
		}
		out += part
	}
	return out
}
