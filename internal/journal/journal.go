// Package journal persists per-agent execution history, one log file per
// agent, in the same line format as the conversation log.
package journal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/alynlabs/alyn/internal/logline"
)

// Entry tags recorded in agent journals.
const (
	TagRequest      = "agent_request"
	TagResponse     = "agent_response"
	TagAction       = "action"
	TagToolResponse = "tool_response"
)

// Store manages the journal files of all execution agents under one
// directory. Safe for concurrent use.
type Store struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger configures the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates the journal directory if needed.
func NewStore(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		dir:    dir,
		logger: slog.Default().With("component", "journal"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	return s, nil
}

// Path returns the journal file for an agent name.
func (s *Store) Path(agent string) string {
	return filepath.Join(s.dir, slug(agent)+".log")
}

// RecordRequest appends an incoming instruction.
func (s *Store) RecordRequest(agent, instructions string) error {
	return s.append(agent, TagRequest, instructions)
}

// RecordResponse appends the agent's final answer for a run.
func (s *Store) RecordResponse(agent, response string) error {
	return s.append(agent, TagResponse, response)
}

// RecordAction appends a description of a tool invocation.
func (s *Store) RecordAction(agent, description string) error {
	return s.append(agent, TagAction, description)
}

// RecordToolResponse appends a tool's output, prefixed with the tool name.
func (s *Store) RecordToolResponse(agent, tool, result string) error {
	return s.append(agent, TagToolResponse, tool+": "+result)
}

func (s *Store) append(agent, tag, payload string) error {
	line := logline.Format(tag, s.now().Format(logline.TimeLayout), payload)
	path := s.Path(agent)

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.logger.Error("journal append failed", "agent", agent, "tag", tag, "error", err)
		return fmt.Errorf("append journal: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		s.logger.Error("journal append failed", "agent", agent, "tag", tag, "error", err)
		return fmt.Errorf("append journal: %w", err)
	}
	return nil
}

// Entries returns an agent's journal in append order. A missing file
// yields an empty journal.
func (s *Store) Entries(agent string) ([]logline.Entry, error) {
	s.mu.Lock()
	data, err := os.ReadFile(s.Path(agent))
	s.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read journal: %w", err)
	}
	return logline.ParseAll(string(data)), nil
}

// Transcript renders an agent's journal for prompt embedding. When
// conversationLimit > 0, only the trailing entries covering that many
// agent_request turns are kept.
func (s *Store) Transcript(agent string, conversationLimit int) (string, error) {
	entries, err := s.Entries(agent)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", nil
	}

	start := 0
	if conversationLimit > 0 {
		requests := 0
		for _, e := range entries {
			if e.Tag == TagRequest {
				requests++
			}
		}
		if requests > conversationLimit {
			kept := 0
			for i := len(entries) - 1; i >= 0; i-- {
				if entries[i].Tag == TagRequest {
					kept++
					if kept == conversationLimit {
						start = i
						break
					}
				}
			}
		}
	}

	var b strings.Builder
	for i, e := range entries[start:] {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "<%s timestamp=%q>%s</%s>", e.Tag, e.Timestamp, logline.EncodePayload(e.Payload), e.Tag)
	}
	return b.String(), nil
}

// Remove deletes an agent's journal file.
func (s *Store) Remove(agent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.Path(agent)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("journal remove failed", "agent", agent, "error", err)
		return fmt.Errorf("remove journal: %w", err)
	}
	return nil
}

// slug maps an agent name onto a stable, filesystem-safe file stem.
func slug(agent string) string {
	lower := strings.ToLower(strings.TrimSpace(agent))
	var b strings.Builder
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
