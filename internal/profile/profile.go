// Package profile persists flat key/value user facts (name, timezone,
// preferences) consumed by prompt assembly and the trigger tools.
package profile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// DefaultTimezone is used when the user never stated one.
const DefaultTimezone = "UTC"

// Store is a flat JSON document of user facts. Safe for concurrent use.
type Store struct {
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	data map[string]string
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

// Open loads the profile file; a missing or corrupt file yields an empty
// profile.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:   path,
		logger: slog.Default().With("component", "profile"),
		data:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(raw, &s.data); jsonErr != nil {
			s.logger.Warn("profile file unreadable, starting empty", "path", path, "error", jsonErr)
			s.data = make(map[string]string)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read profile: %w", err)
	}
	if s.data == nil {
		s.data = make(map[string]string)
	}
	return s, nil
}

// Get returns one field, or "" when absent.
func (s *Store) Get(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key]
}

// Set writes one field and persists the profile.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return s.save()
}

// All returns a copy of every field.
func (s *Store) All() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// Replace swaps the whole profile and persists it.
func (s *Store) Replace(data map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]string, len(data))
	for k, v := range data {
		s.data[k] = v
	}
	return s.save()
}

// Clear empties the profile and removes the backing file.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]string)
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear profile: %w", err)
	}
	return nil
}

// Timezone returns the user's IANA timezone, falling back to the default.
func (s *Store) Timezone() string {
	if tz := s.Get("timezone"); tz != "" {
		return tz
	}
	return DefaultTimezone
}

// FormatForPrompt renders the profile as a markdown block for the
// interaction system prompt. Empty when nothing is known.
func (s *Store) FormatForPrompt() string {
	fields := s.All()
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("## User Profile\n")
	for _, k := range keys {
		if fields[k] == "" {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", k, fields[k])
	}
	return b.String()
}

// save writes atomically via rename. Called with s.mu held.
func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create profile directory: %w", err)
	}
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace profile: %w", err)
	}
	return nil
}
