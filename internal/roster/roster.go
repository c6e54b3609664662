// Package roster tracks the named execution agents known to the system as
// an ordered JSON list on disk. Names are unique under a case-insensitive,
// whitespace-collapsed key; writes take an advisory file lock so concurrent
// processes cooperate.
package roster

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// Lock acquisition policy for saves.
const (
	lockMaxAttempts = 5
	lockBaseDelay   = 100 * time.Millisecond
)

// ErrLockContended is returned when the advisory lock could not be
// acquired after all backoff attempts.
var ErrLockContended = errors.New("roster: file lock contended")

// Roster is the in-memory view of the roster file. All operations are safe
// for concurrent use within the process.
type Roster struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	agents []string
}

// Option configures a Roster.
type Option func(*Roster)

// WithLogger configures the roster's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Roster) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Open loads the roster file, pruning duplicate or empty entries. A
// missing file yields an empty roster; a pruned load is saved back.
func Open(path string, opts ...Option) (*Roster, error) {
	r := &Roster{
		path:   path,
		logger: slog.Default().With("component", "roster"),
	}
	for _, opt := range opts {
		opt(r)
	}

	var original []string
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(data, &original); jsonErr != nil {
			r.logger.Warn("roster file unreadable, starting empty", "path", path, "error", jsonErr)
			original = nil
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read roster: %w", err)
	}

	sanitized, removed := sanitize(original)
	r.agents = sanitized
	if len(removed) > 0 {
		r.logger.Info("pruned duplicate or invalid agent entries", "removed", removed)
	}
	if err == nil && !slices.Equal(sanitized, original) {
		if saveErr := r.saveLocked(); saveErr != nil {
			r.logger.Warn("roster rewrite after prune failed", "error", saveErr)
		}
	}
	return r, nil
}

// CleanName collapses internal whitespace and trims an agent name. The
// cleaned form is what gets stored and displayed.
func CleanName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// Key returns the identity key for an agent name.
func Key(name string) string {
	return strings.ToLower(CleanName(name))
}

// Add inserts a name if no agent with the same key exists. It returns the
// canonical stored name and whether the roster grew.
func (r *Roster) Add(name string) (string, bool, error) {
	cleaned := CleanName(name)
	if cleaned == "" {
		return "", false, errors.New("roster: empty agent name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.lookup(cleaned); ok {
		return existing, false, nil
	}
	r.agents = append(r.agents, cleaned)
	if err := r.saveLocked(); err != nil {
		return cleaned, true, err
	}
	return cleaned, true, nil
}

// Has reports whether an agent with the same key exists.
func (r *Roster) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.lookup(name)
	return ok
}

// Resolve returns the canonical stored name for a lookup, if present.
func (r *Roster) Resolve(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookup(name)
}

// Remove deletes the agent matching the key, reporting whether anything
// was removed.
func (r *Roster) Remove(name string) (bool, error) {
	key := Key(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.agents[:0]
	removed := false
	for _, existing := range r.agents {
		if Key(existing) == key {
			removed = true
			continue
		}
		kept = append(kept, existing)
	}
	r.agents = kept
	if !removed {
		return false, nil
	}
	return true, r.saveLocked()
}

// Names returns a copy of the roster in insertion order.
func (r *Roster) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.agents...)
}

// Clear empties the roster and removes the backing file.
func (r *Roster) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = nil
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		r.logger.Warn("roster clear failed", "path", r.path, "error", err)
		return fmt.Errorf("clear roster: %w", err)
	}
	return nil
}

// lookup is called with r.mu held.
func (r *Roster) lookup(name string) (string, bool) {
	key := Key(name)
	for _, existing := range r.agents {
		if Key(existing) == key {
			return existing, true
		}
	}
	return "", false
}

// saveLocked writes the roster under the advisory lock, retrying with
// exponential backoff while another process holds it. Called with r.mu held.
func (r *Roster) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create roster directory: %w", err)
	}

	fl := flock.New(r.path + ".lock")
	delay := lockBaseDelay
	for attempt := 0; attempt < lockMaxAttempts; attempt++ {
		locked, err := fl.TryLock()
		if err != nil {
			return fmt.Errorf("acquire roster lock: %w", err)
		}
		if locked {
			defer fl.Unlock()
			agents := r.agents
			if agents == nil {
				agents = []string{}
			}
			data, err := json.MarshalIndent(agents, "", "  ")
			if err != nil {
				return fmt.Errorf("encode roster: %w", err)
			}
			if err := os.WriteFile(r.path, data, 0o644); err != nil {
				return fmt.Errorf("write roster: %w", err)
			}
			return nil
		}
		if attempt < lockMaxAttempts-1 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	r.logger.Warn("failed to acquire roster lock after retries", "path", r.path)
	return ErrLockContended
}

func sanitize(names []string) (unique, removed []string) {
	seen := make(map[string]struct{})
	for _, raw := range names {
		cleaned := CleanName(raw)
		if cleaned == "" {
			removed = append(removed, raw)
			continue
		}
		key := strings.ToLower(cleaned)
		if _, dup := seen[key]; dup {
			removed = append(removed, cleaned)
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, cleaned)
	}
	return unique, removed
}
