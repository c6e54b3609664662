package conversation

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Duplicate detection defaults. Content shorter than MinDuplicateLength
// after trimming is never considered a duplicate.
const (
	DefaultDedupWindow  = 60 * time.Second
	DefaultDedupEntries = 1000
	MinDuplicateLength  = 3
)

type fingerprint struct {
	role   string
	seenAt time.Time
}

// DuplicateDetector suppresses repeated deliveries of the same content
// within a sliding window. Fingerprints are SHA-256 hashes of the
// normalized content and are scoped to the sender role: the same text from
// a different role is not a duplicate.
type DuplicateDetector struct {
	cache  *expirable.LRU[string, fingerprint]
	window time.Duration
	logger *slog.Logger
	now    func() time.Time

	// mu makes the check-then-mark in CheckAndMark a single step; the
	// cache's own locking only covers individual operations.
	mu sync.Mutex
}

// DetectorOption configures a DuplicateDetector.
type DetectorOption func(*DuplicateDetector)

// WithDetectorLogger configures the detector's logger.
func WithDetectorLogger(logger *slog.Logger) DetectorOption {
	return func(d *DuplicateDetector) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDetectorNow overrides the clock for tests.
func WithDetectorNow(now func() time.Time) DetectorOption {
	return func(d *DuplicateDetector) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDuplicateDetector creates a detector with the given window and entry
// cap. Non-positive arguments fall back to the defaults.
func NewDuplicateDetector(window time.Duration, maxEntries int, opts ...DetectorOption) *DuplicateDetector {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if maxEntries <= 0 {
		maxEntries = DefaultDedupEntries
	}
	d := &DuplicateDetector{
		window: window,
		logger: slog.Default().With("component", "dedup"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.cache = expirable.NewLRU[string, fingerprint](maxEntries, nil, window)
	return d
}

// CheckAndMark reports whether content was already seen from the same role
// within the window, and marks it as seen either way. The check and the
// mark are a single operation so two racing deliveries cannot both pass.
func (d *DuplicateDetector) CheckAndMark(content, role string) bool {
	if len(strings.TrimSpace(content)) < MinDuplicateLength {
		return false
	}
	key := contentHash(content)
	d.mu.Lock()
	defer d.mu.Unlock()
	if prev, ok := d.cache.Get(key); ok && prev.role == role {
		d.logger.Debug("duplicate content suppressed",
			"role", role,
			"age", d.now().Sub(prev.seenAt).Round(time.Millisecond),
		)
		return true
	}
	d.cache.Add(key, fingerprint{role: role, seenAt: d.now()})
	return false
}

// IsDuplicate checks without marking.
func (d *DuplicateDetector) IsDuplicate(content, role string) bool {
	if len(strings.TrimSpace(content)) < MinDuplicateLength {
		return false
	}
	prev, ok := d.cache.Get(contentHash(content))
	return ok && prev.role == role
}

// MarkSeen records content without checking.
func (d *DuplicateDetector) MarkSeen(content, role string) {
	if len(strings.TrimSpace(content)) < MinDuplicateLength {
		return
	}
	d.cache.Add(contentHash(content), fingerprint{role: role, seenAt: d.now()})
}

// Seed pre-populates the detector from recent chat messages, typically the
// tail of the conversation log after a restart.
func (d *DuplicateDetector) Seed(messages []ChatMessage) {
	for _, msg := range messages {
		d.MarkSeen(msg.Content, msg.Role)
	}
}

// Len returns the number of live fingerprints.
func (d *DuplicateDetector) Len() int {
	return d.cache.Len()
}

// contentHash fingerprints content after lowercasing and collapsing runs
// of whitespace, so cosmetic reformatting still matches.
func contentHash(content string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(content), " "))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
