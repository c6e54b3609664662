// Package lessons stores operator-correctable mistakes the assistant has
// made, keyed by category and problem, for injection into the interaction
// prompt.
package lessons

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lesson id does not exist.
var ErrNotFound = errors.New("lessons: not found")

// Lesson is one recorded mistake with its fix.
type Lesson struct {
	ID          int64
	Category    string
	Problem     string
	Solution    string
	Context     string
	Occurrences int
	LearnedAt   time.Time
	LastSeen    time.Time
}

// Store keeps lessons in an embedded SQLite database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
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

const schema = `
CREATE TABLE IF NOT EXISTS lessons (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	category    TEXT NOT NULL,
	problem     TEXT NOT NULL,
	solution    TEXT NOT NULL,
	context     TEXT NOT NULL DEFAULT '',
	occurrences INTEGER NOT NULL DEFAULT 1,
	learned_at  TEXT NOT NULL,
	last_seen   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_lessons_category ON lessons(category);
`

// OpenStore opens (and migrates) the lessons database at path.
func OpenStore(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open lessons store: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate lessons store: %w", err)
	}
	s := &Store{
		db:     db,
		logger: slog.Default().With("component", "lessons"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add records a lesson. A lesson with the same category and problem
// (case-insensitive) bumps its occurrence count instead of duplicating.
// It returns the stored lesson.
func (s *Store) Add(ctx context.Context, category, problem, solution, context_ string) (Lesson, error) {
	if category == "" || problem == "" || solution == "" {
		return Lesson{}, errors.New("lessons: category, problem and solution are required")
	}
	now := s.now().UTC()

	var id int64
	var occurrences int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, occurrences FROM lessons WHERE category = ? AND lower(problem) = lower(?)`,
		category, problem).Scan(&id, &occurrences)
	switch {
	case err == nil:
		occurrences++
		if _, err := s.db.ExecContext(ctx,
			`UPDATE lessons SET occurrences = ?, last_seen = ? WHERE id = ?`,
			occurrences, now.Format(time.RFC3339), id); err != nil {
			return Lesson{}, fmt.Errorf("bump lesson: %w", err)
		}
		s.logger.Info("incremented existing lesson", "category", category, "occurrences", occurrences)
		return s.Get(ctx, id)
	case errors.Is(err, sql.ErrNoRows):
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO lessons (category, problem, solution, context, occurrences, learned_at, last_seen)
			 VALUES (?, ?, ?, ?, 1, ?, ?)`,
			category, problem, solution, context_, now.Format(time.RFC3339), now.Format(time.RFC3339))
		if err != nil {
			return Lesson{}, fmt.Errorf("insert lesson: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return Lesson{}, fmt.Errorf("insert lesson id: %w", err)
		}
		s.logger.Info("new lesson learned", "category", category)
		return s.Get(ctx, id)
	default:
		return Lesson{}, fmt.Errorf("lookup lesson: %w", err)
	}
}

// Get fetches one lesson by id.
func (s *Store) Get(ctx context.Context, id int64) (Lesson, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, category, problem, solution, context, occurrences, learned_at, last_seen FROM lessons WHERE id = ?`, id)
	return scanLesson(row)
}

// List returns lessons, most frequent first, optionally filtered by
// category and minimum occurrence count.
func (s *Store) List(ctx context.Context, category string, minOccurrences int) ([]Lesson, error) {
	query := `SELECT id, category, problem, solution, context, occurrences, learned_at, last_seen FROM lessons WHERE occurrences >= ?`
	args := []any{max(minOccurrences, 1)}
	if category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY occurrences DESC, id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}
	defer rows.Close()

	var lessons []Lesson
	for rows.Next() {
		l, err := scanLesson(rows)
		if err != nil {
			return nil, err
		}
		lessons = append(lessons, l)
	}
	return lessons, rows.Err()
}

// Delete removes a lesson by id.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM lessons WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete lesson: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FormatForPrompt renders the top lessons as a markdown block for the
// interaction system prompt. Empty when nothing has been learned.
func (s *Store) FormatForPrompt(ctx context.Context, maxLessons int) (string, error) {
	lessons, err := s.List(ctx, "", 1)
	if err != nil {
		return "", err
	}
	if len(lessons) == 0 {
		return "", nil
	}
	if maxLessons > 0 && len(lessons) > maxLessons {
		lessons = lessons[:maxLessons]
	}

	var b strings.Builder
	b.WriteString("## LESSONS LEARNED\n\n")
	b.WriteString("These are mistakes you've made before. **AVOID REPEATING THEM:**\n")
	for i, l := range lessons {
		fmt.Fprintf(&b, "\n### Lesson %d (%dx)\n", i+1, l.Occurrences)
		fmt.Fprintf(&b, "**Problem:** %s\n", l.Problem)
		fmt.Fprintf(&b, "**Solution:** %s", l.Solution)
		if l.Context != "" {
			fmt.Fprintf(&b, "\n**Context:** %s", l.Context)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLesson(row rowScanner) (Lesson, error) {
	var l Lesson
	var learnedStr, seenStr string
	err := row.Scan(&l.ID, &l.Category, &l.Problem, &l.Solution, &l.Context, &l.Occurrences, &learnedStr, &seenStr)
	if errors.Is(err, sql.ErrNoRows) {
		return Lesson{}, ErrNotFound
	}
	if err != nil {
		return Lesson{}, fmt.Errorf("scan lesson: %w", err)
	}
	if l.LearnedAt, err = time.Parse(time.RFC3339, learnedStr); err != nil {
		return Lesson{}, fmt.Errorf("lesson %d learned_at: %w", l.ID, err)
	}
	if l.LastSeen, err = time.Parse(time.RFC3339, seenStr); err != nil {
		return Lesson{}, fmt.Errorf("lesson %d last_seen: %w", l.ID, err)
	}
	return l, nil
}
