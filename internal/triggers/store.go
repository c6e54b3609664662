// Package triggers persists scheduled agent wake-ups and runs the poll
// loop that fires them.
package triggers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Trigger statuses.
const (
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
)

// ErrNotFound is returned when a trigger id does not exist.
var ErrNotFound = errors.New("triggers: not found")

// Record is one stored trigger. Times are UTC; NextFire nil means a
// one-shot that already fired or a completed trigger.
type Record struct {
	ID             int64      `json:"id"`
	AgentName      string     `json:"agent_name"`
	Payload        string     `json:"payload"`
	RecurrenceRule string     `json:"recurrence_rule,omitempty"`
	StartTime      time.Time  `json:"start_time"`
	NextFire       *time.Time `json:"next_fire,omitempty"`
	Timezone       string     `json:"timezone"`
	Status         string     `json:"status"`
	LastError      string     `json:"last_error,omitempty"`
}

// Store keeps trigger records in an embedded SQLite database.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS triggers (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_name      TEXT NOT NULL,
	payload         TEXT NOT NULL,
	recurrence_rule TEXT NOT NULL DEFAULT '',
	start_time      TEXT NOT NULL,
	next_fire       TEXT,
	timezone        TEXT NOT NULL DEFAULT 'UTC',
	status          TEXT NOT NULL DEFAULT 'active',
	last_error      TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_triggers_due ON triggers(status, next_fire);
CREATE INDEX IF NOT EXISTS idx_triggers_agent ON triggers(agent_name);
`

// OpenStore opens (and migrates) the trigger database at path. Use
// ":memory:" for tests.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open trigger store: %w", err)
	}
	// The sqlite driver serializes writes; a single connection avoids
	// SQLITE_BUSY on concurrent fire updates.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate trigger store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a record and returns it with its assigned id. An empty
// status defaults to active; an empty timezone defaults to UTC. When
// NextFire is unset it is initialized from the start time and recurrence
// rule.
func (s *Store) Create(ctx context.Context, rec Record, now time.Time) (Record, error) {
	if rec.AgentName == "" {
		return Record{}, errors.New("triggers: agent name required")
	}
	if rec.Payload == "" {
		return Record{}, errors.New("triggers: payload required")
	}
	if rec.Status == "" {
		rec.Status = StatusActive
	}
	if rec.Timezone == "" {
		rec.Timezone = "UTC"
	}
	if rec.StartTime.IsZero() {
		rec.StartTime = now.UTC()
	}
	rec.StartTime = rec.StartTime.UTC()

	if rec.NextFire == nil {
		next, err := InitialNextFire(rec, now)
		if err != nil {
			return Record{}, err
		}
		rec.NextFire = next
	}

	nowStr := formatTime(now.UTC())
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO triggers (agent_name, payload, recurrence_rule, start_time, next_fire, timezone, status, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.AgentName, rec.Payload, rec.RecurrenceRule, formatTime(rec.StartTime),
		nullableTime(rec.NextFire), rec.Timezone, rec.Status, rec.LastError, nowStr, nowStr)
	if err != nil {
		return Record{}, fmt.Errorf("insert trigger: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Record{}, fmt.Errorf("insert trigger id: %w", err)
	}
	rec.ID = id
	return rec, nil
}

// Get fetches one trigger by id.
func (s *Store) Get(ctx context.Context, id int64) (Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	return scanRecord(row)
}

// List returns triggers, optionally filtered by agent name, ordered by id.
func (s *Store) List(ctx context.Context, agentName string) ([]Record, error) {
	query := selectColumns
	var args []any
	if agentName != "" {
		query += ` WHERE agent_name = ?`
		args = append(args, agentName)
	}
	query += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Due returns active triggers whose next fire time falls at or before the
// cutoff, ordered by fire time.
func (s *Store) Due(ctx context.Context, before time.Time) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` WHERE status = ? AND next_fire IS NOT NULL AND next_fire <= ? ORDER BY next_fire`,
		StatusActive, formatTime(before.UTC()))
	if err != nil {
		return nil, fmt.Errorf("query due triggers: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// UpdateFields is a partial update; nil fields are left untouched.
type UpdateFields struct {
	Payload        *string
	RecurrenceRule *string
	StartTime      *time.Time
	NextFire       **time.Time
	Timezone       *string
	Status         *string
}

// Update applies a partial update and returns the resulting record.
func (s *Store) Update(ctx context.Context, id int64, fields UpdateFields, now time.Time) (Record, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if fields.Payload != nil {
		rec.Payload = *fields.Payload
	}
	if fields.RecurrenceRule != nil {
		rec.RecurrenceRule = *fields.RecurrenceRule
	}
	if fields.StartTime != nil {
		rec.StartTime = fields.StartTime.UTC()
		// A moved start time invalidates the scheduled fire.
		if fields.NextFire == nil {
			next, err := InitialNextFire(rec, now)
			if err != nil {
				return Record{}, err
			}
			rec.NextFire = next
		}
	}
	if fields.NextFire != nil {
		rec.NextFire = *fields.NextFire
	}
	if fields.Timezone != nil {
		rec.Timezone = *fields.Timezone
	}
	if fields.Status != nil {
		rec.Status = *fields.Status
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE triggers SET payload = ?, recurrence_rule = ?, start_time = ?, next_fire = ?, timezone = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		rec.Payload, rec.RecurrenceRule, formatTime(rec.StartTime), nullableTime(rec.NextFire),
		rec.Timezone, rec.Status, formatTime(now.UTC()), id)
	if err != nil {
		return Record{}, fmt.Errorf("update trigger: %w", err)
	}
	return rec, nil
}

// SetNextFire writes the next scheduled fire time (nil clears it).
func (s *Store) SetNextFire(ctx context.Context, id int64, next *time.Time, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE triggers SET next_fire = ?, updated_at = ? WHERE id = ?`,
		nullableTime(next), formatTime(now.UTC()), id)
	if err != nil {
		return fmt.Errorf("set next fire: %w", err)
	}
	return nil
}

// MarkCompleted finalizes a one-shot trigger after a successful fire.
func (s *Store) MarkCompleted(ctx context.Context, id int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE triggers SET status = ?, next_fire = NULL, updated_at = ? WHERE id = ?`,
		StatusCompleted, formatTime(now.UTC()), id)
	if err != nil {
		return fmt.Errorf("complete trigger: %w", err)
	}
	return nil
}

// RecordFailure stores the last execution error without changing status.
func (s *Store) RecordFailure(ctx context.Context, id int64, errText string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE triggers SET last_error = ?, updated_at = ? WHERE id = ?`,
		truncate(errText, 1000), formatTime(now.UTC()), id)
	if err != nil {
		return fmt.Errorf("record trigger failure: %w", err)
	}
	return nil
}

// Delete removes a trigger.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM triggers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete trigger: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const selectColumns = `SELECT id, agent_name, payload, recurrence_rule, start_time, next_fire, timezone, status, last_error FROM triggers`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var startStr string
	var nextStr sql.NullString
	err := row.Scan(&rec.ID, &rec.AgentName, &rec.Payload, &rec.RecurrenceRule,
		&startStr, &nextStr, &rec.Timezone, &rec.Status, &rec.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("scan trigger: %w", err)
	}
	rec.StartTime, err = parseTime(startStr)
	if err != nil {
		return Record{}, fmt.Errorf("trigger %d start_time: %w", rec.ID, err)
	}
	if nextStr.Valid {
		t, err := parseTime(nextStr.String)
		if err != nil {
			return Record{}, fmt.Errorf("trigger %d next_fire: %w", rec.ID, err)
		}
		rec.NextFire = &t
	}
	return rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
