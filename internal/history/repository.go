// Package history stores occupancy transitions and supervisor events in the
// presence_events table and serves them back for the HTTP API.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Entry kinds.
const (
	KindOccupancy = "occupancy"
	KindCommand   = "command"
)

// Occupancy events.
const (
	EventOccupied = "occupied"
	EventVacant   = "vacant"
)

// Page size bounds for List.
const (
	defaultLimit = 50
	maxLimit     = 500
)

// timeFormat sorts lexicographically in UTC, so created_at comparisons
// in SQL match chronological order.
const timeFormat = "2006-01-02T15:04:05.000000Z"

// Entry is one row of presence history.
type Entry struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	Event string `json:"event"`

	// ActivePct is the window activity when the entry was recorded.
	ActivePct float64 `json:"active_pct"`

	// Command fields are set for KindCommand entries only.
	Set          string `json:"set,omitempty"`
	Index        *int   `json:"index,omitempty"`
	Command      string `json:"command,omitempty"`
	PID          int    `json:"pid,omitempty"`
	ExitCode     *int   `json:"exit_code,omitempty"`
	Signal       string `json:"signal,omitempty"`
	RestartCount int    `json:"restart_count,omitempty"`
	Error        string `json:"error,omitempty"`

	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	Kind   string    // optional: occupancy or command
	Event  string    // optional: e.g. occupied, crashed
	Set    string    // optional: occupancy or vacancy command set
	Since  time.Time // optional: entries at or after this time
	Limit  int       // default 50, max 500
	Offset int
}

// ListResult is one page of entries, most recent first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

const selectColumns = `SELECT id, kind, event, active_pct, command_set, command_index, command, pid,
	exit_code, signal, restart_count, error, details, created_at FROM presence_events`

// Repository defines presence history operations.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteRepository stores history in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an already migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts e. ID and CreatedAt are filled in when empty.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = "evt-" + uuid.NewString()[:8]
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()

	var details any
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshalling history details: %w", err)
		}
		details = string(b)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO presence_events
		 (id, kind, event, active_pct, command_set, command_index, command, pid,
		  exit_code, signal, restart_count, error, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Kind, e.Event, e.ActivePct,
		nullableString(e.Set), nullableInt(e.Index), nullableString(e.Command),
		nullablePID(e.PID), nullableInt(e.ExitCode), nullableString(e.Signal),
		e.RestartCount, nullableString(e.Error), details,
		e.CreatedAt.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting history entry: %w", err)
	}
	return nil
}

// List returns entries matching filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	where, args := filter.where()

	// where only contains ? placeholders.
	countQuery := "SELECT COUNT(*) FROM presence_events" + where //nolint:gosec // parameterised
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting history entries: %w", err)
	}

	query := selectColumns + where + " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?" //nolint:gosec // parameterised
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

// Prune deletes entries older than before and returns how many went.
func (r *SQLiteRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM presence_events WHERE created_at < ?",
		before.UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning history: %w", err)
	}
	return n, nil
}

func (f Filter) where() (string, []any) {
	var conditions []string
	var args []any

	if f.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, f.Kind)
	}
	if f.Event != "" {
		conditions = append(conditions, "event = ?")
		args = append(args, f.Event)
	}
	if f.Set != "" {
		conditions = append(conditions, "command_set = ?")
		args = append(args, f.Set)
	}
	if !f.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, f.Since.UTC().Format(timeFormat))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e                          Entry
		set, command, signal, errS sql.NullString
		details                    sql.NullString
		index, pid, exitCode       sql.NullInt64
		createdAt                  string
	)

	if err := rows.Scan(&e.ID, &e.Kind, &e.Event, &e.ActivePct,
		&set, &index, &command, &pid, &exitCode, &signal,
		&e.RestartCount, &errS, &details, &createdAt); err != nil {
		return Entry{}, fmt.Errorf("scanning history entry: %w", err)
	}

	e.Set = set.String
	e.Command = command.String
	e.Signal = signal.String
	e.Error = errS.String
	if index.Valid {
		i := int(index.Int64)
		e.Index = &i
	}
	if pid.Valid {
		e.PID = int(pid.Int64)
	}
	if exitCode.Valid {
		c := int(exitCode.Int64)
		e.ExitCode = &c
	}
	if details.Valid && details.String != "" {
		var d map[string]any
		if json.Unmarshal([]byte(details.String), &d) == nil {
			e.Details = d
		}
	}

	t, err := time.Parse(timeFormat, createdAt)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return Entry{}, fmt.Errorf("parsing history timestamp %q: %w", createdAt, err)
		}
	}
	e.CreatedAt = t

	return e, nil
}

// nullableString maps "" to NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullablePID(pid int) any {
	if pid <= 0 {
		return nil
	}
	return pid
}

// IntPtr returns a pointer to v, for Entry.Index and Entry.ExitCode.
func IntPtr(v int) *int {
	return &v
}
