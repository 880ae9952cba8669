// Package calllog keeps an append-only SQLite record of MCP tool
// invocations: which server and tool, whether it succeeded, how the
// failure was classified and how long it took.
package calllog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// tsLayout is fixed width so stored timestamps sort as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Record is one tool invocation.
type Record struct {
	ID        string
	Timestamp time.Time
	Server    string
	Tool      string
	SessionID string
	OK        bool
	ErrorKind string // "" on success, otherwise e.g. "timeout", "tool_execution"
	Duration  time.Duration
}

// Summary aggregates invocations of one tool.
type Summary struct {
	Calls         int
	Failures      int
	TotalDuration time.Duration
}

// AvgDuration returns the mean call duration.
func (s Summary) AvgDuration() time.Duration {
	if s.Calls == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Calls)
}

// Store is an append-only call log. All methods are safe for
// concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a call log database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open call log database: %w", err)
	}

	s, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an open database, creating the schema if needed.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate call log schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tool_calls (
		id          TEXT PRIMARY KEY,
		timestamp   TEXT NOT NULL,
		server      TEXT NOT NULL,
		tool        TEXT NOT NULL,
		session_id  TEXT,
		ok          INTEGER NOT NULL,
		error_kind  TEXT,
		duration_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_timestamp ON tool_calls(timestamp);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_tool ON tool_calls(server, tool);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record persists rec. An empty ID gets a UUIDv7 and a zero Timestamp
// becomes now.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate call record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_calls
			(id, timestamp, server, tool, session_id, ok, error_kind, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UTC().Format(tsLayout),
		rec.Server,
		rec.Tool,
		rec.SessionID,
		rec.OK,
		rec.ErrorKind,
		rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert call record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, server, tool, COALESCE(session_id, ''), ok, COALESCE(error_kind, ''), duration_ms
		 FROM tool_calls
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent calls: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec        Record
			ts         string
			durationMS int64
		)
		if err := rows.Scan(&rec.ID, &ts, &rec.Server, &rec.Tool, &rec.SessionID, &rec.OK, &rec.ErrorKind, &durationMS); err != nil {
			return nil, fmt.Errorf("scan call record: %w", err)
		}
		rec.Timestamp, err = time.Parse(tsLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("parse call timestamp %q: %w", ts, err)
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SummaryByTool returns per-tool totals for calls in [start, end),
// keyed by "server/tool".
func (s *Store) SummaryByTool(ctx context.Context, start, end time.Time) (map[string]*Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT server, tool, COUNT(*), COALESCE(SUM(CASE WHEN ok THEN 0 ELSE 1 END), 0), COALESCE(SUM(duration_ms), 0)
		 FROM tool_calls
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY server, tool`,
		start.UTC().Format(tsLayout),
		end.UTC().Format(tsLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("query call summary: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*Summary)
	for rows.Next() {
		var (
			server, tool string
			sum          Summary
			totalMS      int64
		)
		if err := rows.Scan(&server, &tool, &sum.Calls, &sum.Failures, &totalMS); err != nil {
			return nil, fmt.Errorf("scan call summary: %w", err)
		}
		sum.TotalDuration = time.Duration(totalMS) * time.Millisecond
		result[server+"/"+tool] = &sum
	}
	return result, rows.Err()
}
