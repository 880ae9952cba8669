package calllog

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func setupTestStore(t *testing.T) *Store {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// Each connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestRecordAndRecent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	calls := []Record{
		{Timestamp: base, Server: "files", Tool: "read_file", OK: true, Duration: 40 * time.Millisecond},
		{Timestamp: base.Add(time.Second), Server: "files", Tool: "write_file", ErrorKind: "tool_execution", Duration: 15 * time.Millisecond},
		{Timestamp: base.Add(2 * time.Second), Server: "git", Tool: "log", OK: true, SessionID: "s1", Duration: time.Second},
	}
	for _, rec := range calls {
		if err := store.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	recent, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Recent returned %d records, want 2", len(recent))
	}
	if recent[0].Tool != "log" || recent[1].Tool != "write_file" {
		t.Errorf("Recent order = %s, %s; want log, write_file", recent[0].Tool, recent[1].Tool)
	}
	if recent[0].ID == "" {
		t.Error("ID not generated")
	}
	if recent[0].SessionID != "s1" || recent[0].Duration != time.Second {
		t.Errorf("recent[0] = %+v", recent[0])
	}
	if recent[1].OK || recent[1].ErrorKind != "tool_execution" {
		t.Errorf("recent[1] ok=%v error_kind=%q", recent[1].OK, recent[1].ErrorKind)
	}
	if !recent[1].Timestamp.Equal(base.Add(time.Second)) {
		t.Errorf("Timestamp = %v, want %v", recent[1].Timestamp, base.Add(time.Second))
	}
}

func TestSummaryByTool(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, ok := range []bool{true, false, true} {
		rec := Record{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Server:    "files",
			Tool:      "read_file",
			OK:        ok,
			Duration:  30 * time.Millisecond,
		}
		if !ok {
			rec.ErrorKind = "timeout"
		}
		if err := store.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	// Outside the window.
	if err := store.Record(ctx, Record{Timestamp: base.Add(-time.Hour), Server: "files", Tool: "read_file", OK: true}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	summary, err := store.SummaryByTool(ctx, base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("SummaryByTool: %v", err)
	}
	got, ok := summary["files/read_file"]
	if !ok {
		t.Fatalf("summary missing files/read_file: %v", summary)
	}
	if got.Calls != 3 || got.Failures != 1 {
		t.Errorf("calls=%d failures=%d, want 3 and 1", got.Calls, got.Failures)
	}
	if got.AvgDuration() != 30*time.Millisecond {
		t.Errorf("AvgDuration() = %v, want 30ms", got.AvgDuration())
	}
}

func TestSummary_AvgDurationEmpty(t *testing.T) {
	if d := (Summary{}).AvgDuration(); d != 0 {
		t.Errorf("AvgDuration() = %v, want 0", d)
	}
}
