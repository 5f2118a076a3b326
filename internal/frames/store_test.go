package frames

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alecgard/ratekeeper/internal/decimal"
	"github.com/alecgard/ratekeeper/internal/tenant"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// --- fakes ---

type execCall struct {
	sql  string
	args []any
}

type fakeTx struct {
	pgx.Tx
	execs      []execCall
	copied     [][]any
	copyTable  pgx.Identifier
	tags       map[string]string // SQL prefix -> command tag
	failOn     string
	committed  bool
	rolledBack bool
}

func (tx *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tx.execs = append(tx.execs, execCall{sql: sql, args: args})
	if tx.failOn != "" && strings.Contains(sql, tx.failOn) {
		return pgconn.CommandTag{}, errors.New("boom")
	}
	for prefix, tag := range tx.tags {
		if strings.HasPrefix(strings.TrimSpace(sql), prefix) {
			return pgconn.NewCommandTag(tag), nil
		}
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (tx *fakeTx) CopyFrom(ctx context.Context, table pgx.Identifier, cols []string, src pgx.CopyFromSource) (int64, error) {
	tx.copyTable = table
	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			return 0, err
		}
		tx.copied = append(tx.copied, vals)
	}
	return int64(len(tx.copied)), nil
}

func (tx *fakeTx) Commit(ctx context.Context) error {
	tx.committed = true
	return nil
}

func (tx *fakeTx) Rollback(ctx context.Context) error {
	if !tx.committed {
		tx.rolledBack = true
	}
	return nil
}

func (tx *fakeTx) executed(fragment string) bool {
	for _, e := range tx.execs {
		if strings.Contains(e.sql, fragment) {
			return true
		}
	}
	return false
}

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error {
	return r.scan(dest...)
}

type fakeDB struct {
	DB
	tx       *fakeTx
	row      fakeRow
	lastSQL  string
	lastArgs []any
}

func (db *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	return db.tx, nil
}

func (db *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	db.lastSQL, db.lastArgs = sql, args
	return db.row
}

type mockRecorder struct {
	frames int
	merged int64
	status string
}

func (m *mockRecorder) ObserveIngest(frames int, merged int64, seconds float64, status string) {
	m.frames, m.merged, m.status = frames, merged, status
}

func sampleIngest() *Ingest {
	begin := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	frame := Frame{
		Begin: begin, End: begin.Add(time.Hour),
		Namespace: "ns-a", Node: "node-1", Metric: "usage_cpu", Pod: "pod-1",
		Quantity: decimal.FromInt64(1), Price: decimal.MustNew("0.5"), Labels: []byte(`{}`),
	}
	orphan := frame
	orphan.Namespace = "ns-new"
	return &Ingest{
		Frames:     []Frame{frame, frame, orphan},
		Namespaces: []string{"ns-a"},
		Metric:     "usage_cpu",
		ReportName: "pod-cpu-usage-hourly",
		ObservedAt: begin.Add(time.Hour),
	}
}

// --- tests ---

func TestIngest(t *testing.T) {
	tx := &fakeTx{tags: map[string]string{"INSERT INTO frames": "INSERT 0 2"}}
	rec := &mockRecorder{}
	s := NewStore(&fakeDB{tx: tx})
	s.SetMetrics(rec)

	res, err := s.Ingest(context.Background(), sampleIngest())
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if res.Received != 3 || res.Staged != 3 || res.Merged != 2 {
		t.Errorf("unexpected result %+v", res)
	}
	if !tx.committed {
		t.Error("expected transaction to be committed")
	}
	if tx.copyTable[0] != "frames_staging" || len(tx.copied[0]) != len(stagingColumns) {
		t.Errorf("unexpected copy into %v with %d columns", tx.copyTable, len(tx.copied[0]))
	}
	if !tx.executed("SELECT DISTINCT * FROM frames_staging") {
		t.Error("expected the staging merge to run")
	}

	for _, e := range tx.execs {
		if strings.HasPrefix(strings.TrimSpace(e.sql), "INSERT INTO namespaces") {
			names := e.args[0].([]string)
			if len(names) != 2 || names[1] != "ns-new" {
				t.Errorf("expected frame namespaces to be registered, got %v", names)
			}
		}
		if strings.Contains(e.sql, "GREATEST") {
			t.Error("watermarks should overwrite unless monotonic is enabled")
		}
	}

	if rec.frames != 3 || rec.merged != 2 || rec.status != "ok" {
		t.Errorf("unexpected recorded ingest %+v", rec)
	}
}

func TestIngest_Idempotent(t *testing.T) {
	// A replayed batch conflicts on every natural key and merges nothing.
	tx := &fakeTx{tags: map[string]string{"INSERT INTO frames": "INSERT 0 0"}}
	s := NewStore(&fakeDB{tx: tx})

	res, err := s.Ingest(context.Background(), sampleIngest())
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if res.Merged != 0 {
		t.Errorf("expected nothing merged on replay, got %d", res.Merged)
	}
	if !tx.executed("INSERT INTO frame_status") {
		t.Error("expected the frame watermark to be upserted")
	}
}

func TestIngest_Monotonic(t *testing.T) {
	tx := &fakeTx{}
	s := NewStore(&fakeDB{tx: tx})
	s.SetMonotonicWatermarks(true)

	if _, err := s.Ingest(context.Background(), sampleIngest()); err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if !tx.executed("GREATEST(frame_status.last_insert") || !tx.executed("GREATEST(namespace_status.last_update") {
		t.Error("expected GREATEST guards on both watermarks")
	}
}

func TestIngest_FailureRollsBack(t *testing.T) {
	tx := &fakeTx{failOn: "INSERT INTO frame_status"}
	rec := &mockRecorder{}
	s := NewStore(&fakeDB{tx: tx})
	s.SetMetrics(rec)

	if _, err := s.Ingest(context.Background(), sampleIngest()); err == nil {
		t.Fatal("expected error")
	}
	if tx.committed || !tx.rolledBack {
		t.Error("expected rollback without commit")
	}
	if rec.status != "error" {
		t.Errorf("expected error status, got %q", rec.status)
	}
}

func TestIngest_EmptyBatchUpdatesWatermarks(t *testing.T) {
	tx := &fakeTx{}
	s := NewStore(&fakeDB{tx: tx})

	in := &Ingest{Metric: "usage_cpu", ReportName: "r", ObservedAt: time.Unix(100, 0).UTC()}
	res, err := s.Ingest(context.Background(), in)
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if res.Staged != 0 || tx.executed("frames_staging") {
		t.Error("expected no staging for an empty batch")
	}
	if !tx.executed("INSERT INTO frame_status") {
		t.Error("expected the frame watermark to be upserted")
	}
}

func TestDeleteByMetric(t *testing.T) {
	tx := &fakeTx{tags: map[string]string{
		"DELETE FROM frames":       "DELETE 12",
		"DELETE FROM frame_status": "DELETE 2",
	}}
	s := NewStore(&fakeDB{tx: tx})

	res, err := s.DeleteByMetric(context.Background(), "usage_cpu")
	if err != nil {
		t.Fatalf("DeleteByMetric() error: %v", err)
	}
	if res.Frames != 12 || res.Statuses != 2 {
		t.Errorf("unexpected result %+v", res)
	}
	if !tx.committed {
		t.Error("expected commit")
	}
}

func TestOldest(t *testing.T) {
	want := time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)
	db := &fakeDB{row: fakeRow{scan: func(dest ...any) error {
		p := dest[0].(**time.Time)
		*p = &want
		return nil
	}}}
	s := NewStore(db)

	got, err := s.Oldest(context.Background(), tenant.Scope{Namespaces: []string{"ns-a"}})
	if err != nil {
		t.Fatalf("Oldest() error: %v", err)
	}
	if got == nil || !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if !strings.Contains(db.lastSQL, "namespace = ANY($1)") {
		t.Errorf("expected scope filter, got %q", db.lastSQL)
	}

	db.lastSQL = ""
	if got, err := s.Oldest(context.Background(), tenant.Scope{}); err != nil || got != nil {
		t.Errorf("expected nil for an empty scope, got %v, %v", got, err)
	}
	if db.lastSQL != "" {
		t.Error("empty scope should not query the database")
	}
}
