package frames

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alecgard/ratekeeper/internal/tenant"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// stagingColumns is the column order of the frames table.
var stagingColumns = []string{
	"frame_begin", "frame_end", "namespace", "node", "metric", "pod",
	"quantity", "frame_price", "labels",
}

// DB is the subset of pgxpool.Pool used by the store.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ DB = (*pgxpool.Pool)(nil)

// MetricsRecorder is an optional interface for recording ingestion activity.
type MetricsRecorder interface {
	ObserveIngest(frames int, merged int64, seconds float64, status string)
}

// Store provides database operations on rated frames and their watermarks.
type Store struct {
	db        DB
	monotonic bool
	logger    *slog.Logger
	metrics   MetricsRecorder
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(db DB) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "frames"),
	}
}

// SetMonotonicWatermarks makes watermark upserts keep the later of the stored
// and the incoming timestamp instead of overwriting.
func (s *Store) SetMonotonicWatermarks(on bool) {
	s.monotonic = on
}

// SetMetrics sets the optional metrics recorder.
func (s *Store) SetMetrics(m MetricsRecorder) {
	s.metrics = m
}

// Ingest stages the batch, merges it into the frames table and advances the
// watermarks, all in one transaction. Frames whose natural key already exists
// are left untouched.
func (s *Store) Ingest(ctx context.Context, in *Ingest) (*Result, error) {
	start := time.Now()
	res, err := s.ingest(ctx, in)

	status := "ok"
	var merged int64
	if err != nil {
		status = "error"
		s.logger.Error("ingesting frames", "metric", in.Metric, "report", in.ReportName,
			"frames", len(in.Frames), "error", err)
	} else {
		merged = res.Merged
		s.logger.Info("frames ingested", "metric", in.Metric, "report", in.ReportName,
			"received", res.Received, "merged", res.Merged)
	}
	if s.metrics != nil {
		s.metrics.ObserveIngest(len(in.Frames), merged, time.Since(start).Seconds(), status)
	}
	return res, err
}

func (s *Store) ingest(ctx context.Context, in *Ingest) (*Result, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning ingestion transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	res := &Result{Received: len(in.Frames), Namespaces: len(in.Namespaces)}

	if len(in.Frames) > 0 {
		if _, err := tx.Exec(ctx,
			`CREATE TEMP TABLE IF NOT EXISTS frames_staging
			 (LIKE frames INCLUDING DEFAULTS) ON COMMIT DELETE ROWS`); err != nil {
			return nil, fmt.Errorf("creating staging table: %w", err)
		}

		rows := make([][]any, 0, len(in.Frames))
		for _, f := range in.Frames {
			rows = append(rows, []any{
				f.Begin, f.End, f.Namespace, f.Node, f.Metric, f.Pod,
				f.Quantity.Numeric(), f.Price.Numeric(), f.Labels,
			})
		}
		staged, err := tx.CopyFrom(ctx, pgx.Identifier{"frames_staging"}, stagingColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return nil, fmt.Errorf("staging frames: %w", err)
		}
		res.Staged = int(staged)

		tag, err := tx.Exec(ctx,
			`INSERT INTO frames SELECT DISTINCT * FROM frames_staging
			 ON CONFLICT ON CONSTRAINT frames_pkey DO NOTHING`)
		if err != nil {
			return nil, fmt.Errorf("merging frames: %w", err)
		}
		res.Merged = tag.RowsAffected()
	}

	if touched := touchedNamespaces(in); len(touched) > 0 {
		if _, err := tx.Exec(ctx,
			`INSERT INTO namespaces (namespace) SELECT unnest($1::text[])
			 ON CONFLICT ON CONSTRAINT namespaces_pkey DO NOTHING`, touched); err != nil {
			return nil, fmt.Errorf("registering namespaces: %w", err)
		}
	}

	if len(in.Namespaces) > 0 {
		if _, err := tx.Exec(ctx, s.namespaceStatusSQL(), in.Namespaces, in.ObservedAt); err != nil {
			return nil, fmt.Errorf("updating namespace watermarks: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, s.frameStatusSQL(), in.ReportName, in.Metric, in.ObservedAt); err != nil {
		return nil, fmt.Errorf("updating frame watermark: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing ingestion: %w", err)
	}
	return res, nil
}

func (s *Store) namespaceStatusSQL() string {
	set := `EXCLUDED.last_update`
	if s.monotonic {
		set = `GREATEST(namespace_status.last_update, EXCLUDED.last_update)`
	}
	return `INSERT INTO namespace_status (namespace, last_update)
		SELECT unnest($1::text[]), $2
		ON CONFLICT (namespace) DO UPDATE SET last_update = ` + set
}

func (s *Store) frameStatusSQL() string {
	set := `EXCLUDED.last_insert`
	if s.monotonic {
		set = `GREATEST(frame_status.last_insert, EXCLUDED.last_insert)`
	}
	return `INSERT INTO frame_status (report_name, metric, last_insert)
		VALUES ($1, $2, $3)
		ON CONFLICT ON CONSTRAINT frame_status_pkey DO UPDATE SET last_insert = ` + set
}

// touchedNamespaces returns the declared namespaces plus any namespace that
// only appears on a frame.
func touchedNamespaces(in *Ingest) []string {
	names := append([]string(nil), in.Namespaces...)
	for _, f := range in.Frames {
		names = append(names, f.Namespace)
	}
	return dedupe(names)
}

// DeleteResult counts the rows removed by DeleteByMetric.
type DeleteResult struct {
	Frames   int64 `json:"frames"`
	Statuses int64 `json:"statuses"`
}

// DeleteByMetric removes every frame of metric and its watermarks.
func (s *Store) DeleteByMetric(ctx context.Context, metric string) (*DeleteResult, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	framesTag, err := tx.Exec(ctx, `DELETE FROM frames WHERE metric = $1`, metric)
	if err != nil {
		return nil, fmt.Errorf("deleting frames of %s: %w", metric, err)
	}
	statusTag, err := tx.Exec(ctx, `DELETE FROM frame_status WHERE metric = $1`, metric)
	if err != nil {
		return nil, fmt.Errorf("deleting frame status of %s: %w", metric, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing delete of %s: %w", metric, err)
	}

	res := &DeleteResult{Frames: framesTag.RowsAffected(), Statuses: statusTag.RowsAffected()}
	s.logger.Info("frames deleted", "metric", metric, "frames", res.Frames, "statuses", res.Statuses)
	return res, nil
}

// Oldest returns the earliest frame end visible within scope, or nil when
// there is none.
func (s *Store) Oldest(ctx context.Context, scope tenant.Scope) (*time.Time, error) {
	if scope.Empty() {
		return nil, nil
	}

	query := `SELECT MIN(frame_end) FROM frames`
	var args []any
	if !scope.All {
		query += ` WHERE namespace = ANY($1)`
		args = append(args, scope.Namespaces)
	}

	var oldest *time.Time
	if err := s.db.QueryRow(ctx, query, args...).Scan(&oldest); err != nil {
		return nil, fmt.Errorf("querying oldest frame: %w", err)
	}
	if oldest != nil {
		utc := oldest.UTC()
		oldest = &utc
	}
	return oldest, nil
}

// StatusByMetric returns the watermarks of every report feeding metric.
func (s *Store) StatusByMetric(ctx context.Context, metric string) ([]Status, error) {
	return s.status(ctx, `WHERE metric = $1`, metric)
}

// StatusByReport returns the watermarks of every metric fed by report.
func (s *Store) StatusByReport(ctx context.Context, report string) ([]Status, error) {
	return s.status(ctx, `WHERE report_name = $1`, report)
}

// Statuses returns all watermarks.
func (s *Store) Statuses(ctx context.Context) ([]Status, error) {
	return s.status(ctx, ``)
}

func (s *Store) status(ctx context.Context, where string, args ...any) ([]Status, error) {
	rows, err := s.db.Query(ctx,
		`SELECT report_name, metric, last_insert FROM frame_status `+where+
			` ORDER BY report_name, metric`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying frame status: %w", err)
	}
	defer rows.Close()

	out := []Status{}
	for rows.Next() {
		var st Status
		if err := rows.Scan(&st.ReportName, &st.Metric, &st.LastInsert); err != nil {
			return nil, fmt.Errorf("scanning frame status: %w", err)
		}
		st.LastInsert = st.LastInsert.UTC()
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating frame status: %w", err)
	}
	return out, nil
}
