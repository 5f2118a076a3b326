package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alecgard/ratekeeper/internal/auth"
	"github.com/alecgard/ratekeeper/internal/decimal"
	"github.com/alecgard/ratekeeper/internal/frames"
	"github.com/alecgard/ratekeeper/internal/rating"
	"github.com/alecgard/ratekeeper/internal/ratingconfig"
	"github.com/alecgard/ratekeeper/internal/tenant"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

const testAdminKey = "admin-secret"

// fakeRows serves canned rows to any of the scan targets the stores use.
type fakeRows struct {
	pgx.Rows
	data [][]any
	pos  int
}

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos <= len(r.data)
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.pos-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scanning %d columns into %d targets", len(row), len(dest))
	}
	for i, d := range dest {
		v := row[i]
		switch t := d.(type) {
		case *string:
			*t = v.(string)
		case *time.Time:
			*t = v.(time.Time)
		case *pgtype.Timestamptz:
			if v != nil {
				*t = pgtype.Timestamptz{Time: v.(time.Time), Valid: true}
			}
		case *pgtype.Text:
			if v != nil {
				*t = pgtype.Text{String: v.(string), Valid: true}
			}
		case *pgtype.Int8:
			if v != nil {
				*t = pgtype.Int8{Int64: v.(int64), Valid: true}
			}
		case *decimal.Decimal:
			txt := pgtype.Text{}
			if v != nil {
				txt = pgtype.Text{String: v.(string), Valid: true}
			}
			if err := t.ScanText(txt); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unexpected scan target %T", d)
		}
	}
	return nil
}

func (r *fakeRows) Close()     {}
func (r *fakeRows) Err() error { return nil }

type fakeRow struct {
	value any
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	switch t := dest[0].(type) {
	case **time.Time:
		if r.value != nil {
			v := r.value.(time.Time)
			*t = &v
		}
	case *string:
		*t = r.value.(string)
	}
	return nil
}

type recordedQuery struct {
	sql  string
	args []any
}

type fakeTx struct {
	pgx.Tx
	db *fakeDB
}

func (tx *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return tx.db.Exec(ctx, sql, args...)
}

func (tx *fakeTx) CopyFrom(ctx context.Context, table pgx.Identifier, cols []string, src pgx.CopyFromSource) (int64, error) {
	var n int64
	for src.Next() {
		n++
	}
	return n, nil
}

func (tx *fakeTx) Commit(ctx context.Context) error {
	tx.db.commits++
	return nil
}

func (tx *fakeTx) Rollback(ctx context.Context) error { return nil }

// fakeDB stands in for the connection pool behind every store. Tenant
// lookups are answered from namespaces, every other query from rows.
type fakeDB struct {
	namespaces map[string][]string
	rows       [][]any
	row        fakeRow
	queryErr   error
	execTags   map[string]string // SQL fragment -> command tag
	pingErr    error

	queries []recordedQuery
	execs   []recordedQuery
	commits int
}

func (db *fakeDB) Ping(ctx context.Context) error { return db.pingErr }

func (db *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	return &fakeTx{db: db}, nil
}

func (db *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.execs = append(db.execs, recordedQuery{sql: sql, args: args})
	for fragment, tag := range db.execTags {
		if strings.Contains(sql, fragment) {
			return pgconn.NewCommandTag(tag), nil
		}
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (db *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	db.queries = append(db.queries, recordedQuery{sql: sql, args: args})
	if strings.Contains(sql, "FROM namespaces WHERE tenant_id = $1") {
		var data [][]any
		for _, ns := range db.namespaces[args[0].(string)] {
			data = append(data, []any{ns})
		}
		return &fakeRows{data: data}, nil
	}
	if db.queryErr != nil {
		return nil, db.queryErr
	}
	return &fakeRows{data: db.rows}, nil
}

func (db *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	db.queries = append(db.queries, recordedQuery{sql: sql, args: args})
	return db.row
}

// lastQuery returns the most recent query that was not a tenant lookup.
func (db *fakeDB) lastQuery(t *testing.T) recordedQuery {
	t.Helper()
	for i := len(db.queries) - 1; i >= 0; i-- {
		if !strings.Contains(db.queries[i].sql, "WHERE tenant_id = $1") {
			return db.queries[i]
		}
	}
	t.Fatal("no query was run")
	return recordedQuery{}
}

// headerBackend trusts X-User and X-Groups, as a fronting proxy would.
var headerBackend = auth.NewTrustedHeaderBackend("X-User", "X-Groups")

type testServer struct {
	handler http.Handler
	db      *fakeDB
	configs *ratingconfig.Store
}

func newTestServer(t *testing.T, db *fakeDB) *testServer {
	t.Helper()
	if db == nil {
		db = &fakeDB{}
	}
	configs, err := ratingconfig.NewStore(t.TempDir(), 5*time.Millisecond, time.Minute)
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	tenants := tenant.NewStore(db)

	h := NewRouter(RouterDeps{
		Engine:       rating.NewEngine(db),
		FrameStore:   frames.NewStore(db),
		TenantStore:  tenants,
		Resolver:     tenant.NewResolver(tenants, "rating-admin"),
		ConfigStore:  configs,
		Backend:      headerBackend,
		Users:        auth.NewLocalBackend(db),
		DB:           db,
		Ranges:       rating.RangeDefaults{Skew: 5 * time.Minute, Window: 2*time.Hour + time.Minute},
		MaxBatchSize: 100,
		AdminKey:     testAdminKey,
	})
	return &testServer{handler: h, db: db, configs: configs}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) get(path, user string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if user != "" {
		req.Header.Set("X-User", user)
	}
	return s.do(req)
}

func (s *testServer) admin(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testAdminKey)
	req.Header.Set("Content-Type", "application/json")
	return s.do(req)
}

var errStorage = errors.New("connection reset")
