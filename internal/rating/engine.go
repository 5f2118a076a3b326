// Package rating answers aggregation queries over rated frames, restricted
// to the namespaces a caller may see.
package rating

import (
	"context"
	"fmt"
	"time"

	"github.com/alecgard/ratekeeper/internal/tenant"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Sentinel is the dimension value that selects the cross-dimension variant
// of a calendar query.
const Sentinel = "rating"

// Row is one result record keyed by column name.
type Row map[string]any

// Querier is the subset of pgxpool.Pool used by the engine.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var _ Querier = (*pgxpool.Pool)(nil)

// Engine runs rating queries.
type Engine struct {
	db  Querier
	now func() time.Time
}

// NewEngine creates an Engine backed by the given connection pool.
func NewEngine(db Querier) *Engine {
	return &Engine{db: db, now: time.Now}
}

// Now returns the engine's notion of the current time, in UTC.
func (e *Engine) Now() time.Time {
	return e.now().UTC()
}

func (e *Engine) run(ctx context.Context, scope tenant.Scope, q query) ([]Row, error) {
	if scope.Empty() {
		return []Row{}, nil
	}

	sql, args := q.build(scope)
	rows, err := e.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", q.name, err)
	}
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		dest := make([]any, len(q.cols))
		for i, c := range q.cols {
			dest[i] = c.target()
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", q.name, err)
		}
		row := make(Row, len(q.cols))
		for i, c := range q.cols {
			row[c.name] = c.value(dest[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", q.name, err)
	}
	return out, nil
}
