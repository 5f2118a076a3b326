package rating

import (
	"fmt"
	"strings"
	"time"

	"github.com/alecgard/ratekeeper/internal/decimal"
	"github.com/alecgard/ratekeeper/internal/tenant"
	"github.com/jackc/pgx/v5/pgtype"
)

// kind selects how a result column is scanned and rendered.
type kind int

const (
	kindText kind = iota
	kindTime
	kindDecimal
	kindInt
)

type column struct {
	name string
	expr string
	kind kind
}

func (c column) selectExpr() string {
	expr := c.expr
	if expr == "" {
		expr = c.name
	}
	if c.kind == kindDecimal {
		// Cast to text so NUMERIC values scan without a float round trip.
		return fmt.Sprintf("(%s)::text AS %s", expr, c.name)
	}
	if expr == c.name {
		return expr
	}
	return fmt.Sprintf("%s AS %s", expr, c.name)
}

func (c column) target() any {
	switch c.kind {
	case kindTime:
		return new(pgtype.Timestamptz)
	case kindDecimal:
		return new(decimal.Decimal)
	case kindInt:
		return new(pgtype.Int8)
	default:
		return new(pgtype.Text)
	}
}

func (c column) value(target any) any {
	switch v := target.(type) {
	case *pgtype.Timestamptz:
		if !v.Valid {
			return nil
		}
		return v.Time.UTC()
	case *decimal.Decimal:
		return *v
	case *pgtype.Int8:
		if !v.Valid {
			return nil
		}
		return v.Int64
	case *pgtype.Text:
		if !v.Valid {
			return nil
		}
		return v.String
	}
	return nil
}

// Common result columns.
var (
	colBegin     = column{name: "frame_begin", kind: kindTime}
	colEnd       = column{name: "frame_end", kind: kindTime}
	colPrice     = column{name: "frame_price", kind: kindDecimal}
	colSumPrice  = column{name: "frame_price", expr: "sum(frame_price)", kind: kindDecimal}
	colNamespace = column{name: "namespace"}
	colNode      = column{name: "node"}
	colPod       = column{name: "pod"}
	colMetric    = column{name: "metric"}
)

type filter struct {
	column string
	value  any
}

// query describes one aggregation over the frames table.
type query struct {
	name    string
	cols    []column
	filters []filter

	// window bounds frame_begin from below and frame_end from above. openEnd
	// makes the upper bound exclusive.
	window  *Range
	openEnd bool

	// excludeUnspecified drops frames of the unspecified namespace or pod.
	excludeUnspecified bool

	groupBy []string
	orderBy []string
}

// build renders the SQL and its positional arguments. Visibility is always
// enforced unless the scope is unrestricted.
func (q query) build(scope tenant.Scope) (string, []any) {
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	exprs := make([]string, len(q.cols))
	for i, c := range q.cols {
		exprs[i] = c.selectExpr()
	}

	var where []string
	for _, f := range q.filters {
		where = append(where, f.column+" = "+arg(f.value))
	}
	if q.window != nil {
		where = append(where, "frame_begin >= "+arg(q.window.Start))
		op := "<="
		if q.openEnd {
			op = "<"
		}
		where = append(where, "frame_end "+op+" "+arg(q.window.End))
	}
	if q.excludeUnspecified {
		where = append(where,
			"namespace != '"+tenant.Unspecified+"'",
			"pod != '"+tenant.Unspecified+"'")
	}
	if !scope.All {
		where = append(where, "namespace = ANY("+arg(scope.Namespaces)+")")
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(exprs, ", "))
	b.WriteString(" FROM frames")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	if len(q.groupBy) > 0 {
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(q.groupBy, ", "))
	}
	if len(q.orderBy) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(q.orderBy, ", "))
	}
	return b.String(), args
}

// Range is a query interval over frame timestamps.
type Range struct {
	Start time.Time
	End   time.Time
}
