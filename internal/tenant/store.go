package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a tenant has no namespace bound to it.
var ErrNotFound = errors.New("tenant not found")

// ErrNamespaceNotFound is returned when none of the given namespaces exist.
var ErrNamespaceNotFound = errors.New("namespace not found")

// Binding is the ownership of one namespace by one tenant.
type Binding struct {
	Namespace string `json:"namespace"`
	TenantID  string `json:"tenant_id"`
}

// DB is the subset of pgxpool.Pool used by the store.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var _ DB = (*pgxpool.Pool)(nil)

// Store provides database operations on namespace to tenant bindings.
type Store struct {
	db DB
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// NamespacesFor returns the namespaces owned by tenantID, sorted by name.
func (s *Store) NamespacesFor(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT namespace FROM namespaces WHERE tenant_id = $1 ORDER BY namespace`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying tenant namespaces: %w", err)
	}
	return collectStrings(rows)
}

// Tenants returns every tenant that owns at least one namespace.
func (s *Store) Tenants(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT tenant_id FROM namespaces GROUP BY tenant_id ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("querying tenants: %w", err)
	}
	return collectStrings(rows)
}

// Bindings lists the namespace bindings visible within scope.
func (s *Store) Bindings(ctx context.Context, scope Scope) ([]Binding, error) {
	if scope.Empty() {
		return []Binding{}, nil
	}

	query := `SELECT namespace, tenant_id FROM namespaces`
	var args []any
	if !scope.All {
		query += ` WHERE namespace = ANY($1)`
		args = append(args, scope.Namespaces)
	}
	query += ` ORDER BY namespace`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing namespaces: %w", err)
	}
	defer rows.Close()

	bindings := []Binding{}
	for rows.Next() {
		var b Binding
		if err := rows.Scan(&b.Namespace, &b.TenantID); err != nil {
			return nil, fmt.Errorf("scanning namespace row: %w", err)
		}
		bindings = append(bindings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating namespace rows: %w", err)
	}
	return bindings, nil
}

// Link moves the given namespaces under tenantID. It returns the number of
// namespaces that existed and were updated.
func (s *Store) Link(ctx context.Context, tenantID string, namespaces []string) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE namespaces SET tenant_id = $1 WHERE namespace = ANY($2)`, tenantID, namespaces)
	if err != nil {
		return 0, fmt.Errorf("linking namespaces to %s: %w", tenantID, err)
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrNamespaceNotFound
	}
	return tag.RowsAffected(), nil
}

// Unlink returns the given namespaces to the default tenant.
// ErrNamespaceNotFound is returned when none of them is bound.
func (s *Store) Unlink(ctx context.Context, namespaces []string) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE namespaces SET tenant_id = $1 WHERE namespace = ANY($2)`, DefaultTenant, namespaces)
	if err != nil {
		return 0, fmt.Errorf("unlinking namespaces: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrNamespaceNotFound
	}
	return tag.RowsAffected(), nil
}

// Bind creates or replaces the binding of a single namespace.
func (s *Store) Bind(ctx context.Context, namespace, tenantID string) error {
	if tenantID == "" {
		tenantID = DefaultTenant
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO namespaces (namespace, tenant_id) VALUES ($1, $2)
		 ON CONFLICT ON CONSTRAINT namespaces_pkey
		 DO UPDATE SET tenant_id = EXCLUDED.tenant_id`, namespace, tenantID)
	if err != nil {
		return fmt.Errorf("binding namespace %s: %w", namespace, err)
	}
	return nil
}

// Delete removes every binding owned by tenantID.
func (s *Store) Delete(ctx context.Context, tenantID string) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM namespaces WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return 0, fmt.Errorf("deleting tenant %s: %w", tenantID, err)
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrNotFound
	}
	return tag.RowsAffected(), nil
}

func collectStrings(rows pgx.Rows) ([]string, error) {
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return out, nil
}
