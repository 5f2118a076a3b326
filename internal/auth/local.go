package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/alecgard/ratekeeper/internal/tenant"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// Groups a local user may belong to.
const (
	GroupAdmin = tenant.AdminGroup
	GroupUser  = "user"
)

// ErrUserExists is returned when creating a local user that already exists.
var ErrUserExists = errors.New("user already exists")

// ErrInvalidGroup is returned for groups other than GroupAdmin and GroupUser.
var ErrInvalidGroup = errors.New("group must be admin or user")

// DB is the subset of pgxpool.Pool used by the local backend.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ DB = (*pgxpool.Pool)(nil)

// LocalBackend verifies HTTP basic credentials against the users table.
type LocalBackend struct {
	db DB
}

// NewLocalBackend creates a LocalBackend backed by the given connection pool.
func NewLocalBackend(db DB) *LocalBackend {
	return &LocalBackend{db: db}
}

// Verify implements Backend.
func (b *LocalBackend) Verify(r *http.Request) (*Caller, error) {
	id, password, ok := r.BasicAuth()
	if !ok || id == "" {
		return nil, ErrNoCredentials
	}
	return b.Authenticate(r.Context(), id, password)
}

// Authenticate checks the password of a local user and loads its groups.
func (b *LocalBackend) Authenticate(ctx context.Context, id, password string) (*Caller, error) {
	var hash string
	err := b.db.QueryRow(ctx, `SELECT password FROM users WHERE tenant_id = $1`, id).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user %s: %w", id, err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	rows, err := b.db.Query(ctx,
		`SELECT user_group FROM group_tenant WHERE tenant_id = $1 ORDER BY user_group`, id)
	if err != nil {
		return nil, fmt.Errorf("querying groups of %s: %w", id, err)
	}
	defer rows.Close()

	c := &Caller{ID: id}
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, fmt.Errorf("scanning group: %w", err)
		}
		c.Groups = append(c.Groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating groups: %w", err)
	}
	c.Admin = c.InGroup(GroupAdmin)
	return c, nil
}

// AddUser creates a local user with a bcrypt-hashed password in one group.
func (b *LocalBackend) AddUser(ctx context.Context, id, password, group string) error {
	if group == "" {
		group = GroupUser
	}
	if group != GroupAdmin && group != GroupUser {
		return ErrInvalidGroup
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	tx, err := b.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning user transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO users (tenant_id, password) VALUES ($1, $2)`, id, string(hash)); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrUserExists
		}
		return fmt.Errorf("inserting user %s: %w", id, err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO group_tenant (tenant_id, user_group) VALUES ($1, $2)`, id, group); err != nil {
		return fmt.Errorf("inserting group of %s: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing user %s: %w", id, err)
	}
	return nil
}
