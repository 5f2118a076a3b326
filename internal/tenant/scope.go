package tenant

import (
	"context"
	"fmt"
	"slices"
)

const (
	// DefaultTenant owns every namespace that was never linked elsewhere and
	// is the identity of callers that could not be resolved.
	DefaultTenant = "default"

	// Unspecified is the namespace used for frames that could not be
	// attributed to a real namespace.
	Unspecified = "unspecified"

	// AdminGroup is the group name that grants visibility over all namespaces.
	AdminGroup = "admin"
)

// Scope is the set of namespaces a caller may see. All means no restriction.
type Scope struct {
	All        bool
	Namespaces []string
}

// Unrestricted returns a scope covering every namespace.
func Unrestricted() Scope {
	return Scope{All: true}
}

// Empty reports whether the scope can match no namespace at all.
func (s Scope) Empty() bool {
	return !s.All && len(s.Namespaces) == 0
}

// Contains reports whether the namespace is visible within the scope.
func (s Scope) Contains(namespace string) bool {
	if s.All {
		return true
	}
	return slices.Contains(s.Namespaces, namespace)
}

// NamespaceLookup returns the namespaces bound to a tenant.
type NamespaceLookup interface {
	NamespacesFor(ctx context.Context, tenantID string) ([]string, error)
}

// Resolver turns a caller identity into the namespaces it may query.
type Resolver struct {
	lookup       NamespaceLookup
	adminAccount string
}

// NewResolver creates a Resolver. adminAccount is the distinguished identity
// that always sees every namespace.
func NewResolver(lookup NamespaceLookup, adminAccount string) *Resolver {
	return &Resolver{lookup: lookup, adminAccount: adminAccount}
}

// Resolve returns the visible scope for the principal. admin must only be
// true when the caller's membership in the admin group was verified.
func (r *Resolver) Resolve(ctx context.Context, principal string, admin bool) (Scope, error) {
	if principal == "" {
		principal = DefaultTenant
	}
	if admin || (r.adminAccount != "" && principal == r.adminAccount) {
		return Unrestricted(), nil
	}

	namespaces, err := r.lookup.NamespacesFor(ctx, principal)
	if err != nil {
		return Scope{}, fmt.Errorf("resolving namespaces for %s: %w", principal, err)
	}
	if len(namespaces) > 0 && !slices.Contains(namespaces, Unspecified) {
		namespaces = append(namespaces, Unspecified)
	}
	return Scope{Namespaces: namespaces}, nil
}
