package auth

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/alecgard/ratekeeper/internal/tenant"
)

var (
	// ErrNoCredentials is returned by a Backend when the request carries no
	// identity at all.
	ErrNoCredentials = errors.New("no credentials")

	// ErrInvalidCredentials is returned when an identity was presented but
	// could not be verified.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Caller is the verified identity behind a request. ID is the tenant the
// caller acts as.
type Caller struct {
	ID     string
	Groups []string
	Admin  bool
}

// Anonymous returns the caller used for requests without credentials.
func Anonymous() *Caller {
	return &Caller{ID: tenant.DefaultTenant}
}

// InGroup reports whether the caller is a member of group.
func (c *Caller) InGroup(group string) bool {
	return slices.Contains(c.Groups, group)
}

// Backend verifies the identity carried by a request. One implementation is
// selected at startup.
type Backend interface {
	Verify(r *http.Request) (*Caller, error)
}

// TrustedHeaderBackend reads the identity set by an authenticating proxy in
// front of the service.
type TrustedHeaderBackend struct {
	UserHeader   string
	GroupsHeader string
}

// NewTrustedHeaderBackend creates a backend reading the given headers.
func NewTrustedHeaderBackend(userHeader, groupsHeader string) *TrustedHeaderBackend {
	return &TrustedHeaderBackend{UserHeader: userHeader, GroupsHeader: groupsHeader}
}

// Verify implements Backend.
func (b *TrustedHeaderBackend) Verify(r *http.Request) (*Caller, error) {
	user := strings.TrimSpace(r.Header.Get(b.UserHeader))
	if user == "" {
		return nil, ErrNoCredentials
	}
	c := &Caller{ID: user, Groups: splitGroups(r.Header.Get(b.GroupsHeader))}
	c.Admin = c.InGroup(tenant.AdminGroup)
	return c, nil
}

func splitGroups(v string) []string {
	var groups []string
	for _, g := range strings.Split(v, ",") {
		if g = strings.TrimSpace(g); g != "" {
			groups = append(groups, g)
		}
	}
	return groups
}
