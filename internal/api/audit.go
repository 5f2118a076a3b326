package api

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/alecgard/ratekeeper/internal/auth"
)

// auditLog emits a structured audit entry for an administrative write.
// Admin routes authenticate with the shared key, so the caller is usually
// absent and the client address identifies the actor.
func auditLog(r *http.Request, action string, resourceType string, resourceID string, detail ...any) {
	attrs := []any{
		"action", action,
		"resource_type", resourceType,
		"resource_id", resourceID,
		"ip", clientIP(r),
		"request_id", RequestIDFromContext(r.Context()),
	}

	if c := auth.CallerFromContext(r.Context()); c != nil {
		attrs = append(attrs, "caller", c.ID, "admin", c.Admin)
	}

	attrs = append(attrs, detail...)
	slog.Info("audit", attrs...)
}

// clientIP returns the first X-Forwarded-For hop, or the peer address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
