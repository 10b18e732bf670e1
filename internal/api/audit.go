package api

import (
	"log/slog"
	"net/http"

	"github.com/sparkgate/sparkgate/internal/auth"
)

// auditLog emits a structured audit log entry for a billable account action.
func auditLog(r *http.Request, action string, resourceType string, resourceID string, detail ...any) {
	attrs := []any{
		"action", action,
		"resource_type", resourceType,
		"resource_id", resourceID,
		"ip", clientIP(r),
		"request_id", RequestIDFromContext(r.Context()),
	}

	if a := auth.AccountFromContext(r.Context()); a != nil {
		attrs = append(attrs, "account_id", a.ID, "account_email", a.Email)
	}

	attrs = append(attrs, detail...)
	slog.Info("audit", attrs...)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
