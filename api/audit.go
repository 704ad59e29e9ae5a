package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditAuthURICreated         AuditEvent = "auth_uri_created"
	AuditAuthURIRejected        AuditEvent = "auth_uri_rejected"
	AuditCodeIssued             AuditEvent = "code_issued"
	AuditHandoffUnauthenticated AuditEvent = "handoff_unauthenticated"
	AuditHandoffRejected        AuditEvent = "handoff_rejected"
	AuditExchangeSuccess        AuditEvent = "code_exchange_success"
	AuditExchangeFailure        AuditEvent = "code_exchange_failure"
	AuditExchangeRateLimited    AuditEvent = "exchange_rate_limited"
	AuditRefreshSuccess         AuditEvent = "refresh_success"
	AuditRefreshFailure         AuditEvent = "refresh_failure"
)

// auditLogger wraps slog.Logger for structured security audit logging.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	baseAttrs = append(baseAttrs, attrs...)

	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)
	if al.metrics != nil {
		al.metrics.recordEvent(event)
	}
}

// logEvent is a convenience for events with a user ID. An empty userID is
// omitted; the token endpoints never learn who they served beyond the
// subject claim.
func (al *auditLogger) logEvent(event AuditEvent, r *http.Request, userID string, extra ...slog.Attr) {
	var attrs []slog.Attr
	if userID != "" {
		attrs = append(attrs, slog.String("user_id", userID))
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}

// logFailure logs a failed attempt with its internal cause. The cause
// never reaches the HTTP response.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("reason", reason),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}
