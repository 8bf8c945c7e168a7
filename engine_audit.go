package tokenguard

import (
	"context"
	"log/slog"
	"time"
)

const (
	auditEventLoginSuccess         = "login_success"
	auditEventLoginFailure         = "login_failure"
	auditEventRefreshSuccess       = "refresh_success"
	auditEventRefreshInvalid       = "refresh_invalid"
	auditEventRefreshReuseDetected = "refresh_reuse_detected"
	auditEventLogout               = "logout"
	auditEventRevokeAll            = "revoke_all"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	subject string,
	tokenID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		Subject:   subject,
		TokenID:   tokenID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if kind := KindOf(err); kind != KindNone {
		event.Error = string(kind)
	}

	e.audit.Emit(ctx, event)
}

// logFailure logs err at the level its kind warrants. Unavailability is an
// operator problem, everything else is caller noise.
func (e *Engine) logFailure(ctx context.Context, op string, subject string, err error) {
	kind := KindOf(err)
	level := slog.LevelDebug
	switch kind {
	case KindUnavailable, KindInternal:
		level = slog.LevelError
	case KindTokenReuseDetected:
		level = slog.LevelWarn
	}
	e.logger.LogAttrs(ctx, level, op+" failed",
		slog.String("subject", subject),
		slog.String("kind", string(kind)),
		slog.String("error", err.Error()),
	)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observeLatency(start time.Time) {
	if e == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(MetricAuthenticateLatency, time.Since(start))
}
