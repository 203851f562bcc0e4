package observability

import (
	"context"

	"inventorycore/internal/core"
)

// LogAuditRecorder writes audit entries to a logger.
type LogAuditRecorder struct {
	logger *Logger
}

// NewLogAuditRecorder records through logger tagged as the audit stream.
func NewLogAuditRecorder(logger *Logger) *LogAuditRecorder {
	return &LogAuditRecorder{logger: logger.With("stream", "audit")}
}

// Record implements core.AuditRecorder.
func (r *LogAuditRecorder) Record(_ context.Context, e core.AuditEntry) {
	r.logger.Info("audit",
		"operation", e.Operation,
		"action", string(e.Action),
		"entity", e.EntityID,
		"actor", e.Actor,
		"duration_ms", e.Duration.Milliseconds(),
		"at", e.Timestamp,
	)
}
