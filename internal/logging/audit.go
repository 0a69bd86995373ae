package logging

import (
	"time"

	"go.uber.org/zap"
)

// AuditEventType names a plugin lifecycle event.
type AuditEventType string

const (
	AuditPluginLoad       AuditEventType = "plugin_load"
	AuditPluginLoadFailed AuditEventType = "plugin_load_failed"
	AuditPluginUnload     AuditEventType = "plugin_unload"
	AuditManagerClose     AuditEventType = "manager_close"
)

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	EventType AuditEventType
	Plugin    string // plugin name, empty when unknown
	Path      string // canonical module path
	ContextID string
	Duration  time.Duration
	Err       error
}

// Fields renders the event as zap fields.
func (e AuditEvent) Fields() []zap.Field {
	fields := []zap.Field{
		zap.String("event", string(e.EventType)),
		zap.Bool("success", e.Err == nil),
	}
	if e.Plugin != "" {
		fields = append(fields, zap.String("plugin", e.Plugin))
	}
	if e.Path != "" {
		fields = append(fields, zap.String("path", e.Path))
	}
	if e.ContextID != "" {
		fields = append(fields, zap.String("context", e.ContextID))
	}
	if e.Duration > 0 {
		fields = append(fields, zap.Duration("duration", e.Duration))
	}
	if e.Err != nil {
		fields = append(fields, zap.Error(e.Err))
	}
	return fields
}

// Audit writes an event to the audit category. Failures are logged at warn.
func Audit(e AuditEvent) {
	l := Get(CategoryAudit).Zap()
	if e.Err != nil {
		l.Warn(string(e.EventType), e.Fields()...)
		return
	}
	l.Info(string(e.EventType), e.Fields()...)
}
