package manpower

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/internal/audit"
)

type (
	AuditEvent = audit.Event
	AuditSink  = audit.Sink
)

// Audit event types emitted by the controller.
const (
	AuditLoginSuccess          = "login_success"
	AuditLoginFailure          = "login_failure"
	AuditProviderRedirect      = "provider_redirect"
	AuditLogout                = "logout"
	AuditProfileProvisioned    = "profile_provisioned"
	AuditProvisioningPartial   = "provisioning_partial"
	AuditProvisioningReconcile = "provisioning_reconciled"
	AuditIdentityIncomplete    = "identity_incomplete"
	AuditProfileLookupFailure  = "profile_lookup_failure"
)

// NewJSONWriterSink writes one JSON object per event to w.
func NewJSONWriterSink(w io.Writer) AuditSink { return audit.NewJSONWriterSink(w) }

// NewSlogSink logs events through logger; failures log at WARN.
func NewSlogSink(logger *slog.Logger) AuditSink { return audit.NewSlogSink(logger) }

// Instruments bundles the counters and the audit dispatcher shared by every
// controller in a process. A nil *Instruments records nothing.
type Instruments struct {
	metrics *Metrics
	audit   *audit.Dispatcher
}

// NewInstruments builds counters from cfg.Metrics and, when cfg.Audit.Enabled,
// a dispatcher that delivers to sink.
func NewInstruments(cfg Config, sink AuditSink) *Instruments {
	return &Instruments{
		metrics: NewMetrics(cfg.Metrics),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, sink),
	}
}

func (i *Instruments) Metrics() *Metrics {
	if i == nil {
		return nil
	}
	return i.metrics
}

func (i *Instruments) MetricsSnapshot() MetricsSnapshot {
	return i.Metrics().Snapshot()
}

func (i *Instruments) AuditDropped() uint64 {
	if i == nil {
		return 0
	}
	return i.audit.Dropped()
}

// AuditDroppedByType breaks AuditDropped down by event type.
func (i *Instruments) AuditDroppedByType() map[string]uint64 {
	if i == nil {
		return map[string]uint64{}
	}
	return i.audit.DroppedByType()
}

// Flush waits until events emitted so far have reached the sink.
func (i *Instruments) Flush(ctx context.Context) error {
	if i == nil {
		return nil
	}
	return i.audit.Flush(ctx)
}

// Close flushes and stops the audit dispatcher.
func (i *Instruments) Close() {
	if i == nil {
		return
	}
	i.audit.Close()
}

func (i *Instruments) emit(ctx context.Context, eventType string, s *Session, success bool, err error, meta map[string]string) {
	if i == nil || i.audit == nil {
		return
	}
	ev := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		IP:        ClientIPFromContext(ctx),
		Success:   success,
		Metadata:  meta,
	}
	if s != nil {
		ev.Subject = s.Subject
		ev.SessionID = s.ID
		ev.Provider = s.Provider
	}
	if err != nil {
		ev.Error = err.Error()
	}
	i.audit.Emit(ctx, ev)
}
