package authcore

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// AuditEvent is one security-relevant occurrence: a login, a refresh, a
// lockout arming, a replay detection. ID is a ULID, so events sort by time.
// Reason carries the ReasonCode of the failure for unsuccessful events.
type AuditEvent struct {
	ID         string            `json:"id"`
	At         time.Time         `json:"at"`
	Type       string            `json:"type"`
	IdentityID string            `json:"identity_id,omitempty"`
	TenantID   string            `json:"tenant_id,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	IP         string            `json:"ip,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Success    bool              `json:"success"`
	Reason     string            `json:"reason,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives events from the engine's async dispatcher. Emit must
// not panic; slow sinks cause queue drops, never blocked logins.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// NoOpSink discards every event.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink forwards events to a buffered channel for consumption by the
// caller's own pipeline.
type ChannelSink struct {
	events chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan AuditEvent, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink writes one JSON object per line to w.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// ActivityEntry is the durable form of an audit event, written to the same
// database that holds identities so per-account history survives restarts.
type ActivityEntry struct {
	At         time.Time
	Type       string
	IdentityID string
	TenantID   string
	SessionID  string
	IP         string
	Success    bool
	Reason     string
}

// ActivityRecorder persists activity entries. The providers/postgres
// credential store implements it.
type ActivityRecorder interface {
	AppendActivityLog(ctx context.Context, entry ActivityEntry) error
}

// ActivityLogSink bridges audit events into an ActivityRecorder. Events
// with no identity attached are skipped; write failures are counted and the
// event is lost rather than retried, keeping the audit path non-blocking.
type ActivityLogSink struct {
	recorder ActivityRecorder
	failed   atomic.Uint64
}

func NewActivityLogSink(recorder ActivityRecorder) *ActivityLogSink {
	return &ActivityLogSink{recorder: recorder}
}

func (s *ActivityLogSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.recorder == nil || event.IdentityID == "" {
		return
	}

	entry := ActivityEntry{
		At:         event.At,
		Type:       event.Type,
		IdentityID: event.IdentityID,
		TenantID:   event.TenantID,
		SessionID:  event.SessionID,
		IP:         event.IP,
		Success:    event.Success,
		Reason:     event.Reason,
	}
	if err := s.recorder.AppendActivityLog(ctx, entry); err != nil {
		s.failed.Add(1)
	}
}

// Failed reports how many entries could not be written.
func (s *ActivityLogSink) Failed() uint64 {
	if s == nil {
		return 0
	}
	return s.failed.Load()
}
