// Package audit emits the structured JSON record every admin action must
// produce. It never logs secret material — callers pass an
// already-fingerprinted admin identity, never a raw token.
package audit

import (
	"time"

	"go.uber.org/zap"
)

// Event is the admin audit record shape.
type Event struct {
	EventName     string
	Action        string
	Result        string // "ok" or "error"
	AdminIdentity string
	IP            string
	RequestID     string
	Detail        map[string]any
	Timestamp     time.Time
}

// Mirror is implemented by internal/auditstore's best-effort Postgres sink.
// Kept as a narrow interface here so audit has no compile-time dependency
// on database/sql or lib/pq.
type Mirror interface {
	Write(Event) error
}

// Sink logs every admin action via zap and, if configured, mirrors it into
// the optional Postgres audit trail.
type Sink struct {
	logger *zap.Logger
	mirror Mirror
}

func New(logger *zap.Logger, mirror Mirror) *Sink {
	return &Sink{logger: logger, mirror: mirror}
}

// Record emits one log line and, best-effort, one mirror write. A mirror
// failure is logged once and never affects the caller.
func (s *Sink) Record(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	fields := []zap.Field{
		zap.String("event", e.EventName),
		zap.String("action", e.Action),
		zap.String("result", e.Result),
		zap.String("admin_identity", e.AdminIdentity),
		zap.String("ip", e.IP),
	}
	if e.RequestID != "" {
		fields = append(fields, zap.String("request_id", e.RequestID))
	}
	for key, value := range e.Detail {
		fields = append(fields, zap.Any(key, value))
	}

	if e.Result == "error" {
		s.logger.Warn("admin action", fields...)
	} else {
		s.logger.Info("admin action", fields...)
	}

	if s.mirror == nil {
		return
	}
	if err := s.mirror.Write(e); err != nil {
		s.logger.Warn("audit: mirror write failed", zap.Error(err))
	}
}
