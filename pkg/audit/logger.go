// Copyright (c) 2026 CommerceKit, Inc.
//
// This file is part of edgeauth.
//
// edgeauth is licensed under the GNU Affero General Public License v3.0.
// See the LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/commercekit/edgeauth/pkg/correlation"
)

// Sink receives audit events. Implementations must treat events as
// immutable.
type Sink interface {
	Write(ctx context.Context, event *Event) error
}

// Logger fans audit events out to its sinks. Record never returns an error:
// audit failures must not fail the security decision being audited.
type Logger struct {
	sinks []Sink
	log   *slog.Logger
	nowFn func() time.Time
}

// NewLogger creates an audit logger writing to the given sinks.
func NewLogger(log *slog.Logger, sinks ...Sink) *Logger {
	if log == nil {
		log = slog.Default()
	}
	return &Logger{
		sinks: sinks,
		log:   log,
		nowFn: time.Now,
	}
}

// Record appends an event, filling ID, timestamp and correlation ID if
// unset. Sink failures are logged locally and swallowed.
func (l *Logger) Record(ctx context.Context, event *Event) {
	if event == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.nowFn().UTC()
	}
	if event.RequestID == "" {
		event.RequestID = correlation.FromContext(ctx)
	}

	for _, sink := range l.sinks {
		if err := sink.Write(ctx, event); err != nil {
			l.log.Warn("audit sink write failed",
				"event_id", event.ID,
				"action", string(event.Action),
				"error", err)
		}
	}
}

// SlogSink writes audit events as structured log lines. It is the always-on
// local sink.
type SlogSink struct {
	log *slog.Logger
}

// NewSlogSink creates a sink writing to the given logger.
func NewSlogSink(log *slog.Logger) *SlogSink {
	if log == nil {
		log = slog.Default()
	}
	return &SlogSink{log: log}
}

// Write emits the event as a single structured line.
func (s *SlogSink) Write(ctx context.Context, event *Event) error {
	attrs := []any{
		"event_id", event.ID,
		"action", string(event.Action),
		"success", event.Success,
		"subject", event.ActorSubject,
		"ip", event.ActorIP,
		"request_id", event.RequestID,
	}
	if event.ErrorCode != "" {
		attrs = append(attrs, "error_code", event.ErrorCode)
	}
	if event.ResourceID != "" {
		attrs = append(attrs, event.ResourceType, event.ResourceID)
	}
	if event.Success {
		s.log.Info("audit", attrs...)
	} else {
		s.log.Warn("audit", attrs...)
	}
	return nil
}
