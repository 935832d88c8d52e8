// Copyright (c) 2026 CommerceKit, Inc.
//
// This file is part of edgeauth.
//
// edgeauth is licensed under the GNU Affero General Public License v3.0.
// See the LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package audit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercekit/edgeauth/pkg/correlation"
)

type captureSink struct {
	events []*Event
	err    error
}

func (s *captureSink) Write(ctx context.Context, event *Event) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func TestRecordFillsMetadata(t *testing.T) {
	sink := &captureSink{}
	logger := NewLogger(slog.Default(), sink)

	ctx := correlation.WithID(context.Background(), "corr-1")
	logger.Record(ctx, &Event{
		Action:       ActionAuthnFinish,
		ActorSubject: "alice@x.com",
		Success:      true,
	})

	require.Len(t, sink.events, 1)
	event := sink.events[0]
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.Timestamp.IsZero())
	assert.Equal(t, "corr-1", event.RequestID)
}

func TestRecordPreservesExplicitFields(t *testing.T) {
	sink := &captureSink{}
	logger := NewLogger(slog.Default(), sink)

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	logger.Record(context.Background(), &Event{
		ID:        "fixed-id",
		Timestamp: ts,
		RequestID: "fixed-request",
		Action:    ActionEdgeBlock,
	})

	require.Len(t, sink.events, 1)
	assert.Equal(t, "fixed-id", sink.events[0].ID)
	assert.Equal(t, ts, sink.events[0].Timestamp)
	assert.Equal(t, "fixed-request", sink.events[0].RequestID)
}

func TestRecordNeverFailsCaller(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	failing := &captureSink{err: errors.New("sink down")}
	working := &captureSink{}
	logger := NewLogger(log, failing, working)

	// Must not panic or propagate; the healthy sink still receives the event.
	logger.Record(context.Background(), &Event{Action: ActionEnrollFinish})

	assert.Len(t, working.events, 1)
	assert.Contains(t, buf.String(), "audit sink write failed")
}

type capturePublisher struct {
	topic    string
	messages []*message.Message
}

func (p *capturePublisher) Publish(topic string, messages ...*message.Message) error {
	p.topic = topic
	p.messages = append(p.messages, messages...)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func TestStreamSinkPublishesJSON(t *testing.T) {
	pub := &capturePublisher{}
	sink := NewStreamSink(pub, "")

	err := sink.Write(context.Background(), &Event{
		ID:      "evt-1",
		Action:  ActionEnrollFinish,
		Success: true,
	})
	require.NoError(t, err)

	assert.Equal(t, DefaultTopic, pub.topic)
	require.Len(t, pub.messages, 1)
	assert.Equal(t, "evt-1", pub.messages[0].UUID)
	assert.Contains(t, string(pub.messages[0].Payload), `"action":"enroll.finish"`)
}
