// Copyright (c) 2026 CommerceKit, Inc.
//
// This file is part of edgeauth.
//
// edgeauth is licensed under the GNU Affero General Public License v3.0.
// See the LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"
)

// DefaultTopic is the stream topic security events are published to.
const DefaultTopic = "edgeauth.security-events"

// StreamSink publishes audit events to a message stream so SIEM and
// analytics consumers can subscribe without touching the auth path.
type StreamSink struct {
	publisher message.Publisher
	topic     string
}

// NewStreamSink creates a sink publishing to the given topic. An empty
// topic uses DefaultTopic.
func NewStreamSink(publisher message.Publisher, topic string) *StreamSink {
	if topic == "" {
		topic = DefaultTopic
	}
	return &StreamSink{
		publisher: publisher,
		topic:     topic,
	}
}

// NewRedisStreamSink creates a StreamSink backed by a Redis stream.
func NewRedisStreamSink(client redis.UniversalClient, topic string) (*StreamSink, error) {
	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{Client: client},
		watermill.NopLogger{},
	)
	if err != nil {
		return nil, fmt.Errorf("create stream publisher: %w", err)
	}
	return NewStreamSink(publisher, topic), nil
}

// Write publishes the event as a JSON message keyed by its event ID.
func (s *StreamSink) Write(ctx context.Context, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	msg := message.NewMessage(event.ID, payload)
	msg.SetContext(ctx)

	if err := s.publisher.Publish(s.topic, msg); err != nil {
		return fmt.Errorf("publish audit event: %w", err)
	}
	return nil
}

// Close releases the underlying publisher.
func (s *StreamSink) Close() error {
	return s.publisher.Close()
}
