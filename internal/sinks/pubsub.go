package sinks

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/shopharvest/crawler/internal/engine"
)

// PubSubSink publishes attempt events and the final run report to a Cloud
// Pub/Sub topic for downstream consumers.
type PubSubSink struct {
	topic *pubsub.Topic
}

// NewPubSubSink wraps an existing topic handle. The caller owns the client.
func NewPubSubSink(topic *pubsub.Topic) (*PubSubSink, error) {
	if topic == nil {
		return nil, fmt.Errorf("pubsub topic is required")
	}
	return &PubSubSink{topic: topic}, nil
}

// Attempt publishes the event as a JSON message tagged kind=attempt.
func (s *PubSubSink) Attempt(ctx context.Context, evt engine.AttemptEvent) error {
	return s.publish(ctx, "attempt", evt)
}

// Report publishes the final report as a JSON message tagged kind=report.
func (s *PubSubSink) Report(ctx context.Context, rep engine.RunReport) error {
	return s.publish(ctx, "report", rep)
}

func (s *PubSubSink) publish(ctx context.Context, kind string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	res := s.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"kind": kind},
	})
	if _, err := res.Get(ctx); err != nil {
		return fmt.Errorf("publish %s message: %w", kind, err)
	}
	return nil
}

// Close flushes pending publishes.
func (s *PubSubSink) Close(context.Context) error {
	s.topic.Stop()
	return nil
}
