package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/profile-validator/internal/validator"
)

// PubSubConfig names the notification topic.
type PubSubConfig struct {
	ProjectID string
	Topic     string
	RunID     string
}

// PubSub publishes one message per result as it is recorded. Flush has
// nothing to do because every message is confirmed in Append.
type PubSub struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	owned  bool
	runID  string
	logger *zap.Logger
}

// NewPubSub creates a client from application default credentials and checks
// that the topic exists.
func NewPubSub(ctx context.Context, cfg PubSubConfig, logger *zap.Logger) (*PubSub, error) {
	if cfg.ProjectID == "" || cfg.Topic == "" {
		return nil, validator.NewConfigurationError("sinks.pubsub", fmt.Errorf("project_id and topic are required"))
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	s, err := NewPubSubWithClient(ctx, client, cfg, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewPubSubWithClient wraps an existing client (primarily for testing). The
// caller keeps ownership of client.
func NewPubSubWithClient(ctx context.Context, client *pubsub.Client, cfg PubSubConfig, logger *zap.Logger) (*PubSub, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	topic := client.Topic(cfg.Topic)
	ok, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check pubsub topic %q: %w", cfg.Topic, err)
	}
	if !ok {
		return nil, validator.NewConfigurationError("sinks.pubsub.topic", fmt.Errorf("topic %q does not exist", cfg.Topic))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PubSub{client: client, topic: topic, runID: cfg.RunID, logger: logger}, nil
}

// Append publishes r and waits for the server acknowledgement.
func (s *PubSub) Append(ctx context.Context, r validator.Result) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"run_id":  s.runID,
			"verdict": string(r.Verdict),
			"key":     r.Key,
		},
	}
	id, err := s.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return fmt.Errorf("publish result: %w", err)
	}
	s.logger.Debug("result published", zap.String("key", r.Key), zap.String("message_id", id))
	return nil
}

// Flush implements validator.ResultSink.
func (s *PubSub) Flush(context.Context, []validator.Result) error {
	return nil
}

// Close flushes pending publishes and releases the client when owned.
func (s *PubSub) Close() error {
	s.topic.Stop()
	if !s.owned {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
