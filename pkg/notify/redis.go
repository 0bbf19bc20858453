package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const inboxLimit = 100

// RedisSink publishes notifications on a channel and keeps a bounded per-learner inbox list.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink constructs a RedisSink.
func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	if channel == "" {
		channel = "learner-notifications"
	}
	return &RedisSink{client: client, channel: channel}
}

// Name identifies the sink in metrics.
func (s *RedisSink) Name() string { return "redis" }

// InboxKey is the list holding a learner's recent notifications.
func InboxKey(recipientID string) string {
	return "notifications:inbox:" + recipientID
}

// Send pushes the message to the learner inbox and publishes it.
func (s *RedisSink) Send(ctx context.Context, msg Message) error {
	if s.client == nil {
		return fmt.Errorf("redis notification sink not configured")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	key := InboxKey(msg.RecipientID)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, inboxLimit-1)
	pipe.Publish(ctx, s.channel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish notification: %w", err)
	}
	return nil
}
