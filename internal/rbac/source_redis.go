package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const (
	// RedisPolicyKey holds the JSON policy document.
	RedisPolicyKey = "rbac:policy"
	// RedisPolicyChannel announces that RedisPolicyKey changed.
	RedisPolicyChannel = "rbac:policy:updated"
)

// ErrPolicyNotPublished indicates the Redis key is absent.
var ErrPolicyNotPublished = errors.New("rbac: policy not published")

// RedisSource reads the policy document distributed through Redis.
type RedisSource struct {
	client *redis.Client
	key    string
}

// NewRedisSource constructs a RedisSource on the default key.
func NewRedisSource(client *redis.Client) *RedisSource {
	return &RedisSource{client: client, key: RedisPolicyKey}
}

// Name implements Source.
func (s *RedisSource) Name() string { return "redis:" + s.key }

// Load implements Source.
func (s *RedisSource) Load(ctx context.Context) (Policy, error) {
	payload, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Policy{}, ErrPolicyNotPublished
		}
		return Policy{}, err
	}
	var doc PolicyDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return Policy{}, fmt.Errorf("rbac: decode redis policy: %w", err)
	}
	return doc.Policy()
}

// Publisher writes validated policies to Redis and notifies subscribers.
type Publisher struct {
	client *redis.Client
	key    string
	topic  string
}

// NewPublisher constructs a Publisher on the default key and channel.
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client, key: RedisPolicyKey, topic: RedisPolicyChannel}
}

// Publish validates policy, stores it and announces the change. The number
// of subscribers that received the announcement is returned.
func (p *Publisher) Publish(ctx context.Context, policy Policy) (int64, error) {
	if err := policy.Validate(); err != nil {
		return 0, err
	}
	data, err := json.Marshal(policy.Document())
	if err != nil {
		return 0, err
	}
	if err := p.client.Set(ctx, p.key, data, 0).Err(); err != nil {
		return 0, fmt.Errorf("rbac: store policy: %w", err)
	}
	receivers, err := p.client.Publish(ctx, p.topic, p.key).Result()
	if err != nil {
		return 0, fmt.Errorf("rbac: announce policy: %w", err)
	}
	return receivers, nil
}

// Watch reloads store every time a policy update is announced. It blocks
// until ctx is cancelled. ready, when non-nil, is closed once the
// subscription is active.
func Watch(ctx context.Context, client *redis.Client, store *Store, logger *slog.Logger, ready chan<- struct{}) error {
	sub := client.Subscribe(ctx, RedisPolicyChannel)
	defer func() {
		_ = sub.Close()
	}()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("rbac: subscribe %s: %w", RedisPolicyChannel, err)
	}
	if ready != nil {
		close(ready)
	}
	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			if _, err := store.Reload(ctx); err != nil && logger != nil {
				logger.Warn("rbac policy update ignored", slog.String("channel", msg.Channel), slog.Any("error", err))
			}
		}
	}
}
