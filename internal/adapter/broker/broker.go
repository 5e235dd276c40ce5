// Package broker is the C1 Stream Broker Gateway: a thin abstraction over a
// Redis-Streams consumer group (publish, read-with-lease, acknowledge,
// ensure-group) plus the key/value + pub-sub surface the result publisher
// uses. Grounded on the consumer-group discovery/read loop in
// brokle-ai-brokle's telemetry stream consumer, adapted from a
// telemetry-ingest shape to this pipeline's request/result shape.
package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codewatch-dev/codewatch/internal/domain"
)

// ErrUnavailable wraps any broker failure not otherwise classified; callers
// surface it as BROKER_UNAVAILABLE.
var ErrUnavailable = errors.New("BROKER_UNAVAILABLE")

// Gateway is the C1 port. It is satisfied by *RedisGateway in production and
// can be backed by miniredis in tests.
type Gateway interface {
	Publish(ctx context.Context, streamKey string, fields map[string]string) (string, error)
	ReadBatch(ctx context.Context, streamKey, group, consumerID string, maxCount int64, blockFor time.Duration) ([]domain.StreamRecord, error)
	Acknowledge(ctx context.Context, streamKey, group, recordID string) error
	EnsureGroup(ctx context.Context, streamKey, group, startFrom string) error

	PutHash(ctx context.Context, key string, fields map[string]string) error
	GetHash(ctx context.Context, key string) (map[string]string, error)
	PublishTopic(ctx context.Context, channel, payload string) error
	SubscribePattern(ctx context.Context, pattern string) Subscription
}

// Subscription is a live pattern subscription; Channel delivers messages
// until Close is called or the context given to SubscribePattern ends.
type Subscription interface {
	Channel() <-chan *redis.Message
	Close() error
}

// RedisGateway implements Gateway over github.com/redis/go-redis/v9.
type RedisGateway struct {
	client redis.UniversalClient
}

// NewRedisGateway wraps an existing redis client. Accepting the interface
// (rather than *redis.Client) lets callers pass a cluster or sentinel
// client, and lets tests pass a client pointed at miniredis.
func NewRedisGateway(client redis.UniversalClient) *RedisGateway {
	return &RedisGateway{client: client}
}

// Publish appends a record to streamKey and returns its record id.
func (g *RedisGateway) Publish(ctx context.Context, streamKey string, fields map[string]string) (string, error) {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	id, err := g.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("%w: xadd %s: %v", ErrUnavailable, streamKey, err)
	}
	return id, nil
}

// ReadBatch long-polls for up to maxCount undelivered records, blocking for
// blockFor before returning an empty batch.
func (g *RedisGateway) ReadBatch(ctx context.Context, streamKey, group, consumerID string, maxCount int64, blockFor time.Duration) ([]domain.StreamRecord, error) {
	res, err := g.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumerID,
		Streams:  []string{streamKey, ">"},
		Count:    maxCount,
		Block:    blockFor,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: xreadgroup %s: %v", ErrUnavailable, streamKey, err)
	}

	var out []domain.StreamRecord
	for _, stream := range res {
		for _, msg := range stream.Messages {
			fields := make(map[string]string, len(msg.Values))
			for k, v := range msg.Values {
				if s, ok := v.(string); ok {
					fields[k] = s
				} else {
					fields[k] = fmt.Sprintf("%v", v)
				}
			}
			out = append(out, domain.StreamRecord{RecordID: msg.ID, Fields: fields})
		}
	}
	return out, nil
}

// Acknowledge is idempotent: acking an already-acked or unknown record id
// is not an error.
func (g *RedisGateway) Acknowledge(ctx context.Context, streamKey, group, recordID string) error {
	if err := g.client.XAck(ctx, streamKey, group, recordID).Err(); err != nil {
		return fmt.Errorf("%w: xack %s/%s: %v", ErrUnavailable, streamKey, recordID, err)
	}
	return nil
}

// EnsureGroup creates the consumer group if absent, treating BUSYGROUP
// (already exists) as success.
func (g *RedisGateway) EnsureGroup(ctx context.Context, streamKey, group, startFrom string) error {
	if startFrom == "" {
		startFrom = "0"
	}
	err := g.client.XGroupCreateMkStream(ctx, streamKey, group, startFrom).Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("%w: xgroupcreate %s/%s: %v", ErrUnavailable, streamKey, group, err)
}

// PutHash writes the result-store hash for a request.
func (g *RedisGateway) PutHash(ctx context.Context, key string, fields map[string]string) error {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	if err := g.client.HSet(ctx, key, values).Err(); err != nil {
		return fmt.Errorf("%w: hset %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// GetHash reads back the result-store hash for a request. A missing key
// returns an empty, non-nil map.
func (g *RedisGateway) GetHash(ctx context.Context, key string) (map[string]string, error) {
	fields, err := g.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: hgetall %s: %v", ErrUnavailable, key, err)
	}
	return fields, nil
}

// PublishTopic publishes a status notification on a per-request channel.
func (g *RedisGateway) PublishTopic(ctx context.Context, channel, payload string) error {
	if err := g.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("%w: publish %s: %v", ErrUnavailable, channel, err)
	}
	return nil
}

// SubscribePattern pattern-subscribes (e.g. "review:status:*") for the
// result subscriber.
func (g *RedisGateway) SubscribePattern(ctx context.Context, pattern string) Subscription {
	return &redisSubscription{ps: g.client.PSubscribe(ctx, pattern)}
}

type redisSubscription struct {
	ps *redis.PubSub
}

func (s *redisSubscription) Channel() <-chan *redis.Message {
	return s.ps.Channel()
}

func (s *redisSubscription) Close() error {
	return s.ps.Close()
}
