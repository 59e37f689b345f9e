package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DialRedis connects to a redis:// or rediss:// broker URL and verifies the
// connection with a ping.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid broker URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping broker: %w", err)
	}
	return client, nil
}

// RedisBroker publishes to a single Redis stream, trimming it to roughly
// maxLen entries (oldest dropped first).
type RedisBroker struct {
	client *redis.Client
	key    string
	maxLen int64
}

// NewRedisBroker wraps an established client. A zero maxLen disables trimming.
func NewRedisBroker(client *redis.Client, key string, maxLen int64) *RedisBroker {
	return &RedisBroker{client: client, key: key, maxLen: maxLen}
}

// Publish XADDs the event JSON under the "event" field.
func (b *RedisBroker) Publish(ctx context.Context, event string) (string, error) {
	return b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.key,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]interface{}{"event": event},
	}).Result()
}

// Read XREADs entries after afterID, blocking up to block when the stream has
// nothing newer. Non-positive block reads without waiting.
func (b *RedisBroker) Read(ctx context.Context, afterID string, block time.Duration, count int64) ([]Entry, error) {
	if block <= 0 {
		// go-redis only omits BLOCK for negative values; zero would block
		// forever.
		block = -1
	}
	res, err := b.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{b.key, afterID},
		Count:   count,
		Block:   block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, str := range res {
		for _, msg := range str.Messages {
			event, _ := msg.Values["event"].(string)
			if event == "" {
				continue
			}
			entries = append(entries, Entry{ID: msg.ID, Event: event})
		}
	}
	return entries, nil
}

// LatestID returns the newest stream ID, or ZeroID for a missing or empty
// stream.
func (b *RedisBroker) LatestID(ctx context.Context) (string, error) {
	msgs, err := b.client.XRevRangeN(ctx, b.key, "+", "-", 1).Result()
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return ZeroID, nil
	}
	return msgs[0].ID, nil
}

// Close releases the client connection pool.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}
