package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisConfig configures RedisFeed.
type RedisConfig struct {
	URL       string
	KeyPrefix string
}

func DefaultRedisConfig() RedisConfig {
	return RedisConfig{URL: "redis://localhost:6379/0", KeyPrefix: "storefront"}
}

// RedisFeed fans events out across server instances over Redis pub/sub.
type RedisFeed struct {
	client *redis.Client
	prefix string
	log    *slog.Logger
}

var _ Feed = (*RedisFeed)(nil)

func NewRedisFeed(cfg RedisConfig, log *slog.Logger) (*RedisFeed, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisFeedWithClient(redis.NewClient(opts), cfg.KeyPrefix, log), nil
}

func NewRedisFeedWithClient(client *redis.Client, prefix string, log *slog.Logger) *RedisFeed {
	if prefix == "" {
		prefix = DefaultRedisConfig().KeyPrefix
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisFeed{client: client, prefix: prefix, log: log}
}

func (f *RedisFeed) channel(table string) string {
	return f.prefix + ":changes:" + table
}

func (f *RedisFeed) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel(ev.Table), data).Err(); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Table, err)
	}
	return nil
}

func (f *RedisFeed) Subscribe(ctx context.Context, table string) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	pubsub := f.client.Subscribe(subCtx, f.channel(table))
	// wait for the subscription to be confirmed before returning
	if _, err := pubsub.Receive(subCtx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", table, err)
	}

	out := make(chan Event, subscriberBuffer)
	go func() {
		defer func() {
			_ = pubsub.Close()
			close(out)
		}()
		msgs := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					f.log.Warn("dropping malformed change event", "table", table, "err", err)
					continue
				}
				select {
				case out <- ev:
				default:
				}
			}
		}
	}()
	return newSubscription(out, cancel), nil
}

func (f *RedisFeed) Close() error { return f.client.Close() }
