package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vitae-app/vitae/internal/domain"
)

// DefaultChannel is the pub/sub channel compile events are published on.
const DefaultChannel = "vitae:compilations"

// RedisFeed implements domain.CompileFeed with Redis pub/sub so several
// server processes can share compile events.
type RedisFeed struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

var _ domain.CompileFeed = (*RedisFeed)(nil)

// NewRedisFeed connects to addr and verifies the connection with a ping.
func NewRedisFeed(ctx context.Context, addr string, logger *slog.Logger) (*RedisFeed, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, domain.ErrFeedUnavailable.Wrap(fmt.Errorf("ping redis at %s: %w", addr, err))
	}

	return &RedisFeed{client: rdb, channel: DefaultChannel, logger: logger}, nil
}

// Publish sends ev as JSON on the feed channel.
func (r *RedisFeed) Publish(ctx context.Context, ev domain.CompileEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal compile event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return domain.ErrFeedUnavailable.Wrap(err)
	}
	return nil
}

// Subscribe streams events from the feed channel until ctx is cancelled.
func (r *RedisFeed) Subscribe(ctx context.Context) (<-chan domain.CompileEvent, error) {
	pubsub := r.client.Subscribe(ctx, r.channel)

	// Wait for confirmation that we are subscribed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, domain.ErrFeedUnavailable.Wrap(err)
	}

	out := make(chan domain.CompileEvent)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev domain.CompileEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					r.logger.Error("decode compile event", "error", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close releases the Redis connection pool.
func (r *RedisFeed) Close() error {
	return r.client.Close()
}
