package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "rushboard:realtime:"

// RedisBridge publishes events to Redis so every API replica (and the worker)
// shares one broadcast bus, and relays Redis messages into a local Hub.
type RedisBridge struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewRedisBridge constructs the bridge. An empty prefix uses the default.
func NewRedisBridge(client *redis.Client, prefix string, logger *slog.Logger) *RedisBridge {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisBridge{client: client, prefix: prefix, timeout: 2 * time.Second, logger: logger}
}

// Publish implements Publisher.
func (b *RedisBridge) Publish(ctx context.Context, ev Event) error {
	if b == nil || b.client == nil {
		return errors.New("realtime: redis bridge not configured")
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("realtime: encode event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if err := b.client.Publish(ctx, b.prefix+ev.Channel, body).Err(); err != nil {
		return fmt.Errorf("realtime: publish %s: %w", ev.Channel, err)
	}
	return nil
}

// Relay subscribes to the given channels and forwards every message into hub
// until ctx is cancelled. It returns once the subscription is confirmed.
func (b *RedisBridge) Relay(ctx context.Context, hub *Hub, channels ...string) error {
	if b == nil || b.client == nil {
		return errors.New("realtime: redis bridge not configured")
	}
	if hub == nil {
		return errors.New("realtime: hub required")
	}
	if len(channels) == 0 {
		channels = []string{ChannelRounds, ChannelSettings}
	}
	names := make([]string, 0, len(channels))
	for _, ch := range channels {
		names = append(names, b.prefix+ch)
	}
	pubsub := b.client.Subscribe(ctx, names...)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("realtime: subscribe: %w", err)
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.log().Warn("drop malformed realtime message", slog.String("channel", msg.Channel), slog.Any("error", err))
					continue
				}
				if ev.Channel == "" {
					ev.Channel = strings.TrimPrefix(msg.Channel, b.prefix)
				}
				_ = hub.Publish(ctx, ev)
			}
		}
	}()
	return nil
}

func (b *RedisBridge) log() *slog.Logger {
	if b != nil && b.logger != nil {
		return b.logger
	}
	return slog.Default()
}

// Broadcaster wraps a Publisher so callers never see delivery errors; failures
// are logged and otherwise ignored.
type Broadcaster struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewBroadcaster constructs a Broadcaster. A nil publisher discards events.
func NewBroadcaster(publisher Publisher, logger *slog.Logger) *Broadcaster {
	if publisher == nil {
		publisher = Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{publisher: publisher, logger: logger}
}

// Publish implements Publisher and always returns nil.
func (b *Broadcaster) Publish(ctx context.Context, ev Event) error {
	if b == nil {
		return nil
	}
	if err := b.publisher.Publish(ctx, ev); err != nil {
		b.logger.Warn("realtime broadcast failed",
			slog.String("channel", ev.Channel),
			slog.String("event", ev.Event),
			slog.Any("error", err))
	}
	return nil
}
