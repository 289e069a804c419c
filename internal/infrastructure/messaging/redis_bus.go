package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nohelyvillegas/micro-cursos/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REDIS FAN-OUT
// ══════════════════════════════════════════════════════════════════════════════

// RedisClient is the pub/sub subset of Redis the bus needs.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error)
}

// RedisMessage is one message received on a subscribed channel.
type RedisMessage struct {
	Channel string
	Payload string
	Err     error
}

// RedisEventBusConfig configures RedisEventBus.
type RedisEventBusConfig struct {
	Client RedisClient

	// ChannelName defaults to "micro-cursos:events".
	ChannelName string

	// InstanceID tags outgoing events so an instance ignores its own echoes.
	// A random id is used when empty.
	InstanceID string

	// PublishTimeout bounds the Redis round trip inside Publish. Default: 2s
	PublishTimeout time.Duration

	LocalBusConfig InMemoryEventBusConfig
	Logger         *slog.Logger
}

// RedisEventBus delivers events to local subscribers immediately and
// forwards them to the other instances on a Redis channel. Events arriving
// from other instances are delivered to the local subscribers.
type RedisEventBus struct {
	*InMemoryEventBus

	client  RedisClient
	channel string
	origin  string
	timeout time.Duration
	logger  *slog.Logger

	stop     context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

var _ shared.EventBus = (*RedisEventBus)(nil)

// NewRedisEventBus subscribes to the channel and starts forwarding.
func NewRedisEventBus(config RedisEventBusConfig) (*RedisEventBus, error) {
	if config.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.ChannelName == "" {
		config.ChannelName = "micro-cursos:events"
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.NewString()
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 2 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.LocalBusConfig.Logger == nil {
		config.LocalBusConfig.Logger = config.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	messages, err := config.Client.Subscribe(ctx, config.ChannelName)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe to %s: %w", config.ChannelName, err)
	}

	b := &RedisEventBus{
		InMemoryEventBus: NewInMemoryEventBus(config.LocalBusConfig),
		client:           config.Client,
		channel:          config.ChannelName,
		origin:           config.InstanceID,
		timeout:          config.PublishTimeout,
		logger:           config.Logger.With("component", "redis_event_bus", "channel", config.ChannelName),
		stop:             cancel,
		done:             make(chan struct{}),
	}
	go b.listen(ctx, messages)

	return b, nil
}

// Publish delivers locally, then forwards to Redis. A forwarding failure or
// timeout is logged; local delivery has already happened.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if err := b.InMemoryEventBus.Publish(event); err != nil {
		return err
	}

	data, err := json.Marshal(wireEvent{
		Origin:    b.origin,
		Type:      event.EventType(),
		Aggregate: event.AggregateID(),
		At:        event.OccurredAt(),
		Data:      event.Payload(),
	})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if err := b.client.Publish(ctx, b.channel, string(data)); err != nil {
		b.logger.Warn("event not forwarded", "event_type", event.EventType(), "aggregate_id", event.AggregateID(), "error", err)
	}
	return nil
}

func (b *RedisEventBus) listen(ctx context.Context, messages <-chan RedisMessage) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if msg.Err != nil {
				b.logger.Error("subscription error", "error", msg.Err)
				continue
			}
			b.receive(msg.Payload)
		}
	}
}

func (b *RedisEventBus) receive(payload string) {
	var ev wireEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		b.logger.Warn("dropping undecodable event", "error", err)
		return
	}
	if ev.Origin == b.origin {
		return
	}
	if err := b.InMemoryEventBus.Publish(ev); err != nil {
		b.logger.Debug("remote event not delivered", "event_type", ev.Type, "error", err)
	}
}

// Close stops listening, then closes the local bus.
func (b *RedisEventBus) Close() error {
	b.stopOnce.Do(func() {
		b.stop()
		<-b.done
	})
	return b.InMemoryEventBus.Close()
}

// wireEvent is the JSON form on the channel. It also serves as the
// shared.Event handed to local subscribers for remote events.
type wireEvent struct {
	Origin    string                 `json:"origin"`
	Type      shared.EventType       `json:"event_type"`
	Aggregate string                 `json:"aggregate_id"`
	At        time.Time              `json:"occurred_at"`
	Data      map[string]interface{} `json:"payload"`
}

func (e wireEvent) EventType() shared.EventType     { return e.Type }
func (e wireEvent) AggregateID() string             { return e.Aggregate }
func (e wireEvent) OccurredAt() time.Time           { return e.At }
func (e wireEvent) Payload() map[string]interface{} { return e.Data }
