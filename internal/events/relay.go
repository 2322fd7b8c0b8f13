package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// envelope is the wire form of an event on the relay channel.
type envelope struct {
	Origin    string          `json:"origin"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// RedisRelay mirrors bus events between engine instances over a Redis pub/sub channel.
// Local events are forwarded; events from other origins are republished locally with
// Remote set, and are never forwarded again.
type RedisRelay struct {
	client  *redis.Client
	bus     *EventBus
	channel string
	origin  string
	logger  *zerolog.Logger
	cancels []func()
}

func NewRedisRelay(client *redis.Client, bus *EventBus, channel, origin string, logger *zerolog.Logger) *RedisRelay {
	return &RedisRelay{
		client:  client,
		bus:     bus,
		channel: channel,
		origin:  origin,
		logger:  logger,
	}
}

// Forward starts publishing local events of the given types to Redis.
func (r *RedisRelay) Forward(eventTypes ...string) {
	for _, eventType := range eventTypes {
		r.cancels = append(r.cancels, r.bus.Subscribe(eventType, r.forward))
	}
}

func (r *RedisRelay) forward(event *Event) error {
	if event.Remote {
		return nil
	}
	raw, err := json.Marshal(envelope{
		Origin:    r.origin,
		Type:      event.Type,
		Payload:   event.Payload,
		CreatedAt: event.CreatedAt,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, raw).Err(); err != nil {
		r.logger.Warn().Err(err).Str("type", event.Type).Msg("failed to relay event")
		return fmt.Errorf("relay publish: %w", err)
	}
	return nil
}

// Run receives events from other instances until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("relay subscribe: %w", err)
	}
	r.logger.Info().Str("channel", r.channel).Msg("event relay started")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.receive(msg.Payload)
		}
	}
}

func (r *RedisRelay) receive(raw string) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		r.logger.Warn().Err(err).Msg("dropping malformed relay message")
		return
	}
	if env.Origin == r.origin {
		return
	}
	r.bus.Publish(&Event{Type: env.Type, Payload: env.Payload, CreatedAt: env.CreatedAt, Remote: true})
}

// Stop detaches the relay from the local bus.
func (r *RedisRelay) Stop() {
	for _, cancel := range r.cancels {
		cancel()
	}
	r.cancels = nil
}
