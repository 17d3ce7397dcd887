package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kayakoyan/marketplace-backend/pkg/logger"
)

type pubsubClient interface {
	Publish(ctx context.Context, channel string, payload any) error
	PSubscribe(ctx context.Context, patterns ...string) (*goredis.PubSub, error)
	RealtimeChannel(channel string) string
	RealtimePattern() string
	RealtimeChannelName(redisChannel string) (string, bool)
}

// Bus relays events through Redis pub/sub so every API instance and the
// notification worker share one broadcast space.
type Bus struct {
	redis pubsubClient
	hub   *Hub
	logg  *logger.Logger
}

func NewBus(redis pubsubClient, hub *Hub, logg *logger.Logger) *Bus {
	return &Bus{redis: redis, hub: hub, logg: logg}
}

// Broadcast publishes to Redis. Local subscribers receive it through Run.
func (b *Bus) Broadcast(ctx context.Context, channel, event string, data any) error {
	evt, err := NewEvent(channel, event, data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if err := b.redis.Publish(ctx, b.redis.RealtimeChannel(channel), payload); err != nil {
		return fmt.Errorf("publish %s on %s: %w", event, channel, err)
	}
	if b.hub != nil {
		b.hub.observe(channel)
	}
	return nil
}

// Run relays Redis messages into the local hub until ctx is done.
func (b *Bus) Run(ctx context.Context) error {
	sub, err := b.redis.PSubscribe(ctx, b.redis.RealtimePattern())
	if err != nil {
		return err
	}
	defer func() { _ = sub.Close() }()

	if b.logg != nil {
		b.logg.Info(ctx, "realtime bus relay started")
	}
	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("realtime subscription closed")
			}
			b.relay(ctx, msg)
		}
	}
}

func (b *Bus) relay(ctx context.Context, msg *goredis.Message) {
	channel, ok := b.redis.RealtimeChannelName(msg.Channel)
	if !ok {
		return
	}
	var evt Event
	if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
		if b.logg != nil {
			b.logg.Error(b.logg.WithField(ctx, "channel", channel), "realtime relay decode failed", err)
		}
		return
	}
	evt.Channel = channel
	b.hub.Deliver(evt)
}
