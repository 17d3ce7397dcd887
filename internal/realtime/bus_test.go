package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePubSub struct {
	published map[string][]byte
}

func (f *fakePubSub) Publish(_ context.Context, channel string, payload any) error {
	if f.published == nil {
		f.published = map[string][]byte{}
	}
	f.published[channel] = payload.([]byte)
	return nil
}

func (f *fakePubSub) PSubscribe(context.Context, ...string) (*goredis.PubSub, error) {
	return nil, nil
}

func (f *fakePubSub) RealtimeChannel(channel string) string { return "kky:rt:" + channel }
func (f *fakePubSub) RealtimePattern() string               { return "kky:rt:*" }

func (f *fakePubSub) RealtimeChannelName(redisChannel string) (string, bool) {
	if !strings.HasPrefix(redisChannel, "kky:rt:") {
		return "", false
	}
	return strings.TrimPrefix(redisChannel, "kky:rt:"), true
}

func TestBusPublishesAndRelays(t *testing.T) {
	redis := &fakePubSub{}
	hub := NewHub(HubOptions{})
	bus := NewBus(redis, hub, nil)
	sub := hub.Subscribe(OrderChatChannel(8))
	defer sub.Close()

	require.NoError(t, bus.Broadcast(context.Background(), OrderChatChannel(8), EventUserTyping, map[string]any{"user_id": 2, "is_typing": true}))
	payload, ok := redis.published["kky:rt:order.8.chat"]
	require.True(t, ok)
	assert.Empty(t, sub.Events(), "local delivery only happens through the relay")

	bus.relay(context.Background(), &goredis.Message{Channel: "kky:rt:order.8.chat", Payload: string(payload)})

	evt := <-sub.Events()
	assert.Equal(t, EventUserTyping, evt.Event)
	var data map[string]any
	require.NoError(t, json.Unmarshal(evt.Data, &data))
	assert.Equal(t, true, data["is_typing"])
}

func TestBusRelayIgnoresForeignAndMalformed(t *testing.T) {
	hub := NewHub(HubOptions{})
	bus := NewBus(&fakePubSub{}, hub, nil)
	sub := hub.Subscribe(OrderChatChannel(1))
	defer sub.Close()

	bus.relay(context.Background(), &goredis.Message{Channel: "other:order.1.chat", Payload: `{}`})
	bus.relay(context.Background(), &goredis.Message{Channel: "kky:rt:order.1.chat", Payload: `not json`})
	assert.Empty(t, sub.Events())
}
