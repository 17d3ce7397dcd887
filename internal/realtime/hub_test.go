package realtime

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingMetrics struct {
	broadcasts atomic.Int64
	dropped    atomic.Int64
}

func (m *countingMetrics) IncBroadcast(string) { m.broadcasts.Add(1) }
func (m *countingMetrics) IncDropped()         { m.dropped.Add(1) }

func TestHubDeliversByChannel(t *testing.T) {
	hub := NewHub(HubOptions{})
	chat := hub.Subscribe(OrderChatChannel(1))
	other := hub.Subscribe(OrderChatChannel(2))
	defer chat.Close()
	defer other.Close()

	require.NoError(t, hub.Broadcast(context.Background(), OrderChatChannel(1), EventMessageSent, map[string]int{"id": 1}))

	select {
	case evt := <-chat.Events():
		assert.Equal(t, EventMessageSent, evt.Event)
		assert.Equal(t, OrderChatChannel(1), evt.Channel)
	default:
		t.Fatal("expected event on subscribed channel")
	}
	assert.Empty(t, other.Events())
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	metrics := &countingMetrics{}
	hub := NewHub(HubOptions{Buffer: 1, Metrics: metrics})
	sub := hub.Subscribe("user.1.notifications")
	defer sub.Close()

	evt, err := NewEvent("user.1.notifications", EventUnreadUpdated, map[string]int{"count": 1})
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Deliver(evt))
	assert.False(t, sub.Dropped())
	assert.Equal(t, 0, hub.Deliver(evt))
	assert.Equal(t, int64(1), metrics.dropped.Load())

	assert.True(t, sub.Dropped())
	assert.True(t, sub.ResetDropped())
	assert.False(t, sub.Dropped())
}

func TestSubscriptionAddRemoveClose(t *testing.T) {
	hub := NewHub(HubOptions{})
	sub := hub.Subscribe()
	sub.Add("order.3.chat")
	assert.True(t, sub.Has("order.3.chat"))
	assert.Equal(t, 1, hub.Subscribers("order.3.chat"))

	sub.Remove("order.3.chat")
	assert.Equal(t, 0, hub.Subscribers("order.3.chat"))

	sub.Add("order.3.chat")
	sub.Close()
	sub.Close()
	assert.Equal(t, 0, hub.Subscribers("order.3.chat"))
	_, open := <-sub.Events()
	assert.False(t, open)

	sub.Add("order.3.chat")
	assert.Equal(t, 0, hub.Subscribers("order.3.chat"))
}

func TestHubCountsBroadcastKinds(t *testing.T) {
	metrics := &countingMetrics{}
	hub := NewHub(HubOptions{Metrics: metrics})
	require.NoError(t, hub.Broadcast(context.Background(), "order.1.chat", EventMessageSent, nil))
	assert.Equal(t, int64(1), metrics.broadcasts.Load())
}
