package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kayakoyan/marketplace-backend/internal/realtime"
	"github.com/kayakoyan/marketplace-backend/pkg/db/models"
)

type memorySource struct {
	rows  []models.ChatMessage
	calls int
}

func (m *memorySource) MessagesAfter(_ context.Context, orderID, afterID uint64, limit int) ([]models.ChatMessage, error) {
	m.calls++
	var out []models.ChatMessage
	for _, r := range m.rows {
		if r.OrderID == orderID && r.ID > afterID && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func textMessage(id, orderID uint64, text string) models.ChatMessage {
	return models.ChatMessage{ID: id, OrderID: orderID, SenderID: 1, Message: &text, Type: "text"}
}

func encodeForTest(msg *models.ChatMessage) MessagePayload {
	return MessagePayload{ID: msg.ID, SenderID: msg.SenderID, Message: msg.Message, Type: msg.Type}
}

// firedAfter returns a timer that has already expired.
func firedAfter(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func ids(msgs []MessagePayload) []uint64 {
	out := make([]uint64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestPollingFeedResumesFromCursor(t *testing.T) {
	src := &memorySource{rows: []models.ChatMessage{
		textMessage(1, 7, "a"), textMessage(2, 7, "b"), textMessage(3, 8, "other order"), textMessage(4, 7, "c"),
	}}
	feed := NewPollingFeed(src, encodeForTest)
	feed.after = firedAfter
	ctx := context.Background()

	tail, err := feed.Open(ctx, 7, 1)
	require.NoError(t, err)
	defer tail.Close()

	msgs, err := tail.Next(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 4}, ids(msgs))

	msgs, err = tail.Next(ctx, time.Second)
	require.NoError(t, err)
	assert.Empty(t, msgs, "nothing is delivered twice")

	src.rows = append(src.rows, textMessage(5, 7, "d"))
	msgs, err = tail.Next(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []uint64{5}, ids(msgs))
}

func TestPollingFeedHonoursCancellation(t *testing.T) {
	feed := NewPollingFeed(&memorySource{}, encodeForTest)
	feed.after = func(time.Duration) <-chan time.Time { return make(chan time.Time) }
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tail, err := feed.Open(ctx, 1, 0)
	require.NoError(t, err)
	_, err = tail.Next(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPushFeedCatchesUpThenStreams(t *testing.T) {
	src := &memorySource{rows: []models.ChatMessage{textMessage(1, 7, "a"), textMessage(2, 7, "b")}}
	poll := NewPollingFeed(src, encodeForTest)
	hub := realtime.NewHub(realtime.HubOptions{})
	feed := NewPushFeed(hub, poll)
	never := make(chan time.Time)
	feed.after = func(time.Duration) <-chan time.Time { return never }
	ctx := context.Background()

	tail, err := feed.Open(ctx, 7, 1)
	require.NoError(t, err)
	defer tail.Close()

	msgs, err := tail.Next(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, ids(msgs))

	// duplicates of the backlog and unrelated events do not wake the tail
	src.rows = append(src.rows, textMessage(3, 7, "c"), textMessage(4, 7, "d"))
	chatChannel := realtime.OrderChatChannel(7)
	require.NoError(t, hub.Broadcast(ctx, chatChannel, realtime.EventMessageSent, MessagePayload{ID: 2}))
	require.NoError(t, hub.Broadcast(ctx, chatChannel, realtime.EventUserTyping, TypingPayload{UserID: 1}))
	require.NoError(t, hub.Broadcast(ctx, chatChannel, realtime.EventMessageSent, MessagePayload{ID: 3}))
	require.NoError(t, hub.Broadcast(ctx, chatChannel, realtime.EventMessageSent, MessagePayload{ID: 4}))

	msgs, err = tail.Next(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 4}, ids(msgs))
	assert.Equal(t, 2, src.calls, "one read to catch up and one per wake-up")
}

func TestPushFeedDeliversBacklogLargerThanOneBatch(t *testing.T) {
	src := &memorySource{}
	for id := uint64(1); id <= 150; id++ {
		src.rows = append(src.rows, textMessage(id, 7, "backlog"))
	}
	hub := realtime.NewHub(realtime.HubOptions{})
	feed := NewPushFeed(hub, NewPollingFeed(src, encodeForTest))
	never := make(chan time.Time)
	feed.after = func(time.Duration) <-chan time.Time { return never }
	ctx := context.Background()

	tail, err := feed.Open(ctx, 7, 0)
	require.NoError(t, err)
	defer tail.Close()

	var got []uint64
	first, err := tail.Next(ctx, time.Second)
	require.NoError(t, err)
	require.Len(t, first, feedBatchSize)
	got = append(got, ids(first)...)

	// a new message arrives before the second half of the backlog is read
	src.rows = append(src.rows, textMessage(151, 7, "live"))
	require.NoError(t, hub.Broadcast(ctx, realtime.OrderChatChannel(7), realtime.EventMessageSent, MessagePayload{ID: 151}))

	rest, err := tail.Next(ctx, time.Second)
	require.NoError(t, err)
	got = append(got, ids(rest)...)

	want := make([]uint64, 0, 151)
	for id := uint64(1); id <= 151; id++ {
		want = append(want, id)
	}
	assert.Equal(t, want, got)
}

func TestPushFeedRereadsAfterDroppedEvents(t *testing.T) {
	src := &memorySource{}
	hub := realtime.NewHub(realtime.HubOptions{Buffer: 1})
	feed := NewPushFeed(hub, NewPollingFeed(src, encodeForTest))
	feed.after = firedAfter
	ctx := context.Background()

	tail, err := feed.Open(ctx, 7, 0)
	require.NoError(t, err)
	defer tail.Close()

	msgs, err := tail.Next(ctx, time.Second)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	chatChannel := realtime.OrderChatChannel(7)
	for id := uint64(1); id <= 3; id++ {
		src.rows = append(src.rows, textMessage(id, 7, "burst"))
		require.NoError(t, hub.Broadcast(ctx, chatChannel, realtime.EventMessageSent, MessagePayload{ID: id}))
	}

	msgs, err = tail.Next(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3}, ids(msgs))

	msgs, err = tail.Next(ctx, time.Second)
	require.NoError(t, err)
	assert.Empty(t, msgs, "nothing is delivered twice")
}

func TestPushFeedTimesOutEmpty(t *testing.T) {
	hub := realtime.NewHub(realtime.HubOptions{})
	feed := NewPushFeed(hub, NewPollingFeed(&memorySource{}, encodeForTest))
	feed.after = firedAfter

	tail, err := feed.Open(context.Background(), 3, 0)
	require.NoError(t, err)
	msgs, err := tail.Next(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	tail.Close()
	assert.Equal(t, 0, hub.Subscribers(realtime.OrderChatChannel(3)))
}
