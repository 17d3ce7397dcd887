package chat

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/kayakoyan/marketplace-backend/internal/realtime"
	"github.com/kayakoyan/marketplace-backend/pkg/db/models"
)

const feedBatchSize = 100

var ErrFeedClosed = errors.New("message feed closed")

// Feed delivers an order's messages newer than a cursor. The stream
// endpoint reads from either implementation.
type Feed interface {
	Open(ctx context.Context, orderID, afterID uint64) (Tail, error)
}

// Tail is an open cursor over one order's messages.
type Tail interface {
	// Next returns messages newer than any returned before, waiting at most
	// wait for one to arrive. An empty result means nothing new yet.
	Next(ctx context.Context, wait time.Duration) ([]MessagePayload, error)
	Close()
}

type messageSource interface {
	MessagesAfter(ctx context.Context, orderID, afterID uint64, limit int) ([]models.ChatMessage, error)
}

type encodeFunc func(*models.ChatMessage) MessagePayload

// PollingFeed reads new messages from the database on every call.
type PollingFeed struct {
	source messageSource
	encode encodeFunc
	after  func(time.Duration) <-chan time.Time
}

func NewPollingFeed(source messageSource, encode encodeFunc) *PollingFeed {
	return &PollingFeed{source: source, encode: encode, after: time.After}
}

func (f *PollingFeed) Open(_ context.Context, orderID, afterID uint64) (Tail, error) {
	return f.tail(orderID, afterID), nil
}

func (f *PollingFeed) tail(orderID, afterID uint64) *pollingTail {
	return &pollingTail{feed: f, orderID: orderID, last: afterID}
}

type pollingTail struct {
	feed    *PollingFeed
	orderID uint64
	last    uint64
}

func (t *pollingTail) fetch(ctx context.Context) ([]MessagePayload, error) {
	rows, err := t.feed.source.MessagesAfter(ctx, t.orderID, t.last, feedBatchSize)
	if err != nil {
		return nil, err
	}
	out := make([]MessagePayload, 0, len(rows))
	for i := range rows {
		out = append(out, t.feed.encode(&rows[i]))
		t.last = rows[i].ID
	}
	return out, nil
}

func (t *pollingTail) Next(ctx context.Context, wait time.Duration) ([]MessagePayload, error) {
	msgs, err := t.fetch(ctx)
	if err != nil || len(msgs) > 0 {
		return msgs, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.feed.after(wait):
		return nil, nil
	}
}

func (t *pollingTail) Close() {}

type subscriber interface {
	Subscribe(channels ...string) *realtime.Subscription
}

// PushFeed wakes on message.sent for the order's channel and reads the new
// rows from the database after its cursor. A dropped hub event forces a read
// on the next call.
type PushFeed struct {
	hub     subscriber
	backlog *PollingFeed
	after   func(time.Duration) <-chan time.Time
}

func NewPushFeed(hub subscriber, backlog *PollingFeed) *PushFeed {
	return &PushFeed{hub: hub, backlog: backlog, after: time.After}
}

// Open subscribes before the backlog is read so nothing falls in between.
func (f *PushFeed) Open(_ context.Context, orderID, afterID uint64) (Tail, error) {
	sub := f.hub.Subscribe(realtime.OrderChatChannel(orderID))
	return &pushTail{feed: f, sub: sub, cursor: f.backlog.tail(orderID, afterID)}, nil
}

type pushTail struct {
	feed   *PushFeed
	sub    *realtime.Subscription
	cursor *pollingTail
	// caught is false while the last read filled a whole batch.
	caught bool
}

func (t *pushTail) Next(ctx context.Context, wait time.Duration) ([]MessagePayload, error) {
	if !t.caught || t.sub.Dropped() {
		msgs, err := t.refresh(ctx)
		if err != nil || len(msgs) > 0 {
			return msgs, err
		}
	}

	timeout := t.feed.after(wait)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout:
			return nil, nil
		case evt, ok := <-t.sub.Events():
			if !ok {
				return nil, ErrFeedClosed
			}
			if !t.wakes(evt) {
				continue
			}
			msgs, err := t.refresh(ctx)
			if err != nil || len(msgs) > 0 {
				return msgs, err
			}
		}
	}
}

// refresh reads the next batch after the cursor. Buffered events are
// discarded and the dropped flag cleared first: every message they announce
// was committed before its broadcast, so the read covers them.
func (t *pushTail) refresh(ctx context.Context) ([]MessagePayload, error) {
	t.discard()
	t.sub.ResetDropped()
	msgs, err := t.cursor.fetch(ctx)
	if err != nil {
		return nil, err
	}
	t.caught = len(msgs) < feedBatchSize
	return msgs, nil
}

func (t *pushTail) discard() {
	for {
		select {
		case _, ok := <-t.sub.Events():
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// wakes reports whether evt may announce a message past the cursor.
func (t *pushTail) wakes(evt realtime.Event) bool {
	if evt.Event != realtime.EventMessageSent {
		return false
	}
	var msg MessagePayload
	if err := json.Unmarshal(evt.Data, &msg); err != nil {
		return true
	}
	return msg.ID > t.cursor.last
}

func (t *pushTail) Close() {
	t.sub.Close()
}
