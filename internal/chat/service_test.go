package chat

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/kayakoyan/marketplace-backend/internal/orders"
	"github.com/kayakoyan/marketplace-backend/internal/realtime"
	dbpkg "github.com/kayakoyan/marketplace-backend/pkg/db"
	"github.com/kayakoyan/marketplace-backend/pkg/db/dbtest"
	"github.com/kayakoyan/marketplace-backend/pkg/db/models"
	"github.com/kayakoyan/marketplace-backend/pkg/enums"
	pkgerrors "github.com/kayakoyan/marketplace-backend/pkg/errors"
	"github.com/kayakoyan/marketplace-backend/pkg/storage"
	"github.com/kayakoyan/marketplace-backend/pkg/storage/local"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

type pushed struct {
	channel string
	event   string
	data    any
}

type recorder struct {
	mu   sync.Mutex
	sent []pushed
}

func (r *recorder) Broadcast(_ context.Context, channel, event string, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, pushed{channel: channel, event: event, data: data})
	return nil
}

func (r *recorder) find(channel, event string) []pushed {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []pushed
	for _, p := range r.sent {
		if p.channel == channel && p.event == event {
			out = append(out, p)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

type stubLimiter struct {
	allowed bool
	err     error
	scopes  []string
}

func (l *stubLimiter) FixedWindowAllow(_ context.Context, scope string, _ int64, _ time.Duration) (bool, int64, error) {
	l.scopes = append(l.scopes, scope)
	return l.allowed, 1, l.err
}

type chatHarness struct {
	conn    *gorm.DB
	svc     *Service
	fixture dbtest.Fixture
	rec     *recorder
	limiter *stubLimiter
}

func newChatHarness(t *testing.T) *chatHarness {
	t.Helper()
	conn := dbtest.Open(t)
	store, err := local.New(t.TempDir(), "/storage")
	require.NoError(t, err)
	h := &chatHarness{
		conn:    conn,
		fixture: dbtest.SeedParticipants(t, conn, enums.ListingTypeService),
		rec:     &recorder{},
		limiter: &stubLimiter{allowed: true},
	}
	h.svc, err = NewService(ServiceParams{
		Repo:        NewRepository(conn),
		Orders:      orders.NewRepository(conn),
		Tx:          dbpkg.Wrap(conn),
		Broadcaster: h.rec,
		Uploader:    storage.NewUploader(store, 1<<20),
		Limiter:     h.limiter,
	})
	require.NoError(t, err)
	return h
}

func (h *chatHarness) customer() orders.Actor {
	return orders.Actor{UserID: h.fixture.Customer.ID, Role: enums.RoleCustomer, Name: h.fixture.Customer.Name}
}

func (h *chatHarness) worker() orders.Actor {
	return orders.Actor{UserID: h.fixture.Worker.ID, Role: enums.RoleWorker, Name: h.fixture.Worker.Name}
}

func (h *chatHarness) order(t *testing.T, status enums.OrderStatus) models.Order {
	return dbtest.SeedOrder(t, h.conn, h.fixture, status)
}

func (h *chatHarness) send(t *testing.T, actor orders.Actor, orderID uint64, text string) *MessagePayload {
	t.Helper()
	msg, err := h.svc.SendMessage(context.Background(), actor, orderID, SendInput{Text: text})
	require.NoError(t, err)
	return msg
}

func TestReadUnreadRoundTrip(t *testing.T) {
	h := newChatHarness(t)
	ctx := context.Background()
	order := h.order(t, enums.OrderStatusInProgress)

	for _, text := range []string{"hi", "are you there?", "need a change"} {
		h.send(t, h.customer(), order.ID, text)
	}
	reply := h.send(t, h.worker(), order.ID, "on it")

	workerUnread, err := h.svc.UnreadCount(ctx, h.worker())
	require.NoError(t, err)
	assert.Equal(t, int64(3), workerUnread)
	customerUnread, err := h.svc.UnreadCount(ctx, h.customer())
	require.NoError(t, err)
	assert.Equal(t, int64(1), customerUnread, "own messages never count")

	h.rec.reset()
	receipt, count, err := h.svc.MarkRead(ctx, h.worker(), order.ID)
	require.NoError(t, err)
	assert.Len(t, receipt.MessageIDs, 3)
	assert.NotContains(t, receipt.MessageIDs, reply.ID)
	assert.Equal(t, int64(0), count)

	var unread int64
	require.NoError(t, h.conn.Model(&models.ChatMessage{}).
		Where("order_id = ? AND sender_id = ? AND read_at IS NULL", order.ID, h.fixture.Customer.ID).
		Count(&unread).Error)
	assert.Zero(t, unread)

	var own models.ChatMessage
	require.NoError(t, h.conn.First(&own, reply.ID).Error)
	assert.Nil(t, own.ReadAt, "sender's message stays unread until the customer reads it")

	receipts := h.rec.find(realtime.OrderChatChannel(order.ID), realtime.EventMessagesRead)
	require.Len(t, receipts, 1)
	assert.Equal(t, "Ben Reyes", receipts[0].data.(*ReadReceipt).ReaderName)
	updates := h.rec.find(realtime.UserNotificationsChannel(h.fixture.Worker.ID), realtime.EventUnreadUpdated)
	require.Len(t, updates, 1)
	assert.Equal(t, UnreadUpdated{Count: 0}, updates[0].data)

	// a second read has nothing to mark and sends no receipt
	h.rec.reset()
	receipt, _, err = h.svc.MarkRead(ctx, h.worker(), order.ID)
	require.NoError(t, err)
	assert.Empty(t, receipt.MessageIDs)
	assert.Empty(t, h.rec.find(realtime.OrderChatChannel(order.ID), realtime.EventMessagesRead))
}

func TestSendBroadcastsMessageAndRecipientUnread(t *testing.T) {
	h := newChatHarness(t)
	order := h.order(t, enums.OrderStatusPaymentReceived)

	msg := h.send(t, h.customer(), order.ID, "  hello  ")
	require.NotNil(t, msg.Message)
	assert.Equal(t, "hello", *msg.Message)
	assert.Equal(t, enums.MessageTypeText, msg.Type)
	assert.Equal(t, "Ana Cruz", msg.SenderName)
	assert.Nil(t, msg.ReadAt)

	sent := h.rec.find(realtime.OrderChatChannel(order.ID), realtime.EventMessageSent)
	require.Len(t, sent, 1)
	assert.Equal(t, msg.ID, sent[0].data.(MessagePayload).ID)

	unread := h.rec.find(realtime.UserNotificationsChannel(h.fixture.Worker.ID), realtime.EventUnreadUpdated)
	require.Len(t, unread, 1)
	assert.Equal(t, UnreadUpdated{Count: 1}, unread[0].data)
}

func TestChatClosedForTerminalOrders(t *testing.T) {
	h := newChatHarness(t)
	for _, status := range []enums.OrderStatus{enums.OrderStatusCompleted, enums.OrderStatusCancelled} {
		order := h.order(t, status)
		for _, actor := range []orders.Actor{h.customer(), h.worker()} {
			_, err := h.svc.SendMessage(context.Background(), actor, order.ID, SendInput{Text: "still there?"})
			assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeChatClosed), "%s by %s", status, actor.Role)

			_, err = h.svc.SendMessage(context.Background(), actor, order.ID, SendInput{})
			assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeChatClosed))
		}
	}
	var count int64
	require.NoError(t, h.conn.Model(&models.ChatMessage{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestSendInputValidation(t *testing.T) {
	h := newChatHarness(t)
	ctx := context.Background()
	order := h.order(t, enums.OrderStatusInProgress)

	_, err := h.svc.SendMessage(ctx, h.customer(), order.ID, SendInput{Text: "   "})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNothingToSend))

	_, err = h.svc.SendMessage(ctx, h.customer(), order.ID, SendInput{Text: "see file", FileName: "a.png", File: bytes.NewReader(pngBytes)})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	closed := h.order(t, enums.OrderStatusCompleted)
	_, err = h.svc.SendMessage(ctx, orders.Actor{UserID: 777, Role: enums.RoleCustomer}, closed.ID, SendInput{Text: "hi"})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden), "authorization is checked before chat state")

	_, err = h.svc.SendMessage(ctx, h.customer(), 9999, SendInput{Text: "hi"})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestSendFileKeepsOriginalName(t *testing.T) {
	h := newChatHarness(t)
	order := h.order(t, enums.OrderStatusInProgress)

	msg, err := h.svc.SendMessage(context.Background(), h.worker(), order.ID, SendInput{FileName: "draft v2.png", File: bytes.NewReader(pngBytes)})
	require.NoError(t, err)
	assert.Equal(t, enums.MessageTypeFile, msg.Type)
	assert.Nil(t, msg.Message)
	require.NotNil(t, msg.FileName)
	assert.Equal(t, "draft v2.png", *msg.FileName)
	require.NotNil(t, msg.FileURL)
	assert.Contains(t, *msg.FileURL, "/storage/chat/")
}

func TestFirstCustomerMessageAnnouncesConversation(t *testing.T) {
	h := newChatHarness(t)
	order := h.order(t, enums.OrderStatusPendingPayment)
	workerChannel := realtime.UserNotificationsChannel(h.fixture.Worker.ID)

	first := h.send(t, h.customer(), order.ID, "hello, quick question")
	h.send(t, h.customer(), order.ID, "and another")

	news := h.rec.find(workerChannel, realtime.EventConversationNew)
	require.Len(t, news, 1)
	conv := news[0].data.(ConversationNew)
	assert.Equal(t, order.ID, conv.ID)
	assert.Equal(t, "Ana Cruz", conv.CustomerName)
	assert.Equal(t, order.OrderNumber, conv.OrderNumber)
	assert.True(t, conv.ChatEnabled)
	assert.Equal(t, "warning", conv.StatusColor)
	assert.Equal(t, int64(1), conv.UnreadCount)
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, first.ID, conv.LastMessage.ID)
	assert.Len(t, conv.Messages, 1)

	other := h.order(t, enums.OrderStatusInProgress)
	h.send(t, h.worker(), other.ID, "worker speaks first")
	assert.Len(t, h.rec.find(workerChannel, realtime.EventConversationNew), 1)
	assert.Empty(t, h.rec.find(realtime.UserNotificationsChannel(h.fixture.Customer.ID), realtime.EventConversationNew))
}

func TestConversationAnnouncedOnlyByTheChatStartClaim(t *testing.T) {
	h := newChatHarness(t)
	ctx := context.Background()
	order := h.order(t, enums.OrderStatusPendingPayment)
	workerChannel := realtime.UserNotificationsChannel(h.fixture.Worker.ID)

	// another sender holds the claim while its message is not yet visible
	claimed, err := NewRepository(h.conn).ClaimChatStart(ctx, order.ID, time.Now())
	require.NoError(t, err)
	require.True(t, claimed)

	h.send(t, h.customer(), order.ID, "are you there?")
	assert.Empty(t, h.rec.find(workerChannel, realtime.EventConversationNew))
}

func TestChatStartClaimSucceedsOnce(t *testing.T) {
	h := newChatHarness(t)
	ctx := context.Background()
	order := h.order(t, enums.OrderStatusInProgress)
	repo := NewRepository(h.conn)

	first, err := repo.ClaimChatStart(ctx, order.ID, time.Now())
	require.NoError(t, err)
	second, err := repo.ClaimChatStart(ctx, order.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)

	var stored models.Order
	require.NoError(t, h.conn.First(&stored, order.ID).Error)
	assert.NotNil(t, stored.ChatStartedAt)
}

func TestFailedSendReleasesChatStartClaim(t *testing.T) {
	h := newChatHarness(t)
	ctx := context.Background()
	order := h.order(t, enums.OrderStatusPendingPayment)

	boom := errors.New("insert failed")
	err := dbpkg.Wrap(h.conn).WithTx(ctx, func(tx *gorm.DB) error {
		claimed, err := NewRepository(h.conn).WithTx(tx).ClaimChatStart(ctx, order.ID, time.Now())
		require.NoError(t, err)
		require.True(t, claimed)
		return boom
	})
	require.ErrorIs(t, err, boom)

	h.send(t, h.customer(), order.ID, "hello again")
	assert.Len(t, h.rec.find(realtime.UserNotificationsChannel(h.fixture.Worker.ID), realtime.EventConversationNew), 1)
}

func TestConversationsOrderedByLatestActivity(t *testing.T) {
	h := newChatHarness(t)
	ctx := context.Background()
	o1 := h.order(t, enums.OrderStatusInProgress)
	o2 := h.order(t, enums.OrderStatusInProgress)
	o3 := h.order(t, enums.OrderStatusInProgress)
	h.order(t, enums.OrderStatusInProgress) // no messages, never listed

	h.send(t, h.customer(), o1.ID, "one")
	h.send(t, h.customer(), o2.ID, "two")
	h.send(t, h.worker(), o3.ID, "three")

	convs, err := h.svc.Conversations(ctx, h.customer())
	require.NoError(t, err)
	assert.Equal(t, []uint64{o3.ID, o2.ID, o1.ID}, conversationIDs(convs))
	assert.Equal(t, int64(1), convs[0].UnreadCount)
	assert.Equal(t, int64(0), convs[1].UnreadCount)
	assert.Equal(t, "Ben Reyes", convs[0].Counterparty.Name)
	assert.Equal(t, enums.RoleWorker, convs[0].Counterparty.Role)
	require.NotNil(t, convs[0].LastMessage)
	assert.Equal(t, "three", *convs[0].LastMessage.Message)
	assert.Equal(t, "Logo design", convs[0].ListingTitle)

	h.send(t, h.worker(), o1.ID, "back to one")
	convs, err = h.svc.Conversations(ctx, h.worker())
	require.NoError(t, err)
	assert.Equal(t, []uint64{o1.ID, o3.ID, o2.ID}, conversationIDs(convs))
	assert.Equal(t, "Ana Cruz", convs[0].Counterparty.Name)
	assert.Equal(t, int64(1), convs[0].UnreadCount)

	none, err := h.svc.Conversations(ctx, orders.Actor{UserID: 4242})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func conversationIDs(convs []Conversation) []uint64 {
	out := make([]uint64, 0, len(convs))
	for _, c := range convs {
		out = append(out, c.ID)
	}
	return out
}

func TestThreadIsAscending(t *testing.T) {
	h := newChatHarness(t)
	order := h.order(t, enums.OrderStatusInProgress)
	a := h.send(t, h.customer(), order.ID, "first")
	b := h.send(t, h.worker(), order.ID, "second")
	require.NoError(t, h.conn.Model(&models.Order{}).Where("id = ?", order.ID).Update("status", enums.OrderStatusCompleted).Error)

	thread, err := h.svc.Thread(context.Background(), h.customer(), order.ID)
	require.NoError(t, err)
	assert.False(t, thread.ChatEnabled)
	assert.Equal(t, "Completed", thread.StatusLabel)
	require.Len(t, thread.Messages, 2)
	assert.Equal(t, a.ID, thread.Messages[0].ID)
	assert.Equal(t, b.ID, thread.Messages[1].ID)
	assert.Equal(t, "Ben Reyes", thread.Messages[1].SenderName)

	_, err = h.svc.Thread(context.Background(), orders.Actor{UserID: 999}, order.ID)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden))
}

func TestTypingIsBroadcastAndRateLimited(t *testing.T) {
	h := newChatHarness(t)
	ctx := context.Background()
	order := h.order(t, enums.OrderStatusInProgress)

	require.NoError(t, h.svc.Typing(ctx, h.customer(), order.ID, true))
	typing := h.rec.find(realtime.OrderChatChannel(order.ID), realtime.EventUserTyping)
	require.Len(t, typing, 1)
	assert.Equal(t, TypingPayload{UserID: h.fixture.Customer.ID, UserName: "Ana Cruz", IsTyping: true}, typing[0].data)
	assert.Contains(t, h.limiter.scopes[0], "typing:")

	h.limiter.allowed = false
	err := h.svc.Typing(ctx, h.customer(), order.ID, false)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeRateLimit))

	h.limiter.err = errors.New("redis down")
	require.NoError(t, h.svc.Typing(ctx, h.customer(), order.ID, false), "limiter outage lets typing through")

	var count int64
	require.NoError(t, h.conn.Model(&models.ChatMessage{}).Count(&count).Error)
	assert.Zero(t, count)

	done := h.order(t, enums.OrderStatusCancelled)
	assert.True(t, pkgerrors.HasCode(h.svc.Typing(ctx, h.customer(), done.ID, true), pkgerrors.CodeChatClosed))
}

func TestDeliveryNoticeIsPostedAndAnnounced(t *testing.T) {
	h := newChatHarness(t)
	ctx := context.Background()
	seeded := h.order(t, enums.OrderStatusInProgress)
	order, err := orders.NewRepository(h.conn).FindOrder(ctx, seeded.ID)
	require.NoError(t, err)

	var msg *models.ChatMessage
	require.NoError(t, dbpkg.Wrap(h.conn).WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		msg, err = h.svc.PostDeliveryNotice(ctx, tx, order, "Delivered!")
		return err
	}))
	h.svc.AnnounceMessage(ctx, order, msg)

	sent := h.rec.find(realtime.OrderChatChannel(order.ID), realtime.EventMessageSent)
	require.Len(t, sent, 1)
	payload := sent[0].data.(MessagePayload)
	assert.Equal(t, enums.MessageTypeDeliveryNotice, payload.Type)
	assert.Equal(t, "Ben Reyes", payload.SenderName)

	unread, err := h.svc.UnreadCount(ctx, h.customer())
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)

	// the notice opened the thread, so a later customer message is not news
	h.send(t, h.customer(), order.ID, "thanks!")
	assert.Empty(t, h.rec.find(realtime.UserNotificationsChannel(h.fixture.Worker.ID), realtime.EventConversationNew))
}
