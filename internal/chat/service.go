// Package chat stores order-scoped messages, tracks what each participant
// has read and pushes chat events to the order's channels.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/kayakoyan/marketplace-backend/internal/orders"
	"github.com/kayakoyan/marketplace-backend/internal/realtime"
	"github.com/kayakoyan/marketplace-backend/pkg/config"
	"github.com/kayakoyan/marketplace-backend/pkg/db/models"
	"github.com/kayakoyan/marketplace-backend/pkg/enums"
	pkgerrors "github.com/kayakoyan/marketplace-backend/pkg/errors"
	"github.com/kayakoyan/marketplace-backend/pkg/logger"
	"github.com/kayakoyan/marketplace-backend/pkg/storage"
)

const (
	maxMessageLength    = 5000
	defaultTypingLimit  = 30
	defaultTypingWindow = time.Minute
)

type orderFinder interface {
	FindOrder(ctx context.Context, orderID uint64) (*models.Order, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type rateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

type ServiceParams struct {
	Repo         Repository
	Orders       orderFinder
	Tx           txRunner
	Broadcaster  realtime.Broadcaster
	Uploader     *storage.Uploader
	Limiter      rateLimiter
	Hub          *realtime.Hub
	FeedMode     string
	Logger       *logger.Logger
	TypingLimit  int
	TypingWindow time.Duration
	Now          func() time.Time
}

type Service struct {
	repo         Repository
	orders       orderFinder
	tx           txRunner
	broadcaster  realtime.Broadcaster
	uploader     *storage.Uploader
	limiter      rateLimiter
	feed         Feed
	logg         *logger.Logger
	typingLimit  int64
	typingWindow time.Duration
	now          func() time.Time
}

func NewService(p ServiceParams) (*Service, error) {
	if p.Repo == nil {
		return nil, fmt.Errorf("chat repository required")
	}
	if p.Orders == nil {
		return nil, fmt.Errorf("order finder required")
	}
	if p.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if p.TypingLimit <= 0 {
		p.TypingLimit = defaultTypingLimit
	}
	if p.TypingWindow <= 0 {
		p.TypingWindow = defaultTypingWindow
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	s := &Service{
		repo:         p.Repo,
		orders:       p.Orders,
		tx:           p.Tx,
		broadcaster:  p.Broadcaster,
		uploader:     p.Uploader,
		limiter:      p.Limiter,
		logg:         p.Logger,
		typingLimit:  int64(p.TypingLimit),
		typingWindow: p.TypingWindow,
		now:          p.Now,
	}
	poll := NewPollingFeed(s.repo, s.encode)
	s.feed = poll
	if strings.EqualFold(p.FeedMode, config.ChatFeedPush) && p.Hub != nil {
		s.feed = NewPushFeed(p.Hub, poll)
	}
	return s, nil
}

// SendInput carries either a text message or a file, never both.
type SendInput struct {
	Text     string
	FileName string
	File     io.Reader
}

// loadForActor loads the order and checks the actor takes part in it.
func (s *Service) loadForActor(ctx context.Context, actor orders.Actor, orderID uint64) (*models.Order, orders.Participant, error) {
	if actor.UserID == 0 {
		return nil, orders.Participant{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	order, err := s.orders.FindOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, orders.Participant{}, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, orders.Participant{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	me, err := orders.Authorize(order, actor, "")
	if err != nil {
		return nil, orders.Participant{}, err
	}
	return order, me, nil
}

func chatClosed(order *models.Order) error {
	return pkgerrors.New(pkgerrors.CodeChatClosed, "chat is closed for this order").
		WithDetails(map[string]any{"status": order.Status, "status_label": order.Status.Label()})
}

// SendMessage stores a message from the actor and broadcasts it. The
// sender's own message stays unread.
func (s *Service) SendMessage(ctx context.Context, actor orders.Actor, orderID uint64, in SendInput) (*MessagePayload, error) {
	order, me, err := s.loadForActor(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.ChatEnabled() {
		return nil, chatClosed(order)
	}
	text := strings.TrimSpace(in.Text)
	hasFile := in.File != nil
	switch {
	case text == "" && !hasFile:
		return nil, pkgerrors.New(pkgerrors.CodeNothingToSend, "a message or a file is required")
	case text != "" && hasFile:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "send either a message or a file, not both")
	case len(text) > maxMessageLength:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("message must be at most %d characters", maxMessageLength))
	}

	msg := &models.ChatMessage{OrderID: order.ID, SenderID: me.UserID, Type: enums.MessageTypeText}
	if hasFile {
		if s.uploader == nil {
			return nil, pkgerrors.New(pkgerrors.CodeUploadFailed, "file storage is not configured")
		}
		obj, err := s.uploader.Upload(ctx, fmt.Sprintf("chat/%d", order.ID), in.FileName, in.File)
		if err != nil {
			return nil, err
		}
		msg.Type = enums.MessageTypeFile
		msg.FilePath = &obj.Path
		msg.FileName = &obj.Name
	} else {
		msg.Message = &text
	}

	first := false
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		claimed, err := repo.ClaimChatStart(ctx, order.ID, s.now())
		if err != nil {
			return err
		}
		first = claimed
		return repo.CreateMessage(ctx, msg)
	})
	if err != nil {
		if msg.FilePath != nil {
			s.discard(ctx, *msg.FilePath)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store message")
	}

	payload := s.messagePayload(msg, me.Name)
	s.announce(ctx, order, payload)
	if first && me.Role == enums.RoleCustomer {
		s.announceConversation(ctx, order, payload)
	}
	return &payload, nil
}

// PostDeliveryNotice writes the worker's delivery notice inside the
// delivery transaction. AnnounceMessage broadcasts it once committed.
func (s *Service) PostDeliveryNotice(ctx context.Context, tx *gorm.DB, order *models.Order, text string) (*models.ChatMessage, error) {
	msg := &models.ChatMessage{
		OrderID:  order.ID,
		SenderID: order.WorkerID,
		Message:  &text,
		Type:     enums.MessageTypeDeliveryNotice,
	}
	repo := s.repo.WithTx(tx)
	if _, err := repo.ClaimChatStart(ctx, order.ID, s.now()); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "post delivery notice")
	}
	if err := repo.CreateMessage(ctx, msg); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "post delivery notice")
	}
	return msg, nil
}

func (s *Service) AnnounceMessage(ctx context.Context, order *models.Order, msg *models.ChatMessage) {
	s.announce(ctx, order, s.messagePayload(msg, senderName(order, msg.SenderID)))
}

// announce pushes message.sent to the thread and the recipient's new
// unread total to their notification channel.
func (s *Service) announce(ctx context.Context, order *models.Order, payload MessagePayload) {
	s.push(ctx, realtime.OrderChatChannel(order.ID), realtime.EventMessageSent, payload)

	recipient, ok := orders.Counterparty(order, payload.SenderID)
	if !ok {
		return
	}
	count, err := s.repo.UnreadCount(ctx, recipient.UserID)
	if err != nil {
		s.logError(ctx, order.ID, "unread count refresh failed", err)
		return
	}
	s.push(ctx, realtime.UserNotificationsChannel(recipient.UserID), realtime.EventUnreadUpdated, UnreadUpdated{Count: count})
}

// announceConversation tells the worker about a thread their inbox has not
// subscribed to yet.
func (s *Service) announceConversation(ctx context.Context, order *models.Order, first MessagePayload) {
	payload := ConversationNew{
		ID:           order.ID,
		CustomerID:   order.CustomerID,
		CustomerName: order.CustomerName(),
		OrderNumber:  order.OrderNumber,
		Status:       order.Status,
		StatusColor:  order.Status.Color(),
		ChatEnabled:  order.Status.ChatEnabled(),
		UnreadCount:  1,
		LastMessage:  &first,
		Messages:     []MessagePayload{first},
	}
	if order.Customer != nil {
		payload.CustomerAvatar = s.avatarURL(order.Customer)
	}
	s.push(ctx, realtime.UserNotificationsChannel(order.WorkerID), realtime.EventConversationNew, payload)
}

// MarkRead marks everything the viewer received on the order as read.
func (s *Service) MarkRead(ctx context.Context, actor orders.Actor, orderID uint64) (*ReadReceipt, int64, error) {
	order, me, err := s.loadForActor(ctx, actor, orderID)
	if err != nil {
		return nil, 0, err
	}
	now := s.now().UTC()
	ids, err := s.repo.MarkRead(ctx, order.ID, me.UserID, now)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark messages read")
	}
	if ids == nil {
		ids = []uint64{}
	}
	receipt := &ReadReceipt{ReaderID: me.UserID, ReaderName: me.Name, MessageIDs: ids, ReadAt: now}
	if len(ids) > 0 {
		s.push(ctx, realtime.OrderChatChannel(order.ID), realtime.EventMessagesRead, receipt)
	}

	count, err := s.repo.UnreadCount(ctx, me.UserID)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count unread messages")
	}
	s.push(ctx, realtime.UserNotificationsChannel(me.UserID), realtime.EventUnreadUpdated, UnreadUpdated{Count: count})
	return receipt, count, nil
}

// UnreadCount totals messages from others the user has not read, across
// all of their orders.
func (s *Service) UnreadCount(ctx context.Context, actor orders.Actor) (int64, error) {
	if actor.UserID == 0 {
		return 0, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	count, err := s.repo.UnreadCount(ctx, actor.UserID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count unread messages")
	}
	return count, nil
}

// Conversations lists the user's threads by latest activity.
func (s *Service) Conversations(ctx context.Context, actor orders.Actor) ([]Conversation, error) {
	if actor.UserID == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	rows, err := s.repo.ConversationOrders(ctx, actor.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list conversations")
	}
	ids := make([]uint64, 0, len(rows))
	for _, o := range rows {
		ids = append(ids, o.ID)
	}
	unread, err := s.repo.UnreadByOrder(ctx, actor.UserID, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count unread messages")
	}
	last, err := s.repo.LastMessages(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load last messages")
	}

	out := make([]Conversation, 0, len(rows))
	for i := range rows {
		order := &rows[i]
		conv := Conversation{
			ID:           order.ID,
			OrderNumber:  order.OrderNumber,
			Status:       order.Status,
			StatusLabel:  order.Status.Label(),
			StatusColor:  order.Status.Color(),
			ChatEnabled:  order.Status.ChatEnabled(),
			UnreadCount:  unread[order.ID],
			Counterparty: s.counterparty(order, actor.UserID),
		}
		if order.Listing != nil {
			conv.ListingTitle = order.Listing.Title
		}
		if msg, ok := last[order.ID]; ok {
			p := s.messagePayload(&msg, "")
			conv.LastMessage = &p
		}
		out = append(out, conv)
	}
	return out, nil
}

// Thread returns the order's full history, oldest first.
func (s *Service) Thread(ctx context.Context, actor orders.Actor, orderID uint64) (*Thread, error) {
	order, _, err := s.loadForActor(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.Thread(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load messages")
	}
	thread := &Thread{
		OrderID:      order.ID,
		OrderNumber:  order.OrderNumber,
		Status:       order.Status,
		StatusLabel:  order.Status.Label(),
		ChatEnabled:  order.Status.ChatEnabled(),
		Counterparty: s.counterparty(order, actor.UserID),
		Messages:     make([]MessagePayload, 0, len(rows)),
	}
	for i := range rows {
		thread.Messages = append(thread.Messages, s.messagePayload(&rows[i], ""))
	}
	return thread, nil
}

// Typing relays a typing indicator. Nothing is stored.
func (s *Service) Typing(ctx context.Context, actor orders.Actor, orderID uint64, isTyping bool) error {
	order, me, err := s.loadForActor(ctx, actor, orderID)
	if err != nil {
		return err
	}
	if !order.Status.ChatEnabled() {
		return chatClosed(order)
	}
	if s.limiter != nil {
		scope := fmt.Sprintf("typing:%d:%d", me.UserID, order.ID)
		allowed, _, err := s.limiter.FixedWindowAllow(ctx, scope, s.typingLimit, s.typingWindow)
		switch {
		case err != nil:
			s.logError(ctx, order.ID, "typing rate limit unavailable", err)
		case !allowed:
			return pkgerrors.New(pkgerrors.CodeRateLimit, "too many typing updates")
		}
	}
	s.push(ctx, realtime.OrderChatChannel(order.ID), realtime.EventUserTyping, TypingPayload{
		UserID:   me.UserID,
		UserName: me.Name,
		IsTyping: isTyping,
	})
	return nil
}

// OpenFeed authorizes the actor and starts tailing the order's messages
// after afterID.
func (s *Service) OpenFeed(ctx context.Context, actor orders.Actor, orderID, afterID uint64) (Tail, error) {
	order, _, err := s.loadForActor(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	tail, err := s.feed.Open(ctx, order.ID, afterID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "open message feed")
	}
	return tail, nil
}

func (s *Service) counterparty(order *models.Order, viewerID uint64) Counterparty {
	other, ok := orders.Counterparty(order, viewerID)
	if !ok {
		return Counterparty{}
	}
	cp := Counterparty{ID: other.UserID, Name: other.Name, Role: other.Role}
	user := order.Customer
	if other.Role == enums.RoleWorker {
		user = order.Worker
	}
	if user != nil {
		cp.Avatar = s.avatarURL(user)
	}
	return cp
}

func (s *Service) avatarURL(user *models.User) *string {
	if user.AvatarPath == nil || *user.AvatarPath == "" || s.uploader == nil {
		return nil
	}
	url := s.uploader.Store().URL(*user.AvatarPath)
	return &url
}

func (s *Service) push(ctx context.Context, channel, event string, data any) {
	if s.broadcaster == nil {
		return
	}
	if err := s.broadcaster.Broadcast(ctx, channel, event, data); err != nil && s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{"channel": channel, "event": event})
		s.logg.Error(logCtx, "chat broadcast failed", err)
	}
}

func (s *Service) discard(ctx context.Context, path string) {
	if err := s.uploader.Store().Delete(ctx, path); err != nil && s.logg != nil {
		s.logg.Error(s.logg.WithField(ctx, "path", path), "orphaned chat upload cleanup failed", err)
	}
}

func (s *Service) logError(ctx context.Context, orderID uint64, msg string, err error) {
	if s.logg == nil {
		return
	}
	s.logg.Error(s.logg.WithOrderID(ctx, orderID), msg, err)
}
