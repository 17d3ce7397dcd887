package chat

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/kayakoyan/marketplace-backend/pkg/db/models"
)

// Repository persists chat messages. Messages are append-only apart from
// their read_at column.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateMessage(ctx context.Context, msg *models.ChatMessage) error
	ClaimChatStart(ctx context.Context, orderID uint64, now time.Time) (bool, error)
	Thread(ctx context.Context, orderID uint64) ([]models.ChatMessage, error)
	MessagesAfter(ctx context.Context, orderID, afterID uint64, limit int) ([]models.ChatMessage, error)
	MarkRead(ctx context.Context, orderID, viewerID uint64, now time.Time) ([]uint64, error)
	UnreadCount(ctx context.Context, userID uint64) (int64, error)
	UnreadByOrder(ctx context.Context, userID uint64, orderIDs []uint64) (map[uint64]int64, error)
	ConversationOrders(ctx context.Context, userID uint64) ([]models.Order, error)
	LastMessages(ctx context.Context, orderIDs []uint64) (map[uint64]models.ChatMessage, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateMessage(ctx context.Context, msg *models.ChatMessage) error {
	return r.db.WithContext(ctx).Omit("Sender").Create(msg).Error
}

// ClaimChatStart stamps orders.chat_started_at and reports whether this call
// set it. A concurrent claimer blocks on the row lock until the first
// transaction ends, then finds the column set.
func (r *repository) ClaimChatStart(ctx context.Context, orderID uint64, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND chat_started_at IS NULL", orderID).
		UpdateColumn("chat_started_at", now)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Thread(ctx context.Context, orderID uint64) ([]models.ChatMessage, error) {
	var rows []models.ChatMessage
	err := r.db.WithContext(ctx).
		Preload("Sender").
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) MessagesAfter(ctx context.Context, orderID, afterID uint64, limit int) ([]models.ChatMessage, error) {
	var rows []models.ChatMessage
	err := r.db.WithContext(ctx).
		Preload("Sender").
		Where("order_id = ? AND id > ?", orderID, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// MarkRead stamps every unread message the viewer received on the order and
// returns the ids it touched.
func (r *repository) MarkRead(ctx context.Context, orderID, viewerID uint64, now time.Time) ([]uint64, error) {
	var ids []uint64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.ChatMessage{}).
			Where("order_id = ? AND sender_id <> ? AND read_at IS NULL", orderID, viewerID).
			Order("id ASC").
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Model(&models.ChatMessage{}).
			Where("id IN ? AND read_at IS NULL", ids).
			Update("read_at", now).Error
	})
	return ids, err
}

func (r *repository) unreadScope(ctx context.Context, userID uint64) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&models.ChatMessage{}).
		Joins("JOIN orders ON orders.id = chat_messages.order_id").
		Where("(orders.customer_id = ? OR orders.worker_id = ?)", userID, userID).
		Where("chat_messages.sender_id <> ? AND chat_messages.read_at IS NULL", userID)
}

func (r *repository) UnreadCount(ctx context.Context, userID uint64) (int64, error) {
	var count int64
	err := r.unreadScope(ctx, userID).Count(&count).Error
	return count, err
}

func (r *repository) UnreadByOrder(ctx context.Context, userID uint64, orderIDs []uint64) (map[uint64]int64, error) {
	out := make(map[uint64]int64, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		OrderID uint64
		Total   int64
	}
	err := r.unreadScope(ctx, userID).
		Where("chat_messages.order_id IN ?", orderIDs).
		Select("chat_messages.order_id AS order_id, COUNT(*) AS total").
		Group("chat_messages.order_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.OrderID] = row.Total
	}
	return out, nil
}

// ConversationOrders returns the user's orders that have at least one
// message, most recent activity first.
func (r *repository) ConversationOrders(ctx context.Context, userID uint64) ([]models.Order, error) {
	latest := r.db.Model(&models.ChatMessage{}).
		Select("order_id, MAX(id) AS last_message_id").
		Group("order_id")

	var rows []models.Order
	err := r.db.WithContext(ctx).
		Preload("Listing").
		Preload("Customer").
		Preload("Worker").
		Joins("JOIN (?) AS latest ON latest.order_id = orders.id", latest).
		Where("orders.customer_id = ? OR orders.worker_id = ?", userID, userID).
		Order("latest.last_message_id DESC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) LastMessages(ctx context.Context, orderIDs []uint64) (map[uint64]models.ChatMessage, error) {
	out := make(map[uint64]models.ChatMessage, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	latest := r.db.Model(&models.ChatMessage{}).
		Select("MAX(id)").
		Where("order_id IN ?", orderIDs).
		Group("order_id")

	var rows []models.ChatMessage
	err := r.db.WithContext(ctx).
		Preload("Sender").
		Where("id IN (?)", latest).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.OrderID] = row
	}
	return out, nil
}
