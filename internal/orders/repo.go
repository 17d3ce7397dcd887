package orders

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/kayakoyan/marketplace-backend/pkg/db/models"
	"github.com/kayakoyan/marketplace-backend/pkg/enums"
	"github.com/kayakoyan/marketplace-backend/pkg/pagination"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindListing(ctx context.Context, listingID uint64) (*models.Listing, error) {
	var listing models.Listing
	if err := r.db.WithContext(ctx).Preload("Worker").First(&listing, listingID).Error; err != nil {
		return nil, err
	}
	return &listing, nil
}

func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Omit("Listing", "Customer", "Worker").Create(order).Error
}

func (r *repository) FindOrder(ctx context.Context, orderID uint64) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Listing").
		Preload("Customer").
		Preload("Worker").
		First(&order, orderID).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// CompareAndSwapStatus moves the order from -> to in a single UPDATE guarded
// by the expected status. Stamps only fill columns that are still null.
func (r *repository) CompareAndSwapStatus(ctx context.Context, orderID uint64, from, to enums.OrderStatus, stamps []Stamp, extra map[string]any, now time.Time) (bool, error) {
	updates := map[string]any{
		"status":     to,
		"updated_at": now,
	}
	for _, stamp := range stamps {
		updates[string(stamp)] = gorm.Expr("COALESCE("+string(stamp)+", ?)", now)
	}
	for k, v := range extra {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListOrders(ctx context.Context, filter ListFilter, params pagination.Params) ([]models.Order, error) {
	query := r.db.WithContext(ctx).
		Preload("Listing").
		Preload("Customer").
		Preload("Worker")
	switch filter.Role {
	case enums.RoleWorker:
		query = query.Where("worker_id = ?", filter.UserID)
	default:
		query = query.Where("customer_id = ?", filter.UserID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var rows []models.Order
	err = query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error
	return rows, err
}

func (r *repository) FindPendingPaymentBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Preload("Listing").
		Preload("Customer").
		Preload("Worker").
		Where("status = ? AND created_at < ?", enums.OrderStatusPendingPayment, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) CreatePayment(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) LatestPayment(ctx context.Context, orderID uint64) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id DESC").
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) UpdatePayment(ctx context.Context, paymentID uint64, updates map[string]any) error {
	return r.db.WithContext(ctx).Model(&models.Payment{}).Where("id = ?", paymentID).Updates(updates).Error
}

func (r *repository) CreateDelivery(ctx context.Context, delivery *models.Delivery) error {
	return r.db.WithContext(ctx).Create(delivery).Error
}

func (r *repository) FindDelivery(ctx context.Context, orderID uint64) (*models.Delivery, error) {
	var delivery models.Delivery
	err := r.db.WithContext(ctx).Preload("Files").Where("order_id = ?", orderID).First(&delivery).Error
	if err != nil {
		return nil, err
	}
	return &delivery, nil
}

func (r *repository) CreateDownload(ctx context.Context, download *models.DigitalDownload) error {
	return r.db.WithContext(ctx).Create(download).Error
}

// OrderParticipants serves channel authorization without loading relations.
func (r *repository) OrderParticipants(ctx context.Context, orderID uint64) (uint64, uint64, error) {
	var row struct {
		CustomerID uint64
		WorkerID   uint64
	}
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Select("customer_id, worker_id").
		Where("id = ?", orderID).
		Take(&row).Error
	if err != nil {
		return 0, 0, err
	}
	return row.CustomerID, row.WorkerID, nil
}
