package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/greenmile-app/greenmile-backend/pkg/db/models"
	"github.com/greenmile-app/greenmile-backend/pkg/enums"
	"github.com/greenmile-app/greenmile-backend/pkg/pagination"
)

// Repository persists dispatch cycles. Claim and AdvanceIf are conditional
// single-row updates; they report whether this caller won the write.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateDelivery(ctx context.Context, delivery *models.Delivery) (*models.Delivery, error)
	FindDelivery(ctx context.Context, deliveryID uuid.UUID) (*models.Delivery, error)
	FindActiveByOrder(ctx context.Context, orderID uuid.UUID) (*models.Delivery, error)
	LatestCycleForOrder(ctx context.Context, orderID uuid.UUID) (int, error)
	Claim(ctx context.Context, deliveryID, riderID uuid.UUID, vehicle enums.VehicleClass, ecoBonusCents int64, at time.Time) (bool, error)
	AdvanceIf(ctx context.Context, deliveryID, riderID uuid.UUID, from, to enums.DeliveryStatus, updates map[string]any) (bool, error)
	UpdateDelivery(ctx context.Context, deliveryID uuid.UUID, updates map[string]any) error
	ListAvailable(ctx context.Context, params pagination.Params) (*JobList, error)
	ListExpiredAvailable(ctx context.Context, cutoff time.Time, limit int) ([]models.Delivery, error)
	ListStaleAccepted(ctx context.Context, cutoff time.Time, limit int) ([]models.Delivery, error)
	ListRiderDeliveries(ctx context.Context, riderID uuid.UUID, params pagination.Params) ([]models.Delivery, string, error)
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

func (r *repository) CreateDelivery(ctx context.Context, delivery *models.Delivery) (*models.Delivery, error) {
	if err := r.db.WithContext(ctx).Create(delivery).Error; err != nil {
		return nil, err
	}
	return delivery, nil
}

func (r *repository) FindDelivery(ctx context.Context, deliveryID uuid.UUID) (*models.Delivery, error) {
	var delivery models.Delivery
	err := r.db.WithContext(ctx).
		Where("id = ?", deliveryID).
		First(&delivery).Error
	if err != nil {
		return nil, err
	}
	return &delivery, nil
}

func (r *repository) FindActiveByOrder(ctx context.Context, orderID uuid.UUID) (*models.Delivery, error) {
	var delivery models.Delivery
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Where("status NOT IN ?", []enums.DeliveryStatus{
			enums.DeliveryStatusCancelled,
			enums.DeliveryStatusExpired,
			enums.DeliveryStatusDelivered,
		}).
		First(&delivery).Error
	if err != nil {
		return nil, err
	}
	return &delivery, nil
}

func (r *repository) LatestCycleForOrder(ctx context.Context, orderID uuid.UUID) (int, error) {
	var cycle *int
	err := r.db.WithContext(ctx).
		Model(&models.Delivery{}).
		Where("order_id = ?", orderID).
		Select("MAX(cycle)").
		Scan(&cycle).Error
	if err != nil {
		return 0, err
	}
	if cycle == nil {
		return 0, nil
	}
	return *cycle, nil
}

// Claim is the acceptance race. The WHERE clause is the whole correctness
// story: the row moves to accepted only when it is still available and
// unassigned, so exactly one concurrent caller sees RowsAffected == 1.
func (r *repository) Claim(ctx context.Context, deliveryID, riderID uuid.UUID, vehicle enums.VehicleClass, ecoBonusCents int64, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Delivery{}).
		Where("id = ? AND status = ? AND rider_id IS NULL", deliveryID, enums.DeliveryStatusAvailable).
		Updates(map[string]any{
			"rider_id":        riderID,
			"status":          enums.DeliveryStatusAccepted,
			"vehicle_class":   vehicle,
			"eco_bonus_cents": ecoBonusCents,
			"accepted_at":     at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// AdvanceIf moves one step only when the row still holds the expected status
// and rider, so a duplicate or late request cannot double-apply.
func (r *repository) AdvanceIf(ctx context.Context, deliveryID, riderID uuid.UUID, from, to enums.DeliveryStatus, updates map[string]any) (bool, error) {
	values := map[string]any{"status": to}
	for column, value := range updates {
		values[column] = value
	}
	result := r.db.WithContext(ctx).
		Model(&models.Delivery{}).
		Where("id = ? AND status = ? AND rider_id = ?", deliveryID, from, riderID).
		Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) UpdateDelivery(ctx context.Context, deliveryID uuid.UUID, updates map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&models.Delivery{}).
		Where("id = ?", deliveryID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) ListAvailable(ctx context.Context, params pagination.Params) (*JobList, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}

	query := r.db.WithContext(ctx).
		Model(&models.Delivery{}).
		Where("status = ?", enums.DeliveryStatusAvailable)
	if cursor != nil {
		query = query.Where(
			"(published_at < ?) OR (published_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var rows []models.Delivery
	err = query.
		Order("published_at DESC").
		Order("id DESC").
		Limit(limit + 1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	next := ""
	if len(rows) > limit {
		last := rows[limit-1]
		next = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.PublishedAt, ID: last.ID})
		rows = rows[:limit]
	}

	jobs := make([]JobView, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, JobView{
			ID:                  row.ID,
			OrderID:             row.OrderID,
			PickupAddress:       row.PickupAddress,
			DropoffAddress:      row.DropoffAddress,
			DistanceKm:          row.DistanceKm,
			FeeCents:            row.FeeCents,
			EcoBonusCents:       row.EcoBonusCents,
			PublishedAt:         row.PublishedAt,
			ExpiresAt:           row.ExpiresAt,
			EstimatedPickupAt:   row.EstimatedPickupAt,
			EstimatedDeliveryAt: row.EstimatedDeliveryAt,
		})
	}
	return &JobList{Jobs: jobs, NextCursor: next}, nil
}

func (r *repository) ListExpiredAvailable(ctx context.Context, cutoff time.Time, limit int) ([]models.Delivery, error) {
	var rows []models.Delivery
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.DeliveryStatusAvailable).
		Where("expires_at IS NOT NULL AND expires_at <= ?", cutoff).
		Order("expires_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListStaleAccepted(ctx context.Context, cutoff time.Time, limit int) ([]models.Delivery, error) {
	var rows []models.Delivery
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.DeliveryStatusAccepted).
		Where("accepted_at IS NOT NULL AND accepted_at <= ?", cutoff).
		Order("accepted_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListRiderDeliveries(ctx context.Context, riderID uuid.UUID, params pagination.Params) ([]models.Delivery, string, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", err
	}

	query := r.db.WithContext(ctx).
		Where("rider_id = ?", riderID)
	if cursor != nil {
		query = query.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var rows []models.Delivery
	err = query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit + 1).
		Find(&rows).Error
	if err != nil {
		return nil, "", err
	}

	next := ""
	if len(rows) > limit {
		last := rows[limit-1]
		next = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		rows = rows[:limit]
	}
	return rows, next, nil
}
