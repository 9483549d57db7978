package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/greenmile-app/greenmile-backend/pkg/enums"
)

// Order is the per-vendor order record driving the fulfilment lifecycle.
type Order struct {
	ID                   uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CustomerID           uuid.UUID           `gorm:"column:customer_id;type:uuid;not null"`
	VendorID             uuid.UUID           `gorm:"column:vendor_id;type:uuid;not null"`
	Status               enums.OrderStatus   `gorm:"column:status;type:order_status;not null;default:'pending'"`
	PaymentStatus        enums.PaymentStatus `gorm:"column:payment_status;type:payment_status;not null;default:'pending'"`
	SubtotalCents        int64               `gorm:"column:subtotal_cents;not null"`
	DeliveryFeeCents     int64               `gorm:"column:delivery_fee_cents;not null;default:0"`
	TotalCents           int64               `gorm:"column:total_cents;not null"`
	PaymentRef           *string             `gorm:"column:payment_ref"`
	PickupAddress        string              `gorm:"column:pickup_address;not null;default:''"`
	DeliveryAddress      string              `gorm:"column:delivery_address;not null"`
	DeliveryDistanceKm   string              `gorm:"column:delivery_distance_km;type:numeric(8,3);not null;default:0"`
	CarbonCreditsEarned  int64               `gorm:"column:carbon_credits_earned;not null;default:0"`
	CancellationReason   *string             `gorm:"column:cancellation_reason"`
	CancelledByRole      *enums.ActorRole    `gorm:"column:cancelled_by_role;type:actor_role"`
	ConfirmedAt          *time.Time          `gorm:"column:confirmed_at"`
	ReadyAt              *time.Time          `gorm:"column:ready_at"`
	DeliveredAt          *time.Time          `gorm:"column:delivered_at"`
	CancelledAt          *time.Time          `gorm:"column:cancelled_at"`
	RefundedAt           *time.Time          `gorm:"column:refunded_at"`
	Items                []OrderItem         `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt            time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
