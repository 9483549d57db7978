package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/greenmile-app/greenmile-backend/pkg/enums"
)

// Delivery is one dispatch cycle for an order. A cancelled or expired row is
// terminal; republishing creates a fresh row so rider_id never changes after
// acceptance.
type Delivery struct {
	ID               uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID          uuid.UUID            `gorm:"column:order_id;type:uuid;not null"`
	RiderID          *uuid.UUID           `gorm:"column:rider_id;type:uuid"`
	Status           enums.DeliveryStatus `gorm:"column:status;type:delivery_status;not null;default:'available'"`
	VehicleClass     *enums.VehicleClass  `gorm:"column:vehicle_class;type:vehicle_class"`
	PickupAddress    string               `gorm:"column:pickup_address;not null"`
	DropoffAddress   string               `gorm:"column:dropoff_address;not null"`
	DistanceKm       string               `gorm:"column:distance_km;type:numeric(8,3);not null;default:0"`
	FeeCents         int64                `gorm:"column:fee_cents;not null"`
	EcoBonusCents    int64                `gorm:"column:eco_bonus_cents;not null;default:0"`
	CarbonSavedGrams int64                `gorm:"column:carbon_saved_grams;not null;default:0"`
	Cycle            int                  `gorm:"column:cycle;not null;default:1"`
	CancelReason     *string              `gorm:"column:cancel_reason"`
	PublishedAt      time.Time            `gorm:"column:published_at;autoCreateTime"`
	ExpiresAt        *time.Time           `gorm:"column:expires_at"`
	EstimatedPickupAt   *time.Time        `gorm:"column:estimated_pickup_at"`
	EstimatedDeliveryAt *time.Time        `gorm:"column:estimated_delivery_at"`
	AcceptedAt       *time.Time           `gorm:"column:accepted_at"`
	PickedUpAt       *time.Time           `gorm:"column:picked_up_at"`
	DeliveredAt      *time.Time           `gorm:"column:delivered_at"`
	CancelledAt      *time.Time           `gorm:"column:cancelled_at"`
	CreatedAt        time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
