package deliveries

import (
	"time"

	"github.com/google/uuid"

	"github.com/greenmile-app/greenmile-backend/pkg/db/models"
	"github.com/greenmile-app/greenmile-backend/pkg/enums"
)

type deliveryView struct {
	ID                  uuid.UUID            `json:"id"`
	OrderID             uuid.UUID            `json:"order_id"`
	RiderID             *uuid.UUID           `json:"rider_id,omitempty"`
	Status              enums.DeliveryStatus `json:"status"`
	VehicleClass        *enums.VehicleClass  `json:"vehicle_class,omitempty"`
	PickupAddress       string               `json:"pickup_address"`
	DropoffAddress      string               `json:"dropoff_address"`
	DistanceKm          string               `json:"distance_km"`
	FeeCents            int64                `json:"fee_cents"`
	EcoBonusCents       int64                `json:"eco_bonus_cents"`
	CarbonSavedGrams    int64                `json:"carbon_saved_grams"`
	Cycle               int                  `json:"cycle"`
	CancelReason        *string              `json:"cancel_reason,omitempty"`
	PublishedAt         time.Time            `json:"published_at"`
	ExpiresAt           *time.Time           `json:"expires_at,omitempty"`
	EstimatedPickupAt   *time.Time           `json:"estimated_pickup_at,omitempty"`
	EstimatedDeliveryAt *time.Time           `json:"estimated_delivery_at,omitempty"`
	AcceptedAt          *time.Time           `json:"accepted_at,omitempty"`
	PickedUpAt          *time.Time           `json:"picked_up_at,omitempty"`
	DeliveredAt         *time.Time           `json:"delivered_at,omitempty"`
	CancelledAt         *time.Time           `json:"cancelled_at,omitempty"`
}

func toDeliveryView(delivery *models.Delivery) deliveryView {
	return deliveryView{
		ID:                  delivery.ID,
		OrderID:             delivery.OrderID,
		RiderID:             delivery.RiderID,
		Status:              delivery.Status,
		VehicleClass:        delivery.VehicleClass,
		PickupAddress:       delivery.PickupAddress,
		DropoffAddress:      delivery.DropoffAddress,
		DistanceKm:          delivery.DistanceKm,
		FeeCents:            delivery.FeeCents,
		EcoBonusCents:       delivery.EcoBonusCents,
		CarbonSavedGrams:    delivery.CarbonSavedGrams,
		Cycle:               delivery.Cycle,
		CancelReason:        delivery.CancelReason,
		PublishedAt:         delivery.PublishedAt,
		ExpiresAt:           delivery.ExpiresAt,
		EstimatedPickupAt:   delivery.EstimatedPickupAt,
		EstimatedDeliveryAt: delivery.EstimatedDeliveryAt,
		AcceptedAt:          delivery.AcceptedAt,
		PickedUpAt:          delivery.PickedUpAt,
		DeliveredAt:         delivery.DeliveredAt,
		CancelledAt:         delivery.CancelledAt,
	}
}
