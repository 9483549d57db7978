package dispatch

import (
	"time"

	"github.com/google/uuid"

	"github.com/greenmile-app/greenmile-backend/pkg/db/models"
	"github.com/greenmile-app/greenmile-backend/pkg/enums"
)

// PublishInput creates a fresh dispatch cycle for an order that reached a
// deliverable status.
type PublishInput struct {
	OrderID        uuid.UUID `json:"order_id" validate:"required"`
	PickupAddress  string    `json:"pickup_address" validate:"required"`
	DropoffAddress string    `json:"dropoff_address" validate:"required"`
	DistanceKm     string    `json:"distance_km"`
}

// AcceptInput is a rider's claim on an available delivery.
type AcceptInput struct {
	DeliveryID   uuid.UUID          `json:"delivery_id" validate:"required"`
	RiderID      uuid.UUID          `json:"rider_id" validate:"required"`
	VehicleClass enums.VehicleClass `json:"vehicle_class" validate:"required"`
}

// AcceptOutcome distinguishes winning a claim from losing the race. Losing is
// an expected contention result, not a fault.
type AcceptOutcome string

const (
	AcceptOutcomeAccepted        AcceptOutcome = "accepted"
	AcceptOutcomeAlreadyAccepted AcceptOutcome = "already_accepted"
)

// AcceptResult carries the outcome plus the delivery when the claim won. A
// retry by the rider who already holds the delivery reports accepted again.
type AcceptResult struct {
	Outcome  AcceptOutcome    `json:"outcome"`
	Delivery *models.Delivery `json:"delivery,omitempty"`
}

// AdvanceInput moves an accepted delivery one step along the progression.
type AdvanceInput struct {
	DeliveryID uuid.UUID            `json:"delivery_id" validate:"required"`
	RiderID    uuid.UUID            `json:"rider_id" validate:"required"`
	Target     enums.DeliveryStatus `json:"target" validate:"required"`
}

// CancelInput aborts a dispatch cycle.
type CancelInput struct {
	DeliveryID uuid.UUID `json:"delivery_id" validate:"required"`
	Reason     string    `json:"reason"`
}

// CancelResult reports how the cancellation settled: a pre-pickup cancel
// republishes a fresh cycle, a post-pickup cancel owes compensation.
type CancelResult struct {
	Cancelled       *models.Delivery `json:"cancelled"`
	Republished     *models.Delivery `json:"republished,omitempty"`
	CompensationDue bool             `json:"compensation_due"`
}

// JobView is the rider-facing advertisement of an available delivery.
type JobView struct {
	ID                  uuid.UUID  `json:"id"`
	OrderID             uuid.UUID  `json:"order_id"`
	PickupAddress       string     `json:"pickup_address"`
	DropoffAddress      string     `json:"dropoff_address"`
	DistanceKm          string     `json:"distance_km"`
	FeeCents            int64      `json:"fee_cents"`
	EcoBonusCents       int64      `json:"eco_bonus_cents"`
	PublishedAt         time.Time  `json:"published_at"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty"`
	EstimatedPickupAt   *time.Time `json:"estimated_pickup_at,omitempty"`
	EstimatedDeliveryAt *time.Time `json:"estimated_delivery_at,omitempty"`
}

// JobList wraps the paginated available jobs plus the next page cursor.
type JobList struct {
	Jobs       []JobView `json:"jobs"`
	NextCursor string    `json:"next_cursor,omitempty"`
}
