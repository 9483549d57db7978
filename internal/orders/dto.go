package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/greenmile-app/greenmile-backend/pkg/enums"
)

// NewOrderItem is one requested line on checkout.
type NewOrderItem struct {
	VendorID       uuid.UUID `json:"vendor_id" validate:"required"`
	ProductName    string    `json:"product_name" validate:"required"`
	Quantity       int       `json:"quantity" validate:"required,gt=0"`
	UnitPriceCents int64     `json:"unit_price_cents" validate:"gte=0"`
	CarbonImpact   int64     `json:"carbon_impact" validate:"gte=0"`
}

// CreateOrderInput captures a checkout request. Items may span vendors; they
// are grouped and one order is created per vendor in a single transaction.
type CreateOrderInput struct {
	CustomerID      uuid.UUID
	PickupAddress   string
	DeliveryAddress string
	DistanceKm      string
	Items           []NewOrderItem
}

// TransitionInput carries a requested lifecycle move.
type TransitionInput struct {
	OrderID uuid.UUID
	Target  enums.OrderStatus
	ActorID uuid.UUID
	Role    enums.ActorRole
	Reason  string
}

// OrderFilters describe the inputs supported by the order lists.
type OrderFilters struct {
	Status        *enums.OrderStatus
	PaymentStatus *enums.PaymentStatus
	DateFrom      *time.Time
	DateTo        *time.Time
}

// OrderSummary exposes the aggregated fields returned in order lists.
type OrderSummary struct {
	ID            uuid.UUID           `json:"id"`
	CustomerID    uuid.UUID           `json:"customer_id"`
	VendorID      uuid.UUID           `json:"vendor_id"`
	Status        enums.OrderStatus   `json:"status"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	TotalCents    int64               `json:"total_cents"`
	TotalItems    int                 `json:"total_items"`
	CreatedAt     time.Time           `json:"created_at"`
}

// OrderList wraps the paginated orders plus the next page cursor.
type OrderList struct {
	Orders     []OrderSummary `json:"orders"`
	NextCursor string         `json:"next_cursor,omitempty"`
}
