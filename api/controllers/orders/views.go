package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/greenmile-app/greenmile-backend/pkg/db/models"
	"github.com/greenmile-app/greenmile-backend/pkg/enums"
)

type orderView struct {
	ID                  uuid.UUID           `json:"id"`
	CustomerID          uuid.UUID           `json:"customer_id"`
	VendorID            uuid.UUID           `json:"vendor_id"`
	Status              enums.OrderStatus   `json:"status"`
	PaymentStatus       enums.PaymentStatus `json:"payment_status"`
	SubtotalCents       int64               `json:"subtotal_cents"`
	DeliveryFeeCents    int64               `json:"delivery_fee_cents"`
	TotalCents          int64               `json:"total_cents"`
	PickupAddress       string              `json:"pickup_address"`
	DeliveryAddress     string              `json:"delivery_address"`
	DeliveryDistanceKm  string              `json:"delivery_distance_km"`
	CarbonCreditsEarned int64               `json:"carbon_credits_earned"`
	CancellationReason  *string             `json:"cancellation_reason,omitempty"`
	CancelledByRole     *enums.ActorRole    `json:"cancelled_by_role,omitempty"`
	Items               []orderItemView     `json:"items,omitempty"`
	ConfirmedAt         *time.Time          `json:"confirmed_at,omitempty"`
	ReadyAt             *time.Time          `json:"ready_at,omitempty"`
	DeliveredAt         *time.Time          `json:"delivered_at,omitempty"`
	CancelledAt         *time.Time          `json:"cancelled_at,omitempty"`
	RefundedAt          *time.Time          `json:"refunded_at,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
}

type orderItemView struct {
	ID             uuid.UUID `json:"id"`
	ProductName    string    `json:"product_name"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	TotalCents     int64     `json:"total_cents"`
	CarbonImpact   int64     `json:"carbon_impact"`
}

func toOrderView(order *models.Order) orderView {
	items := make([]orderItemView, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemView{
			ID:             item.ID,
			ProductName:    item.ProductName,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			TotalCents:     item.TotalCents,
			CarbonImpact:   item.CarbonImpact,
		})
	}
	return orderView{
		ID:                  order.ID,
		CustomerID:          order.CustomerID,
		VendorID:            order.VendorID,
		Status:              order.Status,
		PaymentStatus:       order.PaymentStatus,
		SubtotalCents:       order.SubtotalCents,
		DeliveryFeeCents:    order.DeliveryFeeCents,
		TotalCents:          order.TotalCents,
		PickupAddress:       order.PickupAddress,
		DeliveryAddress:     order.DeliveryAddress,
		DeliveryDistanceKm:  order.DeliveryDistanceKm,
		CarbonCreditsEarned: order.CarbonCreditsEarned,
		CancellationReason:  order.CancellationReason,
		CancelledByRole:     order.CancelledByRole,
		Items:               items,
		ConfirmedAt:         order.ConfirmedAt,
		ReadyAt:             order.ReadyAt,
		DeliveredAt:         order.DeliveredAt,
		CancelledAt:         order.CancelledAt,
		RefundedAt:          order.RefundedAt,
		CreatedAt:           order.CreatedAt,
	}
}
