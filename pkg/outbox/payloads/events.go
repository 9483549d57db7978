package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/greenmile-app/greenmile-backend/pkg/enums"
)

// OrderCreatedEvent signals a new per-vendor order awaiting payment.
type OrderCreatedEvent struct {
	OrderID    uuid.UUID `json:"order_id"`
	CustomerID uuid.UUID `json:"customer_id"`
	VendorID   uuid.UUID `json:"vendor_id"`
	TotalCents int64     `json:"total_cents"`
}

// OrderPaidEvent is emitted when the payment provider confirms capture.
type OrderPaidEvent struct {
	OrderID          uuid.UUID `json:"order_id"`
	CustomerID       uuid.UUID `json:"customer_id"`
	VendorID         uuid.UUID `json:"vendor_id"`
	SubtotalCents    int64     `json:"subtotal_cents"`
	DeliveryFeeCents int64     `json:"delivery_fee_cents"`
	TotalCents       int64     `json:"total_cents"`
	PaymentRef       string    `json:"payment_ref"`
	PaidAt           time.Time `json:"paid_at"`
}

// OrderPaymentFailedEvent reports a declined or errored capture.
type OrderPaymentFailedEvent struct {
	OrderID    uuid.UUID `json:"order_id"`
	CustomerID uuid.UUID `json:"customer_id"`
	Reason     string    `json:"reason,omitempty"`
}

// OrderStatusChangedEvent records each lifecycle move on an order.
type OrderStatusChangedEvent struct {
	OrderID    uuid.UUID         `json:"order_id"`
	CustomerID uuid.UUID         `json:"customer_id"`
	VendorID   uuid.UUID         `json:"vendor_id"`
	From       enums.OrderStatus `json:"from"`
	To         enums.OrderStatus `json:"to"`
	ActorRole  enums.ActorRole   `json:"actor_role"`
	ChangedAt  time.Time         `json:"changed_at"`
}

// OrderCancelledEvent is emitted when an order reaches cancelled.
type OrderCancelledEvent struct {
	OrderID        uuid.UUID       `json:"order_id"`
	CustomerID     uuid.UUID       `json:"customer_id"`
	VendorID       uuid.UUID       `json:"vendor_id"`
	WasPaid        bool            `json:"was_paid"`
	RefundDueCents int64           `json:"refund_due_cents"`
	CancelledBy    enums.ActorRole `json:"cancelled_by"`
	Reason         string          `json:"reason,omitempty"`
	CancelledAt    time.Time       `json:"cancelled_at"`
}

// OrderRefundedEvent triggers the compensating ledger entries.
type OrderRefundedEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	CustomerID  uuid.UUID `json:"customer_id"`
	VendorID    uuid.UUID `json:"vendor_id"`
	AmountCents int64     `json:"amount_cents"`
	RefundedAt  time.Time `json:"refunded_at"`
}

// DeliveryPublishedEvent announces a job visible to riders.
type DeliveryPublishedEvent struct {
	DeliveryID uuid.UUID `json:"delivery_id"`
	OrderID    uuid.UUID `json:"order_id"`
	FeeCents   int64     `json:"fee_cents"`
	DistanceKm string    `json:"distance_km"`
	Cycle      int       `json:"cycle"`
}

// DeliveryAcceptedEvent records the winning rider for a dispatch cycle.
type DeliveryAcceptedEvent struct {
	DeliveryID   uuid.UUID          `json:"delivery_id"`
	OrderID      uuid.UUID          `json:"order_id"`
	RiderID      uuid.UUID          `json:"rider_id"`
	VehicleClass enums.VehicleClass `json:"vehicle_class"`
	AcceptedAt   time.Time          `json:"accepted_at"`
}

// DeliveryStatusChangedEvent records each courier progression step.
type DeliveryStatusChangedEvent struct {
	DeliveryID uuid.UUID            `json:"delivery_id"`
	OrderID    uuid.UUID            `json:"order_id"`
	RiderID    uuid.UUID            `json:"rider_id"`
	From       enums.DeliveryStatus `json:"from"`
	To         enums.DeliveryStatus `json:"to"`
	ChangedAt  time.Time            `json:"changed_at"`
}

// DeliveryCompletedEvent triggers rider earnings and eco credits.
type DeliveryCompletedEvent struct {
	DeliveryID       uuid.UUID           `json:"delivery_id"`
	OrderID          uuid.UUID           `json:"order_id"`
	RiderID          uuid.UUID           `json:"rider_id"`
	VehicleClass     *enums.VehicleClass `json:"vehicle_class,omitempty"`
	FeeCents         int64               `json:"fee_cents"`
	EcoBonusCents    int64               `json:"eco_bonus_cents"`
	CarbonSavedGrams int64               `json:"carbon_saved_grams"`
	DeliveredAt      time.Time           `json:"delivered_at"`
}

// DeliveryCancelledEvent terminally closes one dispatch cycle.
type DeliveryCancelledEvent struct {
	DeliveryID  uuid.UUID  `json:"delivery_id"`
	OrderID     uuid.UUID  `json:"order_id"`
	RiderID     *uuid.UUID `json:"rider_id,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	Republish   bool       `json:"republish"`
	CancelledAt time.Time  `json:"cancelled_at"`
}

// DeliveryExpiredEvent reports an unaccepted job past its TTL.
type DeliveryExpiredEvent struct {
	DeliveryID uuid.UUID `json:"delivery_id"`
	OrderID    uuid.UUID `json:"order_id"`
	Cycle      int       `json:"cycle"`
	ExpiredAt  time.Time `json:"expired_at"`
}

// DeliveryCompensationDueEvent asks settlement to pay a rider whose accepted
// job was cancelled after the grace period.
type DeliveryCompensationDueEvent struct {
	DeliveryID  uuid.UUID `json:"delivery_id"`
	OrderID     uuid.UUID `json:"order_id"`
	RiderID     uuid.UUID `json:"rider_id"`
	AmountCents int64     `json:"amount_cents"`
}

// LedgerEntryCommittedEvent mirrors a committed money movement for audit feeds.
type LedgerEntryCommittedEvent struct {
	EntryID     uuid.UUID             `json:"entry_id"`
	WalletID    uuid.UUID             `json:"wallet_id"`
	EntryType   enums.LedgerEntryType `json:"entry_type"`
	BalanceKind enums.BalanceKind     `json:"balance_kind"`
	AmountCents int64                 `json:"amount_cents"`
}

// PayoutRequestedEvent starts the withdrawal flow with the provider.
type PayoutRequestedEvent struct {
	PayoutRequestID uuid.UUID `json:"payout_request_id"`
	WalletID        uuid.UUID `json:"wallet_id"`
	BankAccountID   uuid.UUID `json:"bank_account_id"`
	AmountCents     int64     `json:"amount_cents"`
	FeeCents        int64     `json:"fee_cents"`
}

// PayoutCompletedEvent confirms funds left the platform.
type PayoutCompletedEvent struct {
	PayoutRequestID uuid.UUID `json:"payout_request_id"`
	WalletID        uuid.UUID `json:"wallet_id"`
	AmountCents     int64     `json:"amount_cents"`
	ProcessedAt     time.Time `json:"processed_at"`
}

// PayoutFailedEvent triggers the reversal credit back to the wallet.
type PayoutFailedEvent struct {
	PayoutRequestID uuid.UUID `json:"payout_request_id"`
	WalletID        uuid.UUID `json:"wallet_id"`
	AmountCents     int64     `json:"amount_cents"`
	FeeCents        int64     `json:"fee_cents"`
	Reason          string    `json:"reason,omitempty"`
}
