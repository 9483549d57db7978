package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder         OutboxAggregateType = "order"
	AggregateDelivery      OutboxAggregateType = "delivery"
	AggregateWallet        OutboxAggregateType = "wallet"
	AggregateLedgerEntry   OutboxAggregateType = "ledger_entry"
	AggregatePayoutRequest OutboxAggregateType = "payout_request"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateDelivery,
	AggregateWallet,
	AggregateLedgerEntry,
	AggregatePayoutRequest,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventOrderCreated            OutboxEventType = "order_created"
	EventOrderPaid               OutboxEventType = "order_paid"
	EventOrderPaymentFailed      OutboxEventType = "order_payment_failed"
	EventOrderStatusChanged      OutboxEventType = "order_status_changed"
	EventOrderCancelled          OutboxEventType = "order_cancelled"
	EventOrderRefunded           OutboxEventType = "order_refunded"
	EventDeliveryPublished       OutboxEventType = "delivery_published"
	EventDeliveryAccepted        OutboxEventType = "delivery_accepted"
	EventDeliveryStatusChanged   OutboxEventType = "delivery_status_changed"
	EventDeliveryCompleted       OutboxEventType = "delivery_completed"
	EventDeliveryCancelled       OutboxEventType = "delivery_cancelled"
	EventDeliveryExpired         OutboxEventType = "delivery_expired"
	EventDeliveryCompensationDue OutboxEventType = "delivery_compensation_due"
	EventLedgerEntryCommitted    OutboxEventType = "ledger_entry_committed"
	EventPayoutRequested         OutboxEventType = "payout_requested"
	EventPayoutCompleted         OutboxEventType = "payout_completed"
	EventPayoutFailed            OutboxEventType = "payout_failed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderPaid,
	EventOrderPaymentFailed,
	EventOrderStatusChanged,
	EventOrderCancelled,
	EventOrderRefunded,
	EventDeliveryPublished,
	EventDeliveryAccepted,
	EventDeliveryStatusChanged,
	EventDeliveryCompleted,
	EventDeliveryCancelled,
	EventDeliveryExpired,
	EventDeliveryCompensationDue,
	EventLedgerEntryCommitted,
	EventPayoutRequested,
	EventPayoutCompleted,
	EventPayoutFailed,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
