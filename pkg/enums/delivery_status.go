package enums

import "fmt"

// DeliveryStatus tracks a single dispatch cycle of a delivery.
type DeliveryStatus string

const (
	DeliveryStatusAvailable  DeliveryStatus = "available"
	DeliveryStatusAccepted   DeliveryStatus = "accepted"
	DeliveryStatusPickingUp  DeliveryStatus = "picking_up"
	DeliveryStatusPickedUp   DeliveryStatus = "picked_up"
	DeliveryStatusDelivering DeliveryStatus = "delivering"
	DeliveryStatusDelivered  DeliveryStatus = "delivered"
	DeliveryStatusCancelled  DeliveryStatus = "cancelled"
	DeliveryStatusExpired    DeliveryStatus = "expired"
)

var validDeliveryStatuses = []DeliveryStatus{
	DeliveryStatusAvailable,
	DeliveryStatusAccepted,
	DeliveryStatusPickingUp,
	DeliveryStatusPickedUp,
	DeliveryStatusDelivering,
	DeliveryStatusDelivered,
	DeliveryStatusCancelled,
	DeliveryStatusExpired,
}

// deliveryProgression is the exact linear order a rider must follow.
var deliveryProgression = []DeliveryStatus{
	DeliveryStatusAccepted,
	DeliveryStatusPickingUp,
	DeliveryStatusPickedUp,
	DeliveryStatusDelivering,
	DeliveryStatusDelivered,
}

// String implements fmt.Stringer.
func (d DeliveryStatus) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DeliveryStatus.
func (d DeliveryStatus) IsValid() bool {
	for _, candidate := range validDeliveryStatuses {
		if candidate == d {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the dispatch cycle has ended.
func (d DeliveryStatus) IsTerminal() bool {
	switch d {
	case DeliveryStatusDelivered, DeliveryStatusCancelled, DeliveryStatusExpired:
		return true
	default:
		return false
	}
}

// NextInProgression returns the only legal advance target from the current
// status, or false when the current status is not part of the rider
// progression or is already final.
func (d DeliveryStatus) NextInProgression() (DeliveryStatus, bool) {
	for i, candidate := range deliveryProgression {
		if candidate == d && i+1 < len(deliveryProgression) {
			return deliveryProgression[i+1], true
		}
	}
	return "", false
}

// ParseDeliveryStatus converts raw input into a DeliveryStatus.
func ParseDeliveryStatus(value string) (DeliveryStatus, error) {
	for _, candidate := range validDeliveryStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid delivery status %q", value)
}
