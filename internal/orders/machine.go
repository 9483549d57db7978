package orders

import (
	"github.com/greenmile-app/greenmile-backend/pkg/enums"
	pkgerrors "github.com/greenmile-app/greenmile-backend/pkg/errors"
)

type edge struct {
	from enums.OrderStatus
	to   enums.OrderStatus
}

// orderEdges maps each legal transition to the roles allowed to drive it.
// Customers may only cancel before the vendor starts processing; vendors own
// the kitchen-side progression; riders move delivery-facing statuses through
// dispatch; platform covers webhooks, admin cancels and refunds.
var orderEdges = map[edge][]enums.ActorRole{
	{enums.OrderStatusPending, enums.OrderStatusProcessing}:         {enums.ActorRolePlatform},
	{enums.OrderStatusProcessing, enums.OrderStatusConfirmed}:       {enums.ActorRoleVendor, enums.ActorRolePlatform},
	{enums.OrderStatusConfirmed, enums.OrderStatusPreparing}:        {enums.ActorRoleVendor, enums.ActorRolePlatform},
	{enums.OrderStatusPreparing, enums.OrderStatusReady}:            {enums.ActorRoleVendor, enums.ActorRolePlatform},
	{enums.OrderStatusReady, enums.OrderStatusOutForDelivery}:       {enums.ActorRoleRider, enums.ActorRolePlatform},
	{enums.OrderStatusOutForDelivery, enums.OrderStatusDelivered}:   {enums.ActorRoleRider, enums.ActorRolePlatform},
	{enums.OrderStatusPending, enums.OrderStatusCancelled}:          {enums.ActorRoleCustomer, enums.ActorRoleVendor, enums.ActorRolePlatform},
	{enums.OrderStatusProcessing, enums.OrderStatusCancelled}:       {enums.ActorRoleVendor, enums.ActorRolePlatform},
	{enums.OrderStatusConfirmed, enums.OrderStatusCancelled}:        {enums.ActorRoleVendor, enums.ActorRolePlatform},
	{enums.OrderStatusPreparing, enums.OrderStatusCancelled}:        {enums.ActorRoleVendor, enums.ActorRolePlatform},
	{enums.OrderStatusReady, enums.OrderStatusCancelled}:            {enums.ActorRoleVendor, enums.ActorRolePlatform},
	{enums.OrderStatusDelivered, enums.OrderStatusRefunded}:         {enums.ActorRolePlatform},
	{enums.OrderStatusCancelled, enums.OrderStatusRefunded}:         {enums.ActorRolePlatform},
}

var paymentEdges = map[enums.PaymentStatus][]enums.PaymentStatus{
	enums.PaymentStatusPending: {enums.PaymentStatusPaid, enums.PaymentStatusFailed},
	enums.PaymentStatusPaid:    {enums.PaymentStatusRefunded},
}

// ValidateOrderTransition checks edge existence, role permission and the
// payment cross-constraints for the requested move.
func ValidateOrderTransition(current enums.OrderStatus, payment enums.PaymentStatus, target enums.OrderStatus, role enums.ActorRole) error {
	if !target.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid target status")
	}
	roles, ok := orderEdges[edge{from: current, to: target}]
	if !ok {
		return pkgerrors.New(pkgerrors.CodeInvalidTransition, "no transition from "+string(current)+" to "+string(target))
	}
	if !roleAllowed(roles, role) {
		return pkgerrors.New(pkgerrors.CodeForbidden, string(role)+" may not move order to "+string(target))
	}
	if target == enums.OrderStatusDelivered && payment == enums.PaymentStatusFailed {
		return pkgerrors.New(pkgerrors.CodeInvalidTransition, "order with failed payment cannot be delivered")
	}
	if target == enums.OrderStatusRefunded && payment != enums.PaymentStatusPaid {
		return pkgerrors.New(pkgerrors.CodeInvalidTransition, "only paid orders can be refunded")
	}
	return nil
}

// ValidatePaymentTransition checks the orthogonal payment machine.
func ValidatePaymentTransition(current, target enums.PaymentStatus) error {
	for _, next := range paymentEdges[current] {
		if next == target {
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeInvalidTransition, "no payment transition from "+string(current)+" to "+string(target))
}

// CanCancel reports whether the given role may cancel from the current status.
func CanCancel(current enums.OrderStatus, role enums.ActorRole) bool {
	roles, ok := orderEdges[edge{from: current, to: enums.OrderStatusCancelled}]
	if !ok {
		return false
	}
	return roleAllowed(roles, role)
}

func roleAllowed(roles []enums.ActorRole, role enums.ActorRole) bool {
	for _, candidate := range roles {
		if candidate == role {
			return true
		}
	}
	return false
}
