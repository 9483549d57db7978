package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/greenmile-app/greenmile-backend/pkg/db/models"
	"github.com/greenmile-app/greenmile-backend/pkg/enums"
	pkgerrors "github.com/greenmile-app/greenmile-backend/pkg/errors"
	"github.com/greenmile-app/greenmile-backend/pkg/outbox"
	"github.com/greenmile-app/greenmile-backend/pkg/outbox/payloads"
	"github.com/greenmile-app/greenmile-backend/pkg/pagination"
	"github.com/greenmile-app/greenmile-backend/pkg/pricing"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service defines order lifecycle operations.
type Service interface {
	Create(ctx context.Context, input CreateOrderInput) ([]models.Order, error)
	ConfirmPayment(ctx context.Context, orderID uuid.UUID, paymentRef string) error
	FailPayment(ctx context.Context, orderID uuid.UUID, reason string) error
	Transition(ctx context.Context, input TransitionInput) (*models.Order, error)
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListForCustomer(ctx context.Context, customerID uuid.UUID, params pagination.Params, filters OrderFilters) (*OrderList, error)
	ListForVendor(ctx context.Context, vendorID uuid.UUID, params pagination.Params, filters OrderFilters) (*OrderList, error)
}

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outboxPublisher
	pricing *pricing.Calculator
}

// NewService builds an order service with the required dependencies.
func NewService(repo Repository, tx txRunner, ob outboxPublisher, calc *pricing.Calculator) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if ob == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if calc == nil {
		return nil, fmt.Errorf("pricing calculator required")
	}
	return &service{repo: repo, tx: tx, outbox: ob, pricing: calc}, nil
}

func (s *service) Create(ctx context.Context, input CreateOrderInput) ([]models.Order, error) {
	if input.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "customer identity missing")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order requires at least one item")
	}
	if input.DeliveryAddress == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery address required")
	}
	for _, item := range input.Items {
		if item.VendorID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item vendor id required")
		}
		if item.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item quantity must be positive")
		}
		if item.UnitPriceCents < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item unit price cannot be negative")
		}
	}

	distance, err := parseDistance(input.DistanceKm)
	if err != nil {
		return nil, err
	}

	groups := groupByVendor(input.Items)
	created := make([]models.Order, 0, len(groups))

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		for _, group := range groups {
			var subtotal, carbon int64
			for _, item := range group.items {
				subtotal += item.UnitPriceCents * int64(item.Quantity)
				carbon += item.CarbonImpact * int64(item.Quantity)
			}
			deliveryFee := s.pricing.DeliveryFeeCents(distance)

			order := &models.Order{
				CustomerID:          input.CustomerID,
				VendorID:            group.vendorID,
				Status:              enums.OrderStatusPending,
				PaymentStatus:       enums.PaymentStatusPending,
				SubtotalCents:       subtotal,
				DeliveryFeeCents:    deliveryFee,
				TotalCents:          subtotal + deliveryFee,
				PickupAddress:       input.PickupAddress,
				DeliveryAddress:     input.DeliveryAddress,
				DeliveryDistanceKm:  distance.String(),
				CarbonCreditsEarned: carbon,
			}
			if _, err := repo.CreateOrder(ctx, order); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
			}

			items := make([]models.OrderItem, 0, len(group.items))
			for _, item := range group.items {
				items = append(items, models.OrderItem{
					OrderID:        order.ID,
					ProductName:    item.ProductName,
					Quantity:       item.Quantity,
					UnitPriceCents: item.UnitPriceCents,
					TotalCents:     item.UnitPriceCents * int64(item.Quantity),
					CarbonImpact:   item.CarbonImpact * int64(item.Quantity),
				})
			}
			if err := repo.CreateOrderItems(ctx, items); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order items")
			}
			order.Items = items

			event := outbox.DomainEvent{
				EventType:     enums.EventOrderCreated,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Version:       1,
				Actor:         &outbox.ActorRef{ActorID: input.CustomerID, Role: enums.ActorRoleCustomer},
				Data: payloads.OrderCreatedEvent{
					OrderID:    order.ID,
					CustomerID: order.CustomerID,
					VendorID:   order.VendorID,
					TotalCents: order.TotalCents,
				},
			}
			if err := s.outbox.Emit(ctx, tx, event); err != nil {
				return err
			}
			created = append(created, *order)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *service) ConfirmPayment(ctx context.Context, orderID uuid.UUID, paymentRef string) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if paymentRef == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment reference required")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.loadOrder(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if order.PaymentStatus == enums.PaymentStatusPaid {
			// Webhook replay.
			return nil
		}
		if err := ValidatePaymentTransition(order.PaymentStatus, enums.PaymentStatusPaid); err != nil {
			return err
		}
		if err := ValidateOrderTransition(order.Status, order.PaymentStatus, enums.OrderStatusProcessing, enums.ActorRolePlatform); err != nil {
			return err
		}

		now := time.Now()
		moved, err := repo.UpdateOrderStatusIf(ctx, order.ID, order.Status, enums.OrderStatusProcessing, map[string]any{
			"payment_status": enums.PaymentStatusPaid,
			"payment_ref":    paymentRef,
			"confirmed_at":   now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "confirm payment")
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeConflict, "order changed concurrently")
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Data: payloads.OrderPaidEvent{
				OrderID:          order.ID,
				CustomerID:       order.CustomerID,
				VendorID:         order.VendorID,
				SubtotalCents:    order.SubtotalCents,
				DeliveryFeeCents: order.DeliveryFeeCents,
				TotalCents:       order.TotalCents,
				PaymentRef:       paymentRef,
				PaidAt:           now,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return err
		}
		return s.emitStatusChanged(ctx, tx, order, order.Status, enums.OrderStatusProcessing, enums.ActorRolePlatform, now)
	})
}

func (s *service) FailPayment(ctx context.Context, orderID uuid.UUID, reason string) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.loadOrder(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if order.PaymentStatus == enums.PaymentStatusFailed {
			return nil
		}
		if err := ValidatePaymentTransition(order.PaymentStatus, enums.PaymentStatusFailed); err != nil {
			return err
		}
		if err := repo.UpdateOrder(ctx, order.ID, map[string]any{
			"payment_status": enums.PaymentStatusFailed,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail payment")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaymentFailed,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Data: payloads.OrderPaymentFailedEvent{
				OrderID:    order.ID,
				CustomerID: order.CustomerID,
				Reason:     reason,
			},
		})
	})
}

func (s *service) Transition(ctx context.Context, input TransitionInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.ActorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor identity missing")
	}
	if !input.Role.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "unknown actor role")
	}

	var result *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.loadOrder(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}
		if err := s.authorizeActor(order, input); err != nil {
			return err
		}
		if order.Status == input.Target {
			result = order
			return nil
		}
		if err := ValidateOrderTransition(order.Status, order.PaymentStatus, input.Target, input.Role); err != nil {
			return err
		}

		now := time.Now()
		updates := map[string]any{}
		switch input.Target {
		case enums.OrderStatusReady:
			updates["ready_at"] = now
		case enums.OrderStatusDelivered:
			updates["delivered_at"] = now
		case enums.OrderStatusCancelled:
			updates["cancelled_at"] = now
			updates["cancelled_by_role"] = input.Role
			if input.Reason != "" {
				updates["cancellation_reason"] = input.Reason
			}
		case enums.OrderStatusRefunded:
			updates["refunded_at"] = now
			updates["payment_status"] = enums.PaymentStatusRefunded
		}

		moved, err := repo.UpdateOrderStatusIf(ctx, order.ID, order.Status, input.Target, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeConflict, "order changed concurrently")
		}

		from := order.Status
		order.Status = input.Target
		if input.Target == enums.OrderStatusRefunded {
			order.PaymentStatus = enums.PaymentStatusRefunded
		}

		if err := s.emitStatusChanged(ctx, tx, order, from, input.Target, input.Role, now); err != nil {
			return err
		}
		switch input.Target {
		case enums.OrderStatusCancelled:
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventOrderCancelled,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Version:       1,
				Actor:         &outbox.ActorRef{ActorID: input.ActorID, Role: input.Role},
				Data: payloads.OrderCancelledEvent{
					OrderID:        order.ID,
					CustomerID:     order.CustomerID,
					VendorID:       order.VendorID,
					WasPaid:        order.PaymentStatus == enums.PaymentStatusPaid,
					RefundDueCents: order.TotalCents,
					CancelledBy:    input.Role,
					Reason:         input.Reason,
					CancelledAt:    now,
				},
			}); err != nil {
				return err
			}
		case enums.OrderStatusRefunded:
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventOrderRefunded,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Version:       1,
				Actor:         &outbox.ActorRef{ActorID: input.ActorID, Role: input.Role},
				Data: payloads.OrderRefundedEvent{
					OrderID:     order.ID,
					CustomerID:  order.CustomerID,
					VendorID:    order.VendorID,
					AmountCents: order.TotalCents,
					RefundedAt:  now,
				},
			}); err != nil {
				return err
			}
		}
		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	return s.loadOrder(ctx, s.repo, orderID)
}

func (s *service) ListForCustomer(ctx context.Context, customerID uuid.UUID, params pagination.Params, filters OrderFilters) (*OrderList, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "customer identity missing")
	}
	return s.repo.ListCustomerOrders(ctx, customerID, params, filters)
}

func (s *service) ListForVendor(ctx context.Context, vendorID uuid.UUID, params pagination.Params, filters OrderFilters) (*OrderList, error) {
	if vendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "vendor identity missing")
	}
	return s.repo.ListVendorOrders(ctx, vendorID, params, filters)
}

func (s *service) loadOrder(ctx context.Context, repo Repository, orderID uuid.UUID) (*models.Order, error) {
	order, err := repo.FindOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

// authorizeActor checks ownership before the role/edge check so a customer
// cannot drive someone else's order even along a legal edge.
func (s *service) authorizeActor(order *models.Order, input TransitionInput) error {
	switch input.Role {
	case enums.ActorRoleCustomer:
		if order.CustomerID != input.ActorID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to customer")
		}
	case enums.ActorRoleVendor:
		if order.VendorID != input.ActorID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to vendor")
		}
	}
	return nil
}

func (s *service) emitStatusChanged(ctx context.Context, tx *gorm.DB, order *models.Order, from, to enums.OrderStatus, role enums.ActorRole, at time.Time) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Version:       1,
		Data: payloads.OrderStatusChangedEvent{
			OrderID:    order.ID,
			CustomerID: order.CustomerID,
			VendorID:   order.VendorID,
			From:       from,
			To:         to,
			ActorRole:  role,
			ChangedAt:  at,
		},
	})
}

type vendorGroup struct {
	vendorID uuid.UUID
	items    []NewOrderItem
}

// groupByVendor splits mixed-vendor carts into one group per vendor with a
// stable order so retries create orders deterministically.
func groupByVendor(items []NewOrderItem) []vendorGroup {
	byVendor := map[uuid.UUID][]NewOrderItem{}
	for _, item := range items {
		byVendor[item.VendorID] = append(byVendor[item.VendorID], item)
	}
	groups := make([]vendorGroup, 0, len(byVendor))
	for vendorID, grouped := range byVendor {
		groups = append(groups, vendorGroup{vendorID: vendorID, items: grouped})
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].vendorID.String() < groups[j].vendorID.String()
	})
	return groups
}

func parseDistance(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	distance, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "invalid delivery distance")
	}
	if distance.IsNegative() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "delivery distance cannot be negative")
	}
	return distance, nil
}
