package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/greenmile-app/greenmile-backend/internal/dispatch"
	"github.com/greenmile-app/greenmile-backend/internal/wallets"
	"github.com/greenmile-app/greenmile-backend/pkg/db/models"
	"github.com/greenmile-app/greenmile-backend/pkg/enums"
	pkgerrors "github.com/greenmile-app/greenmile-backend/pkg/errors"
	"github.com/greenmile-app/greenmile-backend/pkg/logger"
	"github.com/greenmile-app/greenmile-backend/pkg/outbox"
	"github.com/greenmile-app/greenmile-backend/pkg/outbox/payloads"
	"github.com/greenmile-app/greenmile-backend/pkg/pricing"
)

const settlementConsumerName = "settlement"

type orderStore interface {
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ForceDeliveredTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, at time.Time) error
}

type jobPublisher interface {
	Publish(ctx context.Context, input dispatch.PublishInput) (*models.Delivery, error)
}

type walletLedger interface {
	GetOrCreate(ctx context.Context, ownerID uuid.UUID, ownerType enums.OwnerType) (*models.Wallet, error)
	CreditTx(ctx context.Context, tx *gorm.DB, input wallets.MovementInput) (*wallets.MovementResult, error)
	DebitTx(ctx context.Context, tx *gorm.DB, input wallets.MovementInput) (*wallets.MovementResult, error)
	RecordSpendTx(ctx context.Context, tx *gorm.DB, walletID uuid.UUID, amountCents int64) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Consumer turns committed domain events into money movements: vendor and
// platform splits on payment, rider earnings on completed deliveries, the
// compensating reversals on refunds, plus dispatch publication when an order
// becomes ready. Every movement carries a deterministic ledger idempotency
// key, so redelivered events settle to the same entries; the Redis check is
// only a fast path in front of that.
type Consumer struct {
	orders      orderStore
	wallets     walletLedger
	dispatch    jobPublisher
	tx          txRunner
	pricing     *pricing.Calculator
	platformID  uuid.UUID
	manager     idempotencyChecker
	logg        *logger.Logger
	eventFilter map[enums.OutboxEventType]struct{}
}

// NewConsumer builds a settlement consumer.
func NewConsumer(
	orders orderStore,
	walletSvc walletLedger,
	dispatchSvc jobPublisher,
	tx txRunner,
	calc *pricing.Calculator,
	platformID uuid.UUID,
	manager idempotencyChecker,
	logg *logger.Logger,
) (*Consumer, error) {
	if orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if walletSvc == nil {
		return nil, fmt.Errorf("wallet service required")
	}
	if dispatchSvc == nil {
		return nil, fmt.Errorf("dispatch service required")
	}
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if calc == nil {
		return nil, fmt.Errorf("pricing calculator required")
	}
	if platformID == uuid.Nil {
		return nil, fmt.Errorf("platform wallet owner id required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		orders:     orders,
		wallets:    walletSvc,
		dispatch:   dispatchSvc,
		tx:         tx,
		pricing:    calc,
		platformID: platformID,
		manager:    manager,
		logg:       logg,
		eventFilter: map[enums.OutboxEventType]struct{}{
			enums.EventOrderPaid:               {},
			enums.EventOrderStatusChanged:      {},
			enums.EventOrderRefunded:           {},
			enums.EventDeliveryCompleted:       {},
			enums.EventDeliveryCompensationDue: {},
		},
	}, nil
}

// Process routes an outbox envelope to its settlement handler.
func (c *Consumer) Process(ctx context.Context, eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) error {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"event_id":   envelope.EventID,
		"event_type": eventType,
	})

	if _, ok := c.eventFilter[eventType]; !ok {
		c.logg.Info(logCtx, "event not handled by settlement consumer")
		return nil
	}

	if envelope.EventID == "" {
		return fmt.Errorf("event id missing")
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		return fmt.Errorf("parse event id: %w", err)
	}

	already, err := c.manager.CheckAndMarkProcessed(ctx, settlementConsumerName, eventID)
	if err != nil {
		return fmt.Errorf("idempotency check: %w", err)
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return nil
	}

	if err := c.handle(logCtx, eventType, envelope.Data); err != nil {
		c.logg.Error(logCtx, "settlement handler failed", err)
		_ = c.manager.Delete(ctx, settlementConsumerName, eventID)
		return err
	}

	c.logg.Info(logCtx, "event settled")
	return nil
}

func (c *Consumer) handle(ctx context.Context, eventType enums.OutboxEventType, data json.RawMessage) error {
	switch eventType {
	case enums.EventOrderPaid:
		var evt payloads.OrderPaidEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return fmt.Errorf("decode order_paid: %w", err)
		}
		return c.HandleOrderPaid(ctx, evt)
	case enums.EventOrderStatusChanged:
		var evt payloads.OrderStatusChangedEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return fmt.Errorf("decode order_status_changed: %w", err)
		}
		return c.HandleOrderStatusChanged(ctx, evt)
	case enums.EventOrderRefunded:
		var evt payloads.OrderRefundedEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return fmt.Errorf("decode order_refunded: %w", err)
		}
		return c.HandleOrderRefunded(ctx, evt)
	case enums.EventDeliveryCompleted:
		var evt payloads.DeliveryCompletedEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return fmt.Errorf("decode delivery_completed: %w", err)
		}
		return c.HandleDeliveryCompleted(ctx, evt)
	case enums.EventDeliveryCompensationDue:
		var evt payloads.DeliveryCompensationDueEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return fmt.Errorf("decode delivery_compensation_due: %w", err)
		}
		return c.HandleCompensationDue(ctx, evt)
	default:
		return nil
	}
}

// HandleOrderPaid splits the captured total between the vendor and the
// platform, grants the customer's carbon credits, and records the customer
// spend. All four movements commit in one transaction keyed on the order, so
// a replayed event finds every entry already present and changes nothing.
func (c *Consumer) HandleOrderPaid(ctx context.Context, evt payloads.OrderPaidEvent) error {
	order, err := c.orders.FindOrder(ctx, evt.OrderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", evt.OrderID, err)
	}

	vendorWallet, err := c.wallets.GetOrCreate(ctx, order.VendorID, enums.OwnerTypeVendor)
	if err != nil {
		return err
	}
	platformWallet, err := c.wallets.GetOrCreate(ctx, c.platformID, enums.OwnerTypePlatform)
	if err != nil {
		return err
	}
	customerWallet, err := c.wallets.GetOrCreate(ctx, order.CustomerID, enums.OwnerTypeCustomer)
	if err != nil {
		return err
	}

	commission := c.pricing.CommissionCents(evt.TotalCents)
	vendorShare := evt.TotalCents - commission
	refType := enums.AggregateOrder
	refID := order.ID

	return c.tx.WithTx(ctx, func(tx *gorm.DB) error {
		sale, err := c.wallets.CreditTx(ctx, tx, wallets.MovementInput{
			WalletID:       vendorWallet.ID,
			EntryType:      enums.LedgerEntryTypeSale,
			BalanceKind:    enums.BalanceKindAvailable,
			AmountCents:    vendorShare,
			IdempotencyKey: fmt.Sprintf("order:%s:vendor_sale", order.ID),
			ReferenceType:  &refType,
			ReferenceID:    &refID,
			Description:    "order sale proceeds",
		})
		if err != nil {
			return err
		}
		if _, err := c.wallets.CreditTx(ctx, tx, wallets.MovementInput{
			WalletID:       platformWallet.ID,
			EntryType:      enums.LedgerEntryTypeFee,
			BalanceKind:    enums.BalanceKindAvailable,
			AmountCents:    commission,
			IdempotencyKey: fmt.Sprintf("order:%s:platform_fee", order.ID),
			ReferenceType:  &refType,
			ReferenceID:    &refID,
			Description:    "platform commission",
		}); err != nil {
			return err
		}
		if order.CarbonCreditsEarned > 0 {
			if _, err := c.wallets.CreditTx(ctx, tx, wallets.MovementInput{
				WalletID:       customerWallet.ID,
				EntryType:      enums.LedgerEntryTypeBonus,
				BalanceKind:    enums.BalanceKindCarbon,
				AmountCents:    order.CarbonCreditsEarned,
				IdempotencyKey: fmt.Sprintf("order:%s:carbon_credit", order.ID),
				ReferenceType:  &refType,
				ReferenceID:    &refID,
				Description:    "carbon credits for low-impact purchase",
			}); err != nil {
				return err
			}
		}
		// The spend counter has no idempotency key of its own; the vendor
		// sale entry commits in the same transaction, so its replay flag
		// covers the whole split.
		if sale.Replayed {
			return nil
		}
		return c.wallets.RecordSpendTx(ctx, tx, customerWallet.ID, evt.TotalCents)
	})
}

// HandleOrderStatusChanged publishes the dispatch job once the vendor marks
// the order ready. A conflict from dispatch means a live cycle already
// exists, which is exactly what a redelivered event should find.
func (c *Consumer) HandleOrderStatusChanged(ctx context.Context, evt payloads.OrderStatusChangedEvent) error {
	if evt.To != enums.OrderStatusReady {
		return nil
	}
	order, err := c.orders.FindOrder(ctx, evt.OrderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", evt.OrderID, err)
	}
	_, err = c.dispatch.Publish(ctx, dispatch.PublishInput{
		OrderID:        order.ID,
		PickupAddress:  order.PickupAddress,
		DropoffAddress: order.DeliveryAddress,
		DistanceKm:     order.DeliveryDistanceKm,
	})
	if appErr := pkgerrors.As(err); appErr != nil && appErr.Code() == pkgerrors.CodeConflict {
		return nil
	}
	return err
}

// HandleOrderRefunded writes compensating entries that reverse the payout
// split. The originals are never mutated; each reversal has its own key so
// the refund is replay safe too.
func (c *Consumer) HandleOrderRefunded(ctx context.Context, evt payloads.OrderRefundedEvent) error {
	order, err := c.orders.FindOrder(ctx, evt.OrderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", evt.OrderID, err)
	}

	vendorWallet, err := c.wallets.GetOrCreate(ctx, order.VendorID, enums.OwnerTypeVendor)
	if err != nil {
		return err
	}
	platformWallet, err := c.wallets.GetOrCreate(ctx, c.platformID, enums.OwnerTypePlatform)
	if err != nil {
		return err
	}
	customerWallet, err := c.wallets.GetOrCreate(ctx, order.CustomerID, enums.OwnerTypeCustomer)
	if err != nil {
		return err
	}

	commission := c.pricing.CommissionCents(evt.AmountCents)
	vendorShare := evt.AmountCents - commission
	refType := enums.AggregateOrder
	refID := order.ID

	return c.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := c.wallets.DebitTx(ctx, tx, wallets.MovementInput{
			WalletID:       vendorWallet.ID,
			EntryType:      enums.LedgerEntryTypeRefund,
			BalanceKind:    enums.BalanceKindAvailable,
			AmountCents:    vendorShare,
			IdempotencyKey: fmt.Sprintf("order:%s:vendor_sale_reversal", order.ID),
			ReferenceType:  &refType,
			ReferenceID:    &refID,
			Description:    "refund reversal of sale proceeds",
		}); err != nil {
			return err
		}
		if _, err := c.wallets.DebitTx(ctx, tx, wallets.MovementInput{
			WalletID:       platformWallet.ID,
			EntryType:      enums.LedgerEntryTypeRefund,
			BalanceKind:    enums.BalanceKindAvailable,
			AmountCents:    commission,
			IdempotencyKey: fmt.Sprintf("order:%s:platform_fee_reversal", order.ID),
			ReferenceType:  &refType,
			ReferenceID:    &refID,
			Description:    "refund reversal of platform commission",
		}); err != nil {
			return err
		}
		// Credits already redeemed are not clawed back: revert only what is
		// still sitting in the wallet.
		carbonRevert := order.CarbonCreditsEarned
		if customerWallet.CarbonCreditCents < carbonRevert {
			carbonRevert = customerWallet.CarbonCreditCents
		}
		if carbonRevert > 0 {
			if _, err := c.wallets.DebitTx(ctx, tx, wallets.MovementInput{
				WalletID:       customerWallet.ID,
				EntryType:      enums.LedgerEntryTypeRefund,
				BalanceKind:    enums.BalanceKindCarbon,
				AmountCents:    carbonRevert,
				IdempotencyKey: fmt.Sprintf("order:%s:carbon_credit_reversal", order.ID),
				ReferenceType:  &refType,
				ReferenceID:    &refID,
				Description:    "refund reversal of carbon credits",
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// HandleDeliveryCompleted credits the rider's delivery fee and eco bonus as
// one entry so partial payment can never be observed, and settles the order
// onto delivered in the same transaction. The rider's job ends at the
// handoff; the order must not depend on anyone calling its transition
// endpoint afterwards.
func (c *Consumer) HandleDeliveryCompleted(ctx context.Context, evt payloads.DeliveryCompletedEvent) error {
	riderWallet, err := c.wallets.GetOrCreate(ctx, evt.RiderID, enums.OwnerTypeRider)
	if err != nil {
		return err
	}

	metadata, err := json.Marshal(map[string]int64{
		"fee_cents":       evt.FeeCents,
		"eco_bonus_cents": evt.EcoBonusCents,
	})
	if err != nil {
		return fmt.Errorf("encode earnings metadata: %w", err)
	}

	refType := enums.AggregateDelivery
	refID := evt.DeliveryID

	deliveredAt := evt.DeliveredAt
	if deliveredAt.IsZero() {
		deliveredAt = time.Now()
	}

	return c.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := c.wallets.CreditTx(ctx, tx, wallets.MovementInput{
			WalletID:       riderWallet.ID,
			EntryType:      enums.LedgerEntryTypeSale,
			BalanceKind:    enums.BalanceKindAvailable,
			AmountCents:    evt.FeeCents + evt.EcoBonusCents,
			IdempotencyKey: fmt.Sprintf("delivery:%s:rider_credit", evt.DeliveryID),
			ReferenceType:  &refType,
			ReferenceID:    &refID,
			Description:    "delivery earnings",
			Metadata:       metadata,
		}); err != nil {
			return err
		}
		if err := c.orders.ForceDeliveredTx(ctx, tx, evt.OrderID, deliveredAt); err != nil {
			return fmt.Errorf("mark order delivered %s: %w", evt.OrderID, err)
		}
		return nil
	})
}

// HandleCompensationDue pays a rider whose accepted job was cancelled after
// they had already picked up the goods.
func (c *Consumer) HandleCompensationDue(ctx context.Context, evt payloads.DeliveryCompensationDueEvent) error {
	riderWallet, err := c.wallets.GetOrCreate(ctx, evt.RiderID, enums.OwnerTypeRider)
	if err != nil {
		return err
	}

	refType := enums.AggregateDelivery
	refID := evt.DeliveryID

	return c.tx.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := c.wallets.CreditTx(ctx, tx, wallets.MovementInput{
			WalletID:       riderWallet.ID,
			EntryType:      enums.LedgerEntryTypeBonus,
			BalanceKind:    enums.BalanceKindAvailable,
			AmountCents:    evt.AmountCents,
			IdempotencyKey: fmt.Sprintf("delivery:%s:compensation", evt.DeliveryID),
			ReferenceType:  &refType,
			ReferenceID:    &refID,
			Description:    "cancelled delivery compensation",
		})
		return err
	})
}
