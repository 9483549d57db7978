package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/greenmile-app/greenmile-backend/pkg/config"
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

// Service runs the dispatch cycle for deliveries: advertising jobs, settling
// the acceptance race and walking the rider progression.
type Service interface {
	Publish(ctx context.Context, input PublishInput) (*models.Delivery, error)
	Accept(ctx context.Context, input AcceptInput) (*AcceptResult, error)
	Advance(ctx context.Context, input AdvanceInput) (*models.Delivery, error)
	Cancel(ctx context.Context, input CancelInput) (*CancelResult, error)
	Expire(ctx context.Context, deliveryID uuid.UUID) (*models.Delivery, error)
	Get(ctx context.Context, deliveryID uuid.UUID) (*models.Delivery, error)
	ListAvailable(ctx context.Context, params pagination.Params) (*JobList, error)
	ListRiderDeliveries(ctx context.Context, riderID uuid.UUID, params pagination.Params) ([]models.Delivery, string, error)
}

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outboxPublisher
	pricing *pricing.Calculator
	cfg     config.DispatchConfig
}

func NewService(repo Repository, tx txRunner, ob outboxPublisher, calc *pricing.Calculator, cfg config.DispatchConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("dispatch repository required")
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
	return &service{repo: repo, tx: tx, outbox: ob, pricing: calc, cfg: cfg}, nil
}

// Publish creates a fresh cycle in available state. The fee and the advertised
// eco bonus are computed here and frozen on the row; acceptance and completion
// never reprice the job.
func (s *service) Publish(ctx context.Context, input PublishInput) (*models.Delivery, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.PickupAddress == "" || input.DropoffAddress == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pickup and dropoff addresses required")
	}
	distance, err := parseDistance(input.DistanceKm)
	if err != nil {
		return nil, err
	}

	var created *models.Delivery
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		if active, err := repo.FindActiveByOrder(ctx, input.OrderID); err == nil && active != nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "order already has a live dispatch cycle").
				WithDetails(map[string]any{"delivery_id": active.ID})
		} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check live cycle")
		}

		lastCycle, err := repo.LatestCycleForOrder(ctx, input.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve cycle")
		}

		now := time.Now()
		expiresAt := now.Add(s.cfg.AcceptTTL)
		pickupAt := now.Add(s.cfg.PickupLeadTime)
		deliveryAt := pickupAt.Add(s.travelTime(distance))

		delivery := &models.Delivery{
			OrderID:             input.OrderID,
			Status:              enums.DeliveryStatusAvailable,
			PickupAddress:       input.PickupAddress,
			DropoffAddress:      input.DropoffAddress,
			DistanceKm:          distance.String(),
			FeeCents:            s.pricing.DeliveryFeeCents(distance),
			EcoBonusCents:       s.pricing.EcoBonusCents(enums.VehicleClassBicycle, distance),
			Cycle:               lastCycle + 1,
			PublishedAt:         now,
			ExpiresAt:           &expiresAt,
			EstimatedPickupAt:   &pickupAt,
			EstimatedDeliveryAt: &deliveryAt,
		}
		if _, err := repo.CreateDelivery(ctx, delivery); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create delivery")
		}
		created = delivery

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDeliveryPublished,
			AggregateType: enums.AggregateDelivery,
			AggregateID:   delivery.ID,
			Version:       1,
			Data: payloads.DeliveryPublishedEvent{
				DeliveryID: delivery.ID,
				OrderID:    delivery.OrderID,
				FeeCents:   delivery.FeeCents,
				DistanceKm: delivery.DistanceKm,
				Cycle:      delivery.Cycle,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Accept settles the rider race. Exactly one concurrent claim wins the
// conditional update; everyone else gets the AlreadyAccepted outcome and
// re-polls. A retry from the rider who already holds the row reports accepted
// again so a timed-out client cannot accept twice.
func (s *service) Accept(ctx context.Context, input AcceptInput) (*AcceptResult, error) {
	if input.DeliveryID == uuid.Nil || input.RiderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery id and rider id required")
	}
	if !input.VehicleClass.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid vehicle class")
	}

	var result *AcceptResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		delivery, err := s.loadDelivery(ctx, repo, input.DeliveryID)
		if err != nil {
			return err
		}
		if delivery.Status.IsTerminal() {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "dispatch cycle already ended")
		}

		// The advertised bonus assumes a low-emission vehicle; a rider on a
		// combustion vehicle claims the job at fee only.
		ecoBonus := delivery.EcoBonusCents
		if !input.VehicleClass.IsLowEmission() {
			ecoBonus = 0
		}

		now := time.Now()
		won, err := repo.Claim(ctx, input.DeliveryID, input.RiderID, input.VehicleClass, ecoBonus, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim delivery")
		}
		if !won {
			current, err := s.loadDelivery(ctx, repo, input.DeliveryID)
			if err != nil {
				return err
			}
			if current.RiderID != nil && *current.RiderID == input.RiderID {
				// Retry after a timeout from the winning rider.
				result = &AcceptResult{Outcome: AcceptOutcomeAccepted, Delivery: current}
				return nil
			}
			result = &AcceptResult{Outcome: AcceptOutcomeAlreadyAccepted}
			return nil
		}

		delivery.RiderID = &input.RiderID
		delivery.Status = enums.DeliveryStatusAccepted
		delivery.VehicleClass = &input.VehicleClass
		delivery.EcoBonusCents = ecoBonus
		delivery.AcceptedAt = &now
		result = &AcceptResult{Outcome: AcceptOutcomeAccepted, Delivery: delivery}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDeliveryAccepted,
			AggregateType: enums.AggregateDelivery,
			AggregateID:   delivery.ID,
			Version:       1,
			Actor:         &outbox.ActorRef{ActorID: input.RiderID, Role: enums.ActorRoleRider},
			Data: payloads.DeliveryAcceptedEvent{
				DeliveryID:   delivery.ID,
				OrderID:      delivery.OrderID,
				RiderID:      input.RiderID,
				VehicleClass: input.VehicleClass,
				AcceptedAt:   now,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Advance walks the progression one step at a time. Skipping a step is
// OutOfOrder; a duplicate of the previous advance is reported as success
// without a second write.
func (s *service) Advance(ctx context.Context, input AdvanceInput) (*models.Delivery, error) {
	if input.DeliveryID == uuid.Nil || input.RiderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery id and rider id required")
	}
	if !input.Target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid target status")
	}

	var result *models.Delivery
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		delivery, err := s.loadDelivery(ctx, repo, input.DeliveryID)
		if err != nil {
			return err
		}
		if delivery.RiderID == nil || *delivery.RiderID != input.RiderID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "delivery is not assigned to this rider")
		}
		if delivery.Status == input.Target {
			// Duplicate of the previous advance.
			result = delivery
			return nil
		}
		next, ok := delivery.Status.NextInProgression()
		if !ok {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "delivery cannot advance from "+string(delivery.Status))
		}
		if next != input.Target {
			return pkgerrors.New(pkgerrors.CodeOutOfOrder, "expected next step "+string(next)+", got "+string(input.Target))
		}

		now := time.Now()
		updates := map[string]any{}
		switch input.Target {
		case enums.DeliveryStatusPickedUp:
			updates["picked_up_at"] = now
		case enums.DeliveryStatusDelivered:
			updates["delivered_at"] = now
		}

		moved, err := repo.AdvanceIf(ctx, delivery.ID, input.RiderID, delivery.Status, input.Target, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "advance delivery")
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeConflict, "delivery changed concurrently")
		}

		from := delivery.Status
		delivery.Status = input.Target
		switch input.Target {
		case enums.DeliveryStatusPickedUp:
			delivery.PickedUpAt = &now
		case enums.DeliveryStatusDelivered:
			delivery.DeliveredAt = &now
		}
		result = delivery

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDeliveryStatusChanged,
			AggregateType: enums.AggregateDelivery,
			AggregateID:   delivery.ID,
			Version:       1,
			Actor:         &outbox.ActorRef{ActorID: input.RiderID, Role: enums.ActorRoleRider},
			Data: payloads.DeliveryStatusChangedEvent{
				DeliveryID: delivery.ID,
				OrderID:    delivery.OrderID,
				RiderID:    input.RiderID,
				From:       from,
				To:         input.Target,
				ChangedAt:  now,
			},
		}); err != nil {
			return err
		}

		if input.Target == enums.DeliveryStatusDelivered {
			vehicle := enums.VehicleClassBicycle
			if delivery.VehicleClass != nil {
				vehicle = *delivery.VehicleClass
			}
			distance, err := parseDistance(delivery.DistanceKm)
			if err != nil {
				distance = decimal.Zero
			}
			carbonSaved := s.pricing.CarbonSavedGrams(vehicle, distance)
			if err := repo.UpdateDelivery(ctx, delivery.ID, map[string]any{
				"carbon_saved_grams": carbonSaved,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record carbon saved")
			}
			delivery.CarbonSavedGrams = carbonSaved

			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventDeliveryCompleted,
				AggregateType: enums.AggregateDelivery,
				AggregateID:   delivery.ID,
				Version:       1,
				Actor:         &outbox.ActorRef{ActorID: input.RiderID, Role: enums.ActorRoleRider},
				Data: payloads.DeliveryCompletedEvent{
					DeliveryID:       delivery.ID,
					OrderID:          delivery.OrderID,
					RiderID:          input.RiderID,
					VehicleClass:     delivery.VehicleClass,
					FeeCents:         delivery.FeeCents,
					EcoBonusCents:    delivery.EcoBonusCents,
					CarbonSavedGrams: carbonSaved,
					DeliveredAt:      now,
				},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Cancel ends the current cycle. Before pickup the order goes straight back on
// the board as a fresh cycle; after pickup the goods are already moving, so
// settlement owes compensation instead.
func (s *service) Cancel(ctx context.Context, input CancelInput) (*CancelResult, error) {
	if input.DeliveryID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery id required")
	}

	var result *CancelResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		delivery, err := s.loadDelivery(ctx, repo, input.DeliveryID)
		if err != nil {
			return err
		}
		if delivery.Status.IsTerminal() {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "dispatch cycle already ended")
		}

		preMovement := delivery.Status == enums.DeliveryStatusAvailable ||
			delivery.Status == enums.DeliveryStatusAccepted ||
			delivery.Status == enums.DeliveryStatusPickingUp

		now := time.Now()
		updates := map[string]any{
			"status":       enums.DeliveryStatusCancelled,
			"cancelled_at": now,
		}
		if input.Reason != "" {
			updates["cancel_reason"] = input.Reason
		}
		if err := repo.UpdateDelivery(ctx, delivery.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel delivery")
		}
		delivery.Status = enums.DeliveryStatusCancelled
		delivery.CancelledAt = &now

		result = &CancelResult{Cancelled: delivery, CompensationDue: !preMovement}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDeliveryCancelled,
			AggregateType: enums.AggregateDelivery,
			AggregateID:   delivery.ID,
			Version:       1,
			Data: payloads.DeliveryCancelledEvent{
				DeliveryID:  delivery.ID,
				OrderID:     delivery.OrderID,
				RiderID:     delivery.RiderID,
				Republish:   preMovement,
				Reason:      input.Reason,
				CancelledAt: now,
			},
		}); err != nil {
			return err
		}

		if preMovement {
			republished, err := s.republish(ctx, tx, repo, delivery)
			if err != nil {
				return err
			}
			result.Republished = republished
			return nil
		}

		// Past pickup the row always carries a rider.
		var riderID uuid.UUID
		if delivery.RiderID != nil {
			riderID = *delivery.RiderID
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDeliveryCompensationDue,
			AggregateType: enums.AggregateDelivery,
			AggregateID:   delivery.ID,
			Version:       1,
			Data: payloads.DeliveryCompensationDueEvent{
				DeliveryID:  delivery.ID,
				OrderID:     delivery.OrderID,
				RiderID:     riderID,
				AmountCents: delivery.FeeCents + delivery.EcoBonusCents,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Expire times out an unclaimed cycle and puts a fresh one on the board.
func (s *service) Expire(ctx context.Context, deliveryID uuid.UUID) (*models.Delivery, error) {
	if deliveryID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery id required")
	}

	var republished *models.Delivery
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		delivery, err := s.loadDelivery(ctx, repo, deliveryID)
		if err != nil {
			return err
		}
		if delivery.Status != enums.DeliveryStatusAvailable {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "only available deliveries expire")
		}

		now := time.Now()
		if err := repo.UpdateDelivery(ctx, delivery.ID, map[string]any{
			"status":       enums.DeliveryStatusExpired,
			"cancelled_at": now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire delivery")
		}
		delivery.Status = enums.DeliveryStatusExpired

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDeliveryExpired,
			AggregateType: enums.AggregateDelivery,
			AggregateID:   delivery.ID,
			Version:       1,
			Data: payloads.DeliveryExpiredEvent{
				DeliveryID: delivery.ID,
				OrderID:    delivery.OrderID,
				Cycle:      delivery.Cycle,
				ExpiredAt:  now,
			},
		}); err != nil {
			return err
		}

		republished, err = s.republish(ctx, tx, repo, delivery)
		return err
	})
	if err != nil {
		return nil, err
	}
	return republished, nil
}

func (s *service) Get(ctx context.Context, deliveryID uuid.UUID) (*models.Delivery, error) {
	if deliveryID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery id required")
	}
	return s.loadDelivery(ctx, s.repo, deliveryID)
}

func (s *service) ListAvailable(ctx context.Context, params pagination.Params) (*JobList, error) {
	return s.repo.ListAvailable(ctx, params)
}

func (s *service) ListRiderDeliveries(ctx context.Context, riderID uuid.UUID, params pagination.Params) ([]models.Delivery, string, error) {
	if riderID == uuid.Nil {
		return nil, "", pkgerrors.New(pkgerrors.CodeUnauthorized, "rider identity missing")
	}
	return s.repo.ListRiderDeliveries(ctx, riderID, params)
}

// republish opens the next cycle for the order with the same frozen pricing.
func (s *service) republish(ctx context.Context, tx *gorm.DB, repo Repository, previous *models.Delivery) (*models.Delivery, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AcceptTTL)
	pickupAt := now.Add(s.cfg.PickupLeadTime)
	distance, err := parseDistance(previous.DistanceKm)
	if err != nil {
		distance = decimal.Zero
	}
	deliveryAt := pickupAt.Add(s.travelTime(distance))

	next := &models.Delivery{
		OrderID:             previous.OrderID,
		Status:              enums.DeliveryStatusAvailable,
		PickupAddress:       previous.PickupAddress,
		DropoffAddress:      previous.DropoffAddress,
		DistanceKm:          previous.DistanceKm,
		FeeCents:            previous.FeeCents,
		EcoBonusCents:       s.pricing.EcoBonusCents(enums.VehicleClassBicycle, distance),
		Cycle:               previous.Cycle + 1,
		PublishedAt:         now,
		ExpiresAt:           &expiresAt,
		EstimatedPickupAt:   &pickupAt,
		EstimatedDeliveryAt: &deliveryAt,
	}
	if _, err := repo.CreateDelivery(ctx, next); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "republish delivery")
	}

	err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventDeliveryPublished,
		AggregateType: enums.AggregateDelivery,
		AggregateID:   next.ID,
		Version:       1,
		Data: payloads.DeliveryPublishedEvent{
			DeliveryID: next.ID,
			OrderID:    next.OrderID,
			FeeCents:   next.FeeCents,
			DistanceKm: next.DistanceKm,
			Cycle:      next.Cycle,
		},
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

func (s *service) travelTime(distance decimal.Decimal) time.Duration {
	kms := distance.Ceil().IntPart()
	if kms < 1 {
		kms = 1
	}
	return time.Duration(kms) * s.cfg.DeliveryPerKmTime
}

func (s *service) loadDelivery(ctx context.Context, repo Repository, deliveryID uuid.UUID) (*models.Delivery, error) {
	delivery, err := repo.FindDelivery(ctx, deliveryID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "delivery not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load delivery")
	}
	return delivery, nil
}

func parseDistance(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	distance, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "invalid distance")
	}
	if distance.IsNegative() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "distance cannot be negative")
	}
	return distance, nil
}
