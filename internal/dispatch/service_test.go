package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
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

type stubDispatchRepo struct {
	delivery    *models.Delivery
	active      *models.Delivery
	created     []*models.Delivery
	latestCycle int
	claimWins   bool
	claimCalled bool
	updates     map[string]any
	advanceFrom enums.DeliveryStatus
	advanceTo   enums.DeliveryStatus
	advanceWins bool
	advanceRan  bool
}

func (s *stubDispatchRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubDispatchRepo) CreateDelivery(ctx context.Context, delivery *models.Delivery) (*models.Delivery, error) {
	if delivery.ID == uuid.Nil {
		delivery.ID = uuid.New()
	}
	s.created = append(s.created, delivery)
	return delivery, nil
}

func (s *stubDispatchRepo) FindDelivery(ctx context.Context, deliveryID uuid.UUID) (*models.Delivery, error) {
	if s.delivery == nil || s.delivery.ID != deliveryID {
		return nil, gorm.ErrRecordNotFound
	}
	return s.delivery, nil
}

func (s *stubDispatchRepo) FindActiveByOrder(ctx context.Context, orderID uuid.UUID) (*models.Delivery, error) {
	if s.active == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return s.active, nil
}

func (s *stubDispatchRepo) LatestCycleForOrder(ctx context.Context, orderID uuid.UUID) (int, error) {
	return s.latestCycle, nil
}

func (s *stubDispatchRepo) Claim(ctx context.Context, deliveryID, riderID uuid.UUID, vehicle enums.VehicleClass, ecoBonusCents int64, at time.Time) (bool, error) {
	s.claimCalled = true
	if s.claimWins && s.delivery != nil {
		s.delivery.RiderID = &riderID
		s.delivery.Status = enums.DeliveryStatusAccepted
		s.delivery.VehicleClass = &vehicle
		s.delivery.EcoBonusCents = ecoBonusCents
	}
	return s.claimWins, nil
}

func (s *stubDispatchRepo) AdvanceIf(ctx context.Context, deliveryID, riderID uuid.UUID, from, to enums.DeliveryStatus, updates map[string]any) (bool, error) {
	s.advanceRan = true
	s.advanceFrom = from
	s.advanceTo = to
	return s.advanceWins, nil
}

func (s *stubDispatchRepo) UpdateDelivery(ctx context.Context, deliveryID uuid.UUID, updates map[string]any) error {
	s.updates = updates
	return nil
}

func (s *stubDispatchRepo) ListAvailable(ctx context.Context, params pagination.Params) (*JobList, error) {
	return &JobList{}, nil
}

func (s *stubDispatchRepo) ListExpiredAvailable(ctx context.Context, cutoff time.Time, limit int) ([]models.Delivery, error) {
	return nil, nil
}

func (s *stubDispatchRepo) ListStaleAccepted(ctx context.Context, cutoff time.Time, limit int) ([]models.Delivery, error) {
	return nil, nil
}

func (s *stubDispatchRepo) ListRiderDeliveries(ctx context.Context, riderID uuid.UUID, params pagination.Params) ([]models.Delivery, string, error) {
	return nil, "", nil
}

type recordingOutbox struct {
	events []outbox.DomainEvent
}

func (r *recordingOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	r.events = append(r.events, event)
	return nil
}

func (r *recordingOutbox) eventTypes() []enums.OutboxEventType {
	types := make([]enums.OutboxEventType, 0, len(r.events))
	for _, event := range r.events {
		types = append(types, event.EventType)
	}
	return types
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func testDispatchConfig() config.DispatchConfig {
	return config.DispatchConfig{
		BaseFeeCents:      500,
		PerKmFeeCents:     200,
		EcoBonusPerKm:     100,
		MaxFeeCents:       5000,
		AcceptTTL:         10 * time.Minute,
		RiderGracePeriod:  30 * time.Minute,
		PickupLeadTime:    15 * time.Minute,
		DeliveryPerKmTime: 4 * time.Minute,
	}
}

func newTestService(t *testing.T, repo Repository, ob *recordingOutbox) Service {
	t.Helper()
	calc, err := pricing.NewCalculator(
		config.PlatformConfig{CommissionPercent: "10", PayoutFeePercent: "1.5", MinPayoutCents: 50000},
		testDispatchConfig(),
	)
	if err != nil {
		t.Fatalf("calculator: %v", err)
	}
	svc, err := NewService(repo, stubTxRunner{}, ob, calc, testDispatchConfig())
	if err != nil {
		t.Fatalf("service constructor failed: %v", err)
	}
	return svc
}

func availableDelivery() *models.Delivery {
	return &models.Delivery{
		ID:             uuid.New(),
		OrderID:        uuid.New(),
		Status:         enums.DeliveryStatusAvailable,
		PickupAddress:  "Vendor kitchen",
		DropoffAddress: "12 Kale St",
		DistanceKm:     "3",
		FeeCents:       1500,
		EcoBonusCents:  300,
		Cycle:          1,
	}
}

func TestPublishFreezesPricing(t *testing.T) {
	repo := &stubDispatchRepo{}
	ob := &recordingOutbox{}
	svc := newTestService(t, repo, ob)

	delivery, err := svc.Publish(context.Background(), PublishInput{
		OrderID:        uuid.New(),
		PickupAddress:  "Vendor kitchen",
		DropoffAddress: "12 Kale St",
		DistanceKm:     "3",
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	// base 500 + 3km * 200.
	if delivery.FeeCents != 1100 {
		t.Fatalf("fee %d", delivery.FeeCents)
	}
	// 3km * 100 advertised for low-emission vehicles.
	if delivery.EcoBonusCents != 300 {
		t.Fatalf("eco bonus %d", delivery.EcoBonusCents)
	}
	if delivery.Status != enums.DeliveryStatusAvailable || delivery.Cycle != 1 {
		t.Fatalf("unexpected state %s cycle %d", delivery.Status, delivery.Cycle)
	}
	if delivery.ExpiresAt == nil || delivery.EstimatedPickupAt == nil || delivery.EstimatedDeliveryAt == nil {
		t.Fatal("expected TTL and estimates set")
	}
	types := ob.eventTypes()
	if len(types) != 1 || types[0] != enums.EventDeliveryPublished {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestPublishRejectsSecondLiveCycle(t *testing.T) {
	repo := &stubDispatchRepo{active: availableDelivery()}
	svc := newTestService(t, repo, &recordingOutbox{})

	_, err := svc.Publish(context.Background(), PublishInput{
		OrderID:        uuid.New(),
		PickupAddress:  "Vendor kitchen",
		DropoffAddress: "12 Kale St",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestAcceptWinnerTakesDelivery(t *testing.T) {
	delivery := availableDelivery()
	repo := &stubDispatchRepo{delivery: delivery, claimWins: true}
	ob := &recordingOutbox{}
	svc := newTestService(t, repo, ob)

	riderID := uuid.New()
	result, err := svc.Accept(context.Background(), AcceptInput{
		DeliveryID:   delivery.ID,
		RiderID:      riderID,
		VehicleClass: enums.VehicleClassBicycle,
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if result.Outcome != AcceptOutcomeAccepted {
		t.Fatalf("unexpected outcome %s", result.Outcome)
	}
	if result.Delivery == nil || result.Delivery.RiderID == nil || *result.Delivery.RiderID != riderID {
		t.Fatalf("rider not assigned: %+v", result.Delivery)
	}
	if result.Delivery.EcoBonusCents != 300 {
		t.Fatalf("eco bonus lost on claim: %d", result.Delivery.EcoBonusCents)
	}
	types := ob.eventTypes()
	if len(types) != 1 || types[0] != enums.EventDeliveryAccepted {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestAcceptLoserGetsAlreadyAccepted(t *testing.T) {
	winner := uuid.New()
	delivery := availableDelivery()
	delivery.Status = enums.DeliveryStatusAccepted
	delivery.RiderID = &winner
	repo := &stubDispatchRepo{delivery: delivery, claimWins: false}
	ob := &recordingOutbox{}
	svc := newTestService(t, repo, ob)

	result, err := svc.Accept(context.Background(), AcceptInput{
		DeliveryID:   delivery.ID,
		RiderID:      uuid.New(),
		VehicleClass: enums.VehicleClassBicycle,
	})
	if err != nil {
		t.Fatalf("losing the race is not an error, got %v", err)
	}
	if result.Outcome != AcceptOutcomeAlreadyAccepted {
		t.Fatalf("unexpected outcome %s", result.Outcome)
	}
	if len(ob.events) != 0 {
		t.Fatalf("loser must not emit, got %v", ob.eventTypes())
	}
}

func TestAcceptRetryByWinnerIsIdempotent(t *testing.T) {
	winner := uuid.New()
	delivery := availableDelivery()
	delivery.Status = enums.DeliveryStatusAccepted
	delivery.RiderID = &winner
	repo := &stubDispatchRepo{delivery: delivery, claimWins: false}
	ob := &recordingOutbox{}
	svc := newTestService(t, repo, ob)

	result, err := svc.Accept(context.Background(), AcceptInput{
		DeliveryID:   delivery.ID,
		RiderID:      winner,
		VehicleClass: enums.VehicleClassBicycle,
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if result.Outcome != AcceptOutcomeAccepted {
		t.Fatalf("retry by holder must read as accepted, got %s", result.Outcome)
	}
	if len(ob.events) != 0 {
		t.Fatalf("retry must not emit again, got %v", ob.eventTypes())
	}
}

func TestAcceptCombustionVehicleDropsEcoBonus(t *testing.T) {
	delivery := availableDelivery()
	repo := &stubDispatchRepo{delivery: delivery, claimWins: true}
	svc := newTestService(t, repo, &recordingOutbox{})

	result, err := svc.Accept(context.Background(), AcceptInput{
		DeliveryID:   delivery.ID,
		RiderID:      uuid.New(),
		VehicleClass: enums.VehicleClassCar,
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if result.Delivery.EcoBonusCents != 0 {
		t.Fatalf("car must not earn eco bonus, got %d", result.Delivery.EcoBonusCents)
	}
}

func TestAdvanceStrictProgression(t *testing.T) {
	riderID := uuid.New()
	vehicle := enums.VehicleClassBicycle
	delivery := availableDelivery()
	delivery.Status = enums.DeliveryStatusAccepted
	delivery.RiderID = &riderID
	delivery.VehicleClass = &vehicle
	repo := &stubDispatchRepo{delivery: delivery, advanceWins: true}
	ob := &recordingOutbox{}
	svc := newTestService(t, repo, ob)

	updated, err := svc.Advance(context.Background(), AdvanceInput{
		DeliveryID: delivery.ID,
		RiderID:    riderID,
		Target:     enums.DeliveryStatusPickingUp,
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if updated.Status != enums.DeliveryStatusPickingUp {
		t.Fatalf("unexpected status %s", updated.Status)
	}
	types := ob.eventTypes()
	if len(types) != 1 || types[0] != enums.EventDeliveryStatusChanged {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestAdvanceSkipIsOutOfOrder(t *testing.T) {
	riderID := uuid.New()
	delivery := availableDelivery()
	delivery.Status = enums.DeliveryStatusAccepted
	delivery.RiderID = &riderID
	repo := &stubDispatchRepo{delivery: delivery, advanceWins: true}
	svc := newTestService(t, repo, &recordingOutbox{})

	_, err := svc.Advance(context.Background(), AdvanceInput{
		DeliveryID: delivery.ID,
		RiderID:    riderID,
		Target:     enums.DeliveryStatusDelivering,
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeOutOfOrder {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestAdvanceDuplicateIsNoop(t *testing.T) {
	riderID := uuid.New()
	delivery := availableDelivery()
	delivery.Status = enums.DeliveryStatusPickingUp
	delivery.RiderID = &riderID
	repo := &stubDispatchRepo{delivery: delivery}
	ob := &recordingOutbox{}
	svc := newTestService(t, repo, ob)

	updated, err := svc.Advance(context.Background(), AdvanceInput{
		DeliveryID: delivery.ID,
		RiderID:    riderID,
		Target:     enums.DeliveryStatusPickingUp,
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if repo.advanceRan {
		t.Fatal("duplicate advance must not write")
	}
	if len(ob.events) != 0 {
		t.Fatalf("duplicate advance must not emit, got %v", ob.eventTypes())
	}
	if updated.Status != enums.DeliveryStatusPickingUp {
		t.Fatalf("unexpected status %s", updated.Status)
	}
}

func TestAdvanceByWrongRiderForbidden(t *testing.T) {
	riderID := uuid.New()
	delivery := availableDelivery()
	delivery.Status = enums.DeliveryStatusAccepted
	delivery.RiderID = &riderID
	repo := &stubDispatchRepo{delivery: delivery, advanceWins: true}
	svc := newTestService(t, repo, &recordingOutbox{})

	_, err := svc.Advance(context.Background(), AdvanceInput{
		DeliveryID: delivery.ID,
		RiderID:    uuid.New(),
		Target:     enums.DeliveryStatusPickingUp,
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeForbidden {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestAdvanceToDeliveredEmitsCompleted(t *testing.T) {
	riderID := uuid.New()
	vehicle := enums.VehicleClassEBike
	delivery := availableDelivery()
	delivery.Status = enums.DeliveryStatusDelivering
	delivery.RiderID = &riderID
	delivery.VehicleClass = &vehicle
	repo := &stubDispatchRepo{delivery: delivery, advanceWins: true}
	ob := &recordingOutbox{}
	svc := newTestService(t, repo, ob)

	updated, err := svc.Advance(context.Background(), AdvanceInput{
		DeliveryID: delivery.ID,
		RiderID:    riderID,
		Target:     enums.DeliveryStatusDelivered,
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if updated.Status != enums.DeliveryStatusDelivered {
		t.Fatalf("unexpected status %s", updated.Status)
	}
	if updated.CarbonSavedGrams == 0 {
		t.Fatal("expected carbon saved recorded for low-emission vehicle")
	}
	types := ob.eventTypes()
	if len(types) != 2 || types[0] != enums.EventDeliveryStatusChanged || types[1] != enums.EventDeliveryCompleted {
		t.Fatalf("unexpected events %v", types)
	}
	completed, ok := ob.events[1].Data.(payloads.DeliveryCompletedEvent)
	if !ok || completed.FeeCents != 1500 || completed.EcoBonusCents != 300 {
		t.Fatalf("unexpected completed payload %+v", ob.events[1].Data)
	}
}

func TestCancelBeforePickupRepublishes(t *testing.T) {
	riderID := uuid.New()
	delivery := availableDelivery()
	delivery.Status = enums.DeliveryStatusAccepted
	delivery.RiderID = &riderID
	repo := &stubDispatchRepo{delivery: delivery}
	ob := &recordingOutbox{}
	svc := newTestService(t, repo, ob)

	result, err := svc.Cancel(context.Background(), CancelInput{
		DeliveryID: delivery.ID,
		Reason:     "rider unresponsive",
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if result.CompensationDue {
		t.Fatal("pre-pickup cancel owes no compensation")
	}
	if result.Republished == nil {
		t.Fatal("expected a fresh cycle")
	}
	if result.Republished.Cycle != delivery.Cycle+1 {
		t.Fatalf("cycle %d", result.Republished.Cycle)
	}
	if result.Republished.RiderID != nil || result.Republished.Status != enums.DeliveryStatusAvailable {
		t.Fatalf("fresh cycle must be unassigned and available: %+v", result.Republished)
	}
	if result.Republished.FeeCents != delivery.FeeCents {
		t.Fatalf("republished fee changed: %d", result.Republished.FeeCents)
	}
	types := ob.eventTypes()
	if len(types) != 2 || types[0] != enums.EventDeliveryCancelled || types[1] != enums.EventDeliveryPublished {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestCancelAfterPickupOwesCompensation(t *testing.T) {
	riderID := uuid.New()
	delivery := availableDelivery()
	delivery.Status = enums.DeliveryStatusPickedUp
	delivery.RiderID = &riderID
	repo := &stubDispatchRepo{delivery: delivery}
	ob := &recordingOutbox{}
	svc := newTestService(t, repo, ob)

	result, err := svc.Cancel(context.Background(), CancelInput{
		DeliveryID: delivery.ID,
		Reason:     "customer unreachable",
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if !result.CompensationDue {
		t.Fatal("post-pickup cancel owes compensation")
	}
	if result.Republished != nil {
		t.Fatal("post-pickup cancel must not republish automatically")
	}
	types := ob.eventTypes()
	if len(types) != 2 || types[0] != enums.EventDeliveryCancelled || types[1] != enums.EventDeliveryCompensationDue {
		t.Fatalf("unexpected events %v", types)
	}
	due, ok := ob.events[1].Data.(payloads.DeliveryCompensationDueEvent)
	if !ok || due.AmountCents != 1800 || due.RiderID != riderID {
		t.Fatalf("unexpected compensation payload %+v", ob.events[1].Data)
	}
}

func TestExpireRepublishes(t *testing.T) {
	delivery := availableDelivery()
	repo := &stubDispatchRepo{delivery: delivery}
	ob := &recordingOutbox{}
	svc := newTestService(t, repo, ob)

	republished, err := svc.Expire(context.Background(), delivery.ID)
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if republished == nil || republished.Cycle != 2 {
		t.Fatalf("expected cycle 2, got %+v", republished)
	}
	types := ob.eventTypes()
	if len(types) != 2 || types[0] != enums.EventDeliveryExpired || types[1] != enums.EventDeliveryPublished {
		t.Fatalf("unexpected events %v", types)
	}
}
