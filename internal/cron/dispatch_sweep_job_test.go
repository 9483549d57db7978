package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/greenmile-app/greenmile-backend/internal/dispatch"
	"github.com/greenmile-app/greenmile-backend/pkg/db/models"
	"github.com/greenmile-app/greenmile-backend/pkg/enums"
	"github.com/greenmile-app/greenmile-backend/pkg/logger"
)

type fakeDeliveryReader struct {
	expired []models.Delivery
	stale   []models.Delivery
	err     error
}

func (f *fakeDeliveryReader) ListExpiredAvailable(ctx context.Context, cutoff time.Time, limit int) ([]models.Delivery, error) {
	return f.expired, f.err
}

func (f *fakeDeliveryReader) ListStaleAccepted(ctx context.Context, cutoff time.Time, limit int) ([]models.Delivery, error) {
	return f.stale, f.err
}

type fakeDeliveryCloser struct {
	expiredIDs  []uuid.UUID
	cancelled   []dispatch.CancelInput
	expireErrOn uuid.UUID
	cancelErrOn uuid.UUID
}

func (f *fakeDeliveryCloser) Expire(ctx context.Context, deliveryID uuid.UUID) (*models.Delivery, error) {
	if deliveryID == f.expireErrOn {
		return nil, errors.New("already accepted")
	}
	f.expiredIDs = append(f.expiredIDs, deliveryID)
	return &models.Delivery{ID: deliveryID, Status: enums.DeliveryStatusExpired}, nil
}

func (f *fakeDeliveryCloser) Cancel(ctx context.Context, input dispatch.CancelInput) (*dispatch.CancelResult, error) {
	if input.DeliveryID == f.cancelErrOn {
		return nil, errors.New("already moving")
	}
	f.cancelled = append(f.cancelled, input)
	return &dispatch.CancelResult{Cancelled: &models.Delivery{ID: input.DeliveryID}}, nil
}

func TestDispatchSweepExpiresAndCancels(t *testing.T) {
	overdueA, overdueB := uuid.New(), uuid.New()
	abandoned := uuid.New()
	reader := &fakeDeliveryReader{
		expired: []models.Delivery{{ID: overdueA}, {ID: overdueB}},
		stale:   []models.Delivery{{ID: abandoned}},
	}
	closer := &fakeDeliveryCloser{}
	job, err := NewDispatchSweepJob(DispatchSweepJobParams{
		Logger:      logger.New(logger.Options{ServiceName: "cron-test"}),
		Reader:      reader,
		Dispatch:    closer,
		GracePeriod: 30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(closer.expiredIDs) != 2 {
		t.Fatalf("expected 2 expirations, got %d", len(closer.expiredIDs))
	}
	if len(closer.cancelled) != 1 {
		t.Fatalf("expected 1 cancellation, got %d", len(closer.cancelled))
	}
	if closer.cancelled[0].Reason == "" {
		t.Fatalf("expected a cancellation reason")
	}
}

func TestDispatchSweepSkipsRowsThatChangedUnderneath(t *testing.T) {
	contested := uuid.New()
	clean := uuid.New()
	reader := &fakeDeliveryReader{expired: []models.Delivery{{ID: contested}, {ID: clean}}}
	closer := &fakeDeliveryCloser{expireErrOn: contested}
	job, err := NewDispatchSweepJob(DispatchSweepJobParams{
		Logger:      logger.New(logger.Options{ServiceName: "cron-test"}),
		Reader:      reader,
		Dispatch:    closer,
		GracePeriod: 30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(closer.expiredIDs) != 1 || closer.expiredIDs[0] != clean {
		t.Fatalf("expected only the uncontested row to expire")
	}
}

func TestDispatchSweepReportsReaderFailure(t *testing.T) {
	reader := &fakeDeliveryReader{err: errors.New("db down")}
	job, err := NewDispatchSweepJob(DispatchSweepJobParams{
		Logger:      logger.New(logger.Options{ServiceName: "cron-test"}),
		Reader:      reader,
		Dispatch:    &fakeDeliveryCloser{},
		GracePeriod: 30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatalf("expected sweep to surface the reader error")
	}
}
