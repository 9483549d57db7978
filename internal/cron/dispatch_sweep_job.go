package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/greenmile-app/greenmile-backend/internal/dispatch"
	"github.com/greenmile-app/greenmile-backend/pkg/db/models"
	"github.com/greenmile-app/greenmile-backend/pkg/logger"
)

const dispatchSweepBatchSize = 100

// DispatchSweepJobParams configure the delivery timeout sweeper.
type DispatchSweepJobParams struct {
	Logger      *logger.Logger
	Reader      staleDeliveryReader
	Dispatch    deliveryCloser
	GracePeriod time.Duration
	BatchSize   int
}

type staleDeliveryReader interface {
	ListExpiredAvailable(ctx context.Context, cutoff time.Time, limit int) ([]models.Delivery, error)
	ListStaleAccepted(ctx context.Context, cutoff time.Time, limit int) ([]models.Delivery, error)
}

type deliveryCloser interface {
	Expire(ctx context.Context, deliveryID uuid.UUID) (*models.Delivery, error)
	Cancel(ctx context.Context, input dispatch.CancelInput) (*dispatch.CancelResult, error)
}

// NewDispatchSweepJob builds the job that expires unaccepted jobs past their
// TTL and cancels accepted jobs whose rider never started moving within the
// grace period. Both paths republish a fresh cycle through the dispatch
// service, so riders keep seeing the work.
func NewDispatchSweepJob(params DispatchSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reader == nil {
		return nil, fmt.Errorf("delivery reader required")
	}
	if params.Dispatch == nil {
		return nil, fmt.Errorf("dispatch service required")
	}
	if params.GracePeriod <= 0 {
		return nil, fmt.Errorf("grace period required")
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = dispatchSweepBatchSize
	}
	return &dispatchSweepJob{
		logg:        params.Logger,
		reader:      params.Reader,
		dispatch:    params.Dispatch,
		gracePeriod: params.GracePeriod,
		batchSize:   batchSize,
		now:         time.Now,
	}, nil
}

type dispatchSweepJob struct {
	logg        *logger.Logger
	reader      staleDeliveryReader
	dispatch    deliveryCloser
	gracePeriod time.Duration
	batchSize   int
	now         func() time.Time
}

func (j *dispatchSweepJob) Name() string { return "dispatch-sweep" }

func (j *dispatchSweepJob) Run(ctx context.Context) error {
	var errs []error
	if err := j.expireUnaccepted(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := j.cancelAbandoned(ctx); err != nil {
		errs = append(errs, err)
	}
	return multierr.Combine(errs...)
}

func (j *dispatchSweepJob) expireUnaccepted(ctx context.Context) error {
	now := j.now().UTC()
	deliveries, err := j.reader.ListExpiredAvailable(ctx, now, j.batchSize)
	if err != nil {
		return fmt.Errorf("query expired deliveries: %w", err)
	}
	expired := 0
	for _, delivery := range deliveries {
		if _, err := j.dispatch.Expire(ctx, delivery.ID); err != nil {
			// A rider may have accepted between the list and the expire.
			logCtx := j.logg.WithDeliveryID(ctx, delivery.ID.String())
			j.logg.Warn(logCtx, "skipping delivery that changed under the sweep")
			continue
		}
		expired++
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(deliveries),
		"expired":    expired,
	})
	j.logg.Info(logCtx, "expired unaccepted deliveries")
	return nil
}

func (j *dispatchSweepJob) cancelAbandoned(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.gracePeriod)
	deliveries, err := j.reader.ListStaleAccepted(ctx, cutoff, j.batchSize)
	if err != nil {
		return fmt.Errorf("query stale accepted deliveries: %w", err)
	}
	cancelled := 0
	for _, delivery := range deliveries {
		_, err := j.dispatch.Cancel(ctx, dispatch.CancelInput{
			DeliveryID: delivery.ID,
			Reason:     "rider inactive past grace period",
		})
		if err != nil {
			logCtx := j.logg.WithDeliveryID(ctx, delivery.ID.String())
			j.logg.Warn(logCtx, "skipping delivery that changed under the sweep")
			continue
		}
		cancelled++
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(deliveries),
		"cancelled":  cancelled,
	})
	j.logg.Info(logCtx, "cancelled abandoned deliveries")
	return nil
}
