package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/greenmile-app/greenmile-backend/internal/wallets"
	"github.com/greenmile-app/greenmile-backend/pkg/db/models"
	"github.com/greenmile-app/greenmile-backend/pkg/logger"
)

const walletReconcileBatchSize = 50

// WalletReconcileJobParams configure the ledger drift sweeper.
type WalletReconcileJobParams struct {
	Logger    *logger.Logger
	Reader    staleWalletReader
	Wallets   walletReconciler
	BatchSize int
}

type staleWalletReader interface {
	ListStaleUnreconciled(ctx context.Context, limit int) ([]models.Wallet, error)
}

type walletReconciler interface {
	Reconcile(ctx context.Context, walletID uuid.UUID) (*wallets.ReconcileReport, error)
}

// NewWalletReconcileJob rebuilds cached wallet balances from the ledger for
// the wallets that have gone longest without a check.
func NewWalletReconcileJob(params WalletReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reader == nil {
		return nil, fmt.Errorf("wallet reader required")
	}
	if params.Wallets == nil {
		return nil, fmt.Errorf("wallet service required")
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = walletReconcileBatchSize
	}
	return &walletReconcileJob{
		logg:      params.Logger,
		reader:    params.Reader,
		wallets:   params.Wallets,
		batchSize: batchSize,
	}, nil
}

type walletReconcileJob struct {
	logg      *logger.Logger
	reader    staleWalletReader
	wallets   walletReconciler
	batchSize int
}

func (j *walletReconcileJob) Name() string { return "wallet-reconcile" }

func (j *walletReconcileJob) Run(ctx context.Context) error {
	stale, err := j.reader.ListStaleUnreconciled(ctx, j.batchSize)
	if err != nil {
		return fmt.Errorf("query stale wallets: %w", err)
	}
	drifted := 0
	for _, wallet := range stale {
		report, err := j.wallets.Reconcile(ctx, wallet.ID)
		if err != nil {
			return fmt.Errorf("reconcile wallet %s: %w", wallet.ID, err)
		}
		if !report.Drifted {
			continue
		}
		drifted++
		logCtx := j.logg.WithFields(ctx, map[string]any{
			"wallet_id":             wallet.ID,
			"available_drift_cents": report.AvailableDriftCents,
			"bonus_drift_cents":     report.BonusDriftCents,
			"carbon_drift_cents":    report.CarbonDriftCents,
			"pending_drift_cents":   report.PendingDriftCents,
		})
		j.logg.Warn(logCtx, "wallet balance drift repaired")
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"checked": len(stale),
		"drifted": drifted,
	})
	j.logg.Info(logCtx, "wallet reconciliation sweep complete")
	return nil
}
