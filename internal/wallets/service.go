package wallets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
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

// Service owns wallets and the append-only ledger. Every money movement is a
// ledger entry plus a guarded balance update in the same transaction; cached
// balances are a view the ledger can always rebuild.
type Service interface {
	GetOrCreate(ctx context.Context, ownerID uuid.UUID, ownerType enums.OwnerType) (*models.Wallet, error)
	Get(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error)
	Credit(ctx context.Context, input MovementInput) (*MovementResult, error)
	Debit(ctx context.Context, input MovementInput) (*MovementResult, error)
	CreditTx(ctx context.Context, tx *gorm.DB, input MovementInput) (*MovementResult, error)
	DebitTx(ctx context.Context, tx *gorm.DB, input MovementInput) (*MovementResult, error)
	RecordSpendTx(ctx context.Context, tx *gorm.DB, walletID uuid.UUID, amountCents int64) error
	ListEntries(ctx context.Context, walletID uuid.UUID, params pagination.Params, filters EntryFilters) (*EntryList, error)
	RequestPayout(ctx context.Context, input RequestPayoutInput) (*models.PayoutRequest, error)
	CompletePayout(ctx context.Context, payoutID uuid.UUID) error
	FailPayout(ctx context.Context, payoutID uuid.UUID, reason string) error
	Reconcile(ctx context.Context, walletID uuid.UUID) (*ReconcileReport, error)
	AddBankAccount(ctx context.Context, input AddBankAccountInput) (*models.BankAccount, error)
	ListBankAccounts(ctx context.Context, ownerID uuid.UUID, ownerType enums.OwnerType) ([]BankAccountView, error)
	RemoveBankAccount(ctx context.Context, ownerID, accountID uuid.UUID) error
}

type service struct {
	repo      Repository
	tx        txRunner
	outbox    outboxPublisher
	pricing   *pricing.Calculator
	minPayout int64
}

func NewService(repo Repository, tx txRunner, ob outboxPublisher, calc *pricing.Calculator, minPayoutCents int64) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("wallets repository required")
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
	return &service{repo: repo, tx: tx, outbox: ob, pricing: calc, minPayout: minPayoutCents}, nil
}

func (s *service) GetOrCreate(ctx context.Context, ownerID uuid.UUID, ownerType enums.OwnerType) (*models.Wallet, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id required")
	}
	if !ownerType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid owner type")
	}
	wallet, err := s.repo.GetOrCreateWallet(ctx, ownerID, ownerType)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "get or create wallet")
	}
	return wallet, nil
}

func (s *service) Get(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error) {
	if walletID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "wallet id required")
	}
	wallet, err := s.repo.FindWallet(ctx, walletID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "wallet not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
	}
	return wallet, nil
}

func (s *service) Credit(ctx context.Context, input MovementInput) (*MovementResult, error) {
	var result *MovementResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.CreditTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) Debit(ctx context.Context, input MovementInput) (*MovementResult, error) {
	var result *MovementResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.DebitTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CreditTx commits a positive movement inside the caller's transaction so a
// settlement effect and its ledger writes land atomically.
func (s *service) CreditTx(ctx context.Context, tx *gorm.DB, input MovementInput) (*MovementResult, error) {
	return s.applyTx(ctx, tx, input, input.AmountCents)
}

// DebitTx commits a negative movement. The guarded balance update rejects the
// whole transaction with InsufficientFunds when the wallet cannot cover it.
func (s *service) DebitTx(ctx context.Context, tx *gorm.DB, input MovementInput) (*MovementResult, error) {
	return s.applyTx(ctx, tx, input, -input.AmountCents)
}

func (s *service) applyTx(ctx context.Context, tx *gorm.DB, input MovementInput, signedCents int64) (*MovementResult, error) {
	if input.WalletID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "wallet id required")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if input.IdempotencyKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key required")
	}
	if !input.EntryType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid entry type")
	}
	kind := input.BalanceKind
	if kind == "" {
		kind = enums.BalanceKindAvailable
	}
	if !kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid balance kind")
	}

	repo := s.repo.WithTx(tx)

	entry := &models.LedgerEntry{
		WalletID:       input.WalletID,
		EntryType:      input.EntryType,
		Status:         enums.LedgerEntryStatusCompleted,
		BalanceKind:    kind,
		AmountCents:    signedCents,
		IdempotencyKey: input.IdempotencyKey,
		ReferenceType:  input.ReferenceType,
		ReferenceID:    input.ReferenceID,
		Description:    input.Description,
		Metadata:       input.Metadata,
	}
	inserted, err := repo.InsertEntry(ctx, entry)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert ledger entry")
	}
	if !inserted {
		// Replay: the movement already happened, return the original.
		existing, findErr := repo.FindEntryByKey(ctx, input.IdempotencyKey)
		if findErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load replayed entry")
		}
		return &MovementResult{Entry: existing, Replayed: true}, nil
	}

	applied, err := repo.AdjustBalance(ctx, input.WalletID, kind, signedCents)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "adjust balance")
	}
	if !applied {
		// Rolls back the entry insert with it.
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientFunds, "wallet balance cannot cover this movement")
	}

	if signedCents > 0 && (kind == enums.BalanceKindAvailable || kind == enums.BalanceKindBonus) && input.EntryType != enums.LedgerEntryTypeRefund {
		if err := repo.IncrementTotals(ctx, input.WalletID, 0, signedCents); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update earnings total")
		}
	}

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventLedgerEntryCommitted,
		AggregateType: enums.AggregateLedgerEntry,
		AggregateID:   entry.ID,
		Version:       1,
		Data: payloads.LedgerEntryCommittedEvent{
			EntryID:     entry.ID,
			WalletID:    entry.WalletID,
			EntryType:   entry.EntryType,
			BalanceKind: entry.BalanceKind,
			AmountCents: entry.AmountCents,
		},
	}); err != nil {
		return nil, err
	}
	return &MovementResult{Entry: entry}, nil
}

// RecordSpendTx tracks customer spend for orders paid through the external
// payment provider; no wallet balance moves.
func (s *service) RecordSpendTx(ctx context.Context, tx *gorm.DB, walletID uuid.UUID, amountCents int64) error {
	if walletID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "wallet id required")
	}
	if amountCents == 0 {
		return nil
	}
	repo := s.repo.WithTx(tx)
	if err := repo.IncrementTotals(ctx, walletID, amountCents, 0); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update spend total")
	}
	return nil
}

func (s *service) ListEntries(ctx context.Context, walletID uuid.UUID, params pagination.Params, filters EntryFilters) (*EntryList, error) {
	if walletID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "wallet id required")
	}
	return s.repo.ListEntries(ctx, walletID, params, filters)
}

// RequestPayout reserves the amount immediately: the available balance drops
// and pending_withdrawal carries it until the provider settles or fails.
func (s *service) RequestPayout(ctx context.Context, input RequestPayoutInput) (*models.PayoutRequest, error) {
	if input.OwnerID == uuid.Nil || input.BankAccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id and bank account id required")
	}
	if input.AmountCents < s.minPayout {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount is below the minimum payout").
			WithDetails(map[string]any{"min_payout_cents": s.minPayout})
	}

	var payout *models.PayoutRequest
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		wallet, err := repo.FindWalletByOwner(ctx, input.OwnerID, input.OwnerType)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "wallet not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
		}

		account, err := repo.FindBankAccount(ctx, input.BankAccountID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "bank account not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load bank account")
		}
		if account.OwnerID != input.OwnerID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "bank account belongs to another owner")
		}

		fee := s.pricing.PayoutFeeCents(input.AmountCents)
		payout = &models.PayoutRequest{
			WalletID:      wallet.ID,
			BankAccountID: input.BankAccountID,
			Status:        enums.PayoutStatusPending,
			AmountCents:   input.AmountCents,
			FeeCents:      fee,
		}
		if _, err := repo.CreatePayoutRequest(ctx, payout); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payout request")
		}

		refType := enums.AggregatePayoutRequest
		if _, err := s.DebitTx(ctx, tx, MovementInput{
			WalletID:       wallet.ID,
			EntryType:      enums.LedgerEntryTypePayout,
			BalanceKind:    enums.BalanceKindAvailable,
			AmountCents:    input.AmountCents,
			IdempotencyKey: fmt.Sprintf("payout:%s:reserve", payout.ID),
			ReferenceType:  &refType,
			ReferenceID:    &payout.ID,
			Description:    "payout reservation",
		}); err != nil {
			return err
		}
		if moved, err := repo.AdjustPendingWithdrawal(ctx, wallet.ID, input.AmountCents); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve withdrawal")
		} else if !moved {
			return pkgerrors.New(pkgerrors.CodeDependency, "wallet disappeared during reservation")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutRequested,
			AggregateType: enums.AggregatePayoutRequest,
			AggregateID:   payout.ID,
			Version:       1,
			Data: payloads.PayoutRequestedEvent{
				PayoutRequestID: payout.ID,
				WalletID:        wallet.ID,
				BankAccountID:   input.BankAccountID,
				AmountCents:     input.AmountCents,
				FeeCents:        fee,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return payout, nil
}

func (s *service) CompletePayout(ctx context.Context, payoutID uuid.UUID) error {
	if payoutID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "payout id required")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payout, err := s.loadPayout(ctx, repo, payoutID)
		if err != nil {
			return err
		}
		if payout.Status == enums.PayoutStatusCompleted {
			// Webhook replay.
			return nil
		}

		now := time.Now()
		moved, err := repo.UpdatePayoutStatusIf(ctx, payout.ID,
			[]enums.PayoutStatus{enums.PayoutStatusPending, enums.PayoutStatusProcessing},
			enums.PayoutStatusCompleted,
			map[string]any{"processed_at": now},
		)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete payout")
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "payout is not open")
		}

		if released, err := repo.AdjustPendingWithdrawal(ctx, payout.WalletID, -payout.AmountCents); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release withdrawal")
		} else if !released {
			return pkgerrors.New(pkgerrors.CodeDependency, "pending withdrawal underflow")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutCompleted,
			AggregateType: enums.AggregatePayoutRequest,
			AggregateID:   payout.ID,
			Version:       1,
			Data: payloads.PayoutCompletedEvent{
				PayoutRequestID: payout.ID,
				WalletID:        payout.WalletID,
				AmountCents:     payout.AmountCents,
				ProcessedAt:     now,
			},
		})
	})
}

// FailPayout reverses the reservation: a compensating credit puts the funds
// back, the original reservation entry is never mutated.
func (s *service) FailPayout(ctx context.Context, payoutID uuid.UUID, reason string) error {
	if payoutID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "payout id required")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payout, err := s.loadPayout(ctx, repo, payoutID)
		if err != nil {
			return err
		}
		if payout.Status == enums.PayoutStatusFailed {
			return nil
		}

		now := time.Now()
		moved, err := repo.UpdatePayoutStatusIf(ctx, payout.ID,
			[]enums.PayoutStatus{enums.PayoutStatusPending, enums.PayoutStatusProcessing},
			enums.PayoutStatusFailed,
			map[string]any{"failure_reason": reason, "processed_at": now},
		)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail payout")
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "payout is not open")
		}

		refType := enums.AggregatePayoutRequest
		if _, err := s.CreditTx(ctx, tx, MovementInput{
			WalletID:       payout.WalletID,
			EntryType:      enums.LedgerEntryTypeRefund,
			BalanceKind:    enums.BalanceKindAvailable,
			AmountCents:    payout.AmountCents,
			IdempotencyKey: fmt.Sprintf("payout:%s:reversal", payout.ID),
			ReferenceType:  &refType,
			ReferenceID:    &payout.ID,
			Description:    "payout reversal",
		}); err != nil {
			return err
		}
		if released, err := repo.AdjustPendingWithdrawal(ctx, payout.WalletID, -payout.AmountCents); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release withdrawal")
		} else if !released {
			return pkgerrors.New(pkgerrors.CodeDependency, "pending withdrawal underflow")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutFailed,
			AggregateType: enums.AggregatePayoutRequest,
			AggregateID:   payout.ID,
			Version:       1,
			Data: payloads.PayoutFailedEvent{
				PayoutRequestID: payout.ID,
				WalletID:        payout.WalletID,
				AmountCents:     payout.AmountCents,
				FeeCents:        payout.FeeCents,
				Reason:          reason,
			},
		})
	})
}

// Reconcile rebuilds the cached columns from the completed ledger and open
// payouts, recording any drift it repaired.
func (s *service) Reconcile(ctx context.Context, walletID uuid.UUID) (*ReconcileReport, error) {
	if walletID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "wallet id required")
	}

	var report *ReconcileReport
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		wallet, err := repo.FindWallet(ctx, walletID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "wallet not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
		}

		sums, err := repo.SumCompletedEntries(ctx, walletID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum ledger")
		}
		openPayouts, err := repo.SumOpenPayouts(ctx, walletID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum open payouts")
		}

		now := time.Now()
		report = &ReconcileReport{
			WalletID:            walletID,
			AvailableDriftCents: wallet.AvailableCents - sums[enums.BalanceKindAvailable],
			BonusDriftCents:     wallet.BonusCents - sums[enums.BalanceKindBonus],
			CarbonDriftCents:    wallet.CarbonCreditCents - sums[enums.BalanceKindCarbon],
			PendingDriftCents:   wallet.PendingWithdrawalCents - openPayouts,
			ReconciledAt:        now,
		}
		report.Drifted = report.AvailableDriftCents != 0 ||
			report.BonusDriftCents != 0 ||
			report.CarbonDriftCents != 0 ||
			report.PendingDriftCents != 0

		updates := map[string]any{"reconciled_at": now}
		if report.Drifted {
			updates["available_cents"] = sums[enums.BalanceKindAvailable]
			updates["bonus_cents"] = sums[enums.BalanceKindBonus]
			updates["carbon_credit_cents"] = sums[enums.BalanceKindCarbon]
			updates["pending_withdrawal_cents"] = openPayouts
		}
		if err := repo.UpdateWallet(ctx, walletID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store reconciliation")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (s *service) AddBankAccount(ctx context.Context, input AddBankAccountInput) (*models.BankAccount, error) {
	if input.OwnerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id required")
	}
	if !input.OwnerType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid owner type")
	}

	account := &models.BankAccount{
		OwnerID:       input.OwnerID,
		OwnerType:     input.OwnerType,
		HolderName:    input.HolderName,
		BankName:      input.BankName,
		AccountNumber: input.AccountNumber,
		RoutingNumber: input.RoutingNumber,
	}
	created, err := s.repo.CreateBankAccount(ctx, account)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create bank account")
	}
	return created, nil
}

func (s *service) ListBankAccounts(ctx context.Context, ownerID uuid.UUID, ownerType enums.OwnerType) ([]BankAccountView, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id required")
	}
	rows, err := s.repo.ListBankAccounts(ctx, ownerID, ownerType)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list bank accounts")
	}

	views := make([]BankAccountView, 0, len(rows))
	for i := range rows {
		views = append(views, bankAccountView(&rows[i]))
	}
	return views, nil
}

func (s *service) RemoveBankAccount(ctx context.Context, ownerID, accountID uuid.UUID) error {
	if ownerID == uuid.Nil || accountID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "owner id and account id required")
	}
	deleted, err := s.repo.DeleteBankAccount(ctx, accountID, ownerID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete bank account")
	}
	if !deleted {
		return pkgerrors.New(pkgerrors.CodeNotFound, "bank account not found")
	}
	return nil
}

func bankAccountView(account *models.BankAccount) BankAccountView {
	return BankAccountView{
		ID:            account.ID,
		HolderName:    account.HolderName,
		BankName:      account.BankName,
		AccountNumber: maskAccountNumber(account.AccountNumber),
		RoutingNumber: account.RoutingNumber,
		Verified:      account.Verified,
		CreatedAt:     account.CreatedAt,
	}
}

func maskAccountNumber(value string) string {
	if len(value) <= 4 {
		return value
	}
	return "****" + value[len(value)-4:]
}

func (s *service) loadPayout(ctx context.Context, repo Repository, payoutID uuid.UUID) (*models.PayoutRequest, error) {
	payout, err := repo.FindPayoutRequest(ctx, payoutID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout request not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout request")
	}
	return payout, nil
}
