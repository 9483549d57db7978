package wallets

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/greenmile-app/greenmile-backend/pkg/config"
	"github.com/greenmile-app/greenmile-backend/pkg/enums"
	pkgerrors "github.com/greenmile-app/greenmile-backend/pkg/errors"
	"github.com/greenmile-app/greenmile-backend/pkg/outbox"
	"github.com/greenmile-app/greenmile-backend/pkg/pricing"
)

func setupWalletsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:wallets_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	wallets := `
CREATE TABLE IF NOT EXISTS wallets (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  owner_type TEXT NOT NULL,
  available_cents INTEGER NOT NULL DEFAULT 0,
  bonus_cents INTEGER NOT NULL DEFAULT 0,
  carbon_credit_cents INTEGER NOT NULL DEFAULT 0,
  pending_withdrawal_cents INTEGER NOT NULL DEFAULT 0,
  total_spent_cents INTEGER NOT NULL DEFAULT 0,
  total_earned_cents INTEGER NOT NULL DEFAULT 0,
  reconciled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (owner_id, owner_type)
);`
	entries := `
CREATE TABLE IF NOT EXISTS ledger_entries (
  id TEXT PRIMARY KEY,
  wallet_id TEXT NOT NULL,
  entry_type TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'completed',
  balance_kind TEXT NOT NULL DEFAULT 'available',
  amount_cents INTEGER NOT NULL,
  idempotency_key TEXT NOT NULL UNIQUE,
  reference_type TEXT,
  reference_id TEXT,
  description TEXT NOT NULL,
  metadata TEXT,
  created_at DATETIME
);`
	payouts := `
CREATE TABLE IF NOT EXISTS payout_requests (
  id TEXT PRIMARY KEY,
  wallet_id TEXT NOT NULL,
  bank_account_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  amount_cents INTEGER NOT NULL,
  fee_cents INTEGER NOT NULL,
  failure_reason TEXT,
  processed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	banks := `
CREATE TABLE IF NOT EXISTS bank_accounts (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  owner_type TEXT NOT NULL,
  holder_name TEXT NOT NULL,
  bank_name TEXT NOT NULL,
  account_number TEXT NOT NULL,
  routing_number TEXT NOT NULL,
  verified INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(wallets).Error)
	require.NoError(t, db.Exec(entries).Error)
	require.NoError(t, db.Exec(payouts).Error)
	require.NoError(t, db.Exec(banks).Error)
	return db
}

type dbTxRunner struct {
	db *gorm.DB
}

func (r dbTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type recordingOutbox struct {
	events []outbox.DomainEvent
}

func (r *recordingOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	r.events = append(r.events, event)
	return nil
}

func newTestService(t *testing.T, db *gorm.DB, ob *recordingOutbox) Service {
	t.Helper()
	calc, err := pricing.NewCalculator(
		config.PlatformConfig{CommissionPercent: "10", PayoutFeePercent: "1.5", MinPayoutCents: 50000},
		config.DispatchConfig{BaseFeeCents: 500, PerKmFeeCents: 200, EcoBonusPerKm: 100, MaxFeeCents: 5000},
	)
	require.NoError(t, err)
	svc, err := NewService(NewRepository(db), dbTxRunner{db: db}, ob, calc, 50000)
	require.NoError(t, err)
	return svc
}

func seedWallet(t *testing.T, db *gorm.DB, available int64) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, db.Exec(
		`INSERT INTO wallets (id, owner_id, owner_type, available_cents, created_at, updated_at) VALUES (?, ?, 'rider', ?, ?, ?)`,
		id, uuid.New(), available, time.Now(), time.Now(),
	).Error)
	return id
}

func seedBankAccount(t *testing.T, svc Service, ownerID uuid.UUID, ownerType enums.OwnerType) uuid.UUID {
	t.Helper()
	account, err := svc.AddBankAccount(context.Background(), AddBankAccountInput{
		OwnerID:       ownerID,
		OwnerType:     ownerType,
		HolderName:    "Sam Fern",
		BankName:      "Evergreen Credit Union",
		AccountNumber: "000123456789",
		RoutingNumber: "211370545",
	})
	require.NoError(t, err)
	return account.ID
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	db := setupWalletsTestDB(t)
	svc := newTestService(t, db, &recordingOutbox{})
	ctx := context.Background()

	ownerID := uuid.New()
	first, err := svc.GetOrCreate(ctx, ownerID, enums.OwnerTypeVendor)
	require.NoError(t, err)
	second, err := svc.GetOrCreate(ctx, ownerID, enums.OwnerTypeVendor)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Zero(t, first.AvailableCents)
}

func TestCreditMovesBalanceAndTracksEarnings(t *testing.T) {
	db := setupWalletsTestDB(t)
	ob := &recordingOutbox{}
	svc := newTestService(t, db, ob)
	ctx := context.Background()

	walletID := seedWallet(t, db, 0)
	result, err := svc.Credit(ctx, MovementInput{
		WalletID:       walletID,
		EntryType:      enums.LedgerEntryTypeSale,
		BalanceKind:    enums.BalanceKindAvailable,
		AmountCents:    9900,
		IdempotencyKey: "order:abc:vendor_sale",
		Description:    "vendor sale",
	})
	require.NoError(t, err)
	assert.False(t, result.Replayed)
	assert.Equal(t, int64(9900), result.Entry.AmountCents)

	wallet, err := svc.Get(ctx, walletID)
	require.NoError(t, err)
	assert.Equal(t, int64(9900), wallet.AvailableCents)
	assert.Equal(t, int64(9900), wallet.TotalEarnedCents)
	require.Len(t, ob.events, 1)
	assert.Equal(t, enums.EventLedgerEntryCommitted, ob.events[0].EventType)
}

func TestCreditReplayReturnsOriginalEntry(t *testing.T) {
	db := setupWalletsTestDB(t)
	svc := newTestService(t, db, &recordingOutbox{})
	ctx := context.Background()

	walletID := seedWallet(t, db, 0)
	input := MovementInput{
		WalletID:       walletID,
		EntryType:      enums.LedgerEntryTypeSale,
		AmountCents:    1800,
		IdempotencyKey: "delivery:xyz:rider_credit",
		Description:    "delivery earnings",
	}
	first, err := svc.Credit(ctx, input)
	require.NoError(t, err)
	second, err := svc.Credit(ctx, input)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)

	// The balance moved exactly once.
	wallet, err := svc.Get(ctx, walletID)
	require.NoError(t, err)
	assert.Equal(t, int64(1800), wallet.AvailableCents)
	assert.Equal(t, int64(1800), wallet.TotalEarnedCents)
}

func TestReplayInsideTransactionKeepsItUsable(t *testing.T) {
	db := setupWalletsTestDB(t)
	svc := newTestService(t, db, &recordingOutbox{})
	ctx := context.Background()

	walletID := seedWallet(t, db, 0)
	replayInput := MovementInput{
		WalletID:       walletID,
		EntryType:      enums.LedgerEntryTypeSale,
		AmountCents:    2500,
		IdempotencyKey: "order:abc:vendor_sale",
		Description:    "order sale proceeds",
	}
	_, err := svc.Credit(ctx, replayInput)
	require.NoError(t, err)

	// The replayed insert must not poison the surrounding transaction:
	// Postgres aborts a transaction outright on a raised unique violation,
	// so the duplicate has to be detected without raising one. A fresh
	// movement after the replay proves the transaction is still live.
	err = dbTxRunner{db: db}.WithTx(ctx, func(tx *gorm.DB) error {
		replayed, err := svc.CreditTx(ctx, tx, replayInput)
		if err != nil {
			return err
		}
		if !replayed.Replayed {
			t.Fatal("expected the duplicate key to report a replay")
		}
		_, err = svc.CreditTx(ctx, tx, MovementInput{
			WalletID:       walletID,
			EntryType:      enums.LedgerEntryTypeFee,
			AmountCents:    300,
			IdempotencyKey: "order:abc:platform_fee",
			Description:    "platform commission",
		})
		return err
	})
	require.NoError(t, err)

	wallet, err := svc.Get(ctx, walletID)
	require.NoError(t, err)
	assert.Equal(t, int64(2800), wallet.AvailableCents)
}

func TestDebitInsufficientFundsLeavesWalletUntouched(t *testing.T) {
	db := setupWalletsTestDB(t)
	svc := newTestService(t, db, &recordingOutbox{})
	ctx := context.Background()

	walletID := seedWallet(t, db, 1000)
	_, err := svc.Debit(ctx, MovementInput{
		WalletID:       walletID,
		EntryType:      enums.LedgerEntryTypePayout,
		AmountCents:    5000,
		IdempotencyKey: "payout:overdraw:reserve",
		Description:    "overdraw attempt",
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeInsufficientFunds, typed.Code())

	wallet, err := svc.Get(ctx, walletID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), wallet.AvailableCents)

	// The rejected entry rolled back with the transaction.
	var count int64
	require.NoError(t, db.Table("ledger_entries").Where("wallet_id = ?", walletID).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCarbonCreditTargetsCarbonBalance(t *testing.T) {
	db := setupWalletsTestDB(t)
	svc := newTestService(t, db, &recordingOutbox{})
	ctx := context.Background()

	walletID := seedWallet(t, db, 0)
	_, err := svc.Credit(ctx, MovementInput{
		WalletID:       walletID,
		EntryType:      enums.LedgerEntryTypeBonus,
		BalanceKind:    enums.BalanceKindCarbon,
		AmountCents:    240,
		IdempotencyKey: "order:abc:carbon_credit",
		Description:    "carbon credits",
	})
	require.NoError(t, err)

	wallet, err := svc.Get(ctx, walletID)
	require.NoError(t, err)
	assert.Equal(t, int64(240), wallet.CarbonCreditCents)
	assert.Zero(t, wallet.AvailableCents)
	// Carbon credits are not cash earnings.
	assert.Zero(t, wallet.TotalEarnedCents)
}

func TestRequestPayoutReservesFunds(t *testing.T) {
	db := setupWalletsTestDB(t)
	ob := &recordingOutbox{}
	svc := newTestService(t, db, ob)
	ctx := context.Background()

	ownerID := uuid.New()
	wallet, err := svc.GetOrCreate(ctx, ownerID, enums.OwnerTypeRider)
	require.NoError(t, err)
	_, err = svc.Credit(ctx, MovementInput{
		WalletID:       wallet.ID,
		EntryType:      enums.LedgerEntryTypeSale,
		AmountCents:    80000,
		IdempotencyKey: "seed:earnings",
		Description:    "earnings",
	})
	require.NoError(t, err)

	payout, err := svc.RequestPayout(ctx, RequestPayoutInput{
		OwnerID:       ownerID,
		OwnerType:     enums.OwnerTypeRider,
		BankAccountID: seedBankAccount(t, svc, ownerID, enums.OwnerTypeRider),
		AmountCents:   60000,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutStatusPending, payout.Status)
	// 1.5% of 60000.
	assert.Equal(t, int64(900), payout.FeeCents)

	reloaded, err := svc.Get(ctx, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20000), reloaded.AvailableCents)
	assert.Equal(t, int64(60000), reloaded.PendingWithdrawalCents)
}

func TestRequestPayoutBelowMinimumRejected(t *testing.T) {
	db := setupWalletsTestDB(t)
	svc := newTestService(t, db, &recordingOutbox{})
	ctx := context.Background()

	ownerID := uuid.New()
	_, err := svc.GetOrCreate(ctx, ownerID, enums.OwnerTypeRider)
	require.NoError(t, err)

	_, err = svc.RequestPayout(ctx, RequestPayoutInput{
		OwnerID:       ownerID,
		OwnerType:     enums.OwnerTypeRider,
		BankAccountID: seedBankAccount(t, svc, ownerID, enums.OwnerTypeRider),
		AmountCents:   10000,
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
}

func TestRequestPayoutOverBalanceRejected(t *testing.T) {
	db := setupWalletsTestDB(t)
	svc := newTestService(t, db, &recordingOutbox{})
	ctx := context.Background()

	ownerID := uuid.New()
	wallet, err := svc.GetOrCreate(ctx, ownerID, enums.OwnerTypeRider)
	require.NoError(t, err)
	_, err = svc.Credit(ctx, MovementInput{
		WalletID:       wallet.ID,
		EntryType:      enums.LedgerEntryTypeSale,
		AmountCents:    50000,
		IdempotencyKey: "seed:earnings",
		Description:    "earnings",
	})
	require.NoError(t, err)

	_, err = svc.RequestPayout(ctx, RequestPayoutInput{
		OwnerID:       ownerID,
		OwnerType:     enums.OwnerTypeRider,
		BankAccountID: seedBankAccount(t, svc, ownerID, enums.OwnerTypeRider),
		AmountCents:   60000,
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeInsufficientFunds, typed.Code())

	// The whole reservation rolled back.
	reloaded, err := svc.Get(ctx, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), reloaded.AvailableCents)
	assert.Zero(t, reloaded.PendingWithdrawalCents)
	var count int64
	require.NoError(t, db.Table("payout_requests").Count(&count).Error)
	assert.Zero(t, count)
}

func TestFailPayoutReversesReservation(t *testing.T) {
	db := setupWalletsTestDB(t)
	svc := newTestService(t, db, &recordingOutbox{})
	ctx := context.Background()

	ownerID := uuid.New()
	wallet, err := svc.GetOrCreate(ctx, ownerID, enums.OwnerTypeRider)
	require.NoError(t, err)
	_, err = svc.Credit(ctx, MovementInput{
		WalletID:       wallet.ID,
		EntryType:      enums.LedgerEntryTypeSale,
		AmountCents:    80000,
		IdempotencyKey: "seed:earnings",
		Description:    "earnings",
	})
	require.NoError(t, err)

	payout, err := svc.RequestPayout(ctx, RequestPayoutInput{
		OwnerID:       ownerID,
		OwnerType:     enums.OwnerTypeRider,
		BankAccountID: seedBankAccount(t, svc, ownerID, enums.OwnerTypeRider),
		AmountCents:   60000,
	})
	require.NoError(t, err)

	require.NoError(t, svc.FailPayout(ctx, payout.ID, "bank rejected"))

	reloaded, err := svc.Get(ctx, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(80000), reloaded.AvailableCents)
	assert.Zero(t, reloaded.PendingWithdrawalCents)

	// Reversal is a compensating entry, not a mutation.
	var count int64
	require.NoError(t, db.Table("ledger_entries").Where("wallet_id = ?", wallet.ID).Count(&count).Error)
	assert.Equal(t, int64(3), count)

	// A duplicate failure webhook is a no-op.
	require.NoError(t, svc.FailPayout(ctx, payout.ID, "bank rejected"))
	reloaded, err = svc.Get(ctx, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(80000), reloaded.AvailableCents)
}

func TestCompletePayoutReleasesReservation(t *testing.T) {
	db := setupWalletsTestDB(t)
	svc := newTestService(t, db, &recordingOutbox{})
	ctx := context.Background()

	ownerID := uuid.New()
	wallet, err := svc.GetOrCreate(ctx, ownerID, enums.OwnerTypeRider)
	require.NoError(t, err)
	_, err = svc.Credit(ctx, MovementInput{
		WalletID:       wallet.ID,
		EntryType:      enums.LedgerEntryTypeSale,
		AmountCents:    80000,
		IdempotencyKey: "seed:earnings",
		Description:    "earnings",
	})
	require.NoError(t, err)

	payout, err := svc.RequestPayout(ctx, RequestPayoutInput{
		OwnerID:       ownerID,
		OwnerType:     enums.OwnerTypeRider,
		BankAccountID: seedBankAccount(t, svc, ownerID, enums.OwnerTypeRider),
		AmountCents:   60000,
	})
	require.NoError(t, err)

	require.NoError(t, svc.CompletePayout(ctx, payout.ID))

	reloaded, err := svc.Get(ctx, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20000), reloaded.AvailableCents)
	assert.Zero(t, reloaded.PendingWithdrawalCents)

	// Replay of the provider webhook.
	require.NoError(t, svc.CompletePayout(ctx, payout.ID))
	reloaded, err = svc.Get(ctx, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20000), reloaded.AvailableCents)
}

func TestReconcileRepairsDrift(t *testing.T) {
	db := setupWalletsTestDB(t)
	svc := newTestService(t, db, &recordingOutbox{})
	ctx := context.Background()

	walletID := seedWallet(t, db, 0)
	_, err := svc.Credit(ctx, MovementInput{
		WalletID:       walletID,
		EntryType:      enums.LedgerEntryTypeSale,
		AmountCents:    5000,
		IdempotencyKey: "seed:sale",
		Description:    "sale",
	})
	require.NoError(t, err)

	// Corrupt the cached column behind the ledger's back.
	require.NoError(t, db.Exec(`UPDATE wallets SET available_cents = 9999 WHERE id = ?`, walletID).Error)

	report, err := svc.Reconcile(ctx, walletID)
	require.NoError(t, err)
	assert.True(t, report.Drifted)
	assert.Equal(t, int64(4999), report.AvailableDriftCents)

	wallet, err := svc.Get(ctx, walletID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), wallet.AvailableCents)
	assert.NotNil(t, wallet.ReconciledAt)

	clean, err := svc.Reconcile(ctx, walletID)
	require.NoError(t, err)
	assert.False(t, clean.Drifted)
}

func TestBankAccountLifecycle(t *testing.T) {
	db := setupWalletsTestDB(t)
	svc := newTestService(t, db, &recordingOutbox{})
	ctx := context.Background()

	ownerID := uuid.New()
	accountID := seedBankAccount(t, svc, ownerID, enums.OwnerTypeRider)

	views, err := svc.ListBankAccounts(ctx, ownerID, enums.OwnerTypeRider)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, accountID, views[0].ID)
	// Only the last four digits survive serialization.
	assert.Equal(t, "****6789", views[0].AccountNumber)

	require.NoError(t, svc.RemoveBankAccount(ctx, ownerID, accountID))

	views, err = svc.ListBankAccounts(ctx, ownerID, enums.OwnerTypeRider)
	require.NoError(t, err)
	assert.Empty(t, views)
}

func TestRemoveBankAccountChecksOwnership(t *testing.T) {
	db := setupWalletsTestDB(t)
	svc := newTestService(t, db, &recordingOutbox{})
	ctx := context.Background()

	ownerID := uuid.New()
	accountID := seedBankAccount(t, svc, ownerID, enums.OwnerTypeRider)

	err := svc.RemoveBankAccount(ctx, uuid.New(), accountID)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}

func TestRequestPayoutRejectsForeignBankAccount(t *testing.T) {
	db := setupWalletsTestDB(t)
	svc := newTestService(t, db, &recordingOutbox{})
	ctx := context.Background()

	ownerID := uuid.New()
	wallet, err := svc.GetOrCreate(ctx, ownerID, enums.OwnerTypeRider)
	require.NoError(t, err)
	_, err = svc.Credit(ctx, MovementInput{
		WalletID:       wallet.ID,
		EntryType:      enums.LedgerEntryTypeSale,
		AmountCents:    80000,
		IdempotencyKey: "seed:earnings",
		Description:    "earnings",
	})
	require.NoError(t, err)

	foreignAccount := seedBankAccount(t, svc, uuid.New(), enums.OwnerTypeRider)
	_, err = svc.RequestPayout(ctx, RequestPayoutInput{
		OwnerID:       ownerID,
		OwnerType:     enums.OwnerTypeRider,
		BankAccountID: foreignAccount,
		AmountCents:   60000,
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeForbidden, typed.Code())
}
