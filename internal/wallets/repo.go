package wallets

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbpkg "github.com/greenmile-app/greenmile-backend/pkg/db"
	"github.com/greenmile-app/greenmile-backend/pkg/db/models"
	"github.com/greenmile-app/greenmile-backend/pkg/enums"
	"github.com/greenmile-app/greenmile-backend/pkg/pagination"
)

// Repository persists wallets, ledger entries and payout requests. Balance
// adjustments are single guarded UPDATEs so a debit can never push a cached
// balance negative.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	GetOrCreateWallet(ctx context.Context, ownerID uuid.UUID, ownerType enums.OwnerType) (*models.Wallet, error)
	FindWallet(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error)
	FindWalletByOwner(ctx context.Context, ownerID uuid.UUID, ownerType enums.OwnerType) (*models.Wallet, error)
	// InsertEntry inserts the entry unless its idempotency key is already
	// taken; the bool reports whether a row was written.
	InsertEntry(ctx context.Context, entry *models.LedgerEntry) (bool, error)
	FindEntryByKey(ctx context.Context, idempotencyKey string) (*models.LedgerEntry, error)
	AdjustBalance(ctx context.Context, walletID uuid.UUID, kind enums.BalanceKind, deltaCents int64) (bool, error)
	AdjustPendingWithdrawal(ctx context.Context, walletID uuid.UUID, deltaCents int64) (bool, error)
	IncrementTotals(ctx context.Context, walletID uuid.UUID, spentDeltaCents, earnedDeltaCents int64) error
	ListEntries(ctx context.Context, walletID uuid.UUID, params pagination.Params, filters EntryFilters) (*EntryList, error)
	SumCompletedEntries(ctx context.Context, walletID uuid.UUID) (map[enums.BalanceKind]int64, error)
	SumOpenPayouts(ctx context.Context, walletID uuid.UUID) (int64, error)
	UpdateWallet(ctx context.Context, walletID uuid.UUID, updates map[string]any) error
	CreatePayoutRequest(ctx context.Context, payout *models.PayoutRequest) (*models.PayoutRequest, error)
	FindPayoutRequest(ctx context.Context, payoutID uuid.UUID) (*models.PayoutRequest, error)
	UpdatePayoutStatusIf(ctx context.Context, payoutID uuid.UUID, from []enums.PayoutStatus, to enums.PayoutStatus, updates map[string]any) (bool, error)
	ListStaleUnreconciled(ctx context.Context, limit int) ([]models.Wallet, error)
	CreateBankAccount(ctx context.Context, account *models.BankAccount) (*models.BankAccount, error)
	FindBankAccount(ctx context.Context, accountID uuid.UUID) (*models.BankAccount, error)
	ListBankAccounts(ctx context.Context, ownerID uuid.UUID, ownerType enums.OwnerType) ([]models.BankAccount, error)
	DeleteBankAccount(ctx context.Context, accountID, ownerID uuid.UUID) (bool, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) GetOrCreateWallet(ctx context.Context, ownerID uuid.UUID, ownerType enums.OwnerType) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND owner_type = ?", ownerID, ownerType).
		First(&wallet).Error
	if err == nil {
		return &wallet, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	wallet = models.Wallet{ID: uuid.New(), OwnerID: ownerID, OwnerType: ownerType}
	if err := r.db.WithContext(ctx).Create(&wallet).Error; err != nil {
		// Lost a concurrent create for the same owner.
		if dbpkg.IsUniqueViolation(err, "uq_wallets_owner") || dbpkg.IsUniqueViolation(err, "owner_id") {
			return r.FindWalletByOwner(ctx, ownerID, ownerType)
		}
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) FindWallet(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.WithContext(ctx).
		Where("id = ?", walletID).
		First(&wallet).Error
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) FindWalletByOwner(ctx context.Context, ownerID uuid.UUID, ownerType enums.OwnerType) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND owner_type = ?", ownerID, ownerType).
		First(&wallet).Error
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) InsertEntry(ctx context.Context, entry *models.LedgerEntry) (bool, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	// DO NOTHING keeps the surrounding transaction usable on a replay;
	// recovering from a raised unique violation would need a savepoint on
	// Postgres.
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(entry)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) FindEntryByKey(ctx context.Context, idempotencyKey string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", idempotencyKey).
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func balanceColumn(kind enums.BalanceKind) (string, error) {
	switch kind {
	case enums.BalanceKindAvailable:
		return "available_cents", nil
	case enums.BalanceKindBonus:
		return "bonus_cents", nil
	case enums.BalanceKindCarbon:
		return "carbon_credit_cents", nil
	default:
		return "", fmt.Errorf("unknown balance kind %q", kind)
	}
}

// AdjustBalance applies the delta only when the resulting balance stays
// non-negative. A false return on a debit means insufficient funds.
func (r *repository) AdjustBalance(ctx context.Context, walletID uuid.UUID, kind enums.BalanceKind, deltaCents int64) (bool, error) {
	column, err := balanceColumn(kind)
	if err != nil {
		return false, err
	}
	result := r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("id = ?", walletID).
		Where(column+" + ? >= 0", deltaCents).
		Update(column, gorm.Expr(column+" + ?", deltaCents))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) AdjustPendingWithdrawal(ctx context.Context, walletID uuid.UUID, deltaCents int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("id = ?", walletID).
		Where("pending_withdrawal_cents + ? >= 0", deltaCents).
		Update("pending_withdrawal_cents", gorm.Expr("pending_withdrawal_cents + ?", deltaCents))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) IncrementTotals(ctx context.Context, walletID uuid.UUID, spentDeltaCents, earnedDeltaCents int64) error {
	updates := map[string]any{}
	if spentDeltaCents != 0 {
		updates["total_spent_cents"] = gorm.Expr("total_spent_cents + ?", spentDeltaCents)
	}
	if earnedDeltaCents != 0 {
		updates["total_earned_cents"] = gorm.Expr("total_earned_cents + ?", earnedDeltaCents)
	}
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("id = ?", walletID).
		Updates(updates).Error
}

func (r *repository) ListEntries(ctx context.Context, walletID uuid.UUID, params pagination.Params, filters EntryFilters) (*EntryList, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}

	query := r.db.WithContext(ctx).
		Where("wallet_id = ?", walletID)
	if filters.EntryType != nil {
		query = query.Where("entry_type = ?", *filters.EntryType)
	}
	if filters.BalanceKind != nil {
		query = query.Where("balance_kind = ?", *filters.BalanceKind)
	}
	if filters.DateFrom != nil {
		query = query.Where("created_at >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("created_at <= ?", *filters.DateTo)
	}
	if cursor != nil {
		query = query.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var rows []models.LedgerEntry
	err = query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit + 1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	next := ""
	if len(rows) > limit {
		last := rows[limit-1]
		next = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		rows = rows[:limit]
	}
	return &EntryList{Entries: rows, NextCursor: next}, nil
}

func (r *repository) SumCompletedEntries(ctx context.Context, walletID uuid.UUID) (map[enums.BalanceKind]int64, error) {
	type row struct {
		BalanceKind enums.BalanceKind
		Total       int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Select("balance_kind, COALESCE(SUM(amount_cents), 0) AS total").
		Where("wallet_id = ? AND status = ?", walletID, enums.LedgerEntryStatusCompleted).
		Group("balance_kind").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	sums := map[enums.BalanceKind]int64{}
	for _, item := range rows {
		sums[item.BalanceKind] = item.Total
	}
	return sums, nil
}

func (r *repository) SumOpenPayouts(ctx context.Context, walletID uuid.UUID) (int64, error) {
	var total *int64
	err := r.db.WithContext(ctx).
		Model(&models.PayoutRequest{}).
		Select("SUM(amount_cents)").
		Where("wallet_id = ? AND status IN ?", walletID, []enums.PayoutStatus{
			enums.PayoutStatusPending,
			enums.PayoutStatusProcessing,
		}).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

func (r *repository) UpdateWallet(ctx context.Context, walletID uuid.UUID, updates map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("id = ?", walletID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) CreatePayoutRequest(ctx context.Context, payout *models.PayoutRequest) (*models.PayoutRequest, error) {
	if payout.ID == uuid.Nil {
		payout.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(payout).Error; err != nil {
		return nil, err
	}
	return payout, nil
}

func (r *repository) FindPayoutRequest(ctx context.Context, payoutID uuid.UUID) (*models.PayoutRequest, error) {
	var payout models.PayoutRequest
	err := r.db.WithContext(ctx).
		Where("id = ?", payoutID).
		First(&payout).Error
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

func (r *repository) UpdatePayoutStatusIf(ctx context.Context, payoutID uuid.UUID, from []enums.PayoutStatus, to enums.PayoutStatus, updates map[string]any) (bool, error) {
	values := map[string]any{"status": to}
	for column, value := range updates {
		values[column] = value
	}
	result := r.db.WithContext(ctx).
		Model(&models.PayoutRequest{}).
		Where("id = ? AND status IN ?", payoutID, from).
		Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) ListStaleUnreconciled(ctx context.Context, limit int) ([]models.Wallet, error) {
	var rows []models.Wallet
	err := r.db.WithContext(ctx).
		Order("reconciled_at ASC NULLS FIRST").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) CreateBankAccount(ctx context.Context, account *models.BankAccount) (*models.BankAccount, error) {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(account).Error; err != nil {
		return nil, err
	}
	return account, nil
}

func (r *repository) FindBankAccount(ctx context.Context, accountID uuid.UUID) (*models.BankAccount, error) {
	var account models.BankAccount
	err := r.db.WithContext(ctx).
		Where("id = ?", accountID).
		First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) ListBankAccounts(ctx context.Context, ownerID uuid.UUID, ownerType enums.OwnerType) ([]models.BankAccount, error) {
	var rows []models.BankAccount
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND owner_type = ?", ownerID, ownerType).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) DeleteBankAccount(ctx context.Context, accountID, ownerID uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", accountID, ownerID).
		Delete(&models.BankAccount{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
