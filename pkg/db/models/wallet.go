package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/greenmile-app/greenmile-backend/pkg/enums"
)

// Wallet holds cached balances per owner. The ledger is the source of truth;
// the cached columns are recomputed by reconciliation.
type Wallet struct {
	ID                     uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OwnerID                uuid.UUID       `gorm:"column:owner_id;type:uuid;not null;uniqueIndex:uq_wallets_owner"`
	OwnerType              enums.OwnerType `gorm:"column:owner_type;type:owner_type;not null;uniqueIndex:uq_wallets_owner"`
	AvailableCents         int64           `gorm:"column:available_cents;not null;default:0"`
	BonusCents             int64           `gorm:"column:bonus_cents;not null;default:0"`
	CarbonCreditCents      int64           `gorm:"column:carbon_credit_cents;not null;default:0"`
	PendingWithdrawalCents int64           `gorm:"column:pending_withdrawal_cents;not null;default:0"`
	TotalSpentCents        int64           `gorm:"column:total_spent_cents;not null;default:0"`
	TotalEarnedCents       int64           `gorm:"column:total_earned_cents;not null;default:0"`
	ReconciledAt           *time.Time      `gorm:"column:reconciled_at"`
	CreatedAt              time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
