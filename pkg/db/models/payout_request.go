package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/greenmile-app/greenmile-backend/pkg/enums"
)

// PayoutRequest tracks a withdrawal from a wallet to a bank account. The
// requested amount is debited up front; a failure credits it back via a
// reversal entry.
type PayoutRequest struct {
	ID            uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	WalletID      uuid.UUID          `gorm:"column:wallet_id;type:uuid;not null;index"`
	BankAccountID uuid.UUID          `gorm:"column:bank_account_id;type:uuid;not null"`
	Status        enums.PayoutStatus `gorm:"column:status;type:payout_status;not null;default:'pending'"`
	AmountCents   int64              `gorm:"column:amount_cents;not null"`
	FeeCents      int64              `gorm:"column:fee_cents;not null"`
	FailureReason *string            `gorm:"column:failure_reason"`
	ProcessedAt   *time.Time         `gorm:"column:processed_at"`
	CreatedAt     time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
