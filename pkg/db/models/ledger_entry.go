package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/greenmile-app/greenmile-backend/pkg/enums"
)

// LedgerEntry is an immutable money movement on a wallet. Positive amounts
// credit, negative amounts debit. The idempotency key makes replays return the
// original entry instead of moving money twice.
type LedgerEntry struct {
	ID             uuid.UUID                  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	WalletID       uuid.UUID                  `gorm:"column:wallet_id;type:uuid;not null;index"`
	EntryType      enums.LedgerEntryType      `gorm:"column:entry_type;type:ledger_entry_type;not null"`
	Status         enums.LedgerEntryStatus    `gorm:"column:status;type:ledger_entry_status;not null;default:'completed'"`
	BalanceKind    enums.BalanceKind          `gorm:"column:balance_kind;type:balance_kind;not null;default:'available'"`
	AmountCents    int64                      `gorm:"column:amount_cents;not null"`
	IdempotencyKey string                     `gorm:"column:idempotency_key;not null;uniqueIndex:uq_ledger_entries_idempotency_key"`
	ReferenceType  *enums.OutboxAggregateType `gorm:"column:reference_type;type:aggregate_type_enum"`
	ReferenceID    *uuid.UUID                 `gorm:"column:reference_id;type:uuid"`
	Description    string                     `gorm:"column:description;not null"`
	Metadata       json.RawMessage            `gorm:"column:metadata;type:jsonb"`
	CreatedAt      time.Time                  `gorm:"column:created_at;autoCreateTime"`
}
