package wallets

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/greenmile-app/greenmile-backend/pkg/db/models"
	"github.com/greenmile-app/greenmile-backend/pkg/enums"
)

// MovementInput describes a single signed money movement against a wallet.
// Amount is always positive; Credit and Debit decide the sign.
type MovementInput struct {
	WalletID       uuid.UUID
	EntryType      enums.LedgerEntryType
	BalanceKind    enums.BalanceKind
	AmountCents    int64
	IdempotencyKey string
	ReferenceType  *enums.OutboxAggregateType
	ReferenceID    *uuid.UUID
	Description    string
	Metadata       json.RawMessage
}

// MovementResult reports the committed entry plus whether it was a replay of
// an earlier movement with the same idempotency key.
type MovementResult struct {
	Entry    *models.LedgerEntry
	Replayed bool
}

// RequestPayoutInput starts a withdrawal.
type RequestPayoutInput struct {
	OwnerID       uuid.UUID       `json:"owner_id" validate:"required"`
	OwnerType     enums.OwnerType `json:"owner_type" validate:"required"`
	BankAccountID uuid.UUID       `json:"bank_account_id" validate:"required"`
	AmountCents   int64           `json:"amount_cents" validate:"required,gt=0"`
}

// AddBankAccountInput registers a payout destination for a wallet owner.
type AddBankAccountInput struct {
	OwnerID       uuid.UUID       `json:"owner_id" validate:"required"`
	OwnerType     enums.OwnerType `json:"owner_type" validate:"required"`
	HolderName    string          `json:"holder_name" validate:"required"`
	BankName      string          `json:"bank_name" validate:"required"`
	AccountNumber string          `json:"account_number" validate:"required"`
	RoutingNumber string          `json:"routing_number" validate:"required"`
}

// BankAccountView masks the account number for API responses.
type BankAccountView struct {
	ID            uuid.UUID `json:"id"`
	HolderName    string    `json:"holder_name"`
	BankName      string    `json:"bank_name"`
	AccountNumber string    `json:"account_number"`
	RoutingNumber string    `json:"routing_number"`
	Verified      bool      `json:"verified"`
	CreatedAt     time.Time `json:"created_at"`
}

// EntryFilters narrow the ledger history listing.
type EntryFilters struct {
	EntryType   *enums.LedgerEntryType
	BalanceKind *enums.BalanceKind
	DateFrom    *time.Time
	DateTo      *time.Time
}

// EntryList wraps a page of ledger history.
type EntryList struct {
	Entries    []models.LedgerEntry `json:"entries"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

// ReconcileReport compares cached wallet balances against sums recomputed
// from completed ledger entries.
type ReconcileReport struct {
	WalletID              uuid.UUID `json:"wallet_id"`
	Drifted               bool      `json:"drifted"`
	AvailableDriftCents   int64     `json:"available_drift_cents"`
	BonusDriftCents       int64     `json:"bonus_drift_cents"`
	CarbonDriftCents      int64     `json:"carbon_drift_cents"`
	PendingDriftCents     int64     `json:"pending_drift_cents"`
	ReconciledAt          time.Time `json:"reconciled_at"`
}
