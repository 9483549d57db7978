package wallets

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/greenmile-app/greenmile-backend/pkg/db/models"
	"github.com/greenmile-app/greenmile-backend/pkg/enums"
)

type walletView struct {
	ID                     uuid.UUID       `json:"id"`
	OwnerID                uuid.UUID       `json:"owner_id"`
	OwnerType              enums.OwnerType `json:"owner_type"`
	AvailableCents         int64           `json:"available_cents"`
	BonusCents             int64           `json:"bonus_cents"`
	CarbonCreditCents      int64           `json:"carbon_credit_cents"`
	PendingWithdrawalCents int64           `json:"pending_withdrawal_cents"`
	TotalSpentCents        int64           `json:"total_spent_cents"`
	TotalEarnedCents       int64           `json:"total_earned_cents"`
	CreatedAt              time.Time       `json:"created_at"`
}

func toWalletView(wallet *models.Wallet) walletView {
	return walletView{
		ID:                     wallet.ID,
		OwnerID:                wallet.OwnerID,
		OwnerType:              wallet.OwnerType,
		AvailableCents:         wallet.AvailableCents,
		BonusCents:             wallet.BonusCents,
		CarbonCreditCents:      wallet.CarbonCreditCents,
		PendingWithdrawalCents: wallet.PendingWithdrawalCents,
		TotalSpentCents:        wallet.TotalSpentCents,
		TotalEarnedCents:       wallet.TotalEarnedCents,
		CreatedAt:              wallet.CreatedAt,
	}
}

type entryView struct {
	ID            uuid.UUID                  `json:"id"`
	EntryType     enums.LedgerEntryType      `json:"entry_type"`
	Status        enums.LedgerEntryStatus    `json:"status"`
	BalanceKind   enums.BalanceKind          `json:"balance_kind"`
	AmountCents   int64                      `json:"amount_cents"`
	ReferenceType *enums.OutboxAggregateType `json:"reference_type,omitempty"`
	ReferenceID   *uuid.UUID                 `json:"reference_id,omitempty"`
	Description   string                     `json:"description"`
	Metadata      json.RawMessage            `json:"metadata,omitempty"`
	CreatedAt     time.Time                  `json:"created_at"`
}

func toEntryView(entry *models.LedgerEntry) entryView {
	return entryView{
		ID:            entry.ID,
		EntryType:     entry.EntryType,
		Status:        entry.Status,
		BalanceKind:   entry.BalanceKind,
		AmountCents:   entry.AmountCents,
		ReferenceType: entry.ReferenceType,
		ReferenceID:   entry.ReferenceID,
		Description:   entry.Description,
		Metadata:      entry.Metadata,
		CreatedAt:     entry.CreatedAt,
	}
}

type payoutView struct {
	ID            uuid.UUID          `json:"id"`
	WalletID      uuid.UUID          `json:"wallet_id"`
	BankAccountID uuid.UUID          `json:"bank_account_id"`
	Status        enums.PayoutStatus `json:"status"`
	AmountCents   int64              `json:"amount_cents"`
	FeeCents      int64              `json:"fee_cents"`
	CreatedAt     time.Time          `json:"created_at"`
}

func toPayoutView(payout *models.PayoutRequest) payoutView {
	return payoutView{
		ID:            payout.ID,
		WalletID:      payout.WalletID,
		BankAccountID: payout.BankAccountID,
		Status:        payout.Status,
		AmountCents:   payout.AmountCents,
		FeeCents:      payout.FeeCents,
		CreatedAt:     payout.CreatedAt,
	}
}
