package enums

import "fmt"

// LedgerEntryType classifies the business meaning of a ledger entry.
type LedgerEntryType string

const (
	LedgerEntryTypePayment LedgerEntryType = "payment"
	LedgerEntryTypeRefund  LedgerEntryType = "refund"
	LedgerEntryTypeBonus   LedgerEntryType = "bonus"
	LedgerEntryTypePayout  LedgerEntryType = "payout"
	LedgerEntryTypeSale    LedgerEntryType = "sale"
	LedgerEntryTypeFee     LedgerEntryType = "fee"
)

var validLedgerEntryTypes = []LedgerEntryType{
	LedgerEntryTypePayment,
	LedgerEntryTypeRefund,
	LedgerEntryTypeBonus,
	LedgerEntryTypePayout,
	LedgerEntryTypeSale,
	LedgerEntryTypeFee,
}

// IsValid reports whether the value matches the canonical ledger entry type enum.
func (t LedgerEntryType) IsValid() bool {
	for _, candidate := range validLedgerEntryTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseLedgerEntryType converts raw input into LedgerEntryType.
func ParseLedgerEntryType(value string) (LedgerEntryType, error) {
	for _, candidate := range validLedgerEntryTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger entry type %q", value)
}

// LedgerEntryStatus tracks whether an entry counts toward materialized balances.
// Only completed entries do.
type LedgerEntryStatus string

const (
	LedgerEntryStatusPending   LedgerEntryStatus = "pending"
	LedgerEntryStatusCompleted LedgerEntryStatus = "completed"
	LedgerEntryStatusFailed    LedgerEntryStatus = "failed"
	LedgerEntryStatusCancelled LedgerEntryStatus = "cancelled"
)

var validLedgerEntryStatuses = []LedgerEntryStatus{
	LedgerEntryStatusPending,
	LedgerEntryStatusCompleted,
	LedgerEntryStatusFailed,
	LedgerEntryStatusCancelled,
}

// IsValid reports whether the value matches the canonical ledger entry status enum.
func (s LedgerEntryStatus) IsValid() bool {
	for _, candidate := range validLedgerEntryStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseLedgerEntryStatus converts raw input into LedgerEntryStatus.
func ParseLedgerEntryStatus(value string) (LedgerEntryStatus, error) {
	for _, candidate := range validLedgerEntryStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger entry status %q", value)
}

// BalanceKind names which materialized wallet column a ledger entry moves.
// Cash debits are satisfied by the available balance only.
type BalanceKind string

const (
	BalanceKindAvailable BalanceKind = "available"
	BalanceKindBonus     BalanceKind = "bonus"
	BalanceKindCarbon    BalanceKind = "carbon"
)

var validBalanceKinds = []BalanceKind{
	BalanceKindAvailable,
	BalanceKindBonus,
	BalanceKindCarbon,
}

// IsValid reports whether the value matches the canonical balance kind enum.
func (b BalanceKind) IsValid() bool {
	for _, candidate := range validBalanceKinds {
		if candidate == b {
			return true
		}
	}
	return false
}

// ParseBalanceKind converts raw input into BalanceKind.
func ParseBalanceKind(value string) (BalanceKind, error) {
	for _, candidate := range validBalanceKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid balance kind %q", value)
}
