package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/greenmile-app/greenmile-backend/pkg/enums"
)

// BankAccount is a payout destination registered by a wallet owner.
type BankAccount struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OwnerID       uuid.UUID       `gorm:"column:owner_id;type:uuid;not null;index"`
	OwnerType     enums.OwnerType `gorm:"column:owner_type;type:owner_type;not null"`
	HolderName    string          `gorm:"column:holder_name;not null"`
	BankName      string          `gorm:"column:bank_name;not null"`
	AccountNumber string          `gorm:"column:account_number;not null"`
	RoutingNumber string          `gorm:"column:routing_number;not null"`
	Verified      bool            `gorm:"column:verified;not null;default:false"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
