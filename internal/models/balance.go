package models

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TransactionTopup        TransactionType = "topup"
	TransactionPayment      TransactionType = "payment"
	TransactionCommission   TransactionType = "commission"
	TransactionRefund       TransactionType = "refund"
	TransactionWithdrawal   TransactionType = "withdrawal"
	TransactionSubscription TransactionType = "subscription"
)

// ErrImmutableTransaction is returned when something tries to rewrite the ledger log.
var ErrImmutableTransaction = errors.New("balance transactions are append-only")

// Balance is an owner's running account in minor units.
type Balance struct {
	BaseModel
	UserID uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	Amount int64     `gorm:"not null;default:0" json:"amount"`
}

// BalanceTransaction is one append-only ledger entry.
// BalanceAfter always equals BalanceBefore + Amount.
type BalanceTransaction struct {
	BaseModel
	BalanceID       uuid.UUID       `gorm:"type:uuid;index;not null" json:"balance_id"`
	TransactionType TransactionType `gorm:"not null;index" json:"transaction_type"`
	Amount          int64           `gorm:"not null" json:"amount"`
	BalanceBefore   int64           `gorm:"not null" json:"balance_before"`
	BalanceAfter    int64           `gorm:"not null" json:"balance_after"`
	Description     string          `gorm:"type:text" json:"description"`
	ReferenceID     *uuid.UUID      `gorm:"type:uuid;index" json:"reference_id"`
}

// BeforeUpdate rejects mutation of stored entries.
func (t *BalanceTransaction) BeforeUpdate(tx *gorm.DB) error {
	return ErrImmutableTransaction
}

// BeforeDelete rejects deletion of stored entries.
func (t *BalanceTransaction) BeforeDelete(tx *gorm.DB) error {
	return ErrImmutableTransaction
}
