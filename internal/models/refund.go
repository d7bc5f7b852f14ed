package models

import (
	"time"

	"github.com/google/uuid"
)

// RefundStatus is a state of a refund request.
type RefundStatus string

const (
	RefundStatusPending    RefundStatus = "pending"
	RefundStatusApproved   RefundStatus = "approved"
	RefundStatusRejected   RefundStatus = "rejected"
	RefundStatusProcessing RefundStatus = "processing"
	RefundStatusCompleted  RefundStatus = "completed"
	RefundStatusFailed     RefundStatus = "failed"
)

// Valid reports whether s is a known refund status.
func (s RefundStatus) Valid() bool {
	switch s {
	case RefundStatusPending, RefundStatusApproved, RefundStatusRejected,
		RefundStatusProcessing, RefundStatusCompleted, RefundStatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether a refund may move from s to next.
//
//	pending    -> approved, rejected
//	approved   -> processing, completed, failed
//	processing -> completed, failed
func (s RefundStatus) CanTransitionTo(next RefundStatus) bool {
	switch s {
	case RefundStatusPending:
		return next == RefundStatusApproved || next == RefundStatusRejected
	case RefundStatusApproved:
		return next == RefundStatusProcessing || next == RefundStatusCompleted || next == RefundStatusFailed
	case RefundStatusProcessing:
		return next == RefundStatusCompleted || next == RefundStatusFailed
	}
	return false
}

// Refund is a payer's request to return part or all of a completed payment.
// A payment has at most one refund.
type Refund struct {
	BaseModel
	PaymentID uuid.UUID    `gorm:"type:uuid;uniqueIndex;not null" json:"payment_id"`
	Amount    int64        `gorm:"not null" json:"amount"`
	Status    RefundStatus `gorm:"not null;default:'pending';index" json:"status"`

	Reason     string  `gorm:"type:text" json:"reason"`
	AdminNotes string  `gorm:"type:text" json:"admin_notes"`
	ExternalID *string `json:"external_id"`

	ProcessedAt *time.Time `json:"processed_at"`
	CompletedAt *time.Time `json:"completed_at"`
}
