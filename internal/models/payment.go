package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// PaymentType identifies what a payment is collecting money for.
type PaymentType string

const (
	PaymentTypeDeposit      PaymentType = "deposit"
	PaymentTypeTicket       PaymentType = "ticket"
	PaymentTypeBalanceTopup PaymentType = "balance_topup"
)

// Valid reports whether t is a known payment type.
func (t PaymentType) Valid() bool {
	switch t {
	case PaymentTypeDeposit, PaymentTypeTicket, PaymentTypeBalanceTopup:
		return true
	}
	return false
}

// PaymentMethod is the instrument a payment is collected with. Only instant QR is supported.
type PaymentMethod string

const PaymentMethodSBP PaymentMethod = "sbp"

// PaymentStatus is a state in the payment state machine.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed out of s.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusRefunded:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine allows moving from s to next.
//
//	pending    -> processing, completed, failed, cancelled
//	processing -> completed, failed, cancelled
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	switch s {
	case PaymentStatusPending:
		switch next {
		case PaymentStatusProcessing, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled:
			return true
		}
	case PaymentStatusProcessing:
		switch next {
		case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled:
			return true
		}
	}
	return false
}

// Payment is one monetary request collected through the QR gateway.
// Amounts are integer minor currency units.
type Payment struct {
	BaseModel
	UserID     *uuid.UUID `gorm:"type:uuid;index" json:"user_id"`
	VenueID    *uuid.UUID `gorm:"type:uuid;index" json:"venue_id"`
	EventID    *uuid.UUID `gorm:"type:uuid" json:"event_id"`
	TerminalID *uuid.UUID `gorm:"type:uuid" json:"terminal_id"`

	PaymentType   PaymentType   `gorm:"not null" json:"payment_type"`
	PaymentMethod PaymentMethod `gorm:"not null;default:'sbp'" json:"payment_method"`
	Status        PaymentStatus `gorm:"not null;index" json:"status"`

	Amount      int64 `gorm:"not null" json:"amount"`
	Commission  int64 `gorm:"not null;default:0" json:"commission"`
	TotalAmount int64 `gorm:"not null" json:"total_amount"`

	PayerPhone string `json:"payer_phone"`
	PayerEmail string `json:"payer_email"`
	PayerName  string `json:"payer_name"`

	ExternalID *string `gorm:"uniqueIndex" json:"external_id"`
	QRID       string  `gorm:"column:qr_id" json:"qr_id"`
	QRURL      string  `gorm:"column:qr_url;type:text" json:"qr_url"`

	Description string         `gorm:"type:text" json:"description"`
	ExtraData   datatypes.JSON `json:"extra_data"`

	PaidAt    *time.Time `json:"paid_at"`
	ExpiredAt time.Time  `gorm:"not null;index" json:"expired_at"`
}

// ChargesVenueCommission reports whether the venue owner pays the commission of p.
// Top-ups are collected for the platform and never charge a venue.
func (p *Payment) ChargesVenueCommission() bool {
	return p.PaymentType != PaymentTypeBalanceTopup && p.VenueID != nil && p.Commission > 0
}
