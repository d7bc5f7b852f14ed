package services

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/example/venuepay/internal/models"
)

// Notifier receives terminal payment state changes and ledger warnings.
// Implementations must not block for long; failures are logged by callers and never
// roll back payment or ledger state.
type Notifier interface {
	PaymentStatusChanged(ctx context.Context, event PaymentEvent) error
	LowBalance(ctx context.Context, event LowBalanceEvent) error
}

// PaymentEvent is the payload published when a payment changes status.
type PaymentEvent struct {
	EventType   string               `json:"event_type"`
	PaymentID   uuid.UUID            `json:"payment_id"`
	PaymentType models.PaymentType   `json:"payment_type"`
	Status      models.PaymentStatus `json:"status"`
	Previous    models.PaymentStatus `json:"previous_status"`
	Amount      int64                `json:"amount"`
	TotalAmount int64                `json:"total_amount"`
	UserID      *uuid.UUID           `json:"user_id,omitempty"`
	VenueID     *uuid.UUID           `json:"venue_id,omitempty"`
	PayerEmail  string               `json:"payer_email,omitempty"`
	PayerPhone  string               `json:"payer_phone,omitempty"`
	OccurredAt  time.Time            `json:"occurred_at"`
}

// LowBalanceEvent is published when an owner's balance cannot cover a charge or sits under threshold.
type LowBalanceEvent struct {
	EventType  string    `json:"event_type"`
	OwnerID    uuid.UUID `json:"owner_id"`
	Amount     int64     `json:"amount"`
	Threshold  int64     `json:"threshold"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

const (
	EventPaymentStatusChanged = "payment.status_changed"
	EventLowBalance           = "balance.low"
)

func newPaymentEvent(p *models.Payment, previous models.PaymentStatus, at time.Time) PaymentEvent {
	return PaymentEvent{
		EventType:   EventPaymentStatusChanged,
		PaymentID:   p.ID,
		PaymentType: p.PaymentType,
		Status:      p.Status,
		Previous:    previous,
		Amount:      p.Amount,
		TotalAmount: p.TotalAmount,
		UserID:      p.UserID,
		VenueID:     p.VenueID,
		PayerEmail:  p.PayerEmail,
		PayerPhone:  p.PayerPhone,
		OccurredAt:  at,
	}
}

// LogNotifier only writes events to the process log.
type LogNotifier struct{}

func (LogNotifier) PaymentStatusChanged(_ context.Context, e PaymentEvent) error {
	log.Printf("[Notify] payment %s %s -> %s", e.PaymentID, e.Previous, e.Status)
	return nil
}

func (LogNotifier) LowBalance(_ context.Context, e LowBalanceEvent) error {
	log.Printf("[Notify] low balance for owner %s: %d (%s)", e.OwnerID, e.Amount, e.Reason)
	return nil
}

// Notifiers fans every event out to all sinks and joins their errors.
type Notifiers []Notifier

func (n Notifiers) PaymentStatusChanged(ctx context.Context, e PaymentEvent) error {
	var errs []error
	for _, sink := range n {
		if err := sink.PaymentStatusChanged(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (n Notifiers) LowBalance(ctx context.Context, e LowBalanceEvent) error {
	var errs []error
	for _, sink := range n {
		if err := sink.LowBalance(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
