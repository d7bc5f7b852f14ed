package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/example/venuepay/internal/models"
)

// DepositService creates venue reservation deposits paid by guests.
type DepositService struct {
	venues   *VenueService
	payments *PaymentService
}

func NewDepositService(venues *VenueService, payments *PaymentService) *DepositService {
	return &DepositService{venues: venues, payments: payments}
}

// CreateDepositInput is a guest's deposit request.
type CreateDepositInput struct {
	VenueID         uuid.UUID
	EventID         *uuid.UUID
	Amount          int64
	PayerPhone      string
	PayerEmail      string
	PayerName       string
	ReservationDate string
	ReservationTime string
	GuestsCount     int
	Description     string
}

// CreateDeposit creates a deposit payment for a venue.
func (s *DepositService) CreateDeposit(ctx context.Context, in CreateDepositInput) (*models.Payment, error) {
	if in.VenueID == uuid.Nil {
		return nil, validationError("venue_id is required")
	}

	venue, err := s.venues.Get(ctx, in.VenueID)
	if err != nil {
		return nil, err
	}

	description := fmt.Sprintf("Deposit for %s", venue.Name)
	if d := strings.TrimSpace(in.Description); d != "" {
		description += " - " + d
	}

	extra := map[string]any{}
	if in.ReservationDate != "" {
		extra["reservation_date"] = in.ReservationDate
	}
	if in.ReservationTime != "" {
		extra["reservation_time"] = in.ReservationTime
	}
	if in.GuestsCount > 0 {
		extra["guests_count"] = in.GuestsCount
	}

	return s.payments.CreatePayment(ctx, CreatePaymentInput{
		PaymentType: models.PaymentTypeDeposit,
		Amount:      in.Amount,
		VenueID:     &venue.ID,
		EventID:     in.EventID,
		PayerPhone:  in.PayerPhone,
		PayerEmail:  in.PayerEmail,
		PayerName:   in.PayerName,
		Description: description,
		ExtraData:   extra,
	})
}

// DepositURL is the guest portal page of a deposit.
func (s *DepositService) DepositURL(id uuid.UUID) string {
	return s.payments.RedirectURL(id)
}

// VenueSummary is the public part of a venue.
type VenueSummary struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Address string    `json:"address"`
	Phone   string    `json:"phone"`
}

// PublicDeposit is what an unauthenticated guest may see of a deposit.
type PublicDeposit struct {
	ID          uuid.UUID            `json:"id"`
	Status      models.PaymentStatus `json:"status"`
	Amount      int64                `json:"amount"`
	Commission  int64                `json:"commission"`
	TotalAmount int64                `json:"total_amount"`
	Description string               `json:"description"`
	QRURL       string               `json:"qr_url"`
	QRID        string               `json:"qr_id"`
	CreatedAt   string               `json:"created_at"`
	ExpiredAt   string               `json:"expired_at"`
	PaidAt      *string              `json:"paid_at"`
	ExtraData   datatypes.JSON       `json:"extra_data"`
	Venue       *VenueSummary        `json:"venue"`
}

// GetPublic returns the guest view of a deposit.
func (s *DepositService) GetPublic(ctx context.Context, id uuid.UUID) (*PublicDeposit, error) {
	payment, err := s.payments.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment.PaymentType != models.PaymentTypeDeposit {
		return nil, newError(ErrorPaymentNotFound, "deposit not found", nil)
	}

	view := &PublicDeposit{
		ID:          payment.ID,
		Status:      payment.Status,
		Amount:      payment.Amount,
		Commission:  payment.Commission,
		TotalAmount: payment.TotalAmount,
		Description: payment.Description,
		QRURL:       payment.QRURL,
		QRID:        payment.QRID,
		CreatedAt:   payment.CreatedAt.UTC().Format(time.RFC3339),
		ExpiredAt:   payment.ExpiredAt.UTC().Format(time.RFC3339),
		ExtraData:   payment.ExtraData,
	}
	if payment.PaidAt != nil {
		paid := payment.PaidAt.UTC().Format(time.RFC3339)
		view.PaidAt = &paid
	}
	if payment.VenueID != nil {
		if venue, err := s.venues.Get(ctx, *payment.VenueID); err == nil {
			view.Venue = &VenueSummary{ID: venue.ID, Name: venue.Name, Address: venue.Address, Phone: venue.Phone}
		}
	}
	return view, nil
}
