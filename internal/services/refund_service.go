package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/venuepay/internal/clock"
	"github.com/example/venuepay/internal/models"
)

// Actor is the authenticated user a request acts for.
type Actor struct {
	ID   uuid.UUID
	Role models.UserRole
}

func (a Actor) admin() bool { return a.Role == models.RoleAdmin }

type CreateRefundInput struct {
	PaymentID uuid.UUID
	Amount    int64
	Reason    string
}

type UpdateRefundInput struct {
	Status     models.RefundStatus
	AdminNotes string
	ExternalID string
}

// RefundService handles refund requests against completed payments.
type RefundService struct {
	db       *gorm.DB
	billing  *BillingService
	notifier Notifier
	clock    clock.Clock
}

func NewRefundService(db *gorm.DB, billing *BillingService, notifier Notifier, clk clock.Clock) *RefundService {
	return &RefundService{db: db, billing: billing, notifier: notifier, clock: clk}
}

// Create files a pending refund. Only the payer may ask, only for a completed payment,
// and only once per payment.
func (s *RefundService) Create(ctx context.Context, actor Actor, in CreateRefundInput) (*models.Refund, error) {
	if in.Amount <= 0 {
		return nil, validationError("amount must be positive")
	}

	var payment models.Payment
	if err := s.db.WithContext(ctx).First(&payment, "id = ? AND qr_url <> ''", in.PaymentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(ErrorPaymentNotFound, in.PaymentID.String(), nil)
		}
		return nil, err
	}
	if payment.UserID == nil || *payment.UserID != actor.ID {
		return nil, newError(ErrorForbidden, "only the payer can request a refund", nil)
	}
	if payment.Status != models.PaymentStatusCompleted {
		return nil, validationError("only completed payments can be refunded")
	}
	if in.Amount > payment.Amount {
		return nil, validationError("refund amount exceeds the payment amount")
	}

	refund := &models.Refund{
		PaymentID: payment.ID,
		Amount:    in.Amount,
		Status:    models.RefundStatusPending,
		Reason:    strings.TrimSpace(in.Reason),
	}
	if err := s.db.WithContext(ctx).Create(refund).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, validationError("refund already exists for this payment")
		}
		return nil, fmt.Errorf("create refund: %w", err)
	}
	log.Printf("[Refund] Requested refund %s of %d for payment %s", refund.ID, refund.Amount, payment.ID)
	return refund, nil
}

// List returns refunds the actor paid for or whose venue they own. Admins see all.
func (s *RefundService) List(ctx context.Context, actor Actor, offset, limit int) ([]models.Refund, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Refund{}).
		Joins("JOIN payments ON payments.id = refunds.payment_id")
	if !actor.admin() {
		query = query.Joins("LEFT JOIN venues ON venues.id = payments.venue_id").
			Where("payments.user_id = ? OR venues.owner_id = ?", actor.ID, actor.ID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var refunds []models.Refund
	err := query.Select("refunds.*").
		Order("refunds.created_at DESC").
		Offset(offset).Limit(limit).
		Find(&refunds).Error
	return refunds, total, err
}

// Get returns a refund visible to the actor. Others get NotFound.
func (s *RefundService) Get(ctx context.Context, actor Actor, id uuid.UUID) (*models.Refund, error) {
	var refund models.Refund
	if err := s.db.WithContext(ctx).First(&refund, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(ErrorNotFound, "refund not found", nil)
		}
		return nil, err
	}
	var payment models.Payment
	if err := s.db.WithContext(ctx).First(&payment, "id = ?", refund.PaymentID).Error; err != nil {
		return nil, fmt.Errorf("load payment %s: %w", refund.PaymentID, err)
	}

	if actor.admin() || (payment.UserID != nil && *payment.UserID == actor.ID) {
		return &refund, nil
	}
	owns, err := ownsVenue(s.db.WithContext(ctx), payment.VenueID, actor.ID)
	if err != nil {
		return nil, err
	}
	if !owns {
		return nil, newError(ErrorNotFound, "refund not found", nil)
	}
	return &refund, nil
}

// Update moves a refund through its state machine on behalf of the venue owner or an
// admin. Completing a refund marks the payment refunded and settles the ledger in the
// same transaction.
func (s *RefundService) Update(ctx context.Context, actor Actor, id uuid.UUID, in UpdateRefundInput) (*models.Refund, error) {
	if !in.Status.Valid() {
		return nil, validationError("unknown refund status")
	}

	var (
		refund  models.Refund
		payment models.Payment
	)
	now := s.clock.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&refund, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newError(ErrorNotFound, "refund not found", nil)
		}
		if err != nil {
			return err
		}
		if err := tx.First(&payment, "id = ?", refund.PaymentID).Error; err != nil {
			return fmt.Errorf("load payment %s: %w", refund.PaymentID, err)
		}

		if !actor.admin() {
			owns, err := ownsVenue(tx, payment.VenueID, actor.ID)
			if err != nil {
				return err
			}
			if !owns {
				return newError(ErrorForbidden, "only the venue owner can update this refund", nil)
			}
		}

		previous := refund.Status
		if !previous.CanTransitionTo(in.Status) {
			return validationError(fmt.Sprintf("refund cannot move from %s to %s", previous, in.Status))
		}

		updates := map[string]any{"status": in.Status}
		if notes := strings.TrimSpace(in.AdminNotes); notes != "" {
			updates["admin_notes"] = notes
			refund.AdminNotes = notes
		}
		if in.ExternalID != "" {
			ext := in.ExternalID
			updates["external_id"] = ext
			refund.ExternalID = &ext
		}
		switch in.Status {
		case models.RefundStatusApproved, models.RefundStatusProcessing:
			updates["processed_at"] = now
			refund.ProcessedAt = &now
		case models.RefundStatusCompleted:
			updates["completed_at"] = now
			refund.CompletedAt = &now
			if refund.ProcessedAt == nil {
				updates["processed_at"] = now
				refund.ProcessedAt = &now
			}
		}

		res := tx.Model(&models.Refund{}).Where("id = ? AND status = ?", id, previous).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return validationError("refund was updated concurrently")
		}
		refund.Status = in.Status

		if in.Status == models.RefundStatusCompleted {
			return s.settle(tx, &refund, &payment)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Refund] Refund %s is now %s", refund.ID, refund.Status)
	if refund.Status == models.RefundStatusCompleted {
		event := newPaymentEvent(&payment, models.PaymentStatusCompleted, now)
		if err := s.notifier.PaymentStatusChanged(ctx, event); err != nil {
			log.Printf("[Refund] Notification for payment %s failed: %v", payment.ID, err)
		}
	}
	return &refund, nil
}

// settle marks the payment refunded and books the refund in the ledger. A refunded
// top-up is taken back from the owner it credited. A refunded venue payment returns the
// matching share of the commission, if that commission was charged.
func (s *RefundService) settle(tx *gorm.DB, refund *models.Refund, payment *models.Payment) error {
	res := tx.Model(&models.Payment{}).
		Where("id = ? AND status = ?", payment.ID, models.PaymentStatusCompleted).
		Update("status", models.PaymentStatusRefunded)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return validationError("payment is no longer refundable")
	}
	payment.Status = models.PaymentStatusRefunded

	if payment.PaymentType == models.PaymentTypeBalanceTopup {
		if payment.UserID == nil {
			return nil
		}
		_, err := s.billing.DeductFundsTx(tx, LedgerEntry{
			OwnerID:     *payment.UserID,
			Amount:      refund.Amount,
			Kind:        models.TransactionRefund,
			Description: fmt.Sprintf("Refund %s of top-up %s", refund.ID, payment.ID),
			ReferenceID: &refund.ID,
		})
		return err
	}

	if !payment.ChargesVenueCommission() {
		return nil
	}
	var charged int64
	err := tx.Model(&models.BalanceTransaction{}).
		Where("reference_id = ? AND transaction_type = ?", payment.ID, models.TransactionCommission).
		Count(&charged).Error
	if err != nil {
		return err
	}
	credit := RefundedCommission(payment.Commission, payment.Amount, refund.Amount)
	if charged == 0 || credit <= 0 {
		return nil
	}

	var venue models.Venue
	if err := tx.First(&venue, "id = ?", *payment.VenueID).Error; err != nil {
		return fmt.Errorf("load venue %s: %w", *payment.VenueID, err)
	}
	_, err = s.billing.AddFundsTx(tx, LedgerEntry{
		OwnerID:     venue.OwnerID,
		Amount:      credit,
		Kind:        models.TransactionRefund,
		Description: fmt.Sprintf("Commission returned for refund %s", refund.ID),
		ReferenceID: &refund.ID,
	})
	return err
}

// RefundedCommission is the share of commission returned when refunded of amount is
// paid back, rounded down.
func RefundedCommission(commission, amount, refunded int64) int64 {
	if amount <= 0 || refunded <= 0 {
		return 0
	}
	if refunded >= amount {
		return commission
	}
	return commission * refunded / amount
}

func ownsVenue(db *gorm.DB, venueID *uuid.UUID, userID uuid.UUID) (bool, error) {
	if venueID == nil {
		return false, nil
	}
	var n int64
	err := db.Model(&models.Venue{}).Where("id = ? AND owner_id = ?", *venueID, userID).Count(&n).Error
	return n > 0, err
}
