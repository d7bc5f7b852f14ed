package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/venuepay/internal/clock"
	"github.com/example/venuepay/internal/metrics"
	"github.com/example/venuepay/internal/models"
)

const (
	DefaultPaymentExpiration = 15 * time.Minute
	WebhookCallbackPath      = "/api/webhooks/payment/callback"

	// syntheticQRPrefix marks QR ids generated locally when the gateway returned none.
	syntheticQRPrefix = "QR-"
)

// DefaultCommissionRate is 0.8%.
var DefaultCommissionRate = decimal.RequireFromString("0.008")

// PaymentSettings configures payment creation.
type PaymentSettings struct {
	CommissionRate  decimal.Decimal
	Expiration      time.Duration
	APIBaseURL      string
	GuestPortalURL  string
	QRSize          int
	PlatformVenueID uuid.UUID
}

// CommissionScheduler queues commission processing for a completed payment.
type CommissionScheduler interface {
	ScheduleCommission(ctx context.Context, paymentID uuid.UUID)
}

// PaymentService drives a payment from creation through its terminal status.
type PaymentService struct {
	db          *gorm.DB
	gateway     PaymentGateway
	terminals   *TerminalService
	billing     *BillingService
	notifier    Notifier
	settings    PaymentSettings
	clock       clock.Clock
	metrics     *metrics.Metrics
	commissions CommissionScheduler
}

func NewPaymentService(
	db *gorm.DB,
	gateway PaymentGateway,
	terminals *TerminalService,
	billing *BillingService,
	notifier Notifier,
	settings PaymentSettings,
	clk clock.Clock,
	m *metrics.Metrics,
) *PaymentService {
	if settings.Expiration <= 0 {
		settings.Expiration = DefaultPaymentExpiration
	}
	if settings.CommissionRate.IsZero() {
		settings.CommissionRate = DefaultCommissionRate
	}
	if settings.QRSize <= 0 {
		settings.QRSize = DefaultQRSize
	}
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &PaymentService{
		db:        db,
		gateway:   gateway,
		terminals: terminals,
		billing:   billing,
		notifier:  notifier,
		settings:  settings,
		clock:     clk,
		metrics:   m,
	}
}

// SetCommissionScheduler routes commission processing through a worker pool.
// Without one, commissions are processed inline after the status change commits.
func (s *PaymentService) SetCommissionScheduler(cs CommissionScheduler) {
	s.commissions = cs
}

// CalculateCommission returns floor(amount * rate) and amount + commission.
func CalculateCommission(amount int64, rate decimal.Decimal) (commission, total int64) {
	commission = decimal.NewFromInt(amount).Mul(rate).IntPart()
	return commission, amount + commission
}

// CreatePaymentInput is a request to collect money through a QR code.
type CreatePaymentInput struct {
	PaymentType models.PaymentType
	Amount      int64
	UserID      *uuid.UUID
	VenueID     *uuid.UUID
	EventID     *uuid.UUID
	PayerPhone  string
	PayerEmail  string
	PayerName   string
	Description string
	ExtraData   map[string]any
}

// CreatePayment stores a PENDING payment and attaches a gateway QR code to it.
// Either the returned payment holds a QR URL or no payment remains.
func (s *PaymentService) CreatePayment(ctx context.Context, in CreatePaymentInput) (payment *models.Payment, err error) {
	defer func() { s.metrics.ObservePaymentCreated(string(in.PaymentType), err) }()

	terminalVenue, err := s.validate(in)
	if err != nil {
		return nil, err
	}

	terminal, err := s.terminals.ActiveTerminal(ctx, terminalVenue)
	if err != nil {
		if errors.Is(err, ErrNoActiveTerminal) {
			log.Printf("[Payment] No active terminal for venue %s", terminalVenue)
		}
		return nil, err
	}
	credential, err := s.terminals.Credential(terminal)
	if err != nil {
		log.Printf("[Payment] Terminal %s credential unusable: %v", terminal.TerminalID, err)
		return nil, newError(ErrorGatewayUnavailable, "terminal credential is invalid", err)
	}

	var extra datatypes.JSON
	if len(in.ExtraData) > 0 {
		raw, err := json.Marshal(in.ExtraData)
		if err != nil {
			return nil, validationError("extra_data is not serializable")
		}
		extra = datatypes.JSON(raw)
	}

	commission, total := CalculateCommission(in.Amount, s.settings.CommissionRate)
	payment = &models.Payment{
		UserID:        in.UserID,
		VenueID:       in.VenueID,
		EventID:       in.EventID,
		TerminalID:    &terminal.ID,
		PaymentType:   in.PaymentType,
		PaymentMethod: models.PaymentMethodSBP,
		Status:        models.PaymentStatusPending,
		Amount:        in.Amount,
		Commission:    commission,
		TotalAmount:   total,
		PayerPhone:    in.PayerPhone,
		PayerEmail:    in.PayerEmail,
		PayerName:     in.PayerName,
		Description:   in.Description,
		ExtraData:     extra,
		ExpiredAt:     s.clock.Now().Add(s.settings.Expiration),
	}

	if err := s.db.WithContext(ctx).Create(payment).Error; err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	log.Printf("[Payment] Created %s payment %s: amount=%d commission=%d total=%d",
		payment.PaymentType, payment.ID, payment.Amount, payment.Commission, payment.TotalAmount)

	qr, err := s.gateway.CreateQR(ctx, QRRequest{
		Credential:      credential,
		Amount:          payment.TotalAmount,
		Purpose:         PaymentPurpose(payment),
		NotificationURL: s.NotificationURL(),
		RedirectURL:     s.RedirectURL(payment.ID),
		Size:            s.settings.QRSize,
	})
	if err == nil && strings.TrimSpace(qr.QRURL) == "" {
		err = &GatewayError{Kind: GatewayInvalidResponse, Op: "create_qr", Body: "empty QR URL"}
	}
	if err != nil {
		log.Printf("[Payment] Gateway failed for payment %s: %v", payment.ID, err)
		s.discard(context.WithoutCancel(ctx), payment.ID)
		return nil, newError(ErrorGatewayUnavailable, "", err)
	}

	qrID := qr.QRID
	if qrID == "" {
		qrID = syntheticQRPrefix + payment.ID.String()
	}
	if err := s.attachQR(ctx, payment.ID, qrID, qr.QRURL); err != nil {
		log.Printf("[Payment] Failed to attach QR to payment %s: %v", payment.ID, err)
		s.discard(context.WithoutCancel(ctx), payment.ID)
		return nil, newError(ErrorGatewayUnavailable, "", err)
	}
	payment.QRID = qrID
	payment.QRURL = qr.QRURL

	s.terminals.Touch(ctx, terminal, s.clock.Now())
	log.Printf("[Payment] QR %s attached to payment %s", qrID, payment.ID)
	return payment, nil
}

// validate checks the request and returns the venue whose terminal collects it.
func (s *PaymentService) validate(in CreatePaymentInput) (uuid.UUID, error) {
	if !in.PaymentType.Valid() {
		return uuid.Nil, validationError("unknown payment type")
	}
	if in.Amount <= 0 {
		return uuid.Nil, validationError("amount must be positive")
	}

	switch in.PaymentType {
	case models.PaymentTypeBalanceTopup:
		if in.UserID == nil {
			return uuid.Nil, validationError("balance top-up requires a user")
		}
		if in.VenueID != nil {
			return uuid.Nil, validationError("balance top-up cannot reference a venue")
		}
		if s.settings.PlatformVenueID == uuid.Nil {
			return uuid.Nil, newError(ErrorNoActiveTerminal, "platform venue is not configured", nil)
		}
		return s.settings.PlatformVenueID, nil
	default:
		if in.VenueID == nil || *in.VenueID == uuid.Nil {
			return uuid.Nil, validationError("venue is required")
		}
		return *in.VenueID, nil
	}
}

// attachQR sets the QR reference once; a second attach finds no matching row.
func (s *PaymentService) attachQR(ctx context.Context, id uuid.UUID, qrID, qrURL string) error {
	res := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ? AND qr_url = ?", id, models.PaymentStatusPending, "").
		Updates(map[string]any{"qr_id": qrID, "qr_url": qrURL})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.New("payment is no longer awaiting a QR code")
	}
	return nil
}

// discard removes a payment whose QR code could not be obtained.
func (s *PaymentService) discard(ctx context.Context, id uuid.UUID) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Where("id = ? AND status = ? AND qr_url = ?", id, models.PaymentStatusPending, "").
			Delete(&models.Payment{}).Error
	})
	if err != nil {
		log.Printf("[Payment] Failed to roll back payment %s: %v", id, err)
	}
}

// PaymentPurpose is the human-readable text shown in the payer's banking app.
func PaymentPurpose(p *models.Payment) string {
	purpose := strings.TrimSpace(p.Description)
	if purpose == "" {
		purpose = fmt.Sprintf("Deposit #%s", p.ID)
	}
	if name := strings.TrimSpace(p.PayerName); name != "" {
		purpose = fmt.Sprintf("%s (%s)", purpose, name)
	}
	return purpose
}

func (s *PaymentService) NotificationURL() string {
	return strings.TrimRight(s.settings.APIBaseURL, "/") + WebhookCallbackPath
}

func (s *PaymentService) RedirectURL(id uuid.UUID) string {
	return fmt.Sprintf("%s/deposit/%s", strings.TrimRight(s.settings.GuestPortalURL, "/"), id)
}

// Topup starts a balance top-up for an owner through the platform venue terminal.
func (s *PaymentService) Topup(ctx context.Context, ownerID uuid.UUID, amount int64) (*models.Payment, error) {
	return s.CreatePayment(ctx, CreatePaymentInput{
		PaymentType: models.PaymentTypeBalanceTopup,
		Amount:      amount,
		UserID:      &ownerID,
		Description: "Balance top-up",
	})
}

// UpdateStatus applies a status transition. transitioned is false when the payment is
// already terminal, already in status, or the state machine forbids the move; in that
// case nothing changes and no side effects run.
func (s *PaymentService) UpdateStatus(ctx context.Context, id uuid.UUID, status models.PaymentStatus, externalID string) (*models.Payment, bool, error) {
	return s.transition(ctx, id, status, externalID, nil)
}

// transition runs the compare-and-set status change under a row lock. guard may veto
// the change after the row is locked.
func (s *PaymentService) transition(
	ctx context.Context,
	id uuid.UUID,
	next models.PaymentStatus,
	externalID string,
	guard func(*models.Payment) bool,
) (*models.Payment, bool, error) {
	var (
		payment      models.Payment
		previous     models.PaymentStatus
		transitioned bool
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&payment, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newError(ErrorPaymentNotFound, id.String(), nil)
		}
		if err != nil {
			return err
		}

		previous = payment.Status
		if !previous.CanTransitionTo(next) {
			return nil
		}
		if guard != nil && !guard(&payment) {
			return nil
		}

		updates := map[string]any{"status": next}
		if externalID != "" && payment.ExternalID == nil {
			updates["external_id"] = externalID
		}
		var paidAt time.Time
		if next == models.PaymentStatusCompleted {
			paidAt = s.clock.Now()
			updates["paid_at"] = paidAt
		}

		res := tx.Model(&models.Payment{}).
			Where("id = ? AND status = ?", id, previous).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		payment.Status = next
		if _, ok := updates["external_id"]; ok {
			ext := externalID
			payment.ExternalID = &ext
		}
		if next == models.PaymentStatusCompleted {
			payment.PaidAt = &paidAt
		}
		transitioned = true

		if next == models.PaymentStatusCompleted && payment.PaymentType == models.PaymentTypeBalanceTopup && payment.UserID != nil {
			_, err := s.billing.AddFundsTx(tx, LedgerEntry{
				OwnerID:     *payment.UserID,
				Amount:      payment.Amount,
				Kind:        models.TransactionTopup,
				Description: fmt.Sprintf("Balance top-up via payment %s", payment.ID),
				ReferenceID: &payment.ID,
			})
			if err != nil {
				return fmt.Errorf("credit top-up: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if !transitioned {
		if previous != next {
			log.Printf("[Payment] Ignored transition of %s from %s to %s", id, previous, next)
		}
		return &payment, false, nil
	}

	log.Printf("[Payment] Payment %s status %s -> %s", id, previous, next)
	s.metrics.ObserveTransition(string(previous), string(next))
	s.afterTransition(ctx, &payment, previous)
	return &payment, true, nil
}

// afterTransition runs the effects that must not roll back the status change.
func (s *PaymentService) afterTransition(ctx context.Context, payment *models.Payment, previous models.PaymentStatus) {
	if payment.Status == models.PaymentStatusCompleted && payment.ChargesVenueCommission() {
		if s.commissions != nil {
			s.commissions.ScheduleCommission(ctx, payment.ID)
		} else if err := s.billing.ProcessCommission(ctx, payment.ID); err != nil {
			log.Printf("[Payment] Commission for payment %s failed: %v", payment.ID, err)
		}
	}

	event := newPaymentEvent(payment, previous, s.clock.Now())
	if err := s.notifier.PaymentStatusChanged(ctx, event); err != nil {
		log.Printf("[Payment] Notification for payment %s failed: %v", payment.ID, err)
	}
}

// GetPayment returns a payment that holds a QR code.
func (s *PaymentService) GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.WithContext(ctx).
		Where("id = ? AND qr_url <> ?", id, "").
		First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(ErrorPaymentNotFound, id.String(), nil)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// PaymentFilter narrows ListPayments. Zero values match everything.
type PaymentFilter struct {
	UserID  *uuid.UUID
	VenueID *uuid.UUID
	Status  models.PaymentStatus
	Type    models.PaymentType
}

// ListPayments returns visible payments newest first with the total match count.
func (s *PaymentService) ListPayments(ctx context.Context, filter PaymentFilter, offset, limit int) ([]models.Payment, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Payment{}).Where("qr_url <> ?", "")
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.VenueID != nil {
		query = query.Where("venue_id = ?", *filter.VenueID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Type != "" {
		query = query.Where("payment_type = ?", filter.Type)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var payments []models.Payment
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&payments).Error; err != nil {
		return nil, 0, err
	}
	return payments, total, nil
}

// ExpiredPending lists PENDING payments whose expiry has passed, oldest first.
func (s *PaymentService) ExpiredPending(ctx context.Context, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.WithContext(ctx).
		Where("status = ? AND expired_at < ?", models.PaymentStatusPending, s.clock.Now()).
		Order("expired_at ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

// Expire cancels a payment that is still PENDING past its expiry and then revokes its
// QR code at the gateway. Revocation failures are logged only.
func (s *PaymentService) Expire(ctx context.Context, id uuid.UUID) (bool, error) {
	now := s.clock.Now()
	payment, expired, err := s.transition(ctx, id, models.PaymentStatusCancelled, "", func(p *models.Payment) bool {
		return p.Status == models.PaymentStatusPending && p.ExpiredAt.Before(now)
	})
	if err != nil || !expired {
		return false, err
	}

	if payment.QRID != "" && payment.TerminalID != nil && !strings.HasPrefix(payment.QRID, syntheticQRPrefix) {
		credential, err := s.terminals.CredentialByID(ctx, *payment.TerminalID)
		if err != nil {
			log.Printf("[Payment] Cannot revoke QR of expired payment %s: %v", id, err)
			return true, nil
		}
		if _, err := s.gateway.Cancel(ctx, credential, payment.QRID); err != nil {
			log.Printf("[Payment] Gateway cancel for expired payment %s failed: %v", id, err)
		}
	}
	return true, nil
}

// UnchargedCommissions lists completed venue payments, paid more than grace ago, whose
// commission has no ledger entry. These are commissions lost between the completion
// commit and the commission worker, for example across a restart.
func (s *PaymentService) UnchargedCommissions(ctx context.Context, grace time.Duration, limit int) ([]models.Payment, error) {
	charged := s.db.Model(&models.BalanceTransaction{}).
		Select("1").
		Where("balance_transactions.reference_id = payments.id AND balance_transactions.transaction_type = ?", models.TransactionCommission)

	var payments []models.Payment
	err := s.db.WithContext(ctx).
		Where("status = ? AND payment_type <> ? AND venue_id IS NOT NULL AND commission > 0 AND paid_at < ?",
			models.PaymentStatusCompleted, models.PaymentTypeBalanceTopup, s.clock.Now().Add(-grace)).
		Where("NOT EXISTS (?)", charged).
		Order("paid_at ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

// RetryCommission charges an outstanding commission. It fails with InsufficientBalance
// while the owner still cannot cover it.
func (s *PaymentService) RetryCommission(ctx context.Context, id uuid.UUID) (bool, error) {
	if err := s.billing.RetryCommission(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

// Pollable lists unexpired PENDING or PROCESSING payments that can be checked at the gateway.
func (s *PaymentService) Pollable(ctx context.Context, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.WithContext(ctx).
		Where("status IN ? AND expired_at >= ? AND qr_id <> ? AND qr_id NOT LIKE ?",
			[]models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusProcessing},
			s.clock.Now(), "", syntheticQRPrefix+"%").
		Where("terminal_id IS NOT NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

// Reconcile asks the gateway for a payment's status and applies it when it moved on.
func (s *PaymentService) Reconcile(ctx context.Context, payment *models.Payment) (bool, error) {
	if payment.TerminalID == nil || payment.QRID == "" {
		return false, nil
	}
	credential, err := s.terminals.CredentialByID(ctx, *payment.TerminalID)
	if err != nil {
		return false, err
	}
	raw, err := s.gateway.CheckStatus(ctx, credential, payment.QRID)
	if err != nil {
		return false, err
	}
	status, known := MapGatewayStatus(raw)
	if !known {
		log.Printf("[Payment] Unknown gateway status %q for payment %s", raw, payment.ID)
	}
	if status == models.PaymentStatusPending || status == payment.Status {
		return false, nil
	}
	_, transitioned, err := s.UpdateStatus(ctx, payment.ID, status, "")
	return transitioned, err
}
