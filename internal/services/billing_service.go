package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/venuepay/internal/clock"
	"github.com/example/venuepay/internal/metrics"
	"github.com/example/venuepay/internal/models"
)

// BillingSettings holds the ledger's configured amounts, in minor units.
type BillingSettings struct {
	SubscriptionFee     int64
	LowBalanceThreshold int64
}

// LedgerEntry describes one balance mutation. Amount is always positive;
// the direction comes from AddFunds or DeductFunds.
type LedgerEntry struct {
	OwnerID     uuid.UUID
	Amount      int64
	Kind        models.TransactionType
	Description string
	ReferenceID *uuid.UUID
}

// BillingService owns owner balances and their append-only transaction log.
type BillingService struct {
	db       *gorm.DB
	settings BillingSettings
	notifier Notifier
	clock    clock.Clock
	metrics  *metrics.Metrics
}

func NewBillingService(db *gorm.DB, settings BillingSettings, notifier Notifier, clk clock.Clock, m *metrics.Metrics) *BillingService {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &BillingService{db: db, settings: settings, notifier: notifier, clock: clk, metrics: m}
}

// Settings returns the configured fee and threshold.
func (s *BillingService) Settings() BillingSettings {
	return s.settings
}

// GetOrCreateBalance returns the owner's balance, creating an empty one on first access.
func (s *BillingService) GetOrCreateBalance(ctx context.Context, ownerID uuid.UUID) (*models.Balance, error) {
	return getOrCreateBalance(s.db.WithContext(ctx), ownerID)
}

// getOrCreateBalance tolerates a concurrent first access: the loser's insert is
// ignored by the unique owner index and both read the same row.
func getOrCreateBalance(tx *gorm.DB, ownerID uuid.UUID) (*models.Balance, error) {
	fresh := models.Balance{UserID: ownerID}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&fresh).Error
	if err != nil {
		return nil, fmt.Errorf("create balance: %w", err)
	}

	var balance models.Balance
	if err := tx.Where("user_id = ?", ownerID).First(&balance).Error; err != nil {
		return nil, fmt.Errorf("load balance: %w", err)
	}
	return &balance, nil
}

// AddFunds credits the owner's balance and logs the entry atomically.
func (s *BillingService) AddFunds(ctx context.Context, entry LedgerEntry) (*models.Balance, error) {
	var balance *models.Balance
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		balance, err = s.AddFundsTx(tx, entry)
		return err
	})
	if err != nil {
		return nil, err
	}
	return balance, nil
}

// DeductFunds debits the owner's balance. It fails with InsufficientBalance and
// changes nothing when the balance cannot cover entry.Amount.
func (s *BillingService) DeductFunds(ctx context.Context, entry LedgerEntry) (*models.Balance, error) {
	var balance *models.Balance
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		balance, err = s.DeductFundsTx(tx, entry)
		return err
	})
	if err != nil {
		return nil, err
	}
	return balance, nil
}

// AddFundsTx is AddFunds inside the caller's transaction.
func (s *BillingService) AddFundsTx(tx *gorm.DB, entry LedgerEntry) (*models.Balance, error) {
	balance, _, err := s.apply(tx, entry, entry.Amount)
	return balance, err
}

// DeductFundsTx is DeductFunds inside the caller's transaction.
func (s *BillingService) DeductFundsTx(tx *gorm.DB, entry LedgerEntry) (*models.Balance, error) {
	balance, _, err := s.apply(tx, entry, -entry.Amount)
	return balance, err
}

// apply mutates one balance under a row lock. An entry whose (balance, kind, reference)
// is already logged is skipped, and applied reports false.
func (s *BillingService) apply(tx *gorm.DB, entry LedgerEntry, delta int64) (balance *models.Balance, applied bool, err error) {
	if entry.Amount <= 0 {
		return nil, false, validationError("amount must be positive")
	}
	if entry.OwnerID == uuid.Nil {
		return nil, false, validationError("owner is required")
	}

	if _, err := getOrCreateBalance(tx, entry.OwnerID); err != nil {
		return nil, false, err
	}

	var locked models.Balance
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", entry.OwnerID).
		First(&locked).Error
	if err != nil {
		return nil, false, fmt.Errorf("lock balance: %w", err)
	}

	if entry.ReferenceID != nil {
		var existing int64
		err := tx.Model(&models.BalanceTransaction{}).
			Where("balance_id = ? AND transaction_type = ? AND reference_id = ?", locked.ID, entry.Kind, *entry.ReferenceID).
			Count(&existing).Error
		if err != nil {
			return nil, false, fmt.Errorf("check ledger reference: %w", err)
		}
		if existing > 0 {
			log.Printf("[Billing] %s for reference %s already recorded, skipping", entry.Kind, entry.ReferenceID)
			return &locked, false, nil
		}
	}

	before := locked.Amount
	after := before + delta
	if after < 0 {
		s.metrics.ObserveInsufficientBalance(string(entry.Kind))
		return nil, false, newError(ErrorInsufficientBalance,
			fmt.Sprintf("balance %d cannot cover %d", before, entry.Amount), nil)
	}

	if err := tx.Model(&locked).Update("amount", after).Error; err != nil {
		return nil, false, fmt.Errorf("update balance: %w", err)
	}
	locked.Amount = after

	record := models.BalanceTransaction{
		BalanceID:       locked.ID,
		TransactionType: entry.Kind,
		Amount:          delta,
		BalanceBefore:   before,
		BalanceAfter:    after,
		Description:     entry.Description,
		ReferenceID:     entry.ReferenceID,
	}
	if err := tx.Create(&record).Error; err != nil {
		return nil, false, fmt.Errorf("append ledger entry: %w", err)
	}

	s.metrics.ObserveLedgerEntry(string(entry.Kind))
	log.Printf("[Billing] %s %+d for owner %s: %d -> %d", entry.Kind, delta, entry.OwnerID, before, after)
	return &locked, true, nil
}

// CheckLowBalance reports whether the owner's balance is under the configured threshold.
func (s *BillingService) CheckLowBalance(ctx context.Context, ownerID uuid.UUID) (bool, int64, error) {
	balance, err := s.GetOrCreateBalance(ctx, ownerID)
	if err != nil {
		return false, 0, err
	}
	return balance.Amount < s.settings.LowBalanceThreshold, balance.Amount, nil
}

// ListTransactions returns the owner's ledger newest first.
func (s *BillingService) ListTransactions(ctx context.Context, ownerID uuid.UUID, offset, limit int) ([]models.BalanceTransaction, int64, error) {
	balance, err := s.GetOrCreateBalance(ctx, ownerID)
	if err != nil {
		return nil, 0, err
	}

	query := s.db.WithContext(ctx).Model(&models.BalanceTransaction{}).Where("balance_id = ?", balance.ID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var items []models.BalanceTransaction
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ActiveOwnerIDs lists every active owner account.
func (s *BillingService) ActiveOwnerIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("role = ? AND is_active = ?", models.RoleOwner, true).
		Order("created_at ASC").
		Pluck("id", &ids).Error
	return ids, err
}

// ProcessCommission deducts a completed venue payment's commission from the venue owner.
// Calling it again for the same payment is a no-op.
func (s *BillingService) ProcessCommission(ctx context.Context, paymentID uuid.UUID) error {
	return s.processCommission(ctx, paymentID, true)
}

// RetryCommission is ProcessCommission for the reconciliation sweep. An owner who still
// cannot cover the commission is not notified again; the low-balance sweep reminds them.
func (s *BillingService) RetryCommission(ctx context.Context, paymentID uuid.UUID) error {
	return s.processCommission(ctx, paymentID, false)
}

func (s *BillingService) processCommission(ctx context.Context, paymentID uuid.UUID, notify bool) error {
	var payment models.Payment
	if err := s.db.WithContext(ctx).First(&payment, "id = ?", paymentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newError(ErrorPaymentNotFound, paymentID.String(), nil)
		}
		return err
	}
	if payment.Status != models.PaymentStatusCompleted || !payment.ChargesVenueCommission() {
		return nil
	}

	var venue models.Venue
	if err := s.db.WithContext(ctx).First(&venue, "id = ?", *payment.VenueID).Error; err != nil {
		return fmt.Errorf("load venue %s: %w", *payment.VenueID, err)
	}

	_, err := s.DeductFunds(ctx, LedgerEntry{
		OwnerID:     venue.OwnerID,
		Amount:      payment.Commission,
		Kind:        models.TransactionCommission,
		Description: fmt.Sprintf("Commission for payment %s", payment.ID),
		ReferenceID: &payment.ID,
	})
	if errors.Is(err, ErrInsufficient) {
		log.Printf("[Billing] Owner %s cannot cover commission %d for payment %s", venue.OwnerID, payment.Commission, payment.ID)
		if notify {
			s.NotifyLowBalance(ctx, venue.OwnerID, "commission")
		}
	}
	return err
}

// SubscriptionReference derives the ledger reference of an owner's subscription charge
// for the calendar month containing at, so a period is charged at most once.
func SubscriptionReference(ownerID uuid.UUID, at time.Time) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(ownerID.String()+":"+at.UTC().Format("2006-01")))
}

// ChargeSubscription deducts the monthly fee for the current period. charged is false when
// the period was already paid. On insufficient funds nothing is deducted, a low-balance
// notification is sent and InsufficientBalance is returned.
func (s *BillingService) ChargeSubscription(ctx context.Context, ownerID uuid.UUID) (charged bool, err error) {
	if s.settings.SubscriptionFee <= 0 {
		return false, nil
	}
	now := s.clock.Now()
	ref := SubscriptionReference(ownerID, now)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, applied, err := s.apply(tx, LedgerEntry{
			OwnerID:     ownerID,
			Amount:      s.settings.SubscriptionFee,
			Kind:        models.TransactionSubscription,
			Description: fmt.Sprintf("Monthly subscription %s", now.UTC().Format("2006-01")),
			ReferenceID: &ref,
		}, -s.settings.SubscriptionFee)
		charged = applied
		return err
	})
	if errors.Is(err, ErrInsufficient) {
		log.Printf("[Billing] Owner %s cannot cover subscription fee %d", ownerID, s.settings.SubscriptionFee)
		s.NotifyLowBalance(ctx, ownerID, "subscription")
		return false, err
	}
	if err != nil {
		return false, err
	}
	return charged, nil
}

// NotifyLowBalance publishes a low-balance event with the owner's current amount.
// Sink failures are logged only.
func (s *BillingService) NotifyLowBalance(ctx context.Context, ownerID uuid.UUID, reason string) {
	balance, err := s.GetOrCreateBalance(ctx, ownerID)
	if err != nil {
		log.Printf("[Billing] Failed to load balance for low-balance notice %s: %v", ownerID, err)
		return
	}
	event := LowBalanceEvent{
		EventType:  EventLowBalance,
		OwnerID:    ownerID,
		Amount:     balance.Amount,
		Threshold:  s.settings.LowBalanceThreshold,
		Reason:     reason,
		OccurredAt: s.clock.Now(),
	}
	if err := s.notifier.LowBalance(ctx, event); err != nil {
		log.Printf("[Billing] Low-balance notification for %s failed: %v", ownerID, err)
	}
}
