package tasks

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/example/venuepay/internal/database"
	"github.com/example/venuepay/internal/models"
	"github.com/example/venuepay/internal/services"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stubGateway struct {
	mu        sync.Mutex
	status    string
	cancelled []string
}

func (g *stubGateway) CreateQR(_ context.Context, _ services.QRRequest) (*services.QRResult, error) {
	return &services.QRResult{QRID: "qr-" + uuid.NewString()[:8], QRURL: "https://qr.example/" + uuid.NewString()}, nil
}

func (g *stubGateway) CheckStatus(_ context.Context, _, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status, nil
}

func (g *stubGateway) Cancel(_ context.Context, _, qrID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, qrID)
	return true, nil
}

type lowBalanceRecorder struct {
	mu     sync.Mutex
	owners []uuid.UUID
}

func (r *lowBalanceRecorder) PaymentStatusChanged(context.Context, services.PaymentEvent) error {
	return nil
}

func (r *lowBalanceRecorder) LowBalance(_ context.Context, e services.LowBalanceEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners = append(r.owners, e.OwnerID)
	return nil
}

func (r *lowBalanceRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.owners)
}

type fixture struct {
	db       *gorm.DB
	clock    *testClock
	gateway  *stubGateway
	notifier *lowBalanceRecorder
	billing  *services.BillingService
	payments *services.PaymentService
	venue    models.Venue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "tasks.db")), database.Config())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	key, err := services.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	encryption, err := services.NewEncryptionService(key)
	if err != nil {
		t.Fatalf("encryption: %v", err)
	}

	f := &fixture{
		db:       db,
		clock:    &testClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)},
		gateway:  &stubGateway{},
		notifier: &lowBalanceRecorder{},
	}

	owner := f.addOwner(t, "owner@example.com")
	f.venue = models.Venue{OwnerID: owner, Name: "Jazz Cellar"}
	if err := db.Create(&f.venue).Error; err != nil {
		t.Fatalf("create venue: %v", err)
	}

	venues := services.NewVenueService(db)
	terminals := services.NewTerminalService(db, venues, encryption)
	if _, err := terminals.Register(context.Background(), services.RegisterTerminalInput{
		VenueID:    f.venue.ID,
		Name:       "Bar",
		TerminalID: "term-1",
		APIKey:     "api-key",
	}); err != nil {
		t.Fatalf("register terminal: %v", err)
	}

	f.billing = services.NewBillingService(db, services.BillingSettings{
		SubscriptionFee:     50000,
		LowBalanceThreshold: 10000,
	}, f.notifier, f.clock, nil)
	f.payments = services.NewPaymentService(db, f.gateway, terminals, f.billing, f.notifier, services.PaymentSettings{
		CommissionRate: decimal.RequireFromString("0.008"),
		Expiration:     15 * time.Minute,
		APIBaseURL:     "https://api.example.com",
		GuestPortalURL: "https://guest.example.com",
	}, f.clock, nil)
	return f
}

func (f *fixture) addOwner(t *testing.T, email string) uuid.UUID {
	t.Helper()
	user := models.User{Email: email, FullName: email, Role: models.RoleOwner, IsActive: true}
	if err := f.db.Create(&user).Error; err != nil {
		t.Fatalf("create owner: %v", err)
	}
	return user.ID
}

func (f *fixture) fund(t *testing.T, ownerID uuid.UUID, amount int64) {
	t.Helper()
	if _, err := f.billing.AddFunds(context.Background(), services.LedgerEntry{
		OwnerID: ownerID,
		Amount:  amount,
		Kind:    models.TransactionTopup,
	}); err != nil {
		t.Fatalf("fund owner: %v", err)
	}
}

func (f *fixture) balance(t *testing.T, ownerID uuid.UUID) int64 {
	t.Helper()
	b, err := f.billing.GetOrCreateBalance(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b.Amount
}

func (f *fixture) deposit(t *testing.T, amount int64) *models.Payment {
	t.Helper()
	payment, err := f.payments.CreatePayment(context.Background(), services.CreatePaymentInput{
		PaymentType: models.PaymentTypeDeposit,
		Amount:      amount,
		VenueID:     &f.venue.ID,
		PayerEmail:  "guest@example.com",
	})
	if err != nil {
		t.Fatalf("create deposit: %v", err)
	}
	return payment
}

func (f *fixture) statusOf(t *testing.T, id uuid.UUID) models.PaymentStatus {
	t.Helper()
	var p models.Payment
	if err := f.db.First(&p, "id = ?", id).Error; err != nil {
		t.Fatalf("load payment: %v", err)
	}
	return p.Status
}
