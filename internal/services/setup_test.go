package services

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
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeGateway struct {
	mu        sync.Mutex
	result    *QRResult
	createErr error
	status    string
	statusErr error
	requests  []QRRequest
	cancelled []string
}

func (g *fakeGateway) CreateQR(_ context.Context, req QRRequest) (*QRResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.createErr != nil {
		return nil, g.createErr
	}
	if g.result != nil {
		return g.result, nil
	}
	return &QRResult{QRID: "qr-" + uuid.NewString()[:8], QRURL: "https://qr.example/" + uuid.NewString()}, nil
}

func (g *fakeGateway) CheckStatus(_ context.Context, _, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status, g.statusErr
}

func (g *fakeGateway) Cancel(_ context.Context, _, qrID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, qrID)
	return true, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	payments []PaymentEvent
	low      []LowBalanceEvent
}

func (n *recordingNotifier) PaymentStatusChanged(_ context.Context, e PaymentEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payments = append(n.payments, e)
	return nil
}

func (n *recordingNotifier) LowBalance(_ context.Context, e LowBalanceEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.low = append(n.low, e)
	return nil
}

type testEnv struct {
	db        *gorm.DB
	clock     *fixedClock
	gateway   *fakeGateway
	notifier  *recordingNotifier
	venues    *VenueService
	terminals *TerminalService
	billing   *BillingService
	payments  *PaymentService
	deposits  *DepositService
	webhooks  *WebhookService

	owner         models.User
	venue         models.Venue
	platformVenue models.Venue
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "venuepay.db")), database.Config())
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
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		db:       newTestDB(t),
		clock:    &fixedClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)},
		gateway:  &fakeGateway{},
		notifier: &recordingNotifier{},
	}

	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	encryption, err := NewEncryptionService(key)
	if err != nil {
		t.Fatalf("encryption: %v", err)
	}

	env.owner = models.User{Email: "owner@example.com", FullName: "Owner", Role: models.RoleOwner, IsActive: true}
	mustCreate(t, env.db, &env.owner)
	env.venue = models.Venue{OwnerID: env.owner.ID, Name: "Blue Note"}
	mustCreate(t, env.db, &env.venue)
	env.platformVenue = models.Venue{OwnerID: uuid.New(), Name: "Platform"}
	mustCreate(t, env.db, &env.platformVenue)

	env.venues = NewVenueService(env.db)
	env.terminals = NewTerminalService(env.db, env.venues, encryption)
	env.billing = NewBillingService(env.db, BillingSettings{
		SubscriptionFee:     50000,
		LowBalanceThreshold: 10000,
	}, env.notifier, env.clock, nil)
	env.payments = NewPaymentService(env.db, env.gateway, env.terminals, env.billing, env.notifier, PaymentSettings{
		CommissionRate:  decimal.RequireFromString("0.008"),
		Expiration:      15 * time.Minute,
		APIBaseURL:      "https://api.example.com",
		GuestPortalURL:  "https://guest.example.com",
		PlatformVenueID: env.platformVenue.ID,
	}, env.clock, nil)
	env.deposits = NewDepositService(env.venues, env.payments)
	env.webhooks = NewWebhookService(env.payments, nil)
	return env
}

func mustCreate(t *testing.T, db *gorm.DB, value any) {
	t.Helper()
	if err := db.Create(value).Error; err != nil {
		t.Fatalf("create %T: %v", value, err)
	}
}

func (env *testEnv) addTerminal(t *testing.T, venueID uuid.UUID) *models.Terminal {
	t.Helper()
	terminal, err := env.terminals.Register(context.Background(), RegisterTerminalInput{
		VenueID:    venueID,
		Name:       "Main",
		TerminalID: "term-" + uuid.NewString(),
		APIKey:     "secret-api-key",
	})
	if err != nil {
		t.Fatalf("register terminal: %v", err)
	}
	return terminal
}

func (env *testEnv) countPayments(t *testing.T) int64 {
	t.Helper()
	var n int64
	if err := env.db.Model(&models.Payment{}).Count(&n).Error; err != nil {
		t.Fatalf("count payments: %v", err)
	}
	return n
}

func (env *testEnv) balanceOf(t *testing.T, ownerID uuid.UUID) int64 {
	t.Helper()
	balance, err := env.billing.GetOrCreateBalance(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return balance.Amount
}

func (env *testEnv) ledger(t *testing.T, ownerID uuid.UUID) []models.BalanceTransaction {
	t.Helper()
	items, _, err := env.billing.ListTransactions(context.Background(), ownerID, 0, 100)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	return items
}
