package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/example/venuepay/internal/clock"
	"github.com/example/venuepay/internal/database"
	"github.com/example/venuepay/internal/models"
	"github.com/example/venuepay/internal/routes"
	"github.com/example/venuepay/internal/services"
	"github.com/example/venuepay/internal/utils"
)

const testJWTSecret = "handler-test-secret"

type switchableGateway struct {
	mu   sync.Mutex
	down bool
}

func (g *switchableGateway) setDown(down bool) {
	g.mu.Lock()
	g.down = down
	g.mu.Unlock()
}

func (g *switchableGateway) CreateQR(context.Context, services.QRRequest) (*services.QRResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.down {
		return nil, errors.New("connection refused")
	}
	return &services.QRResult{QRID: "qr-" + uuid.NewString()[:8], QRURL: "https://qr.example/" + uuid.NewString()}, nil
}

func (g *switchableGateway) CheckStatus(context.Context, string, string) (string, error) {
	return "", nil
}

func (g *switchableGateway) Cancel(context.Context, string, string) (bool, error) {
	return true, nil
}

type apiEnv struct {
	app       *fiber.App
	db        *gorm.DB
	gateway   *switchableGateway
	billing   *services.BillingService
	terminals *services.TerminalService

	owner    models.User
	rival    models.User
	guest    models.User
	admin    models.User
	venue    models.Venue
	platform models.Venue
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "api.db")), database.Config())
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

	env := &apiEnv{db: db, gateway: &switchableGateway{}}
	env.owner = env.addUser(t, "owner@example.com", models.RoleOwner)
	env.rival = env.addUser(t, "rival@example.com", models.RoleOwner)
	env.guest = env.addUser(t, "guest@example.com", models.RoleGuest)
	env.admin = env.addUser(t, "admin@example.com", models.RoleAdmin)
	env.venue = models.Venue{OwnerID: env.owner.ID, Name: "Blue Note"}
	env.platform = models.Venue{OwnerID: env.admin.ID, Name: "Platform"}
	for _, v := range []*models.Venue{&env.venue, &env.platform} {
		if err := db.Create(v).Error; err != nil {
			t.Fatalf("create venue: %v", err)
		}
	}

	key, err := services.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	encryption, err := services.NewEncryptionService(key)
	if err != nil {
		t.Fatalf("encryption: %v", err)
	}

	notifier := services.LogNotifier{}
	clk := clock.RealClock{}
	venues := services.NewVenueService(db)
	env.terminals = services.NewTerminalService(db, venues, encryption)
	env.billing = services.NewBillingService(db, services.BillingSettings{
		SubscriptionFee:     50000,
		LowBalanceThreshold: 10000,
	}, notifier, clk, nil)
	payments := services.NewPaymentService(db, env.gateway, env.terminals, env.billing, notifier, services.PaymentSettings{
		CommissionRate:  decimal.RequireFromString("0.008"),
		Expiration:      15 * time.Minute,
		APIBaseURL:      "https://api.example.com",
		GuestPortalURL:  "https://guest.example.com",
		PlatformVenueID: env.platform.ID,
	}, clk, nil)

	env.app = fiber.New()
	routes.Register(env.app, routes.Deps{
		JWTSecret: testJWTSecret,
		Payments:  payments,
		Deposits:  services.NewDepositService(venues, payments),
		Billing:   env.billing,
		Terminals: env.terminals,
		Venues:    venues,
		Webhooks:  services.NewWebhookService(payments, nil),
		Refunds:   services.NewRefundService(db, env.billing, notifier, clk),
	})
	return env
}

func (env *apiEnv) addUser(t *testing.T, email string, role models.UserRole) models.User {
	t.Helper()
	user := models.User{Email: email, FullName: email, Role: role, IsActive: true}
	if err := env.db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func (env *apiEnv) addTerminal(t *testing.T, venueID uuid.UUID) {
	t.Helper()
	if _, err := env.terminals.Register(context.Background(), services.RegisterTerminalInput{
		VenueID:    venueID,
		Name:       "Main",
		TerminalID: "term-" + uuid.NewString(),
		APIKey:     "api-key",
	}); err != nil {
		t.Fatalf("register terminal: %v", err)
	}
}

func tokenFor(t *testing.T, user models.User) string {
	t.Helper()
	token, err := utils.GenerateToken(testJWTSecret, user.ID, string(user.Role), time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return token
}

func (env *apiEnv) call(t *testing.T, method, path string, user *models.User, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != nil {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, *user))
	}
	resp, err := env.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func dataField(body map[string]any, field string) any {
	data, _ := body["data"].(map[string]any)
	return data[field]
}

func TestDepositEndpointMapsServiceErrors(t *testing.T) {
	env := newAPIEnv(t)
	deposit := `{"venue_id":"` + env.venue.ID.String() + `","amount":50000,"payer_phone":"+70000000000","guests_count":2}`

	status, body := env.call(t, http.MethodPost, "/api/deposits", nil, deposit)
	if status != http.StatusBadRequest || errorCode(body) != services.ErrorNoActiveTerminal.Name {
		t.Fatalf("expected NoActiveTerminal 400, got %d %v", status, body)
	}

	env.addTerminal(t, env.venue.ID)
	env.gateway.setDown(true)
	status, body = env.call(t, http.MethodPost, "/api/deposits", nil, deposit)
	if status != http.StatusServiceUnavailable || errorCode(body) != services.ErrorGatewayUnavailable.Name {
		t.Fatalf("expected gateway 503, got %d %v", status, body)
	}

	env.gateway.setDown(false)
	status, body = env.call(t, http.MethodPost, "/api/deposits", nil, deposit)
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d %v", status, body)
	}
	id, _ := dataField(body, "id").(string)
	if url, _ := body["deposit_url"].(string); id == "" || !strings.HasSuffix(url, id) {
		t.Fatalf("deposit url %q does not point at %q", url, id)
	}

	status, _ = env.call(t, http.MethodGet, "/api/deposits/"+id+"/public", nil, "")
	if status != http.StatusOK {
		t.Fatalf("expected public deposit view, got %d", status)
	}

	unknown := `{"venue_id":"` + uuid.NewString() + `","amount":50000}`
	if status, body = env.call(t, http.MethodPost, "/api/deposits", nil, unknown); status != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown venue, got %d %v", status, body)
	}
}

func TestPaymentEndpointsGateAccess(t *testing.T) {
	env := newAPIEnv(t)
	env.addTerminal(t, env.venue.ID)

	if status, _ := env.call(t, http.MethodGet, "/api/payments", nil, ""); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", status)
	}

	topup := `{"payment_type":"balance_topup","amount":1000,"venue_id":"` + env.venue.ID.String() + `"}`
	if status, body := env.call(t, http.MethodPost, "/api/payments", &env.guest, topup); status != http.StatusBadRequest {
		t.Fatalf("top-ups must not be created here, got %d %v", status, body)
	}

	ticket := `{"payment_type":"ticket","amount":20000,"venue_id":"` + env.venue.ID.String() + `"}`
	status, body := env.call(t, http.MethodPost, "/api/payments", &env.guest, ticket)
	if status != http.StatusCreated {
		t.Fatalf("create ticket: %d %v", status, body)
	}
	id, _ := dataField(body, "id").(string)
	path := "/api/payments/" + id

	viewers := []struct {
		name string
		user models.User
		want int
	}{
		{"payer", env.guest, http.StatusOK},
		{"venue owner", env.owner, http.StatusOK},
		{"admin", env.admin, http.StatusOK},
		{"other owner", env.rival, http.StatusNotFound},
	}
	for _, v := range viewers {
		if status, body := env.call(t, http.MethodGet, path, &v.user, ""); status != v.want {
			t.Fatalf("%s: expected %d, got %d %v", v.name, v.want, status, body)
		}
	}

	completed := `{"status":"completed"}`
	if status, _ := env.call(t, http.MethodPut, path+"/status", &env.owner, completed); status != http.StatusForbidden {
		t.Fatalf("owners must not set payment status, got %d", status)
	}
	if status, _ := env.call(t, http.MethodPut, path+"/status", &env.admin, `{"status":"refunded"}`); status != http.StatusBadRequest {
		t.Fatalf("manual refunded status must be rejected, got %d", status)
	}
	status, body = env.call(t, http.MethodPut, path+"/status", &env.admin, completed)
	if status != http.StatusOK || body["updated"] != true {
		t.Fatalf("admin update: %d %v", status, body)
	}
	if status, body = env.call(t, http.MethodPut, path+"/status", &env.admin, completed); body["updated"] != false {
		t.Fatalf("repeated update must report no change: %d %v", status, body)
	}
}

func TestBalanceEndpointsAndInsufficientRefund(t *testing.T) {
	env := newAPIEnv(t)
	env.addTerminal(t, env.platform.ID)

	if status, _ := env.call(t, http.MethodGet, "/api/balance", &env.guest, ""); status != http.StatusForbidden {
		t.Fatalf("guests have no ledger, got %d", status)
	}
	status, body := env.call(t, http.MethodGet, "/api/balance", &env.owner, "")
	if status != http.StatusOK || dataField(body, "amount") != float64(0) || dataField(body, "low_balance") != true {
		t.Fatalf("owner balance: %d %v", status, body)
	}

	status, body = env.call(t, http.MethodPost, "/api/balance/topup", &env.owner, `{"amount":5000}`)
	if status != http.StatusCreated {
		t.Fatalf("topup: %d %v", status, body)
	}
	paymentID, _ := dataField(body, "id").(string)
	if status, _ = env.call(t, http.MethodPut, "/api/payments/"+paymentID+"/status", &env.admin, `{"status":"completed"}`); status != http.StatusOK {
		t.Fatalf("complete topup: %d", status)
	}
	if status, body = env.call(t, http.MethodGet, "/api/balance", &env.owner, ""); dataField(body, "amount") != float64(5000) {
		t.Fatalf("expected credited balance: %d %v", status, body)
	}

	status, body = env.call(t, http.MethodPost, "/api/refunds", &env.owner, `{"payment_id":"`+paymentID+`","amount":5000,"reason":"mistake"}`)
	if status != http.StatusCreated {
		t.Fatalf("create refund: %d %v", status, body)
	}
	refundPath := "/api/refunds/" + dataField(body, "id").(string)
	if status, _ = env.call(t, http.MethodPut, refundPath, &env.guest, `{"status":"approved"}`); status != http.StatusForbidden {
		t.Fatalf("guests cannot review refunds, got %d", status)
	}
	if status, body = env.call(t, http.MethodPut, refundPath, &env.admin, `{"status":"approved"}`); status != http.StatusOK {
		t.Fatalf("approve: %d %v", status, body)
	}

	if _, err := env.billing.DeductFunds(context.Background(), services.LedgerEntry{
		OwnerID: env.owner.ID,
		Amount:  3000,
		Kind:    models.TransactionWithdrawal,
	}); err != nil {
		t.Fatalf("spend: %v", err)
	}
	status, body = env.call(t, http.MethodPut, refundPath, &env.admin, `{"status":"completed"}`)
	if status != http.StatusPaymentRequired || errorCode(body) != services.ErrorInsufficientBalance.Name {
		t.Fatalf("expected 402, got %d %v", status, body)
	}

	status, body = env.call(t, http.MethodGet, "/api/balance/transactions", &env.owner, "")
	if status != http.StatusOK {
		t.Fatalf("transactions: %d", status)
	}
	if items, _ := body["data"].([]any); len(items) != 2 {
		t.Fatalf("expected top-up and withdrawal only, got %v", body["data"])
	}
}

func TestTerminalEndpointsAuthorizeVenue(t *testing.T) {
	env := newAPIEnv(t)
	register := func(venueID string) string {
		return `{"venue_id":"` + venueID + `","name":"Bar","terminal_id":"t-` + uuid.NewString()[:6] + `","api_key":"k"}`
	}

	if status, _ := env.call(t, http.MethodPost, "/api/terminals", &env.guest, register(env.venue.ID.String())); status != http.StatusForbidden {
		t.Fatalf("guests cannot register terminals, got %d", status)
	}
	if status, _ := env.call(t, http.MethodPost, "/api/terminals", &env.rival, register(env.venue.ID.String())); status != http.StatusForbidden {
		t.Fatalf("another owner's venue must be refused, got %d", status)
	}
	if status, _ := env.call(t, http.MethodPost, "/api/terminals", &env.owner, register(uuid.NewString())); status != http.StatusNotFound {
		t.Fatalf("unknown venue must be 404, got %d", status)
	}

	status, body := env.call(t, http.MethodPost, "/api/terminals", &env.owner, register(env.venue.ID.String()))
	if status != http.StatusCreated {
		t.Fatalf("register: %d %v", status, body)
	}
	terminalID, _ := dataField(body, "id").(string)

	status, body = env.call(t, http.MethodGet, "/api/terminals?venue_id="+env.venue.ID.String(), &env.owner, "")
	if items, _ := body["data"].([]any); status != http.StatusOK || len(items) != 1 {
		t.Fatalf("list: %d %v", status, body)
	}
	if status, _ = env.call(t, http.MethodGet, "/api/terminals?venue_id="+env.venue.ID.String(), &env.rival, ""); status != http.StatusForbidden {
		t.Fatalf("another owner cannot list, got %d", status)
	}

	if status, _ = env.call(t, http.MethodPost, "/api/terminals/"+terminalID+"/deactivate", &env.rival, ""); status != http.StatusForbidden {
		t.Fatalf("another owner cannot deactivate, got %d", status)
	}
	status, body = env.call(t, http.MethodPost, "/api/terminals/"+terminalID+"/deactivate", &env.owner, "")
	if status != http.StatusOK || dataField(body, "is_active") != false {
		t.Fatalf("deactivate: %d %v", status, body)
	}
}
