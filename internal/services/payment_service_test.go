package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/venuepay/internal/models"
)

func TestCalculateCommission(t *testing.T) {
	rate := decimal.RequireFromString("0.008")
	cases := []struct {
		amount     int64
		commission int64
	}{
		{amount: 100000, commission: 800},
		{amount: 5000, commission: 40},
		{amount: 124, commission: 0},
		{amount: 125, commission: 1},
		{amount: 999999, commission: 7999},
	}
	for _, tc := range cases {
		commission, total := CalculateCommission(tc.amount, rate)
		if commission != tc.commission {
			t.Fatalf("amount %d: expected commission %d, got %d", tc.amount, tc.commission, commission)
		}
		if total != tc.amount+tc.commission {
			t.Fatalf("amount %d: expected total %d, got %d", tc.amount, tc.amount+tc.commission, total)
		}
	}
}

func TestCreateDepositAttachesQR(t *testing.T) {
	env := newTestEnv(t)
	terminal := env.addTerminal(t, env.venue.ID)
	env.gateway.result = &QRResult{QRID: "qr-1", QRURL: "https://qr.example/1"}

	payment, err := env.deposits.CreateDeposit(context.Background(), CreateDepositInput{
		VenueID:         env.venue.ID,
		Amount:          100000,
		PayerName:       "Anna",
		ReservationDate: "2026-03-12",
		GuestsCount:     4,
	})
	if err != nil {
		t.Fatalf("create deposit: %v", err)
	}

	if payment.Commission != 800 || payment.TotalAmount != 100800 {
		t.Fatalf("expected commission 800 total 100800, got %d/%d", payment.Commission, payment.TotalAmount)
	}
	if payment.Status != models.PaymentStatusPending {
		t.Fatalf("expected pending, got %s", payment.Status)
	}
	if payment.QRURL != "https://qr.example/1" || payment.QRID != "qr-1" {
		t.Fatalf("unexpected QR %q %q", payment.QRID, payment.QRURL)
	}
	if want := env.clock.Now().Add(15 * time.Minute); !payment.ExpiredAt.Equal(want) {
		t.Fatalf("expected expiry %s, got %s", want, payment.ExpiredAt)
	}
	if payment.TerminalID == nil || *payment.TerminalID != terminal.ID {
		t.Fatalf("expected terminal %s to be recorded", terminal.ID)
	}

	if len(env.gateway.requests) != 1 {
		t.Fatalf("expected one gateway call, got %d", len(env.gateway.requests))
	}
	req := env.gateway.requests[0]
	if req.Amount != 100800 {
		t.Fatalf("gateway should be asked for the total, got %d", req.Amount)
	}
	if req.Credential != "secret-api-key" {
		t.Fatalf("gateway should receive the decrypted key")
	}
	if req.Purpose != "Deposit for Blue Note (Anna)" {
		t.Fatalf("unexpected purpose %q", req.Purpose)
	}
	if req.NotificationURL != "https://api.example.com/api/webhooks/payment/callback" {
		t.Fatalf("unexpected notification url %q", req.NotificationURL)
	}
	if req.RedirectURL != "https://guest.example.com/deposit/"+payment.ID.String() {
		t.Fatalf("unexpected redirect url %q", req.RedirectURL)
	}

	stored, err := env.payments.GetPayment(context.Background(), payment.ID)
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if stored.QRURL != payment.QRURL || stored.TotalAmount != 100800 {
		t.Fatalf("stored payment does not match: %+v", stored)
	}
	if !strings.Contains(string(stored.ExtraData), `"guests_count":4`) {
		t.Fatalf("expected reservation details in extra data, got %s", stored.ExtraData)
	}
}

func TestCreatePaymentWithoutActiveTerminal(t *testing.T) {
	env := newTestEnv(t)
	terminal := env.addTerminal(t, env.venue.ID)
	if _, err := env.terminals.Deactivate(context.Background(), terminal.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	_, err := env.payments.CreatePayment(context.Background(), CreatePaymentInput{
		PaymentType: models.PaymentTypeDeposit,
		Amount:      100000,
		VenueID:     &env.venue.ID,
	})
	if !errors.Is(err, ErrNoActiveTerminal) {
		t.Fatalf("expected NoActiveTerminal, got %v", err)
	}
	if n := env.countPayments(t); n != 0 {
		t.Fatalf("expected no payments, found %d", n)
	}
	if len(env.gateway.requests) != 0 {
		t.Fatalf("gateway must not be called without a terminal")
	}
}

func TestCreatePaymentGatewayFailureLeavesNoTrace(t *testing.T) {
	cases := map[string]error{
		"unreachable": &GatewayError{Kind: GatewayUnreachable, Op: "create_qr"},
		"rejected":    &GatewayError{Kind: GatewayRejected, Op: "create_qr", StatusCode: 401, Body: "bad key"},
	}
	for name, gatewayErr := range cases {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			env.addTerminal(t, env.venue.ID)
			env.gateway.createErr = gatewayErr

			_, err := env.payments.CreatePayment(context.Background(), CreatePaymentInput{
				PaymentType: models.PaymentTypeDeposit,
				Amount:      100000,
				VenueID:     &env.venue.ID,
			})
			if !errors.Is(err, ErrGatewayUnavailable) {
				t.Fatalf("expected PaymentGatewayUnavailable, got %v", err)
			}
			if !errors.Is(err, gatewayErr) {
				t.Fatalf("expected gateway cause to be preserved, got %v", err)
			}
			if n := env.countPayments(t); n != 0 {
				t.Fatalf("expected no payments, found %d", n)
			}
		})
	}
}

func TestCreatePaymentEmptyQRURLFails(t *testing.T) {
	env := newTestEnv(t)
	env.addTerminal(t, env.venue.ID)
	env.gateway.result = &QRResult{QRID: "qr-1", QRURL: "  "}

	_, err := env.payments.CreatePayment(context.Background(), CreatePaymentInput{
		PaymentType: models.PaymentTypeDeposit,
		Amount:      100000,
		VenueID:     &env.venue.ID,
	})
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected PaymentGatewayUnavailable, got %v", err)
	}
	if n := env.countPayments(t); n != 0 {
		t.Fatalf("expected no payments, found %d", n)
	}
}

func TestCreatePaymentValidation(t *testing.T) {
	env := newTestEnv(t)
	env.addTerminal(t, env.venue.ID)

	cases := map[string]CreatePaymentInput{
		"zero amount":       {PaymentType: models.PaymentTypeDeposit, Amount: 0, VenueID: &env.venue.ID},
		"negative amount":   {PaymentType: models.PaymentTypeDeposit, Amount: -5, VenueID: &env.venue.ID},
		"unknown type":      {PaymentType: "gift", Amount: 100, VenueID: &env.venue.ID},
		"deposit no venue":  {PaymentType: models.PaymentTypeDeposit, Amount: 100},
		"top-up no account": {PaymentType: models.PaymentTypeBalanceTopup, Amount: 100},
	}
	for name, in := range cases {
		if _, err := env.payments.CreatePayment(context.Background(), in); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected ValidationError, got %v", name, err)
		}
	}
	if len(env.gateway.requests) != 0 || env.countPayments(t) != 0 {
		t.Fatalf("validation failures must have no side effects")
	}
}

func TestCreatePaymentSyntheticQRID(t *testing.T) {
	env := newTestEnv(t)
	env.addTerminal(t, env.venue.ID)
	env.gateway.result = &QRResult{QRURL: "https://qr.example/x"}

	payment, err := env.payments.CreatePayment(context.Background(), CreatePaymentInput{
		PaymentType: models.PaymentTypeTicket,
		Amount:      2500,
		VenueID:     &env.venue.ID,
	})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	if payment.QRID != "QR-"+payment.ID.String() {
		t.Fatalf("expected synthetic QR id, got %q", payment.QRID)
	}
}

func TestUpdateStatusStateMachine(t *testing.T) {
	env := newTestEnv(t)
	env.addTerminal(t, env.venue.ID)
	ctx := context.Background()

	payment, err := env.payments.CreatePayment(ctx, CreatePaymentInput{
		PaymentType: models.PaymentTypeTicket,
		Amount:      1000,
		VenueID:     &env.venue.ID,
	})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}

	updated, transitioned, err := env.payments.UpdateStatus(ctx, payment.ID, models.PaymentStatusProcessing, "")
	if err != nil || !transitioned || updated.Status != models.PaymentStatusProcessing {
		t.Fatalf("expected processing, got %v %v %v", updated, transitioned, err)
	}

	updated, transitioned, err = env.payments.UpdateStatus(ctx, payment.ID, models.PaymentStatusFailed, "tx-1")
	if err != nil || !transitioned {
		t.Fatalf("expected failed transition, got %v %v", transitioned, err)
	}
	if updated.ExternalID == nil || *updated.ExternalID != "tx-1" {
		t.Fatalf("expected external id to be stored")
	}
	if updated.PaidAt != nil {
		t.Fatalf("paid_at must only be set on completion")
	}

	updated, transitioned, err = env.payments.UpdateStatus(ctx, payment.ID, models.PaymentStatusCompleted, "tx-2")
	if err != nil {
		t.Fatalf("late completion should not error: %v", err)
	}
	if transitioned || updated.Status != models.PaymentStatusFailed {
		t.Fatalf("terminal status must not change, got %s", updated.Status)
	}

	_, _, err = env.payments.UpdateStatus(ctx, uuid.New(), models.PaymentStatusCompleted, "")
	if !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected PaymentNotFound, got %v", err)
	}
}

func TestUpdateStatusCompletedStampsPaidAt(t *testing.T) {
	env := newTestEnv(t)
	env.addTerminal(t, env.venue.ID)
	ctx := context.Background()

	payment, err := env.payments.CreatePayment(ctx, CreatePaymentInput{
		PaymentType: models.PaymentTypeTicket,
		Amount:      1000,
		VenueID:     &env.venue.ID,
	})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	env.clock.Advance(time.Minute)

	updated, transitioned, err := env.payments.UpdateStatus(ctx, payment.ID, models.PaymentStatusCompleted, "")
	if err != nil || !transitioned {
		t.Fatalf("complete: %v %v", transitioned, err)
	}
	if updated.PaidAt == nil || !updated.PaidAt.Equal(env.clock.Now()) {
		t.Fatalf("expected paid_at %s, got %v", env.clock.Now(), updated.PaidAt)
	}
	if len(env.notifier.payments) != 1 || env.notifier.payments[0].Status != models.PaymentStatusCompleted {
		t.Fatalf("expected one completion notification, got %+v", env.notifier.payments)
	}
}

func TestCompletedVenuePaymentChargesCommissionOnce(t *testing.T) {
	env := newTestEnv(t)
	env.addTerminal(t, env.venue.ID)
	ctx := context.Background()

	if _, err := env.billing.AddFunds(ctx, LedgerEntry{OwnerID: env.owner.ID, Amount: 10000, Kind: models.TransactionTopup}); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	payment, err := env.payments.CreatePayment(ctx, CreatePaymentInput{
		PaymentType: models.PaymentTypeDeposit,
		Amount:      100000,
		VenueID:     &env.venue.ID,
	})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, _, err := env.payments.UpdateStatus(ctx, payment.ID, models.PaymentStatusCompleted, "tx"); err != nil {
			t.Fatalf("complete #%d: %v", i, err)
		}
	}
	if err := env.billing.ProcessCommission(ctx, payment.ID); err != nil {
		t.Fatalf("repeat commission: %v", err)
	}

	if got := env.balanceOf(t, env.owner.ID); got != 9200 {
		t.Fatalf("expected 9200 after commission, got %d", got)
	}
	ledger := env.ledger(t, env.owner.ID)
	if len(ledger) != 2 || ledger[0].TransactionType != models.TransactionCommission || ledger[0].Amount != -800 {
		t.Fatalf("unexpected ledger %+v", ledger)
	}
}

func TestExpireOnlyTouchesStalePending(t *testing.T) {
	env := newTestEnv(t)
	env.addTerminal(t, env.venue.ID)
	ctx := context.Background()

	create := func() *models.Payment {
		p, err := env.payments.CreatePayment(ctx, CreatePaymentInput{
			PaymentType: models.PaymentTypeTicket,
			Amount:      1000,
			VenueID:     &env.venue.ID,
		})
		if err != nil {
			t.Fatalf("create payment: %v", err)
		}
		return p
	}

	stale := create()
	paid := create()
	if _, _, err := env.payments.UpdateStatus(ctx, paid.ID, models.PaymentStatusCompleted, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}
	env.clock.Advance(20 * time.Minute)
	fresh := create()

	due, err := env.payments.ExpiredPending(ctx, 10)
	if err != nil {
		t.Fatalf("expired pending: %v", err)
	}
	if len(due) != 1 || due[0].ID != stale.ID {
		t.Fatalf("expected only the stale payment, got %d", len(due))
	}

	for _, p := range []*models.Payment{stale, paid, fresh} {
		if _, err := env.payments.Expire(ctx, p.ID); err != nil {
			t.Fatalf("expire %s: %v", p.ID, err)
		}
	}

	want := map[uuid.UUID]models.PaymentStatus{
		stale.ID: models.PaymentStatusCancelled,
		paid.ID:  models.PaymentStatusCompleted,
		fresh.ID: models.PaymentStatusPending,
	}
	for id, status := range want {
		p, err := env.payments.GetPayment(ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if p.Status != status {
			t.Fatalf("payment %s: expected %s, got %s", id, status, p.Status)
		}
	}
	if len(env.gateway.cancelled) != 1 || env.gateway.cancelled[0] != stale.QRID {
		t.Fatalf("expected the stale QR to be revoked, got %v", env.gateway.cancelled)
	}
}

func TestReconcileAppliesGatewayStatus(t *testing.T) {
	env := newTestEnv(t)
	env.addTerminal(t, env.venue.ID)
	ctx := context.Background()

	payment, err := env.payments.CreatePayment(ctx, CreatePaymentInput{
		PaymentType: models.PaymentTypeTicket,
		Amount:      1000,
		VenueID:     &env.venue.ID,
	})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}

	env.gateway.status = "pending"
	if moved, err := env.payments.Reconcile(ctx, payment); err != nil || moved {
		t.Fatalf("pending status should be a no-op: %v %v", moved, err)
	}

	env.gateway.status = "success"
	if moved, err := env.payments.Reconcile(ctx, payment); err != nil || !moved {
		t.Fatalf("expected completion: %v %v", moved, err)
	}

	stored, err := env.payments.GetPayment(ctx, payment.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != models.PaymentStatusCompleted {
		t.Fatalf("expected completed, got %s", stored.Status)
	}
}
