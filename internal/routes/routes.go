package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/venuepay/internal/handlers"
	"github.com/example/venuepay/internal/middleware"
	"github.com/example/venuepay/internal/models"
	"github.com/example/venuepay/internal/services"
)

// Deps are the services the HTTP surface needs.
type Deps struct {
	JWTSecret     string
	WebhookSecret string
	Gatherer      prometheus.Gatherer

	Payments  *services.PaymentService
	Deposits  *services.DepositService
	Billing   *services.BillingService
	Terminals *services.TerminalService
	Venues    *services.VenueService
	Webhooks  *services.WebhookService
	Refunds   *services.RefundService
}

// Register wires up all HTTP routes.
func Register(app *fiber.App, deps Deps) {
	paymentHandler := handlers.NewPaymentHandler(deps.Payments, deps.Venues)
	depositHandler := handlers.NewDepositHandler(deps.Deposits)
	balanceHandler := handlers.NewBalanceHandler(deps.Billing, deps.Payments)
	terminalHandler := handlers.NewTerminalHandler(deps.Terminals, deps.Venues)
	webhookHandler := handlers.NewWebhookHandler(deps.Webhooks)
	refundHandler := handlers.NewRefundHandler(deps.Refunds)

	if deps.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api := app.Group("/api")
	auth := middleware.AuthMiddleware(deps.JWTSecret)

	// Guest deposits
	deposits := api.Group("/deposits")
	deposits.Post("/", depositHandler.CreateDeposit)
	deposits.Get("/:id/public", depositHandler.GetPublic)

	// Payments
	payments := api.Group("/payments", auth)
	payments.Post("/", paymentHandler.CreatePayment)
	payments.Get("/", paymentHandler.ListPayments)
	payments.Get("/:id", paymentHandler.GetPayment)
	payments.Put("/:id/status", middleware.RequireRole(models.RoleAdmin), paymentHandler.UpdateStatus)

	// Refunds
	refunds := api.Group("/refunds", auth)
	refunds.Post("/", refundHandler.CreateRefund)
	refunds.Get("/", refundHandler.ListRefunds)
	refunds.Get("/:id", refundHandler.GetRefund)
	refunds.Put("/:id", middleware.RequireRole(models.RoleOwner), refundHandler.UpdateRefund)

	// Owner ledger
	balance := api.Group("/balance", auth, middleware.RequireRole(models.RoleOwner))
	balance.Get("/", balanceHandler.GetBalance)
	balance.Post("/topup", balanceHandler.Topup)
	balance.Get("/transactions", balanceHandler.ListTransactions)

	// Terminals
	terminals := api.Group("/terminals", auth, middleware.RequireRole(models.RoleOwner))
	terminals.Post("/", terminalHandler.CreateTerminal)
	terminals.Get("/", terminalHandler.ListTerminals)
	terminals.Post("/:id/deactivate", terminalHandler.DeactivateTerminal)

	// Gateway callbacks
	webhooks := api.Group("/webhooks", middleware.WebhookSecretMiddleware(deps.WebhookSecret))
	webhooks.Post("/payment/callback", webhookHandler.PaymentCallback)
}
