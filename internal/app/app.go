package app

import (
	"context"
	"fmt"
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/example/venuepay/internal/clock"
	"github.com/example/venuepay/internal/config"
	"github.com/example/venuepay/internal/metrics"
	"github.com/example/venuepay/internal/services"
	"github.com/example/venuepay/internal/tasks"
)

// App holds the constructed payment core.
type App struct {
	Config  *config.Config
	DB      *gorm.DB
	Metrics *metrics.Metrics

	Venues    *services.VenueService
	Terminals *services.TerminalService
	Billing   *services.BillingService
	Payments  *services.PaymentService
	Deposits  *services.DepositService
	Webhooks  *services.WebhookService
	Refunds   *services.RefundService

	PaymentTasks *tasks.PaymentTasks
	BillingTasks *tasks.BillingTasks
	Commissions  *tasks.CommissionPool

	closers []func() error
}

// New builds every service from cfg. reg may be nil to skip metrics.
func New(cfg *config.Config, db *gorm.DB, reg prometheus.Registerer) (*App, error) {
	a := &App{Config: cfg, DB: db}
	if reg != nil {
		a.Metrics = metrics.New(reg)
	}

	encryption, err := services.NewEncryptionService(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}

	notifier, err := a.buildNotifier()
	if err != nil {
		a.Close()
		return nil, err
	}

	clk := clock.RealClock{}
	gateway := services.NewQRManagerClient(cfg.QRManagerURL, cfg.QRManagerTimeout, a.Metrics)

	a.Venues = services.NewVenueService(db)
	a.Terminals = services.NewTerminalService(db, a.Venues, encryption)
	a.Billing = services.NewBillingService(db, services.BillingSettings{
		SubscriptionFee:     cfg.SubscriptionFee,
		LowBalanceThreshold: cfg.LowBalanceThreshold,
	}, notifier, clk, a.Metrics)
	a.Payments = services.NewPaymentService(db, gateway, a.Terminals, a.Billing, notifier, services.PaymentSettings{
		CommissionRate:  cfg.CommissionRate,
		Expiration:      cfg.PaymentExpiration,
		APIBaseURL:      cfg.APIBaseURL,
		GuestPortalURL:  cfg.GuestPortalURL,
		QRSize:          cfg.QRSize,
		PlatformVenueID: cfg.PlatformVenueID,
	}, clk, a.Metrics)
	a.Deposits = services.NewDepositService(a.Venues, a.Payments)
	a.Webhooks = services.NewWebhookService(a.Payments, a.Metrics)
	a.Refunds = services.NewRefundService(db, a.Billing, notifier, clk)

	a.PaymentTasks = tasks.NewPaymentTasks(a.Payments, a.Metrics)
	a.BillingTasks = tasks.NewBillingTasks(a.Billing, a.Metrics)
	a.Commissions = tasks.NewCommissionPool(a.Billing, cfg.CommissionWorkers)
	a.Payments.SetCommissionScheduler(a.Commissions)

	return a, nil
}

func (a *App) buildNotifier() (services.Notifier, error) {
	cfg := a.Config
	sinks := services.Notifiers{services.LogNotifier{}}

	if cfg.TelegramBotToken != "" && cfg.TelegramAdminChat != "" {
		sinks = append(sinks, services.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramAdminChat))
		log.Printf("[App] Telegram notifications enabled")
	}

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := services.NewKafkaProducer(cfg.KafkaBrokers)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		kafka := services.NewKafkaNotifier(producer, cfg.KafkaTopic)
		a.closers = append(a.closers, kafka.Close)
		sinks = append(sinks, kafka)
		log.Printf("[App] Kafka notifications enabled on topic %s", cfg.KafkaTopic)
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			log.Printf("[App] Redis %s unreachable, publishing anyway: %v", cfg.RedisAddr, err)
		}
		a.closers = append(a.closers, client.Close)
		sinks = append(sinks, services.NewRedisNotifier(client, cfg.RedisChannel))
		log.Printf("[App] Redis notifications enabled on channel %s", cfg.RedisChannel)
	}

	return sinks, nil
}

// Jobs are the periodic reconciliation sweeps.
func (a *App) Jobs() []tasks.Job {
	return []tasks.Job{
		{Name: tasks.JobReconcile, Interval: a.Config.ExpireSweepInterval, Run: a.PaymentTasks.Reconcile},
		{Name: tasks.JobSubscriptions, Interval: a.Config.SubscriptionSweepInterval, Run: a.BillingTasks.ChargeSubscriptions},
		{Name: tasks.JobLowBalance, Interval: a.Config.LowBalanceSweepInterval, Run: a.BillingTasks.NotifyLowBalances},
	}
}

// Close releases notifier connections.
func (a *App) Close() {
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			log.Printf("[App] close: %v", err)
		}
	}
}
