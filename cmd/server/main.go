package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/example/venuepay/internal/app"
	"github.com/example/venuepay/internal/config"
	"github.com/example/venuepay/internal/database"
	"github.com/example/venuepay/internal/routes"
	"github.com/example/venuepay/internal/tasks"
)

func main() {
	cfg := config.Load()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	core, err := app.New(cfg, db, registry)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer core.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	core.Commissions.Start(ctx)
	scheduler := tasks.NewScheduler(core.Metrics, core.Jobs()...)
	scheduler.Start(ctx)

	server := fiber.New(fiber.Config{
		AppName: "VenuePay Backend",
	})

	server.Use(recover.New())
	server.Use(logger.New())

	routes.Register(server, routes.Deps{
		JWTSecret:     cfg.JWTSecret,
		WebhookSecret: cfg.WebhookSecret,
		Gatherer:      registry,
		Payments:      core.Payments,
		Deposits:      core.Deposits,
		Billing:       core.Billing,
		Terminals:     core.Terminals,
		Venues:        core.Venues,
		Webhooks:      core.Webhooks,
		Refunds:       core.Refunds,
	})

	go func() {
		<-ctx.Done()
		log.Printf("Shutting down")
		if err := server.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("fiber shutdown: %v", err)
		}
	}()

	log.Printf("Starting server on :%s", cfg.AppPort)
	if err := server.Listen(":" + cfg.AppPort); err != nil {
		log.Fatalf("fiber.Listen error: %v", err)
	}

	scheduler.Wait()
	core.Commissions.Stop()
}
