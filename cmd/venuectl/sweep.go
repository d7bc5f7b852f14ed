package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/venuepay/internal/app"
	"github.com/example/venuepay/internal/config"
	"github.com/example/venuepay/internal/database"
	"github.com/example/venuepay/internal/tasks"
)

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one pass of a reconciliation job and exit",
	}

	cmd.AddCommand(sweepJobCmd("expire", "Cancel expired payments, poll open ones and retry lost commissions",
		func(a *app.App) tasks.Job {
			return tasks.Job{Name: tasks.JobReconcile, Run: a.PaymentTasks.Reconcile}
		}))
	cmd.AddCommand(sweepJobCmd("commissions", "Charge commissions of completed payments missing from the ledger",
		func(a *app.App) tasks.Job {
			return tasks.Job{Name: tasks.JobCommissions, Run: a.PaymentTasks.RetryCommissions}
		}))
	cmd.AddCommand(sweepJobCmd("subscriptions", "Charge this month's subscription to every owner",
		func(a *app.App) tasks.Job {
			return tasks.Job{Name: tasks.JobSubscriptions, Run: a.BillingTasks.ChargeSubscriptions}
		}))
	cmd.AddCommand(sweepJobCmd("low-balance", "Notify owners whose balance is under the threshold",
		func(a *app.App) tasks.Job {
			return tasks.Job{Name: tasks.JobLowBalance, Run: a.BillingTasks.NotifyLowBalances}
		}))

	return cmd
}

func sweepJobCmd(use, short string, job func(*app.App) tasks.Job) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			db, err := database.Connect(cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database: %w", err)
			}

			core, err := app.New(cfg, db, nil)
			if err != nil {
				return err
			}
			defer core.Close()

			scheduler := tasks.NewScheduler(nil)
			report, err := scheduler.RunOnce(context.Background(), job(core))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report)
			return nil
		},
	}
}
