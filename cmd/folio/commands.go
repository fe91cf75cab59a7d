package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/folio/internal/fulfillment"
	"github.com/smallbiznis/folio/internal/migration"
	"github.com/smallbiznis/folio/internal/purchase"
	"github.com/smallbiznis/folio/internal/ratelimit"
	"github.com/smallbiznis/folio/internal/scheduler"
	"github.com/smallbiznis/folio/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the storefront API and the background scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				infrastructure(),
				migration.Module,
				storefront(),
				scheduler.Module,
				server.Module,
			)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(migrationOnly(), fx.NopLogger)
			return runOnce(app, func(context.Context) error { return nil })
		},
	}
}

func expirePendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire-pending",
		Short: "Fail pending purchases whose checkout was abandoned",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				sched *scheduler.Scheduler
				log   *zap.Logger
			)
			app := fx.New(
				infrastructure(),
				purchase.Module,
				ratelimit.Module,
				fx.Provide(scheduler.ProvideConfig, scheduler.New),
				fx.Populate(&sched, &log),
				fx.NopLogger,
			)
			return runOnce(app, func(ctx context.Context) error {
				expired, err := sched.ExpirePending(ctx)
				if err != nil {
					return err
				}
				log.Info("pending purchases expired", zap.Int("count", expired))
				fmt.Fprintf(cmd.OutOrStdout(), "expired %d pending purchases\n", expired)
				return nil
			})
		},
	}
}

func resendConfirmationCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resend-confirmation <purchase-id>",
		Short: "Send the purchase confirmation email again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := snowflake.ParseString(strings.TrimSpace(args[0]))
			if err != nil || id == 0 {
				return fmt.Errorf("invalid purchase id %q", args[0])
			}

			var svc *fulfillment.Service
			app := fx.New(
				infrastructure(),
				storefront(),
				fx.Populate(&svc),
				fx.NopLogger,
			)
			return runOnce(app, func(ctx context.Context) error {
				if err := svc.Resend(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "confirmation sent for purchase %s\n", id)
				return nil
			})
		},
	}
}
