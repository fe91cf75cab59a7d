package main

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/folio/internal/audit"
	"github.com/smallbiznis/folio/internal/cache"
	"github.com/smallbiznis/folio/internal/catalog"
	"github.com/smallbiznis/folio/internal/checkout"
	"github.com/smallbiznis/folio/internal/clock"
	"github.com/smallbiznis/folio/internal/config"
	"github.com/smallbiznis/folio/internal/download"
	"github.com/smallbiznis/folio/internal/fulfillment"
	"github.com/smallbiznis/folio/internal/migration"
	"github.com/smallbiznis/folio/internal/notification"
	"github.com/smallbiznis/folio/internal/observability"
	"github.com/smallbiznis/folio/internal/payment"
	"github.com/smallbiznis/folio/internal/providers"
	"github.com/smallbiznis/folio/internal/purchase"
	"github.com/smallbiznis/folio/internal/ratelimit"
	"github.com/smallbiznis/folio/pkg/db"
	"go.uber.org/fx"
)

const commandTimeout = 2 * time.Minute

// infrastructure is shared by every command that touches the database.
func infrastructure() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		cache.Module,
	)
}

// storefront wires the domain services behind the HTTP API.
func storefront() fx.Option {
	return fx.Options(
		catalog.Module,
		purchase.Module,
		payment.Module,
		checkout.Module,
		providers.Module,
		notification.Module,
		fulfillment.Module,
		download.Module,
		ratelimit.Module,
		audit.Module,
	)
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

// runOnce starts app, runs fn and stops the app again.
func runOnce(app *fx.App, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return err
	}
	runErr := fn(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		return err
	}
	return runErr
}

// migrationOnly applies the schema and nothing else.
func migrationOnly() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		db.Module,
		migration.Module,
	)
}
