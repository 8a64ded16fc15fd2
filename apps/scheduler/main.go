package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingcore/internal/catalog"
	"github.com/smallbiznis/billingcore/internal/clock"
	"github.com/smallbiznis/billingcore/internal/config"
	"github.com/smallbiznis/billingcore/internal/coupon"
	"github.com/smallbiznis/billingcore/internal/invoice"
	"github.com/smallbiznis/billingcore/internal/migration"
	"github.com/smallbiznis/billingcore/internal/notify"
	"github.com/smallbiznis/billingcore/internal/observability/metrics"
	"github.com/smallbiznis/billingcore/internal/payment"
	"github.com/smallbiznis/billingcore/internal/scheduler"
	"github.com/smallbiznis/billingcore/internal/subscription"
	"github.com/smallbiznis/billingcore/internal/tax"
	"github.com/smallbiznis/billingcore/internal/wallet"
	"github.com/smallbiznis/billingcore/pkg/db"
	"github.com/smallbiznis/billingcore/pkg/log"
	"go.uber.org/fx"
)

// The scheduler runs as its own process so sweep load never competes
// with API traffic. No server module here.
func main() {
	app := fx.New(
		config.Module,
		log.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		metrics.Module,
		migration.Module,

		catalog.Module,
		notify.Module,

		wallet.Module,
		tax.Module,
		coupon.Module,
		invoice.Module,
		payment.Module,
		subscription.Module,

		scheduler.Module,
		scheduler.RunModule,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
