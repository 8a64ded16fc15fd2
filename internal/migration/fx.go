package migration

import (
	"github.com/smallbiznis/billingcore/internal/config"
	coupondomain "github.com/smallbiznis/billingcore/internal/coupon/domain"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/billingcore/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
	taxdomain "github.com/smallbiznis/billingcore/internal/tax/domain"
	walletdomain "github.com/smallbiznis/billingcore/internal/wallet/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		return conn.AutoMigrate(
			&walletdomain.Account{},
			&walletdomain.Transaction{},
			&walletdomain.TopUpConfig{},
			&invoicedomain.Invoice{},
			&invoicedomain.InvoiceItem{},
			&invoicedomain.Sequence{},
			&coupondomain.Coupon{},
			&coupondomain.Redemption{},
			&taxdomain.Rule{},
			&subscriptiondomain.Subscription{},
			&paymentdomain.Payment{},
			&paymentdomain.Refund{},
			&paymentdomain.EventRecord{},
			&paymentdomain.ProviderConfig{},
		)
	}),
)
