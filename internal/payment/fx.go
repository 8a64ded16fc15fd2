package payment

import (
	"github.com/smallbiznis/billingcore/internal/payment/adapters"
	"github.com/smallbiznis/billingcore/internal/payment/router"
	"github.com/smallbiznis/billingcore/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment",
	adapters.Module,
	router.Module,
	fx.Provide(service.NewService),
)
