package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/billingcore/internal/config"
	coupondomain "github.com/smallbiznis/billingcore/internal/coupon/domain"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/billingcore/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
	taxdomain "github.com/smallbiznis/billingcore/internal/tax/domain"
	walletdomain "github.com/smallbiznis/billingcore/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger, registry *prometheus.Registry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogMiddleware(log.Named("http")))
	r.Use(ErrorHandlingMiddleware())
	r.Use(ActorMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return r
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	genID           *snowflake.Node
	walletSvc       walletdomain.Service
	invoiceSvc      invoicedomain.Service
	couponSvc       coupondomain.Service
	taxSvc          taxdomain.Service
	subscriptionSvc subscriptiondomain.Service
	payments        paymentdomain.Orchestrator
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	GenID           *snowflake.Node
	WalletSvc       walletdomain.Service
	InvoiceSvc      invoicedomain.Service
	CouponSvc       coupondomain.Service
	TaxSvc          taxdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	Payments        paymentdomain.Orchestrator
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("server"),
		genID:           p.GenID,
		walletSvc:       p.WalletSvc,
		invoiceSvc:      p.InvoiceSvc,
		couponSvc:       p.CouponSvc,
		taxSvc:          p.TaxSvc,
		subscriptionSvc: p.SubscriptionSvc,
		payments:        p.Payments,
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Wallets --------
	api.GET("/wallets/:customer_id", s.GetWallet)
	api.GET("/wallets/:customer_id/transactions", s.ListWalletTransactions)
	api.POST("/wallets/:customer_id/credit", s.CreditWallet)
	api.POST("/wallets/:customer_id/debit", s.DebitWallet)
	api.GET("/wallets/:customer_id/topup-config", s.GetTopUpConfig)
	api.PUT("/wallets/:customer_id/topup-config", s.SetTopUpConfig)

	// -------- Invoices --------
	api.POST("/invoices", s.CreateInvoice)
	api.GET("/invoices", s.ListInvoices)
	api.GET("/invoices/:id", s.GetInvoiceByID)
	api.POST("/invoices/:id/items", s.AddInvoiceItem)
	api.POST("/invoices/:id/cancel", s.CancelInvoice)

	// -------- Payments --------
	api.POST("/payments", s.ProcessPayment)
	api.GET("/payments/:id", s.GetPaymentByID)
	api.GET("/invoices/:id/payments", s.ListPaymentsByInvoice)
	api.POST("/payments/:id/refund", s.RefundPayment)

	// -------- Coupons --------
	api.POST("/coupons/validate", s.ValidateCoupon)

	// -------- Subscriptions --------
	api.POST("/subscriptions", s.CreateSubscription)
	api.GET("/subscriptions", s.ListSubscriptions)
	api.GET("/subscriptions/:id", s.GetSubscriptionByID)
	api.POST("/subscriptions/:id/cancel", s.CancelSubscription)
	api.POST("/subscriptions/:id/pause", s.PauseSubscription)
	api.POST("/subscriptions/:id/resume", s.ResumeSubscription)
	api.POST("/subscriptions/:id/change-plan", s.ChangeSubscriptionPlan)
	api.POST("/subscriptions/:id/renew", s.RenewSubscription)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(RequireActorKind(actorKindsAdmin...))

	admin.POST("/wallets/:customer_id/adjust", s.AdjustWallet)

	admin.POST("/coupons", s.CreateCoupon)
	admin.GET("/coupons/:code", s.GetCouponByCode)
	admin.POST("/coupons/:code/deactivate", s.DeactivateCoupon)

	admin.POST("/subscriptions/:id/suspend", s.SuspendSubscription)

	admin.GET("/tax-rules", s.ListTaxRules)
	admin.POST("/tax-rules", s.CreateTaxRule)
	admin.PUT("/tax-rules/:id", s.UpdateTaxRule)
	admin.POST("/tax-rules/:id/disable", s.DisableTaxRule)

	admin.PUT("/payment-providers/:provider", s.UpsertPaymentProvider)
}

func (s *Server) registerWebhookRoutes() {
	// Providers sign their own deliveries; verification happens inside
	// IngestWebhook, so no actor gate here.
	s.engine.POST("/webhooks/:provider", s.HandlePaymentWebhook)
}
