package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/folio/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/folio/internal/catalog/domain"
	checkoutdomain "github.com/smallbiznis/folio/internal/checkout/domain"
	"github.com/smallbiznis/folio/internal/clock"
	"github.com/smallbiznis/folio/internal/config"
	downloaddomain "github.com/smallbiznis/folio/internal/download/domain"
	"github.com/smallbiznis/folio/internal/fulfillment"
	"github.com/smallbiznis/folio/internal/notification"
	"github.com/smallbiznis/folio/internal/observability"
	obslogger "github.com/smallbiznis/folio/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/folio/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/folio/internal/payment/domain"
	purchasedomain "github.com/smallbiznis/folio/internal/purchase/domain"
	"github.com/smallbiznis/folio/internal/ratelimit"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewAdminAuth),
	fx.Provide(func(s *fulfillment.Service) ConfirmationResender { return s }),
	fx.Provide(func(s *notification.Service) ReceiptRenderer { return s }),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, m *obsmetrics.Metrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(obsCfg.ServiceName))
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obsmetrics.GinMiddleware(m))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, m *obsmetrics.Metrics) *gin.Engine {
	return NewEngine(obsCfg, m)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
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

// ConfirmationResender is the admin recovery path for confirmation emails.
type ConfirmationResender interface {
	Resend(ctx context.Context, purchaseID snowflake.ID) error
}

// ReceiptRenderer renders the PDF receipt for a download token.
type ReceiptRenderer interface {
	ReceiptForToken(ctx context.Context, token string) (io.Reader, string, error)
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	log         *zap.Logger
	clock       clock.Clock
	catalogSvc  catalogdomain.Service
	checkoutSvc checkoutdomain.Service
	webhookSvc  paymentdomain.Service
	downloadSvc downloaddomain.Service
	purchaseSvc purchasedomain.Service
	resender    ConfirmationResender
	receipts    ReceiptRenderer
	limiter     *ratelimit.Limiter
	adminAuth   *AdminAuth
	audit       auditdomain.Service
	obsMetrics  *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Log         *zap.Logger
	Clock       clock.Clock
	CatalogSvc  catalogdomain.Service
	CheckoutSvc checkoutdomain.Service
	WebhookSvc  paymentdomain.Service
	DownloadSvc downloaddomain.Service
	PurchaseSvc purchasedomain.Service
	Resender    ConfirmationResender
	Receipts    ReceiptRenderer
	AdminAuth   *AdminAuth
	Limiter     *ratelimit.Limiter  `optional:"true"`
	Audit       auditdomain.Service `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		log:         p.Log.Named("http.server"),
		clock:       p.Clock,
		catalogSvc:  p.CatalogSvc,
		checkoutSvc: p.CheckoutSvc,
		webhookSvc:  p.WebhookSvc,
		downloadSvc: p.DownloadSvc,
		purchaseSvc: p.PurchaseSvc,
		resender:    p.Resender,
		receipts:    p.Receipts,
		limiter:     p.Limiter,
		adminAuth:   p.AdminAuth,
		audit:       p.Audit,
		obsMetrics:  p.ObsMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Catalog --------
	api.GET("/books", s.ListBooks)
	api.GET("/books/:id", s.GetBook)
	api.POST("/books/:id/ratings", s.RateLimit(ratelimit.EndpointRating), s.RateBook)
	api.GET("/genres", s.ListGenres)
	api.GET("/top-sellers", s.TopSellers)

	// -------- Checkout --------
	api.POST("/checkout", s.RateLimit(ratelimit.EndpointCheckout), s.CreateCheckout)

	// -------- Payment Webhooks --------
	api.POST("/webhooks/:provider", s.HandlePaymentWebhook)

	// -------- Downloads --------
	api.GET("/downloads/:token/:book_id", s.RateLimit(ratelimit.EndpointDownload), s.Download)
	api.GET("/purchases/receipt", s.RateLimit(ratelimit.EndpointDownload), s.GetReceipt)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.POST("/login", s.AdminLogin)

	admin.Use(s.AdminRequired())

	admin.GET("/books", s.ListBooks)
	admin.POST("/books", s.CreateBook)
	admin.GET("/books/:id", s.GetBook)
	admin.PUT("/books/:id", s.UpdateBook)
	admin.DELETE("/books/:id", s.DeleteBook)

	admin.GET("/genres", s.ListGenres)
	admin.POST("/genres", s.CreateGenre)
	admin.DELETE("/genres/:id", s.DeleteGenre)

	admin.GET("/purchases", s.ListPurchases)
	admin.GET("/purchases/:id", s.GetPurchase)
	admin.POST("/purchases/:id/resend-confirmation", s.ResendConfirmation)
	admin.DELETE("/purchases/failed", s.PurgeFailedPurchases)

	admin.GET("/sales", s.GetSalesSummary)
	admin.GET("/audit-logs", s.ListAuditLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
