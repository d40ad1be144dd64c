package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/classpay/internal/authorization"
	"github.com/smallbiznis/classpay/internal/cache"
	"github.com/smallbiznis/classpay/internal/config"
	"github.com/smallbiznis/classpay/internal/enrollment"
	enrollmentdomain "github.com/smallbiznis/classpay/internal/enrollment/domain"
	"github.com/smallbiznis/classpay/internal/invoice"
	invoicedomain "github.com/smallbiznis/classpay/internal/invoice/domain"
	"github.com/smallbiznis/classpay/internal/messaging"
	"github.com/smallbiznis/classpay/internal/observability"
	obslogger "github.com/smallbiznis/classpay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/classpay/internal/observability/metrics"
	obstracing "github.com/smallbiznis/classpay/internal/observability/tracing"
	"github.com/smallbiznis/classpay/internal/payment"
	paymentdomain "github.com/smallbiznis/classpay/internal/payment/domain"
	"github.com/smallbiznis/classpay/internal/providers"
	"github.com/smallbiznis/classpay/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	cache.Module,
	messaging.Module,
	providers.Module,
	ratelimit.Module,
	payment.Module,
	enrollment.Module,
	invoice.Module,
	fx.Provide(NewServer),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	authzSvc   authorization.Service
	paymentSvc paymentdomain.Service
	webhookSvc paymentdomain.WebhookService
	rosterSvc  enrollmentdomain.Service
	invoiceSvc invoicedomain.Service
	limiter    *ratelimit.Limiter
	obsMetrics *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	AuthzSvc   authorization.Service
	PaymentSvc paymentdomain.Service
	WebhookSvc paymentdomain.WebhookService
	RosterSvc  enrollmentdomain.Service
	InvoiceSvc invoicedomain.Service
	Limiter    *ratelimit.Limiter   `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("http.server"),
		authzSvc:   p.AuthzSvc,
		paymentSvc: p.PaymentSvc,
		webhookSvc: p.WebhookSvc,
		rosterSvc:  p.RosterSvc,
		invoiceSvc: p.InvoiceSvc,
		limiter:    p.Limiter,
		obsMetrics: p.ObsMetrics,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	webhooks := s.engine.Group("/webhooks")
	webhooks.POST("/:provider", s.WebhookRateLimit(), s.HandlePaymentWebhook)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", ActorContext(), s.ActorRequired())

	// -------- Payments --------
	api.POST("/payments", s.PaymentCreateRateLimit(), s.CreatePayment)
	api.POST("/payments/manual", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentManage), s.CreateSettledPayment)
	api.GET("/payments/:id", s.GetPayment)
	api.POST("/payments/:id/refund", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentManage), s.RefundPayment)
	api.POST("/payments/:id/line-items", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentManage), s.AddLineItem)
	api.DELETE("/payments/:id/line-items/:index", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentManage), s.RemoveLineItem)

	// -------- Rosters --------
	api.POST("/classes/:id/students/:studentId", s.authorize(authorization.ObjectEnrollment, authorization.ActionEnrollmentManage), s.EnrollStudent)
	api.DELETE("/classes/:id/students/:studentId", s.authorize(authorization.ObjectEnrollment, authorization.ActionEnrollmentManage), s.UnenrollStudent)
	api.GET("/classes/:id/students/:studentId", s.EnrollmentStatus)
	api.POST("/classes/:id/teachers/:teacherId", s.authorize(authorization.ObjectEnrollment, authorization.ActionRosterManage), s.AssignTeacher)
	api.DELETE("/classes/:id/teachers/:teacherId", s.authorize(authorization.ObjectEnrollment, authorization.ActionRosterManage), s.UnassignTeacher)

	// -------- Invoices --------
	api.POST("/payments/:id/invoice", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceIssue), s.IssueInvoice)
	api.GET("/payments/:id/invoice.pdf", s.DownloadInvoicePDF)
	api.POST("/invoices/batch", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceIssue), s.IssueInvoiceBatch)
	api.GET("/invoices/pending/count", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceIssue), s.CountPendingInvoices)
}
