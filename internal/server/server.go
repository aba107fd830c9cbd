package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/admitpay/internal/audit"
	auditdomain "github.com/smallbiznis/admitpay/internal/audit/domain"
	"github.com/smallbiznis/admitpay/internal/clock"
	"github.com/smallbiznis/admitpay/internal/config"
	"github.com/smallbiznis/admitpay/internal/ledger"
	"github.com/smallbiznis/admitpay/internal/observability"
	obsmiddleware "github.com/smallbiznis/admitpay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/admitpay/internal/observability/metrics"
	obstracing "github.com/smallbiznis/admitpay/internal/observability/tracing"
	"github.com/smallbiznis/admitpay/internal/payment"
	paymentdomain "github.com/smallbiznis/admitpay/internal/payment/domain"
	"github.com/smallbiznis/admitpay/internal/ratelimit"
	"github.com/smallbiznis/admitpay/internal/subscription"
	"github.com/smallbiznis/admitpay/internal/user"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	audit.Module,
	user.Module,
	ledger.Module,
	subscription.Module,
	ratelimit.Module,
	payment.Module,
	fx.Provide(NewServer),
	fx.Invoke(run),
)

const shutdownTimeout = 10 * time.Second

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) (*gin.Engine, error) {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := NewEngine(obsCfg, httpMetrics)
	// ClientIP feeds the webhook allow-list, so forwarded headers count only
	// from configured proxies.
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}
	return r, nil
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	db             *gorm.DB
	log            *zap.Logger
	clock          clock.Clock
	auditSvc       auditdomain.Service
	sessionSvc     paymentdomain.SessionService
	webhookSvc     paymentdomain.WebhookService
	attemptGate    *ratelimit.AttemptGate
	ingressLimiter *ratelimit.WebhookIngressLimiter
	obsMetrics     *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	DB             *gorm.DB
	Log            *zap.Logger
	Clock          clock.Clock
	AuditSvc       auditdomain.Service
	SessionSvc     paymentdomain.SessionService
	WebhookSvc     paymentdomain.WebhookService
	AttemptGate    *ratelimit.AttemptGate           `optional:"true"`
	IngressLimiter *ratelimit.WebhookIngressLimiter `optional:"true"`
	ObsMetrics     *obsmetrics.Metrics              `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		db:             p.DB,
		log:            p.Log.Named("http.server"),
		clock:          p.Clock,
		auditSvc:       p.AuditSvc,
		sessionSvc:     p.SessionSvc,
		webhookSvc:     p.WebhookSvc,
		attemptGate:    p.AttemptGate,
		ingressLimiter: p.IngressLimiter,
		obsMetrics:     p.ObsMetrics,
	}
	svc.registerAPIRoutes()
	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Payment Sessions --------
	api.POST("/payments/sessions", LimitBody(maxJSONBodyBytes), s.SessionAttemptLimit(), s.CreatePaymentSession)

	// -------- Payment Webhooks --------
	api.POST("/payments/webhooks/:provider", LimitBody(maxWebhookBodyBytes), s.WebhookIngressLimit(), s.HandlePaymentWebhook)

	// -------- Admin --------
	if s.cfg.AdminToken != "" {
		admin := api.Group("/admin", s.AdminTokenRequired())
		admin.GET("/audit-logs", s.ListAuditLogs)
	}
}
