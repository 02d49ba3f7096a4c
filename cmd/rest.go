package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/AzielCF/az-restyle/core/config"
	"github.com/AzielCF/az-restyle/pkg/metrics"
	"github.com/AzielCF/az-restyle/ui/rest"
	"github.com/AzielCF/az-restyle/ui/rest/middleware"
	"github.com/AzielCF/az-restyle/ui/websocket"
)

var restCmd = &cobra.Command{
	Use:   "rest",
	Short: "Serve the restyling API over http",
	Run:   restServer,
}

func init() {
	rootCmd.AddCommand(restCmd)
}

func restServer(_ *cobra.Command, _ []string) {
	cfg := config.Global
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := buildServices(ctx, cfg)
	if err != nil {
		logrus.Fatalf("failed to start services: %v", err)
	}
	svc.start(ctx)

	fiberConfig := fiber.Config{
		EnableTrustedProxyCheck: true,
		BodyLimit:               rest.UploadBodyLimit(cfg.Pipeline.MaxUploadBytes),
		Network:                 "tcp",
		AppName:                 "Restyle",
		ServerHeader:            "Hidden",
		ErrorHandler:            middleware.ErrorHandler,
	}
	if len(cfg.App.TrustedProxies) > 0 {
		fiberConfig.TrustedProxies = cfg.App.TrustedProxies
		fiberConfig.ProxyHeader = fiber.HeaderXForwardedFor
	}

	app := fiber.New(fiberConfig)
	app.Use(requestid.New())

	origins := strings.Join(cfg.App.CorsAllowedOrigins, ", ")
	if !strings.Contains(origins, cfg.App.BaseUrl) {
		origins = strings.TrimPrefix(origins+", "+cfg.App.BaseUrl, ", ")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowHeaders:  "Origin, Content-Type, Accept, X-Request-ID, " + middleware.HeaderSessionID,
		ExposeHeaders: strings.Join([]string{middleware.HeaderSessionID, middleware.HeaderRateLimitLimit, middleware.HeaderRateLimitRemaining, middleware.HeaderRateLimitReset, fiber.HeaderRetryAfter}, ", "),
	}))
	app.Use(middleware.Recovery())
	app.Use(helmet.New(helmet.Config{
		XSSProtection:             "1; mode=block",
		ContentTypeNosniff:        "nosniff",
		XFrameOptions:             "SAMEORIGIN",
		HSTSMaxAge:                31536000,
		ReferrerPolicy:            "strict-origin-when-cross-origin",
		CrossOriginResourcePolicy: "cross-origin",
	}))

	// Coarse flood guard in front of the per-class quotas.
	app.Use(limiter.New(limiter.Config{
		Max:        1000,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
	}))
	if cfg.App.Debug {
		app.Use(logger.New())
	}
	app.Use(middleware.Metrics())

	app.Static(cfg.App.BasePath+cfg.Storage.PublicPath, svc.store.Dir(), fiber.Static{MaxAge: 3600})
	app.Static(cfg.App.BasePath+"/statics", cfg.Paths.Statics)
	app.Get(cfg.App.BasePath+"/metrics", adaptor.HTTPHandler(metrics.Handler()))

	apiGroup := app.Group(cfg.App.BasePath + "/api")
	sessions := middleware.Session(svc.ledger)

	rest.InitRestCatalog(apiGroup, svc.catalog, svc.quotas)
	rest.InitRestTransform(apiGroup, svc.pipeline, svc.quotas, sessions)
	rest.InitRestSession(apiGroup, svc.ledger, svc.records, svc.quotas, sessions)
	rest.InitRestHealth(apiGroup, &rest.Health{
		Version:   cfg.App.Version,
		StartedAt: svc.startedAt,
		Sessions:  svc.ledger,
		Cache:     svc.cache,
		Quotas:    svc.quotas,
		Recorder:  svc.recorder,
		Checks:    svc.healthChecks(),
		Tasks:     svc.scheduler.Tasks,
	})
	websocket.RegisterRoutes(apiGroup, svc.hub, svc.ledger)

	apiGroup.All("/*", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "API Endpoint not found",
			"path":  c.Path(),
		})
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logrus.Info("[REST] Reception of termination signal, shutting down gracefully...")
		if err := app.ShutdownWithTimeout(cfg.Pipeline.TransformTimeout + 5*time.Second); err != nil {
			logrus.Errorf("[REST] Error during Fiber shutdown: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.App.Port); err != nil {
		logrus.Errorf("[REST] Failed to start: %v", err)
	}

	// Drain the recorder while ctx is still live, then stop the background loops.
	svc.stop()
	cancel()
}

// healthChecks pings each external collaborator.
func (s *services) healthChecks() map[string]rest.Check {
	checks := map[string]rest.Check{
		"database": func(ctx context.Context) error {
			sqlDB, err := s.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if s.valkey != nil {
		checks["valkey"] = s.valkey.Ping
	}
	return checks
}
