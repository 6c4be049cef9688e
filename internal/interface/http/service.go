package httpservice

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/shiro-wallet/shirod/internal/config"
	"github.com/shiro-wallet/shirod/internal/core/application"
	"github.com/shiro-wallet/shirod/internal/core/ports"
	interfaces "github.com/shiro-wallet/shirod/internal/interface"
	"github.com/shiro-wallet/shirod/internal/interface/http/handlers"
	"github.com/shiro-wallet/shirod/internal/interface/http/middleware"
	"github.com/shiro-wallet/shirod/internal/telemetry"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const (
	readTimeout     = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

type service struct {
	version       string
	appConfig     *config.Config
	app           *fiber.App
	appSvcStarted atomic.Bool
	otelShutdown  func(context.Context) error
}

func NewService(version string, appConfig *config.Config) (interfaces.Service, error) {
	if err := appConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid app config: %s", err)
	}
	return &service{
		version:   version,
		appConfig: appConfig,
	}, nil
}

func (s *service) Start() error {
	if s.appConfig.OtelCollectorEndpoint != "" {
		otelShutdown, err := telemetry.InitOtelSDK(
			context.Background(),
			s.appConfig.OtelCollectorEndpoint,
			s.appConfig.OtelPushIntervalDuration(),
			s.version,
		)
		if err != nil {
			return err
		}
		s.otelShutdown = otelShutdown
	}

	appSvc, err := s.startAppService()
	if err != nil {
		return err
	}

	s.app = newApp(
		handlers.NewHandler(s.version, appSvc, s.appConfig.HeartbeatDuration()),
		s.appConfig.IdempotencyStore(), s.appConfig.IdempotencyTTLDuration(),
	)

	address := fmt.Sprintf(":%d", s.appConfig.Port)
	go func() {
		if err := s.app.Listen(address); err != nil {
			log.WithError(err).Error("http server stopped")
		}
	}()
	log.Infof("started listening at %s", address)

	if s.appConfig.UnlockerService() != nil {
		return s.autoUnlock(appSvc)
	}
	return nil
}

func (s *service) Stop() {
	if s.app != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			log.WithError(err).Warn("failed to gracefully shutdown http server")
		}
	}

	if s.appSvcStarted.CompareAndSwap(true, false) {
		appSvc, _ := s.appConfig.AppService()
		if appSvc != nil {
			appSvc.Stop()
		}
	}
	if store := s.appConfig.IdempotencyStore(); store != nil {
		store.Close()
	}
	if s.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.otelShutdown(ctx); err != nil {
			log.Errorf("failed to shutdown otel: %s", err)
		}
		s.otelShutdown = nil
		log.Info("otel shutdown")
	}
	log.Info("shutdown service")
}

func (s *service) startAppService() (application.Service, error) {
	appSvc, err := s.appConfig.AppService()
	if err != nil {
		return nil, fmt.Errorf("failed to create app service: %w", err)
	}
	if !s.appSvcStarted.CompareAndSwap(false, true) {
		return appSvc, nil
	}
	if err := appSvc.Start(); err != nil {
		s.appSvcStarted.Store(false)
		return nil, fmt.Errorf("failed to start app service: %w", err)
	}
	log.Info("started app service")
	return appSvc, nil
}

func (s *service) autoUnlock(appSvc application.Service) error {
	ctx := context.Background()

	status := appSvc.GetStatus(ctx)
	if !status.IsInitialized {
		log.Debug("wallet not initialized, skipping auto unlock")
		return nil
	}
	if status.IsUnlocked {
		return nil
	}

	password, err := s.appConfig.UnlockerService().GetPassword(ctx)
	if err != nil {
		return fmt.Errorf("failed to get password: %s", err)
	}
	if err := appSvc.Unlock(ctx, password); err != nil {
		return fmt.Errorf("failed to auto unlock: %s", err)
	}

	log.Debug("service auto unlocked")
	return nil
}

func newApp(h *handlers.Handler, store ports.IdempotencyStore, ttl time.Duration) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "shirod",
		ReadTimeout:           readTimeout,
		ErrorHandler:          handlers.ErrorHandler,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Authorization,Accept,Accept-Encoding,Content-Type,Content-Length," +
			middleware.IdempotencyKeyHeader + "," + middleware.RequestIDHeader,
		MaxAge: 3600,
	}))
	app.Use(middleware.Telemetry(
		otel.GetTracerProvider(), otel.GetMeterProvider(), otel.GetTextMapPropagator(),
	))
	app.Use(middleware.RequestID())
	app.Use(middleware.Logger())
	if store != nil {
		app.Use(middleware.Idempotency(store, ttl))
	}

	h.Register(app)
	return app
}
