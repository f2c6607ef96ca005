package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/mailroomd/mailroom/internal/channel/smtp"
	"github.com/mailroomd/mailroom/internal/config"
	"github.com/mailroomd/mailroom/internal/dispatch"
	"github.com/mailroomd/mailroom/internal/handler"
	infraredis "github.com/mailroomd/mailroom/internal/infra/redis"
	"github.com/mailroomd/mailroom/internal/observability"
	"github.com/mailroomd/mailroom/internal/store"
	"github.com/mailroomd/mailroom/internal/store/postgres"
	"github.com/mailroomd/mailroom/internal/store/rest"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, storeCheck, err := buildStore(cfg)
	if err != nil {
		logger.Fatal("store initialization failed", zap.Error(err))
	}

	mailer, err := smtp.NewMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass)
	if err != nil {
		logger.Fatal("smtp initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	dispatcher, err := dispatch.NewDispatcher(
		st,
		mailer,
		cfg.MailFrom,
		cfg.SenderName,
		cfg.BatchLimit,
		cfg.MaxAttempts,
		logger,
	)
	if err != nil {
		logger.Fatal("dispatcher initialization failed", zap.Error(err))
	}
	dispatcher.SetMetrics(metrics)

	checks := map[string]handler.Check{
		"store": storeCheck,
	}

	if cfg.RedisURL != "" {
		rdb, err := infraredis.NewClient(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis initialization failed", zap.Error(err))
		}
		defer rdb.Close()

		limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
		if err != nil {
			logger.Fatal("rate limiter initialization failed", zap.Error(err))
		}
		dispatcher.SetRateLimiter(limiter)
		checks["redis"] = func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}
	}

	supervisor, err := dispatch.NewSupervisor(
		dispatcher,
		st,
		time.Duration(cfg.PollSeconds)*time.Second,
		time.Duration(cfg.ClaimTimeoutSeconds)*time.Second,
		logger,
	)
	if err != nil {
		logger.Fatal("supervisor initialization failed", zap.Error(err))
	}
	supervisor.SetMetrics(metrics)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	handler.RegisterRoutes(app, metrics, checks)

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("mailroom worker started",
			zap.String("backend", cfg.StoreBackend),
			zap.Int("pollSeconds", cfg.PollSeconds),
			zap.Int("batchLimit", cfg.BatchLimit),
		)
		return supervisor.Start(groupCtx)
	})

	g.Go(func() error {
		logger.Info("admin server started", zap.Int("port", cfg.AdminPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.AdminPort))
	})

	g.Go(func() error {
		<-groupCtx.Done()
		supervisor.Stop()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("worker stopped with error", zap.Error(err))
	}

	logger.Info("mailroom worker stopped")
}

// buildStore wires the configured record store and a readiness probe for it.
func buildStore(cfg *config.Config) (store.Store, handler.Check, error) {
	switch cfg.StoreBackend {
	case config.BackendRest:
		client, err := rest.NewClient(cfg.StoreURL, cfg.StoreServiceKey)
		if err != nil {
			return nil, nil, err
		}
		check := func(ctx context.Context) error {
			_, err := client.SelectPending(ctx, 1)
			return err
		}
		return client, check, nil

	case config.BackendPostgres:
		db, err := postgres.Open(cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.Migrate(db); err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		check := func(ctx context.Context) error {
			return sqlDB.PingContext(ctx)
		}
		return postgres.NewGormStore(db), check, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
