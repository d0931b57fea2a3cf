package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/number-verification/internal/audit"
	"github.com/jmehdipour/number-verification/internal/config"
	"github.com/jmehdipour/number-verification/internal/db"
	"github.com/jmehdipour/number-verification/internal/hasher"
	httpSrv "github.com/jmehdipour/number-verification/internal/http"
	"github.com/jmehdipour/number-verification/internal/kafka"
	"github.com/jmehdipour/number-verification/internal/logger"
	"github.com/jmehdipour/number-verification/internal/provider"
	"github.com/jmehdipour/number-verification/internal/ratelimit"
	"github.com/jmehdipour/number-verification/internal/repository"
	"github.com/jmehdipour/number-verification/internal/service/verification"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()
		log := logger.Log

		// hashing misconfiguration is fatal
		h, err := hasher.New(hasher.Config{Algorithm: cfg.Audit.HashAlgorithm, Key: cfg.Audit.HashKey})
		if err != nil {
			return fmt.Errorf("audit hasher: %w", err)
		}

		mysqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.PoolOptsFrom(cfg.MySQL))
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer mysqlDB.Close()

		// analytics are optional for serving
		var stats repository.CHVerificationLogsRepository
		if cfg.ClickHouse.DSN != "" {
			chDB, err := db.NewClickHouseConnection(cfg.ClickHouse.DSN, db.PoolOptsFrom(cfg.ClickHouse))
			if err != nil {
				log.Warn("clickhouse unavailable, audit stats disabled", zap.Error(err))
			} else {
				defer func() { _ = chDB.Close() }()
				stats = repository.NewCHVerificationLogsRepository(chDB)
			}
		}

		limiter, closeLimiter, err := newLimiter(cfg)
		if err != nil {
			return err
		}
		defer closeLimiter()

		logsRepo := repository.NewVerificationLogsRepository(mysqlDB)

		opts := audit.Options{
			Logger:       log.Named("audit"),
			WriteTimeout: cfg.Audit.WriteTimeout,
		}
		if cfg.Audit.PublishEvents {
			producer := kafka.NewAuditProducer(kafka.ProducerConfig{
				Brokers: cfg.Kafka.Brokers,
				Topic:   cfg.Kafka.AuditTopic,
			})
			defer func() { _ = producer.Close() }()
			opts.Publisher = producer
		}
		auditWriter := audit.NewWriter(h, logsRepo, opts)

		svc := verification.New(newProvider(cfg.Provider), auditWriter, cfg.Provider.Timeout)

		server := httpSrv.NewServer(cfg, httpSrv.Deps{
			Verifier: svc,
			Limiter:  limiter,
			Logs:     logsRepo,
			Stats:    stats,
			Logger:   log,
		})

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server exited", zap.Error(err))
			}
		}

		timeout := cfg.HTTP.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = server.Shutdown(ctx)

		return nil
	},
}

func newLimiter(cfg config.Config) (ratelimit.Limiter, func(), error) {
	rl := ratelimit.Config{
		Capacity:      cfg.RateLimit.Capacity,
		RefillPerSec:  cfg.RateLimit.RefillPerSec,
		IdleTTL:       cfg.RateLimit.IdleTTL,
		SweepInterval: cfg.RateLimit.SweepInterval,
	}

	if cfg.RateLimit.Backend == "redis" {
		rdb, err := db.NewRedisClient(cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("redis connect: %w", err)
		}
		l, err := ratelimit.NewRedis(rdb, cfg.RateLimit.KeyPrefix, rl)
		if err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("rate limiter: %w", err)
		}
		return l, func() { _ = rdb.Close() }, nil
	}

	m, err := ratelimit.NewMemory(rl)
	if err != nil {
		return nil, nil, fmt.Errorf("rate limiter: %w", err)
	}
	return m, func() { _ = m.Close() }, nil
}

func newProvider(c config.ProviderConfig) provider.Provider {
	if c.Mode == "http" {
		return provider.NewHTTPProvider(provider.HTTPOptions{
			Name:          c.Name,
			BaseURL:       c.BaseURL,
			APIKey:        c.APIKey,
			Timeout:       c.Timeout,
			FailThreshold: c.Breaker.FailThreshold,
			OpenFor:       time.Duration(c.Breaker.OpenForMs) * time.Millisecond,
		})
	}
	return provider.NewMock(c.MockMatch, c.MockDeviceNumber)
}
