package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/number-verification/internal/config"
	"github.com/jmehdipour/number-verification/internal/db"
	"github.com/jmehdipour/number-verification/internal/kafka"
	"github.com/jmehdipour/number-verification/internal/logger"
	"github.com/jmehdipour/number-verification/internal/metrics"
	"github.com/jmehdipour/number-verification/internal/repository"
	"github.com/jmehdipour/number-verification/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var auditSinkCmd = &cobra.Command{
	Use:   "audit-sink",
	Short: "Load audit events from Kafka into ClickHouse",
	RunE:  runAuditSink,
}

func runAuditSink(cmd *cobra.Command, args []string) error {
	// 1) load config
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.Log.Level); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	// 2) ClickHouse
	chDB, err := db.NewClickHouseConnection(cfg.ClickHouse.DSN, db.PoolOptsFrom(cfg.ClickHouse))
	if err != nil {
		return fmt.Errorf("clickhouse connect: %w", err)
	}
	defer func() { _ = chDB.Close() }()

	// 3) kafka consumer
	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = "numverify-audit-sink"
	}
	consumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          cfg.Kafka.AuditTopic,
		GroupID:        groupID,
		MinBytes:       cfg.Kafka.MinBytes,
		MaxBytes:       cfg.Kafka.MaxBytes,
		CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
	})
	defer consumer.Close()

	w := worker.NewAuditSink(consumer, repository.NewCHVerificationLogsRepository(chDB), logger.Log.Named("sink"))

	// tune knobs
	if cfg.Sink.BatchSize > 0 {
		w.BatchSize = cfg.Sink.BatchSize
	}
	if cfg.Sink.BatchWait > 0 {
		w.BatchWait = cfg.Sink.BatchWait
	}

	// 4) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Log.Info("audit sink started",
		zap.String("topic", cfg.Kafka.AuditTopic),
		zap.String("group", groupID),
		zap.Int("batch_size", w.BatchSize),
		zap.Duration("batch_wait", w.BatchWait))

	return w.Run(ctx)
}
