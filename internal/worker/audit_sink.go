package worker

import (
	"context"
	"time"

	"github.com/jmehdipour/number-verification/internal/kafka"
	"github.com/jmehdipour/number-verification/internal/metrics"
	"github.com/jmehdipour/number-verification/internal/model"
	"go.uber.org/zap"
)

// MessageSource is the part of *kafka.Consumer the sink needs.
type MessageSource interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

type BatchStore interface {
	InsertBatch(ctx context.Context, rows []model.VerificationLog) error
}

// AuditSink:
// - fetches audit events from Kafka,
// - buffers them and loads them into ClickHouse by size or time,
// - commits offsets only after the batch they belong to is stored.
type AuditSink struct {
	// Dependencies
	Consumer MessageSource
	Store    BatchStore
	Logger   *zap.Logger

	// Behavior
	BatchSize    int           // max buffered events per flush
	BatchWait    time.Duration // max time an event waits before flush
	RetryWait    time.Duration // pause after a failed flush of a full buffer
	FlushTimeout time.Duration // bound for the final flush on shutdown
	FetchBackoff time.Duration // pause after a fetch error
}

func NewAuditSink(consumer MessageSource, store BatchStore, logger *zap.Logger) *AuditSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditSink{
		Consumer:     consumer,
		Store:        store,
		Logger:       logger,
		BatchSize:    200,
		BatchWait:    500 * time.Millisecond,
		RetryWait:    time.Second,
		FlushTimeout: 5 * time.Second,
		FetchBackoff: 200 * time.Millisecond,
	}
}

type batch struct {
	rows []model.VerificationLog
	msgs []kafka.Message // includes skipped messages so their offsets commit in order
}

func (b *batch) reset() {
	b.rows = b.rows[:0]
	b.msgs = b.msgs[:0]
}

// Run starts the sink and blocks until ctx is cancelled, then flushes what is
// buffered.
func (w *AuditSink) Run(ctx context.Context) error {
	if w.BatchSize <= 0 {
		w.BatchSize = 200
	}
	if w.BatchWait <= 0 {
		w.BatchWait = 500 * time.Millisecond
	}
	if w.RetryWait <= 0 {
		w.RetryWait = time.Second
	}
	if w.FlushTimeout <= 0 {
		w.FlushTimeout = 5 * time.Second
	}
	if w.FetchBackoff <= 0 {
		w.FetchBackoff = 200 * time.Millisecond
	}

	msgCh := make(chan kafka.Message, w.BatchSize)
	go w.fetch(ctx, msgCh)

	b := &batch{}
	ticker := time.NewTicker(w.BatchWait)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.drain(b, msgCh)
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.FlushTimeout)
			w.flush(fctx, b)
			cancel()
			return nil

		case m, ok := <-msgCh:
			if !ok {
				continue
			}
			w.add(b, m)
			for len(b.msgs) >= w.BatchSize {
				if w.flush(ctx, b) {
					break
				}
				select {
				case <-ctx.Done():
				case <-time.After(w.RetryWait):
				}
				if ctx.Err() != nil {
					break
				}
			}

		case <-ticker.C:
			w.flush(ctx, b)
		}
	}
}

// drain takes whatever was already fetched into the final batch.
func (w *AuditSink) drain(b *batch, in <-chan kafka.Message) {
	for {
		select {
		case m := <-in:
			w.add(b, m)
		default:
			return
		}
	}
}

func (w *AuditSink) fetch(ctx context.Context, out chan<- kafka.Message) {
	for {
		m, err := w.Consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.Logger.Warn("audit sink: kafka fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.FetchBackoff):
			}
			continue
		}
		select {
		case out <- m:
		case <-ctx.Done():
			return
		}
	}
}

func (w *AuditSink) add(b *batch, m kafka.Message) {
	b.msgs = append(b.msgs, m)
	ev, err := kafka.DecodeAuditEvent(m)
	if err != nil {
		// poison → skip, offset still committed with the batch
		metrics.AuditWriteFailures.WithLabelValues("sink").Inc()
		w.Logger.Warn("audit sink: bad event",
			zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset), zap.Error(err))
		return
	}
	b.rows = append(b.rows, ev.Log())
}

// flush stores the buffered rows and commits their offsets. It reports
// whether the buffer was emptied.
func (w *AuditSink) flush(ctx context.Context, b *batch) bool {
	if len(b.msgs) == 0 {
		return true
	}
	if err := w.Store.InsertBatch(ctx, b.rows); err != nil {
		metrics.AuditWriteFailures.WithLabelValues("sink").Inc()
		w.Logger.Error("audit sink: batch insert failed", zap.Int("rows", len(b.rows)), zap.Error(err))
		return false
	}
	// at-least-once: a failed commit redelivers rows already stored
	if err := w.Consumer.Commit(ctx, b.msgs...); err != nil {
		w.Logger.Warn("audit sink: commit failed", zap.Int("messages", len(b.msgs)), zap.Error(err))
	}
	w.Logger.Debug("audit sink: flushed", zap.Int("rows", len(b.rows)))
	b.reset()
	return true
}
