// Package audit records every verification and retrieval attempt. Phone
// numbers are hashed here, before anything reaches storage or the event bus.
package audit

import (
	"context"
	"time"

	"github.com/jmehdipour/number-verification/internal/metrics"
	"github.com/jmehdipour/number-verification/internal/model"
	"github.com/jmehdipour/number-verification/internal/util"
	"go.uber.org/zap"
)

type Hasher interface {
	Hash(raw string) string
}

type Store interface {
	Save(ctx context.Context, l model.VerificationLog) error
}

type Publisher interface {
	PublishAudit(ctx context.Context, ev model.AuditEvent) error
}

// Entry is one attempt as seen by the orchestrator. PhoneNumber is the raw
// value; it is never copied into the stored record.
type Entry struct {
	ID            string // optional, generated when empty
	CorrelationID string
	Operation     model.Operation
	PhoneNumber   string
	Status        model.VerificationStatus
	ClientIP      string
	Timestamp     time.Time
	ErrorMessage  string
}

type Writer struct {
	hasher  Hasher
	store   Store
	pub     Publisher // optional
	log     *zap.Logger
	timeout time.Duration
	newID   func() string
}

type Options struct {
	Publisher    Publisher
	Logger       *zap.Logger
	WriteTimeout time.Duration // default 3s
}

func NewWriter(h Hasher, s Store, opts Options) *Writer {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 3 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Writer{
		hasher:  h,
		store:   s,
		pub:     opts.Publisher,
		log:     opts.Logger,
		timeout: opts.WriteTimeout,
		newID:   util.New,
	}
}

func (w *Writer) build(e Entry) model.VerificationLog {
	id := e.ID
	if id == "" {
		id = w.newID()
	}
	l := model.VerificationLog{
		ID:            id,
		CorrelationID: e.CorrelationID,
		Operation:     e.Operation,
		Status:        e.Status,
		ClientIP:      e.ClientIP,
		Timestamp:     e.Timestamp.UTC(),
	}
	if e.PhoneNumber != "" {
		l.HashedPhoneNumber = w.hasher.Hash(e.PhoneNumber)
	}
	if e.ErrorMessage != "" {
		l.ErrorMessage.String = e.ErrorMessage
		l.ErrorMessage.Valid = true
	}
	return l
}

// Record is best effort: failures are logged and counted, never returned.
// The write is detached from ctx cancellation so a client hanging up does not
// drop its audit row; it is bounded by the write timeout instead.
func (w *Writer) Record(ctx context.Context, e Entry) {
	l := w.build(e)

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
	defer cancel()

	if err := w.store.Save(wctx, l); err != nil {
		metrics.AuditWriteFailures.WithLabelValues("save").Inc()
		w.log.Error("audit save failed",
			zap.String("audit_id", l.ID),
			zap.String("correlation_id", l.CorrelationID),
			zap.String("operation", l.Operation.String()),
			zap.Error(err),
		)
		return
	}

	if w.pub == nil {
		return
	}
	if err := w.pub.PublishAudit(wctx, model.NewAuditEvent(l)); err != nil {
		metrics.AuditWriteFailures.WithLabelValues("publish").Inc()
		w.log.Warn("audit publish failed",
			zap.String("audit_id", l.ID),
			zap.String("correlation_id", l.CorrelationID),
			zap.Error(err),
		)
	}
}
