package audit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/number-verification/internal/hasher"
	"github.com/jmehdipour/number-verification/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type memStore struct {
	mu     sync.Mutex
	rows   []model.VerificationLog
	err    error
	ctxErr error
}

func (s *memStore) Save(ctx context.Context, l model.VerificationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctxErr = ctx.Err()
	if s.err != nil {
		return s.err
	}
	s.rows = append(s.rows, l)
	return nil
}

type memPublisher struct {
	events []model.AuditEvent
	err    error
}

func (p *memPublisher) PublishAudit(_ context.Context, ev model.AuditEvent) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func newHasher(t *testing.T) *hasher.Hasher {
	t.Helper()
	h, err := hasher.New(hasher.Config{Algorithm: "sha256"})
	require.NoError(t, err)
	return h
}

func TestRecord_HashesBeforePersisting(t *testing.T) {
	h := newHasher(t)
	store := &memStore{}
	pub := &memPublisher{}
	w := NewWriter(h, store, Options{Publisher: pub})

	raw := "+34698765432"
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	w.Record(context.Background(), Entry{
		CorrelationID: "corr-1",
		Operation:     model.OperationVerify,
		PhoneNumber:   raw,
		Status:        model.StatusMatch,
		ClientIP:      "1.2.3.4",
		Timestamp:     ts,
	})

	require.Len(t, store.rows, 1)
	got := store.rows[0]
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "corr-1", got.CorrelationID)
	assert.Equal(t, h.Hash(raw), got.HashedPhoneNumber)
	assert.Equal(t, model.StatusMatch, got.Status)
	assert.Equal(t, "1.2.3.4", got.ClientIP)
	assert.Equal(t, ts, got.Timestamp)
	assert.False(t, got.ErrorMessage.Valid)

	for _, field := range []string{got.ID, got.CorrelationID, got.HashedPhoneNumber, got.ClientIP, got.ErrorMessage.String} {
		assert.False(t, strings.Contains(field, "698765432"), "raw number leaked into %q", field)
	}

	require.Len(t, pub.events, 1)
	assert.Equal(t, got.HashedPhoneNumber, pub.events[0].HashedPhoneNumber)
	assert.Equal(t, got.ID, pub.events[0].ID)
}

func TestRecord_ErrorMessageAndNoNumber(t *testing.T) {
	store := &memStore{}
	w := NewWriter(newHasher(t), store, Options{})

	w.Record(context.Background(), Entry{
		CorrelationID: "corr-2",
		Operation:     model.OperationRetrieve,
		Status:        model.StatusMismatch,
		ClientIP:      "unknown",
		Timestamp:     time.Now(),
		ErrorMessage:  "provider returned no device number",
	})

	require.Len(t, store.rows, 1)
	assert.Empty(t, store.rows[0].HashedPhoneNumber)
	assert.True(t, store.rows[0].ErrorMessage.Valid)
	assert.Equal(t, "provider returned no device number", store.rows[0].ErrorMessage.String)
}

func TestRecord_SaveFailureIsLoggedNotReturned(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	store := &memStore{err: errors.New("mysql down")}
	pub := &memPublisher{}
	w := NewWriter(newHasher(t), store, Options{Publisher: pub, Logger: zap.New(core)})

	assert.NotPanics(t, func() {
		w.Record(context.Background(), Entry{CorrelationID: "corr-3", PhoneNumber: "+34698765432", Status: model.StatusMatch, Timestamp: time.Now()})
	})

	require.Equal(t, 1, logs.FilterMessage("audit save failed").Len())
	entry := logs.All()[0]
	assert.Equal(t, "corr-3", entry.ContextMap()["correlation_id"])
	for _, v := range entry.ContextMap() {
		if s, ok := v.(string); ok {
			assert.NotContains(t, s, "698765432")
		}
	}
	assert.Empty(t, pub.events, "nothing is published when the save failed")
}

func TestRecord_PublishFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	store := &memStore{}
	w := NewWriter(newHasher(t), store, Options{Publisher: &memPublisher{err: errors.New("broker down")}, Logger: zap.New(core)})

	w.Record(context.Background(), Entry{CorrelationID: "corr-4", Status: model.StatusMatch, Timestamp: time.Now()})

	assert.Len(t, store.rows, 1)
	assert.Equal(t, 1, logs.FilterMessage("audit publish failed").Len())
}

func TestRecord_SurvivesRequestCancellation(t *testing.T) {
	store := &memStore{}
	w := NewWriter(newHasher(t), store, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Record(ctx, Entry{CorrelationID: "corr-5", Status: model.StatusMatch, Timestamp: time.Now()})

	require.Len(t, store.rows, 1)
	assert.NoError(t, store.ctxErr, "store must see a live context")
}
