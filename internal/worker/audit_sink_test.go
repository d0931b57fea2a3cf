package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmehdipour/number-verification/internal/kafka"
	"github.com/jmehdipour/number-verification/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	ch         chan kafka.Message
	fetchCalls atomic.Int32

	mu        sync.Mutex
	committed []kafka.Message
}

func newFakeSource() *fakeSource { return &fakeSource{ch: make(chan kafka.Message, 64)} }

func (f *fakeSource) Fetch(ctx context.Context) (kafka.Message, error) {
	f.fetchCalls.Add(1)
	select {
	case m := <-f.ch:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (f *fakeSource) Commit(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *fakeSource) commits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.committed)
}

type fakeStore struct {
	mu      sync.Mutex
	failN   int
	calls   int
	batches [][]model.VerificationLog
}

func (s *fakeStore) InsertBatch(_ context.Context, rows []model.VerificationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failN > 0 {
		s.failN--
		return errors.New("clickhouse: connection reset")
	}
	s.batches = append(s.batches, append([]model.VerificationLog(nil), rows...))
	return nil
}

func (s *fakeStore) rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func (s *fakeStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func eventMsg(t *testing.T, id string, offset int64) kafka.Message {
	t.Helper()
	m, err := kafka.EncodeAuditEvent(model.AuditEvent{
		ID:                id,
		CorrelationID:     "corr-" + id,
		Operation:         model.OperationVerify,
		HashedPhoneNumber: "aGFzaA==",
		Status:            model.StatusMatch,
		ClientIP:          "10.0.0.1",
		Timestamp:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	m.Offset = offset
	return m
}

func startSink(t *testing.T, src *fakeSource, store *fakeStore, tune func(*AuditSink)) (context.CancelFunc, <-chan error) {
	t.Helper()
	w := NewAuditSink(src, store, nil)
	w.RetryWait = 10 * time.Millisecond
	if tune != nil {
		tune(w)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestAuditSink_FlushBySize(t *testing.T) {
	src, store := newFakeSource(), &fakeStore{}
	startSink(t, src, store, func(w *AuditSink) {
		w.BatchSize = 3
		w.BatchWait = time.Hour
	})

	for i, id := range []string{"a", "b", "c"} {
		src.ch <- eventMsg(t, id, int64(i))
	}

	require.Eventually(t, func() bool { return src.commits() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, store.rows())
	assert.Equal(t, 1, store.callCount())
}

func TestAuditSink_FlushByTime(t *testing.T) {
	src, store := newFakeSource(), &fakeStore{}
	startSink(t, src, store, func(w *AuditSink) {
		w.BatchSize = 100
		w.BatchWait = 20 * time.Millisecond
	})

	src.ch <- eventMsg(t, "a", 0)
	src.ch <- eventMsg(t, "b", 1)

	require.Eventually(t, func() bool { return store.rows() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return src.commits() == 2 }, time.Second, 5*time.Millisecond)
}

func TestAuditSink_SkipsBadEventButCommitsIt(t *testing.T) {
	src, store := newFakeSource(), &fakeStore{}
	startSink(t, src, store, func(w *AuditSink) {
		w.BatchSize = 2
		w.BatchWait = time.Hour
	})

	src.ch <- kafka.Message{Value: []byte(`{not json`), Offset: 0}
	src.ch <- eventMsg(t, "a", 1)

	require.Eventually(t, func() bool { return src.commits() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, store.rows())
}

func TestAuditSink_RetriesFailedInsertBeforeCommit(t *testing.T) {
	src, store := newFakeSource(), &fakeStore{failN: 2}
	startSink(t, src, store, func(w *AuditSink) {
		w.BatchSize = 1
		w.BatchWait = time.Hour
	})

	src.ch <- eventMsg(t, "a", 0)

	require.Eventually(t, func() bool { return store.rows() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, store.callCount())
	require.Eventually(t, func() bool { return src.commits() == 1 }, time.Second, 5*time.Millisecond)
}

func TestAuditSink_FlushesOnShutdown(t *testing.T) {
	src, store := newFakeSource(), &fakeStore{}
	cancel, done := startSink(t, src, store, func(w *AuditSink) {
		w.BatchSize = 100
		w.BatchWait = time.Hour
	})

	src.ch <- eventMsg(t, "a", 0)
	src.ch <- eventMsg(t, "b", 1)
	// a third Fetch means both messages were handed to the sink
	require.Eventually(t, func() bool { return src.fetchCalls.Load() >= 3 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, store.rows())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sink did not stop")
	}
	assert.Equal(t, 2, store.rows())
	assert.Equal(t, 2, src.commits())
}
