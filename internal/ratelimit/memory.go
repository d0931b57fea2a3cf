package ratelimit

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const shardCount = 64

type bucket struct {
	lim      *rate.Limiter // guards its own token state
	lastSeen time.Time     // guarded by the owning shard's mutex
}

type shard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// Memory keeps buckets in process memory. Keys are spread over shards so
// get-or-create for one key never serializes with unrelated keys, and the
// token check itself runs outside the shard lock.
type Memory struct {
	shards  [shardCount]shard
	limit   rate.Limit
	burst   int
	perSec  float64
	idleTTL time.Duration
	now     func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

var _ Limiter = (*Memory)(nil)

func NewMemory(cfg Config) (*Memory, error) {
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("ratelimit: capacity must be positive, got %d", cfg.Capacity)
	}
	if cfg.RefillPerSec <= 0 || math.IsInf(cfg.RefillPerSec, 0) || math.IsNaN(cfg.RefillPerSec) {
		return nil, fmt.Errorf("ratelimit: refill rate must be a positive number, got %v", cfg.RefillPerSec)
	}

	m := &Memory{
		limit:   rate.Limit(cfg.RefillPerSec),
		burst:   cfg.Capacity,
		perSec:  cfg.RefillPerSec,
		idleTTL: cfg.effectiveIdleTTL(),
		now:     cfg.clock(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for i := range m.shards {
		m.shards[i].buckets = make(map[string]*bucket)
	}

	if m.idleTTL > 0 {
		interval := cfg.SweepInterval
		if interval <= 0 {
			interval = time.Minute
		}
		go m.runSweeper(interval)
	} else {
		close(m.done)
	}
	return m, nil
}

func (m *Memory) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &m.shards[h.Sum32()%shardCount]
}

// getOrCreate returns the bucket for key, creating a full one on first use.
func (m *Memory) getOrCreate(key string, now time.Time) *bucket {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(m.limit, m.burst)}
		s.buckets[key] = b
	}
	b.lastSeen = now
	return b
}

// Allow never returns an error; the signature matches the Redis backend.
func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	now := m.now()
	b := m.getOrCreate(key, now)

	allowed := b.lim.AllowN(now, 1)
	// Read separately from AllowN, so under concurrency Remaining and
	// RetryAfter may already include another request's spend. Both are
	// advisory; admission is decided by AllowN alone.
	tokens := b.lim.TokensAt(now)
	if tokens < 0 {
		tokens = 0
	}

	d := Decision{Allowed: allowed, Remaining: int(math.Floor(tokens))}
	if !allowed {
		d.RetryAfter = retryAfter(tokens, m.perSec)
	}
	return d, nil
}

// Len reports the number of live buckets.
func (m *Memory) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		n += len(s.buckets)
		s.mu.Unlock()
	}
	return n
}

func (m *Memory) runSweeper(interval time.Duration) {
	defer close(m.done)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			m.sweep(m.now())
		}
	}
}

// sweep drops buckets idle for at least idleTTL and returns how many.
func (m *Memory) sweep(now time.Time) int {
	if m.idleTTL <= 0 {
		return 0
	}
	evicted := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for k, b := range s.buckets {
			if now.Sub(b.lastSeen) >= m.idleTTL {
				delete(s.buckets, k)
				evicted++
			}
		}
		s.mu.Unlock()
	}
	return evicted
}

// Close stops the idle sweeper. Buckets stay usable afterwards.
func (m *Memory) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
	return nil
}
