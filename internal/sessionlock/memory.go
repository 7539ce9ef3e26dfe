package sessionlock

import (
	"context"
	"sync"
	"time"
)

// Memory is the single-process Locker. Locks expire after a TTL so a
// goroutine that dies without releasing cannot wedge its session forever.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	held  map[string]memoryLock
	last  uint64
	sweep time.Duration
}

type memoryLock struct {
	token     uint64
	expiresAt time.Time
}

var _ Locker = (*Memory)(nil)

// NewMemory builds an in-memory locker. A non-positive ttl falls back to
// [DefaultTTL].
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		ttl:   ttl,
		now:   time.Now,
		held:  map[string]memoryLock{},
		sweep: ttl,
	}
}

// TryAcquire implements [Locker].
func (m *Memory) TryAcquire(_ context.Context, sessionID string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if cur, ok := m.held[sessionID]; ok && now.Before(cur.expiresAt) {
		return nil, ErrLocked
	}

	token := m.nextToken()
	m.held[sessionID] = memoryLock{token: token, expiresAt: now.Add(m.ttl)}

	var once sync.Once
	release := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			// The token check keeps a late release from freeing a lock
			// that expired and was re-acquired by someone else.
			if cur, ok := m.held[sessionID]; ok && cur.token == token {
				delete(m.held, sessionID)
			}
		})
	}
	return release, nil
}

// nextToken is called with m.mu held.
func (m *Memory) nextToken() uint64 {
	m.last++
	return m.last
}

// Run sweeps expired locks until ctx is done. Expiry is already enforced
// lazily in TryAcquire; the sweep only bounds memory growth on sessions
// that are never touched again.
func (m *Memory) Run(ctx context.Context) {
	ticker := time.NewTicker(m.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.expire()
		}
	}
}

func (m *Memory) expire() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, l := range m.held {
		if !now.Before(l.expiresAt) {
			delete(m.held, id)
		}
	}
}

// Len reports the number of live locks. Test hook.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.held)
}
