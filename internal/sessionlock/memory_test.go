package sessionlock

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemory_ConflictAndRelease(t *testing.T) {
	m := NewMemory(time.Minute)
	ctx := context.Background()

	release, err := m.TryAcquire(ctx, "s1")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	if _, err := m.TryAcquire(ctx, "s1"); err != ErrLocked {
		t.Fatalf("second acquire err = %v, want ErrLocked", err)
	}

	// A different session is independent.
	rel2, err := m.TryAcquire(ctx, "s2")
	if err != nil {
		t.Fatalf("acquire s2: %v", err)
	}
	rel2()

	release()
	if _, err := m.TryAcquire(ctx, "s1"); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestMemory_ReleaseIsIdempotent(t *testing.T) {
	m := NewMemory(time.Minute)
	ctx := context.Background()

	release, err := m.TryAcquire(ctx, "s1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	release()
	release() // second call must be a no-op

	rel2, err := m.TryAcquire(ctx, "s1")
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	// The stale first release must not free the new holder's lock.
	release()
	if _, err := m.TryAcquire(ctx, "s1"); err != ErrLocked {
		t.Fatalf("err = %v, want ErrLocked (stale release freed the lock)", err)
	}
	rel2()
}

func TestMemory_TTLExpiry(t *testing.T) {
	m := NewMemory(time.Minute)
	now := time.Now()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	if _, err := m.TryAcquire(ctx, "s1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := m.TryAcquire(ctx, "s1"); err != ErrLocked {
		t.Fatalf("err = %v, want ErrLocked", err)
	}

	// Past the TTL the abandoned lock no longer blocks.
	now = now.Add(time.Minute + time.Second)
	release, err := m.TryAcquire(ctx, "s1")
	if err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}
	release()
}

func TestMemory_SweepEvictsExpired(t *testing.T) {
	m := NewMemory(time.Minute)
	now := time.Now()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := m.TryAcquire(ctx, id); err != nil {
			t.Fatalf("acquire %s: %v", id, err)
		}
	}
	if m.Len() != 3 {
		t.Fatalf("len = %d, want 3", m.Len())
	}

	now = now.Add(2 * time.Minute)
	m.expire()
	if m.Len() != 0 {
		t.Fatalf("len after sweep = %d, want 0", m.Len())
	}
}

func TestMemory_ConcurrentAcquire(t *testing.T) {
	m := NewMemory(time.Minute)
	ctx := context.Background()

	const goroutines = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.TryAcquire(ctx, "contended")
			if err != nil {
				return
			}
			mu.Lock()
			wins++
			mu.Unlock()
			defer release()
		}()
	}
	wg.Wait()

	if wins == 0 {
		t.Fatal("no goroutine acquired the lock")
	}
}
