package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/voxbridge/voxbridge/internal/config"
	"github.com/voxbridge/voxbridge/internal/sessionlock"
	"github.com/voxbridge/voxbridge/internal/store"
)

func testConfig(t *testing.T, doc string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

// newTestApp wires an App around a store that never touches a database.
// Good enough for routing and lifecycle tests; anything that actually
// queries PostgreSQL lives behind the DSN-gated integration test.
func newTestApp(t *testing.T, doc string) *App {
	t.Helper()
	cfg := testConfig(t, doc)
	a, err := New(context.Background(), cfg, slog.New(slog.DiscardHandler),
		WithStore(store.NewWithPool(nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

const minimalDoc = `
database:
  url: postgres://localhost/test
`

func TestNew_DefaultsToMemoryLocks(t *testing.T) {
	a := newTestApp(t, minimalDoc)
	if _, ok := a.locker.(*sessionlock.Memory); !ok {
		t.Fatalf("locker = %T, want *sessionlock.Memory", a.locker)
	}
}

func TestNew_PostgresLocks(t *testing.T) {
	a := newTestApp(t, minimalDoc+`
locks:
  mode: postgres
`)
	if _, ok := a.locker.(*sessionlock.Postgres); !ok {
		t.Fatalf("locker = %T, want *sessionlock.Postgres", a.locker)
	}
}

func TestHandler_Routes(t *testing.T) {
	a := newTestApp(t, minimalDoc)
	ts := httptest.NewServer(a.Handler())
	defer ts.Close()

	t.Run("healthz", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/healthz")
		if err != nil {
			t.Fatalf("GET /healthz: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/metrics")
		if err != nil {
			t.Fatalf("GET /metrics: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
	})

	t.Run("api requires key", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/sessions")
		if err != nil {
			t.Fatalf("GET /api/v1/sessions: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", resp.StatusCode)
		}
		var body struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode error envelope: %v", err)
		}
		if body.Error.Code != "UNAUTHORIZED" {
			t.Fatalf("error code = %q, want UNAUTHORIZED", body.Error.Code)
		}
	})
}

func TestNew_TwiceInOneProcess(t *testing.T) {
	// Each app owns its Prometheus registry, so a second New must not
	// collide on collector registration.
	newTestApp(t, minimalDoc)
	newTestApp(t, minimalDoc)
}

func TestShutdown_Idempotent(t *testing.T) {
	a := newTestApp(t, minimalDoc)
	ctx := context.Background()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestShutdown_HonoursDeadline(t *testing.T) {
	a := newTestApp(t, minimalDoc)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Shutdown(ctx); err != context.Canceled {
		t.Fatalf("Shutdown with cancelled ctx = %v, want context.Canceled", err)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	dsn := os.Getenv("VOXBRIDGE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOXBRIDGE_TEST_POSTGRES_DSN not set — skipping integration test")
	}

	cfg := testConfig(t, `
server:
  listen_addr: 127.0.0.1:0
database:
  url: `+dsn+`
`)
	a, err := New(context.Background(), cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil after cancel", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
