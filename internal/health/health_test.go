package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/voxbridge/voxbridge/internal/sessionlock"
)

func TestHealthz_AlwaysReturns200(t *testing.T) {
	h := New()

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body report
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
}

func TestReadyz_AllChecksPass(t *testing.T) {
	h := New(
		Check{Name: "database", Run: func(_ context.Context) error { return nil }},
		Check{Name: "locks", Run: func(_ context.Context) error { return nil }},
	)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body report
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
	for _, name := range []string{"database", "locks"} {
		if body.Checks[name].Status != "ok" {
			t.Errorf("%s check = %+v, want ok", name, body.Checks[name])
		}
	}
}

func TestReadyz_FailingCheckDoesNotCancelOthers(t *testing.T) {
	h := New(
		Check{Name: "database", Run: func(_ context.Context) error {
			return errors.New("connection refused")
		}},
		Check{Name: "locks", Run: func(ctx context.Context) error {
			// A healthy dependency that takes a moment must still report
			// ok after a sibling has already failed.
			select {
			case <-time.After(20 * time.Millisecond):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}},
	)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	var body report
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "fail" {
		t.Errorf("status = %q, want %q", body.Status, "fail")
	}
	if db := body.Checks["database"]; db.Status != "fail" || db.Error != "connection refused" {
		t.Errorf("database check = %+v", db)
	}
	if body.Checks["locks"].Status != "ok" {
		t.Errorf("locks check = %+v, want ok", body.Checks["locks"])
	}
}

func TestReadyz_NoChecks(t *testing.T) {
	h := New()

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestReadyz_AllChecksFail(t *testing.T) {
	h := New(
		Check{Name: "database", Run: func(_ context.Context) error {
			return errors.New("timeout")
		}},
		Check{Name: "locks", Run: func(_ context.Context) error {
			return errors.New("backend gone")
		}},
	)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	var body report
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Checks["database"].Error != "timeout" {
		t.Errorf("database check = %+v", body.Checks["database"])
	}
	if body.Checks["locks"].Error != "backend gone" {
		t.Errorf("locks check = %+v", body.Checks["locks"])
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	h := New(
		Check{Name: "slow", Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	h := New(
		Check{Name: "test", Run: func(_ context.Context) error { return nil }},
	)

	mux := http.NewServeMux()
	h.Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest("GET", path, nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}
		})
	}
}

func TestLocksCheck_GrantsAndReleases(t *testing.T) {
	locker := sessionlock.NewMemory(time.Minute)
	c := Locks(locker)

	if c.Name != "locks" {
		t.Fatalf("check name = %q, want %q", c.Name, "locks")
	}
	// Two consecutive runs must both succeed: a run that leaked its lock
	// would still pass here (fresh keys), but a backend that cannot grant
	// at all must fail both.
	for i := 0; i < 2; i++ {
		if err := c.Run(context.Background()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
}
