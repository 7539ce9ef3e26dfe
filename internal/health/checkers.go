package health

import (
	"context"

	"github.com/google/uuid"

	"github.com/voxbridge/voxbridge/internal/sessionlock"
)

// Pinger is anything that can verify its backing connection. The gateway's
// store satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Database reports ready when the data store answers a ping.
func Database(p Pinger) Check {
	return Check{
		Name: "database",
		Run:  p.Ping,
	}
}

// Locks reports ready when the session-lock backend can grant and release
// a lock. Every run uses a fresh key, so concurrent readiness requests
// never contend with each other or with live sessions.
func Locks(l sessionlock.Locker) Check {
	return Check{
		Name: "locks",
		Run: func(ctx context.Context) error {
			release, err := l.TryAcquire(ctx, "healthcheck-"+uuid.NewString())
			if err != nil {
				return err
			}
			release()
			return nil
		},
	}
}
