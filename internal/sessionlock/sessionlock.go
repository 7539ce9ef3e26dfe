// Package sessionlock serializes message processing per session. Only one
// pipeline run may hold a session's lock at a time; concurrent callers are
// rejected immediately rather than queued, so the HTTP layer can return a
// 409 without tying up a connection.
package sessionlock

import (
	"context"
	"errors"
	"time"
)

// ErrLocked is returned by TryAcquire when another holder owns the session.
var ErrLocked = errors.New("sessionlock: session is locked")

// DefaultTTL bounds how long an abandoned lock can block a session. A
// crashed holder frees the session after at most this long.
const DefaultTTL = 30 * time.Second

// Locker guards sessions against concurrent processing.
type Locker interface {
	// TryAcquire takes the lock for sessionID or fails fast with
	// [ErrLocked]. On success the returned release func must be called
	// exactly once, on every exit path.
	TryAcquire(ctx context.Context, sessionID string) (release func(), err error)
}
