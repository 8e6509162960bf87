// Package lock implements the per-file mutual-exclusion lease on top of
// Redis. Acquisition is an atomic set-if-absent with an expiry; losing the
// race is an expected outcome, not an error.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/meetmind/ingest-worker/pkg/logger"
	"github.com/meetmind/ingest-worker/pkg/redis"
)

// Lease guards a single file against duplicate concurrent processing. The
// TTL bounds the staleness window if a worker dies without releasing: the
// lease simply expires. The TTL must exceed the pipeline deadline so a live
// run never loses its lease mid-flight.
type Lease struct {
	client *redis.Client
	holder string
	logger *slog.Logger
}

func New(client *redis.Client) *Lease {
	return &Lease{
		client: client,
		holder: uuid.NewString(),
		logger: logger.WithComponent("lock"),
	}
}

// Acquire sets the key only if absent and reports whether this worker now
// holds it. False means another worker owns the job; the caller must skip
// processing and report success so the message is not redelivered forever.
func (l *Lease) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, key, l.holder, ttl)
	if err != nil {
		return false, fmt.Errorf("acquiring lease %s: %w", key, err)
	}
	if ok {
		l.logger.Debug("lease acquired", "key", key, "ttl", ttl)
	}
	return ok, nil
}

// Release deletes the key only if this worker still holds it. A lease that
// expired mid-run may have been re-acquired by another worker; deleting a
// foreign lease would let a third worker start a duplicate run. It must run
// on every exit from the job handler so held leases do not linger for their
// full TTL.
//
// TODO: fold the ownership check and delete into a single Lua script; the
// get-then-del pair leaves a small window where the lease expires in between.
func (l *Lease) Release(ctx context.Context, key string) error {
	val, err := l.client.Get(ctx, key)
	if redis.IsNilError(err) {
		l.logger.Warn("lease expired before release", "key", key)
		return nil
	}
	if err != nil {
		return fmt.Errorf("releasing lease %s: %w", key, err)
	}
	if val != l.holder {
		l.logger.Warn("lease held by another worker, leaving it", "key", key)
		return nil
	}
	if err := l.client.Del(ctx, key); err != nil {
		return fmt.Errorf("releasing lease %s: %w", key, err)
	}
	l.logger.Debug("lease released", "key", key)
	return nil
}
