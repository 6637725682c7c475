package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease guards one tenant's evaluation run: at most one run per tenant
// may hold the lease at a time, across all engine instances.
type Lease interface {
	// Acquire takes the tenant lease for ttl. Returns false without error
	// when another holder has it.
	Acquire(ctx context.Context, tenantID string, ttl time.Duration) (bool, error)
	// Release frees the lease if this instance still holds it.
	Release(ctx context.Context, tenantID string) error
}

// RedisLease implements Lease with SET NX + TTL so instances sharing a
// Redis never run the same tenant concurrently. Release checks the stored
// holder token so an expired lease taken over by another instance is not
// released by the old holder.
type RedisLease struct {
	client *redis.Client
	holder string
}

// NewRedisLease creates a Redis-backed lease with a unique holder token.
func NewRedisLease(client *redis.Client) *RedisLease {
	return &RedisLease{
		client: client,
		holder: uuid.NewString(),
	}
}

func leaseKey(tenantID string) string {
	return "guardian:lease:" + tenantID
}

func (l *RedisLease) Acquire(ctx context.Context, tenantID string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, leaseKey(tenantID), l.holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease for tenant %s: %w", tenantID, err)
	}
	return ok, nil
}

// releaseScript deletes the lease only when this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

func (l *RedisLease) Release(ctx context.Context, tenantID string) error {
	if err := releaseScript.Run(ctx, l.client, []string{leaseKey(tenantID)}, l.holder).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release lease for tenant %s: %w", tenantID, err)
	}
	return nil
}

// LocalLease is the single-instance fallback when no Redis is configured.
// It serializes runs per tenant within this process only.
type LocalLease struct {
	mu     sync.Mutex
	leases map[string]time.Time
}

// NewLocalLease creates an in-process lease.
func NewLocalLease() *LocalLease {
	return &LocalLease{leases: make(map[string]time.Time)}
}

func (l *LocalLease) Acquire(ctx context.Context, tenantID string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if expires, held := l.leases[tenantID]; held && now.Before(expires) {
		return false, nil
	}
	l.leases[tenantID] = now.Add(ttl)
	return true, nil
}

func (l *LocalLease) Release(ctx context.Context, tenantID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.leases, tenantID)
	return nil
}
