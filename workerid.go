// Package nebulaid - workerid.go allocates Snowflake worker IDs through
// coordination leases.
//
// Each process claims the lowest free worker slot in its datacenter by
// writing a lease-bound key. A background goroutine renews the lease at a
// third of its TTL; if the process dies, the lease expires and the slot frees
// itself. A renewal outage marks the allocator unhealthy so the owner can
// stop issuing Snowflake IDs before another process could claim the slot.

package nebulaid

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Coordinator abstracts the coordination backend used for worker-ID leases.
type Coordinator interface {
	// GrantLease creates a lease with the given TTL and returns its ID.
	GrantLease(ctx context.Context, ttl time.Duration) (string, error)

	// KeepAlive refreshes the lease and every key bound to it.
	KeepAlive(ctx context.Context, leaseID string) error

	// CreateIfAbsent writes key=value bound to the lease, failing without
	// error when the key already exists. Returns whether the write won.
	CreateIfAbsent(ctx context.Context, key, value, leaseID string) (bool, error)

	// Delete removes a key.
	Delete(ctx context.Context, key string) error
}

// WorkerLease is a successfully claimed worker slot.
type WorkerLease struct {
	WorkerID int64
	LeaseID  string
	Key      string
	TTL      time.Duration
}

// healthTargetCoordinator names the coordination backend in the health
// monitor.
const healthTargetCoordinator = "coordinator"

// WorkerIDAllocator claims and maintains one worker slot per process.
type WorkerIDAllocator struct {
	coord   Coordinator
	cfg     WorkerLeaseConfig
	dcID    int64
	monitor *HealthMonitor // optional

	mu    sync.Mutex
	lease *WorkerLease

	healthy  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
}

// NewWorkerIDAllocator creates an allocator for one datacenter. monitor may
// be nil.
func NewWorkerIDAllocator(coord Coordinator, cfg WorkerLeaseConfig, dcID int64, monitor *HealthMonitor) *WorkerIDAllocator {
	cfg.applyDefaults()
	a := &WorkerIDAllocator{
		coord:   coord,
		cfg:     cfg,
		dcID:    dcID,
		monitor: monitor,
		stop:    make(chan struct{}),
	}
	a.healthy.Store(true)
	return a
}

// slotKey names one worker slot in the coordination backend.
func (a *WorkerIDAllocator) slotKey(workerID int64) string {
	return fmt.Sprintf("%s/%d/%d", a.cfg.KeyPrefix, a.dcID, workerID)
}

// nodeIdentity is the value written into a claimed slot, for debugging who
// holds it.
func nodeIdentity() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}

// Allocate scans the datacenter's slots from zero and claims the first free
// one. On success the renewal goroutine starts and the lease is returned.
func (a *WorkerIDAllocator) Allocate(ctx context.Context) (*WorkerLease, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.lease != nil {
		return a.lease, nil
	}

	leaseID, err := a.coord.GrantLease(ctx, a.cfg.TTL)
	if err != nil {
		a.recordFailure()
		return nil, fmt.Errorf("%w: grant lease: %v", ErrCoordinatorUnavailable, err)
	}

	identity := nodeIdentity()
	for workerID := int64(0); workerID < a.cfg.MaxWorkers; workerID++ {
		key := a.slotKey(workerID)
		won, err := a.coord.CreateIfAbsent(ctx, key, identity, leaseID)
		if err != nil {
			a.recordFailure()
			return nil, fmt.Errorf("%w: claim %s: %v", ErrCoordinatorUnavailable, key, err)
		}
		if !won {
			continue
		}

		a.recordSuccess()
		a.lease = &WorkerLease{
			WorkerID: workerID,
			LeaseID:  leaseID,
			Key:      key,
			TTL:      a.cfg.TTL,
		}
		go a.renewLoop(*a.lease)
		return a.lease, nil
	}

	return nil, fmt.Errorf("%w: dc=%d slots=%d", ErrNoAvailableWorkerID, a.dcID, a.cfg.MaxWorkers)
}

// renewLoop keeps the lease alive until Release. Renewal runs at TTL/3, so
// two consecutive failures still leave slack before expiry.
func (a *WorkerIDAllocator) renewLoop(lease WorkerLease) {
	interval := lease.TTL / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			err := a.coord.KeepAlive(ctx, lease.LeaseID)
			cancel()
			if err != nil {
				a.recordFailure()
				continue
			}
			a.recordSuccess()
		case <-a.stop:
			return
		}
	}
}

// Healthy reports whether the last lease renewal succeeded. Callers should
// treat an unhealthy allocator as losing the worker ID.
func (a *WorkerIDAllocator) Healthy() bool {
	return a.healthy.Load()
}

// Lease returns the currently held lease, or nil before Allocate.
func (a *WorkerIDAllocator) Lease() *WorkerLease {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lease
}

// Release stops renewal and frees the slot immediately instead of waiting
// for the lease to expire.
func (a *WorkerIDAllocator) Release(ctx context.Context) error {
	a.stopOnce.Do(func() { close(a.stop) })

	a.mu.Lock()
	lease := a.lease
	a.lease = nil
	a.mu.Unlock()

	if lease == nil {
		return nil
	}
	if err := a.coord.Delete(ctx, lease.Key); err != nil {
		return fmt.Errorf("%w: release %s: %v", ErrCoordinatorUnavailable, lease.Key, err)
	}
	return nil
}

func (a *WorkerIDAllocator) recordSuccess() {
	a.healthy.Store(true)
	if a.monitor != nil {
		a.monitor.RecordSuccess(healthTargetCoordinator)
	}
}

func (a *WorkerIDAllocator) recordFailure() {
	a.healthy.Store(false)
	if a.monitor != nil {
		a.monitor.RecordFailure(healthTargetCoordinator)
	}
}
