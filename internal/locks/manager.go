// Package locks implements a best-effort distributed lock manager backed by
// unique-row insertion in the shared store. Locks are advisory: callers must
// pair acquire and release correctly.
package locks

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mofekayode/videosift-backend/internal/models"
)

// safetyMargin is how long before expiry a held lease is proactively released.
const safetyMargin = 10 * time.Second

// Store is the persistence surface the manager needs.
type Store interface {
	InsertLockRow(resourceID, lockID string, expiresAt time.Time) (bool, error)
	GetLockRow(resourceID string) (*models.LockRow, error)
	DeleteExpiredLockRow(resourceID string, now time.Time) (bool, error)
	DeleteLockRowFenced(resourceID, lockID string) error
	SweepExpiredLocks(now time.Time) (int64, error)
}

// Lease is a time-bounded exclusive token over a string-named resource.
type Lease struct {
	ResourceID string
	LockID     string
	ExpiresAt  time.Time
}

// Manager acquires and releases TTL-expired leases.
type Manager struct {
	store Store
	now   func() time.Time

	mu   sync.Mutex
	held map[string]*heldLease
}

type heldLease struct {
	lease *Lease
	timer *time.Timer
}

// NewManager creates a lock manager over the given store.
func NewManager(store Store) *Manager {
	return &Manager{
		store: store,
		now:   time.Now,
		held:  make(map[string]*heldLease),
	}
}

// Acquire attempts to take an exclusive lease on the resource for ttl.
// It returns nil when the resource is already locked, and fails closed
// (returns nil) on any store error.
func (m *Manager) Acquire(resourceID string, ttl time.Duration) *Lease {
	now := m.now()
	lease := &Lease{
		ResourceID: resourceID,
		LockID:     uuid.NewString(),
		ExpiresAt:  now.Add(ttl),
	}

	inserted, err := m.store.InsertLockRow(resourceID, lease.LockID, lease.ExpiresAt)
	if err != nil {
		log.Printf("!!! [LOCKS] Store error acquiring '%s': %v", resourceID, err)
		return nil
	}

	if !inserted {
		// Collision: inspect the existing row. If it has expired, clear it
		// and retry once.
		existing, err := m.store.GetLockRow(resourceID)
		if err != nil {
			log.Printf("!!! [LOCKS] Store error inspecting '%s': %v", resourceID, err)
			return nil
		}
		if existing == nil || !existing.ExpiresAt.Before(now) {
			return nil
		}
		if _, err := m.store.DeleteExpiredLockRow(resourceID, now); err != nil {
			log.Printf("!!! [LOCKS] Store error clearing expired '%s': %v", resourceID, err)
			return nil
		}
		inserted, err = m.store.InsertLockRow(resourceID, lease.LockID, lease.ExpiresAt)
		if err != nil || !inserted {
			if err != nil {
				log.Printf("!!! [LOCKS] Store error re-acquiring '%s': %v", resourceID, err)
			}
			return nil
		}
	}

	m.track(lease, ttl)
	return lease
}

// Release deletes the lock row only when the lease's lock id still matches,
// so releasing a stale lease never revokes a newer one. Release errors are
// logged; the row still expires by TTL.
func (m *Manager) Release(lease *Lease) {
	if lease == nil {
		return
	}
	m.untrack(lease)
	if err := m.store.DeleteLockRowFenced(lease.ResourceID, lease.LockID); err != nil {
		log.Printf("!!! [LOCKS] Failed to release '%s': %v", lease.ResourceID, err)
	}
}

// IsLocked reports whether a live lock row exists for the resource.
func (m *Manager) IsLocked(resourceID string) bool {
	row, err := m.store.GetLockRow(resourceID)
	if err != nil {
		log.Printf("!!! [LOCKS] Store error checking '%s': %v", resourceID, err)
		return false
	}
	return row != nil && row.ExpiresAt.After(m.now())
}

// Sweep deletes all expired lock rows.
func (m *Manager) Sweep() {
	n, err := m.store.SweepExpiredLocks(m.now())
	if err != nil {
		log.Printf("!!! [LOCKS] Sweep failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[LOCKS] Swept %d expired lock row(s).", n)
	}
}

// StartSweeper runs Sweep on the interval until the context is cancelled.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// ReleaseAll releases every lease this process still holds. Called on
// graceful shutdown.
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	leases := make([]*Lease, 0, len(m.held))
	for _, h := range m.held {
		leases = append(leases, h.lease)
	}
	m.mu.Unlock()

	for _, lease := range leases {
		m.Release(lease)
	}
	if len(leases) > 0 {
		log.Printf("[LOCKS] Released %d held lease(s) on shutdown.", len(leases))
	}
}

// track records a held lease and schedules its proactive self-release at
// ttl - safetyMargin, so the row never outlives the work that holds it.
func (m *Manager) track(lease *Lease, ttl time.Duration) {
	delay := ttl - safetyMargin
	if delay < 0 {
		delay = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	h := &heldLease{lease: lease}
	h.timer = time.AfterFunc(delay, func() {
		log.Printf("[LOCKS] Lease on '%s' approaching expiry; releasing proactively.", lease.ResourceID)
		m.Release(lease)
	})
	m.held[lease.ResourceID] = h
}

func (m *Manager) untrack(lease *Lease) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.held[lease.ResourceID]; ok && h.lease.LockID == lease.LockID {
		h.timer.Stop()
		delete(m.held, lease.ResourceID)
	}
}
