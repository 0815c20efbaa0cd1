package locks

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mofekayode/videosift-backend/internal/models"
)

// fakeLockStore is an in-memory Store with the same unique-row semantics as
// the locks table.
type fakeLockStore struct {
	mu   sync.Mutex
	rows map[string]models.LockRow
	err  error
}

func newFakeLockStore() *fakeLockStore {
	return &fakeLockStore{rows: make(map[string]models.LockRow)}
}

func (s *fakeLockStore) InsertLockRow(resourceID, lockID string, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if _, ok := s.rows[resourceID]; ok {
		return false, nil
	}
	s.rows[resourceID] = models.LockRow{ResourceID: resourceID, LockID: lockID, ExpiresAt: expiresAt}
	return true, nil
}

func (s *fakeLockStore) GetLockRow(resourceID string) (*models.LockRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	row, ok := s.rows[resourceID]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (s *fakeLockStore) DeleteExpiredLockRow(resourceID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	row, ok := s.rows[resourceID]
	if ok && row.ExpiresAt.Before(now) {
		delete(s.rows, resourceID)
		return true, nil
	}
	return false, nil
}

func (s *fakeLockStore) DeleteLockRowFenced(resourceID, lockID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if row, ok := s.rows[resourceID]; ok && row.LockID == lockID {
		delete(s.rows, resourceID)
	}
	return nil
}

func (s *fakeLockStore) SweepExpiredLocks(now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	var n int64
	for id, row := range s.rows {
		if row.ExpiresAt.Before(now) {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

func TestAcquireIsExclusive(t *testing.T) {
	store := newFakeLockStore()
	m := NewManager(store)

	leaseA := m.Acquire("video-X", 600*time.Second)
	require.NotNil(t, leaseA)

	leaseB := m.Acquire("video-X", 600*time.Second)
	assert.Nil(t, leaseB, "second acquire must fail while the lease is live")

	m.Release(leaseA)

	leaseC := m.Acquire("video-X", 600*time.Second)
	assert.NotNil(t, leaseC, "acquire after release must succeed")
	m.Release(leaseC)
}

func TestAcquireConcurrentSingleWinner(t *testing.T) {
	store := newFakeLockStore()
	m := NewManager(store)

	const workers = 8
	var wg sync.WaitGroup
	results := make([]*Lease, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.Acquire("video-X", 600*time.Second)
		}(i)
	}
	wg.Wait()

	var winners int
	for _, l := range results {
		if l != nil {
			winners++
			m.Release(l)
		}
	}
	assert.Equal(t, 1, winners, "exactly one concurrent acquire may win")
}

func TestAcquireStealsExpiredLease(t *testing.T) {
	store := newFakeLockStore()
	m := NewManager(store)

	// Plant an expired row directly, as if an old holder crashed.
	store.rows["channel-queue-7"] = models.LockRow{
		ResourceID: "channel-queue-7",
		LockID:     "stale",
		ExpiresAt:  time.Now().Add(-time.Minute),
	}

	lease := m.Acquire("channel-queue-7", time.Hour)
	require.NotNil(t, lease, "expired rows must be cleared and re-acquired")
	assert.NotEqual(t, "stale", lease.LockID)
	m.Release(lease)
}

func TestReleaseIsFenced(t *testing.T) {
	store := newFakeLockStore()
	m := NewManager(store)

	leaseA := m.Acquire("video-Y", 600*time.Second)
	require.NotNil(t, leaseA)

	// Simulate the first holder expiring and a new holder taking over.
	store.mu.Lock()
	row := store.rows["video-Y"]
	row.ExpiresAt = time.Now().Add(-time.Second)
	store.rows["video-Y"] = row
	store.mu.Unlock()

	leaseB := m.Acquire("video-Y", 600*time.Second)
	require.NotNil(t, leaseB)

	// Releasing the stale lease must not revoke the new one.
	m.Release(leaseA)
	assert.True(t, m.IsLocked("video-Y"), "stale release must not revoke the newer lease")

	m.Release(leaseB)
	assert.False(t, m.IsLocked("video-Y"))
}

func TestAcquireFailsClosedOnStoreError(t *testing.T) {
	store := newFakeLockStore()
	store.err = assert.AnError
	m := NewManager(store)

	assert.Nil(t, m.Acquire("video-Z", time.Minute))
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	store := newFakeLockStore()
	m := NewManager(store)

	store.rows["old"] = models.LockRow{ResourceID: "old", LockID: "a", ExpiresAt: time.Now().Add(-time.Hour)}
	store.rows["live"] = models.LockRow{ResourceID: "live", LockID: "b", ExpiresAt: time.Now().Add(time.Hour)}

	m.Sweep()

	assert.NotContains(t, store.rows, "old")
	assert.Contains(t, store.rows, "live")
}
