package txn

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrLockHeld is returned when another live transaction holds the
// requested resource lock.
var ErrLockHeld = errors.New("resource lock held by another transaction")

// LockHeldError is the concrete error for a denied lock acquisition.
type LockHeldError struct {
	// Resource is the contested resource name.
	Resource string

	// HolderID is the transaction currently holding the lock.
	HolderID string

	// ExpiresAt is when the holder's lock expires.
	ExpiresAt time.Time
}

// Error implements the error interface.
func (e *LockHeldError) Error() string {
	return fmt.Sprintf("resource %q locked by transaction %s until %s",
		e.Resource, e.HolderID, e.ExpiresAt.Format(time.RFC3339))
}

// Is implements error matching for errors.Is().
func (e *LockHeldError) Is(target error) bool {
	return target == ErrLockHeld
}

// ResourceLock records one held advisory lock.
type ResourceLock struct {
	// Resource is the locked resource name (e.g. "backend/web").
	Resource string

	// HolderID is the owning transaction id.
	HolderID string

	// AcquiredAt and ExpiresAt bound the lock's validity.
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// lockTable serializes conflicting transactions within this process.
type lockTable struct {
	mu     sync.Mutex
	locks  map[string]*ResourceLock
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

func newLockTable(ttl time.Duration, logger *slog.Logger, now func() time.Time) *lockTable {
	return &lockTable{
		locks:  make(map[string]*ResourceLock),
		ttl:    ttl,
		logger: logger,
		now:    now,
	}
}

// acquire grants the lock to holderID, denying the request when another
// live transaction holds it. An expired lock is taken over. Re-acquiring a
// lock already held by the same transaction extends its expiry.
func (lt *lockTable) acquire(resource, holderID string) error {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	now := lt.now()
	if existing, ok := lt.locks[resource]; ok && existing.HolderID != holderID {
		if now.Before(existing.ExpiresAt) {
			return &LockHeldError{
				Resource:  resource,
				HolderID:  existing.HolderID,
				ExpiresAt: existing.ExpiresAt,
			}
		}
		lt.logger.Warn("taking over expired resource lock",
			"resource", resource,
			"previous_holder", existing.HolderID,
			"expired_at", existing.ExpiresAt,
		)
	}

	lt.locks[resource] = &ResourceLock{
		Resource:   resource,
		HolderID:   holderID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(lt.ttl),
	}
	return nil
}

// release removes a single lock if held by holderID.
func (lt *lockTable) release(resource, holderID string) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	if existing, ok := lt.locks[resource]; ok && existing.HolderID == holderID {
		delete(lt.locks, resource)
	}
}

// releaseAll removes every lock held by holderID and returns the released
// resources.
func (lt *lockTable) releaseAll(holderID string) []string {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	var released []string
	for resource, lock := range lt.locks {
		if lock.HolderID == holderID {
			delete(lt.locks, resource)
			released = append(released, resource)
		}
	}
	return released
}

// holder returns the live lock for a resource, or nil.
func (lt *lockTable) holder(resource string) *ResourceLock {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	lock, ok := lt.locks[resource]
	if !ok || lt.now().After(lock.ExpiresAt) {
		return nil
	}
	copied := *lock
	return &copied
}
