package txn

import (
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func newTestLockTable(ttl time.Duration, clock *time.Time) *lockTable {
	return newLockTable(ttl, slog.Default(), func() time.Time { return *clock })
}

func TestLockExclusivity(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	lt := newTestLockTable(time.Minute, &now)

	if err := lt.acquire("backend/web", "txn-1"); err != nil {
		t.Fatalf("first acquire error = %v", err)
	}

	err := lt.acquire("backend/web", "txn-2")
	if !errors.Is(err, ErrLockHeld) {
		t.Fatalf("second acquire error = %v, want ErrLockHeld", err)
	}
	var held *LockHeldError
	if !errors.As(err, &held) {
		t.Fatalf("error %v is not a *LockHeldError", err)
	}
	if held.HolderID != "txn-1" || held.Resource != "backend/web" {
		t.Errorf("LockHeldError = %+v", held)
	}
}

func TestLockReacquireBySameHolder(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	lt := newTestLockTable(time.Minute, &now)

	if err := lt.acquire("backend/web", "txn-1"); err != nil {
		t.Fatalf("acquire error = %v", err)
	}
	if err := lt.acquire("backend/web", "txn-1"); err != nil {
		t.Errorf("re-acquire by holder error = %v, want nil", err)
	}
}

func TestExpiredLockTakeover(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	lt := newTestLockTable(time.Minute, &now)

	if err := lt.acquire("backend/web", "txn-1"); err != nil {
		t.Fatalf("acquire error = %v", err)
	}

	now = now.Add(61 * time.Second)

	if err := lt.acquire("backend/web", "txn-2"); err != nil {
		t.Errorf("takeover of expired lock error = %v, want nil", err)
	}
	if holder := lt.holder("backend/web"); holder == nil || holder.HolderID != "txn-2" {
		t.Errorf("holder = %+v, want txn-2", holder)
	}
}

func TestReleaseAll(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	lt := newTestLockTable(time.Minute, &now)

	_ = lt.acquire("backend/web", "txn-1")
	_ = lt.acquire("backend/db", "txn-1")
	_ = lt.acquire("backend/api", "txn-2")

	released := lt.releaseAll("txn-1")
	if len(released) != 2 {
		t.Errorf("released %v, want 2 resources", released)
	}
	if lt.holder("backend/web") != nil || lt.holder("backend/db") != nil {
		t.Error("txn-1 locks still held after releaseAll")
	}
	if holder := lt.holder("backend/api"); holder == nil || holder.HolderID != "txn-2" {
		t.Error("releaseAll removed another transaction's lock")
	}
}

func TestConcurrentAcquireExactlyOneWins(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	lt := newTestLockTable(time.Minute, &now)

	const contenders = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := lt.acquire("backend/web", holderName(id)); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
}

func holderName(i int) string {
	return string(rune('a'+i)) + "-txn"
}
