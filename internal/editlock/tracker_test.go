package editlock

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"inventorycore/pkg/domain"
)

func TestTrackerLockLifecycle(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(nil)
	id := domain.NewGlobalID(domain.RecordSample, 12)

	first, err := tracker.AttemptToLockForEdit(ctx, id, "alice")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	again, err := tracker.AttemptToLockForEdit(ctx, id, "alice")
	if err != nil || again.Token != first.Token {
		t.Fatalf("expected re-entrant lock with same token, got %+v %v", again, err)
	}
	_, err = tracker.AttemptToLockForEdit(ctx, id, "bob")
	var already domain.AlreadyLockedError
	if !errors.As(err, &already) || already.Holder != "alice" {
		t.Fatalf("expected already locked by alice, got %v", err)
	}
	var locked domain.EditLockedError
	if err := tracker.CheckEditable(ctx, id, "bob"); !errors.As(err, &locked) || locked.Holder != "alice" {
		t.Fatalf("expected edit locked, got %v", err)
	}
	if err := tracker.CheckEditable(ctx, id, "alice"); err != nil {
		t.Fatalf("holder must be able to edit: %v", err)
	}
	if err := tracker.Unlock(ctx, id, "bob"); err != nil {
		t.Fatalf("unlock by other actor: %v", err)
	}
	if holder, ok, _ := tracker.Holder(ctx, id); !ok || holder != "alice" {
		t.Fatalf("expected lock to survive foreign unlock, got %q %v", holder, ok)
	}
	if err := tracker.Unlock(ctx, id, "alice"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, err := tracker.AttemptToLockForEdit(ctx, id, "bob"); err != nil {
		t.Fatalf("expected bob to lock after release: %v", err)
	}
}

func TestTrackerExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	tracker := NewTracker(NewMemoryStore(), WithTTL(time.Minute), WithClock(func() time.Time { return now }))
	id := domain.NewGlobalID(domain.RecordContainer, 3)
	if _, err := tracker.AttemptToLockForEdit(ctx, id, "alice"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if err := tracker.CheckEditable(ctx, id, "bob"); err != nil {
		t.Fatalf("expected expired lock to be ignored: %v", err)
	}
	if _, err := tracker.AttemptToLockForEdit(ctx, id, "bob"); err != nil {
		t.Fatalf("expected expired lock to be replaced: %v", err)
	}
}

func TestTrackerRelockExtendsExpiry(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	now := start
	tracker := NewTracker(NewMemoryStore(), WithTTL(time.Minute), WithClock(func() time.Time { return now }))
	id := domain.NewGlobalID(domain.RecordSample, 8)
	first, err := tracker.AttemptToLockForEdit(ctx, id, "alice")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	now = start.Add(50 * time.Second)
	again, err := tracker.AttemptToLockForEdit(ctx, id, "alice")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	if again.Token != first.Token || !again.AcquiredAt.Equal(first.AcquiredAt) {
		t.Fatalf("expected the same lock back, got %+v", again)
	}
	if want := now.Add(time.Minute); !again.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %s, got %s", want, again.ExpiresAt)
	}

	now = start.Add(90 * time.Second)
	var locked domain.EditLockedError
	if err := tracker.CheckEditable(ctx, id, "bob"); !errors.As(err, &locked) || locked.Holder != "alice" {
		t.Fatalf("expected refreshed lock to still block bob, got %v", err)
	}
	now = start.Add(111 * time.Second)
	if err := tracker.CheckEditable(ctx, id, "bob"); err != nil {
		t.Fatalf("expected refreshed lock to lapse, got %v", err)
	}
}

func TestTrackerTemplateVersionsShareLock(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(nil)
	if _, err := tracker.AttemptToLockForEdit(ctx, domain.GlobalID{Type: domain.RecordTemplate, ID: 4, Version: 2}, "alice"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := tracker.CheckEditable(ctx, domain.NewGlobalID(domain.RecordTemplate, 4), "bob"); err == nil {
		t.Fatalf("expected lock to cover every template version")
	}
}

func TestMemoryStoreConcurrentAcquire(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tracker := NewTracker(store)
	id := domain.NewGlobalID(domain.RecordSubSample, 9)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for _, actor := range []string{"a", "b", "c", "d", "e", "f"} {
		wg.Add(1)
		go func(actor string) {
			defer wg.Done()
			if _, err := tracker.AttemptToLockForEdit(ctx, id, actor); err == nil {
				mu.Lock()
				winners = append(winners, actor)
				mu.Unlock()
			}
		}(actor)
	}
	wg.Wait()
	if len(winners) != 1 {
		t.Fatalf("expected exactly one winner, got %v", winners)
	}
	if store.Len() != 1 || len(store.Locks()) != 1 {
		t.Fatalf("expected one stored lock")
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	rdb, err := DialRedis(ctx, addr, os.Getenv("REDIS_PASSWORD"), 0)
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })

	tracker := NewTracker(NewRedisStore(rdb, "inventorycore-test:"+uuid.NewString()+":"), WithTTL(time.Minute))
	id := domain.NewGlobalID(domain.RecordSample, 1)
	first, err := tracker.AttemptToLockForEdit(ctx, id, "alice")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	again, err := tracker.AttemptToLockForEdit(ctx, id, "alice")
	if err != nil || again.Token != first.Token || again.ExpiresAt.Before(first.ExpiresAt) {
		t.Fatalf("expected relock to keep the token and extend expiry, got %+v %v", again, err)
	}
	var already domain.AlreadyLockedError
	if _, err := tracker.AttemptToLockForEdit(ctx, id, "bob"); !errors.As(err, &already) {
		t.Fatalf("expected already locked, got %v", err)
	}
	if err := tracker.Unlock(ctx, id, "bob"); err != nil {
		t.Fatalf("foreign unlock: %v", err)
	}
	if holder, ok, err := tracker.Holder(ctx, id); err != nil || !ok || holder != "alice" {
		t.Fatalf("expected alice to keep the lock, got %q %v %v", holder, ok, err)
	}
	if err := tracker.Unlock(ctx, id, "alice"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, ok, _ := tracker.Holder(ctx, id); ok {
		t.Fatalf("expected lock released")
	}
}
