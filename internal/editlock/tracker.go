// Package editlock tracks which actor is currently editing a record so that
// concurrent mutations from other actors can be refused.
package editlock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"inventorycore/pkg/domain"
)

// DefaultTTL bounds how long an abandoned lock blocks other actors.
const DefaultTTL = 15 * time.Minute

// Lock is an edit lock held on one record.
type Lock struct {
	Key        string    `json:"key"`
	Holder     string    `json:"holder"`
	Token      string    `json:"token"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the lock has lapsed at now. Locks without an expiry
// never lapse.
func (l Lock) Expired(now time.Time) bool {
	return !l.ExpiresAt.IsZero() && !now.Before(l.ExpiresAt)
}

// Store persists edit locks. Implementations must make Acquire and Release
// atomic with respect to each other.
type Store interface {
	// Acquire records lock unless a live lock exists for lock.Key and returns
	// the lock now held, which belongs to another holder when acquisition lost.
	// A live lock of the same holder keeps its token and takes the expiry of
	// lock.
	Acquire(ctx context.Context, lock Lock, ttl time.Duration) (Lock, error)
	Get(ctx context.Context, key string) (Lock, bool, error)
	// Release removes the lock for key when it is held by holder.
	Release(ctx context.Context, key, holder string) (bool, error)
}

// Tracker is the registry consulted by every mutation entry point.
type Tracker struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithTTL sets the lock lifetime. Zero keeps locks until released.
func WithTTL(ttl time.Duration) Option {
	return func(t *Tracker) {
		if ttl >= 0 {
			t.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker builds a tracker over store. A nil store keeps locks in memory.
func NewTracker(store Store, opts ...Option) *Tracker {
	if store == nil {
		store = NewMemoryStore()
	}
	t := &Tracker{store: store, ttl: DefaultTTL, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Key returns the store key of a record.
func Key(id domain.GlobalID) string {
	id.Version = 0
	return id.String()
}

// AttemptToLockForEdit locks id for actor. Locking a record already held by
// the same actor succeeds, extends the lock by the TTL and returns it.
func (t *Tracker) AttemptToLockForEdit(ctx context.Context, id domain.GlobalID, actor string) (Lock, error) {
	if actor == "" {
		return Lock{}, domain.ValidationError{Messages: []string{"actor is required to lock a record"}}
	}
	now := t.now()
	lock := Lock{Key: Key(id), Holder: actor, Token: uuid.NewString(), AcquiredAt: now}
	if t.ttl > 0 {
		lock.ExpiresAt = now.Add(t.ttl)
	}
	held, err := t.store.Acquire(ctx, lock, t.ttl)
	if err != nil {
		return Lock{}, fmt.Errorf("acquire edit lock %s: %w", lock.Key, err)
	}
	if held.Holder != actor {
		return Lock{}, domain.AlreadyLockedError{ID: id, Holder: held.Holder}
	}
	return held, nil
}

// Unlock releases actor's lock on id. Releasing a lock that is not held by
// actor is a no-op.
func (t *Tracker) Unlock(ctx context.Context, id domain.GlobalID, actor string) error {
	if _, err := t.store.Release(ctx, Key(id), actor); err != nil {
		return fmt.Errorf("release edit lock %s: %w", Key(id), err)
	}
	return nil
}

// Holder returns the actor holding a live lock on id.
func (t *Tracker) Holder(ctx context.Context, id domain.GlobalID) (string, bool, error) {
	lock, ok, err := t.store.Get(ctx, Key(id))
	if err != nil {
		return "", false, fmt.Errorf("lookup edit lock %s: %w", Key(id), err)
	}
	if !ok || lock.Expired(t.now()) {
		return "", false, nil
	}
	return lock.Holder, true, nil
}

// CheckEditable fails with EditLockedError when someone other than actor
// holds a lock on id.
func (t *Tracker) CheckEditable(ctx context.Context, id domain.GlobalID, actor string) error {
	holder, ok, err := t.Holder(ctx, id)
	if err != nil {
		return err
	}
	if ok && holder != actor {
		return domain.EditLockedError{ID: id, Holder: holder}
	}
	return nil
}
