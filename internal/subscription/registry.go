// Package subscription implements the SubscriptionRegistry and
// NotificationSink of spec.md §4.3-4.4: a single reader/writer lock over a
// key→subscriber-set mapping, and a write-only handle to one subscriber's
// notification pipe.
package subscription

import (
	"sync"

	"github.com/adred-codev/kvsd/internal/kvs"
	"github.com/adred-codev/kvsd/internal/kvserr"
	"github.com/adred-codev/kvsd/internal/protocol"
)

// Handle is the opaque identity of one subscriber (a session).
type Handle interface {
	// Notify delivers a frame to this subscriber. Implementations (see
	// internal/subscription.Sink) may keep failing once their pipe is
	// gone; the registry keeps such a handle until DrainForHandle or
	// ResetAll removes it.
	Notify(n protocol.Notification) error
}

// Outcome is the result of a subscribe/unsubscribe attempt.
type Outcome int

const (
	Accepted Outcome = iota
	Duplicate
	KeyAbsent
	Removed
	NotSubscribed
)

// Registry maps each Key to its bounded set of subscriber Handles, under
// one reader/writer lock for the whole mapping (spec.md §4.3).
//
// Lock-order note: per spec.md §5, the registry lock may be taken while
// holding Store.G in reader mode only for the subscribe contains-check.
// To avoid an AB-BA cycle between that path and the batch executor's
// notify-under-bucket-lock path (holding a bucket writer lock and wanting
// the registry lock would invert the order subscribe uses), this registry
// is always acquired *before* any Store lock by every caller in this repo
// — the batch executor takes the registry lock for the whole duration of
// a write/delete batch, then enters Store.BeginWriteTx. That establishes a
// single total order (registry ⊐ Store.G ⊐ Store.B[i]) with no caller
// ever inverting it.
type Registry struct {
	mu    sync.RWMutex
	byKey map[string][]Handle

	maxPerKey int
	store     *kvs.Store
}

// New creates a Registry bounded by maxPerKey subscribers per key
// (spec.md suggests 10*S) and backed by store for the subscribe
// existence check.
func New(store *kvs.Store, maxPerKey int) *Registry {
	return &Registry{
		byKey:     make(map[string][]Handle),
		maxPerKey: maxPerKey,
		store:     store,
	}
}

// Lock acquires the registry's writer lock for the duration of a batch
// write/delete, per the lock-order note above. Unlock releases it.
// Exposed so internal/executor can bracket a whole batch.
func (r *Registry) Lock()   { r.mu.Lock() }
func (r *Registry) Unlock() { r.mu.Unlock() }

// subscribeLocked registers handle for key. The caller must already hold
// the registry's writer lock; the Store existence check runs under it.
// SubscribeKey is the entry point that takes the lock, used by session
// workers.
func (r *Registry) subscribeLocked(key string, handle Handle) (Outcome, error) {
	exists, err := r.store.Contains(key)
	if err != nil {
		return 0, err
	}
	if !exists {
		return KeyAbsent, nil
	}
	subs := r.byKey[key]
	for _, h := range subs {
		if h == handle {
			return Duplicate, nil
		}
	}
	if len(subs) >= r.maxPerKey {
		return 0, kvserr.ErrSubscriberQuotaExceeded
	}
	r.byKey[key] = append(subs, handle)
	return Accepted, nil
}

// SubscribeKey is the standalone entry point used by session workers
// handling a SUBSCRIBE request (spec.md §4.7 step 5): it takes the
// registry's own writer lock and performs the Store.Contains check while
// holding it, exactly as spec.md §4.3 describes.
func (r *Registry) SubscribeKey(key string, handle Handle) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subscribeLocked(key, handle)
}

// UnsubscribeKey removes handle's subscription to key.
func (r *Registry) UnsubscribeKey(key string, handle Handle) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	exists, err := r.store.Contains(key)
	if err != nil {
		return 0, err
	}
	if !exists {
		return KeyAbsent, nil
	}
	subs, ok := r.byKey[key]
	if !ok {
		return NotSubscribed, nil
	}
	for i, h := range subs {
		if h == handle {
			subs = append(subs[:i], subs[i+1:]...)
			if len(subs) == 0 {
				delete(r.byKey, key)
			} else {
				r.byKey[key] = subs
			}
			return Removed, nil
		}
	}
	return NotSubscribed, nil
}

// SubscribersForLocked returns the current subscriber list for key. The
// caller must already hold the registry's lock (via Lock/Unlock) — used
// by the batch executor's write path while it holds the registry writer
// lock for the whole batch.
func (r *Registry) SubscribersForLocked(key string) []Handle {
	subs := r.byKey[key]
	out := make([]Handle, len(subs))
	copy(out, subs)
	return out
}

// DrainForKeyLocked removes and returns every subscriber of key. The
// caller must already hold the registry's lock. Used by delete so
// extraction and removal are atomic within the same critical section
// (spec.md §4.2, §4.3 drain_for_key).
func (r *Registry) DrainForKeyLocked(key string) []Handle {
	subs := r.byKey[key]
	delete(r.byKey, key)
	return subs
}

// DrainForHandle removes handle from every key it is subscribed to —
// used on session disconnect and SIGUSR1 reset (spec.md §4.3
// drain_for_handle).
func (r *Registry) DrainForHandle(handle Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, subs := range r.byKey {
		for i, h := range subs {
			if h == handle {
				subs = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(subs) == 0 {
			delete(r.byKey, key)
		} else {
			r.byKey[key] = subs
		}
	}
}

// ResetAll clears every subscription in the registry — used by the
// SIGUSR1 global reset (spec.md §4.8).
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey = make(map[string][]Handle)
}

// SubscriberCount returns the number of subscribers currently registered
// for key, for tests and metrics.
func (r *Registry) SubscriberCount(key string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey[key])
}
