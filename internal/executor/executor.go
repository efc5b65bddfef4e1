// Package executor implements the OrderedBatchExecutor (spec.md §4.2): it
// wraps a Store and a SubscriptionRegistry, sorting batch inputs
// deterministically, acquiring locks in the required global order, and
// feeding commit results into notification fan-out.
package executor

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/adred-codev/kvsd/internal/kvs"
	"github.com/adred-codev/kvsd/internal/metrics"
	"github.com/adred-codev/kvsd/internal/protocol"
	"github.com/adred-codev/kvsd/internal/subscription"
)

// Executor applies write/read/delete batches against a Store, notifying
// subscribers through a Registry.
type Executor struct {
	store    *kvs.Store
	registry *subscription.Registry
	sizes    protocol.Sizes
	metrics  *metrics.Metrics
}

// New builds an Executor over store and registry.
func New(store *kvs.Store, registry *subscription.Registry, sizes protocol.Sizes, m *metrics.Metrics) *Executor {
	return &Executor{store: store, registry: registry, sizes: sizes, metrics: m}
}

func sortedKeys(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i]) < strings.ToLower(out[j])
	})
	return out
}

func sortedPairs(pairs []kvs.KV) []kvs.KV {
	out := append([]kvs.KV(nil), pairs...)
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Key) < strings.ToLower(out[j].Key)
	})
	return out
}

// pendingNotify is a notification to deliver once all Store/registry locks
// for the batch have been released.
type pendingNotify struct {
	handle subscription.Handle
	note   protocol.Notification
}

// WriteBatch applies pairs in case-insensitive sorted key order, then
// notifies every current subscriber of each written key with a "changed"
// frame (spec.md §4.2).
//
// The registry's writer lock is held for the whole batch (see the
// lock-order note on subscription.Registry) so this executor never
// inverts the order subscribe uses; the registry lock is released before
// any notification I/O happens.
func (e *Executor) WriteBatch(pairs []kvs.KV) error {
	sorted := sortedPairs(pairs)
	keys := make([]string, len(sorted))
	for i, p := range sorted {
		keys[i] = p.Key
	}

	e.registry.Lock()
	start := time.Now()
	tx, err := e.store.BeginWriteTx(keys)
	e.observeLockWait(start)
	if err != nil {
		e.registry.Unlock()
		return err
	}

	var pending []pendingNotify
	for _, p := range sorted {
		tx.Put(p.Key, p.Value)
		for _, h := range e.registry.SubscribersForLocked(p.Key) {
			pending = append(pending, pendingNotify{
				handle: h,
				note:   protocol.Notification{Type: protocol.NotifyChanged, Key: p.Key, Value: p.Value},
			})
		}
	}

	tx.Close()
	e.registry.Unlock()

	e.deliver(pending)
	return nil
}

// DeleteBatch removes keys in sorted order, draining and notifying each
// key's subscribers with a "deleted" frame before the entry is considered
// gone from the caller's point of view (spec.md invariant 4). Missing
// keys are reported in w's output only if at least one key was missing
// (spec.md §4.2).
func (e *Executor) DeleteBatch(keys []string, w io.Writer) error {
	sorted := sortedKeys(keys)

	e.registry.Lock()
	start := time.Now()
	tx, err := e.store.BeginWriteTx(sorted)
	e.observeLockWait(start)
	if err != nil {
		e.registry.Unlock()
		return err
	}

	var pending []pendingNotify
	missing := make([]string, 0)
	for _, k := range sorted {
		subs := e.registry.DrainForKeyLocked(k)
		existed := tx.Remove(k)
		if !existed {
			missing = append(missing, k)
			continue
		}
		for _, h := range subs {
			pending = append(pending, pendingNotify{
				handle: h,
				note:   protocol.Notification{Type: protocol.NotifyDeleted, Key: k},
			})
		}
	}

	tx.Close()
	e.registry.Unlock()

	e.deliver(pending)

	if len(missing) > 0 {
		var b bytes.Buffer
		b.WriteByte('[')
		for _, k := range missing {
			fmt.Fprintf(&b, "(%s,KVSMISSING)", k)
		}
		b.WriteByte(']')
		b.WriteByte('\n')
		_, err := w.Write(b.Bytes())
		return err
	}
	return nil
}

// ReadBatch emits one bracketed line per spec.md §4.2: "(k,v)" for present
// keys in sorted order, "(k,KVSERROR)" for absent ones.
func (e *Executor) ReadBatch(keys []string, w io.Writer) error {
	sorted := sortedKeys(keys)

	tx, err := e.store.BeginReadTx(sorted)
	if err != nil {
		return err
	}
	defer tx.Close()

	var b bytes.Buffer
	b.WriteByte('[')
	for _, k := range sorted {
		if v, ok := tx.Get(k); ok {
			fmt.Fprintf(&b, "(%s,%s)", k, v)
		} else {
			fmt.Fprintf(&b, "(%s,KVSERROR)", k)
		}
	}
	b.WriteByte(']')
	b.WriteByte('\n')
	_, err = w.Write(b.Bytes())
	return err
}

// observeLockWait records the time spent acquiring a batch's bucket locks
// via BeginWriteTx, once the registry writer lock is already held.
func (e *Executor) observeLockWait(start time.Time) {
	if e.metrics != nil {
		e.metrics.BucketLockWait.Observe(time.Since(start).Seconds())
	}
}

// deliver sends every pending notification outside of any Store/registry
// lock. A failed sink is silent at the job level (spec.md §7): it is
// simply skipped and stays registered until DrainForHandle (session end)
// or ResetAll (SIGUSR1 reset) removes it.
func (e *Executor) deliver(pending []pendingNotify) {
	for _, p := range pending {
		if err := p.handle.Notify(p.note); err != nil {
			if e.metrics != nil {
				e.metrics.NotificationsDropped.Inc()
			}
			continue
		}
		if e.metrics != nil {
			e.metrics.NotificationsSent.Inc()
		}
	}
}
