// Package kvs implements the sharded hash table (spec.md §3, §4.1) and the
// WriteTx/ReadTx batch primitives that internal/executor's ordered batch
// executor (spec.md §4.2) is built on. Locking follows spec.md §5's global order: Store.G strictly above
// Store.B[i], B[i] acquired ascending within any one batch.
package kvs

import (
	"sort"
	"sync"

	"github.com/adred-codev/kvsd/internal/kvserr"
)

// Presence reports whether a Put inserted a new entry or replaced one.
type Presence int

const (
	Inserted Presence = iota
	Replaced
)

type entry struct {
	key   string
	value string
}

// bucket is an ordered collection of entries sharing a hash slot, guarded
// by its own reader/writer lock. Insertion order is preserved for stable
// iteration (spec.md §4.1 for_each, §6.8 snapshot ordering).
type bucket struct {
	mu    sync.RWMutex
	order []string
	byKey map[string]*entry
}

func newBucket() *bucket {
	return &bucket{byKey: make(map[string]*entry)}
}

func (b *bucket) getLocked(key string) (string, bool) {
	e, ok := b.byKey[key]
	if !ok {
		return "", false
	}
	return e.value, true
}

func (b *bucket) putLocked(key, value string) Presence {
	if e, ok := b.byKey[key]; ok {
		e.value = value
		return Replaced
	}
	b.byKey[key] = &entry{key: key, value: value}
	b.order = append(b.order, key)
	return Inserted
}

func (b *bucket) removeLocked(key string) bool {
	if _, ok := b.byKey[key]; !ok {
		return false
	}
	delete(b.byKey, key)
	for i, k := range b.order {
		if k == key {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return true
}

// Store is the table of B buckets plus the table-wide quiesce lock G.
type Store struct {
	g       sync.RWMutex
	buckets []*bucket
}

// New creates a Store with the given number of buckets (spec.md suggests
// TABLE_BUCKETS=26, one per lowercase letter with digits folded in).
func New(numBuckets int) *Store {
	s := &Store{buckets: make([]*bucket, numBuckets)}
	for i := range s.buckets {
		s.buckets[i] = newBucket()
	}
	return s
}

// NumBuckets returns the table's bucket count.
func (s *Store) NumBuckets() int {
	return len(s.buckets)
}

// BucketIndex maps a key's first byte onto a bucket slot, folding digits
// onto the same 26 slots as letters (spec.md §3). Returns
// kvserr.ErrInvalidKeyPrefix if the first byte is neither a letter nor a
// digit.
func (s *Store) BucketIndex(key string) (int, error) {
	if len(key) == 0 {
		return 0, kvserr.ErrInvalidKeyPrefix
	}
	c := key[0]
	if c >= 'A' && c <= 'Z' {
		c = c - 'A' + 'a'
	}
	n := len(s.buckets)
	switch {
	case c >= 'a' && c <= 'z':
		return int(c-'a') % n, nil
	case c >= '0' && c <= '9':
		return int(c-'0') % n, nil
	default:
		return 0, kvserr.ErrInvalidKeyPrefix
	}
}

// Get returns the value for key, reader-locked on the bucket.
func (s *Store) Get(key string) (string, bool, error) {
	idx, err := s.BucketIndex(key)
	if err != nil {
		return "", false, err
	}
	s.g.RLock()
	defer s.g.RUnlock()
	b := s.buckets[idx]
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.getLocked(key)
	return v, ok, nil
}

// Put inserts or replaces key's value, writer-locked on the bucket.
func (s *Store) Put(key, value string) (Presence, error) {
	idx, err := s.BucketIndex(key)
	if err != nil {
		return 0, err
	}
	s.g.RLock()
	defer s.g.RUnlock()
	b := s.buckets[idx]
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.putLocked(key, value), nil
}

// Remove deletes key's entry if present, writer-locked on the bucket.
func (s *Store) Remove(key string) (bool, error) {
	idx, err := s.BucketIndex(key)
	if err != nil {
		return false, err
	}
	s.g.RLock()
	defer s.g.RUnlock()
	b := s.buckets[idx]
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(key), nil
}

// Contains reports whether key currently has an entry, reader-locked.
// Exposed for the SubscriptionRegistry's key-existence check during
// subscribe (spec.md §4.3): Contains only ever acquires reader locks and
// never calls back into the registry, so it is safe to invoke while the
// registry holds its own lock.
func (s *Store) Contains(key string) (bool, error) {
	_, ok, err := s.Get(key)
	return ok, err
}

// Visitor is called once per entry during ForEach, in stable bucket/
// insertion order.
type Visitor func(key, value string)

// ForEach quiesces all mutators by taking G in writer mode, then visits
// every entry across all buckets in ascending bucket-index, insertion
// order. Used for SHOW and for snapshot traversal.
func (s *Store) ForEach(visit Visitor) {
	s.g.Lock()
	defer s.g.Unlock()
	for _, b := range s.buckets {
		b.mu.RLock()
		for _, k := range b.order {
			if e, ok := b.byKey[k]; ok {
				visit(e.key, e.value)
			}
		}
		b.mu.RUnlock()
	}
}

// Snapshot returns a point-in-time copy of every entry, in the same order
// ForEach would visit them. Used by internal/snapshot to stream a backup
// file without holding any Store lock for the duration of the write.
func (s *Store) Snapshot() []KV {
	var out []KV
	s.ForEach(func(k, v string) {
		out = append(out, KV{Key: k, Value: v})
	})
	return out
}

// KV is a key/value pair, used for batch inputs/outputs and snapshots.
type KV struct {
	Key   string
	Value string
}

// SortedBucketsFor returns the distinct bucket indices referenced by keys,
// in ascending order — the set batch callers must lock, in the order
// spec.md §4.2 requires.
func (s *Store) SortedBucketsFor(keys []string) ([]int, error) {
	seen := make(map[int]bool)
	for _, k := range keys {
		idx, err := s.BucketIndex(k)
		if err != nil {
			return nil, err
		}
		seen[idx] = true
	}
	out := make([]int, 0, len(seen))
	for idx := range seen {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out, nil
}

// WriteTx is a held batch transaction over a fixed set of buckets, each
// locked in writer mode, with G held in reader mode for the transaction's
// lifetime (spec.md §4.2 steps 3-4). Callers outside this package (the
// OrderedBatchExecutor) use it to apply per-key writes/deletes without
// reaching into bucket internals directly.
type WriteTx struct {
	s        *Store
	indices  []int // ascending, as locked
}

// BeginWriteTx locks G in reader mode and every distinct bucket referenced
// by keys, ascending, in writer mode.
func (s *Store) BeginWriteTx(keys []string) (*WriteTx, error) {
	indices, err := s.SortedBucketsFor(keys)
	if err != nil {
		return nil, err
	}
	s.g.RLock()
	for _, idx := range indices {
		s.buckets[idx].mu.Lock()
	}
	return &WriteTx{s: s, indices: indices}, nil
}

// Put applies a write within the held transaction.
func (tx *WriteTx) Put(key, value string) Presence {
	idx, _ := tx.s.BucketIndex(key)
	return tx.s.buckets[idx].putLocked(key, value)
}

// Remove applies a delete within the held transaction.
func (tx *WriteTx) Remove(key string) bool {
	idx, _ := tx.s.BucketIndex(key)
	return tx.s.buckets[idx].removeLocked(key)
}

// Close releases the transaction's locks in reverse acquisition order.
func (tx *WriteTx) Close() {
	for i := len(tx.indices) - 1; i >= 0; i-- {
		tx.s.buckets[tx.indices[i]].mu.Unlock()
	}
	tx.s.g.RUnlock()
}

// ReadTx is the reader-mode counterpart of WriteTx, used by read_batch.
type ReadTx struct {
	s       *Store
	indices []int
}

// BeginReadTx locks G in reader mode and every distinct bucket referenced
// by keys, ascending, in reader mode.
func (s *Store) BeginReadTx(keys []string) (*ReadTx, error) {
	indices, err := s.SortedBucketsFor(keys)
	if err != nil {
		return nil, err
	}
	s.g.RLock()
	for _, idx := range indices {
		s.buckets[idx].mu.RLock()
	}
	return &ReadTx{s: s, indices: indices}, nil
}

// Get reads a key within the held transaction.
func (tx *ReadTx) Get(key string) (string, bool) {
	idx, _ := tx.s.BucketIndex(key)
	return tx.s.buckets[idx].getLocked(key)
}

// Close releases the transaction's locks in reverse acquisition order.
func (tx *ReadTx) Close() {
	for i := len(tx.indices) - 1; i >= 0; i-- {
		tx.s.buckets[tx.indices[i]].mu.RUnlock()
	}
	tx.s.g.RUnlock()
}
