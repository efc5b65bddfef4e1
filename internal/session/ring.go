package session

import (
	"sync"

	"github.com/adred-codev/kvsd/internal/protocol"
)

// Ring is the bounded admission buffer of spec.md §4.7: a classic
// producer/consumer ring of size S, built from two counting semaphores
// (modeled as buffered chan struct{}, the idiomatic Go analogue of
// sem_t used elsewhere in the teacher's own connection-pool code) plus a
// mutex over the backing array. The HostThread is the sole producer;
// session workers are the consumers.
type Ring struct {
	mu   sync.Mutex
	buf  []protocol.ConnectionRecord
	head int
	tail int

	empty chan struct{} // a token per free slot
	full  chan struct{} // a token per occupied slot
}

// NewRing creates a Ring holding up to size pending ConnectionRecords.
func NewRing(size int) *Ring {
	r := &Ring{
		buf:   make([]protocol.ConnectionRecord, size),
		empty: make(chan struct{}, size),
		full:  make(chan struct{}, size),
	}
	for i := 0; i < size; i++ {
		r.empty <- struct{}{}
	}
	return r
}

// Put blocks until a slot is free, then enqueues rec. Only the HostThread
// calls this.
func (r *Ring) Put(rec protocol.ConnectionRecord) {
	<-r.empty
	r.mu.Lock()
	r.buf[r.tail] = rec
	r.tail = (r.tail + 1) % len(r.buf)
	r.mu.Unlock()
	r.full <- struct{}{}
}

// Take blocks until a record is available, then dequeues it. Session
// workers call this.
func (r *Ring) Take() protocol.ConnectionRecord {
	<-r.full
	r.mu.Lock()
	rec := r.buf[r.head]
	r.head = (r.head + 1) % len(r.buf)
	r.mu.Unlock()
	r.empty <- struct{}{}
	return rec
}

// Occupancy reports the current number of pending records, for metrics.
func (r *Ring) Occupancy() int {
	return len(r.full)
}
