package evloop

import (
	"github.com/xio-go/evloop/log"
	"github.com/xio-go/evloop/metrics"

	"go.uber.org/atomic"
)

// WorkHandler is a deferred-work callback.
type WorkHandler func(data interface{})

// Work is a deferred-work item scheduled to run at a dispatch boundary
// rather than via kernel readiness. Its memory is owned by the caller,
// not the reactor: the reactor only reads and writes scheduled and the
// link fields. A Work must outlive its membership in the queue and must
// not be moved or copied after InitWork while it may be enqueued.
type Work struct {
	cb        WorkHandler
	data      interface{}
	scheduled atomic.Bool
	prev      *Work
	next      *Work
}

// InitWork sets up item to run cb(data) when enqueued. It clears the
// scheduled flag, so an item already on a queue must be dequeued first.
func InitWork(item *Work, cb WorkHandler, data interface{}) {
	item.cb = cb
	item.data = data
	item.scheduled.Store(false)
	item.prev, item.next = nil, nil
}

// workQueue is a FIFO doubly-linked list of scheduled Work items,
// supporting O(1) append, pop-front, and arbitrary removal -- the last
// of which a handler needs when it dequeues a peer ahead of it in the
// same generation.
type workQueue struct {
	head, tail *Work
}

func (q *workQueue) empty() bool {
	return q.head == nil
}

func (q *workQueue) pushBack(w *Work) {
	w.prev, w.next = q.tail, nil
	if q.tail != nil {
		q.tail.next = w
	} else {
		q.head = w
	}
	q.tail = w
}

func (q *workQueue) popFront() *Work {
	w := q.head
	if w == nil {
		return nil
	}
	q.unlink(w)
	return w
}

func (q *workQueue) unlink(w *Work) {
	if w.prev != nil {
		w.prev.next = w.next
	} else {
		q.head = w.next
	}
	if w.next != nil {
		w.next.prev = w.prev
	} else {
		q.tail = w.prev
	}
	w.prev, w.next = nil, nil
}

// EnqueueDeferred schedules item to run in the next deferred-work
// generation. It is idempotent: if item is already scheduled, this is a
// no-op, guaranteeing item appears at most once in the queue.
func (r *Reactor) EnqueueDeferred(item *Work) {
	if item.scheduled.CompareAndSwap(false, true) {
		r.queue.pushBack(item)
	}
}

// DequeueDeferred removes item from the queue if it is currently
// scheduled. Safe to call from within a deferred-work or I/O callback,
// including to dequeue a peer item not yet run in the current drain.
func (r *Reactor) DequeueDeferred(item *Work) {
	if item.scheduled.CompareAndSwap(true, false) {
		r.queue.unlink(item)
	}
}

// drainScheduled runs exactly one generation of deferred work. It marks
// the current tail by appending a reactor-owned boundary item, then pops
// and invokes items from the head until the boundary itself is popped.
// Handlers may enqueue further items (appended after the boundary, so
// they run in a later generation) or dequeue any item, including ones
// still ahead of their turn in this same generation, without upsetting
// the count: the boundary, not an item index, decides when to stop.
func (r *Reactor) drainScheduled() bool {
	if r.queue.empty() {
		return false
	}
	r.queue.pushBack(&r.boundary)
	metrics.Add(metrics.DeferredGenerations, 1)
	var ran uint64
	for {
		w := r.queue.popFront()
		if w == nil || w == &r.boundary {
			break
		}
		w.scheduled.Store(false)
		cb, data := w.cb, w.data
		if cb != nil {
			r.runDeferred(cb, data)
		}
		ran++
	}
	metrics.Add(metrics.DeferredCallbacks, ran)
	return !r.queue.empty()
}

// runDeferred invokes a deferred-work callback, recovering a panic the
// same way invoke does for I/O handlers when WithPanicRecovery is set --
// one callback's bug should not take the whole reactor down.
func (r *Reactor) runDeferred(cb WorkHandler, data interface{}) {
	if r.opts.recoverPanics {
		defer func() {
			if p := recover(); p != nil {
				log.Errorf("evloop: deferred-work callback panicked: %v", p)
			}
		}()
	}
	cb(data)
}
