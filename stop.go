package evloop

import (
	"github.com/xio-go/evloop/log"
	"github.com/xio-go/evloop/metrics"
)

// Stop requests that the nearest enclosing Run/RunTimeout return. It is
// the one Reactor method safe to call from any goroutine, or from a
// signal handler, concurrently with a running dispatch loop: it touches
// only the stopLoop/inDispatch/wakeupArmed atomics and, at most, issues
// one kernel call to re-arm the wakeup descriptor.
//
// If the reactor is blocked in a kernel wait, arming the wakeup
// descriptor is what actually unblocks it; if the reactor is instead
// inside dispatch or deferred-work drain, stopLoop alone is enough,
// since the run loop checks it between iterations. A Stop that arrives
// while a wakeup is already armed, or while the stop flag is already
// set, is a no-op: calling Stop twice concurrently never double-arms.
func (r *Reactor) Stop() {
	if !r.stopLoop.CompareAndSwap(false, true) {
		return
	}
	if r.inDispatch.Load() {
		return
	}
	if !r.wakeupArmed.CompareAndSwap(false, true) {
		return
	}
	if err := r.be.ArmWakeup(); err != nil {
		log.Errorf("evloop: stop: arm wakeup: %v", err)
		return
	}
	metrics.Add(metrics.WakeupsArmed, 1)
}

// IsStopping reports whether a stop has been requested for the run in
// progress (or, if called between runs, the next one).
func (r *Reactor) IsStopping() bool {
	return r.stopLoop.Load()
}

// PollParams describes how an outer Reactor can embed this one as a
// single nested readiness source.
type PollParams struct {
	// FD is this reactor's own pollable descriptor (its epoll or kqueue
	// descriptor), suitable for Register on the outer reactor.
	FD int
	// Mask is the event mask the outer reactor should watch FD for.
	Mask EventMask
	// Handler is the IOHandler an embedding caller should register for
	// FD: on each outer-loop readiness notification, it drains exactly
	// one inner batch of kernel events via RunTimeout(0), together with
	// the deferred work RunTimeout runs before that poll and in its
	// shutdown drain (which continues until the queue is empty), then
	// returns control to the outer loop rather than blocking it.
	Handler IOHandler
}

// GetPollParams reports the parameters an outer Reactor needs to drive
// this Reactor as a nested event source, one batch per outer readiness
// notification, instead of giving it its own dedicated goroutine.
func (r *Reactor) GetPollParams() (PollParams, error) {
	if r.closed {
		return PollParams{}, ErrClosed
	}
	return PollParams{
		FD:   r.be.FD(),
		Mask: Readable,
		Handler: func(int, EventMask, interface{}) {
			// Pre-set stopLoop so RunTimeout(0) returns after this one
			// batch of kernel events no matter how many events the poll
			// turns up, instead of looping until a Wait(0) comes back
			// empty. Its shutdown drain still runs pending deferred work
			// until the queue is empty.
			r.stopLoop.Store(true)
			_ = r.RunTimeout(0)
		},
	}, nil
}
