// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

// Package evloop implements a single-threaded, readiness-based event
// loop: a reactor that multiplexes kernel readiness notifications
// (epoll on Linux, kqueue on BSD/Darwin) with in-process deferred work,
// for driving connection state machines, timers, and internal tasks
// without spawning threads.
//
// All registration, modification, deletion, deferred-work enqueue, and
// the Run call itself are expected to execute on the reactor's own
// goroutine. Stop is the single sanctioned exception: it is safe to call
// from any goroutine or signal handler.
package evloop

import (
	"errors"
	"time"
	"unsafe"

	"github.com/xio-go/evloop/internal/backend"
	"github.com/xio-go/evloop/log"
	"github.com/xio-go/evloop/metrics"

	"go.uber.org/atomic"
)

// Forever is passed to RunTimeout to keep dispatching until Stop is
// called, with no timeout.
const Forever = -1

// Reactor is a single-threaded readiness/deferred-work event loop. The
// zero value is not usable; construct one with New.
type Reactor struct {
	be   backend.Backend
	reg  *registry
	opts *options

	queue    workQueue
	boundary Work

	delbuf    *deletionBuffer
	rawEvents []backend.Event

	stopLoop    atomic.Bool
	inDispatch  atomic.Bool
	wakeupArmed atomic.Bool

	closed bool
}

// New creates a Reactor backed by the platform's readiness primitive.
// The returned Reactor owns kernel resources (an epoll or kqueue
// descriptor plus a wakeup descriptor) until Destroy is called.
func New(opts ...Option) (*Reactor, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	be, err := backend.New()
	if err != nil {
		return nil, err
	}
	r := &Reactor{
		be:        be,
		reg:       newRegistry(),
		opts:      o,
		delbuf:    newDeletionBuffer(o.deletionBufferCapacity),
		rawEvents: make([]backend.Event, o.eventBatch),
	}
	InitWork(&r.boundary, nil, nil)
	return r, nil
}

// Destroy unregisters every descriptor, frees every pending handler
// record, and releases the reactor's kernel resources. Destroy must not
// be called concurrently with Run.
func (r *Reactor) Destroy() error {
	if r.closed {
		return nil
	}
	r.reg.forEach(func(rec *handlerRecord) {
		_ = r.be.Remove(rec.fd)
		rec.reset()
	})
	r.reg = newRegistry()
	for _, rec := range r.delbuf.drain() {
		rec.reset()
	}
	r.closed = true
	return r.be.Close()
}

// Register begins watching descriptor for the events in mask, invoking
// cb(descriptor, observedEvents, data) whenever a qualifying event is
// reported. Registering an already-registered descriptor fails with
// ErrAlreadyRegistered, a distinct, non-fatal condition.
func (r *Reactor) Register(descriptor int, mask EventMask, cb IOHandler, data interface{}) error {
	if r.closed {
		return ErrClosed
	}
	if _, exists := r.reg.lookup(descriptor); exists {
		log.Debugf("evloop: register: descriptor %d already present", descriptor)
		return ErrAlreadyRegistered
	}
	rec := &handlerRecord{fd: descriptor, mask: mask, cb: cb, data: data}
	token := uintptr(unsafe.Pointer(rec))
	if err := r.be.Add(descriptor, toBackendMask(mask), token); err != nil {
		if errors.Is(err, backend.ErrAlreadyExists) {
			log.Debugf("evloop: register: descriptor %d already present in kernel: %v", descriptor, err)
			return ErrAlreadyRegistered
		}
		return err
	}
	r.reg.insert(rec)
	return nil
}

// Modify re-arms descriptor's kernel watch with a new mask. It fails
// with ErrNotFound if descriptor has no handler record.
func (r *Reactor) Modify(descriptor int, mask EventMask) error {
	if r.closed {
		return ErrClosed
	}
	rec, ok := r.reg.lookup(descriptor)
	if !ok {
		return ErrNotFound
	}
	token := uintptr(unsafe.Pointer(rec))
	if err := r.be.Modify(descriptor, toBackendMask(mask), token); err != nil {
		return err
	}
	rec.mask = mask
	return nil
}

// Unregister stops watching descriptor. Its handler record is moved to
// the deletion-deferral buffer rather than freed immediately: a kernel
// event already returned by an in-flight Wait may still carry its
// address, so freeing here would risk use-after-free on dispatch. It
// fails with ErrNotFound if descriptor has no handler record. After
// Unregister returns, no further callback for descriptor is ever
// delivered, even if its readiness event is already in the batch the
// kernel just returned.
func (r *Reactor) Unregister(descriptor int) error {
	if r.closed {
		return ErrClosed
	}
	rec, ok := r.reg.remove(descriptor)
	if !ok {
		return ErrNotFound
	}
	if !r.delbuf.add(rec) {
		metrics.Add(metrics.DeletionBufferOverflows, 1)
		log.Warnf("evloop: deletion buffer full, leaking handler record for descriptor %d", descriptor)
	}
	return r.be.Remove(descriptor)
}

// Run dispatches events and deferred work until Stop is called, with no
// timeout -- equivalent to RunTimeout(Forever).
func (r *Reactor) Run() error {
	return r.RunTimeout(Forever)
}

// RunTimeout runs the dispatch loop for at most timeoutMS milliseconds
// (or indefinitely if timeoutMS is Forever), interleaving kernel-
// readiness draining with deferred-work draining, until Stop is called,
// a kernel wait times out, or the overall timeout elapses. On return,
// IsStopping is false again and the Reactor is ready to Run again.
func (r *Reactor) RunTimeout(timeoutMS int) error {
	if r.closed {
		return ErrClosed
	}
	userRequestedImmediate := timeoutMS == 0
	remaining := timeoutMS

	for {
		workRemains := r.drainScheduled()
		r.freeDeletionBuffer()

		waitMS := remaining
		if workRemains {
			waitMS = 0
		}

		start := time.Now()
		n, err := r.waitKernel(waitMS)
		elapsed := time.Since(start)
		if err != nil {
			if errors.Is(err, backend.ErrInterrupted) {
				continue
			}
			return err
		}

		r.dispatch(n)

		if n == 0 && (waitMS != 0 || userRequestedImmediate) {
			r.stopLoop.Store(true)
		}

		if remaining > 0 {
			remaining -= int(elapsed / time.Millisecond)
			if remaining <= 0 {
				r.stopLoop.Store(true)
			}
		}

		if r.stopLoop.Load() {
			break
		}
	}

	for !r.queue.empty() {
		r.drainScheduled()
	}
	r.freeDeletionBuffer()

	r.stopLoop.Store(false)
	r.wakeupArmed.Store(false)
	return nil
}

func (r *Reactor) waitKernel(waitMS int) (int, error) {
	timeout := backend.Forever
	if waitMS >= 0 {
		timeout = time.Duration(waitMS) * time.Millisecond
	}
	metrics.Add(metrics.KernelWaitCalls, 1)
	if waitMS == 0 {
		metrics.Add(metrics.KernelWaitPolls, 1)
	}
	n, err := r.be.Wait(r.rawEvents, timeout)
	if err == nil {
		metrics.Add(metrics.KernelEvents, uint64(n))
	}
	return n, err
}

// dispatch invokes the handlers for up to n events already placed in
// r.rawEvents by waitKernel. It is the only place inDispatch is true,
// the window during which Unregister may stage a record in the deletion
// buffer that a later event in this same batch must not reach.
func (r *Reactor) dispatch(n int) {
	r.inDispatch.Store(true)
	for i := 0; i < n; i++ {
		ev := r.rawEvents[i]
		if ev.Token == 0 {
			if r.wakeupArmed.CompareAndSwap(true, false) {
				r.stopLoop.Store(true)
				metrics.Add(metrics.WakeupsConsumed, 1)
			}
			continue
		}
		rec := (*handlerRecord)(unsafe.Pointer(ev.Token))
		if r.delbuf.contains(rec) {
			continue
		}
		r.invoke(rec, ev.Observed)
	}
	r.inDispatch.Store(false)
}

func (r *Reactor) invoke(rec *handlerRecord, observed backend.Mask) {
	if r.opts.recoverPanics {
		defer func() {
			if p := recover(); p != nil {
				log.Errorf("evloop: handler for descriptor %d panicked: %v", rec.fd, p)
			}
		}()
	}
	rec.cb(rec.fd, fromBackendMask(observed), rec.data)
}

// freeDeletionBuffer frees every handler record staged by Unregister
// since the previous call. It is only safe to call here, after the
// prior batch (if any) has been fully dispatched and before the next
// Wait is issued -- the ordering property that makes the deletion-
// deferral buffer use-after-free-safe.
func (r *Reactor) freeDeletionBuffer() {
	freed := r.delbuf.drain()
	if len(freed) == 0 {
		return
	}
	metrics.Add(metrics.DeletionBufferFrees, uint64(len(freed)))
	for _, rec := range freed {
		rec.reset()
	}
}
