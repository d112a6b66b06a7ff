//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 THL A29 Limited, a Tencent company.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

//go:build linux
// +build linux

package evloop_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/xio-go/evloop"
	"github.com/xio-go/evloop/metrics"
)

func newEventFD(t *testing.T) int {
	t.Helper()
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	require.Nil(t, err)
	t.Cleanup(func() { unix.Close(fd) })
	return fd
}

func ring(fd int) {
	buf := []byte{1, 0, 0, 0, 0, 0, 0, 0}
	unix.Write(fd, buf)
}

func drain(fd int) {
	buf := make([]byte, 8)
	unix.Read(fd, buf)
}

func TestRegisterAndDispatch(t *testing.T) {
	r, err := evloop.New()
	require.Nil(t, err)
	defer r.Destroy()

	fd := newEventFD(t)
	var got evloop.EventMask
	ch := make(chan struct{}, 1)
	require.Nil(t, r.Register(fd, evloop.Readable, func(descriptor int, observed evloop.EventMask, data interface{}) {
		got = observed
		drain(descriptor)
		ch <- struct{}{}
	}, nil))

	ring(fd)
	require.Nil(t, r.RunTimeout(1000))
	select {
	case <-ch:
	default:
		t.Fatal("handler never invoked")
	}
	assert.NotZero(t, got&evloop.Readable)
}

func TestRegisterAlreadyRegistered(t *testing.T) {
	r, err := evloop.New()
	require.Nil(t, err)
	defer r.Destroy()

	fd := newEventFD(t)
	require.Nil(t, r.Register(fd, evloop.Readable, func(int, evloop.EventMask, interface{}) {}, nil))
	err = r.Register(fd, evloop.Readable, func(int, evloop.EventMask, interface{}) {}, nil)
	assert.ErrorIs(t, err, evloop.ErrAlreadyRegistered)
}

func TestModifyAndUnregisterNotFound(t *testing.T) {
	r, err := evloop.New()
	require.Nil(t, err)
	defer r.Destroy()

	assert.ErrorIs(t, r.Modify(123456, evloop.Writable), evloop.ErrNotFound)
	assert.ErrorIs(t, r.Unregister(123456), evloop.ErrNotFound)
}

func TestUnregisterSuppressesInFlightEvent(t *testing.T) {
	r, err := evloop.New()
	require.Nil(t, err)
	defer r.Destroy()

	fdA := newEventFD(t)
	fdB := newEventFD(t)

	var calledB bool
	require.Nil(t, r.Register(fdA, evloop.Readable, func(descriptor int, _ evloop.EventMask, _ interface{}) {
		drain(descriptor)
		// Unregister B from within A's handler, in the same batch B's own
		// readiness event may already have been returned.
		_ = r.Unregister(fdB)
	}, nil))
	require.Nil(t, r.Register(fdB, evloop.Readable, func(int, evloop.EventMask, interface{}) {
		calledB = true
	}, nil))

	ring(fdA)
	ring(fdB)
	require.Nil(t, r.RunTimeout(1000))
	assert.False(t, calledB, "unregistered handler must not fire even if its event was already pending")
}

func TestDeferredWorkRunsOneGenerationPerDrain(t *testing.T) {
	r, err := evloop.New()
	require.Nil(t, err)
	defer r.Destroy()

	var order []int
	var second evloop.Work
	var first evloop.Work
	evloop.InitWork(&second, func(interface{}) { order = append(order, 2) }, nil)
	evloop.InitWork(&first, func(interface{}) {
		order = append(order, 1)
		// Enqueued from within this generation, so it must run in the next
		// one, not this one. RunTimeout(0) exits after its empty poll, and
		// its shutdown drain runs that next generation before returning.
		r.EnqueueDeferred(&second)
	}, nil)

	r.EnqueueDeferred(&first)
	generations := metrics.Get(metrics.DeferredGenerations)
	require.Nil(t, r.RunTimeout(0))
	assert.Equal(t, []int{1, 2}, order)
	assert.Equal(t, uint64(2), metrics.Get(metrics.DeferredGenerations)-generations)

	require.Nil(t, r.RunTimeout(0))
	assert.Equal(t, []int{1, 2}, order)
}

func TestDeferredWorkEnqueueIsIdempotent(t *testing.T) {
	r, err := evloop.New()
	require.Nil(t, err)
	defer r.Destroy()

	var calls int
	var w evloop.Work
	evloop.InitWork(&w, func(interface{}) { calls++ }, nil)

	r.EnqueueDeferred(&w)
	r.EnqueueDeferred(&w)
	r.EnqueueDeferred(&w)
	require.Nil(t, r.RunTimeout(0))
	assert.Equal(t, 1, calls)
}

func TestDequeueDeferredBeforeItsTurn(t *testing.T) {
	r, err := evloop.New()
	require.Nil(t, err)
	defer r.Destroy()

	var ran bool
	var victim evloop.Work
	evloop.InitWork(&victim, func(interface{}) { ran = true }, nil)

	var first evloop.Work
	evloop.InitWork(&first, func(interface{}) {
		r.DequeueDeferred(&victim)
	}, nil)

	r.EnqueueDeferred(&first)
	r.EnqueueDeferred(&victim)
	require.Nil(t, r.RunTimeout(0))
	assert.False(t, ran)
}

func TestStopFromAnotherGoroutine(t *testing.T) {
	r, err := evloop.New()
	require.Nil(t, err)
	defer r.Destroy()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		r.Stop()
	}()

	err = r.Run()
	wg.Wait()
	assert.Nil(t, err)
	assert.False(t, r.IsStopping())
}

func TestRunTimeoutZeroReturnsImmediately(t *testing.T) {
	r, err := evloop.New()
	require.Nil(t, err)
	defer r.Destroy()

	done := make(chan struct{})
	go func() {
		_ = r.RunTimeout(0)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunTimeout(0) did not return")
	}
}

func TestGetPollParams(t *testing.T) {
	outer, err := evloop.New()
	require.Nil(t, err)
	defer outer.Destroy()

	inner, err := evloop.New()
	require.Nil(t, err)
	defer inner.Destroy()

	fd := newEventFD(t)
	var innerCalled bool
	require.Nil(t, inner.Register(fd, evloop.Readable, func(descriptor int, _ evloop.EventMask, _ interface{}) {
		innerCalled = true
		drain(descriptor)
	}, nil))

	params, err := inner.GetPollParams()
	require.Nil(t, err)
	assert.Equal(t, evloop.Readable, params.Mask)

	require.Nil(t, outer.Register(params.FD, params.Mask, params.Handler, nil))

	ring(fd)
	require.Nil(t, outer.RunTimeout(1000))
	assert.True(t, innerCalled)
}

func TestStopFromWithinHandlerStillRunsRestOfBatch(t *testing.T) {
	r, err := evloop.New()
	require.Nil(t, err)
	defer r.Destroy()

	fdA := newEventFD(t)
	fdB := newEventFD(t)

	var calledB bool
	require.Nil(t, r.Register(fdA, evloop.Readable, func(descriptor int, _ evloop.EventMask, _ interface{}) {
		drain(descriptor)
		r.Stop()
	}, nil))
	require.Nil(t, r.Register(fdB, evloop.Readable, func(descriptor int, _ evloop.EventMask, _ interface{}) {
		drain(descriptor)
		calledB = true
	}, nil))

	ring(fdA)
	ring(fdB)
	require.Nil(t, r.RunTimeout(1000))
	assert.True(t, calledB, "Stop from within a handler must not suppress other events already in the same batch")
	assert.False(t, r.IsStopping(), "RunTimeout must clear the stop flag before returning")
}

func TestWithPanicRecoveryProtectsIOAndDeferredHandlers(t *testing.T) {
	r, err := evloop.New(evloop.WithPanicRecovery(true))
	require.Nil(t, err)
	defer r.Destroy()

	fd := newEventFD(t)
	require.Nil(t, r.Register(fd, evloop.Readable, func(descriptor int, _ evloop.EventMask, _ interface{}) {
		drain(descriptor)
		panic("boom: io handler")
	}, nil))

	ring(fd)
	assert.Nil(t, r.RunTimeout(1000), "a recovered panic must not surface as a RunTimeout error")

	var w evloop.Work
	evloop.InitWork(&w, func(interface{}) { panic("boom: deferred handler") }, nil)
	r.EnqueueDeferred(&w)
	assert.Nil(t, r.RunTimeout(0), "a recovered deferred-work panic must not surface as a RunTimeout error")
}

func TestWithEventBatchAndDeletionBufferCapacityApply(t *testing.T) {
	r, err := evloop.New(evloop.WithEventBatch(4), evloop.WithDeletionBufferCapacity(2))
	require.Nil(t, err)
	defer r.Destroy()

	fd := newEventFD(t)
	var got evloop.EventMask
	require.Nil(t, r.Register(fd, evloop.Readable, func(descriptor int, observed evloop.EventMask, _ interface{}) {
		got = observed
		drain(descriptor)
	}, nil))

	ring(fd)
	require.Nil(t, r.RunTimeout(1000))
	assert.NotZero(t, got&evloop.Readable, "reactor must still dispatch normally with non-default batch/buffer sizes")
}

func TestDestroyIsIdempotentAndFreesRecords(t *testing.T) {
	r, err := evloop.New()
	require.Nil(t, err)

	fd := newEventFD(t)
	require.Nil(t, r.Register(fd, evloop.Readable, func(int, evloop.EventMask, interface{}) {}, nil))

	require.Nil(t, r.Destroy())
	require.Nil(t, r.Destroy())

	assert.ErrorIs(t, r.Register(fd, evloop.Readable, func(int, evloop.EventMask, interface{}) {}, nil), evloop.ErrClosed)
}
