// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

// Package metrics provides runtime monitoring counters for the reactor,
// useful for tuning batch sizes and spotting a thrashing deletion
// buffer. It does not touch the dispatch hot path beyond a handful of
// atomic adds, the same cost profile as tnet's equivalent package.
package metrics

import (
	"fmt"
	"time"

	"go.uber.org/atomic"
)

// All metrics definitions.
const (
	// KernelWaitCalls counts every call into the kernel wait (blocking or
	// polling).
	KernelWaitCalls = iota
	// KernelWaitPolls counts the subset of KernelWaitCalls made with a
	// zero timeout, i.e. because deferred work was pending.
	KernelWaitPolls
	// KernelEvents counts total readiness events returned across all
	// waits.
	KernelEvents
	// DeferredGenerations counts how many drainScheduled generations ran.
	DeferredGenerations
	// DeferredCallbacks counts total deferred-work callbacks invoked.
	DeferredCallbacks
	// DeletionBufferFrees counts handler records freed after deferred
	// deletion.
	DeletionBufferFrees
	// DeletionBufferOverflows counts records leaked because the deletion
	// buffer was full at Unregister time.
	DeletionBufferOverflows
	// WakeupsArmed counts Stop calls that actually armed the wakeup
	// descriptor (as opposed to no-oping because a run loop was not
	// blocked).
	WakeupsArmed
	// WakeupsConsumed counts wakeup events observed in a dispatch batch.
	WakeupsConsumed
	maxMetric
)

var counters [maxMetric]atomic.Uint64

// Add adds delta to the named counter.
func Add(name int, delta uint64) {
	if name < 0 || name >= maxMetric {
		return
	}
	counters[name].Add(delta)
}

// Get returns the named counter's current value.
func Get(name int) uint64 {
	if name < 0 || name >= maxMetric {
		return 0
	}
	return counters[name].Load()
}

// GetAll returns a snapshot of every counter.
func GetAll() [maxMetric]uint64 {
	var out [maxMetric]uint64
	for i := range counters {
		out[i] = counters[i].Load()
	}
	return out
}

// ShowMetricsOfPeriod blocks for d, then prints the delta over that
// window to stdout.
func ShowMetricsOfPeriod(d time.Duration) {
	before := GetAll()
	<-time.After(d)
	after := GetAll()
	var delta [maxMetric]uint64
	for i := range counters {
		delta[i] = after[i] - before[i]
	}
	show(delta)
}

// ShowMetrics prints current counter values to stdout.
func ShowMetrics() {
	show(GetAll())
}

func show(m [maxMetric]uint64) {
	fmt.Println("######### evloop metrics (", time.Now().Format("2006-01-02 15:04:05"), ") ###########")
	fmt.Printf("%-45s: %d\n", "# kernel wait calls", m[KernelWaitCalls])
	fmt.Printf("%-45s: %d\n", "# kernel wait calls with zero timeout", m[KernelWaitPolls])
	fmt.Printf("%-45s: %d\n", "# kernel events delivered", m[KernelEvents])
	if m[KernelWaitCalls] > 0 {
		fmt.Printf("%-45s: %.2f\n", "# average events per wait", float64(m[KernelEvents])/float64(m[KernelWaitCalls]))
	}
	fmt.Printf("%-45s: %d\n", "# deferred-work generations drained", m[DeferredGenerations])
	fmt.Printf("%-45s: %d\n", "# deferred-work callbacks invoked", m[DeferredCallbacks])
	fmt.Printf("%-45s: %d\n", "# deletion-buffer records freed", m[DeletionBufferFrees])
	fmt.Printf("%-45s: %d\n", "# deletion-buffer overflows (leaked)", m[DeletionBufferOverflows])
	fmt.Printf("%-45s: %d\n", "# wakeups armed", m[WakeupsArmed])
	fmt.Printf("%-45s: %d\n", "# wakeups consumed", m[WakeupsConsumed])
}
