// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package evloop

// defaultDeletionBufferCapacity mirrors the original implementation's
// MAX_DELETED_EVENTS bound.
const defaultDeletionBufferCapacity = 1024

// defaultEventBatch is the number of kernel events requested per Wait.
const defaultEventBatch = 1024

type options struct {
	eventBatch             int
	deletionBufferCapacity int
	recoverPanics          bool
}

func defaultOptions() *options {
	return &options{
		eventBatch:             defaultEventBatch,
		deletionBufferCapacity: defaultDeletionBufferCapacity,
		recoverPanics:          false,
	}
}

// Option configures a Reactor at construction time.
type Option func(*options)

// WithEventBatch sets how many kernel events are requested per Wait call.
func WithEventBatch(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.eventBatch = n
		}
	}
}

// WithDeletionBufferCapacity overrides the deletion-deferral buffer's
// capacity. The contract (no use-after-free) holds at any capacity; this
// only trades memory for how many unregistrations-per-batch can be
// staged before the reactor starts leaking records with a diagnostic.
func WithDeletionBufferCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.deletionBufferCapacity = n
		}
	}
}

// WithPanicRecovery controls whether a panicking I/O or deferred-work
// handler is recovered and logged (true) or left to crash the process
// (false, the default -- handler errors are the caller's concern).
func WithPanicRecovery(enabled bool) Option {
	return func(o *options) {
		o.recoverPanics = enabled
	}
}
