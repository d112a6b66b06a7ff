// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package evloop

// IOHandler is invoked when a registered descriptor reports readiness.
// observed is the subset of the watched mask that actually fired.
type IOHandler func(descriptor int, observed EventMask, data interface{})

// handlerRecord is the reactor's per-descriptor bookkeeping. Its address
// is handed to the kernel as an opaque registration token (see Register
// in reactor.go / backend.Event.Token) so dispatch can recover it in O(1) without
// searching the registry. A record's storage stays alive from Register
// until it is either freed at Destroy or freed at the top of the first
// run iteration that begins after Unregister -- never earlier, since a
// kernel event already returned by a prior Wait may still reference it.
type handlerRecord struct {
	fd   int
	mask EventMask
	cb   IOHandler
	data interface{}
}

// reset drops the record's references so the handler's closure and data
// can be garbage collected promptly once freed.
func (r *handlerRecord) reset() {
	r.cb = nil
	r.data = nil
}

// registry maps descriptor identity to its handler record. At most one
// record exists per descriptor, and lookups are expected to run on the
// reactor's own goroutine only -- no internal locking.
type registry struct {
	byFD map[int]*handlerRecord
}

func newRegistry() *registry {
	return &registry{byFD: make(map[int]*handlerRecord)}
}

func (r *registry) lookup(fd int) (*handlerRecord, bool) {
	rec, ok := r.byFD[fd]
	return rec, ok
}

func (r *registry) insert(rec *handlerRecord) {
	r.byFD[rec.fd] = rec
}

func (r *registry) remove(fd int) (*handlerRecord, bool) {
	rec, ok := r.byFD[fd]
	if !ok {
		return nil, false
	}
	delete(r.byFD, fd)
	return rec, true
}

func (r *registry) len() int {
	return len(r.byFD)
}

// forEach iterates the registry in an unspecified order. Used only at
// Destroy time; handlers must not mutate the registry from within it.
func (r *registry) forEach(fn func(*handlerRecord)) {
	for _, rec := range r.byFD {
		fn(rec)
	}
}
