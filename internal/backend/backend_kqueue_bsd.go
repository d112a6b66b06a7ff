// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

//go:build freebsd || dragonfly || darwin
// +build freebsd dragonfly darwin

package backend

import (
	"os"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// kqueueBackend implements Backend on top of kqueue(2). kqueue has no
// eventfd-like primitive, so the wakeup is an always-registered
// EVFILT_USER note: arming is NOTE_TRIGGER, which kqueue auto-clears
// after delivery because the note is registered EV_CLEAR, playing the
// same role as epoll's EPOLLONESHOT re-arm-per-Stop discipline.
type kqueueBackend struct {
	fd int
}

// New creates a kqueue-backed Backend.
func New() (Backend, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("fcntl", err)
	}
	if _, err := unix.Kevent(fd, []unix.Kevent_t{{
		Ident:  0,
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}}, nil, nil); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("kevent add wakeup", err)
	}
	return &kqueueBackend{fd: fd}, nil
}

// Add registers fd. Unlike epoll_ctl(ADD), kevent's EV_ADD upserts rather
// than rejecting an already-registered ident/filter pair, so this backend
// never produces ErrAlreadyExists; duplicate registration is instead
// caught at the registry layer above.
func (b *kqueueBackend) Add(fd int, mask Mask, token uintptr) error {
	return b.changeFiltersFor(fd, mask, token, unix.EV_ADD|unix.EV_ENABLE)
}

func (b *kqueueBackend) Modify(fd int, mask Mask, token uintptr) error {
	// kqueue has no single "replace interest set" op: clear both filters
	// then re-add the requested ones, mirroring tnet's modRead/modWrite
	// delete-then-flags-in-addRead pattern.
	_ = b.changeOne(fd, unix.EVFILT_READ, 0, unix.EV_DELETE)
	_ = b.changeOne(fd, unix.EVFILT_WRITE, 0, unix.EV_DELETE)
	return b.changeFiltersFor(fd, mask, token, unix.EV_ADD|unix.EV_ENABLE)
}

func (b *kqueueBackend) Remove(fd int) error {
	e1 := b.changeOne(fd, unix.EVFILT_READ, 0, unix.EV_DELETE)
	e2 := b.changeOne(fd, unix.EVFILT_WRITE, 0, unix.EV_DELETE)
	if e1 != nil {
		return errors.Wrap(e1, "unregister descriptor")
	}
	if e2 != nil {
		return errors.Wrap(e2, "unregister descriptor")
	}
	return nil
}

func (b *kqueueBackend) changeFiltersFor(fd int, mask Mask, token uintptr, flags uint16) error {
	var changes []unix.Kevent_t
	if mask&(Readable|PeerClosed) != 0 {
		changes = append(changes, newKevent(fd, unix.EVFILT_READ, flags, token))
	}
	if mask&Writable != 0 {
		changes = append(changes, newKevent(fd, unix.EVFILT_WRITE, flags, token))
	}
	if len(changes) == 0 {
		return nil
	}
	if _, err := unix.Kevent(b.fd, changes, nil, nil); err != nil {
		return errors.Wrap(os.NewSyscallError("kevent", err), "register descriptor")
	}
	return nil
}

func (b *kqueueBackend) changeOne(fd int, filter int16, token uintptr, flags uint16) error {
	ev := newKevent(fd, filter, flags, token)
	if _, err := unix.Kevent(b.fd, []unix.Kevent_t{ev}, nil, nil); err != nil {
		if err == unix.ENOENT {
			return nil
		}
		return os.NewSyscallError("kevent", err)
	}
	return nil
}

func newKevent(fd int, filter int16, flags uint16, token uintptr) unix.Kevent_t {
	ev := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: filter,
		Flags:  flags,
	}
	*(*uintptr)(unsafe.Pointer(&ev.Udata)) = token
	return ev
}

func (b *kqueueBackend) ArmWakeup() error {
	_, err := unix.Kevent(b.fd, []unix.Kevent_t{{
		Ident:  0,
		Filter: unix.EVFILT_USER,
		Fflags: unix.NOTE_TRIGGER,
	}}, nil, nil)
	if err != nil {
		return os.NewSyscallError("kevent trigger wakeup", err)
	}
	return nil
}

func (b *kqueueBackend) FD() int { return b.fd }

func (b *kqueueBackend) Close() error {
	if err := unix.Close(b.fd); err != nil {
		return os.NewSyscallError("close", err)
	}
	return nil
}

func (b *kqueueBackend) Wait(events []Event, timeout time.Duration) (int, error) {
	raw := make([]unix.Kevent_t, len(events))
	var ts *unix.Timespec
	if timeout != Forever {
		if timeout < 0 {
			timeout = 0
		}
		spec := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &spec
	}
	n, err := unix.Kevent(b.fd, nil, raw, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, ErrInterrupted
		}
		return 0, os.NewSyscallError("kevent", err)
	}
	for i := 0; i < n; i++ {
		if raw[i].Ident == 0 && raw[i].Filter == unix.EVFILT_USER {
			events[i] = Event{Token: 0}
			continue
		}
		var observed Mask
		switch raw[i].Filter {
		case unix.EVFILT_READ:
			observed = Readable
		case unix.EVFILT_WRITE:
			observed = Writable
		}
		if raw[i].Flags&unix.EV_EOF != 0 {
			observed |= PeerClosed
		}
		token := *(*uintptr)(unsafe.Pointer(&raw[i].Udata))
		events[i] = Event{Token: token, Observed: observed}
	}
	return n, nil
}
