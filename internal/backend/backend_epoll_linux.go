// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

//go:build linux
// +build linux

package backend

import (
	"fmt"
	"os"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	readFlags  = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLHUP | unix.EPOLLERR | unix.EPOLLPRI
	writeFlags = unix.EPOLLOUT | unix.EPOLLHUP | unix.EPOLLERR
)

// epollBackend implements Backend on top of epoll(7). The wakeup
// descriptor is an eventfd pre-written with a non-zero counter value at
// creation time, exactly as xio_ev_loop_create does: arming it later is
// then a pure EPOLL_CTL_MOD, no further write syscall needed.
type epollBackend struct {
	fd        int
	wakeupFD  int
	wakeupBuf []byte
}

// New creates an epoll-backed Backend.
func New() (Backend, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	efd, err := unix.Eventfd(1, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("eventfd", err)
	}
	if err := unix.EpollCtl(fd, unix.EPOLL_CTL_ADD, efd, &unix.EpollEvent{}); err != nil {
		unix.Close(efd)
		unix.Close(fd)
		return nil, os.NewSyscallError("epoll_ctl add wakeup", err)
	}
	return &epollBackend{fd: fd, wakeupFD: efd, wakeupBuf: make([]byte, 8)}, nil
}

func (b *epollBackend) Add(fd int, mask Mask, token uintptr) error {
	ev := unix.EpollEvent{Events: translate(mask)}
	storeToken(&ev, token)
	if err := unix.EpollCtl(b.fd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		if err == unix.EEXIST {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, err)
		}
		return errors.Wrap(os.NewSyscallError("epoll_ctl add", err), "register descriptor")
	}
	return nil
}

func (b *epollBackend) Modify(fd int, mask Mask, token uintptr) error {
	ev := unix.EpollEvent{Events: translate(mask)}
	storeToken(&ev, token)
	if err := unix.EpollCtl(b.fd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return errors.Wrap(os.NewSyscallError("epoll_ctl mod", err), "modify descriptor")
	}
	return nil
}

func (b *epollBackend) Remove(fd int) error {
	if err := unix.EpollCtl(b.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return errors.Wrap(os.NewSyscallError("epoll_ctl del", err), "unregister descriptor")
	}
	return nil
}

func (b *epollBackend) ArmWakeup() error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLONESHOT}
	if err := unix.EpollCtl(b.fd, unix.EPOLL_CTL_MOD, b.wakeupFD, &ev); err != nil {
		return os.NewSyscallError("epoll_ctl mod wakeup", err)
	}
	return nil
}

func (b *epollBackend) FD() int { return b.fd }

func (b *epollBackend) Close() error {
	werr := unix.Close(b.wakeupFD)
	if err := unix.Close(b.fd); err != nil {
		return os.NewSyscallError("close", err)
	}
	if werr != nil {
		return os.NewSyscallError("close", werr)
	}
	return nil
}

func (b *epollBackend) Wait(events []Event, timeout time.Duration) (int, error) {
	raw := make([]unix.EpollEvent, len(events))
	msec := msecOf(timeout)
	n, err := unix.EpollWait(b.fd, raw, msec)
	if err != nil {
		if err == unix.EINTR {
			return 0, ErrInterrupted
		}
		return 0, os.NewSyscallError("epoll_wait", err)
	}
	for i := 0; i < n; i++ {
		token := loadToken(&raw[i])
		if token == 0 {
			// The counter is left non-zero on purpose: EPOLLONESHOT has
			// already disarmed the watch, and the next ArmWakeup relies on
			// the descriptor still being readable.
			events[i] = Event{Token: 0}
			continue
		}
		events[i] = Event{Token: token, Observed: fromEpoll(raw[i].Events)}
	}
	return n, nil
}

func msecOf(timeout time.Duration) int {
	if timeout == Forever {
		return -1
	}
	if timeout <= 0 {
		return 0
	}
	return int(timeout / time.Millisecond)
}

// storeToken packs the registration token into the 8-byte kernel data
// union. unix.EpollEvent's Fd and Pad fields are adjacent int32s spanning
// exactly that union, the standard trick for carrying an opaque pointer-
// sized value through epoll_event.data without a custom per-arch struct.
func storeToken(ev *unix.EpollEvent, token uintptr) {
	*(*uintptr)(unsafe.Pointer(&ev.Fd)) = token
}

func loadToken(ev *unix.EpollEvent) uintptr {
	return *(*uintptr)(unsafe.Pointer(&ev.Fd))
}

func translate(mask Mask) uint32 {
	var out uint32
	if mask&Readable != 0 {
		out |= readFlags
	}
	if mask&Writable != 0 {
		out |= writeFlags
	}
	if mask&PeerClosed != 0 {
		out |= unix.EPOLLRDHUP
	}
	if mask&EdgeTriggered != 0 {
		out |= unix.EPOLLET
	}
	if mask&OneShot != 0 {
		out |= unix.EPOLLONESHOT
	}
	return out
}

func fromEpoll(events uint32) Mask {
	var out Mask
	if events&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		out |= Readable
	}
	if events&unix.EPOLLOUT != 0 {
		out |= Writable
	}
	if events&(unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		out |= PeerClosed
	}
	return out
}
