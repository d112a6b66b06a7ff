// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package evloop

import (
	"fmt"

	"github.com/xio-go/evloop/internal/backend"
)

// EventMask is the abstract, library-level set of readiness flags a
// caller watches for. It is translated to kernel semantics at the
// Register/Modify boundary (see toBackendMask below and each backend's
// own translation to epoll or kqueue flags) and translated back on the
// observed events a callback receives.
type EventMask uint32

// Bits of EventMask.
const (
	// Readable: data available to read, or EOF.
	Readable EventMask = 1 << iota
	// Writable: send buffer has space.
	Writable
	// PeerClosed: read half closed by peer.
	PeerClosed
	// EdgeTriggered: notify only on state transitions.
	EdgeTriggered
	// OneShot: auto-disarm after one delivery.
	OneShot
)

// String implements fmt.Stringer.
func (m EventMask) String() string {
	if m == 0 {
		return "None"
	}
	parts := []struct {
		bit  EventMask
		name string
	}{
		{Readable, "Readable"},
		{Writable, "Writable"},
		{PeerClosed, "PeerClosed"},
		{EdgeTriggered, "EdgeTriggered"},
		{OneShot, "OneShot"},
	}
	out := ""
	for _, p := range parts {
		if m&p.bit != 0 {
			if out != "" {
				out += "|"
			}
			out += p.name
		}
	}
	if out == "" {
		return fmt.Sprintf("EventMask(%d)", uint32(m))
	}
	return out
}

func toBackendMask(m EventMask) backend.Mask {
	var out backend.Mask
	if m&Readable != 0 {
		out |= backend.Readable
	}
	if m&Writable != 0 {
		out |= backend.Writable
	}
	if m&PeerClosed != 0 {
		out |= backend.PeerClosed
	}
	if m&EdgeTriggered != 0 {
		out |= backend.EdgeTriggered
	}
	if m&OneShot != 0 {
		out |= backend.OneShot
	}
	return out
}

func fromBackendMask(m backend.Mask) EventMask {
	var out EventMask
	if m&backend.Readable != 0 {
		out |= Readable
	}
	if m&backend.Writable != 0 {
		out |= Writable
	}
	if m&backend.PeerClosed != 0 {
		out |= PeerClosed
	}
	return out
}
