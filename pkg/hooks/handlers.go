// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hooks

import (
	"errors"
	"net"
	"strconv"
	"sync/atomic"

	"github.com/aubo-project/aubogo/pkg/oracle"
	"github.com/aubo-project/aubogo/pkg/stats"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// RequestKind classifies an intercepted request by its entry point.
type RequestKind int

const (
	KindDNSByName RequestKind = iota
	KindDNSByAddrinfo
	KindRawConnect
)

func (k RequestKind) String() string {
	switch k {
	case KindDNSByName:
		return "dns_by_name"
	case KindDNSByAddrinfo:
		return "dns_by_addrinfo"
	case KindRawConnect:
		return "raw_connect"
	default:
		return "unknown"
	}
}

// wire is the kind string handed to the decision module. Both DNS entry
// points collapse to "dns".
func (k RequestKind) wire() string {
	if k == KindRawConnect {
		return "connect"
	}
	return "dns"
}

// RequestDescriptor describes one intercepted call. Built fresh per call
// and never retained.
type RequestDescriptor struct {
	Target string
	Kind   RequestKind
	Origin string
}

// ErrHostNotFound is the forged gethostbyname failure for blocked names.
var ErrHostNotFound = errors.New("host not found")

// EaiNoname is the forged getaddrinfo status for blocked nodes,
// mirroring libc's EAI_NONAME.
const EaiNoname = -2

// ConnectFunc is the hooked connect signature.
type ConnectFunc func(fd int, sa unix.Sockaddr) error

// HostByNameFunc is the hooked gethostbyname signature.
type HostByNameFunc func(name string) ([]net.IP, error)

// AddrInfo is one resolved address returned by the hooked getaddrinfo.
type AddrInfo struct {
	IP   net.IP
	Port int
}

// AddrInfoFunc is the hooked getaddrinfo signature. The int is the
// libc-style status code, zero on success.
type AddrInfoFunc func(node, service string) ([]AddrInfo, int)

// Handlers builds replacement functions for the hooked entry points.
// Every replacement runs on an intercepted application thread and fails
// open: when the oracle is absent, not ready, or interception is
// disabled, calls pass straight through to the trampoline.
type Handlers struct {
	oracle  *oracle.Oracle // nil when the decision module never came up
	stats   *stats.Collector
	logger  *zap.Logger
	process string

	enabled        atomic.Bool
	enforceConnect atomic.Bool
}

// NewHandlers creates the handler set. oracle may be nil; interception
// then degrades to pure passthrough.
func NewHandlers(o *oracle.Oracle, st *stats.Collector, process string, logger *zap.Logger) *Handlers {
	h := &Handlers{
		oracle:  o,
		stats:   st,
		logger:  logger,
		process: process,
	}
	h.enabled.Store(true)
	return h
}

// SetEnabled gates all interception at runtime.
func (h *Handlers) SetEnabled(v bool) { h.enabled.Store(v) }

// SetEnforceConnect switches connect interception between observe-only
// and enforcing.
func (h *Handlers) SetEnforceConnect(v bool) { h.enforceConnect.Store(v) }

func (h *Handlers) active() bool {
	return h.enabled.Load() && h.oracle != nil && h.oracle.Ready()
}

// decide consults the oracle and records the outcome.
func (h *Handlers) decide(desc RequestDescriptor) bool {
	blocked := h.oracle.ShouldBlock(desc.Target, desc.Kind.wire(), desc.Origin)

	if h.stats != nil {
		if blocked {
			h.stats.RecordBlocked(desc.Target, desc.Kind.wire())
		} else {
			h.stats.RecordAllowed(desc.Target, desc.Kind.wire())
		}
	}

	if blocked {
		h.logger.Info("blocked request",
			zap.String("target", desc.Target),
			zap.Stringer("kind", desc.Kind),
			zap.String("origin", desc.Origin),
			zap.String("process", h.process),
		)
	}
	return blocked
}

// HostByName returns the gethostbyname replacement. Blocked names fail
// with ErrHostNotFound, indistinguishable from a genuine NXDOMAIN.
func (h *Handlers) HostByName(rec *Record) HostByNameFunc {
	return func(name string) ([]net.IP, error) {
		orig := rec.Trampoline().(HostByNameFunc)

		if name == "" || !h.active() {
			return orig(name)
		}

		desc := RequestDescriptor{Target: name, Kind: KindDNSByName, Origin: "gethostbyname"}
		if h.decide(desc) {
			return nil, ErrHostNotFound
		}
		return orig(name)
	}
}

// AddrInfo returns the getaddrinfo replacement. Blocked nodes fail with
// EaiNoname; service-only lookups (empty node) always pass through.
func (h *Handlers) AddrInfo(rec *Record) AddrInfoFunc {
	return func(node, service string) ([]AddrInfo, int) {
		orig := rec.Trampoline().(AddrInfoFunc)

		if node == "" || !h.active() {
			return orig(node, service)
		}

		desc := RequestDescriptor{Target: node, Kind: KindDNSByAddrinfo, Origin: "getaddrinfo"}
		if h.decide(desc) {
			return nil, EaiNoname
		}
		return orig(node, service)
	}
}

// Connect returns the connect replacement. By default connects are
// observed and forwarded regardless of verdict; with enforcement on,
// blocked destinations fail with ECONNREFUSED. Non-inet socket families
// always pass through.
func (h *Handlers) Connect(rec *Record) ConnectFunc {
	return func(fd int, sa unix.Sockaddr) error {
		orig := rec.Trampoline().(ConnectFunc)

		if !h.active() {
			return orig(fd, sa)
		}

		target := formatSockaddr(sa)
		if target == "" {
			return orig(fd, sa)
		}

		desc := RequestDescriptor{Target: target, Kind: KindRawConnect, Origin: "connect"}
		if !h.enforceConnect.Load() {
			h.logger.Debug("connect observed",
				zap.String("target", target),
				zap.String("process", h.process),
			)
			if h.stats != nil {
				h.stats.RecordAllowed(target, desc.Kind.wire())
			}
			return orig(fd, sa)
		}

		if h.decide(desc) {
			return unix.ECONNREFUSED
		}
		return orig(fd, sa)
	}
}

// formatSockaddr renders an inet sockaddr as host:port. Other families
// return "" and are not policy targets.
func formatSockaddr(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	default:
		return ""
	}
}
