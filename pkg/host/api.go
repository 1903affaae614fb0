// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package host defines the capability table handed to the runtime by the
// process it is injected into. Every privileged operation — loading a
// native module, redirecting a function entry point, resolving a symbol,
// opening a companion connection — goes through this table so the runtime
// itself stays free of platform bindings and can be driven by a fake
// table in tests.
package host

import "errors"

// ErrCapabilityMissing is returned when a required entry in the capability
// table was not provided by the host.
var ErrCapabilityMissing = errors.New("host capability not provided")

// Address is a virtual address inside the current process.
type Address uintptr

// SymbolRef locates a resolved symbol in process memory.
type SymbolRef struct {
	Addr Address
	Size uint64
}

// Module is a handle to a loaded decision module. Lookup returns the
// exported entry with the given name; the dynamic type of the returned
// value is the entry's function signature.
type Module interface {
	Lookup(symbol string) (any, error)
	Close() error
}

// SymbolResolver resolves exported symbols of one loaded library.
type SymbolResolver interface {
	Lookup(name string) (SymbolRef, error)
	Close() error
}

// API is the capability table. Fields may be nil when the host does not
// grant that capability; callers degrade gracefully rather than assume
// the full table.
//
// InlineHook must store the trampoline for the original function through
// original before the redirection takes effect, so a replacement invoked
// on another thread mid-install always sees a usable trampoline.
type API struct {
	LoadModule       func(path string) (Module, error)
	InlineHook       func(target Address, replacement any, original *any) error
	InlineUnhook     func(target Address) error
	OpenResolver     func(library string) (SymbolResolver, error)
	ConnectCompanion func() (fd int, err error)
}
