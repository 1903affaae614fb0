// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package hooks redirects libc entry points to policy-enforcing
// replacements through the host's inline-hook capability.
package hooks

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aubo-project/aubogo/pkg/host"
	"go.uber.org/zap"
)

var (
	// ErrHookFailed means the host declined to redirect the target address.
	ErrHookFailed = errors.New("hook installation failed")

	// ErrAlreadyInstalled means the target address is already hooked.
	ErrAlreadyInstalled = errors.New("hook already installed at target address")
)

// Record is one installed hook. The trampoline is stored by the host
// before redirection takes effect, so a replacement closure holding the
// record can always reach the original function. Immutable once Install
// returns.
type Record struct {
	Symbol string
	Target host.SymbolRef

	orig any
}

// Trampoline returns the callable original function. Its dynamic type is
// the replacement's own function type.
func (r *Record) Trampoline() any { return r.orig }

// Installer tracks installed hooks by target address.
type Installer struct {
	api    *host.API
	logger *zap.Logger

	mu        sync.Mutex
	installed map[host.Address]*Record
}

// NewInstaller creates an installer over the host capability table.
func NewInstaller(api *host.API, logger *zap.Logger) *Installer {
	return &Installer{
		api:       api,
		logger:    logger,
		installed: make(map[host.Address]*Record),
	}
}

// Install redirects the symbol at ref to a replacement. build receives
// the record before redirection so the replacement closure can capture
// it and call the trampoline; the record's trampoline is valid by the
// time any caller reaches the replacement.
func (ins *Installer) Install(symbol string, ref host.SymbolRef, build func(*Record) any) (*Record, error) {
	if ins.api == nil || ins.api.InlineHook == nil {
		return nil, fmt.Errorf("install %s: %w", symbol, host.ErrCapabilityMissing)
	}

	ins.mu.Lock()
	defer ins.mu.Unlock()

	if _, ok := ins.installed[ref.Addr]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyInstalled, symbol)
	}

	rec := &Record{Symbol: symbol, Target: ref}
	replacement := build(rec)

	if err := ins.api.InlineHook(ref.Addr, replacement, &rec.orig); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrHookFailed, symbol, err)
	}

	ins.installed[ref.Addr] = rec
	ins.logger.Info("hook installed",
		zap.String("symbol", symbol),
		zap.Uint64("addr", uint64(ref.Addr)),
	)
	return rec, nil
}

// Uninstall removes the redirection for one record.
func (ins *Installer) Uninstall(rec *Record) error {
	if ins.api == nil || ins.api.InlineUnhook == nil {
		return fmt.Errorf("uninstall %s: %w", rec.Symbol, host.ErrCapabilityMissing)
	}

	ins.mu.Lock()
	defer ins.mu.Unlock()

	if err := ins.api.InlineUnhook(rec.Target.Addr); err != nil {
		return fmt.Errorf("uninstall %s: %w", rec.Symbol, err)
	}
	delete(ins.installed, rec.Target.Addr)

	ins.logger.Info("hook removed", zap.String("symbol", rec.Symbol))
	return nil
}

// Records returns the installed hooks ordered by symbol name.
func (ins *Installer) Records() []*Record {
	ins.mu.Lock()
	defer ins.mu.Unlock()

	out := make([]*Record, 0, len(ins.installed))
	for _, rec := range ins.installed {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
