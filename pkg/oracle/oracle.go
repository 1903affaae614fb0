// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package oracle binds the decision module's exported entry points and
// wraps them in a fail-open client: until initialization succeeds, and
// after any binding failure, every query answers "allow".
package oracle

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/aubo-project/aubogo/pkg/host"
	"go.uber.org/zap"
)

// Exported entry points the decision module must provide. All three are
// required; a module missing any of them is unusable.
const (
	SymInitialize  = "aubo_initialize"
	SymShutdown    = "aubo_shutdown"
	SymShouldBlock = "aubo_should_block_request"
)

var (
	// ErrSymbolMissing means a required entry point was absent or had
	// the wrong signature.
	ErrSymbolMissing = errors.New("required oracle symbol missing")

	// ErrInitFailed means the module's initializer returned a non-zero status.
	ErrInitFailed = errors.New("oracle initialization failed")
)

// InitializeFunc loads the module's own configuration. Zero means success.
type InitializeFunc func(configPath string) int32

// ShutdownFunc releases module resources. Zero means success.
type ShutdownFunc func() int32

// ShouldBlockFunc answers a policy query. Non-zero means block.
type ShouldBlockFunc func(target, kind, origin string) int32

// Oracle is the bound decision module client.
type Oracle struct {
	initialize  InitializeFunc
	shutdown    ShutdownFunc
	shouldBlock ShouldBlockFunc

	ready  atomic.Bool
	logger *zap.Logger
}

// Bind looks up all required entry points on the module. Binding is all
// or nothing: a missing or mistyped symbol fails the whole bind.
func Bind(mod host.Module, logger *zap.Logger) (*Oracle, error) {
	o := &Oracle{logger: logger}

	init, err := bindSymbol[InitializeFunc](mod, SymInitialize)
	if err != nil {
		return nil, err
	}
	shutdown, err := bindSymbol[ShutdownFunc](mod, SymShutdown)
	if err != nil {
		return nil, err
	}
	shouldBlock, err := bindSymbol[ShouldBlockFunc](mod, SymShouldBlock)
	if err != nil {
		return nil, err
	}

	o.initialize = init
	o.shutdown = shutdown
	o.shouldBlock = shouldBlock
	return o, nil
}

func bindSymbol[F any](mod host.Module, name string) (F, error) {
	var zero F
	v, err := mod.Lookup(name)
	if err != nil {
		return zero, fmt.Errorf("%w: %s: %v", ErrSymbolMissing, name, err)
	}
	fn, ok := v.(F)
	if !ok {
		return zero, fmt.Errorf("%w: %s has unexpected type %T", ErrSymbolMissing, name, v)
	}
	return fn, nil
}

// Initialize hands the module its configuration path. Queries answer
// "allow" until this succeeds.
func (o *Oracle) Initialize(configPath string) error {
	status := o.initialize(configPath)
	if status != 0 {
		return fmt.Errorf("%w: status %d", ErrInitFailed, status)
	}
	o.ready.Store(true)
	o.logger.Info("decision oracle initialized", zap.String("config_path", configPath))
	return nil
}

// Ready reports whether the oracle has been initialized and not shut down.
func (o *Oracle) Ready() bool { return o.ready.Load() }

// ShouldBlock asks the module whether a request should be blocked. The
// call runs on the intercepted application thread, so the module is
// expected to answer from memory and never block on I/O. Before
// initialization, and after shutdown, the answer is always false.
func (o *Oracle) ShouldBlock(target, kind, origin string) bool {
	if !o.ready.Load() {
		return false
	}
	return o.shouldBlock(target, kind, origin) != 0
}

// Shutdown stops the oracle. Queries issued afterwards answer "allow".
func (o *Oracle) Shutdown() error {
	if !o.ready.Swap(false) {
		return nil
	}
	if status := o.shutdown(); status != 0 {
		return fmt.Errorf("oracle shutdown returned status %d", status)
	}
	o.logger.Info("decision oracle shut down")
	return nil
}
