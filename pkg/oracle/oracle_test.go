// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package oracle

import (
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"
)

// mapModule is a host.Module backed by a symbol map.
type mapModule struct {
	symbols map[string]any
}

func (m *mapModule) Lookup(symbol string) (any, error) {
	v, ok := m.symbols[symbol]
	if !ok {
		return nil, fmt.Errorf("undefined symbol %s", symbol)
	}
	return v, nil
}

func (m *mapModule) Close() error { return nil }

func completeModule(blocklist map[string]bool) *mapModule {
	return &mapModule{symbols: map[string]any{
		SymInitialize: InitializeFunc(func(configPath string) int32 { return 0 }),
		SymShutdown:   ShutdownFunc(func() int32 { return 0 }),
		SymShouldBlock: ShouldBlockFunc(func(target, kind, origin string) int32 {
			if blocklist[target] {
				return 1
			}
			return 0
		}),
	}}
}

func TestBindComplete(t *testing.T) {
	o, err := Bind(completeModule(nil), zap.NewNop())
	if err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	if o.Ready() {
		t.Error("oracle should not be ready before Initialize")
	}
}

func TestBindMissingSymbol(t *testing.T) {
	for _, missing := range []string{SymInitialize, SymShutdown, SymShouldBlock} {
		mod := completeModule(nil)
		delete(mod.symbols, missing)
		if _, err := Bind(mod, zap.NewNop()); !errors.Is(err, ErrSymbolMissing) {
			t.Errorf("missing %s: expected ErrSymbolMissing, got %v", missing, err)
		}
	}
}

func TestBindWrongSignature(t *testing.T) {
	mod := completeModule(nil)
	mod.symbols[SymShouldBlock] = func() {}
	if _, err := Bind(mod, zap.NewNop()); !errors.Is(err, ErrSymbolMissing) {
		t.Errorf("expected ErrSymbolMissing for mistyped symbol, got %v", err)
	}
}

func TestShouldBlockBeforeInitialize(t *testing.T) {
	o, err := Bind(completeModule(map[string]bool{"ads.example.com": true}), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if o.ShouldBlock("ads.example.com", "dns", "getaddrinfo") {
		t.Error("uninitialized oracle must answer allow")
	}
}

func TestInitializeAndQuery(t *testing.T) {
	o, err := Bind(completeModule(map[string]bool{"ads.example.com": true}), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Initialize("/tmp/aubo.toml"); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if !o.Ready() {
		t.Error("oracle should be ready after Initialize")
	}
	if !o.ShouldBlock("ads.example.com", "dns", "getaddrinfo") {
		t.Error("expected blocklisted target to be blocked")
	}
	if o.ShouldBlock("example.com", "dns", "getaddrinfo") {
		t.Error("expected unlisted target to be allowed")
	}
}

func TestInitializeFailure(t *testing.T) {
	mod := completeModule(nil)
	mod.symbols[SymInitialize] = InitializeFunc(func(configPath string) int32 { return -1 })

	o, err := Bind(mod, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Initialize("/tmp/aubo.toml"); !errors.Is(err, ErrInitFailed) {
		t.Errorf("expected ErrInitFailed, got %v", err)
	}
	if o.Ready() {
		t.Error("oracle must not be ready after failed Initialize")
	}
}

func TestShutdownStopsBlocking(t *testing.T) {
	o, err := Bind(completeModule(map[string]bool{"ads.example.com": true}), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Initialize("/tmp/aubo.toml"); err != nil {
		t.Fatal(err)
	}
	if err := o.Shutdown(); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if o.ShouldBlock("ads.example.com", "dns", "getaddrinfo") {
		t.Error("shut-down oracle must answer allow")
	}
	// Second shutdown is a no-op.
	if err := o.Shutdown(); err != nil {
		t.Errorf("repeated shutdown should be a no-op, got %v", err)
	}
}
