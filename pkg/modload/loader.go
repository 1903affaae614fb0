// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package modload locates and loads the native decision module. The
// on-disk candidate is staged into an anonymous memory-backed descriptor
// first and loaded through its /proc/self/fd alias, so the host linker
// never touches module storage directly; plain path loading remains as
// the fallback.
package modload

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aubo-project/aubogo/pkg/host"
	"go.uber.org/zap"
)

var (
	// ErrModuleNotFound means no candidate path yielded a loadable module.
	ErrModuleNotFound = errors.New("decision module not found")

	// ErrCopyIncomplete means staging copied fewer bytes than the source holds.
	ErrCopyIncomplete = errors.New("module staging copy incomplete")
)

// Handle wraps a loaded module together with its backing descriptor.
// The backing file must stay open for the lifetime of the module when
// the memory-backed strategy was used.
type Handle struct {
	host.Module

	source  string
	backing *os.File
}

// Source returns the on-disk path the module was staged from.
func (h *Handle) Source() string { return h.source }

// MemoryBacked reports whether the module was loaded from an anonymous
// memory descriptor rather than its on-disk path.
func (h *Handle) MemoryBacked() bool { return h.backing != nil }

// Close releases the module and its backing descriptor.
func (h *Handle) Close() error {
	err := h.Module.Close()
	if h.backing != nil {
		if cerr := h.backing.Close(); err == nil {
			err = cerr
		}
		h.backing = nil
	}
	return err
}

// Load tries each candidate path in order, skipping unreadable ones, and
// returns the first successfully loaded module. Per candidate the
// memory-backed strategy is tried before a direct path load; a failed
// strategy never aborts the search.
func Load(api *host.API, candidates []string, logger *zap.Logger) (*Handle, error) {
	if api == nil || api.LoadModule == nil {
		return nil, fmt.Errorf("load module: %w", host.ErrCapabilityMissing)
	}

	for _, path := range candidates {
		if !readable(path) {
			logger.Debug("module candidate not readable", zap.String("path", path))
			continue
		}

		if h, err := loadMemoryBacked(api, path, logger); err == nil {
			logger.Info("loaded decision module",
				zap.String("path", path),
				zap.Bool("memory_backed", true),
			)
			return h, nil
		}

		if h, err := loadDirect(api, path); err == nil {
			logger.Info("loaded decision module",
				zap.String("path", path),
				zap.Bool("memory_backed", false),
			)
			return h, nil
		} else {
			logger.Debug("direct module load failed", zap.String("path", path), zap.Error(err))
		}
	}

	return nil, ErrModuleNotFound
}

func readable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// loadMemoryBacked copies the candidate into an anonymous descriptor and
// loads it via the descriptor's /proc/self/fd alias. Any failure leaves
// no descriptor behind.
func loadMemoryBacked(api *host.API, path string, logger *zap.Logger) (*Handle, error) {
	src, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return nil, err
	}

	mem, err := newAnonFile(info.Size())
	if err != nil {
		logger.Warn("anonymous memory descriptor unavailable", zap.Error(err))
		return nil, err
	}

	if err := copyModule(mem, src, info.Size()); err != nil {
		mem.Close()
		logger.Info("module staging failed", zap.String("path", path), zap.Error(err))
		return nil, err
	}

	alias := fmt.Sprintf("/proc/self/fd/%d", mem.Fd())
	mod, err := api.LoadModule(alias)
	if err != nil {
		mem.Close()
		logger.Debug("load from anonymous descriptor failed", zap.String("path", path), zap.Error(err))
		return nil, err
	}

	return &Handle{Module: mod, source: path, backing: mem}, nil
}

func loadDirect(api *host.API, path string) (*Handle, error) {
	mod, err := api.LoadModule(path)
	if err != nil {
		return nil, err
	}
	return &Handle{Module: mod, source: path}, nil
}

// copyModule copies exactly size bytes from src to dst. A short copy is
// an error: a truncated module image must never reach the linker.
func copyModule(dst io.Writer, src io.Reader, size int64) error {
	n, err := io.Copy(dst, src)
	if err != nil {
		return fmt.Errorf("copy module image: %w", err)
	}
	if n != size {
		return fmt.Errorf("%w: copied %d of %d bytes", ErrCopyIncomplete, n, size)
	}
	return nil
}
