// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package companion serves the privileged companion process. The host
// hands over a connected descriptor; the handler answers with the
// current stats snapshot as a single JSON document and closes.
package companion

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/aubo-project/aubogo/pkg/host"
	"github.com/aubo-project/aubogo/pkg/stats"
	"go.uber.org/zap"
)

// Handler answers companion connections.
type Handler struct {
	stats  *stats.Collector
	logger *zap.Logger
}

// NewHandler creates a companion handler over the stats collector.
func NewHandler(st *stats.Collector, logger *zap.Logger) *Handler {
	return &Handler{stats: st, logger: logger}
}

// HandleConnection serves one connection. Ownership of fd transfers to
// the handler; it is closed before returning. Errors are logged, never
// propagated to the host.
func (h *Handler) HandleConnection(fd int) {
	f := os.NewFile(uintptr(fd), "companion")
	if f == nil {
		h.logger.Warn("companion handed an invalid descriptor", zap.Int("fd", fd))
		return
	}
	defer f.Close()

	snap := h.stats.Snapshot()
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		h.logger.Warn("companion write failed", zap.Error(err))
		return
	}

	h.logger.Debug("companion connection served",
		zap.Uint64("total_requests", snap.TotalRequests),
		zap.Uint64("blocked_requests", snap.BlockedRequests),
	)
}

// Push dials the companion through the host capability and sends one
// snapshot, the module-initiated direction of the same exchange. Used
// to hand off final counters at detach.
func Push(api *host.API, snap stats.Snapshot) error {
	if api == nil || api.ConnectCompanion == nil {
		return fmt.Errorf("push stats: %w", host.ErrCapabilityMissing)
	}

	fd, err := api.ConnectCompanion()
	if err != nil {
		return fmt.Errorf("connect companion: %w", err)
	}
	f := os.NewFile(uintptr(fd), "companion")
	if f == nil {
		return fmt.Errorf("companion returned invalid descriptor %d", fd)
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(snap)
}
