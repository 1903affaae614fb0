// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package stats counts intercepted requests. Counters are updated from
// hooked application threads, so the hot path is atomic increments plus
// one short mutex for the per-domain maps.
package stats

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Snapshot is a point-in-time copy of the counters, also the JSON shape
// of the periodic stats file.
type Snapshot struct {
	Process         string            `json:"process"`
	TotalRequests   uint64            `json:"total_requests"`
	BlockedRequests uint64            `json:"blocked_requests"`
	AllowedRequests uint64            `json:"allowed_requests"`
	DomainsBlocked  map[string]uint64 `json:"domains_blocked"`
	RequestKinds    map[string]uint64 `json:"request_kinds"`
	CollectedAt     time.Time         `json:"collected_at"`
}

// Collector accumulates interception counters for one process.
type Collector struct {
	process string
	logger  *zap.Logger

	total   atomic.Uint64
	blocked atomic.Uint64
	allowed atomic.Uint64

	mu             sync.Mutex
	domainsBlocked map[string]uint64
	requestKinds   map[string]uint64

	interval atomic.Int64 // nanoseconds, adjustable at runtime
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCollector creates a collector labeled with the host process name.
func NewCollector(process string, logger *zap.Logger) *Collector {
	return &Collector{
		process:        process,
		logger:         logger,
		domainsBlocked: make(map[string]uint64),
		requestKinds:   make(map[string]uint64),
		stopCh:         make(chan struct{}),
	}
}

// RecordBlocked counts one blocked request.
func (c *Collector) RecordBlocked(domain, kind string) {
	c.total.Add(1)
	c.blocked.Add(1)

	c.mu.Lock()
	c.domainsBlocked[domain]++
	c.requestKinds[kind]++
	c.mu.Unlock()
}

// RecordAllowed counts one allowed request.
func (c *Collector) RecordAllowed(domain, kind string) {
	c.total.Add(1)
	c.allowed.Add(1)

	c.mu.Lock()
	c.requestKinds[kind]++
	c.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (c *Collector) Snapshot() Snapshot {
	s := Snapshot{
		Process:         c.process,
		TotalRequests:   c.total.Load(),
		BlockedRequests: c.blocked.Load(),
		AllowedRequests: c.allowed.Load(),
		CollectedAt:     time.Now(),
	}

	c.mu.Lock()
	s.DomainsBlocked = make(map[string]uint64, len(c.domainsBlocked))
	for k, v := range c.domainsBlocked {
		s.DomainsBlocked[k] = v
	}
	s.RequestKinds = make(map[string]uint64, len(c.requestKinds))
	for k, v := range c.requestKinds {
		s.RequestKinds[k] = v
	}
	c.mu.Unlock()

	return s
}

// Start launches the periodic snapshot writer. Write failures are logged
// and never interrupt the loop.
func (c *Collector) Start(ctx context.Context, file string, interval time.Duration) {
	c.interval.Store(int64(interval))

	go func() {
		timer := time.NewTimer(interval)
		defer timer.Stop()

		for {
			select {
			case <-timer.C:
				if err := c.WriteFile(file); err != nil {
					c.logger.Warn("stats snapshot write failed",
						zap.String("file", file),
						zap.Error(err),
					)
				}
				timer.Reset(time.Duration(c.interval.Load()))
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			}
		}
	}()

	c.logger.Info("stats collector started",
		zap.String("file", file),
		zap.Duration("interval", interval),
	)
}

// SetInterval adjusts the snapshot period. Takes effect after the
// currently pending tick.
func (c *Collector) SetInterval(interval time.Duration) {
	c.interval.Store(int64(interval))
}

// Stop halts the snapshot writer.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// WriteFile writes the current snapshot as JSON.
func (c *Collector) WriteFile(file string) error {
	data, err := json.MarshalIndent(c.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(file, data, 0o644)
}
