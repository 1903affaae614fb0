// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package agent orchestrates the interception lifecycle inside a host
// process: load the decision module, bind and initialize the oracle,
// install hooks, then keep counters and exporters running. Every stage
// fails open; a failure stops progression but never the host process.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aubo-project/aubogo/pkg/companion"
	"github.com/aubo-project/aubogo/pkg/config"
	"github.com/aubo-project/aubogo/pkg/export"
	"github.com/aubo-project/aubogo/pkg/hooks"
	"github.com/aubo-project/aubogo/pkg/host"
	"github.com/aubo-project/aubogo/pkg/modload"
	"github.com/aubo-project/aubogo/pkg/oracle"
	"github.com/aubo-project/aubogo/pkg/stats"
	"go.uber.org/zap"
)

// Stage identifies how far the lifecycle has progressed. Stages only
// ever advance; a failed stage freezes the agent where it stands.
type Stage int32

const (
	StageUnloaded Stage = iota
	StageModuleLoaded
	StageOracleReady
	StageHooksInstalled
	StageActive
)

func (s Stage) String() string {
	switch s {
	case StageUnloaded:
		return "unloaded"
	case StageModuleLoaded:
		return "module_loaded"
	case StageOracleReady:
		return "oracle_ready"
	case StageHooksInstalled:
		return "hooks_installed"
	case StageActive:
		return "active"
	default:
		return "unknown"
	}
}

// Agent drives one process's interception lifecycle.
type Agent struct {
	cfg    atomic.Pointer[config.Config]
	logger *zap.Logger
	api    *host.API

	stage    atomic.Int32
	attached atomic.Bool

	mu        sync.Mutex
	failure   error
	module    *modload.Handle
	oracle    *oracle.Oracle
	handlers  *hooks.Handlers
	installer *hooks.Installer
	records   []*hooks.Record
	stats     *stats.Collector
	exporter  *export.OTLPExporter
	companion *companion.Handler
	cancel    context.CancelFunc
	startTime time.Time
}

// New creates an agent over the host capability table. Nothing runs
// until Attach.
func New(api *host.API, cfg *config.Config, logger *zap.Logger) *Agent {
	a := &Agent{logger: logger, api: api}
	a.cfg.Store(cfg)
	return a
}

// Stage returns the current lifecycle stage.
func (a *Agent) Stage() Stage { return Stage(a.stage.Load()) }

// Failure returns the error that halted the lifecycle, if any.
func (a *Agent) Failure() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failure
}

// Attach runs the lifecycle once. The returned error reports why the
// lifecycle halted; callers log it and carry on — the host process must
// keep running with whatever degree of interception was reached.
func (a *Agent) Attach(ctx context.Context) error {
	if !a.attached.CompareAndSwap(false, true) {
		return errors.New("attach runs once per process")
	}

	cfg := a.cfg.Load()
	process := processName()
	a.startTime = time.Now()

	if !shouldAttach(&cfg.Hooks, process) {
		a.logger.Info("process not targeted, staying dormant", zap.String("process", process))
		return nil
	}

	a.stats = stats.NewCollector(process, a.logger)

	handle, err := modload.Load(a.api, cfg.Module.SearchPaths, a.logger)
	if err != nil {
		return a.halt(fmt.Errorf("load decision module: %w", err))
	}
	a.module = handle
	a.stage.Store(int32(StageModuleLoaded))

	orc, err := oracle.Bind(handle, a.logger)
	if err != nil {
		return a.halt(fmt.Errorf("bind oracle: %w", err))
	}
	if err := orc.Initialize(cfg.Module.ConfigPath); err != nil {
		return a.halt(fmt.Errorf("initialize oracle: %w", err))
	}
	a.oracle = orc
	a.stage.Store(int32(StageOracleReady))

	a.handlers = hooks.NewHandlers(orc, a.stats, process, a.logger)
	a.handlers.SetEnabled(cfg.Hooks.Enabled)
	a.handlers.SetEnforceConnect(cfg.Hooks.EnforceConnect)
	a.installer = hooks.NewInstaller(a.api, a.logger)

	installed := a.installHooks(cfg)
	a.stage.Store(int32(StageHooksInstalled))

	a.stage.Store(int32(StageActive))
	a.startBackground(ctx, cfg, process)
	a.writeKmsg(cfg.Diagnostics.KmsgPath)

	a.logger.Info("interception active",
		zap.String("process", process),
		zap.Int("hooks_installed", installed),
		zap.String("module", handle.Source()),
	)
	return nil
}

// installHooks installs each enabled hook independently; one symbol's
// failure never prevents the others.
func (a *Agent) installHooks(cfg *config.Config) int {
	resolver, err := a.openResolver(cfg.Hooks.Library)
	if err != nil {
		a.logger.Error("symbol resolver unavailable, no hooks installed",
			zap.String("library", cfg.Hooks.Library),
			zap.Error(err),
		)
		return 0
	}
	defer resolver.Close()

	installed := 0
	for _, fn := range cfg.Hooks.EnabledFunctions() {
		build := a.replacementBuilder(fn.Name)
		if build == nil {
			a.logger.Warn("no handler for configured hook", zap.String("symbol", fn.Name))
			continue
		}

		ref, err := resolver.Lookup(fn.Name)
		if err != nil {
			a.logger.Error("symbol not found",
				zap.String("symbol", fn.Name),
				zap.String("library", cfg.Hooks.Library),
				zap.Error(err),
			)
			continue
		}

		rec, err := a.installer.Install(fn.Name, ref, build)
		if err != nil {
			a.logger.Error("hook install failed", zap.String("symbol", fn.Name), zap.Error(err))
			continue
		}

		a.mu.Lock()
		a.records = append(a.records, rec)
		a.mu.Unlock()
		installed++
	}
	return installed
}

// openResolver prefers the host's resolver capability and falls back to
// the built-in /proc-based one.
func (a *Agent) openResolver(library string) (host.SymbolResolver, error) {
	if a.api != nil && a.api.OpenResolver != nil {
		return a.api.OpenResolver(library)
	}
	return nativeResolver(library)
}

func (a *Agent) replacementBuilder(symbol string) func(*hooks.Record) any {
	switch symbol {
	case "gethostbyname":
		return func(rec *hooks.Record) any { return a.handlers.HostByName(rec) }
	case "getaddrinfo":
		return func(rec *hooks.Record) any { return a.handlers.AddrInfo(rec) }
	case "connect":
		return func(rec *hooks.Record) any { return a.handlers.Connect(rec) }
	default:
		return nil
	}
}

func (a *Agent) startBackground(ctx context.Context, cfg *config.Config, process string) {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if cfg.Stats.Enabled {
		a.stats.Start(ctx, cfg.Stats.File, cfg.Stats.Interval)
	}

	if cfg.Export.OTLP.Enabled {
		exporter, err := export.NewOTLPExporter(&cfg.Export.OTLP, "aubogo", a.logger)
		if err != nil {
			a.logger.Warn("OTLP exporter unavailable", zap.Error(err))
		} else {
			a.exporter = exporter
			go a.exportLoop(ctx, cfg.Stats.Interval)
		}
	}

	a.mu.Lock()
	a.companion = companion.NewHandler(a.stats, a.logger)
	a.mu.Unlock()
}

// exportLoop pushes counter snapshots until the context ends.
func (a *Agent) exportLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics := counterMetrics(a.stats.Snapshot(), a.startTime)
			exportCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := a.exporter.ExportMetrics(exportCtx, metrics); err != nil {
				a.logger.Warn("metrics export failed", zap.Error(err))
			}
			cancel()
		case <-ctx.Done():
			return
		}
	}
}

// counterMetrics renders a stats snapshot as cumulative OTLP counters.
func counterMetrics(s stats.Snapshot, start time.Time) []*export.Metric {
	labels := map[string]string{"process": s.Process}
	mk := func(name, desc string, v uint64) *export.Metric {
		return &export.Metric{
			Name:        name,
			Description: desc,
			Unit:        "{request}",
			Value:       float64(v),
			Labels:      labels,
			StartTime:   start,
			Timestamp:   s.CollectedAt,
		}
	}
	return []*export.Metric{
		mk("aubo.requests.total", "Intercepted requests", s.TotalRequests),
		mk("aubo.requests.blocked", "Blocked requests", s.BlockedRequests),
		mk("aubo.requests.allowed", "Allowed requests", s.AllowedRequests),
	}
}

// HandleCompanion serves one companion connection. Safe to call at any
// stage; before activation the descriptor is just closed.
func (a *Agent) HandleCompanion(fd int) {
	a.mu.Lock()
	h := a.companion
	a.mu.Unlock()

	if h == nil {
		h = companion.NewHandler(stats.NewCollector(processName(), a.logger), a.logger)
	}
	h.HandleConnection(fd)
}

// Reload applies a changed configuration to the running agent. Only
// runtime-adjustable settings take effect: the hook gate, connect
// enforcement, and the stats interval. Structural settings (module
// paths, hooked symbols) keep their attach-time values.
func (a *Agent) Reload(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg.Store(cfg)

	if a.handlers != nil {
		a.handlers.SetEnabled(cfg.Hooks.Enabled)
		a.handlers.SetEnforceConnect(cfg.Hooks.EnforceConnect)
	}
	if a.stats != nil {
		a.stats.SetInterval(cfg.Stats.Interval)
	}

	a.logger.Info("configuration applied",
		zap.Bool("hooks_enabled", cfg.Hooks.Enabled),
		zap.Bool("enforce_connect", cfg.Hooks.EnforceConnect),
	)
	return nil
}

// Detach tears down in reverse order: hooks out first so no new queries
// race the oracle shutdown, then the oracle, then the module.
func (a *Agent) Detach() error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.stats != nil {
		a.stats.Stop()
		if err := companion.Push(a.api, a.stats.Snapshot()); err != nil {
			a.logger.Debug("final stats handoff skipped", zap.Error(err))
		}
	}

	a.mu.Lock()
	records := a.records
	a.records = nil
	a.mu.Unlock()

	for _, rec := range records {
		if err := a.installer.Uninstall(rec); err != nil {
			a.logger.Warn("hook removal failed", zap.String("symbol", rec.Symbol), zap.Error(err))
		}
	}

	if a.oracle != nil {
		if err := a.oracle.Shutdown(); err != nil {
			a.logger.Warn("oracle shutdown failed", zap.Error(err))
		}
	}

	if a.exporter != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		a.exporter.Shutdown(shutdownCtx)
		cancel()
	}

	if a.module != nil {
		if err := a.module.Close(); err != nil {
			a.logger.Warn("module close failed", zap.Error(err))
		}
	}

	a.logger.Info("detached")
	return nil
}

// halt records the failure and logs it. The lifecycle freezes at its
// current stage; the caller's process continues unhindered.
func (a *Agent) halt(err error) error {
	a.mu.Lock()
	a.failure = err
	a.mu.Unlock()

	a.logger.Error("lifecycle halted",
		zap.Stringer("stage", a.Stage()),
		zap.Error(err),
	)
	return err
}

// shouldAttach applies the process allow/deny lists. Excludes win over
// targets; an empty target list means every process.
func shouldAttach(cfg *config.HooksConfig, process string) bool {
	for _, name := range cfg.ExcludeProcesses {
		if name == process {
			return false
		}
	}
	if len(cfg.TargetProcesses) == 0 {
		return true
	}
	for _, name := range cfg.TargetProcesses {
		if name == process {
			return true
		}
	}
	return false
}
