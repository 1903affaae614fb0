// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package agent

import (
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/process"
)

// processName identifies the host process for targeting and labeling.
// On Android the name is the app's package name set via prctl, which
// gopsutil reads from /proc; the executable basename is the fallback.
func processName() string {
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if name, err := p.Name(); err == nil && name != "" {
			return name
		}
	}
	if exe, err := os.Executable(); err == nil {
		return filepath.Base(exe)
	}
	return "unknown"
}
