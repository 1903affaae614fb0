// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package agent

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

// writeKmsg drops a single activation marker into the kernel log so
// activation is visible in dmesg even when app logging is unavailable.
// Best effort: unprivileged processes cannot open /dev/kmsg.
func (a *Agent) writeKmsg(path string) {
	if path == "" {
		return
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		a.logger.Debug("kmsg unavailable", zap.String("path", path), zap.Error(err))
		return
	}
	defer f.Close()

	fmt.Fprintf(f, "<6>aubogo: module loaded and initialized successfully\n")
}
