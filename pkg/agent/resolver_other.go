//go:build !linux

package agent

import (
	"fmt"

	"github.com/aubo-project/aubogo/pkg/host"
)

func nativeResolver(library string) (host.SymbolResolver, error) {
	return nil, fmt.Errorf("native symbol resolution requires linux: %w", host.ErrCapabilityMissing)
}
