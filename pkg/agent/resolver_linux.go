//go:build linux

package agent

import (
	"github.com/aubo-project/aubogo/pkg/host"
	"github.com/aubo-project/aubogo/pkg/symbols"
)

func nativeResolver(library string) (host.SymbolResolver, error) {
	return symbols.Open(library)
}
