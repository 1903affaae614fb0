//go:build linux

// Package symbols resolves exported function symbols of libraries
// already mapped into the current process, using /proc/self/maps for
// load addresses and the on-disk ELF for symbol tables. It backs the
// hook installer when the host does not supply its own resolver.
package symbols

import (
	"bufio"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aubo-project/aubogo/pkg/host"
)

var (
	// ErrLibraryNotFound means no mapping in this process matches the library.
	ErrLibraryNotFound = errors.New("library not mapped in this process")

	// ErrSymbolNotFound means the library defines no function with that name.
	ErrSymbolNotFound = errors.New("symbol not found")
)

// Resolver resolves symbols of a single mapped library. The ELF is
// parsed once at Open; lookups afterwards are map hits.
type Resolver struct {
	library string
	symbols map[string]host.SymbolRef
}

var _ host.SymbolResolver = (*Resolver)(nil)

// Open locates the library among this process's mappings and parses its
// symbol tables. The library is matched by basename, or by suffix when
// the name includes a path separator.
func Open(library string) (*Resolver, error) {
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return nil, fmt.Errorf("open maps: %w", err)
	}
	defer f.Close()

	return open(library, f)
}

func open(library string, maps io.Reader) (*Resolver, error) {
	path, base, err := findMapping(library, maps)
	if err != nil {
		return nil, err
	}

	syms, err := loadSymbols(path, base)
	if err != nil {
		return nil, err
	}

	return &Resolver{library: library, symbols: syms}, nil
}

// Lookup returns the in-process location of an exported function.
func (r *Resolver) Lookup(name string) (host.SymbolRef, error) {
	if r.symbols == nil {
		return host.SymbolRef{}, fmt.Errorf("%w: resolver closed", ErrSymbolNotFound)
	}
	ref, ok := r.symbols[name]
	if !ok {
		return host.SymbolRef{}, fmt.Errorf("%w: %s in %s", ErrSymbolNotFound, name, r.library)
	}
	return ref, nil
}

// Close releases the parsed symbol table.
func (r *Resolver) Close() error {
	r.symbols = nil
	return nil
}

// findMapping scans maps output for the first executable mapping whose
// file matches the library, returning the file path and the lowest start
// address seen for that file.
func findMapping(library string, maps io.Reader) (path string, base uint64, err error) {
	scanner := bufio.NewScanner(maps)
	found := false

	for scanner.Scan() {
		start, file, ok := parseMapsLine(scanner.Text())
		if !ok || !matchesLibrary(file, library) {
			continue
		}
		if !found || start < base {
			base = start
			path = file
			found = true
		}
	}
	if err := scanner.Err(); err != nil {
		return "", 0, fmt.Errorf("scan maps: %w", err)
	}
	if !found {
		return "", 0, fmt.Errorf("%w: %s", ErrLibraryNotFound, library)
	}
	return path, base, nil
}

// parseMapsLine extracts the start address and pathname from one
// /proc/self/maps line. Format: start-end perms offset dev inode pathname.
func parseMapsLine(line string) (start uint64, file string, ok bool) {
	fields := strings.Fields(line)
	if len(fields) < 6 {
		return 0, "", false
	}

	addrs := strings.SplitN(fields[0], "-", 2)
	if len(addrs) != 2 {
		return 0, "", false
	}
	start, err := strconv.ParseUint(addrs[0], 16, 64)
	if err != nil {
		return 0, "", false
	}

	file = fields[5]
	if !strings.HasPrefix(file, "/") {
		// [vdso], [heap] and friends carry no symbols we can use.
		return 0, "", false
	}
	return start, file, true
}

func matchesLibrary(file, library string) bool {
	if strings.ContainsRune(library, '/') {
		return file == library || strings.HasSuffix(file, "/"+strings.TrimPrefix(library, "/"))
	}
	base := filepath.Base(file)
	// "libc.so" should also match versioned names like libc.so.6.
	return base == library || strings.HasPrefix(base, library+".")
}

// loadSymbols parses .symtab and .dynsym and rebases function symbols to
// their runtime addresses. The load bias is the mapping base minus the
// lowest PT_LOAD vaddr; for non-PIE binaries that works out to zero.
func loadSymbols(path string, base uint64) (map[string]host.SymbolRef, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open elf %s: %w", path, err)
	}
	defer f.Close()

	bias := base - lowestLoadVaddr(f)

	out := make(map[string]host.SymbolRef)
	collect := func(syms []elf.Symbol) {
		for _, s := range syms {
			if s.Value == 0 || s.Name == "" || elf.ST_TYPE(s.Info) != elf.STT_FUNC {
				continue
			}
			if _, exists := out[s.Name]; exists {
				continue
			}
			out[s.Name] = host.SymbolRef{
				Addr: host.Address(bias + s.Value),
				Size: s.Size,
			}
		}
	}

	if syms, err := f.Symbols(); err == nil {
		collect(syms)
	}
	if syms, err := f.DynamicSymbols(); err == nil {
		collect(syms)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s has no function symbols", ErrLibraryNotFound, path)
	}
	return out, nil
}

func lowestLoadVaddr(f *elf.File) uint64 {
	var lowest uint64
	found := false
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if !found || p.Vaddr < lowest {
			lowest = p.Vaddr
			found = true
		}
	}
	if !found {
		return 0
	}
	return lowest
}
