//go:build linux

package symbols

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleMaps = `5606f0a00000-5606f0a1c000 r--p 00000000 fd:01 123 /usr/bin/sample
5606f0a1c000-5606f0b00000 r-xp 0001c000 fd:01 123 /usr/bin/sample
7f31a2000000-7f31a2028000 r--p 00000000 fd:01 456 /usr/lib/libc.so.6
7f31a2028000-7f31a21bd000 r-xp 00028000 fd:01 456 /usr/lib/libc.so.6
7f31a2400000-7f31a2401000 r-xp 00000000 00:00 0 [vdso]
7ffd12300000-7ffd12321000 rw-p 00000000 00:00 0 [stack]
`

func TestParseMapsLine(t *testing.T) {
	start, file, ok := parseMapsLine("7f31a2000000-7f31a2028000 r--p 00000000 fd:01 456 /usr/lib/libc.so.6")
	if !ok {
		t.Fatal("expected line to parse")
	}
	if start != 0x7f31a2000000 {
		t.Errorf("expected start 0x7f31a2000000, got 0x%x", start)
	}
	if file != "/usr/lib/libc.so.6" {
		t.Errorf("expected libc path, got %q", file)
	}
}

func TestParseMapsLineAnonymous(t *testing.T) {
	if _, _, ok := parseMapsLine("7ffd12300000-7ffd12321000 rw-p 00000000 00:00 0"); ok {
		t.Error("anonymous mapping should not parse")
	}
	if _, _, ok := parseMapsLine("7f31a2400000-7f31a2401000 r-xp 00000000 00:00 0 [vdso]"); ok {
		t.Error("pseudo-file mapping should not parse")
	}
}

func TestFindMappingLowestBase(t *testing.T) {
	path, base, err := findMapping("libc.so", strings.NewReader(sampleMaps))
	if err != nil {
		t.Fatalf("findMapping failed: %v", err)
	}
	if path != "/usr/lib/libc.so.6" {
		t.Errorf("expected /usr/lib/libc.so.6, got %q", path)
	}
	if base != 0x7f31a2000000 {
		t.Errorf("expected lowest mapping base, got 0x%x", base)
	}
}

func TestFindMappingNotFound(t *testing.T) {
	_, _, err := findMapping("libnotloaded.so", strings.NewReader(sampleMaps))
	if !errors.Is(err, ErrLibraryNotFound) {
		t.Errorf("expected ErrLibraryNotFound, got %v", err)
	}
}

func TestMatchesLibrary(t *testing.T) {
	cases := []struct {
		file    string
		library string
		want    bool
	}{
		{"/usr/lib/libc.so.6", "libc.so", true},
		{"/usr/lib/libc.so.6", "libc.so.6", true},
		{"/apex/com.android.runtime/lib64/bionic/libc.so", "libc.so", true},
		{"/usr/lib/libcrypto.so.3", "libc.so", false},
		{"/usr/bin/sample", "sample", true},
		{"/data/adb/modules/aubo_rs/lib/libaubo_rs.so", "lib/libaubo_rs.so", true},
	}
	for _, tc := range cases {
		if got := matchesLibrary(tc.file, tc.library); got != tc.want {
			t.Errorf("matchesLibrary(%q, %q) = %v, want %v", tc.file, tc.library, got, tc.want)
		}
	}
}

func TestOpenSelfExecutable(t *testing.T) {
	exe, err := os.Executable()
	if err != nil {
		t.Skipf("cannot determine test executable: %v", err)
	}

	r, err := Open(filepath.Base(exe))
	if err != nil {
		t.Fatalf("open resolver for test binary: %v", err)
	}
	defer r.Close()

	ref, err := r.Lookup("runtime.main")
	if err != nil {
		t.Fatalf("lookup runtime.main: %v", err)
	}
	if ref.Addr == 0 {
		t.Error("expected non-zero address for runtime.main")
	}
}

func TestLookupMissingSymbol(t *testing.T) {
	exe, err := os.Executable()
	if err != nil {
		t.Skipf("cannot determine test executable: %v", err)
	}

	r, err := Open(filepath.Base(exe))
	if err != nil {
		t.Fatalf("open resolver for test binary: %v", err)
	}
	defer r.Close()

	if _, err := r.Lookup("definitely_not_a_symbol"); !errors.Is(err, ErrSymbolNotFound) {
		t.Errorf("expected ErrSymbolNotFound, got %v", err)
	}
}

func TestLookupAfterClose(t *testing.T) {
	r := &Resolver{library: "libc.so"}
	if _, err := r.Lookup("connect"); !errors.Is(err, ErrSymbolNotFound) {
		t.Errorf("expected ErrSymbolNotFound on closed resolver, got %v", err)
	}
}
