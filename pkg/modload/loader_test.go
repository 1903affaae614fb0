//go:build linux

package modload

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aubo-project/aubogo/pkg/host"
	"go.uber.org/zap"
)

type fakeModule struct {
	path   string
	closed bool
}

func (m *fakeModule) Lookup(symbol string) (any, error) {
	return nil, fmt.Errorf("no symbol %s", symbol)
}

func (m *fakeModule) Close() error {
	m.closed = true
	return nil
}

func writeCandidate(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "module.so")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingCapability(t *testing.T) {
	_, err := Load(&host.API{}, []string{"/tmp/x.so"}, zap.NewNop())
	if !errors.Is(err, host.ErrCapabilityMissing) {
		t.Errorf("expected ErrCapabilityMissing, got %v", err)
	}
}

func TestLoadNoReadableCandidate(t *testing.T) {
	api := &host.API{
		LoadModule: func(path string) (host.Module, error) {
			t.Errorf("LoadModule called for unreadable candidate %s", path)
			return nil, errors.New("unreachable")
		},
	}

	_, err := Load(api, []string{"/nonexistent/libaubo_rs.so"}, zap.NewNop())
	if !errors.Is(err, ErrModuleNotFound) {
		t.Errorf("expected ErrModuleNotFound, got %v", err)
	}
}

func TestLoadMemoryBackedStagesExactBytes(t *testing.T) {
	content := bytes.Repeat([]byte("aubo"), 4096)
	path := writeCandidate(t, content)

	var loadedFrom string
	var staged []byte
	api := &host.API{
		LoadModule: func(p string) (host.Module, error) {
			loadedFrom = p
			data, err := os.ReadFile(p)
			if err != nil {
				return nil, err
			}
			staged = data
			return &fakeModule{path: p}, nil
		},
	}

	h, err := Load(api, []string{path}, zap.NewNop())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	defer h.Close()

	if !h.MemoryBacked() {
		t.Error("expected memory-backed load")
	}
	if h.Source() != path {
		t.Errorf("expected source %s, got %s", path, h.Source())
	}
	if !strings.HasPrefix(loadedFrom, "/proc/self/fd/") {
		t.Errorf("expected load via /proc/self/fd alias, got %s", loadedFrom)
	}
	if !bytes.Equal(staged, content) {
		t.Errorf("staged image differs: %d bytes vs %d source bytes", len(staged), len(content))
	}
}

func TestLoadFallsBackToDirect(t *testing.T) {
	path := writeCandidate(t, []byte("module"))

	api := &host.API{
		LoadModule: func(p string) (host.Module, error) {
			if strings.HasPrefix(p, "/proc/self/fd/") {
				return nil, errors.New("descriptor loading unsupported")
			}
			return &fakeModule{path: p}, nil
		},
	}

	h, err := Load(api, []string{path}, zap.NewNop())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	defer h.Close()

	if h.MemoryBacked() {
		t.Error("expected direct load after descriptor strategy failed")
	}
	if h.Source() != path {
		t.Errorf("expected source %s, got %s", path, h.Source())
	}
}

func TestLoadSkipsFailingCandidate(t *testing.T) {
	bad := writeCandidate(t, []byte("broken"))
	good := writeCandidate(t, []byte("module"))

	api := &host.API{
		LoadModule: func(p string) (host.Module, error) {
			data, err := os.ReadFile(p)
			if err != nil {
				return nil, err
			}
			if string(data) == "broken" {
				return nil, errors.New("relocation failure")
			}
			return &fakeModule{path: p}, nil
		},
	}

	h, err := Load(api, []string{bad, good}, zap.NewNop())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	defer h.Close()

	if h.Source() != good {
		t.Errorf("expected fallback to %s, got %s", good, h.Source())
	}
}

func TestLoadAllCandidatesFail(t *testing.T) {
	path := writeCandidate(t, []byte("module"))
	api := &host.API{
		LoadModule: func(p string) (host.Module, error) {
			return nil, errors.New("linker rejected image")
		},
	}

	if _, err := Load(api, []string{path}, zap.NewNop()); !errors.Is(err, ErrModuleNotFound) {
		t.Errorf("expected ErrModuleNotFound, got %v", err)
	}
}

func TestCopyModuleShortCopy(t *testing.T) {
	var dst bytes.Buffer
	err := copyModule(&dst, strings.NewReader("abc"), 10)
	if !errors.Is(err, ErrCopyIncomplete) {
		t.Errorf("expected ErrCopyIncomplete, got %v", err)
	}
}

func TestCopyModuleExact(t *testing.T) {
	var dst bytes.Buffer
	if err := copyModule(&dst, strings.NewReader("abcde"), 5); err != nil {
		t.Errorf("expected clean copy, got %v", err)
	}
	if dst.String() != "abcde" {
		t.Errorf("expected abcde, got %q", dst.String())
	}
}

func TestHandleCloseClosesModule(t *testing.T) {
	path := writeCandidate(t, []byte("module"))
	mod := &fakeModule{}
	api := &host.API{
		LoadModule: func(p string) (host.Module, error) { return mod, nil },
	}

	h, err := Load(api, []string{path}, zap.NewNop())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if !mod.closed {
		t.Error("expected underlying module closed")
	}
}
