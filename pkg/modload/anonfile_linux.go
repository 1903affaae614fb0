//go:build linux

package modload

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const (
	ashmemDevice = "/dev/ashmem"

	// ASHMEM_SET_SIZE: _IOW(0x77, 3, size_t) on 64-bit.
	ashmemSetSize = 0x40087703
)

// newAnonFile returns a writable anonymous memory-backed file of the
// given size. memfd_create is preferred; on older Android kernels that
// lack it the legacy ashmem device is used instead.
func newAnonFile(size int64) (*os.File, error) {
	fd, err := unix.MemfdCreate("aubogo-module", unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err == nil {
		f := os.NewFile(uintptr(fd), "memfd:aubogo-module")
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("size memfd: %w", err)
		}
		return f, nil
	}

	return openAshmem(size)
}

func openAshmem(size int64) (*os.File, error) {
	f, err := os.OpenFile(ashmemDevice, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("no anonymous memory mechanism: %w", err)
	}
	if err := unix.IoctlSetInt(int(f.Fd()), ashmemSetSize, int(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("set ashmem size: %w", err)
	}
	return f, nil
}
