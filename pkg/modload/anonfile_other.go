//go:build !linux

package modload

import (
	"errors"
	"os"
)

func newAnonFile(size int64) (*os.File, error) {
	return nil, errors.New("anonymous memory descriptors require linux")
}
