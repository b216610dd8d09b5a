//go:build !linux

package tinygo

import (
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/srg/blehr/internal/device"
)

// NewRadio reports that the tinygo backend is not built for this platform.
func NewRadio(_ *logrus.Logger) (device.Radio, error) {
	return nil, fmt.Errorf("%w: tinygo backend is not available on %s", device.ErrUnsupported, runtime.GOOS)
}
