// Package devicefactory selects the BLE backend that backs a device.Radio.
package devicefactory

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/srg/blehr/internal/device"
	goble "github.com/srg/blehr/internal/device/go-ble"
	"github.com/srg/blehr/internal/device/tinygo"
)

// Backend names accepted by NewRadio.
const (
	BackendGoBLE  = "go-ble"
	BackendTinyGo = "tinygo"
)

// Backends lists the supported backend names.
func Backends() []string {
	return []string{BackendGoBLE, BackendTinyGo}
}

// RadioFactory creates the device.Radio for a backend name.
// This is a variable so that it can be overridden in tests.
var RadioFactory = func(backend string, logger *logrus.Logger) (device.Radio, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendGoBLE:
		radio, err := goble.NewRadio(logger)
		if err != nil {
			return nil, err
		}
		return radio, nil
	case BackendTinyGo:
		return tinygo.NewRadio(logger)
	default:
		return nil, fmt.Errorf("unknown BLE backend %q (supported: %s)", backend, strings.Join(Backends(), ", "))
	}
}

// NewRadio creates the radio for backend through RadioFactory.
func NewRadio(backend string, logger *logrus.Logger) (device.Radio, error) {
	return RadioFactory(backend, logger)
}
