package main

import (
	"errors"
	"fmt"

	"github.com/srg/blehr/internal/device"
	"github.com/srg/blehr/internal/pipeline"
	"github.com/srg/blehr/probe"
)

// Command-level errors
var (
	// ErrServerUnreachable indicates no monitor answered at the given URL.
	ErrServerUnreachable = errors.New("monitor not reachable")
)

// FormatUserError turns an error chain into a one-line message with a hint where one helps.
func FormatUserError(err error) string {
	var (
		scanErr    *device.ScanError
		resolveErr *device.ResolveError
		subErr     *device.SubscriptionError
	)
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return fmt.Sprintf("%v\nHint: turn Bluetooth on and try again", err)
	case errors.Is(err, device.ErrUnsupported):
		return fmt.Sprintf("%v\nHint: this BLE backend is not available on this platform; try --backend go-ble", err)
	case errors.As(err, &scanErr):
		return fmt.Sprintf("%v\nHint: check that a Bluetooth adapter is present and this process may use it", err)
	case errors.As(err, &resolveErr):
		if errors.Is(err, device.ErrTimeout) {
			return fmt.Sprintf("%v\nHint: the device may be out of range or connected to another central", err)
		}
		return err.Error()
	case errors.Is(err, device.ErrServiceNotFound), errors.Is(err, device.ErrCharacteristicNotFound):
		return fmt.Sprintf("%v\nHint: the device does not expose the standard Heart Rate profile", err)
	case errors.As(err, &subErr):
		if subErr.Status == 0x05 || subErr.Status == 0x0f {
			return fmt.Sprintf("%v\nHint: the device requires pairing before notifications can be enabled", err)
		}
		return err.Error()
	case errors.Is(err, probe.ErrNoMeasurement):
		return fmt.Sprintf("%v\nHint: make sure the sensor is worn; most straps only report with skin contact", err)
	case errors.Is(err, ErrServerUnreachable):
		return fmt.Sprintf("%v\nHint: start one with 'blehr monitor' or pass --url", err)
	case errors.Is(err, pipeline.ErrClosed):
		return "monitor is shutting down"
	default:
		return err.Error()
	}
}
