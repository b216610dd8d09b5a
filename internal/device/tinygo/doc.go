// Package tinygo implements device.Radio on top of tinygo.org/x/bluetooth.
//
// On Linux it drives BlueZ over D-Bus. Other platforms use the go-ble backend;
// NewRadio returns device.ErrUnsupported there.
package tinygo
