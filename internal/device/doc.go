// Package device defines the BLE central abstractions the heart-rate pipeline runs on:
// scanning, GATT links, discovery handles and the error taxonomy shared by all backends.
//
// Backends live in sub-packages (go-ble, tinygo) and translate library types and error
// strings into these interfaces and sentinels.
package device
