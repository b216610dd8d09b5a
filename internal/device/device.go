package device

import (
	"context"
)

// Advertisement is a BLE advertisement as seen by a scanning central.
type Advertisement interface {
	LocalName() string
	ManufacturerData() []byte
	Services() []string
	Connectable() bool

	RSSI() int
	Addr() string
}

// ScanningDevice represents a BLE device capable of scanning for advertisements.
// Scan blocks until ctx is done or the scan fails.
type ScanningDevice interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
}

// Radio is a BLE central adapter: it scans and opens GATT links to peripherals.
type Radio interface {
	ScanningDevice

	// Dial resolves address into a connected GATT link.
	Dial(ctx context.Context, address string) (Link, error)
	// Close releases the adapter.
	Close() error
}

// Service is a discovered GATT service handle.
type Service interface {
	UUID() string
}

// Characteristic is a discovered GATT characteristic handle.
type Characteristic interface {
	UUID() string
}

// Link is a connected GATT client session with one peripheral.
//
// Discovery calls always query the peer; nothing is served from a cache.
type Link interface {
	Address() string

	DiscoverServices(uuid string) ([]Service, error)
	DiscoverCharacteristics(svc Service, uuid string) ([]Characteristic, error)

	// EnableNotifications writes the notify value to the characteristic's CCCD and
	// routes notifications to handler. handler runs on the backend's delivery thread.
	EnableNotifications(char Characteristic, handler func([]byte)) error
	// DisableNotifications clears the CCCD and drops the handler.
	DisableNotifications(char Characteristic) error

	// Disconnect releases the link.
	Disconnect() error
	// Disconnected is closed when the link goes down for any reason.
	Disconnected() <-chan struct{}
}
