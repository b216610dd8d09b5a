//go:build linux

package tinygo

import (
	"encoding/binary"
	"strings"

	"tinygo.org/x/bluetooth"

	"github.com/srg/blehr/internal/device"
)

// watchedServices are the service UUIDs reported by Services(); BlueZ scan
// results only answer membership queries.
var watchedServices = []string{device.HeartRateServiceUUID}

type advertisement struct {
	addr   string
	result bluetooth.ScanResult
}

func newAdvertisement(addr string, result bluetooth.ScanResult) device.Advertisement {
	return &advertisement{addr: addr, result: result}
}

func (a *advertisement) LocalName() string { return a.result.LocalName() }
func (a *advertisement) RSSI() int         { return int(a.result.RSSI) }
func (a *advertisement) Addr() string      { return a.addr }

// Connectable is always true: BlueZ only surfaces devices it can connect to.
func (a *advertisement) Connectable() bool { return true }

// ManufacturerData re-encodes the first element as company ID (little-endian) followed by data.
func (a *advertisement) ManufacturerData() []byte {
	elems := a.result.ManufacturerData()
	if len(elems) == 0 {
		return nil
	}
	out := make([]byte, 2, 2+len(elems[0].Data))
	binary.LittleEndian.PutUint16(out, elems[0].CompanyID)
	return append(out, elems[0].Data...)
}

func (a *advertisement) Services() []string {
	var out []string
	for _, svc := range watchedServices {
		u, err := parseUUID(svc)
		if err != nil {
			continue
		}
		if a.result.HasServiceUUID(u) {
			out = append(out, svc)
		}
	}
	return out
}

func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
