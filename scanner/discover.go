package scanner

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/blehr/internal/device"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// ScanOptions configures a one-shot scan
type ScanOptions struct {
	Duration  time.Duration
	AllowList []string
	BlockList []string
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration: 10 * time.Second,
	}
}

// DeviceEntry is a heart-rate device collected by a one-shot scan.
type DeviceEntry struct {
	Address   string    `json:"address"`
	Name      string    `json:"name"`
	RSSI      int       `json:"rssi"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Seen      int       `json:"seen"`
}

// Scan collects heart-rate devices for opts.Duration or until ctx is done.
// It must not run concurrently with Start on the same scanner.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) (map[string]DeviceEntry, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}

	devices := hashmap.New[string, DeviceEntry]()

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")
	progressCallback("Scanning")

	scanCtx := ctx
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	err := s.dev.Scan(scanCtx, true, func(adv device.Advertisement) {
		s.handleAdvertisement(adv, func(sighting Sighting) {
			if !shouldIncludeDevice(sighting.Address, opts) {
				return
			}
			entry, ok := devices.Get(sighting.Address)
			if !ok {
				entry = DeviceEntry{Address: sighting.Address, FirstSeen: sighting.SeenAt}
				s.logger.WithFields(logrus.Fields{
					"device":  sighting.Name,
					"address": sighting.Address,
					"rssi":    sighting.RSSI,
				}).Info("Discovered new device")
			}
			if sighting.Name != "" {
				entry.Name = sighting.Name
			}
			entry.RSSI = sighting.RSSI
			entry.LastSeen = sighting.SeenAt
			entry.Seen++
			devices.Set(sighting.Address, entry)
		})
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, &device.ScanError{Op: "scan", Err: err}
	}

	s.logger.WithField("device_count", devices.Len()).Info("BLE scan completed")
	progressCallback("Processing results")

	result := make(map[string]DeviceEntry, devices.Len())
	devices.Range(func(key string, value DeviceEntry) bool {
		result[key] = value
		return true
	})
	return result, nil
}

// shouldIncludeDevice applies the allow and block lists
func shouldIncludeDevice(addr string, opts *ScanOptions) bool {
	for _, blocked := range opts.BlockList {
		if equalAddress(addr, blocked) {
			return false
		}
	}

	if len(opts.AllowList) > 0 {
		for _, a := range opts.AllowList {
			if equalAddress(addr, a) {
				return true
			}
		}
		return false
	}
	return true
}

func equalAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
