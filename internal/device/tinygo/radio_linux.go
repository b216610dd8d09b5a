//go:build linux

package tinygo

import (
	"context"
	"errors"
	"fmt"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/srg/blehr/internal/device"
	"github.com/srg/blehr/internal/groutine"
)

// ErrUnknownAddress is returned by Dial for an address no scan has reported yet.
// BlueZ only connects to devices it has cached from discovery.
var ErrUnknownAddress = errors.New("address not seen in scan")

// AdapterFactory returns the adapter to drive (can be overridden in tests).
var AdapterFactory = func() *bluetooth.Adapter { return bluetooth.DefaultAdapter }

// Radio adapts a tinygo bluetooth.Adapter to device.Radio.
type Radio struct {
	adapter *bluetooth.Adapter
	logger  *logrus.Logger

	seen  *hashmap.Map[string, bluetooth.Address]
	links *hashmap.Map[string, *link]
}

// NewRadio enables the default adapter.
func NewRadio(logger *logrus.Logger) (device.Radio, error) {
	if logger == nil {
		logger = logrus.New()
	}
	r := &Radio{
		adapter: AdapterFactory(),
		logger:  logger,
		seen:    hashmap.New[string, bluetooth.Address](),
		links:   hashmap.New[string, *link](),
	}
	r.adapter.SetConnectHandler(r.onConnectionEvent)

	if err := r.adapter.Enable(); err != nil {
		logger.WithField("error", err).Error("Failed to enable BLE adapter")
		return nil, device.NormalizeError(err)
	}
	return r, nil
}

// Scan runs until ctx is done. Returns nil when ctx ends the scan.
func (r *Radio) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	if ctx.Err() != nil {
		return nil
	}
	done := make(chan struct{})
	defer close(done)

	groutine.Go(ctx, "tinygo-scan-stopper", func(ctx context.Context) {
		stopScanWhenDone(ctx, done, r.adapter.StopScan, r.logger)
	})

	// BlueZ reports property changes rather than raw packets, so duplicates are
	// inherent; allowDup=false is approximated by reporting each address once.
	reported := make(map[string]struct{})
	err := r.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		addr := normalizeAddress(result.Address.String())
		r.seen.Set(addr, result.Address)
		if !allowDup {
			if _, ok := reported[addr]; ok {
				return
			}
			reported[addr] = struct{}{}
		}
		handler(newAdvertisement(addr, result))
	})
	if ctx.Err() != nil {
		return nil
	}
	return device.NormalizeError(err)
}

// Dial connects to an address previously reported by Scan.
func (r *Radio) Dial(ctx context.Context, address string) (device.Link, error) {
	key := normalizeAddress(address)
	addr, ok := r.seen.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAddress, address)
	}

	type result struct {
		dev bluetooth.Device
		err error
	}
	ch := make(chan result, 1)
	groutine.Go(context.Background(), "tinygo-connect", func(context.Context) {
		dev, err := r.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- result{dev: dev, err: err}
	})

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, device.NormalizeError(res.err)
		}
		l := newLink(key, res.dev, r.logger)
		r.links.Set(key, l)
		return l, nil
	case <-ctx.Done():
		// The connect call cannot be interrupted; release the device if it lands late.
		go func() {
			if res := <-ch; res.err == nil {
				_ = res.dev.Disconnect()
			}
		}()
		return nil, device.NormalizeError(ctx.Err())
	}
}

// Close stops any scan in progress. The BlueZ adapter itself stays powered.
func (r *Radio) Close() error {
	_ = r.adapter.StopScan()
	r.links.Range(func(key string, l *link) bool {
		l.markDisconnected()
		return true
	})
	return nil
}

func (r *Radio) onConnectionEvent(dev bluetooth.Device, connected bool) {
	if connected {
		return
	}
	key := normalizeAddress(dev.Address.String())
	if l, ok := r.links.Get(key); ok {
		r.logger.WithField("address", key).Debug("BlueZ reported disconnection")
		l.markDisconnected()
		r.links.Del(key)
	}
}
