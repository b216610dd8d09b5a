package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blehr/internal/device"
)

// Radio adapts a go-ble ble.Device to device.Radio.
type Radio struct {
	dev    ble.Device
	logger *logrus.Logger
}

// NewRadio initialises the platform BLE device through DeviceFactory.
func NewRadio(logger *logrus.Logger) (*Radio, error) {
	if logger == nil {
		logger = logrus.New()
	}
	dev, err := DeviceFactory()
	if err != nil {
		logger.WithField("error", err).Error("Failed to create BLE device")
		return nil, NormalizeError(err)
	}
	return &Radio{dev: dev, logger: logger}, nil
}

// Scan wraps the raw ble.Device.Scan to convert ble.Advertisement to the device.Advertisement.
// Returns nil when ctx ends the scan.
func (r *Radio) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	bleHandler := func(adv ble.Advertisement) {
		handler(NewBLEAdvertisement(adv))
	}
	err := r.dev.Scan(ctx, allowDup, bleHandler)
	if err != nil && ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return nil
	}
	if err != nil {
		return NormalizeError(err)
	}
	return nil
}

// Dial connects to address and returns the GATT link.
func (r *Radio) Dial(ctx context.Context, address string) (device.Link, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}

	r.logger.WithField("address", address).Debug("Dialing BLE device...")
	client, err := r.dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Debug("Failed to dial BLE device")
		return nil, NormalizeError(err)
	}
	return newLink(client, r.logger), nil
}

// Close stops the underlying device.
func (r *Radio) Close() error {
	return NormalizeError(r.dev.Stop())
}
