//go:build linux

package tinygo

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/srg/blehr/internal/device"
)

type service struct{ svc bluetooth.DeviceService }

func (s *service) UUID() string { return device.NormalizeUUID(s.svc.UUID().String()) }

type characteristic struct{ char bluetooth.DeviceCharacteristic }

func (c *characteristic) UUID() string { return device.NormalizeUUID(c.char.UUID().String()) }

// link adapts a connected bluetooth.Device to device.Link.
type link struct {
	address string
	dev     bluetooth.Device
	logger  *logrus.Logger

	disconnected chan struct{}
	closeOnce    sync.Once
}

func newLink(address string, dev bluetooth.Device, logger *logrus.Logger) *link {
	return &link{
		address:      address,
		dev:          dev,
		logger:       logger,
		disconnected: make(chan struct{}),
	}
}

func (l *link) Address() string { return l.address }

func (l *link) DiscoverServices(uuid string) ([]device.Service, error) {
	u, err := parseUUID(uuid)
	if err != nil {
		return nil, err
	}
	svcs, err := l.dev.DiscoverServices([]bluetooth.UUID{u})
	if err != nil {
		// tinygo reports a missing filtered service as an error, not an empty slice.
		l.logger.WithFields(logrus.Fields{
			"address": l.address,
			"uuid":    uuid,
			"error":   err,
		}).Debug("Service discovery failed")
		return nil, device.NormalizeError(err)
	}
	result := make([]device.Service, 0, len(svcs))
	for i := range svcs {
		result = append(result, &service{svc: svcs[i]})
	}
	return result, nil
}

func (l *link) DiscoverCharacteristics(svc device.Service, uuid string) ([]device.Characteristic, error) {
	s, ok := svc.(*service)
	if !ok {
		return nil, fmt.Errorf("service %s does not belong to the tinygo backend", svc.UUID())
	}
	u, err := parseUUID(uuid)
	if err != nil {
		return nil, err
	}
	chars, err := s.svc.DiscoverCharacteristics([]bluetooth.UUID{u})
	if err != nil {
		return nil, device.NormalizeError(err)
	}
	result := make([]device.Characteristic, 0, len(chars))
	for i := range chars {
		result = append(result, &characteristic{char: chars[i]})
	}
	return result, nil
}

// EnableNotifications lets BlueZ write the CCCD via StartNotify.
func (l *link) EnableNotifications(char device.Characteristic, handler func([]byte)) error {
	c, ok := char.(*characteristic)
	if !ok {
		return &device.SubscriptionError{Status: device.StatusUnknown, Err: fmt.Errorf("characteristic %s does not belong to the tinygo backend", char.UUID())}
	}
	if err := c.char.EnableNotifications(handler); err != nil {
		return &device.SubscriptionError{Status: device.StatusUnknown, Err: device.NormalizeError(err)}
	}
	return nil
}

func (l *link) DisableNotifications(char device.Characteristic) error {
	c, ok := char.(*characteristic)
	if !ok {
		return fmt.Errorf("characteristic %s does not belong to the tinygo backend", char.UUID())
	}
	// A nil callback stops notifications.
	return device.NormalizeError(c.char.EnableNotifications(nil))
}

func (l *link) Disconnect() error {
	err := l.dev.Disconnect()
	l.markDisconnected()
	return device.NormalizeError(err)
}

func (l *link) Disconnected() <-chan struct{} { return l.disconnected }

func (l *link) markDisconnected() {
	l.closeOnce.Do(func() { close(l.disconnected) })
}

func parseUUID(uuid string) (bluetooth.UUID, error) {
	expanded := device.ExpandUUID(uuid)
	if expanded == "" {
		return bluetooth.UUID{}, fmt.Errorf("invalid UUID %q", uuid)
	}
	u, err := bluetooth.ParseUUID(expanded)
	if err != nil {
		return bluetooth.UUID{}, fmt.Errorf("invalid UUID %q: %w", uuid, err)
	}
	return u, nil
}
