package goble

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blehr/internal/device"
	"github.com/srg/blehr/internal/groutine"
)

type bleService struct{ svc *ble.Service }

func (s *bleService) UUID() string { return device.NormalizeUUID(s.svc.UUID.String()) }

type bleCharacteristic struct{ char *ble.Characteristic }

func (c *bleCharacteristic) UUID() string { return device.NormalizeUUID(c.char.UUID.String()) }

// bleLink adapts a ble.Client to device.Link.
type bleLink struct {
	client ble.Client
	logger *logrus.Logger

	mu           sync.Mutex
	subscribed   map[*ble.Characteristic]struct{}
	disconnected chan struct{}
	closeOnce    sync.Once
}

func newLink(client ble.Client, logger *logrus.Logger) *bleLink {
	l := &bleLink{
		client:       client,
		logger:       logger,
		subscribed:   make(map[*ble.Characteristic]struct{}),
		disconnected: make(chan struct{}),
	}

	// Not every go-ble client exposes Disconnected(); without it the link is only
	// reported down by an explicit Disconnect.
	if dc, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(context.Background(), "ble-link-monitor", func(ctx context.Context) {
			select {
			case <-dc.Disconnected():
				l.logger.WithField("address", l.Address()).Debug("BLE stack reported disconnection")
				l.markDisconnected()
			case <-l.disconnected:
			}
		})
	} else {
		logger.Debug("Client does not support Disconnected() channel")
	}
	return l
}

func (l *bleLink) Address() string {
	if addr := l.client.Addr(); addr != nil {
		return addr.String()
	}
	return ""
}

// DiscoverServices asks the peer for services matching uuid.
func (l *bleLink) DiscoverServices(uuid string) ([]device.Service, error) {
	u, err := parseUUID(uuid)
	if err != nil {
		return nil, err
	}
	svcs, err := l.client.DiscoverServices([]ble.UUID{u})
	if err != nil {
		return nil, NormalizeError(err)
	}
	result := make([]device.Service, 0, len(svcs))
	for _, s := range svcs {
		if device.UUIDEqual(s.UUID.String(), uuid) {
			result = append(result, &bleService{svc: s})
		}
	}
	return result, nil
}

// DiscoverCharacteristics asks the peer for characteristics of svc matching uuid.
func (l *bleLink) DiscoverCharacteristics(svc device.Service, uuid string) ([]device.Characteristic, error) {
	s, ok := svc.(*bleService)
	if !ok {
		return nil, fmt.Errorf("service %s does not belong to the go-ble backend", svc.UUID())
	}
	u, err := parseUUID(uuid)
	if err != nil {
		return nil, err
	}
	chars, err := l.client.DiscoverCharacteristics([]ble.UUID{u}, s.svc)
	if err != nil {
		return nil, NormalizeError(err)
	}
	result := make([]device.Characteristic, 0, len(chars))
	for _, c := range chars {
		if device.UUIDEqual(c.UUID.String(), uuid) {
			result = append(result, &bleCharacteristic{char: c})
		}
	}
	return result, nil
}

// EnableNotifications locates the CCCD and subscribes; go-ble writes the notify value itself.
func (l *bleLink) EnableNotifications(char device.Characteristic, handler func([]byte)) error {
	c, ok := char.(*bleCharacteristic)
	if !ok {
		return &device.SubscriptionError{Status: device.StatusUnknown, Err: fmt.Errorf("characteristic %s does not belong to the go-ble backend", char.UUID())}
	}

	if c.char.CCCD == nil {
		if _, err := l.client.DiscoverDescriptors([]ble.UUID{ble.ClientCharacteristicConfigUUID}, c.char); err != nil {
			// Darwin subscribes without an explicit CCCD handle; let Subscribe decide.
			l.logger.WithFields(logrus.Fields{
				"char_uuid": c.UUID(),
				"error":     err,
			}).Debug("Descriptor discovery failed, subscribing anyway")
		}
	}

	if err := l.client.Subscribe(c.char, false, ble.NotificationHandler(handler)); err != nil {
		return subscriptionError(err)
	}

	l.mu.Lock()
	l.subscribed[c.char] = struct{}{}
	l.mu.Unlock()
	return nil
}

func (l *bleLink) DisableNotifications(char device.Characteristic) error {
	c, ok := char.(*bleCharacteristic)
	if !ok {
		return fmt.Errorf("characteristic %s does not belong to the go-ble backend", char.UUID())
	}

	l.mu.Lock()
	_, active := l.subscribed[c.char]
	delete(l.subscribed, c.char)
	l.mu.Unlock()

	if !active {
		return nil
	}
	return NormalizeError(l.client.Unsubscribe(c.char, false))
}

// Disconnect cancels the connection. Active subscriptions are expected to be disabled first.
func (l *bleLink) Disconnect() error {
	err := l.client.CancelConnection()
	l.markDisconnected()
	return NormalizeError(err)
}

func (l *bleLink) Disconnected() <-chan struct{} {
	return l.disconnected
}

func (l *bleLink) markDisconnected() {
	l.closeOnce.Do(func() { close(l.disconnected) })
}

// parseUUID keeps 16-bit UUIDs short: go-ble compares UUIDs byte-wise.
func parseUUID(uuid string) (ble.UUID, error) {
	normalized := device.NormalizeUUID(uuid)
	if normalized == "" {
		return nil, fmt.Errorf("invalid UUID %q", uuid)
	}
	u, err := ble.Parse(normalized)
	if err != nil {
		return nil, fmt.Errorf("invalid UUID %q: %w", uuid, err)
	}
	return u, nil
}
