package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/srg/blehr/internal/device"
)

// FakeHandle is a GATT service or characteristic handle identified by UUID.
type FakeHandle string

func (h FakeHandle) UUID() string { return string(h) }

// FakeRadio is an in-memory device.Radio. Tests push advertisements with Advertise
// and shape each dialed link through ConfigureLink.
type FakeRadio struct {
	mu       sync.Mutex
	nextID   int
	handlers map[int]func(device.Advertisement)
	scans    int
	closed   int
	dials    []string
	links    []*FakeLink

	// ScanErr makes Scan fail immediately.
	ScanErr error
	// DialErr makes Dial fail.
	DialErr error
	// DialGate, when set, blocks Dial until it is closed or ctx is done.
	DialGate chan struct{}
	// ConfigureLink adjusts each link before Dial returns it.
	ConfigureLink func(*FakeLink)
}

var _ device.Radio = (*FakeRadio)(nil)

// NewFakeRadio creates a radio whose links expose the heart-rate profile.
func NewFakeRadio() *FakeRadio {
	return &FakeRadio{handlers: make(map[int]func(device.Advertisement))}
}

// Scan registers handler until ctx is done.
func (r *FakeRadio) Scan(ctx context.Context, _ bool, handler func(device.Advertisement)) error {
	r.mu.Lock()
	if r.ScanErr != nil {
		err := r.ScanErr
		r.mu.Unlock()
		return err
	}
	id := r.nextID
	r.nextID++
	r.handlers[id] = handler
	r.scans++
	r.mu.Unlock()

	<-ctx.Done()

	r.mu.Lock()
	delete(r.handlers, id)
	r.mu.Unlock()
	return nil
}

// Advertise delivers adv to every running scan and returns how many received it.
func (r *FakeRadio) Advertise(adv device.Advertisement) int {
	r.mu.Lock()
	handlers := make([]func(device.Advertisement), 0, len(r.handlers))
	for _, h := range r.handlers {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()

	for _, h := range handlers {
		h(adv)
	}
	return len(handlers)
}

// IsScanning reports whether a scan is running.
func (r *FakeRadio) IsScanning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers) > 0
}

// WaitScanning waits until a scan is running.
func (r *FakeRadio) WaitScanning(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if r.IsScanning() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return r.IsScanning()
}

// ScanCount returns how many scans were started.
func (r *FakeRadio) ScanCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scans
}

// Dial returns a new FakeLink for address.
func (r *FakeRadio) Dial(ctx context.Context, address string) (device.Link, error) {
	r.mu.Lock()
	r.dials = append(r.dials, address)
	gate, dialErr, configure := r.DialGate, r.DialErr, r.ConfigureLink
	r.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if dialErr != nil {
		return nil, dialErr
	}

	link := NewFakeLink(address)
	if configure != nil {
		configure(link)
	}
	r.mu.Lock()
	r.links = append(r.links, link)
	r.mu.Unlock()
	return link, nil
}

// Dials returns the addresses passed to Dial, in order.
func (r *FakeRadio) Dials() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.dials...)
}

// Links returns every link handed out by Dial.
func (r *FakeRadio) Links() []*FakeLink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*FakeLink(nil), r.links...)
}

// LastLink returns the most recent link, or nil.
func (r *FakeRadio) LastLink() *FakeLink {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.links) == 0 {
		return nil
	}
	return r.links[len(r.links)-1]
}

func (r *FakeRadio) Close() error {
	r.mu.Lock()
	r.closed++
	r.mu.Unlock()
	return nil
}

// CloseCount returns how many times Close was called.
func (r *FakeRadio) CloseCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Link call names recorded by FakeLink.
const (
	CallDiscoverServices        = "discover-services"
	CallDiscoverCharacteristics = "discover-characteristics"
	CallSubscribe               = "subscribe"
	CallUnsubscribe             = "unsubscribe"
	CallDisconnect              = "disconnect"
)

// FakeLink is an in-memory device.Link exposing a single service and characteristic.
// Configure its exported fields before the session uses it.
type FakeLink struct {
	address string

	// ServiceUUID and CharacteristicUUID are what discovery can find; empty means absent.
	ServiceUUID        string
	CharacteristicUUID string
	DiscoverErr        error
	SubscribeErr       error
	// ServiceGate, when set, blocks DiscoverServices until it is closed.
	ServiceGate chan struct{}

	mu           sync.Mutex
	calls        []string
	handler      func([]byte)
	disconnected chan struct{}
	once         sync.Once
}

var _ device.Link = (*FakeLink)(nil)

// NewFakeLink creates a link exposing the Heart Rate service and measurement characteristic.
func NewFakeLink(address string) *FakeLink {
	return &FakeLink{
		address:            address,
		ServiceUUID:        device.HeartRateServiceUUID,
		CharacteristicUUID: device.HeartRateMeasurementUUID,
		disconnected:       make(chan struct{}),
	}
}

func (l *FakeLink) record(call string) {
	l.mu.Lock()
	l.calls = append(l.calls, call)
	l.mu.Unlock()
}

func (l *FakeLink) Address() string { return l.address }

func (l *FakeLink) DiscoverServices(uuid string) ([]device.Service, error) {
	l.record(CallDiscoverServices)
	if l.ServiceGate != nil {
		<-l.ServiceGate
	}
	if l.DiscoverErr != nil {
		return nil, l.DiscoverErr
	}
	if !device.UUIDEqual(l.ServiceUUID, uuid) {
		return nil, nil
	}
	return []device.Service{FakeHandle(device.NormalizeUUID(uuid))}, nil
}

func (l *FakeLink) DiscoverCharacteristics(_ device.Service, uuid string) ([]device.Characteristic, error) {
	l.record(CallDiscoverCharacteristics)
	if !device.UUIDEqual(l.CharacteristicUUID, uuid) {
		return nil, nil
	}
	return []device.Characteristic{FakeHandle(device.NormalizeUUID(uuid))}, nil
}

func (l *FakeLink) EnableNotifications(_ device.Characteristic, handler func([]byte)) error {
	l.record(CallSubscribe)
	if l.SubscribeErr != nil {
		return l.SubscribeErr
	}
	l.mu.Lock()
	l.handler = handler
	l.mu.Unlock()
	return nil
}

func (l *FakeLink) DisableNotifications(_ device.Characteristic) error {
	l.record(CallUnsubscribe)
	l.mu.Lock()
	l.handler = nil
	l.mu.Unlock()
	return nil
}

func (l *FakeLink) Disconnect() error {
	l.record(CallDisconnect)
	l.drop()
	return nil
}

func (l *FakeLink) Disconnected() <-chan struct{} { return l.disconnected }

// Notify delivers payload to the subscribed handler. Returns false when not subscribed.
func (l *FakeLink) Notify(payload []byte) bool {
	l.mu.Lock()
	h := l.handler
	l.mu.Unlock()
	if h == nil {
		return false
	}
	h(payload)
	return true
}

// Subscribed reports whether a notification handler is installed.
func (l *FakeLink) Subscribed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handler != nil
}

// Drop simulates the peer going away.
func (l *FakeLink) Drop() {
	l.drop()
}

func (l *FakeLink) drop() {
	l.once.Do(func() { close(l.disconnected) })
}

// Calls returns the recorded call names, in order.
func (l *FakeLink) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// Released reports whether Disconnect was called.
func (l *FakeLink) Released() bool {
	for _, c := range l.Calls() {
		if c == CallDisconnect {
			return true
		}
	}
	return false
}
