// Package scanner filters BLE advertisements down to heart-rate sensors.
package scanner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blehr/internal/device"
	"github.com/srg/blehr/internal/groutine"
)

// State is the scanner lifecycle state.
type State int32

const (
	Stopped State = iota
	Scanning
)

func (s State) String() string {
	if s == Scanning {
		return "Scanning"
	}
	return "Stopped"
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrAlreadyScanning is returned by Start while a scan is running.
var ErrAlreadyScanning = errors.New("scanner is already scanning")

// Sighting is a heart-rate advertisement that passed the filter.
type Sighting struct {
	Address string
	Name    string
	RSSI    int
	SeenAt  time.Time
}

// Metrics counts advertisements by outcome.
type Metrics struct {
	Matched  int64 `json:"matched"`
	Filtered int64 `json:"filtered"`
	Dropped  int64 `json:"dropped"`
}

// Scanner runs a continuous scan and delivers heart-rate sightings.
// Start and Stop may be called from any goroutine.
type Scanner struct {
	dev    device.ScanningDevice
	logger *logrus.Logger
	now    func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	onError func(error)

	state    atomic.Int32
	matched  atomic.Int64
	filtered atomic.Int64
	dropped  atomic.Int64
}

// New creates a scanner over dev.
func New(dev device.ScanningDevice, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{dev: dev, logger: logger, now: time.Now}
}

// OnError registers the callback for a scan that ends with an error on its own.
func (s *Scanner) OnError(fn func(error)) {
	s.mu.Lock()
	s.onError = fn
	s.mu.Unlock()
}

// IsHeartRate reports whether adv lists the Heart Rate service in any UUID notation.
func IsHeartRate(adv device.Advertisement) bool {
	return device.ContainsUUID(adv.Services(), device.HeartRateServiceUUID)
}

// Start begins scanning with duplicates allowed and returns immediately.
// handler runs on the radio's delivery thread and must not block.
func (s *Scanner) Start(ctx context.Context, handler func(Sighting)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if State(s.state.Load()) == Scanning {
		return ErrAlreadyScanning
	}

	scanCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.state.Store(int32(Scanning))

	s.logger.Info("Starting heart rate scan...")
	groutine.Go(scanCtx, "ble-scan", func(ctx context.Context) {
		defer close(done)

		err := s.dev.Scan(ctx, true, func(adv device.Advertisement) {
			s.handleAdvertisement(adv, handler)
		})

		s.mu.Lock()
		current := s.done == done
		if current {
			s.state.Store(int32(Stopped))
		}
		onError := s.onError
		s.mu.Unlock()

		if err != nil && ctx.Err() == nil {
			scanErr := &device.ScanError{Op: "scan", Err: err}
			s.logger.WithField("error", err).Error("Scan stopped unexpectedly")
			if current && onError != nil {
				onError(scanErr)
			}
			return
		}
		s.logger.Debugf("%s: exiting", groutine.GetName(ctx))
	})
	return nil
}

// Stop cancels the scan and waits for it to end. Safe to call when stopped.
func (s *Scanner) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.state.Store(int32(Stopped))
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("Heart rate scan stopped")
}

// State returns the current lifecycle state.
func (s *Scanner) State() State {
	return State(s.state.Load())
}

// Metrics returns a snapshot of the advertisement counters.
func (s *Scanner) Metrics() Metrics {
	return Metrics{
		Matched:  s.matched.Load(),
		Filtered: s.filtered.Load(),
		Dropped:  s.dropped.Load(),
	}
}

func (s *Scanner) handleAdvertisement(adv device.Advertisement, handler func(Sighting)) {
	defer func() {
		if r := recover(); r != nil {
			s.dropped.Add(1)
			s.logger.WithField("panic", r).Warn("Advertisement handler panicked, dropping advertisement")
		}
	}()

	if adv == nil || adv.Addr() == "" {
		s.dropped.Add(1)
		return
	}
	if !IsHeartRate(adv) {
		s.filtered.Add(1)
		return
	}

	s.matched.Add(1)
	handler(Sighting{
		Address: adv.Addr(),
		Name:    adv.LocalName(),
		RSSI:    adv.RSSI(),
		SeenAt:  s.now(),
	})
}
