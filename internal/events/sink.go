// Package events fans new heart-rate samples out to registered observers.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blehr/internal/heartrate"
)

// Observer receives published samples on the publishing goroutine. Observers must return quickly.
type Observer func(heartrate.Sample)

// Sink is an observer list plus the most recently published sample.
type Sink struct {
	mu        sync.RWMutex
	observers []Observer
	latest    atomic.Pointer[heartrate.Sample]
	logger    *logrus.Logger
	now       func() time.Time
}

// NewSink creates a sink. A nil logger gets a default logrus logger.
func NewSink(logger *logrus.Logger) *Sink {
	if logger == nil {
		logger = logrus.New()
	}
	return &Sink{logger: logger, now: time.Now}
}

// OnSample registers o. Observers are called in registration order.
func (s *Sink) OnSample(o Observer) {
	if o == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Publish records sample as the latest one and calls every observer with it.
func (s *Sink) Publish(sample heartrate.Sample) {
	s.latest.Store(&sample)
	s.notify(sample)
}

// Reset forgets the latest sample and tells observers about it with a zero sample stamped at.
func (s *Sink) Reset(at time.Time) {
	s.latest.Store(nil)
	s.notify(heartrate.Zero(at))
}

// Latest returns the most recent sample, or a zero sample stamped now if none has been published.
func (s *Sink) Latest() heartrate.Sample {
	if p := s.latest.Load(); p != nil {
		return *p
	}
	return heartrate.Zero(s.now())
}

// Observers returns the number of registered observers.
func (s *Sink) Observers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.observers)
}

func (s *Sink) notify(sample heartrate.Sample) {
	s.mu.RLock()
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	s.mu.RUnlock()

	for i, o := range observers {
		s.call(i, o, sample)
	}
}

// call isolates observer panics so one faulty consumer cannot starve the others.
func (s *Sink) call(idx int, o Observer, sample heartrate.Sample) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{
				"observer": idx,
				"panic":    r,
			}).Error("Sample observer panicked")
		}
	}()
	o(sample)
}
