// Package store keeps the bounded sample windows and derives heart-rate statistics from them.
package store

import (
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blehr/internal/heartrate"
)

const (
	DefaultChartCapacity   = 30
	DefaultHistoryCapacity = 100
)

// Stats summarises the history window. All fields are 0 when no sample counts.
type Stats struct {
	Average int `json:"average"`
	Max     int `json:"max"`
	Min     int `json:"min"`
	Count   int `json:"count"`
}

// SampleStore holds the chart window and the history window.
//
// A single writer appends while any number of readers query; reads never block on each other.
type SampleStore struct {
	mu          sync.RWMutex
	chart       *Ring[heartrate.Sample]
	history     *Ring[heartrate.Sample]
	excludeZero bool
}

// Option configures a SampleStore.
type Option func(*options)

type options struct {
	chartCapacity   int
	historyCapacity int
	excludeZero     bool
}

// WithCapacities overrides the window capacities. Non-positive values keep the defaults.
func WithCapacities(chart, history int) Option {
	return func(o *options) {
		if chart > 0 {
			o.chartCapacity = chart
		}
		if history > 0 {
			o.historyCapacity = history
		}
	}
}

// WithExcludeZero drops "no data" samples from Average, Max and Min. The windows still keep them.
func WithExcludeZero(exclude bool) Option {
	return func(o *options) {
		o.excludeZero = exclude
	}
}

// New creates an empty store.
func New(opts ...Option) *SampleStore {
	o := options{
		chartCapacity:   DefaultChartCapacity,
		historyCapacity: DefaultHistoryCapacity,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &SampleStore{
		chart:       NewRing[heartrate.Sample](o.chartCapacity),
		history:     NewRing[heartrate.Sample](o.historyCapacity),
		excludeZero: o.excludeZero,
	}
}

// Append pushes s into both windows, evicting the oldest entries on overflow.
func (s *SampleStore) Append(sample heartrate.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chart.Push(sample)
	s.history.Push(sample)
}

// Clear empties both windows.
func (s *SampleStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chart.Reset()
	s.history.Reset()
}

// RecentWindow returns the chart window, oldest first.
func (s *SampleStore) RecentWindow() []heartrate.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chart.Slice()
}

// History returns the history window, oldest first.
func (s *SampleStore) History() []heartrate.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.Slice()
}

// HistoryLen returns the number of samples in the history window.
func (s *SampleStore) HistoryLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.Len()
}

// Capacities returns the chart and history capacities.
func (s *SampleStore) Capacities() (chart, history int) {
	return s.chart.Cap(), s.history.Cap()
}

// Stats computes average (truncated), max and min over the history window.
func (s *SampleStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	sum := 0
	s.history.Each(func(sample heartrate.Sample) {
		v := int(sample.BPM)
		if s.excludeZero && v == 0 {
			return
		}
		if st.Count == 0 || v > st.Max {
			st.Max = v
		}
		if st.Count == 0 || v < st.Min {
			st.Min = v
		}
		sum += v
		st.Count++
	})
	if st.Count > 0 {
		st.Average = sum / st.Count
	}
	return st
}

func (s *SampleStore) Average() int { return s.Stats().Average }

func (s *SampleStore) Max() int { return s.Stats().Max }

func (s *SampleStore) Min() int { return s.Stats().Min }

// ZoneDistribution counts history samples per zone, every zone present in ascending intensity.
func (s *SampleStore) ZoneDistribution() *orderedmap.OrderedMap[heartrate.Zone, int] {
	dist := orderedmap.New[heartrate.Zone, int]()
	for _, z := range heartrate.Zones() {
		dist.Set(z, 0)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	s.history.Each(func(sample heartrate.Sample) {
		z := sample.Zone()
		n, _ := dist.Get(z)
		dist.Set(z, n+1)
	})
	return dist
}
