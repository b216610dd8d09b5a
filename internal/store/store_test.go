package store

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blehr/internal/heartrate"
)

func samples(base time.Time, bpms ...uint16) []heartrate.Sample {
	out := make([]heartrate.Sample, len(bpms))
	for i, bpm := range bpms {
		out[i] = heartrate.Sample{BPM: bpm, CapturedAt: base.Add(time.Duration(i) * time.Second)}
	}
	return out
}

func TestSampleStore_EmptyStats(t *testing.T) {
	s := New()

	assert.Equal(t, 0, s.Average())
	assert.Equal(t, 0, s.Max())
	assert.Equal(t, 0, s.Min())
	assert.Equal(t, Stats{}, s.Stats())
	assert.Empty(t, s.RecentWindow())
}

func TestSampleStore_Stats(t *testing.T) {
	tests := []struct {
		name     string
		bpms     []uint16
		opts     []Option
		expected Stats
	}{
		{
			name:     "average max min of three samples",
			bpms:     []uint16{70, 80, 90},
			expected: Stats{Average: 80, Max: 90, Min: 70, Count: 3},
		},
		{
			name:     "average is truncated",
			bpms:     []uint16{70, 71},
			expected: Stats{Average: 70, Max: 71, Min: 70, Count: 2},
		},
		{
			name:     "zero samples count by default",
			bpms:     []uint16{0, 90, 90},
			expected: Stats{Average: 60, Max: 90, Min: 0, Count: 3},
		},
		{
			name:     "zero samples excluded on request",
			bpms:     []uint16{0, 90, 90},
			opts:     []Option{WithExcludeZero(true)},
			expected: Stats{Average: 90, Max: 90, Min: 90, Count: 2},
		},
		{
			name:     "only zero samples excluded yields empty stats",
			bpms:     []uint16{0, 0},
			opts:     []Option{WithExcludeZero(true)},
			expected: Stats{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.opts...)
			for _, sample := range samples(time.Now(), tt.bpms...) {
				s.Append(sample)
			}
			assert.Equal(t, tt.expected, s.Stats())
		})
	}
}

// GOAL: windows never exceed their capacity and evict strictly FIFO
func TestSampleStore_Eviction(t *testing.T) {
	s := New()
	base := time.Now()

	all := make([]heartrate.Sample, 0, 150)
	for i := 0; i < 150; i++ {
		sample := heartrate.Sample{BPM: uint16(40 + i), CapturedAt: base.Add(time.Duration(i) * time.Second)}
		all = append(all, sample)
		s.Append(sample)

		require.LessOrEqual(t, len(s.RecentWindow()), DefaultChartCapacity, "chart window MUST stay bounded")
		require.LessOrEqual(t, len(s.History()), DefaultHistoryCapacity, "history window MUST stay bounded")
		require.Equal(t, len(s.History()), s.HistoryLen(), "HistoryLen MUST match the history window")

		if i == 30 {
			// 31 appends: the first sample is gone from the chart window.
			chart := s.RecentWindow()
			assert.Len(t, chart, 30)
			assert.NotContains(t, chart, all[0])
			assert.Equal(t, all[1], chart[0])
			assert.Equal(t, all[30], chart[29])
		}
	}

	assert.Equal(t, all[120:], s.RecentWindow())
	assert.Equal(t, all[50:], s.History())
}

func TestSampleStore_Clear(t *testing.T) {
	s := New()
	for _, sample := range samples(time.Now(), 70, 80, 90) {
		s.Append(sample)
	}

	s.Clear()

	assert.Empty(t, s.RecentWindow())
	assert.Empty(t, s.History())
	assert.Zero(t, s.HistoryLen())
	assert.Equal(t, Stats{}, s.Stats())
}

func TestSampleStore_Capacities(t *testing.T) {
	s := New(WithCapacities(5, 0))
	chart, history := s.Capacities()

	assert.Equal(t, 5, chart)
	assert.Equal(t, DefaultHistoryCapacity, history)
}

func TestSampleStore_ZoneDistribution(t *testing.T) {
	s := New()
	for _, sample := range samples(time.Now(), 0, 55, 70, 75, 100, 130, 160) {
		s.Append(sample)
	}

	data, err := json.Marshal(s.ZoneDistribution())

	require.NoError(t, err)
	assert.Equal(t,
		`{"Unknown":1,"Resting":1,"WarmUp":2,"FatBurn":1,"Cardio":1,"Extreme":1}`,
		string(data), "zones MUST serialise in ascending intensity")
}

func TestSampleStore_ConcurrentReaders(t *testing.T) {
	s := New()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			s.Append(heartrate.Sample{BPM: uint16(60 + i%60), CapturedAt: time.Now()})
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = s.Stats()
				_ = s.RecentWindow()
				_ = s.ZoneDistribution()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, s.History(), DefaultHistoryCapacity)
}
