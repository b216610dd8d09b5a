// Package heartrate decodes Heart Rate Measurement notifications and classifies heart-rate values.
package heartrate

import "time"

// Sample is a single validated heart-rate reading. A BPM of 0 means "no data".
type Sample struct {
	BPM        uint16    `json:"heartRate"`
	CapturedAt time.Time `json:"timestamp"`
}

// Zero returns the "no data" sample stamped with at.
func Zero(at time.Time) Sample {
	return Sample{CapturedAt: at}
}

// IsZero reports whether the sample carries no heart-rate value.
func (s Sample) IsZero() bool {
	return s.BPM == 0
}

// Zone returns the intensity band of the sample.
func (s Sample) Zone() Zone {
	return ZoneFor(int(s.BPM))
}

// Status returns the alerting classification of the sample.
func (s Sample) Status() Status {
	return StatusFor(int(s.BPM))
}
