package heartrate

// Zone is a qualitative heart-rate intensity band.
type Zone string

const (
	ZoneUnknown Zone = "Unknown"
	ZoneResting Zone = "Resting"
	ZoneWarmUp  Zone = "WarmUp"
	ZoneFatBurn Zone = "FatBurn"
	ZoneCardio  Zone = "Cardio"
	ZoneExtreme Zone = "Extreme"
)

// Zones lists every zone in ascending intensity, Unknown first.
func Zones() []Zone {
	return []Zone{ZoneUnknown, ZoneResting, ZoneWarmUp, ZoneFatBurn, ZoneCardio, ZoneExtreme}
}

func (z Zone) String() string { return string(z) }

// MarshalText lets zones key JSON objects.
func (z Zone) MarshalText() ([]byte, error) { return []byte(z), nil }

// ZoneFor classifies bpm into a zone. Values <= 0 carry no reading and map to ZoneUnknown.
func ZoneFor(bpm int) Zone {
	switch {
	case bpm <= 0:
		return ZoneUnknown
	case bpm < 60:
		return ZoneResting
	case bpm < 90:
		return ZoneWarmUp
	case bpm < 120:
		return ZoneFatBurn
	case bpm < 150:
		return ZoneCardio
	default:
		return ZoneExtreme
	}
}

// Status is the alerting classification of a heart-rate value, independent of Zone.
type Status string

const (
	StatusTooLow     Status = "TooLow"
	StatusNormal     Status = "Normal"
	StatusExercising Status = "Exercising"
	StatusTooHigh    Status = "TooHigh"
)

func (s Status) String() string { return string(s) }

// StatusFor classifies bpm for alerting: below 60 is too low, above 150 too high, above 120 exercising.
func StatusFor(bpm int) Status {
	switch {
	case bpm < 60:
		return StatusTooLow
	case bpm > 150:
		return StatusTooHigh
	case bpm > 120:
		return StatusExercising
	default:
		return StatusNormal
	}
}
