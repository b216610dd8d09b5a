package pipeline

import (
	"fmt"
	"net"
	"time"

	"github.com/cornelk/hashmap"

	"github.com/srg/blehr/internal/device"
	"github.com/srg/blehr/internal/store"
	"github.com/srg/blehr/scanner"
)

// SessionState is the GATT session state machine position.
type SessionState int

const (
	Idle SessionState = iota
	Resolving
	ServiceDiscovery
	CharacteristicDiscovery
	Subscribing
	Subscribed
)

var sessionStateNames = [...]string{
	Idle:                    "Idle",
	Resolving:               "Resolving",
	ServiceDiscovery:        "ServiceDiscovery",
	CharacteristicDiscovery: "CharacteristicDiscovery",
	Subscribing:             "Subscribing",
	Subscribed:              "Subscribed",
}

func (s SessionState) String() string {
	if s < 0 || int(s) >= len(sessionStateNames) {
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
	return sessionStateNames[s]
}

// MarshalText renders the state name in JSON payloads.
func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// InFlight reports whether an attempt is between Resolving and Subscribing.
func (s SessionState) InFlight() bool {
	return s >= Resolving && s < Subscribed
}

// DeviceRecord is what the pipeline knows about a heart-rate device it has seen.
// Records are stored by value; the map always holds a complete copy.
type DeviceRecord struct {
	Address   string    `json:"address"`
	Name      string    `json:"name"`
	RSSI      int       `json:"rssi"`
	FirstSeen time.Time `json:"firstSeen"`
	LastSeen  time.Time `json:"lastSeen"`
	Attempts  int       `json:"attempts"`
	RetryAt   time.Time `json:"retryAt,omitzero"`
	LastError string    `json:"lastError,omitempty"`
}

// MAC returns the address as a 48-bit integer. ok is false for addresses that are not
// MACs, such as the per-host UUIDs CoreBluetooth hands out.
func (r DeviceRecord) MAC() (mac uint64, ok bool) {
	hw, err := net.ParseMAC(r.Address)
	if err != nil || len(hw) != 6 {
		return 0, false
	}
	for _, b := range hw {
		mac = mac<<8 | uint64(b)
	}
	return mac, true
}

// Counters are loop-owned event counts, copied into every Snapshot.
type Counters struct {
	Sightings     int64 `json:"sightings"`
	Attempts      int64 `json:"attempts"`
	Subscriptions int64 `json:"subscriptions"`
	Failures      int64 `json:"failures"`
	LinkLosses    int64 `json:"linkLosses"`
	Notifications int64 `json:"notifications"`
	Samples       int64 `json:"samples"`
	DecodeErrors  int64 `json:"decodeErrors"`
	StaleEvents   int64 `json:"staleEvents"`
}

// Snapshot is a read-only view of the pipeline state.
type Snapshot struct {
	Scanner       scanner.State `json:"scanner"`
	Session       SessionState  `json:"session"`
	Device        string        `json:"device,omitempty"`
	Generation    uint64        `json:"generation"`
	Counters      Counters      `json:"counters"`
	HistoryLen    int           `json:"historyLength"`
	DroppedEvents int64         `json:"droppedEvents"`
}

// connection is the subscribed link. It exists only between a successful attempt and teardown.
type connection struct {
	address    string
	generation uint64
	link       device.Link
	char       device.Characteristic
}

// PipelineState is everything the loop goroutine owns. Nothing else writes to it.
type PipelineState struct {
	Devices *hashmap.Map[string, DeviceRecord]
	Store   *store.SampleStore

	// Scanning is set while a scan started through StartScanning is active.
	// Sightings only start attempts while it is set.
	Scanning bool

	Session    SessionState
	Target     string
	Generation uint64
	Conn       *connection

	// attemptCancel cancels the in-flight attempt and, once subscribed, the link monitor.
	attemptCancel func()

	LastSampleAt time.Time
	Counters     Counters
}

func newPipelineState(st *store.SampleStore) *PipelineState {
	return &PipelineState{
		Devices: hashmap.New[string, DeviceRecord](),
		Store:   st,
	}
}
