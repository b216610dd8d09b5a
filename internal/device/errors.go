package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource string   // "service", "characteristic", "descriptor"
	UUIDs    []string // One or more UUIDs (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	parentResource := "service"
	if e.Resource == "descriptor" {
		parentResource = "characteristic"
	}
	return fmt.Sprintf("%s %q not found in %s %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], parentResource, e.UUIDs[0])
}

// Is matches NotFoundError values by Resource, so errors.Is(err, ErrServiceNotFound) holds for any service UUID.
func (e *NotFoundError) Is(target error) bool {
	t, ok := target.(*NotFoundError)
	if !ok || e == nil {
		return false
	}
	return e.Resource == t.Resource
}

// GATT structure mismatch sentinels
var (
	ErrServiceNotFound        = &NotFoundError{Resource: "service"}
	ErrCharacteristicNotFound = &NotFoundError{Resource: "characteristic"}
	ErrDescriptorNotFound     = &NotFoundError{Resource: "descriptor"}
)

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
)

// Operation errors
var (
	ErrTimeout      = errors.New("timeout")
	ErrUnsupported  = errors.New("unsupported")
	ErrBluetoothOff = errors.New("bluetooth is turned off")
)

// ScanError reports that the adapter could not be initialised or a scan failed.
type ScanError struct {
	Op  string // "init" or "scan"
	Err error
}

func (e *ScanError) Error() string {
	if e.Op == "init" {
		return fmt.Sprintf("bluetooth adapter init failed: %v", e.Err)
	}
	return fmt.Sprintf("scan failed: %v", e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// ResolveError reports that a device handle could not be obtained for an address.
type ResolveError struct {
	Address string
	Err     error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve device %s: %v", e.Address, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// StatusUnknown marks a SubscriptionError without a protocol status code.
const StatusUnknown = -1

// SubscriptionError reports that the peer rejected the notification-enable descriptor write.
type SubscriptionError struct {
	Status int // ATT error code, or StatusUnknown
	Err    error
}

func (e *SubscriptionError) Error() string {
	switch {
	case e.Status != StatusUnknown && e.Err != nil:
		return fmt.Sprintf("subscribe failed: status 0x%02x: %v", e.Status, e.Err)
	case e.Status != StatusUnknown:
		return fmt.Sprintf("subscribe failed: status 0x%02x", e.Status)
	default:
		return fmt.Sprintf("subscribe failed: %v", e.Err)
	}
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// NormalizeError maps known error strings to structured sentinels.
// It ensures consistent handling even if upstream libraries change messages slightly.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "bluetooth is turned off"), containsIgnoreCase(msg, "is Bluetooth turned on"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "device not connected"), containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	default:
		return err
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}
