package device

import (
	"fmt"
	"strings"
)

// Heart Rate profile UUIDs, 16-bit short form.
const (
	HeartRateServiceUUID     = "180d"
	HeartRateMeasurementUUID = "2a37"
	ClientCharConfigUUID     = "2902"
)

// bluetoothBaseSuffix is the tail of the Bluetooth Base UUID 0000xxxx-0000-1000-8000-00805f9b34fb without dashes.
const bluetoothBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the internal format (lowercase, no dashes).
// Strips a 0x prefix (e.g., "0x2902" -> "2902").
// Full 128-bit UUIDs in Bluetooth SIG base form (0000xxxx-0000-1000-8000-00805f9b34fb)
// collapse to their 16-bit short form (xxxx).
// Returns "" for anything that is not 4, 8 or 32 hex digits.
func NormalizeUUID(uuid string) string {
	s := strings.ToLower(strings.TrimSpace(uuid))
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")

	switch len(s) {
	case 4, 8, 32:
	default:
		return ""
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return ""
		}
	}

	if len(s) == 32 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, bluetoothBaseSuffix) {
		return s[4:8]
	}
	return s
}

// NormalizeUUIDs normalizes a slice of UUID strings, dropping invalid entries.
func NormalizeUUIDs(uuids []string) []string {
	out := make([]string, 0, len(uuids))
	for _, u := range uuids {
		if n := NormalizeUUID(u); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// ExpandUUID returns the dashed 128-bit form of a UUID; 16- and 32-bit UUIDs are placed on the Bluetooth Base UUID.
func ExpandUUID(uuid string) string {
	s := NormalizeUUID(uuid)
	switch len(s) {
	case 4:
		s = "0000" + s + bluetoothBaseSuffix
	case 8:
		s = s + bluetoothBaseSuffix
	case 32:
	default:
		return ""
	}
	return fmt.Sprintf("%s-%s-%s-%s-%s", s[0:8], s[8:12], s[12:16], s[16:20], s[20:32])
}

// UUIDEqual reports whether two UUID strings denote the same UUID in any accepted notation.
func UUIDEqual(a, b string) bool {
	na := NormalizeUUID(a)
	return na != "" && na == NormalizeUUID(b)
}

// ContainsUUID reports whether uuids lists want.
func ContainsUUID(uuids []string, want string) bool {
	for _, u := range uuids {
		if UUIDEqual(u, want) {
			return true
		}
	}
	return false
}

// ValidateUUID validates that UUID strings are non-empty and well-formed.
// Returns normalized UUID strings or an error.
func ValidateUUID(uuids ...string) ([]string, error) {
	if len(uuids) == 0 {
		return nil, fmt.Errorf("at least one UUID is required")
	}

	result := make([]string, 0, len(uuids))
	for i, uuid := range uuids {
		if uuid == "" {
			return nil, fmt.Errorf("UUID at index %d cannot be empty", i)
		}
		normalized := NormalizeUUID(uuid)
		if normalized == "" {
			return nil, fmt.Errorf("invalid UUID format at index %d: %s", i, uuid)
		}
		result = append(result, normalized)
	}
	return result, nil
}
