// Package uuid normalizes GATT service and characteristic UUIDs to the compact
// form used throughout the module: lowercase hex, no dashes, and the 16-bit short
// form for UUIDs built on the Bluetooth SIG base.
package uuid

import (
	"fmt"
	"strings"
)

// sigBaseSuffix is the Bluetooth SIG base UUID tail (0000xxxx-0000-1000-8000-00805f9b34fb).
const sigBaseSuffix = "00001000800000805f9b34fb"

// Normalize converts a UUID string to the internal format (lowercase, no dashes).
// Strips braces and a 0x prefix. Full 128-bit UUIDs in SIG base format collapse
// to the 16-bit form (xxxx).
func Normalize(uuid string) string {
	s := strings.ToLower(strings.TrimSpace(uuid))
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")

	if len(s) == 32 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, sigBaseSuffix) {
		return s[4:8]
	}
	return s
}

// NormalizeAll normalizes a slice of UUID strings.
func NormalizeAll(uuids []string) []string {
	result := make([]string, len(uuids))
	for i, u := range uuids {
		result[i] = Normalize(u)
	}
	return result
}

// Equal reports whether two UUID strings name the same UUID.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// Shorten returns the first eight characters of long UUIDs, for display.
func Shorten(uuid string) string {
	if len(uuid) > 8 {
		return uuid[:8]
	}
	return uuid
}

// Validate checks that every UUID is non-empty and well-formed (16, 32 or 128 bit hex).
// Returns the normalized UUIDs.
func Validate(uuids ...string) ([]string, error) {
	if len(uuids) == 0 {
		return nil, fmt.Errorf("at least one UUID is required")
	}

	result := make([]string, 0, len(uuids))
	for i, u := range uuids {
		if strings.TrimSpace(u) == "" {
			return nil, fmt.Errorf("UUID at index %d cannot be empty", i)
		}
		normalized := Normalize(u)
		if !isHex(normalized) {
			return nil, fmt.Errorf("invalid UUID format at index %d: %s", i, u)
		}
		switch len(normalized) {
		case 4, 8, 32:
		default:
			return nil, fmt.Errorf("invalid UUID length at index %d: %s", i, u)
		}
		result = append(result, normalized)
	}
	return result, nil
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
