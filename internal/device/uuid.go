package device

import (
	"fmt"
	"strings"
)

// bluetoothBaseSuffix is the tail of the Bluetooth SIG base UUID 0000xxxx-0000-1000-8000-00805f9b34fb
const bluetoothBaseSuffix = "-0000-1000-8000-00805f9b34fb"

// CanonicalUUID expands a UUID into the lowercase dashed 128-bit form.
// 16-bit and 32-bit short forms are expanded over the Bluetooth base UUID.
// Returns "" when the input is not a UUID.
func CanonicalUUID(uuid string) string {
	s := strings.ToLower(strings.TrimSpace(uuid))
	s = strings.TrimPrefix(s, "0x")
	s = strings.Trim(s, "{}")
	s = strings.ReplaceAll(s, "-", "")

	if !isHex(s) {
		return ""
	}

	switch len(s) {
	case 4:
		return "0000" + s + bluetoothBaseSuffix
	case 8:
		return s + bluetoothBaseSuffix
	case 32:
		return fmt.Sprintf("%s-%s-%s-%s-%s", s[0:8], s[8:12], s[12:16], s[16:20], s[20:32])
	default:
		return ""
	}
}

// NormalizeUUID converts a UUID string to the compact internal form (lowercase, no dashes).
// UUIDs in the Bluetooth SIG base range collapse to their 16-bit short form.
// Returns "" when the input is not a UUID.
func NormalizeUUID(uuid string) string {
	c := CanonicalUUID(uuid)
	if c == "" {
		return ""
	}
	if strings.HasPrefix(c, "0000") && strings.HasSuffix(c, bluetoothBaseSuffix) {
		return c[4:8]
	}
	return strings.ReplaceAll(c, "-", "")
}

// NormalizeUUIDs normalizes a slice of UUID strings, dropping invalid entries
func NormalizeUUIDs(uuids []string) []string {
	result := make([]string, 0, len(uuids))
	for _, u := range uuids {
		if n := NormalizeUUID(u); n != "" {
			result = append(result, n)
		}
	}
	return result
}

// HasUUIDPrefix reports whether the canonical form of uuid starts with prefix, ignoring case.
// A 16-bit "ffe0" therefore matches the prefix "0000ffe0".
func HasUUIDPrefix(uuid, prefix string) bool {
	c := CanonicalUUID(uuid)
	if c == "" {
		c = strings.ToLower(uuid)
	}
	return strings.HasPrefix(c, strings.ToLower(strings.TrimSpace(prefix)))
}

// ShortenUUID returns a truncated version of a UUID for display purposes.
// Returns the first eight characters for long UUIDs and short UUIDs by themselves.
func ShortenUUID(uuid string) string {
	if len(uuid) > 8 {
		return uuid[:8]
	}
	return uuid
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return false
		}
	}
	return true
}
