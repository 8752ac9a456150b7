package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		// 16-bit UUID formats
		{name: "16-bit UUID lowercase", input: "ffe0", expected: "ffe0"},
		{name: "16-bit UUID uppercase", input: "FFE0", expected: "ffe0"},
		{name: "16-bit UUID with 0x prefix", input: "0x2902", expected: "2902"},
		{name: "16-bit UUID with 0X prefix", input: "0X2902", expected: "2902"},

		// Bluetooth SIG base UUID format (should extract 16-bit form)
		{name: "Full Bluetooth SIG UUID with dashes", input: "0000ffe1-0000-1000-8000-00805f9b34fb", expected: "ffe1"},
		{name: "Full Bluetooth SIG UUID without dashes", input: "0000ffe100001000800000805f9b34fb", expected: "ffe1"},
		{name: "Full Bluetooth SIG UUID uppercase", input: "0000180D-0000-1000-8000-00805F9B34FB", expected: "180d"},
		{name: "Braced UUID", input: "{0000180d-0000-1000-8000-00805f9b34fb}", expected: "180d"},

		// Custom 128-bit UUIDs (should NOT be shortened)
		{name: "Nordic UART service", input: "6E400001-B5A3-F393-E0A9-E50E24DCCA9E", expected: "6e400001b5a3f393e0a9e50e24dcca9e"},

		// Invalid
		{name: "empty", input: "", expected: ""},
		{name: "non-hex", input: "zzzz", expected: ""},
		{name: "odd length", input: "12345", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeUUID(tt.input), "normalized UUID MUST match")
		})
	}
}

func TestCanonicalUUID(t *testing.T) {
	assert.Equal(t, "0000ffe0-0000-1000-8000-00805f9b34fb", CanonicalUUID("ffe0"), "16-bit UUID MUST expand over the base UUID")
	assert.Equal(t, "12345678-0000-1000-8000-00805f9b34fb", CanonicalUUID("12345678"), "32-bit UUID MUST expand over the base UUID")
	assert.Equal(t, "6e400001-b5a3-f393-e0a9-e50e24dcca9e", CanonicalUUID("6e400001b5a3f393e0a9e50e24dcca9e"), "128-bit UUID MUST be dashed")
	assert.Empty(t, CanonicalUUID("not-a-uuid"), "invalid UUID MUST canonicalize to empty string")
}

func TestHasUUIDPrefix(t *testing.T) {
	// GOAL: Verify prefix matching works on the canonical 128-bit form regardless of how the stack reports UUIDs
	//
	// TEST SCENARIO: short, full and mixed-case UUIDs → matched against 0000ffe0 / 0000ffe1 prefixes → only true matches accepted

	tests := []struct {
		name   string
		uuid   string
		prefix string
		match  bool
	}{
		{name: "short form matches long prefix", uuid: "ffe0", prefix: "0000ffe0", match: true},
		{name: "uppercase short form", uuid: "FFE0", prefix: "0000ffe0", match: true},
		{name: "full form", uuid: "0000ffe0-0000-1000-8000-00805f9b34fb", prefix: "0000ffe0", match: true},
		{name: "uppercase prefix", uuid: "0000ffe1-0000-1000-8000-00805f9b34fb", prefix: "0000FFE1", match: true},
		{name: "service prefix does not match characteristic", uuid: "ffe1", prefix: "0000ffe0", match: false},
		{name: "dashed prefix", uuid: "ffe0", prefix: "0000ffe0-0000", match: true},
		{name: "custom 128-bit", uuid: "6e400001-b5a3-f393-e0a9-e50e24dcca9e", prefix: "6e400001", match: true},
		{name: "unrelated", uuid: "180f", prefix: "0000ffe0", match: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.match, HasUUIDPrefix(tt.uuid, tt.prefix), "prefix match result MUST be correct")
		})
	}
}

func TestShortenUUID(t *testing.T) {
	assert.Equal(t, "0000ffe0", ShortenUUID("0000ffe0-0000-1000-8000-00805f9b34fb"))
	assert.Equal(t, "ffe0", ShortenUUID("ffe0"))
}
