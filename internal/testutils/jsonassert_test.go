package testutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJSONAsserterDefaults(t *testing.T) {
	ja := NewJSONAsserter(t)

	assert.True(t, ja.options.IgnoreExtraKeys, "IgnoreExtraKeys MUST default to true")
	assert.True(t, ja.options.NilToEmptyArray, "NilToEmptyArray MUST default to true")
	assert.True(t, ja.options.AllowPresencePlaceholder, "AllowPresencePlaceholder MUST default to true")
	assert.False(t, ja.options.IgnoreArrayOrder)
	assert.Empty(t, ja.options.IgnoredFields)
}

func TestJSONAsserterDiff(t *testing.T) {
	tests := []struct {
		name     string
		opts     []JSONOption
		actual   string
		expected string
		match    bool
	}{
		{
			name:     "equal objects",
			actual:   `{"name":"DSD TECH","rssi":-60}`,
			expected: `{"rssi":-60,"name":"DSD TECH"}`,
			match:    true,
		},
		{
			name:     "extra keys ignored",
			actual:   `{"name":"DSD TECH","rssi":-60,"last_seen":"2024-01-01T00:00:00Z"}`,
			expected: `{"name":"DSD TECH"}`,
			match:    true,
		},
		{
			name:     "extra keys significant",
			opts:     []JSONOption{WithIgnoreExtraKeys(false)},
			actual:   `{"name":"DSD TECH","rssi":-60}`,
			expected: `{"name":"DSD TECH"}`,
			match:    false,
		},
		{
			name:     "value mismatch",
			actual:   `{"name":"Other"}`,
			expected: `{"name":"DSD TECH"}`,
			match:    false,
		},
		{
			name:     "presence placeholder",
			actual:   `{"last_seen":"2024-01-01T00:00:00Z"}`,
			expected: `{"last_seen":"<<PRESENCE>>"}`,
			match:    true,
		},
		{
			name:     "presence placeholder on missing key",
			actual:   `{"name":"DSD TECH"}`,
			expected: `{"last_seen":"<<PRESENCE>>"}`,
			match:    false,
		},
		{
			name:     "null equals empty array",
			actual:   `{"advertised_services":null}`,
			expected: `{"advertised_services":[]}`,
			match:    true,
		},
		{
			name:     "root arrays",
			actual:   `[{"id":"AA","rssi":-60},{"id":"BB","rssi":-70}]`,
			expected: `[{"id":"AA"},{"id":"BB"}]`,
			match:    true,
		},
		{
			name:     "array order significant by default",
			actual:   `[{"id":"BB"},{"id":"AA"}]`,
			expected: `[{"id":"AA"},{"id":"BB"}]`,
			match:    false,
		},
		{
			name:     "array order ignored",
			opts:     []JSONOption{WithIgnoreArrayOrder(true)},
			actual:   `[{"id":"BB"},{"id":"AA"}]`,
			expected: `[{"id":"AA"},{"id":"BB"}]`,
			match:    true,
		},
		{
			name:     "ignored fields at any depth",
			opts:     []JSONOption{WithIgnoreExtraKeys(false), WithIgnoredFields("last_seen")},
			actual:   `[{"id":"AA","last_seen":"x"}]`,
			expected: `[{"id":"AA","last_seen":"y"}]`,
			match:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := NewJSONAsserter(t, tt.opts...).Diff(tt.actual, tt.expected)
			assert.Equal(t, tt.match, diff == "", "diff: %s", diff)
		})
	}
}

func TestJSONAsserterInvalidInput(t *testing.T) {
	ja := NewJSONAsserter(t)
	assert.Contains(t, ja.Diff(`{`, `{}`), "invalid actual JSON")
	assert.Contains(t, ja.Diff(`{}`, `{`), "invalid expected JSON")
}

func TestJSONAsserterAssert(t *testing.T) {
	mockT := &mockTestingT{}
	ok := NewJSONAsserter(mockT).Assert(`{"name":"Other"}`, `{"name":"DSD TECH"}`)

	assert.False(t, ok)
	assert.True(t, mockT.errorCalled)
	assert.Contains(t, mockT.errorMessage, "JSON assertion failed")
}
