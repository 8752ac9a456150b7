package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type mockTestingT struct {
	errorCalled  bool
	errorMessage string
}

func (m *mockTestingT) Errorf(format string, args ...interface{}) {
	m.errorCalled = true
	m.errorMessage = fmt.Sprintf(format, args...)
}

func TestTextAsserterDefaults(t *testing.T) {
	ta := NewTextAsserter(t)

	assert.True(t, ta.options.TrimSpace, "TrimSpace MUST default to true")
	assert.True(t, ta.options.IgnoreTrailingWhitespace, "IgnoreTrailingWhitespace MUST default to true")
	assert.False(t, ta.options.IgnoreEmptyLines)
	assert.False(t, ta.options.EnableColors)
}

func TestTextAsserterNormalization(t *testing.T) {
	tests := []struct {
		name     string
		opts     []TextOption
		actual   string
		expected string
		match    bool
	}{
		{"identical", nil, "a\nb", "a\nb", true},
		{"surrounding blank lines", nil, "\n\na\nb\n", "a\nb", true},
		{"trailing whitespace", nil, "a  \nb\t", "a\nb", true},
		{"whole text trimmed", nil, "  a", "a\n", true},
		{"inner leading whitespace is significant", nil, "x\n  a", "x\na", false},
		{"empty lines kept by default", nil, "a\n\nb", "a\nb", false},
		{"empty lines ignored", []TextOption{WithIgnoreEmptyLines(true)}, "a\n\nb", "a\nb", true},
		{"different content", nil, "a\nb", "a\nc", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ta := NewTextAsserter(t, tt.opts...)
			assert.Equal(t, tt.match, ta.Diff(tt.actual, tt.expected) == "")
		})
	}
}

func TestTextAsserterDiff(t *testing.T) {
	// GOAL: Verify mismatches are reported as a unified diff
	//
	// TEST SCENARIO: compare texts differing in one line → diff names both versions of the line

	ta := NewTextAsserter(t)
	diff := ta.Diff("line1\nline2\nline3", "line1\nline2\nline4")

	assert.Contains(t, diff, "--- expected")
	assert.Contains(t, diff, "+++ actual")
	assert.Contains(t, diff, "-line4")
	assert.Contains(t, diff, "+line3")
	assert.NotContains(t, diff, "\x1b[", "plain diff MUST NOT contain color codes")

	colored := NewTextAsserter(t, WithEnableColors(true)).Diff("a", "b")
	assert.Contains(t, colored, "\x1b[", "colored diff MUST contain ANSI codes")
}

func TestTextAsserterAssert(t *testing.T) {
	t.Run("failure reports diff", func(t *testing.T) {
		mockT := &mockTestingT{}
		ok := NewTextAsserter(mockT).Assert("hello", "world")

		assert.False(t, ok)
		assert.True(t, mockT.errorCalled, "Errorf MUST be called for a failed assertion")
		assert.Contains(t, mockT.errorMessage, "Text assertion failed")
	})

	t.Run("success is silent", func(t *testing.T) {
		mockT := &mockTestingT{}
		ok := NewTextAsserter(mockT).Assert("hello\n", "hello")

		assert.True(t, ok)
		assert.False(t, mockT.errorCalled, "Errorf MUST NOT be called on success: %s", mockT.errorMessage)
	})
}
