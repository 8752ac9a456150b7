package testutils

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// PresencePlaceholder in expected JSON matches any actual value, as long as the key exists
const PresencePlaceholder = "<<PRESENCE>>"

type JSONAssertOptions struct {
	IgnoreExtraKeys          bool `default:"true"`
	NilToEmptyArray          bool `default:"true"`
	AllowPresencePlaceholder bool `default:"true"`
	IgnoreArrayOrder         bool `default:"false"`
	IgnoredFields            []string
}

// JSONOption is a functional option for configuring JSONAsserter
type JSONOption func(*JSONAssertOptions)

// JSONAsserter compares JSON documents structurally and reports a readable diff.
// With the defaults, expected JSON only needs to list the keys a test cares about.
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

// NewJSONAsserter creates a JSONAsserter with default options
func NewJSONAsserter(t TestingT, opts ...JSONOption) *JSONAsserter {
	options := JSONAssertOptions{}
	defaults.SetDefaults(&options)
	for _, opt := range opts {
		opt(&options)
	}
	return &JSONAsserter{t: t, options: options}
}

// WithIgnoreExtraKeys sets whether keys missing from expected are ignored
func WithIgnoreExtraKeys(ignore bool) JSONOption {
	return func(opts *JSONAssertOptions) {
		opts.IgnoreExtraKeys = ignore
	}
}

// WithIgnoredFields drops the named keys, at any depth, from both documents
func WithIgnoredFields(fields ...string) JSONOption {
	return func(opts *JSONAssertOptions) {
		opts.IgnoredFields = fields
	}
}

// WithIgnoreArrayOrder sets whether array element order is significant
func WithIgnoreArrayOrder(ignore bool) JSONOption {
	return func(opts *JSONAssertOptions) {
		opts.IgnoreArrayOrder = ignore
	}
}

// Assert compares actualJSON against expectedJSON
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) bool {
	if diff := ja.Diff(actualJSON, expectedJSON); diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
		return false
	}
	return true
}

// Diff returns a formatted diff of the normalized documents, or "" when they match
func (ja *JSONAsserter) Diff(actualJSON, expectedJSON string) string {
	var expected, actual any
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff only compares objects at the root
	_, expIsArray := expected.([]any)
	_, actIsArray := actual.([]any)
	if expIsArray && actIsArray {
		expected = map[string]any{"array": expected}
		actual = map[string]any{"array": actual}
	}

	if ja.options.AllowPresencePlaceholder {
		fillPlaceholders(expected, actual)
	}
	if ja.options.NilToEmptyArray {
		normalizeNilArrays(expected, actual)
	}
	// Ignored fields go before sorting so they do not influence element order.
	if len(ja.options.IgnoredFields) > 0 {
		removeFields(expected, ja.options.IgnoredFields)
		removeFields(actual, ja.options.IgnoredFields)
	}
	if ja.options.IgnoreArrayOrder {
		sortArrays(expected)
		sortArrays(actual)
	}
	if ja.options.IgnoreExtraKeys {
		pruneExtraKeys(actual, expected)
	}

	expectedBytes, _ := json.Marshal(expected)
	actualBytes, _ := json.Marshal(actual)

	diff, err := gojsondiff.New().Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{ShowArrayIndex: true})
	out, _ := f.Format(diff)
	return out
}

// fillPlaceholders copies actual values over PresencePlaceholder entries
func fillPlaceholders(expected, actual any) {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return
		}
		for k, v := range exp {
			if s, ok := v.(string); ok && s == PresencePlaceholder {
				if actVal, exists := act[k]; exists {
					exp[k] = actVal
				}
				continue
			}
			fillPlaceholders(v, act[k])
		}
	case []any:
		act, ok := actual.([]any)
		if !ok {
			return
		}
		for i := 0; i < len(exp) && i < len(act); i++ {
			fillPlaceholders(exp[i], act[i])
		}
	}
}

// normalizeNilArrays treats null and [] as equal on matching keys
func normalizeNilArrays(expected, actual any) {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return
		}
		for k := range exp {
			if _, exists := act[k]; !exists {
				continue
			}
			if isNilOrEmpty(exp[k]) && isNilOrEmpty(act[k]) {
				exp[k] = []any{}
				act[k] = []any{}
				continue
			}
			normalizeNilArrays(exp[k], act[k])
		}
	case []any:
		act, ok := actual.([]any)
		if !ok {
			return
		}
		for i := 0; i < len(exp) && i < len(act); i++ {
			normalizeNilArrays(exp[i], act[i])
		}
	}
}

func isNilOrEmpty(v any) bool {
	if v == nil {
		return true
	}
	arr, ok := v.([]any)
	return ok && len(arr) == 0
}

// pruneExtraKeys removes keys from actual that expected does not mention
func pruneExtraKeys(actual, expected any) {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return
		}
		for k := range act {
			if _, exists := exp[k]; !exists {
				delete(act, k)
			}
		}
		for k := range exp {
			pruneExtraKeys(act[k], exp[k])
		}
	case []any:
		act, ok := actual.([]any)
		if !ok {
			return
		}
		for i := 0; i < len(exp) && i < len(act); i++ {
			pruneExtraKeys(act[i], exp[i])
		}
	}
}

func removeFields(data any, fields []string) {
	switch v := data.(type) {
	case map[string]any:
		for _, f := range fields {
			delete(v, f)
		}
		for _, child := range v {
			removeFields(child, fields)
		}
	case []any:
		for _, elem := range v {
			removeFields(elem, fields)
		}
	}
}

// sortArrays orders every array by the JSON encoding of its elements
func sortArrays(data any) {
	switch v := data.(type) {
	case map[string]any:
		for _, child := range v {
			sortArrays(child)
		}
	case []any:
		for _, elem := range v {
			sortArrays(elem)
		}
		sort.Slice(v, func(i, j int) bool {
			a, _ := json.Marshal(v[i])
			b, _ := json.Marshal(v[j])
			return string(a) < string(b)
		})
	}
}
