package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// recordingT captures Errorf calls so asserter failures can be inspected.
type recordingT struct {
	failures []string
}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.failures = append(r.failures, fmt.Sprintf(format, args...))
}

func TestJSONAsserter_DefaultOptions(t *testing.T) {
	opts := NewJSONAsserter(t).GetOptions()

	assert.True(t, opts.IgnoreExtraKeys, "IgnoreExtraKeys MUST default to true")
	assert.True(t, opts.AllowPresencePlaceholder, "AllowPresencePlaceholder MUST default to true")
	assert.Empty(t, opts.IgnoredFields, "IgnoredFields MUST default to empty")
}

func TestJSONAsserter_Compare(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		actual   string
		expected string
		fail     bool
	}{
		{
			name:     "equal objects",
			actual:   `{"heartRate":72,"zone":"Resting"}`,
			expected: `{"zone":"Resting","heartRate":72}`,
		},
		{
			name:     "extra keys ignored by default",
			actual:   `{"heartRate":72,"timestamp":"2024-05-01T10:00:00Z"}`,
			expected: `{"heartRate":72}`,
		},
		{
			name:     "extra keys reported when strict",
			opts:     []Option{WithIgnoreExtraKeys(false)},
			actual:   `{"heartRate":72,"timestamp":"2024-05-01T10:00:00Z"}`,
			expected: `{"heartRate":72}`,
			fail:     true,
		},
		{
			name:     "presence placeholder",
			actual:   `{"heartRate":72,"timestamp":"2024-05-01T10:00:00Z"}`,
			expected: `{"heartRate":72,"timestamp":"<<PRESENCE>>"}`,
		},
		{
			name:     "placeholder does not match a missing key",
			actual:   `{"heartRate":72}`,
			expected: `{"heartRate":72,"timestamp":"<<PRESENCE>>"}`,
			fail:     true,
		},
		{
			name:     "ignored fields in nested arrays",
			opts:     []Option{WithIgnoredFields("timestamp")},
			actual:   `[{"heartRate":70,"timestamp":"a"},{"heartRate":71,"timestamp":"b"}]`,
			expected: `[{"heartRate":70,"timestamp":"x"},{"heartRate":71}]`,
		},
		{
			name:     "value mismatch",
			actual:   `{"heartRate":72}`,
			expected: `{"heartRate":73}`,
			fail:     true,
		},
		{
			name:     "invalid actual",
			actual:   `{`,
			expected: `{}`,
			fail:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingT{}
			NewJSONAsserter(rec).WithOptions(tt.opts...).Assert(tt.actual, tt.expected)
			if tt.fail {
				assert.NotEmpty(t, rec.failures, "assertion MUST fail")
			} else {
				assert.Empty(t, rec.failures, "assertion MUST pass")
			}
		})
	}
}
