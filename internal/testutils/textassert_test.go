package testutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextAsserter(t *testing.T) {
	tests := []struct {
		name     string
		opts     []TextOption
		actual   string
		expected string
		fail     bool
	}{
		{name: "identical", actual: "a\nb", expected: "a\nb"},
		{name: "different", actual: "a\nb", expected: "a\nc", fail: true},
		{name: "trailing whitespace", opts: []TextOption{WithIgnoreTrailingWhitespace(true)}, actual: "a  \nb\t", expected: "a\nb"},
		{name: "empty lines", opts: []TextOption{WithIgnoreEmptyLines(true)}, actual: "a\n\n\nb", expected: "a\nb"},
		{name: "trim space", opts: []TextOption{WithTrimSpace(true)}, actual: "\n a\nb \n", expected: "a\nb"},
		{name: "colored diff still fails", opts: []TextOption{WithEnableColors(true)}, actual: "x", expected: "y", fail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingT{}
			NewTextAsserter(rec).WithOptions(tt.opts...).Assert(tt.actual, tt.expected)
			if tt.fail {
				assert.NotEmpty(t, rec.failures, "assertion MUST fail")
				assert.Contains(t, rec.failures[0], "expected", "failure MUST include a unified diff")
			} else {
				assert.Empty(t, rec.failures, "assertion MUST pass")
			}
		})
	}
}
