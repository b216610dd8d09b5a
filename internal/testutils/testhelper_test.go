package testutils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixedClock(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	forward := FixedClock(start, time.Second)
	assert.Equal(t, start, forward(), "first call MUST return start")
	assert.Equal(t, start.Add(time.Second), forward(), "clock MUST advance by step")

	backward := FixedClock(start, -time.Second)
	backward()
	assert.Equal(t, start.Add(-time.Second), backward(), "negative step MUST run backwards")
}
