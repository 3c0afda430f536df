package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClockIsFrozen(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewClock(start)

	assert.Equal(t, start, c.Now())
	assert.Equal(t, start, c.Now(), "repeated reads do not advance")
}

func TestClockAdvance(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewClock(start)

	c.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), c.Now())
}
