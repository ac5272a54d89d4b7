package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterRefills(t *testing.T) {
	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	l := New()
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a", 2, 1))
	assert.True(t, l.Allow("a", 2, 1))
	assert.False(t, l.Allow("a", 2, 1))
	assert.True(t, l.Allow("b", 2, 1))

	now = now.Add(1500 * time.Millisecond)
	assert.True(t, l.Allow("a", 2, 1))
	assert.False(t, l.Allow("a", 2, 1))
}

func TestLimiterSweep(t *testing.T) {
	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	l := New()
	l.now = func() time.Time { return now }
	l.Allow("a", 1, 1)
	now = now.Add(time.Minute)
	l.Allow("b", 1, 1)

	assert.Equal(t, 1, l.Sweep(30*time.Second))
}
