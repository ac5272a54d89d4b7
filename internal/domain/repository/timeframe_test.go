package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTimeframe(t *testing.T) {
	assert.Equal(t, TF1d, NormalizeTimeframe(""))
	assert.Equal(t, TF5m, NormalizeTimeframe("5m"))
	assert.Equal(t, TF1d, NormalizeTimeframe("3w"))
	assert.Equal(t, time.Hour, TF1h.Duration())
	assert.False(t, IsValidTimeframe("1s"))
}
