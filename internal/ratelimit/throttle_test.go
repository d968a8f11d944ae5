package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLogThrottleCoalesces(t *testing.T) {
	th := NewLogThrottle(time.Hour)

	assert.True(t, th.Allow(), "first line should pass")
	assert.False(t, th.Allow())
	assert.False(t, th.Allow())
	assert.False(t, th.Allow())

	assert.Equal(t, int64(3), th.TakeSuppressed())
	assert.Equal(t, int64(0), th.TakeSuppressed(), "count resets after take")
}

func TestLogThrottleRecovers(t *testing.T) {
	th := NewLogThrottle(20 * time.Millisecond)

	assert.True(t, th.Allow())
	assert.False(t, th.Allow())

	time.Sleep(30 * time.Millisecond)
	assert.True(t, th.Allow(), "a line should pass after the interval")
	assert.Equal(t, int64(1), th.TakeSuppressed())
}
