package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_SlidingWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(3, time.Second)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("a"), "attempt %d", i)
		now = now.Add(100 * time.Millisecond)
	}
	assert.False(t, rl.Allow("a"))

	// The first attempt leaves the window.
	now = now.Add(750 * time.Millisecond)
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
}

func TestRateLimiter_Forget(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))

	rl.Forget("a")
	assert.True(t, rl.Allow("a"))
}

func TestRateLimiter_DisabledAndNil(t *testing.T) {
	var nilRL *RateLimiter
	assert.True(t, nilRL.Allow("a"))
	nilRL.Forget("a")

	off := NewRateLimiter(0, time.Second)
	for i := 0; i < 100; i++ {
		assert.True(t, off.Allow("a"))
	}
}
