package ratelimiter

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowPerKey(t *testing.T) {
	l := New(time.Minute, 2, time.Hour)
	now := time.Unix(1000, 0)

	assert.True(t, l.Allow("alice.1", now))
	assert.True(t, l.Allow("alice.1", now))
	assert.False(t, l.Allow("alice.1", now), "burst exhausted")
	assert.True(t, l.Allow("bob.1", now), "other keys have their own bucket")

	assert.True(t, l.Allow("alice.1", now.Add(time.Minute)), "token refilled")
}

func TestNilLimiterAllowsEverything(t *testing.T) {
	var l *MapLimiter
	assert.True(t, l.Allow("x", time.Now()))
	assert.Nil(t, New(0, 1, 0))
	assert.Equal(t, 0, l.Len())
}

func TestBlankKeyIsNotLimited(t *testing.T) {
	l := New(time.Hour, 1, 0)
	now := time.Now()
	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("  ", now))
	}
	assert.Equal(t, 0, l.Len())
}

func TestIdleKeysAreSwept(t *testing.T) {
	l := New(time.Second, 1, time.Minute)
	start := time.Unix(0, 0)
	l.Allow("stale", start)

	later := start.Add(2 * time.Minute)
	for i := 0; i < sweepEvery; i++ {
		l.Allow(fmt.Sprintf("k%d", i%3), later)
	}
	assert.Equal(t, 3, l.Len())
}
