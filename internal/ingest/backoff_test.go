package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"hazardguard/internal/config"
)

func fastConfig() config.SupervisorConfig {
	return config.SupervisorConfig{
		ReconnectInterval: time.Second,
		MaxBackoff:        time.Minute,
		MaxFastAttempts:   5,
		FallbackInterval:  30 * time.Minute,
		GracePeriod:       time.Minute,
	}
}

func TestBackoffFallsBackAfterFastAttempts(t *testing.T) {
	b := NewBackoff(fastConfig())
	var waits []time.Duration
	for i := 0; i < 4; i++ {
		wait, fallback := b.Next()
		assert.False(t, fallback)
		waits = append(waits, wait)
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, waits)

	wait, fallback := b.Next()
	assert.True(t, fallback, "fifth consecutive failure schedules the sixth attempt at the fallback interval")
	assert.Equal(t, 30*time.Minute, wait)

	wait, fallback = b.Next()
	assert.True(t, fallback)
	assert.Equal(t, 30*time.Minute, wait)

	b.Reset()
	wait, fallback = b.Next()
	assert.False(t, fallback)
	assert.Equal(t, time.Second, wait)
}

func TestBackoffIsMonotonicAndCapped(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxFastAttempts = 0
	b := NewBackoff(cfg)
	prev := time.Duration(0)
	for i := 0; i < 40; i++ {
		wait, fallback := b.Next()
		assert.False(t, fallback)
		assert.GreaterOrEqual(t, wait, prev)
		assert.LessOrEqual(t, wait, time.Minute)
		prev = wait
	}
	assert.Equal(t, time.Minute, prev)
}

func TestBackoffJitterStaysInRange(t *testing.T) {
	cfg := fastConfig()
	cfg.Jitter = true
	b := NewBackoff(cfg)
	b.jitter = func(n int64) int64 { return n - 1 }
	wait, _ := b.Next()
	assert.Equal(t, time.Second, wait)

	b.jitter = func(int64) int64 { return 0 }
	wait, _ = b.Next()
	assert.Equal(t, time.Second, wait, "half of the 2s step")
}

func TestBackoffWithJitterNeverDecreases(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxFastAttempts = 0
	cfg.Jitter = true
	b := NewBackoff(cfg)
	prev := time.Duration(0)
	for i := 0; i < 200; i++ {
		wait, _ := b.Next()
		assert.GreaterOrEqual(t, wait, prev, "attempt %d", i+1)
		assert.LessOrEqual(t, wait, time.Minute)
		prev = wait
	}
}

func TestBackoffJitterAtCapKeepsPreviousWait(t *testing.T) {
	b := NewBackoff(config.SupervisorConfig{
		ReconnectInterval: time.Minute,
		MaxBackoff:        2 * time.Minute,
		Jitter:            true,
	})
	b.jitter = func(n int64) int64 { return n - 1 }
	var waits []time.Duration
	for i := 0; i < 3; i++ {
		wait, _ := b.Next()
		waits = append(waits, wait)
	}
	b.jitter = func(int64) int64 { return 0 }
	wait, _ := b.Next()
	waits = append(waits, wait)
	assert.Equal(t, []time.Duration{time.Minute, 2 * time.Minute, 2 * time.Minute, 2 * time.Minute}, waits)

	b.Reset()
	wait, _ = b.Next()
	assert.Equal(t, 30*time.Second, wait, "reset forgets the previous wait")
}
