package availability

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func newTestTracker(disableFor time.Duration) *Tracker {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewTracker(disableFor, logger)
}

func TestTracker_UnknownModelIsAvailable(t *testing.T) {
	tracker := newTestTracker(time.Minute)
	assert.True(t, tracker.IsAvailable("claude-3-haiku-20240307"))
}

func TestTracker_MarkFailureDisables(t *testing.T) {
	tracker := newTestTracker(time.Minute)

	tracker.MarkFailure("gpt-4o")
	assert.False(t, tracker.IsAvailable("gpt-4o"))
	assert.Equal(t, []string{"gpt-4o"}, tracker.DisabledModels())
}

func TestTracker_MarkSuccessReenables(t *testing.T) {
	tracker := newTestTracker(time.Minute)

	tracker.MarkFailure("gpt-4o")
	tracker.MarkSuccess("gpt-4o")
	assert.True(t, tracker.IsAvailable("gpt-4o"))
	assert.Empty(t, tracker.DisabledModels())
}

func TestTracker_LazyExpiry(t *testing.T) {
	tracker := newTestTracker(time.Minute)

	current := time.Now()
	tracker.now = func() time.Time { return current }

	tracker.MarkFailure("gpt-4o")
	assert.False(t, tracker.IsAvailable("gpt-4o"))

	// Move past the cooldown with no explicit MarkSuccess.
	current = current.Add(time.Minute + time.Second)
	assert.True(t, tracker.IsAvailable("gpt-4o"))

	// The record is gone, not just masked.
	assert.Empty(t, tracker.DisabledModels())
}

func TestTracker_FailureOverwritesDeadline(t *testing.T) {
	tracker := newTestTracker(time.Minute)

	current := time.Now()
	tracker.now = func() time.Time { return current }

	tracker.MarkFailure("gpt-4o")
	current = current.Add(50 * time.Second)
	tracker.MarkFailure("gpt-4o")

	// 20s after the second failure the first deadline would have passed.
	current = current.Add(20 * time.Second)
	assert.False(t, tracker.IsAvailable("gpt-4o"))
}

func TestTracker_DisabledModelsSweepsExpired(t *testing.T) {
	tracker := newTestTracker(time.Minute)

	current := time.Now()
	tracker.now = func() time.Time { return current }

	tracker.MarkFailure("a")
	current = current.Add(30 * time.Second)
	tracker.MarkFailure("b")
	current = current.Add(45 * time.Second)

	disabled := tracker.DisabledModels()
	assert.Equal(t, []string{"b"}, disabled)
}

func TestTracker_Reset(t *testing.T) {
	tracker := newTestTracker(time.Minute)

	tracker.MarkFailure("a")
	tracker.MarkFailure("b")
	tracker.Reset()

	assert.True(t, tracker.IsAvailable("a"))
	assert.True(t, tracker.IsAvailable("b"))
}

func TestTracker_DefaultDuration(t *testing.T) {
	tracker := newTestTracker(0)
	assert.Equal(t, DefaultDisableDuration, tracker.disableFor)
}

func TestTracker_ConcurrentAccess(t *testing.T) {
	tracker := newTestTracker(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				switch j % 3 {
				case 0:
					tracker.MarkFailure("shared")
				case 1:
					tracker.MarkSuccess("shared")
				default:
					tracker.IsAvailable("shared")
				}
			}
		}(i)
	}
	wg.Wait()
}
