package timekeeper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestElapsing(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	e := newElapsing(clock.now)

	clock.advance(50 * time.Millisecond)
	assert.Equal(t, 50*time.Millisecond, e.Report())

	clock.advance(10 * time.Millisecond)
	assert.NoError(t, e.Pause())
	assert.True(t, e.Paused())
	clock.advance(time.Hour)
	assert.NoError(t, e.Resume())
	clock.advance(5 * time.Millisecond)

	// the paused hour is not counted, the time before the pause is carried on
	assert.Equal(t, 15*time.Millisecond, e.Report())
	assert.Equal(t, time.Duration(0), e.Report())
}

func TestPauseResumeErrors(t *testing.T) {
	e := NewElapsing()

	assert.ErrorIs(t, e.Resume(), ErrNotPaused)
	assert.NoError(t, e.Pause())
	assert.ErrorIs(t, e.Pause(), ErrAlreadyPaused)
}

func TestReportWhilePaused(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	e := newElapsing(clock.now)

	clock.advance(20 * time.Millisecond)
	assert.NoError(t, e.Pause())
	clock.advance(time.Minute)

	assert.Equal(t, 20*time.Millisecond, e.Report())
	assert.Equal(t, time.Duration(0), e.Report())
}

func TestReset(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	e := newElapsing(clock.now)

	clock.advance(50 * time.Millisecond)
	assert.NoError(t, e.Pause())
	e.Reset()

	assert.False(t, e.Paused())
	clock.advance(time.Millisecond)
	assert.Equal(t, time.Millisecond, e.Report())
}
