// Package timekeeper measures running time that can be paused, e.g. the
// bundler uptime which stops counting while bundling is in manual mode.
package timekeeper

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrAlreadyPaused = errors.New("elapsing is paused already")
	ErrNotPaused     = errors.New("elapsing is not paused")
)

type Elapsing struct {
	mu  sync.Mutex
	now func() time.Time

	// Now carries a monotonic reading so deltas survive wall clock jumps.
	checkpoint time.Time
	carryOn    time.Duration
	paused     bool
}

func NewElapsing() *Elapsing {
	return newElapsing(time.Now)
}

func newElapsing(now func() time.Time) *Elapsing {
	return &Elapsing{now: now, checkpoint: now()}
}

// Pause keeps the time accrued so far for the next Report.
func (e *Elapsing) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.paused {
		return ErrAlreadyPaused
	}
	e.carryOn += e.now().Sub(e.checkpoint)
	e.paused = true
	return nil
}

func (e *Elapsing) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.paused {
		return ErrNotPaused
	}
	e.checkpoint = e.now()
	e.paused = false
	return nil
}

func (e *Elapsing) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *Elapsing) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.paused = false
	e.carryOn = 0
	e.checkpoint = e.now()
}

// Report returns the running time since the previous Report and starts a new
// period.
func (e *Elapsing) Report() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	total := e.carryOn
	e.carryOn = 0
	if e.paused {
		return total
	}

	now := e.now()
	total += now.Sub(e.checkpoint)
	e.checkpoint = now
	return total
}
