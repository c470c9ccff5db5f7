package quiz

import "time"

// HeldScheduler defers countdowns while a blocking notice is on screen.
// Tickers requested while held only start on Release. Like the Controller it
// must only be used from the goroutine that owns the quiz.
type HeldScheduler struct {
	next    Scheduler
	held    bool
	pending []*heldTicker
}

func NewHeldScheduler(next Scheduler) *HeldScheduler {
	return &HeldScheduler{next: next}
}

type heldTicker struct {
	period  time.Duration
	fn      func() error
	inner   Ticker
	stopped bool
}

func (t *heldTicker) Stop() {
	t.stopped = true
	if t.inner != nil {
		t.inner.Stop()
		t.inner = nil
	}
}

func (s *HeldScheduler) Every(period time.Duration, fn func() error) Ticker {
	t := &heldTicker{period: period, fn: fn}
	if s.held {
		s.pending = append(s.pending, t)
		return t
	}

	t.inner = s.next.Every(period, fn)
	return t
}

// Hold defers every ticker requested from now until Release.
func (s *HeldScheduler) Hold() {
	s.held = true
}

func (s *HeldScheduler) Held() bool {
	return s.held
}

// Release starts the deferred tickers that were not stopped in the meantime.
// It reports whether the scheduler was held.
func (s *HeldScheduler) Release() bool {
	if !s.held {
		return false
	}
	s.held = false

	for _, t := range s.pending {
		if !t.stopped {
			t.inner = s.next.Every(t.period, t.fn)
		}
	}
	s.pending = nil

	return true
}
