package main

import (
	"testing"
	"time"

	"github.com/Seednode/oddoneout/internal/quiz"
)

type stepTicker struct {
	fn      func() error
	stopped bool
}

func (t *stepTicker) Stop() { t.stopped = true }

// stepScheduler only ticks when the test fires a ticker.
type stepScheduler struct {
	tickers []*stepTicker
}

func (s *stepScheduler) Every(_ time.Duration, fn func() error) quiz.Ticker {
	t := &stepTicker{fn: fn}
	s.tickers = append(s.tickers, t)
	return t
}

func (s *stepScheduler) live() []*stepTicker {
	var out []*stepTicker
	for _, t := range s.tickers {
		if !t.stopped {
			out = append(out, t)
		}
	}
	return out
}

// newSteppedHub returns a hub that is driven directly from the test
// goroutine instead of by run.
func newSteppedHub(t *testing.T) (*Hub, *stepScheduler, *Client) {
	t.Helper()

	rounds, err := quiz.DefaultRounds()
	if err != nil {
		t.Fatalf("default rounds: %v", err)
	}

	h := newHub(testConfig(), "stepped", rounds)
	sched := &stepScheduler{}
	h.gate = quiz.NewHeldScheduler(sched)
	h.quiz = quiz.New(rounds, h, h.gate)
	t.Cleanup(h.quiz.Close)

	c := &Client{send: make(chan any, 1024)}
	h.clients[c] = true

	return h, sched, c
}

func drained(c *Client) []any {
	var out []any
	for {
		select {
		case msg := <-c.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func oddItem(t *testing.T, h *Hub) string {
	t.Helper()
	for _, item := range h.quiz.Snapshot().Grid.Items {
		if item.Odd {
			return item.ID
		}
	}
	t.Fatal("grid has no odd item")
	return ""
}

func runOut(t *testing.T, sched *stepScheduler) {
	t.Helper()

	live := sched.live()
	if len(live) != 1 {
		t.Fatalf("expected one running countdown, got %d", len(live))
	}
	for i := 0; i < int(quiz.TimeLimit/quiz.TickPeriod); i++ {
		if err := live[0].fn(); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}
}

func TestTimesUpWaitsForAcknowledgement(t *testing.T) {
	h, sched, c := newSteppedHub(t)

	if err := h.handleAction(ClientMessage{Type: "start"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	runOut(t, sched)

	if q := h.quiz.Snapshot().Progress.Question; q != 2 {
		t.Fatalf("expected question 2 on screen, got %d", q)
	}
	if live := sched.live(); len(live) != 0 {
		t.Fatalf("expected no countdown before the notice is dismissed, got %d", len(live))
	}

	var notified bool
	for _, msg := range drained(c) {
		if n, ok := msg.(NoticeMessage); ok && n.Kind == string(quiz.NoticeTimesUp) {
			notified = true
		}
	}
	if !notified {
		t.Fatal("expected a time's up notice")
	}

	// Picks behind the notice do not count.
	if err := h.handleAction(ClientMessage{Type: "select", Item: oddItem(t, h)}); err != nil {
		t.Fatalf("select: %v", err)
	}
	if q := h.quiz.Snapshot().Progress.Question; q != 2 {
		t.Fatalf("a pick behind the notice moved to question %d", q)
	}

	late := &Client{send: make(chan any, 8)}
	h.clients[late] = true
	h.sendSnapshot(late)
	snapshot := drained(late)
	if n, ok := snapshot[len(snapshot)-1].(NoticeMessage); !ok || n.Kind != string(quiz.NoticeTimesUp) {
		t.Fatalf("expected a late joiner to see the pending notice, got %+v", snapshot)
	}

	if err := h.handleAction(ClientMessage{Type: "ack"}); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if live := sched.live(); len(live) != 1 {
		t.Fatalf("expected the countdown to start on ack, got %d", len(live))
	}
	resumed := 0
	for _, msg := range drained(c) {
		if m, ok := msg.(SimpleMessage); ok && m.Type == "resume" {
			resumed++
		}
	}
	if resumed != 1 {
		t.Fatalf("expected one resume message, got %d", resumed)
	}

	if err := h.handleAction(ClientMessage{Type: "ack"}); err != nil {
		t.Fatalf("second ack: %v", err)
	}
	if live := sched.live(); len(live) != 1 {
		t.Fatalf("a second ack changed the countdowns: %d running", len(live))
	}
	for _, msg := range drained(c) {
		if m, ok := msg.(SimpleMessage); ok && m.Type == "resume" {
			t.Fatal("a second ack broadcast another resume")
		}
	}

	if err := h.handleAction(ClientMessage{Type: "select", Item: oddItem(t, h)}); err != nil {
		t.Fatalf("select: %v", err)
	}
	if q := h.quiz.Snapshot().Progress.Question; q != 3 {
		t.Fatalf("expected question 3 after the pick, got %d", q)
	}
}

func TestCorrectPickKeepsCountdownRunning(t *testing.T) {
	h, sched, _ := newSteppedHub(t)

	if err := h.handleAction(ClientMessage{Type: "start"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.handleAction(ClientMessage{Type: "select", Item: oddItem(t, h)}); err != nil {
		t.Fatalf("select: %v", err)
	}

	if h.gate.Held() || h.held != nil {
		t.Fatal("a correct pick must not hold the countdown")
	}
	if live := sched.live(); len(live) != 1 {
		t.Fatalf("expected the next countdown to run at once, got %d", len(live))
	}
}
