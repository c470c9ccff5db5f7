// Package quiz implements the odd one out state machine.
//
// A Controller walks through MaxRound rounds of QuestionsPerRound questions.
// Each question shows a grid of identical items plus one odd item; picking the
// odd item or running out of time moves on to the next question. Rendering is
// delegated to a Surface and the countdown to a Scheduler, so the same
// controller drives the browser page and the terminal view.
//
// A Controller is not safe for concurrent use. Hosts must deliver every event
// (Start, Select and scheduled ticks) from a single goroutine.
package quiz

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

const (
	QuestionsPerRound = 6
	MaxRound          = 5

	TimeLimit      = 10 * time.Second
	TickPeriod     = 100 * time.Millisecond
	PulseThreshold = time.Second
)

type Phase int

const (
	NotStarted Phase = iota
	Playing
	Complete
)

func (p Phase) String() string {
	switch p {
	case NotStarted:
		return "not_started"
	case Playing:
		return "playing"
	case Complete:
		return "complete"
	default:
		return "unknown"
	}
}

type Screen string

const (
	ScreenStart Screen = "start"
	ScreenPlay  Screen = "play"
)

type NoticeKind string

const (
	NoticeTimesUp  NoticeKind = "times_up"
	NoticeComplete NoticeKind = "complete"
)

// Notice is an end-of-question or end-of-quiz message for the player.
type Notice struct {
	Kind   NoticeKind
	Text   string
	Found  int
	Missed int
}

// Item is one tile of a rendered grid. IDs are unique per render.
type Item struct {
	ID    string
	Image string
	Glyph string
	Odd   bool
}

type Grid struct {
	Round    int
	Question int
	Title    string
	Items    []Item
}

// Progress is the mutable quiz position plus in-session tallies.
type Progress struct {
	Round     int
	Question  int
	Remaining time.Duration
	Found     int
	Missed    int
}

// Surface renders quiz state and reports selections back through
// Controller.Select.
type Surface interface {
	ShowScreen(screen Screen)
	RenderGrid(grid Grid)
	SetTimerBar(percent float64)
	SetPulse(active bool)
	Notify(notice Notice)
}

type Ticker interface {
	Stop()
}

// Scheduler runs fn every period until the returned Ticker is stopped. fn must
// be invoked on the goroutine that owns the Controller; a non-nil error is
// fatal for the quiz.
type Scheduler interface {
	Every(period time.Duration, fn func() error) Ticker
}

// State is a copy of the controller state, for bringing a new view up to date.
type State struct {
	Phase    Phase
	Progress Progress
	Grid     Grid
	Pulsing  bool
}

type Option func(*Controller)

// WithRand sets the source used to shuffle items.
func WithRand(r *rand.Rand) Option {
	return func(c *Controller) {
		c.rng = r
	}
}

// WithIDs overrides how item ids are generated.
func WithIDs(newID func() string) Option {
	return func(c *Controller) {
		c.newID = newID
	}
}

type Controller struct {
	rounds  Rounds
	surface Surface
	sched   Scheduler
	rng     *rand.Rand
	newID   func() string

	phase    Phase
	progress Progress
	grid     Grid

	ticker Ticker
	gen    uint64
}

func New(rounds Rounds, surface Surface, sched Scheduler, opts ...Option) *Controller {
	c := &Controller{
		rounds:  rounds,
		surface: surface,
		sched:   sched,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rng == nil {
		c.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return c
}

// Start moves from the start screen to the first question. It has no effect
// once the quiz has started.
func (c *Controller) Start() error {
	if c.phase != NotStarted {
		return nil
	}

	c.surface.ShowScreen(ScreenPlay)
	c.phase = Playing
	c.progress = Progress{Round: 1, Question: 1}

	return c.render()
}

// Select handles a pick of the item with the given id. Anything but the odd
// item of the current grid is ignored.
func (c *Controller) Select(id string) error {
	if c.phase != Playing {
		return nil
	}

	for _, item := range c.grid.Items {
		if item.ID != id {
			continue
		}
		if !item.Odd {
			return nil
		}

		c.stopTimer()
		c.progress.Found++
		return c.advance()
	}

	return nil
}

// Close stops the countdown. The controller ignores ticks afterwards.
func (c *Controller) Close() {
	c.stopTimer()
}

func (c *Controller) Phase() Phase {
	return c.phase
}

func (c *Controller) Snapshot() State {
	grid := c.grid
	grid.Items = append([]Item(nil), c.grid.Items...)

	return State{
		Phase:    c.phase,
		Progress: c.progress,
		Grid:     grid,
		Pulsing:  c.phase == Playing && Pulsing(c.progress.Remaining),
	}
}

func (c *Controller) render() error {
	round, ok := c.rounds.Lookup(c.progress.Round)
	if !ok {
		c.stopTimer()
		return fmt.Errorf("%w: round %d", ErrMissingRound, c.progress.Round)
	}

	c.grid = Grid{
		Round:    c.progress.Round,
		Question: c.progress.Question,
		Title:    round.Title,
		Items:    buildItems(round, c.rng, c.newID),
	}
	c.surface.RenderGrid(c.grid)

	c.startTimer()

	return nil
}

func (c *Controller) advance() error {
	c.progress = nextQuestion(c.progress)

	if c.progress.Round > MaxRound {
		c.stopTimer()
		c.phase = Complete
		c.progress.Remaining = 0
		c.surface.Notify(Notice{
			Kind:   NoticeComplete,
			Text:   "Quiz Complete!",
			Found:  c.progress.Found,
			Missed: c.progress.Missed,
		})
		return nil
	}

	return c.render()
}

func (c *Controller) startTimer() {
	c.stopTimer()

	gen := c.gen
	c.progress.Remaining = TimeLimit
	c.surface.SetTimerBar(Percent(TimeLimit))
	c.surface.SetPulse(false)

	c.ticker = c.sched.Every(TickPeriod, func() error {
		return c.tick(gen)
	})
}

// stopTimer cancels the active ticker and invalidates any tick already on
// its way to the owning goroutine.
func (c *Controller) stopTimer() {
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
	c.gen++
}

func (c *Controller) tick(gen uint64) error {
	if gen != c.gen || c.ticker == nil || c.phase != Playing {
		return nil
	}

	c.progress.Remaining -= TickPeriod
	if c.progress.Remaining < 0 {
		c.progress.Remaining = 0
	}

	c.surface.SetTimerBar(Percent(c.progress.Remaining))
	c.surface.SetPulse(Pulsing(c.progress.Remaining))

	if c.progress.Remaining > 0 {
		return nil
	}

	c.stopTimer()
	c.progress.Missed++
	c.surface.Notify(Notice{
		Kind:   NoticeTimesUp,
		Text:   "Time's Up!",
		Found:  c.progress.Found,
		Missed: c.progress.Missed,
	})

	return c.advance()
}

// nextQuestion moves to the following question, rolling over into the next
// round after QuestionsPerRound questions.
func nextQuestion(p Progress) Progress {
	if p.Question < QuestionsPerRound {
		p.Question++
	} else {
		p.Question = 1
		p.Round++
	}
	return p
}

// Percent is the timer bar fill for the given remaining time.
func Percent(remaining time.Duration) float64 {
	return float64(remaining) / float64(TimeLimit) * 100
}

func Pulsing(remaining time.Duration) bool {
	return remaining <= PulseThreshold
}

// buildItems returns count-1 common items and one odd item in uniformly
// random order.
func buildItems(round Round, rng *rand.Rand, newID func() string) []Item {
	items := make([]Item, 0, round.Count)
	for i := 0; i < round.Count-1; i++ {
		items = append(items, Item{
			ID:    newID(),
			Image: round.Common,
			Glyph: round.CommonGlyph,
		})
	}
	items = append(items, Item{
		ID:    newID(),
		Image: round.Odd,
		Glyph: round.OddGlyph,
		Odd:   true,
	})

	// Fisher-Yates
	for i := len(items) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		items[i], items[j] = items[j], items[i]
	}

	return items
}
