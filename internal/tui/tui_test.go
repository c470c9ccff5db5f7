package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Seednode/oddoneout/internal/quiz"
	tea "github.com/charmbracelet/bubbletea"
)

func defaultRounds(t *testing.T) quiz.Rounds {
	t.Helper()
	rounds, err := quiz.DefaultRounds()
	if err != nil {
		t.Fatalf("default rounds: %v", err)
	}
	return rounds
}

func press(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	model, ok := next.(Model)
	if !ok {
		t.Fatalf("unexpected model type %T", next)
	}
	return model, cmd
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func started(t *testing.T) Model {
	t.Helper()
	m := New(defaultRounds(t))
	t.Cleanup(m.ctrl.Close)

	m, _ = press(t, m, runes("s"))
	if m.ctrl.Phase() != quiz.Playing {
		t.Fatalf("expected playing, got %s", m.ctrl.Phase())
	}
	return m
}

func TestStartScreen(t *testing.T) {
	m := New(defaultRounds(t))
	t.Cleanup(m.ctrl.Close)

	if view := m.View(); !strings.Contains(view, "does not belong") {
		t.Fatalf("expected the start screen, got:\n%s", view)
	}

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.ctrl.Phase() != quiz.Playing {
		t.Fatalf("expected enter to start the quiz, got %s", m.ctrl.Phase())
	}
	if view := m.View(); !strings.Contains(view, "Round 1/5") {
		t.Fatalf("expected the first round header, got:\n%s", view)
	}
}

func TestPickingOddTileAdvances(t *testing.T) {
	m := started(t)

	odd := -1
	for i, item := range m.view.grid.Items {
		if item.Odd {
			odd = i
		}
	}
	if odd < 0 {
		t.Fatal("grid has no odd tile")
	}

	// A wrong pick first, when there is one to make.
	if odd != 0 {
		m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
		if q := m.ctrl.Snapshot().Progress.Question; q != 1 {
			t.Fatalf("wrong pick moved to question %d", q)
		}
	}

	for i := 0; i < odd; i++ {
		m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyRight})
	}
	if m.cursor != odd {
		t.Fatalf("expected cursor at %d, got %d", odd, m.cursor)
	}

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})
	progress := m.ctrl.Snapshot().Progress
	if progress.Question != 2 || progress.Found != 1 {
		t.Fatalf("expected question 2 with one found, got %+v", progress)
	}
}

func TestCursorStaysInsideGrid(t *testing.T) {
	m := started(t)

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyLeft})
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyUp})
	if m.cursor != 0 {
		t.Fatalf("expected cursor 0, got %d", m.cursor)
	}

	for i := 0; i < 20; i++ {
		m, _ = press(t, m, runes("l"))
	}
	if want := len(m.view.grid.Items) - 1; m.cursor != want {
		t.Fatalf("expected cursor %d, got %d", want, m.cursor)
	}

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyDown})
	if want := len(m.view.grid.Items) - 1; m.cursor != want {
		t.Fatalf("down moved past the grid to %d", m.cursor)
	}
}

func TestTicksDriveTheTimerBar(t *testing.T) {
	m := started(t)

	var msg tea.Msg
	select {
	case msg = <-m.ticks:
	case <-time.After(2 * time.Second):
		t.Fatal("no tick delivered")
	}

	m, cmd := press(t, m, msg)
	if cmd == nil {
		t.Fatal("expected the next tick to be awaited")
	}
	if m.view.percent >= 100 {
		t.Fatalf("expected the bar to shrink, got %v", m.view.percent)
	}
}

func TestQuitStopsTheQuiz(t *testing.T) {
	m := started(t)

	_, cmd := press(t, m, runes("q"))
	if cmd == nil {
		t.Fatal("expected a quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.QuitMsg")
	}
}

func TestMissingRoundQuitsWithError(t *testing.T) {
	m := New(quiz.Rounds{})
	t.Cleanup(m.ctrl.Close)

	m, cmd := press(t, m, runes("s"))
	if !errors.Is(m.err, quiz.ErrMissingRound) {
		t.Fatalf("expected ErrMissingRound, got %v", m.err)
	}
	if cmd == nil {
		t.Fatal("expected a quit command")
	}
	if view := m.View(); !strings.Contains(view, "missing round definition") {
		t.Fatalf("expected the error in the view, got:\n%s", view)
	}
}

func TestTimesUpNoticeShowsOnNextGrid(t *testing.T) {
	s := &surface{}
	s.RenderGrid(quiz.Grid{Round: 1, Question: 1})
	s.Notify(quiz.Notice{Kind: quiz.NoticeTimesUp, Text: "Time's Up!"})
	s.RenderGrid(quiz.Grid{Round: 1, Question: 2})

	if n := s.visibleNotice(); n == nil || n.Text != "Time's Up!" {
		t.Fatalf("expected the notice on the following grid, got %+v", n)
	}

	s.RenderGrid(quiz.Grid{Round: 1, Question: 3})
	if n := s.visibleNotice(); n != nil {
		t.Fatalf("expected the notice to clear, got %+v", n)
	}
}

func TestPickDismissesTimesUpBeforeSelecting(t *testing.T) {
	m := started(t)

	m.view.Notify(quiz.Notice{Kind: quiz.NoticeTimesUp, Text: "Time's Up!"})
	if !m.view.held() {
		t.Fatal("expected the countdown to be held")
	}
	if view := m.View(); !strings.Contains(view, "press enter to continue") {
		t.Fatalf("expected a dismiss hint, got:\n%s", view)
	}

	for i, item := range m.view.grid.Items {
		if item.Odd {
			m.cursor = i
		}
	}

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.view.held() {
		t.Fatal("expected enter to dismiss the notice")
	}
	if q := m.ctrl.Snapshot().Progress.Question; q != 1 {
		t.Fatalf("dismissing the notice picked a tile, now on question %d", q)
	}
}
