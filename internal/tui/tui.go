// Package tui plays the quiz in a terminal. Items are drawn as glyph tiles
// and picked with the keyboard.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Seednode/oddoneout/internal/quiz"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const columns = 5

// surface records what the controller asked to show. View reads it.
type surface struct {
	screen    quiz.Screen
	grid      quiz.Grid
	percent   float64
	pulse     bool
	notice    *quiz.Notice
	renders   int
	noticeFor int

	gate *quiz.HeldScheduler
}

func (s *surface) ShowScreen(screen quiz.Screen) { s.screen = screen }

func (s *surface) RenderGrid(grid quiz.Grid) {
	s.grid = grid
	s.renders++
}

func (s *surface) SetTimerBar(percent float64) { s.percent = percent }
func (s *surface) SetPulse(active bool)        { s.pulse = active }

func (s *surface) Notify(notice quiz.Notice) {
	s.notice = &notice
	// A time's up notice belongs to the grid rendered right after it.
	s.noticeFor = s.renders + 1

	if notice.Kind == quiz.NoticeTimesUp && s.gate != nil {
		s.gate.Hold()
	}
}

func (s *surface) held() bool {
	return s.gate != nil && s.gate.Held()
}

func (s *surface) visibleNotice() *quiz.Notice {
	if s.notice == nil {
		return nil
	}
	if s.notice.Kind == quiz.NoticeComplete || s.noticeFor == s.renders || s.held() {
		return s.notice
	}
	return nil
}

type tickMsg struct {
	fn func() error
}

type stopFunc context.CancelFunc

func (f stopFunc) Stop() { f() }

// chanScheduler hands ticks to the Bubble Tea update loop as messages.
type chanScheduler struct {
	ticks chan tickMsg
}

func (s *chanScheduler) Every(period time.Duration, fn func() error) quiz.Ticker {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case s.ticks <- tickMsg{fn: fn}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return stopFunc(cancel)
}

func waitForTick(ticks <-chan tickMsg) tea.Cmd {
	return func() tea.Msg {
		return <-ticks
	}
}

type keyMap struct {
	Up    key.Binding
	Down  key.Binding
	Left  key.Binding
	Right key.Binding
	Pick  key.Binding
	Start key.Binding
	Quit  key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Up:    key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:  key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Left:  key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/h", "left")),
		Right: key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "right")),
		Pick:  key.NewBinding(key.WithKeys("enter", " "), key.WithHelp("enter", "pick")),
		Start: key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "start")),
		Quit:  key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

type Model struct {
	ctrl   *quiz.Controller
	view   *surface
	ticks  chan tickMsg
	cursor int
	keys   keyMap
	help   help.Model
	bar    progress.Model
	hot    progress.Model
	err    error
}

func New(rounds quiz.Rounds, opts ...quiz.Option) Model {
	sched := &chanScheduler{ticks: make(chan tickMsg)}
	gate := quiz.NewHeldScheduler(sched)
	view := &surface{screen: quiz.ScreenStart, percent: 100, gate: gate}

	return Model{
		ctrl:  quiz.New(rounds, view, gate, opts...),
		view:  view,
		ticks: sched.ticks,
		keys:  defaultKeys(),
		help:  help.New(),
		bar:   progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage(), progress.WithWidth(40)),
		hot:   progress.New(progress.WithSolidFill("#FF5555"), progress.WithoutPercentage(), progress.WithWidth(40)),
	}
}

// Run plays the quiz until it is quit or fails.
func Run(rounds quiz.Rounds) error {
	p := tea.NewProgram(New(rounds), tea.WithAltScreen())

	final, err := p.Run()
	if err != nil {
		return err
	}

	m, ok := final.(Model)
	if !ok {
		return nil
	}
	m.ctrl.Close()

	return m.err
}

func (m Model) Init() tea.Cmd {
	return waitForTick(m.ticks)
}

func (m Model) fail(err error) (tea.Model, tea.Cmd) {
	m.err = err
	m.ctrl.Close()
	return m, tea.Quit
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		if err := msg.fn(); err != nil {
			return m.fail(err)
		}
		return m, waitForTick(m.ticks)

	case tea.WindowSizeMsg:
		width := min(max(msg.Width-8, 10), 60)
		m.bar.Width = width
		m.hot.Width = width
		return m, nil

	case tea.KeyMsg:
		count := len(m.view.grid.Items)

		switch {
		case key.Matches(msg, m.keys.Quit):
			m.ctrl.Close()
			return m, tea.Quit

		case key.Matches(msg, m.keys.Start):
			if err := m.ctrl.Start(); err != nil {
				return m.fail(err)
			}

		case key.Matches(msg, m.keys.Pick):
			switch m.ctrl.Phase() {
			case quiz.NotStarted:
				if err := m.ctrl.Start(); err != nil {
					return m.fail(err)
				}
			case quiz.Playing:
				if m.view.held() {
					m.view.gate.Release()
				} else if m.cursor < count {
					if err := m.ctrl.Select(m.view.grid.Items[m.cursor].ID); err != nil {
						return m.fail(err)
					}
				}
			}

		case key.Matches(msg, m.keys.Left):
			if m.cursor > 0 {
				m.cursor--
			}

		case key.Matches(msg, m.keys.Right):
			if m.cursor < count-1 {
				m.cursor++
			}

		case key.Matches(msg, m.keys.Up):
			if m.cursor-columns >= 0 {
				m.cursor -= columns
			}

		case key.Matches(msg, m.keys.Down):
			if m.cursor+columns < count {
				m.cursor += columns
			}
		}

		if n := len(m.view.grid.Items); m.cursor >= n && n > 0 {
			m.cursor = n - 1
		}
	}

	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Odd One Out"))
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render("✖ " + m.err.Error()))
		return panelStyle.Render(b.String())
	}

	if m.view.screen == quiz.ScreenStart {
		b.WriteString("Every grid hides one tile that does not belong.\n")
		b.WriteString("Find it before the bar runs out.\n\n")
		b.WriteString(m.help.ShortHelpView([]key.Binding{m.keys.Start, m.keys.Quit}))
		return panelStyle.Render(b.String())
	}

	notice := m.view.visibleNotice()

	if m.ctrl.Phase() == quiz.Complete && notice != nil {
		b.WriteString(doneStyle.Render(notice.Text))
		b.WriteString(fmt.Sprintf("\n\nFound %d, missed %d.\n\n", notice.Found, notice.Missed))
		b.WriteString(m.help.ShortHelpView([]key.Binding{m.keys.Quit}))
		return panelStyle.Render(b.String())
	}

	grid := m.view.grid
	b.WriteString(accentStyle.Render(fmt.Sprintf("Round %d/%d · Question %d/%d",
		grid.Round, quiz.MaxRound, grid.Question, quiz.QuestionsPerRound)))
	if grid.Title != "" {
		b.WriteString("  " + mutedStyle.Render(grid.Title))
	}
	b.WriteString("\n")

	if m.view.pulse {
		b.WriteString(m.hot.ViewAs(m.view.percent / 100))
	} else {
		b.WriteString(m.bar.ViewAs(m.view.percent / 100))
	}
	b.WriteString("\n\n")

	b.WriteString(m.renderGrid(grid))
	b.WriteString("\n")

	if notice != nil {
		b.WriteString(noticeStyle.Render(notice.Text))
		if m.view.held() {
			b.WriteString("  " + mutedStyle.Render("press enter to continue"))
		}
		b.WriteString("\n")
	}

	b.WriteString(m.help.ShortHelpView([]key.Binding{
		m.keys.Left, m.keys.Right, m.keys.Up, m.keys.Down, m.keys.Pick, m.keys.Quit,
	}))

	return panelStyle.Render(b.String())
}

func (m Model) renderGrid(grid quiz.Grid) string {
	rows := make([]string, 0, len(grid.Items)/columns+1)
	tiles := make([]string, 0, columns)

	for i, item := range grid.Items {
		glyph := item.Glyph
		if glyph == "" {
			glyph = "■"
			if item.Odd {
				glyph = "□"
			}
		}

		style := tileStyle
		if i == m.cursor {
			style = cursorTileStyle
		}
		tiles = append(tiles, style.Render(glyph))

		if len(tiles) == columns || i == len(grid.Items)-1 {
			rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, tiles...))
			tiles = tiles[:0]
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}
