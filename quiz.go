// Odd One Out web game
//
// Each quiz session lives at /quiz/:gameid. The page is only a renderer: the
// controller runs server-side inside the session hub, and the page receives
// render instructions over a websocket and reports clicks back.
//
// Features:
// - WebSockets per game ID: /quiz/:gameid and /quiz/:gameid/ws
// - Every connection to a game sees the same grid; any of them may pick
// - All events for a session (start, picks, timer ticks) are handled one at a
//   time by the hub goroutine
// - The odd item is never revealed to clients; picks are by opaque item id
// - Late joiners are brought up to date from a controller snapshot
// - "Time's Up!" holds the next countdown until any player dismisses it
// - Games auto-reaped after configurable idle timeout
// - Random 8-char game IDs via crypto/rand, with server-side collision check
// - In-browser QR button to share the current session, backed by go-qrcode

package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Seednode/oddoneout/internal/quiz"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Messages coming from clients
type ClientMessage struct {
	Type string `json:"type"`           // "start", "select", "ack"
	Item string `json:"item,omitempty"` // select
}

// ScreenMessage switches the page between the start and play screens.
type ScreenMessage struct {
	Type   string `json:"type"` // "screen"
	Screen string `json:"screen"`
}

type GridItem struct {
	ID    string `json:"id"`
	Image string `json:"image"`
}

// GridMessage replaces the rendered grid.
type GridMessage struct {
	Type     string     `json:"type"`   // "grid"
	Layout   string     `json:"layout"` // css class, e.g. "grid-5"
	Round    int        `json:"round"`
	Question int        `json:"question"`
	Rounds   int        `json:"rounds"`
	PerRound int        `json:"per_round"`
	Title    string     `json:"title,omitempty"`
	Items    []GridItem `json:"items"`
}

// TimerMessage carries the timer bar fill and pulse state.
type TimerMessage struct {
	Type    string  `json:"type"` // "timer"
	Percent float64 `json:"percent"`
	Pulse   bool    `json:"pulse"`
}

// NoticeMessage is "Time's Up!" or "Quiz Complete!".
type NoticeMessage struct {
	Type    string `json:"type"` // "notice"
	Kind    string `json:"kind"` // "times_up", "complete"
	Message string `json:"message"`
	Found   int    `json:"found"`
	Missed  int    `json:"missed"`
}

// SimpleMessage is for generic notifications ("error", "resume").
type SimpleMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type Client struct {
	conn *websocket.Conn
	send chan any
}

type Hub struct {
	id  string
	cfg *Config

	clients map[*Client]bool
	quiz    *quiz.Controller
	gate    *quiz.HeldScheduler

	// held is the time's up notice waiting to be dismissed, if any.
	held *NoticeMessage

	percent float64
	pulse   bool

	register chan *Client
	unreg    chan *Client
	actions  chan ClientMessage
	ticks    chan func() error
	done     chan struct{}
	stopOnce sync.Once

	mu         sync.RWMutex
	createdAt  time.Time
	lastActive time.Time
}

func newHub(cfg *Config, gameID string, rounds quiz.Rounds) *Hub {
	now := time.Now()
	h := &Hub{
		id:         gameID,
		cfg:        cfg,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unreg:      make(chan *Client),
		actions:    make(chan ClientMessage),
		ticks:      make(chan func() error),
		done:       make(chan struct{}),
		createdAt:  now,
		lastActive: now,
		percent:    100,
	}
	h.gate = quiz.NewHeldScheduler(h)
	h.quiz = quiz.New(rounds, h, h.gate)
	return h
}

type hubTicker context.CancelFunc

func (t hubTicker) Stop() { t() }

// Every implements quiz.Scheduler. Ticks are handed to the hub goroutine, so
// the controller only ever runs there.
func (h *Hub) Every(period time.Duration, fn func() error) quiz.Ticker {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-h.done:
				return
			case <-ticker.C:
				select {
				case h.ticks <- fn:
				case <-ctx.Done():
					return
				case <-h.done:
					return
				}
			}
		}
	}()

	return hubTicker(cancel)
}

func (h *Hub) ShowScreen(screen quiz.Screen) {
	h.broadcast(ScreenMessage{
		Type:   "screen",
		Screen: string(screen),
	})
}

func (h *Hub) RenderGrid(grid quiz.Grid) {
	h.broadcast(h.gridMessage(grid))
}

func (h *Hub) SetTimerBar(percent float64) {
	h.percent = percent
	h.broadcast(h.timerMessage())
}

func (h *Hub) SetPulse(active bool) {
	if h.pulse == active {
		return
	}
	h.pulse = active
	h.broadcast(h.timerMessage())
}

func (h *Hub) Notify(notice quiz.Notice) {
	logf(h.cfg, "GAMES: %s in %s (found %d, missed %d)", notice.Text, h.id, notice.Found, notice.Missed)

	msg := noticeMessage(notice)
	switch notice.Kind {
	case quiz.NoticeTimesUp:
		// The next countdown waits until a player dismisses the notice.
		h.gate.Hold()
		h.held = &msg
	case quiz.NoticeComplete:
		h.held = nil
	}

	h.broadcast(msg)
}

func (h *Hub) gridMessage(grid quiz.Grid) GridMessage {
	items := make([]GridItem, 0, len(grid.Items))
	for _, item := range grid.Items {
		items = append(items, GridItem{
			ID:    item.ID,
			Image: h.cfg.prefix + "/assets/images/" + item.Image,
		})
	}

	return GridMessage{
		Type:     "grid",
		Layout:   fmt.Sprintf("grid-%d", len(grid.Items)),
		Round:    grid.Round,
		Question: grid.Question,
		Rounds:   quiz.MaxRound,
		PerRound: quiz.QuestionsPerRound,
		Title:    grid.Title,
		Items:    items,
	}
}

func (h *Hub) timerMessage() TimerMessage {
	return TimerMessage{
		Type:    "timer",
		Percent: h.percent,
		Pulse:   h.pulse,
	}
}

func noticeMessage(notice quiz.Notice) NoticeMessage {
	return NoticeMessage{
		Type:    "notice",
		Kind:    string(notice.Kind),
		Message: notice.Text,
		Found:   notice.Found,
		Missed:  notice.Missed,
	}
}

// sendSnapshot brings a newly registered client up to date.
func (h *Hub) sendSnapshot(c *Client) {
	state := h.quiz.Snapshot()

	msgs := make([]any, 0, 3)
	switch state.Phase {
	case quiz.NotStarted:
		msgs = append(msgs, ScreenMessage{Type: "screen", Screen: string(quiz.ScreenStart)})
	case quiz.Playing:
		msgs = append(msgs,
			ScreenMessage{Type: "screen", Screen: string(quiz.ScreenPlay)},
			h.gridMessage(state.Grid),
			TimerMessage{
				Type:    "timer",
				Percent: quiz.Percent(state.Progress.Remaining),
				Pulse:   state.Pulsing,
			},
		)
		if h.held != nil {
			msgs = append(msgs, *h.held)
		}
	case quiz.Complete:
		msgs = append(msgs,
			ScreenMessage{Type: "screen", Screen: string(quiz.ScreenPlay)},
			noticeMessage(quiz.Notice{
				Kind:   quiz.NoticeComplete,
				Text:   "Quiz Complete!",
				Found:  state.Progress.Found,
				Missed: state.Progress.Missed,
			}),
		)
	}

	for _, msg := range msgs {
		if !h.sendTo(c, msg) {
			return
		}
	}
}

// sendTo queues msg for c, dropping the client if its buffer is full.
func (h *Hub) sendTo(c *Client, msg any) bool {
	select {
	case c.send <- msg:
		return true
	default:
		delete(h.clients, c)
		close(c.send)
		return false
	}
}

func (h *Hub) broadcast(msg any) {
	for client := range h.clients {
		h.sendTo(client, msg)
	}
}

func (h *Hub) touch() {
	h.mu.Lock()
	h.lastActive = time.Now()
	h.mu.Unlock()
}

func (h *Hub) idleSince() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastActive
}

// shutdown asks the hub goroutine to stop. Safe to call more than once.
func (h *Hub) shutdown() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

func (h *Hub) closed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *Hub) handleAction(msg ClientMessage) error {
	switch msg.Type {
	case "start":
		if h.quiz.Phase() == quiz.NotStarted {
			logf(h.cfg, "GAMES: Started quiz %s", h.id)
		}
		return h.quiz.Start()
	case "select":
		if msg.Item == "" || h.gate.Held() {
			return nil
		}
		return h.quiz.Select(msg.Item)
	case "ack":
		if h.gate.Release() {
			h.held = nil
			h.broadcast(SimpleMessage{Type: "resume"})
		}
	}
	return nil
}

// run owns the controller and every client of this hub until shutdown or a
// fatal quiz error.
func (h *Hub) run() {
	defer func() {
		h.quiz.Close()
		h.shutdown()
		logf(h.cfg, "GAMES: Closed %s after %s", h.id, time.Since(h.createdAt).Round(time.Second))
		for c := range h.clients {
			close(c.send)
			delete(h.clients, c)
		}
	}()

	for {
		select {
		case c := <-h.register:
			h.touch()
			h.clients[c] = true
			h.sendSnapshot(c)

		case c := <-h.unreg:
			h.touch()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}

		case msg := <-h.actions:
			h.touch()
			if err := h.handleAction(msg); err != nil {
				h.fail(err)
				return
			}

		case fn := <-h.ticks:
			if err := fn(); err != nil {
				h.fail(err)
				return
			}

		case <-h.done:
			return
		}
	}
}

func (h *Hub) fail(err error) {
	errorf("quiz %s stopped: %v", h.id, err)

	h.broadcast(SimpleMessage{
		Type:    "error",
		Message: "This quiz cannot continue: " + err.Error(),
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// GameManager holds a set of hubs keyed by game ID, so each /quiz/:gameid
// is its own isolated session.
type GameManager struct {
	mu          sync.Mutex
	hubs        map[string]*Hub
	idleTimeout time.Duration
	rounds      quiz.Rounds
}

func newGameManager(ctx context.Context, rounds quiz.Rounds, idleTimeout time.Duration) *GameManager {
	gm := &GameManager{
		hubs:        make(map[string]*Hub),
		idleTimeout: idleTimeout,
		rounds:      rounds,
	}
	if idleTimeout > 0 {
		go gm.reaperLoop(ctx)
	}
	return gm
}

// getHub returns the running hub for gameID, replacing one that has stopped.
func (gm *GameManager) getHub(cfg *Config, gameID string) *Hub {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	if hub, ok := gm.hubs[gameID]; ok && !hub.closed() {
		return hub
	}

	hub := newHub(cfg, gameID, gm.rounds)
	gm.hubs[gameID] = hub
	go hub.run()
	return hub
}

// newGameID generates a crypto-random quiz ID that no live session uses.
func (gm *GameManager) newGameID() string {
	const (
		letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
		idLen   = 8
	)

	buf := make([]byte, idLen)
	for {
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		for i, b := range buf {
			buf[i] = letters[int(b)%len(letters)]
		}
		id := string(buf)

		gm.mu.Lock()
		_, exists := gm.hubs[id]
		gm.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// reaperLoop periodically removes hubs that have been idle longer than
// idleTimeout, and all hubs once ctx is done.
func (gm *GameManager) reaperLoop(ctx context.Context) {
	ticker := time.NewTicker(gm.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			gm.mu.Lock()
			for id, hub := range gm.hubs {
				delete(gm.hubs, id)
				hub.shutdown()
			}
			gm.mu.Unlock()
			return
		case <-ticker.C:
		}

		cutoff := time.Now().Add(-gm.idleTimeout)

		gm.mu.Lock()
		for id, hub := range gm.hubs {
			if hub.closed() || hub.idleSince().Before(cutoff) {
				delete(gm.hubs, id)
				hub.shutdown()
			}
		}
		gm.mu.Unlock()
	}
}

// WebSocket handler that picks the hub based on :gameid
func serveWSForManager(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		if gameID == "" {
			http.Error(w, "missing game id", http.StatusBadRequest)
			return
		}

		hub := gm.getHub(cfg, gameID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			errorf("upgrade failed for %s: %v", realIP(r), err)
			return
		}

		client := &Client{
			conn: conn,
			send: make(chan any, 32),
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			_ = conn.Close()
			return
		}

		logf(cfg, "GAMES: %s connected to %s", realIP(r), gameID)

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unreg <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "start", "select", "ack":
			select {
			case h.actions <- msg:
			case <-h.done:
				return
			}
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the current game URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	gameID := ps.ByName("gameid")
	if gameID == "" {
		http.Error(w, "missing game id", http.StatusBadRequest)
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:gameid/qr; strip trailing "/qr" to get the game URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

func getIndexHandler(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		data, err := assets.ReadFile("assets/quiz/index.html")
		if err != nil {
			errs <- err
			http.Error(w, "page unavailable", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		securityHeaders(cfg, w)

		_, err = w.Write(data)
		if err != nil {
			errs <- err
		}
	}
}

// redirectNewGame handles GET /quiz by generating a new random game ID
// (with server-side collision detection) and redirecting to /quiz/:gameid.
func redirectNewGame(cfg *Config, path string, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		gameID := gm.newGameID()
		logf(cfg, "GAMES: Created game %s%s/%s", cfg.prefix, path, gameID)
		http.Redirect(w, r, cfg.prefix+path+"/"+gameID, http.StatusTemporaryRedirect)
	}
}

// registerQuizGame sets up routes so that:
//   - $path                  → redirects to new random game (8-char ID)
//   - $path/:gameid          → HTML client
//   - $path/:gameid/ws       → WebSocket for that game
//   - $path/:gameid/qr       → PNG QR code for that game URL
func registerQuizGame(ctx context.Context, cfg *Config, path string, rounds quiz.Rounds, mux *httprouter.Router, errs chan<- error) *GameManager {
	gm := newGameManager(ctx, rounds, cfg.sessionTimeout)

	mux.GET(cfg.prefix+path, redirectNewGame(cfg, path, gm))

	mux.GET(cfg.prefix+path+"/:gameid", getIndexHandler(cfg, errs))

	mux.GET(cfg.prefix+path+"/:gameid/ws", serveWSForManager(cfg, gm))

	mux.GET(cfg.prefix+path+"/:gameid/qr", qrHandler)

	return gm
}
