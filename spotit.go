// Partybox Spot It
//
// Two cards are dealt each round, and every player looks for the one symbol
// they share. The first correct guess scores a point, the match is revealed,
// and a new pair is dealt. If nobody finds it before the timer runs out, a new
// pair is dealt anyway.
//
// Features:
// - Rooms per 6-character code: /spotit/:code and /spotit/:code/ws
// - Two players per room, or one in solo mode
// - Players identified by cookie, so a reload keeps the seat and score
// - Each player sees the pair in a different order
// - Guesses are case-insensitive; the first correct one wins the round
// - Rounds expire after a configurable duration
// - Rooms are reaped once empty or idle for too long
// - QR code per room for sharing, backed by go-qrcode

package main

import (
	"crypto/rand"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Seednode/spotbox/games/spotit"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const (
	maxPlayers   = 2
	roomCodeLen  = 6
	roomCodeChar = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Player holds the data we store server-side
type Player struct {
	ID    string // cookie
	Slot  string // public id, "player_N"
	Name  string
	Score int
	Cards []spotit.Card
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID string
}

type inbound struct {
	client *Client
	msg    ClientMessage
}

type Hub struct {
	cfg     *Config
	code    string
	solo    bool
	symbols []string

	clients map[*Client]bool
	players []*Player

	register chan *Client
	unreg    chan *Client
	inbox    chan inbound
	removals chan string
	quit     chan struct{}
	stopOnce sync.Once

	mu sync.RWMutex

	createdAt  time.Time
	lastActive time.Time
	emptySince time.Time // zero while anyone is connected

	deck        *spotit.Deck
	gameStarted bool
	round       int
	pair        [2]spotit.Card
	match       string // empty when the dealt pair has no single match
	winner      string // slot of this round's winner
	roundEnds   time.Time

	// Only touched by run.
	roundTimer  *time.Timer
	roundC      <-chan time.Time
	revealTimer *time.Timer
	revealC     <-chan time.Time
}

func newHub(cfg *Config, code string, solo bool, symbols []string) *Hub {
	now := time.Now()
	return &Hub{
		cfg:        cfg,
		code:       code,
		solo:       solo,
		symbols:    symbols,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unreg:      make(chan *Client),
		inbox:      make(chan inbound),
		removals:   make(chan string),
		quit:       make(chan struct{}),
		createdAt:  now,
		lastActive: now,
		emptySince: now,
	}
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.handleRegister(c)
		case c := <-h.unreg:
			h.handleUnregister(c)
		case in := <-h.inbox:
			h.handleMessage(in)
		case id := <-h.removals:
			h.handleRemoval(id)
		case <-h.roundC:
			h.handleRoundExpired()
		case <-h.revealC:
			h.handleRevealDone()
		case <-h.quit:
			h.closeAll()
			return
		}
	}
}

// stop ends the hub's run loop and disconnects everyone. Safe to call more
// than once.
func (h *Hub) stop() {
	h.stopOnce.Do(func() {
		close(h.quit)
	})
}

// deliver hands v to the run loop unless the hub has stopped.
func deliver[T any](h *Hub, ch chan T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-h.quit:
		return false
	}
}

func (h *Hub) handleRegister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	p := h.playerLocked(c.playerID)
	rejoined := p != nil

	if p == nil {
		if h.fullLocked() {
			select {
			case c.send <- NoticeMessage{Type: MsgError, Message: "Room is full"}:
			default:
			}
			close(c.send)
			return
		}

		p = h.addPlayerLocked(c.playerID)
		if h.gameStarted {
			h.handCardsLocked(p, len(h.players)-1)
		}
		logf(h.cfg, "GAMES: %s joined %s", p.Name, h.code)
	}

	h.clients[c] = true
	h.emptySince = time.Time{}

	h.sendLocked(c, ConnectedMessage{
		Type:       MsgConnected,
		PlayerID:   p.Slot,
		PlayerName: p.Name,
		RoomCode:   h.code,
	})

	h.broadcastLocked(PlayerMessage{
		Type:       MsgPlayerJoined,
		PlayerID:   p.Slot,
		PlayerName: p.Name,
		State:      h.stateLocked(),
	}, c.playerID)

	h.sendLocked(c, StateMessage{Type: MsgStateUpdate, State: h.stateLocked()})

	if rejoined || !h.fullLocked() {
		return
	}

	if h.solo {
		h.sendLocked(c, NoticeMessage{Type: MsgRoomReady, Message: "Ready to play solo! Click Start Game."})
	} else {
		h.broadcastLocked(NoticeMessage{Type: MsgRoomFull, Message: "Both players connected! Ready to start."}, "")
	}
}

func (h *Hub) handleUnregister(c *Client) {
	h.mu.Lock()
	h.dropLocked(c)
	h.lastActive = time.Now()
	if len(h.clients) == 0 {
		h.emptySince = h.lastActive
	}
	h.mu.Unlock()

	if c.playerID != "" {
		id := c.playerID
		time.AfterFunc(h.cfg.playerTimeout, func() {
			deliver(h, h.removals, id)
		})
	}
}

// handleRemoval drops a player whose grace period ran out without a
// reconnect.
func (h *Hub) handleRemoval(playerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		if c.playerID == playerID {
			return
		}
	}

	var gone *Player
	kept := h.players[:0]
	for _, p := range h.players {
		if p.ID == playerID {
			gone = p
			continue
		}
		kept = append(kept, p)
	}
	h.players = kept

	if gone == nil {
		return
	}

	h.lastActive = time.Now()
	logf(h.cfg, "GAMES: %s left %s", gone.Name, h.code)

	if len(h.players) == 0 {
		h.endGameLocked()
	}

	h.broadcastLocked(PlayerMessage{
		Type:     MsgPlayerLeft,
		PlayerID: gone.Slot,
		State:    h.stateLocked(),
	}, "")
}

// handleMessage acts on messages from seated, connected clients only.
// Rejected or dropped sockets still read until they close.
func (h *Hub) handleMessage(in inbound) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.clients[in.client] || h.playerLocked(in.client.playerID) == nil {
		return
	}

	h.lastActive = time.Now()

	switch in.msg.Type {
	case MsgStartGame:
		if h.fullLocked() && !h.gameStarted {
			h.startGameLocked()
		}
	case MsgGuess:
		h.guessLocked(in.client, in.msg.Guess)
	case MsgNextRound:
		if h.gameStarted {
			h.nextRoundLocked()
		}
	case MsgPing:
		h.sendLocked(in.client, NoticeMessage{Type: MsgPong})
	}
}

func (h *Hub) playerLocked(id string) *Player {
	for _, p := range h.players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (h *Hub) fullLocked() bool {
	if h.solo {
		return len(h.players) >= 1
	}
	return len(h.players) >= maxPlayers
}

func (h *Hub) addPlayerLocked(id string) *Player {
	n := 1
	for h.slotTakenLocked("player_" + strconv.Itoa(n)) {
		n++
	}

	p := &Player{
		ID:   id,
		Slot: "player_" + strconv.Itoa(n),
		Name: "Player " + strconv.Itoa(n),
	}
	if h.solo {
		p.Name = "Solo Player"
	}

	h.players = append(h.players, p)
	return p
}

func (h *Hub) slotTakenLocked(slot string) bool {
	for _, p := range h.players {
		if p.Slot == slot {
			return true
		}
	}
	return false
}

// sendLocked queues msg for c, dropping c if it has fallen behind. Clients
// no longer in the hub have a closed send channel and are skipped.
func (h *Hub) sendLocked(c *Client, msg any) {
	if !h.clients[c] {
		return
	}

	select {
	case c.send <- msg:
	default:
		h.dropLocked(c)
	}
}

// broadcastLocked sends msg to every client except those of the player
// whose cookie is except.
func (h *Hub) broadcastLocked(msg any, except string) {
	for c := range h.clients {
		if except != "" && c.playerID == except {
			continue
		}
		h.sendLocked(c, msg)
	}
}

func (h *Hub) dropLocked(c *Client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// closeAll disconnects all clients of this hub (used by reaper).
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopTimers()

	for c := range h.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(h.clients, c)
	}
}

func (h *Hub) status() RoomStatusResponse {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return RoomStatusResponse{
		Exists:      true,
		IsFull:      h.fullLocked(),
		PlayerCount: len(h.players),
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "spotbox_id"

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		log.Println("rand.Read error:", err)
		return ""
	}
	id := hex.EncodeToString(buf)

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// GameManager holds a set of hubs keyed by room code, so each $path/$code
// is its own isolated session.
type GameManager struct {
	cfg     *Config
	symbols []string

	mu   sync.Mutex
	hubs map[string]*Hub

	done chan struct{}
	once sync.Once
}

func newGameManager(cfg *Config, symbols []string) *GameManager {
	gm := &GameManager{
		cfg:     cfg,
		symbols: symbols,
		hubs:    make(map[string]*Hub),
		done:    make(chan struct{}),
	}

	if interval := reapInterval(cfg); interval > 0 {
		go gm.reaperLoop(interval)
	}

	return gm
}

// create opens a room under a fresh code and starts its hub.
func (gm *GameManager) create(solo bool) *Hub {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	code := newRoomCode()
	for gm.hubs[code] != nil {
		code = newRoomCode()
	}

	hub := newHub(gm.cfg, code, solo, gm.symbols)
	gm.hubs[code] = hub
	go hub.run()

	return hub
}

func (gm *GameManager) get(code string) (*Hub, bool) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	hub, ok := gm.hubs[normalizeRoomCode(code)]
	return hub, ok
}

// reap closes rooms that have been empty longer than the empty-room
// timeout, or idle longer than the session timeout.
func (gm *GameManager) reap(now time.Time) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	for code, hub := range gm.hubs {
		hub.mu.RLock()
		last, emptySince := hub.lastActive, hub.emptySince
		hub.mu.RUnlock()

		idle := gm.cfg.sessionTimeout > 0 && now.Sub(last) > gm.cfg.sessionTimeout
		abandoned := gm.cfg.emptyRoomTimeout > 0 && !emptySince.IsZero() && now.Sub(emptySince) > gm.cfg.emptyRoomTimeout

		if idle || abandoned {
			delete(gm.hubs, code)
			hub.stop()
			logf(gm.cfg, "GAMES: Closed room %s after %s", code, now.Sub(hub.createdAt).Round(time.Second))
		}
	}
}

func (gm *GameManager) reaperLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			gm.reap(now)
		case <-gm.done:
			return
		}
	}
}

// shutdown stops the reaper and every room.
func (gm *GameManager) shutdown() {
	gm.once.Do(func() {
		close(gm.done)
	})

	gm.mu.Lock()
	defer gm.mu.Unlock()

	for code, hub := range gm.hubs {
		delete(gm.hubs, code)
		hub.stop()
	}
}

func reapInterval(cfg *Config) time.Duration {
	shortest := time.Duration(0)
	for _, d := range []time.Duration{cfg.emptyRoomTimeout, cfg.sessionTimeout} {
		if d > 0 && (shortest == 0 || d < shortest) {
			shortest = d
		}
	}
	return shortest / 2
}

// newRoomCode returns a crypto-random room code. Bytes that would bias the
// alphabet are rejected.
func newRoomCode() string {
	const limit = byte(255 - (256 % len(roomCodeChar)))

	out := make([]byte, 0, roomCodeLen)
	buf := make([]byte, roomCodeLen*2)

	for len(out) < roomCodeLen {
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}

		for _, b := range buf {
			if b > limit {
				continue
			}
			out = append(out, roomCodeChar[int(b)%len(roomCodeChar)])
			if len(out) == roomCodeLen {
				break
			}
		}
	}

	return string(out)
}

// normalizeRoomCode upper-cases code, returning "" if it cannot be a room code.
func normalizeRoomCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != roomCodeLen {
		return ""
	}
	for _, r := range code {
		if !strings.ContainsRune(roomCodeChar, r) {
			return ""
		}
	}
	return code
}

// WebSocket handler that picks the hub based on :code
func serveWSForManager(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		playerID := getOrSetPlayerID(w, r)
		if playerID == "" {
			http.Error(w, "unable to assign player id", http.StatusInternalServerError)
			return
		}

		// Carries the Set-Cookie header, if any, into the handshake response.
		conn, err := upgrader.Upgrade(w, r, w.Header())
		if err != nil {
			logf(cfg, "ERROR: Upgrade failed for %s: %v", realIP(r), err)
			return
		}

		hub, ok := gm.get(ps.ByName("code"))
		if !ok {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteJSON(NoticeMessage{Type: MsgError, Message: "Room not found"})
			_ = conn.Close()
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 16),
			playerID: playerID,
		}

		if !deliver(hub, hub.register, client) {
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		deliver(h, h.unreg, c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logf(h.cfg, "ERROR: Read failed in %s: %v", h.code, err)
			}
			return
		}

		switch msg.Type {
		case MsgStartGame, MsgGuess, MsgNextRound, MsgPing:
			if !deliver(h, h.inbox, inbound{client: c, msg: msg}) {
				return
			}
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// QR handler: generates a PNG QR code for the current room URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	code := normalizeRoomCode(ps.ByName("code"))
	if code == "" {
		http.Error(w, "invalid room code", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:code/qr; strip trailing "/qr" to get the room URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(scheme+"://"+r.Host+path, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

//go:embed assets/spotit/index.html
var indexHTML []byte

func getIndexHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		securityHeaders(cfg, w)

		_ = getOrSetPlayerID(w, r)

		_, _ = w.Write(indexHTML)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func isSolo(r *http.Request) bool {
	solo, _ := strconv.ParseBool(r.URL.Query().Get("solo"))
	return solo
}

// createRoomHandler handles POST /api/rooms/create?solo=bool.
func createRoomHandler(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		hub := gm.create(isSolo(r))
		logf(cfg, "GAMES: Created room %s (solo: %t) for %s", hub.code, hub.solo, realIP(r))

		securityHeaders(cfg, w)
		writeJSON(w, http.StatusOK, RoomCreatedResponse{RoomCode: hub.code, SoloMode: hub.solo})
	}
}

func roomStatusHandler(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		securityHeaders(cfg, w)

		hub, ok := gm.get(ps.ByName("code"))
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Room not found"})
			return
		}

		writeJSON(w, http.StatusOK, hub.status())
	}
}

// redirectNewGame handles GET /path by opening a new room and redirecting
// to /path/:code.
func redirectNewGame(cfg *Config, path string, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		hub := gm.create(isSolo(r))
		logf(cfg, "GAMES: Created room %s%s/%s (solo: %t)", cfg.prefix, path, hub.code, hub.solo)
		http.Redirect(w, r, fmt.Sprintf("%s%s/%s", cfg.prefix, path, hub.code), http.StatusTemporaryRedirect)
	}
}

// registerSpotItGame sets up routes so that:
//   - $path                      → redirects to a new room (?solo=1 for solo)
//   - $path/:code                → HTML client
//   - $path/:code/ws             → WebSocket for that room
//   - $path/:code/qr             → PNG QR code for that room URL
//   - /api/rooms/create          → JSON room creation
//   - /api/rooms/:code/status    → JSON room status
func registerSpotItGame(cfg *Config, path string, symbols []string, mux *httprouter.Router) *GameManager {
	gm := newGameManager(cfg, symbols)

	mux.GET(cfg.prefix+path, redirectNewGame(cfg, path, gm))
	mux.GET(cfg.prefix+path+"/:code", getIndexHandler(cfg))
	mux.GET(cfg.prefix+path+"/:code/ws", serveWSForManager(cfg, gm))
	mux.GET(cfg.prefix+path+"/:code/qr", qrHandler)

	mux.POST(cfg.prefix+"/api/rooms/create", createRoomHandler(cfg, gm))
	mux.GET(cfg.prefix+"/api/rooms/:code/status", roomStatusHandler(cfg, gm))

	return gm
}
