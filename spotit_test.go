package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Seednode/spotbox/games/spotit"
)

func testConfig() *Config {
	return &Config{
		cardSize:         8,
		emptyRoomTimeout: time.Minute,
		playerTimeout:    time.Hour,
		port:             8080,
		revealDelay:      10 * time.Millisecond,
		roundDuration:    time.Minute,
		sessionTimeout:   time.Hour,
	}
}

// testMessage is a union of every server message shape.
type testMessage struct {
	Type       string     `json:"type"`
	Message    string     `json:"message"`
	PlayerID   string     `json:"player_id"`
	PlayerName string     `json:"player_name"`
	RoomCode   string     `json:"room_code"`
	Match      string     `json:"match"`
	State      *RoomState `json:"state"`
}

func newTestServer(t *testing.T, cfg *Config) (*httptest.Server, *GameManager) {
	t.Helper()

	errs := make(chan error, 64)
	mux, gm := newRouter(cfg, spotit.BundledSymbols(), errs)
	srv := httptest.NewServer(mux)

	t.Cleanup(gm.shutdown)
	t.Cleanup(srv.Close)

	return srv, gm
}

func createRoom(t *testing.T, srv *httptest.Server, solo bool) string {
	t.Helper()

	url := srv.URL + "/api/rooms/create"
	if solo {
		url += "?solo=true"
	}

	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var created RoomCreatedResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	if created.SoloMode != solo {
		t.Fatalf("solo_mode = %t, want %t", created.SoloMode, solo)
	}
	if normalizeRoomCode(created.RoomCode) != created.RoomCode {
		t.Fatalf("malformed room code %q", created.RoomCode)
	}

	return created.RoomCode
}

func dial(t *testing.T, srv *httptest.Server, code string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/spotit/" + code + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

// expect reads until a message of type typ arrives.
func expect(t *testing.T, conn *websocket.Conn, typ string) testMessage {
	t.Helper()

	for range 20 {
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

		var msg testMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %q: %v", typ, err)
		}
		if msg.Type == typ {
			return msg
		}
	}

	t.Fatalf("no %q message arrived", typ)
	return testMessage{}
}

func TestSoloRoomPlaysRounds(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	code := createRoom(t, srv, true)
	conn := dial(t, srv, code)

	connected := expect(t, conn, MsgConnected)
	if connected.PlayerID != "player_1" || connected.PlayerName != "Solo Player" || connected.RoomCode != code {
		t.Fatalf("unexpected connected message: %+v", connected)
	}
	expect(t, conn, MsgRoomReady)

	if err := conn.WriteJSON(ClientMessage{Type: MsgStartGame}); err != nil {
		t.Fatal(err)
	}
	started := expect(t, conn, MsgGameStarted)
	if started.State == nil || !started.State.GameStarted {
		t.Fatalf("game_started carried no started state: %+v", started)
	}

	cards := started.State.CurrentCards["player_1"]
	if len(cards) != 2 || len(cards[0]) != 8 || len(cards[1]) != 8 {
		t.Fatalf("unexpected cards: %v", cards)
	}

	match, ok := spotit.Match(cards[0], cards[1])
	if !ok {
		t.Fatalf("dealt pair %v has no single match", cards)
	}

	if err := conn.WriteJSON(ClientMessage{Type: MsgGuess, Guess: "definitely not a symbol"}); err != nil {
		t.Fatal(err)
	}
	expect(t, conn, MsgWrongGuess)

	if err := conn.WriteJSON(ClientMessage{Type: MsgGuess, Guess: "  " + strings.ToUpper(match) + " "}); err != nil {
		t.Fatal(err)
	}
	found := expect(t, conn, MsgMatchFound)
	if found.Match != match || found.PlayerID != "player_1" {
		t.Fatalf("unexpected match_found: %+v", found)
	}
	if found.State.Scores["player_1"] != 1 || found.State.Winner != "player_1" {
		t.Fatalf("score not recorded: %+v", found.State)
	}

	next := expect(t, conn, MsgNewRound)
	if next.State.Winner != "" {
		t.Fatalf("new round kept winner %q", next.State.Winner)
	}
	if next.State.Scores["player_1"] != 1 {
		t.Fatalf("score lost across rounds: %+v", next.State.Scores)
	}

	if err := conn.WriteJSON(ClientMessage{Type: MsgPing}); err != nil {
		t.Fatal(err)
	}
	expect(t, conn, MsgPong)
}

func TestTwoPlayerRoom(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	code := createRoom(t, srv, false)

	one := dial(t, srv, code)
	expect(t, one, MsgConnected)
	expect(t, one, MsgStateUpdate)

	two := dial(t, srv, code)
	if msg := expect(t, two, MsgConnected); msg.PlayerID != "player_2" {
		t.Fatalf("second player got slot %q", msg.PlayerID)
	}
	expect(t, two, MsgRoomFull)

	joined := expect(t, one, MsgPlayerJoined)
	if joined.PlayerID != "player_2" {
		t.Fatalf("player_joined named %q", joined.PlayerID)
	}
	expect(t, one, MsgRoomFull)

	three := dial(t, srv, code)
	if msg := expect(t, three, MsgError); msg.Message != "Room is full" {
		t.Fatalf("third player got %q", msg.Message)
	}
	_ = three.WriteJSON(ClientMessage{Type: MsgPing})
	_ = three.WriteJSON(ClientMessage{Type: MsgStartGame})

	if err := one.WriteJSON(ClientMessage{Type: MsgStartGame}); err != nil {
		t.Fatal(err)
	}
	state := expect(t, one, MsgGameStarted).State
	expect(t, two, MsgGameStarted)

	a, b := state.CurrentCards["player_1"], state.CurrentCards["player_2"]
	if len(a) != 2 || len(b) != 2 {
		t.Fatalf("unexpected hands: %v / %v", a, b)
	}
	if !slices.Equal(a[0], b[1]) || !slices.Equal(a[1], b[0]) {
		t.Fatalf("second player should see the pair reversed: %v / %v", a, b)
	}

	if err := two.WriteJSON(ClientMessage{Type: MsgNextRound}); err != nil {
		t.Fatal(err)
	}
	expect(t, one, MsgNewRound)
	expect(t, two, MsgNewRound)
}

func TestRoundExpires(t *testing.T) {
	cfg := testConfig()
	cfg.roundDuration = 50 * time.Millisecond

	srv, _ := newTestServer(t, cfg)

	conn := dial(t, srv, createRoom(t, srv, true))
	expect(t, conn, MsgRoomReady)

	if err := conn.WriteJSON(ClientMessage{Type: MsgStartGame}); err != nil {
		t.Fatal(err)
	}
	expect(t, conn, MsgGameStarted)

	expired := expect(t, conn, MsgRoundExpired)
	if expired.Message != "Time's up! Starting new round." || expired.State == nil {
		t.Fatalf("unexpected round_expired: %+v", expired)
	}
}

func TestUnknownRoom(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	conn := dial(t, srv, "ZZZZZZ")
	if msg := expect(t, conn, MsgError); msg.Message != "Room not found" {
		t.Fatalf("got %q", msg.Message)
	}

	resp, err := http.Get(srv.URL + "/api/rooms/ZZZZZZ/status")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status endpoint returned %d", resp.StatusCode)
	}
}

func TestRoomStatus(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	code := createRoom(t, srv, true)

	status := func() RoomStatusResponse {
		resp, err := http.Get(srv.URL + "/api/rooms/" + strings.ToLower(code) + "/status")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()

		var s RoomStatusResponse
		if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
			t.Fatal(err)
		}
		return s
	}

	if s := status(); !s.Exists || s.IsFull || s.PlayerCount != 0 {
		t.Fatalf("fresh room status: %+v", s)
	}

	conn := dial(t, srv, code)
	expect(t, conn, MsgRoomReady)

	if s := status(); !s.IsFull || s.PlayerCount != 1 {
		t.Fatalf("occupied room status: %+v", s)
	}
}

func TestRedirectNewGame(t *testing.T) {
	srv, gm := newTestServer(t, testConfig())

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Get(srv.URL + "/spotit?solo=1")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	loc := resp.Header.Get("Location")
	code := strings.TrimPrefix(loc, "/spotit/")
	if resp.StatusCode != http.StatusTemporaryRedirect || code == loc {
		t.Fatalf("got %d to %q", resp.StatusCode, loc)
	}

	hub, ok := gm.get(code)
	if !ok || !hub.solo {
		t.Fatalf("room %q missing or not solo", code)
	}
}

// newTestHub returns a hub whose handlers are driven directly, without its
// run loop.
func newTestHub(t *testing.T, solo bool, symbols []string) *Hub {
	t.Helper()

	h := newHub(testConfig(), "TEST01", solo, symbols)
	t.Cleanup(func() {
		h.mu.Lock()
		h.stopTimers()
		h.mu.Unlock()
	})
	return h
}

func fakeClient(id string) *Client {
	return &Client{send: make(chan any, 64), playerID: id}
}

func drain(c *Client) []any {
	var out []any
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestHubGuessRules(t *testing.T) {
	h := newTestHub(t, false, spotit.BundledSymbols())

	one, two := fakeClient("one"), fakeClient("two")
	h.handleRegister(one)
	h.handleRegister(two)

	h.handleMessage(inbound{client: one, msg: ClientMessage{Type: MsgStartGame}})
	if !h.gameStarted || h.match == "" {
		t.Fatalf("game did not start with a playable pair (started: %t)", h.gameStarted)
	}
	drain(one)
	drain(two)

	h.handleMessage(inbound{client: two, msg: ClientMessage{Type: MsgGuess, Guess: "nope"}})
	if got := drain(two); len(got) != 1 || got[0].(NoticeMessage).Type != MsgWrongGuess {
		t.Fatalf("wrong guess produced %v", got)
	}
	if got := drain(one); len(got) != 0 {
		t.Fatalf("wrong guess leaked to the other player: %v", got)
	}

	h.handleMessage(inbound{client: two, msg: ClientMessage{Type: MsgGuess, Guess: strings.ToUpper(h.match)}})
	if h.winner != "player_2" || h.players[1].Score != 1 {
		t.Fatalf("winner = %q, score = %d", h.winner, h.players[1].Score)
	}
	if h.revealC == nil || h.roundC != nil {
		t.Fatal("round clock should give way to the reveal delay")
	}

	// The round is decided; a late correct guess changes nothing.
	h.handleMessage(inbound{client: one, msg: ClientMessage{Type: MsgGuess, Guess: h.match}})
	if h.winner != "player_2" || h.players[0].Score != 0 {
		t.Fatal("late guess was counted")
	}

	for _, c := range []*Client{one, two} {
		got := drain(c)
		if len(got) == 0 {
			t.Fatal("match_found was not broadcast")
		}
		if msg, ok := got[0].(MatchFoundMessage); !ok || msg.PlayerID != "player_2" {
			t.Fatalf("unexpected broadcast %v", got[0])
		}
	}

	round := h.round
	h.handleRevealDone()
	if h.round != round+1 || h.winner != "" {
		t.Fatalf("reveal did not start a new round (round %d, winner %q)", h.round, h.winner)
	}
}

func TestHubStartFailsWithTooFewCards(t *testing.T) {
	h := newTestHub(t, true, spotit.DefaultSymbols())

	c := fakeClient("solo")
	h.handleRegister(c)
	drain(c)

	h.handleMessage(inbound{client: c, msg: ClientMessage{Type: MsgStartGame}})
	if h.gameStarted {
		t.Fatal("game started with a single-card deck")
	}

	got := drain(c)
	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1", len(got))
	}
	if msg, ok := got[0].(NoticeMessage); !ok || msg.Type != MsgError || !strings.Contains(msg.Message, spotit.ErrInsufficientCards.Error()) {
		t.Fatalf("unexpected message %+v", got[0])
	}
}

func TestHubIgnoresRejectedClients(t *testing.T) {
	tests := []struct {
		name string
		solo bool
	}{
		{"solo", true},
		{"two players", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHub(t, tt.solo, spotit.BundledSymbols())

			seated := []*Client{fakeClient("one")}
			if !tt.solo {
				seated = append(seated, fakeClient("two"))
			}
			for _, c := range seated {
				h.handleRegister(c)
			}

			outsider := fakeClient("outsider")
			h.handleRegister(outsider)
			if h.clients[outsider] || h.playerLocked("outsider") != nil {
				t.Fatal("full room seated another client")
			}

			for _, typ := range []string{MsgPing, MsgStartGame, MsgNextRound, MsgGuess} {
				h.handleMessage(inbound{client: outsider, msg: ClientMessage{Type: typ, Guess: "anything"}})
			}
			if h.gameStarted {
				t.Fatal("rejected client started the game")
			}

			h.handleMessage(inbound{client: seated[0], msg: ClientMessage{Type: MsgStartGame}})
			if !h.gameStarted {
				t.Fatal("seated player could not start the game")
			}

			round := h.round
			h.handleMessage(inbound{client: outsider, msg: ClientMessage{Type: MsgNextRound}})
			h.handleMessage(inbound{client: outsider, msg: ClientMessage{Type: MsgGuess, Guess: h.match}})
			if h.round != round || h.winner != "" {
				t.Fatalf("rejected client moved the game: round %d -> %d, winner %q", round, h.round, h.winner)
			}
		})
	}
}

func TestHubIgnoresDroppedClient(t *testing.T) {
	h := newTestHub(t, true, spotit.BundledSymbols())

	c := fakeClient("solo")
	h.handleRegister(c)

	h.mu.Lock()
	h.dropLocked(c)
	h.mu.Unlock()

	h.handleMessage(inbound{client: c, msg: ClientMessage{Type: MsgPing}})
	h.handleMessage(inbound{client: c, msg: ClientMessage{Type: MsgStartGame}})
	if h.gameStarted {
		t.Fatal("dropped client started the game")
	}
}

func TestHubRejoinAndRemoval(t *testing.T) {
	h := newTestHub(t, false, spotit.BundledSymbols())

	one, two := fakeClient("one"), fakeClient("two")
	h.handleRegister(one)
	h.handleRegister(two)
	h.handleMessage(inbound{client: one, msg: ClientMessage{Type: MsgStartGame}})
	h.players[0].Score = 3

	h.handleUnregister(one)
	again := fakeClient("one")
	h.handleRegister(again)
	h.handleRemoval("one") // grace period ends while the player is back

	if len(h.players) != 2 || h.players[0].Score != 3 {
		t.Fatalf("rejoin lost the seat: %d players, score %d", len(h.players), h.players[0].Score)
	}

	h.handleUnregister(two)
	h.handleRemoval("two")
	if len(h.players) != 1 || !h.gameStarted {
		t.Fatalf("after one player left: %d players, started %t", len(h.players), h.gameStarted)
	}

	late := fakeClient("three")
	h.handleRegister(late)
	if p := h.playerLocked("three"); p == nil || p.Slot != "player_2" || len(p.Cards) != 2 {
		t.Fatalf("late joiner not seated and dealt: %+v", p)
	}

	h.handleUnregister(again)
	h.handleUnregister(late)
	h.handleRemoval("one")
	h.handleRemoval("three")
	if len(h.players) != 0 || h.gameStarted || h.deck != nil {
		t.Fatal("empty room should end its game")
	}
}

func TestReap(t *testing.T) {
	gm := newGameManager(testConfig(), spotit.BundledSymbols())
	t.Cleanup(gm.shutdown)

	hub := gm.create(false)

	gm.reap(time.Now().Add(30 * time.Second))
	if _, ok := gm.get(hub.code); !ok {
		t.Fatal("room reaped before the empty-room timeout")
	}

	gm.reap(time.Now().Add(2 * time.Minute))
	if _, ok := gm.get(hub.code); ok {
		t.Fatal("abandoned room was not reaped")
	}

	select {
	case <-hub.quit:
	default:
		t.Fatal("reaped hub was not stopped")
	}
}

func TestRoomCodes(t *testing.T) {
	for range 100 {
		code := newRoomCode()
		if normalizeRoomCode(code) != code {
			t.Fatalf("newRoomCode produced %q", code)
		}
	}

	tests := map[string]string{
		"abc123":   "ABC123",
		" XYZ789 ": "XYZ789",
		"ABC12":    "",
		"ABC1234":  "",
		"ABC-12":   "",
		"":         "",
	}
	for in, want := range tests {
		if got := normalizeRoomCode(in); got != want {
			t.Errorf("normalizeRoomCode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestReapInterval(t *testing.T) {
	tests := []struct {
		empty, session, want time.Duration
	}{
		{time.Minute, time.Hour, 30 * time.Second},
		{0, time.Hour, 30 * time.Minute},
		{0, 0, 0},
	}

	for _, tt := range tests {
		cfg := &Config{emptyRoomTimeout: tt.empty, sessionTimeout: tt.session}
		if got := reapInterval(cfg); got != tt.want {
			t.Errorf("reapInterval(%s, %s) = %s, want %s", tt.empty, tt.session, got, tt.want)
		}
	}
}
