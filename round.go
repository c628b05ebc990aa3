package main

import (
	"strings"
	"time"

	"github.com/Seednode/spotbox/games/spotit"
)

// dealAttempts bounds how often a round redraws a pair that has no single
// match before playing it anyway.
const dealAttempts = 3

// startGameLocked builds the room's deck and deals the first round. If the
// deck cannot deal, the game stays unstarted and the room is told why.
func (h *Hub) startGameLocked() {
	deck, err := spotit.New(h.symbols, spotit.Config{CardSize: h.cfg.cardSize})
	if err == nil {
		h.deck = deck
		err = h.dealLocked()
	}
	if err != nil {
		h.deck = nil
		logf(h.cfg, "GAMES: Unable to start %s: %v", h.code, err)
		h.broadcastLocked(NoticeMessage{Type: MsgError, Message: "Unable to deal cards: " + err.Error()}, "")
		return
	}

	h.gameStarted = true
	logf(h.cfg, "GAMES: Started %s with %d cards (relaxed: %t)", h.code, deck.Len(), deck.Relaxed())

	h.broadcastLocked(StateMessage{Type: MsgGameStarted, State: h.stateLocked()}, "")
}

// endGameLocked returns the room to its lobby state.
func (h *Hub) endGameLocked() {
	h.stopTimers()

	h.deck = nil
	h.gameStarted = false
	h.pair = [2]spotit.Card{}
	h.match = ""
	h.winner = ""
	h.roundEnds = time.Time{}

	for _, p := range h.players {
		p.Cards = nil
	}

	logf(h.cfg, "GAMES: Ended %s after %d rounds", h.code, h.round)
}

// dealLocked draws the next pair, hands it out and restarts the round clock.
func (h *Hub) dealLocked() error {
	var (
		a, b  spotit.Card
		match string
		ok    bool
	)

	for range dealAttempts {
		var err error
		a, b, err = h.deck.TwoCards()
		if err != nil {
			return err
		}
		if match, ok = h.deck.FindMatch(a, b); ok {
			break
		}
	}

	h.pair = [2]spotit.Card{a, b}
	h.match = match
	h.winner = ""
	h.round++

	for seat, p := range h.players {
		h.handCardsLocked(p, seat)
	}

	h.stopTimers()
	h.roundEnds = time.Now().Add(h.cfg.roundDuration)
	h.roundTimer = time.NewTimer(h.cfg.roundDuration)
	h.roundC = h.roundTimer.C

	if !ok {
		logf(h.cfg, "ROUND: %s round %d has no single match; waiting for the timer", h.code, h.round)
	}

	return nil
}

// handCardsLocked gives p the current pair. Odd seats see it reversed.
func (h *Hub) handCardsLocked(p *Player, seat int) {
	a, b := h.pair[0], h.pair[1]
	if seat%2 == 1 {
		a, b = b, a
	}
	p.Cards = []spotit.Card{a, b}
}

func (h *Hub) nextRoundLocked() {
	if err := h.dealLocked(); err != nil {
		logf(h.cfg, "ROUND: Unable to deal in %s: %v", h.code, err)
		return
	}

	h.broadcastLocked(StateMessage{Type: MsgNewRound, State: h.stateLocked()}, "")
}

func normalizeGuess(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// guessLocked checks a guess against the current match. Only the first
// correct guess of a round counts.
func (h *Hub) guessLocked(c *Client, guess string) {
	p := h.playerLocked(c.playerID)
	if p == nil || !h.gameStarted || h.match == "" || h.winner != "" {
		return
	}

	guess = normalizeGuess(guess)
	if guess == "" {
		return
	}

	if guess != normalizeGuess(h.match) {
		h.sendLocked(c, NoticeMessage{Type: MsgWrongGuess, Message: "That's not the match! Keep looking."})
		return
	}

	h.winner = p.Slot
	p.Score++

	h.stopTimers()
	h.revealTimer = time.NewTimer(h.cfg.revealDelay)
	h.revealC = h.revealTimer.C

	logf(h.cfg, "ROUND: %s found %q in %s round %d", p.Name, h.match, h.code, h.round)

	h.broadcastLocked(MatchFoundMessage{
		Type:       MsgMatchFound,
		PlayerID:   p.Slot,
		PlayerName: p.Name,
		Match:      h.match,
		State:      h.stateLocked(),
		SoloMode:   h.solo,
	}, "")
}

func (h *Hub) handleRevealDone() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.revealC = nil

	if !h.gameStarted {
		return
	}

	h.nextRoundLocked()
}

func (h *Hub) handleRoundExpired() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.roundC = nil

	if !h.gameStarted || h.winner != "" {
		return
	}

	logf(h.cfg, "ROUND: %s round %d expired", h.code, h.round)

	if err := h.dealLocked(); err != nil {
		logf(h.cfg, "ROUND: Unable to deal in %s: %v", h.code, err)
		return
	}

	state := h.stateLocked()
	h.broadcastLocked(NoticeMessage{
		Type:    MsgRoundExpired,
		Message: "Time's up! Starting new round.",
		State:   &state,
	}, "")
}

func (h *Hub) stopTimers() {
	if h.roundTimer != nil {
		h.roundTimer.Stop()
		h.roundTimer = nil
	}
	h.roundC = nil

	if h.revealTimer != nil {
		h.revealTimer.Stop()
		h.revealTimer = nil
	}
	h.revealC = nil
}

// stateLocked snapshots the room for clients. Card slices are shared, never
// modified in place.
func (h *Hub) stateLocked() RoomState {
	state := RoomState{
		RoomCode:      h.code,
		Players:       make(map[string]string, len(h.players)),
		Scores:        make(map[string]int, len(h.players)),
		GameStarted:   h.gameStarted,
		CurrentCards:  make(map[string][]spotit.Card, len(h.players)),
		RoundDuration: int(h.cfg.roundDuration / time.Second),
		Winner:        h.winner,
		IsFull:        h.fullLocked(),
		SoloMode:      h.solo,
	}

	for _, p := range h.players {
		state.Players[p.Slot] = p.Name
		state.Scores[p.Slot] = p.Score
		if p.Cards != nil {
			state.CurrentCards[p.Slot] = p.Cards
		}
	}

	if !h.roundEnds.IsZero() {
		ends := h.roundEnds
		state.RoundTimer = &ends
	}

	return state
}
