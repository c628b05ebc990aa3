package main

import (
	"time"

	"github.com/Seednode/spotbox/games/spotit"
)

// Message types: client → server
const (
	MsgStartGame = "start_game"
	MsgGuess     = "guess"
	MsgNextRound = "next_round"
	MsgPing      = "ping"
)

// Message types: server → client
const (
	MsgConnected    = "connected"
	MsgPlayerJoined = "player_joined"
	MsgPlayerLeft   = "player_left"
	MsgStateUpdate  = "state_update"
	MsgRoomReady    = "room_ready"
	MsgRoomFull     = "room_full"
	MsgGameStarted  = "game_started"
	MsgMatchFound   = "match_found"
	MsgWrongGuess   = "wrong_guess"
	MsgNewRound     = "new_round"
	MsgRoundExpired = "round_expired"
	MsgPong         = "pong"
	MsgError        = "error"
)

// Messages coming from clients
type ClientMessage struct {
	Type  string `json:"type"`            // "start_game", "guess", "next_round", "ping"
	Guess string `json:"guess,omitempty"` // guess
}

// RoomState is the public view of a room. The current match is never
// part of it.
type RoomState struct {
	RoomCode      string                   `json:"room_code"`
	Players       map[string]string        `json:"players"` // slot → display name
	Scores        map[string]int           `json:"scores"`  // slot → matches found
	GameStarted   bool                     `json:"game_started"`
	CurrentCards  map[string][]spotit.Card `json:"current_cards"` // slot → the two cards, in that player's order
	RoundTimer    *time.Time               `json:"round_timer"`   // when the round expires
	RoundDuration int                      `json:"round_duration"`
	Winner        string                   `json:"winner,omitempty"` // slot that found this round's match
	IsFull        bool                     `json:"is_full"`
	SoloMode      bool                     `json:"solo_mode"`
}

// ConnectedMessage is sent to a client once it holds a seat.
type ConnectedMessage struct {
	Type       string `json:"type"` // "connected"
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
	RoomCode   string `json:"room_code"`
}

// PlayerMessage announces a player arriving or leaving.
type PlayerMessage struct {
	Type       string    `json:"type"` // "player_joined", "player_left"
	PlayerID   string    `json:"player_id"`
	PlayerName string    `json:"player_name,omitempty"`
	State      RoomState `json:"state"`
}

// StateMessage carries a fresh room state ("state_update", "game_started", "new_round").
type StateMessage struct {
	Type  string    `json:"type"`
	State RoomState `json:"state"`
}

// NoticeMessage is for short notifications ("room_ready", "wrong_guess", "error", etc.)
type NoticeMessage struct {
	Type    string     `json:"type"`
	Message string     `json:"message,omitempty"`
	State   *RoomState `json:"state,omitempty"`
}

// MatchFoundMessage reveals the match to everyone once a round is won.
type MatchFoundMessage struct {
	Type       string    `json:"type"` // "match_found"
	PlayerID   string    `json:"player_id"`
	PlayerName string    `json:"player_name"`
	Match      string    `json:"match"`
	State      RoomState `json:"state"`
	SoloMode   bool      `json:"solo_mode,omitempty"`
}

type RoomCreatedResponse struct {
	RoomCode string `json:"room_code"`
	SoloMode bool   `json:"solo_mode"`
}

type RoomStatusResponse struct {
	Exists      bool `json:"exists"`
	IsFull      bool `json:"is_full"`
	PlayerCount int  `json:"player_count"`
}
