package main

import (
	"crypto/rand"
	"errors"
	"time"
)

const (
	roomCapacity = 6
	answerAward  = 100

	codeLength  = 5
	codeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Error strings double as the user-facing join failure messages.
var (
	ErrRoomNotFound = errors.New("Room not found")
	ErrRoomFull     = errors.New("Room full")
)

// Question is a single multiple-choice prompt.
type Question struct {
	Prompt  string   `json:"question"`
	Options []string `json:"options"`
}

// Player is one joined connection's state within a room.
type Player struct {
	ConnID   string
	Name     string
	Score    int
	Answer   int
	Answered bool
}

// PlayerInfo is the broadcast-safe view of a player.
type PlayerInfo struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// ResultEntry is the per-player outcome revealed when answers close.
type ResultEntry struct {
	Name    string `json:"name"`
	Score   int    `json:"score"`
	Answer  *int   `json:"answer,omitempty"`
	Correct bool   `json:"correct"`
}

// RoomUpdate pairs a room code with its post-change player list.
type RoomUpdate struct {
	Code    string
	Players []PlayerInfo
}

// Room is one live trivia session. At most one question is active at a time;
// AnswersOpen is true only between that question being posted and closed.
type Room struct {
	Code            string
	HostID          string
	Players         []*Player
	CurrentQuestion *Question
	AnswersOpen     bool
	LastActive      time.Time
}

func (r *Room) playerList() []PlayerInfo {
	players := make([]PlayerInfo, 0, len(r.Players))
	for _, p := range r.Players {
		players = append(players, PlayerInfo{Name: p.Name, Score: p.Score})
	}
	return players
}

func (r *Room) findPlayer(connID string) *Player {
	for _, p := range r.Players {
		if p.ConnID == connID {
			return p
		}
	}
	return nil
}

// Registry is the single source of truth for all live rooms. It does no
// locking of its own: every call must come from the hub's event loop, which
// serializes requests, so no two operations ever interleave.
type Registry struct {
	rooms map[string]*Room
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
	}
}

// newRoomCode generates a crypto-random room code and ensures it doesn't
// collide with any currently live room.
func (reg *Registry) newRoomCode() string {
	for {
		buf := make([]byte, codeLength)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, codeLength)
		for i := range out {
			out[i] = codeCharset[int(buf[i])%len(codeCharset)]
		}
		code := string(out)

		if _, exists := reg.rooms[code]; !exists {
			return code
		}
	}
}

// CreateRoom allocates a new empty room hosted by connID and returns its code.
func (reg *Registry) CreateRoom(hostID string) string {
	code := reg.newRoomCode()
	reg.rooms[code] = &Room{
		Code:       code,
		HostID:     hostID,
		LastActive: time.Now(),
	}
	return code
}

// JoinRoom adds connID to the room as a fresh player and returns the updated
// player list for broadcast. Rejoining overwrites the previous entry in place,
// score included.
func (reg *Registry) JoinRoom(code, connID, name string) ([]PlayerInfo, error) {
	room, ok := reg.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if len(room.Players) >= roomCapacity {
		return nil, ErrRoomFull
	}

	room.LastActive = time.Now()

	replaced := false
	for i, p := range room.Players {
		if p.ConnID == connID {
			room.Players[i] = &Player{ConnID: connID, Name: name}
			replaced = true
			break
		}
	}
	if !replaced {
		room.Players = append(room.Players, &Player{ConnID: connID, Name: name})
	}

	return room.playerList(), nil
}

// PostQuestion replaces the room's active question and opens the answer
// window. Only the host may post; anything else is a no-op. Recorded answers
// are cleared so an answer to an earlier question never scores against this
// one.
func (reg *Registry) PostQuestion(code, connID string, q Question) (Question, bool) {
	room, ok := reg.rooms[code]
	if !ok || connID != room.HostID {
		return Question{}, false
	}

	room.LastActive = time.Now()
	room.CurrentQuestion = &q
	room.AnswersOpen = true
	for _, p := range room.Players {
		p.Answered = false
	}

	return q, true
}

// SubmitAnswer records connID's answer to the open question, overwriting any
// earlier one. No-op while answers are closed or if connID is not a player.
func (reg *Registry) SubmitAnswer(code, connID string, answerIndex int) {
	room, ok := reg.rooms[code]
	if !ok || !room.AnswersOpen {
		return
	}

	if p := room.findPlayer(connID); p != nil {
		room.LastActive = time.Now()
		p.Answer = answerIndex
		p.Answered = true
	}
}

// CloseAnswers ends the answer window, awards every correct player, and
// returns the revealed results for broadcast. Unknown rooms are a no-op.
func (reg *Registry) CloseAnswers(code string, correctIndex int) ([]ResultEntry, bool) {
	room, ok := reg.rooms[code]
	if !ok {
		return nil, false
	}

	room.LastActive = time.Now()
	room.AnswersOpen = false

	results := make([]ResultEntry, 0, len(room.Players))
	for _, p := range room.Players {
		correct := p.Answered && p.Answer == correctIndex
		if correct {
			p.Score += answerAward
		}

		entry := ResultEntry{
			Name:    p.Name,
			Score:   p.Score,
			Correct: correct,
		}
		if p.Answered {
			idx := p.Answer
			entry.Answer = &idx
		}
		results = append(results, entry)
	}

	return results, true
}

// RemoveConnection strips connID from every room it joined and returns the
// updated player list of each affected room. A room whose host disconnects
// keeps running hostless until the reaper collects it.
func (reg *Registry) RemoveConnection(connID string) []RoomUpdate {
	var updates []RoomUpdate

	for code, room := range reg.rooms {
		dst := room.Players[:0]
		changed := false

		for _, p := range room.Players {
			if p.ConnID == connID {
				changed = true
				continue
			}
			dst = append(dst, p)
		}
		room.Players = dst

		if changed {
			room.LastActive = time.Now()
			updates = append(updates, RoomUpdate{Code: code, Players: room.playerList()})
		}
	}

	return updates
}

// ReapIdle deletes rooms last active before cutoff, returning their codes.
func (reg *Registry) ReapIdle(cutoff time.Time) []string {
	var reaped []string

	for code, room := range reg.rooms {
		if room.LastActive.Before(cutoff) {
			delete(reg.rooms, code)
			reaped = append(reaped, code)
		}
	}

	return reaped
}
