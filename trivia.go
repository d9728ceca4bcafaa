// Quizbox Trivia Game
//
// One client creates a room and becomes its host. Other clients join by the
// room's short code, the host broadcasts multiple-choice questions, players
// answer, and the host closes the round to score it.
//
// Features:
// - Single WebSocket endpoint at /path/ws; rooms are addressed by code
// - Random 5-char uppercase room codes via crypto/rand, with server-side collision check
// - Up to 6 players per room; the host is not counted as a player
// - Only the host may post questions; +100 per correct answer on close
// - Join failures ("Room not found" / "Room full") sent only to the offending client
// - Disconnects drop the player from every room they joined, with a roster broadcast
// - Rooms auto-reaped after configurable idle timeout
// - In-browser QR button to share a room's join link, backed by go-qrcode

package main

import (
	"crypto/rand"
	_ "embed"
	"encoding/hex"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Messages coming from clients
type ClientMessage struct {
	Type         string   `json:"type"`                   // "createRoom", "joinRoom", "sendQuestion", "answer", "closeAnswers"
	RoomCode     string   `json:"roomCode,omitempty"`     // all but createRoom
	Name         string   `json:"name,omitempty"`         // joinRoom
	Question     string   `json:"question,omitempty"`     // sendQuestion
	Options      []string `json:"options,omitempty"`      // sendQuestion
	AnswerIndex  *int     `json:"answerIndex,omitempty"`  // answer
	CorrectIndex *int     `json:"correctIndex,omitempty"` // closeAnswers
}

// RoomCreatedMessage replies with the new room's code to its creator.
type RoomCreatedMessage struct {
	Type string `json:"type"` // "roomCreated"
	Code string `json:"code"`
}

// JoinResultMessage is sent to a single client after a join attempt.
type JoinResultMessage struct {
	Type    string `json:"type"`              // "joinResult"
	Success bool   `json:"success"`           // whether the join took effect
	Message string `json:"message,omitempty"` // user-facing failure text
}

// PlayersUpdateMessage broadcasts the room's roster after any change.
type PlayersUpdateMessage struct {
	Type    string       `json:"type"` // "playersUpdate"
	Players []PlayerInfo `json:"players"`
}

// NewQuestionMessage broadcasts the question the host just posted.
type NewQuestionMessage struct {
	Type     string   `json:"type"` // "newQuestion"
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

// ShowResultsMessage broadcasts revealed answers and updated scores.
type ShowResultsMessage struct {
	Type    string        `json:"type"` // "showResults"
	Players []ResultEntry `json:"players"`
}

// RoomClosedMessage tells members their idle room was reaped.
type RoomClosedMessage struct {
	Type    string `json:"type"` // "roomClosed"
	Message string `json:"message"`
}

type Client struct {
	conn   *websocket.Conn
	send   chan any
	connID string
}

type request struct {
	client *Client
	msg    ClientMessage
}

// Hub owns the registry and the connected clients. A single run goroutine
// consumes every channel, so one request is fully applied before the next.
type Hub struct {
	registry *Registry
	clients  map[*Client]bool
	members  map[string]map[*Client]bool // room code -> connected members, host included

	register chan *Client
	unreg    chan *Client
	requests chan request
}

func newHub(registry *Registry) *Hub {
	return &Hub{
		registry: registry,
		clients:  make(map[*Client]bool),
		members:  make(map[string]map[*Client]bool),
		register: make(chan *Client),
		unreg:    make(chan *Client),
		requests: make(chan request),
	}
}

func (h *Hub) run(cfg *Config) {
	var reap <-chan time.Time
	if cfg.sessionTimeout > 0 {
		ticker := time.NewTicker(cfg.sessionTimeout / 2)
		defer ticker.Stop()
		reap = ticker.C
	}

	for {
		select {
		case c := <-h.register:
			h.clients[c] = true

		case c := <-h.unreg:
			h.disconnect(c)

		case req := <-h.requests:
			h.handle(cfg, req)

		case <-reap:
			h.reapIdle(cfg)
		}
	}
}

// disconnect removes the client and its player entries everywhere, telling
// each affected room who is left.
func (h *Hub) disconnect(c *Client) {
	h.drop(c)

	for _, update := range h.registry.RemoveConnection(c.connID) {
		h.broadcast(update.Code, PlayersUpdateMessage{
			Type:    "playersUpdate",
			Players: update.Players,
		})
	}
}

// handle binds each request type to exactly one registry operation. Unknown
// types, unknown rooms, and unauthorized senders all fall through silently.
func (h *Hub) handle(cfg *Config, req request) {
	switch req.msg.Type {
	case "createRoom":
		h.handleCreate(cfg, req.client)
	case "joinRoom":
		h.handleJoin(cfg, req.client, req.msg)
	case "sendQuestion":
		h.handleQuestion(req.client, req.msg)
	case "answer":
		h.handleAnswer(req.client, req.msg)
	case "closeAnswers":
		h.handleClose(req.msg)
	default:
		// ignore unknown types
	}
}

func (h *Hub) handleCreate(cfg *Config, c *Client) {
	code := h.registry.CreateRoom(c.connID)
	h.addMember(code, c)

	h.trySend(c, RoomCreatedMessage{
		Type: "roomCreated",
		Code: code,
	})

	logf(cfg, "GAMES: Room %s created", code)
}

func (h *Hub) handleJoin(cfg *Config, c *Client, msg ClientMessage) {
	players, err := h.registry.JoinRoom(msg.RoomCode, c.connID, msg.Name)
	if err != nil {
		h.trySend(c, JoinResultMessage{
			Type:    "joinResult",
			Success: false,
			Message: err.Error(),
		})
		return
	}

	h.addMember(msg.RoomCode, c)

	h.trySend(c, JoinResultMessage{
		Type:    "joinResult",
		Success: true,
	})
	h.broadcast(msg.RoomCode, PlayersUpdateMessage{
		Type:    "playersUpdate",
		Players: players,
	})

	logf(cfg, "GAMES: Player %q joined %s", msg.Name, msg.RoomCode)
}

func (h *Hub) handleQuestion(c *Client, msg ClientMessage) {
	q, ok := h.registry.PostQuestion(msg.RoomCode, c.connID, Question{
		Prompt:  msg.Question,
		Options: msg.Options,
	})
	if !ok {
		return
	}

	h.broadcast(msg.RoomCode, NewQuestionMessage{
		Type:     "newQuestion",
		Question: q.Prompt,
		Options:  q.Options,
	})
}

func (h *Hub) handleAnswer(c *Client, msg ClientMessage) {
	if msg.AnswerIndex == nil {
		return
	}
	h.registry.SubmitAnswer(msg.RoomCode, c.connID, *msg.AnswerIndex)
}

func (h *Hub) handleClose(msg ClientMessage) {
	if msg.CorrectIndex == nil {
		return
	}

	results, ok := h.registry.CloseAnswers(msg.RoomCode, *msg.CorrectIndex)
	if !ok {
		return
	}

	h.broadcast(msg.RoomCode, ShowResultsMessage{
		Type:    "showResults",
		Players: results,
	})
}

func (h *Hub) reapIdle(cfg *Config) {
	cutoff := time.Now().Add(-cfg.sessionTimeout)

	for _, code := range h.registry.ReapIdle(cutoff) {
		for client := range h.members[code] {
			h.trySend(client, RoomClosedMessage{
				Type:    "roomClosed",
				Message: "This room was closed after sitting idle.",
			})
		}
		delete(h.members, code)

		logf(cfg, "GAMES: Reaped idle room %s", code)
	}
}

func (h *Hub) addMember(code string, c *Client) {
	members, ok := h.members[code]
	if !ok {
		members = make(map[*Client]bool)
		h.members[code] = members
	}
	members[c] = true
}

// broadcast sends msg to every connected member of the room, dropping any
// client whose send buffer is full.
func (h *Hub) broadcast(code string, msg any) {
	for client := range h.members[code] {
		h.trySend(client, msg)
	}
}

func (h *Hub) trySend(c *Client, msg any) {
	select {
	case c.send <- msg:
	default:
		h.drop(c)
	}
}

func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}

	for code, members := range h.members {
		if members[c] {
			delete(members, c)
			if len(members) == 0 {
				delete(h.members, code)
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// newConnID assigns an ephemeral identifier lasting the life of one
// connection. No cookie: reconnecting yields a fresh identity.
func newConnID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		log.Println("rand.Read error:", err)
		return ""
	}
	return hex.EncodeToString(buf)
}

func serveWS(cfg *Config, h *Hub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		connID := newConnID()
		if connID == "" {
			http.Error(w, "unable to assign connection id", http.StatusInternalServerError)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn:   conn,
			send:   make(chan any, 8),
			connID: connID,
		}

		h.register <- client

		go client.writePump()
		client.readPump(h)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unreg <- c
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		h.requests <- request{
			client: c,
			msg:    msg,
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for a room's join URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	code := ps.ByName("code")
	if code == "" {
		http.Error(w, "missing room code", http.StatusBadRequest)
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

	// We are at /.../qr/:code; strip the trailing "/qr/:code" to get the game URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr/"+code)

	url := scheme + "://" + r.Host + path + "?room=" + code

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// ---- Static file paths ----

//go:embed trivia/index.html
var indexHTML []byte

//go:embed trivia/app.css
var quizboxCSS []byte

//go:embed trivia/app.js
var quizboxJS []byte

func getIndexHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(indexHTML)
	}
}

func getCssHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(quizboxCSS)
	}
}

func getJsHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(quizboxJS)
	}
}

// registerTriviaGame sets up routes so that:
//   - $path           → HTML client
//   - $path/ws        → shared WebSocket endpoint
//   - $path/qr/:code  → PNG QR code for a room's join URL
func registerTriviaGame(cfg *Config, path string, mux *httprouter.Router) {
	hub := newHub(NewRegistry())
	go hub.run(cfg)

	// Client view (HTML)
	mux.GET(cfg.prefix+path, getIndexHandler(cfg))

	// Shared assets
	mux.GET(cfg.prefix+"/assets/trivia/app.css", getCssHandler(cfg))
	mux.GET(cfg.prefix+"/assets/trivia/app.js", getJsHandler(cfg))

	// Shared websocket; clients address rooms by code in each message
	mux.GET(cfg.prefix+path+"/ws", serveWS(cfg, hub))

	// Per-room QR code
	mux.GET(cfg.prefix+path+"/qr/:code", qrHandler)
}
