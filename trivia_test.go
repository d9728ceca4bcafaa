package main

import (
	"testing"
	"time"
)

func intPtr(i int) *int {
	return &i
}

func newTestHub() (*Hub, *Config) {
	return newHub(NewRegistry()), &Config{sessionTimeout: time.Hour}
}

func newTestClient(h *Hub, id string) *Client {
	c := &Client{
		send:   make(chan any, 8),
		connID: id,
	}
	h.clients[c] = true
	return c
}

// recvMessage pops the next already-delivered message. Handlers push into the
// buffered send channel before returning, so nothing here needs to wait.
func recvMessage(t *testing.T, c *Client) any {
	t.Helper()

	select {
	case msg := <-c.send:
		return msg
	default:
		t.Fatal("no message pending")
		return nil
	}
}

func assertNoMessage(t *testing.T, c *Client) {
	t.Helper()

	select {
	case msg := <-c.send:
		t.Fatalf("unexpected message: %+v", msg)
	default:
	}
}

func createRoom(t *testing.T, h *Hub, cfg *Config, host *Client) string {
	t.Helper()

	h.handle(cfg, request{client: host, msg: ClientMessage{Type: "createRoom"}})

	created, ok := recvMessage(t, host).(RoomCreatedMessage)
	if !ok || created.Code == "" {
		t.Fatalf("create reply = %+v", created)
	}
	return created.Code
}

func TestHubCreateAndJoin(t *testing.T) {
	h, cfg := newTestHub()
	host := newTestClient(h, "host")
	player := newTestClient(h, "p1")

	code := createRoom(t, h, cfg, host)

	h.handle(cfg, request{client: player, msg: ClientMessage{
		Type:     "joinRoom",
		RoomCode: code,
		Name:     "Alice",
	}})

	result, ok := recvMessage(t, player).(JoinResultMessage)
	if !ok || !result.Success {
		t.Fatalf("join reply = %+v", result)
	}

	// Roster broadcast reaches both the joiner and the host.
	for _, c := range []*Client{player, host} {
		update, ok := recvMessage(t, c).(PlayersUpdateMessage)
		if !ok || len(update.Players) != 1 || update.Players[0].Name != "Alice" {
			t.Fatalf("roster broadcast = %+v", update)
		}
	}
}

func TestHubJoinUnknownRoom(t *testing.T) {
	h, cfg := newTestHub()
	player := newTestClient(h, "p1")

	h.handle(cfg, request{client: player, msg: ClientMessage{
		Type:     "joinRoom",
		RoomCode: "NOPE1",
		Name:     "Alice",
	}})

	result, ok := recvMessage(t, player).(JoinResultMessage)
	if !ok || result.Success || result.Message != "Room not found" {
		t.Fatalf("join reply = %+v", result)
	}
	assertNoMessage(t, player)
}

func TestHubJoinFullRoomReply(t *testing.T) {
	h, cfg := newTestHub()
	host := newTestClient(h, "host")
	code := createRoom(t, h, cfg, host)

	for i := 0; i < roomCapacity; i++ {
		c := newTestClient(h, string(rune('a'+i)))
		h.handle(cfg, request{client: c, msg: ClientMessage{Type: "joinRoom", RoomCode: code, Name: "p"}})
	}

	late := newTestClient(h, "late")
	h.handle(cfg, request{client: late, msg: ClientMessage{Type: "joinRoom", RoomCode: code, Name: "Late"}})

	result, ok := recvMessage(t, late).(JoinResultMessage)
	if !ok || result.Success || result.Message != "Room full" {
		t.Fatalf("join reply = %+v", result)
	}
	assertNoMessage(t, late)
}

func TestHubQuestionRound(t *testing.T) {
	h, cfg := newTestHub()
	host := newTestClient(h, "host")
	player := newTestClient(h, "p1")

	code := createRoom(t, h, cfg, host)
	h.handle(cfg, request{client: player, msg: ClientMessage{Type: "joinRoom", RoomCode: code, Name: "Alice"}})
	recvMessage(t, player) // joinResult
	recvMessage(t, player) // playersUpdate
	recvMessage(t, host)   // playersUpdate

	// A player posting a question must produce nothing.
	h.handle(cfg, request{client: player, msg: ClientMessage{
		Type:     "sendQuestion",
		RoomCode: code,
		Question: "forged",
		Options:  []string{"x"},
	}})
	assertNoMessage(t, host)
	assertNoMessage(t, player)

	h.handle(cfg, request{client: host, msg: ClientMessage{
		Type:     "sendQuestion",
		RoomCode: code,
		Question: "2+2?",
		Options:  []string{"3", "4", "5"},
	}})

	for _, c := range []*Client{host, player} {
		q, ok := recvMessage(t, c).(NewQuestionMessage)
		if !ok || q.Question != "2+2?" || len(q.Options) != 3 {
			t.Fatalf("question broadcast = %+v", q)
		}
	}

	// Answers produce no reply and no broadcast.
	h.handle(cfg, request{client: player, msg: ClientMessage{
		Type:        "answer",
		RoomCode:    code,
		AnswerIndex: intPtr(1),
	}})
	assertNoMessage(t, host)
	assertNoMessage(t, player)

	h.handle(cfg, request{client: host, msg: ClientMessage{
		Type:         "closeAnswers",
		RoomCode:     code,
		CorrectIndex: intPtr(1),
	}})

	for _, c := range []*Client{host, player} {
		results, ok := recvMessage(t, c).(ShowResultsMessage)
		if !ok || len(results.Players) != 1 {
			t.Fatalf("results broadcast = %+v", results)
		}
		if r := results.Players[0]; r.Name != "Alice" || r.Score != answerAward || !r.Correct {
			t.Fatalf("result entry = %+v", r)
		}
	}
}

func TestHubDisconnect(t *testing.T) {
	h, cfg := newTestHub()
	host := newTestClient(h, "host")
	player := newTestClient(h, "p1")

	code := createRoom(t, h, cfg, host)
	h.handle(cfg, request{client: player, msg: ClientMessage{Type: "joinRoom", RoomCode: code, Name: "Alice"}})
	recvMessage(t, player)
	recvMessage(t, player)
	recvMessage(t, host)

	h.disconnect(player)

	update, ok := recvMessage(t, host).(PlayersUpdateMessage)
	if !ok || len(update.Players) != 0 {
		t.Fatalf("roster after disconnect = %+v", update)
	}
	if h.clients[player] {
		t.Error("disconnected client still tracked")
	}
	if h.members[code][player] {
		t.Error("disconnected client still a room member")
	}
}

func TestHubReapNotifiesMembers(t *testing.T) {
	h, cfg := newTestHub()
	host := newTestClient(h, "host")
	code := createRoom(t, h, cfg, host)

	h.registry.rooms[code].LastActive = time.Now().Add(-2 * cfg.sessionTimeout)
	h.reapIdle(cfg)

	closed, ok := recvMessage(t, host).(RoomClosedMessage)
	if !ok || closed.Type != "roomClosed" {
		t.Fatalf("reap notification = %+v", closed)
	}
	if _, live := h.registry.rooms[code]; live {
		t.Error("room still live after reap")
	}
	if _, tracked := h.members[code]; tracked {
		t.Error("membership set survives reap")
	}
}

// End-to-end through the run loop's channels rather than direct calls.
func TestHubRunLoop(t *testing.T) {
	h, cfg := newTestHub()
	go h.run(cfg)

	wait := func(c *Client) any {
		t.Helper()
		select {
		case msg := <-c.send:
			return msg
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for message")
			return nil
		}
	}

	host := &Client{send: make(chan any, 8), connID: "host"}
	player := &Client{send: make(chan any, 8), connID: "p1"}
	h.register <- host
	h.register <- player

	h.requests <- request{client: host, msg: ClientMessage{Type: "createRoom"}}
	created := wait(host).(RoomCreatedMessage)

	h.requests <- request{client: player, msg: ClientMessage{
		Type:     "joinRoom",
		RoomCode: created.Code,
		Name:     "Alice",
	}}

	if result := wait(player).(JoinResultMessage); !result.Success {
		t.Fatalf("join reply = %+v", result)
	}
	if update := wait(host).(PlayersUpdateMessage); len(update.Players) != 1 {
		t.Fatalf("roster broadcast = %+v", update)
	}

	h.unreg <- player
	if update := wait(host).(PlayersUpdateMessage); len(update.Players) != 0 {
		t.Fatalf("roster after disconnect = %+v", update)
	}
}
