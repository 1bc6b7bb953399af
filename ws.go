package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"typebox/race"
)

const sendBuffer = 16

// frame is the wire envelope in both directions: an event name plus its
// payload.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan outFrame
}

type roomLookup struct {
	id    string
	reply chan *race.RoomSnapshot
}

type roomCreate struct {
	reply chan string
}

// server owns the room store and the dispatcher. Its run loop is the only
// goroutine that touches either, so every event, REST lookup, and room
// mutation is serialized: two starts racing for the same waiting room are
// processed one after the other, and the second sees state != waiting.
type server struct {
	cfg        *Config
	store      *race.Store
	dispatcher *race.Dispatcher
	clients    map[string]*wsClient

	register   chan *wsClient
	unregister chan *wsClient
	events     chan race.Event
	lookups    chan roomLookup
	creates    chan roomCreate
}

func newServer(cfg *Config) *server {
	store := race.NewStore(cfg.wordCount, cfg.maxPlayers)

	return &server{
		cfg:        cfg,
		store:      store,
		dispatcher: race.NewDispatcher(store, cfg.joinInProgress, nil),
		clients:    make(map[string]*wsClient),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		events:     make(chan race.Event, 64),
		lookups:    make(chan roomLookup),
		creates:    make(chan roomCreate),
	}
}

func (s *server) run() {
	for {
		select {
		case c := <-s.register:
			s.clients[c.id] = c
			c.send <- outFrame{Event: race.EvtConnected, Data: race.ConnectedPayload{ConnectionID: c.id}}
			logf(s.cfg, "ROOMS: Connection %s established", c.id)

		case c := <-s.unregister:
			s.drop(c.id)

		case ev := <-s.events:
			s.deliver(s.dispatcher.Dispatch(ev))

		case q := <-s.lookups:
			if room, ok := s.store.Get(q.id); ok {
				snapshot := room.Snapshot()
				q.reply <- &snapshot
			} else {
				q.reply <- nil
			}

		case q := <-s.creates:
			room := s.store.Create()
			logf(s.cfg, "ROOMS: Created room %s (%d total)", room.ID, s.store.Len())
			q.reply <- room.ID
		}
	}
}

// drop removes a connection and processes its disconnect like any other
// inbound event, so the player is cleaned out of its room and the
// remaining members are notified.
func (s *server) drop(id string) {
	c, ok := s.clients[id]
	if !ok {
		return
	}

	delete(s.clients, id)
	close(c.send)

	s.deliver(s.dispatcher.Dispatch(race.Event{Type: race.EventDisconnect, ConnID: id}))

	logf(s.cfg, "ROOMS: Connection %s closed", id)
}

// deliver fans messages out to their recipients. A connection whose send
// buffer is full is treated as gone and dropped, which in turn may produce
// more messages for the survivors.
func (s *server) deliver(msgs []race.Message) {
	var stalled []string

	for _, msg := range msgs {
		for _, id := range msg.To {
			c, ok := s.clients[id]
			if !ok {
				continue
			}
			select {
			case c.send <- outFrame{Event: msg.Event, Data: msg.Payload}:
			default:
				stalled = append(stalled, id)
			}
		}
	}

	for _, id := range stalled {
		s.drop(id)
	}
}

func originChecker(cfg *Config) func(*http.Request) bool {
	return func(r *http.Request) bool {
		if len(cfg.origins) == 0 {
			return true
		}

		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}

		for _, allowed := range cfg.origins {
			if allowed == "*" || strings.EqualFold(allowed, origin) {
				return true
			}
		}

		return false
	}
}

func serveWS(cfg *Config, srv *server) httprouter.Handle {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg),
	}

	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "ROOMS: Upgrade failed for %s: %v", realIP(r), err)
			return
		}

		client := &wsClient{
			id:   uuid.NewString(),
			conn: conn,
			send: make(chan outFrame, sendBuffer),
		}

		srv.register <- client

		go client.writePump()
		client.readPump(srv)
	}
}

func (c *wsClient) readPump(srv *server) {
	defer func() {
		srv.unregister <- c
		_ = c.conn.Close()
	}()

	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			return
		}

		ev, ok := decodeEvent(c.id, f)
		if !ok {
			continue
		}

		srv.events <- ev
	}
}

func (c *wsClient) writePump() {
	defer c.conn.Close()

	for f := range c.send {
		if err := c.conn.WriteJSON(f); err != nil {
			return
		}
	}
}

// decodeEvent maps one wire frame onto the dispatcher's event variant.
// Unknown event names and malformed payloads are dropped here, before they
// reach the run loop.
func decodeEvent(connID string, f frame) (race.Event, bool) {
	switch f.Event {
	case race.EvtJoinRoom:
		var p race.JoinRoomPayload
		if err := json.Unmarshal(f.Data, &p); err != nil || p.RoomID == "" {
			return race.Event{}, false
		}
		return race.Event{Type: race.EventJoin, ConnID: connID, RoomID: p.RoomID, User: p.User}, true

	case race.EvtStartGame:
		var p race.StartGamePayload
		if err := json.Unmarshal(f.Data, &p); err != nil || p.RoomID == "" {
			return race.Event{}, false
		}
		return race.Event{Type: race.EventStart, ConnID: connID, RoomID: p.RoomID}, true

	case race.EvtTypingUpdate:
		var p race.TypingUpdatePayload
		if err := json.Unmarshal(f.Data, &p); err != nil || p.RoomID == "" {
			return race.Event{}, false
		}
		return race.Event{
			Type:     race.EventTyping,
			ConnID:   connID,
			RoomID:   p.RoomID,
			Progress: p.Progress,
			WPM:      p.WPM,
			Accuracy: p.Accuracy,
			Finished: p.Finished,
		}, true

	case race.EvtResetGame:
		var p race.ResetGamePayload
		if err := json.Unmarshal(f.Data, &p); err != nil || p.RoomID == "" {
			return race.Event{}, false
		}
		return race.Event{Type: race.EventReset, ConnID: connID, RoomID: p.RoomID}, true
	}

	return race.Event{}, false
}
