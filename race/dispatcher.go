package race

import "github.com/jonboulle/clockwork"

type binding struct {
	roomID string
	user   User
}

// Dispatcher validates inbound events, applies them to rooms in the store,
// and returns the broadcasts each event produced. It holds no locks and
// spawns nothing: correctness depends on being driven from a single
// goroutine, which serializes all mutation of any one room.
type Dispatcher struct {
	store          *Store
	clock          clockwork.Clock
	joinInProgress bool

	// connection id -> current room binding; at most one per connection
	bindings map[string]binding
}

// NewDispatcher wires a dispatcher to its store. joinInProgress controls
// whether connections may join rooms that are already playing or finished.
func NewDispatcher(store *Store, joinInProgress bool, clock clockwork.Clock) *Dispatcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Dispatcher{
		store:          store,
		clock:          clock,
		joinInProgress: joinInProgress,
		bindings:       make(map[string]binding),
	}
}

// Bound returns the room id a connection is currently joined to, if any.
func (d *Dispatcher) Bound(connID string) (string, bool) {
	b, ok := d.bindings[connID]
	return b.roomID, ok
}

// Dispatch applies one event and returns the outbound messages it caused.
// Invalid events (unknown room, wrong state, unknown player) return nil:
// no state change, no broadcast.
func (d *Dispatcher) Dispatch(ev Event) []Message {
	switch ev.Type {
	case EventJoin:
		return d.join(ev)
	case EventStart:
		return d.start(ev)
	case EventTyping:
		return d.typing(ev)
	case EventReset:
		return d.reset(ev)
	case EventDisconnect:
		return d.disconnect(ev)
	}
	return nil
}

func broadcast(r *Room, event string, payload any) Message {
	return Message{To: r.ConnIDs(), Event: event, Payload: payload}
}

func only(connID, event string, payload any) Message {
	return Message{To: []string{connID}, Event: event, Payload: payload}
}

func (d *Dispatcher) join(ev Event) []Message {
	var out []Message

	// A connection lives in at most one room: joining somewhere else
	// implies leaving the old room first.
	if b, ok := d.bindings[ev.ConnID]; ok && b.roomID != ev.RoomID {
		out = append(out, d.leave(ev.ConnID)...)
	}

	room := d.store.GetOrCreate(ev.RoomID)

	if room.Player(ev.ConnID) == nil {
		// An existing member re-announcing itself already holds a slot;
		// only genuinely new joiners face the capacity and in-progress
		// checks.
		if room.Full() || (!d.joinInProgress && room.State != StateWaiting) {
			// Rejection is addressed to the joiner alone; the room is
			// untouched. Don't leave behind a room nobody ever joined.
			d.store.RemoveIfEmpty(ev.RoomID)
			return append(out, only(ev.ConnID, EvtRoomFull, nil))
		}
		room.AddPlayer(ev.ConnID, ev.User)
	}
	d.bindings[ev.ConnID] = binding{roomID: ev.RoomID, user: ev.User}

	return append(out, broadcast(room, EvtRoomState, RoomStatePayload{Room: room.Snapshot()}))
}

func (d *Dispatcher) start(ev Event) []Message {
	room, ok := d.store.Get(ev.RoomID)
	if !ok {
		return nil
	}

	if !room.Start(d.store.NewText(), d.clock.Now()) {
		return nil
	}

	return []Message{broadcast(room, EvtGameStarted, GameStartedPayload{
		Text:      room.Text,
		StartTime: room.StartTime.UnixMilli(),
	})}
}

func (d *Dispatcher) typing(ev Event) []Message {
	room, ok := d.store.Get(ev.RoomID)
	if !ok || room.State != StatePlaying {
		return nil
	}

	player := room.Player(ev.ConnID)
	if player == nil {
		return nil
	}

	// Trust boundary: reported stats are stored as-is, never re-derived
	// from the race text.
	player.Progress = ev.Progress
	player.WPM = ev.WPM
	player.Accuracy = ev.Accuracy

	var out []Message

	if ev.Finished && !player.Finished {
		position := room.FinishPlayer(player)

		out = append(out, broadcast(room, EvtPlayerFinished, PlayerFinishedPayload{
			PlayerID: player.ConnID,
			Position: position,
			WPM:      player.WPM,
			Accuracy: player.Accuracy,
		}))

		if room.AllFinished() {
			room.Finish()
			out = append(out, broadcast(room, EvtGameFinished, GameFinishedPayload{
				Players: room.PlayerSnapshots(),
			}))
		}
	}

	return append(out, broadcast(room, EvtPlayersProgress, PlayersProgressPayload{
		Players: room.PlayerSnapshots(),
	}))
}

func (d *Dispatcher) reset(ev Event) []Message {
	room, ok := d.store.Get(ev.RoomID)
	if !ok {
		return nil
	}

	room.Reset(d.store.NewText())

	return []Message{broadcast(room, EvtGameReset, GameResetPayload{Text: room.Text})}
}

func (d *Dispatcher) disconnect(ev Event) []Message {
	b, ok := d.bindings[ev.ConnID]
	if !ok {
		return nil
	}

	out := d.leave(ev.ConnID)

	if room, ok := d.store.Get(b.roomID); ok {
		out = append(out, broadcast(room, EvtRoomState, RoomStatePayload{Room: room.Snapshot()}))
	}

	return out
}

// leave removes the player behind connID from its bound room, notifies the
// remaining members, and destroys the room if it emptied. It never sends
// to the departing connection.
func (d *Dispatcher) leave(connID string) []Message {
	b, ok := d.bindings[connID]
	if !ok {
		return nil
	}
	delete(d.bindings, connID)

	room, ok := d.store.Get(b.roomID)
	if !ok {
		return nil
	}

	if !room.RemovePlayer(connID) {
		return nil
	}

	var out []Message
	if room.PlayerCount() > 0 {
		out = append(out, broadcast(room, EvtPlayerLeft, PlayerLeftPayload{PlayerID: connID}))

		// The departed player may have been the last one still typing;
		// the all-finished transition counts remaining members only.
		if room.State == StatePlaying && room.AllFinished() {
			room.Finish()
			out = append(out, broadcast(room, EvtGameFinished, GameFinishedPayload{
				Players: room.PlayerSnapshots(),
			}))
		}
	}

	d.store.RemoveIfEmpty(b.roomID)

	return out
}
