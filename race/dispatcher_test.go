package race

import (
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T, maxPlayers int, joinInProgress bool) (*Dispatcher, *Store, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	store := NewStore(5, maxPlayers)
	return NewDispatcher(store, joinInProgress, clock), store, clock
}

func join(conn, room string) Event {
	return Event{Type: EventJoin, ConnID: conn, RoomID: room, User: User{UID: "u-" + conn, DisplayName: conn}}
}

func typing(conn, room string, progress float64, wpm int, finished bool) Event {
	return Event{Type: EventTyping, ConnID: conn, RoomID: room, Progress: progress, WPM: wpm, Accuracy: 97, Finished: finished}
}

func byEvent(msgs []Message, event string) []Message {
	var out []Message
	for _, m := range msgs {
		if m.Event == event {
			out = append(out, m)
		}
	}
	return out
}

func TestDispatchJoin(t *testing.T) {
	d, store, _ := newTestDispatcher(t, 4, true)

	msgs := d.Dispatch(join("c1", "r1"))

	require.Len(t, msgs, 1)
	assert.Equal(t, EvtRoomState, msgs[0].Event)
	assert.Equal(t, []string{"c1"}, msgs[0].To)

	payload := msgs[0].Payload.(RoomStatePayload)
	assert.Equal(t, StateWaiting, payload.Room.State)
	assert.NotEmpty(t, payload.Room.Text)
	require.Len(t, payload.Room.Players, 1)
	assert.Equal(t, "c1", payload.Room.Players[0].ConnectionID)
	assert.Equal(t, 100, payload.Room.Players[0].Accuracy)

	room, ok := store.Get("r1")
	require.True(t, ok)
	assert.Equal(t, 1, room.PlayerCount())

	roomID, bound := d.Bound("c1")
	require.True(t, bound)
	assert.Equal(t, "r1", roomID)
}

func TestDispatchJoinBroadcastsToEveryMember(t *testing.T) {
	d, _, _ := newTestDispatcher(t, 4, true)

	d.Dispatch(join("c1", "r1"))
	msgs := d.Dispatch(join("c2", "r1"))

	require.Len(t, msgs, 1)
	assert.ElementsMatch(t, []string{"c1", "c2"}, msgs[0].To)
}

func TestDispatchJoinCapacity(t *testing.T) {
	d, store, _ := newTestDispatcher(t, 2, true)

	d.Dispatch(join("c1", "r1"))
	d.Dispatch(join("c2", "r1"))
	msgs := d.Dispatch(join("c3", "r1"))

	// The rejection goes to the joiner alone; the room is unaffected.
	require.Len(t, msgs, 1)
	assert.Equal(t, EvtRoomFull, msgs[0].Event)
	assert.Equal(t, []string{"c3"}, msgs[0].To)

	room, _ := store.Get("r1")
	assert.Equal(t, 2, room.PlayerCount())

	_, bound := d.Bound("c3")
	assert.False(t, bound)
}

func TestDispatchJoinSwitchesRooms(t *testing.T) {
	d, store, _ := newTestDispatcher(t, 4, true)

	d.Dispatch(join("c1", "r1"))
	d.Dispatch(join("c2", "r1"))

	msgs := d.Dispatch(join("c2", "r2"))

	left := byEvent(msgs, EvtPlayerLeft)
	require.Len(t, left, 1)
	assert.Equal(t, []string{"c1"}, left[0].To)
	assert.Equal(t, "c2", left[0].Payload.(PlayerLeftPayload).PlayerID)

	r1, _ := store.Get("r1")
	assert.Equal(t, 1, r1.PlayerCount())
	r2, _ := store.Get("r2")
	assert.Equal(t, 1, r2.PlayerCount())

	roomID, _ := d.Bound("c2")
	assert.Equal(t, "r2", roomID)
}

func TestDispatchJoinSwitchDestroysEmptiedRoom(t *testing.T) {
	d, store, _ := newTestDispatcher(t, 4, true)

	d.Dispatch(join("c1", "r1"))
	msgs := d.Dispatch(join("c1", "r2"))

	// Sole member left r1: no player-left recipients remain and the room
	// is gone.
	assert.Empty(t, byEvent(msgs, EvtPlayerLeft))
	_, ok := store.Get("r1")
	assert.False(t, ok)
}

func TestDispatchJoinRejoiningSameRoomKeepsPlayer(t *testing.T) {
	d, store, _ := newTestDispatcher(t, 4, true)

	d.Dispatch(join("c1", "r1"))
	msgs := d.Dispatch(join("c1", "r1"))

	require.Len(t, msgs, 1)
	assert.Equal(t, EvtRoomState, msgs[0].Event)

	room, _ := store.Get("r1")
	assert.Equal(t, 1, room.PlayerCount())
}

func TestDispatchJoinRejoinWhenFull(t *testing.T) {
	d, store, _ := newTestDispatcher(t, 2, true)

	d.Dispatch(join("c1", "r1"))
	d.Dispatch(join("c2", "r1"))

	// A member re-announcing itself already holds a slot.
	msgs := d.Dispatch(join("c1", "r1"))

	require.Len(t, msgs, 1)
	assert.Equal(t, EvtRoomState, msgs[0].Event)

	room, _ := store.Get("r1")
	assert.Equal(t, 2, room.PlayerCount())
}

func TestDispatchJoinInProgressPolicy(t *testing.T) {
	d, store, _ := newTestDispatcher(t, 4, false)

	d.Dispatch(join("c1", "r1"))
	d.Dispatch(Event{Type: EventStart, ConnID: "c1", RoomID: "r1"})

	msgs := d.Dispatch(join("c2", "r1"))

	require.Len(t, msgs, 1)
	assert.Equal(t, EvtRoomFull, msgs[0].Event)
	assert.Equal(t, []string{"c2"}, msgs[0].To)

	room, _ := store.Get("r1")
	assert.Equal(t, 1, room.PlayerCount())
	assert.Equal(t, StatePlaying, room.State)
}

func TestDispatchStart(t *testing.T) {
	d, store, clock := newTestDispatcher(t, 4, true)

	d.Dispatch(join("c1", "r1"))
	d.Dispatch(join("c2", "r1"))

	msgs := d.Dispatch(Event{Type: EventStart, ConnID: "c1", RoomID: "r1"})

	require.Len(t, msgs, 1)
	assert.Equal(t, EvtGameStarted, msgs[0].Event)
	assert.ElementsMatch(t, []string{"c1", "c2"}, msgs[0].To)

	payload := msgs[0].Payload.(GameStartedPayload)
	assert.NotEmpty(t, payload.Text)
	assert.Equal(t, clock.Now().UnixMilli(), payload.StartTime)

	room, _ := store.Get("r1")
	assert.Equal(t, StatePlaying, room.State)
}

func TestDispatchDoubleStart(t *testing.T) {
	d, store, _ := newTestDispatcher(t, 4, true)

	d.Dispatch(join("c1", "r1"))
	d.Dispatch(join("c2", "r1"))

	first := d.Dispatch(Event{Type: EventStart, ConnID: "c1", RoomID: "r1"})
	second := d.Dispatch(Event{Type: EventStart, ConnID: "c2", RoomID: "r1"})

	// Exactly one game-started, one text/startTime pair; the loser is a
	// silent no-op.
	require.Len(t, first, 1)
	assert.Nil(t, second)

	room, _ := store.Get("r1")
	assert.Equal(t, first[0].Payload.(GameStartedPayload).Text, room.Text)
}

func TestDispatchStartUnknownRoom(t *testing.T) {
	d, _, _ := newTestDispatcher(t, 4, true)
	assert.Nil(t, d.Dispatch(Event{Type: EventStart, ConnID: "c1", RoomID: "nope"}))
}

func TestDispatchTypingUpdate(t *testing.T) {
	d, store, _ := newTestDispatcher(t, 4, true)

	d.Dispatch(join("c1", "r1"))
	d.Dispatch(join("c2", "r1"))
	d.Dispatch(Event{Type: EventStart, ConnID: "c1", RoomID: "r1"})

	msgs := d.Dispatch(typing("c1", "r1", 42.5, 61, false))

	require.Len(t, msgs, 1)
	assert.Equal(t, EvtPlayersProgress, msgs[0].Event)
	assert.ElementsMatch(t, []string{"c1", "c2"}, msgs[0].To, "sender is included in the broadcast")

	room, _ := store.Get("r1")
	player := room.Player("c1")
	assert.Equal(t, 42.5, player.Progress)
	assert.Equal(t, 61, player.WPM)
	assert.Equal(t, 97, player.Accuracy)
	assert.False(t, player.Finished)
}

func TestDispatchTypingIgnoredWhenNotPlaying(t *testing.T) {
	d, store, _ := newTestDispatcher(t, 4, true)

	d.Dispatch(join("c1", "r1"))

	assert.Nil(t, d.Dispatch(typing("c1", "r1", 10, 20, false)))

	room, _ := store.Get("r1")
	assert.Zero(t, room.Player("c1").Progress)
}

func TestDispatchTypingIgnoredForUnknownPlayer(t *testing.T) {
	d, _, _ := newTestDispatcher(t, 4, true)

	d.Dispatch(join("c1", "r1"))
	d.Dispatch(Event{Type: EventStart, ConnID: "c1", RoomID: "r1"})

	assert.Nil(t, d.Dispatch(typing("ghost", "r1", 10, 20, false)))
}

func TestDispatchFinishOrder(t *testing.T) {
	d, store, _ := newTestDispatcher(t, 4, true)

	d.Dispatch(join("c1", "r1"))
	d.Dispatch(join("c2", "r1"))
	d.Dispatch(join("c3", "r1"))
	d.Dispatch(Event{Type: EventStart, ConnID: "c1", RoomID: "r1"})

	// Positions follow finish order, not reported WPM.
	finish := func(conn string, wpm int) []Message {
		return d.Dispatch(typing(conn, "r1", 100, wpm, true))
	}

	msgs := finish("c2", 30)
	fin := byEvent(msgs, EvtPlayerFinished)
	require.Len(t, fin, 1)
	assert.Equal(t, PlayerFinishedPayload{PlayerID: "c2", Position: 1, WPM: 30, Accuracy: 97}, fin[0].Payload)
	assert.Empty(t, byEvent(msgs, EvtGameFinished))

	msgs = finish("c1", 90)
	fin = byEvent(msgs, EvtPlayerFinished)
	require.Len(t, fin, 1)
	assert.Equal(t, 2, fin[0].Payload.(PlayerFinishedPayload).Position)

	msgs = finish("c3", 60)
	fin = byEvent(msgs, EvtPlayerFinished)
	require.Len(t, fin, 1)
	assert.Equal(t, 3, fin[0].Payload.(PlayerFinishedPayload).Position)

	// Last finisher tips the room over: summary with the full roster,
	// then the usual progress snapshot.
	done := byEvent(msgs, EvtGameFinished)
	require.Len(t, done, 1)
	assert.Len(t, done[0].Payload.(GameFinishedPayload).Players, 3)
	require.Len(t, byEvent(msgs, EvtPlayersProgress), 1)

	room, _ := store.Get("r1")
	assert.Equal(t, StateFinished, room.State)
	assert.True(t, room.StartTime.IsZero())
}

func TestDispatchRepeatedFinishKeepsPosition(t *testing.T) {
	d, store, _ := newTestDispatcher(t, 4, true)

	d.Dispatch(join("c1", "r1"))
	d.Dispatch(join("c2", "r1"))
	d.Dispatch(Event{Type: EventStart, ConnID: "c1", RoomID: "r1"})

	d.Dispatch(typing("c1", "r1", 100, 50, true))
	msgs := d.Dispatch(typing("c1", "r1", 100, 55, true))

	// finished is monotone: re-reporting it is just a stats update.
	assert.Empty(t, byEvent(msgs, EvtPlayerFinished))

	room, _ := store.Get("r1")
	assert.Equal(t, 1, room.Player("c1").Position)
}

func TestDispatchReset(t *testing.T) {
	d, store, _ := newTestDispatcher(t, 4, true)

	d.Dispatch(join("c1", "r1"))
	d.Dispatch(join("c2", "r1"))
	d.Dispatch(Event{Type: EventStart, ConnID: "c1", RoomID: "r1"})
	d.Dispatch(typing("c1", "r1", 100, 50, true))
	d.Dispatch(typing("c2", "r1", 100, 40, true))

	room, _ := store.Get("r1")
	require.Equal(t, StateFinished, room.State)

	msgs := d.Dispatch(Event{Type: EventReset, ConnID: "c1", RoomID: "r1"})

	require.Len(t, msgs, 1)
	assert.Equal(t, EvtGameReset, msgs[0].Event)
	assert.Equal(t, room.Text, msgs[0].Payload.(GameResetPayload).Text)

	assert.Equal(t, StateWaiting, room.State)
	assert.True(t, room.StartTime.IsZero())
	for _, snap := range room.PlayerSnapshots() {
		assert.False(t, snap.Finished)
		assert.Nil(t, snap.Position)
		assert.Zero(t, snap.Progress)
	}

	// Reset is permitted from any state, waiting included.
	again := d.Dispatch(Event{Type: EventReset, ConnID: "c1", RoomID: "r1"})
	require.Len(t, again, 1)
	assert.Equal(t, StateWaiting, room.State)
}

func TestDispatchDisconnect(t *testing.T) {
	d, store, _ := newTestDispatcher(t, 4, true)

	d.Dispatch(join("c1", "r1"))
	d.Dispatch(join("c2", "r1"))

	msgs := d.Dispatch(Event{Type: EventDisconnect, ConnID: "c1"})

	left := byEvent(msgs, EvtPlayerLeft)
	require.Len(t, left, 1)
	assert.Equal(t, []string{"c2"}, left[0].To)

	state := byEvent(msgs, EvtRoomState)
	require.Len(t, state, 1)
	assert.Len(t, state[0].Payload.(RoomStatePayload).Room.Players, 1)

	room, _ := store.Get("r1")
	assert.Equal(t, 1, room.PlayerCount())
}

func TestDispatchLastDisconnectDestroysRoom(t *testing.T) {
	d, store, _ := newTestDispatcher(t, 4, true)

	d.Dispatch(join("c1", "r1"))

	msgs := d.Dispatch(Event{Type: EventDisconnect, ConnID: "c1"})
	assert.Empty(t, msgs)

	_, ok := store.Get("r1")
	assert.False(t, ok)

	// A later join to the same id builds a fresh waiting room.
	d.Dispatch(join("c2", "r1"))
	room, ok := store.Get("r1")
	require.True(t, ok)
	assert.Equal(t, StateWaiting, room.State)
	assert.Equal(t, 1, room.PlayerCount())
	assert.Nil(t, room.Player("c1"))
}

func TestDispatchDisconnectUnknownConnection(t *testing.T) {
	d, _, _ := newTestDispatcher(t, 4, true)
	assert.Nil(t, d.Dispatch(Event{Type: EventDisconnect, ConnID: "ghost"}))
}

func TestDispatchDisconnectMidRace(t *testing.T) {
	d, store, _ := newTestDispatcher(t, 4, true)

	d.Dispatch(join("c1", "r1"))
	d.Dispatch(join("c2", "r1"))
	d.Dispatch(join("c3", "r1"))
	d.Dispatch(Event{Type: EventStart, ConnID: "c1", RoomID: "r1"})

	d.Dispatch(typing("c1", "r1", 100, 50, true))

	// An unfinished player leaving must not end the race while c2 is
	// still typing.
	msgs := d.Dispatch(Event{Type: EventDisconnect, ConnID: "c3"})
	assert.Empty(t, byEvent(msgs, EvtGameFinished))

	room, _ := store.Get("r1")
	assert.Equal(t, StatePlaying, room.State)

	// Once every remaining player has finished, the transition fires.
	msgs = d.Dispatch(typing("c2", "r1", 100, 40, true))
	assert.Len(t, byEvent(msgs, EvtGameFinished), 1)
	assert.Equal(t, StateFinished, room.State)
}

func TestDispatchDisconnectOfLastUnfinishedEndsRace(t *testing.T) {
	d, store, _ := newTestDispatcher(t, 4, true)

	d.Dispatch(join("c1", "r1"))
	d.Dispatch(join("c2", "r1"))
	d.Dispatch(join("c3", "r1"))
	d.Dispatch(Event{Type: EventStart, ConnID: "c1", RoomID: "r1"})

	d.Dispatch(typing("c1", "r1", 100, 50, true))
	d.Dispatch(typing("c2", "r1", 100, 45, true))

	msgs := d.Dispatch(Event{Type: EventDisconnect, ConnID: "c3"})

	done := byEvent(msgs, EvtGameFinished)
	require.Len(t, done, 1)
	assert.Len(t, done[0].Payload.(GameFinishedPayload).Players, 2)

	room, _ := store.Get("r1")
	assert.Equal(t, StateFinished, room.State)
}
