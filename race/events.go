package race

// Wire event names, client to server.
const (
	EvtJoinRoom     = "join-room"
	EvtStartGame    = "start-game"
	EvtTypingUpdate = "typing-update"
	EvtResetGame    = "reset-game"
)

// Wire event names, server to client.
const (
	EvtConnected       = "connected"
	EvtRoomState       = "room-state"
	EvtRoomFull        = "room-full"
	EvtGameStarted     = "game-started"
	EvtPlayersProgress = "players-progress"
	EvtPlayerFinished  = "player-finished"
	EvtGameFinished    = "game-finished"
	EvtGameReset       = "game-reset"
	EvtPlayerLeft      = "player-left"
)

// EventType discriminates inbound events after transport decoding.
type EventType int

const (
	EventJoin EventType = iota
	EventStart
	EventTyping
	EventReset
	EventDisconnect
)

// Event is one inbound protocol event, already bound to the connection it
// arrived on. Fields beyond Type/ConnID are populated per variant: RoomID
// and User for joins, RoomID for start/reset, the typing stats for typing
// updates, nothing extra for disconnects.
type Event struct {
	Type   EventType
	ConnID string
	RoomID string

	User User // join

	Progress float64 // typing
	WPM      int
	Accuracy int
	Finished bool
}

// Message is one outbound protocol message with an explicit recipient
// list, so transport stays out of the dispatcher.
type Message struct {
	To      []string
	Event   string
	Payload any
}

// Payloads, client to server. The server decodes these from the wire; the
// client agent produces them.

type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
	User   User   `json:"user"`
}

type StartGamePayload struct {
	RoomID string `json:"roomId"`
}

type TypingUpdatePayload struct {
	RoomID   string  `json:"roomId"`
	Progress float64 `json:"progress"`
	WPM      int     `json:"wpm"`
	Accuracy int     `json:"accuracy"`
	Finished bool    `json:"finished"`
}

type ResetGamePayload struct {
	RoomID string `json:"roomId"`
}

// Payloads, server to client.

// ConnectedPayload tells a freshly accepted connection its id, so the
// client can recognize its own entries in later broadcasts.
type ConnectedPayload struct {
	ConnectionID string `json:"connectionId"`
}

type RoomStatePayload struct {
	Room RoomSnapshot `json:"room"`
}

type GameStartedPayload struct {
	Text      string `json:"text"`
	StartTime int64  `json:"startTime"` // unix milliseconds
}

type PlayersProgressPayload struct {
	Players []PlayerSnapshot `json:"players"`
}

type PlayerFinishedPayload struct {
	PlayerID string `json:"playerId"`
	Position int    `json:"position"`
	WPM      int    `json:"wpm"`
	Accuracy int    `json:"accuracy"`
}

type GameFinishedPayload struct {
	Players []PlayerSnapshot `json:"players"`
}

type GameResetPayload struct {
	Text string `json:"text"`
}

type PlayerLeftPayload struct {
	PlayerID string `json:"playerId"`
}
