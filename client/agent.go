// Package client mirrors server room state and turns raw keystrokes into
// throttled typing-update reports. It owns no transport: callers feed it
// decoded server messages and give it a send function for its own events.
package client

import (
	"encoding/json"
	"time"

	"github.com/jonboulle/clockwork"

	"typebox/race"
)

// DefaultThrottle is the minimum gap between typing-update reports, except
// for the immediate report on finish.
const DefaultThrottle = 100 * time.Millisecond

// DefaultTrailDecay is how long a trail mark stays visible on a recently
// typed character.
const DefaultTrailDecay = 500 * time.Millisecond

// SendFunc delivers one client event to the server.
type SendFunc func(event string, payload any)

// Options tunes an Agent. Zero values pick the defaults; TimeLimit zero
// means an untimed race.
type Options struct {
	Throttle   time.Duration
	TrailDecay time.Duration
	TimeLimit  time.Duration
	Clock      clockwork.Clock
}

// Agent reconciles local keystroke state with server broadcasts for one
// connection in one room.
//
// Ownership is split: the server's broadcasts own the roster, the shared
// game state, and this player's finish position; the agent owns the typed
// input, the error set, and the cosmetic trail. Neither side ever writes
// the other's fields, and the game-state mirror moves only on inbound
// messages, never on local inference.
type Agent struct {
	roomID string
	send   SendFunc
	clock  clockwork.Clock

	throttle   time.Duration
	trailDecay time.Duration
	timeLimit  time.Duration

	// server-owned mirror
	connID    string
	state     race.State
	text      string
	startTime time.Time
	players   []race.PlayerSnapshot
	position  int
	rejected  bool

	// locally-owned input state
	input      string
	errors     []int
	wpm        int
	accuracy   int
	progress   float64
	finished   bool
	lastReport time.Time
	trail      map[int]time.Time
}

// New returns an agent for roomID that reports through send.
func New(roomID string, send SendFunc, opts Options) *Agent {
	if opts.Throttle <= 0 {
		opts.Throttle = DefaultThrottle
	}
	if opts.TrailDecay <= 0 {
		opts.TrailDecay = DefaultTrailDecay
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	return &Agent{
		roomID:     roomID,
		send:       send,
		clock:      opts.Clock,
		throttle:   opts.Throttle,
		trailDecay: opts.TrailDecay,
		timeLimit:  opts.TimeLimit,
		state:      race.StateWaiting,
		accuracy:   100,
		trail:      make(map[int]time.Time),
	}
}

// Join announces this connection to the room.
func (a *Agent) Join(u race.User) {
	a.send(race.EvtJoinRoom, race.JoinRoomPayload{RoomID: a.roomID, User: u})
}

// Start asks the server to begin the race. Sent only while the mirror says
// the room is waiting; the server ignores it otherwise anyway.
func (a *Agent) Start() {
	if a.state != race.StateWaiting {
		return
	}
	a.send(race.EvtStartGame, race.StartGamePayload{RoomID: a.roomID})
}

// Reset asks the server to put the room back to waiting.
func (a *Agent) Reset() {
	a.send(race.EvtResetGame, race.ResetGamePayload{RoomID: a.roomID})
}

// HandleMessage applies one decoded server frame to the mirror. Unknown
// events are ignored; malformed payloads are returned as errors and change
// nothing.
func (a *Agent) HandleMessage(event string, data []byte) error {
	switch event {
	case race.EvtConnected:
		var p race.ConnectedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		a.connID = p.ConnectionID

	case race.EvtRoomState:
		var p race.RoomStatePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		a.state = p.Room.State
		a.players = p.Room.Players
		if p.Room.Text != "" {
			a.text = p.Room.Text
		}

	case race.EvtGameStarted:
		var p race.GameStartedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		a.state = race.StatePlaying
		a.text = p.Text
		a.startTime = time.UnixMilli(p.StartTime)
		a.clearLocal()

	case race.EvtPlayersProgress:
		var p race.PlayersProgressPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		a.players = p.Players

	case race.EvtPlayerFinished:
		var p race.PlayerFinishedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		// Position is server-assigned and only ever reflected, never
		// derived locally.
		if p.PlayerID == a.connID {
			a.position = p.Position
		}

	case race.EvtGameFinished:
		var p race.GameFinishedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		a.state = race.StateFinished
		a.players = p.Players

	case race.EvtGameReset:
		var p race.GameResetPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		a.state = race.StateWaiting
		a.text = p.Text
		a.startTime = time.Time{}
		a.clearLocal()

	case race.EvtRoomFull:
		a.rejected = true

	case race.EvtPlayerLeft:
		// Roster updates arrive via room-state / players-progress.
	}

	return nil
}

func (a *Agent) clearLocal() {
	a.input = ""
	a.errors = nil
	a.wpm = 0
	a.accuracy = 100
	a.progress = 0
	a.finished = false
	a.position = 0
	a.lastReport = time.Time{}
	a.trail = make(map[int]time.Time)
}

// Input accepts the full current typed text. Keystrokes are dropped unless
// the mirror says the race is playing and this player hasn't finished.
func (a *Agent) Input(value string) {
	if a.state != race.StatePlaying || a.finished {
		return
	}

	now := a.clock.Now()

	// Trail marks for newly typed indices; cosmetic only.
	for i := len(a.input); i < len(value); i++ {
		a.trail[i] = now
	}
	a.pruneTrail(now, len(value))

	a.input = value

	a.errors = a.errors[:0]
	for i := 0; i < len(value); i++ {
		if i >= len(a.text) || value[i] != a.text[i] {
			a.errors = append(a.errors, i)
		}
	}

	a.accuracy = race.Accuracy(len(value)-len(a.errors), len(value))

	if len(a.text) > 0 {
		a.progress = min(100, float64(len(value))/float64(len(a.text))*100)
	}

	elapsed := now.Sub(a.startTime).Seconds()

	if value == a.text {
		a.finished = true
		a.wpm = race.WPM(len(a.text), elapsed)
	} else {
		a.wpm = race.WPM(len(value), elapsed)
	}

	a.report(now, a.finished)
}

// Tick is the periodic hook: it refreshes the live WPM, expires trail
// marks, and in timed mode forces a local finish once the countdown runs
// out.
func (a *Agent) Tick() {
	now := a.clock.Now()
	a.pruneTrail(now, len(a.input))

	if a.state != race.StatePlaying || a.finished {
		return
	}

	elapsed := now.Sub(a.startTime).Seconds()
	a.wpm = race.WPM(len(a.input), elapsed)

	if a.timeLimit > 0 && now.Sub(a.startTime) >= a.timeLimit {
		a.finished = true
		a.report(now, true)
		return
	}

	a.report(now, false)
}

// report sends a typing-update, at most once per throttle window unless
// the finish flag forces it out immediately.
func (a *Agent) report(now time.Time, force bool) {
	if !force && now.Sub(a.lastReport) < a.throttle {
		return
	}
	a.lastReport = now

	a.send(race.EvtTypingUpdate, race.TypingUpdatePayload{
		RoomID:   a.roomID,
		Progress: a.progress,
		WPM:      a.wpm,
		Accuracy: a.accuracy,
		Finished: a.finished,
	})
}

func (a *Agent) pruneTrail(now time.Time, length int) {
	for i, at := range a.trail {
		if i >= length || now.Sub(at) >= a.trailDecay {
			delete(a.trail, i)
		}
	}
}

// TrailMarks lists indices whose trail highlight has not yet decayed.
func (a *Agent) TrailMarks() []int {
	marks := make([]int, 0, len(a.trail))
	for i := range a.trail {
		marks = append(marks, i)
	}
	return marks
}

// CharClass classifies a text index for rendering: "correct", "incorrect",
// "current", or "pending".
func (a *Agent) CharClass(index int) string {
	switch {
	case index < len(a.input):
		for _, e := range a.errors {
			if e == index {
				return "incorrect"
			}
		}
		return "correct"
	case index == len(a.input):
		return "current"
	default:
		return "pending"
	}
}

func (a *Agent) ConnectionID() string           { return a.connID }
func (a *Agent) State() race.State              { return a.state }
func (a *Agent) Text() string                   { return a.text }
func (a *Agent) Players() []race.PlayerSnapshot { return a.players }
func (a *Agent) Typed() string                  { return a.input }
func (a *Agent) Errors() []int                  { return a.errors }
func (a *Agent) WPM() int                       { return a.wpm }
func (a *Agent) Accuracy() int                  { return a.accuracy }
func (a *Agent) Progress() float64              { return a.progress }
func (a *Agent) Finished() bool                 { return a.finished }
func (a *Agent) Position() int                  { return a.position }
func (a *Agent) Rejected() bool                 { return a.rejected }
