package race

import "time"

// State is the lifecycle phase of a room.
type State string

const (
	StateWaiting  State = "waiting"
	StatePlaying  State = "playing"
	StateFinished State = "finished"
)

// User is the opaque identity a player joins with. The server never
// interprets it beyond echoing it back in snapshots.
type User struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// Player is one participant's per-race state within a room. All stats are
// client-reported; Position is the only server-assigned field.
type Player struct {
	ConnID   string
	User     User
	Progress float64
	WPM      int
	Accuracy int
	Finished bool
	Position int // 0 until assigned, then 1-based finish rank
}

func (p *Player) resetStats() {
	p.Progress = 0
	p.WPM = 0
	p.Accuracy = 100
	p.Finished = false
	p.Position = 0
}

// Room is one race session. It is not safe for concurrent use; all
// mutation happens on the server loop that owns the store.
type Room struct {
	ID         string
	State      State
	Text       string
	StartTime  time.Time // zero unless State == StatePlaying
	MaxPlayers int

	players []*Player // join order
}

func newRoom(id, text string, maxPlayers int) *Room {
	return &Room{
		ID:         id,
		State:      StateWaiting,
		Text:       text,
		MaxPlayers: maxPlayers,
	}
}

// Player returns the member bound to connID, or nil.
func (r *Room) Player(connID string) *Player {
	for _, p := range r.players {
		if p.ConnID == connID {
			return p
		}
	}
	return nil
}

// AddPlayer appends a member with default stats. Capacity is the caller's
// concern.
func (r *Room) AddPlayer(connID string, u User) *Player {
	p := &Player{ConnID: connID, User: u}
	p.resetStats()
	r.players = append(r.players, p)
	return p
}

// RemovePlayer drops the member bound to connID, preserving join order of
// the rest. It reports whether a member was removed.
func (r *Room) RemovePlayer(connID string) bool {
	for i, p := range r.players {
		if p.ConnID == connID {
			r.players = append(r.players[:i], r.players[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Room) PlayerCount() int {
	return len(r.players)
}

func (r *Room) Full() bool {
	return len(r.players) >= r.MaxPlayers
}

// Start performs the waiting→playing transition: fresh text, start time
// set, every player's race fields cleared. It reports false (and changes
// nothing) unless the room is waiting.
func (r *Room) Start(text string, now time.Time) bool {
	if r.State != StateWaiting {
		return false
	}

	r.State = StatePlaying
	r.Text = text
	r.StartTime = now
	for _, p := range r.players {
		p.resetStats()
	}

	return true
}

// Reset forces the room back to waiting from any state, with new text and
// cleared player stats. Resetting a waiting room is a harmless no-op apart
// from the text change.
func (r *Room) Reset(text string) {
	r.State = StateWaiting
	r.Text = text
	r.StartTime = time.Time{}
	for _, p := range r.players {
		p.resetStats()
	}
}

// FinishPlayer marks p finished and assigns its position: one more than
// the number of players already finished. Calling it for an
// already-finished player returns the existing position unchanged.
func (r *Room) FinishPlayer(p *Player) int {
	if p.Finished {
		return p.Position
	}

	done := 0
	for _, other := range r.players {
		if other.Finished {
			done++
		}
	}

	p.Finished = true
	p.Position = done + 1

	return p.Position
}

// AllFinished reports whether every current member has finished. An empty
// room never counts as finished.
func (r *Room) AllFinished() bool {
	if len(r.players) == 0 {
		return false
	}
	for _, p := range r.players {
		if !p.Finished {
			return false
		}
	}
	return true
}

// Finish performs the playing→finished transition. StartTime is cleared so
// that a non-zero start time always means a race in progress.
func (r *Room) Finish() {
	r.State = StateFinished
	r.StartTime = time.Time{}
}

// ConnIDs lists member connection ids in join order, for addressing
// broadcasts.
func (r *Room) ConnIDs() []string {
	ids := make([]string, len(r.players))
	for i, p := range r.players {
		ids[i] = p.ConnID
	}
	return ids
}

// PlayerSnapshot is the wire form of a Player.
type PlayerSnapshot struct {
	ConnectionID string  `json:"connectionId"`
	User         User    `json:"user"`
	Progress     float64 `json:"progress"`
	WPM          int     `json:"wpm"`
	Accuracy     int     `json:"accuracy"`
	Finished     bool    `json:"finished"`
	Position     *int    `json:"position"`
}

// RoomSnapshot is the wire form of a Room, with players in join order.
type RoomSnapshot struct {
	ID         string           `json:"id"`
	State      State            `json:"state"`
	Text       string           `json:"text"`
	StartTime  *int64           `json:"startTime"`
	MaxPlayers int              `json:"maxPlayers"`
	Players    []PlayerSnapshot `json:"players"`
}

func (p *Player) snapshot() PlayerSnapshot {
	s := PlayerSnapshot{
		ConnectionID: p.ConnID,
		User:         p.User,
		Progress:     p.Progress,
		WPM:          p.WPM,
		Accuracy:     p.Accuracy,
		Finished:     p.Finished,
	}
	if p.Position > 0 {
		pos := p.Position
		s.Position = &pos
	}
	return s
}

// PlayerSnapshots returns the wire form of all members in join order.
func (r *Room) PlayerSnapshots() []PlayerSnapshot {
	players := make([]PlayerSnapshot, len(r.players))
	for i, p := range r.players {
		players[i] = p.snapshot()
	}
	return players
}

// Snapshot returns the wire form of the room.
func (r *Room) Snapshot() RoomSnapshot {
	s := RoomSnapshot{
		ID:         r.ID,
		State:      r.State,
		Text:       r.Text,
		MaxPlayers: r.MaxPlayers,
		Players:    r.PlayerSnapshots(),
	}
	if !r.StartTime.IsZero() {
		ms := r.StartTime.UnixMilli()
		s.StartTime = &ms
	}
	return s
}
