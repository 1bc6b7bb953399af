package race

import (
	"strings"

	"github.com/google/uuid"
)

const roomIDLength = 8

// Store owns the mapping of room ids to rooms. It does no locking of its
// own: the server loop is the only writer, and readers go through that
// loop as well.
type Store struct {
	rooms      map[string]*Room
	wordCount  int
	maxPlayers int
}

// NewStore returns an empty store. Non-positive wordCount or maxPlayers
// fall back to the documented defaults (50 words, 4 players).
func NewStore(wordCount, maxPlayers int) *Store {
	if wordCount < 1 {
		wordCount = DefaultWordCount
	}
	if maxPlayers < 1 {
		maxPlayers = 4
	}

	return &Store{
		rooms:      make(map[string]*Room),
		wordCount:  wordCount,
		maxPlayers: maxPlayers,
	}
}

// NewText generates a race text at the store's configured word count.
func (s *Store) NewText() string {
	return GenerateWords(s.wordCount)
}

// Get returns the room for id, if any.
func (s *Store) Get(id string) (*Room, bool) {
	r, ok := s.rooms[id]
	return r, ok
}

// GetOrCreate returns the room for id, creating it with fresh text when a
// connection joins an id nobody has used yet.
func (s *Store) GetOrCreate(id string) *Room {
	if r, ok := s.rooms[id]; ok {
		return r
	}

	r := newRoom(id, s.NewText(), s.maxPlayers)
	s.rooms[id] = r

	return r
}

// Create makes a room under a fresh short id and returns it. Ids are the
// first eight characters of a v4 uuid, regenerated on the (unlikely)
// collision.
func (s *Store) Create() *Room {
	for {
		id := strings.ReplaceAll(uuid.NewString(), "-", "")[:roomIDLength]
		if _, exists := s.rooms[id]; exists {
			continue
		}
		return s.GetOrCreate(id)
	}
}

// RemoveIfEmpty destroys the room for id once its player set is empty.
func (s *Store) RemoveIfEmpty(id string) {
	if r, ok := s.rooms[id]; ok && r.PlayerCount() == 0 {
		delete(s.rooms, id)
	}
}

// Len reports the number of live rooms.
func (s *Store) Len() int {
	return len(s.rooms)
}
