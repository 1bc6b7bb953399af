package client

import (
	"time"

	"github.com/jonboulle/clockwork"

	"typebox/race"
)

// Solo is a local practice session with no room and no server: the timer
// starts on the first keystroke and the same metrics apply.
type Solo struct {
	clock     clockwork.Clock
	wordCount int

	text      string
	input     string
	errors    []int
	wpm       int
	accuracy  int
	active    bool
	finished  bool
	startTime time.Time
	endTime   time.Time
}

// NewSolo generates a practice text of wordCount words. A nil clock means
// wall time.
func NewSolo(wordCount int, clock clockwork.Clock) *Solo {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	s := &Solo{clock: clock, wordCount: wordCount}
	s.Reset()

	return s
}

// Reset regenerates the text and clears the session.
func (s *Solo) Reset() {
	s.text = race.GenerateWords(s.wordCount)
	s.input = ""
	s.errors = nil
	s.wpm = 0
	s.accuracy = 100
	s.active = false
	s.finished = false
	s.startTime = time.Time{}
	s.endTime = time.Time{}
}

// Input accepts the full current typed text. The first keystroke starts
// the clock; input after finishing is dropped.
func (s *Solo) Input(value string) {
	if s.finished {
		return
	}

	if !s.active {
		s.active = true
		s.startTime = s.clock.Now()
	}

	s.input = value

	s.errors = s.errors[:0]
	for i := 0; i < len(value); i++ {
		if i >= len(s.text) || value[i] != s.text[i] {
			s.errors = append(s.errors, i)
		}
	}
	s.accuracy = race.Accuracy(len(value)-len(s.errors), len(value))

	elapsed := s.clock.Now().Sub(s.startTime).Seconds()

	if value == s.text {
		s.finished = true
		s.active = false
		s.endTime = s.clock.Now()
		s.wpm = race.WPM(len(s.text), elapsed)
	} else {
		s.wpm = race.WPM(len(value), elapsed)
	}
}

// Tick refreshes the live WPM while the session is running.
func (s *Solo) Tick() {
	if !s.active || s.finished {
		return
	}
	s.wpm = race.WPM(len(s.input), s.clock.Now().Sub(s.startTime).Seconds())
}

// Elapsed is the running (or final) session duration.
func (s *Solo) Elapsed() time.Duration {
	if s.startTime.IsZero() {
		return 0
	}
	end := s.endTime
	if end.IsZero() {
		end = s.clock.Now()
	}
	return end.Sub(s.startTime)
}

func (s *Solo) Text() string   { return s.text }
func (s *Solo) Typed() string  { return s.input }
func (s *Solo) Errors() []int  { return s.errors }
func (s *Solo) WPM() int       { return s.wpm }
func (s *Solo) Accuracy() int  { return s.accuracy }
func (s *Solo) Active() bool   { return s.active }
func (s *Solo) Finished() bool { return s.finished }
