// Package session keeps multi-turn conversation state for chat.
// A Session holds the recent turns; the Manager persists sessions by name so
// a conversation can be resumed later.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/searchme/pkg/version"
)

// DefaultMaxTurns is used when a session is created with a non-positive limit.
const DefaultMaxTurns = 50

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of a conversation.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is a conversation. It is not safe for concurrent writers.
type Session struct {
	// ID is a random identifier assigned at creation.
	ID string `json:"id"`

	// Name is the user-provided identifier; empty for unsaved sessions.
	Name string `json:"name,omitempty"`

	// Turns are ordered oldest first.
	Turns []Turn `json:"turns"`

	// MaxTurns bounds len(Turns); the oldest turns are evicted first.
	MaxTurns int `json:"max_turns"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Version is the searchme version that last wrote the session.
	Version string `json:"version"`
}

// Info summarises a stored session for listing.
type Info struct {
	Name      string
	ID        string
	Turns     int
	UpdatedAt time.Time
	Size      int64
}

// New creates an empty session.
func New(name string, maxTurns int) *Session {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	now := time.Now()
	return &Session{
		ID:        uuid.NewString(),
		Name:      name,
		Turns:     []Turn{},
		MaxTurns:  maxTurns,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   version.Version,
	}
}

// Append adds a turn and evicts the oldest ones beyond MaxTurns.
func (s *Session) Append(role Role, text string) Turn {
	turn := Turn{Role: role, Text: text, Timestamp: time.Now()}
	s.Turns = append(s.Turns, turn)
	if s.MaxTurns > 0 && len(s.Turns) > s.MaxTurns {
		drop := len(s.Turns) - s.MaxTurns
		s.Turns = append(s.Turns[:0:0], s.Turns[drop:]...)
	}
	s.UpdatedAt = turn.Timestamp
	return turn
}

// Recent returns a copy of the latest n turns, oldest first. n <= 0 returns
// every turn.
func (s *Session) Recent(n int) []Turn {
	start := 0
	if n > 0 && n < len(s.Turns) {
		start = len(s.Turns) - n
	}
	out := make([]Turn, len(s.Turns)-start)
	copy(out, s.Turns[start:])
	return out
}

// Len returns the number of retained turns.
func (s *Session) Len() int { return len(s.Turns) }

// Reset drops every turn.
func (s *Session) Reset() {
	s.Turns = []Turn{}
	s.UpdatedAt = time.Now()
}

// IsStale returns true if the session hasn't been used within the given duration.
func (s *Session) IsStale(maxAge time.Duration) bool {
	return time.Since(s.UpdatedAt) > maxAge
}

// ToInfo converts a Session to Info for listing.
func (s *Session) ToInfo(size int64) *Info {
	return &Info{
		Name:      s.Name,
		ID:        s.ID,
		Turns:     len(s.Turns),
		UpdatedAt: s.UpdatedAt,
		Size:      size,
	}
}
