package models

import (
	"time"

	"github.com/google/uuid"
)

// Player is a participant that answers questions, either alone or as a member of a team.
type Player struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	TeamID   uuid.UUID `json:"teamId,omitempty"` // uuid.Nil when the mode has no teams
	IsHost   bool      `json:"isHost"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Spectator watches a session and may react or chat, but never answers.
type Spectator struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt"`
}
