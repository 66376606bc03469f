package models

import "github.com/google/uuid"

// RoomSnapshot is the roster handed over by the room service when a room transitions to play.
type RoomSnapshot struct {
	RoomID     uuid.UUID      `json:"roomId"`
	HostID     uuid.UUID      `json:"hostId"`
	Mode       string         `json:"mode"`
	Settings   QuizSettings   `json:"settings"`
	Players    []Player       `json:"players"`
	Teams      []TeamSnapshot `json:"teams,omitempty"`
	Spectators []Spectator    `json:"spectators,omitempty"`
}

// TeamSnapshot names a team. Membership is carried by Player.TeamID.
type TeamSnapshot struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}
