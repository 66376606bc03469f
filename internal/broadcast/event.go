// Package broadcast delivers session events to subscribers by topic.
package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType is an enum-like type for pushed session events.
type EventType string

const (
	EventSessionCreated     EventType = "session_created"
	EventTurnStart          EventType = "turn_start"
	EventAnswerSubmitted    EventType = "answer_submitted"
	EventTurnEnd            EventType = "turn_end"
	EventTimerWarning       EventType = "timer_warning"
	EventScoreUpdate        EventType = "score_update"
	EventGameEnd            EventType = "game_end"
	EventGameAborted        EventType = "game_aborted"
	EventReactionAdded      EventType = "reaction_added"
	EventSuggestionReceived EventType = "suggestion_received"
	EventPredictionAdded    EventType = "prediction_added"
	EventChatMessage        EventType = "chat_message"
	EventTeamVoteUpdate     EventType = "team_vote_update"
	EventTeamVoteLocked     EventType = "team_vote_locked"
	EventCountdownTick      EventType = "countdown_tick"
	EventPlayerConnection   EventType = "player_connection"
	EventSpectatorJoined    EventType = "spectator_joined"
)

// Event is one pushed message.
type Event struct {
	Type      EventType              `json:"type"`
	SessionID uuid.UUID              `json:"sessionId"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Publisher delivers an event to every subscriber of a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, ev Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, topic string, ev Event) error

func (f PublisherFunc) Publish(ctx context.Context, topic string, ev Event) error {
	return f(ctx, topic, ev)
}

func RoomTopic(id uuid.UUID) string        { return fmt.Sprintf("room:%s", id) }
func SessionTopic(id uuid.UUID) string     { return fmt.Sprintf("session:%s", id) }
func TeamTopic(id uuid.UUID) string        { return fmt.Sprintf("team:%s", id) }
func ParticipantTopic(id uuid.UUID) string { return fmt.Sprintf("participant:%s", id) }
