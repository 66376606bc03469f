package session

import (
	"time"

	"github.com/google/uuid"
)

// InteractionKind tags the variants of an interaction.
type InteractionKind string

const (
	KindReaction   InteractionKind = "reaction"
	KindSuggestion InteractionKind = "suggestion"
	KindPrediction InteractionKind = "prediction"
	KindChat       InteractionKind = "chat"
	KindPowerUp    InteractionKind = "power_up"
)

const (
	MaxReasoningLength   = 100
	MaxChatMessageLength = 200
)

// Emoji is the reaction vocabulary accepted by the ledger.
type Emoji string

const (
	EmojiThumbsUp   Emoji = "thumbs_up"
	EmojiFire       Emoji = "fire"
	EmojiClap       Emoji = "clap"
	EmojiHeart      Emoji = "heart"
	EmojiLaugh      Emoji = "laugh"
	EmojiShock      Emoji = "shock"
	EmojiThumbsDown Emoji = "thumbs_down"
)

var emojiPositive = map[Emoji]bool{
	EmojiThumbsUp:   true,
	EmojiFire:       true,
	EmojiClap:       true,
	EmojiHeart:      true,
	EmojiLaugh:      false,
	EmojiShock:      false,
	EmojiThumbsDown: false,
}

// Valid reports whether the emoji is part of the vocabulary.
func (e Emoji) Valid() bool {
	_, ok := emojiPositive[e]
	return ok
}

// Positive reports whether the emoji counts towards crowd-favorite bonuses.
func (e Emoji) Positive() bool {
	return emojiPositive[e]
}

// Reaction is an emoji aimed at a participant during a turn.
type Reaction struct {
	PlayerID  uuid.UUID `json:"playerId"`
	TargetID  uuid.UUID `json:"targetId"`
	Emoji     Emoji     `json:"emoji"`
	CreatedAt time.Time `json:"createdAt"`
}

// Suggestion is an anonymous hint for the answering participant. Its content stays hidden
// from the target until the turn's results are revealed.
type Suggestion struct {
	PlayerID    uuid.UUID `json:"playerId"`
	TargetID    uuid.UUID `json:"targetId"`
	AnswerIndex int       `json:"answerIndex"`
	Reasoning   string    `json:"reasoning,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	Revealed    bool      `json:"revealed"`
}

// Prediction is a guess at the correct answer, resolved once the answer is known.
type Prediction struct {
	PlayerID    uuid.UUID `json:"playerId"`
	AnswerIndex int       `json:"answerIndex"`
	CreatedAt   time.Time `json:"createdAt"`
	Correct     bool      `json:"correct"`
	Points      int       `json:"points"`
}

// ChatMessage is a short text message, optionally limited to the sender's team.
type ChatMessage struct {
	PlayerID  uuid.UUID `json:"playerId"`
	TeamID    uuid.UUID `json:"teamId,omitempty"` // uuid.Nil for session-wide chat
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// PowerUpUsage is reserved for modes that grant power-ups.
type PowerUpUsage struct {
	PlayerID  uuid.UUID `json:"playerId"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
}

// InteractionRecord is an entry in the session's append-only interaction log.
type InteractionRecord struct {
	Kind      InteractionKind `json:"kind"`
	TurnID    uuid.UUID       `json:"turnId"`
	PlayerID  uuid.UUID       `json:"playerId"`
	CreatedAt time.Time       `json:"createdAt"`
}
