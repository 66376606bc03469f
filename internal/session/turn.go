package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/models"
)

// Phase is a step in a single question cycle. Phases only move forward.
type Phase int

const (
	PhaseQuestion Phase = iota
	PhaseAnswering
	PhaseReaction
	PhaseResults
	PhaseComplete
)

var phaseNames = [...]string{"question", "answering", "reaction", "results", "complete"}

func (p Phase) String() string {
	if p < PhaseQuestion || p > PhaseComplete {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// MarshalText encodes the phase by name for JSON payloads.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ErrPhaseRegression is returned when a turn is asked to move to its current or an earlier phase.
var ErrPhaseRegression = errors.New("turn phase can only move forward")

// PlayerResponse is one answering participant's answer within a turn.
type PlayerResponse struct {
	ParticipantID uuid.UUID     `json:"participantId"` // player or team, depending on the mode
	PlayerID      uuid.UUID     `json:"playerId"`      // the player who submitted or locked the answer
	AnswerIndex   int           `json:"answerIndex"`
	SubmittedAt   time.Time     `json:"submittedAt"`
	ResponseTime  time.Duration `json:"responseTime"`
	Remaining     time.Duration `json:"remaining"`
	IsCorrect     bool          `json:"isCorrect"`
}

// TurnState is one question cycle within a session.
type TurnState struct {
	ID                uuid.UUID       `json:"id"`
	SessionID         uuid.UUID       `json:"sessionId"`
	ActiveParticipant uuid.UUID       `json:"activeParticipant"` // uuid.Nil when every participant answers
	QuestionNumber    int             `json:"questionNumber"`    // 1-based
	Question          models.Question `json:"-"`
	Phase             Phase           `json:"phase"`
	PhaseHistory      []Phase         `json:"phaseHistory"`
	StartedAt         time.Time       `json:"startedAt"`
	TimeLimit         time.Duration   `json:"timeLimit"`
	EndedAt           time.Time       `json:"endedAt,omitempty"`

	Responses   []PlayerResponse `json:"responses"`
	Reactions   []Reaction       `json:"reactions"`
	Suggestions []Suggestion     `json:"-"`
	Predictions []Prediction     `json:"-"`
	Chat        []ChatMessage    `json:"chat"`
	PowerUps    []PowerUpUsage   `json:"powerUps,omitempty"`

	TimedOut bool `json:"timedOut"`

	// AnswersComplete is set by the mode once every required answer for this turn is in.
	AnswersComplete bool `json:"answersComplete"`

	predictionsResolved bool
	suggestionsResolved bool
}

// NewTurn builds a turn in the Question phase.
func NewTurn(sessionID uuid.UUID, questionNumber int, q models.Question, active uuid.UUID, limit time.Duration, now time.Time) *TurnState {
	return &TurnState{
		ID:                uuid.New(),
		SessionID:         sessionID,
		ActiveParticipant: active,
		QuestionNumber:    questionNumber,
		Question:          q,
		Phase:             PhaseQuestion,
		PhaseHistory:      []Phase{PhaseQuestion},
		StartedAt:         now,
		TimeLimit:         limit,
	}
}

// Advance moves the turn forward to the given phase, passing through every intermediate
// phase so the recorded history is always a prefix of the canonical order.
func (t *TurnState) Advance(to Phase) error {
	if to <= t.Phase || to > PhaseComplete {
		return fmt.Errorf("%w: %s -> %s", ErrPhaseRegression, t.Phase, to)
	}
	for p := t.Phase + 1; p <= to; p++ {
		t.Phase = p
		t.PhaseHistory = append(t.PhaseHistory, p)
	}
	return nil
}

// AdvanceAtLeast moves the turn to the given phase unless it is already there or beyond.
func (t *TurnState) AdvanceAtLeast(to Phase) {
	if t.Phase < to {
		_ = t.Advance(to)
	}
}

// IsComplete reports whether the turn reached its final phase.
func (t *TurnState) IsComplete() bool {
	return t.Phase == PhaseComplete
}

// RemainingAt returns the time left on the turn at the given instant, never negative.
func (t *TurnState) RemainingAt(now time.Time) time.Duration {
	left := t.TimeLimit - now.Sub(t.StartedAt)
	if left < 0 {
		return 0
	}
	return left
}

// ResponseFor returns the response recorded for a participant, if any.
func (t *TurnState) ResponseFor(participantID uuid.UUID) (PlayerResponse, bool) {
	for _, r := range t.Responses {
		if r.ParticipantID == participantID {
			return r, true
		}
	}
	return PlayerResponse{}, false
}

// HasResponse reports whether a participant already answered this turn.
func (t *TurnState) HasResponse(participantID uuid.UUID) bool {
	_, ok := t.ResponseFor(participantID)
	return ok
}

// AddResponse records a response, refusing a second one for the same participant.
func (t *TurnState) AddResponse(r PlayerResponse) bool {
	if t.HasResponse(r.ParticipantID) {
		return false
	}
	t.Responses = append(t.Responses, r)
	return true
}

// MarkPredictionsResolved flips the resolved flag and reports whether it was unset before.
func (t *TurnState) MarkPredictionsResolved() bool {
	if t.predictionsResolved {
		return false
	}
	t.predictionsResolved = true
	return true
}

// MarkSuggestionsResolved flips the resolved flag and reports whether it was unset before.
func (t *TurnState) MarkSuggestionsResolved() bool {
	if t.suggestionsResolved {
		return false
	}
	t.suggestionsResolved = true
	return true
}

// Clone returns a copy that shares no slices with the original.
func (t *TurnState) Clone() *TurnState {
	if t == nil {
		return nil
	}
	c := *t
	c.Question.Options = append([]string(nil), t.Question.Options...)
	c.PhaseHistory = append([]Phase(nil), t.PhaseHistory...)
	c.Responses = append([]PlayerResponse(nil), t.Responses...)
	c.Reactions = append([]Reaction(nil), t.Reactions...)
	c.Suggestions = append([]Suggestion(nil), t.Suggestions...)
	c.Predictions = append([]Prediction(nil), t.Predictions...)
	c.Chat = append([]ChatMessage(nil), t.Chat...)
	c.PowerUps = append([]PowerUpUsage(nil), t.PowerUps...)
	return &c
}
