// Package mode defines the game mode strategy the orchestrator drives, and the modes
// that ship with the server.
package mode

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/session"
)

var (
	// ErrNotImplemented is returned by modes that are declared but not playable yet.
	ErrNotImplemented = errors.New("game mode is not implemented")
	// ErrModeAlreadyRegistered indicates a duplicate registration.
	ErrModeAlreadyRegistered = errors.New("game mode already registered")
	// ErrModeIDRequired indicates a mode with an empty ID.
	ErrModeIDRequired = errors.New("game mode id is required")
	// ErrRoster indicates the session roster does not fit the mode's rules.
	ErrRoster = errors.New("roster does not fit the game mode")
	// ErrNoQuiz indicates a session started without questions.
	ErrNoQuiz = errors.New("session has no questions")
	// ErrCannotAnswer is returned by OnAnswerSubmit when the player may not answer now.
	ErrCannotAnswer = errors.New("player cannot answer now")
	// ErrInvalidAnswer indicates an answer index outside the question's options.
	ErrInvalidAnswer = errors.New("answer index out of range")
)

// Config holds the tunables of a mode.
type Config struct {
	TimeLimit              time.Duration             `json:"timeLimit"`
	BasePoints             int                       `json:"basePoints"`
	SpeedBonus             bool                      `json:"speedBonus"`
	MaxSpeedBonus          int                       `json:"maxSpeedBonus"`
	CrowdFavoriteBonus     int                       `json:"crowdFavoriteBonus"`
	CrowdFavoriteReactions int                       `json:"crowdFavoriteReactions"`
	FirstCorrectBonus      int                       `json:"firstCorrectBonus"`
	ConsensusBonus         int                       `json:"consensusBonus"`
	Interactions           []session.InteractionKind `json:"interactions"`
	TeamScopedChat         bool                      `json:"teamScopedChat"`
}

// Rules describes who can play a mode and how it is tuned.
type Rules struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	MinParticipants int    `json:"minParticipants"`
	MaxParticipants int    `json:"maxParticipants"`
	RequiresTeams   bool   `json:"requiresTeams"`
	Config          Config `json:"config"`
}

// Allows reports whether the mode enables an interaction kind.
func (r Rules) Allows(kind session.InteractionKind) bool {
	for _, k := range r.Config.Interactions {
		if k == kind {
			return true
		}
	}
	return false
}

// TimeLimitFor returns the per-turn limit for a session, honoring a settings override.
func (r Rules) TimeLimitFor(s *session.GameSession) time.Duration {
	if s != nil && s.Settings.TimeLimitSec > 0 {
		return time.Duration(s.Settings.TimeLimitSec) * time.Second
	}
	return r.Config.TimeLimit
}

// AnswerOutcome reports what an accepted answer changed.
type AnswerOutcome struct {
	ParticipantID uuid.UUID   // player, or the player's team
	Recorded      bool        // a response was added to the turn
	VoteTally     map[int]int // team modes: counts after the vote
	Locked        bool        // team modes: the vote locked the team's answer
	LockedAnswer  int
	Unanimous     bool
}

// Mode is the strategy a session runs under. The orchestrator calls only these methods;
// anything mode specific stays behind them.
type Mode interface {
	ID() session.ModeID
	Rules() Rules
	Available() bool

	OnGameStart(s *session.GameSession) error
	OnTurnStart(s *session.GameSession, turn *session.TurnState) error
	CanPlayerAnswer(s *session.GameSession, playerID uuid.UUID) bool
	OnAnswerSubmit(s *session.GameSession, playerID uuid.UUID, answerIndex int) (AnswerOutcome, error)
	CalculateScore(s *session.GameSession, turn *session.TurnState) map[uuid.UUID]int
	OnTurnEnd(s *session.GameSession, turn *session.TurnState)
	GetNextActiveParticipant(s *session.GameSession) uuid.UUID
	IsGameComplete(s *session.GameSession) bool
	OnGameEnd(s *session.GameSession)
}

// Registry maps mode IDs to modes.
type Registry struct {
	mu    sync.RWMutex
	modes map[session.ModeID]Mode
	order []session.ModeID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{modes: make(map[session.ModeID]Mode)}
}

// Default returns a registry with every mode that ships with the server.
func Default() *Registry {
	r := NewRegistry()
	for _, m := range []Mode{NewHotSeat(), NewTeamChallenge(), NewSpeedRound(), NewSurvival(), NewPowerUp()} {
		if err := r.Register(m); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a mode.
func (r *Registry) Register(m Mode) error {
	id := session.ModeID(strings.TrimSpace(string(m.ID())))
	if id == "" {
		return ErrModeIDRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.modes[id]; exists {
		return fmt.Errorf("%w: %s", ErrModeAlreadyRegistered, id)
	}
	r.modes[id] = m
	r.order = append(r.order, id)
	return nil
}

// Get returns a registered mode.
func (r *Registry) Get(id session.ModeID) (Mode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modes[id]
	return m, ok
}

// List returns every registered mode in registration order.
func (r *Registry) List() []Mode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Mode, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.modes[id])
	}
	return out
}

// answering reports whether the session's current turn accepts answers.
func answering(s *session.GameSession) (*session.TurnState, bool) {
	turn := s.CurrentTurn
	if s.State != session.StateActive || turn == nil || turn.Phase != session.PhaseAnswering {
		return nil, false
	}
	return turn, true
}

// validateTurnStart checks the turn belongs to the session and has a playable question.
func validateTurnStart(s *session.GameSession, turn *session.TurnState) error {
	if turn == nil || turn.SessionID != s.ID {
		return fmt.Errorf("turn does not belong to session %s", s.ID)
	}
	if len(turn.Question.Options) < 2 {
		return fmt.Errorf("%w: question %d has fewer than two options", ErrNoQuiz, turn.QuestionNumber)
	}
	return nil
}
