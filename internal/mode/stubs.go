package mode

import (
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/session"
)

const (
	SpeedRoundID session.ModeID = "speed_round"
	SurvivalID   session.ModeID = "survival"
	PowerUpID    session.ModeID = "power_up"
)

// planned is a mode that is listed with its rules but cannot be played yet.
type planned struct {
	id    session.ModeID
	rules Rules
}

// NewSpeedRound declares the speed round mode: everyone answers at once on a short clock.
func NewSpeedRound() Mode {
	return &planned{id: SpeedRoundID, rules: Rules{
		Name:            "Speed Round",
		Description:     "Everyone answers every question on a short clock.",
		MinParticipants: 2,
		MaxParticipants: 20,
		Config: Config{
			TimeLimit:     10 * time.Second,
			BasePoints:    100,
			SpeedBonus:    true,
			MaxSpeedBonus: 100,
			Interactions:  []session.InteractionKind{session.KindReaction, session.KindChat},
		},
	}}
}

// NewSurvival declares the elimination mode.
func NewSurvival() Mode {
	return &planned{id: SurvivalID, rules: Rules{
		Name:            "Survival",
		Description:     "A wrong answer eliminates the player; the last one standing wins.",
		MinParticipants: 3,
		MaxParticipants: 20,
		Config: Config{
			TimeLimit:    20 * time.Second,
			BasePoints:   100,
			Interactions: []session.InteractionKind{session.KindReaction, session.KindPrediction, session.KindChat},
		},
	}}
}

// NewPowerUp declares the power-up mode.
func NewPowerUp() Mode {
	return &planned{id: PowerUpID, rules: Rules{
		Name:            "Power Up",
		Description:     "Players earn and spend power-ups between questions.",
		MinParticipants: 2,
		MaxParticipants: 12,
		Config: Config{
			TimeLimit:    30 * time.Second,
			BasePoints:   100,
			Interactions: []session.InteractionKind{session.KindReaction, session.KindChat, session.KindPowerUp},
		},
	}}
}

func (m *planned) ID() session.ModeID { return m.id }
func (m *planned) Rules() Rules       { return m.rules }
func (m *planned) Available() bool    { return false }

func (m *planned) OnGameStart(*session.GameSession) error { return ErrNotImplemented }

func (m *planned) OnTurnStart(*session.GameSession, *session.TurnState) error {
	return ErrNotImplemented
}

func (m *planned) CanPlayerAnswer(*session.GameSession, uuid.UUID) bool { return false }

func (m *planned) OnAnswerSubmit(*session.GameSession, uuid.UUID, int) (AnswerOutcome, error) {
	return AnswerOutcome{}, ErrNotImplemented
}

func (m *planned) CalculateScore(*session.GameSession, *session.TurnState) map[uuid.UUID]int {
	return map[uuid.UUID]int{}
}

func (m *planned) OnTurnEnd(*session.GameSession, *session.TurnState) {}

func (m *planned) GetNextActiveParticipant(*session.GameSession) uuid.UUID { return uuid.Nil }

func (m *planned) IsGameComplete(*session.GameSession) bool { return true }

func (m *planned) OnGameEnd(*session.GameSession) {}
