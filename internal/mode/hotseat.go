package mode

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/session"
)

const HotSeatID session.ModeID = "hot_seat"

// HotSeat puts one player on the spot per question, rotating through the roster in join
// order. Everyone else watches, reacts and suggests.
type HotSeat struct {
	rules Rules
}

// NewHotSeat returns the hot-seat mode with its default tuning.
func NewHotSeat() *HotSeat {
	return &HotSeat{rules: Rules{
		Name:            "Hot Seat",
		Description:     "Players take turns answering alone while the room reacts and suggests.",
		MinParticipants: 2,
		MaxParticipants: 12,
		Config: Config{
			TimeLimit:              30 * time.Second,
			BasePoints:             100,
			SpeedBonus:             true,
			MaxSpeedBonus:          50,
			CrowdFavoriteBonus:     25,
			CrowdFavoriteReactions: 3,
			Interactions: []session.InteractionKind{
				session.KindReaction,
				session.KindSuggestion,
				session.KindPrediction,
				session.KindChat,
			},
		},
	}}
}

func (m *HotSeat) ID() session.ModeID { return HotSeatID }
func (m *HotSeat) Rules() Rules       { return m.rules }
func (m *HotSeat) Available() bool    { return true }

func (m *HotSeat) OnGameStart(s *session.GameSession) error {
	n := len(s.Players)
	if n < m.rules.MinParticipants || n > m.rules.MaxParticipants {
		return fmt.Errorf("%w: hot seat needs %d-%d players, got %d", ErrRoster, m.rules.MinParticipants, m.rules.MaxParticipants, n)
	}
	if s.TotalQuestions() == 0 {
		return ErrNoQuiz
	}
	s.SeedScores()
	return nil
}

func (m *HotSeat) OnTurnStart(s *session.GameSession, turn *session.TurnState) error {
	if err := validateTurnStart(s, turn); err != nil {
		return err
	}
	if s.Player(turn.ActiveParticipant) == nil {
		return fmt.Errorf("%w: active participant %s is not a player", ErrRoster, turn.ActiveParticipant)
	}
	return nil
}

func (m *HotSeat) CanPlayerAnswer(s *session.GameSession, playerID uuid.UUID) bool {
	turn, ok := answering(s)
	if !ok {
		return false
	}
	return playerID == turn.ActiveParticipant && !turn.HasResponse(playerID)
}

func (m *HotSeat) OnAnswerSubmit(s *session.GameSession, playerID uuid.UUID, answerIndex int) (AnswerOutcome, error) {
	if !m.CanPlayerAnswer(s, playerID) {
		return AnswerOutcome{}, ErrCannotAnswer
	}
	turn := s.CurrentTurn
	if !turn.Question.HasOption(answerIndex) {
		return AnswerOutcome{}, ErrInvalidAnswer
	}
	now := s.Now()
	turn.AddResponse(session.PlayerResponse{
		ParticipantID: playerID,
		PlayerID:      playerID,
		AnswerIndex:   answerIndex,
		SubmittedAt:   now,
		ResponseTime:  now.Sub(turn.StartedAt),
		Remaining:     turn.RemainingAt(now),
		IsCorrect:     turn.Question.IsCorrect(answerIndex),
	})
	turn.AnswersComplete = true
	return AnswerOutcome{ParticipantID: playerID, Recorded: true}, nil
}

// CalculateScore pays the active player base points plus a speed bonus for a correct
// answer, and the crowd-favorite bonus when enough positive reactions targeted them.
func (m *HotSeat) CalculateScore(s *session.GameSession, turn *session.TurnState) map[uuid.UUID]int {
	cfg := m.rules.Config
	active := turn.ActiveParticipant
	points := map[uuid.UUID]int{active: 0}

	if r, ok := turn.ResponseFor(active); ok && r.IsCorrect {
		points[active] += cfg.BasePoints
		if cfg.SpeedBonus {
			points[active] += SpeedBonus(cfg.MaxSpeedBonus, r.Remaining, turn.TimeLimit)
		}
	}

	positive := 0
	for _, r := range turn.Reactions {
		if r.TargetID == active && r.Emoji.Positive() {
			positive++
		}
	}
	if cfg.CrowdFavoriteReactions > 0 && positive >= cfg.CrowdFavoriteReactions {
		points[active] += cfg.CrowdFavoriteBonus
	}
	return points
}

func (m *HotSeat) OnTurnEnd(s *session.GameSession, turn *session.TurnState) {
	s.Stats.AnswersGiven++
}

// GetNextActiveParticipant returns the player on the spot for the next question:
// Players[(k-1) mod N] for question k.
func (m *HotSeat) GetNextActiveParticipant(s *session.GameSession) uuid.UUID {
	if len(s.Players) == 0 {
		return uuid.Nil
	}
	k := s.Stats.AnswersGiven + 1
	return s.Players[(k-1)%len(s.Players)].ID
}

func (m *HotSeat) IsGameComplete(s *session.GameSession) bool {
	return s.Stats.AnswersGiven >= s.TotalQuestions()
}

func (m *HotSeat) OnGameEnd(s *session.GameSession) {
	s.SeedScores()
}

// SpeedBonus is floor(max * remaining / limit), clamped to [0, max].
func SpeedBonus(max int, remaining, limit time.Duration) int {
	if limit <= 0 || remaining <= 0 || max <= 0 {
		return 0
	}
	if remaining > limit {
		remaining = limit
	}
	return int(int64(max) * int64(remaining) / int64(limit))
}
