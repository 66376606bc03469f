package mode

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/session"
)

const TeamChallengeID session.ModeID = "team_challenge"

// TeamChallenge has every team vote on each question at once. A team's answer locks when
// its members agree, or when the ballot is full and a plurality or the captain decides.
type TeamChallenge struct {
	rules Rules
}

// NewTeamChallenge returns the team mode with its default tuning.
func NewTeamChallenge() *TeamChallenge {
	return &TeamChallenge{rules: Rules{
		Name:            "Team Challenge",
		Description:     "Teams vote on every question together; the captain breaks ties.",
		MinParticipants: 2,
		MaxParticipants: 8,
		RequiresTeams:   true,
		Config: Config{
			TimeLimit:         30 * time.Second,
			BasePoints:        100,
			FirstCorrectBonus: 50,
			ConsensusBonus:    25,
			Interactions: []session.InteractionKind{
				session.KindReaction,
				session.KindChat,
			},
			TeamScopedChat: true,
		},
	}}
}

func (m *TeamChallenge) ID() session.ModeID { return TeamChallengeID }
func (m *TeamChallenge) Rules() Rules       { return m.rules }
func (m *TeamChallenge) Available() bool    { return true }

func (m *TeamChallenge) OnGameStart(s *session.GameSession) error {
	n := len(s.Teams)
	if n < m.rules.MinParticipants || n > m.rules.MaxParticipants {
		return fmt.Errorf("%w: team challenge needs %d-%d teams, got %d", ErrRoster, m.rules.MinParticipants, m.rules.MaxParticipants, n)
	}
	for _, team := range s.OrderedTeams() {
		if len(team.Members) == 0 {
			return fmt.Errorf("%w: team %q has no members", ErrRoster, team.Name)
		}
	}
	for _, p := range s.Players {
		if s.TeamOf(p.ID) == nil {
			return fmt.Errorf("%w: player %q is not on a team", ErrRoster, p.Name)
		}
	}
	if s.TotalQuestions() == 0 {
		return ErrNoQuiz
	}
	s.SeedScores()
	return nil
}

// OnTurnStart opens a fresh ballot for every team and rotates captains.
func (m *TeamChallenge) OnTurnStart(s *session.GameSession, turn *session.TurnState) error {
	if err := validateTurnStart(s, turn); err != nil {
		return err
	}
	for _, team := range s.OrderedTeams() {
		team.Vote = session.NewTeamVote()
		team.CaptainFor(turn.QuestionNumber)
	}
	return nil
}

func (m *TeamChallenge) CanPlayerAnswer(s *session.GameSession, playerID uuid.UUID) bool {
	if _, ok := answering(s); !ok {
		return false
	}
	team := s.TeamOf(playerID)
	return team != nil && team.Vote != nil && !team.Vote.Locked
}

// OnAnswerSubmit casts or changes the player's vote and locks the team once its ballot
// is decided.
func (m *TeamChallenge) OnAnswerSubmit(s *session.GameSession, playerID uuid.UUID, answerIndex int) (AnswerOutcome, error) {
	if !m.CanPlayerAnswer(s, playerID) {
		return AnswerOutcome{}, ErrCannotAnswer
	}
	turn := s.CurrentTurn
	if !turn.Question.HasOption(answerIndex) {
		return AnswerOutcome{}, ErrInvalidAnswer
	}
	team := s.TeamOf(playerID)
	now := s.Now()
	if err := team.Vote.Cast(playerID, answerIndex, now); err != nil {
		return AnswerOutcome{}, err
	}

	out := AnswerOutcome{ParticipantID: team.ID, VoteTally: team.Vote.Tally(), LockedAnswer: -1}
	if team.Vote.AllVoted(team.Members) {
		answer, unanimous := decide(team)
		lockTeam(turn, team, answer, playerID, now, unanimous)
		out.Recorded = answer >= 0
		out.Locked = true
		out.LockedAnswer = answer
		out.Unanimous = unanimous
	}
	turn.AnswersComplete = allLocked(s)
	return out, nil
}

// CalculateScore finalizes any ballot still open, then pays base points for a correct
// answer, the first-correct bonus to the earliest correct lock and the consensus bonus
// to correct unanimous teams. Calling it again yields the same result.
func (m *TeamChallenge) CalculateScore(s *session.GameSession, turn *session.TurnState) map[uuid.UUID]int {
	m.finalizeOpenVotes(s, turn)
	cfg := m.rules.Config

	points := make(map[uuid.UUID]int, len(s.Teams))
	first := firstCorrect(turn)
	for _, team := range s.OrderedTeams() {
		points[team.ID] = 0
		r, ok := turn.ResponseFor(team.ID)
		if !ok || !r.IsCorrect {
			continue
		}
		points[team.ID] += cfg.BasePoints
		if team.ID == first {
			points[team.ID] += cfg.FirstCorrectBonus
		}
		if team.Vote != nil && team.Vote.Unanimous {
			points[team.ID] += cfg.ConsensusBonus
		}
	}
	return points
}

func (m *TeamChallenge) OnTurnEnd(s *session.GameSession, turn *session.TurnState) {
	first := firstCorrect(turn)
	for _, team := range s.OrderedTeams() {
		r, ok := turn.ResponseFor(team.ID)
		switch {
		case !ok:
			team.Stats.Unanswered++
		case r.IsCorrect:
			team.Stats.CorrectAnswers++
			if team.Vote != nil && team.Vote.Unanimous {
				team.Stats.UnanimousAnswers++
			}
			if team.ID == first {
				team.Stats.FirstCorrect++
			}
		}
		team.Score = s.Scores[team.ID]
	}
	s.Stats.AnswersGiven++
}

// GetNextActiveParticipant is uuid.Nil: every team answers every question.
func (m *TeamChallenge) GetNextActiveParticipant(s *session.GameSession) uuid.UUID {
	return uuid.Nil
}

func (m *TeamChallenge) IsGameComplete(s *session.GameSession) bool {
	return s.Stats.AnswersGiven >= s.TotalQuestions()
}

func (m *TeamChallenge) OnGameEnd(s *session.GameSession) {
	for _, team := range s.OrderedTeams() {
		team.Score = s.Scores[team.ID]
		team.Vote = nil
	}
}

// finalizeOpenVotes locks every ballot still open at timeout using whoever voted. A team
// with no votes locks with no answer.
func (m *TeamChallenge) finalizeOpenVotes(s *session.GameSession, turn *session.TurnState) {
	for _, team := range s.OrderedTeams() {
		if team.Vote == nil {
			team.Vote = session.NewTeamVote()
		}
		if team.Vote.Locked {
			continue
		}
		if len(team.Vote.Votes) == 0 {
			team.Vote.Lock(-1, uuid.Nil, s.Now(), false)
			continue
		}
		answer, unanimous := decide(team)
		lockTeam(turn, team, answer, team.CaptainID, team.Vote.LastCastAt(), unanimous)
	}
	turn.AnswersComplete = true
}

// decide applies the lock rules to a ballot: unanimous agreement, then a plurality, then
// the captain's vote, then the earliest vote among the tied answers.
func decide(team *session.Team) (answer int, unanimous bool) {
	v := team.Vote
	if v.IsUnanimous(len(team.Members)) {
		for _, idx := range v.Votes {
			return idx, true
		}
	}
	if idx, ok := v.Majority(); ok {
		return idx, false
	}
	if idx, ok := v.Votes[team.CaptainID]; ok {
		return idx, false
	}
	return earliestTopVote(v), false
}

func earliestTopVote(v *session.TeamVote) int {
	tally := v.Tally()
	top := 0
	for _, c := range tally {
		if c > top {
			top = c
		}
	}
	answer := -1
	var at time.Time
	for player, idx := range v.Votes {
		if tally[idx] != top {
			continue
		}
		cast := v.CastAt[player]
		if answer < 0 || cast.Before(at) || (cast.Equal(at) && idx < answer) {
			answer, at = idx, cast
		}
	}
	return answer
}

func lockTeam(turn *session.TurnState, team *session.Team, answer int, by uuid.UUID, at time.Time, unanimous bool) {
	team.Vote.Lock(answer, by, at, unanimous)
	if answer < 0 {
		return
	}
	turn.AddResponse(session.PlayerResponse{
		ParticipantID: team.ID,
		PlayerID:      by,
		AnswerIndex:   answer,
		SubmittedAt:   at,
		ResponseTime:  at.Sub(turn.StartedAt),
		Remaining:     turn.RemainingAt(at),
		IsCorrect:     turn.Question.IsCorrect(answer),
	})
}

func allLocked(s *session.GameSession) bool {
	for _, team := range s.OrderedTeams() {
		if team.Vote == nil || !team.Vote.Locked {
			return false
		}
	}
	return len(s.Teams) > 0
}

// firstCorrect returns the team whose correct answer locked earliest. Ties on the
// timestamp go to the team that was recorded first.
func firstCorrect(turn *session.TurnState) uuid.UUID {
	correct := make([]session.PlayerResponse, 0, len(turn.Responses))
	for _, r := range turn.Responses {
		if r.IsCorrect {
			correct = append(correct, r)
		}
	}
	if len(correct) == 0 {
		return uuid.Nil
	}
	sort.SliceStable(correct, func(i, j int) bool {
		return correct[i].SubmittedAt.Before(correct[j].SubmittedAt)
	})
	return correct[0].ParticipantID
}
