package mode

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/models"
	"github.com/jason-s-yu/trivia/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// teamSession builds a team session with the given team sizes, members in join order.
func teamSession(t *testing.T, clock *fakeClock, questions int, sizes ...int) *session.GameSession {
	t.Helper()
	room := models.RoomSnapshot{RoomID: uuid.New(), Mode: string(TeamChallengeID)}
	for i, size := range sizes {
		id := uuid.New()
		room.Teams = append(room.Teams, models.TeamSnapshot{ID: id, Name: fmt.Sprintf("team%d", i+1)})
		for j := 0; j < size; j++ {
			room.Players = append(room.Players, models.Player{ID: uuid.New(), Name: fmt.Sprintf("t%dp%d", i+1, j+1), TeamID: id})
		}
	}
	s := session.New(uuid.New(), room, clock.Now)
	s.Quiz = testQuiz(questions)
	s.State = session.StateActive
	return s
}

func vote(t *testing.T, m Mode, s *session.GameSession, player uuid.UUID, answer int) AnswerOutcome {
	t.Helper()
	out, err := m.OnAnswerSubmit(s, player, answer)
	require.NoError(t, err)
	return out
}

func TestTeamChallengeRoster(t *testing.T) {
	m := NewTeamChallenge()
	assert.ErrorIs(t, m.OnGameStart(teamSession(t, newClock(), 2, 2)), ErrRoster, "one team is too few")
	assert.ErrorIs(t, m.OnGameStart(teamSession(t, newClock(), 2, 2, 0)), ErrRoster, "empty team")
	assert.NoError(t, m.OnGameStart(teamSession(t, newClock(), 2, 2, 1)))

	s := teamSession(t, newClock(), 2, 1, 1)
	s.Players = append(s.Players, &models.Player{ID: uuid.New(), Name: "loner"})
	assert.ErrorIs(t, m.OnGameStart(s), ErrRoster)
}

func TestTeamConsensusAutoLocks(t *testing.T) {
	clock := newClock()
	m := NewTeamChallenge()
	s := teamSession(t, clock, 2, 3, 1)
	require.NoError(t, m.OnGameStart(s))
	turn := beginTurn(t, m, s)
	red := s.OrderedTeams()[0]

	clock.Advance(time.Second)
	out := vote(t, m, s, red.Members[0], 1)
	assert.False(t, out.Locked)
	out = vote(t, m, s, red.Members[1], 1)
	assert.False(t, out.Locked)
	out = vote(t, m, s, red.Members[2], 1)
	require.True(t, out.Locked)
	assert.True(t, out.Unanimous)
	assert.Equal(t, 1, out.LockedAnswer)
	assert.Equal(t, 100.0, red.Vote.ConsensusStrength())
	assert.False(t, turn.AnswersComplete, "the other team is still voting")

	assert.False(t, m.CanPlayerAnswer(s, red.Members[0]), "locked teams cannot change their answer")
	_, err := m.OnAnswerSubmit(s, red.Members[0], 2)
	assert.ErrorIs(t, err, ErrCannotAnswer)

	blue := s.OrderedTeams()[1]
	vote(t, m, s, blue.Members[0], 3)
	assert.True(t, turn.AnswersComplete)

	points := finishTurn(m, s, turn)
	// 100 base + 50 first correct + 25 consensus.
	assert.Equal(t, 175, points[red.ID])
	assert.Equal(t, 0, points[blue.ID])
	assert.Equal(t, 1, red.Stats.UnanimousAnswers)
	assert.Equal(t, 1, red.Stats.FirstCorrect)
	assert.Equal(t, 175, red.Score)
}

func TestTeamVotesCanChangeBeforeLock(t *testing.T) {
	clock := newClock()
	m := NewTeamChallenge()
	s := teamSession(t, clock, 1, 2, 1)
	require.NoError(t, m.OnGameStart(s))
	beginTurn(t, m, s)
	red := s.OrderedTeams()[0]

	vote(t, m, s, red.Members[0], 2)
	out := vote(t, m, s, red.Members[0], 1)
	assert.Equal(t, map[int]int{1: 1}, out.VoteTally)
	out = vote(t, m, s, red.Members[1], 1)
	assert.True(t, out.Locked)
	assert.Equal(t, 1, red.Vote.FinalAnswer)
}

func TestTeamPluralityAndCaptainTiebreak(t *testing.T) {
	clock := newClock()
	m := NewTeamChallenge()
	s := teamSession(t, clock, 2, 3, 2)
	require.NoError(t, m.OnGameStart(s))
	beginTurn(t, m, s)
	red, blue := s.OrderedTeams()[0], s.OrderedTeams()[1]

	vote(t, m, s, red.Members[0], 2)
	vote(t, m, s, red.Members[1], 1)
	out := vote(t, m, s, red.Members[2], 2)
	require.True(t, out.Locked)
	assert.Equal(t, 2, out.LockedAnswer, "plurality decides a full ballot")
	assert.False(t, out.Unanimous)

	// Question 1: the first member captains. A 1-1 tie goes their way.
	require.Equal(t, blue.Members[0], blue.CaptainID)
	vote(t, m, s, blue.Members[1], 3)
	out = vote(t, m, s, blue.Members[0], 1)
	require.True(t, out.Locked)
	assert.Equal(t, 1, out.LockedAnswer)
	assert.Equal(t, blue.Members[0], blue.Vote.LockedBy)
}

func TestTeamCaptainsRotate(t *testing.T) {
	clock := newClock()
	m := NewTeamChallenge()
	s := teamSession(t, clock, 4, 3, 1)
	require.NoError(t, m.OnGameStart(s))
	red := s.OrderedTeams()[0]
	for k := 1; k <= 4; k++ {
		turn := beginTurn(t, m, s)
		assert.Equal(t, red.Members[(k-1)%3], red.CaptainID, "question %d", k)
		finishTurn(m, s, turn)
	}
	assert.True(t, m.IsGameComplete(s))
}

func TestTeamTimeoutFinalizesOpenVotes(t *testing.T) {
	clock := newClock()
	m := NewTeamChallenge()
	s := teamSession(t, clock, 1, 3, 2, 1)
	require.NoError(t, m.OnGameStart(s))
	turn := beginTurn(t, m, s)
	teams := s.OrderedTeams()

	// Two of three voted for the right answer.
	vote(t, m, s, teams[0].Members[0], 1)
	clock.Advance(time.Second)
	vote(t, m, s, teams[0].Members[1], 1)
	// One of two voted, wrong.
	vote(t, m, s, teams[1].Members[1], 0)
	// Nobody on the third team voted.

	clock.Advance(30 * time.Second)
	turn.TimedOut = true
	points := m.CalculateScore(s, turn)
	assert.Equal(t, 150, points[teams[0].ID], "base + first correct, not unanimous")
	assert.Equal(t, 0, points[teams[1].ID])
	assert.Equal(t, 0, points[teams[2].ID])
	assert.True(t, teams[2].Vote.Locked)
	assert.Equal(t, -1, teams[2].Vote.FinalAnswer)
	assert.Equal(t, clock.now.Add(-30*time.Second), teams[0].Vote.LockedAt, "locks at the last vote")

	assert.Equal(t, points, m.CalculateScore(s, turn), "scoring is idempotent")

	s.MergeScores(points)
	m.OnTurnEnd(s, turn)
	assert.Equal(t, 1, teams[2].Stats.Unanswered)
}

// The first-correct bonus goes to the team whose correct answer locked earliest, even when
// another team gathered more votes for it.
func TestFirstCorrectByTimestampNotVoteCount(t *testing.T) {
	clock := newClock()
	m := NewTeamChallenge()
	s := teamSession(t, clock, 1, 4, 1)
	require.NoError(t, m.OnGameStart(s))
	turn := beginTurn(t, m, s)
	big, small := s.OrderedTeams()[0], s.OrderedTeams()[1]

	// Three of the big team's votes arrive before the small team's single vote.
	for i := 0; i < 3; i++ {
		clock.Advance(time.Second)
		vote(t, m, s, big.Members[i], 1)
	}
	clock.Advance(time.Second)
	out := vote(t, m, s, small.Members[0], 1)
	require.True(t, out.Locked)

	clock.Advance(time.Second)
	out = vote(t, m, s, big.Members[3], 1)
	require.True(t, out.Locked)
	assert.True(t, turn.AnswersComplete)

	points := m.CalculateScore(s, turn)
	// The small team is first by lock time: 100 + 50 + 25 (one member is unanimous).
	assert.Equal(t, 175, points[small.ID])
	// The big team had more votes in earlier but locked later: 100 + 25.
	assert.Equal(t, 125, points[big.ID])
	assert.True(t, big.Vote.LockedAt.After(small.Vote.LockedAt))
}

func TestTeamNextParticipantIsEveryone(t *testing.T) {
	s := teamSession(t, newClock(), 1, 1, 1)
	assert.Equal(t, uuid.Nil, NewTeamChallenge().GetNextActiveParticipant(s))
	assert.False(t, NewTeamChallenge().Rules().Allows(session.KindSuggestion))
}
