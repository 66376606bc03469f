package interaction

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/models"
	"github.com/jason-s-yu/trivia/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTurn() *session.TurnState {
	q := models.Question{Text: "2+2?", Options: []string{"3", "4", "5", "22"}, CorrectIndex: 1}
	turn := session.NewTurn(uuid.New(), 1, q, uuid.New(), 30*time.Second, time.Now())
	_ = turn.Advance(session.PhaseAnswering)
	return turn
}

func TestReactionCap(t *testing.T) {
	l := NewLedger()
	turn := newTurn()
	p := uuid.New()
	for i := 0; i < 3; i++ {
		assert.True(t, l.TryAddReaction(turn, session.Reaction{PlayerID: p, TargetID: turn.ActiveParticipant, Emoji: session.EmojiFire}, 3))
	}
	assert.False(t, l.TryAddReaction(turn, session.Reaction{PlayerID: p, Emoji: session.EmojiClap}, 3))
	assert.Len(t, turn.Reactions, 3)

	assert.True(t, l.TryAddReaction(turn, session.Reaction{PlayerID: uuid.New(), Emoji: session.EmojiHeart}, 3), "cap is per player")
	assert.False(t, l.TryAddReaction(turn, session.Reaction{PlayerID: uuid.New(), Emoji: "skull"}, 3))
}

func TestReactionCapUnderConcurrency(t *testing.T) {
	l := NewLedger()
	turn := newTurn()
	p := uuid.New()

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAddReaction(turn, session.Reaction{PlayerID: p, Emoji: session.EmojiThumbsUp}, DefaultMaxReactions) {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, DefaultMaxReactions, accepted)
	assert.Len(t, turn.Reactions, DefaultMaxReactions)
}

func TestReactionsClosedAtResults(t *testing.T) {
	l := NewLedger()
	turn := newTurn()
	require.NoError(t, turn.Advance(session.PhaseResults))
	assert.False(t, l.TryAddReaction(turn, session.Reaction{PlayerID: uuid.New(), Emoji: session.EmojiFire}, 3))
	assert.False(t, l.TryAddSuggestion(turn, session.Suggestion{PlayerID: uuid.New(), AnswerIndex: 1}, 1))
	assert.Empty(t, turn.Reactions)
}

func TestSuggestionRules(t *testing.T) {
	l := NewLedger()
	turn := newTurn()
	p := uuid.New()
	assert.False(t, l.TryAddSuggestion(turn, session.Suggestion{PlayerID: p, AnswerIndex: 1, Reasoning: strings.Repeat("x", 101)}, 1))
	assert.False(t, l.TryAddSuggestion(turn, session.Suggestion{PlayerID: p, AnswerIndex: 9}, 1))
	assert.True(t, l.TryAddSuggestion(turn, session.Suggestion{PlayerID: p, AnswerIndex: 1, Reasoning: strings.Repeat("x", 100)}, 1))
	assert.False(t, l.TryAddSuggestion(turn, session.Suggestion{PlayerID: p, AnswerIndex: 2}, 1))
	require.Len(t, turn.Suggestions, 1)
	assert.False(t, turn.Suggestions[0].Revealed)

	l.RevealSuggestions(turn)
	assert.True(t, turn.Suggestions[0].Revealed)
}

func TestChatLimits(t *testing.T) {
	l := NewLedger()
	turn := newTurn()
	p := uuid.New()
	assert.False(t, l.TryAddChat(turn, session.ChatMessage{PlayerID: p, Text: "   "}, 0))
	assert.False(t, l.TryAddChat(turn, session.ChatMessage{PlayerID: p, Text: strings.Repeat("a", 201)}, 0))
	for i := 0; i < DefaultMaxChat; i++ {
		assert.True(t, l.TryAddChat(turn, session.ChatMessage{PlayerID: p, Text: " hi "}, 0))
	}
	assert.False(t, l.TryAddChat(turn, session.ChatMessage{PlayerID: p, Text: "again"}, 0))
	assert.Equal(t, "hi", turn.Chat[0].Text)
}

func TestPowerUpsAlwaysRejected(t *testing.T) {
	assert.False(t, NewLedger().TryUsePowerUp(newTurn(), session.PowerUpUsage{PlayerID: uuid.New(), Kind: "double"}))
}

func TestResolvePredictions(t *testing.T) {
	l := NewLedger()
	turn := newTurn()
	base := time.Now()
	early, late, wrong := uuid.New(), uuid.New(), uuid.New()

	require.True(t, l.AddPrediction(turn, session.Prediction{PlayerID: late, AnswerIndex: 1, CreatedAt: base.Add(2 * time.Second)}))
	require.True(t, l.AddPrediction(turn, session.Prediction{PlayerID: early, AnswerIndex: 1, CreatedAt: base}))
	require.True(t, l.AddPrediction(turn, session.Prediction{PlayerID: wrong, AnswerIndex: 1, CreatedAt: base.Add(time.Second)}))
	require.True(t, l.AddPrediction(turn, session.Prediction{PlayerID: wrong, AnswerIndex: 3, CreatedAt: base.Add(3 * time.Second)}))

	points := l.ResolvePredictions(turn, 1)
	assert.Equal(t, PredictionPoints+EarliestPredictorBonus, points[early])
	assert.Equal(t, PredictionPoints, points[late])
	assert.Equal(t, 0, points[wrong], "only the latest prediction counts")

	assert.Nil(t, l.ResolvePredictions(turn, 1), "predictions are scored once")
}

func TestResolvePredictionsUnderdogBonus(t *testing.T) {
	l := NewLedger()
	turn := newTurn()
	base := time.Now()
	winner := uuid.New()
	l.AddPrediction(turn, session.Prediction{PlayerID: winner, AnswerIndex: 1, CreatedAt: base})
	for i := 0; i < 3; i++ {
		l.AddPrediction(turn, session.Prediction{PlayerID: uuid.New(), AnswerIndex: 0, CreatedAt: base})
	}
	points := l.ResolvePredictions(turn, 1)
	assert.Equal(t, PredictionPoints+EarliestPredictorBonus+UnderdogBonus, points[winner])
	assert.Len(t, points, 4)
}

func TestPredictionsClosedAfterAnswering(t *testing.T) {
	l := NewLedger()
	turn := newTurn()
	require.NoError(t, turn.Advance(session.PhaseReaction))
	assert.False(t, l.AddPrediction(turn, session.Prediction{PlayerID: uuid.New(), AnswerIndex: 1}))
}

func TestResolveSuggestions(t *testing.T) {
	l := NewLedger()
	turn := newTurn()
	answerer := turn.ActiveParticipant
	s1, s2, s3 := uuid.New(), uuid.New(), uuid.New()
	l.TryAddSuggestion(turn, session.Suggestion{PlayerID: s1, AnswerIndex: 1}, 1)
	l.TryAddSuggestion(turn, session.Suggestion{PlayerID: s2, AnswerIndex: 1}, 1)
	l.TryAddSuggestion(turn, session.Suggestion{PlayerID: s3, AnswerIndex: 2}, 1)

	points := l.ResolveSuggestions(turn, 1, answerer)
	assert.Equal(t, SuggestionBonus/2, points[s1])
	assert.Equal(t, SuggestionBonus/2, points[s2])
	assert.Equal(t, 0, points[s3])
	assert.Equal(t, SuggestionBonus/2, points[answerer], "answerer half is paid once")
	assert.Nil(t, l.ResolveSuggestions(turn, 1, answerer))
}

func TestResolveSuggestionsWrongAnswer(t *testing.T) {
	l := NewLedger()
	turn := newTurn()
	l.TryAddSuggestion(turn, session.Suggestion{PlayerID: uuid.New(), AnswerIndex: 2}, 1)
	assert.Empty(t, l.ResolveSuggestions(turn, 2, turn.ActiveParticipant))
}

func TestPositiveReactionsFor(t *testing.T) {
	l := NewLedger()
	turn := newTurn()
	target := turn.ActiveParticipant
	l.TryAddReaction(turn, session.Reaction{PlayerID: uuid.New(), TargetID: target, Emoji: session.EmojiFire}, 3)
	l.TryAddReaction(turn, session.Reaction{PlayerID: uuid.New(), TargetID: target, Emoji: session.EmojiThumbsDown}, 3)
	l.TryAddReaction(turn, session.Reaction{PlayerID: uuid.New(), TargetID: uuid.New(), Emoji: session.EmojiFire}, 3)
	assert.Equal(t, 1, l.PositiveReactionsFor(turn, target))
}
