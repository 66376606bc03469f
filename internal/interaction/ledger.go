// Package interaction enforces per-turn caps on reactions, suggestions and chat, and scores
// predictions and suggestions once a turn's answer is known.
package interaction

import (
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/session"
)

const (
	DefaultMaxReactions   = 3
	DefaultMaxSuggestions = 1
	DefaultMaxChat        = 5

	PredictionPoints       = 10
	EarliestPredictorBonus = 5
	UnderdogBonus          = 10

	// SuggestionBonus is split evenly between the suggester and the answerer.
	SuggestionBonus = 20
)

// Ledger guards check-then-act updates of a turn's interaction lists.
type Ledger struct {
	mu sync.Mutex
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

func open(turn *session.TurnState) bool {
	return turn != nil && turn.Phase < session.PhaseResults
}

// TryAddReaction appends a reaction unless the sender already reached max this turn.
func (l *Ledger) TryAddReaction(turn *session.TurnState, r session.Reaction, max int) bool {
	if max <= 0 {
		max = DefaultMaxReactions
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !open(turn) || !r.Emoji.Valid() {
		return false
	}
	n := 0
	for _, existing := range turn.Reactions {
		if existing.PlayerID == r.PlayerID {
			n++
		}
	}
	if n >= max {
		return false
	}
	turn.Reactions = append(turn.Reactions, r)
	return true
}

// TryAddSuggestion appends a suggestion unless the sender already reached max this turn.
// Reasoning longer than session.MaxReasoningLength is rejected.
func (l *Ledger) TryAddSuggestion(turn *session.TurnState, s session.Suggestion, max int) bool {
	if max <= 0 {
		max = DefaultMaxSuggestions
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !open(turn) || utf8.RuneCountInString(s.Reasoning) > session.MaxReasoningLength {
		return false
	}
	if !turn.Question.HasOption(s.AnswerIndex) {
		return false
	}
	n := 0
	for _, existing := range turn.Suggestions {
		if existing.PlayerID == s.PlayerID {
			n++
		}
	}
	if n >= max {
		return false
	}
	s.Revealed = false
	turn.Suggestions = append(turn.Suggestions, s)
	return true
}

// AddPrediction records a prediction. Predictions are uncapped; only each player's latest
// one is scored.
func (l *Ledger) AddPrediction(turn *session.TurnState, p session.Prediction) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if turn == nil || turn.Phase >= session.PhaseReaction || !turn.Question.HasOption(p.AnswerIndex) {
		return false
	}
	turn.Predictions = append(turn.Predictions, p)
	return true
}

// TryAddChat appends a chat message unless it is empty, too long, or the sender hit max.
func (l *Ledger) TryAddChat(turn *session.TurnState, msg session.ChatMessage, max int) bool {
	if max <= 0 {
		max = DefaultMaxChat
	}
	msg.Text = strings.TrimSpace(msg.Text)
	if msg.Text == "" || utf8.RuneCountInString(msg.Text) > session.MaxChatMessageLength {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if turn == nil || turn.IsComplete() {
		return false
	}
	n := 0
	for _, existing := range turn.Chat {
		if existing.PlayerID == msg.PlayerID {
			n++
		}
	}
	if n >= max {
		return false
	}
	turn.Chat = append(turn.Chat, msg)
	return true
}

// TryUsePowerUp is reserved; no current mode grants power-ups.
func (l *Ledger) TryUsePowerUp(turn *session.TurnState, u session.PowerUpUsage) bool {
	return false
}

// PositiveReactionsFor counts positive reactions aimed at a target this turn.
func (l *Ledger) PositiveReactionsFor(turn *session.TurnState, target uuid.UUID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, r := range turn.Reactions {
		if r.TargetID == target && r.Emoji.Positive() {
			n++
		}
	}
	return n
}

// ResolvePredictions scores each player's latest prediction against the actual answer. It
// pays out once per turn; later calls return nil.
func (l *Ledger) ResolvePredictions(turn *session.TurnState, actual int) map[uuid.UUID]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if turn == nil || !turn.MarkPredictionsResolved() {
		return nil
	}

	latest := make(map[uuid.UUID]int) // player -> index into turn.Predictions
	for i, p := range turn.Predictions {
		if j, ok := latest[p.PlayerID]; !ok || !p.CreatedAt.Before(turn.Predictions[j].CreatedAt) {
			latest[p.PlayerID] = i
		}
	}
	if len(latest) == 0 {
		return map[uuid.UUID]int{}
	}

	var correct []int
	for _, i := range latest {
		if turn.Predictions[i].AnswerIndex == actual {
			correct = append(correct, i)
		}
	}
	sort.Slice(correct, func(a, b int) bool {
		pa, pb := turn.Predictions[correct[a]], turn.Predictions[correct[b]]
		if pa.CreatedAt.Equal(pb.CreatedAt) {
			return correct[a] < correct[b]
		}
		return pa.CreatedAt.Before(pb.CreatedAt)
	})

	underdog := len(correct) > 0 && len(correct)*3 < len(latest)
	points := make(map[uuid.UUID]int, len(latest))
	for player := range latest {
		points[player] = 0
	}
	for rank, i := range correct {
		pts := PredictionPoints
		if rank == 0 {
			pts += EarliestPredictorBonus
		}
		if underdog {
			pts += UnderdogBonus
		}
		turn.Predictions[i].Correct = true
		turn.Predictions[i].Points = pts
		points[turn.Predictions[i].PlayerID] = pts
	}
	return points
}

// ResolveSuggestions pays SuggestionBonus for every suggestion that matched the answer the
// answerer chose when that answer was correct: half to the suggester, half to the answerer,
// and the answerer's half at most once per turn. It pays out once; later calls return nil.
func (l *Ledger) ResolveSuggestions(turn *session.TurnState, chosen int, answerer uuid.UUID) map[uuid.UUID]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if turn == nil || !turn.MarkSuggestionsResolved() {
		return nil
	}
	points := make(map[uuid.UUID]int)
	if chosen < 0 || !turn.Question.IsCorrect(chosen) {
		return points
	}
	half := SuggestionBonus / 2
	answererPaid := false
	for _, s := range turn.Suggestions {
		if s.AnswerIndex != chosen || s.PlayerID == answerer {
			continue
		}
		points[s.PlayerID] += half
		if !answererPaid && answerer != uuid.Nil {
			points[answerer] += SuggestionBonus - half
			answererPaid = true
		}
	}
	return points
}

// RevealSuggestions marks every suggestion of the turn as revealed.
func (l *Ledger) RevealSuggestions(turn *session.TurnState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range turn.Suggestions {
		turn.Suggestions[i].Revealed = true
	}
}
