package game

import (
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/mode"
	"github.com/jason-s-yu/trivia/internal/models"
	"github.com/jason-s-yu/trivia/internal/session"
)

// PublicQuestion is a question as clients see it. CorrectIndex and Explanation stay empty
// until the turn's results are shown.
type PublicQuestion struct {
	Number       int      `json:"number"`
	Total        int      `json:"total"`
	Text         string   `json:"text"`
	Options      []string `json:"options"`
	Category     string   `json:"category,omitempty"`
	CorrectIndex *int     `json:"correctIndex,omitempty"`
	Explanation  string   `json:"explanation,omitempty"`
}

// PublicTeam is a team from the perspective of a viewer. Vote details are only filled for
// the viewer's own team.
type PublicTeam struct {
	ID        uuid.UUID   `json:"id"`
	Name      string      `json:"name"`
	Members   []uuid.UUID `json:"members"`
	CaptainID uuid.UUID   `json:"captainId"`
	Score     int         `json:"score"`
	Locked    bool        `json:"locked"`
	Tally     map[int]int `json:"tally,omitempty"`
	Consensus float64     `json:"consensus,omitempty"`
}

// PublicTurn is the current turn from the perspective of a viewer.
type PublicTurn struct {
	ID                uuid.UUID                `json:"id"`
	Phase             session.Phase            `json:"phase"`
	ActiveParticipant uuid.UUID                `json:"activeParticipant,omitempty"`
	Question          PublicQuestion           `json:"question"`
	TimeLimitMs       int64                    `json:"timeLimitMs"`
	RemainingMs       int64                    `json:"remainingMs"`
	TimedOut          bool                     `json:"timedOut"`
	Answered          []uuid.UUID              `json:"answered"`
	Responses         []session.PlayerResponse `json:"responses,omitempty"`
	Reactions         []session.Reaction       `json:"reactions"`
	Chat              []session.ChatMessage    `json:"chat"`
	SuggestionsForMe  int                      `json:"suggestionsForMe,omitempty"`
	Suggestions       []session.Suggestion     `json:"suggestions,omitempty"`
}

// View is the state sync sent on connect and served by the snapshot endpoint.
type View struct {
	SessionID         uuid.UUID                  `json:"sessionId"`
	RoomID            uuid.UUID                  `json:"roomId"`
	Mode              session.ModeID             `json:"mode"`
	Rules             mode.Rules                 `json:"rules"`
	State             session.State              `json:"state"`
	Players           []models.Player            `json:"players"`
	Teams             []PublicTeam               `json:"teams,omitempty"`
	Spectators        []models.Spectator         `json:"spectators,omitempty"`
	Scores            map[uuid.UUID]int          `json:"scores"`
	InteractionScores map[uuid.UUID]int          `json:"interactionScores"`
	Leaderboard       []session.LeaderboardEntry `json:"leaderboard"`
	Turn              *PublicTurn                `json:"turn,omitempty"`
	TurnsPlayed       int                        `json:"turnsPlayed"`
	TotalQuestions    int                        `json:"totalQuestions"`
	AbortReason       string                     `json:"abortReason,omitempty"`
	ViewerIsSpectator bool                       `json:"viewerIsSpectator"`
}

func buildView(s *session.GameSession, m mode.Mode, viewer uuid.UUID) View {
	v := View{
		SessionID:         s.ID,
		RoomID:            s.RoomID,
		Mode:              s.Mode,
		Rules:             m.Rules(),
		State:             s.State,
		Scores:            copyPoints(s.Scores),
		InteractionScores: copyPoints(s.InteractionScores),
		Leaderboard:       s.Leaderboard(),
		TurnsPlayed:       s.TurnsPlayed,
		TotalQuestions:    s.TotalQuestions(),
		AbortReason:       s.AbortReason,
		ViewerIsSpectator: s.IsSpectator(viewer),
	}
	for _, p := range s.Players {
		v.Players = append(v.Players, *p)
	}
	for _, sp := range s.Spectators {
		v.Spectators = append(v.Spectators, *sp)
	}

	viewerTeam := s.TeamOf(viewer)
	for _, team := range s.OrderedTeams() {
		pt := PublicTeam{
			ID:        team.ID,
			Name:      team.Name,
			Members:   append([]uuid.UUID(nil), team.Members...),
			CaptainID: team.CaptainID,
			Score:     s.Scores[team.ID],
		}
		if team.Vote != nil {
			pt.Locked = team.Vote.Locked
			if viewerTeam != nil && viewerTeam.ID == team.ID {
				pt.Tally = team.Vote.Tally()
				pt.Consensus = team.Vote.ConsensusStrength()
			}
		}
		v.Teams = append(v.Teams, pt)
	}

	if t := s.CurrentTurn; t != nil {
		v.Turn = buildTurnView(s, t, viewer, viewerTeam)
	}
	return v
}

func buildTurnView(s *session.GameSession, t *session.TurnState, viewer uuid.UUID, viewerTeam *session.Team) *PublicTurn {
	revealed := t.Phase >= session.PhaseResults
	pt := &PublicTurn{
		ID:                t.ID,
		Phase:             t.Phase,
		ActiveParticipant: t.ActiveParticipant,
		Question:          publicQuestion(s, t, revealed),
		TimeLimitMs:       t.TimeLimit.Milliseconds(),
		TimedOut:          t.TimedOut,
		Answered:          make([]uuid.UUID, 0, len(t.Responses)),
		Reactions:         append([]session.Reaction(nil), t.Reactions...),
	}
	if t.Phase <= session.PhaseAnswering {
		pt.RemainingMs = t.RemainingAt(s.Now()).Milliseconds()
	}
	for _, r := range t.Responses {
		pt.Answered = append(pt.Answered, r.ParticipantID)
	}
	if revealed {
		pt.Responses = append([]session.PlayerResponse(nil), t.Responses...)
		pt.Suggestions = append([]session.Suggestion(nil), t.Suggestions...)
	}
	for _, msg := range t.Chat {
		if msg.TeamID != uuid.Nil && (viewerTeam == nil || viewerTeam.ID != msg.TeamID) {
			continue
		}
		pt.Chat = append(pt.Chat, msg)
	}
	if viewer == t.ActiveParticipant {
		for _, sg := range t.Suggestions {
			if sg.TargetID == viewer {
				pt.SuggestionsForMe++
			}
		}
	}
	return pt
}

func publicQuestion(s *session.GameSession, t *session.TurnState, revealed bool) PublicQuestion {
	q := PublicQuestion{
		Number:   t.QuestionNumber,
		Total:    s.TotalQuestions(),
		Text:     t.Question.Text,
		Options:  append([]string(nil), t.Question.Options...),
		Category: t.Question.Category,
	}
	if revealed {
		idx := t.Question.CorrectIndex
		q.CorrectIndex = &idx
		q.Explanation = t.Question.Explanation
	}
	return q
}

func turnStartPayload(s *session.GameSession, t *session.TurnState) map[string]interface{} {
	payload := map[string]interface{}{
		"turnId":            t.ID,
		"questionNumber":    t.QuestionNumber,
		"totalQuestions":    s.TotalQuestions(),
		"question":          publicQuestion(s, t, false),
		"activeParticipant": t.ActiveParticipant,
		"timeLimit":         int(t.TimeLimit / time.Second),
	}
	if s.HasTeams() {
		captains := make(map[uuid.UUID]uuid.UUID, len(s.Teams))
		for _, team := range s.OrderedTeams() {
			captains[team.ID] = team.CaptainID
		}
		payload["captains"] = captains
	}
	return payload
}

func turnEndPayload(s *session.GameSession, t *session.TurnState, points, bonus map[uuid.UUID]int) map[string]interface{} {
	payload := map[string]interface{}{
		"turnId":            t.ID,
		"questionNumber":    t.QuestionNumber,
		"correctIndex":      t.Question.CorrectIndex,
		"explanation":       t.Question.Explanation,
		"timedOut":          t.TimedOut,
		"responses":         append([]session.PlayerResponse(nil), t.Responses...),
		"points":            copyPoints(points),
		"interactionPoints": copyPoints(bonus),
		"suggestions":       append([]session.Suggestion(nil), t.Suggestions...),
		"predictions":       append([]session.Prediction(nil), t.Predictions...),
		"leaderboard":       s.Leaderboard(),
	}
	if s.HasTeams() {
		locks := make(map[uuid.UUID]map[string]interface{}, len(s.Teams))
		for _, team := range s.OrderedTeams() {
			if team.Vote == nil {
				continue
			}
			locks[team.ID] = map[string]interface{}{
				"answer":    team.Vote.FinalAnswer,
				"unanimous": team.Vote.Unanimous,
				"consensus": team.Vote.ConsensusStrength(),
			}
		}
		payload["teams"] = locks
	}
	return payload
}

func scorePayload(s *session.GameSession) map[string]interface{} {
	return map[string]interface{}{
		"scores":            copyPoints(s.Scores),
		"interactionScores": copyPoints(s.InteractionScores),
		"leaderboard":       s.Leaderboard(),
	}
}

func copyPoints(in map[uuid.UUID]int) map[uuid.UUID]int {
	out := make(map[uuid.UUID]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
