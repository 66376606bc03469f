// Package database persists completed sessions to Postgres or SQLite.
package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/session"
)

// SessionStore persists sessions once they reach a terminal state.
type SessionStore interface {
	SaveCompletedSession(ctx context.Context, s *session.GameSession) error
}

// NopStore discards everything. It is used when no database is configured.
type NopStore struct{}

func (NopStore) SaveCompletedSession(context.Context, *session.GameSession) error { return nil }

// SessionRecord is the flattened, persisted form of a finished session.
type SessionRecord struct {
	ID          uuid.UUID
	RoomID      uuid.UUID
	Mode        string
	State       string
	AbortReason string
	QuizSource  string
	Questions   int
	TurnsPlayed int
	CreatedAt   time.Time
	StartedAt   *time.Time
	EndedAt     *time.Time
	Stats       session.Stats
	Results     []ResultRecord
}

// ResultRecord is one participant's final standing. Interaction points are kept apart
// from the ranked score.
type ResultRecord struct {
	ParticipantID     uuid.UUID
	Name              string
	Rank              int
	Score             int
	InteractionPoints int
	IsTeam            bool
}

// NewRecord flattens a session. Players who only earned interaction points in a team
// session get their own unranked rows.
func NewRecord(s *session.GameSession) SessionRecord {
	rec := SessionRecord{
		ID:          s.ID,
		RoomID:      s.RoomID,
		Mode:        string(s.Mode),
		State:       string(s.State),
		AbortReason: s.AbortReason,
		Questions:   s.TotalQuestions(),
		TurnsPlayed: s.TurnsPlayed,
		CreatedAt:   s.CreatedAt,
		StartedAt:   s.StartedAt,
		EndedAt:     s.EndedAt,
		Stats:       s.Stats,
	}
	if s.Quiz != nil {
		rec.QuizSource = s.Quiz.Source
	}
	seen := make(map[uuid.UUID]bool)
	for _, e := range s.Leaderboard() {
		_, isTeam := s.Teams[e.ParticipantID]
		rec.Results = append(rec.Results, ResultRecord{
			ParticipantID:     e.ParticipantID,
			Name:              e.Name,
			Rank:              e.Rank,
			Score:             e.Score,
			InteractionPoints: s.InteractionScores[e.ParticipantID],
			IsTeam:            isTeam,
		})
		seen[e.ParticipantID] = true
	}
	for _, p := range s.Players {
		if seen[p.ID] {
			continue
		}
		if pts := s.InteractionScores[p.ID]; pts != 0 {
			rec.Results = append(rec.Results, ResultRecord{ParticipantID: p.ID, Name: p.Name, InteractionPoints: pts})
			seen[p.ID] = true
		}
	}
	for _, sp := range s.Spectators {
		if seen[sp.ID] {
			continue
		}
		if pts := s.InteractionScores[sp.ID]; pts != 0 {
			rec.Results = append(rec.Results, ResultRecord{ParticipantID: sp.ID, Name: sp.Name, InteractionPoints: pts})
		}
	}
	return rec
}
