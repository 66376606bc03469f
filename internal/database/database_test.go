package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/models"
	"github.com/jason-s-yu/trivia/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func finishedSession() *session.GameSession {
	room := models.RoomSnapshot{
		RoomID: uuid.New(),
		Mode:   "hot_seat",
		Players: []models.Player{
			{ID: uuid.New(), Name: "ann"},
			{ID: uuid.New(), Name: "bob"},
		},
	}
	s := session.New(uuid.New(), room, nil)
	s.Quiz = &models.Quiz{Source: "placeholder", Questions: []models.Question{{Text: "q", Options: []string{"a", "b"}}}}
	s.SeedScores()
	s.Scores[room.Players[1].ID] = 150
	s.InteractionScores[room.Players[0].ID] = 15
	s.State = session.StateCompleted
	now := time.Now().UTC()
	s.StartedAt, s.EndedAt = &now, &now
	s.TurnsPlayed = 1
	return s
}

func TestNewRecord(t *testing.T) {
	s := finishedSession()
	rec := NewRecord(s)
	assert.Equal(t, "completed", rec.State)
	assert.Equal(t, "placeholder", rec.QuizSource)
	require.Len(t, rec.Results, 2)
	assert.Equal(t, "bob", rec.Results[0].Name)
	assert.Equal(t, 1, rec.Results[0].Rank)
	assert.Equal(t, 15, rec.Results[1].InteractionPoints)
	assert.Equal(t, 0, rec.Results[1].Score)
}

func TestNewRecordKeepsTeamPlayersInteractionPoints(t *testing.T) {
	red := uuid.New()
	p := models.Player{ID: uuid.New(), Name: "ann", TeamID: red}
	s := session.New(uuid.New(), models.RoomSnapshot{
		Teams:   []models.TeamSnapshot{{ID: red, Name: "Red"}},
		Players: []models.Player{p},
	}, nil)
	s.SeedScores()
	s.InteractionScores[p.ID] = 10

	rec := NewRecord(s)
	require.Len(t, rec.Results, 2)
	assert.True(t, rec.Results[0].IsTeam)
	assert.Equal(t, p.ID, rec.Results[1].ParticipantID)
	assert.Equal(t, 0, rec.Results[1].Rank)
}

func TestNewRecordKeepsSpectatorInteractionPoints(t *testing.T) {
	s := finishedSession()
	watcher := &models.Spectator{ID: uuid.New(), Name: "sam"}
	s.Spectators = append(s.Spectators, watcher, &models.Spectator{ID: uuid.New(), Name: "idle"})
	s.InteractionScores[watcher.ID] = 10

	rec := NewRecord(s)
	require.Len(t, rec.Results, 3, "spectators without points are left out")
	last := rec.Results[2]
	assert.Equal(t, watcher.ID, last.ParticipantID)
	assert.Equal(t, "sam", last.Name)
	assert.Equal(t, 10, last.InteractionPoints)
	assert.Zero(t, last.Rank)
	assert.False(t, last.IsTeam)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "trivia.db"))
	require.NoError(t, err)
	defer store.Close()

	s := finishedSession()
	ctx := context.Background()
	require.NoError(t, store.SaveCompletedSession(ctx, s))

	s.Scores[s.Players[0].ID] = 200
	require.NoError(t, store.SaveCompletedSession(ctx, s), "saving twice upserts")

	state, err := store.SessionState(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", state)

	results, err := store.Results(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "ann", results[0].Name)
	assert.Equal(t, 200, results[0].Score)
	assert.Equal(t, 1, results[0].Rank)
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	_, err := OpenSQLite(" ")
	assert.Error(t, err)
}

func TestNopStore(t *testing.T) {
	assert.NoError(t, NopStore{}.SaveCompletedSession(context.Background(), finishedSession()))
}

// TestPostgresStore needs a live database; it is skipped unless DATABASE_URL is set.
func TestPostgresStore(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, url)
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, EnsureSchema(ctx, pool))
	assert.NoError(t, NewPostgresStore(pool).SaveCompletedSession(ctx, finishedSession()))
}
