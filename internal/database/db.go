package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/trivia/internal/session"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS trivia_sessions (
	id           UUID PRIMARY KEY,
	room_id      UUID NOT NULL,
	mode         TEXT NOT NULL,
	state        TEXT NOT NULL,
	abort_reason TEXT NOT NULL DEFAULT '',
	quiz_source  TEXT NOT NULL DEFAULT '',
	questions    INT NOT NULL DEFAULT 0,
	turns_played INT NOT NULL DEFAULT 0,
	stats        JSONB,
	created_at   TIMESTAMPTZ NOT NULL,
	started_at   TIMESTAMPTZ,
	ended_at     TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS trivia_session_results (
	session_id         UUID NOT NULL REFERENCES trivia_sessions(id) ON DELETE CASCADE,
	participant_id     UUID NOT NULL,
	name               TEXT NOT NULL DEFAULT '',
	rank               INT NOT NULL DEFAULT 0,
	score              INT NOT NULL DEFAULT 0,
	interaction_points INT NOT NULL DEFAULT 0,
	is_team            BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (session_id, participant_id)
);
CREATE TABLE IF NOT EXISTS trivia_session_events (
	session_id     UUID NOT NULL,
	event_index    INT NOT NULL,
	turn_id        UUID,
	actor_id       UUID,
	event_type     TEXT NOT NULL,
	event_payload  JSONB,
	created_at     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (session_id, event_index)
);
`

// Connect opens a pgx pool for the given URL and pings it.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("unable to parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create pgx pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the session tables when missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// PostgresStore persists sessions with pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps a connected pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// SaveCompletedSession upserts the session row and its results in one transaction.
func (s *PostgresStore) SaveCompletedSession(ctx context.Context, gs *session.GameSession) error {
	rec := NewRecord(gs)
	stats, err := json.Marshal(rec.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal session stats: %w", err)
	}
	err = pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		upsertSession := `
			INSERT INTO trivia_sessions (
				id, room_id, mode, state, abort_reason, quiz_source,
				questions, turns_played, stats, created_at, started_at, ended_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id) DO UPDATE SET
				state = $4, abort_reason = $5, turns_played = $8, stats = $9, ended_at = $12
		`
		if _, e := tx.Exec(ctx, upsertSession,
			rec.ID, rec.RoomID, rec.Mode, rec.State, rec.AbortReason, rec.QuizSource,
			rec.Questions, rec.TurnsPlayed, stats, rec.CreatedAt, rec.StartedAt, rec.EndedAt,
		); e != nil {
			return e
		}

		upsertResult := `
			INSERT INTO trivia_session_results (
				session_id, participant_id, name, rank, score, interaction_points, is_team
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (session_id, participant_id)
			DO UPDATE SET rank = $4, score = $5, interaction_points = $6
		`
		batch := &pgx.Batch{}
		for _, r := range rec.Results {
			batch.Queue(upsertResult, rec.ID, r.ParticipantID, r.Name, r.Rank, r.Score, r.InteractionPoints, r.IsTeam)
		}
		if batch.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("tx upsert session %s: %w", rec.ID, err)
	}
	return nil
}
