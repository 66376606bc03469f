package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/session"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS trivia_sessions (
	id           TEXT PRIMARY KEY,
	room_id      TEXT NOT NULL,
	mode         TEXT NOT NULL,
	state        TEXT NOT NULL,
	abort_reason TEXT NOT NULL DEFAULT '',
	quiz_source  TEXT NOT NULL DEFAULT '',
	questions    INTEGER NOT NULL DEFAULT 0,
	turns_played INTEGER NOT NULL DEFAULT 0,
	stats        TEXT,
	created_at   INTEGER NOT NULL,
	started_at   INTEGER,
	ended_at     INTEGER
);
CREATE TABLE IF NOT EXISTS trivia_session_results (
	session_id         TEXT NOT NULL REFERENCES trivia_sessions(id) ON DELETE CASCADE,
	participant_id     TEXT NOT NULL,
	name               TEXT NOT NULL DEFAULT '',
	rank               INTEGER NOT NULL DEFAULT 0,
	score              INTEGER NOT NULL DEFAULT 0,
	interaction_points INTEGER NOT NULL DEFAULT 0,
	is_team            INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (session_id, participant_id)
);
`

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func nullableMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

// SQLiteStore persists sessions to an embedded SQLite file for local runs.
type SQLiteStore struct {
	sqlDB *sql.DB
}

// OpenSQLite opens the database file and creates the tables when missing.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// SaveCompletedSession upserts the session row and its results in one transaction.
func (s *SQLiteStore) SaveCompletedSession(ctx context.Context, gs *session.GameSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec := NewRecord(gs)
	stats, err := json.Marshal(rec.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal session stats: %w", err)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO trivia_sessions (
		   id, room_id, mode, state, abort_reason, quiz_source,
		   questions, turns_played, stats, created_at, started_at, ended_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   state = excluded.state,
		   abort_reason = excluded.abort_reason,
		   turns_played = excluded.turns_played,
		   stats = excluded.stats,
		   ended_at = excluded.ended_at`,
		rec.ID.String(), rec.RoomID.String(), rec.Mode, rec.State, rec.AbortReason, rec.QuizSource,
		rec.Questions, rec.TurnsPlayed, string(stats), toMillis(rec.CreatedAt),
		nullableMillis(rec.StartedAt), nullableMillis(rec.EndedAt),
	); err != nil {
		return fmt.Errorf("upsert session %s: %w", rec.ID, err)
	}

	for _, r := range rec.Results {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO trivia_session_results (
			   session_id, participant_id, name, rank, score, interaction_points, is_team
			 ) VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(session_id, participant_id) DO UPDATE SET
			   rank = excluded.rank,
			   score = excluded.score,
			   interaction_points = excluded.interaction_points`,
			rec.ID.String(), r.ParticipantID.String(), r.Name, r.Rank, r.Score, r.InteractionPoints, r.IsTeam,
		); err != nil {
			return fmt.Errorf("upsert result %s/%s: %w", rec.ID, r.ParticipantID, err)
		}
	}
	return tx.Commit()
}

// Results reads the stored standings of a session, best rank first.
func (s *SQLiteStore) Results(ctx context.Context, sessionID uuid.UUID) ([]ResultRecord, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT participant_id, name, rank, score, interaction_points, is_team
		   FROM trivia_session_results
		  WHERE session_id = ?
		  ORDER BY is_team DESC, rank = 0, rank, name`,
		sessionID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []ResultRecord
	for rows.Next() {
		var (
			r   ResultRecord
			pid string
		)
		if err := rows.Scan(&pid, &r.Name, &r.Rank, &r.Score, &r.InteractionPoints, &r.IsTeam); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if r.ParticipantID, err = uuid.Parse(pid); err != nil {
			return nil, fmt.Errorf("parse participant id: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SessionState reads the stored state of a session.
func (s *SQLiteStore) SessionState(ctx context.Context, sessionID uuid.UUID) (string, error) {
	var state string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT state FROM trivia_sessions WHERE id = ?`, sessionID.String()).Scan(&state)
	if err != nil {
		return "", fmt.Errorf("query session: %w", err)
	}
	return state, nil
}
