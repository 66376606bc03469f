// Package historian drains session event records from the Redis queue and persists them to
// PostgreSQL in batches.
package historian

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/trivia/internal/cache"
	"github.com/sirupsen/logrus"
)

// Source yields queued records. *cache.Queue satisfies it.
type Source interface {
	Pop(ctx context.Context, timeout time.Duration) (cache.EventRecord, bool, error)
}

// Inserter persists one batch atomically.
type Inserter interface {
	InsertEvents(ctx context.Context, records []cache.EventRecord) error
}

// Service batches records from a Source into an Inserter. A batch is flushed when it reaches
// batchSize or when flushDelay passes since the last flush.
type Service struct {
	source     Source
	sink       Inserter
	batchSize  int
	flushDelay time.Duration
	log        *logrus.Logger

	batch     []cache.EventRecord
	lastFlush time.Time
	flushed   int
}

// NewService builds a Service. Non-positive sizes fall back to 20 records and 500ms.
func NewService(source Source, sink Inserter, batchSize int, flushDelay time.Duration, log *logrus.Logger) *Service {
	if batchSize <= 0 {
		batchSize = 20
	}
	if flushDelay <= 0 {
		flushDelay = 500 * time.Millisecond
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		source:     source,
		sink:       sink,
		batchSize:  batchSize,
		flushDelay: flushDelay,
		log:        log,
		batch:      make([]cache.EventRecord, 0, batchSize),
	}
}

// Run pops records until ctx is cancelled, then flushes what is left.
func (hs *Service) Run(ctx context.Context) error {
	hs.lastFlush = time.Now()
	hs.log.Info("trivia-historian service started.")
	for {
		if ctx.Err() != nil {
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			hs.flush(flushCtx)
			cancel()
			hs.log.Info("trivia-historian shutting down.")
			return nil
		}

		record, ok, err := hs.source.Pop(ctx, hs.flushDelay)
		switch {
		case err != nil && ctx.Err() == nil:
			hs.log.WithError(err).Error("pop event record")
		case ok:
			hs.batch = append(hs.batch, record)
		}

		if len(hs.batch) >= hs.batchSize || time.Since(hs.lastFlush) >= hs.flushDelay {
			hs.flush(ctx)
		}
	}
}

// Flushed is the number of records written so far.
func (hs *Service) Flushed() int {
	return hs.flushed
}

func (hs *Service) flush(ctx context.Context) {
	hs.lastFlush = time.Now()
	if len(hs.batch) == 0 {
		return
	}
	batchCopy := make([]cache.EventRecord, len(hs.batch))
	copy(batchCopy, hs.batch)

	if err := hs.sink.InsertEvents(ctx, batchCopy); err != nil {
		// Keep the batch for the next attempt.
		hs.log.WithError(err).WithField("records", len(batchCopy)).Error("flush events")
		return
	}
	hs.batch = hs.batch[:0]
	hs.flushed += len(batchCopy)
	hs.log.Debugf("Flushed %d events to DB.", len(batchCopy))
}

// PostgresInserter writes records into trivia_session_events.
type PostgresInserter struct {
	pool *pgxpool.Pool
}

func NewPostgresInserter(pool *pgxpool.Pool) *PostgresInserter {
	return &PostgresInserter{pool: pool}
}

// InsertEvents inserts the batch in one transaction. Replayed records are ignored.
func (p *PostgresInserter) InsertEvents(ctx context.Context, records []cache.EventRecord) error {
	insertEvent := `
		INSERT INTO trivia_session_events (
			session_id, event_index, turn_id, actor_id, event_type, event_payload, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id, event_index) DO NOTHING
	`
	return pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, rec := range records {
			payload, err := json.Marshal(rec.EventPayload)
			if err != nil {
				return fmt.Errorf("marshal payload for %s#%d: %w", rec.SessionID, rec.EventIndex, err)
			}
			batch.Queue(insertEvent,
				rec.SessionID, rec.EventIndex, rec.TurnID, rec.ActorID, rec.EventType, payload,
				time.UnixMilli(rec.Timestamp).UTC(),
			)
		}
		if batch.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}
