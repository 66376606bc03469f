// Package cache holds the Redis plumbing for the session event queue consumed by the historian.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is the Redis list (queue) name for session event records.
const DefaultQueueName = "trivia_events"

// EventRecord holds the minimal info needed by the historian service.
type EventRecord struct {
	SessionID    uuid.UUID              `json:"session_id"`
	EventIndex   int                    `json:"event_index"`
	TurnID       uuid.UUID              `json:"turn_id"`
	ActorID      uuid.UUID              `json:"actor_id"`
	EventType    string                 `json:"event_type"`
	EventPayload map[string]interface{} `json:"event_payload"`
	Timestamp    int64                  `json:"timestamp"` // epoch millis
}

// Connect creates a Redis client for addr/db and pings it.
func Connect(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// Queue pushes event records onto a Redis list.
type Queue struct {
	rdb  *redis.Client
	name string
}

// NewQueue wraps a connected client. An empty name uses DefaultQueueName.
func NewQueue(rdb *redis.Client, name string) *Queue {
	if name == "" {
		name = DefaultQueueName
	}
	return &Queue{rdb: rdb, name: name}
}

// Name is the Redis list key.
func (q *Queue) Name() string {
	return q.name
}

// Push serializes the record to JSON and RPUSHes it onto the queue.
func (q *Queue) Push(ctx context.Context, record EventRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal EventRecord: %w", err)
	}
	if err := q.rdb.RPush(ctx, q.name, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", q.name, err)
	}
	return nil
}

// Pop blocks up to timeout for the next record. It returns ok=false when the queue stayed
// empty.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (EventRecord, bool, error) {
	res, err := q.rdb.BLPop(ctx, timeout, q.name).Result()
	if err == redis.Nil {
		return EventRecord{}, false, nil
	}
	if err != nil {
		return EventRecord{}, false, fmt.Errorf("BLPop %s: %w", q.name, err)
	}
	if len(res) < 2 {
		return EventRecord{}, false, nil
	}
	var record EventRecord
	if err := json.Unmarshal([]byte(res[1]), &record); err != nil {
		return EventRecord{}, false, fmt.Errorf("invalid event record: %w", err)
	}
	return record, true, nil
}
