package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultChannelPrefix namespaces topics on the Redis pub/sub bus.
const DefaultChannelPrefix = "trivia:"

type envelope struct {
	Origin uuid.UUID `json:"origin"`
	Topic  string    `json:"topic"`
	Event  Event     `json:"event"`
}

// RedisPublisher publishes events on Redis pub/sub so every server node can deliver them
// to its own websocket subscribers.
type RedisPublisher struct {
	rdb    *redis.Client
	prefix string
	origin uuid.UUID
}

// NewRedisPublisher wraps a connected client. origin identifies this node so its relay can
// skip its own messages.
func NewRedisPublisher(rdb *redis.Client, origin uuid.UUID) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, prefix: DefaultChannelPrefix, origin: origin}
}

func (p *RedisPublisher) Publish(ctx context.Context, topic string, ev Event) error {
	data, err := json.Marshal(envelope{Origin: p.origin, Topic: topic, Event: ev})
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", ev.Type, err)
	}
	if err := p.rdb.Publish(ctx, p.prefix+topic, data).Err(); err != nil {
		return fmt.Errorf("failed to PUBLISH to Redis channel '%s': %w", p.prefix+topic, err)
	}
	return nil
}

// Relay forwards events published by other nodes into the local hub until ctx ends.
func Relay(ctx context.Context, rdb *redis.Client, hub *Hub, origin uuid.UUID, log *logrus.Logger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	pubsub := rdb.PSubscribe(ctx, DefaultChannelPrefix+"*")
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to Redis channels: %w", err)
	}
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Warnf("Relay: dropping undecodable message on %s: %v", msg.Channel, err)
				continue
			}
			if env.Origin == origin {
				continue
			}
			topic := env.Topic
			if topic == "" {
				topic = strings.TrimPrefix(msg.Channel, DefaultChannelPrefix)
			}
			if err := hub.Publish(ctx, topic, env.Event); err != nil {
				log.Warnf("Relay: failed to deliver %s on %s: %v", env.Event.Type, topic, err)
			}
		}
	}
}
