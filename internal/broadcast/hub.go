package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultBuffer is the outbound queue length of a subscription.
const DefaultBuffer = 64

// Hub fans events out to in-process subscribers, typically websocket writers. A slow
// subscriber whose queue is full misses the event instead of blocking the publisher.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
	log    *logrus.Logger
}

// NewHub creates an empty hub.
func NewHub(log *logrus.Logger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{topics: make(map[string]map[*Subscription]struct{}), log: log}
}

// Subscription receives encoded events for a set of topics.
type Subscription struct {
	hub    *Hub
	topics []string
	ch     chan []byte
	once   sync.Once
}

// C returns the channel of JSON-encoded events. It is closed by Close.
func (s *Subscription) C() <-chan []byte {
	return s.ch
}

// Topics lists the subscribed topics.
func (s *Subscription) Topics() []string {
	return append([]string(nil), s.topics...)
}

// Close detaches the subscription from the hub.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		for _, t := range s.topics {
			if subs, ok := s.hub.topics[t]; ok {
				delete(subs, s)
				if len(subs) == 0 {
					delete(s.hub.topics, t)
				}
			}
		}
		close(s.ch)
		s.hub.mu.Unlock()
	})
}

// Subscribe registers a subscriber for the given topics.
func (h *Hub) Subscribe(buffer int, topics ...string) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	sub := &Subscription{hub: h, topics: topics, ch: make(chan []byte, buffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range topics {
		if h.topics[t] == nil {
			h.topics[t] = make(map[*Subscription]struct{})
		}
		h.topics[t][sub] = struct{}{}
	}
	return sub
}

// Publish encodes the event and queues it for every subscriber of the topic.
func (h *Hub) Publish(_ context.Context, topic string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", ev.Type, err)
	}
	h.deliver(topic, ev.Type, data)
	return nil
}

func (h *Hub) deliver(topic string, evType EventType, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.topics[topic] {
		select {
		case sub.ch <- data:
		default:
			h.log.WithFields(logrus.Fields{"topic": topic, "event": evType}).Warn("subscriber queue full, dropping event")
		}
	}
}

// Subscribers counts the subscribers of a topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
