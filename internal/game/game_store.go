package game

import (
	"sync"

	"github.com/google/uuid"
)

// actorStore indexes the live session actors.
type actorStore struct {
	mu     sync.Mutex
	actors map[uuid.UUID]*actor
}

func newActorStore() *actorStore {
	return &actorStore{
		actors: make(map[uuid.UUID]*actor),
	}
}

func (s *actorStore) get(id uuid.UUID) (*actor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, exists := s.actors[id]
	return a, exists
}

func (s *actorStore) remove(id uuid.UUID) (*actor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, exists := s.actors[id]
	delete(s.actors, id)
	return a, exists
}

func (s *actorStore) all() []*actor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*actor, 0, len(s.actors))
	for _, a := range s.actors {
		out = append(out, a)
	}
	return out
}

// addIfRoomFree adds a unless its room already has a session that is not over, which it
// returns instead.
func (s *actorStore) addIfRoomFree(a *actor) *actor {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.actors {
		if other.roomID == a.roomID && !other.closed.Load() {
			return other
		}
	}
	s.actors[a.id] = a
	return nil
}
