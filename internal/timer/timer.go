// Package timer schedules the per-session turn, results, countdown and cleanup timers.
//
// Every callback fires at most once. A timer entry is removed from the live set under the
// service lock before its callback runs, so a CancelTimer that wins the lock suppresses the
// callback and one that loses reports false.
package timer

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Kind identifies what a timer is for.
type Kind string

const (
	KindTurn      Kind = "turn"
	KindResults   Kind = "results"
	KindCountdown Kind = "countdown"
	KindCleanup   Kind = "cleanup"
)

// DefaultWarningLead is how many units before expiry a turn warning fires.
const DefaultWarningLead = 5

type entry struct {
	id        uuid.UUID
	sessionID uuid.UUID
	kind      Kind
	deadline  time.Time
	timer     *time.Timer
	warn      *time.Timer
}

func (e *entry) stop() {
	if e.timer != nil {
		e.timer.Stop()
	}
	if e.warn != nil {
		e.warn.Stop()
	}
}

// Service owns the live timers of every session.
type Service struct {
	mu          sync.Mutex
	entries     map[uuid.UUID]*entry
	turnTimers  map[uuid.UUID]uuid.UUID // session -> live turn timer
	unit        time.Duration
	warningLead int
	log         *logrus.Logger
	stopped     bool
}

// Option configures a Service.
type Option func(*Service)

// WithUnit sets the length of one timer "second". Tests use milliseconds.
func WithUnit(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.unit = d
		}
	}
}

// WithWarningLead sets how many units before expiry the turn warning fires.
func WithWarningLead(units int) Option {
	return func(s *Service) {
		if units > 0 {
			s.warningLead = units
		}
	}
}

// WithLogger sets the logger used for recovered callback panics.
func WithLogger(l *logrus.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// NewService creates a timer service.
func NewService(opts ...Option) *Service {
	s := &Service{
		entries:     make(map[uuid.UUID]*entry),
		turnTimers:  make(map[uuid.UUID]uuid.UUID),
		unit:        time.Second,
		warningLead: DefaultWarningLead,
		log:         logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Unit returns the configured length of one timer unit.
func (s *Service) Unit() time.Duration {
	return s.unit
}

// StartTurnTimer arms the session's turn timer, replacing any live one. onWarning, when not
// nil, fires once warningLead units before expiry if the timer is longer than that.
func (s *Service) StartTurnTimer(sessionID uuid.UUID, seconds int, onTimeout func(), onWarning func()) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return uuid.Nil
	}
	if prev, ok := s.turnTimers[sessionID]; ok {
		s.removeLocked(prev)
	}

	e := s.newEntryLocked(sessionID, KindTurn, seconds)
	d := s.duration(seconds)
	e.timer = time.AfterFunc(d, func() { s.fire(e.id, onTimeout) })
	if onWarning != nil && seconds > s.warningLead {
		e.warn = time.AfterFunc(d-s.duration(s.warningLead), func() { s.warn(e.id, onWarning) })
	}
	s.turnTimers[sessionID] = e.id
	return e.id
}

// StartResultsTimer arms a one-shot timer for the results display.
func (s *Service) StartResultsTimer(sessionID uuid.UUID, seconds int, onComplete func()) uuid.UUID {
	return s.startOneShot(sessionID, KindResults, s.duration(seconds), onComplete)
}

// StartCleanupTimer arms a one-shot timer for deferred session eviction.
func (s *Service) StartCleanupTimer(sessionID uuid.UUID, d time.Duration, fn func()) uuid.UUID {
	return s.startOneShot(sessionID, KindCleanup, d, fn)
}

// StartCountdownTimer calls onTick with the units left after each elapsed unit, then
// onComplete once the countdown reaches zero.
func (s *Service) StartCountdownTimer(sessionID uuid.UUID, seconds int, onTick func(remaining int), onComplete func()) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return uuid.Nil
	}
	if seconds < 0 {
		seconds = 0
	}
	e := s.newEntryLocked(sessionID, KindCountdown, seconds)
	s.scheduleTickLocked(e, seconds, onTick, onComplete)
	return e.id
}

func (s *Service) scheduleTickLocked(e *entry, remaining int, onTick func(int), onComplete func()) {
	if remaining <= 0 {
		e.timer = time.AfterFunc(0, func() { s.fire(e.id, onComplete) })
		return
	}
	e.timer = time.AfterFunc(s.unit, func() {
		left := remaining - 1
		if left == 0 {
			s.fire(e.id, onComplete)
			return
		}
		s.mu.Lock()
		if _, live := s.entries[e.id]; !live {
			s.mu.Unlock()
			return
		}
		s.scheduleTickLocked(e, left, onTick, onComplete)
		s.mu.Unlock()
		if onTick != nil {
			s.safeCall(e, func() { onTick(left) })
		}
	})
}

// CancelTimer stops a timer. It reports false when the timer already fired or never existed.
func (s *Service) CancelTimer(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(id)
}

// CancelAllForSession stops every live timer of a session and returns how many were stopped.
func (s *Service) CancelAllForSession(sessionID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.entries {
		if e.sessionID == sessionID && s.removeLocked(id) {
			n++
		}
	}
	return n
}

// RemainingSeconds returns the whole units left on a live timer, rounded up.
func (s *Service) RemainingSeconds(id uuid.UUID) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return 0, false
	}
	left := time.Until(e.deadline)
	if left <= 0 {
		return 0, true
	}
	return int(math.Ceil(float64(left) / float64(s.unit))), true
}

// Active counts the live timers of a session.
func (s *Service) Active(sessionID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.sessionID == sessionID {
			n++
		}
	}
	return n
}

// Stop cancels every timer; later Start calls are ignored and return uuid.Nil.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id := range s.entries {
		s.removeLocked(id)
	}
}

func (s *Service) startOneShot(sessionID uuid.UUID, kind Kind, d time.Duration, fn func()) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return uuid.Nil
	}
	e := s.newEntryLocked(sessionID, kind, 0)
	e.deadline = time.Now().Add(d)
	e.timer = time.AfterFunc(d, func() { s.fire(e.id, fn) })
	return e.id
}

func (s *Service) newEntryLocked(sessionID uuid.UUID, kind Kind, seconds int) *entry {
	e := &entry{
		id:        uuid.New(),
		sessionID: sessionID,
		kind:      kind,
		deadline:  time.Now().Add(s.duration(seconds)),
	}
	s.entries[e.id] = e
	return e
}

func (s *Service) removeLocked(id uuid.UUID) bool {
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	e.stop()
	delete(s.entries, id)
	if e.kind == KindTurn && s.turnTimers[e.sessionID] == id {
		delete(s.turnTimers, e.sessionID)
	}
	return true
}

// fire claims the entry and runs fn outside the lock.
func (s *Service) fire(id uuid.UUID, fn func()) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		if e.warn != nil {
			e.warn.Stop()
		}
		delete(s.entries, id)
		if e.kind == KindTurn && s.turnTimers[e.sessionID] == id {
			delete(s.turnTimers, e.sessionID)
		}
	}
	s.mu.Unlock()
	if !ok || fn == nil {
		return
	}
	s.safeCall(e, fn)
}

func (s *Service) warn(id uuid.UUID, fn func()) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		e.warn = nil
	}
	s.mu.Unlock()
	if ok {
		s.safeCall(e, fn)
	}
}

func (s *Service) safeCall(e *entry, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithFields(logrus.Fields{
				"session": e.sessionID,
				"timer":   e.id,
				"kind":    e.kind,
			}).Errorf("timer callback panicked: %v", r)
		}
	}()
	fn()
}

func (s *Service) duration(units int) time.Duration {
	if units < 0 {
		units = 0
	}
	return time.Duration(units) * s.unit
}
