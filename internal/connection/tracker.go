// Package connection tracks each participant's websocket presence per session and times out
// players who stay away longer than the reconnect grace.
package connection

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/timer"
	"github.com/sirupsen/logrus"
)

// State is a participant's connection state.
//
//	Connected -> Disconnected -> Reconnecting -> Connected
//	                  |               |
//	                  +---> TimedOut <+
type State string

const (
	Connected    State = "connected"
	Disconnected State = "disconnected"
	Reconnecting State = "reconnecting"
	TimedOut     State = "timed_out"
)

// DefaultGrace is how long a dropped participant may stay away before timing out.
const DefaultGrace = 30 * time.Second

// Notifier receives every state change. It runs outside the tracker lock, on the caller's
// goroutine or the timer's.
type Notifier func(sessionID, playerID uuid.UUID, state State)

type key struct {
	session uuid.UUID
	player  uuid.UUID
}

type presence struct {
	state State
	conns int
	timer uuid.UUID
	gen   uint64
	since time.Time
}

// Tracker is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	entries map[key]*presence
	timers  *timer.Service
	grace   time.Duration
	notify  Notifier
	log     *logrus.Logger
}

// NewTracker builds a tracker that schedules grace timers on timers. A nil notify is allowed.
func NewTracker(timers *timer.Service, grace time.Duration, notify Notifier, log *logrus.Logger) *Tracker {
	if grace <= 0 {
		grace = DefaultGrace
	}
	if notify == nil {
		notify = func(uuid.UUID, uuid.UUID, State) {}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Tracker{
		entries: make(map[key]*presence),
		timers:  timers,
		grace:   grace,
		notify:  notify,
		log:     log,
	}
}

// Connect registers an opened socket and returns the state the participant was in before.
// A participant coming back inside the grace moves to Reconnecting until Resume is called.
// One returning after a timeout comes back Connected but keeps the TimedOut result so the
// caller can seat them as a spectator. A first connection returns "".
func (t *Tracker) Connect(sessionID, playerID uuid.UUID) State {
	t.mu.Lock()
	k := key{sessionID, playerID}
	p, ok := t.entries[k]
	if !ok {
		t.entries[k] = &presence{state: Connected, conns: 1, since: time.Now()}
		t.mu.Unlock()
		t.notify(sessionID, playerID, Connected)
		return ""
	}
	prev := p.state
	p.conns++
	switch prev {
	case Disconnected:
		p.state = Reconnecting
	case TimedOut:
		p.state = Connected
	}
	p.since = time.Now()
	next := p.state
	t.mu.Unlock()

	if next != prev {
		t.notify(sessionID, playerID, next)
	}
	return prev
}

// Resume finishes a reconnect once the client has its state again. It reports false when
// the participant is not Reconnecting, for instance because the grace ran out first.
func (t *Tracker) Resume(sessionID, playerID uuid.UUID) bool {
	t.mu.Lock()
	p, ok := t.entries[key{sessionID, playerID}]
	if !ok || p.state != Reconnecting {
		t.mu.Unlock()
		return false
	}
	t.stopGraceLocked(p)
	p.state = Connected
	p.since = time.Now()
	t.mu.Unlock()

	t.notify(sessionID, playerID, Connected)
	return true
}

// Disconnect records a closed socket. When it was the participant's last one, the grace
// timer starts.
func (t *Tracker) Disconnect(sessionID, playerID uuid.UUID) {
	t.mu.Lock()
	k := key{sessionID, playerID}
	p, ok := t.entries[k]
	if !ok || p.conns == 0 {
		t.mu.Unlock()
		return
	}
	p.conns--
	if p.conns > 0 || p.state == TimedOut {
		t.mu.Unlock()
		return
	}
	t.stopGraceLocked(p)
	p.state = Disconnected
	p.since = time.Now()
	p.gen++
	gen := p.gen
	p.timer = t.timers.StartCleanupTimer(sessionID, t.grace, func() { t.expire(k, gen) })
	t.mu.Unlock()

	t.notify(sessionID, playerID, Disconnected)
}

// expire times the participant out unless they came back or a newer timer replaced this one.
func (t *Tracker) expire(k key, gen uint64) {
	t.mu.Lock()
	p, ok := t.entries[k]
	if !ok || p.gen != gen || (p.state != Disconnected && p.state != Reconnecting) {
		t.mu.Unlock()
		return
	}
	p.state = TimedOut
	p.timer = uuid.Nil
	away := time.Since(p.since)
	p.since = time.Now()
	t.mu.Unlock()

	t.log.WithFields(logrus.Fields{"session": k.session, "player": k.player, "away": away}).Info("participant timed out")
	t.notify(k.session, k.player, TimedOut)
}

// State reports a participant's current state.
func (t *Tracker) State(sessionID, playerID uuid.UUID) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.entries[key{sessionID, playerID}]
	if !ok {
		return "", false
	}
	return p.state, true
}

// Connected lists the participants of a session with an open socket.
func (t *Tracker) Connected(sessionID uuid.UUID) []uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []uuid.UUID
	for k, p := range t.entries {
		if k.session == sessionID && p.conns > 0 {
			out = append(out, k.player)
		}
	}
	return out
}

// Forget drops every entry of a session and cancels its grace timers.
func (t *Tracker) Forget(sessionID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, p := range t.entries {
		if k.session == sessionID {
			t.stopGraceLocked(p)
			delete(t.entries, k)
		}
	}
}

func (t *Tracker) stopGraceLocked(p *presence) {
	if p.timer != uuid.Nil {
		t.timers.CancelTimer(p.timer)
		p.timer = uuid.Nil
	}
}
