package game

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/mode"
	"github.com/jason-s-yu/trivia/internal/session"
	"github.com/sirupsen/logrus"
)

const (
	inboxSize  = 64
	outboxSize = 256
)

// command is one unit of work run on the actor goroutine. reply is nil for fire-and-forget
// commands posted by timers.
type command struct {
	fn    func(a *actor) error
	reply chan error
}

// actor owns one session. Every read and write of the session happens on its goroutine.
type actor struct {
	id     uuid.UUID
	roomID uuid.UUID
	s      *session.GameSession
	mode   mode.Mode
	o      *Orchestrator
	log    *logrus.Entry

	inbox    chan command
	outbox   chan func()
	quit     chan struct{}
	stopOnce sync.Once
	closed   atomic.Bool // terminal state reached

	turnTimer      uuid.UUID
	resultsTimer   uuid.UUID
	countdownTimer uuid.UUID
	started        bool
}

func newActor(o *Orchestrator, s *session.GameSession, m mode.Mode) *actor {
	return &actor{
		id:     s.ID,
		roomID: s.RoomID,
		s:      s,
		mode:   m,
		o:      o,
		log:    o.log.WithFields(logrus.Fields{"session": s.ID, "mode": m.ID()}),
		inbox:  make(chan command, inboxSize),
		outbox: make(chan func(), outboxSize),
		quit:   make(chan struct{}),
	}
}

func (a *actor) run() {
	go a.send()
	defer close(a.outbox)
	for {
		select {
		case cmd := <-a.inbox:
			a.handle(cmd)
		case <-a.quit:
			return
		}
	}
}

// handle runs a command. A panic aborts this session only.
func (a *actor) handle(cmd command) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				a.log.WithField("panic", r).Errorf("command panicked\n%s", debug.Stack())
				err = newError(CodeInvalidState, "internal error")
				a.recoverAbort(fmt.Sprintf("internal error: %v", r))
			}
		}()
		err = cmd.fn(a)
	}()
	if cmd.reply != nil {
		cmd.reply <- err
	}
}

func (a *actor) recoverAbort(reason string) {
	defer func() {
		if r := recover(); r != nil {
			a.log.WithField("panic", r).Error("abort after panic failed")
			a.closed.Store(true)
		}
	}()
	a.abort(reason)
}

// send drains the outbox in order so clients see events in the order they happened.
func (a *actor) send() {
	for fn := range a.outbox {
		func() {
			defer func() {
				if r := recover(); r != nil {
					a.log.WithField("panic", r).Error("outbound delivery panicked")
				}
			}()
			fn()
		}()
	}
}

// enqueue schedules outbound work without ever blocking the actor.
func (a *actor) enqueue(fn func()) {
	select {
	case a.outbox <- fn:
	default:
		a.log.Warn("outbox full, dropping outbound message")
	}
}

// exec runs fn on the actor and waits for its result.
func (a *actor) exec(ctx context.Context, fn func(a *actor) error) error {
	cmd := command{fn: fn, reply: make(chan error, 1)}
	select {
	case a.inbox <- cmd:
	case <-a.quit:
		return newError(CodeNotFound, "session %s is gone", a.id)
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-a.quit:
		return newError(CodeNotFound, "session %s is gone", a.id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn from a timer callback. It never blocks the timer goroutine and never drops.
func (a *actor) post(fn func(a *actor)) {
	cmd := command{fn: func(a *actor) error { fn(a); return nil }}
	select {
	case a.inbox <- cmd:
	default:
		go func() {
			select {
			case a.inbox <- cmd:
			case <-a.quit:
			}
		}()
	}
}

func (a *actor) stop() {
	a.stopOnce.Do(func() { close(a.quit) })
}
