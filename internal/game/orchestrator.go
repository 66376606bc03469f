// Package game runs live trivia sessions. Each session is owned by one goroutine that
// applies every command, timer expiry included, in arrival order.
package game

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/broadcast"
	"github.com/jason-s-yu/trivia/internal/cache"
	"github.com/jason-s-yu/trivia/internal/database"
	"github.com/jason-s-yu/trivia/internal/interaction"
	"github.com/jason-s-yu/trivia/internal/mode"
	"github.com/jason-s-yu/trivia/internal/models"
	"github.com/jason-s-yu/trivia/internal/quiz"
	"github.com/jason-s-yu/trivia/internal/session"
	"github.com/jason-s-yu/trivia/internal/timer"
	"github.com/sirupsen/logrus"
)

const (
	DefaultQuizTimeout    = 30 * time.Second
	DefaultResultsDelay   = 5 // timer units
	DefaultEvictionGrace  = 5 * time.Minute
	defaultPersistTimeout = 10 * time.Second
	publishTimeout        = 2 * time.Second
)

// EventSink receives the session event log for the historian. *cache.Queue satisfies it.
type EventSink interface {
	Push(ctx context.Context, record cache.EventRecord) error
}

// Options wires the orchestrator's collaborators. Zero values get working defaults.
type Options struct {
	Modes     *mode.Registry
	Quiz      quiz.Generator
	Publisher broadcast.Publisher
	Store     database.SessionStore
	Events    EventSink
	Timers    *timer.Service
	Ledger    *interaction.Ledger
	Logger    *logrus.Logger
	Clock     func() time.Time
	OnEvict   func(sessionID uuid.UUID)

	QuizTimeout    time.Duration
	ResultsDelay   int // timer units; negative means none
	EvictionGrace  time.Duration
	PersistTimeout time.Duration
}

// Orchestrator creates sessions and routes operations to their actors.
type Orchestrator struct {
	modes     *mode.Registry
	generator quiz.Generator
	publisher broadcast.Publisher
	store     database.SessionStore
	events    EventSink
	timers    *timer.Service
	ledger    *interaction.Ledger
	log       *logrus.Logger
	clock     func() time.Time
	onEvict   func(sessionID uuid.UUID)

	quizTimeout    time.Duration
	resultsDelay   int
	evictionGrace  time.Duration
	persistTimeout time.Duration

	actors     *actorStore
	persisting sync.WaitGroup
	closing    atomic.Bool
}

// New builds an orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		modes:          opts.Modes,
		generator:      opts.Quiz,
		publisher:      opts.Publisher,
		store:          opts.Store,
		events:         opts.Events,
		timers:         opts.Timers,
		ledger:         opts.Ledger,
		log:            opts.Logger,
		clock:          opts.Clock,
		onEvict:        opts.OnEvict,
		quizTimeout:    opts.QuizTimeout,
		resultsDelay:   opts.ResultsDelay,
		evictionGrace:  opts.EvictionGrace,
		persistTimeout: opts.PersistTimeout,
		actors:         newActorStore(),
	}
	if o.modes == nil {
		o.modes = mode.Default()
	}
	if o.generator == nil {
		o.generator = quiz.Placeholder{}
	}
	if o.publisher == nil {
		o.publisher = broadcast.PublisherFunc(func(context.Context, string, broadcast.Event) error { return nil })
	}
	if o.store == nil {
		o.store = database.NopStore{}
	}
	if o.log == nil {
		o.log = logrus.StandardLogger()
	}
	if o.timers == nil {
		o.timers = timer.NewService(timer.WithLogger(o.log))
	}
	if o.ledger == nil {
		o.ledger = interaction.NewLedger()
	}
	if o.clock == nil {
		o.clock = time.Now
	}
	if o.quizTimeout <= 0 {
		o.quizTimeout = DefaultQuizTimeout
	}
	if o.resultsDelay == 0 {
		o.resultsDelay = DefaultResultsDelay
	} else if o.resultsDelay < 0 {
		o.resultsDelay = 0
	}
	if o.evictionGrace <= 0 {
		o.evictionGrace = DefaultEvictionGrace
	}
	if o.persistTimeout <= 0 {
		o.persistTimeout = defaultPersistTimeout
	}
	return o
}

// Modes lists the registered game modes.
func (o *Orchestrator) Modes() []mode.Mode {
	return o.modes.List()
}

// Timers exposes the timer service so collaborators share one clock.
func (o *Orchestrator) Timers() *timer.Service {
	return o.timers
}

func (o *Orchestrator) lookup(id uuid.UUID) (*actor, error) {
	if o.closing.Load() {
		return nil, newError(CodeShuttingDown, "server is shutting down")
	}
	a, ok := o.actors.get(id)
	if !ok {
		return nil, newError(CodeNotFound, "session %s not found", id)
	}
	return a, nil
}

func (o *Orchestrator) call(ctx context.Context, id uuid.UUID, fn func(a *actor) error) error {
	a, err := o.lookup(id)
	if err != nil {
		return err
	}
	return a.exec(ctx, fn)
}

// CreateSession builds a session for the room, generates its quiz and leaves it Active.
// A failed or malformed generation falls back to the placeholder quiz; a cancelled ctx
// aborts the session.
func (o *Orchestrator) CreateSession(ctx context.Context, room models.RoomSnapshot) (*session.GameSession, error) {
	if o.closing.Load() {
		return nil, newError(CodeShuttingDown, "server is shutting down")
	}
	m, ok := o.modes.Get(session.ModeID(room.Mode))
	if !ok {
		return nil, newError(CodeUnknownMode, "unknown game mode %q", room.Mode)
	}
	if !m.Available() {
		return nil, newError(CodeModeUnavailable, "game mode %q is not available yet", room.Mode)
	}
	if err := validateRoster(m.Rules(), room); err != nil {
		return nil, err
	}
	s := session.New(uuid.Must(uuid.NewV7()), room, o.clock)
	a := newActor(o, s, m)
	if existing := o.actors.addIfRoomFree(a); existing != nil {
		return nil, newError(CodeInvalidState, "room %s already has live session %s", room.RoomID, existing.id)
	}
	go a.run()
	a.log.WithField("room", room.RoomID).Info("session created, generating quiz")

	q := o.generateQuiz(ctx, a.log, s.Settings)
	if err := ctx.Err(); err != nil {
		abortCtx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		_ = a.exec(abortCtx, func(a *actor) error {
			a.abort("session creation cancelled")
			return nil
		})
		return nil, wrapError(CodeInvalidState, err, "session creation cancelled")
	}

	var out *session.GameSession
	err := a.exec(context.WithoutCancel(ctx), func(a *actor) error {
		if a.s.State != session.StateStarting {
			return newError(CodeInvalidState, "session is %s", a.s.State)
		}
		a.s.Quiz = q
		a.s.State = session.StateActive
		a.s.SeedScores()
		payload := map[string]interface{}{
			"sessionId":      a.id,
			"roomId":         a.roomID,
			"mode":           a.mode.ID(),
			"rules":          a.mode.Rules(),
			"totalQuestions": a.s.TotalQuestions(),
			"quizSource":     q.Source,
			"topic":          q.Topic,
		}
		a.emit(broadcast.RoomTopic(a.roomID), broadcast.EventSessionCreated, uuid.Nil, a.s.HostID, payload)
		a.publish(broadcast.SessionTopic(a.id), broadcast.EventSessionCreated, payload)
		out = a.s.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (o *Orchestrator) generateQuiz(ctx context.Context, log *logrus.Entry, settings models.QuizSettings) *models.Quiz {
	genCtx, cancel := context.WithTimeout(ctx, o.quizTimeout)
	defer cancel()
	q, err := o.generator.GenerateQuiz(genCtx, settings)
	if err == nil {
		q, err = quiz.Validate(q, settings)
	}
	if err != nil {
		log.WithError(err).Warn("quiz generation failed, using the placeholder quiz")
		return quiz.PlaceholderQuiz(settings)
	}
	return q
}

// validateRoster checks the room against the mode's participant bounds before any quiz is
// requested.
func validateRoster(rules mode.Rules, room models.RoomSnapshot) error {
	if len(room.Players) == 0 {
		return newError(CodeInvalidInput, "room has no players")
	}
	seen := make(map[uuid.UUID]bool, len(room.Players))
	for _, p := range room.Players {
		if p.ID == uuid.Nil || seen[p.ID] {
			return newError(CodeInvalidInput, "player ids must be unique and set")
		}
		seen[p.ID] = true
	}
	n := len(room.Players)
	unit := "players"
	if rules.RequiresTeams {
		if len(room.Teams) == 0 {
			return newError(CodeInvalidInput, "%s requires teams", rules.Name)
		}
		n, unit = len(room.Teams), "teams"
		members := make(map[uuid.UUID]int, len(room.Teams))
		for _, team := range room.Teams {
			if _, dup := members[team.ID]; team.ID == uuid.Nil || dup {
				return newError(CodeInvalidInput, "team ids must be unique and set")
			}
			members[team.ID] = 0
		}
		for _, p := range room.Players {
			if _, ok := members[p.TeamID]; !ok {
				return newError(CodeInvalidInput, "player %q is not on a known team", p.Name)
			}
			members[p.TeamID]++
		}
		for _, team := range room.Teams {
			if members[team.ID] == 0 {
				return newError(CodeInvalidInput, "team %q has no members", team.Name)
			}
		}
	}
	if n < rules.MinParticipants || (rules.MaxParticipants > 0 && n > rules.MaxParticipants) {
		return newError(CodeInvalidInput, "%s needs %d-%d %s, got %d", rules.Name, rules.MinParticipants, rules.MaxParticipants, unit, n)
	}
	return nil
}

// StartSession runs the mode's game start and opens the first turn. It reports false when
// the session is not Active or already started.
func (o *Orchestrator) StartSession(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	err := o.call(ctx, id, func(a *actor) error {
		var err error
		ok, err = a.startSession()
		return err
	})
	return ok, err
}

// StartSessionCountdown broadcasts a countdown and starts the session when it reaches zero.
func (o *Orchestrator) StartSessionCountdown(ctx context.Context, id uuid.UUID, seconds int) (bool, error) {
	var ok bool
	err := o.call(ctx, id, func(a *actor) error {
		var err error
		ok, err = a.startCountdown(seconds)
		return err
	})
	return ok, err
}

// StartNextTurn opens the next turn. It reports false, ending the session, once the mode
// says the game is complete.
func (o *Orchestrator) StartNextTurn(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	err := o.call(ctx, id, func(a *actor) error {
		var err error
		ok, err = a.startNextTurn()
		return err
	})
	return ok, err
}

// SubmitAnswer records an answer for the participant. The turn ends as soon as every
// required answer is in.
func (o *Orchestrator) SubmitAnswer(ctx context.Context, id, participantID uuid.UUID, answerIndex int) (bool, error) {
	var ok bool
	err := o.call(ctx, id, func(a *actor) error {
		var err error
		ok, err = a.submitAnswer(participantID, answerIndex)
		return err
	})
	return ok, err
}

// EndCurrentTurn scores the open turn and shows its results.
func (o *Orchestrator) EndCurrentTurn(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	err := o.call(ctx, id, func(a *actor) error {
		var err error
		ok, err = a.endTurn()
		return err
	})
	return ok, err
}

// EndSession completes the session with the scores as they stand.
func (o *Orchestrator) EndSession(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	err := o.call(ctx, id, func(a *actor) error {
		if a.s.State != session.StateActive {
			return newError(CodeInvalidState, "session is %s", a.s.State)
		}
		ok = a.endSession()
		return nil
	})
	return ok, err
}

// AbortSession ends the session without completing it.
func (o *Orchestrator) AbortSession(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	var ok bool
	err := o.call(ctx, id, func(a *actor) error {
		if a.s.State.Terminal() {
			return newError(CodeInvalidState, "session is already %s", a.s.State)
		}
		ok = a.abort(reason)
		return nil
	})
	return ok, err
}

// Session returns a copy of the session.
func (o *Orchestrator) Session(ctx context.Context, id uuid.UUID) (*session.GameSession, error) {
	var out *session.GameSession
	err := o.call(ctx, id, func(a *actor) error {
		out = a.s.Clone()
		return nil
	})
	return out, err
}

// Snapshot returns the session as the viewer may see it.
func (o *Orchestrator) Snapshot(ctx context.Context, id, viewerID uuid.UUID) (View, error) {
	var out View
	err := o.call(ctx, id, func(a *actor) error {
		out = buildView(a.s, a.mode, viewerID)
		return nil
	})
	return out, err
}

// Leaderboard ranks the session's participants.
func (o *Orchestrator) Leaderboard(ctx context.Context, id uuid.UUID) ([]session.LeaderboardEntry, error) {
	var out []session.LeaderboardEntry
	err := o.call(ctx, id, func(a *actor) error {
		out = a.s.Leaderboard()
		return nil
	})
	return out, err
}

// AddSpectator lets someone watch the session. A player who lost their seat to a connection
// timeout rejoins this way and can no longer answer.
func (o *Orchestrator) AddSpectator(ctx context.Context, id uuid.UUID, sp models.Spectator) (bool, error) {
	var ok bool
	err := o.call(ctx, id, func(a *actor) error {
		if a.s.State.Terminal() {
			return newError(CodeInvalidState, "session is %s", a.s.State)
		}
		if sp.ID == uuid.Nil {
			return newError(CodeInvalidInput, "spectator id is required")
		}
		if a.s.IsSpectator(sp.ID) {
			return nil
		}
		sp.JoinedAt = a.s.Now().UTC()
		a.s.Spectators = append(a.s.Spectators, &sp)
		a.emit(broadcast.SessionTopic(a.id), broadcast.EventSpectatorJoined, uuid.Nil, sp.ID, map[string]interface{}{
			"spectatorId":  sp.ID,
			"name":         sp.Name,
			"formerPlayer": a.s.Player(sp.ID) != nil,
		})
		ok = true
		return nil
	})
	return ok, err
}

// IsMember reports whether the ID is a player or spectator of the session.
func (o *Orchestrator) IsMember(ctx context.Context, id, memberID uuid.UUID) (bool, error) {
	var ok bool
	err := o.call(ctx, id, func(a *actor) error {
		ok = a.s.IsMember(memberID)
		return nil
	})
	return ok, err
}

// NotifyConnection broadcasts a participant's connection state change.
func (o *Orchestrator) NotifyConnection(ctx context.Context, id, playerID uuid.UUID, state string) error {
	return o.call(ctx, id, func(a *actor) error {
		a.emit(broadcast.SessionTopic(a.id), broadcast.EventPlayerConnection, uuid.Nil, playerID, map[string]interface{}{
			"playerId": playerID,
			"state":    state,
		})
		return nil
	})
}

// Shutdown aborts every live session, waits for their persistence and stops the actors.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.closing.Store(true)
	for _, a := range o.actors.all() {
		err := a.exec(ctx, func(a *actor) error {
			a.abort("server shutting down")
			return nil
		})
		if err != nil && ctx.Err() != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}

	done := make(chan struct{})
	go func() {
		o.persisting.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("shutdown: waiting for persistence: %w", ctx.Err())
	}

	for _, a := range o.actors.all() {
		o.evict(a.id)
	}
	return nil
}

// Live is the number of sessions held in memory.
func (o *Orchestrator) Live() int {
	return len(o.actors.all())
}

func (o *Orchestrator) evict(id uuid.UUID) {
	a, ok := o.actors.remove(id)
	if !ok {
		return
	}
	o.timers.CancelAllForSession(id)
	a.stop()
	if o.onEvict != nil {
		o.onEvict(id)
	}
	a.log.Debug("session evicted")
}
