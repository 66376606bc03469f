package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/broadcast"
	"github.com/jason-s-yu/trivia/internal/cache"
	"github.com/jason-s-yu/trivia/internal/mode"
	"github.com/jason-s-yu/trivia/internal/session"
	"github.com/sirupsen/logrus"
)

func (a *actor) requireActive() error {
	if a.s.State != session.StateActive {
		return newError(CodeInvalidState, "session is %s", a.s.State)
	}
	return nil
}

func (a *actor) startSession() (bool, error) {
	if err := a.requireActive(); err != nil {
		return false, err
	}
	if a.started {
		return false, newError(CodeInvalidState, "session already started")
	}
	if err := a.mode.OnGameStart(a.s); err != nil {
		if errors.Is(err, mode.ErrRoster) {
			return false, wrapError(CodeInvalidInput, err, "roster does not fit %s", a.mode.Rules().Name)
		}
		a.abort(fmt.Sprintf("game start failed: %v", err))
		return false, wrapError(CodeInvalidState, err, "game start failed")
	}
	a.started = true
	a.countdownTimer = uuid.Nil
	now := a.s.Now().UTC()
	a.s.StartedAt = &now
	a.logEvent("game_start", uuid.Nil, a.s.HostID, map[string]interface{}{"participants": a.s.ParticipantIDs()})
	a.log.Info("session started")
	return a.startNextTurn()
}

func (a *actor) startCountdown(seconds int) (bool, error) {
	if err := a.requireActive(); err != nil {
		return false, err
	}
	if a.started {
		return false, newError(CodeInvalidState, "session already started")
	}
	if a.countdownTimer != uuid.Nil {
		return false, newError(CodeInvalidState, "countdown already running")
	}
	if seconds <= 0 {
		return a.startSession()
	}
	a.publish(broadcast.SessionTopic(a.id), broadcast.EventCountdownTick, map[string]interface{}{"remaining": seconds})
	a.countdownTimer = a.o.timers.StartCountdownTimer(a.id, seconds,
		func(remaining int) {
			a.post(func(a *actor) {
				if a.s.State != session.StateActive || a.started {
					return
				}
				a.publish(broadcast.SessionTopic(a.id), broadcast.EventCountdownTick, map[string]interface{}{"remaining": remaining})
			})
		},
		func() {
			a.post(func(a *actor) {
				a.countdownTimer = uuid.Nil
				if a.s.State != session.StateActive || a.started {
					return
				}
				if _, err := a.startSession(); err != nil {
					a.log.WithError(err).Warn("start after countdown failed")
				}
			})
		},
	)
	return a.countdownTimer != uuid.Nil, nil
}

// startNextTurn opens question AnswersGiven+1, or ends the session when the mode is done.
func (a *actor) startNextTurn() (bool, error) {
	s := a.s
	if err := a.requireActive(); err != nil {
		return false, err
	}
	if !a.started {
		return false, newError(CodeInvalidState, "session has not started")
	}
	if t := s.CurrentTurn; t != nil && !t.IsComplete() {
		return false, newError(CodeInvalidState, "turn %d is still %s", t.QuestionNumber, t.Phase)
	}
	if a.mode.IsGameComplete(s) {
		a.endSession()
		return false, nil
	}
	k := s.Stats.AnswersGiven + 1
	q, ok := s.Question(k)
	if !ok {
		a.endSession()
		return false, nil
	}

	turn := session.NewTurn(s.ID, k, q, a.mode.GetNextActiveParticipant(s), a.mode.Rules().TimeLimitFor(s), s.Now())
	s.CurrentTurn = turn
	if err := a.mode.OnTurnStart(s, turn); err != nil {
		a.abort(fmt.Sprintf("turn %d failed to start: %v", k, err))
		return false, wrapError(CodeInvalidState, err, "start turn %d", k)
	}
	s.TurnsPlayed++

	a.emit(broadcast.SessionTopic(a.id), broadcast.EventTurnStart, turn.ID, turn.ActiveParticipant, turnStartPayload(s, turn))
	if err := turn.Advance(session.PhaseAnswering); err != nil {
		return false, wrapError(CodeInvalidState, err, "open turn %d", k)
	}
	a.armTurnTimer(turn)
	a.log.WithFields(logrus.Fields{"question": k, "active": turn.ActiveParticipant}).Debug("turn started")
	return true, nil
}

func (a *actor) armTurnTimer(turn *session.TurnState) {
	turnID := turn.ID
	seconds := int(turn.TimeLimit / time.Second)
	a.turnTimer = a.o.timers.StartTurnTimer(a.id, seconds,
		func() { a.post(func(a *actor) { a.onTurnTimeout(turnID) }) },
		func() { a.post(func(a *actor) { a.onTurnWarning(turnID) }) },
	)
}

// currentAnswering returns the current turn when it is turnID and still taking answers.
func (a *actor) currentAnswering(turnID uuid.UUID) (*session.TurnState, bool) {
	t := a.s.CurrentTurn
	if a.s.State != session.StateActive || t == nil || t.ID != turnID || t.Phase != session.PhaseAnswering {
		return nil, false
	}
	return t, true
}

func (a *actor) onTurnTimeout(turnID uuid.UUID) {
	t, ok := a.currentAnswering(turnID)
	if !ok {
		a.log.WithField("turn", turnID).Debug("stale turn timer ignored")
		return
	}
	a.turnTimer = uuid.Nil
	t.TimedOut = true
	if _, err := a.endTurn(); err != nil {
		a.log.WithError(err).Warn("end turn after timeout failed")
	}
}

func (a *actor) onTurnWarning(turnID uuid.UUID) {
	t, ok := a.currentAnswering(turnID)
	if !ok {
		return
	}
	remaining, _ := a.o.timers.RemainingSeconds(a.turnTimer)
	a.publish(broadcast.SessionTopic(a.id), broadcast.EventTimerWarning, map[string]interface{}{
		"turnId":    t.ID,
		"remaining": remaining,
	})
}

func (a *actor) submitAnswer(participantID uuid.UUID, answerIndex int) (bool, error) {
	s := a.s
	if err := a.requireActive(); err != nil {
		return false, err
	}
	if s.IsSpectator(participantID) {
		return false, newError(CodeNotAllowed, "spectators cannot answer")
	}
	if !a.mode.CanPlayerAnswer(s, participantID) {
		return false, newError(CodeNotAllowed, "player %s cannot answer now", participantID)
	}
	out, err := a.mode.OnAnswerSubmit(s, participantID, answerIndex)
	if err != nil {
		if errors.Is(err, mode.ErrInvalidAnswer) {
			return false, wrapError(CodeInvalidInput, err, "answer %d rejected", answerIndex)
		}
		return false, wrapError(CodeNotAllowed, err, "answer rejected")
	}
	turn := s.CurrentTurn

	if team := s.TeamOf(participantID); s.HasTeams() && team != nil {
		a.publish(broadcast.TeamTopic(team.ID), broadcast.EventTeamVoteUpdate, map[string]interface{}{
			"turnId":    turn.ID,
			"teamId":    team.ID,
			"playerId":  participantID,
			"tally":     out.VoteTally,
			"consensus": team.Vote.ConsensusStrength(),
		})
		if out.Locked {
			a.emit(broadcast.TeamTopic(team.ID), broadcast.EventTeamVoteLocked, turn.ID, participantID, map[string]interface{}{
				"turnId":    turn.ID,
				"teamId":    team.ID,
				"answer":    out.LockedAnswer,
				"unanimous": out.Unanimous,
			})
			a.publish(broadcast.SessionTopic(a.id), broadcast.EventAnswerSubmitted, map[string]interface{}{
				"turnId":        turn.ID,
				"participantId": team.ID,
			})
		}
	} else {
		a.emit(broadcast.SessionTopic(a.id), broadcast.EventAnswerSubmitted, turn.ID, participantID, map[string]interface{}{
			"turnId":        turn.ID,
			"participantId": out.ParticipantID,
		})
	}

	if turn.AnswersComplete {
		if _, err := a.endTurn(); err != nil {
			return true, err
		}
	}
	return true, nil
}

// endTurn scores the current turn, resolves predictions and suggestions, and arms the
// results timer that leads into the next turn.
func (a *actor) endTurn() (bool, error) {
	s := a.s
	if err := a.requireActive(); err != nil {
		return false, err
	}
	turn := s.CurrentTurn
	if turn == nil {
		return false, newError(CodeInvalidState, "no turn in progress")
	}
	if turn.Phase >= session.PhaseReaction {
		return false, newError(CodeInvalidState, "turn %d already ended", turn.QuestionNumber)
	}
	if a.turnTimer != uuid.Nil {
		a.o.timers.CancelTimer(a.turnTimer)
		a.turnTimer = uuid.Nil
	}
	turn.AdvanceAtLeast(session.PhaseReaction)

	points := a.mode.CalculateScore(s, turn)
	s.MergeScores(points)

	bonus := make(map[uuid.UUID]int)
	for id, pts := range a.o.ledger.ResolvePredictions(turn, turn.Question.CorrectIndex) {
		bonus[id] += pts
	}
	chosen := -1
	if r, ok := turn.ResponseFor(turn.ActiveParticipant); ok && turn.ActiveParticipant != uuid.Nil {
		chosen = r.AnswerIndex
	}
	for id, pts := range a.o.ledger.ResolveSuggestions(turn, chosen, turn.ActiveParticipant) {
		bonus[id] += pts
	}
	s.MergeInteractionScores(bonus)
	a.o.ledger.RevealSuggestions(turn)

	a.recordTurnStats(turn)
	a.mode.OnTurnEnd(s, turn)
	turn.EndedAt = s.Now().UTC()
	turn.AdvanceAtLeast(session.PhaseResults)

	a.emit(broadcast.SessionTopic(a.id), broadcast.EventTurnEnd, turn.ID, turn.ActiveParticipant, turnEndPayload(s, turn, points, bonus))
	a.publish(broadcast.SessionTopic(a.id), broadcast.EventScoreUpdate, scorePayload(s))

	turnID := turn.ID
	a.resultsTimer = a.o.timers.StartResultsTimer(a.id, a.o.resultsDelay, func() {
		a.post(func(a *actor) { a.onResultsDone(turnID) })
	})
	return true, nil
}

func (a *actor) onResultsDone(turnID uuid.UUID) {
	t := a.s.CurrentTurn
	if a.s.State != session.StateActive || t == nil || t.ID != turnID || t.Phase != session.PhaseResults {
		return
	}
	a.resultsTimer = uuid.Nil
	t.AdvanceAtLeast(session.PhaseComplete)
	if _, err := a.startNextTurn(); err != nil {
		a.log.WithError(err).Warn("next turn failed")
	}
}

func (a *actor) recordTurnStats(turn *session.TurnState) {
	st := &a.s.Stats
	if turn.TimedOut {
		st.TurnsTimedOut++
	}
	for _, r := range turn.Responses {
		st.Responses++
		st.TotalResponseTime += r.ResponseTime
		if r.IsCorrect {
			st.CorrectAnswers++
			st.PlayerCorrect[r.PlayerID]++
		}
		ms := r.ResponseTime.Milliseconds()
		if cur, ok := st.FastestAnswer[r.PlayerID]; !ok || ms < cur {
			st.FastestAnswer[r.PlayerID] = ms
		}
	}
}

// endSession completes the session. It reports false when the session is already over.
func (a *actor) endSession() bool {
	s := a.s
	if s.State.Terminal() || s.State == session.StateCalculating {
		return false
	}
	a.cancelTimers()
	s.State = session.StateCalculating
	if t := s.CurrentTurn; t != nil {
		t.AdvanceAtLeast(session.PhaseComplete)
	}
	a.mode.OnGameEnd(s)

	now := s.Now().UTC()
	s.EndedAt = &now
	s.State = session.StateCompleted
	a.closed.Store(true)

	payload := scorePayload(s)
	payload["turnsPlayed"] = s.TurnsPlayed
	payload["stats"] = s.Stats
	a.emit(broadcast.SessionTopic(a.id), broadcast.EventGameEnd, uuid.Nil, uuid.Nil, payload)
	a.publish(broadcast.RoomTopic(a.roomID), broadcast.EventGameEnd, payload)
	a.log.WithField("turns", s.TurnsPlayed).Info("session completed")

	a.persist()
	a.scheduleEviction()
	return true
}

// abort ends the session without completing it. It reports false when already over.
func (a *actor) abort(reason string) bool {
	s := a.s
	if s.State.Terminal() {
		return false
	}
	a.cancelTimers()
	if t := s.CurrentTurn; t != nil {
		t.AdvanceAtLeast(session.PhaseComplete)
	}
	now := s.Now().UTC()
	s.EndedAt = &now
	s.State = session.StateAborted
	s.AbortReason = reason
	a.closed.Store(true)

	payload := map[string]interface{}{
		"reason":      reason,
		"leaderboard": s.Leaderboard(),
	}
	a.emit(broadcast.SessionTopic(a.id), broadcast.EventGameAborted, uuid.Nil, uuid.Nil, payload)
	a.publish(broadcast.RoomTopic(a.roomID), broadcast.EventGameAborted, payload)
	a.log.WithField("reason", reason).Warn("session aborted")

	a.persist()
	a.scheduleEviction()
	return true
}

func (a *actor) cancelTimers() {
	a.o.timers.CancelAllForSession(a.id)
	a.turnTimer = uuid.Nil
	a.resultsTimer = uuid.Nil
	a.countdownTimer = uuid.Nil
}

// persist saves a copy of the session in the background.
func (a *actor) persist() {
	snapshot := a.s.Clone()
	store, timeout, log := a.o.store, a.o.persistTimeout, a.log
	a.o.persisting.Add(1)
	go func() {
		defer a.o.persisting.Done()
		defer func() {
			if r := recover(); r != nil {
				log.WithField("panic", r).Error("persist session panicked")
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := store.SaveCompletedSession(ctx, snapshot); err != nil {
			log.WithError(err).Error("failed to persist session")
		}
	}()
}

func (a *actor) scheduleEviction() {
	id, o := a.id, a.o
	o.timers.StartCleanupTimer(id, o.evictionGrace, func() { o.evict(id) })
}

// emit records the event in the session log and publishes it.
func (a *actor) emit(topic string, t broadcast.EventType, turnID, actorID uuid.UUID, payload map[string]interface{}) {
	a.logEvent(string(t), turnID, actorID, payload)
	a.publish(topic, t, payload)
}

func (a *actor) publish(topic string, t broadcast.EventType, payload map[string]interface{}) {
	ev := broadcast.Event{Type: t, SessionID: a.id, Payload: payload, Timestamp: a.s.Now().UTC()}
	pub, log := a.o.publisher, a.log
	a.enqueue(func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := pub.Publish(ctx, topic, ev); err != nil {
			log.WithError(err).WithField("event", t).Warn("publish failed")
		}
	})
}

// logEvent appends to the session log and hands the record to the historian.
func (a *actor) logEvent(eventType string, turnID, actorID uuid.UUID, payload map[string]interface{}) {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	ev := a.s.LogEvent(eventType, turnID, actorID, payload)
	if a.o.events == nil {
		return
	}
	record := cache.EventRecord{
		SessionID:    a.id,
		EventIndex:   len(a.s.Events) - 1,
		TurnID:       turnID,
		ActorID:      actorID,
		EventType:    eventType,
		EventPayload: payload,
		Timestamp:    ev.CreatedAt.UnixMilli(),
	}
	sink, log := a.o.events, a.log
	a.enqueue(func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := sink.Push(ctx, record); err != nil {
			log.WithError(err).WithField("event", eventType).Warn("failed to queue event for the historian")
		}
	})
}
