package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/broadcast"
	"github.com/jason-s-yu/trivia/internal/cache"
	"github.com/jason-s-yu/trivia/internal/mode"
	"github.com/jason-s-yu/trivia/internal/models"
	"github.com/jason-s-yu/trivia/internal/quiz"
	"github.com/jason-s-yu/trivia/internal/session"
	"github.com/jason-s-yu/trivia/internal/timer"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	topic string
	ev    broadcast.Event
}

// mockBroadcaster collects events instead of sending them to clients.
type mockBroadcaster struct {
	mu     sync.Mutex
	events []published
}

func (mb *mockBroadcaster) Publish(_ context.Context, topic string, ev broadcast.Event) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.events = append(mb.events, published{topic: topic, ev: ev})
	return nil
}

func (mb *mockBroadcaster) ofType(t broadcast.EventType) []published {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	var out []published
	for _, p := range mb.events {
		if p.ev.Type == t {
			out = append(out, p)
		}
	}
	return out
}

// typesOn lists event types sent to topic, leaving out timer warnings.
func (mb *mockBroadcaster) typesOn(topic string) []broadcast.EventType {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	var out []broadcast.EventType
	for _, p := range mb.events {
		if p.topic == topic && p.ev.Type != broadcast.EventTimerWarning {
			out = append(out, p.ev.Type)
		}
	}
	return out
}

func (mb *mockBroadcaster) waitFor(t *testing.T, et broadcast.EventType, n int) []published {
	t.Helper()
	require.Eventually(t, func() bool { return len(mb.ofType(et)) >= n }, 3*time.Second, 5*time.Millisecond, "waiting for %d %s", n, et)
	return mb.ofType(et)
}

type fakeStore struct {
	mu    sync.Mutex
	saved []*session.GameSession
}

func (f *fakeStore) SaveCompletedSession(_ context.Context, s *session.GameSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, s)
	return nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

func (f *fakeStore) last() *session.GameSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.saved) == 0 {
		return nil
	}
	return f.saved[len(f.saved)-1]
}

type fakeSink struct {
	mu      sync.Mutex
	records []cache.EventRecord
}

func (f *fakeSink) Push(_ context.Context, r cache.EventRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, r)
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 5, 1, 18, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func fixedQuiz(n int) quiz.Generator {
	return quiz.GeneratorFunc(func(context.Context, models.QuizSettings) (*models.Quiz, error) {
		q := &models.Quiz{Topic: "test", Source: "fixed"}
		for i := 0; i < n; i++ {
			q.Questions = append(q.Questions, models.Question{
				Text:         fmt.Sprintf("q%d", i+1),
				Options:      []string{"a", "b", "c", "d"},
				CorrectIndex: 1,
				Explanation:  "b it is",
			})
		}
		return q, nil
	})
}

type harness struct {
	o     *Orchestrator
	mb    *mockBroadcaster
	store *fakeStore
	sink  *fakeSink
	clock *fakeClock
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func setup(t *testing.T, gen quiz.Generator, tweak ...func(*Options)) *harness {
	t.Helper()
	h := &harness{mb: &mockBroadcaster{}, store: &fakeStore{}, sink: &fakeSink{}, clock: newClock()}
	log := quietLogger()
	opts := Options{
		Quiz:          gen,
		Publisher:     h.mb,
		Store:         h.store,
		Events:        h.sink,
		Timers:        timer.NewService(timer.WithUnit(20*time.Millisecond), timer.WithLogger(log)),
		Logger:        log,
		Clock:         h.clock.Now,
		ResultsDelay:  1,
		EvictionGrace: time.Hour,
	}
	for _, fn := range tweak {
		fn(&opts)
	}
	h.o = New(opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.o.Shutdown(ctx)
	})
	return h
}

func hotSeatRoom(players int) models.RoomSnapshot {
	room := models.RoomSnapshot{RoomID: uuid.New(), Mode: string(mode.HotSeatID)}
	for i := 0; i < players; i++ {
		room.Players = append(room.Players, models.Player{ID: uuid.New(), Name: fmt.Sprintf("p%d", i+1)})
	}
	room.HostID = room.Players[0].ID
	room.Settings.QuestionCount = 2
	return room
}

func teamRoom(sizes ...int) models.RoomSnapshot {
	room := models.RoomSnapshot{RoomID: uuid.New(), Mode: string(mode.TeamChallengeID)}
	for i, size := range sizes {
		id := uuid.New()
		room.Teams = append(room.Teams, models.TeamSnapshot{ID: id, Name: fmt.Sprintf("team%d", i+1)})
		for j := 0; j < size; j++ {
			room.Players = append(room.Players, models.Player{ID: uuid.New(), Name: fmt.Sprintf("t%dp%d", i+1, j+1), TeamID: id})
		}
	}
	return room
}

// waitTurn blocks until question k is taking answers.
func waitTurn(t *testing.T, o *Orchestrator, id uuid.UUID, k int) *session.TurnState {
	t.Helper()
	var turn *session.TurnState
	require.Eventually(t, func() bool {
		s, err := o.Session(context.Background(), id)
		if err != nil || s.CurrentTurn == nil {
			return false
		}
		turn = s.CurrentTurn
		return turn.QuestionNumber == k && turn.Phase == session.PhaseAnswering
	}, 3*time.Second, 5*time.Millisecond, "waiting for question %d", k)
	return turn
}

func waitState(t *testing.T, o *Orchestrator, id uuid.UUID, want session.State) *session.GameSession {
	t.Helper()
	var s *session.GameSession
	require.Eventually(t, func() bool {
		var err error
		s, err = o.Session(context.Background(), id)
		return err == nil && s.State == want
	}, 3*time.Second, 5*time.Millisecond, "waiting for %s", want)
	return s
}

func TestHotSeatHappyPath(t *testing.T) {
	h := setup(t, fixedQuiz(2))
	ctx := context.Background()
	room := hotSeatRoom(2)
	p1, p2 := room.Players[0].ID, room.Players[1].ID

	s, err := h.o.CreateSession(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, session.StateActive, s.State)
	assert.Equal(t, "fixed", s.Quiz.Source)
	assert.Equal(t, map[uuid.UUID]int{p1: 0, p2: 0}, s.Scores)
	h.mb.waitFor(t, broadcast.EventSessionCreated, 2)

	ok, err := h.o.StartSession(ctx, s.ID)
	require.NoError(t, err)
	require.True(t, ok)
	turn := waitTurn(t, h.o, s.ID, 1)
	assert.Equal(t, p1, turn.ActiveParticipant)

	start := h.mb.waitFor(t, broadcast.EventTurnStart, 1)[0]
	q := start.ev.Payload["question"].(PublicQuestion)
	assert.Nil(t, q.CorrectIndex, "turn start never carries the answer")
	assert.Equal(t, []string{"a", "b", "c", "d"}, q.Options)

	ok, err = h.o.SubmitAnswer(ctx, s.ID, p2, 1)
	assert.False(t, ok)
	assert.True(t, IsCode(err, CodeNotAllowed))

	ok, err = h.o.SubmitAnswer(ctx, s.ID, p1, 1)
	require.NoError(t, err)
	require.True(t, ok)
	// The clock did not move: 100 base + the full 50 speed bonus.
	end := h.mb.waitFor(t, broadcast.EventTurnEnd, 1)[0]
	assert.Equal(t, 1, end.ev.Payload["correctIndex"])
	points := end.ev.Payload["points"].(map[uuid.UUID]int)
	assert.Equal(t, 150, points[p1])

	turn = waitTurn(t, h.o, s.ID, 2)
	assert.Equal(t, p2, turn.ActiveParticipant)
	ok, err = h.o.SubmitAnswer(ctx, s.ID, p2, 0)
	require.NoError(t, err)
	require.True(t, ok)

	final := waitState(t, h.o, s.ID, session.StateCompleted)
	assert.Equal(t, 150, final.Scores[p1])
	assert.Equal(t, 0, final.Scores[p2])
	assert.Equal(t, 2, final.Stats.AnswersGiven)
	assert.Equal(t, 1, final.Stats.CorrectAnswers)
	assert.Equal(t, 2, final.TurnsPlayed)
	assert.NotNil(t, final.EndedAt)

	h.mb.waitFor(t, broadcast.EventGameEnd, 2)
	require.Eventually(t, func() bool { return h.store.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, session.StateCompleted, h.store.last().State)

	assert.Equal(t, []broadcast.EventType{
		broadcast.EventSessionCreated,
		broadcast.EventTurnStart,
		broadcast.EventAnswerSubmitted,
		broadcast.EventTurnEnd,
		broadcast.EventScoreUpdate,
		broadcast.EventTurnStart,
		broadcast.EventAnswerSubmitted,
		broadcast.EventTurnEnd,
		broadcast.EventScoreUpdate,
		broadcast.EventGameEnd,
	}, h.mb.typesOn(broadcast.SessionTopic(s.ID)))

	ok, err = h.o.StartNextTurn(ctx, s.ID)
	assert.False(t, ok)
	assert.True(t, IsCode(err, CodeInvalidState))
}

func TestSpeedBonusFollowsTheClock(t *testing.T) {
	h := setup(t, fixedQuiz(1))
	ctx := context.Background()
	room := hotSeatRoom(2)
	s, err := h.o.CreateSession(ctx, room)
	require.NoError(t, err)
	_, err = h.o.StartSession(ctx, s.ID)
	require.NoError(t, err)
	waitTurn(t, h.o, s.ID, 1)

	h.clock.Advance(15 * time.Second)
	_, err = h.o.SubmitAnswer(ctx, s.ID, room.Players[0].ID, 1)
	require.NoError(t, err)
	final := waitState(t, h.o, s.ID, session.StateCompleted)
	assert.Equal(t, 125, final.Scores[room.Players[0].ID])
}

func TestTurnTimesOut(t *testing.T) {
	h := setup(t, fixedQuiz(1))
	ctx := context.Background()
	room := hotSeatRoom(2)
	s, err := h.o.CreateSession(ctx, room)
	require.NoError(t, err)
	_, err = h.o.StartSession(ctx, s.ID)
	require.NoError(t, err)

	warning := h.mb.waitFor(t, broadcast.EventTimerWarning, 1)[0]
	assert.Equal(t, broadcast.SessionTopic(s.ID), warning.topic)

	end := h.mb.waitFor(t, broadcast.EventTurnEnd, 1)[0]
	assert.Equal(t, true, end.ev.Payload["timedOut"])
	assert.Equal(t, 0, end.ev.Payload["points"].(map[uuid.UUID]int)[room.Players[0].ID])

	final := waitState(t, h.o, s.ID, session.StateCompleted)
	assert.Equal(t, 1, final.Stats.AnswersGiven)
	assert.Equal(t, 1, final.Stats.TurnsTimedOut)
	assert.Equal(t, []session.Phase{
		session.PhaseQuestion, session.PhaseAnswering, session.PhaseReaction, session.PhaseResults, session.PhaseComplete,
	}, final.CurrentTurn.PhaseHistory)

	_, err = h.o.SubmitAnswer(ctx, s.ID, room.Players[0].ID, 1)
	assert.True(t, IsCode(err, CodeInvalidState), "late answers are refused")
}

func TestGeneratorFailureFallsBackToPlaceholder(t *testing.T) {
	failing := quiz.GeneratorFunc(func(context.Context, models.QuizSettings) (*models.Quiz, error) {
		return nil, errors.New("provider down")
	})
	malformed := quiz.GeneratorFunc(func(context.Context, models.QuizSettings) (*models.Quiz, error) {
		return &models.Quiz{Questions: []models.Question{{Text: "only one option", Options: []string{"x"}}}}, nil
	})
	slow := quiz.GeneratorFunc(func(ctx context.Context, _ models.QuizSettings) (*models.Quiz, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	for name, gen := range map[string]quiz.Generator{"error": failing, "malformed": malformed, "timeout": slow} {
		t.Run(name, func(t *testing.T) {
			h := setup(t, gen, func(o *Options) { o.QuizTimeout = 20 * time.Millisecond })
			s, err := h.o.CreateSession(context.Background(), hotSeatRoom(2))
			require.NoError(t, err)
			assert.Equal(t, session.StateActive, s.State)
			assert.Equal(t, quiz.PlaceholderSource, s.Quiz.Source)
			assert.Equal(t, 2, s.TotalQuestions())
		})
	}
}

func TestCancelledCreationAbortsTheSession(t *testing.T) {
	blocking := quiz.GeneratorFunc(func(ctx context.Context, _ models.QuizSettings) (*models.Quiz, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	h := setup(t, blocking)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	room := hotSeatRoom(2)
	_, err := h.o.CreateSession(ctx, room)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	aborted := h.mb.waitFor(t, broadcast.EventGameAborted, 2)
	assert.Equal(t, broadcast.RoomTopic(room.RoomID), aborted[1].topic)
	require.Eventually(t, func() bool { return h.store.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, session.StateAborted, h.store.last().State)

	_, err = h.o.CreateSession(context.Background(), room)
	assert.NoError(t, err, "an aborted session does not block the room")
}

func TestCreateRejections(t *testing.T) {
	h := setup(t, fixedQuiz(2))
	ctx := context.Background()

	room := hotSeatRoom(2)
	room.Mode = "chess"
	_, err := h.o.CreateSession(ctx, room)
	assert.True(t, IsCode(err, CodeUnknownMode))

	room.Mode = string(mode.SpeedRoundID)
	_, err = h.o.CreateSession(ctx, room)
	assert.True(t, IsCode(err, CodeModeUnavailable))

	_, err = h.o.CreateSession(ctx, hotSeatRoom(1))
	assert.True(t, IsCode(err, CodeInvalidInput))

	solo := hotSeatRoom(3)
	solo.Mode = string(mode.TeamChallengeID)
	_, err = h.o.CreateSession(ctx, solo)
	assert.True(t, IsCode(err, CodeInvalidInput), "team mode without teams")

	dup := hotSeatRoom(2)
	dup.Players[1].ID = dup.Players[0].ID
	_, err = h.o.CreateSession(ctx, dup)
	assert.True(t, IsCode(err, CodeInvalidInput))

	live := hotSeatRoom(2)
	_, err = h.o.CreateSession(ctx, live)
	require.NoError(t, err)
	_, err = h.o.CreateSession(ctx, live)
	assert.True(t, IsCode(err, CodeInvalidState), "one live session per room")

	assert.Equal(t, 1, h.o.Live())
}

func TestLifecycleRejectionsDoNotMutate(t *testing.T) {
	h := setup(t, fixedQuiz(2), func(o *Options) { o.ResultsDelay = 200 })
	ctx := context.Background()
	room := hotSeatRoom(2)
	s, err := h.o.CreateSession(ctx, room)
	require.NoError(t, err)

	_, err = h.o.StartNextTurn(ctx, s.ID)
	assert.True(t, IsCode(err, CodeInvalidState), "no turns before start")
	_, err = h.o.EndCurrentTurn(ctx, s.ID)
	assert.True(t, IsCode(err, CodeInvalidState))

	ok, err := h.o.StartSession(ctx, s.ID)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = h.o.StartSession(ctx, s.ID)
	assert.False(t, ok)
	assert.True(t, IsCode(err, CodeInvalidState))

	ok, err = h.o.StartNextTurn(ctx, s.ID)
	assert.False(t, ok)
	assert.True(t, IsCode(err, CodeInvalidState), "a turn is already open")

	_, err = h.o.SubmitAnswer(ctx, s.ID, room.Players[0].ID, 9)
	assert.True(t, IsCode(err, CodeInvalidInput))

	before, err := h.o.Session(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, before.CurrentTurn.Responses)
	assert.Equal(t, session.PhaseAnswering, before.CurrentTurn.Phase)

	ok, err = h.o.EndCurrentTurn(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = h.o.EndCurrentTurn(ctx, s.ID)
	assert.False(t, ok)
	assert.True(t, IsCode(err, CodeInvalidState))

	_, err = h.o.Session(ctx, uuid.New())
	assert.True(t, IsCode(err, CodeNotFound))
}

func TestTeamChallengeFlow(t *testing.T) {
	h := setup(t, fixedQuiz(1))
	ctx := context.Background()
	room := teamRoom(2, 2)
	red, blue := room.Teams[0].ID, room.Teams[1].ID
	r1, r2, b1, b2 := room.Players[0].ID, room.Players[1].ID, room.Players[2].ID, room.Players[3].ID

	s, err := h.o.CreateSession(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]int{red: 0, blue: 0}, s.Scores)
	_, err = h.o.StartSession(ctx, s.ID)
	require.NoError(t, err)
	turn := waitTurn(t, h.o, s.ID, 1)
	assert.Equal(t, uuid.Nil, turn.ActiveParticipant)

	for _, v := range []struct {
		player uuid.UUID
		answer int
	}{{r1, 1}, {r2, 1}, {b2, 2}, {b1, 1}} {
		ok, err := h.o.SubmitAnswer(ctx, s.ID, v.player, v.answer)
		require.NoError(t, err)
		require.True(t, ok)
	}

	locked := h.mb.waitFor(t, broadcast.EventTeamVoteLocked, 2)
	assert.Equal(t, broadcast.TeamTopic(red), locked[0].topic)
	assert.Equal(t, true, locked[0].ev.Payload["unanimous"])
	assert.Equal(t, 1, locked[1].ev.Payload["answer"], "the captain breaks the tie")

	final := waitState(t, h.o, s.ID, session.StateCompleted)
	// Red locked first, unanimous and correct: 100 + 50 + 25. Blue: 100.
	assert.Equal(t, 175, final.Scores[red])
	assert.Equal(t, 100, final.Scores[blue])
	assert.Equal(t, 175, final.Teams[red].Score)

	updates := h.mb.ofType(broadcast.EventTeamVoteUpdate)
	require.Len(t, updates, 4)
	for _, u := range updates {
		assert.NotEqual(t, broadcast.SessionTopic(s.ID), u.topic, "ballots stay on team topics")
	}
}

func TestTeamTimeoutFinalizesVotes(t *testing.T) {
	h := setup(t, fixedQuiz(1))
	ctx := context.Background()
	room := teamRoom(2, 1)
	s, err := h.o.CreateSession(ctx, room)
	require.NoError(t, err)
	_, err = h.o.StartSession(ctx, s.ID)
	require.NoError(t, err)
	waitTurn(t, h.o, s.ID, 1)

	_, err = h.o.SubmitAnswer(ctx, s.ID, room.Players[0].ID, 1)
	require.NoError(t, err)

	final := waitState(t, h.o, s.ID, session.StateCompleted)
	assert.Equal(t, 150, final.Scores[room.Teams[0].ID], "100 + first correct, one vote of two is not unanimous")
	assert.Equal(t, 0, final.Scores[room.Teams[1].ID])
	assert.Equal(t, 1, final.Stats.TurnsTimedOut)
}

func TestInteractionsDuringHotSeatTurn(t *testing.T) {
	h := setup(t, fixedQuiz(1))
	ctx := context.Background()
	room := hotSeatRoom(3)
	watcher := models.Spectator{ID: uuid.New(), Name: "watcher"}
	room.Spectators = []models.Spectator{watcher}
	p1, p2, p3 := room.Players[0].ID, room.Players[1].ID, room.Players[2].ID

	s, err := h.o.CreateSession(ctx, room)
	require.NoError(t, err)
	_, err = h.o.StartSession(ctx, s.ID)
	require.NoError(t, err)
	waitTurn(t, h.o, s.ID, 1)

	for i := 0; i < 3; i++ {
		ok, err := h.o.React(ctx, s.ID, p2, p1, session.EmojiClap)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := h.o.React(ctx, s.ID, p2, p1, session.EmojiFire)
	require.NoError(t, err)
	assert.False(t, ok, "the fourth reaction is over the cap")
	ok, err = h.o.React(ctx, s.ID, watcher.ID, p1, session.EmojiHeart)
	require.NoError(t, err)
	assert.True(t, ok, "spectators react too")
	_, err = h.o.React(ctx, s.ID, p2, p2, session.EmojiClap)
	assert.True(t, IsCode(err, CodeNotAllowed))

	ok, err = h.o.Suggest(ctx, s.ID, p3, 1, "pretty sure")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = h.o.Suggest(ctx, s.ID, p3, 2, "")
	require.NoError(t, err)
	assert.False(t, ok, "one suggestion per turn")
	_, err = h.o.Suggest(ctx, s.ID, p1, 1, "")
	assert.True(t, IsCode(err, CodeNotAllowed))
	_, err = h.o.Suggest(ctx, s.ID, watcher.ID, 1, "")
	assert.True(t, IsCode(err, CodeNotAllowed))
	hint := h.mb.waitFor(t, broadcast.EventSuggestionReceived, 1)[0]
	assert.Equal(t, broadcast.ParticipantTopic(p1), hint.topic)
	assert.NotContains(t, hint.ev.Payload, "answer")

	ok, err = h.o.Predict(ctx, s.ID, p2, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = h.o.Predict(ctx, s.ID, p3, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.o.Chat(ctx, s.ID, p2, "go go go", false)
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = h.o.Chat(ctx, s.ID, p2, "secret", true)
	assert.True(t, IsCode(err, CodeNotAllowed), "hot seat has no team chat")
	_, err = h.o.UsePowerUp(ctx, s.ID, p2, "double")
	assert.True(t, IsCode(err, CodeNotAllowed))
	_, err = h.o.React(ctx, s.ID, uuid.New(), p1, session.EmojiClap)
	assert.True(t, IsCode(err, CodeNotAllowed), "strangers cannot interact")

	view, err := h.o.Snapshot(ctx, s.ID, p1)
	require.NoError(t, err)
	require.NotNil(t, view.Turn)
	assert.Nil(t, view.Turn.Question.CorrectIndex)
	assert.Equal(t, 1, view.Turn.SuggestionsForMe)
	assert.Empty(t, view.Turn.Suggestions)

	_, err = h.o.SubmitAnswer(ctx, s.ID, watcher.ID, 1)
	assert.True(t, IsCode(err, CodeNotAllowed))
	_, err = h.o.SubmitAnswer(ctx, s.ID, p1, 1)
	require.NoError(t, err)

	final := waitState(t, h.o, s.ID, session.StateCompleted)
	// 100 base + 50 speed + 25 crowd favorite (three claps plus a heart).
	assert.Equal(t, 175, final.Scores[p1])
	// p2: correct and earliest prediction. p3: matching suggestion, shared with p1.
	assert.Equal(t, 15, final.InteractionScores[p2])
	assert.Equal(t, 10, final.InteractionScores[p3])
	assert.Equal(t, 10, final.InteractionScores[p1])
	assert.Equal(t, 4, final.Stats.Reactions)
	assert.Equal(t, 1, final.Stats.Suggestions)
	assert.Equal(t, 2, final.Stats.Predictions)
	assert.Equal(t, 1, final.Stats.ChatMessages)
	assert.Len(t, final.Interactions, 8)
}

func TestSnapshotRevealsAnswerAfterResults(t *testing.T) {
	h := setup(t, fixedQuiz(2), func(o *Options) { o.ResultsDelay = 200 })
	ctx := context.Background()
	room := hotSeatRoom(2)
	s, err := h.o.CreateSession(ctx, room)
	require.NoError(t, err)
	_, err = h.o.StartSession(ctx, s.ID)
	require.NoError(t, err)
	waitTurn(t, h.o, s.ID, 1)
	_, err = h.o.SubmitAnswer(ctx, s.ID, room.Players[0].ID, 1)
	require.NoError(t, err)

	view, err := h.o.Snapshot(ctx, s.ID, room.Players[1].ID)
	require.NoError(t, err)
	require.NotNil(t, view.Turn)
	assert.Equal(t, session.PhaseResults, view.Turn.Phase)
	require.NotNil(t, view.Turn.Question.CorrectIndex)
	assert.Equal(t, 1, *view.Turn.Question.CorrectIndex)
	assert.Len(t, view.Turn.Responses, 1)
	assert.Equal(t, 150, view.Leaderboard[0].Score)
}

func TestAbortSession(t *testing.T) {
	h := setup(t, fixedQuiz(3))
	ctx := context.Background()
	room := hotSeatRoom(2)
	s, err := h.o.CreateSession(ctx, room)
	require.NoError(t, err)
	_, err = h.o.StartSession(ctx, s.ID)
	require.NoError(t, err)

	ok, err := h.o.AbortSession(ctx, s.ID, "host left")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = h.o.AbortSession(ctx, s.ID, "again")
	assert.False(t, ok)
	assert.True(t, IsCode(err, CodeInvalidState))

	aborted := h.mb.waitFor(t, broadcast.EventGameAborted, 1)[0]
	assert.Equal(t, "host left", aborted.ev.Payload["reason"])
	got, err := h.o.Session(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StateAborted, got.State)
	assert.Equal(t, "host left", got.AbortReason)
	assert.Equal(t, 1, h.o.Timers().Active(s.ID), "only the eviction timer is left")

	_, err = h.o.SubmitAnswer(ctx, s.ID, room.Players[0].ID, 1)
	assert.True(t, IsCode(err, CodeInvalidState))
	_, err = h.o.EndSession(ctx, s.ID)
	assert.True(t, IsCode(err, CodeInvalidState))
	require.Eventually(t, func() bool { return h.store.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestEndSessionEarly(t *testing.T) {
	h := setup(t, fixedQuiz(5))
	ctx := context.Background()
	s, err := h.o.CreateSession(ctx, hotSeatRoom(2))
	require.NoError(t, err)
	_, err = h.o.StartSession(ctx, s.ID)
	require.NoError(t, err)

	ok, err := h.o.EndSession(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	got, err := h.o.Session(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StateCompleted, got.State)
	assert.True(t, got.CurrentTurn.IsComplete())
}

func TestCountdownStartsSession(t *testing.T) {
	h := setup(t, fixedQuiz(1))
	ctx := context.Background()
	s, err := h.o.CreateSession(ctx, hotSeatRoom(2))
	require.NoError(t, err)

	ok, err := h.o.StartSessionCountdown(ctx, s.ID, 3)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = h.o.StartSessionCountdown(ctx, s.ID, 3)
	assert.True(t, IsCode(err, CodeInvalidState))

	waitTurn(t, h.o, s.ID, 1)
	var remaining []interface{}
	for _, tick := range h.mb.ofType(broadcast.EventCountdownTick) {
		remaining = append(remaining, tick.ev.Payload["remaining"])
	}
	assert.Equal(t, []interface{}{3, 2, 1}, remaining)
}

func TestEvictionAfterGrace(t *testing.T) {
	evicted := make(chan uuid.UUID, 1)
	h := setup(t, fixedQuiz(1), func(o *Options) {
		o.EvictionGrace = 20 * time.Millisecond
		o.OnEvict = func(id uuid.UUID) { evicted <- id }
	})
	ctx := context.Background()
	s, err := h.o.CreateSession(ctx, hotSeatRoom(2))
	require.NoError(t, err)
	_, err = h.o.AbortSession(ctx, s.ID, "done")
	require.NoError(t, err)

	select {
	case id := <-evicted:
		assert.Equal(t, s.ID, id)
	case <-time.After(time.Second):
		t.Fatal("session was not evicted")
	}
	assert.Equal(t, 0, h.o.Live())
	_, err = h.o.Session(ctx, s.ID)
	assert.True(t, IsCode(err, CodeNotFound))
}

// explodingMode panics while recording an answer.
type explodingMode struct{ *mode.HotSeat }

func (explodingMode) OnAnswerSubmit(*session.GameSession, uuid.UUID, int) (mode.AnswerOutcome, error) {
	panic("boom")
}

func TestPanicAbortsOnlyItsSession(t *testing.T) {
	modes := mode.NewRegistry()
	require.NoError(t, modes.Register(explodingMode{mode.NewHotSeat()}))
	h := setup(t, fixedQuiz(2), func(o *Options) { o.Modes = modes })
	ctx := context.Background()

	bad, err := h.o.CreateSession(ctx, hotSeatRoom(2))
	require.NoError(t, err)
	other, err := h.o.CreateSession(ctx, hotSeatRoom(2))
	require.NoError(t, err)
	_, err = h.o.StartSession(ctx, bad.ID)
	require.NoError(t, err)
	_, err = h.o.StartSession(ctx, other.ID)
	require.NoError(t, err)
	waitTurn(t, h.o, bad.ID, 1)

	_, err = h.o.SubmitAnswer(ctx, bad.ID, bad.Players[0].ID, 1)
	require.Error(t, err)
	got, err := h.o.Session(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StateAborted, got.State)

	still, err := h.o.Session(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StateActive, still.State)
}

func TestEventLogReachesHistorianInOrder(t *testing.T) {
	h := setup(t, fixedQuiz(1))
	ctx := context.Background()
	room := hotSeatRoom(2)
	s, err := h.o.CreateSession(ctx, room)
	require.NoError(t, err)
	_, err = h.o.StartSession(ctx, s.ID)
	require.NoError(t, err)
	waitTurn(t, h.o, s.ID, 1)
	_, err = h.o.SubmitAnswer(ctx, s.ID, room.Players[0].ID, 1)
	require.NoError(t, err)
	final := waitState(t, h.o, s.ID, session.StateCompleted)

	require.Eventually(t, func() bool {
		h.sink.mu.Lock()
		defer h.sink.mu.Unlock()
		return len(h.sink.records) == len(final.Events)
	}, time.Second, 5*time.Millisecond)
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	for i, rec := range h.sink.records {
		assert.Equal(t, i, rec.EventIndex)
		assert.Equal(t, s.ID, rec.SessionID)
	}
	assert.Equal(t, string(broadcast.EventSessionCreated), h.sink.records[0].EventType)
	assert.Equal(t, string(broadcast.EventGameEnd), h.sink.records[len(h.sink.records)-1].EventType)
}

func TestAddSpectatorBlocksAnswers(t *testing.T) {
	h := setup(t, fixedQuiz(1))
	ctx := context.Background()
	room := hotSeatRoom(2)
	p1 := room.Players[0]
	s, err := h.o.CreateSession(ctx, room)
	require.NoError(t, err)

	ok, err := h.o.AddSpectator(ctx, s.ID, models.Spectator{ID: p1.ID, Name: p1.Name})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = h.o.AddSpectator(ctx, s.ID, models.Spectator{ID: p1.ID, Name: p1.Name})
	require.NoError(t, err)
	assert.False(t, ok, "already watching")
	joined := h.mb.waitFor(t, broadcast.EventSpectatorJoined, 1)[0]
	assert.Equal(t, true, joined.ev.Payload["formerPlayer"])

	_, err = h.o.StartSession(ctx, s.ID)
	require.NoError(t, err)
	waitTurn(t, h.o, s.ID, 1)
	_, err = h.o.SubmitAnswer(ctx, s.ID, p1.ID, 1)
	assert.True(t, IsCode(err, CodeNotAllowed))
}

func TestShutdownRejectsNewWork(t *testing.T) {
	h := setup(t, fixedQuiz(1))
	ctx := context.Background()
	s, err := h.o.CreateSession(ctx, hotSeatRoom(2))
	require.NoError(t, err)

	require.NoError(t, h.o.Shutdown(ctx))
	assert.Equal(t, 0, h.o.Live())
	assert.Equal(t, 1, h.store.count())
	assert.Equal(t, session.StateAborted, h.store.last().State)

	_, err = h.o.Session(ctx, s.ID)
	assert.True(t, IsCode(err, CodeShuttingDown))
	_, err = h.o.CreateSession(ctx, hotSeatRoom(2))
	assert.True(t, IsCode(err, CodeShuttingDown))
}

func TestCreateRejectsBrokenTeamRosters(t *testing.T) {
	h := setup(t, fixedQuiz(2))
	ctx := context.Background()

	empty := teamRoom(2, 2)
	empty.Teams = append(empty.Teams, models.TeamSnapshot{ID: uuid.New(), Name: "empty"})
	_, err := h.o.CreateSession(ctx, empty)
	assert.True(t, IsCode(err, CodeInvalidInput), "team without members")

	stray := teamRoom(2, 2)
	stray.Players[3].TeamID = uuid.New()
	_, err = h.o.CreateSession(ctx, stray)
	assert.True(t, IsCode(err, CodeInvalidInput), "player on an unknown team")

	dupTeam := teamRoom(1, 1)
	dupTeam.Teams[1].ID = dupTeam.Teams[0].ID
	_, err = h.o.CreateSession(ctx, dupTeam)
	assert.True(t, IsCode(err, CodeInvalidInput))

	assert.Zero(t, h.o.Live())
	assert.Empty(t, h.mb.ofType(broadcast.EventSessionCreated))
}

// rosterCheckMode refuses to start until allowed.
type rosterCheckMode struct {
	*mode.HotSeat
	allow *atomic.Bool
}

func (m rosterCheckMode) OnGameStart(s *session.GameSession) error {
	if !m.allow.Load() {
		return fmt.Errorf("%w: not yet", mode.ErrRoster)
	}
	return m.HotSeat.OnGameStart(s)
}

func TestRosterMismatchAtStartKeepsSession(t *testing.T) {
	allow := &atomic.Bool{}
	modes := mode.NewRegistry()
	require.NoError(t, modes.Register(rosterCheckMode{HotSeat: mode.NewHotSeat(), allow: allow}))
	h := setup(t, fixedQuiz(2), func(o *Options) { o.Modes = modes })
	ctx := context.Background()

	s, err := h.o.CreateSession(ctx, hotSeatRoom(2))
	require.NoError(t, err)

	ok, err := h.o.StartSession(ctx, s.ID)
	assert.False(t, ok)
	assert.True(t, IsCode(err, CodeInvalidInput))
	got, err := h.o.Session(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StateActive, got.State, "a refused start leaves the session untouched")
	assert.Nil(t, got.CurrentTurn)
	assert.Empty(t, h.mb.ofType(broadcast.EventGameAborted))

	allow.Store(true)
	ok, err = h.o.StartSession(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	waitTurn(t, h.o, s.ID, 1)
}

func TestTimedOutTurnAdvancesToNextPlayer(t *testing.T) {
	h := setup(t, fixedQuiz(2))
	ctx := context.Background()
	room := hotSeatRoom(2)
	p1, p2 := room.Players[0].ID, room.Players[1].ID

	s, err := h.o.CreateSession(ctx, room)
	require.NoError(t, err)
	_, err = h.o.StartSession(ctx, s.ID)
	require.NoError(t, err)
	first := waitTurn(t, h.o, s.ID, 1)
	assert.Equal(t, p1, first.ActiveParticipant)

	second := waitTurn(t, h.o, s.ID, 2)
	assert.Equal(t, p2, second.ActiveParticipant, "the next turn opens without a manual call")
	assert.NotEqual(t, first.ID, second.ID)

	ends := h.mb.ofType(broadcast.EventTurnEnd)
	require.Len(t, ends, 1)
	assert.Equal(t, true, ends[0].ev.Payload["timedOut"])
	board := ends[0].ev.Payload["leaderboard"].([]session.LeaderboardEntry)
	assert.Len(t, board, 2, "turn end carries the standings")

	got, err := h.o.Session(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Stats.TurnsTimedOut)
}

func (mb *mockBroadcaster) count(topic string, et broadcast.EventType) int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	n := 0
	for _, p := range mb.events {
		if p.topic == topic && p.ev.Type == et {
			n++
		}
	}
	return n
}

func TestAnswerRacingTimeoutEndsTurnOnce(t *testing.T) {
	h := setup(t, fixedQuiz(1))
	ctx := context.Background()
	turnLength := 5 * 20 * time.Millisecond

	for _, offset := range []time.Duration{-10, -5, -2, 0, 2, 5, 10} {
		room := hotSeatRoom(2)
		room.Settings.QuestionCount = 1
		room.Settings.TimeLimitSec = models.MinTimeLimitSec
		s, err := h.o.CreateSession(ctx, room)
		require.NoError(t, err)
		_, err = h.o.StartSession(ctx, s.ID)
		require.NoError(t, err)

		time.Sleep(turnLength + offset*time.Millisecond)
		ok, err := h.o.SubmitAnswer(ctx, s.ID, room.Players[0].ID, 1)
		if err != nil {
			assert.True(t, IsCode(err, CodeNotAllowed) || IsCode(err, CodeInvalidState), "a losing answer is refused, got %v", err)
			assert.False(t, ok)
		}

		final := waitState(t, h.o, s.ID, session.StateCompleted)
		assert.Equal(t, 1, h.mb.count(broadcast.SessionTopic(s.ID), broadcast.EventTurnEnd), "offset %dms", offset)
		assert.Equal(t, 1, final.Stats.AnswersGiven)
		if ok {
			assert.Zero(t, final.Stats.TurnsTimedOut)
		} else {
			assert.Equal(t, 1, final.Stats.TurnsTimedOut)
		}
	}
}

func TestConcurrentCreatesForOneRoom(t *testing.T) {
	h := setup(t, fixedQuiz(2))
	room := hotSeatRoom(2)

	const callers = 32
	var wg sync.WaitGroup
	var created, refused atomic.Int32
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := h.o.CreateSession(context.Background(), room)
			switch {
			case err == nil:
				created.Add(1)
			case IsCode(err, CodeInvalidState):
				refused.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	assert.Equal(t, int32(callers-1), refused.Load())
	assert.Equal(t, 1, h.o.Live())
}
