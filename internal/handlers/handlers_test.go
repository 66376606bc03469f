package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/auth"
	"github.com/jason-s-yu/trivia/internal/broadcast"
	"github.com/jason-s-yu/trivia/internal/connection"
	"github.com/jason-s-yu/trivia/internal/game"
	"github.com/jason-s-yu/trivia/internal/mode"
	"github.com/jason-s-yu/trivia/internal/models"
	"github.com/jason-s-yu/trivia/internal/quiz"
	"github.com/jason-s-yu/trivia/internal/timer"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testQuiz() quiz.Generator {
	return quiz.GeneratorFunc(func(context.Context, models.QuizSettings) (*models.Quiz, error) {
		q := &models.Quiz{Topic: "test", Source: "fixed"}
		for i := 0; i < 2; i++ {
			q.Questions = append(q.Questions, models.Question{
				Text:         fmt.Sprintf("q%d", i+1),
				Options:      []string{"a", "b", "c", "d"},
				CorrectIndex: 1,
			})
		}
		return q, nil
	})
}

func newTestServer(t *testing.T, serviceKeyHash string) *Server {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	hub := broadcast.NewHub(log)
	timers := timer.NewService(timer.WithUnit(50*time.Millisecond), timer.WithLogger(log))
	o := game.New(game.Options{
		Quiz:          testQuiz(),
		Publisher:     hub,
		Timers:        timers,
		Logger:        log,
		ResultsDelay:  1,
		EvictionGrace: time.Hour,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})

	tokens, err := auth.NewAuthority("test-secret", time.Hour)
	require.NoError(t, err)
	key, err := auth.NewServiceKey(serviceKeyHash)
	require.NoError(t, err)

	return &Server{
		Orchestrator: o,
		Hub:          hub,
		Tracker:      connection.NewTracker(o.Timers(), time.Second, ConnectionNotifier(o, log), log),
		Tokens:       tokens,
		ServiceKey:   key,
		Logger:       log,
	}
}

func testRoom() models.RoomSnapshot {
	room := models.RoomSnapshot{RoomID: uuid.New(), Mode: string(mode.HotSeatID)}
	room.Players = []models.Player{{ID: uuid.New(), Name: "alice"}, {ID: uuid.New(), Name: "bob"}}
	room.Spectators = []models.Spectator{{ID: uuid.New(), Name: "carol"}}
	room.HostID = room.Players[0].ID
	room.Settings.QuestionCount = 2
	return room
}

func createSession(t *testing.T, h http.Handler, room models.RoomSnapshot) CreateResponse {
	t.Helper()
	body, err := json.Marshal(room)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/session/create", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var out CreateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// TestCreateSessionIssuesTokens checks that /session/create returns the public view and one
// token per participant.
func TestCreateSessionIssuesTokens(t *testing.T) {
	s := newTestServer(t, "")
	h := s.Routes()
	room := testRoom()

	out := createSession(t, h, room)
	assert.NotEqual(t, uuid.Nil, out.SessionID)
	assert.Equal(t, room.RoomID, out.View.RoomID)
	assert.Len(t, out.View.Players, 2)
	require.Len(t, out.Tokens, 3)

	claims, err := s.Tokens.Verify(out.Tokens[room.Players[0].ID])
	require.NoError(t, err)
	assert.Equal(t, out.SessionID, claims.SessionID)
	assert.Equal(t, auth.RolePlayer, claims.Role)

	claims, err = s.Tokens.Verify(out.Tokens[room.Spectators[0].ID])
	require.NoError(t, err)
	assert.Equal(t, auth.RoleSpectator, claims.Role)
}

func TestCreateRejectsBadPayloads(t *testing.T) {
	h := newTestServer(t, "").Routes()

	w := do(h, "POST", "/session/create", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(h, "POST", "/session/create", `{"mode":"hot_seat"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "room id is required")

	room := testRoom()
	room.Mode = "bingo"
	body, _ := json.Marshal(room)
	w = do(h, "POST", "/session/create", string(body))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var eb ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &eb))
	assert.Equal(t, game.CodeUnknownMode, eb.Code)
}

func TestLifecycleStatusCodes(t *testing.T) {
	h := newTestServer(t, "").Routes()
	out := createSession(t, h, testRoom())
	base := "/session/" + out.SessionID.String()

	assert.Equal(t, http.StatusBadRequest, do(h, "POST", "/session/nope/start", "").Code)
	assert.Equal(t, http.StatusNotFound, do(h, "POST", "/session/"+uuid.NewString()+"/start", "").Code)

	w := do(h, "POST", base+"/start", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"started":true}`, w.Body.String())

	w = do(h, "POST", base+"/start", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(h, "GET", base+"/leaderboard", "")
	require.Equal(t, http.StatusOK, w.Code)
	var board []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &board))
	assert.Len(t, board, 2)

	w = do(h, "POST", base+"/abort", `{"reason":"host left"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"aborted":true}`, w.Body.String())

	w = do(h, "GET", base, "")
	require.Equal(t, http.StatusOK, w.Code)
	var view game.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "host left", view.AbortReason)

	w = do(h, "POST", base+"/end", "")
	assert.Equal(t, http.StatusConflict, w.Code, "an aborted session cannot be ended")
}

func TestServiceKeyGuardsControlEndpoints(t *testing.T) {
	p := auth.DefaultParams
	p.Memory, p.Iterations = 1024, 1
	hash, err := auth.HashKey("control-key", p)
	require.NoError(t, err)
	s := newTestServer(t, hash)
	h := s.Routes()

	body, _ := json.Marshal(testRoom())
	w := do(h, "POST", "/session/create", string(body))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest("POST", "/session/create", bytes.NewReader(body))
	req.Header.Set(ServiceKeyHeader, "control-key")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)

	// reads stay open
	assert.Equal(t, http.StatusOK, do(h, "GET", "/health", "").Code)
}

func TestSnapshotUsesViewerToken(t *testing.T) {
	s := newTestServer(t, "")
	h := s.Routes()
	room := testRoom()
	out := createSession(t, h, room)
	path := "/session/" + out.SessionID.String()

	req := httptest.NewRequest("GET", path, nil)
	req.Header.Set("Authorization", "Bearer "+out.Tokens[room.Spectators[0].ID])
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var view game.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.True(t, view.ViewerIsSpectator)

	// a token for another session falls back to the public view
	other, err := s.Tokens.Issue(uuid.New(), room.Spectators[0].ID, "carol", auth.RoleSpectator)
	require.NoError(t, err)
	w = do(h, "GET", path+"?token="+other, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.False(t, view.ViewerIsSpectator)
}

func TestModesListsRegistry(t *testing.T) {
	h := newTestServer(t, "").Routes()
	w := do(h, "GET", "/modes", "")
	require.Equal(t, http.StatusOK, w.Code)
	var modes []modeInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &modes))
	ids := map[string]bool{}
	for _, m := range modes {
		ids[m.ID] = m.Available
	}
	assert.True(t, ids[string(mode.HotSeatID)])
	assert.True(t, ids[string(mode.TeamChallengeID)])
}

func wsURL(srv *httptest.Server, sessionID uuid.UUID, token string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/session/" + sessionID.String() + "/ws?token=" + token
}

// readUntil reads frames until one of the wanted type arrives.
func readUntil(t *testing.T, ctx context.Context, c *websocket.Conn, want string) map[string]interface{} {
	t.Helper()
	for {
		_, data, err := c.Read(ctx)
		require.NoError(t, err, "waiting for %s", want)
		var msg map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg["type"] == want {
			return msg
		}
	}
}

func TestSessionSocketFlow(t *testing.T) {
	s := newTestServer(t, "")
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()
	room := testRoom()
	out := createSession(t, srv.Config.Handler, room)
	p1 := room.Players[0].ID

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, wsURL(srv, out.SessionID, out.Tokens[p1]), &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
	})
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "")

	hello := readUntil(t, ctx, c, "state_sync")
	payload := hello["payload"].(map[string]interface{})
	assert.Equal(t, out.SessionID.String(), payload["sessionId"])

	require.Eventually(t, func() bool {
		st, ok := s.Tracker.State(out.SessionID, p1)
		return ok && st == connection.Connected
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)))
	readUntil(t, ctx, c, "pong")

	w := do(srv.Config.Handler, "POST", "/session/"+out.SessionID.String()+"/start", "")
	require.Equal(t, http.StatusOK, w.Code)
	readUntil(t, ctx, c, string(broadcast.EventTurnStart))

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`{"type":"submit_answer","answer":1}`)))
	got := readUntil(t, ctx, c, "ack")
	assert.Equal(t, "submit_answer", got["action"])
	assert.Equal(t, true, got["accepted"])

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`{"type":"submit_answer"}`)))
	errMsg := readUntil(t, ctx, c, "error")
	assert.Equal(t, string(game.CodeInvalidInput), errMsg["code"])

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`{"type":"teleport"}`)))
	errMsg = readUntil(t, ctx, c, "error")
	assert.Equal(t, string(game.CodeInvalidInput), errMsg["code"])

	c.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool {
		st, _ := s.Tracker.State(out.SessionID, p1)
		return st == connection.Disconnected || st == connection.TimedOut
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSessionSocketRejectsBadTokens(t *testing.T) {
	s := newTestServer(t, "")
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()
	room := testRoom()
	out := createSession(t, srv.Config.Handler, room)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	opts := &websocket.DialOptions{Subprotocols: []string{Subprotocol}}

	_, resp, err := websocket.Dial(ctx, wsURL(srv, out.SessionID, "garbage"), opts)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	foreign, err := s.Tokens.Issue(uuid.New(), room.Players[0].ID, "alice", auth.RolePlayer)
	require.NoError(t, err)
	_, resp, err = websocket.Dial(ctx, wsURL(srv, out.SessionID, foreign), opts)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	stranger, err := s.Tokens.Issue(out.SessionID, uuid.New(), "mallory", auth.RolePlayer)
	require.NoError(t, err)
	_, resp, err = websocket.Dial(ctx, wsURL(srv, out.SessionID, stranger), opts)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
