package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/auth"
	"github.com/jason-s-yu/trivia/internal/game"
	"github.com/jason-s-yu/trivia/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	maxBodyBytes  = 1 << 20
	notifyTimeout = 2 * time.Second
)

// CreateResponse returns the new session's public view and a token per participant for
// the room service to hand out.
type CreateResponse struct {
	SessionID uuid.UUID            `json:"sessionId"`
	View      game.View            `json:"view"`
	Tokens    map[uuid.UUID]string `json:"tokens"`
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v interface{}) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var room models.RoomSnapshot
	if err := decodeBody(r, &room); err != nil {
		writeBadRequest(w, "bad room snapshot payload")
		return
	}
	if room.RoomID == uuid.Nil {
		writeBadRequest(w, "roomId is required")
		return
	}

	gs, err := s.Orchestrator.CreateSession(r.Context(), room)
	if err != nil {
		writeError(w, err)
		return
	}
	view, err := s.Orchestrator.Snapshot(r.Context(), gs.ID, uuid.Nil)
	if err != nil {
		writeError(w, err)
		return
	}

	tokens := make(map[uuid.UUID]string, len(room.Players)+len(room.Spectators))
	for _, p := range room.Players {
		tok, err := s.Tokens.Issue(gs.ID, p.ID, p.Name, auth.RolePlayer)
		if err != nil {
			s.Logger.WithError(err).Error("failed to sign participant token")
			writeJSON(w, http.StatusInternalServerError, ErrorBody{Type: "error", Code: game.CodeUnknown, Message: "failed to sign tokens"})
			return
		}
		tokens[p.ID] = tok
	}
	for _, sp := range room.Spectators {
		tok, err := s.Tokens.Issue(gs.ID, sp.ID, sp.Name, auth.RoleSpectator)
		if err != nil {
			s.Logger.WithError(err).Error("failed to sign spectator token")
			writeJSON(w, http.StatusInternalServerError, ErrorBody{Type: "error", Code: game.CodeUnknown, Message: "failed to sign tokens"})
			return
		}
		tokens[sp.ID] = tok
	}

	s.Logger.WithFields(logrus.Fields{"session": gs.ID, "room": room.RoomID, "mode": room.Mode}).Info("session created")
	writeJSON(w, http.StatusCreated, CreateResponse{SessionID: gs.ID, View: view, Tokens: tokens})
}

type startRequest struct {
	Countdown int `json:"countdown"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, "invalid session id")
		return
	}
	var req startRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "bad start payload")
		return
	}
	var ok bool
	if req.Countdown > 0 {
		ok, err = s.Orchestrator.StartSessionCountdown(r.Context(), id, req.Countdown)
	} else {
		ok, err = s.Orchestrator.StartSession(r.Context(), id)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"started": ok})
}

type abortRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, "invalid session id")
		return
	}
	req := abortRequest{}
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "bad abort payload")
		return
	}
	if req.Reason == "" {
		req.Reason = "aborted by host"
	}
	ok, err := s.Orchestrator.AbortSession(r.Context(), id, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"aborted": ok})
}

// boolAction runs one of the orchestrator's id-only operations.
func (s *Server) boolAction(w http.ResponseWriter, r *http.Request, key string, fn func(*game.Orchestrator, *http.Request, uuid.UUID) (bool, error)) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, "invalid session id")
		return
	}
	ok, err := fn(s.Orchestrator, r, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{key: ok})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	s.boolAction(w, r, "ended", func(o *game.Orchestrator, r *http.Request, id uuid.UUID) (bool, error) {
		return o.EndSession(r.Context(), id)
	})
}

func (s *Server) handleNextTurn(w http.ResponseWriter, r *http.Request) {
	s.boolAction(w, r, "started", func(o *game.Orchestrator, r *http.Request, id uuid.UUID) (bool, error) {
		return o.StartNextTurn(r.Context(), id)
	})
}

func (s *Server) handleEndTurn(w http.ResponseWriter, r *http.Request) {
	s.boolAction(w, r, "ended", func(o *game.Orchestrator, r *http.Request, id uuid.UUID) (bool, error) {
		return o.EndCurrentTurn(r.Context(), id)
	})
}

type spectatorResponse struct {
	Added bool   `json:"added"`
	Token string `json:"token"`
}

func (s *Server) handleAddSpectator(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, "invalid session id")
		return
	}
	var sp models.Spectator
	if err := decodeBody(r, &sp); err != nil || sp.ID == uuid.Nil {
		writeBadRequest(w, "spectator id is required")
		return
	}
	added, err := s.Orchestrator.AddSpectator(r.Context(), id, sp)
	if err != nil {
		writeError(w, err)
		return
	}
	tok, err := s.Tokens.Issue(id, sp.ID, sp.Name, auth.RoleSpectator)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorBody{Type: "error", Code: game.CodeUnknown, Message: "failed to sign token"})
		return
	}
	writeJSON(w, http.StatusOK, spectatorResponse{Added: added, Token: tok})
}

// viewer resolves the participant a read request is made for. Anonymous reads get the
// public view.
func (s *Server) viewer(r *http.Request, sessionID uuid.UUID) uuid.UUID {
	tok := requestToken(r)
	if tok == "" {
		return uuid.Nil
	}
	claims, err := s.Tokens.Verify(tok)
	if err != nil || claims.SessionID != sessionID {
		return uuid.Nil
	}
	pid, _ := claims.ParticipantID()
	return pid
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, "invalid session id")
		return
	}
	view, err := s.Orchestrator.Snapshot(r.Context(), id, s.viewer(r, id))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, "invalid session id")
		return
	}
	board, err := s.Orchestrator.Leaderboard(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}
