// Package handlers exposes the session runtime over HTTP and websockets.
package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/auth"
	"github.com/jason-s-yu/trivia/internal/broadcast"
	"github.com/jason-s-yu/trivia/internal/connection"
	"github.com/jason-s-yu/trivia/internal/game"
	"github.com/jason-s-yu/trivia/internal/middleware"
	"github.com/sirupsen/logrus"
)

// Server holds the collaborators every handler needs.
type Server struct {
	Orchestrator *game.Orchestrator
	Hub          *broadcast.Hub
	Tracker      *connection.Tracker
	Tokens       *auth.Authority
	ServiceKey   *auth.ServiceKey
	Logger       *logrus.Logger
}

// Routes builds the service mux wrapped in request logging.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /modes", s.handleModes)

	mux.Handle("POST /session/create", s.requireServiceKey(s.handleCreate))
	mux.Handle("POST /session/{id}/start", s.requireServiceKey(s.handleStart))
	mux.Handle("POST /session/{id}/abort", s.requireServiceKey(s.handleAbort))
	mux.Handle("POST /session/{id}/end", s.requireServiceKey(s.handleEnd))
	mux.Handle("POST /session/{id}/turn/next", s.requireServiceKey(s.handleNextTurn))
	mux.Handle("POST /session/{id}/turn/end", s.requireServiceKey(s.handleEndTurn))
	mux.Handle("POST /session/{id}/spectators", s.requireServiceKey(s.handleAddSpectator))

	mux.HandleFunc("GET /session/{id}", s.handleSnapshot)
	mux.HandleFunc("GET /session/{id}/leaderboard", s.handleLeaderboard)
	mux.HandleFunc("GET /session/{id}/ws", s.SessionWSHandler)

	return middleware.LogMiddleware(s.Logger)(mux)
}

// ServiceKeyHeader carries the control key on session control requests.
const ServiceKeyHeader = "X-Service-Key"

func (s *Server) requireServiceKey(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ServiceKey.Allow(r.Header.Get(ServiceKeyHeader)) {
			writeJSON(w, http.StatusUnauthorized, ErrorBody{Type: "error", Code: game.CodeNotAllowed, Message: "missing or invalid service key"})
			return
		}
		next(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": s.Orchestrator.Live(),
	})
}

type modeInfo struct {
	ID        string      `json:"id"`
	Available bool        `json:"available"`
	Rules     interface{} `json:"rules"`
}

func (s *Server) handleModes(w http.ResponseWriter, r *http.Request) {
	var out []modeInfo
	for _, m := range s.Orchestrator.Modes() {
		out = append(out, modeInfo{ID: string(m.ID()), Available: m.Available(), Rules: m.Rules()})
	}
	writeJSON(w, http.StatusOK, out)
}

// ConnectionNotifier broadcasts tracker state changes through the orchestrator.
func ConnectionNotifier(o *game.Orchestrator, log *logrus.Logger) connection.Notifier {
	return func(sessionID, playerID uuid.UUID, state connection.State) {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := o.NotifyConnection(ctx, sessionID, playerID, string(state)); err != nil && !game.IsCode(err, game.CodeNotFound) {
			log.WithError(err).WithFields(logrus.Fields{"session": sessionID, "player": playerID}).Debug("connection notice not delivered")
		}
	}
}
