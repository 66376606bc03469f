package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/auth"
	"github.com/jason-s-yu/trivia/internal/broadcast"
	"github.com/jason-s-yu/trivia/internal/connection"
	"github.com/jason-s-yu/trivia/internal/game"
	"github.com/jason-s-yu/trivia/internal/middleware"
	"github.com/jason-s-yu/trivia/internal/models"
	"github.com/jason-s-yu/trivia/internal/session"
	"github.com/sirupsen/logrus"
)

const (
	writeTimeout = 3 * time.Second
	// commandTimeout bounds how long a client message may wait on the session actor.
	commandTimeout = 5 * time.Second
)

// ClientMessage is an inbound websocket frame. Which fields are read depends on Type.
type ClientMessage struct {
	Type string `json:"type"`

	// Answer is the option index for submit_answer, suggestion and prediction.
	Answer *int `json:"answer,omitempty"`

	// Target is the player a reaction is aimed at.
	Target uuid.UUID `json:"target,omitempty"`
	Emoji  string    `json:"emoji,omitempty"`

	Reasoning string `json:"reasoning,omitempty"`
	Text      string `json:"text,omitempty"`
	// Team restricts a chat message to the sender's team.
	Team bool `json:"team,omitempty"`

	// Kind names the power-up for power_up.
	Kind string `json:"kind,omitempty"`
}

type ack struct {
	Type     string `json:"type"`
	Action   string `json:"action"`
	Accepted bool   `json:"accepted"`
}

type stateSync struct {
	Type    string    `json:"type"`
	Payload game.View `json:"payload"`
}

// SessionWSHandler upgrades a participant to a websocket for one session. The participant's
// token is checked before the upgrade; it then receives a state_sync followed by every
// event on the session, its own participant topic and its team's topic.
func (s *Server) SessionWSHandler(w http.ResponseWriter, r *http.Request) {
	sessionID, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid session id", http.StatusBadRequest)
		return
	}
	claims, err := s.Tokens.Verify(requestToken(r))
	if err != nil {
		http.Error(w, "Invalid or missing token", http.StatusUnauthorized)
		return
	}
	if claims.SessionID != sessionID {
		http.Error(w, "Token was issued for another session", http.StatusForbidden)
		return
	}
	participantID, err := claims.ParticipantID()
	if err != nil {
		http.Error(w, "Invalid or missing token", http.StatusUnauthorized)
		return
	}
	member, err := s.Orchestrator.IsMember(r.Context(), sessionID, participantID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !member {
		http.Error(w, "Not a participant of this session", http.StatusForbidden)
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{Subprotocol},
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.Logger.Warnf("WebSocket accept error for session %s: %v", sessionID, err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "Internal server error during handler exit.")

	if c.Subprotocol() != Subprotocol {
		s.Logger.Warnf("Client for session %s connected with invalid subprotocol: %q", sessionID, c.Subprotocol())
		c.Close(BadSubprotocolError, "Client must use the '"+Subprotocol+"' subprotocol.")
		return
	}

	log := s.Logger.WithFields(logrus.Fields{"session": sessionID, "participant": participantID, "role": claims.Role})
	middleware.LogWebSocketConnect(s.Logger, r.RemoteAddr, r.URL.Path, logrus.Fields{"session": sessionID, "participant": participantID})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	prev := s.Tracker.Connect(sessionID, participantID)
	defer s.Tracker.Disconnect(sessionID, participantID)

	if prev == connection.TimedOut && claims.Role == auth.RolePlayer {
		// The seat was lost; the player keeps watching.
		if _, err := s.command(ctx, func(ctx context.Context) (bool, error) {
			return s.Orchestrator.AddSpectator(ctx, sessionID, models.Spectator{ID: participantID, Name: claims.Name})
		}); err != nil {
			log.WithError(err).Warn("failed to seat timed out player as spectator")
		}
	}

	view, err := s.Orchestrator.Snapshot(ctx, sessionID, participantID)
	if err != nil {
		log.WithError(err).Warn("session vanished before state sync")
		c.Close(SessionGoneError, "Session is no longer available.")
		return
	}

	topics := []string{broadcast.SessionTopic(sessionID), broadcast.ParticipantTopic(participantID)}
	if team := teamOf(view, participantID); team != uuid.Nil {
		topics = append(topics, broadcast.TeamTopic(team))
	}
	sub := s.Hub.Subscribe(broadcast.DefaultBuffer, topics...)
	defer sub.Close()

	if err := sendWsMessage(ctx, c, stateSync{Type: "state_sync", Payload: view}); err != nil {
		log.WithError(err).Warn("failed to send state sync")
		return
	}
	if prev == connection.Disconnected {
		s.Tracker.Resume(sessionID, participantID)
	}

	go writeEvents(ctx, cancel, c, sub, log)

	err = s.readSessionMessages(ctx, c, sessionID, participantID, log)
	middleware.LogWebSocketDisconnect(s.Logger, r.RemoteAddr, r.URL.Path, err)
	c.Close(websocket.StatusNormalClosure, "")
}

// teamOf finds a player's team in a view; uuid.Nil for spectators and solo modes.
func teamOf(v game.View, participantID uuid.UUID) uuid.UUID {
	for _, p := range v.Players {
		if p.ID == participantID {
			return p.TeamID
		}
	}
	return uuid.Nil
}

// writeEvents forwards hub events to the socket until the subscription closes or a write
// fails, in which case the whole connection is torn down.
func writeEvents(ctx context.Context, cancel context.CancelFunc, c *websocket.Conn, sub *broadcast.Subscription, log *logrus.Entry) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-sub.C():
			if !ok {
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Write(wctx, websocket.MessageText, data)
			wcancel()
			if err != nil {
				log.WithError(err).Debug("event write failed")
				return
			}
		}
	}
}

// readSessionMessages blocks until the client goes away. A normal close returns nil.
func (s *Server) readSessionMessages(ctx context.Context, c *websocket.Conn, sessionID, participantID uuid.UUID, log *logrus.Entry) error {
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || websocket.CloseStatus(err) == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Debugf("Invalid message: %v", err)
			sendWsError(ctx, c, ErrorBody{Type: "error", Code: game.CodeInvalidInput, Message: "invalid message format"})
			continue
		}

		if msg.Type == "ping" {
			sendWsMessage(ctx, c, map[string]string{"type": "pong"})
			continue
		}

		ok, err := s.command(ctx, func(ctx context.Context) (bool, error) {
			return s.dispatch(ctx, sessionID, participantID, msg)
		})
		if err != nil {
			if game.GetCode(err) == game.CodeUnknown {
				log.WithError(err).WithField("type", msg.Type).Warn("client message failed")
			}
			sendWsError(ctx, c, errorBody(err))
			continue
		}
		sendWsMessage(ctx, c, ack{Type: "ack", Action: msg.Type, Accepted: ok})
	}
}

func (s *Server) command(ctx context.Context, fn func(context.Context) (bool, error)) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	return fn(ctx)
}

// dispatch routes a client message to the matching orchestrator operation.
func (s *Server) dispatch(ctx context.Context, sessionID, participantID uuid.UUID, msg ClientMessage) (bool, error) {
	o := s.Orchestrator
	switch msg.Type {
	case "submit_answer":
		if msg.Answer == nil {
			return false, &game.Error{Code: game.CodeInvalidInput, Message: "answer is required"}
		}
		return o.SubmitAnswer(ctx, sessionID, participantID, *msg.Answer)
	case "reaction":
		return o.React(ctx, sessionID, participantID, msg.Target, session.Emoji(msg.Emoji))
	case "suggestion":
		if msg.Answer == nil {
			return false, &game.Error{Code: game.CodeInvalidInput, Message: "answer is required"}
		}
		return o.Suggest(ctx, sessionID, participantID, *msg.Answer, msg.Reasoning)
	case "prediction":
		if msg.Answer == nil {
			return false, &game.Error{Code: game.CodeInvalidInput, Message: "answer is required"}
		}
		return o.Predict(ctx, sessionID, participantID, *msg.Answer)
	case "chat":
		return o.Chat(ctx, sessionID, participantID, msg.Text, msg.Team)
	case "power_up":
		return o.UsePowerUp(ctx, sessionID, participantID, msg.Kind)
	default:
		return false, &game.Error{Code: game.CodeInvalidInput, Message: "unknown message type: " + msg.Type}
	}
}

// sendWsMessage marshals v and writes it to the socket.
func sendWsMessage(ctx context.Context, c *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.Write(wctx, websocket.MessageText, data)
}

func sendWsError(ctx context.Context, c *websocket.Conn, body ErrorBody) {
	if err := sendWsMessage(ctx, c, body); err != nil {
		logrus.Debugf("failed to send error message: %v", err)
	}
}
