package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/game"
	"github.com/sirupsen/logrus"
)

// TokenCookie is the cookie a browser client may carry its participant token in.
const TokenCookie = "session_token"

// extractCookieToken extracts a named cookie value from "Cookie" header, or returns empty if not found.
func extractCookieToken(cookieHeader, cookieName string) string {
	parts := strings.Split(cookieHeader, cookieName+"=")
	if len(parts) < 2 {
		return ""
	}
	token := parts[1]
	if idx := strings.Index(token, ";"); idx != -1 {
		token = token[:idx]
	}
	return token
}

// requestToken finds a participant token in the query, the Authorization header or the
// session cookie, in that order.
func requestToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return extractCookieToken(r.Header.Get("Cookie"), TokenCookie)
}

func pathID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(r.PathValue("id"))
}

// ErrorBody is what every endpoint and the websocket return for a rejection.
type ErrorBody struct {
	Type    string    `json:"type"`
	Code    game.Code `json:"code"`
	Message string    `json:"message"`
}

func errorBody(err error) ErrorBody {
	body := ErrorBody{Type: "error", Code: game.GetCode(err), Message: "internal error"}
	var ge *game.Error
	if errors.As(err, &ge) {
		body.Message = ge.Message
	}
	return body
}

func statusFor(code game.Code) int {
	switch code {
	case game.CodeNotFound:
		return http.StatusNotFound
	case game.CodeInvalidState:
		return http.StatusConflict
	case game.CodeNotAllowed:
		return http.StatusForbidden
	case game.CodeInvalidInput, game.CodeUnknownMode:
		return http.StatusBadRequest
	case game.CodeModeUnavailable:
		return http.StatusUnprocessableEntity
	case game.CodeShuttingDown:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	body := errorBody(err)
	writeJSON(w, statusFor(body.Code), body)
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorBody{Type: "error", Code: game.CodeInvalidInput, Message: msg})
}
