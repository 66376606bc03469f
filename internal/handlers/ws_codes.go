package handlers

// Custom WebSocket close codes used by the session socket.
// These provide more specific reasons for closure than standard codes.
const (
	BadSubprotocolError = 3000 // Client connected with an unsupported subprotocol.
	SessionGoneError    = 3003 // The session ended or was evicted.
)

// Subprotocol is the websocket subprotocol clients must request.
const Subprotocol = "trivia"
