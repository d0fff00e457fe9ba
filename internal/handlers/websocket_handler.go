package handlers

import (
	"net/http"

	"slidecollab/internal/realtime"
)

// WebSocketHandler upgrades realtime connections
type WebSocketHandler struct {
	server *realtime.Server
	auth   *Auth
}

// NewWebSocketHandler creates a new websocket handler
func NewWebSocketHandler(server *realtime.Server, auth *Auth) *WebSocketHandler {
	return &WebSocketHandler{
		server: server,
		auth:   auth,
	}
}

// HandleWebSocket serves a realtime connection. Anonymous connections may
// join rooms and listen; edits require an identity token.
// GET /ws
func (wh *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	wh.server.ServeConn(w, r, wh.auth.OptionalIdentity(r))
}
