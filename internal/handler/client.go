package handler

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"roaddamage/internal/logger"
	"roaddamage/internal/service"
	"roaddamage/internal/service/auth"
	hub "roaddamage/internal/service/websocket"
)

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ViewWebsocketHandler registers the caller as a viewer of their own assessments.
// A "q" or "stop" message interrupts the running assessment.
func ViewWebsocketHandler(manager *service.Manager, hubService *hub.HubService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := auth.SessionFrom(r.Context())

		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}

		hubService.Register(connection, session.Username)
		defer hubService.Unregister(connection)

		logger.Info("Viewer %q connected", session.Username)

		for {
			_, data, err := connection.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Info("Viewer %q disconnected normally", session.Username)
				} else {
					logger.Error("Viewer %q disconnected with error: %v", session.Username, err)
				}
				break
			}

			switch strings.ToLower(strings.TrimSpace(string(data))) {
			case "q", "stop":
				manager.Stop(session.Username)
			}
		}
	}
}
