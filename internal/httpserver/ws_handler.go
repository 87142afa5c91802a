package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/textpilot/textpilot-daemon/internal/connection"
	"github.com/textpilot/textpilot-daemon/internal/stream"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Clients are local desktop apps, not browsers. Origin checks add
	// nothing here and break Electron-style wrappers.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket upgrades the connection, registers it as the user's
// delivery channel and then pumps inbound control frames until the peer
// goes away. Closing the socket does not cancel an in-flight job; the
// job keeps running and its frames are dropped until the user reconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("userID required"))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		s.logf("websocket upgrade failed for user=%s: %v", userID, err)
		return
	}

	ch := connection.NewWSChannel(conn)
	s.connections.Connect(userID, ch)
	s.debugf("websocket connected user=%s remote=%s", userID, r.RemoteAddr)

	defer func() {
		s.connections.Disconnect(userID, ch)
		_ = ch.Close()
		s.debugf("websocket closed user=%s", userID)
	}()

	for {
		ctl, err := ch.ReadControl()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.debugf("websocket read error user=%s: %v", userID, err)
			}
			return
		}
		switch ctl.Type {
		case stream.TypeCancel:
			if s.dispatcher.Cancel(userID, ctl.RequestID) {
				s.logf("cancel via websocket user=%s request=%s", userID, ctl.RequestID)
			}
		case "":
			// Malformed or unrecognized frame, ignore.
		default:
			s.debugf("ignoring control frame type=%q user=%s", ctl.Type, userID)
		}
	}
}
