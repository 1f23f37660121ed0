package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/gobutler/internal/agent"
	"github.com/nextlevelbuilder/gobutler/internal/store"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
)

// wsFrame is one server-to-client message on the chat socket. Turn-level
// frames ("done", "error") bracket the agent events.
type wsFrame struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ToolID   string `json:"tool_id,omitempty"`
	ToolName string `json:"tool_name,omitempty"`
	Server   bool   `json:"server,omitempty"`
	Error    string `json:"error,omitempty"`
}

// handleWS runs the PWA chat socket: the client sends chat requests, the
// server streams structured events back. One turn at a time per socket.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	// Writes come from the event callback and the error paths; serialize.
	var writeMu sync.Mutex
	send := func(f wsFrame) {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(f); err != nil {
			slog.Debug("websocket write failed", "error", err)
		}
	}

	for {
		var req chatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket closed", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		if req.UserID == "" {
			send(wsFrame{Type: "error", Error: "user_id is required"})
			continue
		}

		s.runWSTurn(r.Context(), &req, send)
	}
}

func (s *Server) runWSTurn(ctx context.Context, req *chatRequest, send func(wsFrame)) {
	_, err := s.turns.ChatEvents(ctx, req.turn(store.ChannelPWA), func(ev agent.Event) {
		send(wsFrame{
			Type:     ev.Type,
			Text:     ev.Text,
			ToolID:   ev.ToolID,
			ToolName: ev.ToolName,
			Server:   ev.Server,
		})
	})
	if err != nil {
		slog.Error("websocket turn failed", "user", req.UserID, "error", err)
		send(wsFrame{Type: "error", Error: "chat failed"})
		return
	}
	send(wsFrame{Type: "done"})
}
