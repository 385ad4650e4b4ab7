package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/gundcab/shipsync/internal/hub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Desktop clients connect from arbitrary origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type WSHandler struct {
	Hub *hub.Hub
}

func NewWSHandler(h *hub.Hub) *WSHandler { return &WSHandler{Hub: h} }

// Serve upgrades the request and parks the connection in the fan-out set
// until it disconnects.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws: upgrade failed", "err", err)
		return
	}
	h.Hub.ServeConn(conn)
}
