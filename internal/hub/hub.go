// Package hub fans accepted mutations out to connected viewer sessions.
//
// A single goroutine owns the session set; add, remove and broadcast are all
// channel sends into that goroutine, so the set is never touched
// concurrently. Delivery is best-effort: a session that cannot keep up or
// whose socket write fails is dropped, never retried.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/gorilla/websocket"
)

// Event types delivered on the change feed.
const (
	EventCreated = "shipment_created"
	EventUpdated = "shipment_updated"
	EventDeleted = "shipment_deleted"
)

// Event is one change-feed message: one accepted mutation, no batching.
type Event struct {
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

type EventData struct {
	ID        uint              `json:"id"`
	JobNumber string            `json:"job_number"`
	Version   int               `json:"version,omitempty"`
	Changes   map[string]string `json:"changes,omitempty"`
	ActionBy  string            `json:"action_by"`
}

// outboxSize bounds how far a slow session may fall behind before it is
// dropped from the fan-out set.
const outboxSize = 32

type session struct {
	out chan []byte
}

type Hub struct {
	register   chan *session
	unregister chan *session
	events     chan Event
	done       chan struct{}
}

func New() *Hub {
	return &Hub{
		register:   make(chan *session),
		unregister: make(chan *session),
		events:     make(chan Event, 64),
		done:       make(chan struct{}),
	}
}

// Run owns the session set until ctx is cancelled. It must be started before
// any broadcast or connection is accepted.
func (h *Hub) Run(ctx context.Context) {
	sessions := make(map[*session]struct{})
	defer func() {
		for s := range sessions {
			close(s.out)
		}
		close(h.done)
	}()
	for {
		select {
		case s := <-h.register:
			sessions[s] = struct{}{}
		case s := <-h.unregister:
			if _, ok := sessions[s]; ok {
				delete(sessions, s)
				close(s.out)
			}
		case ev := <-h.events:
			payload, err := json.Marshal(ev)
			if err != nil {
				slog.Error("hub: marshal event", "err", err)
				continue
			}
			for s := range sessions {
				select {
				case s.out <- payload:
				default:
					// Session fell behind; drop it rather than block the fan-out.
					delete(sessions, s)
					close(s.out)
					slog.Warn("hub: dropped slow session")
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// Broadcast queues an event for delivery to every connected session. It never
// blocks the committing writer: if the hub is stopped or saturated the event
// is discarded.
func (h *Hub) Broadcast(ev Event) {
	select {
	case h.events <- ev:
	case <-h.done:
	default:
		slog.Warn("hub: event queue full, discarding", "type", ev.Type)
	}
}

// ServeConn registers the websocket connection as a viewer session and blocks
// until it disconnects. The read side only drains keepalive traffic; clients
// never send commands over the feed.
func (h *Hub) ServeConn(conn *websocket.Conn) {
	s := &session{out: make(chan []byte, outboxSize)}
	select {
	case h.register <- s:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go func() {
		for payload := range s.out {
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				slog.Info("hub: session write failed", "err", err)
				break
			}
		}
		_ = conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	select {
	case h.unregister <- s:
	case <-h.done:
	}
	_ = conn.Close()
}
