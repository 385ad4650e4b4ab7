package client

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/gorilla/websocket"
)

// Event is one change-feed message.
type Event struct {
	Type string `json:"type"`
	Data struct {
		ID        uint              `json:"id"`
		JobNumber string            `json:"job_number"`
		Version   int               `json:"version,omitempty"`
		Changes   map[string]string `json:"changes,omitempty"`
		ActionBy  string            `json:"action_by"`
	} `json:"data"`
}

// Feed event types, matching the server's broadcast messages.
const (
	EventCreated = "shipment_created"
	EventUpdated = "shipment_updated"
	EventDeleted = "shipment_deleted"
)

// RequiresReload applies the self-suppression rule: an update caused by the
// receiver's own request needs no full reload (it already holds the result,
// including the new version). Creations, deletions, and other actors' updates
// warrant a refresh.
func (e Event) RequiresReload(selfUsername string) bool {
	if e.Type == EventUpdated && e.Data.ActionBy == selfUsername {
		return false
	}
	return true
}

// Feed consumes the server's websocket change feed. There is no buffered
// replay: a feed that drops must be re-dialed and the caller should perform
// a full reload before trusting incremental events again.
type Feed struct {
	conn   *websocket.Conn
	events chan Event
	err    error
}

// DialFeed connects to the /ws endpoint. The token is passed as a query
// parameter because websocket handshakes cannot carry custom headers from
// every client environment.
func DialFeed(ctx context.Context, wsURL, token string) (*Feed, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	f := &Feed{conn: conn, events: make(chan Event, 16)}
	go f.readLoop()
	return f, nil
}

// Events delivers decoded feed messages. The channel closes when the
// connection drops; check Err afterwards.
func (f *Feed) Events() <-chan Event { return f.events }

// Err reports why the feed stopped, once Events is closed.
func (f *Feed) Err() error { return f.err }

func (f *Feed) Close() error { return f.conn.Close() }

func (f *Feed) readLoop() {
	defer close(f.events)
	for {
		_, raw, err := f.conn.ReadMessage()
		if err != nil {
			f.err = err
			return
		}
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			// Skip malformed frames rather than killing the feed.
			continue
		}
		f.events <- ev
	}
}
