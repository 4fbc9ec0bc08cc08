package events

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

type wsEnvelope struct {
	Feed string          `json:"feed"`
	Data json.RawMessage `json:"data"`
}

// WSHandler streams events over a WebSocket as {"feed":..., "data":...}
// text messages. It honours the same ?feeds= filter as SSEHandler.
func WSHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		feedFilter := parseFeedFilter(r)
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			slog.Debug("events ws upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		id, ch := broker.Subscribe()
		defer broker.Unsubscribe(id)

		// The client never sends data; reading detects close and answers pings.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := wsutil.ReadClientData(conn); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-done:
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if feedFilter != nil && !feedFilter[evt.Feed] {
					continue
				}
				msg, err := json.Marshal(wsEnvelope{Feed: evt.Feed, Data: json.RawMessage(evt.Payload)})
				if err != nil {
					slog.Debug("events ws encode failed", "feed", evt.Feed, "error", err)
					continue
				}
				if err := wsutil.WriteServerText(conn, msg); err != nil {
					slog.Debug("events ws write failed", "error", err)
					return
				}
			}
		}
	}
}
