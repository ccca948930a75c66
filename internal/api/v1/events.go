package v1

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/headerkit/source-agent/internal/broadcast"
	"github.com/headerkit/source-agent/internal/events"
	"github.com/headerkit/source-agent/internal/source"
)

// KeepAliveInterval is how often an idle event stream sends a comment line
var KeepAliveInterval = 25 * time.Second

// snapshotEvent names the SSE event carrying the full source list
const snapshotEvent = "sources"

// EventsHandler streams registry notifications as server-sent events. When
// local is set the stream also carries the list snapshots pushed to the
// local channel.
func EventsHandler(bus *events.Bus, local *broadcast.LocalChannel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		sub := bus.Subscribe(events.DefaultBuffer)
		defer sub.Close()

		var snapshots <-chan []source.Source
		if local != nil {
			updates, cancel := local.Updates()
			defer cancel()
			snapshots = updates
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		keepAlive := time.NewTicker(KeepAliveInterval)
		defer keepAlive.Stop()

		for {
			var err error
			select {
			case <-r.Context().Done():
				return
			case e, open := <-sub.Events():
				if !open {
					return
				}
				err = writeEvent(w, string(e.Name), e)
			case list := <-snapshots:
				if list == nil {
					list = []source.Source{}
				}
				err = writeEvent(w, snapshotEvent, list)
			case <-keepAlive.C:
				_, err = fmt.Fprint(w, ": keep-alive\n\n")
			}
			if err != nil {
				slog.Debug("Event stream closed", "remote", r.RemoteAddr, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload)
	return err
}
