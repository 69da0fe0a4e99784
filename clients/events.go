package clients

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/hlog"
)

const heartbeatInterval = 30 * time.Second

// ServeHTTP streams the messages of a newly connected client as Server-Sent Events.
// The client is disconnected when the request ends.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	client := r.Connect()
	defer r.Disconnect(client.ID)

	log := hlog.FromRequest(req).With().Str("client", client.ID.String()).Logger()
	log.Debug().Msg("Client connected")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	// the id event lets the page address itself in later requests
	fmt.Fprintf(w, "event: client\ndata: %s\n\n", client.ID)
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-req.Context().Done():
			log.Debug().Msg("Client disconnected")
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case msg, ok := <-client.Messages():
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				log.Error().Err(err).Str("type", msg.Type).Msg("Could not marshal message")
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
