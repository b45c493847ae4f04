package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"buildledger/internal/log"
)

// keepAliveInterval is how often an idle SSE stream emits a comment so
// proxies do not drop the connection.
const keepAliveInterval = 25 * time.Second

// handleEvents streams approval events for the caller's company as
// server-sent events until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		respondError(w, http.StatusServiceUnavailable, "event stream not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	identity := identityFrom(r)
	ch, cancel := s.hub.Subscribe(identity.CompanyID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	s.logger.InfoContext(r.Context(), "sse client connected",
		log.FieldCompanyID, identity.CompanyID,
		log.FieldUserID, identity.UserID)

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case event, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: approval\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}
