package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/middleware"
)

// handleEvents streams the controller's state as server-sent events until the
// client disconnects or the context is torn down.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctrl, _ := middleware.ControllerFromContext(r.Context())
	rc := http.NewResponseController(w)

	release := s.contexts.Hold(middleware.ClientIDFromContext(r.Context()))
	defer release()

	states, stop := ctrl.Watch(0)
	defer stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.logger.Warn("event stream unsupported", "error", err)
		return
	}

	heartbeat := time.NewTicker(s.cfg.EventsHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case st, ok := <-states:
			if !ok {
				return
			}
			payload, err := json.Marshal(viewOf(ctrl, st))
			if err != nil {
				s.logger.Error("encoding session state", "error", err)
				return
			}
			if _, err := fmt.Fprintf(w, "event: session\ndata: %s\n\n", payload); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
