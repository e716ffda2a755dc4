package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oneclicktag/oneclicktag/internal/realtime"
)

// CustomerEvents streams a customer's sync and scan events as server-sent events
func (h *Handler) CustomerEvents(w http.ResponseWriter, r *http.Request) {
	logger := loggerWithRequest(r)

	id, ok := identity(w, r)
	if !ok {
		return
	}
	if h.Events == nil {
		ServiceUnavailable(w, r, "Live updates are not available")
		return
	}

	customer, err := h.Customers.GetCustomer(r.Context(), id.TenantID, r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}

	events, cleanup, err := h.Events.Subscribe(r.Context(), realtime.CustomerChannel(customer.ID))
	if err != nil {
		logger.Error().Err(err).Str("customer_id", customer.ID).Msg("Failed to subscribe to customer events")
		ServiceUnavailable(w, r, "Live updates are not available")
		return
	}
	defer cleanup()

	rc := http.NewResponseController(w)
	// Streams outlive the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		logger.Warn().Err(err).Msg("Event stream does not support flushing")
		return
	}

	heartbeat := time.NewTicker(h.config.SSEHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case ev, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				logger.Warn().Err(err).Str("type", ev.Type).Msg("Failed to encode event")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
