package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/harborfund/vaultd/internal/domain"
)

// EventsHandler serves replay of the durable event stream. Live delivery
// happens over the WebSocket hub; this endpoint lets consumers that missed
// messages catch up from the capped stream history.
type EventsHandler struct {
	bus    domain.EventBus
	stream string
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler reading from the given stream.
func NewEventsHandler(bus domain.EventBus, stream string, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		bus:    bus,
		stream: stream,
		logger: logHandler(logger, "events"),
	}
}

// Replay returns stream entries after last_id, oldest first. Pass the id of
// the last entry seen to page through history; "0" (the default) starts from
// the beginning of the retained window.
// GET /api/events?last_id=0&count=100
func (h *EventsHandler) Replay(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream not configured")
		return
	}

	q := r.URL.Query()
	lastID := q.Get("last_id")
	if lastID == "" {
		lastID = "0"
	}
	count := 100
	if v := q.Get("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			count = n
		}
	}
	if count > 1000 {
		count = 1000
	}

	msgs, err := h.bus.StreamRead(r.Context(), h.stream, lastID, count)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "stream read failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read event stream")
		return
	}

	type entry struct {
		ID    string          `json:"id"`
		Event json.RawMessage `json:"event"`
	}
	entries := make([]entry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, entry{ID: m.ID, Event: json.RawMessage(m.Payload)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": entries})
}
