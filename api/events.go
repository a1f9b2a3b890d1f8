package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/warp/toil-ledger/toil"
)

// eventBuffer is how many events a slow client may lag before events are dropped.
const eventBuffer = 64

type sseEvent struct {
	name    string
	payload any
}

// StreamEvents streams summary-changed and error events as server-sent
// events. ?user_id= limits the stream to one user.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported", nil)
		return
	}
	userID := r.URL.Query().Get("user_id")

	events := make(chan sseEvent, eventBuffer)
	forward := func(name string) toil.Handler {
		return func(payload any) {
			if userID != "" && eventUser(payload) != userID {
				return
			}
			select {
			case events <- sseEvent{name: name, payload: payload}:
			default:
				h.Log.WithField("event", name).Warn("event stream client lagging, dropping event")
			}
		}
	}
	unsubSummary := h.Service.Subscribe(toil.TopicSummaryChanged, forward("summary"))
	defer unsubSummary()
	unsubError := h.Service.Subscribe(toil.TopicError, forward("error"))
	defer unsubError()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			data, err := json.Marshal(ev.payload)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, data)
			flusher.Flush()
		}
	}
}

func eventUser(payload any) string {
	switch p := payload.(type) {
	case toil.SummaryChanged:
		return p.UserID
	case toil.ErrorEvent:
		return p.UserID
	}
	return ""
}
