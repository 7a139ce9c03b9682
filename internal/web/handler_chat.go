package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/vbonduro/minerallens/internal/chat"
)

const maxMessageBytes = 64 << 10

type sendMessageRequest struct {
	Message string `json:"message"`
}

// handleSendMessage streams the model's reply as server-sent events: a
// "delta" event per fragment carrying the cumulative text, then one "done"
// or "error" event. A client that goes away does not stop the reply; the
// handler keeps draining so the transcript completes.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req sendMessageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxMessageBytes)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updates, err := s.service.SendMessage(r.Context(), id, req.Message)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyMessage):
			s.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, chat.ErrBusy), errors.Is(err, chat.ErrNoSession):
			s.writeError(w, http.StatusConflict, err.Error())
		default:
			s.writeServiceError(w, r, err)
		}
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	connected := true

	for u := range updates {
		if !connected || r.Context().Err() != nil {
			connected = false
			continue
		}

		var err error
		switch {
		case u.Err != nil:
			err = writeEvent(w, "error", map[string]string{"text": u.Text})
		case u.Done:
			err = writeEvent(w, "done", map[string]string{"text": u.Text})
		default:
			err = writeEvent(w, "delta", map[string]string{"delta": u.Delta, "text": u.Text})
		}
		if err != nil {
			s.logger.Warn("chat client went away", "session_id", id, "error", err)
			connected = false
			continue
		}
		if canFlush {
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
