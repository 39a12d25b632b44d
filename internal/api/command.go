package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/homeworks-core/internal/homeworks"
)

const maxCommandsPerRequest = 32

// commandRequest is the JSON body for POST /command. Each entry is a raw
// controller keyword line, queued through the rate-limited dispatcher.
type commandRequest struct {
	Commands []string `json:"commands"`
}

// handleCommand queues raw controller commands.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.Commands) == 0 {
		writeBadRequest(w, "commands required")
		return
	}
	if len(req.Commands) > maxCommandsPerRequest {
		writeBadRequest(w, "too many commands in one request")
		return
	}

	if err := s.dispatcher.SubmitRaw(req.Commands...); err != nil {
		switch {
		case errors.Is(err, homeworks.ErrQueueFull), errors.Is(err, homeworks.ErrDispatcherClosed):
			writeUnavailable(w, err.Error())
		default:
			writeBadRequest(w, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"queued": len(req.Commands),
	})
}
