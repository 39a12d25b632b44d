package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/homeworks-core/internal/homeworks"
	"github.com/nerrad567/homeworks-core/internal/store"
)

// dimmerResponse is the JSON shape for one dimmer zone.
type dimmerResponse struct {
	ID    string   `json:"id,omitempty"`
	Name  string   `json:"name"`
	Addr  string   `json:"addr"`
	Poll  bool     `json:"poll"`
	Level *float64 `json:"level,omitempty"`
}

// createDimmerRequest is the JSON body for POST /dimmers.
type createDimmerRequest struct {
	Name string `json:"name"`
	Addr string `json:"addr"`
	Poll bool   `json:"poll"`
}

// setLevelRequest is the JSON body for PUT /dimmers/{id}/level.
type setLevelRequest struct {
	Level float64 `json:"level"`
	Fade  float64 `json:"fade"`
}

func (s *Server) dimmerResponse(dev homeworks.DimmerDevice) dimmerResponse {
	resp := dimmerResponse{
		ID:   dev.ID,
		Name: dev.Name,
		Addr: dev.Addr,
		Poll: dev.Poll,
	}
	if level, ok := s.engine.Dimmers().Level(dev.Addr); ok {
		resp.Level = &level
	}
	return resp
}

// findDimmer resolves a path identifier to a registered dimmer zone. Both
// the store UUID and the normalized address are accepted.
func (s *Server) findDimmer(id string) (homeworks.DimmerDevice, bool) {
	norm, _ := homeworks.NormalizeAddress(id)
	for _, dev := range s.engine.Dimmers().Zones() {
		if dev.ID == id || dev.Addr == norm {
			return dev, true
		}
	}
	return homeworks.DimmerDevice{}, false
}

// handleListDimmers returns all tracked dimmer zones with their last
// observed levels.
func (s *Server) handleListDimmers(w http.ResponseWriter, _ *http.Request) {
	zones := s.engine.Dimmers().Zones()

	out := make([]dimmerResponse, 0, len(zones))
	for _, dev := range zones {
		out = append(out, s.dimmerResponse(dev))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"dimmers": out,
		"count":   len(out),
	})
}

// handleCreateDimmer registers a new dimmer zone and persists it.
func (s *Server) handleCreateDimmer(w http.ResponseWriter, r *http.Request) {
	var req createDimmerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	dev := homeworks.DimmerDevice{
		Name: req.Name,
		Addr: req.Addr,
		Poll: req.Poll,
	}

	if s.store != nil {
		if err := s.store.CreateDimmer(r.Context(), &dev); err != nil {
			switch {
			case errors.Is(err, store.ErrExists):
				writeConflict(w, err.Error())
			case errors.Is(err, homeworks.ErrInvalidAddress):
				writeBadRequest(w, err.Error())
			default:
				writeInternalError(w, err.Error())
			}
			return
		}
	}

	if err := s.engine.Dimmers().Register(dev); err != nil {
		if s.store != nil {
			//nolint:errcheck // Best-effort rollback of the store row
			s.store.DeleteDimmer(r.Context(), dev.ID)
		}
		writeBadRequest(w, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, s.dimmerResponse(dev))
}

// handleDeleteDimmer removes a dimmer zone from tracking and the store.
func (s *Server) handleDeleteDimmer(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.findDimmer(chi.URLParam(r, "id"))
	if !ok {
		writeNotFound(w, "dimmer not found")
		return
	}

	if err := s.engine.Dimmers().Unregister(dev.Addr); err != nil {
		writeInternalError(w, err.Error())
		return
	}
	if s.store != nil && dev.ID != "" {
		if err := s.store.DeleteDimmer(r.Context(), dev.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			writeInternalError(w, err.Error())
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleSetDimmerLevel fades a zone to a target level.
func (s *Server) handleSetDimmerLevel(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.findDimmer(chi.URLParam(r, "id"))
	if !ok {
		writeNotFound(w, "dimmer not found")
		return
	}

	var req setLevelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.engine.SetDimmerLevel(dev.Addr, req.Level, req.Fade); err != nil {
		switch {
		case errors.Is(err, homeworks.ErrQueueFull), errors.Is(err, homeworks.ErrDispatcherClosed):
			writeUnavailable(w, err.Error())
		default:
			writeBadRequest(w, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"addr":  dev.Addr,
		"level": req.Level,
		"fade":  req.Fade,
	})
}
