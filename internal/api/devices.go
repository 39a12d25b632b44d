package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/homeworks-core/internal/homeworks"
	"github.com/nerrad567/homeworks-core/internal/store"
)

// deviceResponse is the JSON shape for one relay output.
type deviceResponse struct {
	ID       string `json:"id,omitempty"`
	Key      string `json:"key"`
	Name     string `json:"name"`
	Addr     string `json:"addr"`
	Button   int    `json:"button"`
	Kind     string `json:"kind"`
	Inverted bool   `json:"inverted"`
	State    string `json:"state"`
	On       *bool  `json:"on,omitempty"`
}

// createDeviceRequest is the JSON body for POST /devices.
type createDeviceRequest struct {
	Name     string `json:"name"`
	Addr     string `json:"addr"`
	Button   int    `json:"button"`
	Kind     string `json:"kind"`
	Inverted bool   `json:"inverted"`
}

// updateDeviceRequest is the JSON body for PATCH /devices/{id}.
// Address and button are immutable; delete and recreate to move a relay.
type updateDeviceRequest struct {
	Name     *string `json:"name"`
	Kind     *string `json:"kind"`
	Inverted *bool   `json:"inverted"`
}

// switchRequest is the JSON body for POST /devices/{id}/switch.
type switchRequest struct {
	On bool `json:"on"`
}

func (s *Server) deviceResponse(dev homeworks.CCODevice, state homeworks.RelayState) deviceResponse {
	resp := deviceResponse{
		ID:       dev.ID,
		Key:      dev.Key(),
		Name:     dev.Name,
		Addr:     dev.Addr.String(),
		Button:   dev.Button,
		Kind:     string(dev.Kind),
		Inverted: dev.Inverted,
		State:    state.String(),
	}
	if state.Known() {
		on := state.Bool()
		resp.On = &on
	}
	return resp
}

// findDevice resolves a path identifier to a registered device. Both the
// store UUID and the address-button key are accepted.
func (s *Server) findDevice(id string) (homeworks.CCODevice, homeworks.RelayState, bool) {
	for _, dev := range s.engine.Devices() {
		if dev.ID == id || dev.Key() == id {
			d, state, err := s.engine.Device(dev.Key())
			if err != nil {
				return homeworks.CCODevice{}, homeworks.StateUnknown, false
			}
			return d, state, true
		}
	}
	return homeworks.CCODevice{}, homeworks.StateUnknown, false
}

// handleListDevices returns all registered relay outputs with their
// derived states.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.engine.Devices()

	out := make([]deviceResponse, 0, len(devices))
	for _, dev := range devices {
		d, state, err := s.engine.Device(dev.Key())
		if err != nil {
			continue
		}
		out = append(out, s.deviceResponse(d, state))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": out,
		"count":   len(out),
	})
}

// handleCreateDevice registers a new relay output and persists it.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	addr, err := homeworks.ParseAddress(req.Addr)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	kind := homeworks.DeviceKind(req.Kind)
	if req.Kind == "" {
		kind = homeworks.KindSwitch
	}

	dev := homeworks.CCODevice{
		Name:     req.Name,
		Addr:     addr,
		Button:   req.Button,
		Kind:     kind,
		Inverted: req.Inverted,
	}

	if s.store != nil {
		if err := s.store.CreateCCO(r.Context(), &dev); err != nil {
			if errors.Is(err, store.ErrExists) {
				writeConflict(w, err.Error())
				return
			}
			writeInternalError(w, err.Error())
			return
		}
	}

	if err := s.engine.RegisterCCO(dev); err != nil {
		if s.store != nil {
			//nolint:errcheck // Best-effort rollback of the store row
			s.store.DeleteCCO(r.Context(), dev.ID)
		}
		switch {
		case errors.Is(err, homeworks.ErrDeviceExists):
			writeConflict(w, err.Error())
		default:
			writeBadRequest(w, err.Error())
		}
		return
	}

	// Request a poll so the new relay gets a state soon
	//nolint:errcheck // Best-effort; periodic polling covers a miss
	s.engine.PollNow()

	writeJSON(w, http.StatusCreated, s.deviceResponse(dev, homeworks.StateUnknown))
}

// handleGetDevice returns one relay output.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, state, ok := s.findDevice(chi.URLParam(r, "id"))
	if !ok {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, s.deviceResponse(dev, state))
}

// handleUpdateDevice edits a relay's name, kind, or inversion flag.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	dev, state, ok := s.findDevice(chi.URLParam(r, "id"))
	if !ok {
		writeNotFound(w, "device not found")
		return
	}

	var req updateDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.Name != nil {
		dev.Name = *req.Name
	}
	if req.Kind != nil {
		dev.Kind = homeworks.DeviceKind(*req.Kind)
	}
	if req.Inverted != nil {
		dev.Inverted = *req.Inverted
	}

	// Re-registration resets the published-state cache; the next poll
	// republishes under the new definition.
	if err := s.engine.UnregisterCCO(dev.Key()); err != nil {
		writeInternalError(w, err.Error())
		return
	}
	if err := s.engine.RegisterCCO(dev); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if s.store != nil && dev.ID != "" {
		if err := s.store.UpdateCCO(r.Context(), &dev); err != nil && !errors.Is(err, store.ErrNotFound) {
			writeInternalError(w, err.Error())
			return
		}
	}

	//nolint:errcheck // Best-effort; periodic polling covers a miss
	s.engine.PollNow()

	writeJSON(w, http.StatusOK, s.deviceResponse(dev, state))
}

// handleDeleteDevice unregisters a relay and removes it from the store.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	dev, _, ok := s.findDevice(chi.URLParam(r, "id"))
	if !ok {
		writeNotFound(w, "device not found")
		return
	}

	if err := s.engine.UnregisterCCO(dev.Key()); err != nil {
		writeInternalError(w, err.Error())
		return
	}
	if s.store != nil && dev.ID != "" {
		if err := s.store.DeleteCCO(r.Context(), dev.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			writeInternalError(w, err.Error())
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleSwitchDevice drives a relay on or off.
func (s *Server) handleSwitchDevice(w http.ResponseWriter, r *http.Request) {
	dev, _, ok := s.findDevice(chi.URLParam(r, "id"))
	if !ok {
		writeNotFound(w, "device not found")
		return
	}

	var req switchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.engine.SwitchCCO(dev.Key(), req.On); err != nil {
		switch {
		case errors.Is(err, homeworks.ErrDeviceNotFound):
			writeNotFound(w, err.Error())
		case errors.Is(err, homeworks.ErrQueueFull), errors.Is(err, homeworks.ErrDispatcherClosed):
			writeUnavailable(w, err.Error())
		default:
			writeInternalError(w, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"key": dev.Key(),
		"on":  req.On,
	})
}
