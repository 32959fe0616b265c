package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
)

var errNoConfig = errors.New("presets unavailable without a config file")

func (s *Server) requireConfig(w http.ResponseWriter) bool {
	if s.configMgr == nil {
		writeError(w, http.StatusServiceUnavailable, errNoConfig)
		return false
	}
	return true
}

func (s *Server) handleListPresets(w http.ResponseWriter, r *http.Request) {
	if !s.requireConfig(w) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active":  s.configMgr.ActivePreset().ID,
		"presets": s.configMgr.ListPresets(),
	})
}

func (s *Server) handleCreatePreset(w http.ResponseWriter, r *http.Request) {
	if !s.requireConfig(w) {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, err := s.configMgr.CreatePreset(req.Name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// handleSetActivePreset switches presets; running pipelines keep their current
// settings until restart.
func (s *Server) handleSetActivePreset(w http.ResponseWriter, r *http.Request) {
	if !s.requireConfig(w) {
		return
	}
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.configMgr.SetActivePreset(req.ID); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "active": req.ID})
}

// handleSavePreset writes every pipeline's live settings into the active preset.
func (s *Server) handleSavePreset(w http.ResponseWriter, r *http.Request) {
	if !s.requireConfig(w) {
		return
	}
	for _, p := range s.inst.Pipelines() {
		if err := s.configMgr.SavePipelineSettings(p.ID(), p.Store().Sample(), p.Store().Text()); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.configMgr.ActivePreset())
}

func (s *Server) handleDeletePreset(w http.ResponseWriter, r *http.Request) {
	if !s.requireConfig(w) {
		return
	}
	if err := s.configMgr.DeletePreset(mux.Vars(r)["id"]); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}
