package app

import (
	"encoding/json"
	"net/http"

	"github.com/jantielens/esp32-energymon-169lcd-sub000/app/config"
	"github.com/jantielens/esp32-energymon-169lcd-sub000/internal/buildinfo"
)

type infoResponse struct {
	Success     bool   `json:"success"`
	Version     string `json:"version"`
	Commit      string `json:"commit"`
	Date        string `json:"date"`
	PanelWidth  int    `json:"panelWidth"`
	PanelHeight int    `json:"panelHeight"`
	FreeHeap    uint32 `json:"freeHeap"`
}

type brightnessBody struct {
	Success    bool   `json:"success"`
	Brightness uint8  `json:"brightness"`
	Message    string `json:"message,omitempty"`
}

func (s *system) registerSystemRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/info", s.handleInfo)
	mux.HandleFunc("GET /api/brightness", s.handleGetBrightness)
	mux.HandleFunc("POST /api/brightness", s.handleSetBrightness)
}

func writeBody(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *system) handleInfo(w http.ResponseWriter, r *http.Request) {
	pw, ph := s.h.Display().Size()
	writeBody(w, http.StatusOK, infoResponse{
		Success:     true,
		Version:     buildinfo.Version,
		Commit:      buildinfo.Commit,
		Date:        buildinfo.Date,
		PanelWidth:  int(pw),
		PanelHeight: int(ph),
		FreeHeap:    s.h.FreeHeap(),
	})
}

func (s *system) handleGetBrightness(w http.ResponseWriter, r *http.Request) {
	writeBody(w, http.StatusOK, brightnessBody{Success: true, Brightness: s.mgr.Brightness()})
}

// POST body: {"brightness": 0..100}. The value is applied immediately and
// persisted so it survives a power cycle.
func (s *system) handleSetBrightness(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Brightness *uint8 `json:"brightness"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Brightness == nil {
		writeBody(w, http.StatusBadRequest, brightnessBody{Message: "body must be {\"brightness\": 0..100}"})
		return
	}
	if err := s.mgr.SetBrightness(*req.Brightness); err != nil {
		writeBody(w, http.StatusBadRequest, brightnessBody{Message: err.Error()})
		return
	}

	s.mu.Lock()
	s.cfg.Brightness = *req.Brightness
	cfg := s.cfg
	s.mu.Unlock()
	if err := config.Save(s.h.Flash(), cfg); err != nil {
		// Applied but not persisted; report success with a note.
		writeBody(w, http.StatusOK, brightnessBody{Success: true, Brightness: *req.Brightness, Message: "not persisted: " + err.Error()})
		return
	}
	writeBody(w, http.StatusOK, brightnessBody{Success: true, Brightness: *req.Brightness})
}
