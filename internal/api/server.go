package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/MirrorRoom/internal/capture"
	"github.com/bryanchriswhite/MirrorRoom/internal/config"
	"github.com/bryanchriswhite/MirrorRoom/internal/logger"
	"github.com/bryanchriswhite/MirrorRoom/internal/pipeline"
	"github.com/bryanchriswhite/MirrorRoom/internal/projection"
	"github.com/bryanchriswhite/MirrorRoom/internal/silhouette"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

const (
	// initializeWait bounds how long a request waits for a camera. The
	// acquisition itself keeps going; a slower answer is reported as 202.
	initializeWait = 15 * time.Second
	writeWait      = 2 * time.Second
)

// Server represents the HTTP API server
type Server struct {
	router    *mux.Router
	inst      *pipeline.Installation
	configMgr *config.Manager
	devices   *capture.Router
	upgrader  websocket.Upgrader
	log       *zerolog.Logger
	http      *http.Server
	initWait  time.Duration
}

// NewServer creates a new API server. configMgr and devices may be nil, which
// disables the preset and device endpoints.
func NewServer(inst *pipeline.Installation, configMgr *config.Manager, devices *capture.Router) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		inst:      inst,
		configMgr: configMgr,
		devices:   devices,
		initWait:  initializeWait,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // the 3D client is served from elsewhere during development
			},
		},
		log: logger.WithComponent("api"),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/device", s.handleDevice).Methods("GET")
	api.HandleFunc("/devices", s.handleDevices).Methods("GET")

	// Pipelines
	api.HandleFunc("/pipelines", s.handleListPipelines).Methods("GET")
	api.HandleFunc("/pipelines/{id}", s.handleGetPipeline).Methods("GET")
	api.HandleFunc("/pipelines/{id}/initialize", s.handleInitialize).Methods("POST")
	api.HandleFunc("/pipelines/{id}/source", s.handleSwitchSource).Methods("POST")
	api.HandleFunc("/pipelines/{id}/settings", s.handleGetSettings).Methods("GET")
	api.HandleFunc("/pipelines/{id}/settings", s.handleSetSetting).Methods("PUT")
	api.HandleFunc("/pipelines/{id}/resize", s.handleResize).Methods("POST")
	api.HandleFunc("/pipelines/{id}/grid/reset", s.handleResetGrid).Methods("POST")
	api.HandleFunc("/pipelines/{id}/instances", s.handleInstances)

	// Presets
	api.HandleFunc("/presets", s.handleListPresets).Methods("GET")
	api.HandleFunc("/presets", s.handleCreatePreset).Methods("POST")
	api.HandleFunc("/presets/active", s.handleSetActivePreset).Methods("PUT")
	api.HandleFunc("/presets/active/save", s.handleSavePreset).Methods("POST")
	api.HandleFunc("/presets/{id}", s.handleDeletePreset).Methods("DELETE")

	// Screen raster
	s.router.HandleFunc("/stream/{id}", s.handleStream).Methods("GET")
	s.router.HandleFunc("/stream/{id}/stats", s.handleStreamStats).Methods("GET")

	s.router.PathPrefix("/").HandlerFunc(s.handleIndex)
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves until Shutdown is called.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Str("addr", addr).Msgf("Starting server on http://localhost%s", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// pipeline resolves {id} or writes a 404.
func (s *Server) pipeline(w http.ResponseWriter, r *http.Request) (*pipeline.Pipeline, bool) {
	id := mux.Vars(r)["id"]
	p, ok := s.inst.Pipeline(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown pipeline %q", id))
	}
	return p, ok
}

// captureStatus maps an acquisition failure to an HTTP status.
func captureStatus(err error) int {
	if errors.Is(err, capture.ErrDisposed) {
		return http.StatusGone
	}
	switch capture.ReasonOf(err) {
	case capture.ReasonPermissionDenied:
		return http.StatusForbidden
	case capture.ReasonDeviceBusy:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

// stillPending reports whether err only means this request stopped waiting
// while the camera is still being acquired.
func stillPending(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, ctx.Err())
}

// HTTP Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.inst.Profile())
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if s.devices == nil {
		writeJSON(w, http.StatusOK, []capture.DeviceInfo{})
		return
	}
	devs := s.devices.Devices()
	if devs == nil {
		devs = []capture.DeviceInfo{}
	}
	writeJSON(w, http.StatusOK, devs)
}

func (s *Server) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	pipes := s.inst.Pipelines()
	out := make([]pipeline.Status, 0, len(pipes))
	for _, p := range pipes {
		out = append(out, p.Status())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pipeline(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p.Status())
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pipeline(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.initWait)
	defer cancel()

	if err := p.Initialize(ctx); err != nil {
		if stillPending(ctx, err) {
			writeJSON(w, http.StatusAccepted, p.Status())
			return
		}
		s.log.Warn().Err(err).Str("pipeline", p.ID()).Msg("Initialize failed")
		writeJSON(w, captureStatus(err), map[string]interface{}{
			"error":  err.Error(),
			"reason": capture.ReasonOf(err),
			"status": p.Status(),
		})
		return
	}
	writeJSON(w, http.StatusOK, p.Status())
}

func (s *Server) handleSwitchSource(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pipeline(w, r)
	if !ok {
		return
	}
	var req struct {
		Device string `json:"device"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.initWait)
	defer cancel()

	if err := p.SwitchSource(ctx, req.Device); err != nil {
		if stillPending(ctx, err) {
			writeJSON(w, http.StatusAccepted, p.Status())
			return
		}
		writeJSON(w, captureStatus(err), map[string]interface{}{
			"error":  err.Error(),
			"reason": capture.ReasonOf(err),
		})
		return
	}
	writeJSON(w, http.StatusOK, p.Status())
}

type settingsView struct {
	Pipeline string      `json:"pipeline"`
	Sample   interface{} `json:"sample"`
	Text     interface{} `json:"text"`
}

func settingsOf(p *pipeline.Pipeline) settingsView {
	return settingsView{Pipeline: p.ID(), Sample: p.Store().Sample(), Text: p.Store().Text()}
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pipeline(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, settingsOf(p))
}

func (s *Server) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pipeline(w, r)
	if !ok {
		return
	}
	var req struct {
		Key   string      `json:"key"`
		Value interface{} `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := p.Store().Set(req.Key, req.Value); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, settingsOf(p))
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pipeline(w, r)
	if !ok {
		return
	}
	var req struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := silhouette.ValidateSize(req.Width, req.Height); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := p.Resize(req.Width, req.Height); err != nil {
		status := http.StatusConflict
		if errors.Is(err, pipeline.ErrInvalidSize) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, p.Status())
}

func (s *Server) handleResetGrid(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pipeline(w, r)
	if !ok {
		return
	}
	if err := p.ResetGrid(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, p.Status())
}

// handleInstances streams wall snapshots as binary websocket messages.
func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pipeline(w, r)
	if !ok {
		return
	}
	pool := p.Pool()
	if pool == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("pipeline %q has no instances", p.ID()))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	updates, unsubscribe := p.Subscribe()
	defer unsubscribe()

	// The client never sends; reading detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log := s.log.With().Str("pipeline", p.ID()).Logger()
	log.Debug().Msg("Instance stream opened")
	defer log.Debug().Msg("Instance stream closed")

	if err := writeSnapshot(conn, pool.Snapshot()); err != nil {
		return
	}
	for {
		select {
		case <-closed:
			return
		case snap, ok := <-updates:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "pipeline closed"),
					time.Now().Add(writeWait))
				return
			}
			if err := writeSnapshot(conn, snap); err != nil {
				log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		}
	}
}

func writeSnapshot(conn *websocket.Conn, snap projection.Snapshot) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	wr, err := conn.NextWriter(websocket.BinaryMessage)
	if err != nil {
		return err
	}
	if _, err := snap.WriteTo(wr); err != nil {
		wr.Close()
		return err
	}
	return wr.Close()
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request) bool {
	id := mux.Vars(r)["id"]
	if id != pipeline.ScreenID || s.inst.Stream() == nil {
		http.NotFound(w, r)
		return false
	}
	return true
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.stream(w, r) {
		s.inst.Stream().ServeHTTP(w, r)
	}
}

func (s *Server) handleStreamStats(w http.ResponseWriter, r *http.Request) {
	if s.stream(w, r) {
		s.inst.Stream().StatsHandler()(w, r)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	var sb strings.Builder
	sb.WriteString(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>MirrorRoom</title>
    <style>
        body { font-family: monospace; background: #000; color: #eee; margin: 40px; }
        a { color: #8cf; }
        img { max-width: 100%; border: 1px solid #333; }
    </style>
</head>
<body>
    <h1>MirrorRoom</h1>
    <ul>
        <li><a href="/api/health">/api/health</a></li>
        <li><a href="/api/device">/api/device</a></li>
        <li><a href="/api/pipelines">/api/pipelines</a></li>
`)
	for _, p := range s.inst.Pipelines() {
		fmt.Fprintf(&sb, "        <li><a href=\"/api/pipelines/%[1]s\">%[1]s</a> (%[2]s)</li>\n", p.ID(), p.Kind())
	}
	sb.WriteString("    </ul>\n")
	if s.inst.Stream() != nil {
		fmt.Fprintf(&sb, "    <img src=\"/stream/%s\" alt=\"screen\">\n", pipeline.ScreenID)
	}
	sb.WriteString("</body>\n</html>\n")

	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(sb.String()))
}
