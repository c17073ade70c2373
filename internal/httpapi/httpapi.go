// Package httpapi provides a local REST API over the mirrored Noon
// topology: read endpoints for spaces, lines and devices, and control
// endpoints for brightness and scenes.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jkporter/noond/internal/core/client"
	"github.com/jkporter/noond/internal/core/entity"
)

// Mirror is the slice of the client facade the API serves from.
type Mirror interface {
	Spaces() []*entity.Space
	Lines() []*entity.Line
	Devices() []*entity.Device
	Registry() *entity.Registry
	State() client.StreamState
}

// Config holds HTTP API configuration.
type Config struct {
	Addr    string `yaml:"addr"`
	CORSAll bool   `yaml:"cors_all"`
}

// Server serves the local REST API.
type Server struct {
	cfg    Config
	mirror Mirror
	log    *slog.Logger
	srv    *http.Server
}

// New creates a new API server.
func New(cfg Config, mirror Mirror, log *slog.Logger) *Server {
	return &Server{cfg: cfg, mirror: mirror, log: log}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/spaces", s.handleSpaces)
	mux.HandleFunc("GET /api/lines", s.handleLines)
	mux.HandleFunc("GET /api/devices", s.handleDevices)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/lines/{guid}/brightness", s.handleSetBrightness)
	mux.HandleFunc("POST /api/spaces/{guid}/scene", s.handleSetScene)

	var handler http.Handler = mux
	if s.cfg.CORSAll {
		handler = corsAll(mux)
	}

	s.srv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.log.Info("HTTP API listening", "addr", s.cfg.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleSpaces(w http.ResponseWriter, _ *http.Request) {
	out := []map[string]any{}
	for _, sp := range s.mirror.Spaces() {
		out = append(out, spaceJSON(sp))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLines(w http.ResponseWriter, _ *http.Request) {
	out := []map[string]any{}
	for _, l := range s.mirror.Lines() {
		out = append(out, lineJSON(l))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	out := []map[string]any{}
	for _, d := range s.mirror.Devices() {
		out = append(out, deviceJSON(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"stream":  s.mirror.State(),
		"spaces":  len(s.mirror.Spaces()),
		"lines":   len(s.mirror.Lines()),
		"devices": len(s.mirror.Devices()),
	})
}

func (s *Server) handleSetBrightness(w http.ResponseWriter, r *http.Request) {
	line := s.mirror.Registry().Line(r.PathValue("guid"))
	if line == nil {
		writeError(w, http.StatusNotFound, "unknown line")
		return
	}
	var body struct {
		Brightness int `json:"brightness"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := line.SetBrightness(body.Brightness); err != nil {
		if errors.Is(err, entity.ErrInvalidParameters) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSetScene(w http.ResponseWriter, r *http.Request) {
	space := s.mirror.Registry().Space(r.PathValue("guid"))
	if space == nil {
		writeError(w, http.StatusNotFound, "unknown space")
		return
	}
	var body struct {
		Scene  string `json:"scene"`
		Active *bool  `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	active := true
	if body.Active != nil {
		active = *body.Active
	}
	if err := space.SetSceneActive(active, body.Scene); err != nil {
		if errors.Is(err, entity.ErrInvalidParameters) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func spaceJSON(sp *entity.Space) map[string]any {
	scenes := []map[string]any{}
	for _, sc := range sp.Scenes() {
		scenes = append(scenes, map[string]any{"guid": sc.GUID(), "name": sc.Name()})
	}
	out := map[string]any{
		"guid":   sp.GUID(),
		"name":   sp.Name(),
		"scenes": scenes,
	}
	if on := sp.LightsOn(); on != nil {
		out["lightsOn"] = *on
	}
	if guid := sp.ActiveScene(); guid != "" {
		out["activeScene"] = guid
	}
	return out
}

func lineJSON(l *entity.Line) map[string]any {
	out := map[string]any{
		"guid": l.GUID(),
		"name": l.Name(),
	}
	if sp := l.Space(); sp != nil {
		out["space"] = sp.GUID()
	}
	if state := l.LineState(); state != nil {
		out["lineState"] = state
	}
	if dl := l.DimmingLevel(); dl != nil {
		out["dimmingLevel"] = *dl
	}
	return out
}

func deviceJSON(d *entity.Device) map[string]any {
	out := map[string]any{
		"guid":            d.GUID(),
		"name":            d.Name(),
		"serial":          d.Serial(),
		"isOnline":        d.IsOnline(),
		"isMaster":        d.IsMaster(),
		"scenesAllowed":   d.ScenesAllowed(),
		"softwareVersion": d.SoftwareVersion(),
	}
	if sp := d.Space(); sp != nil {
		out["space"] = sp.GUID()
	}
	if l := d.Line(); l != nil {
		out["line"] = l.GUID()
	}
	if bl := d.BatteryLevel(); bl != nil {
		out["batteryLevel"] = *bl
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func corsAll(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
