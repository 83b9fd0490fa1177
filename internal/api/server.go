package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"bhyvesync/internal/bhyve"
	"bhyvesync/internal/syncer"
)

// Server exposes the synchronizer's snapshot over HTTP for inspection
// and health checking.
type Server struct {
	sync   *syncer.Synchronizer
	logger *zap.Logger
	server *http.Server
}

// NewServer creates an HTTP server over the given synchronizer.
func NewServer(sync *syncer.Synchronizer, logger *zap.Logger, port int) *Server {
	s := &Server{
		sync:   sync,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleSitemap)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)
	mux.HandleFunc("/api/devices/", s.handleDevice)
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SnapshotResponse is the JSON body of the snapshot endpoint.
type SnapshotResponse struct {
	Revision uint64               `json:"revision"`
	State    string               `json:"state"`
	Devices  []bhyve.Device       `json:"devices"`
	Programs []bhyve.TimerProgram `json:"programs"`
}

// DeviceResponse is the JSON body of the per-device endpoint.
type DeviceResponse struct {
	Device   bhyve.Device                 `json:"device"`
	Programs []bhyve.TimerProgram         `json:"programs"`
	History  []bhyve.WateringHistoryEntry `json:"history,omitempty"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data := s.sync.Snapshot()
	response := SnapshotResponse{
		Revision: s.sync.Revision(),
		State:    string(s.sync.State()),
		Devices:  data.Devices,
		Programs: data.Programs,
	}

	s.writeJSON(w, response)
	s.logger.Debug("Snapshot request served",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Uint64("revision", response.Revision))
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	deviceID := strings.TrimPrefix(r.URL.Path, "/api/devices/")
	if deviceID == "" || strings.Contains(deviceID, "/") {
		http.NotFound(w, r)
		return
	}

	device, ok := s.sync.GetDevice(deviceID)
	if !ok {
		http.NotFound(w, r)
		return
	}

	s.writeJSON(w, DeviceResponse{
		Device:   device,
		Programs: s.sync.ProgramsForDevice(deviceID),
		History:  s.sync.History(deviceID),
	})
}

// handleHealth reports ok while the synchronizer is running; a stopped
// or never-started synchronizer reads as unavailable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state := s.sync.State()
	status := http.StatusOK
	if state == syncer.StateIdle || state == syncer.StateStopped {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"status": string(state),
	})
}

// handleSitemap lists the available endpoints for anyone poking the
// root path. Returns 404 so probes do not mistake it for content.
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	fmt.Fprintf(w, "BHyve Sync API\n")
	fmt.Fprintf(w, "==============\n\n")
	fmt.Fprintf(w, "  GET  /health              synchronizer state\n")
	fmt.Fprintf(w, "  GET  /api/snapshot        full device and program snapshot\n")
	fmt.Fprintf(w, "  GET  /api/devices/{id}    one device with its programs and history\n")
	fmt.Fprintf(w, "  GET  /metrics             prometheus metrics\n")
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
