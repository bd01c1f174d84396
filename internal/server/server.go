package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/audiolibrelab/devswitch/internal/audio"
	"github.com/audiolibrelab/devswitch/internal/config"
	"github.com/audiolibrelab/devswitch/internal/service"
	"github.com/audiolibrelab/devswitch/internal/switcher"
)

// Server represents the HTTP control API for devswitch
type Server struct {
	service    service.Service
	configFile string
	port       string
	mux        *http.ServeMux
	upgrader   websocket.Upgrader
	log        *slog.Logger
}

// DevicesResponse represents the JSON response for the devices endpoint
type DevicesResponse struct {
	Direction string         `json:"direction"`
	Devices   []audio.Device `json:"devices"`
	Error     string         `json:"error,omitempty"`
}

// SwitchRequest selects a device by target grammar or by index. Index takes
// precedence when both are set.
type SwitchRequest struct {
	Direction string `json:"direction"`
	Target    string `json:"target"`
	Index     *int   `json:"index,omitempty"`
}

// DefaultRequest activates the default communication device
type DefaultRequest struct {
	Direction string `json:"direction"`
}

// SwitchResponse is returned once an intent has been scheduled
type SwitchResponse struct {
	Success bool            `json:"success"`
	Intent  switcher.Intent `json:"intent"`
}

// DefaultEndpointResponse represents the OS default endpoint of a direction
type DefaultEndpointResponse struct {
	Direction string `json:"direction"`
	ID        string `json:"id"`
	Name      string `json:"name"`
}

// ProfilesResponse lists the configuration profiles
type ProfilesResponse struct {
	Profiles []string `json:"profiles"`
	Active   string   `json:"active"`
}

const (
	eventBuffer   = 64
	pingInterval  = 30 * time.Second
	writeDeadline = 10 * time.Second
)

// New creates a new web server instance
func New(svc service.Service, configFile, port string) *Server {
	s := &Server{
		service:    svc,
		configFile: configFile,
		port:       port,
		mux:        http.NewServeMux(),
		log:        slog.Default().With("component", "server"),
		upgrader: websocket.Upgrader{
			// Local control API; non-browser clients send no Origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/api/devices", s.handleDevices)
	s.mux.HandleFunc("/api/switch", s.handleSwitch)
	s.mux.HandleFunc("/api/default", s.handleDefault)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/config/profiles", s.handleProfiles)
	if m := svc.Metrics(); m != nil {
		s.mux.Handle("/metrics", m.Handler())
	}
	return s
}

// Handler returns the request router
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves until ctx is canceled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	localIP := getLocalIP()
	s.log.Info("Starting devswitch control server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("Control server stopped")
	return nil
}

// handleIndex lists the API endpoints
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	fmt.Fprint(w, `devswitch control API

GET  /api/devices?direction=playout|recording
POST /api/switch   {"direction": "...", "target": "default|#<n>|<id>"} or {"direction": "...", "index": n}
POST /api/default  {"direction": "..."}
GET  /api/default?direction=playout|recording
GET  /api/status
GET  /api/events   (websocket)
GET  /config/profiles
GET  /metrics
`)
}

// handleDevices enumerates one or both directions
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	dirs := audio.Directions
	if q := r.URL.Query().Get("direction"); q != "" {
		dir, err := audio.ParseDirection(q)
		if err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		dirs = []audio.Direction{dir}
	}

	response := make([]DevicesResponse, 0, len(dirs))
	for _, dir := range dirs {
		entry := DevicesResponse{Direction: dir.String(), Devices: []audio.Device{}}
		devices, err := s.service.ListDevices(dir)
		if err != nil {
			s.log.Warn("Device enumeration failed", "direction", dir.String(), "error", err)
			entry.Error = err.Error()
		} else {
			entry.Devices = devices
		}
		response = append(response, entry)
	}

	s.sendJSON(w, http.StatusOK, response)
}

// handleSwitch schedules a switch and answers 202 with the intent
func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req SwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid JSON body", "error", err)
		return
	}
	dir, err := audio.ParseDirection(req.Direction)
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	var intent switcher.Intent
	if req.Index != nil {
		intent, err = s.service.SelectIndex(dir, *req.Index)
	} else {
		intent, err = s.service.RequestSwitch(dir, req.Target)
	}
	if err != nil {
		s.sendErrorResponse(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	s.log.Info("Switch scheduled", "intent", intent.String())
	s.sendJSON(w, http.StatusAccepted, SwitchResponse{Success: true, Intent: intent})
}

// handleDefault reports the OS default endpoint (GET) or activates the
// default communication device (POST)
func (s *Server) handleDefault(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		dir, err := audio.ParseDirection(r.URL.Query().Get("direction"))
		if err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		ep, err := s.service.DefaultEndpoint(dir)
		if err != nil {
			s.sendErrorResponse(w, http.StatusNotImplemented, err.Error())
			return
		}
		s.sendJSON(w, http.StatusOK, DefaultEndpointResponse{Direction: dir.String(), ID: ep.ID, Name: ep.Name})

	case http.MethodPost:
		var req DefaultRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, "Invalid JSON body", "error", err)
			return
		}
		dir, err := audio.ParseDirection(req.Direction)
		if err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		intent, err := s.service.ActivateDefault(dir)
		if err != nil {
			s.sendErrorResponse(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.sendJSON(w, http.StatusAccepted, SwitchResponse{Success: true, Intent: intent})

	default:
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleStatus returns engine, listener and per-direction state
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.sendJSON(w, http.StatusOK, s.service.GetStatus())
}

// handleProfiles returns available configuration profiles
func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	response := ProfilesResponse{Profiles: []string{}}
	if _, err := os.Stat(s.configFile); err == nil {
		profiles, err := config.ListProfiles(s.configFile)
		if err != nil {
			s.sendErrorResponse(w, http.StatusInternalServerError, "Failed to list profiles", "error", err)
			return
		}
		response.Profiles = profiles
		if root, err := config.ValidateConfigurationFormat(s.configFile); err == nil {
			response.Active = root.ActiveConfig
		}
	}
	s.sendJSON(w, http.StatusOK, response)
}

// handleEvents streams service events over a websocket
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events := make(chan service.Event, eventBuffer)
	cancel := s.service.Subscribe(func(ev service.Event) {
		select {
		case events <- ev:
		default:
			s.log.Debug("Dropping event for slow websocket client", "remote", r.RemoteAddr)
		}
	})
	defer cancel()

	// The reader only exists to notice the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.log.Debug("Event stream client connected", "remote", r.RemoteAddr)
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			s.log.Debug("Event stream client disconnected", "remote", r.RemoteAddr)
			return

		case ev := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteJSON(ev); err != nil {
				s.log.Debug("Error writing event", "error", err)
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("Failed to encode response", "error", err)
	}
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	// Log the error with structured context
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	s.log.Error("Sending error response to client", logFields...)

	// Send JSON error response
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
