package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"i4.energy/across/hm10bridge/at"
	"i4.energy/across/hm10bridge/hm10"
)

// Bridge is the part of the driver the HTTP server uses. *hm10.Device
// implements it.
type Bridge interface {
	Connected() bool
	MasterMAC() string
	LinkState() hm10.LinkState
	IsAlive(ctx context.Context) bool
	MACAddress(ctx context.Context) (string, error)
	Name(ctx context.Context) (string, error)
	FirmwareVersion(ctx context.Context) (string, error)
	Role(ctx context.Context) (at.Role, error)
	Send(ctx context.Context, data []byte) error
	Reboot(ctx context.Context, waitForStartup bool) error
}

// Inbox keeps the most recent payload received from the master.
type Inbox struct {
	mu       sync.Mutex
	data     []byte
	received time.Time
}

// Store records a payload. The slice is copied.
func (i *Inbox) Store(data []byte) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.data = append(i.data[:0], data...)
	i.received = time.Now()
}

// Last returns the most recent payload and when it arrived.
func (i *Inbox) Last() ([]byte, time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]byte(nil), i.data...), i.received
}

// Server handles incoming HTTP requests for interacting with the
// configured module. Module commands are serialized since the driver runs
// one command at a time.
type Server struct {
	Logger *slog.Logger
	Bridge Bridge
	Inbox  *Inbox

	// mu serializes module commands
	mu     sync.Mutex
	once   sync.Once
	router http.Handler
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.once.Do(func() { s.router = s.routes() })
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/info", s.handleInfo)
	r.Get("/inbox", s.handleInbox)
	r.Post("/send", s.handleSend)
	r.Post("/reboot", s.handleReboot)
	return r
}

// Alive runs the module liveness check between HTTP commands. AT would
// drop a connected master, so a live connection counts as alive.
func (s *Server) Alive(ctx context.Context) bool {
	if s.Bridge.Connected() {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Bridge.IsAlive(ctx)
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	resp := ErrorResponse{Message: message}
	s.sendJSON(w, resp, statusCode)
}

func (s *Server) sendJSON(w http.ResponseWriter, v any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Warn("Failed to encode response", "error", err)
	}
}

// statusFor maps driver errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, hm10.ErrTooLong), errors.Is(err, hm10.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, hm10.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, hm10.ErrReceiveTimeout), errors.Is(err, hm10.ErrNotAlive):
		return http.StatusGatewayTimeout
	case errors.Is(err, hm10.ErrAlreadyClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.Alive(r.Context()) {
		s.sendError(w, "module not responding", http.StatusServiceUnavailable)
		return
	}
	s.sendJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	type StatusResponse struct {
		Connected   bool   `json:"connected"`
		MasterMAC   string `json:"master_mac,omitempty"`
		BaudRate    int    `json:"baud_rate"`
		PendingBaud int    `json:"pending_baud_rate"`
		Phase       string `json:"phase"`
	}

	link := s.Bridge.LinkState()
	s.sendJSON(w, StatusResponse{
		Connected:   s.Bridge.Connected(),
		MasterMAC:   s.Bridge.MasterMAC(),
		BaudRate:    link.Current.Value(),
		PendingBaud: link.Pending.Value(),
		Phase:       link.Phase.String(),
	}, http.StatusOK)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	type InfoResponse struct {
		MAC     string `json:"mac"`
		Name    string `json:"name"`
		Version string `json:"version"`
		Role    string `json:"role"`
	}

	// While connected the module forwards the UART to the master
	if s.Bridge.Connected() {
		s.sendError(w, "module busy with a master connection", http.StatusConflict)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := r.Context()
	var resp InfoResponse
	var err error
	if resp.MAC, err = s.Bridge.MACAddress(ctx); err != nil {
		s.Logger.Error("Failed to query MAC address", "error", err)
		s.sendError(w, err.Error(), statusFor(err))
		return
	}
	if resp.Name, err = s.Bridge.Name(ctx); err != nil {
		s.Logger.Error("Failed to query name", "error", err)
		s.sendError(w, err.Error(), statusFor(err))
		return
	}
	if resp.Version, err = s.Bridge.FirmwareVersion(ctx); err != nil {
		s.Logger.Error("Failed to query firmware version", "error", err)
		s.sendError(w, err.Error(), statusFor(err))
		return
	}
	role, err := s.Bridge.Role(ctx)
	if err != nil {
		s.Logger.Error("Failed to query role", "error", err)
		s.sendError(w, err.Error(), statusFor(err))
		return
	}
	resp.Role = role.String()

	s.sendJSON(w, resp, http.StatusOK)
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	data, received := s.Inbox.Last()
	if received.IsZero() {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	type InboxResponse struct {
		Data     string    `json:"data"`
		Received time.Time `json:"received"`
	}
	s.sendJSON(w, InboxResponse{Data: string(data), Received: received}, http.StatusOK)
}

// handleSend forwards a payload to the connected master
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	type SendRequest struct {
		Data string `json:"data"`
	}

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Data == "" {
		s.sendError(w, "'data' field is required", http.StatusBadRequest)
		return
	}

	if !s.Bridge.Connected() {
		s.sendError(w, "no master connected", http.StatusConflict)
		return
	}

	s.mu.Lock()
	err := s.Bridge.Send(r.Context(), []byte(req.Data))
	s.mu.Unlock()
	if err != nil {
		s.Logger.Error("Failed to send data", "error", err, "length", len(req.Data))
		s.sendError(w, err.Error(), statusFor(err))
		return
	}

	s.Logger.Info("Data sent successfully", "master", s.Bridge.MasterMAC(), "length", len(req.Data))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleReboot(w http.ResponseWriter, r *http.Request) {
	if s.Bridge.Connected() {
		s.sendError(w, "module busy with a master connection", http.StatusConflict)
		return
	}

	s.mu.Lock()
	err := s.Bridge.Reboot(r.Context(), true)
	s.mu.Unlock()
	if err != nil {
		s.Logger.Error("Failed to reboot module", "error", err)
		s.sendError(w, err.Error(), statusFor(err))
		return
	}

	s.Logger.Info("Module rebooted")
	w.WriteHeader(http.StatusOK)
}
