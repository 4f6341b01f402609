// Package server exposes a gloomtier.Checker over HTTP.
//
// Routes:
//
//	GET  /api/check-username?username=V  availability of V
//	POST /api/register                   register {"username", "email"}
//	GET  /api/stats                      checker counters and filter occupancy
//	GET  /api/stream                     demo events as server-sent events
//	GET  /api/ws                         demo events over a websocket
//	GET  /healthz                        200 once the server is ready
//
// Until SetReady(true) is called every /api route except the event streams
// answers 503, so a process that is still seeding never reports a taken value
// as available.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jcalabro/gloomtier"
	"github.com/jcalabro/gloomtier/events"
)

const (
	// maxRegisterBody bounds the size of a registration request.
	maxRegisterBody = 4 << 10

	// wsWriteWait is the time allowed to write one websocket message.
	wsWriteWait = 10 * time.Second
)

// Config holds the dependencies of a Server.
type Config struct {
	Checker *gloomtier.Checker

	// Events generates the demo stream. Nil uses a Producer with the
	// default interval.
	Events *events.Producer
}

// Server is an http.Handler. It is safe for concurrent use.
type Server struct {
	checker  *gloomtier.Checker
	producer *events.Producer
	upgrader websocket.Upgrader
	mux      *http.ServeMux
	ready    atomic.Bool
}

// New returns a Server that is not yet ready.
func New(cfg Config) *Server {
	producer := cfg.Events
	if producer == nil {
		producer = &events.Producer{Interval: events.DefaultInterval}
	}

	s := &Server{
		checker:  cfg.Checker,
		producer: producer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		mux: http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /api/check-username", s.requireReady(s.handleCheck))
	s.mux.HandleFunc("POST /api/register", s.requireReady(s.handleRegister))
	s.mux.HandleFunc("GET /api/stats", s.requireReady(s.handleStats))
	s.mux.HandleFunc("GET /api/stream", s.handleStream)
	s.mux.HandleFunc("GET /api/ws", s.handleWebsocket)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	return s
}

// SetReady marks the server as able to answer membership queries.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) requireReady(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "service starting"})
			return
		}
		next(w, r)
	}
}

type checkResponse struct {
	Available     bool   `json:"available"`
	Username      string `json:"username,omitempty"`
	ResolvedBy    string `json:"resolvedBy,omitempty"`
	FalsePositive bool   `json:"falsePositive"`
	Message       string `json:"message,omitempty"`
}

type registerRequest struct {
	Username string  `json:"username"`
	Email    *string `json:"email,omitempty"`
}

type registerResponse struct {
	Username string `json:"username"`
	Created  bool   `json:"created"`
	Message  string `json:"message,omitempty"`
}

type statsResponse struct {
	Checker     gloomtier.CheckerStats `json:"checker"`
	Filter      *gloomtier.FilterStats `json:"filter,omitempty"`
	FilterError string                 `json:"filterError,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleCheck answers an availability query. A missing or blank username is
// a client error whose body still carries available=true, matching what
// existing clients of this endpoint expect.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	res, err := s.checker.CheckAvailability(r.Context(), r.URL.Query().Get("username"))
	switch {
	case errors.Is(err, gloomtier.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, checkResponse{
			Available: true,
			Message:   "Username is required",
		})
		return

	case err != nil:
		log.Errorf("Availability check failed: %v", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "service unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, checkResponse{
		Available:     res.Available,
		Username:      res.Value,
		ResolvedBy:    res.ResolvedBy.String(),
		FalsePositive: res.FalsePositive,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRegisterBody))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	created, err := s.checker.RegisterValue(r.Context(), req.Username, gloomtier.Metadata{Email: req.Email})
	switch {
	case errors.Is(err, gloomtier.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Username is required"})

	case err != nil:
		log.Errorf("Registration failed: %v", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "service unavailable"})

	case !created:
		writeJSON(w, http.StatusConflict, registerResponse{
			Username: req.Username,
			Message:  "Username is taken",
		})

	default:
		log.Debugf("Registered %q", req.Username)
		writeJSON(w, http.StatusCreated, registerResponse{Username: req.Username, Created: true})
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Checker: s.checker.Stats()}
	fs, err := s.checker.Filter().Stats(r.Context())
	switch {
	case err == nil:
		resp.Filter = &fs
	case errors.Is(err, gloomtier.ErrDumpUnsupported):
		resp.FilterError = "bit store does not support statistics"
	default:
		log.Errorf("Reading filter statistics failed: %v", err)
		resp.FilterError = "unavailable"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debugf("Writing response: %v", err)
	}
}
