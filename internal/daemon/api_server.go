package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"ballotscan/internal/adjudication"
	"ballotscan/internal/ballot"
	"ballotscan/internal/config"
	"ballotscan/internal/logging"
	"ballotscan/internal/metrics"
	"ballotscan/internal/orchestrator"
	"ballotscan/internal/scanctx"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

// StateResponse wraps the ballot state for /api/state.
type StateResponse struct {
	State ballot.State `json:"state"`
}

// ReviewResponse is returned by /api/review.
type ReviewResponse struct {
	Pending bool                  `json:"pending"`
	Content *adjudication.Content `json:"content,omitempty"`
}

// HistoryResponse is returned by /api/history.
type HistoryResponse struct {
	Transitions []orchestrator.Transition `json:"transitions"`
}

type pollsRequest struct {
	Open bool `json:"open"`
}

type cardRequest struct {
	Inserted bool `json:"inserted"`
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg.Paths.APIToken),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) routes(token string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.requireToken(token, s.handleStatus))
	mux.HandleFunc("/api/state", s.requireToken(token, s.handleState))
	mux.HandleFunc("/api/review", s.requireToken(token, s.handleReview))
	mux.HandleFunc("/api/accept", s.requireToken(token, s.handleAccept))
	mux.HandleFunc("/api/calibrate", s.requireToken(token, s.handleCalibrate))
	mux.HandleFunc("/api/polls", s.requireToken(token, s.handlePolls))
	mux.HandleFunc("/api/card", s.requireToken(token, s.handleCard))
	mux.HandleFunc("/api/health", s.requireToken(token, s.handleHealth))
	mux.HandleFunc("/api/history", s.requireToken(token, s.handleHistory))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
	// http.Server cannot Serve again after Shutdown.
	s.server = &http.Server{
		Handler:           s.server.Handler,
		ReadHeaderTimeout: s.server.ReadHeaderTimeout,
		ReadTimeout:       s.server.ReadTimeout,
		WriteTimeout:      s.server.WriteTimeout,
		IdleTimeout:       s.server.IdleTimeout,
	}
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, StateResponse{State: s.daemon.State()})
}

func (s *apiServer) handleReview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	content, ok := s.daemon.Review()
	if !ok {
		s.writeJSON(w, http.StatusOK, ReviewResponse{})
		return
	}
	s.writeJSON(w, http.StatusOK, ReviewResponse{Pending: true, Content: &content})
}

func (s *apiServer) handleAccept(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	state, err := s.daemon.AcceptWithErrors(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, StateResponse{State: state})
}

func (s *apiServer) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.daemon.Calibrate(r.Context()); err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"calibrated": true})
}

func (s *apiServer) handlePolls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req pollsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.daemon.SetPollsOpen(r.Context(), req.Open); err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"pollsOpen": req.Open})
}

func (s *apiServer) handleCard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req cardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.daemon.SetCardInserted(req.Inserted)
	s.writeJSON(w, http.StatusOK, map[string]bool{"cardInserted": req.Inserted})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Health())
}

func (s *apiServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit := 0
	if value := strings.TrimSpace(r.URL.Query().Get("limit")); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	s.writeJSON(w, http.StatusOK, HistoryResponse{Transitions: s.daemon.History(limit)})
}

// statusForError maps scan failures onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, scanctx.ErrInvalidState), errors.Is(err, scanctx.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, scanctx.ErrTransport), errors.Is(err, scanctx.ErrProtocol),
		errors.Is(err, scanctx.ErrHardware), errors.Is(err, scanctx.ErrTimeout):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) writeFailure(w http.ResponseWriter, err error) {
	s.writeJSON(w, statusForError(err), map[string]string{
		"error": err.Error(),
		"hint":  scanctx.Hint(err),
	})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String("component", "api-server"))
	}
	return logging.NewNop()
}
