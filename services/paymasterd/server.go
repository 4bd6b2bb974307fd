package paymasterd

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"paymaster/engine"
	"paymaster/payout"
	"paymaster/safe"
)

// Server exposes the operator API: compute a run, inspect it, queue it, and
// poll its lifecycle status.
type Server struct {
	engine *engine.Engine
	flows  Flows
	runs   *runStore
	log    *slog.Logger

	router http.Handler
}

// NewServer wires the engine and configured flows behind the admin router.
func NewServer(eng *engine.Engine, flows Flows, auth *Authenticator, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	srv := &Server{
		engine: eng,
		flows:  flows,
		runs:   newRunStore(defaultRunCapacity),
		log:    log,
	}
	srv.router = srv.buildRouter(auth)
	return srv
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter(auth *Authenticator) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(admin chi.Router) {
		admin.Use(auth.Middleware)
		admin.Post("/runs/partners", s.handleComputePartners)
		admin.Post("/runs/tiered", s.handleComputeTiered)
		admin.Post("/runs/seats", s.handleComputeSeats)
		admin.Post("/runs/manual", s.handleComputeManual)
		admin.Get("/runs/{id}", s.handleGetRun)
		admin.Post("/runs/{id}/submit", s.handleSubmitRun)
		admin.Get("/runs/{id}/status", s.handleRunStatus)
		admin.Get("/status", s.handleStatus)
		admin.Post("/pause", s.handlePause)
		admin.Post("/resume", s.handleResume)
	})
	return r
}

type runRecord struct {
	ID         string  `json:"id"`
	Address    string  `json:"address"`
	Activity   float64 `json:"activity,omitempty"`
	Percentage float64 `json:"percentage,omitempty"`
	Amount     float64 `json:"amount"`
	Token      string  `json:"token"`
}

type runResponse struct {
	ID      string               `json:"id"`
	Kind    string               `json:"kind"`
	Period  string               `json:"period"`
	Blocks  map[string]blockSpan `json:"blocks,omitempty"`
	Records []runRecord          `json:"records"`
}

type blockSpan struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

func runToResponse(run *engine.Run) runResponse {
	resp := runResponse{
		ID:      run.ID,
		Kind:    run.Kind,
		Period:  run.Period.Label,
		Records: make([]runRecord, 0, len(run.Records)),
	}
	if len(run.Blocks) > 0 {
		resp.Blocks = make(map[string]blockSpan, len(run.Blocks))
		for chainName, span := range run.Blocks {
			resp.Blocks[chainName] = blockSpan{Start: span.Start, End: span.End}
		}
	}
	for _, record := range run.Records {
		resp.Records = append(resp.Records, runRecord{
			ID:         record.ID,
			Address:    record.Address.Hex(),
			Activity:   record.Activity,
			Percentage: record.Percentage,
			Amount:     record.Amount,
			Token:      record.Token.Hex(),
		})
	}
	return resp
}

func (s *Server) storeAndRespond(w http.ResponseWriter, run *engine.Run) {
	s.runs.Put(run)
	writeJSON(w, http.StatusCreated, runToResponse(run))
}

func (s *Server) handleComputePartners(w http.ResponseWriter, r *http.Request) {
	if s.flows.Partners == nil {
		http.Error(w, "partners flow not configured", http.StatusNotFound)
		return
	}
	run, err := s.engine.ComputePartners(r.Context(), *s.flows.Partners)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.storeAndRespond(w, run)
}

func (s *Server) handleComputeTiered(w http.ResponseWriter, r *http.Request) {
	if s.flows.Tiered == nil {
		http.Error(w, "tiered flow not configured", http.StatusNotFound)
		return
	}
	run, err := s.engine.ComputeTiered(r.Context(), *s.flows.Tiered)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.storeAndRespond(w, run)
}

func (s *Server) handleComputeSeats(w http.ResponseWriter, r *http.Request) {
	if s.flows.Seats == nil {
		http.Error(w, "seats flow not configured", http.StatusNotFound)
		return
	}
	run, err := s.engine.ComputeSeats(r.Context(), *s.flows.Seats)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.storeAndRespond(w, run)
}

type manualRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleComputeManual(w http.ResponseWriter, r *http.Request) {
	if s.flows.Manual == nil {
		http.Error(w, "manual flow not configured", http.StatusNotFound)
		return
	}
	var req manualRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	run, err := s.engine.ComputeManual(r.Context(), engine.ManualSpec{
		Text:   req.Text,
		Tokens: s.flows.Manual.Tokens,
		Chain:  s.flows.Manual.Chain,
		Safe:   s.flows.Manual.Safe,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.storeAndRespond(w, run)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runs.Get(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, runToResponse(run))
}

type submitResponse struct {
	Queued  int `json:"queued"`
	Skipped int `json:"skipped"`
}

func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runs.Get(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	result, err := s.engine.Submit(r.Context(), run)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{
		Queued:  len(result.Queued),
		Skipped: len(result.Skipped),
	})
}

type statusResponse struct {
	Status       string `json:"status"`
	PendingError string `json:"pending_error,omitempty"`
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runs.Get(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	result, err := s.engine.Status(r.Context(), run)
	if err != nil {
		s.respondError(w, err)
		return
	}
	resp := statusResponse{Status: result.Status.String()}
	if result.PendingErr != nil {
		resp.PendingError = result.PendingErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

type serviceStatus struct {
	Paused bool `json:"paused"`
	Runs   int  `json:"runs"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, serviceStatus{
		Paused: s.engine.Paused(),
		Runs:   s.runs.Len(),
	})
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	s.engine.Pause()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	s.engine.Resume()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrPaused):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, payout.ErrInsufficientFunds):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, safe.ErrSubmissionFailed):
		s.log.Error("relay submission failed", "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		s.log.Error("run request failed", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
