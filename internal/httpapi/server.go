package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/payerwatch/payerwatch/internal/domain"
	"github.com/payerwatch/payerwatch/internal/metrics"
	"github.com/payerwatch/payerwatch/internal/persistence"
	"github.com/payerwatch/payerwatch/internal/runner"
)

// customerHeader carries the customer identity resolved by the external
// tenancy boundary. The core never resolves tenancy itself and rejects
// requests lacking it.
const customerHeader = "X-Customer-ID"

// Server exposes read-only projections (runs, alert counts), the judgment
// feedback endpoint, run triggering, metrics, and the live event feed.
type Server struct {
	router  *mux.Router
	coord   *runner.Coordinator
	repos   persistence.Repository
	metrics *metrics.Registry
	hub     *Hub
}

// NewServer builds the router. The hub may be nil when no live feed is
// wanted.
func NewServer(coord *runner.Coordinator, repos persistence.Repository, m *metrics.Registry, hub *Hub) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		coord:   coord,
		repos:   repos,
		metrics: m,
		hub:     hub,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/runs", s.handleListRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs", s.handleTriggerRun).Methods(http.MethodPost)
	api.HandleFunc("/runs/{id}", s.handleGetRun).Methods(http.MethodGet)
	api.HandleFunc("/alerts/summary", s.handleAlertSummary).Methods(http.MethodGet)
	api.HandleFunc("/judgments", s.handleRecordJudgment).Methods(http.MethodPost)

	if s.hub != nil {
		s.router.HandleFunc("/ws/events", s.hub.handleWS)
	}
}

// Handler returns the root handler for http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	customerID, ok := requireCustomer(w, r)
	if !ok {
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	runs, err := s.repos.Runs.ListByCustomer(r.Context(), customerID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	customerID, ok := requireCustomer(w, r)
	if !ok {
		return
	}
	run, err := s.repos.Runs.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	// Another tenant's run is indistinguishable from a missing one.
	if run == nil || run.CustomerID != customerID {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	customerID, ok := requireCustomer(w, r)
	if !ok {
		return
	}

	run, err := s.coord.Execute(r.Context(), customerID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, run)
	case errors.Is(err, domain.ErrConcurrencyConflict):
		writeError(w, http.StatusConflict, "computation already in progress, try again later")
	default:
		var rfe *domain.RunFailedError
		if errors.As(err, &rfe) {
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error":  "run failed, retry with a new run",
				"run_id": rfe.RunID,
			})
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to start run")
	}
}

func (s *Server) handleAlertSummary(w http.ResponseWriter, r *http.Request) {
	customerID, ok := requireCustomer(w, r)
	if !ok {
		return
	}
	counts, err := s.repos.Alerts.CountByState(r.Context(), customerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count alerts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"customer_id": customerID, "states": counts})
}

type judgmentRequest struct {
	AlertEventID string `json:"alert_event_id"`
	Fingerprint  string `json:"fingerprint"`
	Verdict      string `json:"verdict"`
	Notes        string `json:"notes"`
	JudgedBy     string `json:"judged_by"`
}

func (s *Server) handleRecordJudgment(w http.ResponseWriter, r *http.Request) {
	customerID, ok := requireCustomer(w, r)
	if !ok {
		return
	}

	var req judgmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	verdict := domain.Verdict(req.Verdict)
	if verdict != domain.VerdictReal && verdict != domain.VerdictNoise {
		writeError(w, http.StatusBadRequest, "verdict must be 'real' or 'noise'")
		return
	}
	if req.AlertEventID == "" || req.Fingerprint == "" {
		writeError(w, http.StatusBadRequest, "alert_event_id and fingerprint are required")
		return
	}

	alert, err := s.repos.Alerts.Get(r.Context(), req.AlertEventID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load alert")
		return
	}
	// Another tenant's alert is indistinguishable from a missing one.
	if alert == nil || alert.CustomerID != customerID {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	if alert.Fingerprint != req.Fingerprint {
		writeError(w, http.StatusBadRequest, "fingerprint does not match alert")
		return
	}

	j := domain.OperatorJudgment{
		ID:           uuid.NewString(),
		AlertEventID: req.AlertEventID,
		CustomerID:   customerID,
		Fingerprint:  req.Fingerprint,
		Verdict:      verdict,
		Notes:        req.Notes,
		JudgedBy:     req.JudgedBy,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.repos.Judgments.Insert(r.Context(), j); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record judgment")
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

func requireCustomer(w http.ResponseWriter, r *http.Request) (string, bool) {
	customerID := r.Header.Get(customerHeader)
	if customerID == "" {
		writeError(w, http.StatusBadRequest, "missing "+customerHeader+" header")
		return "", false
	}
	return customerID, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
