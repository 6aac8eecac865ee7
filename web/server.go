// Package web exposes the agent over HTTP for dashboards and manual
// operation. It is a thin adapter: every endpoint delegates to the same
// services the CLI uses, so the gate semantics cannot diverge between
// surfaces.
package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/rustyeddy/tradeagent/approval"
	"github.com/rustyeddy/tradeagent/config"
	"github.com/rustyeddy/tradeagent/executor"
	"github.com/rustyeddy/tradeagent/intent"
	"github.com/rustyeddy/tradeagent/propose"
	"github.com/rustyeddy/tradeagent/store"
)

// Server wires the HTTP surface.
type Server struct {
	store     *store.Store
	proposer  *propose.Service
	approvals *approval.Service
	exec      *executor.Executor
	cfg       *config.Settings
	log       *zap.Logger
	router    *mux.Router
}

// NewServer builds the HTTP adapter and its routes.
func NewServer(st *store.Store, proposer *propose.Service, approvals *approval.Service, exec *executor.Executor, cfg *config.Settings, log *zap.Logger) *Server {
	s := &Server{
		store:     st,
		proposer:  proposer,
		approvals: approvals,
		exec:      exec,
		cfg:       cfg,
		log:       log,
		router:    mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/propose", s.handlePropose).Methods(http.MethodPost)
	s.router.HandleFunc("/close", s.handleClose).Methods(http.MethodPost)
	s.router.HandleFunc("/intents/{id}", s.handleIntent).Methods(http.MethodGet)
	s.router.HandleFunc("/intents/{id}/approve", s.handleApprove).Methods(http.MethodPost)
	s.router.HandleFunc("/intents/{id}/execute", s.handleExecute).Methods(http.MethodPost)
}

// Handler returns the root handler, for tests and server wiring.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe blocks serving the API on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.log.Info("http server listening", zap.String("addr", addr))
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return srv.ListenAndServe()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Warn("response encode failed", zap.Error(err))
	}
}

func (s *Server) writeErr(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	counts, err := s.store.CountIntents()
	if err != nil {
		s.writeErr(w, http.StatusInternalServerError, err)
		return
	}
	symbol := s.cfg.Trading.SymbolWhitelist[0]
	position, avgCost, err := s.store.PositionState(symbol)
	if err != nil {
		s.writeErr(w, http.StatusInternalServerError, err)
		return
	}

	byStatus := map[string]int{}
	for status, n := range counts {
		byStatus[string(status)] = n
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"mode":        s.cfg.Trading.Mode,
		"kill_switch": s.cfg.Trading.KillSwitch,
		"symbol":      symbol,
		"position":    position,
		"avg_cost":    avgCost,
		"intents":     byStatus,
	})
}

type proposeRequest struct {
	Symbol   string `json:"symbol"`
	Strategy string `json:"strategy"`
	Mode     string `json:"mode"`
	Refresh  bool   `json:"refresh"`
}

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErr(w, http.StatusBadRequest, err)
		return
	}
	if req.Strategy == "" {
		req.Strategy = "news_overlay"
	}
	if req.Mode == "" {
		req.Mode = s.cfg.Trading.Mode
	}

	result, err := s.proposer.Propose(r.Context(), propose.Params{
		Symbol:   req.Symbol,
		Strategy: req.Strategy,
		Mode:     intent.Mode(req.Mode),
		Refresh:  req.Refresh,
	})
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

type closeRequest struct {
	Symbol string `json:"symbol"`
	Mode   string `json:"mode"`
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErr(w, http.StatusBadRequest, err)
		return
	}
	if req.Mode == "" {
		req.Mode = s.cfg.Trading.Mode
	}
	result, err := s.proposer.ClosePosition(req.Symbol, intent.Mode(req.Mode))
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := s.store.Intent(id)
	if errors.Is(err, store.ErrIntentNotFound) {
		s.writeErr(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.writeErr(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"intent_id":   rec.Intent.IntentID,
		"status":      string(rec.Status),
		"intent_hash": rec.IntentHash,
		"symbol":      rec.Intent.Symbol,
		"side":        string(rec.Intent.Side),
		"size":        rec.Intent.Size,
		"price":       rec.Intent.Price,
		"strategy":    rec.Intent.Strategy,
		"confidence":  rec.Intent.Confidence,
		"rationale":   rec.Intent.Rationale,
		"expires_at":  intent.ISOTime(rec.Intent.ExpiresAt),
		"mode":        string(rec.Intent.Mode),
	})
}

type approveRequest struct {
	Phrase     string `json:"phrase"`
	ApprovedBy string `json:"approved_by"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErr(w, http.StatusBadRequest, err)
		return
	}
	if req.ApprovedBy == "" {
		req.ApprovedBy = "web"
	}

	err := s.approvals.Approve(id, req.Phrase, req.ApprovedBy, time.Now().UTC())
	switch {
	case errors.Is(err, approval.ErrPhraseMismatch):
		s.writeErr(w, http.StatusForbidden, err)
	case errors.Is(err, store.ErrIntentNotFound):
		s.writeErr(w, http.StatusNotFound, err)
	case errors.Is(err, approval.ErrIntentExpired), errors.Is(err, approval.ErrNotProposed):
		s.writeErr(w, http.StatusConflict, err)
	case err != nil:
		s.writeErr(w, http.StatusInternalServerError, err)
	default:
		s.writeJSON(w, http.StatusOK, map[string]string{"intent_id": id, "status": "approved"})
	}
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	outcome, err := s.exec.Execute(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrIntentNotFound):
		s.writeErr(w, http.StatusNotFound, err)
		return
	case errors.Is(err, executor.ErrNotApproved),
		errors.Is(err, executor.ErrTerminal),
		errors.Is(err, executor.ErrDryRun),
		errors.Is(err, executor.ErrNoLiveConsent),
		errors.Is(err, executor.ErrNoCredentials):
		s.writeJSON(w, http.StatusConflict, map[string]any{
			"intent_id": outcome.IntentID,
			"status":    string(outcome.Status),
			"reason":    outcome.Reason,
			"error":     err.Error(),
		})
		return
	case err != nil:
		s.writeErr(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"intent_id": outcome.IntentID,
		"exec_id":   outcome.ExecID,
		"status":    string(outcome.Status),
		"fill_size": outcome.FillSize,
		"price":     outcome.Price,
		"fee":       outcome.Fee,
		"pnl":       outcome.PnL,
		"reason":    outcome.Reason,
	})
}
