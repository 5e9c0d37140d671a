package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/hypermargin/pkg/app/core/fixed"
	"github.com/uhyunpark/hypermargin/pkg/app/core/risk"
	"github.com/uhyunpark/hypermargin/pkg/app/utp"
	"github.com/uhyunpark/hypermargin/pkg/apperrors"
	"github.com/uhyunpark/hypermargin/pkg/crypto"
	"github.com/uhyunpark/hypermargin/pkg/storage"
)

const (
	defaultPendingLimit = 100
	maxPendingLimit     = 1000
	maxObserveBody      = 1 << 20
)

type Options struct {
	Journal storage.Journal
	Venues  *utp.Registry
	// Outbox is optional; without it /intents/pending answers 503
	Outbox         *storage.Outbox
	Gatherer       prometheus.Gatherer
	Logger         *zap.SugaredLogger
	AllowedOrigins []string
}

// Server serves the crank's recorded state over REST and WebSocket
type Server struct {
	opts   Options
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:3000"}
	}
	s := &Server{
		opts:   opts,
		router: mux.NewRouter(),
		hub:    NewHub(opts.Logger),
		log:    opts.Logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/accounts/{address}/health", s.handleGetHealth).Methods("GET")
	api.HandleFunc("/rounds/latest", s.handleGetLatestRound).Methods("GET")
	api.HandleFunc("/intents/pending", s.handleGetPending).Methods("GET")
	api.HandleFunc("/venues/{kind}/observe", s.handleObserve).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler is the router wrapped in CORS
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.router)
}

// Hub is exposed so the caller can run it alongside the HTTP server
func (s *Server) Hub() *Hub { return s.hub }

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetHealth(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.ParsePubkey(mux.Vars(r)["address"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid address", err)
		return
	}
	rec, ok, err := s.opts.Journal.LoadVerdict(addr)
	if err != nil {
		s.log.Errorw("load_verdict_failed", "account", addr, "err", err)
		respondError(w, http.StatusInternalServerError, "journal read failed", err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "account not evaluated yet", nil)
		return
	}
	respondJSON(w, http.StatusOK, toAccountHealth(rec))
}

func (s *Server) handleGetLatestRound(w http.ResponseWriter, r *http.Request) {
	report, ok, err := s.opts.Journal.LatestRound()
	if err != nil {
		s.log.Errorw("load_round_failed", "err", err)
		respondError(w, http.StatusInternalServerError, "journal read failed", err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "no round recorded yet", nil)
		return
	}
	respondJSON(w, http.StatusOK, toRoundSummary(report))
}

func (s *Server) handleGetPending(w http.ResponseWriter, r *http.Request) {
	if s.opts.Outbox == nil {
		respondError(w, http.StatusServiceUnavailable, "outbox disabled", nil)
		return
	}
	limit := defaultPendingLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPendingLimit {
			respondError(w, http.StatusBadRequest, "limit must be 1-1000", err)
			return
		}
		limit = n
	}
	pending, err := s.opts.Outbox.Pending(limit)
	if err != nil {
		s.log.Errorw("outbox_read_failed", "err", err)
		respondError(w, http.StatusInternalServerError, "outbox read failed", err)
		return
	}
	respondJSON(w, http.StatusOK, PendingIntents{Intents: pending})
}

// handleObserve runs a venue adapter over caller-supplied account bytes,
// for checking venue data without a chain
func (s *Server) handleObserve(w http.ResponseWriter, r *http.Request) {
	kind, err := utp.ParseKind(mux.Vars(r)["kind"])
	if err != nil {
		respondError(w, http.StatusNotFound, "unknown venue", err)
		return
	}
	adapter, err := s.opts.Venues.Get(kind)
	if err != nil {
		respondError(w, http.StatusNotFound, "venue not registered", err)
		return
	}

	var req ObserveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxObserveBody)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	raw := make(utp.RawAccounts, len(req.Accounts))
	for role, hex := range req.Accounts {
		b, err := hexutil.Decode(hex)
		if err != nil {
			respondError(w, http.StatusBadRequest, "account "+role+" is not 0x hex", err)
			return
		}
		raw[role] = b
	}

	o, err := adapter.Observe(raw)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, apperrors.ErrVenueData) {
			status = http.StatusUnprocessableEntity
		}
		respondError(w, status, "observe failed", err)
		return
	}
	respondJSON(w, http.StatusOK, ObserveResponse{
		Venue:          kind.String(),
		Observation:    o,
		VenueShortfall: risk.VenueShortfall(o),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ==============================
// Broadcast Methods (called after every crank round)
// ==============================

// BroadcastRound pushes the round summary to "rounds" and each verdict to
// its account's "health:{address}" channel
func (s *Server) BroadcastRound(report storage.RoundReport) {
	s.hub.BroadcastToChannel("rounds", RoundUpdate{Type: "round", RoundSummary: toRoundSummary(report)})
	for _, rec := range report.Verdicts {
		s.hub.BroadcastToChannel("health:"+rec.Account.String(), HealthUpdate{Type: "health", AccountHealth: toAccountHealth(rec)})
	}
}

// ==============================
// Helper Functions
// ==============================

func toAccountHealth(rec storage.VerdictRecord) AccountHealth {
	v := rec.Verdict
	h := AccountHealth{
		Address:          rec.Account,
		Status:           v.Status,
		Equity:           v.Equity.String(),
		InitRequirement:  v.InitRequirement.String(),
		MaintRequirement: v.MaintRequirement.String(),
		FreeCollateral:   v.FreeCollateral.String(),
		RebalanceSlots:   v.RebalanceSlots,
		Reason:           v.Reason,
		Action:           rec.Action,
		Error:            rec.Error,
		ErrorKind:        rec.ErrorKind,
		Round:            rec.Round,
		At:               rec.At,
	}
	if v.MaintRequirement.GreaterThan(fixed.Zero) {
		h.MarginRatio = v.Equity.Shopspring().DivRound(v.MaintRequirement.Shopspring(), 4).StringFixed(4)
	}
	return h
}

func toRoundSummary(r storage.RoundReport) RoundSummary {
	return RoundSummary{
		ID:         r.ID,
		Seq:        r.Seq,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Accounts:   r.Accounts,
		Failed:     r.Failed,
		Intents:    r.Intents,
		Counts:     r.Counts,
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg string, err error) {
	resp := ErrorResponse{Error: msg}
	if err != nil {
		resp.Message = err.Error()
		resp.Kind = apperrors.KindOf(err)
	}
	respondJSON(w, status, resp)
}
