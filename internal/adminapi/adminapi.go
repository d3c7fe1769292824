// Package adminapi is the optional HTTP control surface spec.md §4.13
// describes: liveness, Prometheus scraping, and a JWT-gated endpoint that
// requests a spider's shutdown through the same Exit contract the
// consumer already honors. None of spidercore's core loops depend on
// this package running.
package adminapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deepcrawl/spidercore/internal/auth"
	"github.com/deepcrawl/spidercore/internal/contracts"
	"github.com/deepcrawl/spidercore/internal/health"
	"github.com/deepcrawl/spidercore/internal/logging"
	"github.com/deepcrawl/spidercore/internal/model"
)

// Server wires the admin HTTP surface: /healthz, /metrics, and the
// JWT-protected control endpoints.
type Server struct {
	Bus        contracts.MessageQueue
	Scheduler  contracts.SchedulerStore // nil disables /v1/control/seed and /v1/status's queue_total
	Replay     RequestReplayer          // nil disables /v1/control/replay
	Validator  *auth.JWTValidator       // nil disables auth; every route is served without a token
	Components map[string]health.Pinger
	Registry   *prometheus.Registry
	Logger     *logging.Logger
}

// RequestReplayer looks up the most recently admitted request for a hash,
// e.g. internal/schedulerstore.PgAudit.ReplayRequest.
type RequestReplayer interface {
	ReplayRequest(ctx context.Context, hash string) (*model.Request, error)
}

// exitRequest is the JSON body POSTed to /v1/control/exit.
type exitRequest struct {
	SpiderID string `json:"spider_id"`
}

// seedRequest is the JSON body POSTed to /v1/control/seed.
type seedRequest struct {
	SpiderID  string   `json:"spider_id"`
	URLs      []string `json:"urls"`
	RequestID string   `json:"request_id,omitempty"` // operator-assigned correlation id, logged only
}

// Handler builds the mux. /healthz is always open; /metrics and
// /v1/control/* sit behind Validator.HTTPMiddleware when one is set.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(s.Components))
	mux.Handle("/metrics", promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/v1/control/exit", s.handleExit)
	mux.HandleFunc("/v1/control/seed", s.handleSeed)
	mux.HandleFunc("/v1/control/replay", s.handleReplay)
	mux.HandleFunc("/v1/status", s.handleStatus)

	if s.Validator == nil {
		return mux
	}
	return s.Validator.HTTPMiddleware(mux)
}

// handleExit publishes an exit Envelope onto the target spider's control
// topic — a convenience wrapper around the same contracts.MessageQueue
// frame internal/consume already listens for, not a separate shutdown
// path.
func (s *Server) handleExit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req exitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SpiderID == "" {
		http.Error(w, "spider_id is required", http.StatusBadRequest)
		return
	}

	env := model.Envelope{Kind: model.KindExit, Exit: &model.ExitMessage{Id: req.SpiderID}}
	payload, err := json.Marshal(env)
	if err != nil {
		http.Error(w, "failed to encode exit envelope", http.StatusInternalServerError)
		return
	}

	topic := "Spider." + strings.ToUpper(req.SpiderID)
	if err := s.Bus.Publish(r.Context(), topic, payload); err != nil {
		operator, _ := auth.OperatorFromContext(r.Context())
		s.Logger.WithSpider(req.SpiderID).WithError(err).WithField("operator", operator).Warn("control exit publish failed")
		http.Error(w, "failed to publish exit request", http.StatusBadGateway)
		return
	}

	operator, _ := auth.OperatorFromContext(r.Context())
	s.Logger.WithSpider(req.SpiderID).WithField("operator", operator).Info("control exit requested")

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "exit requested", "spider_id": req.SpiderID})
}

// handleSeed admits a batch of URLs into the spider's scheduler queue,
// computing each one's dedup hash the same way seedSupplier does at
// startup so an operator-supplied URL and a boot-time seed collide in the
// store's de-dup check rather than both being admitted.
func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.Scheduler == nil {
		http.Error(w, "scheduler store not configured", http.StatusServiceUnavailable)
		return
	}

	var req seedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SpiderID == "" {
		http.Error(w, "spider_id is required", http.StatusBadRequest)
		return
	}

	reqs := make([]*model.Request, 0, len(req.URLs))
	for _, u := range req.URLs {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		sum := sha256.Sum256([]byte(u))
		reqs = append(reqs, &model.Request{
			Hash:           hex.EncodeToString(sum[:]),
			RequestUri:     u,
			Owner:          req.SpiderID,
			DownloaderType: model.DefaultDownloaderType,
			Policy:         model.PolicyChained,
		})
	}
	if len(reqs) == 0 {
		http.Error(w, "urls must contain at least one non-empty entry", http.StatusBadRequest)
		return
	}

	admitted, err := s.Scheduler.Enqueue(r.Context(), req.SpiderID, reqs)
	if err != nil {
		http.Error(w, "failed to enqueue seed requests", http.StatusBadGateway)
		return
	}

	operator, _ := auth.OperatorFromContext(r.Context())
	s.Logger.WithSpider(req.SpiderID).
		WithField("operator", operator).
		WithField("admitted", admitted).
		WithField("request_id", req.RequestID).
		Info("control seed requested")

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"submitted": len(reqs), "admitted": admitted})
}

// handleReplay looks up the most recent admission of ?hash= in the audit
// log and re-submits it through the scheduler, the operator-tooling
// adaptation of the teacher's ReplayDelivery RPC (SPEC_FULL.md).
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.Replay == nil {
		http.Error(w, "audit log not configured", http.StatusServiceUnavailable)
		return
	}
	if s.Scheduler == nil {
		http.Error(w, "scheduler store not configured", http.StatusServiceUnavailable)
		return
	}

	hash := r.URL.Query().Get("hash")
	if hash == "" {
		http.Error(w, "hash query parameter is required", http.StatusBadRequest)
		return
	}

	req, err := s.Replay.ReplayRequest(r.Context(), hash)
	if err != nil {
		http.Error(w, "replay lookup failed: "+err.Error(), http.StatusNotFound)
		return
	}

	admitted, err := s.Scheduler.Enqueue(r.Context(), req.Owner, []*model.Request{req})
	if err != nil {
		http.Error(w, "failed to re-enqueue replayed request", http.StatusBadGateway)
		return
	}

	operator, _ := auth.OperatorFromContext(r.Context())
	s.Logger.WithSpider(req.Owner).WithField("operator", operator).WithField("hash", hash).Info("control replay requested")

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"hash": hash, "spider_id": req.Owner, "admitted": admitted})
}

// handleStatus reports the pending queue depth for ?spider_id=. Requires
// Scheduler to be configured.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	spiderID := r.URL.Query().Get("spider_id")
	if spiderID == "" {
		http.Error(w, "spider_id query parameter is required", http.StatusBadRequest)
		return
	}
	if s.Scheduler == nil {
		http.Error(w, "scheduler store not configured", http.StatusServiceUnavailable)
		return
	}

	total, err := s.Scheduler.Total(r.Context(), spiderID)
	if err != nil {
		http.Error(w, "failed to read queue depth", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"spider_id": spiderID, "queue_total": total})
}
