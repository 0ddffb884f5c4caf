package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/skillgate/internal/capability"
	"github.com/nidhogg/skillgate/internal/dispatch"
	"github.com/nidhogg/skillgate/internal/gateway"
	"github.com/nidhogg/skillgate/internal/metrics"
	"github.com/nidhogg/skillgate/internal/provider"
	"github.com/nidhogg/skillgate/internal/skill"
	"github.com/nidhogg/skillgate/internal/trigger"
	"go.uber.org/zap"
)

// MailReader lists unread mail.
type MailReader interface {
	FetchUnread(ctx context.Context) ([]capability.Mail, error)
}

// Ingester files a message and raises email_received for it.
type Ingester interface {
	Ingest(ctx context.Context, m capability.Mail) (capability.Mail, *dispatch.Report, error)
}

// ReportLister reads persisted dispatch reports, newest first.
type ReportLister interface {
	ListReports(ctx context.Context, limit int) ([]*dispatch.Report, error)
}

// Pinger is a backing service checked by /api/health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps holds the components the HTTP surface talks to. Reports, Providers
// and Checks are optional.
type Deps struct {
	Switch      *gateway.Switch
	Dispatcher  *dispatch.Dispatcher
	Skills      *skill.Registry
	Tracker     *metrics.Tracker
	Mail        MailReader
	Ingest      Ingester
	Reports     ReportLister
	Gateway     *gateway.Gateway
	Broadcaster *gateway.Broadcaster
	REST        *gateway.RESTAdapter
	Providers   *provider.Router
	Checks      map[string]Pinger
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	deps   Deps
	now    func() time.Time
	logger *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	return &Handler{deps: deps, now: time.Now, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// The widget polls these two paths directly.
	r.Get("/gateway/status", h.gatewayState)
	r.Post("/gateway/toggle", h.toggleGateway)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Get("/skills", h.listSkills)
		r.Post("/triggers/{name}", h.raiseTrigger)
		r.Get("/dispatches", h.listDispatches)

		r.Post("/metrics/keystrokes", h.recordKeystrokes)
		r.Get("/metrics", h.metricsSnapshot)

		r.Post("/messages", h.postMessage)
		r.Get("/messages/unread", h.listUnread)

		// Gateway routes
		r.Get("/gateway/status", h.gatewayState)
		r.Post("/gateway/toggle", h.toggleGateway)
		r.Get("/gateway/adapters", h.adapterStatus)
		r.Post("/broadcast", h.sendBroadcast)
		r.Get("/broadcasts", h.listBroadcasts)
		if h.deps.REST != nil {
			r.Mount("/gateway/rest", h.deps.REST.Routes())
		}

		r.Get("/providers", h.listProviders)
	})

	return r
}

type stateResponse struct {
	Active bool          `json:"active"`
	State  gateway.State `json:"state"`
}

func (h *Handler) gatewayState(w http.ResponseWriter, r *http.Request) {
	st := h.deps.Switch.State()
	writeJSON(w, http.StatusOK, stateResponse{Active: st == gateway.Online, State: st})
}

type toggleRequest struct {
	Active *bool `json:"active,omitempty"`
}

// toggleGateway flips the switch. A body of {"active": X} flips only when the
// current state differs from X.
func (h *Handler) toggleGateway(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var st gateway.State
	switch {
	case req.Active == nil:
		st = h.deps.Switch.Toggle(r.Context())
	case *req.Active:
		st, _ = h.deps.Switch.ToggleTo(r.Context(), gateway.Online)
	default:
		st, _ = h.deps.Switch.ToggleTo(r.Context(), gateway.Offline)
	}
	writeJSON(w, http.StatusOK, stateResponse{Active: st == gateway.Online, State: st})
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := make(map[string]string, len(h.deps.Checks))
	for name, p := range h.deps.Checks {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := p.Ping(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	body := map[string]interface{}{
		"status":  "ok",
		"service": "skillgate",
		"state":   h.deps.Switch.State(),
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	if len(checks) > 0 {
		body["checks"] = checks
	}
	writeJSON(w, status, body)
}

func (h *Handler) listSkills(w http.ResponseWriter, r *http.Request) {
	all := h.deps.Skills.All()
	infos := make([]skill.Info, 0, len(all))
	for _, s := range all {
		infos = append(infos, skill.Describe(s))
	}
	writeJSON(w, http.StatusOK, infos)
}

func (h *Handler) raiseTrigger(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	payload, err := trigger.DecodePayload(name, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rep := h.deps.Dispatcher.Dispatch(r.Context(), name, payload)
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) listDispatches(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	if h.deps.Reports != nil && r.URL.Query().Get("source") != "memory" {
		reports, err := h.deps.Reports.ListReports(r.Context(), limit)
		if err == nil {
			writeJSON(w, http.StatusOK, reports)
			return
		}
		h.logger.Warn("list reports failed, using in-memory history", zap.Error(err))
	}
	hist := h.deps.Dispatcher.History(limit)
	// newest first, like the persisted log
	out := make([]*dispatch.Report, len(hist))
	for i, rep := range hist {
		out[len(hist)-1-i] = rep
	}
	writeJSON(w, http.StatusOK, out)
}

type keystrokeRequest struct {
	Chars      int       `json:"chars"`
	Backspaces int       `json:"backspaces"`
	At         time.Time `json:"at,omitempty"`
}

func (h *Handler) recordKeystrokes(w http.ResponseWriter, r *http.Request) {
	var req keystrokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Chars < 0 || req.Backspaces < 0 {
		writeError(w, http.StatusBadRequest, "counts must not be negative")
		return
	}
	if req.At.IsZero() {
		req.At = h.now()
	}
	h.deps.Tracker.Record(req.At, req.Chars, req.Backspaces)
	writeJSON(w, http.StatusAccepted, h.deps.Tracker.Snapshot())
}

func (h *Handler) metricsSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"typing":       h.deps.Tracker.Snapshot(),
		"idle_seconds": h.deps.Tracker.IdleFor(h.now()).Seconds(),
		"dispatch":     h.deps.Dispatcher.Stats(),
	})
}

type messageRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	From    string `json:"from"`
}

func (h *Handler) postMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Subject) == "" && strings.TrimSpace(req.Body) == "" {
		writeError(w, http.StatusBadRequest, "subject or body is required")
		return
	}
	mail, rep, err := h.deps.Ingest.Ingest(r.Context(), capability.Mail{
		Subject: req.Subject,
		Body:    req.Body,
		From:    req.From,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": mail,
		"report":  rep,
	})
}

func (h *Handler) listUnread(w http.ResponseWriter, r *http.Request) {
	mails, err := h.deps.Mail.FetchUnread(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if mails == nil {
		mails = []capability.Mail{}
	}
	writeJSON(w, http.StatusOK, mails)
}

func (h *Handler) adapterStatus(w http.ResponseWriter, r *http.Request) {
	if h.deps.Gateway == nil {
		writeError(w, http.StatusServiceUnavailable, "gateway not initialized")
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Gateway.StatusAll())
}

func (h *Handler) sendBroadcast(w http.ResponseWriter, r *http.Request) {
	if h.deps.Broadcaster == nil {
		writeError(w, http.StatusServiceUnavailable, "broadcaster not initialized")
		return
	}
	var msg gateway.BroadcastMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if msg.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}
	if err := h.deps.Broadcaster.Send(r.Context(), &msg); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "broadcast sent"})
}

func (h *Handler) listBroadcasts(w http.ResponseWriter, r *http.Request) {
	if h.deps.Broadcaster == nil {
		writeJSON(w, http.StatusOK, []gateway.BroadcastRecord{})
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Broadcaster.History(queryInt(r, "limit", 50)))
}

type providerInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Default bool   `json:"default"`
}

func (h *Handler) listProviders(w http.ResponseWriter, r *http.Request) {
	out := []providerInfo{}
	if h.deps.Providers != nil {
		def := h.deps.Providers.DefaultID()
		for _, p := range h.deps.Providers.ListProviders() {
			out = append(out, providerInfo{ID: p.ID(), Name: p.Name(), Default: p.ID() == def})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
