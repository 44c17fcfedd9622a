package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hamed0406/keepalive/internal/domain"
	apimw "github.com/hamed0406/keepalive/internal/httpapi/middleware"
	"github.com/hamed0406/keepalive/internal/monitor"
	"github.com/hamed0406/keepalive/internal/registry"
	"github.com/hamed0406/keepalive/internal/scheduler"
)

type Server struct {
	Logger  *zap.Logger
	Service *monitor.Service
}

func NewServer(l *zap.Logger, svc *monitor.Service) *Server {
	return &Server{Logger: l, Service: svc}
}

// Router builds the full API surface. Read endpoints accept public or admin
// keys; mutations require an admin key. Rate limits apply per client IP.
func (s *Server) Router(keys apimw.Keys, allowedOrigins []string, publicRPM, publicBurst, adminRPM, adminBurst int) http.Handler {
	r := chi.NewRouter()

	if len(allowedOrigins) == 0 {
		r.Use(cors.AllowAll().Handler)
	} else {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "X-API-Key", "Content-Type"},
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(apimw.RequireAny(keys))
		r.Use(apimw.RateLimit(publicRPM, publicBurst))
		r.Get("/api/targets", s.handleListTargets)
		r.Get("/api/targets/{id}/health", s.handleGetHealth)
		r.Get("/api/targets/{id}/attempts", s.handleListAttempts)
	})

	r.Group(func(r chi.Router) {
		r.Use(apimw.RequireAdmin(keys))
		r.Use(apimw.RateLimit(adminRPM, adminBurst))
		r.Post("/api/targets", s.handleAddTarget)
		r.Patch("/api/targets/{id}", s.handleUpdateTarget)
		r.Delete("/api/targets/{id}", s.handleRemoveTarget)
		r.Post("/api/targets/{id}/probe", s.handleForceProbe)
		r.Post("/api/targets/{id}/redeploy", s.handleForceRedeploy)
	})

	return r
}

// addPayload is the POST body. Durations come in as seconds so clients do
// not need to speak Go duration strings.
type addPayload struct {
	ID              string `json:"id"`
	URL             string `json:"url"`
	Provider        string `json:"provider"`
	DeployHook      string `json:"deploy_hook"`
	IntervalSeconds int    `json:"interval_seconds"`
	Threshold       int    `json:"threshold"`
	CooldownSeconds int    `json:"cooldown_seconds"`
	AutoRedeploy    *bool  `json:"auto_redeploy"`
	Enabled         *bool  `json:"enabled"`
}

type patchPayload struct {
	URL             *string `json:"url"`
	Provider        *string `json:"provider"`
	DeployHook      *string `json:"deploy_hook"`
	IntervalSeconds *int    `json:"interval_seconds"`
	Threshold       *int    `json:"threshold"`
	CooldownSeconds *int    `json:"cooldown_seconds"`
	AutoRedeploy    *bool   `json:"auto_redeploy"`
	Enabled         *bool   `json:"enabled"`
}

func (s *Server) handleAddTarget(w http.ResponseWriter, r *http.Request) {
	var p addPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	if !isValidHTTPURL(p.URL) {
		writeError(w, http.StatusBadRequest, "invalid url")
		return
	}
	p.URL = normalizeHTTPURL(p.URL)
	if p.ID == "" {
		p.ID = hostOf(p.URL)
	}

	t := domain.Target{
		ID:           domain.TargetID(p.ID),
		URL:          p.URL,
		Provider:     domain.Provider(p.Provider),
		DeployHook:   p.DeployHook,
		Interval:     time.Duration(p.IntervalSeconds) * time.Second,
		Threshold:    p.Threshold,
		Cooldown:     time.Duration(p.CooldownSeconds) * time.Second,
		AutoRedeploy: p.AutoRedeploy == nil || *p.AutoRedeploy,
		Enabled:      p.Enabled == nil || *p.Enabled,
	}

	stored, err := s.Service.AddTarget(r.Context(), t)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.Logger.Info("added_target",
		zap.String("target_id", string(stored.ID)),
		zap.String("url", stored.URL),
		zap.String("provider", string(stored.Provider)),
	)
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleUpdateTarget(w http.ResponseWriter, r *http.Request) {
	id := domain.TargetID(chi.URLParam(r, "id"))

	var p patchPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}

	var u registry.Update
	if p.URL != nil {
		if !isValidHTTPURL(*p.URL) {
			writeError(w, http.StatusBadRequest, "invalid url")
			return
		}
		norm := normalizeHTTPURL(*p.URL)
		u.URL = &norm
	}
	if p.Provider != nil {
		prov := domain.Provider(*p.Provider)
		u.Provider = &prov
	}
	u.DeployHook = p.DeployHook
	if p.IntervalSeconds != nil {
		d := time.Duration(*p.IntervalSeconds) * time.Second
		u.Interval = &d
	}
	u.Threshold = p.Threshold
	if p.CooldownSeconds != nil {
		d := time.Duration(*p.CooldownSeconds) * time.Second
		u.Cooldown = &d
	}
	u.AutoRedeploy = p.AutoRedeploy
	u.Enabled = p.Enabled

	stored, err := s.Service.UpdateTarget(r.Context(), id, u)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleRemoveTarget(w http.ResponseWriter, r *http.Request) {
	id := domain.TargetID(chi.URLParam(r, "id"))
	if err := s.Service.RemoveTarget(r.Context(), id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.Logger.Info("removed_target", zap.String("target_id", string(id)))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Service.ListTargets(r.Context()))
}

func (s *Server) handleGetHealth(w http.ResponseWriter, r *http.Request) {
	id := domain.TargetID(chi.URLParam(r, "id"))
	th, err := s.Service.GetHealth(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, th)
}

func (s *Server) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	id := domain.TargetID(chi.URLParam(r, "id"))
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	as, err := s.Service.Attempts(r.Context(), id, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if as == nil {
		as = []domain.RedeployAttempt{}
	}
	writeJSON(w, http.StatusOK, as)
}

func (s *Server) handleForceProbe(w http.ResponseWriter, r *http.Request) {
	id := domain.TargetID(chi.URLParam(r, "id"))
	res, err := s.Service.ForceProbe(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleForceRedeploy(w http.ResponseWriter, r *http.Request) {
	id := domain.TargetID(chi.URLParam(r, "id"))
	a, err := s.Service.ForceRedeploy(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	// 202: the attempt runs asynchronously; throttled attempts come back
	// already completed.
	writeJSON(w, http.StatusAccepted, a)
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrDuplicateTarget):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, scheduler.ErrProbeInProgress):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.Logger.Error("api_internal_error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func isValidHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	return u.Hostname() != ""
}

// normalizeHTTPURL lowercases the host, strips default ports and a bare
// trailing slash so equivalent spellings dedupe to one target.
func normalizeHTTPURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if p := u.Port(); p != "" &&
		!((u.Scheme == "http" && p == "80") || (u.Scheme == "https" && p == "443")) {
		host += ":" + p
	}
	u.Host = host
	if u.Path == "/" {
		u.Path = ""
	}
	return u.String()
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return raw
	}
	return u.Hostname()
}
