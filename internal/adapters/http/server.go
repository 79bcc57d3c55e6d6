// Package httpadapter exposes scan intake, status and live streams over HTTP.
package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/runtime"
	"github.com/oapi-codegen/runtime/types"
	"go.uber.org/zap"

	"complylaw/internal/domain"
	"complylaw/internal/live"
	"complylaw/internal/ports"
)

// Headers set by the upstream gateway.
const (
	HeaderTenant = "X-Tenant-ID"
	HeaderUser   = "X-User-ID"
)

const (
	defaultWait = 30 * time.Second
	maxWait     = 5 * time.Minute
)

// InlineRunner runs one scan to a terminal state in the calling goroutine. It applies
// its own job deadline.
type InlineRunner interface {
	ProcessInline(ctx context.Context, scanID int64) error
}

type Config struct {
	Scanner  ports.Scanner
	Profiles ports.Profiles
	// Inline serves ?wait=true; without it intake is always asynchronous.
	Inline InlineRunner
	// Hub feeds the websocket streams; without it they are not mounted.
	Hub    *live.Hub
	WS     live.WSOptions
	Logger *zap.Logger
}

type Server struct {
	cfg Config
	log *zap.Logger
}

func New(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{cfg: cfg, log: log}
}

// Routes returns the chi router with middleware applied.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.withLogging, middleware.Recoverer)

	r.Get("/healthz", s.getHealthz)
	r.Route("/v1", func(r chi.Router) {
		r.Use(s.withTenant)
		r.Post("/scans", s.postScan)
		r.Get("/scans", s.listScans)
		r.Get("/scans/{id}", s.getScan)
		r.Post("/scans/{id}/cancel", s.cancelScan)
		r.Post("/scans/{id}/retry", s.retryScan)
		r.Get("/profiles/{domain}", s.getProfile)
		if s.cfg.Hub != nil {
			r.Get("/ws/scans/{id}", s.watchScan)
			r.Get("/ws/notifications", s.watchNotifications)
		}
	})
	return r
}

func (s *Server) getHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type scanRequest struct {
	Domain string `json:"domain"`
}

type postScanParams struct {
	Wait    *bool
	Timeout *int
}

func (s *Server) postScan(w http.ResponseWriter, r *http.Request) {
	var params postScanParams
	q := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "wait", q, &params.Wait); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "timeout", q, &params.Timeout); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	var body scanRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil {
		s.writeError(w, r, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	job, err := s.cfg.Scanner.Enqueue(r.Context(), tenant(r), r.Header.Get(HeaderUser), body.Domain)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if params.Wait == nil || !*params.Wait || s.cfg.Inline == nil {
		writeJSON(w, http.StatusAccepted, job)
		return
	}

	wait := defaultWait
	if params.Timeout != nil && *params.Timeout > 0 {
		wait = min(time.Duration(*params.Timeout)*time.Second, maxWait)
	}
	// The scan runs under the job deadline and outlives the request; only the wait is bounded.
	done := make(chan struct{})
	log := s.requestLogger(r).With(zap.String("public_id", job.PublicID))
	scanID := job.ID
	go func() {
		defer close(done)
		if err := s.cfg.Inline.ProcessInline(context.WithoutCancel(r.Context()), scanID); err != nil {
			log.Warn("inline scan ended with error", zap.Error(err))
		}
	}()
	timer := time.NewTimer(wait)
	defer timer.Stop()
	finished := false
	select {
	case <-done:
		finished = true
	case <-timer.C:
	case <-r.Context().Done():
		return
	}

	job, err = s.cfg.Scanner.Get(context.WithoutCancel(r.Context()), tenant(r), job.PublicID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if !finished {
		status = http.StatusAccepted
	}
	writeJSON(w, status, job)
}

func (s *Server) listScans(w http.ResponseWriter, r *http.Request) {
	var limit *int
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	n := 0
	if limit != nil {
		n = *limit
	}
	jobs, err := s.cfg.Scanner.List(r.Context(), tenant(r), n)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []domain.ScanJob{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"scans": jobs})
}

func (s *Server) getScan(w http.ResponseWriter, r *http.Request) {
	id, ok := s.scanID(w, r)
	if !ok {
		return
	}
	job, err := s.cfg.Scanner.Get(r.Context(), tenant(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) cancelScan(w http.ResponseWriter, r *http.Request) {
	id, ok := s.scanID(w, r)
	if !ok {
		return
	}
	job, err := s.cfg.Scanner.Cancel(r.Context(), tenant(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) retryScan(w http.ResponseWriter, r *http.Request) {
	id, ok := s.scanID(w, r)
	if !ok {
		return
	}
	job, err := s.cfg.Scanner.Retry(r.Context(), tenant(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

type profileResponse struct {
	Domain     string       `json:"domain"`
	ScanID     string       `json:"scan_id"`
	Grade      domain.Grade `json:"grade"`
	RiskScore  float64      `json:"risk_score"`
	Findings   int          `json:"findings"`
	ComputedAt time.Time    `json:"computed_at"`
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	var d string
	if err := runtime.BindStyledParameterWithOptions("simple", "domain", chi.URLParam(r, "domain"), &d,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true}); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	p, err := s.cfg.Profiles.GetLatest(r.Context(), tenant(r), d)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{
		Domain: p.Domain, ScanID: p.ScanID, Grade: p.Grade,
		RiskScore: p.RiskScore, Findings: p.Findings, ComputedAt: p.ComputedAt,
	})
}

func (s *Server) watchScan(w http.ResponseWriter, r *http.Request) {
	id, ok := s.scanID(w, r)
	if !ok {
		return
	}
	job, err := s.cfg.Scanner.Get(r.Context(), tenant(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	live.ServeWS(w, r, s.cfg.Hub, live.ScanTopic(job.PublicID), live.Snapshot(job), s.cfg.WS, s.requestLogger(r))
}

func (s *Server) watchNotifications(w http.ResponseWriter, r *http.Request) {
	user := r.Header.Get(HeaderUser)
	if user == "" {
		s.writeError(w, r, http.StatusUnauthorized, errors.New("user id is required"))
		return
	}
	live.ServeWS(w, r, s.cfg.Hub, live.UserTopic(user), nil, s.cfg.WS, s.requestLogger(r))
}

// scanID binds the {id} path parameter, which must be a UUID.
func (s *Server) scanID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var id types.UUID
	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true})
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, errors.New("invalid scan id"))
		return "", false
	}
	return id.String(), true
}

func tenant(r *http.Request) string { return r.Header.Get(HeaderTenant) }

func (s *Server) withTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tenant(r) == "" {
			s.writeError(w, r, http.StatusUnauthorized, domain.ErrMissingTenant)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.log.Info("http_request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.Int("bytes", ww.BytesWritten()),
		)
	})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidDomain):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrMissingTenant):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateInFlight),
		errors.Is(err, domain.ErrNotCancelable),
		errors.Is(err, domain.ErrNotRetryable):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.writeError(w, r, statusFor(err), err)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		s.requestLogger(r).Error("internal_server_error", zap.Error(err), zap.Int("status", status))
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) requestLogger(r *http.Request) *zap.Logger {
	return s.log.With(
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
	)
}
