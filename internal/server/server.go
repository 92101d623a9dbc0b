package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"xsanitaz-backend/internal/config"
	"xsanitaz-backend/internal/observability"
	"xsanitaz-backend/internal/relay"
	"xsanitaz-backend/internal/store"
	"xsanitaz-backend/internal/types"
)

const (
	multipartMemory = 32 << 20
	maxJSONBody     = 1 << 20
)

// healthChecker is implemented by failure logs backed by a database.
type healthChecker interface {
	HealthCheck() error
}

type Server struct {
	router   *chi.Mux
	relay    *relay.Service
	cfg      config.Config
	limiter  *RateLimiter
	failures store.FailureLog
}

// NewServer wires the HTTP surface around an already constructed relay
// service. limiter may be nil to disable rate limiting; failures is only
// served when cfg.EnableDiagnostics is set.
func NewServer(cfg config.Config, svc *relay.Service, limiter *RateLimiter, failures store.FailureLog) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Requested-With", "X-Session-Id"},
		ExposedHeaders: []string{"X-Session-Id"},
		// Credentials cannot be combined with a wildcard origin
		AllowCredentials: !containsWildcard(origins),
		MaxAge:           300,
	}))

	s := &Server{
		router:   r,
		relay:    svc,
		cfg:      cfg,
		limiter:  limiter,
		failures: failures,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}
		r.Post("/api/message", s.handleMessage)
	})
	if s.cfg.EnableDiagnostics && s.failures != nil {
		s.router.Get("/api/diagnostics/failures", s.handleFailures)
	}
}

func (s *Server) Router() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := types.HealthResponse{Status: "ok", Provider: s.relay.ProviderName()}
	if hc, ok := s.failures.(healthChecker); ok {
		resp.DB = "ok"
		if err := hc.HealthCheck(); err != nil {
			observability.LoggerFromContext(r.Context()).Warn("database health check failed", "error", err)
			resp.Status = "degraded"
			resp.DB = "down"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /api/diagnostics/failures?limit=N
func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 500)
	}
	failures, err := s.failures.RecentFailures(r.Context(), limit)
	if err != nil {
		observability.LoggerFromContext(r.Context()).Error("listing relay failures", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list failures")
		return
	}
	out := make([]types.FailureResponse, 0, len(failures))
	for _, f := range failures {
		out = append(out, types.FailureResponse{
			RequestID:  f.RequestID,
			SessionID:  f.SessionID,
			Provider:   f.Provider,
			Kind:       f.Kind,
			Cause:      f.Cause,
			OccurredAt: f.OccurredAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// POST /api/message
// JSON { message, sessionId? } or multipart/form-data with a "file" field.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var (
		req relay.Request
		err error
	)
	if isMultipart(r) {
		req, err = s.decodeMultipart(w, r)
	} else {
		req, err = decodeJSON(w, r)
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body is too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.SessionID == "" {
		req.SessionID = getSessionID(r)
	}

	reply, err := s.relay.Handle(r.Context(), req)
	if err != nil {
		s.writeRelayError(w, err)
		return
	}

	if reply.SessionID != "" && reply.SessionID != s.cfg.DefaultSessionID {
		w.Header().Set("X-Session-Id", reply.SessionID)
		SetSessionCookie(w, r, reply.SessionID)
	}
	resp := types.MessageResponse{Reply: reply.Text, SessionID: reply.SessionID}
	if reply.Attachment != nil {
		resp.Attachment = &types.AttachmentResponse{
			Name:             reply.Attachment.Name,
			MIMEType:         reply.Attachment.MIMEType,
			DeclaredMIMEType: reply.Attachment.DeclaredMIMEType,
			Size:             reply.Attachment.Size,
			SHA256:           reply.Attachment.SHA256,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request) (relay.Request, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	var body types.MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return relay.Request{}, err
		}
		return relay.Request{}, errors.New("invalid JSON body")
	}
	return relay.Request{Message: body.Message, SessionID: strings.TrimSpace(body.SessionID)}, nil
}

func (s *Server) decodeMultipart(w http.ResponseWriter, r *http.Request) (relay.Request, error) {
	if s.cfg.MaxAttachmentBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxAttachmentBytes+1<<20)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return relay.Request{}, err
		}
		return relay.Request{}, errors.New("invalid multipart form")
	}
	req := relay.Request{
		Message:   r.FormValue("message"),
		SessionID: strings.TrimSpace(r.FormValue("sessionId")),
	}

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return req, nil
	}
	if err != nil {
		return relay.Request{}, errors.New("invalid file field")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return relay.Request{}, err
	}
	req.Attachment = &relay.Attachment{
		Name:     header.Filename,
		MIMEType: header.Header.Get("Content-Type"),
		Data:     data,
	}
	return req, nil
}

func (s *Server) writeRelayError(w http.ResponseWriter, err error) {
	var rerr *relay.Error
	if !errors.As(err, &rerr) {
		writeJSON(w, http.StatusInternalServerError, types.MessageResponse{Reply: relay.FallbackReply})
		return
	}
	switch rerr.Kind {
	case relay.KindValidation:
		s.writeError(w, http.StatusBadRequest, rerr.Error())
	case relay.KindAttachment:
		code := http.StatusUnsupportedMediaType
		if rerr.TooLarge {
			code = http.StatusRequestEntityTooLarge
		}
		s.writeError(w, code, rerr.Error())
	default:
		writeJSON(w, http.StatusInternalServerError, types.MessageResponse{Reply: relay.FallbackReply})
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, types.ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// getSessionID falls back from the X-Session-Id header to the session cookie.
func getSessionID(r *http.Request) string {
	if sid := strings.TrimSpace(r.Header.Get("X-Session-Id")); sid != "" {
		return sid
	}
	if cookie, err := GetSessionCookie(r); err == nil && cookie != "" {
		return cookie
	}
	return ""
}

// requestLogger logs every request once it has been served.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		observability.LoggerFromContext(r.Context()).Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}
