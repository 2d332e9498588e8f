package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimid "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"canvas/api/internal/authpw"
	"canvas/api/internal/metrics"
	"canvas/api/internal/store"
)

// maxJSONBody bounds request bodies. Workspaces carry inline images as data
// URLs, so this is generous.
const maxJSONBody = 16 << 20

type ServerOptions struct {
	CORSOrigin  string
	Metrics     *metrics.Collector
	Gatherer    prometheus.Gatherer
	RateLimiter *RateLimiter
	Logger      zerolog.Logger
}

type HTTPServer struct {
	service    *Service
	corsOrigin string
	metrics    *metrics.Collector
	gatherer   prometheus.Gatherer
	limiter    *RateLimiter
	log        zerolog.Logger
	router     chi.Router
}

func NewHTTPServer(service *Service, opts ServerOptions) *HTTPServer {
	if opts.CORSOrigin == "" {
		opts.CORSOrigin = "*"
	}
	s := &HTTPServer{
		service:    service,
		corsOrigin: opts.CORSOrigin,
		metrics:    opts.Metrics,
		gatherer:   opts.Gatherer,
		limiter:    opts.RateLimiter,
		log:        opts.Logger,
	}
	s.router = s.routes()
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

func (s *HTTPServer) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimid.RequestID)
	r.Use(chimid.Recoverer)
	r.Use(s.cors)
	r.Use(s.requestLogger)
	r.Use(s.instrument)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeDomainError(w, errNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	if s.gatherer != nil {
		r.Handle("/metrics", metrics.Handler(s.gatherer))
	}

	r.Post("/auth/signup", s.handleSignUp)
	r.Post("/auth/signin", s.handleSignIn)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Use(s.limiter.Middleware)

		r.Get("/auth/verify", s.handleVerify)
		r.Post("/user/update", s.handleUpdateProfile)

		r.Route("/settings/api-key", func(r chi.Router) {
			r.Get("/", s.handleAPIKeyStatus)
			r.Post("/", s.handleSetAPIKey)
			r.Delete("/", s.handleRemoveAPIKey)
		})

		r.Route("/workspaces", func(r chi.Router) {
			r.Get("/", s.handleListWorkspaces)
			r.Post("/", s.handleCreateWorkspace)
			r.Put("/", s.handleUpdateWorkspace)
			r.Delete("/", s.handleDeleteWorkspace)
			r.Get("/search", s.handleSearchWorkspaces)
			r.Get("/history", s.handleWorkspaceHistory)
			r.Get("/export", s.handleExportWorkspace)
		})

		r.Post("/ai", s.handleCompletion)
		r.Post("/uploads/image", s.handleUploadImage)
		r.Get("/media/*", s.handleMedia)
	})
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		s.log.Error().Err(err).Msg("readiness check failed")
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{"status": "error"}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Bio       string    `json:"bio"`
	Banner    string    `json:"banner"`
	Avatar    string    `json:"avatar"`
	CreatedAt time.Time `json:"createdAt"`
}

func publicUser(u store.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Bio:       u.Bio,
		Banner:    u.Banner,
		Avatar:    u.Avatar,
		CreatedAt: u.CreatedAt,
	}
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.SignUp(r.Context(), authpw.SignUpRequest{
		Email:    body.Email,
		Password: body.Password,
		Name:     body.Name,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"token":   result.Token,
		"user":    publicUser(result.User),
	})
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.SignIn(r.Context(), authpw.SignInRequest{
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"token":   result.Token,
		"user":    publicUser(result.User),
	})
}

func (s *HTTPServer) handleVerify(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	user, err := s.service.CurrentUser(r.Context(), identity.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": publicUser(user)})
}

func (s *HTTPServer) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	var body struct {
		Name   string  `json:"name"`
		Bio    *string `json:"bio"`
		Banner *string `json:"banner"`
		Avatar *string `json:"avatar"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	user, err := s.service.UpdateProfile(r.Context(), identity.UserID, authpw.ProfileUpdate{
		Name:   body.Name,
		Bio:    body.Bio,
		Banner: body.Banner,
		Avatar: body.Avatar,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": publicUser(user)})
}

func (s *HTTPServer) handleAPIKeyStatus(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	status, err := s.service.APIKeyStatus(r.Context(), identity.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *HTTPServer) handleSetAPIKey(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	var body struct {
		APIKey string `json:"apiKey"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	masked, err := s.service.SetAPIKey(r.Context(), identity.UserID, body.APIKey)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "maskedKey": masked})
}

func (s *HTTPServer) handleRemoveAPIKey(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	if err := s.service.RemoveAPIKey(r.Context(), identity.UserID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// fail maps err, logs server-side failures with full detail and writes the
// generic response.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	domainErr := mapError(err)
	if domainErr.Status >= http.StatusInternalServerError {
		event := s.log.Error().Err(err).Str("request_id", chimid.GetReqID(r.Context()))
		if identity, ok := IdentityFrom(r.Context()); ok {
			event = event.Str("user_id", identity.UserID)
		}
		event.Msg("request failed")
	}
	writeDomainError(w, domainErr)
}

func writeDomainError(w http.ResponseWriter, e *DomainError) {
	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", retryAfterSeconds(e.RetryAfter))
	}
	writeError(w, e.Status, e.Code, e.Message, e.Details)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"success": false,
		"code":    code,
		"error":   message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) error {
	data, err := readBody(w, r)
	if err != nil {
		return err
	}
	return decodeJSON(data, target)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("request body too large")
		}
		return nil, fmt.Errorf("invalid JSON body")
	}
	return data, nil
}

// decodeJSON treats an empty body as an empty object.
func decodeJSON(data []byte, target any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}
