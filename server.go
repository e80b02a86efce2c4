package avail

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const maxUpdateBodySize = 1 << 20

// Server exposes the update endpoint over HTTP.
type Server struct {
	Service  *UpdateService
	Registry Registry
	// accepted x-api-key values; empty disables the check
	ApiKeys []string
}

func NewServer(registry Registry, apiKeys []string) *Server {
	if len(apiKeys) == 0 {
		Log.Warn("No API keys configured, updates will not be authenticated")
	}
	return &Server{
		Service:  NewUpdateService(registry),
		Registry: registry,
		ApiKeys:  apiKeys,
	}
}

func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RealIP)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	router.Get("/health", s.handleHealth)

	router.Group(func(r chi.Router) {
		r.Use(s.requireApiKey)
		r.Post("/api/edge/update", s.handleUpdate)
		r.Post("/update", s.handleUpdate)
		r.Get("/api/edge/locations", s.handleListLocations)
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody("Not found", "not_found"))
	})

	return router
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)
		Log.Debugf("%s %s %d %s", r.Method, r.URL.Path, wrapped.Status(), time.Since(start))
	})
}

func (s *Server) requireApiKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.ApiKeys) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		given := []byte(r.Header.Get(apiKeyHeader))
		for _, key := range s.ApiKeys {
			if subtle.ConstantTimeCompare(given, []byte(key)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
		}

		writeJSON(w, http.StatusUnauthorized, errorBody("Invalid or missing API key", ErrorCodeNotAuthorized))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUpdateBodySize))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("Request body too large", ErrorCodeValidation))
		return
	}

	payload, err := DecodeUpdatePayload(body)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := s.Service.Update(r.Context(), payload, queryFlag(r, "update_location"))
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]interface{}{"data": result.Location})
}

func (s *Server) handleListLocations(w http.ResponseWriter, r *http.Request) {
	filter := LocationFilter{
		Provider:       r.URL.Query().Get("provider"),
		State:          strings.ToUpper(r.URL.Query().Get("state")),
		IncludePrivate: queryFlag(r, "include_private"),
	}

	locations, err := s.Registry.ListLocations(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"links": map[string]string{},
		"data":  locations,
	})
}

func queryFlag(r *http.Request, name string) bool {
	value := r.URL.Query().Get(name)
	if len(value) == 0 {
		return false
	}
	flag, err := strconv.ParseBool(value)
	return err == nil && flag
}

type errorDetail struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Field   string `json:"field,omitempty"`
}

func errorBody(message string, code string) map[string]errorDetail {
	return map[string]errorDetail{"error": {Message: message, Code: code}}
}

// writeError sends known errors with their own status and code. Anything
// else is logged and reported as a generic 500.
func writeError(w http.ResponseWriter, err error) {
	var validationErr *ValidationError
	var conflictErr *IdentityConflictError

	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, validationErr.HttpStatus(), map[string]errorDetail{"error": {
			Message: validationErr.Error(),
			Code:    validationErr.Code,
			Field:   validationErr.Field,
		}})
	case errors.As(err, &conflictErr):
		writeJSON(w, conflictErr.HttpStatus(), errorBody(conflictErr.Error(), ErrorCodeIdentityConflict))
	default:
		Log.Errorf("Unexpected error handling request: %+v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]errorDetail{"error": {Message: "Unknown error"}})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		Log.Warnf("Error writing response: %v", err)
	}
}
