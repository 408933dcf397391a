package gateway

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/c360/entitystream/engine"
	"github.com/c360/entitystream/errors"
	"github.com/c360/entitystream/event"
	"github.com/c360/entitystream/health"
)

// publishRequest is the ingress payload: the event plus optional delivery
// options.
type publishRequest struct {
	Event   event.Event            `json:"event"`
	Options *engine.PublishOptions `json:"options,omitempty"`
}

// getOrGenerateRequestID extracts the request ID from headers or generates
// a new one for tracing.
func getOrGenerateRequestID(r *http.Request) string {
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		return reqID
	}
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// withMiddleware applies request id, CORS, and rate limiting.
func (s *Server) withMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := getOrGenerateRequestID(r)
		w.Header().Set("X-Request-ID", requestID)

		if s.cfg.EnableCORS {
			s.applyCORS(w, r)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}

		if !s.limiter.allow(clientKey(r)) {
			s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next(w, r)
	}
}

// corsOnly applies CORS headers without rate limiting, for streaming
// endpoints that hold the connection open.
func (s *Server) corsOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.EnableCORS {
			s.applyCORS(w, r)
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// handlePublish accepts one event for distribution.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	maxSize := s.cfg.MaxRequestSize
	if maxSize <= 0 {
		maxSize = 1 << 20
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSize+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if int64(len(body)) > maxSize {
		s.writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds maximum size of %d bytes", maxSize))
		return
	}

	if validationErrs := s.validator.validate(body); len(validationErrs) > 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "event validation failed",
			"details": validationErrs,
		})
		return
	}

	var req publishRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed JSON payload")
		return
	}

	result, err := s.engine.Publish(r.Context(), &req.Event, req.Options)
	if err != nil {
		s.writeError(w, s.mapErrorToHTTPStatus(err), s.sanitizeError(err))
		s.logger.Warn("publish rejected", "error", err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, result)
}

// handleStatus reports delivery state for one event id.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("id")
	st, err := s.engine.Status(eventID)
	if err != nil {
		s.writeError(w, s.mapErrorToHTTPStatus(err), s.sanitizeError(err))
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

// handleStats serves the aggregate observability surface.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Stats())
}

// handleHealthz aggregates subsystem health. The bus being down degrades
// rather than fails the process: local distribution still works.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	subs := []health.Status{health.HealthyStatus("engine")}
	if s.bus != nil {
		if s.bus.IsConnected() {
			subs = append(subs, health.HealthyStatus("bus"))
		} else {
			subs = append(subs, health.DegradedStatus("bus", "bus "+s.bus.Status().String()))
		}
	}
	agg := health.Aggregate("entitystream", subs...)

	code := http.StatusOK
	if !agg.Healthy {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]any{
		"status":    agg.Status,
		"timestamp": time.Now(),
		"uptime":    time.Since(s.startTime).String(),
		"health":    agg,
		"stats":     s.engine.Stats(),
	})
}

// applyCORS applies CORS headers to the response.
func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")

	allowed := false
	for _, allowedOrigin := range s.cfg.CORSOrigins {
		if allowedOrigin == "*" || allowedOrigin == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}

	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	} else {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// mapErrorToHTTPStatus maps classified errors to HTTP status codes.
func (s *Server) mapErrorToHTTPStatus(err error) int {
	if err == nil {
		return http.StatusInternalServerError
	}
	if errors.IsInvalid(err) {
		return http.StatusBadRequest
	}
	if errors.IsTransient(err) {
		if strings.Contains(err.Error(), "timeout") {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	}
	if strings.Contains(err.Error(), "not found") ||
		stderrors.Is(err, errors.ErrEventNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// sanitizeError returns a safe message for external clients; details stay
// in the logs.
func (s *Server) sanitizeError(err error) string {
	if err == nil {
		return "internal server error"
	}
	if errors.IsInvalid(err) {
		return "invalid request"
	}
	if errors.IsTransient(err) {
		if strings.Contains(err.Error(), "timeout") {
			return "request timeout"
		}
		return "service temporarily unavailable"
	}
	if strings.Contains(err.Error(), "not found") ||
		stderrors.Is(err, errors.ErrEventNotFound) {
		return "resource not found"
	}
	return "internal server error"
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, map[string]any{
		"error":  message,
		"status": statusCode,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("response write failed", "error", err)
	}
}
