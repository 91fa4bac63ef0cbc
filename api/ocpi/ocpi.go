// Package ocpi exposes the roaming command endpoint used by partner platforms.
package ocpi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kilianp07/roamgate/core/gateway"
	"github.com/kilianp07/roamgate/core/logger"
	"github.com/kilianp07/roamgate/core/model"
	"github.com/kilianp07/roamgate/core/store"
	"github.com/kilianp07/roamgate/core/tenant"
)

// Status codes of the response envelope.
const (
	StatusSuccess       = 1000
	StatusClientError   = 2000
	StatusInvalidParams = 2001
	StatusServerError   = 3000
)

const maxBodyBytes = 1 << 20

// Response is the envelope of every reply.
type Response struct {
	Data          any       `json:"data,omitempty"`
	StatusCode    int       `json:"status_code"`
	StatusMessage string    `json:"status_message,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Commander runs roaming commands.
type Commander interface {
	Handle(ctx context.Context, tenantID string, ep *model.RoamingEndpoint, command string, body []byte) (model.CommandResult, error)
}

type endpointKey struct{}

// Server serves the partner facing routes.
type Server struct {
	commands  Commander
	tenants   *tenant.Resolver
	endpoints store.EndpointStore
	log       logger.Logger
	now       func() time.Time
}

// NewServer creates a Server.
func NewServer(commands Commander, tenants *tenant.Resolver, endpoints store.EndpointStore, log logger.Logger) *Server {
	return &Server{commands: commands, tenants: tenants, endpoints: endpoints, log: log, now: time.Now}
}

// Routes returns the chi router of the partner API.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Route("/ocpi/{tenantID}/cpo/2.1.1", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Post("/commands/{command}", s.command)
	})
	return r
}

// requireToken resolves the tenant of the route and the partner endpoint
// owning the "Authorization: Token <token>" header.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := chi.URLParam(r, "tenantID")
		if err := s.tenants.Resolve(r.Context(), tenantID); err != nil {
			s.fail(w, err)
			return
		}
		auth := r.Header.Get("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(auth, "Token "))
		if !strings.HasPrefix(auth, "Token ") || token == "" {
			s.write(w, http.StatusUnauthorized, StatusClientError, "missing token", nil)
			return
		}
		ep, err := s.endpoints.FindEndpointByLocalToken(r.Context(), tenantID, token)
		if errors.Is(err, store.ErrNotFound) {
			s.write(w, http.StatusUnauthorized, StatusClientError, "unknown token", nil)
			return
		}
		if err != nil {
			s.fail(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), endpointKey{}, ep)))
	})
}

func (s *Server) command(w http.ResponseWriter, r *http.Request) {
	ep, _ := r.Context().Value(endpointKey{}).(*model.RoamingEndpoint)
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.write(w, http.StatusBadRequest, StatusInvalidParams, "command body is unreadable", nil)
		return
	}
	res, err := s.commands.Handle(r.Context(), chi.URLParam(r, "tenantID"), ep, chi.URLParam(r, "command"), body)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.write(w, http.StatusOK, StatusSuccess, "Success", model.CommandResponse{Result: res})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gateway.ErrInvalidCommand):
		msg := strings.TrimPrefix(err.Error(), gateway.ErrInvalidCommand.Error()+": ")
		s.write(w, http.StatusBadRequest, StatusInvalidParams, msg, nil)
	case errors.Is(err, tenant.ErrInvalidTenant):
		s.write(w, http.StatusBadRequest, StatusInvalidParams, err.Error(), nil)
	default:
		s.log.Errorf("command failed: %v", err)
		s.write(w, http.StatusInternalServerError, StatusServerError, "internal error", nil)
	}
}

func (s *Server) write(w http.ResponseWriter, httpStatus, code int, msg string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	resp := Response{Data: data, StatusCode: code, StatusMessage: msg, Timestamp: s.now().UTC()}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Errorf("encode response: %v", err)
	}
}
