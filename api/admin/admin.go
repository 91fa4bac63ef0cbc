// Package admin serves read-only operator endpoints: connector statistics,
// the command audit log and a health probe.
package admin

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kilianp07/roamgate/core/commandlog"
	"github.com/kilianp07/roamgate/core/connector"
	"github.com/kilianp07/roamgate/core/logger"
	"github.com/kilianp07/roamgate/core/model"
	"github.com/kilianp07/roamgate/core/store"
	"github.com/kilianp07/roamgate/core/tenant"
	"github.com/kilianp07/roamgate/pkg/export"
)

// Server serves the admin routes.
type Server struct {
	tenants  *tenant.Resolver
	stations store.StationStore
	logs     commandlog.Store
	token    string
	log      logger.Logger
}

// NewServer creates a Server. Requests must carry "Authorization: Bearer
// <token>" when token is non-empty.
func NewServer(tenants *tenant.Resolver, stations store.StationStore, logs commandlog.Store, token string, log logger.Logger) *Server {
	return &Server{tenants: tenants, stations: stations, logs: logs, token: token, log: log}
}

// Routes returns the chi router of the admin API.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Route("/api/{tenantID}", func(r chi.Router) {
		r.Use(s.requireBearer, s.requireTenant)
		r.Get("/connectors/stats", s.connectorStats)
		r.Get("/commands", s.commands)
	})
	return r
}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	if s.token == "" {
		return next
	}
	want := []byte("Bearer " + s.token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), want) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := s.tenants.Resolve(r.Context(), chi.URLParam(r, "tenantID"))
		if errors.Is(err, tenant.ErrInvalidTenant) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			s.log.Errorf("resolve tenant: %v", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) connectorStats(w http.ResponseWriter, r *http.Request) {
	stations, err := s.stations.ListStations(r.Context(), chi.URLParam(r, "tenantID"), store.StationFilter{
		SiteID: r.URL.Query().Get("site"),
	})
	if err != nil {
		s.log.Errorf("list stations: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, connector.Aggregate(stations))
}

func (s *Server) commands(w http.ResponseWriter, r *http.Request) {
	q := commandlog.Query{TenantID: chi.URLParam(r, "tenantID")}
	params := r.URL.Query()
	var err error
	if v := params.Get("since"); v != "" {
		if q.Since, err = time.Parse(time.RFC3339, v); err != nil {
			http.Error(w, "since must be RFC3339", http.StatusBadRequest)
			return
		}
	}
	if v := params.Get("until"); v != "" {
		if q.Until, err = time.Parse(time.RFC3339, v); err != nil {
			http.Error(w, "until must be RFC3339", http.StatusBadRequest)
			return
		}
	}
	if v := params.Get("type"); v != "" {
		typ, ok := model.ParseCommandType(v)
		if !ok {
			http.Error(w, "unknown command type", http.StatusBadRequest)
			return
		}
		q.Type = typ
	}
	if v := params.Get("limit"); v != "" {
		if q.Limit, err = strconv.Atoi(v); err != nil || q.Limit < 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
	}
	records, err := s.logs.Query(r.Context(), q)
	if err != nil {
		s.log.Errorf("query command log: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	switch params.Get("format") {
	case "", "json":
		w.Header().Set("Content-Type", "application/json")
		err = export.WriteJSON(w, records)
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="commands.csv"`)
		err = export.WriteCSV(w, records)
	default:
		http.Error(w, "format must be json or csv", http.StatusBadRequest)
		return
	}
	if err != nil {
		s.log.Errorf("export command log: %v", err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorf("encode response: %v", err)
	}
}
