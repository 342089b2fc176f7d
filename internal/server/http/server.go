// Package httpserver serves health, metrics and read-only group views over HTTP.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/navcom/groupctl/internal/errs"
	"github.com/navcom/groupctl/internal/model"
	"github.com/navcom/groupctl/internal/projection"
	"github.com/navcom/groupctl/internal/service"
)

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Groups reads group state.
type Groups interface {
	Projection(ctx context.Context, groupID string) (model.Projection, error)
	List() []projection.Summary
}

// Verifier authenticates bearer tokens.
type Verifier interface {
	Verify(raw string) (service.Actor, error)
}

// Options wires the router. Nil DB skips the database check; nil Groups or
// Verifier disables the group routes.
type Options struct {
	DB       Pinger
	Registry *prometheus.Registry
	Groups   Groups
	Verifier Verifier
	Log      *zap.Logger
}

// NewRouter builds the HTTP routes.
func NewRouter(o Options) *mux.Router {
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	r := mux.NewRouter()
	r.HandleFunc("/healthz", healthz(o.DB)).Methods(http.MethodGet)
	if o.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(o.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	if o.Groups != nil && o.Verifier != nil {
		api := r.PathPrefix("/v1").Subrouter()
		api.Use(bearer(o.Verifier))
		api.HandleFunc("/groups", listGroups(o.Groups)).Methods(http.MethodGet)
		api.HandleFunc("/groups/{groupId}", getGroup(o.Groups, o.Log)).Methods(http.MethodGet)
	}
	return r
}

func healthz(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "unreachable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func bearer(v Verifier) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			if _, err := v.Verify(strings.TrimSpace(h[7:])); err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func listGroups(g Groups) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		groups := g.List()
		if groups == nil {
			groups = []projection.Summary{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
	}
}

func getGroup(g Groups, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["groupId"]
		p, err := g.Projection(r.Context(), id)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, p)
		case errors.Is(err, errs.ErrNotFound):
			writeError(w, http.StatusNotFound, "group not found")
		case errors.Is(err, projection.ErrStale), errors.Is(err, errs.ErrCheckpointUnreadable):
			writeError(w, http.StatusConflict, err.Error())
		default:
			log.Error("projection read failed", zap.String("group", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal")
		}
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Server is an HTTP server with graceful shutdown.
type Server struct {
	srv *http.Server
	log *zap.Logger
}

// New constructs a server on addr.
func New(addr string, h http.Handler, log *zap.Logger) *Server {
	return &Server{
		srv: &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second},
		log: log,
	}
}

// Run serves until ctx is done, then shuts down within five seconds.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http listening", zap.String("addr", s.srv.Addr))
		errCh <- s.srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(sctx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
