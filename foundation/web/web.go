// Package web builds the operator http server exposed by each binary.
package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// CheckFunc reports the health of a dependency.
type CheckFunc func(ctx context.Context) error

//defaultHttpHandler simple default http handler for default route
type defaultHttpHandler struct {
}

//ServeHTTP implements defaultHttpHandler http.Handler interface
func (h *defaultHttpHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Add("Application-Status", "OK")
}

//healthHandler runs each named check and reports the failures
type healthHandler struct {
	log    *zerolog.Logger
	checks map[string]CheckFunc
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.log.Warn().Err(err).Str("check", name).Msg("health check failed")
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	WriteJSON(h.log, w, status, results)
}

// NewRouter returns a router serving "/", "/health" and "/metrics". Binaries add their own routes.
func NewRouter(log *zerolog.Logger, gatherer prometheus.Gatherer, checks map[string]CheckFunc) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/", &defaultHttpHandler{})
	r.Handle("/health", &healthHandler{log: log, checks: checks}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

// WriteJSON marshals v as the response body.
func WriteJSON(log *zerolog.Logger, w http.ResponseWriter, status int, v interface{}) {
	jsonData, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("error marshaling json response")
		http.Error(w, "Error serving request", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err = w.Write(jsonData); err != nil {
		log.Error().Err(err).Msg("error writing json response")
	}
}

// NewServer creates an http.Server listening on port.
func NewServer(handler http.Handler, port int) *http.Server {
	return &http.Server{
		Addr:         net.JoinHostPort("0.0.0.0", strconv.Itoa(port)),
		WriteTimeout: time.Second * 15,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
		Handler:      handler,
	}
}

// Run serves srv until ctx is done, then shuts it down.
func Run(ctx context.Context, log *zerolog.Logger, srv *http.Server) {
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("starting web server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server ListenAndServe ended")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	log.Info().Msg("ending web server on shutdown signal")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error shutting down web server")
	}
}
