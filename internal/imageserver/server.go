// Package imageserver serves firmware image files read-only over HTTP.
// Devices fetch the URLs the catalog hands out; there is no listing and no
// authentication (clients are certificate-pinned at the MQTT layer).
package imageserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devlink-io/devlink/internal/metrics"
	"github.com/devlink-io/devlink/pkg/log"
	"github.com/devlink-io/devlink/pkg/options"
)

// Server is the firmware download endpoint.
type Server struct {
	srv    *http.Server
	logger log.Logger
}

// New creates the image server over the configured image root and port.
func New(opts *options.OtaOptions) *Server {
	r := mux.NewRouter()

	r.PathPrefix("/images/").Handler(
		http.StripPrefix("/images/", noListing(http.FileServer(http.Dir(opts.ImagePath)))))

	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return &Server{
		srv: &http.Server{
			Addr:    fmt.Sprintf(":%d", opts.HTTPPort),
			Handler: r,
		},
		logger: log.WithName("imageserver"),
	}
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Image server listening", "addr", s.srv.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return ctx.Err()
	}
}

// noListing turns directory requests into 404s instead of listings.
func noListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
