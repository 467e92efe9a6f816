// Package proxy implements the local loopback streaming proxy. It resolves
// remote file URLs through the vendor API, caches them, and streams content
// to local players and WebDAV clients, transparently decrypting bodies and
// rewriting redirects so that encrypted traffic keeps flowing back through
// the proxy.
package proxy

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/cloudrive/drive-stream-proxy/internal/config"
	"github.com/cloudrive/drive-stream-proxy/internal/driveapi"
	"github.com/cloudrive/drive-stream-proxy/internal/monitoring"
	"github.com/cloudrive/drive-stream-proxy/internal/resolver"
	"github.com/cloudrive/drive-stream-proxy/internal/urlcache"
)

// Server is the local streaming proxy server.
type Server struct {
	httpServer *http.Server
	resolver   *resolver.Resolver
	cache      *urlcache.Cache
	store      *urlcache.Store
	pools      *transports
	urls       resolver.URLBuilder
	config     *config.Config
	logger     *logrus.Entry
}

// NewServer creates a proxy server wired to the real vendor API.
func NewServer(cfg *config.Config) (*Server, error) {
	api := driveapi.NewClient(cfg.Vendor.APIBase)
	return NewServerWithAPI(cfg, api)
}

// NewServerWithAPI creates a proxy server against an arbitrary vendor API
// implementation; tests inject fakes here.
func NewServerWithAPI(cfg *config.Config, api driveapi.API) (*Server, error) {
	logger := logrus.WithField("component", "proxy-server")

	urls := resolver.URLBuilder{Port: cfg.ProxyPort}
	res := resolver.New(api, urls, time.Duration(cfg.Vendor.DownloadTTLSeconds)*time.Second)

	var store *urlcache.Store
	if cfg.Cache.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Cache.Path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		var err error
		store, err = urlcache.OpenStore(cfg.Cache.Path)
		if err != nil {
			// The cache is best-effort; run without persistence rather
			// than refuse to start.
			logger.WithError(err).Warn("URL cache persistence disabled")
			store = nil
		}
	}

	cache, err := urlcache.New(cfg.Cache.MaxEntries, store)
	if err != nil {
		return nil, fmt.Errorf("failed to create url cache: %w", err)
	}

	server := &Server{
		resolver: res,
		cache:    cache,
		store:    store,
		pools:    newTransports(),
		urls:     urls,
		config:   cfg,
		logger:   logger,
	}

	router := mux.NewRouter()
	server.setupRoutes(router)

	server.httpServer = &http.Server{
		Addr:        cfg.BindAddress(),
		Handler:     router,
		IdleTimeout: 60 * time.Second,
		// No read/write timeouts: streams legitimately run for the length
		// of a movie. Cancellation is tied to the client connection.
	}

	return server, nil
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes(router *mux.Router) {
	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.HandleFunc("/proxy", s.handleProxy).Methods("GET", "HEAD")
	router.HandleFunc("/redirect/{key}", s.handleRedirect).Methods("GET", "HEAD")

	router.Use(s.loggingMiddleware)
	router.Use(monitoring.HTTPMiddleware)
}

// Start starts the proxy server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	serverErrChan := make(chan error, 1)
	go func() {
		s.logger.WithField("address", s.httpServer.Addr).Info("Starting streaming proxy server")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("proxy server failed: %w", err)
		}
	}()

	select {
	case err := <-serverErrChan:
		return err
	case <-ctx.Done():
		s.logger.Info("Shutting down proxy server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			time.Duration(s.config.ShutdownTimeout)*time.Second)
		defer cancel()

		err := s.httpServer.Shutdown(shutdownCtx)
		s.pools.Close()
		if s.store != nil {
			if cerr := s.store.Close(); cerr != nil {
				s.logger.WithError(cerr).Warn("Failed to close url cache store")
			}
		}
		if err != nil {
			s.logger.WithError(err).Error("Failed to gracefully shutdown server")
			return err
		}

		s.logger.Info("Proxy server stopped")
		return nil
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		s.logger.WithError(err).Error("Failed to write health response")
	}
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   wrapped.statusCode,
			"duration": time.Since(start),
			"range":    r.Header.Get("Range"),
		}).Info("HTTP request")
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code
type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.statusCode = code
	sw.ResponseWriter.WriteHeader(code)
}
