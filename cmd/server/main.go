package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/tendant/shamisen/pkg/shamisen"
	"github.com/tendant/shamisen/pkg/shamisen/api"
	"github.com/tendant/shamisen/pkg/shamisen/config"
	"golang.org/x/sync/errgroup"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s\n\nThe server is configured through the environment.\n\n", os.Args[0])
		config.EnvUsage(flag.CommandLine.Output())
	}
	flag.Parse()

	// Load configuration from environment
	serverConfig, err := config.Load(config.WithEnv())
	if err != nil {
		slog.Error("Failed to load server configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(serverConfig.Environment)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Build service from configuration
	rt, err := serverConfig.BuildService(ctx, logger)
	if err != nil {
		logger.Error("Failed to build service", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	server := NewHTTPServer(rt, serverConfig)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", serverConfig.Port),
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Shamisen server starting",
			"port", serverConfig.Port,
			"env", serverConfig.Environment,
			"catalog", serverConfig.CatalogType,
			"storage", serverConfig.Storage.Type,
			"object_base_url", serverConfig.ObjectBaseURL())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if serverConfig.ReconcileInterval > 0 {
		g.Go(func() error {
			runReconciler(gctx, rt.Service, serverConfig.ReconcileInterval, serverConfig.ReconcileGrace, logger)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Server exiting")
}

func newLogger(environment string) *slog.Logger {
	if environment == "development" {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// runReconciler resolves stale ingestion attempts every interval until ctx is done
func runReconciler(ctx context.Context, svc shamisen.Service, interval, grace time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := svc.Reconcile(ctx, grace)
			if err != nil {
				logger.Error("Reconcile pass failed", "error", err)
				continue
			}
			if report.Scanned > 0 {
				logger.Info("Reconcile pass finished",
					"scanned", report.Scanned,
					"committed", report.Committed,
					"abandoned", report.Abandoned,
					"failed", report.Failed)
			}
		}
	}
}

// defaultRequestTimeout bounds every route except object streaming
const defaultRequestTimeout = 60 * time.Second

// HTTPServer exposes the song catalog over HTTP
type HTTPServer struct {
	runtime        *config.Runtime
	config         *config.ServerConfig
	requestTimeout time.Duration
}

// NewHTTPServer creates a new HTTP server wrapper
func NewHTTPServer(runtime *config.Runtime, serverConfig *config.ServerConfig) *HTTPServer {
	return &HTTPServer{
		runtime:        runtime,
		config:         serverConfig,
		requestTimeout: defaultRequestTimeout,
	}
}

// Routes sets up the HTTP routes
func (s *HTTPServer) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS for development
	if s.config.Environment == "development" {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Access-Control-Allow-Origin", "*")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

				if r.Method == "OPTIONS" {
					w.WriteHeader(http.StatusOK)
					return
				}

				next.ServeHTTP(w, r)
			})
		})
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.requestTimeout))

		r.Get("/health", s.handleHealth)
		r.Get("/healthz", handleHealthz)
		r.Get("/healthz/ready", handleHealthz)

		songs := api.NewSongsHandler(s.runtime.Service, s.config.ListMode, s.config.MaxUploadBytes)
		r.Mount("/songs", songs.Routes())
	})

	// Large audio objects stream for as long as the client keeps reading
	blobs := api.NewBlobHandler(s.runtime.Objects, s.runtime.Signer)
	r.Mount("/blobs", blobs.Routes())

	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{
		"status":      "healthy",
		"environment": s.config.Environment,
		"catalog":     s.config.CatalogType,
		"storage":     s.config.Storage.Type,
	})
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	render.PlainText(w, r, http.StatusText(http.StatusOK))
}
