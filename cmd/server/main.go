package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brunobiangulo/gosynth"
	"github.com/brunobiangulo/gosynth/metrics"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML or JSON)")
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := gosynth.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = gosynth.LoadConfig(*configPath)
		if err != nil {
			slog.Error("loading config", "error", err)
			os.Exit(1)
		}
	}
	cfg.ApplyEnv()

	apiKey := os.Getenv("GOSYNTH_API_KEY")
	corsOrigins := os.Getenv("GOSYNTH_CORS_ORIGINS")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engine, err := gosynth.New(context.Background(), cfg, gosynth.WithMetrics(metrics.New(reg)))
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	srv := &http.Server{
		Addr:         *addr,
		Handler:      newServer(engine, reg, apiKey, corsOrigins),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // generation can run for minutes
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr, "store", cfg.Store, "provider", cfg.Chat.Provider)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

// newServer wires routes and the middleware chain.
func newServer(engine gosynth.Engine, reg *prometheus.Registry, apiKey, corsOrigins string) http.Handler {
	h := newHandler(engine)
	mux := http.NewServeMux()

	mux.HandleFunc("POST /dag", h.handleDAG)
	mux.HandleFunc("POST /environments", h.handleCreateEnvironment)
	mux.HandleFunc("GET /environments/{id}", h.handleGetEnvironment)
	mux.HandleFunc("POST /environments/{id}/setup", h.handleSetup)
	mux.HandleFunc("POST /environments/{id}/generate", h.handleGenerate)
	mux.HandleFunc("POST /environments/{id}/scenario", h.handleScenario)
	mux.HandleFunc("GET /environments/{id}/records", h.handleListRecords)
	mux.HandleFunc("POST /schemas", h.handleImportSchemas)
	mux.HandleFunc("GET /schemas", h.handleListSchemas)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gosynth_http_requests_total",
		Help: "HTTP requests by status code and method.",
	}, []string{"code", "method"})
	reg.MustRegister(requests)

	// Middleware chain: recovery -> cors -> request id -> auth -> logging -> metrics -> mux
	var handler http.Handler = promhttp.InstrumentHandlerCounter(requests, mux)
	handler = logMiddleware(handler)
	handler = authMiddleware(apiKey, handler)
	handler = requestIDMiddleware(handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)
	return handler
}
