package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmverd/switchboard/internal/brain"
	"github.com/jmverd/switchboard/internal/call"
	"github.com/jmverd/switchboard/internal/config"
	"github.com/jmverd/switchboard/internal/history"
	"github.com/jmverd/switchboard/internal/httpapi"
	"github.com/jmverd/switchboard/internal/observability"
	"github.com/jmverd/switchboard/internal/policy"
	"github.com/jmverd/switchboard/internal/registry"
	"github.com/jmverd/switchboard/internal/relay"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	sink, err := history.NewSink(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("history sink init failed: %v", err)
	}
	defer sink.Close()
	if cfg.DatabaseURL == "" {
		log.Printf("history sink: in-memory (DATABASE_URL not set)")
	} else {
		log.Printf("history sink: postgres")
	}

	provider, err := brain.NewProvider(cfg.TriageProvider, cfg.TriageHTTPURL)
	if err != nil {
		log.Fatalf("triage provider init failed: %v", err)
	}
	switch provider.(type) {
	case *brain.HTTPProvider:
		log.Printf("triage provider: http (%s)", cfg.TriageHTTPURL)
	default:
		log.Printf("triage provider: mock")
	}

	var notifier brain.Notifier
	if cfg.ChatWebhookURL != "" {
		notifier, err = brain.NewWebhookNotifier(cfg.ChatWebhookURL)
		if err != nil {
			log.Fatalf("chat webhook init failed: %v", err)
		}
		log.Printf("chat notifications: webhook")
	} else {
		log.Printf("chat notifications: disabled (CHAT_WEBHOOK_URL not set)")
	}

	reg := registry.New()
	store := call.NewStore(cfg.AudioRetention, cfg.CallRetention)
	decider := policy.NewKeywordDecider(cfg.NotifyKeywords)

	coord := relay.NewCoordinator(reg, store, provider, notifier, sink, decider, metrics, relay.Options{
		TranscribeEvery:   cfg.TranscribeEvery,
		TranscribeTimeout: cfg.TranscribeTimeout,
		RespondTimeout:    cfg.RespondTimeout,
		SummarizeTimeout:  cfg.SummarizeTimeout,
		NotifyTimeout:     cfg.NotifyTimeout,
	})

	api := httpapi.New(cfg, reg, store, coord, sink, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	coord.Start(runCtx)
	reg.StartJanitor(runCtx, cfg.ConnEvictInterval, cfg.ConnInactivityThreshold)
	store.StartJanitor(runCtx, cfg.CleanupInterval)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
