package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hjscm/alertengine/alert"
	"github.com/hjscm/alertengine/dispatch"
	"github.com/hjscm/alertengine/engine"
	"github.com/hjscm/alertengine/exceptions"
	"github.com/hjscm/alertengine/internal/config"
	"github.com/hjscm/alertengine/internal/logger"
	"github.com/hjscm/alertengine/metrics"
	"github.com/hjscm/alertengine/rules"
	"github.com/hjscm/alertengine/scoring"
	"github.com/hjscm/alertengine/snapshot"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to YAML config file (optional)")
	flag.Parse()

	defer logger.Shutdown(context.Background())

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}

	var db *sql.DB
	var ruleStore rules.RuleStore
	var excStore exceptions.ExceptionStore
	if cfg.Database.URL != "" {
		db, err = sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			logger.Fatal("failed to open database", "error", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			logger.Fatal("failed to ping database", "error", err)
		}
		ruleStore = rules.NewPostgresRuleStore(db)
		excStore = exceptions.NewPostgresExceptionStore(db)
		logger.Info("using postgres stores")
	} else {
		ruleStore = rules.NewInMemoryRuleStore()
		excStore = exceptions.NewInMemoryExceptionStore()
		logger.Warn("DATABASE_URL not set, using in-memory stores")
	}

	evaluator, err := rules.NewEvaluator()
	if err != nil {
		logger.Fatal("failed to create evaluator", "error", err)
	}
	registry, err := rules.NewRegistry(ruleStore, evaluator)
	if err != nil {
		logger.Fatal("failed to load rule registry", "error", err)
	}

	scorer, err := scoring.New(cfg.Scoring.Weights)
	if err != nil {
		logger.Fatal("invalid scoring weights", "error", err)
	}
	manager := exceptions.NewManager(excStore, scorer, cfg.SLAWindows())

	feed := dispatch.NewNotificationFeed(cfg.Dispatch.NotificationFeedSize)
	sinks := map[alert.ActionType]dispatch.Sink{
		alert.ActionNotification: feed,
		alert.ActionEmail:        &dispatch.EmailSink{Sender: &logEmailSender{}},
	}
	if cfg.Dispatch.WebhookURL != "" {
		sinks[alert.ActionWebhook] = dispatch.NewWebhookSink(cfg.Dispatch.WebhookURL)
	}
	dispatcher := dispatch.NewDispatcher(sinks, dispatch.Config{
		Timeout:     cfg.Dispatch.Timeout.Std(),
		MaxAttempts: cfg.Dispatch.MaxAttempts,
	}, manager)

	snapshots := snapshot.NewStore(cfg.Snapshots.MaxEntities)

	eng, err := engine.New(registry, snapshots, manager, dispatcher, engine.Config{
		Workers:         cfg.Engine.Workers,
		QueueSize:       cfg.Engine.QueueSize,
		SweepInterval:   cfg.Engine.SweepInterval.Std(),
		ShutdownTimeout: cfg.Engine.ShutdownTimeout.Std(),
	})
	if err != nil {
		logger.Fatal("failed to build engine", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := eng.Start(ctx); err != nil {
		logger.Fatal("failed to start engine", "error", err)
	}

	promRegistry := prometheus.NewRegistry()
	metrics.Register(promRegistry)
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv := newServer(db, registry, manager, eng, snapshots, feed, cfg.Categories)
	srv.router.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", "error", err)
	}
	// Drain evaluation queues after the HTTP listener stops accepting work.
	eng.Stop()
	logger.Info("server stopped")
}

// logEmailSender stands in for SMTP in deployments without a mail relay.
type logEmailSender struct{}

func (s *logEmailSender) Send(_ context.Context, subject, body string) error {
	logger.Info("email dispatched", "subject", subject, "body", body)
	return nil
}
