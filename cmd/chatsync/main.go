package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatsync/internal/config"
	"chatsync/internal/constants"
	"chatsync/internal/models"
	"chatsync/internal/network"
	"chatsync/internal/queue"
	"chatsync/internal/reconcile"
	"chatsync/internal/store"
	"chatsync/internal/syncer"
	"chatsync/internal/timeline"
	"chatsync/internal/tracing"
	"chatsync/pkg/api"
	"chatsync/pkg/push"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("chatsync %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.Warnf("Could not load .env file: %v", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting chatsync")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
		logger.SetLevel(logrus.InfoLevel)
	}

	tracingCfg := tracing.DefaultConfig()
	tracingCfg.ServiceVersion = Version
	tracingCfg.Enabled = cfg.Tracing.Enabled
	tracingCfg.UseStdout = cfg.Tracing.UseStdout
	if cfg.Tracing.OTLPEndpoint != "" {
		tracingCfg.OTLPEndpoint = cfg.Tracing.OTLPEndpoint
	}
	if cfg.Tracing.SampleRate > 0 {
		tracingCfg.SampleRate = cfg.Tracing.SampleRate
	}
	if cfg.Tracing.Environment != "" {
		tracingCfg.Environment = cfg.Tracing.Environment
	}
	tracingManager := tracing.NewManager(tracingCfg, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.WithError(err).Warn("Could not initialize tracing")
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Warn("Tracing shutdown failed")
		}
	}()

	// A broken local store degrades the app to network-only reads; it
	// must not prevent startup.
	db, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		logger.WithError(err).Error("Local store unavailable, continuing network-only")
		db = nil
	} else {
		defer db.Close()
	}

	httpClient := &http.Client{Timeout: time.Duration(cfg.API.TimeoutSec) * time.Second}
	apiClient := api.NewClient(cfg.API.BaseURL, cfg.API.AuthToken, httpClient, logger)

	probe := network.NewHTTPProbe(cfg.Network.ProbeURL, nil)
	oracle := network.NewOracle(probe, time.Duration(cfg.Network.ProbeIntervalSec)*time.Second, logger)
	oracle.Start(ctx)
	defer oracle.Stop()

	reconciler := reconcile.NewReconciler(db, logger)
	reconciler.Start(ctx)
	defer reconciler.Stop()

	engine := timeline.NewEngine(db, db, logger)

	sender := &apiSender{client: apiClient, store: db, logger: logger}
	manager := queue.NewManager(db, sender, oracle, reconciler, cfg.CurrentUserEntityID, queue.Config{
		DrainInterval: time.Duration(cfg.Queue.DrainIntervalSec) * time.Second,
		MaxAttempts:   cfg.Queue.MaxAttempts,
		DedupWindow:   time.Duration(cfg.Queue.DedupWindowSec) * time.Second,
	}, logger)

	coordinator := syncer.NewCoordinator(db, apiClient, reconciler, oracle, syncer.Config{
		Interval: time.Duration(cfg.Sync.IntervalSec) * time.Second,
	}, logger)
	manager.OnSent(coordinator.NoteSent)

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start outbound queue: %w", err)
	}
	defer manager.Stop()

	if err := coordinator.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sync coordinator: %w", err)
	}
	defer coordinator.Stop()

	if cfg.Push.Enabled {
		pushClient := push.NewClient(cfg.Push.URL, cfg.API.AuthToken, &pushHandler{reconciler: reconciler}, logger)
		if err := pushClient.Start(ctx); err != nil {
			logger.WithError(err).Warn("Could not start push channel, relying on periodic sync")
		} else {
			defer pushClient.Stop()
		}
	}

	go runRetentionCleanup(ctx, db, cfg.RetentionDays, logger)

	server := NewServer(cfg, engine, manager, coordinator, oracle, db, logger)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Info("Shutdown complete")
	return nil
}

func runRetentionCleanup(ctx context.Context, db *store.Store, retentionDays int, logger *logrus.Logger) {
	if db == nil || retentionDays <= 0 {
		return
	}

	ticker := time.NewTicker(time.Duration(constants.CleanupSchedulerIntervalHours) * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := db.CleanupOldRecords(ctx, retentionDays); err != nil {
				logger.WithError(err).Warn("Retention cleanup failed")
			}
		}
	}
}

// apiSender adapts the backend client to the queue's Sender contract and
// persists the interaction the server routes new messages into.
type apiSender struct {
	client *api.Client
	store  *store.Store
	logger *logrus.Logger
}

func (s *apiSender) SendMessage(ctx context.Context, req models.SendMessageRequest, optimisticID string) (*models.Message, error) {
	envelope, err := s.client.SendMessage(ctx, req, optimisticID)
	if err != nil {
		return nil, err
	}

	if envelope.Interaction.ID != "" {
		if err := s.store.SaveInteraction(ctx, envelope.Interaction); err != nil {
			s.logger.WithError(err).Debug("Could not persist interaction")
		}
	}

	msg := envelope.Message
	return &msg, nil
}

func (s *apiSender) SendTransaction(ctx context.Context, req models.SendTransactionRequest, optimisticID string) (*models.Transaction, error) {
	return s.client.SendTransaction(ctx, req, optimisticID)
}

// pushHandler feeds push events into the reconciler.
type pushHandler struct {
	reconciler *reconcile.Reconciler
}

func (h *pushHandler) HandleNewMessage(ctx context.Context, msg models.Message) error {
	return h.reconciler.ApplyMessage(ctx, msg)
}

func (h *pushHandler) HandleTransactionUpdate(ctx context.Context, ev models.TransactionUpdateEvent) error {
	return h.reconciler.ApplyTransactionUpdate(ctx, ev)
}
