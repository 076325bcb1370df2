package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hostclub/serverpool/internal/common/config"
	"github.com/hostclub/serverpool/internal/common/logger"
	"github.com/hostclub/serverpool/internal/events/bus"
	"github.com/hostclub/serverpool/internal/gateway"
	"github.com/hostclub/serverpool/internal/workload"
	"github.com/hostclub/serverpool/internal/workload/api"
	"github.com/hostclub/serverpool/internal/workload/extensions"
	"github.com/hostclub/serverpool/internal/workload/store"
	"github.com/hostclub/serverpool/internal/workload/streaming"
	"github.com/hostclub/serverpool/internal/workload/supervisor"
	"github.com/hostclub/serverpool/internal/workload/workspace"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting Pool Manager service...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Event bus: NATS when configured, in-process otherwise
	var eventBus bus.EventBus
	if cfg.NATS.URL != "" {
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		eventBus = natsBus
		log.Info("Connected to NATS event bus", zap.String("url", cfg.NATS.URL))
	} else {
		eventBus = bus.NewMemoryEventBus(log)
		log.Info("Using in-process event bus")
	}
	defer eventBus.Close()

	// 4. Persistent store
	st, err := openStore(cfg)
	if err != nil {
		log.Fatal("Failed to open store", zap.Error(err))
	}
	defer st.Close()
	log.Info("Store ready", zap.String("driver", cfg.Database.Driver))

	// 5. Gateway: route registration and occupancy over the bus, or
	// in-process when running without NATS
	var gw gateway.Gateway
	if cfg.NATS.URL != "" {
		gw = gateway.NewNATS(eventBus, log)
	} else {
		gw = gateway.NewMemory()
	}

	// 6. Workspace builder
	builder := workspace.NewBuilder(workspace.Config{
		TemplateDir:    cfg.Pool.TemplateDir,
		WorkloadsDir:   cfg.Pool.WorkloadsDir,
		RuntimeJar:     cfg.Pool.RuntimeJar,
		ExtensionsDir:  cfg.Pool.ExtensionsDir,
		Host:           cfg.Pool.Host,
		BackupOnDelete: cfg.Pool.BackupOnDelete,
		BackupDir:      cfg.Pool.BackupDir,
	}, log)

	// 7. Console streaming hub, wired into the supervisor as its sink
	hub := streaming.NewHub(log)
	go hub.Run(ctx)

	// 8. Process supervisor
	sup := supervisor.New(supervisor.Config{
		JavaBin:      cfg.Pool.JavaBin,
		RuntimeJar:   cfg.Pool.RuntimeJar,
		MemoryMB:     cfg.Pool.MemoryMB,
		DebugConsole: cfg.Pool.DebugConsole,
	}, hub, log)

	// 9. Lifecycle manager
	registry := extensions.NewRegistry(cfg.Pool.AllowedExtensions)
	manager := workload.NewManager(cfg.Pool, st, builder, sup, gw, registry, eventBus, log)
	if err := manager.Load(ctx); err != nil {
		log.Fatal("Failed to load workloads", zap.Error(err))
	}

	// 10. Inactivity monitor
	monitor := workload.NewMonitor(manager, gw,
		cfg.Pool.MonitorInterval(), cfg.Pool.InactivityThreshold(), log)
	monitor.Start()

	// 11. Setup HTTP server with Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	v1 := router.Group("/api/v1")
	api.SetupRoutes(v1, manager, hub, cfg.Pool.Host, log)

	handler := api.NewHandler(manager, hub, cfg.Pool.Host, log)
	router.GET("/health", handler.Health)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// 12. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down Pool Manager service...")

	monitor.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Stop all workload processes before the store closes
	manager.Shutdown(shutdownCtx)

	cancel()
	log.Info("Pool Manager service stopped")
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Database.Path)
	case "postgres":
		return store.NewPostgres(cfg.Database.DSN(), cfg.Database.MaxConns)
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown database driver: %s", cfg.Database.Driver)
	}
}
