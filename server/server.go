package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"

	"github.com/disqualifier/mailtime/api"
	"github.com/disqualifier/mailtime/config"
	"github.com/disqualifier/mailtime/internal/cron"
	"github.com/disqualifier/mailtime/internal/enum"
	"github.com/disqualifier/mailtime/internal/logger"
	"github.com/disqualifier/mailtime/internal/repository"
	"github.com/disqualifier/mailtime/internal/tracing"
	"github.com/disqualifier/mailtime/services"
)

type Server struct {
	config       *config.Config
	httpServer   *http.Server
	router       *gin.Engine
	services     *services.Services
	repositories *repository.Repositories
	cronManager  *cron.CronManager
	tracerCloser io.Closer
	eventsDone   chan struct{}
}

func NewServer(cfg *config.Config) (*Server, error) {
	// Initialize logger
	appLogger := logger.NewAppLogger(cfg.Logger)
	appLogger.InitLogger()

	// Initialize tracing
	tracer, closer, err := tracing.NewJaegerTracer(cfg.Tracing, appLogger)
	if err != nil {
		log.Fatalf("Could not initialize jaeger tracer: %s", err.Error())
	}
	opentracing.SetGlobalTracer(tracer)

	// Initialize repositories
	repos := repository.InitRepositories(cfg.CacheConfig.Dir, appLogger)

	// Initialize services
	svcs := services.InitServices(cfg, appLogger, repos)

	// Cache maintenance jobs
	cronManager := cron.NewCronManager(cfg, appLogger, repos, svcs.SyncService)

	// Initialize Gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()

	return &Server{
		config:       cfg,
		router:       router,
		services:     svcs,
		repositories: repos,
		cronManager:  cronManager,
		tracerCloser: closer,
		eventsDone:   make(chan struct{}),
		httpServer: &http.Server{
			Addr:    ":" + cfg.AppConfig.APIPort,
			Handler: router,
		},
	}, nil
}

func (s *Server) Initialize(ctx context.Context) error {
	// Register accounts from the accounts file
	accounts, err := config.LoadAccounts(s.config.AppConfig.AccountsFile, s.config.DefaultIMAP)
	if err != nil {
		return err
	}
	for _, account := range accounts {
		if err := s.services.SyncService.AddAccount(ctx, account); err != nil {
			return err
		}
	}
	log.Printf("Registered %d accounts from %s", len(accounts), s.config.AppConfig.AccountsFile)

	// Log engine events as they happen
	log.Println("Registering event handler...")
	s.consumeEvents()

	// Setup API routes
	api.RegisterRoutes(ctx, s.router, s.config, s.services)

	return nil
}

// consumeEvents drains the engine event stream into the process log.
func (s *Server) consumeEvents() {
	events, _ := s.services.EventsService.Subscribe(64)

	go s.wrapGoroutine("event_log", func() {
		defer close(s.eventsDone)
		for event := range events {
			switch event.Type {
			case enum.EventStatusChanged:
				if event.Error != "" {
					log.Printf("[%s] Status: %s (%s)", event.AccountID, event.Status, event.Error)
				} else {
					log.Printf("[%s] Status: %s", event.AccountID, event.Status)
				}
			case enum.EventMessagesUpdated:
				if event.Summary != nil {
					log.Printf("[%s][%s] Messages updated: %d added, %d updated, %d removed",
						event.AccountID, event.Summary.Folder, event.Summary.Added, event.Summary.Updated, event.Summary.Removed)
				}
			case enum.EventAccountAdded:
				log.Printf("[%s] Account registered: %s", event.AccountID, event.Email)
			case enum.EventAccountRemoved:
				log.Printf("[%s] Account removed: %s", event.AccountID, event.Email)
			}
		}
	})
}

func (s *Server) recoverWithJaeger(name string) {
	if r := recover(); r != nil {
		// Create a new span for the panic
		span := opentracing.GlobalTracer().StartSpan(
			fmt.Sprintf("panic.%s", name),
		)
		defer span.Finish()

		// Mark span as failed
		ext.Error.Set(span, true)

		// Log panic details
		span.LogKV(
			"event", "panic",
			"process", name,
			"error", fmt.Sprintf("%v", r),
			"stack", string(debug.Stack()),
		)

		log.Printf("❌ Panic in %s: %v\n%s", name, r, debug.Stack())
	}
}

func (s *Server) wrapGoroutine(name string, fn func()) {
	defer s.recoverWithJaeger(name)
	fn()
}

func (s *Server) Run() error {
	// Create root context for the application
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize server components
	if err := s.Initialize(ctx); err != nil {
		return err
	}

	// Start the sync engine with panic recovery
	log.Println("Starting sync engine...")
	s.wrapGoroutine("sync_engine", func() {
		if err := s.services.SyncService.Start(ctx); err != nil {
			log.Printf("❌ Sync engine error: %v", err)
		}
	})
	log.Println("✅ Sync engine started successfully")

	// Start cache maintenance jobs
	s.cronManager.StartCron()

	// Start HTTP server in a goroutine with panic recovery
	go s.wrapGoroutine("http_server", func() {
		log.Println("Starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("❌ HTTP server error: %v", err)
		}
	})
	log.Println("✅ HTTP server started successfully")
	log.Println("mailtime is now running. Press Ctrl+C to exit.")

	return s.waitForShutdown()
}

func (s *Server) waitForShutdown() error {
	defer s.recoverWithJaeger("shutdown")

	// Set up signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// Wait for termination signal
	<-stop
	log.Println("Shutting down...")

	// Create a context with timeout for shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	// Shut down HTTP server
	log.Println("Shutting down HTTP server...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("❌ HTTP server shutdown error: %v", err)
	} else {
		log.Println("✅ HTTP server shut down successfully")
	}

	// Stop sync engine with timeout and panic recovery
	log.Println("Stopping sync engine...")
	stopDone := make(chan struct{})
	go s.wrapGoroutine("sync_engine_shutdown", func() {
		defer close(stopDone)
		if err := s.services.SyncService.Stop(); err != nil {
			log.Printf("❌ Sync engine shutdown error: %v", err)
		} else {
			log.Println("✅ Sync engine stopped successfully")
		}
	})

	// Wait for the sync engine to stop with timeout
	select {
	case <-stopDone:
		log.Println("Sync engine stopped gracefully")
	case <-time.After(15 * time.Second):
		log.Println("⚠️ Sync engine stop timed out, forcing exit")
	}

	// Stop cache maintenance jobs
	s.cronManager.Stop()

	// Close the event stream; the log consumer drains and exits
	s.services.EventsService.Close()
	select {
	case <-s.eventsDone:
	case <-time.After(2 * time.Second):
	}

	if s.tracerCloser != nil {
		s.tracerCloser.Close()
	}

	return nil
}
