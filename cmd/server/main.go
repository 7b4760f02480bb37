package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-expense-approvals/internal/client"
	"github.com/pesio-ai/be-expense-approvals/internal/config"
	"github.com/pesio-ai/be-expense-approvals/internal/handler"
	"github.com/pesio-ai/be-expense-approvals/internal/platform/database"
	"github.com/pesio-ai/be-expense-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-expense-approvals/internal/platform/middleware"
	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/internal/service"
	"github.com/pesio-ai/be-expense-approvals/internal/tracing"
)

// stores bundles the persistence backends selected by configuration.
type stores struct {
	bills  service.BillStore
	config service.ApprovalConfigStore
	edits  service.EditLedger
	users  service.UserDirectory
	close  func()
}

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Str("store", cfg.Store.Driver).
		Msg("Starting Expense Approvals Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Tracing.Enabled {
		if err := tracing.Init(cfg.Service.Name, cfg.Service.Version, cfg.Tracing.OutputFile); err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracing")
		}
		defer func() {
			if err := tracing.Shutdown(context.Background()); err != nil {
				log.Warn().Err(err).Msg("Tracing shutdown failed")
			}
		}()
	}

	users := make([]repository.User, 0, len(cfg.Users))
	for _, u := range cfg.Users {
		users = append(users, repository.User{ID: u.ID, Name: u.Name, Role: u.Role})
	}

	st, err := openStores(ctx, cfg, users, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open stores")
	}
	defer st.close()

	attachments, err := client.NewAttachmentStore(ctx, cfg.Attachments.BaseURL, cfg.Attachments.PublicPrefix)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize attachment store")
	}

	// Notification bus is optional
	var publisher service.EventPublisher = service.NoopPublisher()
	if cfg.NATS.URL != "" {
		nc, err := client.ConnectNATS(cfg.NATS.URL, cfg.Service.Name, log.Logger)
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("NATS unavailable, notifications disabled")
		} else {
			np := client.NewNotificationPublisher(nc, cfg.NATS.SubjectPrefix, log.Logger)
			defer np.Close()
			publisher = np
			log.Info().Str("url", cfg.NATS.URL).Msg("Notification publisher connected")
		}
	}

	planner, err := service.NewStepPlanner(cfg.Approval.TerminalRole, cfg.Approval.DefaultOrder, cfg.Approval.ApproverPattern)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid approval configuration")
	}

	// Initialize services
	locks := service.NewBillLocks()
	policy := service.AttachmentPolicy{
		MaxFiles:    cfg.Attachments.MaxFiles,
		MaxFileSize: cfg.Attachments.MaxFileSize,
		Extensions:  cfg.Attachments.Extensions,
	}
	billService := service.NewBillService(st.bills, st.config, attachments, publisher, planner, locks, policy, log.Component("bills"))
	approvalService := service.NewApprovalService(
		st.bills, st.config, st.edits, attachments, st.users, publisher, planner, locks,
		service.ApprovalOptions{EnforceCallerRole: cfg.Approval.EnforceCallerRole},
		log.Component("approvals"),
	)
	settingsService := service.NewSettingsService(st.config, planner, cfg.Auth.AdminRole, log.Component("settings"))
	verifier := handler.NewTokenVerifier(cfg.Auth.JWTSecret)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(billService, approvalService, settingsService, verifier, handler.UploadOptions{
		PublicPrefix:   cfg.Attachments.PublicPrefix,
		Root:           attachments.Root(),
		MaxRequestSize: int64(cfg.Attachments.MaxFiles+1) * cfg.Attachments.MaxFileSize,
	}, log.Component("http"))

	router := chi.NewRouter()
	router.Use(middleware.Chain(&log.Logger, cfg.Server.AllowedOrigins, cfg.Server.HandlerTimeout)...)
	httpHandler.Routes(router)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Start gRPC server
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		handler.RecoveryInterceptor(log),
		handler.LoggingInterceptor(log.Component("grpc")),
		handler.AuthInterceptor(verifier),
	))
	handler.RegisterBillApprovalsServer(grpcServer, handler.NewGRPCHandler(billService, approvalService, log))

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(handler.BillApprovalsServiceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	go func() {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	grpcServer.GracefulStop()

	log.Info().Msg("Server stopped")
}

// openStores connects the configured backend and seeds defaults.
func openStores(ctx context.Context, cfg *config.Config, users []repository.User, log *logger.Logger) (*stores, error) {
	if cfg.Store.Driver == "memory" {
		mem := repository.NewMemoryStore(cfg.Approval.DefaultOrder, users)
		log.Info().Msg("Using in-memory store")
		return &stores{bills: mem, config: mem, edits: mem, users: mem, close: func() {}}, nil
	}

	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := repository.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if err := repository.SeedDefaults(ctx, db, cfg.Approval.DefaultOrder, users); err != nil {
		db.Close()
		return nil, err
	}
	log.Info().Msg("Database connection established")

	return &stores{
		bills:  repository.NewBillRepository(db),
		config: repository.NewApprovalConfigRepository(db),
		edits:  repository.NewBillEditRepository(db),
		users:  repository.NewUserRepository(db),
		close:  db.Close,
	}, nil
}
