package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"chat-relay/internal/config"
	"chat-relay/internal/db"
	"chat-relay/internal/dedup"
	grpcserver "chat-relay/internal/grpc"
	"chat-relay/internal/handlers"
	"chat-relay/internal/logging"
	"chat-relay/internal/middleware"
	"chat-relay/internal/observability"
	"chat-relay/internal/rabbitmq"
	"chat-relay/internal/repositories"
	"chat-relay/internal/services"
	"chat-relay/internal/telemetry"
	"chat-relay/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TracingConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.OTLPEndpoint,
	})
	if err != nil {
		logger.Fatal("failed to set up tracing", zap.Error(err))
	}

	conversations, messages, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	observability.SetPublisher(publisher)
	audit := telemetry.NewAuditEmitter(publisher, observability.RoutingKeyAudit, cfg.ServiceName, cfg.Environment, logger)
	logger.Info("event publisher ready",
		zap.String("mode", rabbitmq.PublisherMode(publisher)),
		zap.String("noop_reason", rabbitmq.PublisherNoopReason(publisher)))

	seen, err := dedup.New(cfg.DedupCapacity)
	if err != nil {
		logger.Fatal("failed to build dedup cache", zap.Error(err))
	}
	hub := ws.NewHub()
	store := services.NewChatStore(conversations, messages, hub, logger)
	msgRouter := ws.NewRouter(hub, seen, store, logger)
	presence := ws.NewPresence(hub, logger)
	origins := middleware.NewOriginPolicy(cfg.AllowedOrigins)
	wsHandler := ws.NewHandler(hub, msgRouter, presence, ws.HandlerConfig{
		CheckOrigin: origins.AllowedRequest,
		SendBuffer:  cfg.SendBuffer,
	}, logger)
	history := handlers.NewHistoryHandler(conversations, messages, audit)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(middleware.CORS(origins))

	router.GET("/ws", wsHandler.Handle)
	router.GET("/conversations/:identity_id", history.ListConversations)
	router.GET("/messages/:chat_id", history.ListMessages)
	router.PUT("/messages/:chat_id/read", history.MarkRead)
	router.GET("/status", handlers.Status(hub))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterDebugRoutes(router, audit, cfg.DebugRoutes)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	healthServer := grpcserver.NewHealthServer(logger)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Fatal("failed to listen for grpc", zap.String("port", cfg.GRPCPort), zap.Error(err))
	}
	go func() {
		logger.Info("grpc health server listening", zap.String("port", cfg.GRPCPort))
		if err := healthServer.Serve(lis); err != nil {
			logger.Error("grpc server error", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("chat relay listening", zap.String("port", cfg.Port), zap.String("storage", cfg.StorageBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	healthServer.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	// Hijacked websocket connections are not tracked by http.Server.
	hub.CloseAll()
	if err := publisher.Close(); err != nil {
		logger.Warn("publisher close", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repositories.ConversationRepository, repositories.MessageRepository, func()) {
	if cfg.StorageBackend == config.BackendMemory {
		logger.Warn("using in-memory storage, history is lost on restart")
		mem := repositories.NewMemoryStore()
		return mem, mem, func() {}
	}

	database, err := db.Connect(ctx, cfg.DatabaseDSN, logger)
	if err != nil {
		logger.Fatal("failed to connect to db", zap.Error(err))
	}
	return repositories.NewConversationRepo(database), repositories.NewMessageRepo(database), func() {
		if err := database.Close(); err != nil {
			logger.Warn("db close", zap.Error(err))
		}
	}
}
