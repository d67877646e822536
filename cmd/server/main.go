package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"research-notes/internal/api"
	"research-notes/internal/config"
	"research-notes/internal/db"
	"research-notes/internal/openai"
	"research-notes/internal/realtime"
	"research-notes/internal/repository"
	"research-notes/internal/services"
	"research-notes/internal/session"
	"research-notes/internal/telemetry"
)

func main() {
	log.Println("🚀 Starting research notes server...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// Tracing goes first so startup is traced too
	jaegerShutdown, err := telemetry.InitJaeger(telemetry.ServiceName, cfg.JaegerEndpoint, cfg.TraceSampleRatio)
	if err != nil {
		log.Printf("⚠️  Failed to initialize Jaeger: %v (continuing without tracing)", err)
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.Printf("⚠️  Failed to shutdown Jaeger: %v", err)
		}
	}()

	database, err := db.NewGorm(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer database.Close()

	pageRepo := repository.NewPageRepository(database.DB)
	chatRepo := repository.NewChatRepository(database.DB)
	commentRepo := repository.NewCommentRepository(database.DB)

	broker := realtime.NewBroker(0)
	broker.Start()
	listener := realtime.NewListener(cfg.DatabaseURL(), cfg.RealtimeChannel, pageRepo, broker)

	opts := session.Options{
		TrashPageSize:        cfg.TrashPageSize,
		SaveStatusClearDelay: cfg.SaveStatusClearDelay,
	}

	// The assistant and embeddings need an inference backend
	var (
		assistant  api.PageAssistant
		embService *services.EmbeddingServiceImpl
	)
	if cfg.AIEnabled() {
		client := openai.NewClient(cfg.AIAPIKey, cfg.AIBaseURL, cfg.AIChatModel)
		embRepo := repository.NewEmbeddingRepository(database.DB)

		embService = services.NewEmbeddingService(client, embRepo, pageRepo, cfg.EmbeddingWorkers, cfg.EmbeddingQueueSize)
		embService.Start()
		opts.OnSave = embService.OnSave

		assistant = services.NewAssistant(client, client, embRepo, pageRepo, chatRepo, cfg.AIRatePerMinute, cfg.AIRequestTimeout)
		log.Printf("✓ Assistant enabled (model %s)", cfg.AIChatModel)
	} else {
		log.Println("⚠️  AI_API_KEY not set; assistant and embeddings disabled")
	}

	manager := session.NewManager(pageRepo, broker, opts)
	manager.Start()
	wsHandler := session.NewWebSocketHandler(manager)

	handler := api.NewHandler(manager, chatRepo, commentRepo, assistant, wsHandler)
	router := api.SetupRoutes(handler)

	addr := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// assistant calls may run up to the request timeout
		WriteTimeout: cfg.AIRequestTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("🌐 Server listening on http://%s", addr)
		log.Printf("   GET    /api/tree                - Sidebar forest")
		log.Printf("   GET    /api/docs/{id}           - Open document")
		log.Printf("   PATCH  /api/docs/{id}           - Save document")
		log.Printf("   GET    /api/trash               - Trash listing")
		log.Printf("   GET    /ws/events               - Live store updates")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return listener.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Println("🛑 Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("⚠️  Server forced to shutdown: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("❌ %v", err)
	}

	// sessions unsubscribe before the broker stops
	manager.Shutdown()
	broker.Shutdown()
	if embService != nil {
		embService.Shutdown()
	}

	log.Println("✓ Server shutdown complete")
}
