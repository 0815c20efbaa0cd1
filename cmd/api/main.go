// Package main is the entry point for the videosift backend API server.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/mofekayode/videosift-backend/internal/cache"
	"github.com/mofekayode/videosift-backend/internal/chat"
	"github.com/mofekayode/videosift-backend/internal/config"
	"github.com/mofekayode/videosift-backend/internal/database"
	"github.com/mofekayode/videosift-backend/internal/email"
	"github.com/mofekayode/videosift-backend/internal/embeddings"
	"github.com/mofekayode/videosift-backend/internal/errsink"
	"github.com/mofekayode/videosift-backend/internal/handlers"
	"github.com/mofekayode/videosift-backend/internal/locks"
	"github.com/mofekayode/videosift-backend/internal/middleware"
	"github.com/mofekayode/videosift-backend/internal/pipeline"
	"github.com/mofekayode/videosift-backend/internal/queue"
	"github.com/mofekayode/videosift-backend/internal/ratelimit"
	"github.com/mofekayode/videosift-backend/internal/retrieval"
	"github.com/mofekayode/videosift-backend/internal/storage"
	"github.com/mofekayode/videosift-backend/internal/transcript"
	"github.com/mofekayode/videosift-backend/internal/websocket"
	"github.com/mofekayode/videosift-backend/internal/youtube"
)

// main initializes the application, sets up dependencies, defines routes,
// and starts the HTTP server with graceful shutdown.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Critical error loading configuration: %v", err)
	}

	// --- Dependency Injection ---
	db, err := database.New(storeDSN(cfg))
	if err != nil {
		log.Fatalf("Critical error! Failed to connect to the database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(storeDSN(cfg), cfg.MigrationsPath); err != nil {
		log.Fatalf("Critical error during database migration: %v", err)
	}

	blobs, err := storage.NewBlobService(cfg.S3)
	if err != nil {
		log.Fatalf("Critical error! Failed to create blob service: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ytClient, err := youtube.NewClient(ctx, cfg.YouTubeAPIKey)
	if err != nil {
		log.Fatalf("Critical error! Failed to create youtube client: %v", err)
	}

	httpClient := &http.Client{Timeout: cfg.HTTPClientTimeout}
	validate := validator.New()

	lockManager := locks.NewManager(db)
	twoTierCache := cache.New(db)
	limiter := ratelimit.New(db)
	sink := errsink.New(db)
	embedder := embeddings.NewClient(cfg.OpenAIAPIKey, httpClient, cfg.EmbeddingBatch, cfg.EmbeddingBatchPause)
	fetcher := transcript.NewFetcher(httpClient)
	mailer := email.NewClient(cfg.EmailAPIKey, cfg.EmailFrom)

	videoPipeline := pipeline.NewVideoPipeline(db, fetcher, embedder, blobs, lockManager, cfg.VideoLockTTL)
	channelPipeline := pipeline.NewChannelPipeline(db, ytClient, videoPipeline, mailer, lockManager, cfg.ChannelLockTTL, cfg.ChannelVideoCap, cfg.VideoPoliteness)

	queueService := queue.NewService(db, channelPipeline, videoPipeline, ytClient, cfg.ChannelVideoCap)
	queueService.SetErrorSink(sink)
	dispatcher := queue.NewDispatcher(queueService)

	engine := retrieval.NewEngine(db, embedder, blobs)
	streamer := chat.NewStreamer(cfg.OpenAIAPIKey, httpClient)
	streamRegistry := chat.NewStreamRegistry()
	orchestrator := chat.NewOrchestrator(db, engine, twoTierCache, streamer, streamRegistry, cfg.RetrievalTopK)

	hub := websocket.NewHub()
	channelPipeline.SetProgressFunc(hub.BroadcastQueueUpdate)

	// --- Background Goroutines ---
	go hub.Run()
	go lockManager.StartSweeper(ctx, cfg.LockSweepInterval)
	go twoTierCache.StartSweeper(ctx, cfg.CacheSweepInterval)
	go sink.StartFlusher(ctx, time.Minute)
	go startRateEventPruner(ctx, limiter)
	dispatcher.Start()

	// --- Router and Server Setup ---
	router := setupRouter(cfg, db, blobs, twoTierCache, limiter, sink, queueService, dispatcher, orchestrator, streamRegistry, hub, streamer, validate)
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}

	go func() {
		log.Printf("Server is ready for connections and listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed with error: %v", err)
		}
	}()

	<-ctx.Done()

	log.Println("Shutdown signal received. Starting graceful shutdown...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during graceful server shutdown: %v", err)
	}

	dispatcher.Stop()
	hub.Stop()
	lockManager.ReleaseAll()
	sink.Flush()
	log.Println("Server stopped successfully. Exiting.")
}

// storeDSN appends the STORE_KEY credential to the store URL when it is not
// already embedded in the DSN.
func storeDSN(cfg *config.AppConfig) string {
	if cfg.StoreKey == "" || strings.Contains(cfg.StoreURL, "password=") {
		return cfg.StoreURL
	}
	sep := "?"
	if strings.Contains(cfg.StoreURL, "?") {
		sep = "&"
	}
	return cfg.StoreURL + sep + "password=" + cfg.StoreKey
}

// setupRouter initializes all handlers and registers all API routes.
func setupRouter(
	cfg *config.AppConfig,
	db *database.DB,
	blobs *storage.BlobService,
	twoTierCache *cache.Cache,
	limiter *ratelimit.Limiter,
	sink *errsink.Sink,
	queueService *queue.Service,
	dispatcher *queue.Dispatcher,
	orchestrator *chat.Orchestrator,
	streamRegistry *chat.StreamRegistry,
	hub *websocket.Hub,
	streamer chat.Streamer,
	validate *validator.Validate,
) *chi.Mux {
	production := cfg.IsProduction()

	summarizer, ok := streamer.(chat.Summarizer)
	if !ok {
		log.Fatal("Critical error: LLM streamer does not implement summarization.")
	}

	channelHandler := handlers.NewChannelHandler(queueService, validate, sink, production)
	videoHandler := handlers.NewVideoHandler(db, queueService, blobs, twoTierCache, summarizer, validate, sink, production)
	chatHandler := handlers.NewChatHandler(db, orchestrator, validate, production)
	queueHandler := handlers.NewQueueHandler(queueService, dispatcher, production)
	monitorHandler := handlers.NewMonitorHandler(db, queueService, streamRegistry, hub, sink, production)

	r := chi.NewRouter()
	setupCORS(r, cfg)
	r.Use(chimiddleware.Logger, chimiddleware.Recoverer)

	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.BackendAPIKey))

		// Ingestion
		r.With(middleware.RateLimit(limiter, ratelimit.ActionChannelProcess)).
			Post("/channels/process", channelHandler.Process)
		r.Get("/channels/{id}/status", channelHandler.Status)
		r.With(middleware.RateLimit(limiter, ratelimit.ActionVideoUpload)).
			Post("/videos/process", videoHandler.Process)
		r.Get("/videos/{id}/summary", videoHandler.Summary)

		// Chat
		r.With(middleware.RateLimit(limiter, ratelimit.ActionChat)).
			Post("/chat/stream", chatHandler.StreamVideo)
		r.With(middleware.RateLimit(limiter, ratelimit.ActionChat)).
			Post("/chat/channel/stream", chatHandler.StreamChannel)
		r.Get("/chat/sessions/{uuid}/messages", chatHandler.SessionMessages)

		// Queue
		r.Get("/queue/status", queueHandler.Status)
		r.Get("/queue/position/{qid}", queueHandler.Position)
		r.With(middleware.RateLimit(limiter, ratelimit.ActionChannelProcess)).
			Post("/queue/channel", channelHandler.Process)
		r.With(middleware.RateLimit(limiter, ratelimit.ActionVideoUpload)).
			Post("/queue/video", videoHandler.Process)

		// Monitoring
		r.Get("/monitor/stats", monitorHandler.Stats)
		r.Get("/monitor/ws", monitorHandler.Socket)
		r.Get("/cron/status", queueHandler.CronStatus)
		r.Get("/errors/stats", monitorHandler.ErrorStats)
	})

	return r
}

// startRateEventPruner deletes rate events past every window once a day.
func startRateEventPruner(ctx context.Context, limiter *ratelimit.Limiter) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			limiter.Prune(48 * time.Hour)
		case <-ctx.Done():
			return
		}
	}
}

// --- Middleware Configuration ---

func setupCORS(r *chi.Mux, cfg *config.AppConfig) {
	allowedOrigins := strings.Split(cfg.CORSAllowedOrigins, ",")
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Origin", "X-Requested-With", "X-API-KEY", "X-User-Id", "X-User-Email", "X-User-Premium"},
		ExposedHeaders:   []string{"Content-Length", "Content-Type", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:           300,
	}).Handler)
}
