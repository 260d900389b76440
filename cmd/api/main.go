package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bobarin/cueframe/internal/annotation"
	"github.com/bobarin/cueframe/internal/api"
	"github.com/bobarin/cueframe/internal/compositor"
	"github.com/bobarin/cueframe/internal/config"
	"github.com/bobarin/cueframe/internal/db"
	"github.com/bobarin/cueframe/internal/footage"
	"github.com/bobarin/cueframe/internal/pipeline"
	"github.com/bobarin/cueframe/internal/queue"
	"github.com/bobarin/cueframe/internal/services"
	"github.com/bobarin/cueframe/internal/storage"
	"github.com/bobarin/cueframe/internal/worker"
)

func main() {
	log.Println("Starting Cueframe API...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	mode := annotation.ModeLenient
	if cfg.StrictAnnotations {
		mode = annotation.ModeStrict
	}

	// Connect to database
	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	if err := database.Migrate(context.Background()); err != nil {
		log.Fatalf("Failed to apply schema: %v", err)
	}
	log.Println("Connected to database")

	// Connect to Redis queue
	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()
	log.Println("Connected to Redis queue")

	// Initialize storage
	stor := storage.New(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket)
	log.Println("Initialized Supabase storage")

	// Create API handler
	handler := api.NewHandler(database, q, stor, mode)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set, API is unprotected (dev mode)")
	}

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	var workerCancel context.CancelFunc
	if cfg.WorkerEnabled {
		log.Println("Worker enabled, starting background processing...")

		w, err := buildWorker(cfg, database, q, stor, mode)
		if err != nil {
			log.Fatalf("Failed to initialize worker: %v", err)
		}

		var workerCtx context.Context
		workerCtx, workerCancel = context.WithCancel(context.Background())
		go w.Start(workerCtx, cfg.MaxConcurrentJobs)
	}

	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	if workerCancel != nil {
		workerCancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

func buildWorker(cfg *config.Config, database *db.DB, q *queue.Queue, stor *storage.Storage, mode annotation.Mode) (*worker.Worker, error) {
	workDir := filepath.Join(cfg.WorkDir, "cueframe")
	ffmpegSvc := services.NewFFmpegService(workDir)

	// Script writer
	var writer services.ScriptWriter
	switch cfg.ScriptProvider {
	case "openai":
		writer = services.NewOpenAIService(cfg.OpenAIKey)
	default:
		writer = services.NewGeminiService(cfg.GeminiKey)
	}
	log.Printf("Script provider: %s", cfg.ScriptProvider)

	// Narration: fal avatar preferred, ElevenLabs speech as fallback
	var narrator services.NarrationSynthesizer
	if cfg.FalKey != "" {
		fal, err := services.NewFalAvatarService(cfg.FalKey, cfg.FalAvatarID, workDir, stor)
		if err != nil {
			return nil, err
		}
		narrator = fal
		log.Printf("Narration provider: fal avatar (%s)", cfg.FalAvatarID)
	} else {
		tts := services.NewElevenLabsService(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID)
		narrator = services.NewSpeechNarrator(tts, ffmpegSvc, cfg.BackgroundMusicPath)
		log.Println("Narration provider: ElevenLabs speech")
	}

	// Footage search, cached in Redis
	var resolver footage.Resolver = services.NewScoutService(cfg.ScoutAPIURL, cfg.ScoutAPIKey)
	if ttl := cfg.FootageCacheTTL(); ttl > 0 {
		resolver = footage.NewCachedResolver(resolver, footage.NewRedisCache(q.Client()), ttl)
		log.Printf("Footage cache enabled (ttl: %s)", ttl)
	}

	opts := compositor.DefaultOptions()
	opts.FadeSeconds = cfg.FadeSeconds
	opts.BackdropOpacity = cfg.BackdropOpacity
	opts.TempDir = workDir
	comp, err := compositor.New(ffmpegSvc, opts)
	if err != nil {
		return nil, err
	}

	pcfg := pipeline.DefaultConfig()
	pcfg.Mode = mode
	pcfg.MaxOverlaySeconds = cfg.MaxOverlaySeconds
	pcfg.ResolveConcurrency = cfg.ResolveConcurrency
	pcfg.WorkDir = workDir
	p, err := pipeline.New(ffmpegSvc, resolver, stor, comp, pcfg)
	if err != nil {
		return nil, err
	}

	return worker.New(database, q, stor, writer, narrator, p, mode, workDir), nil
}
