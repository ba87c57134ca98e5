package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/scribeflow/api/internal/config"
	"github.com/scribeflow/api/internal/handler"
	"github.com/scribeflow/api/internal/logger"
	"github.com/scribeflow/api/internal/queue"
	"github.com/scribeflow/api/internal/service"
	"github.com/scribeflow/api/internal/splitter"
	"github.com/scribeflow/api/internal/store"
	"github.com/scribeflow/api/internal/worker"
	ws "github.com/scribeflow/api/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog := logger.New(cfg.Log)
	defer zlog.Sync()

	// Open the job store
	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		zlog.Fatal("open store", zap.Error(err))
	}
	defer st.Close()

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		zlog.Warn("redis not available, uploads will fail until it is", zap.Error(err))
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub(st, zlog)
	go hub.Run()

	// Coordination core
	coordinator := queue.NewCoordinator(st, hub, zlog)
	aggregator := queue.NewAggregator(st, hub, cfg.Storage.ResultsDir, zlog)
	monitor := queue.NewMonitor(st, hub, aggregator, queue.MonitorConfig{
		LeaseTimeout:  cfg.Queue.LeaseTimeout,
		AckGrace:      cfg.Queue.AckGrace,
		SweepInterval: cfg.Queue.SweepInterval,
		MaxAttempts:   cfg.Queue.MaxAttempts,
	}, zlog)
	go monitor.Run(ctx)

	// Ingestion pipeline
	split := splitter.New(splitter.Config{
		OutputDir:    cfg.Storage.ChunkDir,
		ChunkSeconds: cfg.Split.ChunkSeconds,
		Format:       cfg.Split.Format,
		Bitrate:      cfg.Split.Bitrate,
		Concurrency:  cfg.Split.Concurrency,
	}, zlog)
	ingestService := service.NewIngestService(asynqClient, cfg.Storage.UploadDir, zlog)

	// Initialize handlers
	jobHandler := handler.NewJobHandler(st, ingestService, aggregator, hub, cfg.Storage.ChunkDir, validate)
	taskHandler := handler.NewTaskHandler(st, coordinator, aggregator, validate)
	workerHandler := handler.NewWorkerHandler(st, hub, cfg.Queue.WorkerTTL, validate)
	chunkHandler := handler.NewChunkHandler(cfg.Storage.ChunkDir)
	statusHandler := handler.NewStatusHandler(st, cfg.Queue.WorkerTTL)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    2 * 1024 * 1024 * 1024, // audiobooks run large
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// API routes
	api := app.Group("/api")

	// Job routes
	jobs := api.Group("/jobs")
	jobs.Post("/", jobHandler.Create)
	jobs.Get("/", jobHandler.List)
	jobs.Get("/:jobId", jobHandler.Get)
	jobs.Post("/:jobId/pause", jobHandler.Pause)
	jobs.Post("/:jobId/resume", jobHandler.Resume)
	jobs.Delete("/:jobId", jobHandler.Delete)
	jobs.Get("/:jobId/transcript", jobHandler.Transcript)

	// Worker coordination routes
	tasks := api.Group("/tasks")
	tasks.Get("/next", taskHandler.Next)
	tasks.Post("/ack", taskHandler.Ack)
	tasks.Post("/complete", taskHandler.Complete)

	// Worker registry routes
	workers := api.Group("/workers")
	workers.Post("/register", workerHandler.Register)
	workers.Post("/:workerId/heartbeat", workerHandler.Heartbeat)
	workers.Get("/", workerHandler.List)

	// Chunk audio + status
	api.Get("/chunks/:filename", chunkHandler.Download)
	api.Get("/status", statusHandler.Status)
	api.Get("/logs", statusHandler.Logs)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/dashboard", websocket.New(func(c *websocket.Conn) {
		initial, err := statusHandler.DashboardInit()
		if err != nil {
			zlog.Error("dashboard init frame", zap.Error(err))
		}
		hub.HandleConnection(c, ws.TopicDashboard, initial)
	}))

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c, ws.JobTopic(c.Params("jobId")), nil)
	}))

	// Start Asynq worker server for the ingest pipeline
	go startIngestServer(cfg, st, split, hub, zlog)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		zlog.Info("shutting down")
		cancel()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			zlog.Error("server shutdown", zap.Error(err))
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	zlog.Info("master starting", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		zlog.Fatal("server error", zap.Error(err))
	}
}

func startIngestServer(cfg *config.Config, st *store.Store, split *splitter.Splitter, hub *ws.Hub, zlog *zap.Logger) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				"ingest": 1,
			},
		},
	)

	ingestWorker := worker.NewIngestWorker(st, split, hub, zlog)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeIngest, ingestWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		zlog.Error("asynq worker error", zap.Error(err))
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
