package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/codebuildervaibhav/speaker-separator/internal/cleanup"
	"github.com/codebuildervaibhav/speaker-separator/internal/export"
	"github.com/codebuildervaibhav/speaker-separator/internal/handlers"
	"github.com/codebuildervaibhav/speaker-separator/internal/pipeline"
	"github.com/codebuildervaibhav/speaker-separator/internal/storage"
	"github.com/codebuildervaibhav/speaker-separator/internal/transcription"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port int    `yaml:"port"`
		Host string `yaml:"host"`
	} `yaml:"server"`

	Transcription struct {
		TimeoutMinutes int `yaml:"timeout_minutes"`
	} `yaml:"transcription"`

	Storage struct {
		TempDir  string `yaml:"temp_dir"`
		DataDir  string `yaml:"data_dir"`
		Database string `yaml:"database"`
	} `yaml:"storage"`

	Cleanup struct {
		IntervalMinutes int `yaml:"interval_minutes"`
		MaxAgeHours     int `yaml:"max_age_hours"`
	} `yaml:"cleanup"`

	GoogleDrive struct {
		CredentialsFile string `yaml:"credentials_file"`
		TokenFile       string `yaml:"token_file"`
		FolderName      string `yaml:"folder_name"`
	} `yaml:"google_drive"`

	Limits struct {
		MaxFileSizeMB int `yaml:"max_file_size_mb"`
	} `yaml:"limits"`
}

func main() {
	// Secrets come from the environment; .env is optional.
	godotenv.Load()

	config, err := loadConfig("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	apiKey := os.Getenv("ASSEMBLYAI_API_KEY")
	if apiKey == "" {
		log.Fatal("ASSEMBLYAI_API_KEY not set")
	}

	// Ensure directories exist
	if err := cleanup.EnsureTempDirExists(config.Storage.TempDir); err != nil {
		log.Fatalf("Failed to create temp directory: %v", err)
	}

	// Custom logger setup
	logBuffer := &LogBuffer{
		lines: make([]string, 0, 1000),
	}
	multiWriter := io.MultiWriter(os.Stdout, logBuffer)
	log.SetOutput(multiWriter)

	// Initialize components
	log.Println("Initializing components...")

	db, err := storage.NewDB(config.Storage.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	blobs, err := storage.NewBlobStore(config.Storage.DataDir)
	if err != nil {
		log.Fatalf("Failed to initialize blob store: %v", err)
	}

	transcriber := transcription.NewAssemblyAI(apiKey)
	codec := transcription.NewFFmpegCodec(config.Storage.TempDir)

	// Google Drive exporter (optional - may fail if credentials not set up)
	var exporter pipeline.Exporter
	if _, err := os.Stat(config.GoogleDrive.CredentialsFile); err == nil {
		driveExporter, err := export.NewDriveExporter(
			config.GoogleDrive.CredentialsFile,
			config.GoogleDrive.TokenFile,
			config.GoogleDrive.FolderName,
		)
		if err != nil {
			log.Printf("WARNING: Google Drive not available: %v", err)
			log.Println("Transcripts will only be saved locally")
		} else {
			log.Println("Google Drive export enabled")
			exporter = driveExporter
		}
	} else {
		log.Println("Google Drive credentials not found - saving locally only")
	}

	progressHub := pipeline.NewProgressHub()

	pipe := pipeline.New(
		transcriber,
		codec,
		db,
		blobs,
		exporter,
		progressHub,
		config.Storage.TempDir,
		time.Duration(config.Transcription.TimeoutMinutes)*time.Minute,
	)

	// Cleanup scheduler: stale temp files and orphan blob directories
	cleanupScheduler := cleanup.NewScheduler(
		db,
		blobs,
		config.Storage.TempDir,
		config.Cleanup.IntervalMinutes,
		config.Cleanup.MaxAgeHours,
	)
	cleanupScheduler.Start()
	defer cleanupScheduler.Stop()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: config.Limits.MaxFileSizeMB * 1024 * 1024,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	// Initialize handlers
	uploadHandler := handlers.NewUploadHandler(pipe, db, config.Limits.MaxFileSizeMB)
	conversationHandler := handlers.NewConversationHandler(db, blobs, pipe)
	progressHandler := handlers.NewProgressHandler(progressHub)

	// Routes
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})

	app.Post("/upload", uploadHandler.Handle)
	app.Get("/conversations", conversationHandler.List)
	app.Get("/conversations/:id", conversationHandler.Get)
	app.Delete("/conversations/:id", conversationHandler.Delete)
	app.Get("/conversations/:id/original", conversationHandler.Original)
	app.Get("/conversations/:id/turns/:number/audio", conversationHandler.TurnAudio)
	app.Get("/conversations/:id/segments.zip", conversationHandler.SegmentsZip)
	app.Get("/stats", conversationHandler.Stats)

	// WebSocket route
	app.Get("/ws/progress", websocket.New(progressHandler.Handle))

	// Get server logs
	app.Get("/logs", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"logs": logBuffer.GetLogs(),
		})
	})

	// Start server
	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	log.Printf("Server starting on %s", addr)
	log.Println("Endpoints:")
	log.Println("   POST   /upload                              - Upload and process audio")
	log.Println("   GET    /conversations                       - Conversation history")
	log.Println("   GET    /conversations/:id                   - Chat transcript")
	log.Println("   DELETE /conversations/:id                   - Delete conversation")
	log.Println("   GET    /conversations/:id/original          - Download original audio")
	log.Println("   GET    /conversations/:id/turns/:n/audio    - Download one segment")
	log.Println("   GET    /conversations/:id/segments.zip      - Download all segments")
	log.Println("   GET    /ws/progress                         - Processing progress")
	log.Println("   GET    /stats                               - Storage statistics")
	log.Println("   GET    /logs                                - View server logs")
	log.Println("   GET    /health                              - Health check")

	// Graceful shutdown
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Println("Shutting down gracefully...")
		app.Shutdown()
	}()

	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server failed: %v", err)
	}

	// Let in-flight transcript exports finish before exiting.
	pipe.Wait()
	log.Println("Shutdown complete")
}

// LogBuffer captures logs in memory
type LogBuffer struct {
	lines []string
	mu    sync.Mutex
}

func (lb *LogBuffer) Write(p []byte) (n int, err error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.lines = append(lb.lines, string(p))

	// Keep last 1000 lines
	if len(lb.lines) > 1000 {
		lb.lines = lb.lines[len(lb.lines)-1000:]
	}

	return len(p), nil
}

func (lb *LogBuffer) GetLogs() []string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	logs := make([]string, len(lb.lines))
	copy(logs, lb.lines)
	return logs
}

// loadConfig loads configuration from YAML file
func loadConfig(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := yaml.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	return &config, nil
}
