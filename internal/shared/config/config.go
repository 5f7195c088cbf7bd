package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server
	Environment    string
	Port           int
	LogLevel       string
	AllowedOrigins []string

	RedisURL string

	// Storage
	Storage StorageConfig

	// FFmpeg
	FFmpegPath          string
	FFprobePath         string
	FFmpegMaxThreads    int    // Max CPU threads per ffmpeg pass (0 = auto)
	FFmpegHardwareAccel bool   // Prefer a hardware H.264 encoder for the primary size-fit attempt
	FFmpegHWEncoder     string // Overrides the platform default hardware encoder
	FFmpegFastPresets   bool   // veryfast instead of medium for software encodes
	AttemptTimeout      time.Duration

	// Scratch space for per-job intermediates
	ScratchDir    string
	ScratchMaxAge time.Duration

	// Effects and compositing
	DefaultCeilingBytes int64 // 0 = no size fitting unless the request asks for it
	DJEffectCount       int
	DJMaxAttempts       int
	GridCellWidth       int
	GridCellHeight      int

	// Worker
	WorkerConcurrency int
	WorkerMetricsPort int // 0 disables the worker /metrics listener
	MaxUploadSize     int64
}

// StorageConfig holds storage-specific configuration
type StorageConfig struct {
	Backend     string // local, s3
	BasePath    string
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Environment:         getEnv("ENVIRONMENT", "development"),
		Port:                getEnvInt("PORT", 8080),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		AllowedOrigins:      getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		RedisURL:            getEnv("REDIS_URL", "localhost:6379"),
		FFmpegPath:          getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:         getEnv("FFPROBE_PATH", "ffprobe"),
		FFmpegMaxThreads:    getEnvInt("FFMPEG_MAX_THREADS", 0),
		FFmpegHardwareAccel: getEnvBool("FFMPEG_HARDWARE_ACCEL", false), // cloud servers typically don't have a GPU
		FFmpegHWEncoder:     getEnv("FFMPEG_HW_ENCODER", ""),
		FFmpegFastPresets:   getEnvBool("FFMPEG_FAST_PRESETS", true),
		AttemptTimeout:      time.Duration(getEnvInt("ATTEMPT_TIMEOUT_SECONDS", 80)) * time.Second,
		ScratchDir:          getEnv("SCRATCH_DIR", os.TempDir()),
		ScratchMaxAge:       time.Duration(getEnvInt("SCRATCH_MAX_AGE_MINUTES", 60)) * time.Minute,
		DefaultCeilingBytes: getEnvBytes("DEFAULT_CEILING_BYTES", 0),
		DJEffectCount:       getEnvInt("DJ_EFFECT_COUNT", 2),
		DJMaxAttempts:       getEnvInt("DJ_MAX_ATTEMPTS", 3),
		GridCellWidth:       getEnvInt("GRID_CELL_WIDTH", 320),
		GridCellHeight:      getEnvInt("GRID_CELL_HEIGHT", 240),
		WorkerConcurrency:   getEnvInt("WORKER_CONCURRENCY", 2),
		WorkerMetricsPort:   getEnvInt("WORKER_METRICS_PORT", 9091),
		MaxUploadSize:       getEnvBytes("MAX_UPLOAD_SIZE", 512*1024*1024),
		Storage: StorageConfig{
			Backend:     getEnv("STORAGE_BACKEND", "local"),
			BasePath:    getEnv("STORAGE_BASE_PATH", "./data"),
			S3Endpoint:  getEnv("S3_ENDPOINT", ""),
			S3Bucket:    getEnv("S3_BUCKET", ""),
			S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
			S3SecretKey: getEnv("S3_SECRET_KEY", ""),
			S3Region:    getEnv("S3_REGION", "us-east-1"),
		},
	}

	return cfg, nil
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBytes accepts plain byte counts as well as sizes such as "8MB" or "25 MiB"
func getEnvBytes(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := humanize.ParseBytes(value); err == nil {
			return int64(n)
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
