package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	WorkerEnabled      bool
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Database
	DatabaseURL string

	// Redis (render queue and footage cache)
	RedisURL string

	// Supabase
	SupabaseURL           string
	SupabaseServiceKey    string
	SupabaseStorageBucket string

	// Script writing
	ScriptProvider string // "openai" or "gemini"
	OpenAIKey      string
	GeminiKey      string

	// Footage search
	ScoutAPIURL          string
	ScoutAPIKey          string
	FootageCacheTTLHours int // 0 disables the cache

	// Narration: fal avatar when FAL_KEY is set, otherwise ElevenLabs speech
	FalKey              string
	FalAvatarID         string
	ElevenLabsKey       string
	ElevenLabsVoiceID   string
	BackgroundMusicPath string // Optional music under synthesized speech

	// Compositing
	WorkDir            string
	MaxOverlaySeconds  float64
	FadeSeconds        float64
	BackdropOpacity    float64
	StrictAnnotations  bool
	ResolveConcurrency int

	// Worker
	MaxConcurrentJobs int
}

// Load reads configuration from the environment and an optional .env file.
// Only values shared by every entry point are validated here; see ValidateServer.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:               getEnv("API_PORT", "8080"),
		WorkerEnabled:         getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:         getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins:    getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		RedisURL:              getEnv("REDIS_URL", "redis://localhost:6379"),
		SupabaseURL:           getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:    getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBucket: getEnv("SUPABASE_STORAGE_BUCKET", "cueframe-videos"),
		ScriptProvider:        getEnv("SCRIPT_PROVIDER", "gemini"),
		OpenAIKey:             getEnv("OPENAI_API_KEY", ""),
		GeminiKey:             getEnv("GEMINI_API_KEY", ""),
		ScoutAPIURL:           getEnv("SCOUT_API_URL", "https://mango.sievedata.com"),
		ScoutAPIKey:           getEnv("SCOUT_API_KEY", ""),
		FootageCacheTTLHours:  getEnvInt("FOOTAGE_CACHE_TTL_HOURS", 24),
		FalKey:                getEnv("FAL_KEY", ""),
		FalAvatarID:           getEnv("FAL_AVATAR_ID", "emily_primary"),
		ElevenLabsKey:         getEnv("ELEVENLABS_API_KEY", ""),
		ElevenLabsVoiceID:     getEnv("ELEVENLABS_VOICE_ID", ""),
		BackgroundMusicPath:   getEnv("BACKGROUND_MUSIC_PATH", ""),
		WorkDir:               getEnv("WORK_DIR", os.TempDir()),
		MaxOverlaySeconds:     getEnvFloat("MAX_OVERLAY_SECONDS", 3),
		FadeSeconds:           getEnvFloat("FADE_SECONDS", 0.5),
		BackdropOpacity:       getEnvFloat("BACKDROP_OPACITY", 0.3),
		StrictAnnotations:     getEnvBool("STRICT_ANNOTATIONS", false),
		ResolveConcurrency:    getEnvInt("RESOLVE_CONCURRENCY", 4),
		MaxConcurrentJobs:     getEnvInt("MAX_CONCURRENT_JOBS", 2),
	}

	if cfg.MaxOverlaySeconds <= 0 {
		return nil, fmt.Errorf("MAX_OVERLAY_SECONDS must be positive, got %v", cfg.MaxOverlaySeconds)
	}
	if cfg.FadeSeconds < 0 {
		return nil, fmt.Errorf("FADE_SECONDS must not be negative, got %v", cfg.FadeSeconds)
	}
	if cfg.BackdropOpacity < 0 || cfg.BackdropOpacity > 1 {
		return nil, fmt.Errorf("BACKDROP_OPACITY must be within [0, 1], got %v", cfg.BackdropOpacity)
	}
	if cfg.ResolveConcurrency < 1 {
		cfg.ResolveConcurrency = 1
	}
	if cfg.MaxConcurrentJobs < 1 {
		cfg.MaxConcurrentJobs = 1
	}

	return cfg, nil
}

// ValidateServer checks what the API server and render worker need on top of Load.
func (c *Config) ValidateServer() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.SupabaseURL == "" || c.SupabaseServiceKey == "" {
		return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY are required")
	}

	if c.ScoutAPIKey == "" {
		return fmt.Errorf("SCOUT_API_KEY is required for footage search")
	}

	switch c.ScriptProvider {
	case "openai":
		if c.OpenAIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when SCRIPT_PROVIDER=openai")
		}
	case "gemini":
		if c.GeminiKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when SCRIPT_PROVIDER=gemini")
		}
	default:
		return fmt.Errorf("SCRIPT_PROVIDER must be openai or gemini, got %q", c.ScriptProvider)
	}

	// At least one narration provider must be configured
	if c.FalKey == "" && c.ElevenLabsKey == "" {
		return fmt.Errorf("either FAL_KEY or ELEVENLABS_API_KEY is required for narration")
	}

	return nil
}

// FootageCacheTTL is zero when caching is disabled.
func (c *Config) FootageCacheTTL() time.Duration {
	if c.FootageCacheTTLHours <= 0 {
		return 0
	}
	return time.Duration(c.FootageCacheTTLHours) * time.Hour
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}
