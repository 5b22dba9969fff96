package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the replicator service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	UploadDir  string
	SessionTTL time.Duration

	MeshStrategy string

	TripoAPIKey          string
	TripoBaseURL         string
	TripoPollInterval    time.Duration
	TripoPollMaxAttempts int
	TripoMinCredits      int

	ImgBBAPIKey    string
	ImgBBUploadURL string

	StripeSecretKey string

	HullVoxelRes     int
	HullMaskSize     int
	HullSmoothPasses int

	DatabaseURL string
}

// Load reads a local .env file if present, then environment variables,
// applying safe defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":5005"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "replicator"),
		AllowAnyOrigin:   false,
		UploadDir:        envOrDefault("APP_UPLOAD_DIR", "scans"),
		MeshStrategy:     envOrDefault("MESH_STRATEGY", "auto"),
		TripoAPIKey:      trimEnv("TRIPO_API_KEY"),
		TripoBaseURL:     envOrDefault("TRIPO_BASE_URL", "https://api.tripo3d.ai"),
		ImgBBAPIKey:      trimEnv("IMGBB_API_KEY"),
		ImgBBUploadURL:   envOrDefault("IMGBB_UPLOAD_URL", "https://api.imgbb.com/1/upload"),
		StripeSecretKey:  trimEnv("STRIPE_SECRET_KEY"),
		DatabaseURL:      trimEnv("DATABASE_URL"),

		ShutdownTimeout:      15 * time.Second,
		SessionTTL:           time.Hour,
		TripoPollInterval:    4 * time.Second,
		TripoPollMaxAttempts: 120,
		TripoMinCredits:      30,
		HullVoxelRes:         32,
		HullMaskSize:         200,
		HullSmoothPasses:     2,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionTTL, err = durationFromEnv("APP_SESSION_TTL", cfg.SessionTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.TripoPollInterval, err = durationFromEnv("TRIPO_POLL_INTERVAL", cfg.TripoPollInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.TripoPollMaxAttempts, err = intFromEnv("TRIPO_POLL_MAX_ATTEMPTS", cfg.TripoPollMaxAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.TripoMinCredits, err = intFromEnv("TRIPO_MIN_CREDITS", cfg.TripoMinCredits)
	if err != nil {
		return Config{}, err
	}
	cfg.HullVoxelRes, err = intFromEnv("HULL_VOXEL_RES", cfg.HullVoxelRes)
	if err != nil {
		return Config{}, err
	}
	cfg.HullMaskSize, err = intFromEnv("HULL_MASK_SIZE", cfg.HullMaskSize)
	if err != nil {
		return Config{}, err
	}
	cfg.HullSmoothPasses, err = intFromEnv("HULL_SMOOTH_PASSES", cfg.HullSmoothPasses)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	switch strings.ToLower(strings.TrimSpace(cfg.MeshStrategy)) {
	case "auto", "remote", "local", "mock":
	default:
		return Config{}, fmt.Errorf("invalid MESH_STRATEGY: %q (expected auto|remote|local|mock)", cfg.MeshStrategy)
	}
	if cfg.SessionTTL < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_TTL must be at least 5s")
	}
	if cfg.TripoPollInterval <= 0 {
		return Config{}, fmt.Errorf("TRIPO_POLL_INTERVAL must be positive")
	}
	if cfg.TripoPollMaxAttempts <= 0 {
		return Config{}, fmt.Errorf("TRIPO_POLL_MAX_ATTEMPTS must be positive")
	}
	if cfg.TripoMinCredits < 0 {
		return Config{}, fmt.Errorf("TRIPO_MIN_CREDITS must be >= 0")
	}
	if cfg.HullVoxelRes < 8 {
		return Config{}, fmt.Errorf("HULL_VOXEL_RES must be at least 8")
	}
	if cfg.HullMaskSize < 16 {
		return Config{}, fmt.Errorf("HULL_MASK_SIZE must be at least 16")
	}
	if cfg.HullSmoothPasses < 0 {
		return Config{}, fmt.Errorf("HULL_SMOOTH_PASSES must be >= 0")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
