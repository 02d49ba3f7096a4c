package config

import (
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// Config holds all application configuration in a structured way.
type Config struct {
	App      AppConfig
	Paths    PathsConfig
	Database DatabaseConfig
	Storage  StorageConfig
	Pipeline PipelineConfig
	AI       AIConfig
	Cache    CacheConfig
	Quota    QuotaConfig
	Session  SessionConfig
	Recorder RecorderConfig
}

type AppConfig struct {
	Version            string
	Port               string
	Debug              bool
	Environment        string
	BasePath           string
	TrustedProxies     []string
	BaseUrl            string
	CorsAllowedOrigins []string
	InstanceID         string
}

type PathsConfig struct {
	Statics  string
	Storages string
}

type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            int
	User            string
	Password        string
	Name            string // File path for SQLite, DB Name for Postgres
	ValkeyEnabled   bool
	ValkeyAddress   string
	ValkeyPassword  string
	ValkeyDB        int
	ValkeyKeyPrefix string
}

type StorageConfig struct {
	Dir           string
	PublicPath    string
	OrphanTTL     time.Duration
	ResultTTL     time.Duration
	SweepInterval time.Duration
}

type PipelineConfig struct {
	MaxUploadBytes       int64
	MaxDimension         int
	MaxPixels            int64
	JPEGQuality          int
	MinJPEGQuality       int
	TargetBytes          int64
	TransformTimeout     time.Duration
	NormalizeConcurrency int
}

type AIConfig struct {
	Provider         string
	GeminiAPIKey     string
	GeminiImageModel string
	OpenAIAPIKey     string
	OpenAIImageModel string
	MaxDownloadBytes int64
}

type CacheConfig struct {
	Capacity      int
	DefaultTTL    time.Duration
	SweepInterval time.Duration
	SingleFlight  bool
}

// QuotaRule is a fixed-window ceiling for one operation class.
type QuotaRule struct {
	MaxRequests int
	Window      time.Duration
}

type QuotaConfig struct {
	Transform     QuotaRule
	CatalogRead   QuotaRule
	Search        QuotaRule
	Health        QuotaRule
	Feedback      QuotaRule
	SweepInterval time.Duration
}

type SessionConfig struct {
	Timeout       time.Duration
	SweepInterval time.Duration
}

type RecorderConfig struct {
	Workers   int
	QueueSize int
}

// Global provides access to the loaded configuration for the cmd layer.
var Global *Config

// LoadConfig loads configuration from environment variables or defaults.
func LoadConfig() (*Config, error) {
	storages := getEnv("APP_STORAGES_DIR", "storages")
	statics := getEnv("PATH_STATICS", "statics")

	corsOrigins := []string{"http://localhost:5173"}
	if v := getEnv("APP_CORS_ALLOWED_ORIGINS", ""); v != "" {
		corsOrigins = strings.Split(v, ",")
	}

	appCfg := AppConfig{
		Version:            "v1.0.0",
		Port:               getEnv("APP_PORT", "3000"),
		Debug:              getEnvBool("APP_DEBUG", false),
		Environment:        getEnv("APP_ENV", "development"),
		BasePath:           getEnv("APP_BASE_PATH", ""),
		BaseUrl:            strings.TrimSuffix(getEnv("APP_BASE_URL", "http://localhost:3000"), "/"),
		CorsAllowedOrigins: corsOrigins,
		InstanceID:         getEnv("INSTANCE_ID", ""),
	}
	if v := getEnv("APP_TRUSTED_PROXIES", ""); v != "" {
		appCfg.TrustedProxies = strings.Split(v, ",")
	}

	dbCfg := DatabaseConfig{
		Driver:          getEnv("DB_DRIVER", "sqlite"),
		Name:            getEnv("DB_NAME", filepath.Join(storages, "restyle.db")),
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "postgres"),
		Password:        getEnv("DB_PASSWORD", ""),
		ValkeyEnabled:   getEnvBool("VALKEY_ENABLED", false),
		ValkeyAddress:   getEnv("VALKEY_ADDRESS", "localhost:6379"),
		ValkeyPassword:  getEnv("VALKEY_PASSWORD", ""),
		ValkeyDB:        getEnvInt("VALKEY_DB", 0),
		ValkeyKeyPrefix: getEnv("VALKEY_KEY_PREFIX", "restyle:"),
	}

	storageCfg := StorageConfig{
		Dir:           getEnv("STORAGE_DIR", filepath.Join(statics, "objects")),
		PublicPath:    getEnv("STORAGE_PUBLIC_PATH", "/objects"),
		OrphanTTL:     getEnvDuration("STORAGE_ORPHAN_TTL", 24*time.Hour),
		ResultTTL:     getEnvDuration("STORAGE_RESULT_TTL", 7*24*time.Hour),
		SweepInterval: getEnvDuration("STORAGE_SWEEP_INTERVAL", 30*time.Minute),
	}

	pipelineCfg := PipelineConfig{
		MaxUploadBytes:       getEnvInt64("PIPELINE_MAX_UPLOAD_BYTES", 10*1024*1024),
		MaxDimension:         getEnvInt("PIPELINE_MAX_DIMENSION", 2048),
		MaxPixels:            getEnvInt64("PIPELINE_MAX_PIXELS", 40_000_000),
		JPEGQuality:          getEnvInt("PIPELINE_JPEG_QUALITY", 85),
		MinJPEGQuality:       getEnvInt("PIPELINE_MIN_JPEG_QUALITY", 55),
		TargetBytes:          getEnvInt64("PIPELINE_TARGET_BYTES", 2*1024*1024),
		TransformTimeout:     getEnvDuration("PIPELINE_TRANSFORM_TIMEOUT", 90*time.Second),
		NormalizeConcurrency: getEnvInt("PIPELINE_NORMALIZE_CONCURRENCY", runtime.NumCPU()),
	}

	aiCfg := AIConfig{
		Provider:         strings.ToLower(getEnv("AI_PROVIDER", "gemini")),
		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		GeminiImageModel: getEnv("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image"),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIImageModel: getEnv("OPENAI_IMAGE_MODEL", "gpt-image-1"),
		MaxDownloadBytes: getEnvInt64("AI_MAX_DOWNLOAD_BYTES", 20*1024*1024),
	}

	cacheCfg := CacheConfig{
		Capacity:      getEnvInt("CACHE_CAPACITY", 512),
		DefaultTTL:    getEnvDuration("CACHE_DEFAULT_TTL", 5*time.Minute),
		SweepInterval: getEnvDuration("CACHE_SWEEP_INTERVAL", time.Minute),
		SingleFlight:  getEnvBool("CACHE_SINGLE_FLIGHT", false),
	}

	quotaCfg := QuotaConfig{
		Transform:     getEnvQuota("QUOTA_TRANSFORM", QuotaRule{MaxRequests: 10, Window: 15 * time.Minute}),
		CatalogRead:   getEnvQuota("QUOTA_CATALOG_READ", QuotaRule{MaxRequests: 120, Window: time.Minute}),
		Search:        getEnvQuota("QUOTA_SEARCH", QuotaRule{MaxRequests: 10, Window: 5 * time.Minute}),
		Health:        getEnvQuota("QUOTA_HEALTH", QuotaRule{MaxRequests: 60, Window: time.Minute}),
		Feedback:      getEnvQuota("QUOTA_FEEDBACK", QuotaRule{MaxRequests: 20, Window: time.Hour}),
		SweepInterval: getEnvDuration("QUOTA_SWEEP_INTERVAL", time.Minute),
	}

	cfg := &Config{
		App:      appCfg,
		Paths:    PathsConfig{Statics: statics, Storages: storages},
		Database: dbCfg,
		Storage:  storageCfg,
		Pipeline: pipelineCfg,
		AI:       aiCfg,
		Cache:    cacheCfg,
		Quota:    quotaCfg,
		Session: SessionConfig{
			Timeout:       getEnvDuration("SESSION_TIMEOUT", 30*time.Minute),
			SweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", time.Minute),
		},
		Recorder: RecorderConfig{
			Workers:   getEnvInt("RECORDER_WORKERS", 4),
			QueueSize: getEnvInt("RECORDER_QUEUE_SIZE", 256),
		},
	}

	Global = cfg
	return cfg, nil
}
