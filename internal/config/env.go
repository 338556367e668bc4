package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

type ServerConfig struct {
	Port            string
	MaxUploadMB     int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// ClassifierConfig selects and tunes the separator detector.
type ClassifierConfig struct {
	Strategy string // keyword|pixel|any|auto
	Workers  int
	// Profile is an optional YAML file overriding keyword groups and the pink band.
	Profile          string
	LooseKeywords    bool
	KeywordThreshold int
	PinkCoverage     float64
	PinkRedMin       int
	PinkGreenMax     int
	PinkBlueMax      int
	RenderDPI        float64
	SampleStride     int
	TextThreshold    int
}

type SegmentConfig struct {
	Policy string // paired|single
	Labels string // alpha|numeric
}

type IngestConfig struct {
	BatchNumberWidth int
	ParentFolderID   string
}

// UploadConfig bounds the parallel upload pool.
type UploadConfig struct {
	Workers     int
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	MaxDelay    time.Duration
	Jitter      time.Duration
}

type MergeConfig struct {
	Workers int
}

// RecordsConfig picks the record store backend.
type RecordsConfig struct {
	Backend      string // redis|postgres|memory
	RedisURL     string
	KeyNamespace string
	PostgresDSN  string
	Debug        bool
}

// StorageConfig picks the object store backend.
type StorageConfig struct {
	Backend            string // s3|local|memory
	LocalRoot          string
	Bucket             string
	Region             string
	Endpoint           string
	AccessKey          string
	SecretKey          string
	UsePathStyle       bool
	Prefix             string
	EncryptionPassword string
}

type ReviewConfig struct {
	MergeOnApprove     bool
	SplitInitialStatus string
}

// Config is the top-level configuration.
type Config struct {
	Logging    LoggingConfig
	Axiom      AxiomConfig
	Server     ServerConfig
	Classifier ClassifierConfig
	Segment    SegmentConfig
	Ingest     IngestConfig
	Upload     UploadConfig
	Merge      MergeConfig
	Records    RecordsConfig
	Storage    StorageConfig
	Review     ReviewConfig
}

// Load reads an optional .env file and then the environment.
func Load(files ...string) Config {
	if len(files) == 0 {
		_ = godotenv.Load()
	} else {
		_ = godotenv.Load(files...)
	}
	return FromEnv()
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/checksplit.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_checksplit",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Server = ServerConfig{
		Port:            getEnv("PORT", "8080"),
		MaxUploadMB:     parseInt(getEnv("MAX_UPLOAD_MB", "200"), 200),
		ReadTimeout:     parseDuration(getEnv("HTTP_READ_TIMEOUT", "2m"), 2*time.Minute),
		WriteTimeout:    parseDuration(getEnv("HTTP_WRITE_TIMEOUT", "10m"), 10*time.Minute),
		ShutdownTimeout: parseDuration(getEnv("SHUTDOWN_TIMEOUT", "10s"), 10*time.Second),
	}

	cfg.Classifier = ClassifierConfig{
		Strategy:         strings.ToLower(getEnv("CLASSIFIER_STRATEGY", "auto")),
		Workers:          parseInt(getEnv("CLASSIFIER_WORKERS", "4"), 4),
		Profile:          getEnv("CLASSIFIER_PROFILE", ""),
		LooseKeywords:    parseBool(getEnv("KEYWORD_LOOSE", "false")),
		KeywordThreshold: parseInt(getEnv("KEYWORD_THRESHOLD", ""), 0),
		PinkCoverage:     parseFloat(getEnv("PINK_COVERAGE", "0.15"), 0.15),
		PinkRedMin:       parseInt(getEnv("PINK_RED_MIN", "200"), 200),
		PinkGreenMax:     parseInt(getEnv("PINK_GREEN_MAX", "180"), 180),
		PinkBlueMax:      parseInt(getEnv("PINK_BLUE_MAX", "180"), 180),
		RenderDPI:        parseFloat(getEnv("PIXEL_RENDER_DPI", "36"), 36),
		SampleStride:     parseInt(getEnv("PIXEL_SAMPLE_STRIDE", "2"), 2),
		TextThreshold:    parseInt(getEnv("TEXT_CHAR_THRESHOLD", "300"), 300),
	}

	cfg.Segment = SegmentConfig{
		Policy: strings.ToLower(getEnv("SEPARATOR_POLICY", "paired")),
		Labels: strings.ToLower(getEnv("RANGE_LABELS", "alpha")),
	}

	cfg.Ingest = IngestConfig{
		BatchNumberWidth: parseInt(getEnv("BATCH_NUMBER_WIDTH", "7"), 7),
		ParentFolderID:   getEnv("INGEST_PARENT_FOLDER_ID", ""),
	}

	cfg.Upload = UploadConfig{
		Workers:     parseInt(getEnv("UPLOAD_WORKERS", "15"), 15),
		MaxAttempts: parseInt(getEnv("UPLOAD_MAX_ATTEMPTS", "3"), 3),
		BaseDelay:   parseDuration(getEnv("UPLOAD_RETRY_BASE_DELAY", "2s"), 2*time.Second),
		Factor:      parseFloat(getEnv("UPLOAD_RETRY_BACKOFF_FACTOR", "2.0"), 2.0),
		MaxDelay:    parseDuration(getEnv("UPLOAD_RETRY_MAX_DELAY", "30s"), 30*time.Second),
		Jitter:      parseDuration(getEnv("UPLOAD_RETRY_JITTER", "200ms"), 200*time.Millisecond),
	}

	cfg.Merge = MergeConfig{
		Workers: parseInt(getEnv("MERGE_DOWNLOAD_WORKERS", "4"), 4),
	}

	cfg.Records = RecordsConfig{
		Backend:      strings.ToLower(getEnv("RECORDS_BACKEND", "redis")),
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379"),
		KeyNamespace: getEnv("REDIS_KEY_NAMESPACE", "checksplit"),
		PostgresDSN:  getEnv("DATABASE_URL", ""),
		Debug:        parseBool(getEnv("DB_DEBUG", "false")),
	}

	cfg.Storage = StorageConfig{
		Backend:            strings.ToLower(getEnv("STORAGE_BACKEND", "local")),
		LocalRoot:          getEnv("STORAGE_LOCAL_ROOT", "data/storage"),
		Bucket:             getEnv("S3_BUCKET", ""),
		Region:             getEnv("S3_REGION", getEnv("AWS_REGION", "us-east-1")),
		Endpoint:           getEnv("S3_ENDPOINT", ""),
		AccessKey:          getEnv("S3_ACCESS_KEY", ""),
		SecretKey:          getEnv("S3_SECRET_KEY", ""),
		UsePathStyle:       parseBool(getEnv("S3_USE_PATH_STYLE", "false")),
		Prefix:             getEnv("S3_PREFIX", ""),
		EncryptionPassword: getEnv("STORAGE_ENCRYPTION_PASSWORD", ""),
	}

	cfg.Review = ReviewConfig{
		MergeOnApprove:     parseBool(getEnv("MERGE_ON_APPROVE", "true")),
		SplitInitialStatus: getEnv("SPLIT_INITIAL_STATUS", "pending"),
	}

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
