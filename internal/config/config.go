package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL       string
	S3Endpoint        string
	S3AccessKey       string
	S3SecretKey       string
	S3UseSSL          bool
	S3Region          string
	UploadsBucket     string
	ReportsBucket     string
	ScratchDir        string
	ScannerPath       string
	ScannerTimeout    time.Duration
	WorkerConcurrency int
	HTTPAddr          string
	StaleJobAfter     time.Duration

	GuidelinesURL             string
	GuidelinesTTL             time.Duration
	GuidelinesFetchTimeout    time.Duration
	GuidelinesBuiltinFallback bool

	EnrichEnabled     bool
	EnrichAPIKey      string
	EnrichBaseURL     string
	EnrichModel       string
	EnrichTimeout     time.Duration
	EnrichConcurrency int
	EnrichRPS         float64

	RenderSortBySeverity bool
	// PDFFontPath is an optional TrueType font for text outside cp1252.
	PDFFontPath string
}

const DefaultGuidelinesURL = "https://developer.apple.com/app-store/review/guidelines/"

func getBool(key, def string) bool {
	v := os.Getenv(key)
	if v == "" {
		v = def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// getDuration accepts Go durations ("90s", "24h") or a bare number of seconds.
func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// FromEnv reads the configuration and reports missing required settings.
func FromEnv() (Config, error) {
	cfg := Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		S3Endpoint:        os.Getenv("S3_ENDPOINT"),
		S3AccessKey:       os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:       os.Getenv("S3_SECRET_KEY"),
		S3UseSSL:          getBool("S3_USE_SSL", "false"),
		S3Region:          os.Getenv("S3_REGION"),
		UploadsBucket:     os.Getenv("UPLOADS_BUCKET"),
		ReportsBucket:     os.Getenv("REPORTS_BUCKET"),
		ScratchDir:        getString("SCRATCH_DIR", "/scratch"),
		ScannerPath:       getString("SCANNER_PATH", "/usr/local/bin/scanner"),
		ScannerTimeout:    getDuration("SCANNER_TIMEOUT", 10*time.Minute),
		WorkerConcurrency: getInt("WORKER_CONCURRENCY", 2),
		HTTPAddr:          os.Getenv("HTTP_ADDR"),
		StaleJobAfter:     getDuration("STALE_JOB_AFTER", 15*time.Minute),

		GuidelinesURL:             getString("GUIDELINES_URL", DefaultGuidelinesURL),
		GuidelinesTTL:             getDuration("GUIDELINES_TTL", 24*time.Hour),
		GuidelinesFetchTimeout:    getDuration("GUIDELINES_FETCH_TIMEOUT", 10*time.Second),
		GuidelinesBuiltinFallback: getBool("GUIDELINES_BUILTIN_FALLBACK", "false"),

		EnrichEnabled:     getBool("ENRICH_ENABLED", "false"),
		EnrichAPIKey:      os.Getenv("ENRICH_API_KEY"),
		EnrichBaseURL:     os.Getenv("ENRICH_BASE_URL"),
		EnrichModel:       os.Getenv("ENRICH_MODEL"),
		EnrichTimeout:     getDuration("ENRICH_TIMEOUT", 60*time.Second),
		EnrichConcurrency: getInt("ENRICH_CONCURRENCY", 4),
		EnrichRPS:         getFloat("ENRICH_RPS", 2),

		RenderSortBySeverity: getBool("RENDER_SORT_BY_SEVERITY", "false"),
		PDFFontPath:          os.Getenv("PDF_FONT_PATH"),
	}
	if cfg.WorkerConcurrency < 1 {
		cfg.WorkerConcurrency = 1
	}
	if cfg.EnrichConcurrency < 1 {
		cfg.EnrichConcurrency = 1
	}
	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}
	if cfg.UploadsBucket == "" || cfg.ReportsBucket == "" {
		return cfg, errors.New("UPLOADS_BUCKET and REPORTS_BUCKET are required")
	}
	return cfg, nil
}

func Load() Config {
	cfg, err := FromEnv()
	if err != nil {
		log.Fatal(err)
	}
	return cfg
}
