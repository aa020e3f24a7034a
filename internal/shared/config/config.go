package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration. It is loaded once at startup and
// passed into each component's constructor; nothing reads the environment
// after Load returns.
type Config struct {
	Port            string
	Env             string
	CORSAllowOrigin []string

	// Batch storage.
	BatchRootDir string

	// External analysis service (long-running operation API).
	AnalysisEndpoint   string
	AnalysisKey        string
	AnalysisAPIVersion string

	// External record-and-attachment store.
	RecordStoreBaseURL string
	RecordStoreSiteID  string
	RecordStoreListID  string
	RecordStoreToken   string

	// Bearer-token verification.
	AuthSecret        string
	AuthAudience      string
	AuthScope         string
	AuthIssuerPattern string

	// Requests per minute allowed per principal on the write endpoints.
	RateLimitPerMinute int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	_ = godotenv.Load(".env", "cmd/.env")

	return Config{
		Port:               getEnv("PORT", "8080"),
		Env:                normalizeEnv(getEnv("ENV", "dev")),
		CORSAllowOrigin:    splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		BatchRootDir:       getEnv("BATCH_ROOT_DIR", "./data/batches"),
		AnalysisEndpoint:   strings.TrimRight(getEnv("ANALYSIS_ENDPOINT", ""), "/"),
		AnalysisKey:        getEnv("ANALYSIS_KEY", ""),
		AnalysisAPIVersion: getEnv("ANALYSIS_API_VERSION", "2023-07-31"),
		RecordStoreBaseURL: strings.TrimRight(getEnv("RECORD_STORE_BASE_URL", ""), "/"),
		RecordStoreSiteID:  getEnv("RECORD_STORE_SITE_ID", ""),
		RecordStoreListID:  getEnv("RECORD_STORE_LIST_ID", ""),
		RecordStoreToken:   getEnv("RECORD_STORE_TOKEN", ""),
		AuthSecret:         getEnv("AUTH_SECRET", ""),
		AuthAudience:       getEnv("AUTH_AUDIENCE", ""),
		AuthScope:          getEnv("AUTH_SCOPE", "access_as_user"),
		AuthIssuerPattern:  getEnv("AUTH_ISSUER_PATTERN", ""),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
	}
}

// AnalysisConfigured reports whether the external analysis service is usable.
func (c Config) AnalysisConfigured() bool {
	return c.AnalysisEndpoint != "" && c.AnalysisKey != ""
}

// RecordStoreConfigured reports whether the external record store is usable.
func (c Config) RecordStoreConfigured() bool {
	return c.RecordStoreBaseURL != "" && c.RecordStoreSiteID != "" && c.RecordStoreListID != ""
}

func getEnv(key, def string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}
