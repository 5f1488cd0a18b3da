package infra

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	CORSOrigins      []string

	MaxUploadBytes   int64
	ProcessTimeout   time.Duration
	RemovalWorkers   int
	RemovalTolerance float64
	// ImageSourceAllowlist lists hosts /download-image may fetch from.
	ImageSourceAllowlist []string

	// Client settings; cmd/bgremove uses them as its flag defaults.
	Backend     string
	Endpoint    string
	DownloadDir string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:               getEnv("APP_ENV", "development"),
		Port:                 port,
		HTTPReadTimeout:      time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:     time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 60)),
		HTTPIdleTimeout:      time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:      getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		CORSOrigins:          splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		MaxUploadBytes:       int64(getEnvInt("MAX_UPLOAD_BYTES", 10<<20)),
		ProcessTimeout:       time.Second * time.Duration(getEnvInt("PROCESS_TIMEOUT_SECONDS", 30)),
		RemovalWorkers:       getEnvInt("REMOVAL_WORKERS", 2),
		RemovalTolerance:     getEnvFloat("REMOVAL_TOLERANCE", 48),
		Backend:              getEnv("BGREMOVE_BACKEND", "embedded"),
		Endpoint:             getEnv("BGREMOVE_ENDPOINT", "http://localhost:"+port),
		DownloadDir:          getEnv("DOWNLOAD_DIR", "."),
		ImageSourceAllowlist: splitList(os.Getenv("IMAGE_SOURCE_HOST_ALLOWLIST")),
	}

	if cfg.MaxUploadBytes <= 0 {
		return nil, fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if cfg.ProcessTimeout <= 0 {
		return nil, fmt.Errorf("PROCESS_TIMEOUT_SECONDS must be positive")
	}
	if cfg.RemovalWorkers <= 0 {
		cfg.RemovalWorkers = 1
	}
	cfg.ImageSourceAllowlist = mergeHosts(cfg.ImageSourceAllowlist, cfg.Endpoint)

	return cfg, nil
}

// HostAllowed reports whether host may be fetched by /download-image.
func (c *Config) HostAllowed(host string) bool {
	if c == nil {
		return false
	}
	host = strings.ToLower(strings.TrimSpace(host))
	for _, allowed := range c.ImageSourceAllowlist {
		if host == allowed {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// mergeHosts lower-cases, dedupes and sorts the allowlist, always including
// the host of the configured endpoint.
func mergeHosts(hosts []string, endpoint string) []string {
	seen := make(map[string]struct{})
	if u, err := url.Parse(endpoint); err == nil && u.Hostname() != "" {
		seen[strings.ToLower(u.Hostname())] = struct{}{}
	}
	for _, h := range hosts {
		seen[strings.ToLower(h)] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
