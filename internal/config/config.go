package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Host string
	Port string

	// Database settings
	DatabasePath string

	// Logging settings
	LogLevel  string
	LogFormat string

	// Cache settings
	CacheSize int
	CacheTTL  time.Duration

	// Browser settings
	BrowserDriver  string
	HeadlessMode   bool
	UserAgent      string
	BrowserPath    string
	ProxyURL       string
	ScraperTimeout time.Duration

	// HTTP client settings
	HTTPRateLimit float64

	// Runner settings
	NotFoundThreshold int
	MinDelay          time.Duration
	MaxDelay          time.Duration
	FlushEvery        int

	// Retry settings
	RetryAttempts int
	RetryBackoff  time.Duration

	// CAPTCHA settings
	TwoCaptchaKey       string
	AntiCaptchaKey      string
	CaptchaPollInterval time.Duration

	// Court endpoints
	MissouriBaseURL string
	CookBaseURL     string
	BrowardBaseURL  string
	BrowardAPIKey   string

	// Output locations
	ReviewDir    string
	DocumentsDir string
	ExportDir    string

	// Document archive settings
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3AccessKeyID  string
	S3SecretKey    string
	DocumentMaxAge int

	// Concurrency settings
	MaxConcurrentScrapes int

	// Schedule settings
	ScheduleCron   string
	ScheduleCourts []string
	LookbackDays   int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		// Not an error if .env doesn't exist
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	cfg := &Config{
		Host:            getEnv("HOST", "0.0.0.0"),
		Port:            getEnv("PORT", "8080"),
		DatabasePath:    getEnv("DATABASE_PATH", "./data/cases.db"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "json"),
		BrowserDriver:   getEnv("BROWSER_DRIVER", "rod"),
		UserAgent:       getEnv("USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"),
		BrowserPath:     getEnv("ROD_BROWSER_PATH", ""),
		ProxyURL:        getEnv("PROXY_URL", ""),
		TwoCaptchaKey:   getEnv("TWOCAPTCHA_API_KEY", ""),
		AntiCaptchaKey:  getEnv("ANTICAPTCHA_API_KEY", ""),
		MissouriBaseURL: getEnv("MISSOURI_BASE_URL", "https://www.courts.mo.gov/cnet"),
		CookBaseURL:     getEnv("COOK_BASE_URL", "https://casesearch.cookcountyclerkofcourt.org"),
		BrowardBaseURL:  getEnv("BROWARD_BASE_URL", "https://api.browardclerk.org"),
		BrowardAPIKey:   getEnv("BROWARD_API_KEY", ""),
		ReviewDir:       getEnv("REVIEW_DIR", "./data/review"),
		DocumentsDir:    getEnv("DOCUMENTS_DIR", "./data/documents"),
		ExportDir:       getEnv("EXPORT_DIR", "./data/exports"),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Region:        getEnv("S3_REGION", "auto"),
		S3Endpoint:      getEnv("S3_ENDPOINT", ""),
		S3AccessKeyID:   getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretKey:     getEnv("S3_SECRET_ACCESS_KEY", ""),
		ScheduleCron:    getEnv("SCHEDULE_CRON", "0 */6 * * *"),
		ScheduleCourts:  splitList(getEnv("SCHEDULE_COURTS", "")),
	}

	// Parse integer values
	var err error
	cfg.CacheSize, err = strconv.Atoi(getEnv("CACHE_SIZE", "1000"))
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_SIZE: %w", err)
	}

	cacheTTL, err := strconv.Atoi(getEnv("CACHE_TTL", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_TTL: %w", err)
	}
	cfg.CacheTTL = time.Duration(cacheTTL) * time.Minute

	scraperTimeout, err := strconv.Atoi(getEnv("SCRAPER_TIMEOUT", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCRAPER_TIMEOUT: %w", err)
	}
	cfg.ScraperTimeout = time.Duration(scraperTimeout) * time.Second

	cfg.HeadlessMode = getEnv("HEADLESS_MODE", "true") == "true"

	cfg.HTTPRateLimit, err = strconv.ParseFloat(getEnv("HTTP_RATE_LIMIT", "1"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid HTTP_RATE_LIMIT: %w", err)
	}

	cfg.NotFoundThreshold, err = strconv.Atoi(getEnv("NOT_FOUND_THRESHOLD", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid NOT_FOUND_THRESHOLD: %w", err)
	}

	minDelay, err := strconv.Atoi(getEnv("MIN_DELAY_MS", "2000"))
	if err != nil {
		return nil, fmt.Errorf("invalid MIN_DELAY_MS: %w", err)
	}
	cfg.MinDelay = time.Duration(minDelay) * time.Millisecond

	maxDelay, err := strconv.Atoi(getEnv("MAX_DELAY_MS", "6000"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_DELAY_MS: %w", err)
	}
	cfg.MaxDelay = time.Duration(maxDelay) * time.Millisecond
	if cfg.MaxDelay < cfg.MinDelay {
		return nil, fmt.Errorf("MAX_DELAY_MS (%d) must not be lower than MIN_DELAY_MS (%d)", maxDelay, minDelay)
	}

	cfg.FlushEvery, err = strconv.Atoi(getEnv("STATE_FLUSH_EVERY", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid STATE_FLUSH_EVERY: %w", err)
	}

	cfg.RetryAttempts, err = strconv.Atoi(getEnv("RETRY_ATTEMPTS", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid RETRY_ATTEMPTS: %w", err)
	}

	retryBackoff, err := strconv.Atoi(getEnv("RETRY_BACKOFF_MS", "1000"))
	if err != nil {
		return nil, fmt.Errorf("invalid RETRY_BACKOFF_MS: %w", err)
	}
	cfg.RetryBackoff = time.Duration(retryBackoff) * time.Millisecond

	pollInterval, err := strconv.Atoi(getEnv("CAPTCHA_POLL_INTERVAL", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid CAPTCHA_POLL_INTERVAL: %w", err)
	}
	cfg.CaptchaPollInterval = time.Duration(pollInterval) * time.Second

	cfg.DocumentMaxAge, err = strconv.Atoi(getEnv("DOCUMENT_MAX_AGE_DAYS", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid DOCUMENT_MAX_AGE_DAYS: %w", err)
	}

	cfg.MaxConcurrentScrapes, err = strconv.Atoi(getEnv("MAX_CONCURRENT_SCRAPES", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_CONCURRENT_SCRAPES: %w", err)
	}

	cfg.LookbackDays, err = strconv.Atoi(getEnv("LOOKBACK_DAYS", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOOKBACK_DAYS: %w", err)
	}

	switch cfg.BrowserDriver {
	case "rod", "chromedp":
	default:
		return nil, fmt.Errorf("invalid BROWSER_DRIVER %q: want rod or chromedp", cfg.BrowserDriver)
	}

	return cfg, nil
}

// getEnv returns the value of an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
