package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const DefaultTargetURL = "https://giantfood.com/groceries/snacks/chips/potato-chips.html"

type Config struct {
	Server   ServerConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Output   OutputConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type ScraperConfig struct {
	TargetURL         string
	AlternativeURLs   []string
	FetchMode         string
	MaxRetries        int
	RetryDelay        time.Duration
	BlockedMultiplier float64
	RequestTimeout    time.Duration
	MaxProducts       int
	TLSFingerprint    bool
	UserAgent         string
	AlternativeMin    time.Duration
	AlternativeMax    time.Duration
	Selectors         SelectorConfig
}

// SelectorConfig holds the ordered CSS query lists. Earlier entries win.
type SelectorConfig struct {
	Containers     []string
	Name           []string
	Size           []string
	Price          []string
	Link           []string
	NameNoise      string
	RequiredFields []string
}

type BrowserConfig struct {
	Engine         string
	Headless       bool
	Timeout        time.Duration
	SettleDelay    time.Duration
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
}

type OutputConfig struct {
	Dir         string
	Formats     []string
	Basename    string
	SourceLabel string
	DebugPath   string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	Stream        string
	RequestStream string
	ConsumerGroup string
	ConsumerName  string
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 5*time.Minute),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Scraper: ScraperConfig{
			TargetURL:         getEnvOrDefault("SCRAPER_TARGET_URL", DefaultTargetURL),
			AlternativeURLs:   getStringSliceOrDefault("SCRAPER_ALTERNATIVE_URLS", ",", nil),
			FetchMode:         getEnvOrDefault("SCRAPER_FETCH_MODE", "http"),
			MaxRetries:        getIntOrDefault("SCRAPER_MAX_RETRIES", 3),
			RetryDelay:        getDurationOrDefault("SCRAPER_RETRY_DELAY", 2*time.Second),
			BlockedMultiplier: getFloatOrDefault("SCRAPER_BLOCKED_MULTIPLIER", 2),
			RequestTimeout:    getDurationOrDefault("SCRAPER_REQUEST_TIMEOUT", 30*time.Second),
			MaxProducts:       getIntOrDefault("SCRAPER_MAX_PRODUCTS", 50),
			TLSFingerprint:    getBoolOrDefault("SCRAPER_TLS_FINGERPRINT", false),
			UserAgent:         getEnvOrDefault("SCRAPER_USER_AGENT", DefaultUserAgent),
			AlternativeMin:    getDurationOrDefault("SCRAPER_ALTERNATIVE_DELAY_MIN", 3*time.Second),
			AlternativeMax:    getDurationOrDefault("SCRAPER_ALTERNATIVE_DELAY_MAX", 8*time.Second),
			Selectors: SelectorConfig{
				Containers:     getStringSliceOrDefault("SCRAPER_CONTAINER_SELECTORS", "|", DefaultContainerSelectors()),
				Name:           getStringSliceOrDefault("SCRAPER_NAME_SELECTORS", "|", DefaultNameSelectors()),
				Size:           getStringSliceOrDefault("SCRAPER_SIZE_SELECTORS", "|", DefaultSizeSelectors()),
				Price:          getStringSliceOrDefault("SCRAPER_PRICE_SELECTORS", "|", DefaultPriceSelectors()),
				Link:           getStringSliceOrDefault("SCRAPER_LINK_SELECTORS", "|", DefaultLinkSelectors()),
				NameNoise:      getEnvOrDefault("SCRAPER_NAME_NOISE_MARKER", DefaultNameNoiseMarker),
				RequiredFields: getStringSliceOrDefault("SCRAPER_REQUIRED_FIELDS", ",", nil),
			},
		},
		Browser: BrowserConfig{
			Engine:         getEnvOrDefault("BROWSER_ENGINE", "playwright"),
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			SettleDelay:    getDurationOrDefault("BROWSER_SETTLE_DELAY", 5*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "en-US,en;q=0.9"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "America/New_York"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "en-US"),
		},
		Output: OutputConfig{
			Dir:         getEnvOrDefault("OUTPUT_DIR", "data"),
			Formats:     getStringSliceOrDefault("OUTPUT_FORMATS", ",", []string{"csv", "json"}),
			Basename:    getEnvOrDefault("OUTPUT_BASENAME", "live_giant_food_products"),
			SourceLabel: getEnvOrDefault("OUTPUT_SOURCE_LABEL", "Giant Food Scraper"),
			DebugPath:   getEnvOrDefault("DEBUG_DUMP_PATH", "data/debug_page.html"),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "category_scraper"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 4)),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", ""),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
			Stream:   getEnvOrDefault("REDIS_STREAM", "stream:category_scrapes"),

			RequestStream: getEnvOrDefault("REDIS_REQUEST_STREAM", "stream:category_scrape_requests"),
			ConsumerGroup: getEnvOrDefault("REDIS_CONSUMER_GROUP", "category-scraper-group"),
			ConsumerName:  getEnvOrDefault("REDIS_CONSUMER_NAME", "consumer-1"),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "text"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Scraper.TargetURL == "" {
		return fmt.Errorf("SCRAPER_TARGET_URL is required")
	}

	if c.Scraper.MaxRetries < 1 {
		return fmt.Errorf("SCRAPER_MAX_RETRIES must be at least 1")
	}

	if c.Scraper.RetryDelay < 0 {
		return fmt.Errorf("SCRAPER_RETRY_DELAY cannot be negative")
	}

	if c.Scraper.BlockedMultiplier < 2 {
		return fmt.Errorf("SCRAPER_BLOCKED_MULTIPLIER must be at least 2")
	}

	if c.Scraper.MaxProducts < 1 {
		return fmt.Errorf("SCRAPER_MAX_PRODUCTS must be at least 1")
	}

	if c.Scraper.AlternativeMin > c.Scraper.AlternativeMax {
		return fmt.Errorf("SCRAPER_ALTERNATIVE_DELAY_MIN cannot be greater than SCRAPER_ALTERNATIVE_DELAY_MAX")
	}

	switch c.Scraper.FetchMode {
	case "http", "browser":
	default:
		return fmt.Errorf("SCRAPER_FETCH_MODE must be http or browser, got %q", c.Scraper.FetchMode)
	}

	switch c.Browser.Engine {
	case "playwright", "chromedp":
	default:
		return fmt.Errorf("BROWSER_ENGINE must be playwright or chromedp, got %q", c.Browser.Engine)
	}

	if len(c.Scraper.Selectors.Containers) == 0 {
		return fmt.Errorf("SCRAPER_CONTAINER_SELECTORS must list at least one selector")
	}

	for _, f := range c.Output.Formats {
		switch f {
		case "csv", "json", "postgres":
		default:
			return fmt.Errorf("unknown output format %q", f)
		}
	}

	return nil
}

// DSN builds the postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

func (o OutputConfig) HasFormat(name string) bool {
	for _, f := range o.Formats {
		if f == name {
			return true
		}
	}
	return false
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key, sep string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
