package config

import (
	"errors"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DefaultSessionSecret = "change-me-session-secret-0123456789"
	minSessionSecretLen  = 32
)

var ErrWeakSessionSecret = errors.New("SESSION_SECRET must be a random value of at least 32 bytes")

type Config struct {
	AppEnv        string `mapstructure:"APP_ENV"`
	Port          string `mapstructure:"PORT"`
	BaseURL       string `mapstructure:"BASE_URL"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	RedisURL      string `mapstructure:"REDIS_URL"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	CacheDriver   string `mapstructure:"CACHE_DRIVER"`
	SessionSecret string `mapstructure:"SESSION_SECRET"`
	JWTSecret     string `mapstructure:"JWT_SECRET"`
	NodeID        int64  `mapstructure:"NODE_ID"`

	CORSAllowedOrigins []string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	// Password protection
	Pepper     string `mapstructure:"APP_PEPPER"`
	BcryptCost int    `mapstructure:"BCRYPT_COST"`

	// Analytics
	QueueDriver          string `mapstructure:"QUEUE_DRIVER"`
	NATSURL              string `mapstructure:"NATS_URL"`
	AnalyticsWorkers     int    `mapstructure:"ANALYTICS_WORKERS"`
	AnalyticsQueueSize   int    `mapstructure:"ANALYTICS_QUEUE_SIZE"`
	AnalyticsMaxAttempts int    `mapstructure:"ANALYTICS_MAX_ATTEMPTS"`
	MaskVisitorIP        bool   `mapstructure:"MASK_VISITOR_IP"`
	GeoProvider          string `mapstructure:"GEO_PROVIDER"`
	MaxMindDBPath        string `mapstructure:"GEOIP_DB_PATH"`
	GeoAPIURL            string `mapstructure:"GEO_API_URL"`

	// URL safety
	SafeBrowsingAPIKey    string        `mapstructure:"SAFE_BROWSING_API_KEY"`
	SafeBrowsingURL       string        `mapstructure:"SAFE_BROWSING_URL"`
	SafeBrowsingRPS       float64       `mapstructure:"SAFE_BROWSING_RPS"`
	SafetyRulesPath       string        `mapstructure:"SAFETY_RULES_PATH"`
	MaxURLLength          int           `mapstructure:"MAX_URL_LENGTH"`
	MaxDomainLength       int           `mapstructure:"MAX_DOMAIN_LENGTH"`
	ContentCheckTimeout   time.Duration `mapstructure:"CONTENT_CHECK_TIMEOUT"`
	AllowHTTPContentCheck bool          `mapstructure:"ALLOW_HTTP_CONTENT_CHECK"`
	EnableLengthCheck     bool          `mapstructure:"ENABLE_URL_LENGTH_CHECK"`
	EnablePrivateIPCheck  bool          `mapstructure:"BLOCK_PRIVATE_IPS"`
	EnableUnicodeCheck    bool          `mapstructure:"ENABLE_UNICODE_CHECK"`
	EnableDomainBlacklist bool          `mapstructure:"ENABLE_DOMAIN_BLACKLIST"`
	EnablePatterns        bool          `mapstructure:"ENABLE_PATTERN_DETECTION"`
	EnableContentType     bool          `mapstructure:"ENABLE_CONTENT_TYPE_CHECK"`
	EnableSafeBrowsing    bool          `mapstructure:"ENABLE_GOOGLE_SAFE_BROWSING"`

	// Abuse prevention
	RecaptchaSecret    string  `mapstructure:"RECAPTCHA_SECRET"`
	RecaptchaURL       string  `mapstructure:"RECAPTCHA_URL"`
	RecaptchaThreshold float64 `mapstructure:"RECAPTCHA_THRESHOLD"`
	APILimitMinute     int64   `mapstructure:"API_LIMIT_MINUTE"`
	APILimitHour       int64   `mapstructure:"API_LIMIT_HOUR"`
}

func LoadConfig() (config Config, err error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("APP_ENV", "local")
	v.SetDefault("PORT", "8080")
	v.SetDefault("BASE_URL", "http://localhost:8080")
	v.SetDefault("DATABASE_URL", "sqlite://shortsight.db")
	v.SetDefault("REDIS_URL", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("CACHE_DRIVER", "redis")
	v.SetDefault("SESSION_SECRET", DefaultSessionSecret)
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("NODE_ID", 1)
	v.SetDefault("CORS_ALLOWED_ORIGINS", []string{"*"})

	v.SetDefault("APP_PEPPER", "")
	v.SetDefault("BCRYPT_COST", 12)

	v.SetDefault("QUEUE_DRIVER", "memory")
	v.SetDefault("NATS_URL", "nats://localhost:4222")
	v.SetDefault("ANALYTICS_WORKERS", 4)
	v.SetDefault("ANALYTICS_QUEUE_SIZE", 1000)
	v.SetDefault("ANALYTICS_MAX_ATTEMPTS", 3)
	v.SetDefault("MASK_VISITOR_IP", true)
	v.SetDefault("GEO_PROVIDER", "none")
	v.SetDefault("GEOIP_DB_PATH", "./geoip/GeoLite2-City.mmdb")
	v.SetDefault("GEO_API_URL", "https://ipinfo.io")

	v.SetDefault("SAFE_BROWSING_API_KEY", "")
	v.SetDefault("SAFE_BROWSING_URL", "https://safebrowsing.googleapis.com/v4/threatMatches:find")
	v.SetDefault("SAFE_BROWSING_RPS", 10.0)
	v.SetDefault("SAFETY_RULES_PATH", "")
	v.SetDefault("MAX_URL_LENGTH", 2048)
	v.SetDefault("MAX_DOMAIN_LENGTH", 253)
	v.SetDefault("CONTENT_CHECK_TIMEOUT", 5*time.Second)
	v.SetDefault("ALLOW_HTTP_CONTENT_CHECK", false)
	v.SetDefault("ENABLE_URL_LENGTH_CHECK", true)
	v.SetDefault("BLOCK_PRIVATE_IPS", true)
	v.SetDefault("ENABLE_UNICODE_CHECK", true)
	v.SetDefault("ENABLE_DOMAIN_BLACKLIST", true)
	v.SetDefault("ENABLE_PATTERN_DETECTION", true)
	v.SetDefault("ENABLE_CONTENT_TYPE_CHECK", true)
	v.SetDefault("ENABLE_GOOGLE_SAFE_BROWSING", true)

	v.SetDefault("RECAPTCHA_SECRET", "")
	v.SetDefault("RECAPTCHA_URL", "https://www.google.com/recaptcha/api/siteverify")
	v.SetDefault("RECAPTCHA_THRESHOLD", 0.5)
	v.SetDefault("API_LIMIT_MINUTE", 100)
	v.SetDefault("API_LIMIT_HOUR", 1000)

	v.AutomaticEnv()

	err = v.Unmarshal(&config)
	if err != nil {
		log.Printf("unable to decode into struct, %v", err)
		return
	}

	return
}

// IsProduction reports whether the service runs with production logging and gin release mode.
func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// CheckSessionSecret rejects secrets that would let anyone sign session cookies.
func (c Config) CheckSessionSecret() error {
	if c.SessionSecret == DefaultSessionSecret || len(c.SessionSecret) < minSessionSecretLen {
		return ErrWeakSessionSecret
	}
	return nil
}
