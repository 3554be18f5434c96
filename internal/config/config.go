package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the API server and supporting services.
type Config struct {
	HTTPListenAddr     string
	BaseURL            string
	LogLevel           string
	MySQLDSN           string
	JWTSecret          string
	CallbackSigningKey string
	CORSAllowedOrigins []string

	KIEAPIKey      string
	KIEBaseURL     string
	RequestTimeout time.Duration

	DispatchTimeout    time.Duration
	PollBatchSize      int
	PollThrottle       time.Duration
	GenerationTTL      time.Duration
	RefundLateFailures bool

	N8NCallbackSecret string

	AdminUsername string
	AdminPassword string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	TelegramBotToken    string
	TelegramAdminChatID int64

	ProviderCreditThreshold int
	AlertCheckInterval      time.Duration

	PaymentCurrency   string
	YooKassaShopID    string
	YooKassaSecretKey string
	YooKassaReturnURL string

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultKIEBaseURL = "https://api.kie.ai"

	cfg := Config{
		HTTPListenAddr:          getEnv("HTTP_LISTEN_ADDR", ":8080"),
		BaseURL:                 strings.TrimRight(os.Getenv("BASE_URL"), "/"),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		MySQLDSN:                os.Getenv("MYSQL_DSN"),
		JWTSecret:               os.Getenv("JWT_SECRET"),
		CallbackSigningKey:      os.Getenv("CALLBACK_SIGNING_KEY"),
		CORSAllowedOrigins:      getList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		KIEAPIKey:               os.Getenv("KIE_API_KEY"),
		KIEBaseURL:              normalizeKIEBaseURL(getEnv("KIE_BASE_URL", defaultKIEBaseURL), defaultKIEBaseURL),
		RequestTimeout:          time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 60)),
		DispatchTimeout:         time.Second * time.Duration(getInt("DISPATCH_TIMEOUT_SECONDS", 30)),
		PollBatchSize:           getInt("POLL_BATCH_SIZE", 10),
		PollThrottle:            time.Second * time.Duration(getInt("POLL_THROTTLE_SECONDS", 10)),
		GenerationTTL:           24 * time.Hour * time.Duration(getInt("GENERATION_TTL_DAYS", 30)),
		RefundLateFailures:      getBool("REFUND_LATE_FAILURES", true),
		N8NCallbackSecret:       os.Getenv("N8N_CALLBACK_SECRET"),
		AdminUsername:           getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:           getEnv("ADMIN_PASSWORD", "change-me"),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		RedisPassword:           os.Getenv("REDIS_PASSWORD"),
		RedisDB:                 getInt("REDIS_DB", 0),
		TelegramBotToken:        os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramAdminChatID:     getInt64("TELEGRAM_ADMIN_CHAT_ID", 0),
		ProviderCreditThreshold: getInt("PROVIDER_CREDIT_THRESHOLD", 500),
		AlertCheckInterval:      time.Minute * time.Duration(getInt("ALERT_CHECK_INTERVAL_MINUTES", 0)),
		PaymentCurrency:         getEnv("PAYMENT_CURRENCY", "RUB"),
		YooKassaShopID:          os.Getenv("YOOKASSA_SHOP_ID"),
		YooKassaSecretKey:       os.Getenv("YOOKASSA_SECRET_KEY"),
		YooKassaReturnURL:       os.Getenv("YOOKASSA_RETURN_URL"),
		S3Endpoint:              os.Getenv("S3_ENDPOINT"),
		S3Region:                os.Getenv("S3_REGION"),
		S3AccessKey:             os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:             os.Getenv("S3_SECRET_KEY"),
		S3Bucket:                os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:         os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:          getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:                getEnv("S3_PREFIX", "references"),
	}

	var missing []string
	if cfg.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if cfg.CallbackSigningKey == "" {
		missing = append(missing, "CALLBACK_SIGNING_KEY")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	if cfg.PollBatchSize <= 0 {
		cfg.PollBatchSize = 10
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 30 * time.Second
	}

	return cfg, nil
}

// StorageConfigured reports whether every S3 setting needed for uploads is present.
func (c Config) StorageConfigured() bool {
	return c.S3Region != "" && c.S3AccessKey != "" && c.S3SecretKey != "" && c.S3Bucket != "" && c.S3PublicBaseURL != ""
}

// normalizeKIEBaseURL ensures we always hit the documented API host. Some docs and UI pages
// use the root kie.ai domain, which returns HTML instead of JSON and causes 404s.
func normalizeKIEBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}

	// Force API subdomain to avoid landing on the marketing site.
	if parsed.Host == "kie.ai" {
		parsed.Host = "api.kie.ai"
	}

	return strings.TrimRight(parsed.String(), "/")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// loadEnvFile overlays the first env file found. Deployments that inject the
// environment directly have no file, which is fine.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
