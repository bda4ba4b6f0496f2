package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Storage       StorageConfig
	Auth          AuthConfig
	Links         LinksConfig
	RateLimit     RateLimitConfig
	Jobs          JobsConfig
	Observability ObservabilityConfig
	IsProduction  bool
}

type ServerConfig struct {
	BindAddress    string
	Port           string
	AllowOrigins   string
	TrustedProxies []string
	// PublicBaseURL is the externally reachable origin used to build share URLs.
	PublicBaseURL   string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Path string
}

const (
	StorageBackendLocal = "local"
	StorageBackendS3    = "s3"
	StorageBackendB2    = "b2"
)

type StorageConfig struct {
	Backend string
	// Local backend
	Path          string
	SigningSecret string
	S3            S3Config
	B2            B2Config
	MaxUploadSize int64
}

type S3Config struct {
	Region          string
	Bucket          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

type B2Config struct {
	KeyID          string
	ApplicationKey string
	Bucket         string
}

type AuthConfig struct {
	JWTSecret string
	// LinkTokenSecret signs short-lived download tokens issued by password verification.
	LinkTokenSecret  string
	DownloadTokenTTL time.Duration
}

type LinksConfig struct {
	RedirectURLTTL time.Duration
}

type RateLimitConfig struct {
	RedisURL         string
	VerifyLimit      int
	VerifyWindow     time.Duration
	LinkAccessLimit  int
	LinkAccessWindow time.Duration
	ManagementLimit  int
	ManagementWindow time.Duration
}

type JobsConfig struct {
	SweepSchedule      string
	TrashRetentionDays int
}

type ObservabilityConfig struct {
	MetricsEnabled bool
	MetricsToken   string
	// OpsToken guards operator endpoints such as a manual sweep. Empty disables them.
	OpsToken  string
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	loadDotEnvIfPresent()

	isProd := getEnv("ENVIRONMENT", "development") == "production"
	defaultSecret := ""
	if !isProd {
		defaultSecret = "dev-secret-change-in-production"
	}
	jwtSecret := strings.TrimSpace(getEnv("JWT_SECRET", defaultSecret))
	linkTokenSecret := strings.TrimSpace(getEnv("LINK_TOKEN_SECRET", ""))
	signingSecret := strings.TrimSpace(getEnv("STORAGE_SIGNING_SECRET", ""))
	if !isProd {
		if linkTokenSecret == "" {
			linkTokenSecret = deriveDevSecret("link-token", jwtSecret)
		}
		if signingSecret == "" {
			signingSecret = deriveDevSecret("storage-signing", jwtSecret)
		}
	}
	defaultBindAddress := "0.0.0.0"
	if isProd {
		// Production sits behind a reverse proxy.
		defaultBindAddress = "127.0.0.1"
	}
	port := getEnv("SERVER_PORT", "8080")

	return &Config{
		IsProduction: isProd,
		Server: ServerConfig{
			BindAddress:     getEnv("SERVER_BIND_ADDRESS", defaultBindAddress),
			Port:            port,
			AllowOrigins:    getEnv("ALLOW_ORIGINS", "http://localhost:5173"),
			TrustedProxies:  splitCSV(getEnv("TRUSTED_PROXIES", "127.0.0.1,::1")),
			PublicBaseURL:   strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:"+port), "/"),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Path: getEnv("DATABASE_PATH", "./storage/sharegate.db"),
		},
		Storage: StorageConfig{
			Backend:       strings.ToLower(getEnv("STORAGE_BACKEND", StorageBackendLocal)),
			Path:          getEnv("STORAGE_PATH", "./storage/blobs"),
			SigningSecret: signingSecret,
			MaxUploadSize: int64(getEnvInt("MAX_UPLOAD_SIZE_BYTES", 100*1024*1024)),
			S3: S3Config{
				Region:          getEnv("S3_REGION", "us-east-1"),
				Bucket:          getEnv("S3_BUCKET", ""),
				Endpoint:        getEnv("S3_ENDPOINT", ""),
				AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
				SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
				UsePathStyle:    getEnvBool("S3_USE_PATH_STYLE", false),
			},
			B2: B2Config{
				KeyID:          getEnv("B2_KEY_ID", ""),
				ApplicationKey: getEnv("B2_APPLICATION_KEY", ""),
				Bucket:         getEnv("B2_BUCKET", ""),
			},
		},
		Auth: AuthConfig{
			JWTSecret:        jwtSecret,
			LinkTokenSecret:  linkTokenSecret,
			DownloadTokenTTL: getEnvDuration("DOWNLOAD_TOKEN_TTL", 5*time.Minute),
		},
		Links: LinksConfig{
			RedirectURLTTL: getEnvDuration("REDIRECT_URL_TTL", 60*time.Second),
		},
		RateLimit: RateLimitConfig{
			RedisURL:         strings.TrimSpace(getEnv("REDIS_URL", "")),
			VerifyLimit:      getEnvInt("VERIFY_RATE_LIMIT", 5),
			VerifyWindow:     getEnvDuration("VERIFY_RATE_WINDOW", 15*time.Minute),
			LinkAccessLimit:  getEnvInt("LINK_ACCESS_RATE_LIMIT", 60),
			LinkAccessWindow: getEnvDuration("LINK_ACCESS_RATE_WINDOW", time.Minute),
			ManagementLimit:  getEnvInt("MANAGEMENT_RATE_LIMIT", 120),
			ManagementWindow: getEnvDuration("MANAGEMENT_RATE_WINDOW", time.Minute),
		},
		Jobs: JobsConfig{
			SweepSchedule:      getEnv("SWEEP_SCHEDULE", "@every 15m"),
			TrashRetentionDays: getEnvInt("TRASH_RETENTION_DAYS", 30),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getEnvBool("METRICS_ENABLED", !isProd),
			MetricsToken:   strings.TrimSpace(getEnv("METRICS_TOKEN", "")),
			OpsToken:       strings.TrimSpace(getEnv("OPS_TOKEN", "")),
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
		},
	}
}

func deriveDevSecret(purpose, jwtSecret string) string {
	sum := sha256.Sum256([]byte("sharegate-dev-" + purpose + ":" + jwtSecret))
	return hex.EncodeToString(sum[:])
}

// Validate checks that the configuration is valid for the current environment.
// In production, it enforces stricter requirements.
func (c *Config) Validate() error {
	if c.IsProduction {
		if err := requireSecret("JWT_SECRET", c.Auth.JWTSecret); err != nil {
			return err
		}
		if err := requireSecret("LINK_TOKEN_SECRET", c.Auth.LinkTokenSecret); err != nil {
			return err
		}
		if c.Auth.LinkTokenSecret == c.Auth.JWTSecret {
			return errors.New("LINK_TOKEN_SECRET must be different from JWT_SECRET in production")
		}
		if c.Storage.Backend == StorageBackendLocal {
			if err := requireSecret("STORAGE_SIGNING_SECRET", c.Storage.SigningSecret); err != nil {
				return err
			}
		}
		if c.Server.AllowOrigins == "http://localhost:5173" {
			return errors.New("ALLOW_ORIGINS must be configured for production (localhost not allowed)")
		}
		if c.Server.AllowOrigins == "*" {
			return errors.New("ALLOW_ORIGINS must not be wildcard (*) in production")
		}
		if !isHTTPS(c.Server.PublicBaseURL) {
			return errors.New("PUBLIC_BASE_URL must be an https URL in production")
		}
		if c.Storage.Backend == StorageBackendS3 && c.Storage.S3.Endpoint != "" && !isHTTPS(c.Storage.S3.Endpoint) {
			return errors.New("S3_ENDPOINT must be an https URL in production")
		}
		if c.Observability.MetricsEnabled && c.Observability.MetricsToken == "" {
			return errors.New("METRICS_TOKEN is required in production when METRICS_ENABLED=true")
		}
		if c.Observability.OpsToken != "" && len(c.Observability.OpsToken) < 32 {
			return errors.New("OPS_TOKEN must be at least 32 characters in production")
		}
	}

	if strings.TrimSpace(c.Server.BindAddress) == "" {
		return errors.New("SERVER_BIND_ADDRESS must not be empty")
	}

	port, err := strconv.Atoi(c.Server.Port)
	if err != nil || port < 1 || port > 65535 {
		return errors.New("SERVER_PORT must be a valid port number (1-65535)")
	}

	if u, err := url.Parse(c.Server.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("PUBLIC_BASE_URL must be an absolute URL")
	}

	switch c.Storage.Backend {
	case StorageBackendLocal:
		if strings.TrimSpace(c.Storage.Path) == "" {
			return errors.New("STORAGE_PATH must not be empty for the local storage backend")
		}
		if c.Storage.SigningSecret == "" {
			return errors.New("STORAGE_SIGNING_SECRET is required for the local storage backend")
		}
	case StorageBackendS3:
		if c.Storage.S3.Bucket == "" {
			return errors.New("S3_BUCKET is required for the s3 storage backend")
		}
	case StorageBackendB2:
		if c.Storage.B2.KeyID == "" || c.Storage.B2.ApplicationKey == "" || c.Storage.B2.Bucket == "" {
			return errors.New("B2_KEY_ID, B2_APPLICATION_KEY and B2_BUCKET are required for the b2 storage backend")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND %q is not supported (local, s3, b2)", c.Storage.Backend)
	}

	if c.Auth.DownloadTokenTTL <= 0 {
		return errors.New("DOWNLOAD_TOKEN_TTL must be positive")
	}
	if c.Jobs.TrashRetentionDays < 1 {
		return errors.New("TRASH_RETENTION_DAYS must be at least 1")
	}

	return nil
}

func requireSecret(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s environment variable is required in production", name)
	}
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production", name)
	}
	return nil
}

func isHTTPS(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme == "https" && u.Host != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}

	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaultValue
	}
}

func splitCSV(value string) []string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}

	parts := strings.Split(trimmed, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		v := strings.TrimSpace(part)
		if v == "" {
			continue
		}
		out = append(out, v)
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

// loadDotEnvIfPresent loads .env files without overriding variables that are
// already set in the process environment.
func loadDotEnvIfPresent() {
	for _, path := range []string{".env", "backend/.env"} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		_ = godotenv.Load(path)
	}
}
