package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func baseProdConfig() *Config {
	return &Config{
		IsProduction: true,
		Server: ServerConfig{
			BindAddress:   "127.0.0.1",
			Port:          "8080",
			AllowOrigins:  "https://sharegate.example.com",
			PublicBaseURL: "https://sharegate.example.com",
		},
		Storage: StorageConfig{
			Backend:       StorageBackendLocal,
			Path:          "/var/lib/sharegate/blobs",
			SigningSecret: strings.Repeat("s", 32),
		},
		Auth: AuthConfig{
			JWTSecret:        strings.Repeat("x", 32),
			LinkTokenSecret:  strings.Repeat("y", 32),
			DownloadTokenTTL: 5 * time.Minute,
		},
		Jobs: JobsConfig{
			TrashRetentionDays: 30,
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: false,
		},
	}
}

func TestValidate_ProductionBaselinePasses(t *testing.T) {
	if err := baseProdConfig().Validate(); err != nil {
		t.Fatalf("expected config to validate, got: %v", err)
	}
}

func TestValidate_ProductionMetricsRequireTokenWhenEnabled(t *testing.T) {
	cfg := baseProdConfig()
	cfg.Observability.MetricsEnabled = true
	cfg.Observability.MetricsToken = ""

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "METRICS_TOKEN") {
		t.Fatalf("expected METRICS_TOKEN validation error, got: %v", err)
	}
}

func TestValidate_ProductionMetricsEnabledWithTokenPasses(t *testing.T) {
	cfg := baseProdConfig()
	cfg.Observability.MetricsEnabled = true
	cfg.Observability.MetricsToken = "metrics-secret"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config to validate, got: %v", err)
	}
}

func TestValidate_ProductionOpsToken(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{name: "unset disables ops endpoints", token: ""},
		{name: "short token", token: "ops", wantErr: true},
		{name: "long token", token: strings.Repeat("o", 32)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseProdConfig()
			cfg.Observability.OpsToken = tt.token
			err := cfg.Validate()
			if tt.wantErr && (err == nil || !strings.Contains(err.Error(), "OPS_TOKEN")) {
				t.Fatalf("expected OPS_TOKEN validation error, got: %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("expected config to validate, got: %v", err)
			}
		})
	}
}

func TestValidate_RejectsEmptyBindAddress(t *testing.T) {
	cfg := baseProdConfig()
	cfg.Server.BindAddress = ""

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "SERVER_BIND_ADDRESS") {
		t.Fatalf("expected SERVER_BIND_ADDRESS validation error, got: %v", err)
	}
}

func TestValidate_ProductionSecrets(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "short jwt secret",
			mutate:  func(c *Config) { c.Auth.JWTSecret = "short" },
			wantErr: "JWT_SECRET",
		},
		{
			name:    "missing link token secret",
			mutate:  func(c *Config) { c.Auth.LinkTokenSecret = "" },
			wantErr: "LINK_TOKEN_SECRET",
		},
		{
			name:    "link token secret reuses jwt secret",
			mutate:  func(c *Config) { c.Auth.LinkTokenSecret = c.Auth.JWTSecret },
			wantErr: "must be different",
		},
		{
			name:    "short storage signing secret",
			mutate:  func(c *Config) { c.Storage.SigningSecret = "tiny" },
			wantErr: "STORAGE_SIGNING_SECRET",
		},
		{
			name:    "plain http public url",
			mutate:  func(c *Config) { c.Server.PublicBaseURL = "http://sharegate.example.com" },
			wantErr: "PUBLIC_BASE_URL",
		},
		{
			name:    "wildcard origins",
			mutate:  func(c *Config) { c.Server.AllowOrigins = "*" },
			wantErr: "wildcard",
		},
		{
			name: "plain http s3 endpoint",
			mutate: func(c *Config) {
				c.Storage.Backend = StorageBackendS3
				c.Storage.S3.Bucket = "files"
				c.Storage.S3.Endpoint = "http://minio:9000"
			},
			wantErr: "S3_ENDPOINT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseProdConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_StorageBackends(t *testing.T) {
	cfg := baseProdConfig()
	cfg.IsProduction = false

	cfg.Storage.Backend = "ftp"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "STORAGE_BACKEND") {
		t.Fatalf("expected unsupported backend error, got: %v", err)
	}

	cfg.Storage.Backend = StorageBackendS3
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "S3_BUCKET") {
		t.Fatalf("expected S3_BUCKET error, got: %v", err)
	}
	cfg.Storage.S3.Bucket = "files"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected s3 config to validate, got: %v", err)
	}

	cfg.Storage.Backend = StorageBackendB2
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "B2_") {
		t.Fatalf("expected B2 credential error, got: %v", err)
	}
}

func TestLoad_DevelopmentDerivesSecrets(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("JWT_SECRET", "dev-jwt")
	t.Setenv("LINK_TOKEN_SECRET", "")
	t.Setenv("STORAGE_SIGNING_SECRET", "")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("PUBLIC_BASE_URL", "")

	cfg := Load()
	if cfg.Auth.LinkTokenSecret == "" || cfg.Auth.LinkTokenSecret == cfg.Auth.JWTSecret {
		t.Fatalf("expected derived link token secret, got %q", cfg.Auth.LinkTokenSecret)
	}
	if cfg.Storage.SigningSecret == "" || cfg.Storage.SigningSecret == cfg.Auth.LinkTokenSecret {
		t.Fatalf("expected distinct derived signing secret, got %q", cfg.Storage.SigningSecret)
	}
	if cfg.Server.PublicBaseURL != "http://localhost:9090" {
		t.Fatalf("unexpected default public base url %q", cfg.Server.PublicBaseURL)
	}
	if cfg.Auth.DownloadTokenTTL != 5*time.Minute {
		t.Fatalf("unexpected download token ttl %s", cfg.Auth.DownloadTokenTTL)
	}
}

func TestLoad_DotEnvDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("SWEEP_SCHEDULE=@every 1h\nS3_BUCKET=from-dotenv\n"), 0600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv("SWEEP_SCHEDULE", "@every 5m")
	t.Setenv("S3_BUCKET", "")
	_ = os.Unsetenv("S3_BUCKET")

	cfg := Load()
	if cfg.Jobs.SweepSchedule != "@every 5m" {
		t.Fatalf("expected process env to win, got %q", cfg.Jobs.SweepSchedule)
	}
	if cfg.Storage.S3.Bucket != "from-dotenv" {
		t.Fatalf("expected .env value for unset key, got %q", cfg.Storage.S3.Bucket)
	}
}
