package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting the API reads from the environment.
type Config struct {
	Port           string
	FrontendOrigin string
	TrustedProxies []string
	Environment    string

	LogLevel  string
	LogFormat string

	Postgres Postgres
	JWT      JWT
	Storage  Storage
	Chat     Chat
	SSO      SSO
	Redis    Redis

	LoginRPM     int
	OTelEndpoint string
}

type Postgres struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN returns a key/value connection string understood by pgx.
func (p Postgres) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Name, p.SSLMode)
}

// Missing lists the connection settings that are not set.
func (p Postgres) Missing() []string {
	var missing []string
	for _, kv := range [][2]string{
		{"POSTGRES_HOST", p.Host},
		{"POSTGRES_USER", p.User},
		{"POSTGRES_PASSWORD", p.Password},
		{"POSTGRES_DB", p.Name},
	} {
		if kv[1] == "" {
			missing = append(missing, kv[0])
		}
	}
	return missing
}

type JWT struct {
	Secret string
	TTL    time.Duration
}

// Storage describes the S3-compatible (MinIO) bucket used for documents.
type Storage struct {
	Endpoint  string
	Port      string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
}

// URL returns the base endpoint URL for the object store.
func (s Storage) URL() string {
	scheme := "http"
	if s.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%s", scheme, s.Endpoint, s.Port)
}

// Chat holds the credentials of the external RAG chat API.
type Chat struct {
	AuthHost     string
	ClientID     string
	ClientSecret string
	APIHost      string
	APIKey       string
	ChatPath     string
}

// Configured reports whether every setting needed to reach the chat API is present.
func (c Chat) Configured() bool {
	return c.AuthHost != "" && c.ClientID != "" && c.ClientSecret != "" && c.APIHost != "" && c.APIKey != ""
}

type SSO struct {
	ClientID         string
	ClientSecret     string
	RealmID          string
	Issuer           string
	AuthorizationURL string
	TokenURL         string
	UserInfoURL      string
	RedirectURL      string
}

// Enabled reports whether the SSO login flow can be offered.
func (s SSO) Enabled() bool {
	if s.ClientID == "" || s.RedirectURL == "" {
		return false
	}
	if s.Issuer != "" {
		return true
	}
	return s.AuthorizationURL != "" && s.TokenURL != "" && s.UserInfoURL != ""
}

type Redis struct {
	Addr     string
	Password string
	DB       int
}

// Load reads a .env file when one exists and builds a Config from the
// environment. A missing .env is not an error since deployments usually
// inject variables directly.
func Load() (*Config, error) {
	if err := LoadEnvFile(); err != nil {
		return nil, err
	}
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFile loads .env from the working directory when present.
func LoadEnvFile() error {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// FromEnv builds a Config from the current environment without validating it.
func FromEnv() *Config {
	cfg := &Config{
		Port:           getEnvDefault("PORT", "3001"),
		FrontendOrigin: getEnvAny("FRONTEND_URL", "FRONTEND_ORIGIN"),
		TrustedProxies: splitList(os.Getenv("TRUSTED_PROXIES")),
		Environment:    getEnvDefault("ENVIRONMENT", "development"),
		LogLevel:       getEnvDefault("LOG_LEVEL", "info"),
		LogFormat:      getEnvDefault("LOG_FORMAT", "json"),
		Postgres: Postgres{
			Host:     strings.TrimSpace(os.Getenv("POSTGRES_HOST")),
			Port:     getEnvDefault("POSTGRES_PORT", "5432"),
			User:     strings.TrimSpace(os.Getenv("POSTGRES_USER")),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			Name:     strings.TrimSpace(os.Getenv("POSTGRES_DB")),
			SSLMode:  getEnvDefault("POSTGRES_SSLMODE", "disable"),
		},
		JWT: JWT{
			Secret: strings.TrimSpace(os.Getenv("JWT_SECRET")),
			TTL:    parseEnvDuration("JWT_TTL", time.Hour),
		},
		Storage: Storage{
			Endpoint:  strings.TrimSpace(os.Getenv("MINIO_ENDPOINT")),
			Port:      strings.TrimSpace(os.Getenv("MINIO_PORT")),
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			Bucket:    strings.TrimSpace(os.Getenv("MINIO_BUCKET")),
			UseSSL:    parseEnvBool("MINIO_USE_SSL"),
			Region:    getEnvDefault("MINIO_REGION", "us-east-1"),
		},
		Chat: Chat{
			AuthHost:     strings.TrimRight(strings.TrimSpace(os.Getenv("AUTH_HOST")), "/"),
			ClientID:     os.Getenv("CLIENT_ID"),
			ClientSecret: os.Getenv("CLIENT_SECRET"),
			APIHost:      strings.TrimRight(strings.TrimSpace(os.Getenv("API_HOST")), "/"),
			APIKey:       os.Getenv("API_KEY"),
			ChatPath:     getEnvDefault("CHAT_PATH", "/Sandbox/api/v1/chat"),
		},
		SSO: SSO{
			ClientID:         os.Getenv("DI_CLIENT_ID"),
			ClientSecret:     os.Getenv("DI_CLIENT_SECRET"),
			RealmID:          os.Getenv("DI_REALM_ID"),
			Issuer:           strings.TrimSpace(os.Getenv("SSO_ISSUER")),
			AuthorizationURL: strings.TrimSpace(os.Getenv("SSO_AUTHORIZATION_URL")),
			TokenURL:         strings.TrimSpace(os.Getenv("SSO_TOKEN_URL")),
			UserInfoURL:      strings.TrimSpace(os.Getenv("SSO_USERINFO_URL")),
			RedirectURL:      strings.TrimSpace(os.Getenv("SSO_REDIRECT_URL")),
		},
		Redis: Redis{
			Addr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       parseEnvInt("REDIS_DB", 0),
		},
		LoginRPM:     parseEnvInt("LOGIN_RPM", 20),
		OTelEndpoint: strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
	}
	return cfg
}

// Validate checks that the settings the server cannot start without are present.
func (c *Config) Validate() error {
	missing := c.Postgres.Missing()
	check := func(name, v string) {
		if v == "" {
			missing = append(missing, name)
		}
	}
	check("JWT_SECRET", c.JWT.Secret)
	check("MINIO_ENDPOINT", c.Storage.Endpoint)
	check("MINIO_PORT", c.Storage.Port)
	check("MINIO_ACCESS_KEY", c.Storage.AccessKey)
	check("MINIO_SECRET_KEY", c.Storage.SecretKey)
	check("MINIO_BUCKET", c.Storage.Bucket)
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Production reports whether the server runs in a production environment.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getEnvAny(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func getEnvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func parseEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func parseEnvBool(key string) bool {
	v := strings.TrimSpace(os.Getenv(key))
	return strings.EqualFold(v, "true") || v == "1"
}

func parseEnvDuration(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
