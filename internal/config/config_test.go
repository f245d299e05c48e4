package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "grc")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("POSTGRES_DB", "grc")
	t.Setenv("JWT_SECRET", "jwt-secret")
	t.Setenv("MINIO_ENDPOINT", "minio")
	t.Setenv("MINIO_PORT", "9000")
	t.Setenv("MINIO_ACCESS_KEY", "minioadmin")
	t.Setenv("MINIO_SECRET_KEY", "minioadmin")
	t.Setenv("MINIO_BUCKET", "documents")
}

func TestFromEnv_Defaults(t *testing.T) {
	setRequired(t)
	cfg := FromEnv()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "3001", cfg.Port)
	assert.Equal(t, "5432", cfg.Postgres.Port)
	assert.Equal(t, "disable", cfg.Postgres.SSLMode)
	assert.Equal(t, time.Hour, cfg.JWT.TTL)
	assert.Equal(t, "us-east-1", cfg.Storage.Region)
	assert.Equal(t, "http://minio:9000", cfg.Storage.URL())
	assert.Equal(t, "/Sandbox/api/v1/chat", cfg.Chat.ChatPath)
	assert.Equal(t, 20, cfg.LoginRPM)
	assert.False(t, cfg.Chat.Configured())
	assert.False(t, cfg.SSO.Enabled())
}

func TestFromEnv_FrontendOriginFallback(t *testing.T) {
	t.Setenv("FRONTEND_URL", "")
	t.Setenv("FRONTEND_ORIGIN", "https://grc.example.com")
	assert.Equal(t, "https://grc.example.com", FromEnv().FrontendOrigin)

	t.Setenv("FRONTEND_URL", "https://app.example.com")
	assert.Equal(t, "https://app.example.com", FromEnv().FrontendOrigin)
}

func TestFromEnv_StorageSSLAndChat(t *testing.T) {
	setRequired(t)
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("AUTH_HOST", "https://auth.example.com/")
	t.Setenv("CLIENT_ID", "id")
	t.Setenv("CLIENT_SECRET", "secret")
	t.Setenv("API_HOST", "https://rag.example.com")
	t.Setenv("API_KEY", "key")

	cfg := FromEnv()
	assert.Equal(t, "https://minio:9000", cfg.Storage.URL())
	assert.Equal(t, "https://auth.example.com", cfg.Chat.AuthHost)
	assert.True(t, cfg.Chat.Configured())
}

func TestValidate_ListsMissing(t *testing.T) {
	setRequired(t)
	t.Setenv("JWT_SECRET", "")
	t.Setenv("MINIO_BUCKET", "")

	err := FromEnv().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "MINIO_BUCKET")
	assert.NotContains(t, err.Error(), "POSTGRES_HOST")
}

func TestSSOEnabled(t *testing.T) {
	s := SSO{ClientID: "c", RedirectURL: "https://api/cb", Issuer: "https://idp"}
	assert.True(t, s.Enabled())

	s = SSO{ClientID: "c", RedirectURL: "https://api/cb", AuthorizationURL: "a", TokenURL: "t"}
	assert.False(t, s.Enabled())
	s.UserInfoURL = "u"
	assert.True(t, s.Enabled())
}

func TestParseEnvDuration_Invalid(t *testing.T) {
	t.Setenv("JWT_TTL", "soon")
	assert.Equal(t, time.Hour, FromEnv().JWT.TTL)
	t.Setenv("JWT_TTL", "30m")
	assert.Equal(t, 30*time.Minute, FromEnv().JWT.TTL)
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList("  "))
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.0/8"}, splitList(" 10.0.0.1 , ,10.0.0.0/8"))
}
