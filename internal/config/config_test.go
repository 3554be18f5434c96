package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("CONFIG_ENV_PATH", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/genledger?parseTime=true")
	t.Setenv("BASE_URL", "https://app.example.com/")
	t.Setenv("JWT_SECRET", "jwt-secret")
	t.Setenv("CALLBACK_SIGNING_KEY", "callback-key")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://app.example.com", cfg.BaseURL)
	assert.Equal(t, ":8080", cfg.HTTPListenAddr)
	assert.Equal(t, "https://api.kie.ai", cfg.KIEBaseURL)
	assert.Equal(t, 30*time.Second, cfg.DispatchTimeout)
	assert.Equal(t, 10, cfg.PollBatchSize)
	assert.Equal(t, 30*24*time.Hour, cfg.GenerationTTL)
	assert.True(t, cfg.RefundLateFailures)
	assert.False(t, cfg.StorageConfigured())
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("CONFIG_ENV_PATH", filepath.Join(t.TempDir(), "missing.env"))
	for _, key := range []string{"MYSQL_DSN", "BASE_URL", "JWT_SECRET", "CALLBACK_SIGNING_KEY"} {
		t.Setenv(key, "")
	}

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MYSQL_DSN")
	assert.Contains(t, err.Error(), "CALLBACK_SIGNING_KEY")
}

func TestLoadReadsEnvFile(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("POLL_BATCH_SIZE=4\nREFUND_LATE_FAILURES=false\n"), 0o600))
	t.Setenv("CONFIG_ENV_PATH", path)
	// godotenv.Overload sets process env directly; register cleanup through t.Setenv.
	t.Setenv("POLL_BATCH_SIZE", "")
	t.Setenv("REFUND_LATE_FAILURES", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.PollBatchSize)
	assert.False(t, cfg.RefundLateFailures)
}

func TestNormalizeKIEBaseURL(t *testing.T) {
	const fallback = "https://api.kie.ai"
	assert.Equal(t, "https://api.kie.ai", normalizeKIEBaseURL("kie.ai", fallback))
	assert.Equal(t, "https://api.kie.ai", normalizeKIEBaseURL("https://kie.ai/", fallback))
	assert.Equal(t, "http://localhost:9000", normalizeKIEBaseURL("http://localhost:9000", fallback))
	assert.Equal(t, fallback, normalizeKIEBaseURL("  ", fallback))
}

func TestGetList(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, getList("CORS_ALLOWED_ORIGINS", nil))
}
