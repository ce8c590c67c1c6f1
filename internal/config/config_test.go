package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storefront.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":8080"
checkout:
  call_timeout: 3s
feed:
  driver: redis
  redis_url: redis://localhost:6379/0
analytics:
  timezone: Africa/Mogadishu
`), 0o600))

	t.Setenv("STOREFRONT_HTTP_ADDR", ":7070")
	t.Setenv("STOREFRONT_LOG_FORMAT", "json")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.HTTP.Addr)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 3*time.Second, cfg.Checkout.CallTimeout)
	assert.Equal(t, "redis", cfg.Feed.Driver)
	// untouched defaults survive the file
	assert.Equal(t, 2*time.Second, cfg.Checkout.RedirectDelay)
	assert.Equal(t, "Africa/Mogadishu", cfg.Location().String())
}

func TestApplyEnv_BadValues(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_SESSION_TTL":  "forever",
		"STOREFRONT_SMTP_PORT":    "abc",
		"STOREFRONT_OTEL_ENABLED": "yes please",
	}
	cfg := Default()
	err := applyEnv(&cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STOREFRONT_SESSION_TTL")
	assert.Contains(t, err.Error(), "STOREFRONT_SMTP_PORT")
	assert.Contains(t, err.Error(), "STOREFRONT_OTEL_ENABLED")
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Env = "prod"
	cfg.Database.Driver = "postgres"
	cfg.Files.Driver = "s3"
	cfg.Analytics.Timezone = "Mars/Olympus"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"database.dsn", "files.driver", "session.secret", "analytics.timezone"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestSessionSecret(t *testing.T) {
	cfg := Default()
	assert.NotEmpty(t, cfg.SessionSecret())
	cfg.Env = "prod"
	cfg.Session.Secret = "s"
	assert.Equal(t, []byte("s"), cfg.SessionSecret())
}
