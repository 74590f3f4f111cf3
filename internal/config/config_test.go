package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "walnut", cfg.Database.Name)
	assert.False(t, cfg.JWT.Enabled, "auth is opt-in")
	assert.False(t, cfg.Monitoring.Tracing.Enabled)
	assert.Equal(t, "walnut", cfg.Monitoring.Tracing.ServiceName)

	rl := cfg.Security.RateLimiting
	assert.True(t, rl.Enabled)
	require.Len(t, rl.Paths, 1)
	assert.Equal(t, "/api/v1/policies", rl.Paths[0].Prefix)
	assert.Greater(t, rl.Paths[0].RequestsPerMinute, rl.RequestsPerMinute,
		"validate-as-you-type traffic needs more headroom than the global limit")
}

func TestLoad_FromViper(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	yaml := []byte(`
server:
  host: 127.0.0.1
  port: 9090
log:
  level: debug
  format: text
`)
	viper.SetConfigType("yaml")
	require.NoError(t, viper.ReadConfig(bytes.NewBuffer(yaml)))

	cfg := Load()

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestInitLogger_FileOutput(t *testing.T) {
	dir := t.TempDir()
	cfg := GetDefaultConfig()
	cfg.Log.Output = "file"
	cfg.Log.FilePath = filepath.Join(dir, "logs", "walnut.log")
	cfg.Log.Format = "json"

	require.NoError(t, InitLogger(cfg))
	logrus.Info("probe entry")

	_, err := os.Stat(filepath.Dir(cfg.Log.FilePath))
	assert.NoError(t, err, "log directory must be created")

	// restore global logger for other tests
	logrus.SetOutput(os.Stdout)
}

func TestInitLogger_InvalidLevelFallsBack(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Log.Output = "stdout"
	cfg.Log.Level = "chatty"

	require.NoError(t, InitLogger(cfg))
	assert.Equal(t, logrus.InfoLevel, logrus.GetLevel())
}
