package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(configPathEnv, "")

	cfg := Load()

	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, "https://api.openai.com/v1", cfg.API.BaseURL)
	require.Equal(t, 30*time.Second, cfg.API.Timeout())
	require.Equal(t, time.Hour, cfg.Reference.TTL())
	require.Equal(t, "lexical", cfg.Matching.Strategy)
	require.Equal(t, 0.3, cfg.Matching.Threshold)
	require.Equal(t, "replyscanner.db", cfg.Storage.Path)
	require.Equal(t, 300*time.Millisecond, cfg.Detector.Debounce())
	require.Equal(t, 200*time.Millisecond, cfg.Detector.ScrollSettle())
	require.Len(t, cfg.Sources, 1)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  model: gpt-4o
  timeoutSeconds: 10
reference:
  ttlMinutes: 15
matching:
  strategy: semantic
  heatCheck: true
detector:
  debounceMs: 500
`), 0o600))
	t.Setenv(configPathEnv, path)

	cfg := Load()

	require.Equal(t, "gpt-4o", cfg.API.Model)
	require.Equal(t, 10*time.Second, cfg.API.Timeout())
	require.Equal(t, 15*time.Minute, cfg.Reference.TTL())
	require.Equal(t, "semantic", cfg.Matching.Strategy)
	require.True(t, cfg.Matching.HeatCheck)
	require.Equal(t, 500*time.Millisecond, cfg.Detector.Debounce())

	// Untouched settings keep their defaults.
	require.Equal(t, "https://api.openai.com/v1", cfg.API.BaseURL)
	require.Equal(t, 0.3, cfg.Matching.Threshold)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  apiKey: from-file
reference:
  feedUrl: https://file.example.org/feed.xml
`), 0o600))
	t.Setenv(configPathEnv, path)
	t.Setenv(apiKeyEnv, "from-env")
	t.Setenv(feedURLEnv, "https://env.example.org/feed.xml")
	t.Setenv(storagePthEnv, "/tmp/override.db")

	cfg := Load()

	require.Equal(t, "from-env", cfg.API.APIKey)
	require.Equal(t, "https://env.example.org/feed.xml", cfg.Reference.FeedURL)
	require.Equal(t, "/tmp/override.db", cfg.Storage.Path)
}

func TestLoadSurvivesBrokenConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml: ["), 0o600))
	t.Setenv(configPathEnv, path)

	cfg := Load()
	require.Equal(t, "https://api.openai.com/v1", cfg.API.BaseURL)
}
