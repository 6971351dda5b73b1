package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmadden/trellis/internal/config"
)

func TestLoadConfig_DefaultHostIsLocalhost(t *testing.T) {
	_ = os.Unsetenv("TRELLIS_HOST")
	cfg, err := config.LoadConfig()
	assert.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host,
		"Default host must be 127.0.0.1 for security")
}

func TestLoadConfig_CanOverrideHost(t *testing.T) {
	t.Setenv("TRELLIS_HOST", "0.0.0.0")
	cfg, err := config.LoadConfig()
	assert.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestLoadConfig_GraphDefaults(t *testing.T) {
	_ = os.Unsetenv("TRELLIS_MIN_CONFIDENCE")
	_ = os.Unsetenv("TRELLIS_SIMILARITY_THRESHOLD")
	_ = os.Unsetenv("TRELLIS_NUM_WORKERS")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 0.3, cfg.Graph.MinConfidence)
	assert.Equal(t, 0.7, cfg.Graph.SimilarityThreshold)
	assert.Equal(t, 7*24*time.Hour, cfg.Graph.ActiveWindow)
	assert.Equal(t, 4, cfg.Graph.NumWorkers)
}

func TestLoadConfig_FloatAndDurationOverrides(t *testing.T) {
	t.Setenv("TRELLIS_MIN_CONFIDENCE", "0.5")
	t.Setenv("TRELLIS_ACTIVE_WINDOW", "48h")
	t.Setenv("TRELLIS_EMBEDDING_TIMEOUT", "5s")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 0.5, cfg.Graph.MinConfidence)
	assert.Equal(t, 48*time.Hour, cfg.Graph.ActiveWindow)
	assert.Equal(t, 5*time.Second, cfg.Embedding.Timeout)
}

func TestLoadConfig_MalformedValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("TRELLIS_PORT", "not-a-number")
	t.Setenv("TRELLIS_MIN_CONFIDENCE", "lots")
	t.Setenv("TRELLIS_ACTIVE_WINDOW", "tomorrow")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 6380, cfg.Server.Port)
	assert.Equal(t, 0.3, cfg.Graph.MinConfidence)
	assert.Equal(t, 7*24*time.Hour, cfg.Graph.ActiveWindow)
}

func TestLoadConfig_IngestListParsing(t *testing.T) {
	t.Setenv("TRELLIS_INGEST_ROOTS", "/srv/notes, /srv/wiki ,")
	t.Setenv("TRELLIS_INGEST_EXTENSIONS", ".txt,.md,.rst")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"/srv/notes", "/srv/wiki"}, cfg.Ingest.Roots)
	assert.Equal(t, []string{".txt", ".md", ".rst"}, cfg.Ingest.Extensions)
}

func TestLoadConfig_ProductionRequiresToken(t *testing.T) {
	t.Setenv("TRELLIS_SECURITY_MODE", "production")
	t.Setenv("TRELLIS_API_TOKEN", "")

	_, err := config.LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRELLIS_API_TOKEN")
}

func TestValidate_RejectsBadOverlap(t *testing.T) {
	t.Setenv("TRELLIS_CHUNK_SIZE", "100")
	t.Setenv("TRELLIS_CHUNK_OVERLAP", "100")

	_, err := config.LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Overlap")
}

func TestValidate_RejectsBadWorkers(t *testing.T) {
	t.Setenv("TRELLIS_NUM_WORKERS", "0")

	_, err := config.LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NumWorkers")
}
