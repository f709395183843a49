package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tradecore.yaml")
	doc := `
mode_state_path: /var/lib/tradecore/mode.yaml
redis_addr: localhost:6379
router:
  rule_confidence_threshold: 0.65
submitter:
  retry:
    max_retries: 5
  rate_limit: 25
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/tradecore/mode.yaml", cfg.ModeStatePath)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.InDelta(t, 0.65, cfg.Router.RuleThreshold, 1e-9)
	assert.Equal(t, 5, cfg.Submitter.Retry.MaxRetries)
	assert.InDelta(t, 25.0, cfg.Submitter.RateLimit, 1e-9)
	assert.Equal(t, 100*time.Millisecond, cfg.Submitter.Retry.InitialDelay, "absent fields keep defaults")

	// untouched sections keep their defaults
	assert.InDelta(t, 0.60, cfg.Router.MLThreshold, 1e-9)
	assert.InDelta(t, 10.0, cfg.PreTrade.MaxPositionPct, 1e-9)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tradecore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("router:\n  rule_confidence_threshold: 1.5\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rule_confidence_threshold")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tradecore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("router: [not a map"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
