// Package config loads the typed control-plane configuration. Every
// component validates its own section at construction; this package only
// assembles the document and applies defaults.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gannquant/tradecore/internal/exec"
	"github.com/gannquant/tradecore/internal/risk"
	"github.com/gannquant/tradecore/internal/router"
)

// Config is the full control-plane configuration document.
type Config struct {
	// ModeStatePath is where the file mode store persists, when Redis is not
	// configured.
	ModeStatePath string `yaml:"mode_state_path"`
	// RedisAddr enables the Redis mode store when non-empty.
	RedisAddr string `yaml:"redis_addr"`
	// JournalDSN enables the Postgres audit journal when non-empty.
	JournalDSN string `yaml:"journal_dsn"`
	// MetricsAddr is the observability listen address.
	MetricsAddr string `yaml:"metrics_addr"`

	Router     router.Config         `yaml:"router"`
	PreTrade   risk.PreTradeConfig   `yaml:"pretrade"`
	Drawdown   risk.DrawdownConfig   `yaml:"drawdown"`
	MonteCarlo risk.MonteCarloConfig `yaml:"montecarlo"`
	Submitter  exec.SubmitterConfig  `yaml:"submitter"`
}

// Default returns the production defaults for every section.
func Default() Config {
	return Config{
		ModeStatePath: "config/global_mode.yaml",
		MetricsAddr:   ":9090",
		Router:        router.DefaultConfig(),
		PreTrade:      risk.DefaultPreTradeConfig(),
		Drawdown:      risk.DefaultDrawdownConfig(),
		MonteCarlo:    risk.DefaultMonteCarloConfig(),
		Submitter:     exec.DefaultSubmitterConfig(),
	}
}

// Load reads the YAML document at path over the defaults. A missing file
// returns pure defaults without error.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate runs the per-section validators that components would otherwise
// run at construction, so bad files fail fast at load time.
func (c Config) Validate() error {
	if err := c.Router.Validate(); err != nil {
		return err
	}
	if err := c.PreTrade.Validate(); err != nil {
		return err
	}
	if err := c.Drawdown.Validate(); err != nil {
		return err
	}
	return nil
}
