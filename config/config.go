package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the daemon runtime configuration.
type Config struct {
	ListenAddress  string `toml:"ListenAddress"`
	MetricsAddress string `toml:"MetricsAddress"`
	DataDir        string `toml:"DataDir"`
	ProgramFile    string `toml:"ProgramFile"`
	HistoryPath    string `toml:"HistoryPath"`
	AdminTokenEnv  string `toml:"AdminTokenEnv"`
	SyncInterval   string `toml:"SyncInterval"`
	MaxDaysPerSync uint64 `toml:"MaxDaysPerSync"`
	Env            string `toml:"Env"`
}

// Defaults applied when the file omits a field.
const (
	defaultListenAddress  = ":8661"
	defaultMetricsAddress = ":8662"
	defaultDataDir        = "./vestd-data"
	defaultSyncInterval   = "1m"
	defaultMaxDaysPerSync = 31
	defaultAdminTokenEnv  = "VESTD_ADMIN_TOKEN"
)

// Load reads the daemon configuration from path. Unknown keys are reported
// as an error so typos do not silently fall back to defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = defaultListenAddress
	}
	if strings.TrimSpace(c.MetricsAddress) == "" {
		c.MetricsAddress = defaultMetricsAddress
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = defaultDataDir
	}
	if strings.TrimSpace(c.SyncInterval) == "" {
		c.SyncInterval = defaultSyncInterval
	}
	if c.MaxDaysPerSync == 0 {
		c.MaxDaysPerSync = defaultMaxDaysPerSync
	}
	if strings.TrimSpace(c.AdminTokenEnv) == "" {
		c.AdminTokenEnv = defaultAdminTokenEnv
	}
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ProgramFile) == "" {
		return fmt.Errorf("config: ProgramFile is required")
	}
	if _, err := c.SyncIntervalDuration(); err != nil {
		return err
	}
	return nil
}

// SyncIntervalDuration parses the configured sync interval.
func (c *Config) SyncIntervalDuration() (time.Duration, error) {
	parsed, err := time.ParseDuration(c.SyncInterval)
	if err != nil {
		return 0, fmt.Errorf("config: parse SyncInterval %q: %w", c.SyncInterval, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("config: SyncInterval must be positive")
	}
	return parsed, nil
}

// AdminToken resolves the admin bearer token from the configured
// environment variable; empty means admin methods are disabled.
func (c *Config) AdminToken() string {
	return strings.TrimSpace(os.Getenv(c.AdminTokenEnv))
}
