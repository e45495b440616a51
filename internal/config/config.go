// Package config loads the bot configuration from YAML with environment
// variable expansion for secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the bot configuration
type Config struct {
	// DataDir is where the durable log, memory stores, and transcript
	// database live.
	DataDir string `yaml:"data_dir"`

	Discord  DiscordConfig  `yaml:"discord"`
	Provider ProviderConfig `yaml:"provider"`
	Memory   MemoryConfig   `yaml:"memory"`
	Labels   LabelsConfig   `yaml:"labels"`
	Jobs     []JobConfig    `yaml:"jobs"`

	// MaxContext is the number of transcript messages sent to the
	// provider per request.
	MaxContext int `yaml:"max_context"`

	// DrainTimeoutSeconds bounds graceful shutdown and cold-start
	// recovery.
	DrainTimeoutSeconds int `yaml:"drain_timeout_seconds"`
}

// DiscordConfig holds platform credentials and restrictions
type DiscordConfig struct {
	Token   string `yaml:"token"`    // $ENV_VAR supported
	GuildID string `yaml:"guild_id"` // optional: restrict to one server
}

// ProviderConfig holds LLM provider settings
type ProviderConfig struct {
	APIKey string `yaml:"api_key"` // $ENV_VAR supported
	Model  string `yaml:"model"`
	System string `yaml:"system"` // base system prompt
}

// MemoryConfig bounds the per-user durable fact store
type MemoryConfig struct {
	MaxItems    int `yaml:"max_items"`    // capacity before eviction (default: 200)
	InjectChars int `yaml:"inject_chars"` // char budget for prompt injection (default: 2000)
}

// LabelsConfig lists channels whose name carries a live conversation count
type LabelsConfig struct {
	Channels           []string `yaml:"channels"`
	DebounceSeconds    int      `yaml:"debounce_seconds"`
	MinIntervalSeconds int      `yaml:"min_interval_seconds"`
}

// JobConfig is one scheduled message posted through the session queue
type JobConfig struct {
	Name      string `yaml:"name"`
	Schedule  string `yaml:"schedule"` // cron expression
	ChannelID string `yaml:"channel_id"`
	Message   string `yaml:"message"`
}

// Default returns a config with sensible defaults
func Default() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Memory: MemoryConfig{
			MaxItems:    200,
			InjectChars: 2000,
		},
		MaxContext:          50,
		DrainTimeoutSeconds: 10,
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".warden"
	}
	return filepath.Join(home, ".warden")
}

// Load reads config from path, falling back to defaults when the file is
// missing. Secret-bearing fields expand $ENV_VAR references.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.expandEnv()
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	// Expand ~ in DataDir (config file may have a tilde path)
	if strings.HasPrefix(cfg.DataDir, "~/") {
		home, _ := os.UserHomeDir()
		cfg.DataDir = filepath.Join(home, cfg.DataDir[2:])
	}

	cfg.expandEnv()
	return cfg, nil
}

func (c *Config) expandEnv() {
	c.Discord.Token = os.ExpandEnv(c.Discord.Token)
	c.Provider.APIKey = os.ExpandEnv(c.Provider.APIKey)
	if c.Discord.Token == "" {
		c.Discord.Token = os.Getenv("WARDEN_DISCORD_TOKEN")
	}
	if c.Provider.APIKey == "" {
		c.Provider.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
}

// EnsureDataDir creates the data directory if it doesn't exist
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0700)
}

// InFlightLogPath returns the path of the durable in-flight reply log.
func (c *Config) InFlightLogPath() string {
	return filepath.Join(c.DataDir, "inflight.json")
}

// DBPath returns the path to the transcript database.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "warden.db")
}

// MemoryDir returns the directory holding per-user memory stores.
func (c *Config) MemoryDir() string {
	return filepath.Join(c.DataDir, "memory")
}
