// Package config provides configuration management for morph.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

// Config is the single explicit configuration value threaded through every
// constructor in the program. There are no process-wide singletons; every
// component that needs a setting receives its own *Config (or the specific
// field it needs) at construction time, per the "global mutable state"
// design note.
type Config struct {
	// Cache settings
	CacheDir    string `mapstructure:"cache_dir"`
	RemoteCache string `mapstructure:"remote_cache"`

	// Git settings
	GitCacheDir string `mapstructure:"git_cache_dir"`

	// Build settings
	Jobs       int    `mapstructure:"jobs"`
	KeepPath   bool   `mapstructure:"keep_path"`
	Prefix     string `mapstructure:"prefix"`
	ToolPrefix string `mapstructure:"tool_prefix"`
	Arch       string `mapstructure:"arch"`
	CFLAGS     string `mapstructure:"cflags"`

	// Distributed build settings
	ControllerAddr string `mapstructure:"controller_addr"`
	WorkerAddr     string `mapstructure:"worker_addr"`
	WorkerListen   string `mapstructure:"worker_listen"`

	// Security settings
	SigningEnabled bool   `mapstructure:"signing_enabled"`
	SBOMEnabled    bool   `mapstructure:"sbom_enabled"`
	KeyPath        string `mapstructure:"key_path"`

	Debug bool `mapstructure:"debug"`
}

// Load loads configuration from file and environment variables. Search
// order for the config file when configPath is empty: ./.morph.yaml, then
// ~/.morph/.morph.yaml, then ~/.morph.yaml.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("cache_dir", filepath.Join(homeDir(), ".morph", "cache"))
	v.SetDefault("git_cache_dir", filepath.Join(homeDir(), ".morph", "gits"))
	v.SetDefault("jobs", runtime.NumCPU())
	v.SetDefault("keep_path", false)
	v.SetDefault("prefix", "/usr")
	v.SetDefault("tool_prefix", "/tools")
	v.SetDefault("arch", runtime.GOARCH)
	v.SetDefault("cflags", "-O2")
	v.SetDefault("controller_addr", "127.0.0.1:7770")
	v.SetDefault("worker_listen", "127.0.0.1:7771")
	v.SetDefault("signing_enabled", false)
	v.SetDefault("sbom_enabled", false)
	v.SetDefault("debug", false)

	v.SetEnvPrefix("MORPH")
	v.AutomaticEnv()

	v.BindEnv("cache_dir", "MORPH_CACHE_DIR")
	v.BindEnv("remote_cache", "MORPH_REMOTE_CACHE")
	v.BindEnv("debug", "MORPH_DEBUG")
	v.BindEnv("jobs", "MORPH_JOBS")
	v.BindEnv("signing_enabled", "MORPH_SIGNING_ENABLED")
	v.BindEnv("sbom_enabled", "MORPH_SBOM_ENABLED")
	v.BindEnv("key_path", "MORPH_KEY_PATH")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(".morph")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(homeDir(), ".morph"))
		v.AddConfigPath(homeDir())
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp"
	}
	return home
}
