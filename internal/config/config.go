package config

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	"pkgkeeper/internal/env"

	"github.com/spf13/viper"
)

/**
 * Local status server configuration
 * @property {string} address - Server listening address (e.g. "127.0.0.1:8877")
 * @property {string} mode - gin mode (debug/release/test)
 * @property {string} socket - Optional unix socket path served next to address
 */
type ServerConfig struct {
	Address string `mapstructure:"address"`
	Mode    string `mapstructure:"mode"`
	Socket  string `mapstructure:"socket"`
}

/**
 * Logging configuration
 * @property {string} level - Log level (debug/info/warn/error)
 * @property {string} path - Log file path, "console" writes to stderr
 * @property {int} max_size - Rotate the log file after this many megabytes
 */
type LogConfig struct {
	Level   string `mapstructure:"level"`
	Path    string `mapstructure:"path"`
	MaxSize int    `mapstructure:"max_size"`
}

/**
 * Filesystem layout
 * @property {string} work_dir - Working copy root holding package files and the upgrades/ directory
 * @property {string} data_dir - Directory holding the package store
 * @property {string} keys_dir - Directory holding account private keys
 * @property {string} templates_dir - Optional directory with scaffold templates
 */
type PathsConfig struct {
	WorkDir      string `mapstructure:"work_dir"`
	DataDir      string `mapstructure:"data_dir"`
	KeysDir      string `mapstructure:"keys_dir"`
	TemplatesDir string `mapstructure:"templates_dir"`
}

/**
 * Repository transport settings
 * @property {time.Duration} timeout - Bound for every request, including the challenge exchange
 * @property {bool} insecure_skip_verify - Accept self-signed repository certificates
 * @property {string} default_repo - Repository alias used when a command does not name one
 * @property {int} retries - Whole-command retries after a transport failure
 */
type RemoteConfig struct {
	Timeout            time.Duration `mapstructure:"timeout"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	DefaultRepo        string        `mapstructure:"default_repo"`
	Retries            int           `mapstructure:"retries"`
}

type AppConfig struct {
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	Paths  PathsConfig  `mapstructure:"paths"`
	Remote RemoteConfig `mapstructure:"remote"`
}

/**
 * Load application configuration from YAML file
 * @param {string} file - Explicit config file, empty to search "." and the data directory
 * @returns {(*AppConfig, error)} Loaded configuration with defaults applied
 * @description
 * - A missing config file is not an error, defaults are used instead
 * - Environment variables prefixed with PKGKEEPER_ override file values
 */
func LoadConfig(file string) (*AppConfig, error) {
	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(env.KeeperDir)
	}
	v.SetEnvPrefix("PKGKEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || file != "" {
			return nil, err
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return collectConfig(&cfg), nil
}

var appConfig *AppConfig

func collectConfig(cfg *AppConfig) *AppConfig {
	if cfg.Server.Address == "" {
		cfg.Server.Address = "127.0.0.1:8877"
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Path == "" {
		cfg.Log.Path = "console"
	}
	if cfg.Log.MaxSize <= 0 {
		cfg.Log.MaxSize = 10
	}
	if cfg.Paths.WorkDir == "" {
		cfg.Paths.WorkDir = "."
	}
	if cfg.Paths.DataDir == "" {
		cfg.Paths.DataDir = env.KeeperDir
	}
	if cfg.Paths.KeysDir == "" {
		cfg.Paths.KeysDir = filepath.Join(cfg.Paths.DataDir, "keys")
	}
	if cfg.Remote.Timeout <= 0 {
		cfg.Remote.Timeout = 30 * time.Second
	}
	if cfg.Remote.DefaultRepo == "" {
		cfg.Remote.DefaultRepo = "main"
	}
	return cfg
}

// Default returns a configuration holding only default values.
func Default() *AppConfig {
	return collectConfig(&AppConfig{})
}

// SetApp installs the configuration loaded by the root command.
func SetApp(cfg *AppConfig) {
	appConfig = cfg
}

// App returns the configuration installed with SetApp, or the defaults.
func App() *AppConfig {
	if appConfig == nil {
		return Default()
	}
	return appConfig
}

// StorePath is the bbolt file holding packages, repos, accounts and the migration ledger.
func (c *AppConfig) StorePath() string {
	return filepath.Join(c.Paths.DataDir, "pkgkeeper.db")
}
