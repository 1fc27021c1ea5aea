package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DaemonPort        int           `mapstructure:"daemon_port"`
	BufferSize        int           `mapstructure:"buffer_size"`
	IgnoreList        []string      `mapstructure:"ignore_list"`
	DBPath            string        `mapstructure:"db_path"`
	LogPath           string        `mapstructure:"log_path"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	Workers           int           `mapstructure:"workers"`
	MaxRetries        int           `mapstructure:"max_retries"`
	MaxRestarts       int           `mapstructure:"max_restarts"`
	BigFileThreshold  int64         `mapstructure:"big_file_threshold"`
	UploadChunkSize   int64         `mapstructure:"upload_chunk_size"`
	FreeSpaceFloor    int64         `mapstructure:"free_space_floor"`
	BlacklistAfter    int           `mapstructure:"blacklist_after"`
	BlacklistPasses   int           `mapstructure:"blacklist_passes"`
	TimeoutPrecision  time.Duration `mapstructure:"timeout_precision"`
	TimeoutThreshold  int           `mapstructure:"timeout_threshold"`
}

var Default = Config{
	DaemonPort:       9410,
	BufferSize:       256,
	IgnoreList:       []string{".git", ".DS_Store", "*.tmp", "*.swp", "**/.ebbsync.tmp"},
	DBPath:           "ebbsync.db",
	PollInterval:     30 * time.Second,
	Workers:          4,
	MaxRetries:       3,
	MaxRestarts:      10,
	BigFileThreshold: 100 << 20, // 100 MiB
	UploadChunkSize:  10 << 20,  // 10 MiB
	FreeSpaceFloor:   500 << 20, // 500 MiB
	BlacklistAfter:   3,
	BlacklistPasses:  5,
	TimeoutPrecision: time.Second,
	TimeoutThreshold: 5,
}

func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home dir: %w", err)
	}

	dir := filepath.Join(home, ".ebbsync")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config dir: %w", err)
	}

	return dir, nil
}

func Load() (*Config, error) {
	configDir, err := Dir()
	if err != nil {
		return nil, err
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)

	viper.SetDefault("daemon_port", Default.DaemonPort)
	viper.SetDefault("buffer_size", Default.BufferSize)
	viper.SetDefault("ignore_list", Default.IgnoreList)
	viper.SetDefault("db_path", Default.DBPath)
	viper.SetDefault("log_path", Default.LogPath)
	viper.SetDefault("poll_interval", Default.PollInterval)
	viper.SetDefault("workers", Default.Workers)
	viper.SetDefault("max_retries", Default.MaxRetries)
	viper.SetDefault("max_restarts", Default.MaxRestarts)
	viper.SetDefault("big_file_threshold", Default.BigFileThreshold)
	viper.SetDefault("upload_chunk_size", Default.UploadChunkSize)
	viper.SetDefault("free_space_floor", Default.FreeSpaceFloor)
	viper.SetDefault("blacklist_after", Default.BlacklistAfter)
	viper.SetDefault("blacklist_passes", Default.BlacklistPasses)
	viper.SetDefault("timeout_precision", Default.TimeoutPrecision)
	viper.SetDefault("timeout_threshold", Default.TimeoutThreshold)

	viper.SetEnvPrefix("EBBSYNC")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := asType[viper.ConfigFileNotFoundError](err); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if !filepath.IsAbs(cfg.DBPath) {
		cfg.DBPath = filepath.Join(configDir, cfg.DBPath)
	}

	return &cfg, nil
}

// asType is a stand-in for errors.AsType (not yet available in this Go toolchain).
func asType[T error](err error) (T, bool) {
	var target T
	ok := errors.As(err, &target)
	return target, ok
}
