package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "OFFLOAD"

// defaults mirrors the Config layout
var defaults = map[string]any{
	"server.port":      8080,
	"server.log_level": "info",

	"executor.queue_size":     500,
	"executor.poll_interval":  100 * time.Millisecond,
	"executor.result_timeout": 30 * time.Minute,
	"executor.worker_mode":    WorkerModeInProcess,

	"storage.sweep_interval":  time.Minute,
	"storage.retention":       5 * time.Minute,
	"storage.chunk_threshold": int64(140 << 20),
	"storage.chunk_size":      int64(16 << 20),
	"storage.refresh_margin":  10 * time.Minute,
	"storage.accounts": []map[string]any{
		{"name": "local", "driver": DriverMemory, "quota_bytes": int64(10 << 30)},
	},

	"transcriber.engine":              EngineNone,
	"transcriber.gemini_api_key":      "",
	"transcriber.model_name":          "",
	"transcriber.concurrency":         4,
	"transcriber.max_retries":         3,
	"transcriber.retry_delay_seconds": 2,

	"downloader.save_dir":             filepath.Join(os.TempDir(), "offload"),
	"downloader.transfer_limit_bytes": int64(50 << 20),
	"downloader.binary":               "yt-dlp",
	"downloader.concurrency":          20,
	"downloader.cookies_path":         "",
	"downloader.proxy_url":            "",
}

// Load configuration from defaults, an optional config file and environment
// variables. Environment variables take precedence over values from config
// files. An empty configPath looks for config.yaml in the working directory
// and in $HOME/.offload; a missing file is not an error unless configPath
// names it explicitly.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".offload"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// OFFLOAD_SERVER_PORT overrides server.port
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against its struct tags and the rules that span
// several fields
func Validate(cfg *Config) error {
	validate := validator.New()
	validate.RegisterStructValidation(validateStorage, StorageConfig{})
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// validateStorage rejects chunk sizes that S3 would refuse as multipart parts.
// Only the last part of an upload may be smaller than S3MinPartSize.
func validateStorage(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(StorageConfig)
	if cfg.ChunkSize >= S3MinPartSize {
		return
	}
	for _, acc := range cfg.Accounts {
		if acc.Driver == DriverS3 {
			sl.ReportError(cfg.ChunkSize, "ChunkSize", "chunk_size", "s3_min_part", acc.Name)
			return
		}
	}
}
