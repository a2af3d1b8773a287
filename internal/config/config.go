package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" validate:"required"`
	Executor    ExecutorConfig    `mapstructure:"executor" validate:"required"`
	Storage     StorageConfig     `mapstructure:"storage" validate:"required"`
	Transcriber TranscriberConfig `mapstructure:"transcriber" validate:"required"`
	Downloader  DownloaderConfig  `mapstructure:"downloader" validate:"required"`
}

// ServerConfig contains the status API and logging settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// Worker modes
const (
	WorkerModeInProcess  = "inprocess"
	WorkerModeSubprocess = "subprocess"
)

// ExecutorConfig contains the settings shared by every executor.
type ExecutorConfig struct {
	QueueSize     int           `mapstructure:"queue_size" validate:"gt=0"`
	PollInterval  time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	ResultTimeout time.Duration `mapstructure:"result_timeout" validate:"gt=0"`
	WorkerMode    string        `mapstructure:"worker_mode" validate:"oneof=inprocess subprocess"`
}

// Storage drivers
const (
	DriverMemory = "memory"
	DriverS3     = "s3"
)

// S3MinPartSize is the smallest multipart part S3 accepts, so the smallest
// chunk_size usable with s3 accounts
const S3MinPartSize int64 = 5 << 20

// StorageConfig contains the balancer settings and the storage accounts.
type StorageConfig struct {
	SweepInterval  time.Duration   `mapstructure:"sweep_interval" validate:"gt=0"`
	Retention      time.Duration   `mapstructure:"retention" validate:"gt=0"`
	ChunkThreshold int64           `mapstructure:"chunk_threshold" validate:"gt=0"`
	ChunkSize      int64           `mapstructure:"chunk_size" validate:"gt=0,ltefield=ChunkThreshold"`
	RefreshMargin  time.Duration   `mapstructure:"refresh_margin" validate:"gte=0"`
	Accounts       []AccountConfig `mapstructure:"accounts" validate:"required,min=1,unique=Name,dive"`
}

// AccountConfig describes one storage account.
type AccountConfig struct {
	Name       string        `mapstructure:"name" validate:"required"`
	Driver     string        `mapstructure:"driver" validate:"required,oneof=memory s3"`
	Bucket     string        `mapstructure:"bucket" validate:"required_if=Driver s3"`
	Region     string        `mapstructure:"region"`
	Endpoint   string        `mapstructure:"endpoint" validate:"omitempty,url"`
	Prefix     string        `mapstructure:"prefix"`
	AccessKey  string        `mapstructure:"access_key"`
	SecretKey  string        `mapstructure:"secret_key" validate:"required_with=AccessKey"`
	QuotaBytes int64         `mapstructure:"quota_bytes" validate:"gt=0"`
	PublicURL  string        `mapstructure:"public_url" validate:"omitempty,url"`
	LinkTTL    time.Duration `mapstructure:"link_ttl" validate:"gte=0"`
}

// Transcription engines
const (
	EngineGemini = "gemini"
	EngineNone   = "none"
)

// TranscriberConfig contains the speech-to-text settings.
type TranscriberConfig struct {
	Engine            string `mapstructure:"engine" validate:"oneof=gemini none"`
	GeminiAPIKey      string `mapstructure:"gemini_api_key" validate:"required_if=Engine gemini"`
	ModelName         string `mapstructure:"model_name"`
	Concurrency       int    `mapstructure:"concurrency" validate:"gte=1"`
	MaxRetries        int    `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RetryDelaySeconds int    `mapstructure:"retry_delay_seconds" validate:"gte=1,lte=60"`
}

// DownloaderConfig contains the media download settings.
type DownloaderConfig struct {
	SaveDir            string `mapstructure:"save_dir" validate:"required"`
	TransferLimitBytes int64  `mapstructure:"transfer_limit_bytes" validate:"gt=0"`
	Binary             string `mapstructure:"binary" validate:"required"`
	Concurrency        int    `mapstructure:"concurrency" validate:"gte=1"`
	CookiesPath        string `mapstructure:"cookies_path"`
	ProxyURL           string `mapstructure:"proxy_url" validate:"omitempty,url"`
}
