package main

import (
	"fmt"
	"math"
	"os"
	"time"

	"codelab/internal/common/cache"
	"codelab/internal/common/http/middleware"
	"codelab/internal/common/mq"
	"codelab/internal/common/storage"
	"codelab/internal/judge/sandbox/compiler"
	"codelab/internal/judge/sandbox/engine"
	"codelab/internal/judge/sandbox/transform"
	"codelab/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr         = "0.0.0.0:8090"
	defaultReadTimeout      = 5 * time.Second
	defaultWriteTimeout     = 60 * time.Second
	defaultIdleTimeout      = 60 * time.Second
	defaultShutdownTimeout  = 15 * time.Second
	defaultMaxSourceBytes   = 64 * 1024
	defaultMaxStdinBytes    = 1024 * 1024
	defaultMaxTimeLimit     = 10 * time.Second
	defaultTimeLimitSeconds = 2
	defaultQueueTimeout     = 5 * time.Second
	defaultResultTTL        = time.Hour
	defaultResultEntries    = 10000
	defaultStoreTimeout     = 2 * time.Second
	defaultPublishTimeout   = 3 * time.Second
	defaultResultTopic      = "codelab.run.final"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// SandboxConfig holds run limits and scheduling.
type SandboxConfig struct {
	ScratchDir       string        `yaml:"scratchDir"`
	MaxOutputBytes   int64         `yaml:"maxOutputBytes"`
	MaxSourceBytes   int           `yaml:"maxSourceBytes"`
	MaxStdinBytes    int           `yaml:"maxStdinBytes"`
	MaxTimeLimit     time.Duration `yaml:"maxTimeLimit"`
	DefaultTimeLimit float64       `yaml:"defaultTimeLimitSeconds"`
	MaxConcurrent    int           `yaml:"maxConcurrent"`
	QueueTimeout     time.Duration `yaml:"queueTimeout"`
	MaxCompareBytes  int64         `yaml:"maxCompareBytes"`
}

// CompilerConfig holds toolchain settings.
type CompilerConfig struct {
	CommandTemplate    string        `yaml:"commandTemplate"`
	Timeout            time.Duration `yaml:"timeout"`
	MaxDiagnosticBytes int           `yaml:"maxDiagnosticBytes"`
	// Transform names a source rewrite applied before compiling, e.g. "cpp-snippet".
	Transform string `yaml:"transform"`
}

// ResultsConfig holds result persistence and event settings.
type ResultsConfig struct {
	TTL               time.Duration `yaml:"ttl"`
	MaxEntries        int           `yaml:"maxEntries"`
	CompressThreshold int           `yaml:"compressThreshold"`
	StoreTimeout      time.Duration `yaml:"storeTimeout"`
	PublishTimeout    time.Duration `yaml:"publishTimeout"`
	Topic             string        `yaml:"topic"`
}

// AppConfig is the full service configuration.
type AppConfig struct {
	Server    ServerConfig               `yaml:"server"`
	Logger    logger.Config              `yaml:"logger"`
	Sandbox   SandboxConfig              `yaml:"sandbox"`
	Compiler  CompilerConfig             `yaml:"compiler"`
	Results   ResultsConfig              `yaml:"results"`
	Redis     cache.RedisConfig          `yaml:"redis"`
	Kafka     mq.KafkaConfig             `yaml:"kafka"`
	MinIO     storage.MinIOConfig        `yaml:"minio"`
	RateLimit middleware.RateLimitConfig `yaml:"rateLimit"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validateAppConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Format == "" {
		cfg.Logger.Format = "json"
	}
	if cfg.Logger.OutputPath == "" {
		cfg.Logger.OutputPath = "stdout"
	}

	if cfg.Sandbox.MaxOutputBytes == 0 {
		cfg.Sandbox.MaxOutputBytes = engine.DefaultMaxOutputBytes
	}
	if cfg.Sandbox.MaxSourceBytes == 0 {
		cfg.Sandbox.MaxSourceBytes = defaultMaxSourceBytes
	}
	if cfg.Sandbox.MaxStdinBytes == 0 {
		cfg.Sandbox.MaxStdinBytes = defaultMaxStdinBytes
	}
	if cfg.Sandbox.MaxTimeLimit == 0 {
		cfg.Sandbox.MaxTimeLimit = defaultMaxTimeLimit
	}
	if cfg.Sandbox.DefaultTimeLimit == 0 {
		cfg.Sandbox.DefaultTimeLimit = defaultTimeLimitSeconds
	}
	if cfg.Sandbox.MaxConcurrent <= 0 {
		cfg.Sandbox.MaxConcurrent = 4
	}
	if cfg.Sandbox.QueueTimeout == 0 {
		cfg.Sandbox.QueueTimeout = defaultQueueTimeout
	}

	if cfg.Compiler.CommandTemplate == "" {
		cfg.Compiler.CommandTemplate = compiler.DefaultCommandTemplate
	}
	if cfg.Compiler.Timeout == 0 {
		cfg.Compiler.Timeout = compiler.DefaultTimeout
	}

	if cfg.Results.TTL == 0 {
		cfg.Results.TTL = defaultResultTTL
	}
	if cfg.Results.MaxEntries <= 0 {
		cfg.Results.MaxEntries = defaultResultEntries
	}
	if cfg.Results.StoreTimeout == 0 {
		cfg.Results.StoreTimeout = defaultStoreTimeout
	}
	if cfg.Results.PublishTimeout == 0 {
		cfg.Results.PublishTimeout = defaultPublishTimeout
	}
	if cfg.Results.Topic == "" {
		cfg.Results.Topic = cfg.Kafka.Topic
	}
	if cfg.Results.Topic == "" {
		cfg.Results.Topic = defaultResultTopic
	}

	if cfg.Redis.Addr != "" {
		applyRedisDefaults(&cfg.Redis)
	}
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
}

func validateAppConfig(cfg *AppConfig) error {
	if cfg.Sandbox.MaxOutputBytes < 0 {
		return fmt.Errorf("sandbox.maxOutputBytes must not be negative")
	}
	if cfg.Sandbox.DefaultTimeLimit < 0 {
		return fmt.Errorf("sandbox.defaultTimeLimitSeconds must be positive")
	}
	if cfg.Sandbox.DefaultTimeLimit >= float64(math.MaxInt64)/float64(time.Second) {
		return fmt.Errorf("sandbox.defaultTimeLimitSeconds is too large")
	}
	if max := cfg.Sandbox.MaxTimeLimit; max > 0 && time.Duration(cfg.Sandbox.DefaultTimeLimit*float64(time.Second)) > max {
		return fmt.Errorf("sandbox.defaultTimeLimitSeconds exceeds sandbox.maxTimeLimit")
	}
	if _, err := transform.FromName(cfg.Compiler.Transform); err != nil {
		return fmt.Errorf("compiler.transform: %w", err)
	}
	if cfg.MinIO.Enabled() && cfg.MinIO.Bucket == "" {
		return fmt.Errorf("minio.bucket is required when minio is configured")
	}
	if cfg.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rateLimit.requestsPerSecond must not be negative")
	}
	return nil
}
