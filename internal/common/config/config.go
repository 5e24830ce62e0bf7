// Package config provides configuration management for the orchestrator.
// It supports loading configuration from environment variables, a config
// file, and sane defaults.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the orchestrator.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Docker       DockerConfig       `mapstructure:"docker"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
}

// ServerConfig holds HTTP server configuration for the (out-of-core) HTTP surface.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // seconds
}

// DatabaseConfig holds the Agent Repository's backing-store configuration.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite | postgres
	Path     string `mapstructure:"path"`   // sqlite file path
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// NATSConfig holds the optional JetStream message-queue backend configuration.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// DockerConfig configures the opt-in container-backed Executor implementation.
type DockerConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	APIVersion string `mapstructure:"apiVersion"`
	Image      string `mapstructure:"image"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// TracingConfig holds OpenTelemetry tracing configuration.
type TracingConfig struct {
	OTLPEndpoint string `mapstructure:"otlpEndpoint"`
}

// OrchestratorConfig holds the spec-mandated core tunables (spec §6 env vars).
type OrchestratorConfig struct {
	MaxConcurrentAgents  int    `mapstructure:"maxConcurrentAgents"`
	MessageQueueType     string `mapstructure:"messageQueueType"` // memory | nats
	TaskCleanupInterval  int    `mapstructure:"taskCleanupInterval"` // seconds
	InstanceTimeout      int    `mapstructure:"instanceTimeout"`     // seconds
	MaxWorkers           int    `mapstructure:"maxWorkers"`
	PrimaryQueueMaxSize  int    `mapstructure:"primaryQueueMaxSize"`
	MessageMaxRetries    int    `mapstructure:"messageMaxRetries"`
}

func (o *OrchestratorConfig) CleanupInterval() time.Duration {
	return time.Duration(o.TaskCleanupInterval) * time.Second
}

func (o *OrchestratorConfig) InstanceTimeoutDuration() time.Duration {
	return time.Duration(o.InstanceTimeout) * time.Second
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// detectDefaultLogFormat mirrors logging.detectFormat for the config default.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("AGENTORC_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8082)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./agentorc.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "agentorc")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "agentorc")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	v.SetDefault("nats.url", "") // read only when orchestrator.messageQueueType is "nats"
	v.SetDefault("nats.clientId", "agentorc")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("docker.enabled", false)
	v.SetDefault("docker.host", defaultDockerHost())
	v.SetDefault("docker.apiVersion", "1.41")
	v.SetDefault("docker.image", "agentorc/executor-runtime:latest")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("tracing.otlpEndpoint", "")

	v.SetDefault("orchestrator.maxConcurrentAgents", 100)
	v.SetDefault("orchestrator.messageQueueType", "memory")
	v.SetDefault("orchestrator.taskCleanupInterval", 60)
	v.SetDefault("orchestrator.instanceTimeout", 1800)
	v.SetDefault("orchestrator.maxWorkers", 10)
	v.SetDefault("orchestrator.primaryQueueMaxSize", 10000)
	v.SetDefault("orchestrator.messageMaxRetries", 3)
}

// defaultDockerHost returns the platform-appropriate Docker socket path,
// respecting the DOCKER_HOST env var (standard Docker convention).
func defaultDockerHost() string {
	if host := os.Getenv("DOCKER_HOST"); host != "" {
		return host
	}
	if runtime.GOOS == "windows" {
		return "npipe:////./pipe/docker_engine"
	}
	return "unix:///var/run/docker.sock"
}

// Load reads configuration from environment variables, config file, and defaults.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
// Environment variables use the prefix AGENTORC_ with the nested-field path
// joined by underscores (e.g. AGENTORC_ORCHESTRATOR_MAXWORKERS), plus a few
// explicit bindings below for the spec's bare env var names.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("AGENTORC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for the bare env var names spec.md §6 names directly.
	_ = v.BindEnv("orchestrator.maxConcurrentAgents", "MAX_CONCURRENT_AGENTS")
	_ = v.BindEnv("orchestrator.messageQueueType", "MESSAGE_QUEUE_TYPE")
	_ = v.BindEnv("orchestrator.taskCleanupInterval", "TASK_CLEANUP_INTERVAL")
	_ = v.BindEnv("orchestrator.instanceTimeout", "INSTANCE_TIMEOUT")
	_ = v.BindEnv("orchestrator.maxWorkers", "MAX_WORKERS")
	_ = v.BindEnv("logging.level", "AGENTORC_LOG_LEVEL")
	_ = v.BindEnv("tracing.otlpEndpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agentorc/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Database.Driver == "postgres" {
		if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
			errs = append(errs, "database.port must be between 1 and 65535")
		}
		if cfg.Database.User == "" {
			errs = append(errs, "database.user is required for postgres driver")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required for postgres driver")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	validQueueTypes := map[string]bool{"memory": true, "nats": true}
	if !validQueueTypes[strings.ToLower(cfg.Orchestrator.MessageQueueType)] {
		errs = append(errs, "orchestrator.messageQueueType must be one of: memory, nats")
	}
	if cfg.Orchestrator.MaxWorkers <= 0 {
		errs = append(errs, "orchestrator.maxWorkers must be positive")
	}
	if cfg.Orchestrator.InstanceTimeout <= 0 {
		errs = append(errs, "orchestrator.instanceTimeout must be positive")
	}
	if cfg.Orchestrator.TaskCleanupInterval <= 0 {
		errs = append(errs, "orchestrator.taskCleanupInterval must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
