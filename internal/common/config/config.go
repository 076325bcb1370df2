// Package config provides configuration management for the server pool.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the pool manager.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds persistent store configuration.
// Driver selects the store backend: sqlite, postgres or memory.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"` // sqlite file path
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
}

// NATSConfig holds NATS messaging configuration.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// PoolConfig holds the workload pool configuration.
type PoolConfig struct {
	// Host is the address advertised to the gateway when registering routes.
	Host string `mapstructure:"host"`

	// BasePort and MaxPort bound the inclusive port range workloads are
	// allocated from.
	BasePort int `mapstructure:"basePort"`
	MaxPort  int `mapstructure:"maxPort"`

	// TemplateDir is the pristine workspace template copied for every new
	// workload. WorkloadsDir is where per-workload workspaces live.
	TemplateDir  string `mapstructure:"templateDir"`
	WorkloadsDir string `mapstructure:"workloadsDir"`

	// RuntimeJar is the server runtime jar copied into workspaces whose
	// template does not already carry one. JavaBin is the java executable.
	RuntimeJar string `mapstructure:"runtimeJar"`
	JavaBin    string `mapstructure:"javaBin"`

	// MemoryMB sizes the workload JVM heap (-Xmx; -Xms is half).
	MemoryMB int `mapstructure:"memoryMB"`

	StartupWaitSeconds     int `mapstructure:"startupWaitSeconds"`
	StopGraceSeconds       int `mapstructure:"stopGraceSeconds"`
	InactivityMinutes      int `mapstructure:"inactivityMinutes"`
	MonitorIntervalSeconds int `mapstructure:"monitorIntervalSeconds"`

	// AllowedExtensions is the allow-list of installable extension names.
	// ExtensionsDir holds the extension jars available for installation.
	AllowedExtensions []string `mapstructure:"allowedExtensions"`
	ExtensionsDir     string   `mapstructure:"extensionsDir"`

	// DebugConsole mirrors workload console output into the pool log.
	DebugConsole bool `mapstructure:"debugConsole"`

	// BackupOnDelete moves workspaces to BackupDir instead of deleting
	// them outright.
	BackupOnDelete bool   `mapstructure:"backupOnDelete"`
	BackupDir      string `mapstructure:"backupDir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// StartupWait returns the startup wait as a time.Duration.
func (p *PoolConfig) StartupWait() time.Duration {
	return time.Duration(p.StartupWaitSeconds) * time.Second
}

// StopGrace returns the stop grace period as a time.Duration.
func (p *PoolConfig) StopGrace() time.Duration {
	return time.Duration(p.StopGraceSeconds) * time.Second
}

// InactivityThreshold returns the inactivity threshold as a time.Duration.
func (p *PoolConfig) InactivityThreshold() time.Duration {
	return time.Duration(p.InactivityMinutes) * time.Minute
}

// MonitorInterval returns the monitor scan interval as a time.Duration.
func (p *PoolConfig) MonitorInterval() time.Duration {
	return time.Duration(p.MonitorIntervalSeconds) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("SERVERPOOL_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults - sqlite file in the working directory
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "serverpool.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "serverpool")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "serverpool")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)

	// NATS defaults - empty URL means use in-memory event bus and gateway
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "serverpool")
	v.SetDefault("nats.maxReconnects", 10)

	// Pool defaults
	v.SetDefault("pool.host", "127.0.0.1")
	v.SetDefault("pool.basePort", 25566)
	v.SetDefault("pool.maxPort", 26000)
	v.SetDefault("pool.templateDir", "template")
	v.SetDefault("pool.workloadsDir", "workloads")
	v.SetDefault("pool.runtimeJar", "paper.jar")
	v.SetDefault("pool.javaBin", "java")
	v.SetDefault("pool.memoryMB", 1024)
	v.SetDefault("pool.startupWaitSeconds", 10)
	v.SetDefault("pool.stopGraceSeconds", 30)
	v.SetDefault("pool.inactivityMinutes", 5)
	v.SetDefault("pool.monitorIntervalSeconds", 60)
	v.SetDefault("pool.allowedExtensions", []string{})
	v.SetDefault("pool.extensionsDir", "extensions")
	v.SetDefault("pool.debugConsole", false)
	v.SetDefault("pool.backupOnDelete", false)
	v.SetDefault("pool.backupDir", "backups")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix SERVERPOOL_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory
// or /etc/serverpool/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("SERVERPOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys).
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion.
	_ = v.BindEnv("pool.basePort", "SERVERPOOL_POOL_BASE_PORT")
	_ = v.BindEnv("pool.maxPort", "SERVERPOOL_POOL_MAX_PORT")
	_ = v.BindEnv("pool.templateDir", "SERVERPOOL_POOL_TEMPLATE_DIR")
	_ = v.BindEnv("pool.workloadsDir", "SERVERPOOL_POOL_WORKLOADS_DIR")
	_ = v.BindEnv("pool.runtimeJar", "SERVERPOOL_POOL_RUNTIME_JAR")
	_ = v.BindEnv("pool.javaBin", "SERVERPOOL_POOL_JAVA_BIN")
	_ = v.BindEnv("pool.memoryMB", "SERVERPOOL_POOL_MEMORY_MB")
	_ = v.BindEnv("database.dbName", "SERVERPOOL_DATABASE_DB_NAME")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/serverpool/")

	// Read config file (ignore if not found)
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

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	// Server validation - always required
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	// Database validation per driver
	switch strings.ToLower(cfg.Database.Driver) {
	case "sqlite":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Database.Host == "" {
			errs = append(errs, "database.host is required for the postgres driver")
		}
		if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
			errs = append(errs, "database.port must be between 1 and 65535")
		}
		if cfg.Database.User == "" {
			errs = append(errs, "database.user is required for the postgres driver")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required for the postgres driver")
		}
	case "memory":
		// Nothing to validate - state is lost on restart
	default:
		errs = append(errs, "database.driver must be one of: sqlite, postgres, memory")
	}

	// Pool validation
	if cfg.Pool.BasePort <= 0 || cfg.Pool.BasePort > 65535 {
		errs = append(errs, "pool.basePort must be between 1 and 65535")
	}
	if cfg.Pool.MaxPort < cfg.Pool.BasePort || cfg.Pool.MaxPort > 65535 {
		errs = append(errs, "pool.maxPort must be between pool.basePort and 65535")
	}
	if cfg.Pool.MemoryMB <= 0 {
		errs = append(errs, "pool.memoryMB must be positive")
	}
	if cfg.Pool.StopGraceSeconds <= 0 {
		errs = append(errs, "pool.stopGraceSeconds must be positive")
	}
	if cfg.Pool.InactivityMinutes <= 0 {
		errs = append(errs, "pool.inactivityMinutes must be positive")
	}
	if cfg.Pool.MonitorIntervalSeconds <= 0 {
		errs = append(errs, "pool.monitorIntervalSeconds must be positive")
	}
	if cfg.Pool.BackupOnDelete && cfg.Pool.BackupDir == "" {
		errs = append(errs, "pool.backupDir is required when pool.backupOnDelete is set")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}
