package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/amoylab/pushgate/pkg/helper"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type (
	// BrokerConfig is the root configuration of a pushgate process. It is built
	// once at startup and handed to every component constructor.
	BrokerConfig struct {
		Host            string            `yaml:"host"`
		Port            int               `yaml:"port"`
		ActivityTimeout time.Duration     `yaml:"activity_timeout"` // how long a client may stay silent before it must ping
		PongTimeout     time.Duration     `yaml:"pong_timeout"`     // grace after activity_timeout before the socket is dropped
		ShutdownTimeout time.Duration     `yaml:"shutdown_timeout"`
		Logger          LoggerConfig      `yaml:"logger"`
		Metrics         MetricsConfig     `yaml:"metrics"`
		Tracing         TracingConfig     `yaml:"tracing"`
		Redis           RedisConfig       `yaml:"redis"`
		RateLimiter     RateLimiterConfig `yaml:"rate_limiter"`
		Bridge          BridgeConfig      `yaml:"bridge"`
		Channels        ChannelsConfig    `yaml:"channels"`
		AppManager      AppManagerConfig  `yaml:"app_manager"`
	}

	// LoggerConfig represents the logger configuration
	LoggerConfig struct {
		Level      string `yaml:"level"`       // debug, info, warn, error
		Format     string `yaml:"format"`      // json, console
		Output     string `yaml:"output"`      // stdout, file
		FilePath   string `yaml:"file_path"`   // path to log file when output is file
		MaxSize    int    `yaml:"max_size"`    // max size of log file in MB
		MaxBackups int    `yaml:"max_backups"` // max number of backup files
		MaxAge     int    `yaml:"max_age"`     // max age of backup files in days
		Compress   bool   `yaml:"compress"`
		Color      bool   `yaml:"color"` // console format only
		Stacktrace bool   `yaml:"stacktrace"`
		TimeZone   string `yaml:"time_zone"`
		TimeFormat string `yaml:"time_format"`
	}

	// MetricsConfig controls the prometheus endpoint
	MetricsConfig struct {
		Enabled   bool      `yaml:"enabled"`
		Path      string    `yaml:"path"`
		Namespace string    `yaml:"namespace"`
		Buckets   []float64 `yaml:"buckets"`
	}

	// TracingConfig controls OpenTelemetry export
	TracingConfig struct {
		Enabled     bool              `yaml:"enabled"`
		ServiceName string            `yaml:"service_name"`
		Endpoint    string            `yaml:"endpoint"` // localhost:4317 or http://localhost:4318
		Protocol    string            `yaml:"protocol"` // grpc or http
		Insecure    bool              `yaml:"insecure"`
		SamplerRate float64           `yaml:"sampler_rate"` // 0.0~1.0
		Environment string            `yaml:"environment"`
		Headers     map[string]string `yaml:"headers"`
	}

	// RedisConfig is shared by the redis rate limiter and the redis bridge
	RedisConfig struct {
		ClusterType string `yaml:"cluster_type"` // single, sentinel, cluster
		Addr        string `yaml:"addr"`         // comma or semicolon separated for sentinel/cluster
		MasterName  string `yaml:"master_name"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		DB          int    `yaml:"db"`
	}

	RateLimiterConfig struct {
		Driver string `yaml:"driver"` // memory or redis
		Prefix string `yaml:"prefix"` // redis key prefix
	}

	BridgeConfig struct {
		Driver           string        `yaml:"driver"`  // local or redis
		Channel          string        `yaml:"channel"` // pub/sub channel carrying replicated broadcasts
		ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`
		ReconnectTimeout time.Duration `yaml:"reconnect_timeout"` // give up and fail the process after this long
	}

	ChannelsConfig struct {
		MaxCachedMessages int `yaml:"max_cached_messages"`
	}

	AppManagerConfig struct {
		Driver   string         `yaml:"driver"` // array or database
		CacheTTL time.Duration  `yaml:"cache_ttl"`
		Apps     []AppConfig    `yaml:"apps"`
		Database DatabaseConfig `yaml:"database"`
	}

	// AppConfig describes one tenant. Absent limits mean unlimited.
	AppConfig struct {
		ID                         string `yaml:"id"`
		Key                        string `yaml:"key"`
		Secret                     string `yaml:"secret"`
		MaxConnections             *int   `yaml:"max_connections"`
		EnableClientMessages       bool   `yaml:"enable_client_messages"`
		MaxBackendEventsPerSecond  *int   `yaml:"max_backend_events_per_second"`
		MaxFrontendEventsPerSecond *int   `yaml:"max_frontend_events_per_second"`
		MaxReadRequestsPerSecond   *int   `yaml:"max_read_requests_per_second"`
	}

	DatabaseConfig struct {
		Type     string `yaml:"type"` // mysql, postgres, sqlite
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		DBName   string `yaml:"dbname"` // file path for sqlite
		SSLMode  string `yaml:"sslmode"`
	}
)

const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverLocal    = "local"
	DriverArray    = "array"
	DriverDatabase = "database"
)

// LoadConfig loads the broker configuration from a YAML file with
// environment variable support, then applies defaults and validates it.
func LoadConfig(filename string) (*BrokerConfig, string, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfgPath := helper.GetCfgPath(filename)
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, cfgPath, err
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("parse %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// Parse decodes raw YAML, resolving ${VAR:default} placeholders first.
func Parse(data []byte) (*BrokerConfig, error) {
	var cfg BrokerConfig
	if err := yaml.Unmarshal(resolveEnv(data), &cfg); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills every zero value that has a sensible default.
func (c *BrokerConfig) SetDefaults() {
	if c.Port == 0 {
		c.Port = 6001
	}
	if c.ActivityTimeout <= 0 {
		c.ActivityTimeout = 30 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "pushgate"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "pushgate"
	}
	if c.Redis.ClusterType == "" {
		c.Redis.ClusterType = "single"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if c.RateLimiter.Driver == "" {
		c.RateLimiter.Driver = DriverMemory
	}
	if c.RateLimiter.Prefix == "" {
		c.RateLimiter.Prefix = "pushgate:rate_limiter"
	}
	if c.Bridge.Driver == "" {
		c.Bridge.Driver = DriverLocal
	}
	if c.Bridge.Channel == "" {
		c.Bridge.Channel = "pushgate:broadcast"
	}
	if c.Bridge.ReconnectBackoff <= 0 {
		c.Bridge.ReconnectBackoff = time.Second
	}
	if c.Bridge.ReconnectTimeout <= 0 {
		c.Bridge.ReconnectTimeout = time.Minute
	}
	if c.Channels.MaxCachedMessages <= 0 {
		c.Channels.MaxCachedMessages = 100
	}
	if c.AppManager.Driver == "" {
		c.AppManager.Driver = DriverArray
	}
	if c.AppManager.CacheTTL <= 0 {
		c.AppManager.CacheTTL = time.Minute
	}
}

// resolveEnv replaces environment variable placeholders in YAML content
func resolveEnv(content []byte) []byte {
	regex := regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

	return regex.ReplaceAllFunc(content, func(match []byte) []byte {
		matches := regex.FindSubmatch(match)
		envKey := string(matches[1])
		var defaultValue string

		if len(matches) > 2 {
			defaultValue = string(matches[2])
		}

		if value, exists := os.LookupEnv(envKey); exists {
			return []byte(value)
		}
		return []byte(defaultValue)
	})
}
