package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the full process configuration: the task node itself, the
// bus it talks through, and the ambient admin/observability surface.
type Config struct {
	Node     NodeConfig
	Bus      BusConfig
	Server   ServerConfig
	Metrics  MetricsConfig
	Auth     AuthConfig
	LogLevel string
}

// NodeConfig mirrors the constructor options enumerated in the external
// interfaces section: every one of them is a named field here.
type NodeConfig struct {
	Pool                   string
	TaskLimit              int  // 0 with TaskLimitUnlimited=true means unlimited
	TaskLimitUnlimited     bool
	IdentPrefix            string
	MultiprocessingContext string // "spawn" or "fork"
	KillOnStop             bool
	TaskRetentionPeriod    time.Duration
	HousekeepingInterval   time.Duration
	StartMaxWait           time.Duration
	QueryWait              time.Duration
	WatcherMaxWait         time.Duration
	StopNodeTaskWait       time.Duration
	ResultMaxWait          time.Duration
	TmpPath                string
	ResultTransport        string // "files", "events", or "memory"
}

// BusConfig carries the Redis connection used by bus.RedisBus, grounded
// on the teacher's RedisConfig.
type BusConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// ServerConfig is the admin/observability HTTP+WS surface.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	APIKeys   []string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/tasknode")

	setDefaults()

	viper.SetEnvPrefix("TASKNODE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	// Node defaults
	viper.SetDefault("node.pool", "")
	viper.SetDefault("node.tasklimit", 0)
	viper.SetDefault("node.tasklimitunlimited", true)
	viper.SetDefault("node.identprefix", "tasknode-")
	viper.SetDefault("node.multiprocessingcontext", "spawn")
	viper.SetDefault("node.killonstop", false)
	viper.SetDefault("node.taskretentionperiod", 1*time.Hour)
	viper.SetDefault("node.housekeepinginterval", 30*time.Second)
	viper.SetDefault("node.startmaxwait", 5*time.Second)
	viper.SetDefault("node.querywait", 2*time.Second)
	viper.SetDefault("node.watchermaxwait", 1*time.Second)
	viper.SetDefault("node.stopnodetaskwait", 10*time.Second)
	viper.SetDefault("node.resultmaxwait", 5*time.Second)
	viper.SetDefault("node.tmppath", "/tmp/tasknode")
	viper.SetDefault("node.resulttransport", "files")

	// Bus (Redis) defaults
	viper.SetDefault("bus.addr", "localhost:6379")
	viper.SetDefault("bus.password", "")
	viper.SetDefault("bus.db", 0)
	viper.SetDefault("bus.poolsize", 100)
	viper.SetDefault("bus.minidleconns", 10)
	viper.SetDefault("bus.maxretries", 3)
	viper.SetDefault("bus.dialtimeout", 5*time.Second)
	viper.SetDefault("bus.readtimeout", 3*time.Second)
	viper.SetDefault("bus.writetimeout", 3*time.Second)

	// Admin server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8090)
	viper.SetDefault("server.readtimeout", 30*time.Second)
	viper.SetDefault("server.writetimeout", 30*time.Second)
	viper.SetDefault("server.idletimeout", 120*time.Second)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	// Auth defaults
	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.jwtsecret", "")
	viper.SetDefault("auth.apikeys", []string{})

	// Logging defaults
	viper.SetDefault("loglevel", "info")
}
