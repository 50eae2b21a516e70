package config

import (
	"time"

	"github.com/spf13/viper"
)

// Concurrency selects the isolation model for worker actors.
type Concurrency string

const (
	ConcurrencyThread  Concurrency = "thread"
	ConcurrencyProcess Concurrency = "process"
)

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Worker    WorkerConfig
	Queue     QueueConfig
	Scheduler SchedulerConfig
	Metrics   MetricsConfig
	Auth      AuthConfig
	LogLevel  string

	// TaskBackend is the backend URL, e.g. "local://" or "redis://".
	TaskBackend string
	// TaskPaths lists registration groups to enable ("*" recurses into all).
	TaskPaths []string
	// SchedulePeriodic enables periodic-job scheduling on this process.
	// Worker actor spawn parameters always force this false.
	SchedulePeriodic bool
	// Backlog is loaded from the "backlog" key (default 5). Nothing reads
	// it: each worker actor runs one task at a time.
	Backlog int
	// Timeout is loaded from the "timeout" key, in seconds (default 600).
	// Nothing reads it: a job whose Timeout() is 0 runs under the worker's
	// fixed 30s default.
	Timeout int
}

type ServerConfig struct {
	Host         string
	Port         int
	AdminPort    int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type RedisConfig struct {
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

type WorkerConfig struct {
	ID                string
	Concurrency       int
	ConcurrencyModel  Concurrency
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	CloseTimeout      time.Duration
	ShutdownTimeout   time.Duration
}

type QueueConfig struct {
	StreamPrefix        string
	ConsumerGroup       string
	MaxQueueSize        int64
	BlockTimeout        time.Duration
	ClaimMinIdle        time.Duration
	RecoveryInterval    time.Duration
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryBackoffFactor  float64
	TaskRetentionDays   int
	RateLimitRPS        int
}

// SchedulerConfig controls the periodic-job tick loop.
type SchedulerConfig struct {
	PollInterval time.Duration
	LockTTL      time.Duration
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
	viper.AddConfigPath("/etc/arbiterq")

	setDefaults()

	viper.SetEnvPrefix("ARBITERQ")
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
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.adminport", 8081)
	viper.SetDefault("server.readtimeout", 30*time.Second)
	viper.SetDefault("server.writetimeout", 30*time.Second)
	viper.SetDefault("server.idletimeout", 120*time.Second)

	// Redis defaults
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.poolsize", 100)
	viper.SetDefault("redis.minidleconns", 10)
	viper.SetDefault("redis.maxretries", 3)
	viper.SetDefault("redis.dialtimeout", 5*time.Second)
	viper.SetDefault("redis.readtimeout", 3*time.Second)
	viper.SetDefault("redis.writetimeout", 3*time.Second)

	// Worker defaults
	viper.SetDefault("worker.id", "")
	viper.SetDefault("worker.concurrency", 10)
	viper.SetDefault("worker.concurrencymodel", "thread")
	viper.SetDefault("worker.heartbeatinterval", 5*time.Second)
	viper.SetDefault("worker.heartbeattimeout", 10*time.Second)
	viper.SetDefault("worker.closetimeout", 3*time.Second)
	viper.SetDefault("worker.shutdowntimeout", 30*time.Second)

	// Queue defaults
	viper.SetDefault("queue.streamprefix", "tasks")
	viper.SetDefault("queue.consumergroup", "workers")
	viper.SetDefault("queue.maxqueuesize", 1000000)
	viper.SetDefault("queue.blocktimeout", 5*time.Second)
	viper.SetDefault("queue.claimminidle", 30*time.Second)
	viper.SetDefault("queue.recoveryinterval", 10*time.Second)
	viper.SetDefault("queue.retrymaxattempts", 3)
	viper.SetDefault("queue.retryinitialbackoff", 100*time.Millisecond)
	viper.SetDefault("queue.retrymaxbackoff", 2*time.Second)
	viper.SetDefault("queue.retrybackofffactor", 2.0)
	viper.SetDefault("queue.taskretentiondays", 7)
	viper.SetDefault("queue.ratelimitrps", 1000)

	// Scheduler defaults
	viper.SetDefault("scheduler.pollinterval", 1*time.Second)
	viper.SetDefault("scheduler.lockttl", 5*time.Second)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	// Auth defaults
	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.jwtsecret", "")
	viper.SetDefault("auth.apikeys", []string{})

	// Logging defaults
	viper.SetDefault("loglevel", "info")

	// Task queue defaults
	viper.SetDefault("taskbackend", "local://")
	viper.SetDefault("taskpaths", []string{"*"})
	viper.SetDefault("scheduleperiodic", false)
	viper.SetDefault("backlog", 5)
	viper.SetDefault("timeout", 600)
}

// ForWorker returns a copy of cfg with schedule_periodic forced off:
// worker actors must not also run the periodic scheduler, or every
// worker would submit duplicate fires for the same job.
func (c *Config) ForWorker() *Config {
	clone := *c
	clone.SchedulePeriodic = false
	return &clone
}
