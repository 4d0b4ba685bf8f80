package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Runner   RunnerConfig   `mapstructure:"runner"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Lock     LockConfig     `mapstructure:"lock"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Triage   TriageConfig   `mapstructure:"triage"`
	Outbox   OutboxConfig   `mapstructure:"outbox"`
	Mirror   MirrorConfig   `mapstructure:"mirror"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite or postgres
	Path            string        `mapstructure:"path"`   // sqlite file path
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN builds the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
	}
	return c.Path
}

type RunnerConfig struct {
	Accounts            []string      `mapstructure:"accounts"`
	JobTypes            []string      `mapstructure:"job_types"`
	IncludeLegacyQueue  bool          `mapstructure:"include_legacy_queue"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	MaxJobsPerSession   int           `mapstructure:"max_jobs_per_session"`
	MaxSessionMinutes   int           `mapstructure:"max_session_minutes"`
	HardJobCeiling      int           `mapstructure:"hard_job_ceiling"`
	MaintenanceCadence  int           `mapstructure:"maintenance_cadence"`
	BackoffBase         time.Duration `mapstructure:"backoff_base"`
	BackoffJitter       time.Duration `mapstructure:"backoff_jitter"`
	StaleJobThreshold   time.Duration `mapstructure:"stale_job_threshold"`
	ThrottleDelay       time.Duration `mapstructure:"throttle_delay"`
	DefaultMaxAttempts  int           `mapstructure:"default_max_attempts"`
}

type QueueConfig struct {
	DefaultPriority  int `mapstructure:"default_priority"`
	RecycledPriority int `mapstructure:"recycled_priority"`
}

type LockConfig struct {
	Key               string        `mapstructure:"key"`
	TTL               time.Duration `mapstructure:"ttl"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

type RiskConfig struct {
	PendingInviteRatioMax   float64       `mapstructure:"pending_invite_ratio_max"`
	ErrorRate24hMax         float64       `mapstructure:"error_rate_24h_max"`
	ActionFailureRateMax    float64       `mapstructure:"action_failure_rate_max"`
	DailyInviteHardCap      int           `mapstructure:"daily_invite_hard_cap"`
	ThrottleScore           float64       `mapstructure:"throttle_score"`
	PauseScore              float64       `mapstructure:"pause_score"`
	QuarantineScore         float64       `mapstructure:"quarantine_score"`
	ConsecutiveFailureLimit int           `mapstructure:"consecutive_failure_limit"`
	CircuitPauseDuration    time.Duration `mapstructure:"circuit_pause_duration"`
	QuarantineDuration      time.Duration `mapstructure:"quarantine_duration"`
	PolicyPauseDuration     time.Duration `mapstructure:"policy_pause_duration"`
	ScorePauseDuration      time.Duration `mapstructure:"score_pause_duration"`
}

type TriageConfig struct {
	BatchSize       int           `mapstructure:"batch_size"`
	RecycleDelay    time.Duration `mapstructure:"recycle_delay"`
	RecycleJitter   time.Duration `mapstructure:"recycle_jitter"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
}

type OutboxConfig struct {
	SinkURL        string        `mapstructure:"sink_url"`
	SinkToken      string        `mapstructure:"sink_token"`
	BatchSize      int           `mapstructure:"batch_size"`
	MaxRetries     int           `mapstructure:"max_retries"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	AlertBacklog   int           `mapstructure:"alert_backlog"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type WorkerConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type MirrorConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"` // s3, r2, s3compatible
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Prefix    string `mapstructure:"prefix"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	// Set config file path
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/leadpilot.db")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("runner.poll_interval", 2*time.Second)
	v.SetDefault("runner.job_types", []string{"send_invite", "send_message", "check_accepted", "withdraw_invite"})
	v.SetDefault("runner.include_legacy_queue", true)
	v.SetDefault("runner.max_jobs_per_session", 25)
	v.SetDefault("runner.max_session_minutes", 40)
	v.SetDefault("runner.hard_job_ceiling", 120)
	v.SetDefault("runner.maintenance_cadence", 10)
	v.SetDefault("runner.backoff_base", 30*time.Second)
	v.SetDefault("runner.backoff_jitter", 15*time.Second)
	v.SetDefault("runner.stale_job_threshold", 15*time.Minute)
	v.SetDefault("runner.throttle_delay", 45*time.Second)
	v.SetDefault("runner.default_max_attempts", 3)
	v.SetDefault("queue.default_priority", 100)
	v.SetDefault("queue.recycled_priority", 200)
	v.SetDefault("lock.key", "leadpilot:runner")
	v.SetDefault("lock.ttl", 90*time.Second)
	v.SetDefault("lock.heartbeat_interval", 30*time.Second)
	v.SetDefault("risk.pending_invite_ratio_max", 0.7)
	v.SetDefault("risk.error_rate_24h_max", 0.3)
	v.SetDefault("risk.action_failure_rate_max", 0.4)
	v.SetDefault("risk.daily_invite_hard_cap", 80)
	v.SetDefault("risk.throttle_score", 0.4)
	v.SetDefault("risk.pause_score", 0.65)
	v.SetDefault("risk.quarantine_score", 0.85)
	v.SetDefault("risk.consecutive_failure_limit", 5)
	v.SetDefault("risk.circuit_pause_duration", 2*time.Hour)
	v.SetDefault("risk.quarantine_duration", 24*time.Hour)
	v.SetDefault("risk.policy_pause_duration", 12*time.Hour)
	v.SetDefault("risk.score_pause_duration", 4*time.Hour)
	v.SetDefault("triage.batch_size", 50)
	v.SetDefault("triage.recycle_delay", 6*time.Hour)
	v.SetDefault("triage.recycle_jitter", 2*time.Hour)
	v.SetDefault("triage.sweep_interval", time.Hour)
	v.SetDefault("outbox.batch_size", 50)
	v.SetDefault("outbox.max_retries", 8)
	v.SetDefault("outbox.backoff_base", 10*time.Second)
	v.SetDefault("outbox.poll_interval", 5*time.Second)
	v.SetDefault("outbox.alert_backlog", 500)
	v.SetDefault("outbox.request_timeout", 10*time.Second)
	v.SetDefault("worker.base_url", "http://localhost:9100")
	v.SetDefault("worker.request_timeout", 120*time.Second)
	v.SetDefault("mirror.enabled", false)
	v.SetDefault("mirror.type", "s3compatible")
	v.SetDefault("mirror.use_ssl", false)
	v.SetDefault("mirror.bucket", "leadpilot")

	// Read config file (optional - can work with env vars only)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("outbox.sink_url", "OUTBOX_SINK_URL")
	v.BindEnv("outbox.sink_token", "OUTBOX_SINK_TOKEN")
	v.BindEnv("worker.token", "WORKER_TOKEN")
	v.BindEnv("mirror.endpoint", "MIRROR_ENDPOINT")
	v.BindEnv("mirror.access_key", "MIRROR_ACCESS_KEY")
	v.BindEnv("mirror.secret_key", "MIRROR_SECRET_KEY")
	v.BindEnv("mirror.use_ssl", "MIRROR_USE_SSL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
