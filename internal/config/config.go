package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the main struct that holds all configuration for the application.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Outbox    OutboxConfig    `mapstructure:"outbox"`
	Notifiers NotifiersConfig `mapstructure:"notifiers"`
}

// LoggerConfig holds logging-specific settings.
type LoggerConfig struct {
	Level string `mapstructure:"level"`
}

// HTTPConfig holds HTTP server-specific settings.
type HTTPConfig struct {
	Port    string `mapstructure:"port"`
	GinMode string `mapstructure:"gin_mode"`
}

// PostgresConfig holds all settings for the PostgreSQL database connection.
type PostgresConfig struct {
	DSN  string     `mapstructure:"dsn"`
	Pool PoolConfig `mapstructure:"pool"`
}

// PoolConfig defines the connection pool settings for the database.
type PoolConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig holds all settings for the Redis connection.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// OutboxConfig holds the dispatcher's tunables.
type OutboxConfig struct {
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	BatchSize       int           `mapstructure:"batch_size"`
	StaleLease      time.Duration `mapstructure:"stale_lease"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay   time.Duration `mapstructure:"retry_max_delay"`
	ChannelTimeout  time.Duration `mapstructure:"channel_timeout"`
	WorkerPoolSize  int           `mapstructure:"worker_pool_size"`
	LeaderElection  bool          `mapstructure:"leader_election"`
	LeaderLockTTL   time.Duration `mapstructure:"leader_lock_ttl"`
}

// NotifiersConfig holds configurations for all notification channels.
type NotifiersConfig struct {
	// Mode "production" wires the real sender of every channel whose own
	// config is set. Any other value (the default is "log_only") replaces
	// all channels by the log sender.
	Mode     string         `mapstructure:"mode"`
	Email    EmailConfig    `mapstructure:"email"`
	SMS      SMSConfig      `mapstructure:"sms"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// EmailConfig holds SMTP settings for the email channel.
type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// SMSConfig holds settings for an SMS.ru-style HTTP gateway.
type SMSConfig struct {
	APIURL string `mapstructure:"api_url"`
	APIID  string `mapstructure:"api_id"`
	From   string `mapstructure:"from"`
}

// TelegramConfig holds settings for the Telegram channel.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
}

// NewConfig parses the YAML file and environment variables to return a configuration struct.
func NewConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigFile("configs/config.yaml")

	v.SetDefault("logger.level", "info")
	v.SetDefault("http.port", ":8080")
	v.SetDefault("http.gin_mode", "release")
	v.SetDefault("notifiers.mode", "log_only")

	v.SetDefault("outbox.tick_interval", 10*time.Second)
	v.SetDefault("outbox.batch_size", 50)
	v.SetDefault("outbox.stale_lease", 60*time.Second)
	v.SetDefault("outbox.max_retries", 3)
	v.SetDefault("outbox.retry_base_delay", 10*time.Second)
	v.SetDefault("outbox.retry_max_delay", 5*time.Minute)
	v.SetDefault("outbox.channel_timeout", 10*time.Second)
	v.SetDefault("outbox.worker_pool_size", 16)
	v.SetDefault("outbox.leader_election", false)
	v.SetDefault("outbox.leader_lock_ttl", 15*time.Second)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
