package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Booking  BookingConfig  `yaml:"booking"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Worker   WorkerConfig   `yaml:"worker"`
	Log      LogConfig      `yaml:"log"`
}

type HTTPConfig struct {
	Address     string `yaml:"address"`
	SwaggerDir  string `yaml:"swagger_dir"`
	MetricsPath string `yaml:"metrics_path"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers            []string `yaml:"brokers"`
	FinalizeTopic      string   `yaml:"finalize_topic"`
	NotificationsTopic string   `yaml:"notifications_topic"`
	GroupID            string   `yaml:"group_id"`
}

// Enabled is false when no brokers are configured; the app then finalizes in-process.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type BookingConfig struct {
	FinalizeDelaySeconds int `yaml:"finalize_delay_seconds"`
	FlightsCacheTTL      int `yaml:"flights_cache_ttl_seconds"`
	FinalizeLockSeconds  int `yaml:"finalize_lock_seconds"`
}

func (b BookingConfig) FinalizeDelay() time.Duration {
	return time.Duration(b.FinalizeDelaySeconds) * time.Second
}

func (b BookingConfig) FlightsCacheTTLDuration() time.Duration {
	return time.Duration(b.FlightsCacheTTL) * time.Second
}

func (b BookingConfig) FinalizeLockTTL() time.Duration {
	return time.Duration(b.FinalizeLockSeconds) * time.Second
}

type LedgerConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

func (l LedgerConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

type WorkerConfig struct {
	SweepSchedule     string `yaml:"sweep_schedule"`
	SweepBatchSize    int    `yaml:"sweep_batch_size"`
	MaxRefundAttempts int    `yaml:"max_refund_attempts"`
	MetricsAddress    string `yaml:"metrics_address"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	Service string `yaml:"service"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.HTTP.MetricsPath == "" {
		c.HTTP.MetricsPath = "/metrics"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Kafka.FinalizeTopic == "" {
		c.Kafka.FinalizeTopic = "booking_finalize"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "flightbooking-worker"
	}
	if c.Booking.FinalizeDelaySeconds == 0 {
		c.Booking.FinalizeDelaySeconds = 5
	}
	if c.Booking.FlightsCacheTTL == 0 {
		c.Booking.FlightsCacheTTL = 30
	}
	if c.Booking.FinalizeLockSeconds == 0 {
		c.Booking.FinalizeLockSeconds = 60
	}
	if c.Ledger.TimeoutSeconds == 0 {
		c.Ledger.TimeoutSeconds = 5
	}
	if c.Worker.SweepSchedule == "" {
		c.Worker.SweepSchedule = "@every 1m"
	}
	if c.Worker.SweepBatchSize == 0 {
		c.Worker.SweepBatchSize = 100
	}
	if c.Worker.MaxRefundAttempts == 0 {
		c.Worker.MaxRefundAttempts = 10
	}
	if c.Worker.MetricsAddress == "" {
		c.Worker.MetricsAddress = ":9091"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// Validate reports every problem at once rather than stopping at the first.
func (c *Config) Validate() error {
	var problems []string

	if c.Database.Host == "" {
		problems = append(problems, "database.host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		problems = append(problems, fmt.Sprintf("database.port must be between 1 and 65535, got: %d", c.Database.Port))
	}
	if c.Database.Name == "" {
		problems = append(problems, "database.name is required")
	}
	if c.Ledger.BaseURL == "" {
		problems = append(problems, "ledger.base_url is required")
	}
	if c.Booking.FinalizeDelaySeconds < 0 {
		problems = append(problems, "booking.finalize_delay_seconds must not be negative")
	}
	if c.Worker.SweepBatchSize < 0 {
		problems = append(problems, "worker.sweep_batch_size must not be negative")
	}
	if c.Worker.MaxRefundAttempts < 0 {
		problems = append(problems, "worker.max_refund_attempts must not be negative")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		problems = append(problems, fmt.Sprintf("log.format must be json or console, got: %s", c.Log.Format))
	}

	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}
