package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	API         APIConfig         `mapstructure:"api"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Directory   DirectoryConfig   `mapstructure:"directory"`
	Attachments AttachmentsConfig `mapstructure:"attachments"`
	Delivery    DeliveryConfig    `mapstructure:"delivery"`
	MailSink    MailSinkConfig    `mapstructure:"mail_sink"`
	Features    map[string]bool   `mapstructure:"features"`
}

// APIConfig holds REST API server configuration.
type APIConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// Clients are the API keys accepted on the management endpoints. With
	// no clients configured those endpoints are unauthenticated.
	Clients []APIClientConfig `mapstructure:"clients"`
}

// APIClientConfig is one machine client of the API. KeyHash is the bcrypt
// hash of the client's key; SenderID is recorded as the sender of the
// messages it creates.
type APIClientConfig struct {
	Name     string `mapstructure:"name"`
	KeyHash  string `mapstructure:"key_hash"`
	SenderID string `mapstructure:"sender_id"`
}

// Addr returns the listen address.
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	PoolMin        int32         `mapstructure:"pool_min"`
	PoolMax        int32         `mapstructure:"pool_max"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Output    string `mapstructure:"output"`
	FilePath  string `mapstructure:"file_path"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
	MaxFiles  int    `mapstructure:"max_files"`
}

// RedisConfig holds the organisation cache connection.
type RedisConfig struct {
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	OrganisationTTL time.Duration `mapstructure:"organisation_ttl"`
}

// SchedulerConfig selects and configures the task scheduler backend.
type SchedulerConfig struct {
	// Backend is "http" (default) or "sqs".
	Backend string        `mapstructure:"backend"`
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`

	SQSQueueURL   string `mapstructure:"sqs_queue_url"`
	SQSRegion     string `mapstructure:"sqs_region"`
	SQSWaitTime   int32  `mapstructure:"sqs_wait_time"`
	SQSVisTimeout int32  `mapstructure:"sqs_visibility_timeout"`
	SQSMaxBatch   int32  `mapstructure:"sqs_max_batch"`
	RelayWorkers  int    `mapstructure:"relay_workers"`
}

// DirectoryConfig points at the user/organisation directory service.
type DirectoryConfig struct {
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// AttachmentsConfig selects where attachment content is read from.
type AttachmentsConfig struct {
	// Backend is "local" (default) or "s3".
	Backend  string `mapstructure:"backend"`
	LocalDir string `mapstructure:"local_dir"`
	S3Bucket string `mapstructure:"s3_bucket"`
	S3Prefix string `mapstructure:"s3_prefix"`
	S3Region string `mapstructure:"s3_region"`
	// S3Endpoint overrides the S3 endpoint for S3-compatible stores.
	S3Endpoint string `mapstructure:"s3_endpoint"`
}

// DeliveryConfig holds the job webhook base and the default providers.
type DeliveryConfig struct {
	WebhookBaseURL string          `mapstructure:"webhook_base_url"`
	SMSNotice      string          `mapstructure:"sms_notice"`
	JobTimeout     time.Duration   `mapstructure:"job_timeout"`
	DefaultEmail   ProviderDefault `mapstructure:"default_email"`
	DefaultSMS     ProviderDefault `mapstructure:"default_sms"`
}

// ProviderDefault describes the organisation-independent fallback provider
// for one transport type.
type ProviderDefault struct {
	Kind        string `mapstructure:"kind"`
	Name        string `mapstructure:"name"`
	FromAddress string `mapstructure:"from_address"`
	FromName    string `mapstructure:"from_name"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	Endpoint    string `mapstructure:"endpoint"`
	APIKey      string `mapstructure:"api_key"`
	SenderID    string `mapstructure:"sender_id"`
	UseTLS      bool   `mapstructure:"use_tls"`
	StartTLS    bool   `mapstructure:"starttls"`
	Throttle    int    `mapstructure:"throttle"`
}

// MailSinkConfig configures the development SMTP sink that captures email
// instead of delivering it.
type MailSinkConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	AllowedDomains []string      `mapstructure:"allowed_domains"`
	MaxConnections int           `mapstructure:"max_connections"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	Capacity       int           `mapstructure:"capacity"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the listen address.
func (c MailSinkConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load reads configuration from the given config directory path.
// It looks for a file named "config.yaml" in that directory.
// Environment variables with prefix GOVNOTIFY_ override file values.
// For example, GOVNOTIFY_DATABASE_URL overrides database.url.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	v.SetEnvPrefix("GOVNOTIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.read_timeout", 10*time.Second)
	v.SetDefault("api.write_timeout", 30*time.Second)

	v.SetDefault("database.pool_min", 2)
	v.SetDefault("database.pool_max", 10)
	v.SetDefault("database.connect_timeout", 5*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_files", 5)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.organisation_ttl", 5*time.Minute)

	v.SetDefault("scheduler.backend", "http")
	v.SetDefault("scheduler.timeout", 10*time.Second)
	v.SetDefault("scheduler.sqs_wait_time", 20)
	v.SetDefault("scheduler.sqs_visibility_timeout", 60)
	v.SetDefault("scheduler.sqs_max_batch", 10)
	v.SetDefault("scheduler.relay_workers", 4)

	v.SetDefault("directory.timeout", 5*time.Second)

	v.SetDefault("attachments.backend", "local")
	v.SetDefault("attachments.local_dir", "./data/attachments")

	v.SetDefault("mail_sink.host", "127.0.0.1")
	v.SetDefault("mail_sink.port", 1025)
	v.SetDefault("mail_sink.max_connections", 50)
	v.SetDefault("mail_sink.max_message_size", 10*1024*1024)
	v.SetDefault("mail_sink.capacity", 500)
	v.SetDefault("mail_sink.read_timeout", 30*time.Second)
	v.SetDefault("mail_sink.write_timeout", 30*time.Second)

	v.SetDefault("delivery.job_timeout", "5m")
	v.SetDefault("delivery.sms_notice", "You have a new message in your government inbox.")
	v.SetDefault("delivery.default_email.kind", "stdout")
	v.SetDefault("delivery.default_email.name", "default email")
	v.SetDefault("delivery.default_email.throttle", 10)
	v.SetDefault("delivery.default_sms.kind", "stdout")
	v.SetDefault("delivery.default_sms.name", "default sms")
	v.SetDefault("delivery.default_sms.throttle", 10)
}
