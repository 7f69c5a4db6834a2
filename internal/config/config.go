package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuongbtq/certledger/internal/ledger"
	"github.com/cuongbtq/certledger/internal/retry"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Worker   WorkerConfig   `yaml:"worker"`
	Retry    RetryConfig    `yaml:"retry"`
	Ledger   LedgerConfig   `yaml:"ledger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host                 string        `yaml:"host"`
	Port                 int           `yaml:"port"`
	User                 string        `yaml:"user"`
	Password             string        `yaml:"password"`
	Database             string        `yaml:"database"`
	SSLMode              string        `yaml:"sslmode"`
	MaxOpenConns         int           `yaml:"max_open_conns"`
	MaxIdleConns         int           `yaml:"max_idle_conns"`
	ConnMaxLifetime      time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime      time.Duration `yaml:"conn_max_idle_time"`
	AutoMigrate          bool          `yaml:"auto_migrate"`
	ConnectRetries       int           `yaml:"connect_retries"`
	ConnectRetryInterval time.Duration `yaml:"connect_retry_interval"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	WorkerID           string        `yaml:"worker_id"`
	Concurrency        int           `yaml:"concurrency"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	StaleJobThreshold  time.Duration `yaml:"stale_job_threshold"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	ClockSkewTolerance time.Duration `yaml:"clock_skew_tolerance"`
	MetricsPort        int           `yaml:"metrics_port"`
}

// RetryConfig holds the backoff policy for transient submission failures
type RetryConfig struct {
	MaxAttempts             int           `yaml:"max_attempts"`
	BaseDelay               time.Duration `yaml:"base_delay"`
	Multiplier              float64       `yaml:"multiplier"`
	MaxDelay                time.Duration `yaml:"max_delay"`
	Jitter                  time.Duration `yaml:"jitter"`
	ConnectivityMaxAttempts int           `yaml:"connectivity_max_attempts"`
}

// LedgerConfig holds the ledger network and the organizations jobs submit as
type LedgerConfig struct {
	Channel             string               `yaml:"channel"`
	Chaincode           string               `yaml:"chaincode"`
	AsLocalhost         bool                 `yaml:"as_localhost"`
	EvaluateTimeout     time.Duration        `yaml:"evaluate_timeout"`
	EndorseTimeout      time.Duration        `yaml:"endorse_timeout"`
	SubmitTimeout       time.Duration        `yaml:"submit_timeout"`
	CommitStatusTimeout time.Duration        `yaml:"commit_status_timeout"`
	Organizations       []OrganizationConfig `yaml:"organizations"`
}

// OrganizationConfig holds one organization identity
type OrganizationConfig struct {
	ID                  string  `yaml:"id"`
	MSPID               string  `yaml:"msp_id"`
	CertPath            string  `yaml:"cert_path"`
	KeyPath             string  `yaml:"key_path"`
	ConnectionProfile   string  `yaml:"connection_profile"`
	SubmitRatePerSecond float64 `yaml:"submit_rate_per_second"`
	SubmitBurst         int     `yaml:"submit_burst"`
}

// Load reads and parses the configuration file. ${VAR} references are
// expanded from the environment before parsing.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()

	return &config, nil
}

// ApplyDefaults fills optional settings left empty in the file
func (c *Config) ApplyDefaults() {
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.ConnectRetryInterval <= 0 {
		c.Database.ConnectRetryInterval = 2 * time.Second
	}

	if c.RabbitMQ.Exchange.Type == "" {
		c.RabbitMQ.Exchange.Type = "direct"
	}
	if c.RabbitMQ.VHost == "" {
		c.RabbitMQ.VHost = "/"
	}

	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.Worker.WorkerID == "" {
		if host, err := os.Hostname(); err == nil {
			c.Worker.WorkerID = host
		}
	}
	if c.Worker.PollInterval <= 0 {
		c.Worker.PollInterval = time.Second
	}
	if c.Worker.HeartbeatInterval <= 0 {
		c.Worker.HeartbeatInterval = 10 * time.Second
	}
	if c.Worker.ShutdownTimeout <= 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}

	defaults := retry.DefaultPolicy()
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = defaults.MaxAttempts
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = defaults.BaseDelay
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = defaults.Multiplier
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = defaults.MaxDelay
	}
	if c.Retry.ConnectivityMaxAttempts == 0 {
		c.Retry.ConnectivityMaxAttempts = defaults.ConnectivityMaxAttempts
	}

	if c.Ledger.EvaluateTimeout <= 0 {
		c.Ledger.EvaluateTimeout = 5 * time.Second
	}
	if c.Ledger.EndorseTimeout <= 0 {
		c.Ledger.EndorseTimeout = 15 * time.Second
	}
	if c.Ledger.SubmitTimeout <= 0 {
		c.Ledger.SubmitTimeout = 5 * time.Second
	}
	if c.Ledger.CommitStatusTimeout <= 0 {
		c.Ledger.CommitStatusTimeout = time.Minute
	}
}

// Validate checks the sections shared by both services
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.Database.ConnectRetries < 0 {
		return fmt.Errorf("database connect_retries must not be negative")
	}

	if !c.RabbitMQ.Enabled {
		return nil
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}

// ValidateAPIConfig checks the configuration of the API service
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}
	if err := c.Validate(); err != nil {
		return err
	}
	return c.validateLedger()
}

// ValidateWorkerConfig checks the configuration of the worker service
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Worker.WorkerID == "" {
		return fmt.Errorf("worker worker_id is required")
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.HeartbeatInterval <= 0 {
		return fmt.Errorf("worker heartbeat_interval must be greater than 0")
	}

	if c.Worker.StaleJobThreshold <= c.Worker.HeartbeatInterval {
		return fmt.Errorf("worker stale_job_threshold must be greater than heartbeat_interval")
	}

	if c.Worker.ClockSkewTolerance < 0 {
		return fmt.Errorf("worker clock_skew_tolerance must not be negative")
	}

	if c.Worker.MetricsPort != 0 && (c.Worker.MetricsPort < MinPort || c.Worker.MetricsPort > MaxPort) {
		return fmt.Errorf("invalid worker metrics port: %d (must be between %d and %d)", c.Worker.MetricsPort, MinPort, MaxPort)
	}

	if err := c.validateRetry(); err != nil {
		return err
	}

	if err := c.validateLedger(); err != nil {
		return err
	}

	// A job whose submission is still running must never look stale.
	if bound := c.Ledger.SubmitBound(); c.Worker.StaleJobThreshold <= bound {
		return fmt.Errorf("worker stale_job_threshold (%s) must exceed the ledger submit bound (%s)", c.Worker.StaleJobThreshold, bound)
	}

	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be at least 1")
	}
	if c.Retry.ConnectivityMaxAttempts < 1 {
		return fmt.Errorf("retry connectivity_max_attempts must be at least 1")
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 || c.Retry.Jitter < 0 {
		return fmt.Errorf("retry delays must not be negative")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry multiplier must be at least 1")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry max_delay must not be less than base_delay")
	}
	return nil
}

func (c *Config) validateLedger() error {
	if c.Ledger.Channel == "" {
		return fmt.Errorf("ledger channel is required")
	}
	if c.Ledger.Chaincode == "" {
		return fmt.Errorf("ledger chaincode is required")
	}
	if len(c.Ledger.Organizations) == 0 {
		return fmt.Errorf("at least one ledger organization is required")
	}

	seen := make(map[string]bool, len(c.Ledger.Organizations))
	var errs []error
	for i, org := range c.Ledger.Organizations {
		switch {
		case org.ID == "":
			errs = append(errs, fmt.Errorf("ledger organization %d: id is required", i))
		case seen[org.ID]:
			errs = append(errs, fmt.Errorf("ledger organization %s: duplicate id", org.ID))
		case org.MSPID == "":
			errs = append(errs, fmt.Errorf("ledger organization %s: msp_id is required", org.ID))
		case org.CertPath == "" || org.KeyPath == "" || org.ConnectionProfile == "":
			errs = append(errs, fmt.Errorf("ledger organization %s: cert_path, key_path and connection_profile are required", org.ID))
		case org.SubmitRatePerSecond < 0 || org.SubmitBurst < 0:
			errs = append(errs, fmt.Errorf("ledger organization %s: submit rate must not be negative", org.ID))
		}
		seen[org.ID] = true
	}
	return errors.Join(errs...)
}

// SubmitBound is the longest a single submission can take: endorsement,
// ordering and waiting for the commit status
func (l LedgerConfig) SubmitBound() time.Duration {
	return l.EndorseTimeout + l.SubmitTimeout + l.CommitStatusTimeout
}

// RetryPolicy converts the retry section to a retry.Policy
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:             c.Retry.MaxAttempts,
		BaseDelay:               c.Retry.BaseDelay,
		Multiplier:              c.Retry.Multiplier,
		MaxDelay:                c.Retry.MaxDelay,
		Jitter:                  c.Retry.Jitter,
		ConnectivityMaxAttempts: c.Retry.ConnectivityMaxAttempts,
	}
}

// OrganizationSpecs converts the organization list for the ledger registry
func (c *Config) OrganizationSpecs() []ledger.OrganizationSpec {
	specs := make([]ledger.OrganizationSpec, 0, len(c.Ledger.Organizations))
	for _, org := range c.Ledger.Organizations {
		specs = append(specs, ledger.OrganizationSpec{
			OrgID:               org.ID,
			MSPID:               org.MSPID,
			CertPath:            org.CertPath,
			KeyPath:             org.KeyPath,
			ProfilePath:         org.ConnectionProfile,
			SubmitRatePerSecond: org.SubmitRatePerSecond,
			SubmitBurst:         org.SubmitBurst,
		})
	}
	return specs
}

// FabricOptions converts the ledger section for the Fabric gateway
func (c *Config) FabricOptions() ledger.FabricOptions {
	return ledger.FabricOptions{
		Channel:             c.Ledger.Channel,
		Chaincode:           c.Ledger.Chaincode,
		AsLocalhost:         c.Ledger.AsLocalhost,
		EvaluateTimeout:     c.Ledger.EvaluateTimeout,
		EndorseTimeout:      c.Ledger.EndorseTimeout,
		SubmitTimeout:       c.Ledger.SubmitTimeout,
		CommitStatusTimeout: c.Ledger.CommitStatusTimeout,
	}
}
