// Package config manages application configuration loading and validation.
package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coachpo/feedgate/internal/domain/schema"
	"github.com/coachpo/feedgate/internal/feed/wire"
)

const defaultReconnectJitter = 0.5

// LoggingConfig mirrors logger.Options.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	OTLPEndpoint   string        `yaml:"otlpEndpoint"`
	ServiceName    string        `yaml:"serviceName"`
	OTLPInsecure   bool          `yaml:"otlpInsecure"`
	EnableMetrics  bool          `yaml:"enableMetrics"`
	MetricInterval time.Duration `yaml:"metricInterval"`
}

// TransportConfig sizes the websocket connection each session owns.
type TransportConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	Protocol     string        `yaml:"protocol"`
	PingInterval time.Duration `yaml:"pingInterval"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	LoginTimeout time.Duration `yaml:"loginTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	QueueSize    int           `yaml:"queueSize"`
	SendRate     float64       `yaml:"sendRate"`
	SendBurst    int           `yaml:"sendBurst"`
}

// ReconnectConfig shapes the exponential reconnect policy.
type ReconnectConfig struct {
	InitialInterval time.Duration `yaml:"initialInterval"`
	MaxInterval     time.Duration `yaml:"maxInterval"`
	Multiplier      float64       `yaml:"multiplier"`
	// Randomization is the jitter factor; nil selects the default and 0
	// disables jitter.
	Randomization   *float64      `yaml:"randomization"`
}

// Jitter returns the configured randomization factor.
func (r ReconnectConfig) Jitter() float64 {
	if r.Randomization == nil {
		return defaultReconnectJitter
	}
	return *r.Randomization
}

// SessionConfig controls subscription batching and recovery.
type SessionConfig struct {
	MaxBatchSize int `yaml:"maxBatchSize"`
	// PendingTimeout of zero leaves pending subscriptions waiting until the next reconnect.
	PendingTimeout time.Duration   `yaml:"pendingTimeout"`
	Reconnect      ReconnectConfig `yaml:"reconnect"`
}

// EventbusConfig sets in-memory event bus sizing characteristics.
type EventbusConfig struct {
	BufferSize    int `yaml:"bufferSize"`
	FanoutWorkers int `yaml:"fanoutWorkers"`
}

// APIServerConfig configures the control HTTP surface. An empty Addr disables it.
type APIServerConfig struct {
	Addr string `yaml:"addr"`
}

// SubscriptionConfig is one topic to subscribe after an account opens.
type SubscriptionConfig struct {
	Topic string            `yaml:"topic"`
	Scope map[string]string `yaml:"scope"`
}

// AccountConfig describes one trading account.
type AccountConfig struct {
	ID            string               `yaml:"id"`
	Name          string               `yaml:"name"`
	Enabled       *bool                `yaml:"enabled"`
	CredentialRef string               `yaml:"credentialRef"`
	Endpoint      string               `yaml:"endpoint"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
}

// IsEnabled treats an omitted flag as enabled.
func (a AccountConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// Account converts the entry into the domain account.
func (a AccountConfig) Account() schema.Account {
	return schema.Account{
		ID:            a.ID,
		Name:          a.Name,
		CredentialRef: a.CredentialRef,
		Enabled:       a.IsEnabled(),
		Endpoint:      a.Endpoint,
	}
}

// AppConfig is the unified feedgate configuration sourced from YAML.
type AppConfig struct {
	Environment Environment     `yaml:"environment"`
	Logging     LoggingConfig   `yaml:"logging"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Transport   TransportConfig `yaml:"transport"`
	Session     SessionConfig   `yaml:"session"`
	Eventbus    EventbusConfig  `yaml:"eventbus"`
	APIServer   APIServerConfig `yaml:"apiServer"`
	Accounts    []AccountConfig `yaml:"accounts"`
}

// DomainAccounts returns the configured accounts in file order.
func (c AppConfig) DomainAccounts() []schema.Account {
	out := make([]schema.Account, 0, len(c.Accounts))
	for _, a := range c.Accounts {
		out = append(out, a.Account())
	}
	return out
}

// Load reads, overrides from the environment, normalises and validates an
// AppConfig from the provided YAML file.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	_ = ctx

	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(bytes)
}

// Parse decodes YAML bytes and runs the same pipeline as Load.
func Parse(raw []byte) (AppConfig, error) {
	var cfg AppConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.applyEnvOverrides(os.LookupEnv); err != nil {
		return AppConfig{}, err
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c *AppConfig) normalise() {
	c.Environment = normalizeEnvironment(string(c.Environment))

	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	c.Logging.Output = strings.TrimSpace(c.Logging.Output)
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	if c.Telemetry.OTLPEndpoint == "" {
		c.Telemetry.OTLPEndpoint = "localhost:4318"
	}
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "feedgate"
	}
	if c.Telemetry.MetricInterval <= 0 {
		c.Telemetry.MetricInterval = 30 * time.Second
	}

	c.APIServer.Addr = strings.TrimSpace(c.APIServer.Addr)
	c.Transport.Endpoint = strings.TrimSpace(c.Transport.Endpoint)
	c.Transport.Protocol = strings.ToLower(strings.TrimSpace(c.Transport.Protocol))
	if c.Transport.Protocol == "" {
		c.Transport.Protocol = string(wire.ProtocolV3)
	}

	if c.Session.MaxBatchSize <= 0 {
		c.Session.MaxBatchSize = wire.DefaultMaxBatchSize
	}
	r := &c.Session.Reconnect
	if r.InitialInterval <= 0 {
		r.InitialInterval = time.Second
	}
	if r.MaxInterval <= 0 {
		r.MaxInterval = 30 * time.Second
	}
	if r.Multiplier <= 0 {
		r.Multiplier = 2
	}
	if r.Randomization == nil {
		jitter := defaultReconnectJitter
		r.Randomization = &jitter
	}

	if c.Eventbus.BufferSize <= 0 {
		c.Eventbus.BufferSize = 256
	}
	if c.Eventbus.FanoutWorkers <= 0 {
		c.Eventbus.FanoutWorkers = 4
	}

	for i := range c.Accounts {
		a := &c.Accounts[i]
		a.ID = strings.TrimSpace(a.ID)
		a.Name = strings.TrimSpace(a.Name)
		if a.Name == "" {
			a.Name = a.ID
		}
		a.Endpoint = strings.TrimSpace(a.Endpoint)
		for j := range a.Subscriptions {
			a.Subscriptions[j].Topic = strings.ToLower(strings.TrimSpace(a.Subscriptions[j].Topic))
		}
	}
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}

	if _, err := wire.ParseProtocol(c.Transport.Protocol); err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	if c.Transport.QueueSize < 0 {
		return fmt.Errorf("transport queueSize must be >=0")
	}
	if c.Transport.SendRate < 0 {
		return fmt.Errorf("transport sendRate must be >=0")
	}

	if c.Session.PendingTimeout < 0 {
		return fmt.Errorf("session pendingTimeout must be >=0")
	}
	r := c.Session.Reconnect
	if r.MaxInterval < r.InitialInterval {
		return fmt.Errorf("session reconnect maxInterval must be >= initialInterval")
	}
	if r.Multiplier < 1 {
		return fmt.Errorf("session reconnect multiplier must be >= 1")
	}
	if jitter := r.Jitter(); jitter < 0 || jitter >= 1 {
		return fmt.Errorf("session reconnect randomization must be in [0,1)")
	}

	seen := make(map[string]struct{}, len(c.Accounts))
	for i, a := range c.Accounts {
		if a.ID == "" {
			return fmt.Errorf("accounts[%d]: id required", i)
		}
		if _, dup := seen[a.ID]; dup {
			return fmt.Errorf("accounts[%d]: duplicate account id %q", i, a.ID)
		}
		seen[a.ID] = struct{}{}
		if a.IsEnabled() && a.Endpoint == "" && c.Transport.Endpoint == "" {
			return fmt.Errorf("accounts[%d]: endpoint required when transport endpoint is unset", i)
		}
		for j, sub := range a.Subscriptions {
			if _, err := schema.ParseTopic(sub.Topic); err != nil {
				return fmt.Errorf("accounts[%d].subscriptions[%d]: %w", i, j, err)
			}
			if err := schema.Scope(sub.Scope).Validate(); err != nil {
				return fmt.Errorf("accounts[%d].subscriptions[%d]: %w", i, j, err)
			}
		}
	}
	return nil
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := filepath.Clean(strings.TrimSpace(path))

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
