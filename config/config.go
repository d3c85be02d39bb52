// Package config loads the astrate configuration from a YAML file with
// ASTRATE_* environment variable overrides.
package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/astrate-platform/astrate/broker"
	"github.com/astrate-platform/astrate/core"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ASTRATE_"

// Defaults applied to zero values after the file and environment are read.
const (
	DefaultBrokerType = "rabbitmq"
	DefaultExchange   = "astrate.events"
	DefaultQueue      = "astrate.triggers"
	DefaultRoutingKey = "triggers"
	DefaultPrefetch   = 10
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "text"
)

// Config is the full process configuration.
type Config struct {
	Broker            BrokerConfig  `yaml:"broker" envPrefix:"BROKER_"`
	Headers           HeaderConfig  `yaml:"headers" envPrefix:"HEADER_"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval" env:"RECONNECT_INTERVAL"`
	MalformedPolicy   string        `yaml:"malformed_policy" env:"MALFORMED_POLICY"`
	Worker            WorkerConfig  `yaml:"worker" envPrefix:"WORKER_"`
	Log               LogConfig     `yaml:"log" envPrefix:"LOG_"`
	Metrics           MetricsConfig `yaml:"metrics" envPrefix:"METRICS_"`
}

// BrokerConfig selects the broker plugin and the link topology.
type BrokerConfig struct {
	Type        string         `yaml:"type" env:"TYPE"`
	URL         string         `yaml:"url" env:"URL"`
	Exchange    string         `yaml:"exchange" env:"EXCHANGE"`
	Queue       string         `yaml:"queue" env:"QUEUE"`
	RoutingKey  string         `yaml:"routing_key" env:"ROUTING_KEY"`
	Prefetch    int            `yaml:"prefetch" env:"PREFETCH"`
	ConsumerTag string         `yaml:"consumer_tag" env:"CONSUMER_TAG"`
	ClientName  string         `yaml:"client_name" env:"CLIENT_NAME"`
	Heartbeat   time.Duration  `yaml:"heartbeat" env:"HEARTBEAT"`
	Extra       map[string]any `yaml:"extra"`
}

// HeaderConfig names the delivery headers carrying the routing key.
type HeaderConfig struct {
	Realm  string `yaml:"realm" env:"REALM"`
	Policy string `yaml:"policy" env:"POLICY"`
}

// WorkerConfig tunes the default worker launcher.
type WorkerConfig struct {
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	// RequeueOnError is nil when unset, which means true.
	RequeueOnError *bool `yaml:"requeue_on_error" env:"REQUEUE_ON_ERROR"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

// Load reads path (if non-empty), applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Broker.Type == "" {
		c.Broker.Type = DefaultBrokerType
	}
	if c.Broker.Exchange == "" && c.Broker.Type == "rabbitmq" {
		c.Broker.Exchange = DefaultExchange
	}
	if c.Broker.Queue == "" {
		c.Broker.Queue = DefaultQueue
	}
	if c.Broker.RoutingKey == "" {
		c.Broker.RoutingKey = DefaultRoutingKey
	}
	if c.Broker.Prefetch == 0 {
		c.Broker.Prefetch = DefaultPrefetch
	}
	defaults := core.DefaultHeaderNames()
	if c.Headers.Realm == "" {
		c.Headers.Realm = defaults.Realm
	}
	if c.Headers.Policy == "" {
		c.Headers.Policy = defaults.Policy
	}
	if c.ReconnectInterval == 0 {
		c.ReconnectInterval = core.DefaultReconnectInterval
	}
	if c.MalformedPolicy == "" {
		c.MalformedPolicy = string(core.MalformedAck)
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Broker.URL == "" {
		errs = append(errs, errors.New("broker.url is required"))
	}
	if c.Broker.Queue == "" {
		errs = append(errs, errors.New("broker.queue is required"))
	}
	if c.Broker.Prefetch < 1 {
		errs = append(errs, fmt.Errorf("broker.prefetch must be positive, got %d", c.Broker.Prefetch))
	}
	if c.Headers.Realm == c.Headers.Policy {
		errs = append(errs, fmt.Errorf("headers.realm and headers.policy must differ, both are %q", c.Headers.Realm))
	}
	if c.ReconnectInterval < 0 {
		errs = append(errs, fmt.Errorf("reconnect_interval must not be negative, got %s", c.ReconnectInterval))
	}
	if _, err := core.ParseMalformedPolicy(c.MalformedPolicy); err != nil {
		errs = append(errs, err)
	}
	if c.Worker.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("worker.idle_timeout must not be negative, got %s", c.Worker.IdleTimeout))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LinkConfig returns the broker topology for one connect attempt.
func (c *Config) LinkConfig() core.LinkConfig {
	return core.LinkConfig{
		URL:         c.Broker.URL,
		Exchange:    c.Broker.Exchange,
		Queue:       c.Broker.Queue,
		RoutingKey:  c.Broker.RoutingKey,
		Prefetch:    c.Broker.Prefetch,
		ConsumerTag: c.Broker.ConsumerTag,
	}
}

// BrokerConfig returns the plugin settings passed to broker.Create.
func (c *Config) BrokerConfig() broker.Config {
	return broker.Config{
		ClientName: c.Broker.ClientName,
		Heartbeat:  c.Broker.Heartbeat,
		Extra:      c.Broker.Extra,
	}
}

// HeaderNames returns the configured routing key headers.
func (c *Config) HeaderNames() core.HeaderNames {
	return core.HeaderNames{Realm: c.Headers.Realm, Policy: c.Headers.Policy}
}

// Policy returns the parsed malformed delivery policy.
func (c *Config) Policy() core.MalformedPolicy {
	p, _ := core.ParseMalformedPolicy(c.MalformedPolicy)
	return p
}

// RequeueOnError reports whether failed events are requeued.
func (c *Config) RequeueOnError() bool {
	return c.Worker.RequeueOnError == nil || *c.Worker.RequeueOnError
}

// Source re-reads the configuration file and environment on every call.
// It implements core.ConfigSource, so a changed broker URL or queue is
// picked up on the next reconnect.
type Source struct {
	Path string
}

func (s Source) LinkConfig(ctx context.Context) (core.LinkConfig, error) {
	if err := ctx.Err(); err != nil {
		return core.LinkConfig{}, err
	}
	cfg, err := Load(s.Path)
	if err != nil {
		return core.LinkConfig{}, err
	}
	return cfg.LinkConfig(), nil
}

// String renders the configuration as YAML with the broker password redacted.
func (c *Config) String() string {
	redacted := *c
	if u, err := url.Parse(c.Broker.URL); err == nil && u.User != nil {
		redacted.Broker.URL = u.Redacted()
	}
	out, err := yaml.Marshal(&redacted)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(out)
}
