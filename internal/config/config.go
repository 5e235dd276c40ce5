// Package config defines the application configuration shape loaded by every
// binary (gateway, worker, subscriber, sweeper) and the viper-backed loader
// that populates it from file + environment.
package config

import "time"

// Config represents the full application configuration, shared by every
// binary. Each binary only reads the sections relevant to its role; nothing
// prevents a single config.yaml from covering the whole deployment.
type Config struct {
	Providers     map[string]ProviderConfig `yaml:"providers"`
	HTTP          HTTPConfig                `yaml:"http"`
	Broker        BrokerConfig              `yaml:"broker"`
	Idempotency   IdempotencyConfig         `yaml:"idempotency"`
	Webhook       WebhookConfig             `yaml:"webhook"`
	Worker        WorkerConfig              `yaml:"worker"`
	Review        ReviewConfig              `yaml:"review"`
	Sandbox       SandboxConfig             `yaml:"sandbox"`
	Store         StoreConfig               `yaml:"store"`
	Observability ObservabilityConfig       `yaml:"observability"`
}

// ProviderConfig configures a single LLM provider.
type ProviderConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"apiKey"`

	// HTTP overrides (optional, use global HTTP config if not set)
	Timeout        *string `yaml:"timeout,omitempty"`
	MaxRetries     *int    `yaml:"maxRetries,omitempty"`
	InitialBackoff *string `yaml:"initialBackoff,omitempty"`
	MaxBackoff     *string `yaml:"maxBackoff,omitempty"`
}

// HTTPConfig holds global HTTP client settings shared by LLM and SCM clients.
type HTTPConfig struct {
	Timeout           string  `yaml:"timeout"`
	MaxRetries        int     `yaml:"maxRetries"`
	InitialBackoff    string  `yaml:"initialBackoff"`
	MaxBackoff        string  `yaml:"maxBackoff"`
	BackoffMultiplier float64 `yaml:"backoffMultiplier"`
}

// BrokerConfig configures the Redis Streams connection C1 all components
// dial into.
type BrokerConfig struct {
	Addr            string `yaml:"addr"`
	Password        string `yaml:"password"`
	DB              int    `yaml:"db"`
	ConsumerGroup   string `yaml:"consumerGroup"`
	ConsumerName    string `yaml:"consumerName"`
	BlockTimeout    string `yaml:"blockTimeout"`
	ReadCount       int64  `yaml:"readCount"`
	ClaimMinIdle    string `yaml:"claimMinIdle"`
	CircuitBreaker  bool   `yaml:"circuitBreaker"`
}

// IdempotencyConfig configures C2's Redis-backed claim keeper.
type IdempotencyConfig struct {
	TTL string `yaml:"ttl"`
}

// WebhookConfig configures C3's HTTP ingestion gateway.
type WebhookConfig struct {
	Addr      string `yaml:"addr"`
	APIKey    string `yaml:"apiKey"`
	MaxBodyKB int    `yaml:"maxBodyKB"`
}

// WorkerConfig configures C5's consumer loop.
type WorkerConfig struct {
	Mode           string `yaml:"mode"` // "diff" or "agentic"
	ShutdownGrace  string `yaml:"shutdownGrace"`
}

// ReviewConfig configures C7's streaming review invocation and the
// severity-gated publish decision in C8.
type ReviewConfig struct {
	Provider             string  `yaml:"provider"`
	StreamTimeout        string  `yaml:"streamTimeout"`
	ConfidenceThreshold  float64 `yaml:"confidenceThreshold"`
	MaxContextMatches    int     `yaml:"maxContextMatches"`
	PolicyDocPaths       []string `yaml:"policyDocPaths"`
	PolicyDocMaxBytes    int     `yaml:"policyDocMaxBytes"`
}

// SandboxConfig configures C9's containerized analysis engine.
type SandboxConfig struct {
	DockerHost      string `yaml:"dockerHost"`
	MemoryBytes     int64  `yaml:"memoryBytes"`
	NanoCPUs        int64  `yaml:"nanoCPUs"`
	WallClockLimit  string `yaml:"wallClockLimit"`
	NetworkEnabled  bool   `yaml:"networkEnabled"`
	WorkspaceMount  string `yaml:"workspaceMount"`
}

// StoreConfig configures C11's Postgres-backed review state store.
type StoreConfig struct {
	DSN             string `yaml:"dsn"`
	RetentionWindow string `yaml:"retentionWindow"`
	SweepInterval   string `yaml:"sweepInterval"`
}

// ObservabilityConfig configures logging and metrics.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level         string `yaml:"level"`  // debug, info, error
	Format        string `yaml:"format"` // json, human
	RedactAPIKeys bool   `yaml:"redactAPIKeys"`
}

// MetricsConfig configures performance and cost metrics tracking.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Merge combines multiple configuration instances, prioritising the latter
// ones. Used to layer a base config.yaml under environment-derived overrides.
func Merge(configs ...Config) Config {
	result := Config{}
	for _, cfg := range configs {
		result = merge(result, cfg)
	}
	return result
}

func merge(base, overlay Config) Config {
	result := base

	result.HTTP = chooseHTTP(base.HTTP, overlay.HTTP)
	result.Broker = chooseBroker(base.Broker, overlay.Broker)
	result.Idempotency = chooseIdempotency(base.Idempotency, overlay.Idempotency)
	result.Webhook = chooseWebhook(base.Webhook, overlay.Webhook)
	result.Worker = chooseWorker(base.Worker, overlay.Worker)
	result.Review = chooseReview(base.Review, overlay.Review)
	result.Sandbox = chooseSandbox(base.Sandbox, overlay.Sandbox)
	result.Store = chooseStore(base.Store, overlay.Store)
	result.Observability = chooseObservability(base.Observability, overlay.Observability)
	result.Providers = mergeProviders(base.Providers, overlay.Providers)

	return result
}

func mergeProviders(base, overlay map[string]ProviderConfig) map[string]ProviderConfig {
	if len(base) == 0 && len(overlay) == 0 {
		return nil
	}
	result := make(map[string]ProviderConfig, len(base)+len(overlay))
	for key, value := range base {
		result[key] = value
	}
	for key, value := range overlay {
		result[key] = value
	}
	return result
}

func chooseHTTP(base, overlay HTTPConfig) HTTPConfig {
	if overlay.Timeout != "" || overlay.MaxRetries != 0 || overlay.InitialBackoff != "" || overlay.MaxBackoff != "" || overlay.BackoffMultiplier != 0 {
		return overlay
	}
	return base
}

func chooseBroker(base, overlay BrokerConfig) BrokerConfig {
	if overlay.Addr != "" || overlay.ConsumerGroup != "" || overlay.ConsumerName != "" {
		return overlay
	}
	return base
}

func chooseIdempotency(base, overlay IdempotencyConfig) IdempotencyConfig {
	if overlay.TTL != "" {
		return overlay
	}
	return base
}

func chooseWebhook(base, overlay WebhookConfig) WebhookConfig {
	if overlay.Addr != "" || overlay.APIKey != "" || overlay.MaxBodyKB != 0 {
		return overlay
	}
	return base
}

func chooseWorker(base, overlay WorkerConfig) WorkerConfig {
	if overlay.Mode != "" || overlay.ShutdownGrace != "" {
		return overlay
	}
	return base
}

func chooseReview(base, overlay ReviewConfig) ReviewConfig {
	if overlay.Provider != "" || overlay.StreamTimeout != "" || overlay.ConfidenceThreshold != 0 || overlay.MaxContextMatches != 0 || len(overlay.PolicyDocPaths) > 0 {
		return overlay
	}
	return base
}

func chooseSandbox(base, overlay SandboxConfig) SandboxConfig {
	if overlay.DockerHost != "" || overlay.MemoryBytes != 0 || overlay.NanoCPUs != 0 || overlay.WallClockLimit != "" {
		return overlay
	}
	return base
}

func chooseStore(base, overlay StoreConfig) StoreConfig {
	if overlay.DSN != "" || overlay.RetentionWindow != "" || overlay.SweepInterval != "" {
		return overlay
	}
	return base
}

func chooseObservability(base, overlay ObservabilityConfig) ObservabilityConfig {
	result := base

	if overlay.Logging.Level != "" || overlay.Logging.Format != "" {
		result.Logging = overlay.Logging
	}
	if overlay.Metrics.Enabled {
		result.Metrics = overlay.Metrics
	}

	return result
}

// ParseDuration parses a config duration string, falling back to def when s
// is empty or malformed.
func ParseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
