package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// LoaderOptions describes how configuration should be discovered.
type LoaderOptions struct {
	ConfigPaths []string
	FileName    string
	EnvPrefix   string
}

// Load returns the merged configuration from files and environment variables.
func Load(opts LoaderOptions) (Config, error) {
	v := viper.New()

	name := opts.FileName
	if name == "" {
		name = "codewatch"
	}

	configFile := locateConfigFile(name, opts.ConfigPaths)
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(name)
	}

	prefix := opts.EnvPrefix
	if prefix == "" {
		prefix = "CODEWATCH"
	}
	v.SetEnvPrefix(prefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AllowEmptyEnv(true)

	setDefaults(v)

	if configFile != "" {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg = expandEnvVars(cfg)

	return cfg, nil
}

// expandEnvVars expands ${VAR} and $VAR syntax in configuration strings that
// commonly carry secrets or host-specific values.
func expandEnvVars(cfg Config) Config {
	for name, provider := range cfg.Providers {
		provider.APIKey = expandEnvString(provider.APIKey)
		provider.Model = expandEnvString(provider.Model)
		cfg.Providers[name] = provider
	}

	cfg.Broker.Addr = expandEnvString(cfg.Broker.Addr)
	cfg.Broker.Password = expandEnvString(cfg.Broker.Password)
	cfg.Webhook.APIKey = expandEnvString(cfg.Webhook.APIKey)
	cfg.Store.DSN = expandEnvString(cfg.Store.DSN)
	cfg.Sandbox.DockerHost = expandEnvString(cfg.Sandbox.DockerHost)

	return cfg
}

// expandEnvString replaces ${VAR} or $VAR with environment variable values.
func expandEnvString(s string) string {
	if s == "" {
		return s
	}

	re := regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)
	s = re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match
	})

	re = regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`)
	s = re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[1:]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match
	})

	return s
}

func locateConfigFile(name string, paths []string) string {
	searchPaths := append([]string{}, paths...)
	searchPaths = append(searchPaths, ".")
	for _, dir := range searchPaths {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name+".yaml")
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("broker.addr", "localhost:6379")
	v.SetDefault("broker.consumerGroup", "codewatch-workers")
	v.SetDefault("broker.consumerName", defaultConsumerName())
	v.SetDefault("broker.blockTimeout", "5s")
	v.SetDefault("broker.readCount", int64(10))
	v.SetDefault("broker.claimMinIdle", "30s")
	v.SetDefault("broker.circuitBreaker", true)

	v.SetDefault("idempotency.ttl", "24h")

	v.SetDefault("webhook.addr", ":8080")
	v.SetDefault("webhook.maxBodyKB", 512)

	v.SetDefault("worker.mode", "diff")
	v.SetDefault("worker.shutdownGrace", "30s")

	v.SetDefault("review.streamTimeout", "60s")
	v.SetDefault("review.confidenceThreshold", 0.5)
	v.SetDefault("review.maxContextMatches", 20)
	v.SetDefault("review.policyDocPaths", []string{".codewatch/review-policy.md", "CONTRIBUTING.md"})
	v.SetDefault("review.policyDocMaxBytes", 16384)

	v.SetDefault("sandbox.memoryBytes", int64(2*1024*1024*1024))
	v.SetDefault("sandbox.nanoCPUs", int64(2_000_000_000))
	v.SetDefault("sandbox.wallClockLimit", "5m")
	v.SetDefault("sandbox.networkEnabled", false)
	v.SetDefault("sandbox.workspaceMount", "/workspace/repo")

	v.SetDefault("store.retentionWindow", "720h")
	v.SetDefault("store.sweepInterval", "1h")

	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.logging.redactAPIKeys", true)
	v.SetDefault("observability.metrics.enabled", true)

	v.SetDefault("providers.openai.enabled", false)
	v.SetDefault("providers.openai.model", "gpt-4o")
	v.SetDefault("providers.anthropic.enabled", false)
	v.SetDefault("providers.anthropic.model", "claude-3-5-sonnet-20241022")
}

func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "worker-1"
	}
	return host
}
