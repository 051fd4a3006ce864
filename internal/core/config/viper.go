package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadAgentConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
func LoadAgentConfig(configPath string) (*AgentConfig, error) {
	v := viper.New()

	// Defaults matching DefaultAgentConfig
	v.SetDefault("agent.host", "127.0.0.1")
	v.SetDefault("agent.port", 8686)
	v.SetDefault("agent.max_connections", 100)
	v.SetDefault("agent.request_timeout", "30s")

	setPipelineDefaults(v)

	// Bind environment variables with BEACON_ prefix
	v.SetEnvPrefix("BEACON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Security check: reject secrets in config files
	// Secrets must be environment-only per 12-factor principles
	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	pipeline, err := pipelineFromViper(v)
	if err != nil {
		return nil, err
	}

	cfg := &AgentConfig{
		Host:           v.GetString("agent.host"),
		Port:           v.GetInt("agent.port"),
		MaxConnections: v.GetInt("agent.max_connections"),
		RequestTimeout: v.GetDuration("agent.request_timeout"),
		Pipeline:       *pipeline,
	}

	if err := validateAgentConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadPipelineConfig loads the pipeline section only, for embedded use
// without the agent surface.
func LoadPipelineConfig(configPath string) (*PipelineConfig, error) {
	v := viper.New()

	setPipelineDefaults(v)

	v.SetEnvPrefix("BEACON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	return pipelineFromViper(v)
}

func setPipelineDefaults(v *viper.Viper) {
	v.SetDefault("pipeline.ingest_url", "https://api.beacon.example.com")
	v.SetDefault("pipeline.decide_url", "https://decide.beacon.example.com")
	v.SetDefault("pipeline.database_url", "sqlite://beacon.db")
	v.SetDefault("pipeline.flush_batch_size", 50)
	v.SetDefault("pipeline.send_timeout", "10s")
	v.SetDefault("pipeline.backoff_initial", "2s")
	v.SetDefault("pipeline.backoff_max", "10m")
	v.SetDefault("pipeline.max_entries", 5000)
	v.SetDefault("pipeline.eviction_policy", "oldest_first")
}

func pipelineFromViper(v *viper.Viper) (*PipelineConfig, error) {
	cfg := &PipelineConfig{
		Token:          v.GetString("pipeline.token"),
		IngestURL:      v.GetString("pipeline.ingest_url"),
		DecideURL:      v.GetString("pipeline.decide_url"),
		DatabaseURL:    v.GetString("pipeline.database_url"),
		FlushBatchSize: v.GetInt("pipeline.flush_batch_size"),
		SendTimeout:    v.GetDuration("pipeline.send_timeout"),
		BackoffInitial: v.GetDuration("pipeline.backoff_initial"),
		BackoffMax:     v.GetDuration("pipeline.backoff_max"),
		MaxEntries:     v.GetInt("pipeline.max_entries"),
		EvictionPolicy: v.GetString("pipeline.eviction_policy"),
	}
	if err := validatePipelineConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validatePipelineConfig checks positive sizes, timeouts, and a known
// eviction policy.
func validatePipelineConfig(cfg *PipelineConfig) error {
	if cfg.FlushBatchSize <= 0 {
		return fmt.Errorf("flush_batch_size must be positive, got %d", cfg.FlushBatchSize)
	}
	if cfg.SendTimeout <= 0 {
		return fmt.Errorf("send_timeout must be positive, got %v", cfg.SendTimeout)
	}
	if cfg.BackoffInitial <= 0 {
		return fmt.Errorf("backoff_initial must be positive, got %v", cfg.BackoffInitial)
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		return fmt.Errorf("backoff_max must be at least backoff_initial, got %v < %v", cfg.BackoffMax, cfg.BackoffInitial)
	}
	if cfg.MaxEntries <= 0 {
		return fmt.Errorf("max_entries must be positive, got %d", cfg.MaxEntries)
	}
	switch cfg.EvictionPolicy {
	case "oldest_first", "profile_first":
	default:
		return fmt.Errorf("eviction_policy must be oldest_first or profile_first, got %q", cfg.EvictionPolicy)
	}
	return nil
}

// validateAgentConfig checks port range and positive limits.
func validateAgentConfig(cfg *AgentConfig) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", cfg.Port)
	}
	if cfg.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be positive, got %d", cfg.MaxConnections)
	}
	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", cfg.RequestTimeout)
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only secrets (12-factor principle).
func validateNoSecretsInConfig(v *viper.Viper) error {
	if v.IsSet("hmac_secret") || v.IsSet("agent.hmac_secret") || v.IsSet("pipeline.hmac_secret") {
		return fmt.Errorf("HMAC secrets not allowed in config files (use BEACON_HMAC_SECRET environment variable)")
	}
	return nil
}
