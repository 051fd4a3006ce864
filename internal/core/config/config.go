// Package config provides configuration management for the Beacon pipeline
// and relay agent.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"
)

// PipelineConfig holds configuration for the event pipeline: endpoints,
// durable storage, batching, and backoff.
type PipelineConfig struct {
	Token          string
	IngestURL      string
	DecideURL      string
	DatabaseURL    string
	FlushBatchSize int
	SendTimeout    time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	MaxEntries     int
	EvictionPolicy string
}

// AgentConfig holds configuration for the local HTTP relay agent.
type AgentConfig struct {
	Host           string
	Port           int
	MaxConnections int
	RequestTimeout time.Duration

	Pipeline PipelineConfig
}

// DefaultPipelineConfig returns configuration with default values.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		IngestURL:      "https://api.beacon.example.com",
		DecideURL:      "https://decide.beacon.example.com",
		DatabaseURL:    "sqlite://beacon.db",
		FlushBatchSize: 50,
		SendTimeout:    10 * time.Second,
		BackoffInitial: 2 * time.Second,
		BackoffMax:     10 * time.Minute,
		MaxEntries:     5000,
		EvictionPolicy: "oldest_first",
	}
}

// DefaultAgentConfig returns configuration with default values.
func DefaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		Host:           "127.0.0.1",
		Port:           8686,
		MaxConnections: 100,
		RequestTimeout: 30 * time.Second,
		Pipeline:       *DefaultPipelineConfig(),
	}
}

// HMACSecrets extracts HMAC secrets from environment variables.
// Supports BEACON_HMAC_SECRET (single) and BEACON_HMAC_SECRET_N (rotation).
// Returns map of secret_id -> decoded secret bytes.
// Secret IDs are UUIDv7 (32 hex chars without hyphens) matching API key format.
func HMACSecrets() (map[string][]byte, error) {
	secrets := make(map[string][]byte)

	// Format: <secret_id>:<base64_secret>
	if val := os.Getenv("BEACON_HMAC_SECRET"); val != "" {
		secretID, decoded, err := ParseHMACSecretWithID(val)
		if err != nil {
			return nil, fmt.Errorf("BEACON_HMAC_SECRET: %w", err)
		}
		secrets[secretID] = decoded
	}

	// Numbered secrets enable rotation: old and new keys valid during migration
	for i := 1; ; i++ {
		key := fmt.Sprintf("BEACON_HMAC_SECRET_%d", i)
		val := os.Getenv(key)
		if val == "" {
			break
		}
		secretID, decoded, err := ParseHMACSecretWithID(val)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		if _, exists := secrets[secretID]; exists {
			return nil, fmt.Errorf("duplicate secret_id '%s' found in environment variables (check BEACON_HMAC_SECRET and BEACON_HMAC_SECRET_* for conflicts)", secretID)
		}
		secrets[secretID] = decoded
	}

	return secrets, nil
}

// ParseHMACSecretWithID parses secret_id:base64_secret format.
// Secret ID must be 32 hex chars (UUIDv7 without hyphens).
func ParseHMACSecretWithID(envValue string) (secretID string, secret []byte, err error) {
	parts := strings.SplitN(strings.TrimSpace(envValue), ":", 2)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("format must be <secret_id>:<base64_secret>")
	}

	secretID = parts[0]
	if len(secretID) != 32 {
		return "", nil, fmt.Errorf("secret_id must be 32 hex chars (UUIDv7 without hyphens)")
	}
	for _, c := range secretID {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return "", nil, fmt.Errorf("secret_id must be hex chars only")
		}
	}

	secret, err = base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	if len(secret) < 32 {
		return "", nil, fmt.Errorf("secret must be at least 32 bytes, got %d", len(secret))
	}

	return secretID, secret, nil
}
