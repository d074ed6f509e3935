package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config captures runtime configuration for the dispute gateway service.
// Values come from an optional TOML file; environment variables override.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	NodeURL       string `toml:"NodeURL"`
	NodeAuthToken string `toml:"NodeAuthToken"`
	DatabasePath  string `toml:"DatabasePath"`
	Environment   string `toml:"Environment"`
	LogFilePath   string `toml:"LogFilePath"`

	PollInterval  duration `toml:"PollInterval"`
	BatchSize     int      `toml:"BatchSize"`
	AppealBondWei string   `toml:"AppealBondWei"`

	JWTSecretEnv string   `toml:"JWTSecretEnv"`
	JWTIssuer    string   `toml:"JWTIssuer"`
	JWTAudience  []string `toml:"JWTAudience"`
}

// duration lets TOML carry values like "5s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// LoadConfig reads the TOML file at path when it exists, then applies
// environment overrides and defaults.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ListenAddress: ":8084",
		DatabasePath:  "dispute-gateway.db",
		PollInterval:  duration{5 * time.Second},
		BatchSize:     100,
		JWTIssuer:     "dispute-gateway",
	}
	if strings.TrimSpace(path) != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, fmt.Errorf("decode config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, err
		}
	}

	cfg.ListenAddress = getenvDefault("DISPUTE_GATEWAY_LISTEN", cfg.ListenAddress)
	cfg.NodeURL = getenvDefault("DISPUTE_GATEWAY_NODE_URL", cfg.NodeURL)
	cfg.NodeAuthToken = getenvDefault("DISPUTE_GATEWAY_NODE_TOKEN", cfg.NodeAuthToken)
	cfg.DatabasePath = getenvDefault("DISPUTE_GATEWAY_DB_PATH", cfg.DatabasePath)
	cfg.Environment = getenvDefault("DISPUTE_GATEWAY_ENV", cfg.Environment)
	cfg.LogFilePath = getenvDefault("DISPUTE_GATEWAY_LOG_FILE", cfg.LogFilePath)
	cfg.AppealBondWei = getenvDefault("DISPUTE_GATEWAY_APPEAL_BOND", cfg.AppealBondWei)
	cfg.JWTSecretEnv = getenvDefault("DISPUTE_GATEWAY_JWT_SECRET_ENV", cfg.JWTSecretEnv)
	cfg.JWTIssuer = getenvDefault("DISPUTE_GATEWAY_JWT_ISSUER", cfg.JWTIssuer)

	if raw := strings.TrimSpace(os.Getenv("DISPUTE_GATEWAY_POLL_INTERVAL")); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse DISPUTE_GATEWAY_POLL_INTERVAL: %w", err)
		}
		cfg.PollInterval = duration{dur}
	}
	if cfg.PollInterval.Duration <= 0 {
		return Config{}, errors.New("poll interval must be positive")
	}

	if raw := strings.TrimSpace(os.Getenv("DISPUTE_GATEWAY_BATCH_SIZE")); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse DISPUTE_GATEWAY_BATCH_SIZE: %w", err)
		}
		cfg.BatchSize = val
	}
	if cfg.BatchSize <= 0 {
		return Config{}, errors.New("batch size must be positive")
	}

	if raw := strings.TrimSpace(os.Getenv("DISPUTE_GATEWAY_JWT_AUDIENCE")); raw != "" {
		cfg.JWTAudience = nil
		for _, entry := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(entry); trimmed != "" {
				cfg.JWTAudience = append(cfg.JWTAudience, trimmed)
			}
		}
	}

	if strings.TrimSpace(cfg.NodeURL) == "" {
		return Config{}, errors.New("node URL is required (DISPUTE_GATEWAY_NODE_URL)")
	}
	if strings.TrimSpace(cfg.AppealBondWei) == "" {
		return Config{}, errors.New("appeal bond is required (DISPUTE_GATEWAY_APPEAL_BOND)")
	}
	if strings.TrimSpace(cfg.JWTSecretEnv) == "" {
		cfg.JWTSecretEnv = "DISPUTE_GATEWAY_JWT_SECRET"
	}
	if len(cfg.JWTAudience) == 0 {
		cfg.JWTAudience = []string{"dispute-gateway"}
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}
