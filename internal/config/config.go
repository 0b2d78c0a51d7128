package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Environment variable names read by the configuration layer.
const (
	EnvConfigPath        = "CONFIG_PATH"
	EnvDBConnection      = "DB_CONNECTION"
	EnvGatewayURL        = "GATEWAY_URL"
	EnvGatewayServiceKey = "GATEWAY_SERVICE_KEY"
	EnvJWTSecret         = "JWT_SECRET"
	EnvJWTExpiry         = "JWT_EXPIRY"
)

// Non-functional placeholders used when required settings are absent.
// The process still boots so the failure is observable in one place
// instead of crashing at load.
const (
	PlaceholderDSN        = "postgres://placeholder.invalid:5432/dashboard"
	PlaceholderServiceKey = "placeholder-key"
)

// defaultGatewayURL is the production webhook base.
const defaultGatewayURL = "https://n8n.tanam.io/webhook"

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() AppConfig {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// LoadDatabaseDSN reads the database DSN from env or the YAML config file.
//
// A missing DSN degrades to a logged placeholder rather than failing,
// so a misconfigured deployment is observable instead of crash-looping.
func LoadDatabaseDSN(configPath string) string {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		return dsn
	}

	// fileConfig maps the YAML fields needed for DSN resolution.
	type fileConfig struct {
		DatabaseDSN string `yaml:"database-dsn"`
		Database    struct {
			DSN string `yaml:"dsn"`
		} `yaml:"database"`
	}

	if data, errRead := os.ReadFile(configPath); errRead == nil {
		var cfg fileConfig
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal == nil {
			if dsn := strings.TrimSpace(cfg.DatabaseDSN); dsn != "" {
				return dsn
			}
			if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" {
				return dsn
			}
		}
	}

	log.Errorf("missing database dsn: set %s or `database-dsn` in %s; using non-functional placeholder", EnvDBConnection, configPath)
	return PlaceholderDSN
}

// GatewayConfig holds remote action gateway settings.
type GatewayConfig struct {
	BaseURL    string `yaml:"base-url"`
	ServiceKey string `yaml:"service-key"`
}

// LoadGatewayConfig loads gateway settings from the YAML config file with
// env overrides. A missing service key degrades to a logged placeholder.
func LoadGatewayConfig(configPath string) GatewayConfig {
	// fileConfig maps the YAML fields needed for gateway settings.
	type fileConfig struct {
		Gateway GatewayConfig `yaml:"gateway"`
	}

	var result GatewayConfig
	if data, errRead := os.ReadFile(configPath); errRead == nil {
		var cfg fileConfig
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal == nil {
			result = cfg.Gateway
		}
	}

	if url := strings.TrimSpace(os.Getenv(EnvGatewayURL)); url != "" {
		result.BaseURL = url
	}
	if key := strings.TrimSpace(os.Getenv(EnvGatewayServiceKey)); key != "" {
		result.ServiceKey = key
	}

	if strings.TrimSpace(result.BaseURL) == "" {
		result.BaseURL = defaultGatewayURL
	}
	if strings.TrimSpace(result.ServiceKey) == "" {
		log.Errorf("missing gateway service key: set %s or `gateway.service-key` in %s; using non-functional placeholder", EnvGatewayServiceKey, configPath)
		result.ServiceKey = PlaceholderServiceKey
	}
	return result
}

// JWTConfig holds JWT secret and expiry settings for session verification.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// defaultJWTExpiry is used when the config omits or invalidates JWT expiry.
const defaultJWTExpiry = 30 * 24 * time.Hour

// LoadJWTConfig loads JWT settings from the YAML config file.
func LoadJWTConfig(configPath string) (JWTConfig, error) {
	// fileConfig maps the YAML fields needed for JWT settings.
	type fileConfig struct {
		JWT JWTConfig `yaml:"jwt"`
	}

	result := JWTConfig{Expiry: defaultJWTExpiry}

	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		var cfg fileConfig
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal == nil {
			result = cfg.JWT
		}
	}

	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		result.Secret = secret
	}
	if expiryRaw := strings.TrimSpace(os.Getenv(EnvJWTExpiry)); expiryRaw != "" {
		if expiry, errParse := time.ParseDuration(expiryRaw); errParse == nil && expiry > 0 {
			result.Expiry = expiry
		}
	}

	if result.Expiry <= 0 {
		result.Expiry = defaultJWTExpiry
	}
	return result, nil
}
