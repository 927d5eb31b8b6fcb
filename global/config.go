package global

import (
	"crypto/ed25519"
	"fmt"
	"os"

	"github.com/go-redis/redis_rate/v10"
	"gopkg.in/yaml.v3"
)

// Conf global config
var Conf Config

// Global rate limiter
var RateLimiter *redis_rate.Limiter

// server JWS signing keypair, loaded from Conf.Vault.ServerKeysPath
var PublicKey ed25519.PublicKey
var PrivateKey ed25519.PrivateKey

type Config struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	Scheme     string           `yaml:"scheme"`
	Mode       string           `yaml:"mode"` // debug or release
	Version    string           `yaml:"version"`
	CouchDB    CouchDBConfig    `yaml:"couchdb"`
	Redis      RedisConfig      `yaml:"redis"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	Queue      Queue            `yaml:"queue"`
	Vault      VaultConfig      `yaml:"vault"`
	DriftScan  DriftScanConfig  `yaml:"driftscan"`
}

type CouchDBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Scheme   string `yaml:"scheme"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	Username string `yaml:"username"`
}

type PrometheusConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type Queue struct {
	Concurrency int `yaml:"concurrency"`
}

// VaultConfig describes where master key material comes from. Keys are
// listed oldest first; the highest version is the active encryption key.
// Each entry names an environment variable holding the base64 encoded
// 32 byte key, so no key material ever lives in the config file itself.
type VaultConfig struct {
	ServerKeysPath string           `yaml:"serverKeysPath"` // ed25519 JWS signing key file
	MasterKeys     []MasterKeyEntry `yaml:"masterKeys"`
}

type MasterKeyEntry struct {
	Version int    `yaml:"version"`
	Env     string `yaml:"env"` // environment variable with base64 key
}

type DriftScanConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // cron expression
}

// NewYamlConfig loads the yaml configuration file into the given struct
func NewYamlConfig(path string, conf *Config) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(content, conf); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}
