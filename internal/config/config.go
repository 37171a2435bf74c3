package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/punchamoorthee/flashsettle/internal/domain"
)

const (
	BackendMemory   = "memory"
	BackendLevelDB  = "leveldb"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	DBSource        string  `toml:"db_source"`
	Port            string  `toml:"port"`
	Env             string  `toml:"environment"`
	LogLevel        string  `toml:"log_level"`
	StoreBackend    string  `toml:"store_backend"`
	TransferBackend string  `toml:"transfer_backend"`
	LevelDBPath     string  `toml:"leveldb_path"`
	RedisAddr       string  `toml:"redis_addr"`
	RedisPrefix     string  `toml:"redis_prefix"`
	NATSURL         string  `toml:"nats_url"`
	NATSPrefix      string  `toml:"nats_prefix"`
	ContractAddress string  `toml:"contract_address"`
	JWTSecret       string  `toml:"jwt_secret"`
	Network         string  `toml:"network"`
	RateLimitRPM    float64 `toml:"rate_limit_rpm"`
	RateLimitBurst  int     `toml:"rate_limit_burst"`
	// TrustedProxies lists peers (IPs or CIDRs) whose forwarding headers are honored.
	TrustedProxies []string `toml:"trusted_proxies"`
}

func defaults() *Config {
	return &Config{
		Port:            "8080",
		Env:             "development",
		LogLevel:        "info",
		StoreBackend:    BackendMemory,
		TransferBackend: BackendMemory,
		LevelDBPath:     "data/flashsettle",
		RedisPrefix:     "flashsettle:",
		NATSPrefix:      "flashsettle",
		Network:         "stellar-testnet",
		RateLimitRPM:    600,
		RateLimitBurst:  20,
	}
}

// Load reads the optional TOML file named by FLASHSETTLE_CONFIG, then applies
// environment variables on top of it.
func Load() (*Config, error) {
	cfg := defaults()
	if path := strings.TrimSpace(os.Getenv("FLASHSETTLE_CONFIG")); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	setString(&cfg.DBSource, "DB_SOURCE")
	setString(&cfg.Port, "SERVER_PORT")
	setString(&cfg.Env, "ENVIRONMENT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.StoreBackend, "STORE_BACKEND")
	setString(&cfg.TransferBackend, "TRANSFER_BACKEND")
	setString(&cfg.LevelDBPath, "LEVELDB_PATH")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPrefix, "REDIS_PREFIX")
	setString(&cfg.NATSURL, "NATS_URL")
	setString(&cfg.NATSPrefix, "NATS_PREFIX")
	setString(&cfg.ContractAddress, "CONTRACT_ADDRESS")
	setString(&cfg.JWTSecret, "JWT_SECRET")
	setString(&cfg.Network, "NETWORK")
	if v := strings.TrimSpace(os.Getenv("TRUSTED_PROXIES")); v != "" {
		cfg.TrustedProxies = strings.Split(v, ",")
	}
	if v := os.Getenv("RATE_LIMIT_RPM"); v != "" {
		rpm, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("RATE_LIMIT_RPM: %w", err)
		}
		cfg.RateLimitRPM = rpm
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		burst, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("RATE_LIMIT_BURST: %w", err)
		}
		cfg.RateLimitBurst = burst
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendLevelDB, BackendPostgres, BackendRedis:
	default:
		return fmt.Errorf("unsupported STORE_BACKEND %q", c.StoreBackend)
	}
	switch c.TransferBackend {
	case BackendMemory, BackendPostgres:
	default:
		return fmt.Errorf("unsupported TRANSFER_BACKEND %q", c.TransferBackend)
	}
	if (c.StoreBackend == BackendPostgres || c.TransferBackend == BackendPostgres) && c.DBSource == "" {
		return fmt.Errorf("DB_SOURCE environment variable is required")
	}
	if c.StoreBackend == BackendRedis && c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR environment variable is required")
	}
	if _, err := domain.ParseAddress(c.ContractAddress); err != nil {
		return fmt.Errorf("CONTRACT_ADDRESS: %w", err)
	}
	if c.JWTSecret == "" && c.Env != "development" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if c.RateLimitRPM < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	return nil
}
