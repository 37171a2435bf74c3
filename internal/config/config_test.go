package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/flashsettle/internal/domain"
)

var envKeys = []string{
	"FLASHSETTLE_CONFIG", "DB_SOURCE", "SERVER_PORT", "ENVIRONMENT", "LOG_LEVEL",
	"STORE_BACKEND", "TRANSFER_BACKEND", "LEVELDB_PATH", "REDIS_ADDR", "REDIS_PREFIX",
	"NATS_URL", "NATS_PREFIX", "CONTRACT_ADDRESS", "JWT_SECRET", "NETWORK",
	"RATE_LIMIT_RPM", "RATE_LIMIT_BURST", "TRUSTED_PROXIES",
}

func clearEnv(t *testing.T) {
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func contract(t *testing.T) string {
	t.Helper()
	c, err := domain.ContractFromID([32]byte{0xC0})
	require.NoError(t, err)
	return c.String()
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONTRACT_ADDRESS", contract(t))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, BackendMemory, cfg.TransferBackend)
	assert.Equal(t, "stellar-testnet", cfg.Network)
	assert.Equal(t, 20, cfg.RateLimitBurst)
}

func TestLoadRequiresContract(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("CONTRACT_ADDRESS", "CNOTVALID")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadBackendRequirements(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONTRACT_ADDRESS", contract(t))

	t.Setenv("STORE_BACKEND", "postgres")
	_, err := Load()
	assert.ErrorContains(t, err, "DB_SOURCE")

	t.Setenv("DB_SOURCE", "postgresql://localhost/flash")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendPostgres, cfg.StoreBackend)

	t.Setenv("STORE_BACKEND", "redis")
	_, err = Load()
	assert.ErrorContains(t, err, "REDIS_ADDR")

	t.Setenv("STORE_BACKEND", "etcd")
	_, err = Load()
	assert.ErrorContains(t, err, "STORE_BACKEND")

	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("TRANSFER_BACKEND", "leveldb")
	_, err = Load()
	assert.ErrorContains(t, err, "TRANSFER_BACKEND")
}

func TestLoadRequiresSecretOutsideDevelopment(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONTRACT_ADDRESS", contract(t))
	t.Setenv("ENVIRONMENT", "production")
	_, err := Load()
	assert.ErrorContains(t, err, "JWT_SECRET")

	t.Setenv("JWT_SECRET", "s3cret")
	_, err = Load()
	assert.NoError(t, err)
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "flashsettle.toml")
	body := `
port = "9000"
store_backend = "leveldb"
leveldb_path = "/var/lib/flashsettle"
contract_address = "` + contract(t) + `"
rate_limit_rpm = 120.5
network = "stellar-mainnet"
trusted_proxies = ["10.0.0.0/8"]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("FLASHSETTLE_CONFIG", path)
	t.Setenv("SERVER_PORT", "9100")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, BackendLevelDB, cfg.StoreBackend)
	assert.Equal(t, "/var/lib/flashsettle", cfg.LevelDBPath)
	assert.Equal(t, 120.5, cfg.RateLimitRPM)
	assert.Equal(t, "stellar-mainnet", cfg.Network)
	assert.Equal(t, []string{"10.0.0.0/8"}, cfg.TrustedProxies)

	t.Setenv("TRUSTED_PROXIES", "10.0.0.1,192.168.0.0/16")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1", "192.168.0.0/16"}, cfg.TrustedProxies)
}

func TestLoadRejectsBadNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONTRACT_ADDRESS", contract(t))
	t.Setenv("RATE_LIMIT_BURST", "many")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("RATE_LIMIT_BURST", "")
	t.Setenv("RATE_LIMIT_RPM", "-1")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("FLASHSETTLE_CONFIG", filepath.Join(t.TempDir(), "absent.toml"))
	_, err := Load()
	assert.Error(t, err)
}
