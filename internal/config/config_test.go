package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LEDGER_MODE", "memory")
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.True(t, cfg.IsLocal())
	assert.Equal(t, LedgerMemory, cfg.LedgerMode)
	assert.Equal(t, int64(31337), cfg.ChainID)
	assert.Equal(t, time.Minute, cfg.LedgerTimeout)
	assert.Equal(t, "https://ipfs.io/ipfs", cfg.IPFSGateway)
	assert.Equal(t, "@every 10m", cfg.CacheWarmSchedule)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "testnet")
	t.Setenv("LEDGER_MODE", "rpc")
	t.Setenv("RPC_URL", "https://sepolia.example.org")
	t.Setenv("CONTRACT_ADDRESS", "0x5FbDB2315678afecb367f032d93F642f64180aa3")
	t.Setenv("CHAIN_ID", "11155111")
	t.Setenv("LEDGER_TIMEOUT", "90s")
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_NAME", "chainblog")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, EnvTestnet, cfg.Env)
	assert.False(t, cfg.IsLocal())
	assert.Equal(t, int64(11155111), cfg.ChainID)
	assert.Equal(t, 90*time.Second, cfg.LedgerTimeout)
	assert.True(t, cfg.DB.Enabled())
	assert.Contains(t, cfg.DB.DSN(), "dbname=chainblog")
	assert.Contains(t, cfg.DB.DSN(), "port=5432")
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown env", map[string]string{"ENV": "MAINNET", "LEDGER_MODE": "memory"}},
		{"unknown ledger mode", map[string]string{"LEDGER_MODE": "ipc"}},
		{"rpc without contract", map[string]string{"LEDGER_MODE": "rpc", "CONTRACT_ADDRESS": ""}},
		{"bad contract address", map[string]string{"LEDGER_MODE": "rpc", "CONTRACT_ADDRESS": "0x123"}},
		{"bad log level", map[string]string{"LEDGER_MODE": "memory", "LOG_LEVEL": "verbose"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
