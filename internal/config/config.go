package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvLocal   = "LOCAL"
	EnvTestnet = "TESTNET"

	LedgerRPC    = "rpc"
	LedgerMemory = "memory"
)

type DB struct {
	Host     string
	Port     string `validate:"omitempty,numeric"`
	User     string
	Password string
	Name     string
	SSLMode  string
}

// Enabled reports whether a database was configured at all.
func (d DB) Enabled() bool {
	return d.Host != ""
}

func (d DB) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode,
	)
}

type Config struct {
	Port string `validate:"required,numeric"`
	Env  string `validate:"oneof=LOCAL TESTNET"`

	LedgerMode      string `validate:"oneof=rpc memory"`
	RPCURL          string `validate:"omitempty,url"`
	ContractAddress string `validate:"omitempty,eth_addr"`
	ChainID         int64  `validate:"gt=0"`
	PrivateKey      string
	LedgerTimeout   time.Duration `validate:"gte=0"`

	PinataAPIKey    string
	PinataAPISecret string
	PinataBaseURL   string `validate:"url"`
	IPFSGateway     string `validate:"url"`

	DB DB

	JWTSecret         string
	NATSURL           string
	LogLevel          string `validate:"oneof=trace debug info warn error"`
	CacheWarmSchedule string
}

func (c *Config) IsLocal() bool {
	return c.Env == EnvLocal
}

var validate = validator.New()

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", EnvLocal)
	v.SetDefault("LEDGER_MODE", LedgerRPC)
	v.SetDefault("RPC_URL", "http://127.0.0.1:8545")
	v.SetDefault("CHAIN_ID", 31337)
	v.SetDefault("LEDGER_TIMEOUT", "60s")
	v.SetDefault("PINATA_BASE_URL", "https://api.pinata.cloud")
	v.SetDefault("IPFS_GATEWAY", "https://ipfs.io/ipfs")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CACHE_WARM_SCHEDULE", "@every 10m")
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Port:            v.GetString("PORT"),
		Env:             strings.ToUpper(v.GetString("ENV")),
		LedgerMode:      strings.ToLower(v.GetString("LEDGER_MODE")),
		RPCURL:          v.GetString("RPC_URL"),
		ContractAddress: v.GetString("CONTRACT_ADDRESS"),
		ChainID:         v.GetInt64("CHAIN_ID"),
		PrivateKey:      v.GetString("PRIVATE_KEY"),
		LedgerTimeout:   v.GetDuration("LEDGER_TIMEOUT"),
		PinataAPIKey:    v.GetString("PINATA_API_KEY"),
		PinataAPISecret: v.GetString("PINATA_API_SECRET"),
		PinataBaseURL:   v.GetString("PINATA_BASE_URL"),
		IPFSGateway:     v.GetString("IPFS_GATEWAY"),
		DB: DB{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			Name:     v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		JWTSecret:         v.GetString("JWT_SECRET"),
		NATSURL:           v.GetString("NATS_URL"),
		LogLevel:          strings.ToLower(v.GetString("LOG_LEVEL")),
		CacheWarmSchedule: v.GetString("CACHE_WARM_SCHEDULE"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.LedgerMode == LedgerRPC {
		if c.RPCURL == "" || c.ContractAddress == "" {
			return errors.New("invalid configuration: RPC_URL and CONTRACT_ADDRESS are required when LEDGER_MODE=rpc")
		}
	}
	return nil
}
