// Package config defines the top-level configuration for the custody
// service and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by VAULTD_* environment variables.
type Config struct {
	Chain    ChainConfig    `toml:"chain"`
	Assets   AssetsConfig   `toml:"assets"`
	Fees     FeesConfig     `toml:"fees"`
	Engine   EngineConfig   `toml:"engine"`
	Paper    PaperConfig    `toml:"paper"`
	Wallet   WalletConfig   `toml:"wallet"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Relayer  RelayerConfig  `toml:"relayer"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ChainConfig holds the chain binding for meta-transaction digests.
type ChainConfig struct {
	ChainID int `toml:"chain_id"`
}

// AssetsConfig names the four assets the fixed strategy operates on.
type AssetsConfig struct {
	Base             string `toml:"base"`
	Secondary        string `toml:"secondary"`
	ReceiptBase      string `toml:"receipt_base"`
	ReceiptSecondary string `toml:"receipt_secondary"`
}

// FeesConfig sets the protocol fee applied when an account funds a strategy.
// An empty recipient disables the fee entirely.
type FeesConfig struct {
	Recipient string `toml:"recipient"`
	RateBps   int    `toml:"rate_bps"`
}

// EngineConfig holds strategy engine parameters shared by every account.
type EngineConfig struct {
	Address      string   `toml:"address"`
	SlippageBps  int      `toml:"slippage_bps"`
	SwapFeeTier  int      `toml:"swap_fee_tier"`
	SwapDeadline duration `toml:"swap_deadline"`
}

// PaperConfig parameterizes the simulated protocol backends used in paper
// and full modes: the swap price, spread, and the base-asset grant minted
// to freshly provisioned accounts.
type PaperConfig struct {
	GenesisGrant string `toml:"genesis_grant"` // decimal, base-asset units
	PriceNum     int64  `toml:"price_num"`
	PriceDen     int64  `toml:"price_den"`
	SpreadBps    int    `toml:"spread_bps"`
}

// WalletConfig holds the relayer's signing key material, used by paper-mode
// tooling that signs meta-transactions locally.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the event-log archival job.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	HMACKey         string   `toml:"hmac_key"` // with hmac_secret, switches auth to signed requests
	HMACSecret      string   `toml:"hmac_secret"`
	RateLimit       int      `toml:"rate_limit"` // requests per window per client; 0 disables
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// RelayerConfig holds meta-transaction relayer parameters.
type RelayerConfig struct {
	QueueSize int      `toml:"queue_size"`
	DedupTTL  duration `toml:"dedup_ttl"`
	LockTTL   duration `toml:"lock_ttl"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID: 137,
		},
		Assets: AssetsConfig{
			Base:             "USDC",
			Secondary:        "USDT",
			ReceiptBase:      "aUSDC",
			ReceiptSecondary: "aUSDT",
		},
		Fees: FeesConfig{
			Recipient: "",
			RateBps:   25,
		},
		Engine: EngineConfig{
			Address:      "0x00000000000000000000000000000000000e9914",
			SlippageBps:  100,
			SwapFeeTier:  100,
			SwapDeadline: duration{30 * time.Second},
		},
		Paper: PaperConfig{
			GenesisGrant: "10000000000", // 10k units at 6 decimals
			PriceNum:     1,
			PriceDen:     1,
			SpreadBps:    5,
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "vaultd",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "vaultd-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       0,
			RateLimitWindow: duration{time.Second},
		},
		Relayer: RelayerConfig{
			QueueSize: 256,
			DedupTTL:  duration{2 * time.Minute},
			LockTTL:   duration{30 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"strategy_executed", "claim_completed", "metatx_executed", "emergency_recovery", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
//
//	server — API + relayer over in-memory backends, no persistence
//	paper  — like server, with genesis grants funding new accounts
//	full   — everything: API, relayer, postgres persistence, archival
var validModes = map[string]bool{
	"server": true,
	"paper":  true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// GenesisGrant parses the configured paper-mode grant, defaulting to zero.
func (c *Config) GenesisGrant() (*big.Int, error) {
	s := strings.TrimSpace(c.Paper.GenesisGrant)
	if s == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("paper: genesis_grant %q is not a non-negative decimal", s)
	}
	return n, nil
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, paper, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}

	// Assets — the four identities must be set and distinct.
	assets := []string{c.Assets.Base, c.Assets.Secondary, c.Assets.ReceiptBase, c.Assets.ReceiptSecondary}
	seen := make(map[string]bool, len(assets))
	for _, a := range assets {
		if a == "" {
			errs = append(errs, "assets: base, secondary, receipt_base, and receipt_secondary must all be set")
			break
		}
		if seen[a] {
			errs = append(errs, fmt.Sprintf("assets: %q appears more than once", a))
		}
		seen[a] = true
	}

	// Fees
	if c.Fees.RateBps < 0 || c.Fees.RateBps > 10_000 {
		errs = append(errs, fmt.Sprintf("fees: rate_bps must be 0-10000, got %d", c.Fees.RateBps))
	}
	if c.Fees.Recipient != "" && !common.IsHexAddress(c.Fees.Recipient) {
		errs = append(errs, fmt.Sprintf("fees: recipient %q is not a valid address", c.Fees.Recipient))
	}

	// Engine
	if !common.IsHexAddress(c.Engine.Address) {
		errs = append(errs, fmt.Sprintf("engine: address %q is not a valid address", c.Engine.Address))
	}
	if c.Engine.SlippageBps < 0 || c.Engine.SlippageBps >= 10_000 {
		errs = append(errs, fmt.Sprintf("engine: slippage_bps must be 0-9999, got %d", c.Engine.SlippageBps))
	}
	if c.Engine.SwapDeadline.Duration <= 0 {
		errs = append(errs, "engine: swap_deadline must be positive")
	}

	// Paper
	if c.Paper.PriceNum <= 0 || c.Paper.PriceDen <= 0 {
		errs = append(errs, "paper: price_num and price_den must be positive")
	}
	if c.Paper.SpreadBps < 0 || c.Paper.SpreadBps >= 10_000 {
		errs = append(errs, fmt.Sprintf("paper: spread_bps must be 0-9999, got %d", c.Paper.SpreadBps))
	}
	if _, err := c.GenesisGrant(); err != nil {
		errs = append(errs, err.Error())
	}

	// Wallet — only required when an encrypted key path is configured.
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	// Postgres — required for full mode.
	if strings.ToLower(c.Mode) == "full" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 — only required when archival is enabled.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateLimitWindow.Duration <= 0 {
			errs = append(errs, "server: rate_limit_window must be positive when rate_limit is set")
		}
		if (c.Server.HMACKey != "") != (c.Server.HMACSecret != "") {
			errs = append(errs, "server: hmac_key and hmac_secret must be set together")
		}
	}

	// Relayer
	if c.Relayer.QueueSize < 0 {
		errs = append(errs, "relayer: queue_size must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
