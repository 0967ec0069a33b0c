package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies VAULTD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known VAULTD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setInt(&cfg.Chain.ChainID, "VAULTD_CHAIN_ID")

	// ── Assets ──
	setStr(&cfg.Assets.Base, "VAULTD_ASSETS_BASE")
	setStr(&cfg.Assets.Secondary, "VAULTD_ASSETS_SECONDARY")
	setStr(&cfg.Assets.ReceiptBase, "VAULTD_ASSETS_RECEIPT_BASE")
	setStr(&cfg.Assets.ReceiptSecondary, "VAULTD_ASSETS_RECEIPT_SECONDARY")

	// ── Fees ──
	setStr(&cfg.Fees.Recipient, "VAULTD_FEES_RECIPIENT")
	setInt(&cfg.Fees.RateBps, "VAULTD_FEES_RATE_BPS")

	// ── Engine ──
	setStr(&cfg.Engine.Address, "VAULTD_ENGINE_ADDRESS")
	setInt(&cfg.Engine.SlippageBps, "VAULTD_ENGINE_SLIPPAGE_BPS")
	setInt(&cfg.Engine.SwapFeeTier, "VAULTD_ENGINE_SWAP_FEE_TIER")
	setDuration(&cfg.Engine.SwapDeadline, "VAULTD_ENGINE_SWAP_DEADLINE")

	// ── Paper ──
	setStr(&cfg.Paper.GenesisGrant, "VAULTD_PAPER_GENESIS_GRANT")
	setInt64(&cfg.Paper.PriceNum, "VAULTD_PAPER_PRICE_NUM")
	setInt64(&cfg.Paper.PriceDen, "VAULTD_PAPER_PRICE_DEN")
	setInt(&cfg.Paper.SpreadBps, "VAULTD_PAPER_SPREAD_BPS")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "VAULTD_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "VAULTD_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "VAULTD_WALLET_KEY_PASSWORD")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "VAULTD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "VAULTD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "VAULTD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "VAULTD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "VAULTD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "VAULTD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "VAULTD_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "VAULTD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "VAULTD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "VAULTD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "VAULTD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "VAULTD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "VAULTD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "VAULTD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "VAULTD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "VAULTD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "VAULTD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "VAULTD_S3_REGION")
	setStr(&cfg.S3.Bucket, "VAULTD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "VAULTD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "VAULTD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "VAULTD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "VAULTD_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "VAULTD_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "VAULTD_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "VAULTD_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "VAULTD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "VAULTD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "VAULTD_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "VAULTD_SERVER_API_KEY")
	setStr(&cfg.Server.HMACKey, "VAULTD_SERVER_HMAC_KEY")
	setStr(&cfg.Server.HMACSecret, "VAULTD_SERVER_HMAC_SECRET")
	setInt(&cfg.Server.RateLimit, "VAULTD_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "VAULTD_SERVER_RATE_LIMIT_WINDOW")

	// ── Relayer ──
	setInt(&cfg.Relayer.QueueSize, "VAULTD_RELAYER_QUEUE_SIZE")
	setDuration(&cfg.Relayer.DedupTTL, "VAULTD_RELAYER_DEDUP_TTL")
	setDuration(&cfg.Relayer.LockTTL, "VAULTD_RELAYER_LOCK_TTL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "VAULTD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "VAULTD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "VAULTD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "VAULTD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "VAULTD_MODE")
	setStr(&cfg.LogLevel, "VAULTD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
