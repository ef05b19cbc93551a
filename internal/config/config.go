package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName         = "TextWallet"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultShutdownDelay   = 10 * time.Second
	defaultPollInterval    = time.Second
	defaultPollBatchSize   = 100
	defaultDedupTTL        = 24 * time.Hour
	defaultWalletCacheTTL  = 10 * time.Minute
	defaultGatewayTimeout  = 60 * time.Second
	defaultGatewayRPS      = 5
	defaultMessageDBPath   = "./data/messages.db"
	defaultChainID         = 689
	defaultChainName       = "NERO Chain Testnet"
	defaultChainCurrency   = "NERO"
	defaultChainRPCURL     = "https://rpc-testnet.nerochain.io"
	defaultChainExplorer   = "https://testnet.neroscan.io"
	defaultBundlerURL      = "https://bundler-testnet.nerochain.io/"
	defaultPaymasterURL    = "https://paymaster-testnet.nerochain.io"
	defaultEntryPoint      = "0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789"
	defaultAccountFactory  = "0x9406Cc6185a346906296840746125a0E44976454"
	defaultUSDCAddress     = "0xec690C24B7451B85B6167a06292e49B5DA822fBE"
	defaultNotifier        = "log"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
)

// Chain describes the account-abstraction network the wallets live on.
type Chain struct {
	ID             int64
	Name           string
	Currency       string
	RPCURL         string
	ExplorerURL    string
	BundlerURL     string
	PaymasterURL   string
	PaymasterKey   string
	EntryPoint     string
	AccountFactory string
	USDCAddress    string
}

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration

	MessageDBPath     string
	MessageDBWritable bool
	PollInterval      time.Duration
	PollBatchSize     int
	DedupTTL          time.Duration

	WalletFile       string
	WalletCacheTTL   time.Duration
	SecretPassphrase string
	SecretSalt       string
	AdminToken       string

	Chain          Chain
	GatewayTimeout time.Duration
	GatewayRPS     int

	Notifier         string
	NotifyWebhookURL string
}

// Load reads configuration values from the environment and populates a Config instance.
// A .env file in the working directory is honoured when present; real environment
// variables take precedence over it.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		AppName:           getEnv("APP_NAME", defaultAppName),
		AppEnv:            getEnv("APP_ENV", defaultAppEnv),
		Port:              getEnv("PORT", defaultPort),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		ShutdownPeriod:    defaultShutdownDelay,
		MessageDBPath:     getEnv("MESSAGE_DB_PATH", defaultMessageDBPath),
		PollInterval:      defaultPollInterval,
		PollBatchSize:     defaultPollBatchSize,
		DedupTTL:          defaultDedupTTL,
		WalletFile:        os.Getenv("WALLET_FILE"),
		WalletCacheTTL:    defaultWalletCacheTTL,
		SecretPassphrase:  os.Getenv("SECRET_PASSPHRASE"),
		SecretSalt:        os.Getenv("SECRET_SALT"),
		AdminToken:        os.Getenv("ADMIN_TOKEN"),
		GatewayTimeout:    defaultGatewayTimeout,
		GatewayRPS:        defaultGatewayRPS,
		Notifier:          strings.ToLower(getEnv("NOTIFIER", defaultNotifier)),
		NotifyWebhookURL:  os.Getenv("NOTIFY_WEBHOOK_URL"),
		Chain: Chain{
			ID:             defaultChainID,
			Name:           getEnv("CHAIN_NAME", defaultChainName),
			Currency:       getEnv("CHAIN_CURRENCY", defaultChainCurrency),
			RPCURL:         getEnv("CHAIN_RPC_URL", defaultChainRPCURL),
			ExplorerURL:    strings.TrimRight(getEnv("CHAIN_EXPLORER_URL", defaultChainExplorer), "/"),
			BundlerURL:     getEnv("CHAIN_BUNDLER_URL", defaultBundlerURL),
			PaymasterURL:   getEnv("CHAIN_PAYMASTER_URL", defaultPaymasterURL),
			PaymasterKey:   os.Getenv("NERO_AA_API_KEY"),
			EntryPoint:     getEnv("CHAIN_ENTRY_POINT", defaultEntryPoint),
			AccountFactory: getEnv("CHAIN_ACCOUNT_FACTORY", defaultAccountFactory),
			USDCAddress:    getEnv("CHAIN_USDC_ADDRESS", defaultUSDCAddress),
		},
	}

	var err error
	if v := os.Getenv(shutdownSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownSecondsEnvVar, err)
		}
		cfg.ShutdownPeriod = time.Duration(seconds) * time.Second
	} else if cfg.ShutdownPeriod, err = getDuration(shutdownDurationEnvVar, cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}

	if cfg.PollInterval, err = getDuration("POLL_INTERVAL", cfg.PollInterval); err != nil {
		return Config{}, err
	}
	if cfg.DedupTTL, err = getDuration("DEDUP_TTL", cfg.DedupTTL); err != nil {
		return Config{}, err
	}
	if cfg.WalletCacheTTL, err = getDuration("WALLET_CACHE_TTL", cfg.WalletCacheTTL); err != nil {
		return Config{}, err
	}
	if cfg.GatewayTimeout, err = getDuration("GATEWAY_TIMEOUT", cfg.GatewayTimeout); err != nil {
		return Config{}, err
	}
	if cfg.PollBatchSize, err = getInt("POLL_BATCH_SIZE", cfg.PollBatchSize); err != nil {
		return Config{}, err
	}
	if cfg.GatewayRPS, err = getInt("GATEWAY_RPS", cfg.GatewayRPS); err != nil {
		return Config{}, err
	}
	chainID, err := getInt("CHAIN_ID", int(cfg.Chain.ID))
	if err != nil {
		return Config{}, err
	}
	cfg.Chain.ID = int64(chainID)

	if v := os.Getenv("MESSAGE_DB_WRITABLE"); v != "" {
		writable, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid MESSAGE_DB_WRITABLE: %w", err)
		}
		cfg.MessageDBWritable = writable
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.PollBatchSize <= 0 {
		return fmt.Errorf("POLL_BATCH_SIZE must be positive")
	}
	if c.GatewayRPS <= 0 {
		return fmt.Errorf("GATEWAY_RPS must be positive")
	}
	switch c.Notifier {
	case "log", "applescript":
	case "webhook":
		if c.NotifyWebhookURL == "" {
			return fmt.Errorf("NOTIFY_WEBHOOK_URL must be set when NOTIFIER=webhook")
		}
	default:
		return fmt.Errorf("unknown NOTIFIER %q", c.Notifier)
	}
	if c.IsDev() {
		return nil
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL must be set")
	}
	if c.SecretPassphrase == "" || c.SecretSalt == "" {
		return fmt.Errorf("SECRET_PASSPHRASE and SECRET_SALT must be set")
	}
	if c.AdminToken == "" {
		return fmt.Errorf("ADMIN_TOKEN must be set")
	}
	return nil
}

// IsDev reports whether the app runs in a local/development environment where
// Postgres, Redis and secret sealing are optional.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
