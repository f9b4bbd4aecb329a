package main

import (
	"log"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

var logLevels = map[uint8]slog.Level{
	0: slog.LevelDebug,
	1: slog.LevelInfo,
	2: slog.LevelWarn,
	3: slog.LevelError,
}

type System struct {
	Port            string `env:"SYSTEM_PORT" envDefault:"9090"`
	PrivateKey      string `env:"SYSTEM_PRIVATE_KEY,required"`
	AdminAuthTokens string `env:"SYSTEM_ADMIN_AUTH_TOKENS" envDefault:""`
	LogLevel        uint8  `env:"SYSTEM_LOG_LEVEL" envDefault:"1"` // 0 - debug, 1 - info, 2 - warn, 3 - error
	MinDurationDays uint32 `env:"SYSTEM_MIN_DURATION_DAYS" envDefault:"1"`
	BodyLimit       int    `env:"SYSTEM_BODY_LIMIT" envDefault:"1073741824"`
}

type Metrics struct {
	Namespace        string `env:"NAMESPACE" envDefault:"pinledger"`
	ServerSubsystem  string `env:"SERVER_SUBSYSTEM" envDefault:"server"`
	WorkersSubsystem string `env:"WORKERS_SUBSYSTEM" envDefault:"workers"`
	DbSubsystem      string `env:"DB_SUBSYSTEM" envDefault:"db"`
}

type Solana struct {
	RPCURL     string `env:"SOLANA_RPC_URL,required"`
	ProgramID  string `env:"SOLANA_PROGRAM_ID,required"`
	Commitment string `env:"SOLANA_COMMITMENT" envDefault:"confirmed"`
}

type Pricing struct {
	FeedURL     string        `env:"PRICING_FEED_URL" envDefault:"https://api.coingecko.com/api/v3"`
	TokenID     string        `env:"PRICING_TOKEN_ID" envDefault:"solana"`
	Currency    string        `env:"PRICING_CURRENCY" envDefault:"usd"`
	DefaultRate string        `env:"PRICING_DEFAULT_RATE" envDefault:"0.000000000004"`
	CacheTTL    time.Duration `env:"PRICING_CACHE_TTL" envDefault:"5m"`
	ParamsTTL   time.Duration `env:"PRICING_PARAMS_TTL" envDefault:"1m"`
}

type Storage struct {
	BaseURL        string `env:"STORAGE_BASE_URL,required"`
	GatewayURL     string `env:"STORAGE_GATEWAY_URL" envDefault:"https://w3s.link/ipfs"`
	Token          string `env:"STORAGE_TOKEN,required"`
	PlanLimitBytes uint64 `env:"STORAGE_PLAN_LIMIT_BYTES" envDefault:"0"`
}

type Email struct {
	Host            string   `env:"EMAIL_SMTP_HOST" envDefault:""`
	Port            string   `env:"EMAIL_SMTP_PORT" envDefault:"587"`
	Username        string   `env:"EMAIL_SMTP_USERNAME" envDefault:""`
	Password        string   `env:"EMAIL_SMTP_PASSWORD" envDefault:""`
	From            string   `env:"EMAIL_SMTP_FROM" envDefault:"alerts@pinledger.local"`
	AlertRecipients []string `env:"EMAIL_ALERT_RECIPIENTS" envSeparator:","`
}

type Usage struct {
	SnapshotInterval   time.Duration `env:"USAGE_SNAPSHOT_INTERVAL" envDefault:"24h"`
	ComparisonInterval time.Duration `env:"USAGE_COMPARISON_INTERVAL" envDefault:"168h"`
}

type Postgress struct {
	Host     string `env:"DB_HOST,required"`
	Port     string `env:"DB_PORT,required"`
	User     string `env:"DB_USER,required"`
	Password string `env:"DB_PASSWORD,required"`
	Name     string `env:"DB_NAME,required"`
}

type Config struct {
	System  System
	Metrics Metrics
	Solana  Solana
	Pricing Pricing
	Storage Storage
	Email   Email
	Usage   Usage
	DB      Postgress
}

func loadConfig() *Config {
	cfg := &Config{}
	if err := env.Parse(&cfg.System); err != nil {
		log.Fatalf("Failed to parse system config: %v", err)
	}
	if err := env.Parse(&cfg.Metrics); err != nil {
		log.Fatalf("Failed to parse metrics config: %v", err)
	}
	if err := env.Parse(&cfg.Solana); err != nil {
		log.Fatalf("Failed to parse solana config: %v", err)
	}
	if err := env.Parse(&cfg.Pricing); err != nil {
		log.Fatalf("Failed to parse pricing config: %v", err)
	}
	if err := env.Parse(&cfg.Storage); err != nil {
		log.Fatalf("Failed to parse storage config: %v", err)
	}
	if err := env.Parse(&cfg.Email); err != nil {
		log.Fatalf("Failed to parse email config: %v", err)
	}
	if err := env.Parse(&cfg.Usage); err != nil {
		log.Fatalf("Failed to parse usage config: %v", err)
	}
	if err := env.Parse(&cfg.DB); err != nil {
		log.Fatalf("Failed to parse db config: %v", err)
	}

	return cfg
}
