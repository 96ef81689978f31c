// Package config содержит логику чтения конфигурации магазина.
package config

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress  = "localhost:8080"
	defaultBankFeedURL = "https://my.sepay.vn/userapi/transactions/list"
)

// Config содержит параметры конфигурации магазина.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`

	PaymentWindow time.Duration `env:"PAYMENT_WINDOW"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL"`

	BankFeedURL          string `env:"BANK_FEED_URL"`
	BankAccountNumber    string `env:"BANK_ACCOUNT_NUMBER"`
	BankAPIKey           string `env:"BANK_API_KEY"`
	FeedTransactionLimit int    `env:"FEED_TRANSACTION_LIMIT"`

	ConfirmCooldown time.Duration `env:"CONFIRM_COOLDOWN"`
	RedisAddr       string        `env:"REDIS_ADDR"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`

	AuthSecret string `env:"AUTH_SECRET"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	var kafkaBrokers string

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.DurationVar(&cfg.PaymentWindow, "w", 5*time.Minute, "payment window of a new order")
	flag.DurationVar(&cfg.SweepInterval, "s", 30*time.Second, "interval of the expired orders sweep, 0 disables it")
	flag.StringVar(&cfg.BankFeedURL, "f", defaultBankFeedURL, "bank transaction feed URL")
	flag.StringVar(&cfg.BankAccountNumber, "n", "", "receiving bank account number")
	flag.IntVar(&cfg.FeedTransactionLimit, "l", 20, "number of recent transactions to fetch")
	flag.DurationVar(&cfg.ConfirmCooldown, "c", 10*time.Second, "minimal pause between payment confirmations of one order")
	flag.StringVar(&cfg.RedisAddr, "r", "", "redis address for confirmation cooldown")
	flag.StringVar(&kafkaBrokers, "k", "", "comma separated kafka brokers for order events")

	flag.Parse()

	cfg.KafkaBrokers = splitList(kafkaBrokers)

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.KafkaBrokers = splitList(strings.Join(cfg.KafkaBrokers, ","))

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.PaymentWindow <= 0 {
		return nil, fmt.Errorf("payment window must be positive, got %s", cfg.PaymentWindow)
	}
	if cfg.FeedTransactionLimit <= 0 {
		return nil, fmt.Errorf("feed transaction limit must be positive, got %d", cfg.FeedTransactionLimit)
	}

	return cfg, nil
}

func splitList(s string) []string {
	var res []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			res = append(res, part)
		}
	}
	return res
}
