package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const envPrefix = "LEASEKEEPER_"

// dotenvFile is loaded if present; variables already set in the process
// environment take precedence over it.
var dotenvFile = ".env"

type envBinding struct {
	name  string
	apply func(c *Config, v string) error
}

func str(set func(c *Config, v string)) func(*Config, string) error {
	return func(c *Config, v string) error { set(c, v); return nil }
}

func dur(set func(c *Config, d time.Duration)) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		set(c, d)
		return nil
	}
}

func num(set func(c *Config, n int)) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		set(c, n)
		return nil
	}
}

var envBindings = []envBinding{
	{"HTTP_ADDR", str(func(c *Config, v string) { c.HTTPAddr = v })},
	{"GRPC_ADDR", str(func(c *Config, v string) { c.GRPCAddr = v })},
	{"DATABASE_DSN", str(func(c *Config, v string) { c.DatabaseDSN = v })},
	{"REDIS_ADDR", str(func(c *Config, v string) { c.RedisAddr = v })},
	{"REDIS_PASSWORD", str(func(c *Config, v string) { c.RedisPassword = v })},
	{"REDIS_DB", num(func(c *Config, n int) { c.RedisDB = n })},
	{"MASTER_KEY", str(func(c *Config, v string) { c.MasterKey = v })},
	{"JWT_SECRET", str(func(c *Config, v string) { c.JWTSecret = v })},
	{"OPERATOR_PASSWORD_HASH", str(func(c *Config, v string) { c.OperatorPasswordHash = v })},
	{"ACCESS_TOKEN_TTL", dur(func(c *Config, d time.Duration) { c.AccessTokenValidityDuration = d })},
	{"SWEEP_INTERVAL", dur(func(c *Config, d time.Duration) { c.SweepInterval = d })},
	{"SWEEP_CONCURRENCY", num(func(c *Config, n int) { c.SweepConcurrency = n })},
	{"LOCK_TTL", dur(func(c *Config, d time.Duration) { c.LockTTL = d })},
	{"RECLAIM_BACKOFF_BASE", dur(func(c *Config, d time.Duration) { c.ReclaimBackoffBase = d })},
	{"RECLAIM_BACKOFF_MAX", dur(func(c *Config, d time.Duration) { c.ReclaimBackoffMax = d })},
	{"MAX_RECLAIM_ATTEMPTS", num(func(c *Config, n int) { c.MaxReclaimAttempts = n })},
	{"PROVIDER_API_BASE", str(func(c *Config, v string) { c.ProviderAPIBase = v })},
	{"ROTATION_TIMEOUT", dur(func(c *Config, d time.Duration) { c.RotationTimeout = d })},
	{"TELEGRAM_TOKEN", str(func(c *Config, v string) { c.TelegramToken = v })},
	{"TELEGRAM_API_BASE", str(func(c *Config, v string) { c.TelegramAPIBase = v })},
	{"OPERATOR_CHAT_IDS", func(c *Config, v string) error {
		ids, err := parseIDList(v)
		if err != nil {
			return err
		}
		c.OperatorChatIDs = ids
		return nil
	}},
	{"MARKETPLACE_API_BASE", str(func(c *Config, v string) { c.MarketplaceAPIBase = v })},
	{"MARKETPLACE_TOKEN", str(func(c *Config, v string) { c.MarketplaceToken = v })},
	{"NOTIFY_RETRIES", num(func(c *Config, n int) { c.NotifyRetries = n })},
	{"PAYMENT_CURRENCY", str(func(c *Config, v string) { c.PaymentCurrency = strings.ToUpper(v) })},
	{"MIN_TOPUP", func(c *Config, v string) error {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return err
		}
		c.MinTopUp = d
		return nil
	}},
	{"S3_ACCESS_KEY", str(func(c *Config, v string) { c.S3AccessKey = v })},
	{"S3_SECRET_KEY", str(func(c *Config, v string) { c.S3SecretKey = v })},
	{"S3_BUCKET", str(func(c *Config, v string) { c.S3Bucket = v })},
	{"S3_REGION", str(func(c *Config, v string) { c.S3Region = v })},
	{"S3_BASE_ENDPOINT", str(func(c *Config, v string) { c.S3BaseEndpoint = v })},
	{"LOG_BACKEND", str(func(c *Config, v string) { c.LogBackend = v })},
	{"LOG_LEVEL", str(func(c *Config, v string) { c.LogLevel = v })},
}

// parseEnv loads dotenvFile (if it exists) into the process environment and
// then applies every LEASEKEEPER_* variable that is set.
func parseEnv(config *Config) error {
	if err := godotenv.Load(dotenvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	for _, b := range envBindings {
		v, ok := os.LookupEnv(envPrefix + b.name)
		if !ok {
			continue
		}
		if err := b.apply(config, v); err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, b.name, err)
		}
	}
	return nil
}

func parseIDList(v string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
