package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/leasekeeper/internal/flagx"
	"github.com/dmitrijs2005/leasekeeper/internal/server/models"
	"github.com/dmitrijs2005/leasekeeper/internal/timex"
	"github.com/shopspring/decimal"
)

// JsonConfig is the on-disk shape of the configuration file. Interval fields
// use timex.Duration, so "5m" and integer nanoseconds are both accepted.
// Fields absent from the file leave the corresponding Config value unchanged.
type JsonConfig struct {
	HTTPAddr      *string `json:"http_addr"`
	GRPCAddr      *string `json:"grpc_addr"`
	DatabaseDSN   *string `json:"database_dsn"`
	RedisAddr     *string `json:"redis_addr"`
	RedisPassword *string `json:"redis_password"`
	RedisDB       *int    `json:"redis_db"`
	MasterKey     *string `json:"master_key"`

	JWTSecret                   *string         `json:"jwt_secret"`
	OperatorPasswordHash        *string         `json:"operator_password_hash"`
	AccessTokenValidityDuration *timex.Duration `json:"access_token_validity_duration"`

	SweepInterval      *timex.Duration `json:"sweep_interval"`
	SweepConcurrency   *int            `json:"sweep_concurrency"`
	LockTTL            *timex.Duration `json:"lock_ttl"`
	ReclaimBackoffBase *timex.Duration `json:"reclaim_backoff_base"`
	ReclaimBackoffMax  *timex.Duration `json:"reclaim_backoff_max"`
	MaxReclaimAttempts *int            `json:"max_reclaim_attempts"`

	ProviderAPIBase *string         `json:"provider_api_base"`
	RotationTimeout *timex.Duration `json:"rotation_timeout"`

	TelegramToken      *string `json:"telegram_token"`
	TelegramAPIBase    *string `json:"telegram_api_base"`
	OperatorChatIDs    []int64 `json:"operator_chat_ids"`
	MarketplaceAPIBase *string `json:"marketplace_api_base"`
	MarketplaceToken   *string `json:"marketplace_token"`
	NotifyRetries      *int    `json:"notify_retries"`

	PaymentCurrency *string          `json:"payment_currency"`
	MinTopUp        *decimal.Decimal `json:"min_topup"`
	Plans           []models.Plan    `json:"plans"`

	S3AccessKey    *string `json:"s3_access_key"`
	S3SecretKey    *string `json:"s3_secret_key"`
	S3Bucket       *string `json:"s3_bucket"`
	S3Region       *string `json:"s3_region"`
	S3BaseEndpoint *string `json:"s3_base_endpoint"`

	LogBackend *string `json:"log_backend"`
	LogLevel   *string `json:"log_level"`
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setDur(dst *time.Duration, src *timex.Duration) {
	if src != nil {
		*dst = src.Duration
	}
}

// parseJson overlays values from the file named by -c/-config in args.
// Without the flag nothing is loaded.
func parseJson(config *Config, args []string) error {
	jsonConfigFile := flagx.ConfigPath(args)
	if jsonConfigFile == "" {
		return nil
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		return err
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return err
	}

	c.applyTo(config)
	return nil
}

func (c *JsonConfig) applyTo(config *Config) {
	set(&config.HTTPAddr, c.HTTPAddr)
	set(&config.GRPCAddr, c.GRPCAddr)
	set(&config.DatabaseDSN, c.DatabaseDSN)
	set(&config.RedisAddr, c.RedisAddr)
	set(&config.RedisPassword, c.RedisPassword)
	set(&config.RedisDB, c.RedisDB)
	set(&config.MasterKey, c.MasterKey)

	set(&config.JWTSecret, c.JWTSecret)
	set(&config.OperatorPasswordHash, c.OperatorPasswordHash)
	setDur(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)

	setDur(&config.SweepInterval, c.SweepInterval)
	set(&config.SweepConcurrency, c.SweepConcurrency)
	setDur(&config.LockTTL, c.LockTTL)
	setDur(&config.ReclaimBackoffBase, c.ReclaimBackoffBase)
	setDur(&config.ReclaimBackoffMax, c.ReclaimBackoffMax)
	set(&config.MaxReclaimAttempts, c.MaxReclaimAttempts)

	set(&config.ProviderAPIBase, c.ProviderAPIBase)
	setDur(&config.RotationTimeout, c.RotationTimeout)

	set(&config.TelegramToken, c.TelegramToken)
	set(&config.TelegramAPIBase, c.TelegramAPIBase)
	if c.OperatorChatIDs != nil {
		config.OperatorChatIDs = c.OperatorChatIDs
	}
	set(&config.MarketplaceAPIBase, c.MarketplaceAPIBase)
	set(&config.MarketplaceToken, c.MarketplaceToken)
	set(&config.NotifyRetries, c.NotifyRetries)

	set(&config.PaymentCurrency, c.PaymentCurrency)
	set(&config.MinTopUp, c.MinTopUp)
	if c.Plans != nil {
		config.Plans = c.Plans
	}

	set(&config.S3AccessKey, c.S3AccessKey)
	set(&config.S3SecretKey, c.S3SecretKey)
	set(&config.S3Bucket, c.S3Bucket)
	set(&config.S3Region, c.S3Region)
	set(&config.S3BaseEndpoint, c.S3BaseEndpoint)

	set(&config.LogBackend, c.LogBackend)
	set(&config.LogLevel, c.LogLevel)
}
