package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Queue    string
}

type AuthConfig struct {
	AccessSecret string
}

type PaymentConfig struct {
	Provider   string
	MaxRetries int
	RetryBase  time.Duration
}

type FeeConfig struct {
	PlatformRate   decimal.Decimal
	ProcessorRate  decimal.Decimal
	ProcessorFixed decimal.Decimal
}

type Config struct {
	Environment string
	HTTP        HTTPConfig
	DB          DBConfig
	Redis       RedisConfig
	Auth        AuthConfig
	Payment     PaymentConfig
	Fees        FeeConfig
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./deploy")
	v.AddConfigPath("./internal/config")
	v.AutomaticEnv()

	_ = v.ReadInConfig()

	platformRate, err := parseRate(v, "FEE_PLATFORM_RATE", "0.10")
	if err != nil {
		return nil, err
	}
	processorRate, err := parseRate(v, "FEE_PROCESSOR_RATE", "0.029")
	if err != nil {
		return nil, err
	}
	processorFixed, err := parseRate(v, "FEE_PROCESSOR_FIXED", "0")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment: v.GetString("APP_ENV"),
		HTTP: HTTPConfig{
			Host: v.GetString("HTTP_HOST"),
			Port: v.GetInt("HTTP_PORT"),
		},
		DB: DBConfig{
			DSN:             v.GetString("DB_DSN"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
			Queue:    v.GetString("NOTIFY_QUEUE"),
		},
		Auth: AuthConfig{
			AccessSecret: v.GetString("JWT_ACCESS_SECRET"),
		},
		Payment: PaymentConfig{
			Provider:   v.GetString("PAYMENT_PROVIDER"),
			MaxRetries: v.GetInt("PAYMENT_MAX_RETRIES"),
			RetryBase:  v.GetDuration("PAYMENT_RETRY_BASE"),
		},
		Fees: FeeConfig{
			PlatformRate:   platformRate,
			ProcessorRate:  processorRate,
			ProcessorFixed: processorFixed,
		},
	}

	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 7090
	}
	if cfg.DB.MaxOpenConns <= 0 {
		cfg.DB.MaxOpenConns = 25
	}
	if cfg.DB.MaxIdleConns <= 0 {
		cfg.DB.MaxIdleConns = 5
	}
	if cfg.DB.ConnMaxLifetime <= 0 {
		cfg.DB.ConnMaxLifetime = 30 * time.Minute
	}
	if cfg.Redis.Queue == "" {
		cfg.Redis.Queue = "notification_queue"
	}
	if cfg.Payment.Provider == "" {
		cfg.Payment.Provider = "stub"
	}
	if cfg.Payment.MaxRetries <= 0 {
		cfg.Payment.MaxRetries = 3
	}
	if cfg.Payment.RetryBase <= 0 {
		cfg.Payment.RetryBase = 200 * time.Millisecond
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.DB.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if cfg.Auth.AccessSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.Fees.PlatformRate.IsNegative() || cfg.Fees.ProcessorRate.IsNegative() {
		return fmt.Errorf("fee rates must not be negative")
	}
	return nil
}

func parseRate(v *viper.Viper, key, fallback string) (decimal.Decimal, error) {
	raw := v.GetString(key)
	if raw == "" {
		raw = fallback
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s: invalid decimal %q", key, raw)
	}
	return rate, nil
}
