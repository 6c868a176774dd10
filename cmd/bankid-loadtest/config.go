package main

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// loadConfig holds the run parameters. Values come from BANKID_* environment
// variables or an optional .env file; command-line flags override them.
type loadConfig struct {
	Orders      int           `mapstructure:"ORDERS"`
	Concurrency int           `mapstructure:"CONCURRENCY"`
	RedisAddr   string        `mapstructure:"REDIS_ADDR"`
	Prefix      string        `mapstructure:"QR_PREFIX"`
	Refresh     time.Duration `mapstructure:"REFRESH_INTERVAL"`
	Pending     int           `mapstructure:"PENDING_STEPS"`
	Metrics     bool          `mapstructure:"PRINT_METRICS"`
}

func readConfig() (*loadConfig, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.SetEnvPrefix("BANKID")
	v.AutomaticEnv()

	v.SetDefault("ORDERS", 2000)
	v.SetDefault("CONCURRENCY", 64)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("QR_PREFIX", "bqr")
	v.SetDefault("REFRESH_INTERVAL", "10ms")
	v.SetDefault("PENDING_STEPS", 2)
	v.SetDefault("PRINT_METRICS", false)

	var cfg loadConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *loadConfig) validate() error {
	if c.Orders <= 0 || c.Concurrency <= 0 {
		return errors.New("orders and concurrency must be > 0")
	}
	if c.Refresh <= 0 {
		return errors.New("refresh interval must be > 0")
	}
	if c.Pending < 0 {
		return errors.New("pending steps must be >= 0")
	}
	return nil
}
