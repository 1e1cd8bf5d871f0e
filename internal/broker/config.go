package broker

import (
	"time"

	"relay/internal/config"

	"github.com/redis/go-redis/v9"
)

// Config holds connection settings for the broker.
type Config struct {
	Addr        string        // host:port (default: localhost:6379)
	Password    string        // read from BROKER_PASSWORD_FILE
	DB          int           // logical database
	PoolSize    int           // connections per process (0 = go-redis default)
	DialTimeout time.Duration // default: 5s
}

// LoadConfigFromEnv loads broker configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		Addr:        config.GetEnv("BROKER_ADDR", "localhost:6379"),
		Password:    config.GetSecretFile(config.GetEnv("BROKER_PASSWORD_FILE", "")),
		DB:          config.GetIntEnv("BROKER_DB", 0),
		PoolSize:    config.GetIntEnv("BROKER_POOL_SIZE", 0),
		DialTimeout: config.GetDurationEnv("BROKER_DIAL_TIMEOUT", 5*time.Second),
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero values with defaults.
func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.DB < 0 {
		c.DB = 0
	}
	if c.PoolSize < 0 {
		c.PoolSize = 0
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	return c
}

func (c Config) options() *redis.Options {
	return &redis.Options{
		Addr:        c.Addr,
		Password:    c.Password,
		DB:          c.DB,
		PoolSize:    c.PoolSize,
		DialTimeout: c.DialTimeout,
	}
}
