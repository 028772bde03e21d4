// Package config loads relay settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Service ServiceConfig
	Logger  LoggerConfig
	Auth    AuthConfig
	Relay   RelayConfig
	Store   StoreConfig
}

type ServiceConfig struct {
	Name         string        `envconfig:"SERVICE_NAME" default:"scenyx-relay"`
	Env          string        `envconfig:"APP_ENV" default:"development"`
	Addr         string        `envconfig:"HTTP_ADDR" default:":8080"`
	AllowOrigin  string        `envconfig:"CORS_ORIGIN" default:"http://127.0.0.1:5173"`
	ShutdownWait time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

type LoggerConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"json"`
}

type AuthConfig struct {
	Secret        string        `envconfig:"JWT_SECRET" required:"true"`
	SessionCookie string        `envconfig:"SESSION_COOKIE" default:"session"`
	TokenTTL      time.Duration `envconfig:"WS_TOKEN_TTL" default:"1h"`
}

type RelayConfig struct {
	PingInterval    time.Duration `envconfig:"PING_INTERVAL" default:"30s"`
	WriteWait       time.Duration `envconfig:"WRITE_WAIT" default:"10s"`
	MaxFrameBytes   int64         `envconfig:"MAX_FRAME_BYTES" default:"16384"`
	SendBuffer      int           `envconfig:"SEND_BUFFER" default:"256"`
	FrameRate       float64       `envconfig:"FRAME_RATE" default:"20"`
	FrameBurst      int           `envconfig:"FRAME_BURST" default:"40"`
	StrictRecipient bool          `envconfig:"STRICT_RECIPIENT" default:"false"`
}

type StoreConfig struct {
	Driver      string `envconfig:"STORE_DRIVER" default:"memory"`
	PostgresDSN string `envconfig:"DATABASE_URL"`
	ValkeyAddr  string `envconfig:"VALKEY_ADDR" default:"127.0.0.1:6379"`
	SeedDemo    bool   `envconfig:"SEED_DEMO" default:"false"`
}

// Load reads an optional .env file and then the process environment.
func Load(files ...string) (Config, error) {
	// A missing .env is normal outside development
	_ = godotenv.Load(files...)

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if cfg.Auth.Secret == "" {
		return Config{}, fmt.Errorf("load config: JWT_SECRET must not be empty")
	}
	switch cfg.Store.Driver {
	case "memory", "valkey":
	case "postgres":
		if cfg.Store.PostgresDSN == "" {
			return Config{}, fmt.Errorf("load config: DATABASE_URL is required for the postgres store")
		}
	default:
		return Config{}, fmt.Errorf("load config: unknown STORE_DRIVER %q", cfg.Store.Driver)
	}
	return cfg, nil
}
