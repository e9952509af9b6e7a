package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Booking   BookingConfig
	Queue     QueueConfig
	RateLimit RateLimitConfig
}

type AppConfig struct {
	Port     string
	Env      string
	Timezone string
	LogLevel string

	// AllowedOrigin is echoed in CORS headers and checked on websocket upgrades; "*" allows any
	AllowedOrigin string
}

// Location returns the clinic's local timezone. Session windows and calendar days are
// interpreted in this location.
func (c AppConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

type DBConfig struct {
	Host        string
	Port        string
	User        string
	Password    string
	Name        string
	AutoMigrate bool
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret        string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
}

type BookingConfig struct {
	LeadTime          time.Duration
	MaxFamilyMembers  int
	SessionLockExpiry time.Duration
}

type QueueConfig struct {
	RefreshInterval    time.Duration
	ReorderCooldown    time.Duration
	WriteConcurrency   int
	BreakCheckInterval time.Duration
}

type RateLimitConfig struct {
	RPS   float64
	Burst int
}

func LoadConfig() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.SetDefault("APP_PORT", "8080")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("CORS_ALLOWED_ORIGIN", "*")
	viper.SetDefault("DB_AUTO_MIGRATE", true)
	viper.SetDefault("BOOKING_MAX_FAMILY", 4)
	viper.SetDefault("QUEUE_WRITE_CONCURRENCY", 8)
	viper.SetDefault("RATE_LIMIT_RPS", 5)
	viper.SetDefault("RATE_LIMIT_BURST", 10)

	if err := viper.ReadInConfig(); err != nil {
		// A missing .env is fine in containers where everything comes from the environment.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	config := &Config{
		App: AppConfig{
			Port:     viper.GetString("APP_PORT"),
			Env:      viper.GetString("APP_ENV"),
			Timezone: viper.GetString("APP_TIMEZONE"),
			LogLevel: viper.GetString("LOG_LEVEL"),

			AllowedOrigin: viper.GetString("CORS_ALLOWED_ORIGIN"),
		},
		DB: DBConfig{
			Host:        viper.GetString("DB_HOST"),
			Port:        viper.GetString("DB_PORT"),
			User:        viper.GetString("DB_USER"),
			Password:    viper.GetString("DB_PASSWORD"),
			Name:        viper.GetString("DB_NAME"),
			AutoMigrate: viper.GetBool("DB_AUTO_MIGRATE"),
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetString("REDIS_PORT"),
			Password: viper.GetString("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
		},
		JWT: JWTConfig{
			Secret:        viper.GetString("JWT_SECRET"),
			AccessExpiry:  durationOr("JWT_ACCESS_EXPIRY", 15*time.Minute),
			RefreshExpiry: durationOr("JWT_REFRESH_EXPIRY", 7*24*time.Hour),
		},
		Booking: BookingConfig{
			LeadTime:          durationOr("BOOKING_LEAD_TIME", 3*time.Hour),
			MaxFamilyMembers:  viper.GetInt("BOOKING_MAX_FAMILY"),
			SessionLockExpiry: durationOr("BOOKING_LOCK_EXPIRY", 10*time.Second),
		},
		Queue: QueueConfig{
			RefreshInterval:    durationOr("QUEUE_REFRESH_INTERVAL", 30*time.Second),
			ReorderCooldown:    durationOr("QUEUE_REORDER_COOLDOWN", 15*time.Second),
			WriteConcurrency:   viper.GetInt("QUEUE_WRITE_CONCURRENCY"),
			BreakCheckInterval: durationOr("BREAK_CHECK_INTERVAL", 60*time.Second),
		},
		RateLimit: RateLimitConfig{
			RPS:   viper.GetFloat64("RATE_LIMIT_RPS"),
			Burst: viper.GetInt("RATE_LIMIT_BURST"),
		},
	}

	return config, nil
}

// durationOr parses a Go duration string from the environment, falling back on absence or
// a malformed value.
func durationOr(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(viper.GetString(key))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
