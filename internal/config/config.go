// Package config содержит логику чтения конфигурации сервиса бронирования.
package config

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config содержит параметры конфигурации сервиса бронирования.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	Environment string `env:"ENV" envDefault:"development"`

	AuthSecret string `env:"AUTH_SECRET"`
	CronSecret string `env:"CRON_SECRET"`

	RazorpayBaseURL       string `env:"RAZORPAY_BASE_URL" envDefault:"https://api.razorpay.com"`
	RazorpayKeyID         string `env:"RAZORPAY_KEY_ID"`
	RazorpayKeySecret     string `env:"RAZORPAY_KEY_SECRET"`
	RazorpayWebhookSecret string `env:"RAZORPAY_WEBHOOK_SECRET"`
	Currency              string `env:"CURRENCY" envDefault:"INR"`

	ReservationTTL  time.Duration `env:"RESERVATION_TTL" envDefault:"10m"`
	ReaperInterval  time.Duration `env:"REAPER_INTERVAL" envDefault:"1h"`
	ReaperBatchSize int           `env:"REAPER_BATCH_SIZE" envDefault:"500"`

	DefaultVenueID string `env:"DEFAULT_VENUE_ID" envDefault:"main-ground"`
	VenueTimezone  string `env:"VENUE_TIMEZONE" envDefault:"Asia/Kolkata"`

	RabbitURL      string `env:"RABBIT_URL"`
	EventsExchange string `env:"EVENTS_EXCHANGE" envDefault:"booking.exchange"`
}

// Parse считывает конфигурацию из .env, флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	// .env не обязателен
	_ = godotenv.Load(".env")

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}

// Validate проверяет, что заданы параметры, без которых сервис не может принимать платежи.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURI == "" {
		errs = append(errs, errors.New("database URI is required"))
	}
	if c.RazorpayKeyID == "" || c.RazorpayKeySecret == "" {
		errs = append(errs, errors.New("razorpay key id and secret are required"))
	}
	if c.RazorpayWebhookSecret == "" {
		errs = append(errs, errors.New("razorpay webhook secret is required"))
	}
	if c.ReservationTTL <= 0 {
		errs = append(errs, errors.New("reservation TTL must be positive"))
	}
	if c.ReaperInterval <= 0 {
		errs = append(errs, errors.New("reaper interval must be positive"))
	}
	if _, err := time.LoadLocation(c.VenueTimezone); err != nil {
		errs = append(errs, fmt.Errorf("venue timezone: %w", err))
	}

	return errors.Join(errs...)
}

// Location возвращает часовой пояс площадки.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.VenueTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
