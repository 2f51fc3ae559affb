package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the application configuration, loaded from an optional JSON
// file with environment variable overrides.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Email     EmailConfig     `json:"email"`
	Logging   LoggingConfig   `json:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// DatabaseConfig holds relational store settings.
type DatabaseConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	User         string        `json:"user"`
	Password     string        `json:"password"`
	DBName       string        `json:"db_name"`
	SSLMode      string        `json:"ssl_mode"`
	QueryTimeout time.Duration `json:"query_timeout"`
}

// DSN builds the Postgres connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// SchedulerConfig holds the job intervals in seconds.
type SchedulerConfig struct {
	ValuePollSeconds    int `json:"value_poll_seconds"`
	AlertSweepSeconds   int `json:"alert_sweep_seconds"`
	TrendSweepSeconds   int `json:"trend_sweep_seconds"`
	InsightSweepSeconds int `json:"insight_sweep_seconds"`
	MaxConcurrentKPIs   int `json:"max_concurrent_kpis"`
	TrendLookbackDays   int `json:"trend_lookback_days"`
	InsightLookbackDays int `json:"insight_lookback_days"`
}

// EmailConfig holds SMTP delivery settings for the email channel.
type EmailConfig struct {
	SMTPHost    string `json:"smtp_host"`
	SMTPPort    int    `json:"smtp_port"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	FromAddress string `json:"from_address"`
	FromName    string `json:"from_name"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level string `json:"level"`
}

// Load reads configuration from the given path (skipped when missing)
// and applies environment overrides.
func Load(configPath string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:         "localhost",
			Port:         5432,
			User:         os.Getenv("USER"),
			DBName:       "bizpulse",
			SSLMode:      "disable",
			QueryTimeout: 15 * time.Second,
		},
		Scheduler: SchedulerConfig{
			ValuePollSeconds:    30,
			AlertSweepSeconds:   60,
			TrendSweepSeconds:   3600,
			InsightSweepSeconds: 7200,
			MaxConcurrentKPIs:   5,
			TrendLookbackDays:   30,
			InsightLookbackDays: 7,
		},
		Logging: LoggingConfig{Level: "info"},
	}

	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	overrideWithEnv(cfg)
	return cfg, nil
}

func overrideWithEnv(cfg *Config) {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if host := os.Getenv("DATABASE_HOST"); host != "" {
		cfg.Database.Host = host
	}
	if port := os.Getenv("DATABASE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Database.Port = p
		}
	}
	if user := os.Getenv("DATABASE_USER"); user != "" {
		cfg.Database.User = user
	}
	if pass := os.Getenv("DATABASE_PASSWORD"); pass != "" {
		cfg.Database.Password = pass
	}
	if name := os.Getenv("DATABASE_DBNAME"); name != "" {
		cfg.Database.DBName = name
	}
	if mode := os.Getenv("DATABASE_SSLMODE"); mode != "" {
		cfg.Database.SSLMode = mode
	}
	if host := os.Getenv("SMTP_HOST"); host != "" {
		cfg.Email.SMTPHost = host
	}
	if port := os.Getenv("SMTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Email.SMTPPort = p
		}
	}
	if user := os.Getenv("SMTP_USERNAME"); user != "" {
		cfg.Email.Username = user
	}
	if pass := os.Getenv("SMTP_PASSWORD"); pass != "" {
		cfg.Email.Password = pass
	}
	if from := os.Getenv("SMTP_FROM"); from != "" {
		cfg.Email.FromAddress = from
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}
