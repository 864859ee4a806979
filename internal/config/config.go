/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config assembles the rewire-server configuration surface from
// flags, environment variables and an optional YAML overlay for secrets.
// Precedence, lowest to highest: defaults < YAML file < environment < flags.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config is the fully resolved rewire-server configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Server    ServerConfig    `yaml:"server"`
	Checker   CheckerConfig   `yaml:"checker"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Webhooks  WebhooksConfig  `yaml:"webhooks"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type StorageConfig struct {
	DSN string `yaml:"dsn"`
}

type ServerConfig struct {
	ListenAddr  string `yaml:"listen_addr"`
	PublicURL   string `yaml:"public_url"`
	AdminToken  string `yaml:"admin_token"`
	MetricsPort int    `yaml:"metrics_port"`
}

type CheckerConfig struct {
	PeriodS      int64 `yaml:"period_s"`
	RenotifyS    int64 `yaml:"renotify_s"`
	ObsHistory   int   `yaml:"obs_history"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type WebhooksConfig struct {
	Generic []string `yaml:"generic"`
	Slack   string   `yaml:"slack"`
	Discord string   `yaml:"discord"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	Dev   bool   `yaml:"dev"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// DefaultConfig returns the configuration every field falls back to absent
// any flag, env var or YAML value.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:  ":8080",
			PublicURL:   "http://localhost:8080",
			MetricsPort: 9090,
		},
		Checker: CheckerConfig{
			PeriodS:    60,
			RenotifyS:  0,
			ObsHistory: 80,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load resolves a Config from CLI flags, falling back to environment
// variables and, if --config-file is set, a YAML overlay applied before
// flags/env so the command line always wins.
func Load(args []string) (*Config, error) {
	cfg := DefaultConfig()

	fs := pflag.NewFlagSet("rewire-server", pflag.ContinueOnError)
	configFile := fs.String("config-file", "", "optional YAML file with SMTP/webhook secrets")
	dsn := fs.String("storage-dsn", "", "Postgres connection string")
	listenAddr := fs.String("listen-addr", cfg.Server.ListenAddr, "HTTP listen address")
	publicURL := fs.String("public-url", cfg.Server.PublicURL, "base URL used to build ack/observe links")
	adminToken := fs.String("admin-token", "", "bearer token required on /admin/*")
	metricsPort := fs.Int("metrics-port", cfg.Server.MetricsPort, "Prometheus /metrics port")
	checkerPeriod := fs.Int64("checker-period-s", cfg.Checker.PeriodS, "Checker tick period in seconds")
	renotify := fs.Int64("renotify-s", cfg.Checker.RenotifyS, "re-notify window in seconds, 0 disables")
	smtpHost := fs.String("smtp-host", "", "SMTP host; empty logs email instead of sending it")
	smtpPort := fs.Int("smtp-port", 587, "SMTP port")
	smtpUser := fs.String("smtp-user", "", "SMTP username")
	smtpFrom := fs.String("smtp-from", "", "SMTP From address")
	slackURL := fs.String("slack-webhook-url", "", "Slack incoming webhook URL")
	discordURL := fs.String("discord-webhook-url", "", "Discord webhook URL")
	genericURLs := fs.StringSlice("webhook-url", nil, "generic webhook URL, repeatable")
	redisURL := fs.String("redis-url", "", "optional Redis URL for checker leader election")
	logLevel := fs.String("log-level", cfg.Logging.Level, "debug|info|warn|error")
	dev := fs.Bool("dev", false, "console logging instead of JSON")
	otlpEndpoint := fs.String("otlp-endpoint", "", "optional OTLP collector endpoint")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	if *configFile != "" {
		if err := applyYAML(cfg, *configFile); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if *dsn != "" {
		cfg.Storage.DSN = *dsn
	}
	if fs.Changed("listen-addr") {
		cfg.Server.ListenAddr = *listenAddr
	}
	if fs.Changed("public-url") {
		cfg.Server.PublicURL = *publicURL
	}
	if *adminToken != "" {
		cfg.Server.AdminToken = *adminToken
	}
	if fs.Changed("metrics-port") {
		cfg.Server.MetricsPort = *metricsPort
	}
	if fs.Changed("checker-period-s") {
		cfg.Checker.PeriodS = *checkerPeriod
	}
	if fs.Changed("renotify-s") {
		cfg.Checker.RenotifyS = *renotify
	}
	if *smtpHost != "" {
		cfg.SMTP.Host = *smtpHost
	}
	if fs.Changed("smtp-port") {
		cfg.SMTP.Port = *smtpPort
	}
	if *smtpUser != "" {
		cfg.SMTP.User = *smtpUser
	}
	if *smtpFrom != "" {
		cfg.SMTP.From = *smtpFrom
	}
	if *slackURL != "" {
		cfg.Webhooks.Slack = *slackURL
	}
	if *discordURL != "" {
		cfg.Webhooks.Discord = *discordURL
	}
	if len(*genericURLs) > 0 {
		cfg.Webhooks.Generic = *genericURLs
	}
	if *redisURL != "" {
		cfg.Redis.URL = *redisURL
	}
	if fs.Changed("log-level") {
		cfg.Logging.Level = *logLevel
	}
	if *dev {
		cfg.Logging.Dev = true
	}
	if *otlpEndpoint != "" {
		cfg.Telemetry.OTLPEndpoint = *otlpEndpoint
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("REWIRE_STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("REWIRE_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("REWIRE_PUBLIC_URL"); v != "" {
		cfg.Server.PublicURL = v
	}
	if v := os.Getenv("REWIRE_ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("REWIRE_CHECKER_PERIOD_S"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Checker.PeriodS = n
		}
	}
	if v := os.Getenv("REWIRE_SMTP_HOST"); v != "" {
		cfg.SMTP.Host = v
	}
	if v := os.Getenv("REWIRE_SMTP_PASSWORD"); v != "" {
		cfg.SMTP.Password = v
	}
	if v := os.Getenv("REWIRE_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("REWIRE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate rejects a Config that would make the server start in a way
// that violates spec invariants.
func Validate(cfg *Config) error {
	if cfg.Storage.DSN == "" {
		return fmt.Errorf("storage DSN is required")
	}
	if cfg.Server.AdminToken == "" {
		return fmt.Errorf("admin token is required")
	}
	if cfg.Checker.PeriodS <= 0 {
		return fmt.Errorf("checker period must be greater than 0")
	}
	if cfg.Checker.RenotifyS < 0 {
		return fmt.Errorf("renotify window must be >= 0")
	}
	return nil
}

// CheckerPeriod returns the tick period as a time.Duration.
func (c *Config) CheckerPeriod() time.Duration {
	return time.Duration(c.Checker.PeriodS) * time.Second
}
