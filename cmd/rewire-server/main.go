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

// Command rewire-server runs Ingress, the Checker loop and the metrics
// server as one process, wired from flags/env/YAML and shut down
// gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"

	"github.com/rewirehq/rewire/internal/config"
	"github.com/rewirehq/rewire/internal/idgen"
	"github.com/rewirehq/rewire/internal/logging"
	"github.com/rewirehq/rewire/pkg/checker"
	"github.com/rewirehq/rewire/pkg/ingress"
	"github.com/rewirehq/rewire/pkg/leaderlock"
	"github.com/rewirehq/rewire/pkg/metrics"
	"github.com/rewirehq/rewire/pkg/notifier"
	"github.com/rewirehq/rewire/pkg/store"
	"github.com/rewirehq/rewire/pkg/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "rewire-server:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, "rewire-server", cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	db, err := store.Connect(cfg.Storage.DSN, log)
	if err != nil {
		return fmt.Errorf("connect store: %w", err)
	}
	defer db.Close()
	st := store.NewPostgresStore(db, log)

	email := notifier.NewEmailSink(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Password, cfg.SMTP.From, log)
	webhooks := notifier.NewWebhookFanout(cfg.Webhooks.Generic, cfg.Webhooks.Slack, cfg.Webhooks.Discord)
	notif := notifier.New(email, webhooks, log)

	holder, err := buildHolder(cfg)
	if err != nil {
		return fmt.Errorf("build leader lock: %w", err)
	}

	clock := checker.RealClock{}
	chk := checker.New(st, notif, clock, cfg.Server.PublicURL, cfg.Checker.RenotifyS, log, holder)
	chk.ObsHistory = cfg.Checker.ObsHistory

	metricsServer := metrics.NewServer(cfg.Server.MetricsPort, log)
	metricsServer.StartAsync()
	defer func() { _ = metricsServer.Stop(context.Background()) }()

	httpServer := ingress.New(st, cfg.Server.AdminToken, cfg.Server.PublicURL, log)

	errCh := make(chan error, 2)
	go func() {
		if err := httpServer.ListenAndServe(ctx, cfg.Server.ListenAddr); err != nil {
			errCh <- fmt.Errorf("ingress server: %w", err)
		}
	}()
	go func() {
		chk.Run(ctx, cfg.CheckerPeriod())
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	if holder != nil {
		_ = holder.Release(context.Background())
	}
	return nil
}

func newLogger(cfg *config.Config) (logr.Logger, error) {
	if cfg.Logging.Dev {
		return logging.NewDevelopment()
	}
	return logging.NewProduction(cfg.Logging.Level)
}

func buildHolder(cfg *config.Config) (leaderlock.Holder, error) {
	if cfg.Redis.URL == "" {
		return leaderlock.Noop{}, nil
	}
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	token, err := idgen.New()
	if err != nil {
		return nil, fmt.Errorf("generate holder token: %w", err)
	}
	lease := time.Duration(cfg.Checker.PeriodS*2) * time.Second
	return leaderlock.NewRedisHolder(client, "rewire:checker:lease", token, lease), nil
}
