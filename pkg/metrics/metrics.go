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

// Package metrics exposes the process's Prometheus counters and
// histograms over a dedicated HTTP server, separate from Ingress's own
// listener.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CheckerTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rewire_checker_ticks_total",
		Help: "Total number of Checker ticks completed.",
	})

	CheckerTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "rewire_checker_tick_duration_seconds",
		Help: "Wall-clock duration of each Checker tick.",
	})

	ViolationsOpenedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rewire_violations_opened_total",
		Help: "Violations opened, by code.",
	}, []string{"code"})

	ViolationsClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rewire_violations_closed_total",
		Help: "Violations closed, by code.",
	}, []string{"code"})

	NotifierSendTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rewire_notifier_send_total",
		Help: "Notifier dispatch attempts, by sink and result.",
	}, []string{"sink", "result"})

	ObservationsRecordedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rewire_observations_recorded_total",
		Help: "Observations recorded via Ingress, by kind.",
	}, []string{"kind"})
)

// Server hosts /metrics on its own port with an explicit
// NewServer(port, logger) / StartAsync / Stop(ctx) lifecycle.
type Server struct {
	httpServer *http.Server
	logger     logr.Logger
}

func NewServer(port int, logger logr.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		httpServer: &http.Server{
			Addr:         portAddr(port),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

func (s *Server) StartAsync() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error(err, "metrics server stopped unexpectedly")
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func portAddr(port int) string {
	return fmt.Sprintf(":%d", port)
}
