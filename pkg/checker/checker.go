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

// Package checker is the periodic evaluator: it walks enabled
// expectations, asks RuleEngine for the violation delta, applies it
// through Store, drives the alert-path trial lifecycle, and dispatches
// Notifier for anything newly opened or due for re-notification.
package checker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/rewirehq/rewire/pkg/domain"
	"github.com/rewirehq/rewire/pkg/leaderlock"
	"github.com/rewirehq/rewire/pkg/metrics"
	"github.com/rewirehq/rewire/pkg/notifier"
	"github.com/rewirehq/rewire/pkg/ruleengine"
	"github.com/rewirehq/rewire/pkg/store"
	"github.com/rewirehq/rewire/pkg/telemetry"
)

// ObservationHistory is how many recent observations Checker loads per
// schedule expectation — enough for the two-step (start, matching end,
// previous end) history schedule_evaluate needs.
const ObservationHistory = 80

// Checker is the single coordinator driving one tick at a time. Multiple
// Checker processes may exist in a deployment only if each is given a
// distinct leaderlock.Holder pointed at shared backing storage; a
// leaderlock.Noop (the default) grants the lease to every instance and
// enforces nothing, so it relies on the core's original single-instance
// assumption.
type Checker struct {
	Store       store.Store
	Notifier    *notifier.Notifier
	Clock       Clock
	Holder      leaderlock.Holder
	Logger      logr.Logger
	BaseURL     string
	RenotifyS   int64
	ObsHistory  int
}

// New builds a Checker with sane defaults for ObsHistory and a Noop
// leader lock (single-instance behavior) when holder is nil.
func New(st store.Store, notif *notifier.Notifier, clock Clock, baseURL string, renotifyS int64, logger logr.Logger, holder leaderlock.Holder) *Checker {
	if holder == nil {
		holder = leaderlock.Noop{}
	}
	return &Checker{
		Store: st, Notifier: notif, Clock: clock, Holder: holder,
		Logger: logger, BaseURL: baseURL, RenotifyS: renotifyS, ObsHistory: ObservationHistory,
	}
}

// Tick runs exactly one evaluation pass over every enabled expectation.
// Per-expectation errors are logged and do not abort the tick; only a
// failure to acquire the lease or to list expectations (a Store-wide
// failure) is returned.
func (c *Checker) Tick(ctx context.Context) error {
	held, err := c.Holder.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire checker lease: %w", err)
	}
	if !held {
		c.Logger.V(1).Info("lease held by another instance, skipping tick")
		return nil
	}

	ctx, span := telemetry.Tracer().Start(ctx, "checker.tick")
	defer span.End()

	start := c.Clock.Now()
	defer func() {
		metrics.CheckerTickDuration.Observe(c.Clock.Now().Sub(start).Seconds())
		metrics.CheckerTicksTotal.Inc()
	}()

	expectations, err := c.Store.ListEnabledExpectations(ctx)
	if err != nil {
		return fmt.Errorf("list enabled expectations: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, exp := range expectations {
		exp := exp
		g.Go(func() error {
			if err := c.evaluateOne(gctx, exp); err != nil {
				c.Logger.Error(err, "expectation evaluation failed", "expectation_id", exp.ID)
			}
			return nil
		})
	}
	return g.Wait()
}

func (c *Checker) evaluateOne(ctx context.Context, exp domain.Expectation) error {
	switch exp.Type {
	case domain.ExpectationSchedule:
		return c.evaluateSchedule(ctx, exp)
	case domain.ExpectationAlertPath:
		return c.evaluateAlertPath(ctx, exp)
	default:
		return fmt.Errorf("unknown expectation type %q", exp.Type)
	}
}

func (c *Checker) evaluateSchedule(ctx context.Context, exp domain.Expectation) error {
	observations, err := c.Store.RecentObservations(ctx, exp.ID, c.obsHistory())
	if err != nil {
		return fmt.Errorf("load observations: %w", err)
	}

	now := c.Clock.Now().Unix()
	open, closeCodes, err := ruleengine.ScheduleEvaluate(exp, observations, now)
	if err != nil {
		return fmt.Errorf("evaluate schedule: %w", err)
	}

	for _, code := range closeCodes {
		n, err := c.Store.CloseViolations(ctx, exp.ID, []string{code})
		if err != nil {
			return fmt.Errorf("close violations: %w", err)
		}
		metrics.ViolationsClosedTotal.WithLabelValues(code).Add(float64(n))
	}

	for _, v := range open {
		if err := c.openOrRenotify(ctx, exp, v); err != nil {
			c.Logger.Error(err, "open or renotify failed", "expectation_id", exp.ID, "code", v.Code)
		}
	}
	return nil
}

func (c *Checker) openOrRenotify(ctx context.Context, exp domain.Expectation, rv ruleengine.Violation) error {
	existing, err := c.Store.OpenViolation(ctx, exp.ID, rv.Code)
	if err != nil {
		return fmt.Errorf("look up open violation: %w", err)
	}

	if existing == nil {
		violation, err := c.Store.CreateViolation(ctx, exp.ID, rv.Code, rv.Message, rv.Evidence)
		if err != nil {
			return fmt.Errorf("create violation: %w", err)
		}
		metrics.ViolationsOpenedTotal.WithLabelValues(rv.Code).Inc()
		c.notify(ctx, exp, violation, notifier.EventViolationOpened)
		if err := c.Store.MarkNotified(ctx, violation.ID); err != nil {
			return fmt.Errorf("mark notified: %w", err)
		}
		return nil
	}

	if c.RenotifyS > 0 && isStale(existing.LastNotifiedAt, c.Clock.Now(), c.RenotifyS) {
		c.notify(ctx, exp, *existing, notifier.EventViolationOpened)
		if err := c.Store.MarkNotified(ctx, existing.ID); err != nil {
			return fmt.Errorf("mark notified: %w", err)
		}
	}
	return nil
}

func isStale(lastNotified *time.Time, now time.Time, windowS int64) bool {
	if lastNotified == nil {
		return true
	}
	return now.Sub(*lastNotified) >= time.Duration(windowS)*time.Second
}

func (c *Checker) notify(ctx context.Context, exp domain.Expectation, v domain.Violation, event notifier.Event) {
	if c.Notifier == nil {
		return
	}
	c.Notifier.Dispatch(ctx, notifier.ViolationNotice{
		Event: event, Expectation: exp, Violation: v, Now: c.Clock.Now(),
	})
}

func (c *Checker) evaluateAlertPath(ctx context.Context, exp domain.Expectation) error {
	now := c.Clock.Now().Unix()

	lastObs, err := c.Store.LastObservationTime(ctx, exp.ID, nil)
	if err != nil {
		return fmt.Errorf("last observation time: %w", err)
	}

	due, err := ruleengine.AlertPathShouldSendTest(exp, lastObs, now)
	if err != nil {
		return fmt.Errorf("evaluate alert path: %w", err)
	}
	if due {
		if err := c.sendSyntheticTest(ctx, exp, now); err != nil {
			return fmt.Errorf("send synthetic test: %w", err)
		}
	}

	return c.reapExpiredTrials(ctx, exp, now)
}

func (c *Checker) sendSyntheticTest(ctx context.Context, exp domain.Expectation, now int64) error {
	id, err := newToken()
	if err != nil {
		return fmt.Errorf("generate trial id: %w", err)
	}
	ackURL := fmt.Sprintf("%s/ack/%s", c.BaseURL, id)

	if _, err := c.Store.CreateTrial(ctx, id, exp.ID, fmt.Sprintf(`{"ack_url":%q}`, ackURL), now); err != nil {
		return fmt.Errorf("create trial: %w", err)
	}
	if _, err := c.Store.AddObservation(ctx, exp.ID, domain.ObservationPing, fmt.Sprintf(`{"sent_trial":%q}`, id)); err != nil {
		return fmt.Errorf("record ping observation: %w", err)
	}

	c.notify(ctx, exp, domain.Violation{ExpectationID: exp.ID, Code: "test_sent", Message: "synthetic test sent", Evidence: map[string]any{"trial_id": id, "ack_url": ackURL}}, notifier.EventTestSent)
	return nil
}

func (c *Checker) reapExpiredTrials(ctx context.Context, exp domain.Expectation, now int64) error {
	params, err := ruleengine.ParseAlertPathParams(exp.ParamsJSON)
	if err != nil {
		return fmt.Errorf("parse alert_path params: %w", err)
	}

	pending, err := c.Store.PendingTrials(ctx, exp.ID)
	if err != nil {
		return fmt.Errorf("list pending trials: %w", err)
	}

	anyExceeded := false
	for _, trial := range pending {
		age := now - trial.SentAt.Unix()
		if age > params.AckWindowS+exp.ToleranceS {
			anyExceeded = true
			if _, err := c.Store.ExpireTrial(ctx, trial.ID); err != nil {
				return fmt.Errorf("expire trial: %w", err)
			}
			rv := ruleengine.Violation{
				Code:    domain.CodeNoAck,
				Message: fmt.Sprintf("No ack received for trial within %ds.", params.AckWindowS),
				Evidence: map[string]any{
					"trial_id": trial.ID,
					"sent_at":  trial.SentAt.Unix(),
					"age_s":    age,
				},
			}
			if err := c.openOrRenotify(ctx, exp, rv); err != nil {
				return err
			}
		}
	}

	if !anyExceeded {
		n, err := c.Store.CloseViolations(ctx, exp.ID, []string{domain.CodeNoAck})
		if err != nil {
			return fmt.Errorf("close no_ack: %w", err)
		}
		metrics.ViolationsClosedTotal.WithLabelValues(domain.CodeNoAck).Add(float64(n))
	}
	return nil
}

func (c *Checker) obsHistory() int {
	if c.ObsHistory > 0 {
		return c.ObsHistory
	}
	return ObservationHistory
}

// Run blocks, ticking every period until ctx is cancelled.
func (c *Checker) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Tick(ctx); err != nil {
				c.Logger.Error(err, "checker tick failed")
			}
		}
	}
}
