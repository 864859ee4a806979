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

// Package invariants is the offline diagnostic: it re-derives expected
// violation and trial state straight from Store evidence and reports
// where that derivation disagrees with what Store actually holds. It
// never writes.
package invariants

import (
	"context"
	"fmt"

	"github.com/rewirehq/rewire/pkg/domain"
	"github.com/rewirehq/rewire/pkg/ruleengine"
	"github.com/rewirehq/rewire/pkg/store"
)

// Result is one check's outcome. Evidence is populated only on failure.
type Result struct {
	Name     string
	Passed   bool
	Message  string
	Evidence map[string]any
}

// Report is the full run: every Result plus the pass/fail tally.
type Report struct {
	Results []Result
	Passed  int
	Failed  int
}

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
	if res.Passed {
		r.Passed++
	} else {
		r.Failed++
	}
}

// CheckAll runs every invariant against the current Store contents at
// instant now and returns the combined report.
func CheckAll(ctx context.Context, st store.Store, now int64) (*Report, error) {
	report := &Report{}

	expectations, err := st.ListEnabledExpectations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list enabled expectations: %w", err)
	}

	for _, exp := range expectations {
		if exp.Type != domain.ExpectationSchedule {
			continue
		}
		if err := checkMissedCorrect(ctx, st, exp, now, report); err != nil {
			return nil, err
		}
		if err := checkLongrunCorrect(ctx, st, exp, now, report); err != nil {
			return nil, err
		}
		if err := checkObservationMonotonic(ctx, st, exp, report); err != nil {
			return nil, err
		}
	}

	if err := checkTrialStates(ctx, st, expectations, report); err != nil {
		return nil, err
	}

	return report, nil
}

// checkMissedCorrect is INV1: an open "missed" violation exists iff a
// start has been observed and now - last_start exceeds expected+tolerance.
func checkMissedCorrect(ctx context.Context, st store.Store, exp domain.Expectation, now int64, report *Report) error {
	kind := domain.ObservationStart
	lastStart, err := st.LastObservationTime(ctx, exp.ID, &kind)
	if err != nil {
		return fmt.Errorf("last start time: %w", err)
	}

	threshold := exp.ExpectedIntervalS + exp.ToleranceS
	shouldBeMissed := false
	if lastStart != nil {
		shouldBeMissed = now-*lastStart > threshold
	}

	open, err := st.OpenViolation(ctx, exp.ID, domain.CodeMissed)
	if err != nil {
		return fmt.Errorf("open violation lookup: %w", err)
	}
	hasViolation := open != nil

	name := fmt.Sprintf("missed_correct:%s", exp.ID)
	if shouldBeMissed == hasViolation {
		report.add(Result{Name: name, Passed: true, Message: "missed violation state matches evidence"})
		return nil
	}

	evidence := map[string]any{"threshold": threshold, "now": now}
	if lastStart != nil {
		evidence["last_start"] = *lastStart
		evidence["age"] = now - *lastStart
	}
	report.add(Result{
		Name: name, Passed: false,
		Message:  fmt.Sprintf("mismatch: should_be_missed=%v, has_violation=%v", shouldBeMissed, hasViolation),
		Evidence: evidence,
	})
	return nil
}

// checkLongrunCorrect is INV2: an open "longrun" violation exists iff a
// job is currently running (latest start has no later end) and the
// runtime exceeds max_runtime_s.
func checkLongrunCorrect(ctx context.Context, st store.Store, exp domain.Expectation, now int64, report *Report) error {
	params, err := ruleengine.ParseScheduleParams(exp.ParamsJSON)
	if err != nil {
		return fmt.Errorf("parse schedule params: %w", err)
	}
	if params.MaxRuntimeS == 0 {
		return nil
	}

	startKind, endKind := domain.ObservationStart, domain.ObservationEnd
	lastStart, err := st.LastObservationTime(ctx, exp.ID, &startKind)
	if err != nil {
		return fmt.Errorf("last start time: %w", err)
	}
	lastEnd, err := st.LastObservationTime(ctx, exp.ID, &endKind)
	if err != nil {
		return fmt.Errorf("last end time: %w", err)
	}

	isRunning := lastStart != nil && (lastEnd == nil || *lastStart > *lastEnd)
	shouldBeLongrun := false
	if isRunning {
		shouldBeLongrun = now-*lastStart > params.MaxRuntimeS
	}

	open, err := st.OpenViolation(ctx, exp.ID, domain.CodeLongrun)
	if err != nil {
		return fmt.Errorf("open violation lookup: %w", err)
	}
	hasViolation := open != nil

	name := fmt.Sprintf("longrun_correct:%s", exp.ID)
	if shouldBeLongrun == hasViolation {
		report.add(Result{Name: name, Passed: true, Message: "longrun violation state matches evidence"})
		return nil
	}

	evidence := map[string]any{"is_running": isRunning, "max_runtime_s": params.MaxRuntimeS}
	if lastStart != nil {
		evidence["last_start"] = *lastStart
	}
	if lastEnd != nil {
		evidence["last_end"] = *lastEnd
	}
	report.add(Result{
		Name: name, Passed: false,
		Message:  fmt.Sprintf("mismatch: should_be_longrun=%v, has_violation=%v", shouldBeLongrun, hasViolation),
		Evidence: evidence,
	})
	return nil
}

// checkTrialStates covers INV3/INV4 for pending trials only: each pending
// trial must carry no acked_at. Acked and expired trials are not listed by
// the Store and are not checked here.
func checkTrialStates(ctx context.Context, st store.Store, expectations []domain.Expectation, report *Report) error {
	for _, exp := range expectations {
		if exp.Type != domain.ExpectationAlertPath {
			continue
		}
		pending, err := st.PendingTrials(ctx, exp.ID)
		if err != nil {
			return fmt.Errorf("pending trials: %w", err)
		}
		for _, t := range pending {
			if t.AckedAt != nil {
				report.add(Result{
					Name: fmt.Sprintf("pending_has_no_ack:%s", t.ID), Passed: false,
					Message:  "pending trial unexpectedly carries an acked_at",
					Evidence: map[string]any{"trial_id": t.ID},
				})
				continue
			}
			report.add(Result{Name: fmt.Sprintf("pending_has_no_ack:%s", t.ID), Passed: true, Message: "pending trial has no acked_at"})
		}
	}
	return nil
}

// checkObservationMonotonic is INV5: observations scanned newest-first
// have non-increasing observed_at.
func checkObservationMonotonic(ctx context.Context, st store.Store, exp domain.Expectation, report *Report) error {
	obs, err := st.RecentObservations(ctx, exp.ID, 1000)
	if err != nil {
		return fmt.Errorf("recent observations: %w", err)
	}

	monotonic := true
	for i := 1; i < len(obs); i++ {
		if obs[i].ObservedAt.Unix() > obs[i-1].ObservedAt.Unix() {
			monotonic = false
			break
		}
	}

	name := fmt.Sprintf("observation_monotonic:%s", exp.ID)
	if monotonic {
		report.add(Result{Name: name, Passed: true, Message: fmt.Sprintf("observations monotonic (%d checked)", len(obs))})
		return nil
	}
	report.add(Result{Name: name, Passed: false, Message: "observation timestamps not monotonic"})
	return nil
}
