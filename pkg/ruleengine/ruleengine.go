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

// Package ruleengine derives the violation codes an expectation's evidence
// justifies. Every function here is pure: same inputs, same outputs, no
// I/O, no clock reads beyond the "now" each caller supplies explicitly.
package ruleengine

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rewirehq/rewire/pkg/domain"
)

// ParseScheduleParams decodes a schedule expectation's params_json.
// Unknown keys are ignored; missing numeric keys default to 0 (check
// disabled) and allow_overlap defaults to false.
func ParseScheduleParams(paramsJSON string) (domain.ScheduleParams, error) {
	var raw struct {
		MaxRuntimeS  int64 `json:"max_runtime_s"`
		MinSpacingS  int64 `json:"min_spacing_s"`
		AllowOverlap bool  `json:"allow_overlap"`
	}
	if paramsJSON != "" {
		if err := json.Unmarshal([]byte(paramsJSON), &raw); err != nil {
			return domain.ScheduleParams{}, fmt.Errorf("parse schedule params: %w", err)
		}
	}
	return domain.ScheduleParams{
		MaxRuntimeS:  raw.MaxRuntimeS,
		MinSpacingS:  raw.MinSpacingS,
		AllowOverlap: raw.AllowOverlap,
	}, nil
}

// ParseAlertPathParams decodes an alert_path expectation's params_json.
// ack_window_s and test_interval_s are required to be positive.
func ParseAlertPathParams(paramsJSON string) (domain.AlertPathParams, error) {
	var raw struct {
		AckWindowS    int64 `json:"ack_window_s"`
		TestIntervalS int64 `json:"test_interval_s"`
	}
	if err := json.Unmarshal([]byte(paramsJSON), &raw); err != nil {
		return domain.AlertPathParams{}, fmt.Errorf("parse alert_path params: %w", err)
	}
	if raw.AckWindowS <= 0 {
		return domain.AlertPathParams{}, fmt.Errorf("ack_window_s must be > 0")
	}
	if raw.TestIntervalS <= 0 {
		return domain.AlertPathParams{}, fmt.Errorf("test_interval_s must be > 0")
	}
	return domain.AlertPathParams{AckWindowS: raw.AckWindowS, TestIntervalS: raw.TestIntervalS}, nil
}

// Violation is one violation RuleEngine says must exist, paired with the
// evidence that justifies it. Checker is responsible for turning this into
// a Store row.
type Violation struct {
	Code     string
	Message  string
	Evidence map[string]any
}

// sortDesc orders observations newest-first by ObservedAt, breaking ties by
// Seq descending so evaluation is reproducible under identical timestamps.
func sortDesc(obs []domain.Observation) []domain.Observation {
	out := make([]domain.Observation, len(obs))
	copy(out, obs)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ObservedAt.Equal(out[j].ObservedAt) {
			return out[i].ObservedAt.After(out[j].ObservedAt)
		}
		return out[i].Seq > out[j].Seq
	})
	return out
}

func findKind(obsDesc []domain.Observation, kind domain.ObservationKind, minT int64, before bool) (domain.Observation, bool) {
	for _, o := range obsDesc {
		if o.Kind != kind {
			continue
		}
		t := o.ObservedAt.Unix()
		if before {
			if t < minT {
				return o, true
			}
			continue
		}
		if t >= minT {
			return o, true
		}
	}
	return domain.Observation{}, false
}

// ScheduleEvaluate derives the violation codes that must be opened and the
// codes that must be closed for a schedule expectation, given its
// observations ordered however the caller likes (this function sorts) and
// the evaluation instant "now". If no start has ever been observed it
// returns (nil, nil): epistemic silence, absence of a start is never
// evidence of a missed run.
func ScheduleEvaluate(exp domain.Expectation, observations []domain.Observation, now int64) ([]Violation, []string, error) {
	params, err := ParseScheduleParams(exp.ParamsJSON)
	if err != nil {
		return nil, nil, err
	}
	obsDesc := sortDesc(observations)

	lastStart, ok := findKind(obsDesc, domain.ObservationStart, 0, false)
	if !ok {
		return nil, nil, nil
	}

	var open []Violation
	var close []string

	startT := lastStart.ObservedAt.Unix()

	age := now - startT
	expected := exp.ExpectedIntervalS
	tol := exp.ToleranceS
	if age > expected+tol {
		open = append(open, Violation{
			Code:    domain.CodeMissed,
			Message: fmt.Sprintf("Expected a start within %ds (+%ds); last start was %ds ago.", expected, tol, age),
			Evidence: map[string]any{
				"last_start_at": startT,
				"age_s":         age,
				"expected_s":    expected,
				"tolerance_s":   tol,
			},
		})
	} else {
		close = append(close, domain.CodeMissed)
	}

	newerEnd, hasEnd := findKind(obsDesc, domain.ObservationEnd, startT, false)
	if !hasEnd {
		runFor := now - startT
		if params.MaxRuntimeS > 0 && runFor > params.MaxRuntimeS {
			open = append(open, Violation{
				Code:    domain.CodeLongrun,
				Message: fmt.Sprintf("Run exceeded max_runtime_s=%d; running for %ds.", params.MaxRuntimeS, runFor),
				Evidence: map[string]any{
					"start_at":       startT,
					"running_for_s":  runFor,
					"max_runtime_s":  params.MaxRuntimeS,
				},
			})
		} else {
			close = append(close, domain.CodeLongrun)
		}

		if !params.AllowOverlap {
			var starts []domain.Observation
			for _, o := range obsDesc {
				if o.Kind == domain.ObservationStart {
					starts = append(starts, o)
				}
			}
			var otherEnded bool
			if len(starts) > 1 {
				_, otherEnded = findKind(obsDesc, domain.ObservationEnd, starts[1].ObservedAt.Unix(), false)
			}
			if len(starts) > 1 && starts[1].ObservedAt.Unix() < startT && !otherEnded {
				open = append(open, Violation{
					Code:    domain.CodeOverlap,
					Message: "Detected overlapping runs.",
					Evidence: map[string]any{
						"newest_start_at": startT,
						"other_start_at":  starts[1].ObservedAt.Unix(),
					},
				})
			} else {
				close = append(close, domain.CodeOverlap)
			}
		}
	} else {
		close = append(close, domain.CodeLongrun, domain.CodeOverlap)
	}

	if params.MinSpacingS > 0 {
		prevEnd, hasPrev := findKind(obsDesc, domain.ObservationEnd, startT, true)
		if hasPrev {
			gap := startT - prevEnd.ObservedAt.Unix()
			if gap < params.MinSpacingS {
				open = append(open, Violation{
					Code:    domain.CodeSpacing,
					Message: fmt.Sprintf("Start occurred %ds after previous end; min_spacing_s=%d.", gap, params.MinSpacingS),
					Evidence: map[string]any{
						"gap_s":         gap,
						"min_spacing_s": params.MinSpacingS,
						"prev_end_at":   prevEnd.ObservedAt.Unix(),
						"start_at":      startT,
					},
				})
			} else {
				close = append(close, domain.CodeSpacing)
			}
		}
	}
	_ = newerEnd

	return open, close, nil
}

// AlertPathShouldSendTest reports whether a synthetic test is due: true if
// no prior observation of any kind exists, else true iff now-lastObsTime
// is at least test_interval_s.
func AlertPathShouldSendTest(exp domain.Expectation, lastObsTime *int64, now int64) (bool, error) {
	params, err := ParseAlertPathParams(exp.ParamsJSON)
	if err != nil {
		return false, err
	}
	if lastObsTime == nil {
		return true, nil
	}
	return now-*lastObsTime >= params.TestIntervalS, nil
}
