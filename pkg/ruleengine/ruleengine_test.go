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

package ruleengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewirehq/rewire/pkg/domain"
)

func at(s int64) time.Time { return time.Unix(s, 0).UTC() }

func schedExp(expected, tol int64, paramsJSON string) domain.Expectation {
	return domain.Expectation{
		ID:                "e1",
		Type:              domain.ExpectationSchedule,
		ExpectedIntervalS: expected,
		ToleranceS:        tol,
		ParamsJSON:        paramsJSON,
	}
}

func obs(seq int64, kind domain.ObservationKind, t int64) domain.Observation {
	return domain.Observation{Seq: seq, Kind: kind, ObservedAt: at(t)}
}

func containsCode(vs []Violation, code string) bool {
	for _, v := range vs {
		if v.Code == code {
			return true
		}
	}
	return false
}

func containsStr(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

func TestScheduleEvaluate_NoStart_EpistemicSilence(t *testing.T) {
	exp := schedExp(60, 10, `{}`)
	open, closeCodes, err := ScheduleEvaluate(exp, nil, 1000)
	require.NoError(t, err)
	assert.Empty(t, open)
	assert.Empty(t, closeCodes)
}

func TestScheduleEvaluate_S1_MissedDetection(t *testing.T) {
	exp := schedExp(60, 10, `{}`)
	observations := []domain.Observation{obs(1, domain.ObservationStart, 0)}

	open, _, err := ScheduleEvaluate(exp, observations, 71)
	require.NoError(t, err)
	require.True(t, containsCode(open, domain.CodeMissed))
	for _, v := range open {
		if v.Code == domain.CodeMissed {
			assert.Equal(t, int64(0), v.Evidence["last_start_at"])
			assert.Equal(t, int64(71), v.Evidence["age_s"])
			assert.Equal(t, int64(60), v.Evidence["expected_s"])
			assert.Equal(t, int64(10), v.Evidence["tolerance_s"])
		}
	}

	observations = append(observations, obs(2, domain.ObservationStart, 72))
	_, closeCodes, err := ScheduleEvaluate(exp, observations, 72)
	require.NoError(t, err)
	assert.Contains(t, closeCodes, domain.CodeMissed)
}

func TestScheduleEvaluate_S2_LongrunDetection(t *testing.T) {
	exp := schedExp(6000, 0, `{"max_runtime_s":30}`)
	observations := []domain.Observation{obs(1, domain.ObservationStart, 0)}

	open, _, err := ScheduleEvaluate(exp, observations, 25)
	require.NoError(t, err)
	assert.False(t, containsCode(open, domain.CodeLongrun))

	open, _, err = ScheduleEvaluate(exp, observations, 35)
	require.NoError(t, err)
	assert.True(t, containsCode(open, domain.CodeLongrun))

	observations = append(observations, obs(2, domain.ObservationEnd, 36))
	_, closeCodes, err := ScheduleEvaluate(exp, observations, 36)
	require.NoError(t, err)
	assert.Contains(t, closeCodes, domain.CodeLongrun)
}

func TestScheduleEvaluate_S3_Spacing(t *testing.T) {
	exp := schedExp(6000, 0, `{"min_spacing_s":100}`)
	observations := []domain.Observation{
		obs(1, domain.ObservationStart, 0),
		obs(2, domain.ObservationEnd, 10),
		obs(3, domain.ObservationStart, 50),
	}

	open, _, err := ScheduleEvaluate(exp, observations, 60)
	require.NoError(t, err)
	require.True(t, containsCode(open, domain.CodeSpacing))
	for _, v := range open {
		if v.Code == domain.CodeSpacing {
			assert.Equal(t, int64(40), v.Evidence["gap_s"])
		}
	}

	observations = []domain.Observation{
		obs(1, domain.ObservationStart, 0),
		obs(2, domain.ObservationEnd, 10),
		obs(3, domain.ObservationStart, 200),
	}
	open, _, err = ScheduleEvaluate(exp, observations, 210)
	require.NoError(t, err)
	assert.False(t, containsCode(open, domain.CodeSpacing))
}

func TestScheduleEvaluate_S6_Overlap(t *testing.T) {
	exp := schedExp(6000, 0, `{"allow_overlap":false}`)
	observations := []domain.Observation{
		obs(1, domain.ObservationStart, 0),
		obs(2, domain.ObservationStart, 50),
	}

	open, _, err := ScheduleEvaluate(exp, observations, 60)
	require.NoError(t, err)
	require.True(t, containsCode(open, domain.CodeOverlap))

	observations = append(observations, obs(3, domain.ObservationEnd, 70))
	_, closeCodes, err := ScheduleEvaluate(exp, observations, 70)
	require.NoError(t, err)
	assert.True(t, containsStr(closeCodes, domain.CodeOverlap))
	assert.True(t, containsStr(closeCodes, domain.CodeLongrun))
}

func TestAlertPathShouldSendTest(t *testing.T) {
	exp := domain.Expectation{ParamsJSON: `{"ack_window_s":300,"test_interval_s":3600}`}

	due, err := AlertPathShouldSendTest(exp, nil, 0)
	require.NoError(t, err)
	assert.True(t, due)

	last := int64(0)
	due, err = AlertPathShouldSendTest(exp, &last, 3599)
	require.NoError(t, err)
	assert.False(t, due)

	due, err = AlertPathShouldSendTest(exp, &last, 3600)
	require.NoError(t, err)
	assert.True(t, due)
}

func TestParseAlertPathParams_RequiresPositive(t *testing.T) {
	_, err := ParseAlertPathParams(`{"ack_window_s":0,"test_interval_s":60}`)
	assert.Error(t, err)

	_, err = ParseAlertPathParams(`{"ack_window_s":60,"test_interval_s":0}`)
	assert.Error(t, err)

	p, err := ParseAlertPathParams(`{"ack_window_s":300,"test_interval_s":3600}`)
	require.NoError(t, err)
	assert.Equal(t, int64(300), p.AckWindowS)
	assert.Equal(t, int64(3600), p.TestIntervalS)
}
