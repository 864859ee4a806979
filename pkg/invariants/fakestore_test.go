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

package invariants

import (
	"context"
	"sort"

	"github.com/rewirehq/rewire/pkg/domain"
	"github.com/rewirehq/rewire/pkg/store"
)

type fakeStore struct {
	expectations []domain.Expectation
	observations map[string][]domain.Observation
	trials       map[string][]domain.AlertTrial
	violations   map[string]map[string]*domain.Violation
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		observations: map[string][]domain.Observation{},
		trials:       map[string][]domain.AlertTrial{},
		violations:   map[string]map[string]*domain.Violation{},
	}
}

func (f *fakeStore) openViolation(expID, code string) *domain.Violation {
	byCode, ok := f.violations[expID]
	if !ok {
		return nil
	}
	return byCode[code]
}

func (f *fakeStore) setOpenViolation(expID, code string) {
	if f.violations[expID] == nil {
		f.violations[expID] = map[string]*domain.Violation{}
	}
	f.violations[expID][code] = &domain.Violation{ExpectationID: expID, Code: code, IsOpen: true}
}

func (f *fakeStore) CreateExpectation(ctx context.Context, e domain.Expectation) (domain.Expectation, error) {
	f.expectations = append(f.expectations, e)
	return e, nil
}

func (f *fakeStore) GetExpectation(ctx context.Context, id string) (domain.Expectation, error) {
	for _, e := range f.expectations {
		if e.ID == id {
			return e, nil
		}
	}
	return domain.Expectation{}, store.ErrNotFound
}

func (f *fakeStore) ListEnabledExpectations(ctx context.Context) ([]domain.Expectation, error) {
	var out []domain.Expectation
	for _, e := range f.expectations {
		if e.Enabled {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) SetEnabled(ctx context.Context, id string, enabled bool) (bool, error) { return true, nil }

func (f *fakeStore) AddObservation(ctx context.Context, expectationID string, kind domain.ObservationKind, meta string) (int64, error) {
	return 0, nil
}

func (f *fakeStore) RecentObservations(ctx context.Context, expectationID string, limit int) ([]domain.Observation, error) {
	obs := append([]domain.Observation(nil), f.observations[expectationID]...)
	sort.SliceStable(obs, func(i, j int) bool {
		if !obs[i].ObservedAt.Equal(obs[j].ObservedAt) {
			return obs[i].ObservedAt.After(obs[j].ObservedAt)
		}
		return obs[i].Seq > obs[j].Seq
	})
	if len(obs) > limit {
		obs = obs[:limit]
	}
	return obs, nil
}

func (f *fakeStore) LastObservationTime(ctx context.Context, expectationID string, kind *domain.ObservationKind) (*int64, error) {
	var max *int64
	for _, o := range f.observations[expectationID] {
		if kind != nil && o.Kind != *kind {
			continue
		}
		t := o.ObservedAt.Unix()
		if max == nil || t > *max {
			tt := t
			max = &tt
		}
	}
	return max, nil
}

func (f *fakeStore) CreateTrial(ctx context.Context, id, expectationID, meta string, sentAt int64) (domain.AlertTrial, error) {
	return domain.AlertTrial{}, nil
}

func (f *fakeStore) AckTrial(ctx context.Context, id string) (bool, error) { return false, nil }

func (f *fakeStore) PendingTrials(ctx context.Context, expectationID string) ([]domain.AlertTrial, error) {
	var out []domain.AlertTrial
	for _, t := range f.trials[expectationID] {
		if t.Status == domain.TrialPending {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) ExpireTrial(ctx context.Context, id string) (bool, error) { return false, nil }

func (f *fakeStore) OpenViolation(ctx context.Context, expectationID, code string) (*domain.Violation, error) {
	return f.openViolation(expectationID, code), nil
}

func (f *fakeStore) CreateViolation(ctx context.Context, expectationID, code, message string, evidence map[string]any) (domain.Violation, error) {
	return domain.Violation{}, nil
}

func (f *fakeStore) CloseViolations(ctx context.Context, expectationID string, codes []string) (int, error) {
	return 0, nil
}

func (f *fakeStore) MarkNotified(ctx context.Context, violationID int64) error { return nil }

func (f *fakeStore) OpenViolationsCount(ctx context.Context, expectationID string) (int, error) {
	return 0, nil
}
