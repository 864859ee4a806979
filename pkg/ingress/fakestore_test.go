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

package ingress

import (
	"context"
	"sort"
	"sync"

	"github.com/rewirehq/rewire/pkg/domain"
	"github.com/rewirehq/rewire/pkg/store"
)

// fakeStore is a minimal in-memory store.Store sufficient to exercise
// every Ingress route without a live Postgres.
type fakeStore struct {
	mu           sync.Mutex
	expectations map[string]domain.Expectation
	observations map[string][]domain.Observation
	trials       map[string]domain.AlertTrial
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		expectations: map[string]domain.Expectation{},
		observations: map[string][]domain.Observation{},
		trials:       map[string]domain.AlertTrial{},
	}
}

func (f *fakeStore) CreateExpectation(ctx context.Context, e domain.Expectation) (domain.Expectation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expectations[e.ID] = e
	return e, nil
}

func (f *fakeStore) GetExpectation(ctx context.Context, id string) (domain.Expectation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.expectations[id]
	if !ok {
		return domain.Expectation{}, store.ErrNotFound
	}
	return e, nil
}

func (f *fakeStore) ListEnabledExpectations(ctx context.Context) ([]domain.Expectation, error) {
	return nil, nil
}

func (f *fakeStore) SetEnabled(ctx context.Context, id string, enabled bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.expectations[id]
	if !ok {
		return false, nil
	}
	e.Enabled = enabled
	f.expectations[id] = e
	return true, nil
}

func (f *fakeStore) AddObservation(ctx context.Context, expectationID string, kind domain.ObservationKind, meta string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq := int64(len(f.observations[expectationID]) + 1)
	f.observations[expectationID] = append(f.observations[expectationID], domain.Observation{
		Seq: seq, ExpectationID: expectationID, Kind: kind, Meta: meta,
	})
	return seq, nil
}

func (f *fakeStore) RecentObservations(ctx context.Context, expectationID string, limit int) ([]domain.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
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
	return nil, nil
}

func (f *fakeStore) CreateTrial(ctx context.Context, id, expectationID, meta string, sentAt int64) (domain.AlertTrial, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	trial := domain.AlertTrial{ID: id, ExpectationID: expectationID, Status: domain.TrialPending, Meta: meta}
	f.trials[id] = trial
	return trial, nil
}

func (f *fakeStore) AckTrial(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	trial, ok := f.trials[id]
	if !ok || trial.Status != domain.TrialPending {
		return false, nil
	}
	trial.Status = domain.TrialAcked
	f.trials[id] = trial
	return true, nil
}

func (f *fakeStore) PendingTrials(ctx context.Context, expectationID string) ([]domain.AlertTrial, error) {
	return nil, nil
}

func (f *fakeStore) ExpireTrial(ctx context.Context, id string) (bool, error) {
	return false, nil
}

func (f *fakeStore) OpenViolation(ctx context.Context, expectationID, code string) (*domain.Violation, error) {
	return nil, nil
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
