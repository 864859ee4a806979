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

package checker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rewirehq/rewire/pkg/domain"
	"github.com/rewirehq/rewire/pkg/store"
)

// fakeStore is an in-memory store.Store used to drive the end-to-end
// scenarios described in the project's monitoring contracts without a live Postgres.
type fakeStore struct {
	mu           sync.Mutex
	expectations map[string]domain.Expectation
	observations map[string][]domain.Observation
	trials       map[string]domain.AlertTrial
	violations   []*domain.Violation
	nextSeq      int64
	nextVID      int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		expectations: map[string]domain.Expectation{},
		observations: map[string][]domain.Observation{},
		trials:       map[string]domain.AlertTrial{},
	}
}

func (f *fakeStore) put(e domain.Expectation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expectations[e.ID] = e
}

func (f *fakeStore) inject(expID string, kind domain.ObservationKind, at int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSeq++
	f.observations[expID] = append(f.observations[expID], domain.Observation{
		Seq: f.nextSeq, ExpectationID: expID, Kind: kind, ObservedAt: time.Unix(at, 0).UTC(),
	})
}

func (f *fakeStore) CreateExpectation(ctx context.Context, e domain.Expectation) (domain.Expectation, error) {
	f.put(e)
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
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Expectation
	for _, e := range f.expectations {
		if e.Enabled {
			out = append(out, e)
		}
	}
	return out, nil
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
	f.nextSeq++
	f.observations[expectationID] = append(f.observations[expectationID], domain.Observation{
		Seq: f.nextSeq, ExpectationID: expectationID, Kind: kind, ObservedAt: time.Now().UTC(), Meta: meta,
	})
	return f.nextSeq, nil
}

func (f *fakeStore) RecentObservations(ctx context.Context, expectationID string, limit int) ([]domain.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obs := f.observations[expectationID]
	out := make([]domain.Observation, len(obs))
	copy(out, obs)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ObservedAt.Equal(out[j].ObservedAt) {
			return out[i].ObservedAt.After(out[j].ObservedAt)
		}
		return out[i].Seq > out[j].Seq
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) LastObservationTime(ctx context.Context, expectationID string, kind *domain.ObservationKind) (*int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
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
	f.mu.Lock()
	defer f.mu.Unlock()
	trial := domain.AlertTrial{ID: id, ExpectationID: expectationID, SentAt: time.Unix(sentAt, 0).UTC(), Status: domain.TrialPending, Meta: meta}
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
	now := time.Now()
	trial.Status = domain.TrialAcked
	trial.AckedAt = &now
	f.trials[id] = trial
	return true, nil
}

func (f *fakeStore) PendingTrials(ctx context.Context, expectationID string) ([]domain.AlertTrial, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.AlertTrial
	for _, t := range f.trials {
		if t.ExpectationID == expectationID && t.Status == domain.TrialPending {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) ExpireTrial(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	trial, ok := f.trials[id]
	if !ok || trial.Status != domain.TrialPending {
		return false, nil
	}
	trial.Status = domain.TrialExpired
	f.trials[id] = trial
	return true, nil
}

func (f *fakeStore) OpenViolation(ctx context.Context, expectationID, code string) (*domain.Violation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.violations {
		if v.ExpectationID == expectationID && v.Code == code && v.IsOpen {
			cp := *v
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) CreateViolation(ctx context.Context, expectationID, code, message string, evidence map[string]any) (domain.Violation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextVID++
	v := &domain.Violation{ID: f.nextVID, ExpectationID: expectationID, Code: code, Message: message, Evidence: evidence, IsOpen: true}
	f.violations = append(f.violations, v)
	return *v, nil
}

func (f *fakeStore) CloseViolations(ctx context.Context, expectationID string, codes []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := map[string]bool{}
	for _, c := range codes {
		set[c] = true
	}
	n := 0
	for _, v := range f.violations {
		if v.ExpectationID == expectationID && v.IsOpen && set[v.Code] {
			v.IsOpen = false
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) MarkNotified(ctx context.Context, violationID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for _, v := range f.violations {
		if v.ID == violationID {
			v.LastNotifiedAt = &now
		}
	}
	return nil
}

func (f *fakeStore) OpenViolationsCount(ctx context.Context, expectationID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, v := range f.violations {
		if v.IsOpen && (expectationID == "" || v.ExpectationID == expectationID) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) hasOpen(expectationID, code string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.violations {
		if v.ExpectationID == expectationID && v.Code == code && v.IsOpen {
			return true
		}
	}
	return false
}

