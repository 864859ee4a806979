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

// Package store is the sole owner of expectation, observation, trial and
// violation rows. Every method is its own transaction; no multi-call
// transaction is exposed to callers.
package store

import (
	"context"

	"github.com/rewirehq/rewire/pkg/domain"
)

// Store is the durable, transactional state backing Rewire. Implementations
// must tolerate concurrent callers from multiple goroutines.
type Store interface {
	CreateExpectation(ctx context.Context, e domain.Expectation) (domain.Expectation, error)
	GetExpectation(ctx context.Context, id string) (domain.Expectation, error)
	ListEnabledExpectations(ctx context.Context) ([]domain.Expectation, error)
	SetEnabled(ctx context.Context, id string, enabled bool) (bool, error)

	AddObservation(ctx context.Context, expectationID string, kind domain.ObservationKind, meta string) (int64, error)
	// RecentObservations returns up to limit observations ordered
	// newest-first (observed_at desc, seq desc).
	RecentObservations(ctx context.Context, expectationID string, limit int) ([]domain.Observation, error)
	LastObservationTime(ctx context.Context, expectationID string, kind *domain.ObservationKind) (*int64, error)

	CreateTrial(ctx context.Context, id, expectationID, meta string, sentAt int64) (domain.AlertTrial, error)
	AckTrial(ctx context.Context, id string) (bool, error)
	PendingTrials(ctx context.Context, expectationID string) ([]domain.AlertTrial, error)
	ExpireTrial(ctx context.Context, id string) (bool, error)

	OpenViolation(ctx context.Context, expectationID, code string) (*domain.Violation, error)
	CreateViolation(ctx context.Context, expectationID, code, message string, evidence map[string]any) (domain.Violation, error)
	CloseViolations(ctx context.Context, expectationID string, codes []string) (int, error)
	MarkNotified(ctx context.Context, violationID int64) error
	OpenViolationsCount(ctx context.Context, expectationID string) (int, error)
}

// ErrNotFound is a plain not-found sentinel. PostgresStore does not return
// it: a missing expectation comes back as an apperrors error of type
// ErrorTypeNotFound, and a missing open violation as (nil, nil).
var ErrNotFound = &notFoundError{}

type notFoundError struct{}

func (*notFoundError) Error() string { return "not found" }
