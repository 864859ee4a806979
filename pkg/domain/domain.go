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

// Package domain holds the value records shared by Store, RuleEngine,
// Checker, Ingress and InvariantProbe. Rows never cross a package boundary
// as maps or driver-native types; everything is promoted to an explicit
// struct here first.
package domain

import "time"

// ExpectationType discriminates the two contract shapes Rewire understands.
type ExpectationType string

const (
	ExpectationSchedule  ExpectationType = "schedule"
	ExpectationAlertPath ExpectationType = "alert_path"
)

// ObservationKind enumerates the primitive facts a job or alert path can emit.
type ObservationKind string

const (
	ObservationStart ObservationKind = "start"
	ObservationEnd   ObservationKind = "end"
	ObservationPing  ObservationKind = "ping"
	ObservationAck   ObservationKind = "ack"
)

// TrialStatus is the state of one synthetic alert-path delivery attempt.
type TrialStatus string

const (
	TrialPending TrialStatus = "pending"
	TrialAcked   TrialStatus = "acked"
	TrialExpired TrialStatus = "expired"
)

// Violation codes. RuleEngine produces the schedule codes; Checker
// produces no_ack.
const (
	CodeMissed  = "missed"
	CodeLongrun = "longrun"
	CodeOverlap = "overlap"
	CodeSpacing = "spacing"
	CodeNoAck   = "no_ack"
)

// Expectation is the declared contract an owner registers with Rewire.
type Expectation struct {
	ID                string
	Type              ExpectationType
	Name              string
	OwnerEmail        string
	ExpectedIntervalS int64
	ToleranceS        int64
	ParamsJSON        string
	Enabled           bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Observation is an append-only fact tied to one expectation.
type Observation struct {
	Seq           int64
	ExpectationID string
	Kind          ObservationKind
	ObservedAt    time.Time
	Meta          string
}

// AlertTrial is one synthetic delivery attempt belonging to an alert_path
// expectation.
type AlertTrial struct {
	ID            string
	ExpectationID string
	SentAt        time.Time
	AckedAt       *time.Time
	Status        TrialStatus
	Meta          string
}

// Violation is a reported mismatch between a contract and its evidence.
type Violation struct {
	ID             int64
	ExpectationID  string
	Code           string
	Message        string
	Evidence       map[string]any
	DetectedAt     time.Time
	LastNotifiedAt *time.Time
	IsOpen         bool
}

// ScheduleParams are the parsed type-specific constraints for a schedule
// expectation. A zero MaxRuntimeS or MinSpacingS disables that check;
// AllowOverlap false keeps the overlap check on.
type ScheduleParams struct {
	MaxRuntimeS  int64
	MinSpacingS  int64
	AllowOverlap bool
}

// AlertPathParams are the parsed type-specific constraints for an
// alert_path expectation.
type AlertPathParams struct {
	AckWindowS   int64
	TestIntervalS int64
}
