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

// Package notifier is Rewire's outbound side-effect dispatch: email
// message composition and webhook fan-out. Every send is fire-and-forget
// from the Checker's standpoint — a failed send is logged, never retried
// within the same tick, and never rolls back the violation it is
// reporting.
package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/rewirehq/rewire/pkg/domain"
	"github.com/rewirehq/rewire/pkg/metrics"
)

// RetryableError marks a notifier failure a future tick's re-notify pass
// may succeed at, as distinct from a permanently malformed target.
type RetryableError struct {
	Sink string
	Err  error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("%s: retryable: %v", e.Sink, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// Event is the kind of webhook payload to format. The Checker emits
// violation.opened for violations and test.sent with each synthetic
// alert-path test; violation.closed and test.expired are accepted by the
// formatters but not emitted by the core tick.
type Event string

const (
	EventViolationOpened Event = "violation.opened"
	EventViolationClosed Event = "violation.closed"
	EventTestSent        Event = "test.sent"
	EventTestExpired     Event = "test.expired"
)

// ViolationNotice is everything a sink needs to render a violation event.
type ViolationNotice struct {
	Event       Event
	Expectation domain.Expectation
	Violation   domain.Violation
	Now         time.Time
}

// Notifier fans a violation notice out to every configured sink.
type Notifier struct {
	email    *EmailSink
	webhooks *WebhookFanout
	logger   logr.Logger
}

func New(email *EmailSink, webhooks *WebhookFanout, logger logr.Logger) *Notifier {
	return &Notifier{email: email, webhooks: webhooks, logger: logger}
}

// Dispatch sends the notice to every sink. Each sink's failure is
// independent and logged; Dispatch never returns an error because the
// caller (Checker) must not let a notifier failure abort the tick.
func (n *Notifier) Dispatch(ctx context.Context, notice ViolationNotice) {
	if n.email != nil {
		if err := n.email.SendViolation(ctx, notice); err != nil {
			metrics.NotifierSendTotal.WithLabelValues("email", "failure").Inc()
			n.logger.Error(err, "email dispatch failed", "expectation_id", notice.Expectation.ID, "code", notice.Violation.Code)
		} else {
			metrics.NotifierSendTotal.WithLabelValues("email", "success").Inc()
		}
	}
	if n.webhooks != nil {
		n.webhooks.Dispatch(ctx, notice, n.logger)
	}
}
