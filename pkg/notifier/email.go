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

package notifier

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/go-logr/logr"
)

// EmailSink composes and sends the plain-text violation email. With no
// SMTP host configured it logs the message instead, a dev-mode fallback
// that avoids a hard dependency on a mail relay in local environments.
type EmailSink struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	Timeout  time.Duration
	logger   logr.Logger
}

func NewEmailSink(host string, port int, user, password, from string, logger logr.Logger) *EmailSink {
	return &EmailSink{Host: host, Port: port, User: user, Password: password, From: from, Timeout: 20 * time.Second, logger: logger}
}

// SendViolation composes and delivers the violation email: subject
// `[rewire] VIOLATION {code}: {name}`, body carrying
// name/type/code/message/evidence.
func (s *EmailSink) SendViolation(ctx context.Context, notice ViolationNotice) error {
	subject := fmt.Sprintf("[rewire] VIOLATION %s: %s", notice.Violation.Code, notice.Expectation.Name)
	body := composeBody(notice)

	if s.Host == "" {
		s.logger.Info("dev-mode email", "to", notice.Expectation.OwnerEmail, "subject", subject, "body", body)
		return nil
	}

	return s.send(notice.Expectation.OwnerEmail, subject, body)
}

func composeBody(notice ViolationNotice) string {
	var b strings.Builder
	fmt.Fprintf(&b, "name: %s\n", notice.Expectation.Name)
	fmt.Fprintf(&b, "type: %s\n", notice.Expectation.Type)
	fmt.Fprintf(&b, "code: %s\n", notice.Violation.Code)
	fmt.Fprintf(&b, "message: %s\n", notice.Violation.Message)
	fmt.Fprintf(&b, "evidence: %v\n", notice.Violation.Evidence)
	return b.String()
}

func (s *EmailSink) send(to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", s.From, to, subject, body)

	var auth smtp.Auth
	if s.User != "" {
		auth = smtp.PlainAuth("", s.User, s.Password, s.Host)
	}
	if err := smtp.SendMail(addr, auth, s.From, []string{to}, []byte(msg)); err != nil {
		return &RetryableError{Sink: "email", Err: err}
	}
	return nil
}
