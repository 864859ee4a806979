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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/slack-go/slack"
	"github.com/sony/gobreaker"

	"github.com/rewirehq/rewire/pkg/metrics"
)

// Slack attachment colors, keyed by event.
const (
	colorOpened  = "#dc2626"
	colorClosed  = "#16a34a"
	colorTest    = "#2563eb"
	colorExpired = "#f59e0b"
)

// Discord embed colors are the same palette as 24-bit ints.
const (
	discordColorOpened  = 0xdc2626
	discordColorClosed  = 0x16a34a
	discordColorTest    = 0x2563eb
	discordColorExpired = 0xf59e0b
)

func colorFor(event Event) (string, int) {
	switch event {
	case EventViolationClosed:
		return colorClosed, discordColorClosed
	case EventTestSent:
		return colorTest, discordColorTest
	case EventTestExpired:
		return colorExpired, discordColorExpired
	default:
		return colorOpened, discordColorOpened
	}
}

// WebhookFanout posts a violation notice to every configured target:
// zero or more generic endpoints, plus optional first-class Slack and
// Discord URLs. Each target is wrapped in its own circuit breaker so one
// persistently-down endpoint can't make every Checker tick pay its full
// timeout budget.
type WebhookFanout struct {
	generic []*target
	slack   *target
	discord *target
	client  *http.Client
}

type target struct {
	url     string
	breaker *gobreaker.CircuitBreaker
}

func newTarget(name, url string) *target {
	return &target{
		url: url,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: 30 * time.Second,
		}),
	}
}

func NewWebhookFanout(genericURLs []string, slackURL, discordURL string) *WebhookFanout {
	f := &WebhookFanout{client: &http.Client{Timeout: 10 * time.Second}}
	for i, u := range genericURLs {
		f.generic = append(f.generic, newTarget(fmt.Sprintf("generic-%d", i), u))
	}
	if slackURL != "" {
		f.slack = newTarget("slack", slackURL)
	}
	if discordURL != "" {
		f.discord = newTarget("discord", discordURL)
	}
	return f
}

// Dispatch posts the notice to every configured target. Each target's
// failure is independent and only logged.
func (f *WebhookFanout) Dispatch(ctx context.Context, notice ViolationNotice, logger logr.Logger) {
	for _, t := range f.generic {
		f.send(ctx, t, "generic", genericPayload(notice), logger)
	}
	if f.slack != nil {
		f.send(ctx, f.slack, "slack", slackPayload(notice), logger)
	}
	if f.discord != nil {
		f.send(ctx, f.discord, "discord", discordPayload(notice), logger)
	}
}

func (f *WebhookFanout) send(ctx context.Context, t *target, sink string, payload any, logger logr.Logger) {
	body, err := json.Marshal(payload)
	if err != nil {
		logger.Error(err, "marshal webhook payload", "sink", sink)
		return
	}

	_, err = t.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := f.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("webhook %s returned status %d", t.url, resp.StatusCode)
		}
		return nil, nil
	})
	if err != nil {
		metrics.NotifierSendTotal.WithLabelValues(sink, "failure").Inc()
		logger.Error(err, "webhook dispatch failed", "sink", sink)
		return
	}
	metrics.NotifierSendTotal.WithLabelValues(sink, "success").Inc()
}

// genericPayload is the plain JSON POST body for a non-Slack, non-Discord
// endpoint: `{event, expectation:{id,name,type}, violation:{code,message,evidence}, timestamp}`.
func genericPayload(n ViolationNotice) map[string]any {
	return map[string]any{
		"event": n.Event,
		"expectation": map[string]any{
			"id":   n.Expectation.ID,
			"name": n.Expectation.Name,
			"type": n.Expectation.Type,
		},
		"violation": map[string]any{
			"code":     n.Violation.Code,
			"message":  n.Violation.Message,
			"evidence": n.Violation.Evidence,
		},
		"timestamp": n.Now.Unix(),
	}
}

// slackPayload uses slack-go's attachment shape: colored header, section
// fields for name/type, primary text for code/message, footer for id.
func slackPayload(n ViolationNotice) slack.WebhookMessage {
	color, _ := colorFor(n.Event)
	return slack.WebhookMessage{
		Attachments: []slack.Attachment{
			{
				Color: color,
				Title: string(n.Event),
				Text:  fmt.Sprintf("%s: %s", n.Violation.Code, n.Violation.Message),
				Fields: []slack.AttachmentField{
					{Title: "name", Value: n.Expectation.Name, Short: true},
					{Title: "type", Value: string(n.Expectation.Type), Short: true},
				},
				Footer: n.Expectation.ID,
				Ts:     json.Number(fmt.Sprintf("%d", n.Now.Unix())),
			},
		},
	}
}

// discordPayload is a single embed with the same fields, colors as
// 24-bit ints.
func discordPayload(n ViolationNotice) map[string]any {
	_, color := colorFor(n.Event)
	return map[string]any{
		"embeds": []map[string]any{
			{
				"title":       string(n.Event),
				"description": fmt.Sprintf("%s: %s", n.Violation.Code, n.Violation.Message),
				"color":       color,
				"fields": []map[string]any{
					{"name": "name", "value": n.Expectation.Name, "inline": true},
					{"name": "type", "value": string(n.Expectation.Type), "inline": true},
				},
				"footer": map[string]any{"text": n.Expectation.ID},
			},
		},
	}
}
