/*
Copyright 2026 The Mahavishnu Authors.

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

// Package notify implements an optional Slack notifier: NotifyExhausted
// posts a message describing an exhausted dead-letter record handed to it,
// and Run consumes the event bus (C7) and forwards worker error
// transitions.
package notify

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"

	"github.com/lesleslie/mahavishnu-sub005/pkg/dlq"
	"github.com/lesleslie/mahavishnu-sub005/pkg/eventbus"
)

// SlackNotifier posts messages to an incoming webhook: one per record passed
// to NotifyExhausted and one per worker error transition seen by Run. The
// dead-letter queue does not call NotifyExhausted itself.
type SlackNotifier struct {
	webhookURL string
	channel    string
	logger     *logrus.Logger
	post       func(url string, msg *slack.WebhookMessage) error
}

// NewSlackNotifier constructs a SlackNotifier posting to webhookURL.
func NewSlackNotifier(webhookURL, channel string, logger *logrus.Logger) *SlackNotifier {
	if logger == nil {
		logger = logrus.New()
	}
	return &SlackNotifier{
		webhookURL: webhookURL,
		channel:    channel,
		logger:     logger,
		post:       slack.PostWebhook,
	}
}

// NotifyExhausted posts a single message describing an exhausted record.
func (n *SlackNotifier) NotifyExhausted(record *dlq.FailedTaskRecord) error {
	text := fmt.Sprintf(":warning: task `%s` exhausted its retries (%d/%d) after: %s",
		record.TaskID, record.RetryCount, record.MaxRetries, record.LastError)

	msg := &slack.WebhookMessage{Channel: n.channel, Text: text}
	if err := n.post(n.webhookURL, msg); err != nil {
		n.logger.WithError(err).WithField("task_id", record.TaskID).Warn("failed to post slack notification")
		return err
	}
	return nil
}

// Run subscribes to channel on bus and forwards worker.status_changed
// events whose next status is error, until ctx is cancelled or the
// subscription is released. Pool events and lag notices are not forwarded.
// It blocks until then.
func (n *SlackNotifier) Run(ctx context.Context, bus *eventbus.Bus, channel string) {
	sub := bus.Subscribe(channel)
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			if evt.Type != "worker.status_changed" {
				continue
			}
			if status, _ := evt.Payload["next"].(string); status != "error" {
				continue
			}
			text := fmt.Sprintf(":rotating_light: worker `%v` in pool `%v` entered error state",
				evt.Payload["worker_id"], evt.Payload["pool_id"])
			if err := n.post(n.webhookURL, &slack.WebhookMessage{Channel: n.channel, Text: text}); err != nil {
				n.logger.WithError(err).Warn("failed to post slack notification")
			}
		}
	}
}
