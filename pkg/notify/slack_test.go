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

package notify

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/slack-go/slack"

	"github.com/lesleslie/mahavishnu-sub005/pkg/dlq"
	"github.com/lesleslie/mahavishnu-sub005/pkg/eventbus"
)

func TestNotify(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Slack Notifier Suite")
}

var _ = Describe("SlackNotifier", func() {
	Describe("NotifyExhausted", func() {
		It("posts a message describing the exhausted record", func() {
			var captured *slack.WebhookMessage
			n := NewSlackNotifier("https://hooks.example.com/x", "#alerts", nil)
			n.post = func(url string, msg *slack.WebhookMessage) error {
				captured = msg
				return nil
			}

			err := n.NotifyExhausted(&dlq.FailedTaskRecord{
				TaskID: "task-1", RetryCount: 3, MaxRetries: 3, LastError: "connection refused",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(captured).NotTo(BeNil())
			Expect(captured.Channel).To(Equal("#alerts"))
			Expect(captured.Text).To(ContainSubstring("task-1"))
		})
	})

	Describe("Run", func() {
		It("forwards worker error transitions to the webhook", func() {
			bus := eventbus.New(eventbus.DefaultQueueSize)
			posted := make(chan *slack.WebhookMessage, 1)

			n := NewSlackNotifier("https://hooks.example.com/x", "#alerts", nil)
			n.post = func(url string, msg *slack.WebhookMessage) error {
				posted <- msg
				return nil
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go n.Run(ctx, bus, eventbus.PoolChannel("pool-a"))

			bus.Publish(eventbus.PoolChannel("pool-a"), "worker.status_changed", map[string]any{
				"pool_id": "pool-a", "worker_id": "w1", "previous": "busy", "next": "error",
			})

			var msg *slack.WebhookMessage
			Eventually(posted, time.Second).Should(Receive(&msg))
			Expect(msg.Text).To(ContainSubstring("w1"))
		})

		It("ignores non-error transitions", func() {
			bus := eventbus.New(eventbus.DefaultQueueSize)
			posted := make(chan *slack.WebhookMessage, 1)

			n := NewSlackNotifier("https://hooks.example.com/x", "#alerts", nil)
			n.post = func(url string, msg *slack.WebhookMessage) error {
				posted <- msg
				return nil
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go n.Run(ctx, bus, eventbus.PoolChannel("pool-a"))

			bus.Publish(eventbus.PoolChannel("pool-a"), "worker.status_changed", map[string]any{
				"pool_id": "pool-a", "worker_id": "w1", "previous": "idle", "next": "busy",
			})

			Consistently(posted, 200*time.Millisecond).ShouldNot(Receive())
		})
	})
})
