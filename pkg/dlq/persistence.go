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

package dlq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// Persistence is the DLQ's advisory projection capability: consumers may
// ignore it entirely, and its writes are best-effort (the queue discards any
// error a write returns; it is neither logged nor surfaced as a queue error).
type Persistence interface {
	Save(ctx context.Context, record *FailedTaskRecord) error
	Delete(ctx context.Context, taskID string) error
}

// RedisPersistence projects failed-task records into Redis, one hash per
// record keyed by task id, guarded by a circuit breaker so a degraded
// Redis does not add latency to every DLQ operation.
type RedisPersistence struct {
	client    *redis.Client
	keyPrefix string
	breaker   *gobreaker.CircuitBreaker
}

// NewRedisPersistence constructs a Persistence backed by client, with keys
// of the form "<keyPrefix><task-id>".
func NewRedisPersistence(client *redis.Client, keyPrefix string) *RedisPersistence {
	settings := gobreaker.Settings{
		Name:        "dlq-persistence",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &RedisPersistence{
		client:    client,
		keyPrefix: keyPrefix,
		breaker:   gobreaker.NewCircuitBreaker(settings),
	}
}

func (p *RedisPersistence) key(taskID string) string {
	return p.keyPrefix + taskID
}

func (p *RedisPersistence) Save(ctx context.Context, record *FailedTaskRecord) error {
	_, err := p.breaker.Execute(func() (any, error) {
		data, err := json.Marshal(record)
		if err != nil {
			return nil, err
		}
		return nil, p.client.Set(ctx, p.key(record.TaskID), data, 0).Err()
	})
	return err
}

func (p *RedisPersistence) Delete(ctx context.Context, taskID string) error {
	_, err := p.breaker.Execute(func() (any, error) {
		return nil, p.client.Del(ctx, p.key(taskID)).Err()
	})
	return err
}

// NoopPersistence discards every write; used when dlq.enabled's advisory
// projection is not configured.
type NoopPersistence struct{}

func (NoopPersistence) Save(context.Context, *FailedTaskRecord) error { return nil }
func (NoopPersistence) Delete(context.Context, string) error         { return nil }
