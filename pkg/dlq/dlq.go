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

// Package dlq implements the dead-letter queue (C5): a bounded buffer of
// failed tasks with configurable retry policies and a background retry
// processor.
package dlq

import (
	"context"
	"math"
	"sync"
	"time"

	apperrors "github.com/lesleslie/mahavishnu-sub005/internal/errors"
	"golang.org/x/sync/errgroup"
)

// RetryPolicy is one of the queue's retry strategies.
type RetryPolicy string

const (
	RetryNever       RetryPolicy = "never"
	RetryLinear      RetryPolicy = "linear"
	RetryExponential RetryPolicy = "exponential"
	RetryImmediate   RetryPolicy = "immediate"
)

// ErrorCategory classifies why a task failed, informing operator triage.
type ErrorCategory string

const (
	ErrorTransient  ErrorCategory = "transient"
	ErrorNetwork    ErrorCategory = "network"
	ErrorResource   ErrorCategory = "resource"
	ErrorPermission ErrorCategory = "permission"
	ErrorValidation ErrorCategory = "validation"
	ErrorPermanent  ErrorCategory = "permanent"
)

// QueueStatus is one of a failed-task record's lifecycle states.
type QueueStatus string

const (
	QueueStatusPending   QueueStatus = "pending"
	QueueStatusRetrying  QueueStatus = "retrying"
	QueueStatusCompleted QueueStatus = "completed"
	QueueStatusExhausted QueueStatus = "exhausted"
	QueueStatusArchived  QueueStatus = "archived"
)

// FailedTaskRecord is one task's dead-letter entry.
type FailedTaskRecord struct {
	TaskID          string         `json:"task_id"`
	Payload         map[string]any `json:"payload"`
	Repositories    []string       `json:"repositories,omitempty"`
	LastError       string         `json:"last_error"`
	FirstFailedAt   time.Time      `json:"first_failed_at"`
	NextRetryAt     *time.Time     `json:"next_retry_at,omitempty"`
	RetryCount      int            `json:"retry_count"`
	MaxRetries      int            `json:"max_retries"`
	RetryPolicy     RetryPolicy    `json:"retry_policy"`
	ErrorCategory   ErrorCategory  `json:"error_category"`
	Status          QueueStatus    `json:"status"`
	TotalAttempts   int            `json:"total_attempts"`
}

// Statistics is a point-in-time snapshot of the queue's health.
type Statistics struct {
	QueueSize          int                   `json:"queue_size"`
	Capacity           int                   `json:"capacity"`
	UtilizationPercent float64               `json:"utilization_percent"`
	StatusBreakdown    map[QueueStatus]int   `json:"status_breakdown"`
	ErrorCategoryDist  map[ErrorCategory]int `json:"error_category_distribution"`
	PolicyDist         map[RetryPolicy]int   `json:"policy_distribution"`
	Enqueued           int64                 `json:"enqueued"`
	RetriedSuccess     int64                 `json:"retried_success"`
	RetriedFailed      int64                 `json:"retried_failed"`
	Exhausted          int64                 `json:"exhausted"`
	ManuallyRetried    int64                 `json:"manually_retried"`
	Archived           int64                 `json:"archived"`
	ProcessorRunning   bool                  `json:"processor_running"`
}

// RetryCallback is the DLQ's single-method callback capability: a
// synchronous function invoked with the failed task's payload and
// repository list. It is not a coroutine framework; long-running work
// inside it should be decomposed by the caller, and the core does not
// attempt mid-call cancellation.
type RetryCallback func(ctx context.Context, payload map[string]any, repositories []string) error

// Queue is the dead-letter queue. The zero value is not usable; construct
// with New.
type Queue struct {
	mu       sync.Mutex
	records  map[string]*FailedTaskRecord
	order    []string // insertion order, for List's default ordering
	capacity int

	persistence Persistence
	breaker     *CircuitBreaker

	stats struct {
		enqueued, retriedSuccess, retriedFailed, exhausted, manuallyRetried, archived int64
	}

	processorCancel context.CancelFunc
	processorDone   chan struct{}
	running         bool

	slowCallbackThreshold time.Duration
	onSlowCallback        func(taskID string, elapsed time.Duration)
}

// Config configures a new Queue.
type Config struct {
	Capacity              int
	Persistence           Persistence
	SlowCallbackThreshold time.Duration
	OnSlowCallback        func(taskID string, elapsed time.Duration)
}

// New constructs a Queue bounded at cfg.Capacity (default 10,000).
func New(cfg Config) *Queue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 10_000
	}
	if cfg.Persistence == nil {
		cfg.Persistence = NoopPersistence{}
	}
	if cfg.SlowCallbackThreshold <= 0 {
		cfg.SlowCallbackThreshold = 30 * time.Second
	}
	return &Queue{
		records:               make(map[string]*FailedTaskRecord),
		capacity:              cfg.Capacity,
		persistence:           cfg.Persistence,
		breaker:               NewCircuitBreaker("dlq-retry-callback", 0.8, time.Minute),
		slowCallbackThreshold: cfg.SlowCallbackThreshold,
		onSlowCallback:        cfg.OnSlowCallback,
	}
}

// nextRetryDelay computes the delay before retry attempt n (0-indexed)
// under policy.
func nextRetryDelay(policy RetryPolicy, n int) (time.Duration, bool) {
	switch policy {
	case RetryNever:
		return 0, false
	case RetryImmediate:
		return 0, true
	case RetryLinear:
		return time.Duration(5*(n+1)) * time.Minute, true
	case RetryExponential:
		minutes := math.Min(math.Pow(2, float64(n)), 60)
		return time.Duration(minutes * float64(time.Minute)), true
	default:
		return 0, false
	}
}

// Enqueue admits a failed task into the queue.
func (q *Queue) Enqueue(taskID string, payload map[string]any, repositories []string, lastError string,
	policy RetryPolicy, maxRetries int, category ErrorCategory, now time.Time) (*FailedTaskRecord, error) {

	q.mu.Lock()
	if len(q.records) >= q.capacity {
		q.mu.Unlock()
		return nil, apperrors.NewCapacityError("dead-letter queue")
	}

	record := &FailedTaskRecord{
		TaskID:        taskID,
		Payload:       payload,
		Repositories:  repositories,
		LastError:     lastError,
		FirstFailedAt: now,
		RetryCount:    0,
		MaxRetries:    maxRetries,
		RetryPolicy:   policy,
		ErrorCategory: category,
		Status:        QueueStatusPending,
		TotalAttempts: 0,
	}
	if delay, scheduled := nextRetryDelay(policy, 0); scheduled {
		next := now.Add(delay)
		record.NextRetryAt = &next
	}

	q.records[taskID] = record
	q.order = append(q.order, taskID)
	q.stats.enqueued++
	q.mu.Unlock()

	// Advisory persistence: best-effort; a Save error is discarded without
	// being logged or returned.
	_ = q.persistence.Save(context.Background(), record)

	return record, nil
}

// Get returns the record for taskID, if present.
func (q *Queue) Get(taskID string) (*FailedTaskRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.records[taskID]
	if !ok {
		return nil, false
	}
	cp := *r
	return &cp, true
}

// List returns up to limit records, optionally filtered by status, in
// insertion order. limit < 0 means unbounded.
func (q *Queue) List(status *QueueStatus, limit int) []*FailedTaskRecord {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*FailedTaskRecord
	for _, id := range q.order {
		r, ok := q.records[id]
		if !ok {
			continue
		}
		if status != nil && r.Status != *status {
			continue
		}
		cp := *r
		out = append(out, &cp)
		if limit >= 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Archive drops taskID from the active buffer and counts it in the archived
// statistic; the record itself is not kept. It returns whether the record
// existed.
func (q *Queue) Archive(taskID string) bool {
	q.mu.Lock()
	_, existed := q.records[taskID]
	if existed {
		delete(q.records, taskID)
		q.removeFromOrder(taskID)
		q.stats.archived++
	}
	q.mu.Unlock()

	if existed {
		_ = q.persistence.Delete(context.Background(), taskID)
	}
	return existed
}

func (q *Queue) removeFromOrder(taskID string) {
	for i, id := range q.order {
		if id == taskID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			return
		}
	}
}

// ClearAll empties the buffer, returning the number of records removed.
func (q *Queue) ClearAll() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.records)
	q.records = make(map[string]*FailedTaskRecord)
	q.order = nil
	return n
}

// Retry synchronously invokes callback for taskID. On success the record
// is dropped and counted manually_retried; on failure the retry count is
// incremented and the next-retry instant recomputed.
func (q *Queue) Retry(ctx context.Context, taskID string, callback RetryCallback) error {
	q.mu.Lock()
	record, ok := q.records[taskID]
	if !ok {
		q.mu.Unlock()
		return apperrors.NewNotFoundError("dead-letter record")
	}
	if record.Status == QueueStatusRetrying {
		q.mu.Unlock()
		return apperrors.New(apperrors.ErrorTypeTransient, "record is already being retried")
	}
	record.Status = QueueStatusRetrying
	payload, repos := record.Payload, record.Repositories
	q.mu.Unlock()

	err := q.invokeCallback(ctx, taskID, callback, payload, repos)

	q.mu.Lock()
	defer q.mu.Unlock()
	if err == nil {
		delete(q.records, taskID)
		q.removeFromOrder(taskID)
		q.stats.manuallyRetried++
		go func() { _ = q.persistence.Delete(context.Background(), taskID) }()
		return nil
	}

	record.RetryCount++
	record.TotalAttempts++
	record.LastError = err.Error()
	if record.RetryCount >= record.MaxRetries {
		record.Status = QueueStatusExhausted
		record.NextRetryAt = nil
		q.stats.exhausted++
	} else {
		delay, scheduled := nextRetryDelay(record.RetryPolicy, record.RetryCount)
		record.Status = QueueStatusPending
		if scheduled {
			next := time.Now().Add(delay)
			record.NextRetryAt = &next
		} else {
			record.NextRetryAt = nil
		}
	}
	return apperrors.NewCallbackError(err)
}

func (q *Queue) invokeCallback(ctx context.Context, taskID string, callback RetryCallback,
	payload map[string]any, repos []string) error {

	done := make(chan struct{})
	start := time.Now()
	go func() {
		timer := time.NewTimer(q.slowCallbackThreshold)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			if q.onSlowCallback != nil {
				q.onSlowCallback(taskID, time.Since(start))
			}
		}
	}()
	defer close(done)

	return q.breaker.Call(func() error {
		return callback(ctx, payload, repos)
	})
}

// StartRetryProcessor launches the background retry loop. It is idempotent:
// calling it while already running is a no-op.
func (q *Queue) StartRetryProcessor(ctx context.Context, callback RetryCallback, checkInterval time.Duration) {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	if checkInterval <= 0 {
		checkInterval = 60 * time.Second
	}
	procCtx, cancel := context.WithCancel(ctx)
	q.processorCancel = cancel
	q.processorDone = make(chan struct{})
	q.running = true
	q.mu.Unlock()

	go q.runProcessor(procCtx, callback, checkInterval)
}

func (q *Queue) runProcessor(ctx context.Context, callback RetryCallback, checkInterval time.Duration) {
	defer close(q.processorDone)
	for {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.running = false
			q.mu.Unlock()
			return
		case <-time.After(checkInterval):
		}

		if err := q.runIteration(ctx, callback); err != nil {
			// A misbehaving iteration must never terminate the processor.
			time.Sleep(10 * time.Second)
		}
	}
}

func (q *Queue) runIteration(ctx context.Context, callback RetryCallback) error {
	now := time.Now()

	q.mu.Lock()
	var due []*FailedTaskRecord
	for _, id := range q.order {
		r := q.records[id]
		if r == nil || r.Status != QueueStatusPending {
			continue
		}
		if r.RetryCount >= r.MaxRetries {
			continue
		}
		if r.NextRetryAt == nil || r.NextRetryAt.After(now) {
			continue
		}
		r.Status = QueueStatusRetrying
		due = append(due, r)
	}
	q.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, record := range due {
		record := record
		g.Go(func() error {
			q.dispatchDue(gctx, record, callback)
			return nil
		})
	}
	return g.Wait()
}

func (q *Queue) dispatchDue(ctx context.Context, record *FailedTaskRecord, callback RetryCallback) {
	_ = q.persistence.Save(ctx, record)

	err := q.invokeCallback(ctx, record.TaskID, callback, record.Payload, record.Repositories)

	q.mu.Lock()
	defer q.mu.Unlock()
	if err == nil {
		delete(q.records, record.TaskID)
		q.removeFromOrder(record.TaskID)
		q.stats.retriedSuccess++
		go func() { _ = q.persistence.Delete(context.Background(), record.TaskID) }()
		return
	}

	q.stats.retriedFailed++
	record.RetryCount++
	record.TotalAttempts++
	record.LastError = err.Error()
	if record.RetryCount >= record.MaxRetries {
		record.Status = QueueStatusExhausted
		record.NextRetryAt = nil
		q.stats.exhausted++
		return
	}
	delay, scheduled := nextRetryDelay(record.RetryPolicy, record.RetryCount)
	record.Status = QueueStatusPending
	if scheduled {
		next := time.Now().Add(delay)
		record.NextRetryAt = &next
	} else {
		record.NextRetryAt = nil
	}
}

// StopRetryProcessor cancels the processor and waits for the in-flight
// iteration to complete before returning. Idempotent.
func (q *Queue) StopRetryProcessor() {
	q.mu.Lock()
	if !q.running || q.processorCancel == nil {
		q.mu.Unlock()
		return
	}
	cancel := q.processorCancel
	done := q.processorDone
	q.mu.Unlock()

	cancel()
	<-done
}

// Statistics returns a snapshot of the queue's current health.
func (q *Queue) Statistics() Statistics {
	q.mu.Lock()
	defer q.mu.Unlock()

	statusBreakdown := make(map[QueueStatus]int)
	categoryDist := make(map[ErrorCategory]int)
	policyDist := make(map[RetryPolicy]int)
	for _, r := range q.records {
		statusBreakdown[r.Status]++
		categoryDist[r.ErrorCategory]++
		policyDist[r.RetryPolicy]++
	}

	size := len(q.records)
	utilization := 0.0
	if q.capacity > 0 {
		utilization = float64(size) / float64(q.capacity) * 100
	}

	return Statistics{
		QueueSize:          size,
		Capacity:           q.capacity,
		UtilizationPercent: utilization,
		StatusBreakdown:    statusBreakdown,
		ErrorCategoryDist:  categoryDist,
		PolicyDist:         policyDist,
		Enqueued:           q.stats.enqueued,
		RetriedSuccess:     q.stats.retriedSuccess,
		RetriedFailed:      q.stats.retriedFailed,
		Exhausted:          q.stats.exhausted,
		ManuallyRetried:    q.stats.manuallyRetried,
		Archived:           q.stats.archived,
		ProcessorRunning:   q.running,
	}
}
