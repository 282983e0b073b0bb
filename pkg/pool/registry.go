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

// Package pool implements the pool/worker registry (C6): tracks pools,
// their workers, and current task assignments, emitting lifecycle events
// for the event bus to fan out.
package pool

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/lesleslie/mahavishnu-sub005/internal/errors"
	"golang.org/x/sync/semaphore"
)

// PoolState is one of a pool's lifecycle states.
type PoolState string

const (
	PoolInitializing PoolState = "initializing"
	PoolRunning      PoolState = "running"
	PoolScaling      PoolState = "scaling"
	PoolStopped      PoolState = "stopped"
	PoolError        PoolState = "error"
)

// WorkerStatus is one of a worker's states.
type WorkerStatus string

const (
	WorkerInitializing WorkerStatus = "initializing"
	WorkerIdle         WorkerStatus = "idle"
	WorkerBusy         WorkerStatus = "busy"
	WorkerError        WorkerStatus = "error"
	WorkerStopping     WorkerStatus = "stopping"
)

// EventType names a pool/worker lifecycle event, matching the wire
// catalogue's dotted event names.
type EventType string

const (
	EventPoolSpawned         EventType = "pool.spawned"
	EventPoolScaled          EventType = "pool.scaled"
	EventPoolStatusChanged   EventType = "pool.status_changed"
	EventPoolClosed          EventType = "pool.closed"
	EventWorkerAdded         EventType = "worker.added"
	EventWorkerRemoved       EventType = "worker.removed"
	EventWorkerStatusChanged EventType = "worker.status_changed"
	EventTaskAssigned        EventType = "task.assigned"
	EventTaskCompleted       EventType = "task.completed"
)

// Event is a lifecycle notification published to subscribers of Sink.
type Event struct {
	Type    EventType
	PoolID  string
	Payload map[string]any
}

// Sink receives every event the registry emits. The registry never blocks
// waiting for a sink; wiring a non-blocking sink (e.g. the event bus) is
// the caller's responsibility.
type Sink interface {
	Publish(Event)
}

// Worker is owned exclusively by one pool.
type Worker struct {
	ID              string
	Status          WorkerStatus
	CurrentTaskID   string
	TasksCompleted  int64
	LastTransition  time.Time
}

// Pool is a logical grouping of workers.
type Pool struct {
	ID         string
	Type       string
	MinWorkers int
	MaxWorkers int
	State      PoolState

	mu               sync.Mutex
	workers          map[string]*Worker
	completedTasks   int64
	totalDuration    time.Duration
}

// PoolStatus is a read-only snapshot of a pool's current health.
type PoolStatus struct {
	ID                 string
	State              PoolState
	WorkersByStatus    map[WorkerStatus]int
	CompletedTasks     int64
	AverageTaskDuration time.Duration
}

// Registry tracks every pool. One mutex guards pool creation/deletion;
// each pool's own mutex guards its worker set, so worker operations on
// distinct pools never contend.
type Registry struct {
	globalMu sync.Mutex
	pools    map[string]*Pool
	sink     Sink
	now      func() time.Time
}

// NewRegistry constructs an empty Registry. Events are published to sink;
// pass a no-op Sink if events are not needed.
func NewRegistry(sink Sink) *Registry {
	return &Registry{
		pools: make(map[string]*Pool),
		sink:  sink,
		now:   time.Now,
	}
}

func (r *Registry) publish(evt Event) {
	if r.sink != nil {
		r.sink.Publish(evt)
	}
}

// RegisterPool creates a new pool. Registering an id that already exists
// is a duplicate-resource error.
func (r *Registry) RegisterPool(id, poolType string, minWorkers, maxWorkers int) (*Pool, error) {
	r.globalMu.Lock()
	defer r.globalMu.Unlock()

	if _, exists := r.pools[id]; exists {
		return nil, apperrors.NewDuplicateError("pool " + id)
	}

	p := &Pool{
		ID:         id,
		Type:       poolType,
		MinWorkers: minWorkers,
		MaxWorkers: maxWorkers,
		State:      PoolInitializing,
		workers:    make(map[string]*Worker),
	}
	r.pools[id] = p

	r.publish(Event{
		Type:   EventPoolSpawned,
		PoolID: id,
		Payload: map[string]any{
			"pool_id":     id,
			"pool_type":   poolType,
			"min_workers": minWorkers,
			"max_workers": maxWorkers,
		},
	})

	p.mu.Lock()
	p.State = PoolRunning
	p.mu.Unlock()
	r.publish(Event{
		Type:   EventPoolStatusChanged,
		PoolID: id,
		Payload: map[string]any{"pool_id": id, "previous": string(PoolInitializing), "next": string(PoolRunning)},
	})

	return p, nil
}

func (r *Registry) lookup(id string) (*Pool, error) {
	r.globalMu.Lock()
	p, ok := r.pools[id]
	r.globalMu.Unlock()
	if !ok {
		return nil, apperrors.NewNotFoundError("pool " + id)
	}
	return p, nil
}

// Scale updates a pool's min/max bounds, clamping requests outside a
// sane range and logging the clamp via the returned bool.
func (r *Registry) Scale(id string, minWorkers, maxWorkers int) (clamped bool, err error) {
	p, err := r.lookup(id)
	if err != nil {
		return false, err
	}

	if minWorkers < 0 {
		minWorkers = 0
		clamped = true
	}
	if maxWorkers < minWorkers {
		maxWorkers = minWorkers
		clamped = true
	}

	p.mu.Lock()
	prevState := p.State
	p.State = PoolScaling
	p.MinWorkers = minWorkers
	p.MaxWorkers = maxWorkers
	p.mu.Unlock()

	r.publish(Event{
		Type:   EventPoolScaled,
		PoolID: id,
		Payload: map[string]any{"pool_id": id, "min_workers": minWorkers, "max_workers": maxWorkers, "clamped": clamped},
	})

	restored := prevState
	if restored == PoolInitializing {
		restored = PoolRunning
	}
	p.mu.Lock()
	p.State = restored
	p.mu.Unlock()

	return clamped, nil
}

// ClosePool transitions a pool to stopped. Workers remain recorded for
// historical queries but reject new task assignment.
func (r *Registry) ClosePool(id string) error {
	p, err := r.lookup(id)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.State = PoolStopped
	p.mu.Unlock()

	r.publish(Event{Type: EventPoolClosed, PoolID: id, Payload: map[string]any{"pool_id": id}})
	return nil
}

// AddWorker registers a new worker under pool id. Pools in stopped or
// error state reject new workers.
func (r *Registry) AddWorker(poolID, workerID string) (*Worker, error) {
	p, err := r.lookup(poolID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.State == PoolStopped || p.State == PoolError {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, "pool "+poolID+" does not accept new workers in state "+string(p.State))
	}
	if _, exists := p.workers[workerID]; exists {
		return nil, apperrors.NewDuplicateError("worker " + workerID)
	}

	w := &Worker{
		ID:             workerID,
		Status:         WorkerInitializing,
		LastTransition: r.now(),
	}
	p.workers[workerID] = w

	r.publish(Event{
		Type:   EventWorkerAdded,
		PoolID: poolID,
		Payload: map[string]any{"pool_id": poolID, "worker_id": workerID},
	})

	w.Status = WorkerIdle
	w.LastTransition = r.now()
	r.publish(Event{
		Type:   EventWorkerStatusChanged,
		PoolID: poolID,
		Payload: map[string]any{"pool_id": poolID, "worker_id": workerID, "previous": string(WorkerInitializing), "next": string(WorkerIdle)},
	})

	return w, nil
}

// RemoveWorker destroys a worker. A worker's relationship with its pool
// is exclusive and immutable; reassignment is modeled as remove-then-add.
func (r *Registry) RemoveWorker(poolID, workerID string) (bool, error) {
	p, err := r.lookup(poolID)
	if err != nil {
		return false, err
	}

	p.mu.Lock()
	_, existed := p.workers[workerID]
	if existed {
		delete(p.workers, workerID)
	}
	p.mu.Unlock()

	if existed {
		r.publish(Event{
			Type:   EventWorkerRemoved,
			PoolID: poolID,
			Payload: map[string]any{"pool_id": poolID, "worker_id": workerID},
		})
	}
	return existed, nil
}

// UpdateWorkerStatus transitions a worker's status, emitting
// WORKER_STATUS_CHANGED with the previous and next values.
func (r *Registry) UpdateWorkerStatus(poolID, workerID string, next WorkerStatus) error {
	p, err := r.lookup(poolID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	w, ok := p.workers[workerID]
	if !ok {
		p.mu.Unlock()
		return apperrors.NewNotFoundError("worker " + workerID)
	}
	prev := w.Status
	w.Status = next
	w.LastTransition = r.now()
	if next != WorkerBusy {
		w.CurrentTaskID = ""
	}
	p.mu.Unlock()

	r.publish(Event{
		Type:   EventWorkerStatusChanged,
		PoolID: poolID,
		Payload: map[string]any{"pool_id": poolID, "worker_id": workerID, "previous": string(prev), "next": string(next)},
	})
	return nil
}

// AssignTask marks worker as busy with taskID, emitting TASK_ASSIGNED.
func (r *Registry) AssignTask(poolID, workerID, taskID string) error {
	p, err := r.lookup(poolID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.State == PoolStopped {
		p.mu.Unlock()
		return apperrors.New(apperrors.ErrorTypeValidation, "pool "+poolID+" does not accept task assignment in state "+string(p.State))
	}
	w, ok := p.workers[workerID]
	if !ok {
		p.mu.Unlock()
		return apperrors.NewNotFoundError("worker " + workerID)
	}
	prev := w.Status
	w.Status = WorkerBusy
	w.CurrentTaskID = taskID
	w.LastTransition = r.now()
	p.mu.Unlock()

	r.publish(Event{
		Type:   EventWorkerStatusChanged,
		PoolID: poolID,
		Payload: map[string]any{"pool_id": poolID, "worker_id": workerID, "previous": string(prev), "next": string(WorkerBusy)},
	})
	r.publish(Event{
		Type:   EventTaskAssigned,
		PoolID: poolID,
		Payload: map[string]any{"pool_id": poolID, "worker_id": workerID, "task_id": taskID},
	})
	return nil
}

// CompleteTask records task completion for worker's currently assigned
// task, returning it to idle and accumulating duration statistics.
func (r *Registry) CompleteTask(poolID, workerID string, duration time.Duration) error {
	p, err := r.lookup(poolID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	w, ok := p.workers[workerID]
	if !ok {
		p.mu.Unlock()
		return apperrors.NewNotFoundError("worker " + workerID)
	}
	taskID := w.CurrentTaskID
	w.Status = WorkerIdle
	w.CurrentTaskID = ""
	w.TasksCompleted++
	w.LastTransition = r.now()
	p.completedTasks++
	p.totalDuration += duration
	p.mu.Unlock()

	r.publish(Event{
		Type:   EventTaskCompleted,
		PoolID: poolID,
		Payload: map[string]any{"pool_id": poolID, "worker_id": workerID, "task_id": taskID, "duration_ms": duration.Milliseconds()},
	})
	return nil
}

// PoolStatusOf returns a read-only snapshot of pool id's current health.
func (r *Registry) PoolStatusOf(id string) (PoolStatus, error) {
	p, err := r.lookup(id)
	if err != nil {
		return PoolStatus{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	breakdown := make(map[WorkerStatus]int)
	for _, w := range p.workers {
		breakdown[w.Status]++
	}

	var avg time.Duration
	if p.completedTasks > 0 {
		avg = p.totalDuration / time.Duration(p.completedTasks)
	}

	return PoolStatus{
		ID:                  id,
		State:               p.State,
		WorkersByStatus:     breakdown,
		CompletedTasks:      p.completedTasks,
		AverageTaskDuration: avg,
	}, nil
}

// PoolSpec describes one pool to create as part of a batch spawn.
type PoolSpec struct {
	ID         string
	Type       string
	MinWorkers int
	MaxWorkers int
}

// SpawnBatch registers every spec concurrently, bounded at maxConcurrent
// simultaneous RegisterPool calls so a large batch does not stampede the
// global pool-directory mutex. Results are returned in the same order as
// specs; an individual failure (e.g. duplicate id) does not abort the rest
// of the batch.
func (r *Registry) SpawnBatch(ctx context.Context, specs []PoolSpec, maxConcurrent int64) ([]*Pool, []error) {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	sem := semaphore.NewWeighted(maxConcurrent)

	pools := make([]*Pool, len(specs))
	errs := make([]error, len(specs))

	var wg sync.WaitGroup
	for i, spec := range specs {
		i, spec := i, spec
		if err := sem.Acquire(ctx, 1); err != nil {
			errs[i] = err
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			p, err := r.RegisterPool(spec.ID, spec.Type, spec.MinWorkers, spec.MaxWorkers)
			pools[i] = p
			errs[i] = err
		}()
	}
	wg.Wait()

	return pools, errs
}

// WorkerStatusOf returns a copy of workerID's current state within pool id.
func (r *Registry) WorkerStatusOf(poolID, workerID string) (Worker, error) {
	p, err := r.lookup(poolID)
	if err != nil {
		return Worker{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workers[workerID]
	if !ok {
		return Worker{}, apperrors.NewNotFoundError("worker " + workerID)
	}
	return *w, nil
}
