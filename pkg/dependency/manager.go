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

package graph

import (
	"sort"
	"sync"

	apperrors "github.com/lesleslie/mahavishnu-sub005/internal/errors"
)

// TaskStatus is one of a task's lifecycle states.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	StatusCancelled  TaskStatus = "cancelled"
)

var validTransitions = map[TaskStatus]map[TaskStatus]bool{
	StatusPending:    {StatusInProgress: true, StatusCancelled: true},
	StatusInProgress: {StatusCompleted: true, StatusFailed: true, StatusCancelled: true},
	StatusFailed:     {StatusPending: true}, // only via DLQ retry
	StatusCompleted:  {},
	StatusCancelled:  {},
}

// Manager layers per-task status and lifecycle event emission atop a
// Graph. Its graph mutations and status map are protected by a single
// internal lock; events are emitted after the lock is released to avoid
// lock inversion with subscribers (see concurrency model).
type Manager struct {
	mu       sync.RWMutex
	graph    *Graph
	statuses map[string]TaskStatus
	emitter  *EventEmitter
}

// NewManager constructs a Manager over a fresh Graph.
func NewManager(emitter *EventEmitter) *Manager {
	if emitter == nil {
		emitter = NewEventEmitter(nil)
	}
	return &Manager{
		graph:    New(),
		statuses: make(map[string]TaskStatus),
		emitter:  emitter,
	}
}

// Graph exposes the underlying dependency graph for read-only queries.
func (m *Manager) Graph() *Graph {
	return m.graph
}

// AddTask registers a task with initial status pending.
func (m *Manager) AddTask(id string, metadata map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.graph.AddTask(id, metadata)
	if _, exists := m.statuses[id]; !exists {
		m.statuses[id] = StatusPending
	}
}

// Status returns the current status of id.
func (m *Manager) Status(id string) (TaskStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[id]
	return s, ok
}

// AddDependency asserts that dependent must not run before dependency. On
// success it emits DEPENDENCY_ADDED and, if dependent was previously
// unblocked, TASK_BLOCKED.
func (m *Manager) AddDependency(dependency, dependent string, edgeType EdgeType, metadata map[string]any) error {
	m.mu.Lock()
	wasBlocked := m.graph.IsBlocked(dependent)
	if err := m.graph.AddEdge(dependency, dependent, edgeType, metadata); err != nil {
		m.mu.Unlock()
		return err
	}
	nowBlocked := m.graph.IsBlocked(dependent)
	m.mu.Unlock()

	m.emitter.Emit(Event{Type: EventDependencyAdded, TaskID: dependent, Payload: map[string]any{
		"dependency": dependency, "dependent": dependent, "type": edgeType,
	}})
	if !wasBlocked && nowBlocked {
		m.emitter.Emit(Event{Type: EventTaskBlocked, TaskID: dependent})
	}
	m.emitBlockingTasksChanged(dependent)
	return nil
}

// RemoveDependency removes the dependency->dependent edge, emitting
// DEPENDENCY_REMOVED and, if dependent becomes unblocked as a result,
// TASK_UNBLOCKED.
func (m *Manager) RemoveDependency(dependency, dependent string) bool {
	m.mu.Lock()
	wasBlocked := m.graph.IsBlocked(dependent)
	existed := m.graph.RemoveEdge(dependency, dependent)
	nowBlocked := m.graph.IsBlocked(dependent)
	m.mu.Unlock()

	if !existed {
		return false
	}
	m.emitter.Emit(Event{Type: EventDependencyRemoved, TaskID: dependent, Payload: map[string]any{
		"dependency": dependency, "dependent": dependent,
	}})
	if wasBlocked && !nowBlocked {
		m.emitter.Emit(Event{Type: EventTaskUnblocked, TaskID: dependent})
		m.emitter.Emit(Event{Type: EventAllDependenciesSatisfied, TaskID: dependent})
	}
	m.emitBlockingTasksChanged(dependent)
	return true
}

func (m *Manager) emitBlockingTasksChanged(id string) {
	blocking := m.graph.BlockingTasks(id)
	m.emitter.Emit(Event{Type: EventBlockingTasksChanged, TaskID: id, Payload: map[string]any{
		"blocking_tasks": blocking,
	}})
}

// UpdateTaskStatus transitions id to newStatus, couples the transition to
// outgoing edge-status, and emits the resulting event set — for a single
// call, in the order DEPENDENCY_SATISFIED|DEPENDENCY_FAILED, then
// TASK_UNBLOCKED, then ALL_DEPENDENCIES_SATISFIED per affected dependent —
// entirely before returning. It returns the set of dependent task ids that
// transitioned from blocked to ready as a result of this call.
func (m *Manager) UpdateTaskStatus(id string, newStatus TaskStatus) ([]string, error) {
	m.mu.Lock()

	current, known := m.statuses[id]
	if !known {
		m.mu.Unlock()
		return nil, apperrors.NewNotFoundError("task")
	}
	if !validTransitions[current][newStatus] {
		m.mu.Unlock()
		return nil, apperrors.NewValidationError(
			"invalid task status transition from " + string(current) + " to " + string(newStatus))
	}

	m.statuses[id] = newStatus

	var edgeStatus EdgeStatus
	var satisfactionEvent EventType
	switch newStatus {
	case StatusCompleted:
		edgeStatus = EdgeStatusSatisfied
		satisfactionEvent = EventDependencySatisfied
	case StatusFailed:
		edgeStatus = EdgeStatusFailed
		satisfactionEvent = EventDependencyFailed
	case StatusCancelled:
		edgeStatus = EdgeStatusCancelled
		satisfactionEvent = EventDependencySatisfied
	default:
		m.mu.Unlock()
		return nil, nil
	}

	dependents := m.graph.Dependents(id)
	wasBlocked := make(map[string]bool, len(dependents))
	for _, dep := range dependents {
		wasBlocked[dep] = m.graph.IsBlocked(dep)
	}
	m.graph.UpdateEdgeStatus(id, edgeStatus)
	nowUnblocked := make([]string, 0, len(dependents))
	for _, dep := range dependents {
		if wasBlocked[dep] && !m.graph.IsBlocked(dep) {
			nowUnblocked = append(nowUnblocked, dep)
		}
	}
	sort.Strings(nowUnblocked)
	m.mu.Unlock()

	// Events are emitted after the lock is released; the ordering within a
	// single call is: satisfaction/failure for the source, then
	// TASK_UNBLOCKED, then ALL_DEPENDENCIES_SATISFIED for each dependent
	// that transitioned to ready.
	m.emitter.Emit(Event{Type: satisfactionEvent, TaskID: id})
	for _, dep := range nowUnblocked {
		m.emitter.Emit(Event{Type: EventTaskUnblocked, TaskID: dep})
		m.emitter.Emit(Event{Type: EventAllDependenciesSatisfied, TaskID: dep})
	}

	return nowUnblocked, nil
}

// GetReadyTasks returns every task whose status is pending and which is
// not blocked.
func (m *Manager) GetReadyTasks() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ready []string
	for id, status := range m.statuses {
		if status == StatusPending && !m.graph.IsBlocked(id) {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)
	return ready
}

// GetNextAvailableTasks returns up to limit ready tasks, ordered by
// ascending dependency depth then identifier.
func (m *Manager) GetNextAvailableTasks(limit int) []string {
	ready := m.GetReadyTasks()
	sort.Slice(ready, func(i, j int) bool {
		di, dj := m.graph.DependencyDepth(ready[i]), m.graph.DependencyDepth(ready[j])
		if di != dj {
			return di < dj
		}
		return ready[i] < ready[j]
	})
	if limit >= 0 && limit < len(ready) {
		ready = ready[:limit]
	}
	return ready
}

// CanCompleteTask reports whether id may transition to completed: it must
// be known and currently in_progress.
func (m *Manager) CanCompleteTask(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, known := m.statuses[id]
	return known && status == StatusInProgress
}

// GetCompletionCandidates returns, for a hypothetical completion of id,
// the dependents that would become unblocked — without mutating state.
// It lets a caller see which tasks a completion would actually unblock
// without a full reorder; pkg/ordering does not call it.
func (m *Manager) GetCompletionCandidates(id string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dependents := m.graph.Dependents(id)
	var candidates []string
	for _, dep := range dependents {
		blockers := m.graph.BlockingTasks(dep)
		onlyThisBlocks := true
		for _, b := range blockers {
			if b != id {
				onlyThisBlocks = false
				break
			}
		}
		if onlyThisBlocks {
			candidates = append(candidates, dep)
		}
	}
	sort.Strings(candidates)
	return candidates
}
