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
	"fmt"
	"sync"
)

// EventType enumerates the dependency manager's lifecycle event kinds.
type EventType string

const (
	EventDependencyAdded           EventType = "DEPENDENCY_ADDED"
	EventDependencyRemoved         EventType = "DEPENDENCY_REMOVED"
	EventDependencySatisfied       EventType = "DEPENDENCY_SATISFIED"
	EventDependencyFailed          EventType = "DEPENDENCY_FAILED"
	EventTaskBlocked               EventType = "TASK_BLOCKED"
	EventTaskUnblocked             EventType = "TASK_UNBLOCKED"
	EventAllDependenciesSatisfied  EventType = "ALL_DEPENDENCIES_SATISFIED"
	EventBlockingTasksChanged      EventType = "BLOCKING_TASKS_CHANGED"
)

// Event is an immutable record of a dependency manager state change.
type Event struct {
	Type    EventType
	TaskID  string
	Payload map[string]any
}

// Handler is the capability a dependency-manager event subscriber must
// satisfy. Multiple handler kinds (logging, forwarding to the event bus,
// aggregation) are variants of this one capability; no inheritance
// hierarchy is required.
type Handler func(Event)

// EventEmitter fans out Events to registered Handlers, isolating a failing
// handler so it cannot suppress delivery to the rest.
type EventEmitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	onPanic  func(eventType EventType, recovered any)
}

// NewEventEmitter constructs an emitter. onPanic, if non-nil, is invoked
// when a handler panics; a nil value silently recovers.
func NewEventEmitter(onPanic func(eventType EventType, recovered any)) *EventEmitter {
	return &EventEmitter{
		handlers: make(map[EventType][]Handler),
		onPanic:  onPanic,
	}
}

// On registers a handler for eventType.
func (e *EventEmitter) On(eventType EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[eventType] = append(e.handlers[eventType], h)
}

// Off removes every handler registered for eventType.
func (e *EventEmitter) Off(eventType EventType) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers, eventType)
}

// Emit delivers ev to every handler registered for ev.Type. A handler that
// panics is recovered and reported via onPanic; the remaining handlers
// still run.
func (e *EventEmitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := append([]Handler(nil), e.handlers[ev.Type]...)
	e.mu.RUnlock()

	for _, h := range handlers {
		e.callSafely(ev, h)
	}
}

func (e *EventEmitter) callSafely(ev Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			if e.onPanic != nil {
				e.onPanic(ev.Type, r)
			}
		}
	}()
	h(ev)
}

func (ev Event) String() string {
	return fmt.Sprintf("%s(%s)", ev.Type, ev.TaskID)
}
