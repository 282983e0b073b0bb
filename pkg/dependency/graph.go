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

// Package graph implements the dependency DAG (C2) and the dependency
// manager layered on top of it (C3): a directed graph of tasks and typed
// edges with cycle prevention, topological ordering, and status-derived
// edge state.
package graph

import (
	"encoding/json"
	"sort"
	"sync"

	apperrors "github.com/lesleslie/mahavishnu-sub005/internal/errors"
)

// EdgeType is one of the typed relationships an edge may carry.
type EdgeType string

const (
	EdgeBlocks  EdgeType = "blocks"
	EdgeRequires EdgeType = "requires"
	EdgeRelated EdgeType = "related"
	EdgeSubtask EdgeType = "subtask"
)

// isBlocking reports whether an edge of this type participates in cycle
// detection and blocking semantics.
func (t EdgeType) isBlocking() bool {
	return t == EdgeBlocks || t == EdgeRequires
}

// EdgeStatus is the derived status of a dependency edge, governed by the
// source task's status.
type EdgeStatus string

const (
	EdgeStatusPending   EdgeStatus = "pending"
	EdgeStatusSatisfied EdgeStatus = "satisfied"
	EdgeStatusFailed    EdgeStatus = "failed"
	EdgeStatusCancelled EdgeStatus = "cancelled"
)

// Edge is a directed dependency relationship: dependent must not run before
// dependency.
type Edge struct {
	From     string            `json:"from"` // dependency
	To       string            `json:"to"`   // dependent
	Type     EdgeType          `json:"type"`
	Status   EdgeStatus        `json:"status"`
	Metadata map[string]any    `json:"metadata,omitempty"`
}

// blocks reports whether this edge, in its current status, blocks its
// dependent task.
func (e Edge) blocks() bool {
	return e.Status == EdgeStatusPending || e.Status == EdgeStatusFailed
}

// Graph is a directed graph of tasks and typed edges. The zero value is not
// usable; construct with New. Safe for concurrent use.
type Graph struct {
	mu sync.RWMutex

	tasks    map[string]map[string]any // id -> metadata
	edges    map[edgeKey]*Edge
	outgoing map[string]map[string]struct{} // from -> set of to
	incoming map[string]map[string]struct{} // to -> set of from
}

type edgeKey struct {
	From, To string
}

// New constructs an empty Graph.
func New() *Graph {
	return &Graph{
		tasks:    make(map[string]map[string]any),
		edges:    make(map[edgeKey]*Edge),
		outgoing: make(map[string]map[string]struct{}),
		incoming: make(map[string]map[string]struct{}),
	}
}

// AddTask registers a task id with optional metadata. Idempotent: calling
// it again on the same id is a no-op (metadata from the first call wins).
func (g *Graph) AddTask(id string, metadata map[string]any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.tasks[id]; exists {
		return
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	g.tasks[id] = metadata
}

// HasTask reports whether id has been registered.
func (g *Graph) HasTask(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.tasks[id]
	return ok
}

// AddEdge inserts a dependency edge from -> to. It fails with a Duplicate
// error if the edge already exists, and with a Cycle error (carrying the
// witness path) if the insertion would create a cycle among blocking edge
// types. On cycle rejection the graph is left exactly as it was.
func (g *Graph) AddEdge(from, to string, edgeType EdgeType, metadata map[string]any) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := edgeKey{From: from, To: to}
	if _, exists := g.edges[key]; exists {
		return apperrors.NewDuplicateError("dependency edge")
	}

	if edgeType.isBlocking() {
		if path, found := g.findPath(to, from); found {
			// Committing from->to would close a cycle from->to->...->from.
			witness := append([]string{from, to}, path...)
			return apperrors.NewCycleError(witness)
		}
	}

	if metadata == nil {
		metadata = map[string]any{}
	}
	g.edges[key] = &Edge{
		From:     from,
		To:       to,
		Type:     edgeType,
		Status:   EdgeStatusPending,
		Metadata: metadata,
	}
	g.link(from, to)
	return nil
}

// link records the adjacency for an edge already present in g.edges.
func (g *Graph) link(from, to string) {
	if g.outgoing[from] == nil {
		g.outgoing[from] = make(map[string]struct{})
	}
	g.outgoing[from][to] = struct{}{}
	if g.incoming[to] == nil {
		g.incoming[to] = make(map[string]struct{})
	}
	g.incoming[to][from] = struct{}{}
}

func (g *Graph) unlink(from, to string) {
	delete(g.outgoing[from], to)
	if len(g.outgoing[from]) == 0 {
		delete(g.outgoing, from)
	}
	delete(g.incoming[to], from)
	if len(g.incoming[to]) == 0 {
		delete(g.incoming, to)
	}
}

// findPath performs a depth-first search from start to target following
// outgoing edges of a blocking type only (blocks/requires), returning the
// path (inclusive of target, exclusive of start) if target is reachable.
// related/subtask edges do not participate in cycle detection, so they are
// not traversed here.
func (g *Graph) findPath(start, target string) ([]string, bool) {
	if start == target {
		return []string{target}, true
	}
	visited := make(map[string]bool)
	var path []string
	var dfs func(node string) bool
	dfs = func(node string) bool {
		if visited[node] {
			return false
		}
		visited[node] = true
		neighbors := make([]string, 0, len(g.outgoing[node]))
		for n := range g.outgoing[node] {
			if e := g.edges[edgeKey{From: node, To: n}]; e == nil || !e.Type.isBlocking() {
				continue
			}
			neighbors = append(neighbors, n)
		}
		sort.Strings(neighbors)
		for _, next := range neighbors {
			path = append(path, next)
			if next == target {
				return true
			}
			if dfs(next) {
				return true
			}
			path = path[:len(path)-1]
		}
		return false
	}
	if dfs(start) {
		return path, true
	}
	return nil, false
}

// RemoveEdge removes the from->to edge, reporting whether it existed.
func (g *Graph) RemoveEdge(from, to string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := edgeKey{From: from, To: to}
	if _, exists := g.edges[key]; !exists {
		return false
	}
	delete(g.edges, key)
	g.unlink(from, to)
	return true
}

// RemoveTask detaches every incident edge of id and removes it from the
// task set, returning the set of task-ids whose incident edges changed.
func (g *Graph) RemoveTask(id string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	affected := make(map[string]struct{})
	for to := range g.outgoing[id] {
		delete(g.edges, edgeKey{From: id, To: to})
		affected[to] = struct{}{}
	}
	for from := range g.incoming[id] {
		delete(g.edges, edgeKey{From: from, To: id})
		affected[from] = struct{}{}
	}
	for to := range g.outgoing[id] {
		g.unlink(id, to)
	}
	for from := range g.incoming[id] {
		g.unlink(from, id)
	}
	delete(g.tasks, id)

	out := make([]string, 0, len(affected))
	for a := range affected {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// TopologicalOrder returns a sequence of task ids consistent with edge
// direction, via Kahn's algorithm with ties broken by id for determinism.
// It fails with a Cycle error if the graph (restricted to blocking edges)
// contains a cycle.
func (g *Graph) TopologicalOrder() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.topologicalOrderLocked()
}

func (g *Graph) topologicalOrderLocked() ([]string, error) {
	inDegree := make(map[string]int, len(g.tasks))
	for id := range g.tasks {
		inDegree[id] = 0
	}
	for key, e := range g.edges {
		if e.Type.isBlocking() {
			inDegree[key.To]++
		}
	}

	var ready []string
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.tasks))
	for len(ready) > 0 {
		sort.Strings(ready)
		node := ready[0]
		ready = ready[1:]
		order = append(order, node)

		var newlyReady []string
		neighbors := make([]string, 0, len(g.outgoing[node]))
		for n := range g.outgoing[node] {
			neighbors = append(neighbors, n)
		}
		sort.Strings(neighbors)
		for _, next := range neighbors {
			if !g.edges[edgeKey{From: node, To: next}].Type.isBlocking() {
				continue
			}
			inDegree[next]--
			if inDegree[next] == 0 {
				newlyReady = append(newlyReady, next)
			}
		}
		ready = append(ready, newlyReady...)
	}

	if len(order) != len(g.tasks) {
		var cycleNodes []string
		for id, deg := range inDegree {
			if deg > 0 {
				cycleNodes = append(cycleNodes, id)
			}
		}
		sort.Strings(cycleNodes)
		return nil, apperrors.NewCycleError(cycleNodes)
	}
	return order, nil
}

// IsBlocked reports whether id has at least one incoming edge whose status
// is pending or failed.
func (g *Graph) IsBlocked(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for from := range g.incoming[id] {
		if e := g.edges[edgeKey{From: from, To: id}]; e != nil && e.blocks() {
			return true
		}
	}
	return false
}

// BlockingTasks returns the ids of tasks currently blocking id.
func (g *Graph) BlockingTasks(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var blocking []string
	for from := range g.incoming[id] {
		if e := g.edges[edgeKey{From: from, To: id}]; e != nil && e.blocks() {
			blocking = append(blocking, from)
		}
	}
	sort.Strings(blocking)
	return blocking
}

// ReadyTasks returns every registered task that is not blocked.
func (g *Graph) ReadyTasks() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var ready []string
	for id := range g.tasks {
		if !g.isBlockedLocked(id) {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)
	return ready
}

// BlockedTasks returns every registered task that is currently blocked.
func (g *Graph) BlockedTasks() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var blocked []string
	for id := range g.tasks {
		if g.isBlockedLocked(id) {
			blocked = append(blocked, id)
		}
	}
	sort.Strings(blocked)
	return blocked
}

func (g *Graph) isBlockedLocked(id string) bool {
	for from := range g.incoming[id] {
		if e := g.edges[edgeKey{From: from, To: id}]; e != nil && e.blocks() {
			return true
		}
	}
	return false
}

// TransitiveDependencies returns every task id reachable by following
// incoming edges backward from id (id's ancestors).
func (g *Graph) TransitiveDependencies(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.transitiveLocked(id, g.incoming)
}

// TransitiveDependents returns every task id reachable by following
// outgoing edges forward from id (id's descendants).
func (g *Graph) TransitiveDependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.transitiveLocked(id, g.outgoing)
}

func (g *Graph) transitiveLocked(id string, adjacency map[string]map[string]struct{}) []string {
	visited := make(map[string]struct{})
	queue := []string{id}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for next := range adjacency[node] {
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			queue = append(queue, next)
		}
	}
	out := make([]string, 0, len(visited))
	for v := range visited {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// DependencyDepth returns the length of the longest dependency chain
// ending at id (0 if id has no incoming edges). Edges of every type count
// toward the chain, not only blocks/requires edges.
func (g *Graph) DependencyDepth(id string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	memo := make(map[string]int)
	var depth func(string) int
	depth = func(node string) int {
		if d, ok := memo[node]; ok {
			return d
		}
		memo[node] = 0 // guard against cycles during computation
		best := 0
		for from := range g.incoming[node] {
			if d := depth(from) + 1; d > best {
				best = d
			}
		}
		memo[node] = best
		return best
	}
	return depth(id)
}

// UpdateEdgeStatus sets the status of every outgoing edge from sourceID to
// newStatus, returning the edges that changed.
func (g *Graph) UpdateEdgeStatus(sourceID string, newStatus EdgeStatus) []*Edge {
	g.mu.Lock()
	defer g.mu.Unlock()
	var changed []*Edge
	for to := range g.outgoing[sourceID] {
		e := g.edges[edgeKey{From: sourceID, To: to}]
		if e == nil || e.Status == newStatus {
			continue
		}
		e.Status = newStatus
		changed = append(changed, e)
	}
	return changed
}

// Dependents returns the ids of tasks with an incoming edge from id.
func (g *Graph) Dependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.outgoing[id]))
	for to := range g.outgoing[id] {
		out = append(out, to)
	}
	sort.Strings(out)
	return out
}

// Dependencies returns the ids of tasks with an outgoing edge to id.
func (g *Graph) Dependencies(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.incoming[id]))
	for from := range g.incoming[id] {
		out = append(out, from)
	}
	sort.Strings(out)
	return out
}

// Edge returns the edge from->to, if any.
func (g *Graph) Edge(from, to string) (Edge, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.edges[edgeKey{From: from, To: to}]
	if !ok {
		return Edge{}, false
	}
	return *e, true
}

// snapshot is the serializable form of a Graph, used by MarshalJSON,
// UnmarshalJSON, Snapshot and Restore.
type snapshot struct {
	Tasks map[string]map[string]any `json:"tasks"`
	Edges []Edge                    `json:"edges"`
}

func (g *Graph) toSnapshot() snapshot {
	s := snapshot{Tasks: make(map[string]map[string]any, len(g.tasks))}
	for id, meta := range g.tasks {
		s.Tasks[id] = meta
	}
	for _, e := range g.edges {
		s.Edges = append(s.Edges, *e)
	}
	sort.Slice(s.Edges, func(i, j int) bool {
		if s.Edges[i].From != s.Edges[j].From {
			return s.Edges[i].From < s.Edges[j].From
		}
		return s.Edges[i].To < s.Edges[j].To
	})
	return s
}

// MarshalJSON renders the graph's tasks and edges.
func (g *Graph) MarshalJSON() ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return json.Marshal(g.toSnapshot())
}

// UnmarshalJSON replaces the graph's contents with the decoded snapshot.
func (g *Graph) UnmarshalJSON(data []byte) error {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.restoreLocked(s)
	return nil
}

// Snapshot captures the graph's current state for later Restore, used to
// undo a mutation that must appear atomic to callers (e.g. rejected cycle
// insertion across a read-modify-write sequence spanning a lock release).
func (g *Graph) Snapshot() any {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.toSnapshot()
}

// Restore replaces the graph's contents with a previously captured
// Snapshot.
func (g *Graph) Restore(snap any) {
	s, ok := snap.(snapshot)
	if !ok {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.restoreLocked(s)
}

func (g *Graph) restoreLocked(s snapshot) {
	g.tasks = make(map[string]map[string]any, len(s.Tasks))
	for id, meta := range s.Tasks {
		g.tasks[id] = meta
	}
	g.edges = make(map[edgeKey]*Edge, len(s.Edges))
	g.outgoing = make(map[string]map[string]struct{})
	g.incoming = make(map[string]map[string]struct{})
	for i := range s.Edges {
		e := s.Edges[i]
		g.edges[edgeKey{From: e.From, To: e.To}] = &e
		g.link(e.From, e.To)
	}
}
