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

// Package ordering implements the task ordering engine (C4): scoring and
// ranking of a task collection under a selectable strategy, using the
// dependency graph plus externally supplied predictions.
package ordering

import (
	"fmt"
	"math"
	"sort"
	"time"

	apperrors "github.com/lesleslie/mahavishnu-sub005/internal/errors"
)

// Strategy selects which ordering the engine produces.
type Strategy string

const (
	StrategyDeadlineFirst   Strategy = "deadline_first"
	StrategyPriorityFirst   Strategy = "priority_first"
	StrategyDependencyAware Strategy = "dependency_aware"
	StrategyBlockerAware    Strategy = "blocker_aware"
	StrategyBalanced        Strategy = "balanced"
)

// Priority is one of a task's priority levels.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Urgency is the label the engine assigns alongside each recommendation.
type Urgency string

const (
	UrgencyCritical Urgency = "critical"
	UrgencyUrgent   Urgency = "urgent"
	UrgencyNormal   Urgency = "normal"
	UrgencyLow      Urgency = "low"
)

// TaskView is the ordering engine's input view of one task: only the
// fields scoring depends on, decoupled from the dependency graph's own
// task representation.
type TaskView struct {
	ID                string
	Priority          Priority
	Deadline          *time.Time
	EstimatedDuration *time.Duration
}

// DependencyReader is the minimal read contract the engine needs from a
// dependency graph.
type DependencyReader interface {
	IsBlocked(id string) bool
	BlockingTasks(id string) []string
	Dependents(id string) []string
}

// Thresholds centralizes the ordering engine's configurable knobs,
// resolving the spec's note that these should live in a single
// configuration record rather than scattered defaults.
type Thresholds struct {
	UrgentDeadlineDays      int
	ApproachingDeadlineDays int
	ParallelismFactor       float64
}

// DefaultThresholds returns the engine's defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		UrgentDeadlineDays:      3,
		ApproachingDeadlineDays: 7,
		ParallelismFactor:       0.6,
	}
}

// Recommendation is one ranked task in the engine's output.
type Recommendation struct {
	Position       int
	TaskID         string
	Score          float64
	Factors        map[string]float64
	Rationale      string
	BlockingTasks  []string
	Urgency        Urgency
	ShouldStartNow bool
}

// Result is the ordering engine's full output for one OrderTasks call.
type Result struct {
	Recommendations     []Recommendation
	CriticalPath        []string
	BlockedCount        int
	ReadyCount          int
	EstimatedCompletion time.Duration
}

// Options configures one OrderTasks call.
type Options struct {
	Strategy            Strategy
	BlockerProbabilities map[string]float64 // task id -> predicted probability of being blocked
	Graph               DependencyReader
	Thresholds          Thresholds
	Now                 time.Time
}

var priorityScores = map[Priority]float64{
	PriorityCritical: 1.0,
	"urgent":         0.95, // retained for fidelity with the engine's original five-level table
	PriorityHigh:     0.75,
	PriorityMedium:   0.5,
	PriorityLow:      0.25,
}

var strategyWeights = map[Strategy]map[string]float64{
	StrategyDeadlineFirst:   {"deadline": 2.0, "priority": 0.4, "dependencies": 0.4, "blocker_risk": 0.4, "duration": 0.4},
	StrategyPriorityFirst:   {"deadline": 0.4, "priority": 2.0, "dependencies": 0.4, "blocker_risk": 0.4, "duration": 0.4},
	StrategyDependencyAware: {"deadline": 0.4, "priority": 0.4, "dependencies": 2.0, "blocker_risk": 0.4, "duration": 0.4},
	StrategyBlockerAware:    {"deadline": 0.4, "priority": 0.4, "dependencies": 0.4, "blocker_risk": 2.0, "duration": 0.4},
	StrategyBalanced:        {"deadline": 1.0, "priority": 1.0, "dependencies": 1.0, "blocker_risk": 1.0, "duration": 1.0},
}

// OrderTasks scores and ranks tasks, returning the full engine Result.
func OrderTasks(tasks []TaskView, opts Options) (Result, error) {
	if opts.Strategy == "" {
		opts.Strategy = StrategyBalanced
	}
	weights, ok := strategyWeights[opts.Strategy]
	if !ok {
		return Result{}, apperrors.NewValidationError(fmt.Sprintf("unknown ordering strategy %q", opts.Strategy))
	}
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = DefaultThresholds()
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	type scored struct {
		view    TaskView
		score   float64
		factors map[string]float64
	}

	scoredTasks := make([]scored, 0, len(tasks))
	blockedCount, readyCount := 0, 0
	for _, t := range tasks {
		factors := computeFactors(t, opts, now)
		composite := compositeScore(factors, weights)
		scoredTasks = append(scoredTasks, scored{view: t, score: composite, factors: factors})

		if opts.Graph != nil && opts.Graph.IsBlocked(t.ID) {
			blockedCount++
		} else {
			readyCount++
		}
	}

	var orderedIDs []string
	if opts.Strategy == StrategyDependencyAware && opts.Graph != nil {
		orderedIDs = dependencyAwareOrder(scoredTasks, opts.Graph)
	} else {
		sort.SliceStable(scoredTasks, func(i, j int) bool {
			return scoredTasks[i].score > scoredTasks[j].score
		})
		for _, s := range scoredTasks {
			orderedIDs = append(orderedIDs, s.view.ID)
		}
	}

	byID := make(map[string]scored, len(scoredTasks))
	for _, s := range scoredTasks {
		byID[s.view.ID] = s
	}

	recommendations := make([]Recommendation, 0, len(orderedIDs))
	for i, id := range orderedIDs {
		s := byID[id]
		var blocking []string
		if opts.Graph != nil {
			blocking = opts.Graph.BlockingTasks(id)
		}
		urgency := urgencyLabel(s.score)
		shouldStartNow := len(blocking) == 0 && i < 3 && (urgency == UrgencyCritical || urgency == UrgencyUrgent)
		recommendations = append(recommendations, Recommendation{
			Position:       i,
			TaskID:         id,
			Score:          s.score,
			Factors:        s.factors,
			Rationale:      rationale(s.view, s.factors, opts.Strategy),
			BlockingTasks:  blocking,
			Urgency:        urgency,
			ShouldStartNow: shouldStartNow,
		})
	}

	var criticalPath []string
	if opts.Graph != nil {
		criticalPath = CriticalPath(tasks, opts.Graph)
	}

	return Result{
		Recommendations:     recommendations,
		CriticalPath:        criticalPath,
		BlockedCount:        blockedCount,
		ReadyCount:          readyCount,
		EstimatedCompletion: estimatedCompletion(tasks, opts.Thresholds.ParallelismFactor),
	}, nil
}

func computeFactors(t TaskView, opts Options, now time.Time) map[string]float64 {
	factors := make(map[string]float64, 5)

	if t.Deadline != nil {
		factors["deadline"] = deadlineFactor(*t.Deadline, now, opts.Thresholds)
	}

	if t.Priority != "" {
		if score, ok := priorityScores[t.Priority]; ok {
			factors["priority"] = score
		}
	}

	if opts.Graph != nil {
		factors["dependencies"] = dependencyFactor(len(opts.Graph.BlockingTasks(t.ID)))
	}

	if opts.BlockerProbabilities != nil {
		if prob, ok := opts.BlockerProbabilities[t.ID]; ok {
			factors["blocker_risk"] = 1.0 - prob
		}
	}

	if t.EstimatedDuration != nil {
		factors["duration"] = durationFactor(*t.EstimatedDuration)
	}

	return factors
}

func deadlineFactor(deadline, now time.Time, th Thresholds) float64 {
	remaining := deadline.Sub(now)
	if remaining <= 0 {
		return 1.0
	}
	days := remaining.Hours() / 24
	switch {
	case days <= float64(th.UrgentDeadlineDays):
		return 0.9
	case days <= float64(th.ApproachingDeadlineDays):
		return 0.7
	default:
		decayed := 0.5 - 0.02*(days-float64(th.ApproachingDeadlineDays))
		return math.Max(0.05, decayed)
	}
}

func dependencyFactor(blockerCount int) float64 {
	switch blockerCount {
	case 0:
		return 1.0
	case 1:
		return 0.7
	case 2:
		return 0.4
	default:
		return math.Max(0.0, 0.4-0.1*float64(blockerCount-2))
	}
}

func durationFactor(d time.Duration) float64 {
	hours := d.Hours()
	switch {
	case hours <= 2:
		return 1.0
	case hours <= 4:
		return 0.8
	case hours <= 8:
		return 0.6
	case hours <= 16:
		return 0.4
	default:
		return 0.2
	}
}

func compositeScore(factors map[string]float64, weights map[string]float64) float64 {
	var weightedSum, weightTotal float64
	for name, value := range factors {
		w := weights[name]
		weightedSum += value * w
		weightTotal += w
	}
	if weightTotal == 0 {
		return 0
	}
	return weightedSum / weightTotal
}

func urgencyLabel(score float64) Urgency {
	switch {
	case score >= 0.85:
		return UrgencyCritical
	case score >= 0.7:
		return UrgencyUrgent
	case score >= 0.4:
		return UrgencyNormal
	default:
		return UrgencyLow
	}
}

func rationale(t TaskView, factors map[string]float64, strategy Strategy) string {
	return fmt.Sprintf("ranked under %s strategy with factors %v", strategy, factors)
}

// dependencyAwareOrder runs Kahn's algorithm restricted to this call's task
// set, picking the highest composite score among the ready (in-degree zero)
// set at each step. This keeps the result a valid topological order while
// still tie-breaking by score, instead of scoring the whole set and then
// re-sorting it (which would destroy the topological constraint).
func dependencyAwareOrder(scoredTasks []struct {
	view    TaskView
	score   float64
	factors map[string]float64
}, g DependencyReader) []string {
	byScore := make(map[string]float64, len(scoredTasks))
	present := make(map[string]bool, len(scoredTasks))
	for _, s := range scoredTasks {
		byScore[s.view.ID] = s.score
		present[s.view.ID] = true
	}

	inDegree := make(map[string]int, len(scoredTasks))
	for _, s := range scoredTasks {
		count := 0
		for _, blocker := range g.BlockingTasks(s.view.ID) {
			if present[blocker] {
				count++
			}
		}
		inDegree[s.view.ID] = count
	}

	remaining := make(map[string]bool, len(scoredTasks))
	for _, s := range scoredTasks {
		remaining[s.view.ID] = true
	}

	order := make([]string, 0, len(scoredTasks))
	for len(remaining) > 0 {
		best, found := "", false
		for _, s := range scoredTasks {
			id := s.view.ID
			if !remaining[id] || inDegree[id] != 0 {
				continue
			}
			if !found || byScore[id] > byScore[best] {
				best, found = id, true
			}
		}
		if !found {
			// A cycle among the present tasks (should not happen against an
			// acyclic graph): append what is left, highest score first.
			var rest []string
			for id := range remaining {
				rest = append(rest, id)
			}
			sort.SliceStable(rest, func(i, j int) bool {
				return byScore[rest[i]] > byScore[rest[j]]
			})
			return append(order, rest...)
		}

		order = append(order, best)
		delete(remaining, best)
		for _, dependent := range g.Dependents(best) {
			if remaining[dependent] {
				inDegree[dependent]--
			}
		}
	}
	return order
}

// CriticalPath computes the longest-duration chain through the dependency
// graph ending at a sink task, via memoized depth-first search.
func CriticalPath(tasks []TaskView, g DependencyReader) []string {
	durations := make(map[string]time.Duration, len(tasks))
	for _, t := range tasks {
		if t.EstimatedDuration != nil {
			durations[t.ID] = *t.EstimatedDuration
		}
	}

	memo := make(map[string]struct {
		duration time.Duration
		path     []string
	})

	var dfs func(id string) (time.Duration, []string)
	dfs = func(id string) (time.Duration, []string) {
		if m, ok := memo[id]; ok {
			return m.duration, m.path
		}
		// Guard against cycles surfacing during computation.
		memo[id] = struct {
			duration time.Duration
			path     []string
		}{0, []string{id}}

		best := durations[id]
		bestPath := []string{id}
		for _, dependent := range g.Dependents(id) {
			d, path := dfs(dependent)
			total := durations[id] + d
			if total > best {
				best = total
				bestPath = append([]string{id}, path...)
			}
		}
		memo[id] = struct {
			duration time.Duration
			path     []string
		}{best, bestPath}
		return best, bestPath
	}

	var longest time.Duration
	var longestPath []string
	for _, t := range tasks {
		d, path := dfs(t.ID)
		if d > longest {
			longest = d
			longestPath = path
		}
	}
	return longestPath
}

func estimatedCompletion(tasks []TaskView, parallelismFactor float64) time.Duration {
	if parallelismFactor <= 0 {
		parallelismFactor = 0.6
	}
	var serial time.Duration
	for _, t := range tasks {
		if t.EstimatedDuration != nil {
			serial += *t.EstimatedDuration
		}
	}
	return time.Duration(float64(serial) * parallelismFactor)
}
