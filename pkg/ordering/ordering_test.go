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

package ordering

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lesleslie/mahavishnu-sub005/pkg/dependency"
)

func TestOrdering(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Task Ordering Engine Suite")
}

func dur(h float64) *time.Duration {
	d := time.Duration(h * float64(time.Hour))
	return &d
}

func deadline(now time.Time, days int) *time.Time {
	d := now.AddDate(0, 0, days)
	return &d
}

var _ = Describe("OrderTasks", func() {
	var now time.Time

	BeforeEach(func() {
		now = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	})

	Describe("S4: ordering under priority_first vs deadline_first", func() {
		var tasks []TaskView

		BeforeEach(func() {
			tasks = []TaskView{
				{ID: "A", Priority: PriorityCritical, Deadline: deadline(now, 14)},
				{ID: "B", Priority: PriorityMedium, Deadline: deadline(now, 1)},
				{ID: "C", Priority: PriorityLow},
			}
		})

		It("ranks A first under priority_first", func() {
			result, err := OrderTasks(tasks, Options{Strategy: StrategyPriorityFirst, Now: now})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Recommendations[0].TaskID).To(Equal("A"))
		})

		It("ranks B first under deadline_first", func() {
			result, err := OrderTasks(tasks, Options{Strategy: StrategyDeadlineFirst, Now: now})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Recommendations[0].TaskID).To(Equal("B"))
		})
	})

	Describe("dependency_aware ordering", func() {
		It("yields a valid topological order on a cycle-free graph", func() {
			g := graph.New()
			g.AddTask("t1", nil)
			g.AddTask("t2", nil)
			g.AddTask("t3", nil)
			Expect(g.AddEdge("t1", "t2", graph.EdgeBlocks, nil)).To(Succeed())
			Expect(g.AddEdge("t2", "t3", graph.EdgeBlocks, nil)).To(Succeed())

			tasks := []TaskView{
				{ID: "t3", Priority: PriorityHigh},
				{ID: "t1", Priority: PriorityLow},
				{ID: "t2", Priority: PriorityMedium},
			}

			result, err := OrderTasks(tasks, Options{Strategy: StrategyDependencyAware, Graph: g, Now: now})
			Expect(err).NotTo(HaveOccurred())

			position := make(map[string]int, len(result.Recommendations))
			for _, rec := range result.Recommendations {
				position[rec.TaskID] = rec.Position
			}
			Expect(position["t1"]).To(BeNumerically("<", position["t2"]))
			Expect(position["t2"]).To(BeNumerically("<", position["t3"]))
		})
	})

	Describe("critical path", func() {
		It("returns the longest-duration chain", func() {
			g := graph.New()
			g.AddTask("t1", nil)
			g.AddTask("t2", nil)
			g.AddTask("t3", nil)
			Expect(g.AddEdge("t1", "t2", graph.EdgeBlocks, nil)).To(Succeed())
			Expect(g.AddEdge("t1", "t3", graph.EdgeBlocks, nil)).To(Succeed())

			tasks := []TaskView{
				{ID: "t1", EstimatedDuration: dur(1)},
				{ID: "t2", EstimatedDuration: dur(1)},
				{ID: "t3", EstimatedDuration: dur(5)},
			}

			path := CriticalPath(tasks, g)
			Expect(path).To(Equal([]string{"t1", "t3"}))
		})
	})

	Describe("estimated completion", func() {
		It("discounts the serial sum by the parallelism factor", func() {
			tasks := []TaskView{
				{ID: "a", EstimatedDuration: dur(1)},
				{ID: "b", EstimatedDuration: dur(1)},
			}
			got := estimatedCompletion(tasks, 0.6)
			Expect(got).To(Equal(time.Duration(1.2 * float64(time.Hour))))
		})
	})

	Describe("unknown strategy", func() {
		It("returns a validation error", func() {
			_, err := OrderTasks(nil, Options{Strategy: "nonsense"})
			Expect(err).To(HaveOccurred())
		})
	})
})
