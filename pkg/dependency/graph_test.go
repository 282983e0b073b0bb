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
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/lesleslie/mahavishnu-sub005/internal/errors"
)

func TestGraph(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Dependency Graph Suite")
}

var _ = Describe("Graph", func() {
	var g *Graph

	BeforeEach(func() {
		g = New()
	})

	Describe("AddTask", func() {
		It("is idempotent on the same id", func() {
			g.AddTask("t1", map[string]any{"title": "first"})
			g.AddTask("t1", map[string]any{"title": "second"})

			Expect(g.HasTask("t1")).To(BeTrue())
		})
	})

	Describe("AddEdge", func() {
		BeforeEach(func() {
			g.AddTask("t1", nil)
			g.AddTask("t2", nil)
			g.AddTask("t3", nil)
		})

		It("fails with a duplicate error when the edge already exists", func() {
			Expect(g.AddEdge("t1", "t2", EdgeBlocks, nil)).To(Succeed())

			err := g.AddEdge("t1", "t2", EdgeBlocks, nil)
			Expect(err).To(HaveOccurred())
			Expect(apperrors.IsType(err, apperrors.ErrorTypeDuplicate)).To(BeTrue())
		})

		It("rejects an edge that would create a blocking cycle, with a witness path", func() {
			Expect(g.AddEdge("t1", "t2", EdgeBlocks, nil)).To(Succeed())
			Expect(g.AddEdge("t2", "t3", EdgeBlocks, nil)).To(Succeed())

			err := g.AddEdge("t3", "t1", EdgeBlocks, nil)
			Expect(err).To(HaveOccurred())
			Expect(apperrors.IsType(err, apperrors.ErrorTypeCycle)).To(BeTrue())

			var appErr *apperrors.AppError
			Expect(err).To(BeAssignableToTypeOf(appErr))

			Expect(g.Dependencies("t1")).To(BeEmpty(), "graph state must be unchanged on cycle rejection")
		})

		It("does not treat 'related' edges as participating in cycle detection", func() {
			Expect(g.AddEdge("t1", "t2", EdgeRelated, nil)).To(Succeed())
			Expect(g.AddEdge("t2", "t1", EdgeRelated, nil)).To(Succeed())
		})

		It("does not follow a non-blocking path when checking a blocking insertion for cycles", func() {
			Expect(g.AddEdge("t2", "t3", EdgeRelated, nil)).To(Succeed())
			Expect(g.AddEdge("t3", "t1", EdgeSubtask, nil)).To(Succeed())

			// t2 -> t3 -> t1 exists, but only via related/subtask edges, so
			// inserting the blocking edge t1 -> t2 must not be rejected as a
			// cycle: the blocking subgraph alone has no path from t2 to t1.
			Expect(g.AddEdge("t1", "t2", EdgeBlocks, nil)).To(Succeed())
		})
	})

	Describe("S1: linear dependency satisfaction", func() {
		BeforeEach(func() {
			g.AddTask("t1", nil)
			g.AddTask("t2", nil)
			g.AddTask("t3", nil)
			Expect(g.AddEdge("t1", "t2", EdgeBlocks, nil)).To(Succeed())
			Expect(g.AddEdge("t2", "t3", EdgeBlocks, nil)).To(Succeed())
		})

		It("reports only t1 as ready initially", func() {
			Expect(g.ReadyTasks()).To(Equal([]string{"t1"}))
		})

		It("unblocks t2 once t1's outgoing edge is satisfied", func() {
			g.UpdateEdgeStatus("t1", EdgeStatusSatisfied)
			Expect(g.IsBlocked("t2")).To(BeFalse())
			Expect(g.IsBlocked("t3")).To(BeTrue())
		})
	})

	Describe("TopologicalOrder", func() {
		It("yields a permutation where every edge points from a lower to a higher index", func() {
			g.AddTask("t1", nil)
			g.AddTask("t2", nil)
			g.AddTask("t3", nil)
			Expect(g.AddEdge("t1", "t2", EdgeBlocks, nil)).To(Succeed())
			Expect(g.AddEdge("t2", "t3", EdgeBlocks, nil)).To(Succeed())

			order, err := g.TopologicalOrder()
			Expect(err).NotTo(HaveOccurred())

			index := make(map[string]int, len(order))
			for i, id := range order {
				index[id] = i
			}
			Expect(index["t1"]).To(BeNumerically("<", index["t2"]))
			Expect(index["t2"]).To(BeNumerically("<", index["t3"]))
		})
	})

	Describe("RemoveTask", func() {
		It("detaches incident edges and reports affected ids", func() {
			g.AddTask("t1", nil)
			g.AddTask("t2", nil)
			Expect(g.AddEdge("t1", "t2", EdgeBlocks, nil)).To(Succeed())

			affected := g.RemoveTask("t1")
			Expect(affected).To(Equal([]string{"t2"}))
			Expect(g.IsBlocked("t2")).To(BeFalse())
		})
	})

	Describe("round trip", func() {
		It("serializes and restores structurally", func() {
			g.AddTask("t1", map[string]any{"title": "A"})
			g.AddTask("t2", nil)
			Expect(g.AddEdge("t1", "t2", EdgeRequires, map[string]any{"note": "x"})).To(Succeed())

			data, err := g.MarshalJSON()
			Expect(err).NotTo(HaveOccurred())

			restored := New()
			Expect(restored.UnmarshalJSON(data)).To(Succeed())

			Expect(restored.HasTask("t1")).To(BeTrue())
			e, ok := restored.Edge("t1", "t2")
			Expect(ok).To(BeTrue())
			Expect(e.Type).To(Equal(EdgeRequires))
		})
	})

	Describe("archive/remove idempotence", func() {
		It("RemoveEdge returns false on the second call", func() {
			g.AddTask("t1", nil)
			g.AddTask("t2", nil)
			Expect(g.AddEdge("t1", "t2", EdgeBlocks, nil)).To(Succeed())

			Expect(g.RemoveEdge("t1", "t2")).To(BeTrue())
			Expect(g.RemoveEdge("t1", "t2")).To(BeFalse())
		})
	})
})
