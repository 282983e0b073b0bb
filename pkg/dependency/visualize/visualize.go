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

// Package visualize renders a dependency graph's read-only view as Mermaid
// or DOT source, for operator debugging via the gateway's graph endpoint.
package visualize

import (
	"fmt"
	"sort"
	"strings"
)

// Reader is the minimal read contract this package needs from a
// dependency graph, satisfied by *graph.Graph.
type Reader interface {
	ReadyTasks() []string
	BlockedTasks() []string
	Dependents(id string) []string
}

// Mermaid renders g as a Mermaid flowchart, one line per edge.
func Mermaid(g Reader) string {
	var b strings.Builder
	b.WriteString("flowchart LR\n")
	for _, line := range edgeLines(g, "%s --> %s") {
		b.WriteString("    ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// DOT renders g as Graphviz DOT source.
func DOT(g Reader) string {
	var b strings.Builder
	b.WriteString("digraph dependencies {\n")
	for _, line := range edgeLines(g, "%q -> %q;") {
		b.WriteString("  ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("}\n")
	return b.String()
}

func edgeLines(g Reader, format string) []string {
	ids := append(append([]string{}, g.ReadyTasks()...), g.BlockedTasks()...)
	sort.Strings(ids)

	var lines []string
	for _, id := range ids {
		for _, dependent := range g.Dependents(id) {
			lines = append(lines, fmt.Sprintf(format, id, dependent))
		}
	}
	return lines
}
