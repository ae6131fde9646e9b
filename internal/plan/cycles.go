package plan

import (
	"fmt"
	"sort"
	"strings"
)

// cycleResult is the outcome of dependency cycle detection.
type cycleResult struct {
	HasCycle     bool
	CyclePath    []int
	ErrorMessage string
}

// detectCycles runs Kahn's algorithm over the subtask dependency graph.
// A cycle would make the scheduler hang, so validation rejects it outright.
func detectCycles(subtasks []Subtask) cycleResult {
	if len(subtasks) == 0 {
		return cycleResult{}
	}

	inDegree := make(map[int]int, len(subtasks))
	dependents := make(map[int][]int, len(subtasks))
	nodes := make(map[int]bool, len(subtasks))

	for _, st := range subtasks {
		nodes[st.ID] = true
		if _, ok := inDegree[st.ID]; !ok {
			inDegree[st.ID] = 0
		}
	}
	for _, st := range subtasks {
		for _, dep := range st.Dependencies {
			if dep == st.ID || !nodes[dep] {
				// Self and dangling references are reported by Validate.
				continue
			}
			dependents[dep] = append(dependents[dep], st.ID)
			inDegree[st.ID]++
		}
	}

	queue := make([]int, 0, len(nodes))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Ints(queue)

	processed := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		processed++
		for _, dep := range dependents[current] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	if processed == len(nodes) {
		return cycleResult{}
	}

	remaining := make([]int, 0)
	for id, deg := range inDegree {
		if deg > 0 {
			remaining = append(remaining, id)
		}
	}
	sort.Ints(remaining)
	parts := make([]string, len(remaining))
	for i, id := range remaining {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return cycleResult{
		HasCycle:     true,
		CyclePath:    remaining,
		ErrorMessage: fmt.Sprintf("circular dependency involving subtasks: %s", strings.Join(parts, " -> ")),
	}
}
