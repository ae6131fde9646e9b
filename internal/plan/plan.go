// Package plan defines the research plan model and its validation rules.
package plan

import (
	"fmt"
	"sort"
	"strings"
)

// Subtask is one unit of work in a ResearchPlan. Dependencies may only
// reference subtasks with strictly smaller IDs, which keeps the dependency
// relation acyclic by construction.
type Subtask struct {
	ID              int      `json:"id"`
	Description     string   `json:"description"`
	Specialists     []string `json:"specialists"`
	ExpectedOutputs []string `json:"expected_outputs,omitempty"`
	Dependencies    []int    `json:"dependencies,omitempty"`
}

// ResearchPlan is an ordered sequence of subtasks produced by the planner
// and immutable once validated.
type ResearchPlan struct {
	Question string    `json:"question,omitempty"`
	Subtasks []Subtask `json:"subtasks"`
}

// ValidationError reports why a generated plan was rejected. It is fatal to
// the pipeline once the regeneration budget is exhausted.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("plan validation failed: %s", strings.Join(e.Reasons, "; "))
}

// Validate checks the plan against the roster and budget. All violations are
// collected so the planner retry prompt can report every problem at once.
func (p *ResearchPlan) Validate(rosterIDs []string, maxSubtasks int) error {
	var reasons []string

	if len(p.Subtasks) == 0 {
		reasons = append(reasons, "plan contains no subtasks")
		return &ValidationError{Reasons: reasons}
	}
	if maxSubtasks > 0 && len(p.Subtasks) > maxSubtasks {
		reasons = append(reasons, fmt.Sprintf("plan has %d subtasks, budget allows %d", len(p.Subtasks), maxSubtasks))
	}

	known := make(map[string]bool, len(rosterIDs))
	for _, id := range rosterIDs {
		known[id] = true
	}

	seen := make(map[int]bool, len(p.Subtasks))
	hasRoot := false
	for _, st := range p.Subtasks {
		if st.ID <= 0 {
			reasons = append(reasons, fmt.Sprintf("subtask id %d is not a positive integer", st.ID))
			continue
		}
		if seen[st.ID] {
			reasons = append(reasons, fmt.Sprintf("duplicate subtask id %d", st.ID))
			continue
		}
		seen[st.ID] = true

		if strings.TrimSpace(st.Description) == "" {
			reasons = append(reasons, fmt.Sprintf("subtask %d has an empty description", st.ID))
		}
		if len(st.Specialists) == 0 {
			reasons = append(reasons, fmt.Sprintf("subtask %d has no assigned specialists", st.ID))
		}
		for _, sp := range st.Specialists {
			if !known[sp] {
				reasons = append(reasons, fmt.Sprintf("subtask %d references unknown specialist %q", st.ID, sp))
			}
		}
		if len(st.Dependencies) == 0 {
			hasRoot = true
		}
		for _, dep := range st.Dependencies {
			if dep >= st.ID {
				reasons = append(reasons, fmt.Sprintf("subtask %d depends on %d; dependencies must reference strictly smaller ids", st.ID, dep))
			} else if !seen[dep] {
				reasons = append(reasons, fmt.Sprintf("subtask %d depends on undefined subtask %d", st.ID, dep))
			}
		}
	}
	if !hasRoot {
		reasons = append(reasons, "plan has no subtask with an empty dependency set")
	}

	if len(reasons) > 0 {
		return &ValidationError{Reasons: reasons}
	}
	// Backward-only dependencies already rule cycles out; the explicit check
	// guards against future relaxations of the id ordering rule.
	if res := detectCycles(p.Subtasks); res.HasCycle {
		return &ValidationError{Reasons: []string{res.ErrorMessage}}
	}
	return nil
}

// Order returns the deterministic execution order: ascending subtask id.
// Lowest-id-first is always a valid topological order because dependencies
// point strictly backward.
func (p *ResearchPlan) Order() []int {
	order := make([]int, 0, len(p.Subtasks))
	for _, st := range p.Subtasks {
		order = append(order, st.ID)
	}
	sort.Ints(order)
	return order
}

// ByID returns the subtask with the given id, or nil.
func (p *ResearchPlan) ByID(id int) *Subtask {
	for i := range p.Subtasks {
		if p.Subtasks[i].ID == id {
			return &p.Subtasks[i]
		}
	}
	return nil
}

// SortedDependencies returns the subtask's dependencies in ascending id
// order, which is the order their outputs are concatenated into the input
// context.
func (s *Subtask) SortedDependencies() []int {
	deps := make([]int, len(s.Dependencies))
	copy(deps, s.Dependencies)
	sort.Ints(deps)
	return deps
}
