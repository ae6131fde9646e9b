// Package roster holds the team of specialist descriptors available to a run.
package roster

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SpecialistDescriptor describes one specialist role. All prompt construction
// derives mechanically from this record; there are no free-text personas.
type SpecialistDescriptor struct {
	ID           string   `yaml:"id" json:"id"`
	Title        string   `yaml:"title" json:"title"`
	Expertise    string   `yaml:"expertise" json:"expertise"`
	Capabilities []string `yaml:"capabilities" json:"capabilities,omitempty"`
}

// Roster is the ordered team of specialists for a run. Registration order is
// significant: dialogue turns iterate specialists in this order. Read-only
// during execution.
type Roster struct {
	Specialists []SpecialistDescriptor `yaml:"specialists" json:"specialists"`
}

// LoadFile reads and validates a roster YAML file.
func LoadFile(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks roster invariants: at least one specialist, unique
// non-empty ids, non-empty titles.
func (r *Roster) Validate() error {
	if len(r.Specialists) == 0 {
		return fmt.Errorf("roster is empty")
	}
	seen := make(map[string]bool, len(r.Specialists))
	for i, s := range r.Specialists {
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("specialist %d has an empty id", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate specialist id %q", s.ID)
		}
		seen[s.ID] = true
		if strings.TrimSpace(s.Title) == "" {
			return fmt.Errorf("specialist %q has an empty title", s.ID)
		}
	}
	return nil
}

// IDs returns the specialist ids in registration order.
func (r *Roster) IDs() []string {
	ids := make([]string, len(r.Specialists))
	for i, s := range r.Specialists {
		ids[i] = s.ID
	}
	return ids
}

// Get returns the descriptor for an id, or false when absent.
func (r *Roster) Get(id string) (SpecialistDescriptor, bool) {
	for _, s := range r.Specialists {
		if s.ID == id {
			return s, true
		}
	}
	return SpecialistDescriptor{}, false
}

// InRegistrationOrder filters the given ids down to roster members and
// returns them in roster-registration order. Unknown ids are dropped; the
// plan validator has already rejected plans that reference them.
func (r *Roster) InRegistrationOrder(ids []string) []SpecialistDescriptor {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make([]SpecialistDescriptor, 0, len(ids))
	for _, s := range r.Specialists {
		if want[s.ID] {
			out = append(out, s)
		}
	}
	return out
}

// RolePrompt renders the descriptor into the role preamble used for every
// invocation of this specialist.
func (s SpecialistDescriptor) RolePrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.", s.Title)
	if s.Expertise != "" {
		fmt.Fprintf(&b, " Expertise: %s.", s.Expertise)
	}
	if len(s.Capabilities) > 0 {
		fmt.Fprintf(&b, " Available tools: %s.", strings.Join(s.Capabilities, ", "))
	}
	return b.String()
}
