package critique

import (
	"fmt"
	"strings"
)

// VerifyResult summarizes one resolution pass over a synthesis text.
type VerifyResult struct {
	Flags              []RedFlag `json:"flags"`
	ResolvedCount      int       `json:"resolved_count"`
	UnresolvedCritical int       `json:"unresolved_critical"`
	TotalCritical      int       `json:"total_critical"`
}

// Verify marks each flag resolved when its flag id token appears anywhere in
// the synthesis text. This is a deliberately conservative textual
// containment check: it under-approximates substantive resolution but is
// cheap and auditable. The input slice is not mutated.
func Verify(synthesis string, flags []RedFlag) VerifyResult {
	res := VerifyResult{Flags: make([]RedFlag, len(flags))}
	copy(res.Flags, flags)

	for i := range res.Flags {
		f := &res.Flags[i]
		if f.Severity == SeverityCritical {
			res.TotalCritical++
		}
		if f.FlagID != "" && strings.Contains(synthesis, f.FlagID) {
			f.Resolved = true
			res.ResolvedCount++
		} else if f.Severity == SeverityCritical {
			res.UnresolvedCritical++
		}
	}
	return res
}

// AllResolved reports whether every flag in the pass was addressed.
func (v VerifyResult) AllResolved() bool {
	return v.ResolvedCount == len(v.Flags)
}

// CriticalCaveat renders the user-facing warning appended to the final
// answer when critical flags remain unresolved. Resolution is a soft gate:
// the run completes, but the omission is never hidden.
func (v VerifyResult) CriticalCaveat() string {
	if v.UnresolvedCritical == 0 {
		return ""
	}
	addressed := v.TotalCritical - v.UnresolvedCritical
	return fmt.Sprintf("review addressed %d of %d critical red flags; %d remain unresolved",
		addressed, v.TotalCritical, v.UnresolvedCritical)
}
