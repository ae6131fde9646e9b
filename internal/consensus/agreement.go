// Package consensus merges the final answers of independent pipeline runs
// and scores their pairwise agreement.
package consensus

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// TranscriptEntry is one recorded turn of a pipeline run.
type TranscriptEntry struct {
	Turn         int    `json:"turn"`
	SpecialistID string `json:"specialist_id"`
	Content      string `json:"content"`
}

// Run is one complete, independent pipeline execution against one model
// backend. Partial marks runs that exhausted their budget and contributed a
// best-effort answer. Runs are consumed once by Aggregate and never mutated.
type Run struct {
	BackendID   string            `json:"backend_id"`
	FinalAnswer string            `json:"final_answer"`
	Transcript  []TranscriptEntry `json:"transcript,omitempty"`
	Partial     bool              `json:"partial,omitempty"`
}

// PairAgreement is the similarity score for one backend pair.
type PairAgreement struct {
	BackendA string  `json:"backend_a"`
	BackendB string  `json:"backend_b"`
	Score    float64 `json:"score"`
}

// AgreementReport is the read-only join of all runs.
type AgreementReport struct {
	Pairwise             []PairAgreement `json:"pairwise_scores"`
	MergedAnswer         string          `json:"merged_answer"`
	PointsOfDisagreement []string        `json:"points_of_disagreement,omitempty"`
	PartialRuns          []string        `json:"partial_runs,omitempty"`
}

// Score returns the pairwise score for two backends, order-insensitive.
func (r *AgreementReport) Score(a, b string) (float64, bool) {
	for _, p := range r.Pairwise {
		if (p.BackendA == a && p.BackendB == b) || (p.BackendA == b && p.BackendB == a) {
			return p.Score, true
		}
	}
	return 0, false
}

// Aggregate computes the agreement report for N runs. Similarity is the
// Jaccard overlap of normalized claim sets: identical answers score exactly
// 1.0, answers sharing no claims score 0.0. Claims corroborated by a
// majority of runs are stated with higher confidence in the merged answer;
// claims unique to one run are flagged as uncertain.
func Aggregate(question string, runs []Run) AgreementReport {
	report := AgreementReport{}

	claimSets := make([]map[string]string, len(runs))
	for i, run := range runs {
		claimSets[i] = extractClaims(run.FinalAnswer)
		if run.Partial {
			report.PartialRuns = append(report.PartialRuns, run.BackendID)
		}
	}

	for i := 0; i < len(runs); i++ {
		for j := i + 1; j < len(runs); j++ {
			report.Pairwise = append(report.Pairwise, PairAgreement{
				BackendA: runs[i].BackendID,
				BackendB: runs[j].BackendID,
				Score:    jaccard(claimSets[i], claimSets[j]),
			})
		}
	}

	merged, disagreements := mergeClaims(question, runs, claimSets)
	report.MergedAnswer = merged
	report.PointsOfDisagreement = disagreements
	return report
}

var sentenceSplitRe = regexp.MustCompile(`[.!?\n]+`)
var nonWordRe = regexp.MustCompile(`[^a-z0-9\s]+`)

// extractClaims splits an answer into claim-sized statements keyed by their
// normalized form; values preserve the original phrasing for display.
func extractClaims(answer string) map[string]string {
	claims := make(map[string]string)
	for _, raw := range sentenceSplitRe.Split(answer, -1) {
		display := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(raw), "-*•# "))
		key := normalizeClaim(display)
		// Very short fragments are headers or connectives, not claims.
		if len(strings.Fields(key)) < 3 {
			continue
		}
		if _, ok := claims[key]; !ok {
			claims[key] = display
		}
	}
	return claims
}

func normalizeClaim(s string) string {
	s = strings.ToLower(s)
	s = nonWordRe.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

func jaccard(a, b map[string]string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// mergeClaims builds the consensus answer. Claims are grouped by normalized
// form and bucketed by how many runs support them.
func mergeClaims(question string, runs []Run, claimSets []map[string]string) (string, []string) {
	type support struct {
		display  string
		count    int
		backends []string
		order    int
	}
	supports := make(map[string]*support)
	order := 0
	for i, set := range claimSets {
		keys := make([]string, 0, len(set))
		for k := range set {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			s, ok := supports[k]
			if !ok {
				s = &support{display: set[k], order: order}
				order++
				supports[k] = s
			}
			s.count++
			s.backends = append(s.backends, runs[i].BackendID)
		}
	}

	all := make([]*support, 0, len(supports))
	for _, s := range supports {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		return all[i].order < all[j].order
	})

	n := len(runs)
	majority := n/2 + 1
	var b strings.Builder
	fmt.Fprintf(&b, "Consensus across %d independent runs", n)
	if question != "" {
		fmt.Fprintf(&b, " for: %s", question)
	}
	b.WriteString("\n")

	var corroborated, contested []*support
	var disagreements []string
	for _, s := range all {
		if s.count >= majority && n >= 2 {
			corroborated = append(corroborated, s)
		} else {
			contested = append(contested, s)
			if s.count < n {
				disagreements = append(disagreements, s.display)
			}
		}
	}

	if len(corroborated) > 0 {
		b.WriteString("\nCorroborated findings (majority agreement):\n")
		for _, s := range corroborated {
			fmt.Fprintf(&b, "- %s (%d/%d runs)\n", s.display, s.count, n)
		}
	}
	if len(contested) > 0 {
		b.WriteString("\nUncertain findings (not corroborated by a majority):\n")
		for _, s := range contested {
			fmt.Fprintf(&b, "- %s (%s only)\n", s.display, strings.Join(s.backends, ", "))
		}
	}
	return b.String(), disagreements
}
