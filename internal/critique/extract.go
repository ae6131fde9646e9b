// Package critique turns reviewer free text into trackable red flags and
// verifies their resolution in later synthesis passes.
package critique

import (
	"fmt"
	"regexp"
	"strings"
)

// Severity classifies how blocking a red flag is.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityModerate Severity = "MODERATE"
	SeverityMinor    Severity = "MINOR"
)

// RedFlag is a structured issue raised by one review pass. Resolved is set
// by the verifier, never by the extractor.
type RedFlag struct {
	FlagID      string   `json:"flag_id"`
	Severity    Severity `json:"severity"`
	Category    string   `json:"category,omitempty"`
	Issue       string   `json:"issue"`
	Location    string   `json:"location"`
	RequiredFix string   `json:"required_fix"`
	Resolved    bool     `json:"resolved"`
}

// ExtractResult carries the extracted flags in source order plus one warning
// per dropped malformed block or duplicate id. Warnings are informational;
// extraction never fails.
type ExtractResult struct {
	Flags    []RedFlag `json:"flags"`
	Warnings []string  `json:"warnings,omitempty"`
}

var (
	headerRe = regexp.MustCompile(`(?i)\b(CRITICAL|MODERATE|MINOR)\b`)
	labelRe  = regexp.MustCompile(`(?i)^[\s*>-]*(flag\s*id|issue|description|location|required\s*fix)\s*[:：]\s*(.*)$`)
)

// Extract parses reviewer output into red flags. The assumed grammar: each
// flag opens with a severity/category header line, followed by labeled
// fields Flag ID, Issue (or Description), Location and Required Fix in any
// order. A block missing Flag ID or any required field is dropped with a
// warning rather than becoming a partially populated record.
func Extract(text string) ExtractResult {
	var res ExtractResult
	lines := strings.Split(text, "\n")

	type block struct {
		severity Severity
		category string
		fields   map[string]string
		ordinal  int
	}
	var blocks []*block
	var current *block

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if m := labelRe.FindStringSubmatch(trimmed); m != nil && current != nil {
			key := normalizeLabel(m[1])
			val := strings.TrimSpace(strings.Trim(strings.TrimSpace(m[2]), "*"))
			if _, exists := current.fields[key]; !exists {
				current.fields[key] = val
			}
			continue
		}
		if m := headerRe.FindStringSubmatch(trimmed); m != nil {
			current = &block{
				severity: Severity(strings.ToUpper(m[1])),
				category: headerCategory(trimmed, m[1]),
				fields:   map[string]string{},
				ordinal:  len(blocks) + 1,
			}
			blocks = append(blocks, current)
		}
	}

	seen := make(map[string]bool)
	for _, b := range blocks {
		id := b.fields["flag id"]
		issue := b.fields["issue"]
		if issue == "" {
			issue = b.fields["description"]
		}
		location := b.fields["location"]
		fix := b.fields["required fix"]

		if id == "" || issue == "" || location == "" || fix == "" {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("dropped malformed flag block %d (%s): missing %s",
					b.ordinal, b.severity, missingFields(id, issue, location, fix)))
			continue
		}
		if seen[id] {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("dropped duplicate flag id %q in block %d", id, b.ordinal))
			continue
		}
		seen[id] = true
		res.Flags = append(res.Flags, RedFlag{
			FlagID:      id,
			Severity:    b.severity,
			Category:    b.category,
			Issue:       issue,
			Location:    location,
			RequiredFix: fix,
		})
	}
	return res
}

func normalizeLabel(label string) string {
	l := strings.ToLower(strings.TrimSpace(label))
	return strings.Join(strings.Fields(l), " ")
}

// headerCategory strips the severity token and surrounding markup from a
// header line, leaving the reviewer's category text.
func headerCategory(line, severity string) string {
	idx := strings.Index(strings.ToUpper(line), strings.ToUpper(severity))
	rest := line[idx+len(severity):]
	rest = strings.TrimFunc(rest, func(r rune) bool {
		switch r {
		case ' ', '\t', '-', ':', '—', ']', ')', '*', '#':
			return true
		}
		return false
	})
	return strings.TrimSpace(rest)
}

func missingFields(id, issue, location, fix string) string {
	var missing []string
	if id == "" {
		missing = append(missing, "Flag ID")
	}
	if issue == "" {
		missing = append(missing, "Issue")
	}
	if location == "" {
		missing = append(missing, "Location")
	}
	if fix == "" {
		missing = append(missing, "Required Fix")
	}
	return strings.Join(missing, ", ")
}
