package plan

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// Parse extracts a ResearchPlan from planner output. The plan JSON is an
// untrusted external format: models wrap it in prose or code fences, so the
// parser locates the outermost JSON object before decoding. A structural
// failure here is what triggers the bounded regeneration retry upstream.
func Parse(text string) (*ResearchPlan, error) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return nil, fmt.Errorf("empty planner output")
	}

	if m := fenceRe.FindStringSubmatch(raw); m != nil {
		raw = strings.TrimSpace(m[1])
	}
	if !strings.HasPrefix(raw, "{") && !strings.HasPrefix(raw, "[") {
		start := strings.IndexAny(raw, "{[")
		if start < 0 {
			return nil, fmt.Errorf("no JSON payload in planner output")
		}
		end := strings.LastIndexAny(raw, "}]")
		if end <= start {
			return nil, fmt.Errorf("unterminated JSON payload in planner output")
		}
		raw = raw[start : end+1]
	}

	var p ResearchPlan
	if strings.HasPrefix(raw, "[") {
		// Bare subtask array without the wrapping object.
		if err := json.Unmarshal([]byte(raw), &p.Subtasks); err != nil {
			return nil, fmt.Errorf("decode subtask array: %w", err)
		}
		return &p, nil
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return &p, nil
}
