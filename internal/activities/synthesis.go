package activities

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/colloquylab/colloquy/internal/critique"
	"github.com/colloquylab/colloquy/internal/invoker"
	"github.com/colloquylab/colloquy/internal/metrics"
	"github.com/colloquylab/colloquy/internal/retry"
)

// Synthesize produces the final answer from the accumulated subtask
// outputs. When red flags from a prior critique pass are present, the
// prompt demands a delimited "Red Flag Resolution" section that addresses
// each flag by id; the verifier later scans the whole text for those ids.
func (a *Activities) Synthesize(ctx context.Context, in SynthesisInput) (SynthesisResult, error) {
	logger := a.logger.With(
		zap.String("activity", "Synthesize"),
		zap.String("workflow_id", in.WorkflowID),
		zap.Int("entries", len(in.Entries)),
		zap.Int("flags", len(in.Flags)),
	)

	req := invoker.Request{
		Role:      "synthesizer",
		Prompt:    synthesisPrompt(in),
		BackendID: in.BackendID,
	}
	var out invoker.Result
	err := retry.DefaultPolicy.Do(ctx, func(ctx context.Context) error {
		var invokeErr error
		out, invokeErr = a.inv.Invoke(ctx, req)
		return invokeErr
	})
	if err != nil {
		return SynthesisResult{}, fmt.Errorf("synthesis invocation: %w", err)
	}

	logger.Info("synthesis completed", zap.Int("tokens_used", out.TokensUsed))
	return SynthesisResult{Answer: out.Text, TokensUsed: out.TokensUsed}, nil
}

func synthesisPrompt(in SynthesisInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Synthesize a final answer to the research question: %s\n", in.Question)

	b.WriteString("\n## Subtask findings\n")
	for _, e := range in.Entries {
		fmt.Fprintf(&b, "\n### Subtask %d: %s\n%s\n", e.SubtaskID, e.Description, e.Output)
	}

	if len(in.Flags) > 0 {
		b.WriteString("\n## Outstanding red flags\n")
		b.WriteString("A reviewer raised the issues below. Your answer MUST contain a section titled \"Red Flag Resolution\" that addresses every flag and cites its Flag ID verbatim.\n")
		for _, f := range in.Flags {
			fmt.Fprintf(&b, "- [%s] %s (%s at %s). Required fix: %s\n",
				f.FlagID, f.Issue, f.Severity, f.Location, f.RequiredFix)
		}
	}
	return b.String()
}

// Critique asks the reviewer role to critique a synthesized answer in the
// structured red-flag grammar the extractor understands.
func (a *Activities) Critique(ctx context.Context, in CritiqueInput) (CritiqueResult, error) {
	logger := a.logger.With(
		zap.String("activity", "Critique"),
		zap.String("workflow_id", in.WorkflowID),
	)

	req := invoker.Request{
		Role:      "reviewer",
		Prompt:    critiquePrompt(in),
		BackendID: in.BackendID,
	}
	var out invoker.Result
	err := retry.DefaultPolicy.Do(ctx, func(ctx context.Context) error {
		var invokeErr error
		out, invokeErr = a.inv.Invoke(ctx, req)
		return invokeErr
	})
	if err != nil {
		return CritiqueResult{}, fmt.Errorf("critique invocation: %w", err)
	}

	extracted := critique.Extract(out.Text)
	severityCounts := make(map[string]int)
	for _, f := range extracted.Flags {
		severityCounts[string(f.Severity)]++
	}
	metrics.RecordFlags(severityCounts, len(extracted.Warnings))

	logger.Info("critique completed",
		zap.Int("flags", len(extracted.Flags)),
		zap.Int("parse_warnings", len(extracted.Warnings)),
		zap.Int("tokens_used", out.TokensUsed),
	)
	return CritiqueResult{
		Text:          out.Text,
		Flags:         extracted.Flags,
		ParseWarnings: extracted.Warnings,
		TokensUsed:    out.TokensUsed,
	}, nil
}

func critiquePrompt(in CritiqueInput) string {
	var b strings.Builder
	b.WriteString("Critically review the answer below for methodological and factual problems.\n")
	fmt.Fprintf(&b, "\nResearch question: %s\n\nAnswer under review:\n%s\n", in.Question, in.Answer)
	b.WriteString(`
Report each issue as a separate block in exactly this format:

### <SEVERITY> - <category>
Flag ID: <short unique id, e.g. DA-1>
Issue: <what is wrong>
Location: <where in the answer>
Required Fix: <what must change>

SEVERITY is one of CRITICAL, MODERATE, MINOR. If the answer is sound,
reply with "No red flags." and nothing else.
`)
	return b.String()
}
